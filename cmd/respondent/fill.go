package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tbourn/go-draftsync/internal/autosave"
	"github.com/tbourn/go-draftsync/internal/client"
	"github.com/tbourn/go-draftsync/internal/domain"
)

var fillCmd = &cobra.Command{
	Use:   "fill",
	Short: "Answer a questionnaire interactively",
	Long: `Read answers from stdin, one "question=value" per line.

Separate multiple choices with "|" (colors=red|blue). An empty value
clears the answer. Commands:
  :save     save now
  :submit   submit the final response
  :status   show the autosave status
  :show     print the current answers
  :quit     save pending edits and leave`,
	RunE: runFill,
}

var (
	fillQuestionnaire  string
	fillCollaborative  bool
	fillDebounce       time.Duration
	fillFailureReports int
)

func init() {
	fillCmd.Flags().StringVarP(&fillQuestionnaire, "questionnaire", "q", "", "Questionnaire id")
	fillCmd.Flags().BoolVar(&fillCollaborative, "collaborative", false, "Edit the shared draft instead of a personal one")
	fillCmd.Flags().DurationVar(&fillDebounce, "debounce", autosave.DefaultDebounce, "Quiet period before an autosave")
	fillCmd.Flags().IntVar(&fillFailureReports, "failures", autosave.DefaultFailureThreshold, "Failed autosaves before reporting")
	_ = fillCmd.MarkFlagRequired("questionnaire")
}

func runFill(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	out := &syncWriter{w: cmd.OutOrStdout()}
	c := newClient()

	scope := domain.CollaborativeScope(fillQuestionnaire)
	var onSubmitted func(*domain.Response)
	if !fillCollaborative {
		store, err := sessionStore()
		if err != nil {
			return err
		}
		sid, err := store.Get(fillQuestionnaire)
		if err != nil {
			return err
		}
		scope = domain.SessionScope(fillQuestionnaire, sid)
		onSubmitted = forgetSession(store, fillQuestionnaire)
	}
	if _, err := domain.ResolveScope(scope.QuestionnaireID, scope.SessionID); err != nil {
		return err
	}

	sched := autosave.New(c, scope, autosave.Options{
		Debounce:         fillDebounce,
		FailureThreshold: fillFailureReports,
		OnSubmitted:      onSubmitted,
		OnStatus: func(st autosave.Status) {
			if st == autosave.StatusFailed {
				fmt.Fprintln(out, "! failed to save; retrying in the background")
			}
		},
	})
	defer sched.Close()

	f := &form{sched: sched, out: out}
	d, err := c.GetDraft(ctx, scope)
	switch {
	case err != nil:
		fmt.Fprintf(out, "could not load the saved draft: %v\n", err)
	case d != nil:
		f.hydrate(d.Answers, d.LastSavedAt)
		fmt.Fprintf(out, "resumed draft with %d answers\n", len(d.Answers))
	}
	return f.run(ctx, cmd.InOrStdin())
}

// forgetSession ends the local session of questionnaireID once it has a
// final submission, including one recorded by an earlier attempt.
func forgetSession(store *client.SessionStore, questionnaireID string) func(*domain.Response) {
	return func(*domain.Response) {
		if err := store.Delete(questionnaireID); err != nil {
			log.Warn().Err(err).Str("questionnaire_id", questionnaireID).Msg("forget session")
		}
	}
}

// form holds the answers being edited and feeds them to the scheduler.
type form struct {
	sched   *autosave.Scheduler
	out     io.Writer
	answers domain.Answers
}

func (f *form) hydrate(answers domain.Answers, savedAt *time.Time) {
	f.answers = answers.Clone()
	var at time.Time
	if savedAt != nil {
		at = *savedAt
	}
	f.sched.Hydrate(answers, at)
}

func (f *form) run(ctx context.Context, in io.Reader) error {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		if done := f.handle(ctx, sc.Text()); done {
			return nil
		}
	}
	return sc.Err()
}

// handle applies one input line and reports whether the session is over.
func (f *form) handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	switch line {
	case "":
		return false
	case ":quit", ":q":
		if f.sched.Dirty() {
			f.save(ctx)
		}
		return true
	case ":save":
		f.save(ctx)
		return false
	case ":submit":
		return f.submit(ctx)
	case ":status":
		f.status()
		return false
	case ":show":
		f.show()
		return false
	}

	key, val, ok := parseAnswer(line)
	if !ok {
		fmt.Fprintln(f.out, `expected "question=value" or a command (:save :submit :status :show :quit)`)
		return false
	}
	if f.answers == nil {
		f.answers = domain.Answers{}
	}
	if domain.IsEmpty(val) {
		delete(f.answers, key)
	} else {
		f.answers[key] = val
	}
	f.sched.Update(f.answers)
	return false
}

func (f *form) save(ctx context.Context) {
	rcpt, err := f.sched.SaveNow(ctx)
	switch {
	case errors.Is(err, autosave.ErrNothingToSave):
		fmt.Fprintln(f.out, "Nothing to save")
	case err != nil:
		fmt.Fprintf(f.out, "Save failed: %v\n", err)
	case !rcpt.Applied:
		fmt.Fprintln(f.out, "Someone else started this draft first; your answers will be resent")
	default:
		fmt.Fprintln(f.out, "Progress saved")
	}
}

func (f *form) submit(ctx context.Context) bool {
	resp, err := f.sched.Submit(ctx)
	switch {
	case errors.Is(err, autosave.ErrNothingToSave):
		fmt.Fprintln(f.out, "Answer at least one question before submitting")
		return false
	case errors.Is(err, autosave.ErrAlreadySubmitted):
		fmt.Fprintln(f.out, "This response was already submitted")
		return true
	case err != nil:
		fmt.Fprintf(f.out, "Submission failed: %v (your draft is kept)\n", err)
		return false
	}
	fmt.Fprintf(f.out, "Submitted %s\n", resp.ID)
	return true
}

func (f *form) status() {
	st := f.sched.Status()
	if at := f.sched.LastSavedAt(); !at.IsZero() {
		fmt.Fprintf(f.out, "%s (last saved %s)\n", st, at.Local().Format(time.Kitchen))
		return
	}
	fmt.Fprintln(f.out, st)
}

// show prints the answers the scheduler holds, which after a submission
// are exactly the ones sent.
func (f *form) show() {
	answers := f.sched.Answers()
	keys := make([]string, 0, len(answers))
	for k := range answers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(f.out, "%s = %v\n", k, answers[k])
	}
}

// parseAnswer splits "question=value". A value containing "|" is a
// multiple-choice list.
func parseAnswer(line string) (string, any, bool) {
	key, raw, ok := strings.Cut(line, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" || strings.HasPrefix(key, ":") {
		return "", nil, false
	}
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "|") {
		return key, raw, true
	}
	var opts []string
	for _, p := range strings.Split(raw, "|") {
		if p = strings.TrimSpace(p); p != "" {
			opts = append(opts, p)
		}
	}
	return key, opts, true
}

// syncWriter serializes writes from the input loop and scheduler callbacks.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
