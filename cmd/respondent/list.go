package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tbourn/go-draftsync/internal/client"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List final submissions of a questionnaire",
	RunE:  runList,
}

var (
	listQuestionnaire string
	listPage          int
	listPageSize      int
)

func init() {
	listCmd.Flags().StringVarP(&listQuestionnaire, "questionnaire", "q", "", "Questionnaire id")
	listCmd.Flags().IntVar(&listPage, "page", 1, "Page number")
	listCmd.Flags().IntVar(&listPageSize, "page-size", 20, "Submissions per page")
	_ = listCmd.MarkFlagRequired("questionnaire")
}

func runList(cmd *cobra.Command, _ []string) error {
	page, err := newClient().ListSubmissions(cmd.Context(), listQuestionnaire, client.ListOptions{
		Page:     listPage,
		PageSize: listPageSize,
	})
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSUBMITTED\tANSWERS")
	for _, r := range page.Responses {
		at := "-"
		if r.SubmittedAt != nil {
			at = r.SubmittedAt.Local().Format(time.DateTime)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\n", r.ID, at, len(r.AnswerMap()))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	p := page.Pagination
	fmt.Fprintf(cmd.OutOrStdout(), "page %d of %d (%d submissions)\n", p.Page, p.TotalPages, p.Total)
	return nil
}
