package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// MaxQuestionIDBytes bounds a single question id after normalization.
const MaxQuestionIDBytes = 128

// ErrInvalidAnswer is returned when a payload carries a question id or a
// value shape that cannot be stored.
var ErrInvalidAnswer = errors.New("invalid answer")

// Answers maps question ids to answer values. A value is one of: nil, a
// string, a number, or a list of strings (multi-select).
type Answers map[string]any

// IsEmpty reports whether v counts as "no answer": nil, the empty string or
// an empty list.
func IsEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case []string:
		return len(x) == 0
	case []any:
		return len(x) == 0
	}
	return false
}

// Filter returns a copy of a without empty values. Filter is idempotent and
// never mutates its receiver.
func (a Answers) Filter() Answers {
	out := make(Answers, len(a))
	for k, v := range a {
		if IsEmpty(v) {
			continue
		}
		out[k] = v
	}
	return out
}

// Fingerprint returns a canonical serialization of the filtered answers.
// Map keys are emitted in sorted order, so two payloads with equal contents
// always share a fingerprint regardless of insertion order.
func (a Answers) Fingerprint() string {
	b, err := json.Marshal(a.Filter())
	if err != nil {
		// Only reachable for values Normalize would have rejected.
		return fmt.Sprintf("%v", map[string]any(a))
	}
	return string(b)
}

// Clone returns a shallow copy with list values copied.
func (a Answers) Clone() Answers {
	out := make(Answers, len(a))
	for k, v := range a {
		if l, ok := v.([]string); ok {
			v = append([]string(nil), l...)
		}
		out[k] = v
	}
	return out
}

// Normalize validates a decoded payload and returns a cleaned copy:
// question ids are trimmed and NFC-normalized, list values become []string,
// and empty values are dropped. Unsupported shapes yield ErrInvalidAnswer.
func (a Answers) Normalize() (Answers, error) {
	out := make(Answers, len(a))
	for rawKey, v := range a {
		key := norm.NFC.String(strings.TrimSpace(rawKey))
		if key == "" || len(key) > MaxQuestionIDBytes || !utf8.ValidString(key) {
			return nil, fmt.Errorf("%w: question id %q", ErrInvalidAnswer, rawKey)
		}
		val, err := normalizeValue(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidAnswer, key, err)
		}
		if IsEmpty(val) {
			continue
		}
		if _, dup := out[key]; dup {
			return nil, fmt.Errorf("%w: duplicate question id %q", ErrInvalidAnswer, key)
		}
		out[key] = val
	}
	return out, nil
}

func normalizeValue(v any) (any, error) {
	switch x := v.(type) {
	case nil, string, float64, float32, int, int32, int64, json.Number:
		return x, nil
	case []string:
		return append([]string(nil), x...), nil
	case []any:
		out := make([]string, 0, len(x))
		for _, e := range x {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("list entries must be strings, got %T", e)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}
