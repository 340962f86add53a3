package score

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
)

// ErrMalformedPayload is returned when a multi-answer submission cannot be parsed.
var ErrMalformedPayload = stderrors.New("malformed answer payload")

// cutset holds the characters stripped from both ends of an answer before comparison.
const cutset = " \t\r\n\"'`.{}[]"

func clean(s string) string {
	return strings.Trim(s, cutset)
}

// Equal compares two answers ignoring case and surrounding spaces, quotes, periods and braces.
// An empty answer is never equal to anything.
func Equal(a, b string) bool {
	a, b = clean(a), clean(b)
	if a == "" || b == "" {
		return false
	}

	return strings.EqualFold(a, b)
}

// ParseSubmission reads a multi-answer payload. A payload starting with "[" must be a JSON array,
// anything else is treated as a comma-separated list, optionally wrapped in braces.
func ParseSubmission(payload string) ([]string, error) {
	p := strings.TrimSpace(payload)
	if p == "" {
		return nil, nil
	}

	if strings.HasPrefix(p, "[") {
		items, err := parseJSONList(p)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		return items, nil
	}

	return splitList(p), nil
}

// CanonicalAnswers flattens a correct-answer list into an ordered list of single answers.
// Elements holding a JSON array or a braced comma-separated group are expanded in place.
func CanonicalAnswers(correct []string) []string {
	out := make([]string, 0, len(correct))
	for _, c := range correct {
		t := strings.TrimSpace(c)

		switch {
		case strings.HasPrefix(t, "[") && strings.HasSuffix(t, "]"):
			if items, err := parseJSONList(t); err == nil {
				out = append(out, items...)
				continue
			}
			out = append(out, splitList(t)...)
		case strings.HasPrefix(t, "{") && strings.HasSuffix(t, "}"):
			out = append(out, splitList(t)...)
		default:
			out = append(out, c)
		}
	}

	return out
}

func parseJSONList(s string) ([]string, error) {
	var raw []any
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return nil, err
	}

	items := make([]string, 0, len(raw))
	for _, r := range raw {
		switch v := r.(type) {
		case nil:
			items = append(items, "")
		case string:
			items = append(items, v)
		default:
			items = append(items, fmt.Sprint(v))
		}
	}

	return items, nil
}

func splitList(s string) []string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "{")
	s = strings.TrimSuffix(s, "}")
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")

	parts := strings.Split(s, ",")
	items := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = clean(p); p != "" {
			items = append(items, p)
		}
	}

	return items
}
