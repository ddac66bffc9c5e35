package models

import (
	"encoding/json"
	"strings"
)

// FieldError is one entry of a validation error list.
type FieldError struct {
	Loc []string `json:"loc"`
	Msg string   `json:"msg"`
}

// ErrorResponse is the body of every non-2xx API response.
// Detail is either a string or a list of FieldError.
type ErrorResponse struct {
	Detail json.RawMessage `json:"detail"`
}

// DetailMessage turns an error body into a human-readable message.
// A string detail is returned verbatim. A list detail yields its non-empty
// msg fields joined with ". ", or "Invalid input" if all are empty.
// Anything else yields fallback.
func DetailMessage(body []byte, fallback string) string {
	var resp ErrorResponse
	if err := json.Unmarshal(body, &resp); err != nil || len(resp.Detail) == 0 {
		return fallback
	}

	var text string
	if err := json.Unmarshal(resp.Detail, &text); err == nil {
		return text
	}

	var fields []FieldError
	if err := json.Unmarshal(resp.Detail, &fields); err == nil {
		msgs := make([]string, 0, len(fields))
		for _, f := range fields {
			if f.Msg != "" {
				msgs = append(msgs, f.Msg)
			}
		}
		if len(msgs) == 0 {
			return "Invalid input"
		}
		return strings.Join(msgs, ". ")
	}

	return fallback
}
