package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error carries the HTTP status and machine-readable code a handler should
// answer with. The wrapped error keeps errors.Is working for domain sentinels.
type Error struct {
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

// Rule maps a sentinel to a status/code pair.
type Rule struct {
	Target error
	Status int
	Code   string
}

// Classify returns err unchanged when it already is an *Error, otherwise the
// first matching rule decides the status. Unmatched errors become 500s.
func Classify(err error, rules []Rule) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	for _, r := range rules {
		if errors.Is(err, r.Target) {
			return New(r.Status, r.Code, err)
		}
	}
	return New(http.StatusInternalServerError, "internal_error", err)
}
