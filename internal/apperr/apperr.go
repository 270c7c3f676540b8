// Package apperr defines the single error kind that reaches the HTTP layer.
// Every Error carries the response code, the envelope status category and a
// message safe to show to the caller. The stack is recorded where the error is
// built and only ever goes to the log.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"
)

const (
	StatusSuccess = "success"
	StatusFail    = "fail"
	StatusError   = "error"
)

type Error struct {
	Code    int
	Status  string
	Message string
	Details map[string]string
	Err     error

	stack []uintptr
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Stack renders the frames captured when the error was built.
func (e *Error) Stack() string {
	if len(e.stack) == 0 {
		return ""
	}
	var b strings.Builder
	frames := runtime.CallersFrames(e.stack)
	for {
		f, more := frames.Next()
		fmt.Fprintf(&b, "%s\n\t%s:%d\n", f.Function, f.File, f.Line)
		if !more {
			break
		}
	}
	return b.String()
}

// StatusFor maps an HTTP code onto the envelope category.
func StatusFor(code int) string {
	if code == http.StatusNotFound || code >= http.StatusInternalServerError {
		return StatusError
	}
	return StatusFail
}

func New(code int, message string) *Error {
	return &Error{
		Code:    code,
		Status:  StatusFor(code),
		Message: message,
		stack:   callers(),
	}
}

func Fail(code int, message string) *Error {
	e := New(code, message)
	e.Status = StatusFail
	return e
}

func NotFound(message string) *Error {
	return New(http.StatusNotFound, message)
}

// Validation is a 400 carrying per-field messages keyed by JSON field name.
func Validation(details map[string]string) *Error {
	e := New(http.StatusBadRequest, "Validation failed")
	e.Details = details
	return e
}

// Internal hides err behind a generic 500 message.
func Internal(err error) *Error {
	e := New(http.StatusInternalServerError, "Internal server error")
	e.Err = err
	return e
}

func (e *Error) Wrap(err error) *Error {
	e.Err = err
	return e
}

func As(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

func callers() []uintptr {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(3, pcs)
	return pcs[:n]
}
