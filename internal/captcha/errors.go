package captcha

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind categorizes a failed solve step
type ErrorKind string

const (
	KindSourceNotFound      ErrorKind = "source_not_found"
	KindDownloadFailed      ErrorKind = "download_failed"
	KindSplitFailed         ErrorKind = "split_failed"
	KindEmptyDetection      ErrorKind = "empty_detection"
	KindInsufficientMatches ErrorKind = "insufficient_matches"
	KindSubmissionRejected  ErrorKind = "submission_rejected"
	KindElementNotFound     ErrorKind = "element_not_found"
	KindWaitTimeout         ErrorKind = "wait_timeout"
	KindCanceled            ErrorKind = "canceled"
	KindUnexpected          ErrorKind = "unexpected"
)

var (
	// ErrElementNotFound is returned by Page implementations for a missing element.
	ErrElementNotFound = errors.New("element not found")
	// ErrWaitTimeout is returned when a waited-for element or frame never shows up.
	ErrWaitTimeout = errors.New("wait timed out")
)

// Error wraps a step failure with its kind
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
}

// Unwrap implements error unwrapping
func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf reports the kind of err. Errors the package did not produce are
// KindUnexpected.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	case errors.Is(err, ErrElementNotFound):
		return KindElementNotFound
	case errors.Is(err, ErrWaitTimeout):
		return KindWaitTimeout
	}
	return KindUnexpected
}

// Disposition is what the solve loop does after a failed attempt
type Disposition int

const (
	// Retry reloads the challenge and spends another attempt
	Retry Disposition = iota
	// Fatal stops the loop
	Fatal
)

func (d Disposition) String() string {
	if d == Fatal {
		return "fatal"
	}
	return "retry"
}

// Classify maps an attempt error to a disposition. Only cancellation of the
// caller's context stops the loop early; every other failure, including
// elements that vanished mid-attempt, costs one attempt and a reload.
func Classify(err error) Disposition {
	switch KindOf(err) {
	case KindCanceled:
		return Fatal
	default:
		return Retry
	}
}
