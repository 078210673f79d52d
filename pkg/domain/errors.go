package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Tool-level kinds (validation, not found, upstream) are
// recoverable: they are handed back to the model as tool results. The rest
// abort the turn.
var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrUpstream   = errors.New("upstream error")

	// ErrProtocol marks state that must never occur: a tool result without a
	// matching call, or a resume on a thread with nothing pending.
	ErrProtocol = errors.New("protocol violation")

	// ErrConflict is returned when a commit is based on a stale thread version.
	ErrConflict = errors.New("thread modified concurrently")

	// ErrEmptyResponse is returned when the model keeps producing empty replies.
	ErrEmptyResponse = errors.New("model returned no usable response")

	// ErrStepLimit is returned when a turn exceeds its reasoning step limit.
	ErrStepLimit = errors.New("turn exceeded step limit")
)

// ToolError is an error raised by a tool handler. Msg is what the model sees.
type ToolError struct {
	Kind error
	Msg  string
}

func (e *ToolError) Error() string { return e.Msg }

func (e *ToolError) Unwrap() error { return e.Kind }

// Validationf returns a ToolError of kind ErrValidation.
func Validationf(format string, args ...any) error {
	return &ToolError{Kind: ErrValidation, Msg: fmt.Sprintf(format, args...)}
}

// NotFoundf returns a ToolError of kind ErrNotFound.
func NotFoundf(format string, args ...any) error {
	return &ToolError{Kind: ErrNotFound, Msg: fmt.Sprintf(format, args...)}
}

// Upstream wraps a backend failure as a ToolError of kind ErrUpstream.
func Upstream(what string, err error) error {
	return &ToolError{Kind: ErrUpstream, Msg: fmt.Sprintf("%s: %v", what, err)}
}

// IsRecoverable reports whether err should be shown to the model as a tool
// result rather than failing the turn.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrUpstream)
}
