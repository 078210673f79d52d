package tools

import (
	"fmt"

	"github.com/nstogner/solemate/pkg/domain"
)

// DuplicateNameError is returned when a tool name is registered twice.
type DuplicateNameError struct {
	ToolName string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("tool %q is already registered", e.ToolName)
}

// NotFoundError is returned when a tool call targets a tool that is not in
// the registry.
type NotFoundError struct {
	ToolName string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("tool %q is not available", e.ToolName)
}

// Unwrap lets callers match the error with errors.Is(err, domain.ErrNotFound).
func (e *NotFoundError) Unwrap() error { return domain.ErrNotFound }
