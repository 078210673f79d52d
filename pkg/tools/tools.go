// Package tools defines the tool registry the agent binds to and the
// execution of individual tool calls.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"

	"github.com/nstogner/solemate/pkg/domain"
)

// Classification separates side-effect free tools from tools that need the
// user's explicit confirmation before they run.
type Classification int

const (
	Safe Classification = iota
	Sensitive
)

func (c Classification) String() string {
	if c == Sensitive {
		return "sensitive"
	}
	return "safe"
}

// MarshalText renders the classification as "safe" or "sensitive".
func (c Classification) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// Handler executes a tool with JSON-encoded arguments and returns the text
// handed back to the model.
type Handler interface {
	Execute(ctx context.Context, args json.RawMessage) (string, error)
}

// HandlerFunc adapts a function to a Handler.
type HandlerFunc func(ctx context.Context, args json.RawMessage) (string, error)

func (f HandlerFunc) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	return f(ctx, args)
}

// Definition is a registered tool. Definitions are immutable once registered.
type Definition struct {
	Name           string
	Description    string
	Parameters     map[string]any
	Classification Classification

	// ConfirmPrompt is shown to the user before a sensitive tool runs.
	ConfirmPrompt string

	Handler Handler
}

// Prompt returns the yes/no question asked before the tool runs.
func (d *Definition) Prompt() string {
	if d.ConfirmPrompt != "" {
		return d.ConfirmPrompt
	}
	return fmt.Sprintf("Should I run %s for you? yes/no", d.Name)
}

// Declaration is the model-facing view of a tool: no handler.
type Declaration struct {
	Name           string         `json:"name"`
	Description    string         `json:"description"`
	Parameters     map[string]any `json:"parameters"`
	Classification Classification `json:"classification"`
}

// Registry holds the available tools. All registration happens at startup;
// lookups afterwards are safe for concurrent use.
type Registry struct {
	tools map[string]*Definition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Definition)}
}

// Register adds a tool. Names must be unique.
func (r *Registry) Register(d *Definition) error {
	if d == nil || d.Name == "" {
		return fmt.Errorf("%w: tool must have a name", domain.ErrValidation)
	}
	if d.Handler == nil {
		return fmt.Errorf("%w: tool %s has no handler", domain.ErrValidation, d.Name)
	}
	if _, ok := r.tools[d.Name]; ok {
		return &DuplicateNameError{ToolName: d.Name}
	}
	r.tools[d.Name] = d
	return nil
}

// MustRegister is Register for static tool sets; it panics on error.
func (r *Registry) MustRegister(defs ...*Definition) {
	for _, d := range defs {
		if err := r.Register(d); err != nil {
			panic(err)
		}
	}
}

// Lookup retrieves a tool by name.
func (r *Registry) Lookup(name string) (*Definition, error) {
	d, ok := r.tools[name]
	if !ok {
		return nil, &NotFoundError{ToolName: name}
	}
	return d, nil
}

// Classify returns the classification of a registered tool.
func (r *Registry) Classify(name string) (Classification, error) {
	d, err := r.Lookup(name)
	if err != nil {
		return Safe, err
	}
	return d.Classification, nil
}

// Safe returns the tools that run without confirmation, sorted by name.
func (r *Registry) Safe() []*Definition { return r.filter(Safe) }

// Sensitive returns the tools gated behind confirmation, sorted by name.
func (r *Registry) Sensitive() []*Definition { return r.filter(Sensitive) }

func (r *Registry) filter(c Classification) []*Definition {
	var out []*Definition
	for _, d := range r.tools {
		if d.Classification == c {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Declarations returns every tool as the model sees it, sorted by name.
func (r *Registry) Declarations() []Declaration {
	var out []Declaration
	for _, d := range append(r.Safe(), r.Sensitive()...) {
		out = append(out, Declaration{
			Name:           d.Name,
			Description:    d.Description,
			Parameters:     d.Parameters,
			Classification: d.Classification,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Execute runs a tool call and records the outcome. Handler failures,
// including panics, never escape: they become an error result the model can
// read and correct.
func (r *Registry) Execute(ctx context.Context, call domain.ToolCall) (inv domain.Invocation) {
	inv = domain.Invocation{Call: call, Status: domain.InvocationExecuted}

	d, err := r.Lookup(call.Name)
	if err != nil {
		inv.Result, inv.IsError = ErrorContent(err), true
		return inv
	}

	defer func() {
		if p := recover(); p != nil {
			slog.Error("Tool handler panicked", "tool", call.Name, "panic", p, "stack", string(debug.Stack()))
			inv.Result, inv.IsError = ErrorContent(fmt.Errorf("tool %s failed unexpectedly: %v", call.Name, p)), true
		}
	}()

	out, err := d.Handler.Execute(ctx, call.Arguments)
	if err != nil {
		level := slog.LevelWarn
		if !domain.IsRecoverable(err) {
			level = slog.LevelError
		}
		slog.Log(ctx, level, "Tool call failed", "tool", call.Name, "callID", call.ID, "error", err)
		inv.Result, inv.IsError = ErrorContent(err), true
		return inv
	}
	inv.Result = out
	return inv
}

// ErrorContent formats a tool failure the way the model is asked to recover
// from it.
func ErrorContent(err error) string {
	return fmt.Sprintf("Error: %v\n please fix your mistakes.", err)
}
