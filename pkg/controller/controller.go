// Package controller drives a conversation turn: it alternates reasoning
// steps and tool execution, and pauses the thread whenever the model asks
// for an action the user has to confirm first.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"
	"unicode"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/nstogner/solemate/pkg/domain"
	"github.com/nstogner/solemate/pkg/model"
	"github.com/nstogner/solemate/pkg/store"
	"github.com/nstogner/solemate/pkg/tools"
)

var tracer = otel.Tracer("github.com/nstogner/solemate/pkg/controller")

const (
	defaultMaxEmptyRetries = 3
	defaultMaxSteps        = 10
)

type Options struct {
	Provider model.Provider
	Registry *tools.Registry
	Store    store.ThreadStore

	Model        string
	Instructions string
	Temperature  float64
	MaxTokens    int

	// MaxEmptyRetries caps re-prompts after an empty model reply.
	MaxEmptyRetries int
	// MaxSteps caps reasoning steps per turn.
	MaxSteps int
	// TurnTimeout bounds a whole turn when positive.
	TurnTimeout time.Duration
}

// Controller runs turns against threads held in a store.
type Controller struct {
	opts  Options
	locks *keyedMutex
}

func New(opts Options) (*Controller, error) {
	if opts.Provider == nil {
		return nil, errors.New("controller: provider is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("controller: tool registry is required")
	}
	if opts.Store == nil {
		return nil, errors.New("controller: thread store is required")
	}
	if opts.Instructions == "" {
		opts.Instructions = DefaultInstructions
	}
	if opts.MaxEmptyRetries <= 0 {
		opts.MaxEmptyRetries = defaultMaxEmptyRetries
	}
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = defaultMaxSteps
	}
	return &Controller{opts: opts, locks: newKeyedMutex()}, nil
}

// ReplyKind tells a client how to render a reply.
type ReplyKind string

const (
	ReplyMessage      ReplyKind = "reply"
	ReplyConfirmation ReplyKind = "confirmation"
	ReplyError        ReplyKind = "error"
)

// Reply is the outcome of a turn.
type Reply struct {
	ThreadID string           `json:"thread_id"`
	Kind     ReplyKind        `json:"kind"`
	Text     string           `json:"text"`
	State    domain.State     `json:"state"`
	Pending  *domain.ToolCall `json:"pending,omitempty"`

	// Invocations lists the tool calls resolved during the turn.
	Invocations []domain.Invocation `json:"invocations,omitempty"`
}

// Decision answers a pending confirmation.
type Decision struct {
	Approve bool   `json:"approve"`
	Reason  string `json:"reason,omitempty"`
}

// IsAffirmative reports whether text answers a confirmation prompt with yes.
// Only the first word counts; words end at spaces or punctuation and case is
// ignored.
func IsAffirmative(text string) bool {
	words := strings.FieldsFunc(text, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	})
	if len(words) == 0 {
		return false
	}
	return strings.EqualFold(words[0], "yes")
}

// HandleMessage processes one user message. On an idle thread the message
// starts a new turn. On a thread awaiting confirmation it is the answer:
// "yes" runs the pending action, anything else declines it with the text as
// the reason.
func (c *Controller) HandleMessage(ctx context.Context, threadID, text string) (*Reply, error) {
	if strings.TrimSpace(threadID) == "" {
		return nil, fmt.Errorf("%w: thread id is required", domain.ErrValidation)
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: message is empty", domain.ErrValidation)
	}
	return c.turn(ctx, threadID, func(ctx context.Context, th *domain.Thread) ([]domain.Invocation, error) {
		if th.Pending != nil {
			inv, err := c.resolve(ctx, th, Decision{Approve: IsAffirmative(text), Reason: text})
			if err != nil {
				return nil, err
			}
			return []domain.Invocation{inv}, nil
		}
		return nil, th.Append(domain.Message{Role: domain.RoleUser, Content: text})
	})
}

// Resume answers the pending confirmation of a thread explicitly. It fails
// with domain.ErrProtocol if nothing is pending.
func (c *Controller) Resume(ctx context.Context, threadID string, d Decision) (*Reply, error) {
	if !d.Approve && strings.TrimSpace(d.Reason) == "" {
		d.Reason = "no"
	}
	return c.turn(ctx, threadID, func(ctx context.Context, th *domain.Thread) ([]domain.Invocation, error) {
		inv, err := c.resolve(ctx, th, d)
		if err != nil {
			return nil, err
		}
		return []domain.Invocation{inv}, nil
	})
}

// Respond is HandleMessage for interactive clients. Failures, panics
// included, come back as an error reply; the thread keeps its last committed
// state and stays usable.
func (c *Controller) Respond(ctx context.Context, threadID, text string) (reply *Reply) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error("Turn panicked", "threadID", threadID, "panic", p, "stack", string(debug.Stack()))
			reply = c.errorReply(ctx, threadID, fmt.Errorf("internal error: %v", p))
		}
	}()

	reply, err := c.HandleMessage(ctx, threadID, text)
	if err != nil {
		return c.errorReply(ctx, threadID, err)
	}
	return reply
}

// Thread returns the committed state of a thread.
func (c *Controller) Thread(ctx context.Context, threadID string) (*domain.Thread, error) {
	return c.opts.Store.Get(ctx, threadID)
}

// Tools returns the tool declarations offered to the model.
func (c *Controller) Tools() []tools.Declaration {
	return c.opts.Registry.Declarations()
}

// Prompt returns the confirmation question for a pending call, or "" if the
// tool is unknown.
func (c *Controller) Prompt(call domain.ToolCall) string {
	def, err := c.opts.Registry.Lookup(call.Name)
	if err != nil {
		return ""
	}
	return def.Prompt()
}

// ErrorText formats err the way users see it.
func ErrorText(err error) string {
	return "⚠️ Error: " + err.Error()
}

func (c *Controller) errorReply(ctx context.Context, threadID string, err error) *Reply {
	r := &Reply{ThreadID: threadID, Kind: ReplyError, Text: ErrorText(err), State: domain.StateIdle}
	if th, gerr := c.opts.Store.Get(ctx, threadID); gerr == nil {
		r.State, r.Pending = th.State(), th.Pending
	}
	return r
}

// turn loads the thread, applies start to a private copy, runs the reasoning
// loop and commits the copy once. A failed turn commits nothing.
func (c *Controller) turn(ctx context.Context, threadID string, start func(context.Context, *domain.Thread) ([]domain.Invocation, error)) (reply *Reply, err error) {
	unlock := c.locks.Lock(threadID)
	defer unlock()

	if c.opts.TurnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.TurnTimeout)
		defer cancel()
	}

	ctx, span := tracer.Start(ctx, "controller.turn")
	defer span.End()
	span.SetAttributes(attribute.String("thread.id", threadID))

	began := time.Now()
	defer func() {
		turnDuration.Observe(time.Since(began).Seconds())
		outcome := "error"
		switch {
		case err != nil:
			span.RecordError(err)
			span.SetStatus(codes.Error, "turn failed")
		case reply != nil:
			outcome = string(reply.Kind)
		}
		turnsTotal.WithLabelValues(outcome).Inc()
	}()

	stored, err := c.opts.Store.Get(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("load thread %s: %w", threadID, err)
	}
	th := stored.Clone()

	invs, err := start(ctx, th)
	if err != nil {
		return nil, err
	}
	reply, err = c.run(ctx, th)
	if err != nil {
		slog.Error("Turn failed", "threadID", threadID, "error", err)
		return nil, err
	}
	reply.Invocations = append(invs, reply.Invocations...)

	if err := c.opts.Store.Commit(ctx, th); err != nil {
		return nil, fmt.Errorf("commit thread %s: %w", threadID, err)
	}
	reply.State, reply.Pending = th.State(), th.Pending
	span.SetAttributes(attribute.String("thread.state", string(reply.State)))
	return reply, nil
}

// run alternates reasoning and tool execution until the model answers in
// plain text or asks for a sensitive action.
func (c *Controller) run(ctx context.Context, th *domain.Thread) (*Reply, error) {
	var invs []domain.Invocation
	for step := 0; step < c.opts.MaxSteps; step++ {
		msg, err := c.reason(ctx, th)
		if err != nil {
			return nil, err
		}
		if err := th.Append(msg); err != nil {
			return nil, err
		}
		if len(msg.ToolCalls) == 0 {
			return &Reply{ThreadID: th.ID, Kind: ReplyMessage, Text: msg.Content, Invocations: invs}, nil
		}

		pending, stepInvs, err := c.execute(ctx, th, msg.ToolCalls)
		if err != nil {
			return nil, err
		}
		invs = append(invs, stepInvs...)
		if pending == nil {
			continue
		}

		if err := th.SetPending(*pending); err != nil {
			return nil, err
		}
		def, err := c.opts.Registry.Lookup(pending.Name)
		if err != nil {
			return nil, err
		}
		slog.Info("Awaiting confirmation", "threadID", th.ID, "tool", pending.Name, "callID", pending.ID)
		return &Reply{ThreadID: th.ID, Kind: ReplyConfirmation, Text: def.Prompt(), Invocations: invs}, nil
	}
	return nil, fmt.Errorf("%w (%d)", domain.ErrStepLimit, c.opts.MaxSteps)
}
