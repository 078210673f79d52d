package controller

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nstogner/solemate/pkg/domain"
	"github.com/nstogner/solemate/pkg/tools"
)

// execute runs the tool calls of one assistant message. Safe and unknown
// tools run immediately. The first sensitive call is returned unexecuted so
// the turn can pause on it; any further sensitive calls are answered with a
// skip notice. Every result is appended to th.
func (c *Controller) execute(ctx context.Context, th *domain.Thread, calls []domain.ToolCall) (*domain.ToolCall, []domain.Invocation, error) {
	var (
		pending *domain.ToolCall
		invs    []domain.Invocation
	)
	for _, call := range calls {
		class, err := c.opts.Registry.Classify(call.Name)
		if err == nil && class == tools.Sensitive {
			if pending == nil {
				p := call
				pending = &p
				invs = append(invs, domain.Invocation{Call: call, Status: domain.InvocationPending})
				continue
			}
			inv := domain.Invocation{
				Call:    call,
				Status:  domain.InvocationDenied,
				Result:  fmt.Sprintf("%s not executed: only one action needing confirmation can run at a time. Ask again after the pending one is answered.", call.Name),
				IsError: true,
			}
			if err := appendResult(th, inv); err != nil {
				return nil, nil, err
			}
			invs = append(invs, inv)
			continue
		}

		inv := c.runTool(ctx, call)
		if err := appendResult(th, inv); err != nil {
			return nil, nil, err
		}
		invs = append(invs, inv)
	}
	return pending, invs, nil
}

func (c *Controller) runTool(ctx context.Context, call domain.ToolCall) domain.Invocation {
	ctx, span := tracer.Start(ctx, "controller.tool",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("tool.name", call.Name), attribute.String("tool.call_id", call.ID)),
	)
	defer span.End()

	slog.Debug("Executing tool", "tool", call.Name, "callID", call.ID)
	inv := c.opts.Registry.Execute(ctx, call)
	span.SetAttributes(attribute.Bool("tool.error", inv.IsError))
	recordInvocation(inv)
	return inv
}

// resolve settles the pending call of th: approved calls run with their
// captured arguments, denied ones get the user's reason as their result.
func (c *Controller) resolve(ctx context.Context, th *domain.Thread, d Decision) (domain.Invocation, error) {
	if th.Pending == nil {
		return domain.Invocation{}, fmt.Errorf("%w: thread %s has no pending action", domain.ErrProtocol, th.ID)
	}
	call := *th.Pending
	th.Pending = nil

	var inv domain.Invocation
	if d.Approve {
		confirmationsTotal.WithLabelValues("approved").Inc()
		slog.Info("Pending action approved", "threadID", th.ID, "tool", call.Name, "callID", call.ID)
		inv = c.runTool(ctx, call)
	} else {
		confirmationsTotal.WithLabelValues("denied").Inc()
		slog.Info("Pending action denied", "threadID", th.ID, "tool", call.Name, "callID", call.ID)
		inv = domain.Invocation{
			Call:   call,
			Status: domain.InvocationDenied,
			Result: DenialContent(call.Name, d.Reason),
		}
		recordInvocation(inv)
	}
	if err := appendResult(th, inv); err != nil {
		return domain.Invocation{}, err
	}
	return inv, nil
}

// DenialContent is the tool result recorded when the user declines an action.
func DenialContent(tool, reason string) string {
	return fmt.Sprintf("%s denied by user. Reasoning: '%s'. Proceed with last conversation.", tool, reason)
}

func appendResult(th *domain.Thread, inv domain.Invocation) error {
	return th.Append(domain.Message{
		Role:       domain.RoleTool,
		ToolCallID: inv.Call.ID,
		Content:    inv.Result,
		IsError:    inv.IsError,
	})
}
