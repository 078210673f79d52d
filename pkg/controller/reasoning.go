package controller

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/nstogner/solemate/pkg/domain"
	"github.com/nstogner/solemate/pkg/model"
)

// correctivePrompt is sent after an empty model reply. It only lives in the
// retried request and never reaches the thread.
const correctivePrompt = "Respond with a real output."

// reason runs one reasoning step over the thread history. Empty replies are
// re-prompted up to MaxEmptyRetries times.
func (c *Controller) reason(ctx context.Context, th *domain.Thread) (domain.Message, error) {
	ctx, span := tracer.Start(ctx, "controller.reason")
	defer span.End()

	req := model.Request{
		Model:        c.opts.Model,
		Instructions: c.opts.Instructions,
		Messages:     th.Messages,
		Tools:        c.opts.Registry.Declarations(),
		Temperature:  c.opts.Temperature,
		MaxTokens:    c.opts.MaxTokens,
	}

	for attempt := 0; ; attempt++ {
		reasoningSteps.Inc()
		msg, err := model.Complete(ctx, c.opts.Provider, req)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "model call failed")
			return domain.Message{}, fmt.Errorf("model %s: %w", c.opts.Provider.Name(), err)
		}
		if !isEmpty(msg) {
			msg.Role = domain.RoleAssistant
			span.SetAttributes(
				attribute.Int("attempts", attempt+1),
				attribute.Int("tool_calls", len(msg.ToolCalls)),
			)
			return msg, nil
		}
		if attempt >= c.opts.MaxEmptyRetries {
			span.SetStatus(codes.Error, "empty response")
			return domain.Message{}, fmt.Errorf("%w after %d attempts", domain.ErrEmptyResponse, attempt+1)
		}

		slog.Warn("Empty model reply, re-prompting", "threadID", th.ID, "attempt", attempt+1)
		emptyRetries.Inc()
		msgs := make([]domain.Message, len(req.Messages), len(req.Messages)+1)
		copy(msgs, req.Messages)
		req.Messages = append(msgs, domain.Message{Role: domain.RoleUser, Content: correctivePrompt})
	}
}

func isEmpty(msg domain.Message) bool {
	return len(msg.ToolCalls) == 0 && strings.TrimSpace(msg.Content) == ""
}
