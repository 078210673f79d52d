// Package modeltest provides a scripted model.Provider for tests.
package modeltest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nstogner/solemate/pkg/domain"
	"github.com/nstogner/solemate/pkg/model"
)

// Step produces one model response for a request.
type Step func(req model.Request) (domain.Message, error)

// Reply returns a step answering with plain text.
func Reply(text string) Step {
	return func(model.Request) (domain.Message, error) {
		return domain.Message{Role: domain.RoleAssistant, Content: text}, nil
	}
}

// Call is a tool call used to script a response.
type Call struct {
	ID   string
	Name string
	Args string
}

// Calls returns a step requesting the given tool calls.
func Calls(calls ...Call) Step {
	return func(model.Request) (domain.Message, error) {
		msg := domain.Message{Role: domain.RoleAssistant}
		for _, c := range calls {
			msg.ToolCalls = append(msg.ToolCalls, domain.ToolCall{ID: c.ID, Name: c.Name, Arguments: json.RawMessage(c.Args)})
		}
		return msg, nil
	}
}

// Fail returns a step whose model call errors.
func Fail(err error) Step {
	return func(model.Request) (domain.Message, error) { return domain.Message{}, err }
}

// Provider replays Steps in order and records every request.
type Provider struct {
	mu       sync.Mutex
	steps    []Step
	requests []model.Request
}

var _ model.Provider = (*Provider)(nil)

func New(steps ...Step) *Provider {
	return &Provider{steps: steps}
}

// Push appends further steps.
func (p *Provider) Push(steps ...Step) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.steps = append(p.steps, steps...)
}

func (p *Provider) Name() string { return "scripted" }

func (p *Provider) Stream(ctx context.Context, req model.Request) (model.ModelStream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	req.Messages = append([]domain.Message(nil), req.Messages...)
	p.requests = append(p.requests, req)
	if len(p.steps) == 0 {
		return nil, fmt.Errorf("scripted provider: no response left for request %d", len(p.requests))
	}
	step := p.steps[0]
	p.steps = p.steps[1:]
	msg, err := step(req)
	return &stream{msg: msg, err: err}, nil
}

// Requests returns the requests received so far.
func (p *Provider) Requests() []model.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.Request(nil), p.requests...)
}

// Remaining reports how many scripted steps are unused.
func (p *Provider) Remaining() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.steps)
}

type stream struct {
	msg domain.Message
	err error
}

func (s *stream) FullMessage() (domain.Message, error) { return s.msg, s.err }

func (s *stream) Close() error { return nil }
