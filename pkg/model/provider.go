package model

import (
	"context"

	"github.com/nstogner/solemate/pkg/domain"
	"github.com/nstogner/solemate/pkg/tools"
)

// Request is a single reasoning step: the full thread history plus the
// tools the model may call.
type Request struct {
	// Model identifies which model to use (e.g. "llama3-70b-8192").
	Model string
	// Instructions is the system prompt.
	Instructions string
	// Messages is the conversation history, oldest first.
	Messages []domain.Message
	// Tools are the declarations visible to the model. Handlers are never
	// exposed.
	Tools []tools.Declaration

	Temperature float64
	MaxTokens   int
}

// Provider represents a service that provides LLMs (e.g. Gemini, OpenAI).
type Provider interface {
	// Name returns the provider's identifier (e.g. "gemini", "openai").
	Name() string

	// Stream sends a request to the LLM and returns a stream of responses.
	Stream(ctx context.Context, req Request) (ModelStream, error)
}

// ModelStream abstracts the stream of responses from the model.
type ModelStream interface {
	// FullMessage blocks until the complete response is available and
	// returns it as an assistant message. Tool calls always carry an ID.
	FullMessage() (domain.Message, error)

	// Close releases resources associated with this stream.
	Close() error
}

// Complete runs a request to completion.
func Complete(ctx context.Context, p Provider, req Request) (domain.Message, error) {
	stream, err := p.Stream(ctx, req)
	if err != nil {
		return domain.Message{}, err
	}
	defer stream.Close()
	return stream.FullMessage()
}
