// Package openai implements model.Provider for OpenAI-compatible chat
// completion APIs, including Groq.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/ssestream"
	"github.com/openai/openai-go/v3/shared"

	"github.com/nstogner/solemate/pkg/domain"
	"github.com/nstogner/solemate/pkg/model"
	"github.com/nstogner/solemate/pkg/tools"
)

// GroqBaseURL is the OpenAI-compatible endpoint of Groq.
const GroqBaseURL = "https://api.groq.com/openai/v1"

type Options struct {
	APIKey  string
	BaseURL string
}

// Provider implements model.Provider over the chat completions API.
type Provider struct {
	api *openai.Client
}

var _ model.Provider = (*Provider)(nil)

func New(opts Options) (*Provider, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("missing model API key")
	}
	cfg := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
	}
	if base := strings.TrimSpace(opts.BaseURL); base != "" {
		cfg = append(cfg, option.WithBaseURL(strings.TrimRight(base, "/")+"/"))
	}
	client := openai.NewClient(cfg...)
	return &Provider{api: &client}, nil
}

func (p *Provider) Name() string { return "openai" }

func (p *Provider) Stream(ctx context.Context, req model.Request) (model.ModelStream, error) {
	slog.Debug("OpenAI.Stream", "model", req.Model, "messageCount", len(req.Messages))

	params := buildParams(req)
	streamCtx, cancel := context.WithCancel(ctx)
	stream := p.api.Chat.Completions.NewStreaming(streamCtx, params)
	return &chatStream{stream: stream, cancel: cancel}, nil
}

func buildParams(req model.Request) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(req.Model),
		Messages: toChatMessages(req.Instructions, req.Messages),
	}
	if len(req.Tools) > 0 {
		params.Tools = toChatTools(req.Tools)
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	return params
}

func toChatMessages(instructions string, msgs []domain.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs)+1)
	if instructions != "" {
		out = append(out, openai.SystemMessage(instructions))
	}
	for _, msg := range msgs {
		switch msg.Role {
		case domain.RoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))
		case domain.RoleAssistant:
			out = append(out, assistantMessage(msg))
		case domain.RoleTool:
			out = append(out, openai.ToolMessage(msg.Content, msg.ToolCallID))
		default:
			out = append(out, openai.UserMessage(msg.Content))
		}
	}
	return out
}

func assistantMessage(msg domain.Message) openai.ChatCompletionMessageParamUnion {
	if len(msg.ToolCalls) == 0 {
		return openai.AssistantMessage(msg.Content)
	}
	am := &openai.ChatCompletionAssistantMessageParam{}
	if msg.Content != "" {
		am.Content.OfString = openai.String(msg.Content)
	}
	for _, tc := range msg.ToolCalls {
		args := string(tc.Arguments)
		if args == "" {
			args = "{}"
		}
		am.ToolCalls = append(am.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
			OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
				ID: tc.ID,
				Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
					Name:      tc.Name,
					Arguments: args,
				},
			},
		})
	}
	return openai.ChatCompletionMessageParamUnion{OfAssistant: am}
}

func toChatTools(decls []tools.Declaration) []openai.ChatCompletionToolUnionParam {
	out := make([]openai.ChatCompletionToolUnionParam, 0, len(decls))
	for _, d := range decls {
		fn := shared.FunctionDefinitionParam{
			Name:       d.Name,
			Parameters: shared.FunctionParameters(d.Parameters),
		}
		if desc := strings.TrimSpace(d.Description); desc != "" {
			fn.Description = openai.String(desc)
		}
		out = append(out, openai.ChatCompletionToolUnionParam{
			OfFunction: &openai.ChatCompletionFunctionToolParam{
				Function: fn,
			},
		})
	}
	return out
}

type chatStream struct {
	stream *ssestream.Stream[openai.ChatCompletionChunk]
	cancel context.CancelFunc
}

func (s *chatStream) FullMessage() (domain.Message, error) {
	acc := openai.ChatCompletionAccumulator{}
	for s.stream.Next() {
		acc.AddChunk(s.stream.Current())
	}
	if err := s.stream.Err(); err != nil {
		return domain.Message{}, wrapHTTPError(err)
	}
	if len(acc.Choices) == 0 {
		return domain.Message{Role: domain.RoleAssistant}, nil
	}
	return fromChatMessage(acc.Choices[0].Message), nil
}

func fromChatMessage(m openai.ChatCompletionMessage) domain.Message {
	out := domain.Message{Role: domain.RoleAssistant, Content: m.Content}
	for _, tc := range m.ToolCalls {
		if tc.Function.Name == "" {
			continue
		}
		id := tc.ID
		if id == "" {
			id = "call-" + uuid.New().String()
		}
		args := strings.TrimSpace(tc.Function.Arguments)
		if args == "" {
			args = "{}"
		}
		if !json.Valid([]byte(args)) {
			// Handed to the tool as-is; decoding fails there and the model
			// sees the error.
			args = fmt.Sprintf("%q", args)
		}
		out.ToolCalls = append(out.ToolCalls, domain.ToolCall{
			ID:        id,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(args),
		})
	}
	return out
}

func (s *chatStream) Close() error {
	s.cancel()
	return s.stream.Close()
}

func wrapHTTPError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) && apiErr != nil {
		raw := strings.TrimSpace(apiErr.RawJSON())
		if raw != "" {
			return fmt.Errorf("http_%d: %s", apiErr.StatusCode, raw)
		}
		return fmt.Errorf("http_%d: %v", apiErr.StatusCode, err)
	}
	return err
}
