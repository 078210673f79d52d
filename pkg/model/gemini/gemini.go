package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/nstogner/solemate/pkg/domain"
	"github.com/nstogner/solemate/pkg/model"
	"github.com/nstogner/solemate/pkg/tools"
)

// Provider implements model.Provider using the Google Gen AI SDK.
type Provider struct {
	client *genai.Client
}

// Verify interface compliance.
var _ model.Provider = (*Provider)(nil)

// New creates a new Gemini provider.
func New(ctx context.Context, apiKey string) (*Provider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &Provider{client: client}, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string { return "gemini" }

// Stream sends the request to Gemini and returns a stream.
func (p *Provider) Stream(ctx context.Context, req model.Request) (model.ModelStream, error) {
	slog.Debug("Gemini.Stream", "model", req.Model, "messageCount", len(req.Messages))

	contents, err := toContents(req.Messages)
	if err != nil {
		return nil, err
	}

	config := &genai.GenerateContentConfig{
		Tools: toTools(req.Tools),
	}
	if req.Instructions != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.Instructions}},
		}
	}
	if req.Temperature > 0 {
		config.Temperature = genai.Ptr(float32(req.Temperature))
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	iter := p.client.Models.GenerateContentStream(streamCtx, req.Model, contents, config)

	return &geminiStream{
		iter:   iter,
		cancel: cancel,
	}, nil
}

// toContents converts thread history to genai contents. Tool results become
// function responses named after the call they answer.
func toContents(messages []domain.Message) ([]*genai.Content, error) {
	var contents []*genai.Content
	toolNameMap := make(map[string]string) // tool call ID -> name

	for _, msg := range messages {
		var parts []*genai.Part
		role := "user"

		switch msg.Role {
		case domain.RoleSystem:
			// System instructions travel in the request config.
			continue
		case domain.RoleAssistant:
			role = "model"
			if msg.Content != "" {
				parts = append(parts, &genai.Part{Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				args := map[string]any{}
				if len(tc.Arguments) > 0 {
					if err := json.Unmarshal(tc.Arguments, &args); err != nil {
						return nil, fmt.Errorf("decode arguments of call %s: %w", tc.ID, err)
					}
				}
				toolNameMap[tc.ID] = tc.Name
				parts = append(parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{
						ID:   tc.ID,
						Name: tc.Name,
						Args: args,
					},
				})
			}
		case domain.RoleTool:
			key := "result"
			if msg.IsError {
				key = "error"
			}
			parts = append(parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					ID:       msg.ToolCallID,
					Name:     toolNameMap[msg.ToolCallID],
					Response: map[string]any{key: msg.Content},
				},
			})
		default:
			if msg.Content != "" {
				parts = append(parts, &genai.Part{Text: msg.Content})
			}
		}

		if len(parts) == 0 {
			continue
		}
		// Consecutive function responses share one user turn.
		if n := len(contents); n > 0 && msg.Role == domain.RoleTool && contents[n-1].Role == "user" && contents[n-1].Parts[0].FunctionResponse != nil {
			contents[n-1].Parts = append(contents[n-1].Parts, parts...)
			continue
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}
	return contents, nil
}

func toTools(decls []tools.Declaration) []*genai.Tool {
	if len(decls) == 0 {
		return nil
	}
	fns := make([]*genai.FunctionDeclaration, 0, len(decls))
	for _, d := range decls {
		fns = append(fns, &genai.FunctionDeclaration{
			Name:                 d.Name,
			Description:          d.Description,
			ParametersJsonSchema: d.Parameters,
		})
	}
	return []*genai.Tool{{FunctionDeclarations: fns}}
}

// geminiStream wraps the Gemini streaming iterator.
type geminiStream struct {
	iter   func(yield func(*genai.GenerateContentResponse, error) bool)
	cancel context.CancelFunc
}

func (s *geminiStream) FullMessage() (domain.Message, error) {
	var fullText strings.Builder
	var toolCalls []domain.ToolCall

	for resp, err := range s.iter {
		if err != nil {
			return domain.Message{}, err
		}
		if resp == nil {
			continue
		}

		for _, cand := range resp.Candidates {
			if cand.Content == nil {
				continue
			}
			for _, part := range cand.Content.Parts {
				if part.Text != "" && !part.Thought {
					fullText.WriteString(part.Text)
				}
				if part.FunctionCall != nil {
					tc, err := fromFunctionCall(part.FunctionCall)
					if err != nil {
						return domain.Message{}, err
					}
					toolCalls = append(toolCalls, tc)
				}
			}
		}
	}

	return domain.Message{
		Role:      domain.RoleAssistant,
		Content:   fullText.String(),
		ToolCalls: toolCalls,
	}, nil
}

func fromFunctionCall(fc *genai.FunctionCall) (domain.ToolCall, error) {
	id := fc.ID
	if id == "" {
		id = "call-" + uuid.New().String()
	}
	args := fc.Args
	if args == nil {
		args = map[string]any{}
	}
	b, err := json.Marshal(args)
	if err != nil {
		return domain.ToolCall{}, fmt.Errorf("encode arguments of %s: %w", fc.Name, err)
	}
	return domain.ToolCall{ID: id, Name: fc.Name, Arguments: b}, nil
}

func (s *geminiStream) Close() error {
	s.cancel()
	return nil
}
