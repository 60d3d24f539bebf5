// Package openaitools implements the structured tool-call convention on the
// official OpenAI SDK: tools are declared in the request and the model
// answers with tool_calls instead of an inline marker.
package openaitools

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"tire-assistant/internal/domain"
)

// KeyFunc returns the API key; it is called once per process.
type KeyFunc func(ctx context.Context) (string, error)

type Config struct {
	Model       string
	Temperature float64
	BaseURL     string
	HTTPClient  *http.Client
	MaxRetries  int
}

type Client struct {
	sdk    openai.Client
	key    KeyFunc
	model  string
	temp   float64
	once   sync.Once
	apiKey string
	keyErr error
}

func NewClient(key KeyFunc, cfg Config) (*Client, error) {
	if key == nil {
		return nil, errors.New("openaitools: key func must not be nil")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("openaitools: model must not be empty")
	}
	opts := []option.RequestOption{option.WithMaxRetries(cfg.MaxRetries)}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(base, "/")+"/"))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	return &Client{
		sdk:   openai.NewClient(opts...),
		key:   key,
		model: cfg.Model,
		temp:  cfg.Temperature,
	}, nil
}

func (c *Client) resolveKey(ctx context.Context) (string, error) {
	c.once.Do(func() {
		c.apiKey, c.keyErr = c.key(ctx)
	})
	return c.apiKey, c.keyErr
}

// Complete sends the conversation with the declared tools and maps the first
// choice to a Completion. Only the first tool call is honoured.
func (c *Client) Complete(ctx context.Context, req domain.CompletionRequest) (domain.Completion, error) {
	apiKey, err := c.resolveKey(ctx)
	if err != nil {
		return domain.Completion{}, fmt.Errorf("openaitools: api key: %w", err)
	}

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    toMessages(req.Messages),
		Temperature: openai.Float(c.temp),
	}
	if len(req.Tools) > 0 {
		params.Tools = toTools(req.Tools)
	}

	resp, err := c.sdk.Chat.Completions.New(ctx, params, option.WithAPIKey(apiKey))
	if err != nil {
		return domain.Completion{}, fmt.Errorf("openaitools: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return domain.Completion{}, errors.New("openaitools: no choices in response")
	}

	msg := resp.Choices[0].Message
	out := domain.Completion{Text: msg.Content}
	if len(msg.ToolCalls) > 0 {
		call := msg.ToolCalls[0]
		out.ToolCall = &domain.ToolInvocation{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: call.Function.Arguments,
		}
	}
	return out, nil
}

func toTools(specs []domain.ToolSpec) []openai.ChatCompletionToolParam {
	tools := make([]openai.ChatCompletionToolParam, 0, len(specs))
	for _, spec := range specs {
		tools = append(tools, openai.ChatCompletionToolParam{
			Type: "function",
			Function: shared.FunctionDefinitionParam{
				Name:        spec.Name,
				Description: openai.String(spec.Description),
				Parameters:  shared.FunctionParameters(spec.Parameters),
			},
		})
	}
	return tools
}

func toMessages(in []domain.ChatMessage) []openai.ChatCompletionMessageParamUnion {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(in))
	for _, m := range in {
		switch m.Role {
		case domain.ChatRoleSystem:
			msgs = append(msgs, openai.SystemMessage(m.Content))
		case domain.ChatRoleUser:
			msgs = append(msgs, openai.UserMessage(m.Content))
		case domain.ChatRoleAssistant:
			if m.ToolCall == nil {
				msgs = append(msgs, openai.AssistantMessage(m.Content))
				continue
			}
			assistant := openai.ChatCompletionAssistantMessageParam{
				ToolCalls: []openai.ChatCompletionMessageToolCallParam{{
					ID:   toolCallID(m.ToolCall),
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      m.ToolCall.Name,
						Arguments: m.ToolCall.Arguments,
					},
				}},
			}
			if m.Content != "" {
				assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
					OfString: param.NewOpt(m.Content),
				}
			}
			msgs = append(msgs, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		case domain.ChatRoleTool:
			msgs = append(msgs, openai.ToolMessage(m.Content, toolCallID(m.ToolCall)))
		}
	}
	return msgs
}

// toolCallID pairs an assistant tool call with its result turn.
func toolCallID(call *domain.ToolInvocation) string {
	if call == nil || call.ID == "" {
		return "call_0"
	}
	return call.ID
}
