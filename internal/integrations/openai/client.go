package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"tire-assistant/internal/domain"
	"tire-assistant/internal/toolmarker"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4"
	// emptyReply stands in for a completion that came back without content.
	emptyReply = "..."
)

// chatRequest is the minimal request shape for the Chat Completions endpoint.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
}

// wireMessage is a chat turn as sent to the endpoint. Tool results travel in
// the legacy "function" role with the tool name, which models prompted with
// the bracketed marker convention understand.
type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

// chatResponse is the minimal response shape returned by the Chat Completions endpoint.
type chatResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string  `json:"role"`
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// moderationRequest is the request shape for the Moderations endpoint.
type moderationRequest struct {
	Input string `json:"input"`
}

// moderationResponse is the minimal response shape for the Moderations endpoint.
type moderationResponse struct {
	Results []struct {
		Flagged bool `json:"flagged"`
	} `json:"results"`
}

// tokenPayload is the JSON shape stored in SSM for the API token.
type tokenPayload struct {
	Token string `json:"token"`
}

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("openai: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client is a focused OpenAI-compatible client for chat completions that
// implements the bracketed-marker tool convention.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	getter      Getter
	paramPrefix string
	model       string
	temperature *float64

	keyOnce sync.Once
	apiKey  string
	keyErr  error
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if baseURL = strings.TrimSpace(baseURL); baseURL != "" {
			c.baseURL = baseURL
		}
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithModel(model string) Option {
	return func(c *Client) {
		if model = strings.TrimSpace(model); model != "" {
			c.model = model
		}
	}
}

func WithTemperature(t float64) Option {
	return func(c *Client) {
		c.temperature = &t
	}
}

// NewClient creates a new Client backed by the given Getter for API key
// retrieval. The key is fetched on the first request and reused for the
// lifetime of the process.
func NewClient(ps Getter, paramPrefix string, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("openai: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("openai: parameter prefix must not be empty")
	}
	c := &Client{
		baseURL:     defaultBaseURL,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		getter:      ps,
		paramPrefix: paramPrefix,
		model:       defaultModel,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// resolveAPIKey fetches the API key on the first call and returns the cached
// result on every subsequent call within the same process lifetime.
func (c *Client) resolveAPIKey(ctx context.Context) (string, error) {
	c.keyOnce.Do(func() {
		c.apiKey, c.keyErr = fetchAPIKeyFromParamStore(ctx, c.getter, c.tokenParameterName())
	})
	return c.apiKey, c.keyErr
}

func (c *Client) tokenParameterName() string {
	return c.paramPrefix + "/open-ai-token"
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 30 * time.Second}
}

func chatURL(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	if strings.HasSuffix(base, "/v1") {
		return base + "/chat/completions"
	}
	return base + "/v1/chat/completions"
}

// Complete runs one completion and reports a tool invocation when the reply
// carries a bracketed marker. Declared tools are not sent; the persona prompt
// teaches the model the marker syntax.
func (c *Client) Complete(ctx context.Context, req domain.CompletionRequest) (domain.Completion, error) {
	text, err := c.Chat(ctx, c.model, req.Messages)
	if err != nil {
		return domain.Completion{}, err
	}
	if strings.TrimSpace(text) == "" {
		text = emptyReply
	}
	out := domain.Completion{Text: text}
	if m, ok := toolmarker.Find(text); ok {
		out.ToolCall = &domain.ToolInvocation{Name: m.Name, Arguments: m.Arguments}
	}
	return out, nil
}

// Chat sends messages to the Chat Completions endpoint and returns the first
// choice's content.
func (c *Client) Chat(ctx context.Context, model string, messages []domain.ChatMessage) (string, error) {
	if model == "" {
		return "", errors.New("openai: model must not be empty")
	}

	apiKey, err := c.resolveAPIKey(ctx)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    toWireMessages(messages),
		Temperature: c.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("openai: marshal request: %w", err)
	}

	url := chatURL(c.baseURL)

	req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if reqErr != nil {
		return "", fmt.Errorf("openai: create request: %w", reqErr)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	raw, err := c.doJSONRequest(req, url)
	if err != nil {
		return "", fmt.Errorf("openai: request failed: %w", err)
	}

	var payload chatResponse
	if decErr := json.Unmarshal(raw, &payload); decErr != nil {
		return "", fmt.Errorf("openai: decode response: %w", decErr)
	}
	if len(payload.Choices) == 0 {
		return "", errors.New("openai: no choices in response")
	}
	content := payload.Choices[0].Message.Content
	if content == nil {
		return "", nil
	}
	return *content, nil
}

func toWireMessages(messages []domain.ChatMessage) []wireMessage {
	out := make([]wireMessage, 0, len(messages))
	for _, m := range messages {
		switch {
		case m.Role == domain.ChatRoleTool:
			name := ""
			if m.ToolCall != nil {
				name = m.ToolCall.Name
			}
			out = append(out, wireMessage{Role: "function", Name: name, Content: m.Content})
		case m.Role == domain.ChatRoleAssistant && m.ToolCall != nil && strings.TrimSpace(m.Content) == "":
			out = append(out, wireMessage{
				Role:    m.Role,
				Content: toolmarker.Format(m.ToolCall.Name, m.ToolCall.Arguments),
			})
		default:
			out = append(out, wireMessage{Role: m.Role, Content: m.Content})
		}
	}
	return out
}

func moderationURL(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	if strings.HasSuffix(base, "/v1") {
		return base + "/moderations"
	}
	return base + "/v1/moderations"
}

// Moderate calls the OpenAI Moderations API and returns true if the input is flagged.
func (c *Client) Moderate(ctx context.Context, input string) (bool, error) {
	apiKey, err := c.resolveAPIKey(ctx)
	if err != nil {
		return false, err
	}

	body, err := json.Marshal(moderationRequest{Input: input})
	if err != nil {
		return false, fmt.Errorf("openai: marshal moderation request: %w", err)
	}

	url := moderationURL(c.baseURL)

	req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if reqErr != nil {
		return false, fmt.Errorf("openai: create moderation request: %w", reqErr)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	raw, err := c.doJSONRequest(req, url)
	if err != nil {
		return false, fmt.Errorf("openai: moderation request failed: %w", err)
	}

	var payload moderationResponse
	if decErr := json.Unmarshal(raw, &payload); decErr != nil {
		return false, fmt.Errorf("openai: decode moderation response: %w", decErr)
	}
	if len(payload.Results) == 0 {
		return false, errors.New("openai: no results in moderation response")
	}
	return payload.Results[0].Flagged, nil
}

func (c *Client) doJSONRequest(req *http.Request, url string) ([]byte, error) {
	res, doErr := c.resolvedHTTPClient().Do(req)
	if doErr != nil {
		return nil, doErr
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        url,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}

// fetchAPIKeyFromParamStore accepts either a JSON {"token": "..."} document
// or the bare key.
func fetchAPIKeyFromParamStore(ctx context.Context, getter Getter, name string) (string, error) {
	if getter == nil {
		return "", errors.New("openai: paramstore getter is nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("openai: token parameter name is empty")
	}

	raw, err := getter.GetParameter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("openai: fetch token from paramstore: %w", err)
	}
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "{") {
		if raw == "" {
			return "", errors.New("openai: API token is empty")
		}
		return raw, nil
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", fmt.Errorf("openai: unmarshal paramstore token value as JSON: %w", err)
	}
	if tp.Token == "" {
		return "", errors.New("openai: API token is empty")
	}
	return tp.Token, nil
}
