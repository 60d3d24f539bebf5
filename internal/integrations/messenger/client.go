// Package messenger sends typing indicators and text replies through the
// Facebook Graph API Send endpoint.
package messenger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"
)

const defaultBaseURL = "https://graph.facebook.com/v18.0"

const (
	actionTypingOn  = "typing_on"
	actionTypingOff = "typing_off"
)

// TokenFunc returns the page access token used to authorize sends.
type TokenFunc func(ctx context.Context) (string, error)

type recipient struct {
	ID string `json:"id"`
}

type textMessage struct {
	Text string `json:"text"`
}

type sendRequest struct {
	Recipient     recipient    `json:"recipient"`
	MessagingType string       `json:"messaging_type,omitempty"`
	SenderAction  string       `json:"sender_action,omitempty"`
	Message       *textMessage `json:"message,omitempty"`
}

type sendResponse struct {
	RecipientID string `json:"recipient_id"`
	MessageID   string `json:"message_id"`
}

// HTTPStatusError captures non-2xx Graph API responses.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("messenger: unexpected status %d: %s", e.StatusCode, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

type Client struct {
	http  *resty.Client
	token TokenFunc
}

type Option func(*resty.Client)

func WithBaseURL(baseURL string) Option {
	return func(c *resty.Client) {
		if baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/"); baseURL != "" {
			c.SetBaseURL(baseURL)
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *resty.Client) {
		if d > 0 {
			c.SetTimeout(d)
		}
	}
}

func NewClient(token TokenFunc, opts ...Option) (*Client, error) {
	if token == nil {
		return nil, errors.New("messenger: token func must not be nil")
	}
	http := resty.New().
		SetBaseURL(defaultBaseURL).
		SetHeader("Content-Type", "application/json").
		SetTimeout(10 * time.Second)
	for _, opt := range opts {
		opt(http)
	}
	return &Client{http: http, token: token}, nil
}

// SendTypingIndicator shows the "typing…" bubble to the recipient.
func (c *Client) SendTypingIndicator(ctx context.Context, recipientID string) error {
	return c.post(ctx, sendRequest{Recipient: recipient{ID: recipientID}, SenderAction: actionTypingOn})
}

// SendTypingOff hides the typing bubble.
func (c *Client) SendTypingOff(ctx context.Context, recipientID string) error {
	return c.post(ctx, sendRequest{Recipient: recipient{ID: recipientID}, SenderAction: actionTypingOff})
}

// SendText sends one text message as a response to the user's last message.
func (c *Client) SendText(ctx context.Context, recipientID, text string) error {
	if strings.TrimSpace(text) == "" {
		return errors.New("messenger: text must not be empty")
	}
	return c.post(ctx, sendRequest{
		Recipient:     recipient{ID: recipientID},
		MessagingType: "RESPONSE",
		Message:       &textMessage{Text: text},
	})
}

func (c *Client) post(ctx context.Context, body sendRequest) error {
	if strings.TrimSpace(body.Recipient.ID) == "" {
		return errors.New("messenger: recipient id is required")
	}
	token, err := c.token(ctx)
	if err != nil {
		return fmt.Errorf("messenger: page token: %w", err)
	}

	var out sendResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("access_token", token).
		SetBody(body).
		SetResult(&out).
		Post("/me/messages")
	if err != nil {
		return fmt.Errorf("messenger: request failed: %w", err)
	}
	if resp.IsError() {
		return &HTTPStatusError{StatusCode: resp.StatusCode(), Body: truncate(resp.String(), 4096)}
	}
	return nil
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
