package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"tire-assistant/internal/integrations/paramstore"
	"tire-assistant/internal/logging"
	"tire-assistant/internal/usecase"
)

const (
	correlationHeader = "X-Correlation-Id"
	eventReceived     = "EVENT_RECEIVED"
	pageObject        = "page"

	errorMethodNotAllowed usecase.ErrorCode = "METHOD_NOT_ALLOWED"
	errorNotFound         usecase.ErrorCode = "NOT_FOUND"
)

type ReplyUseCase interface {
	HandleMessage(ctx context.Context, in usecase.InboundMessage) (usecase.Reply, error)
}

type ParamGetter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

type Handler struct {
	uc               ReplyUseCase
	params           ParamGetter
	verifyTokenParam string
	logger           *slog.Logger
}

type Option func(*Handler)

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

func NewHandler(uc ReplyUseCase, params ParamGetter, verifyTokenParam string, opts ...Option) (*Handler, error) {
	if uc == nil {
		return nil, errors.New("handler: use case must not be nil")
	}
	if params == nil {
		return nil, errors.New("handler: param getter must not be nil")
	}
	if strings.TrimSpace(verifyTokenParam) == "" {
		return nil, errors.New("handler: verify token parameter must not be empty")
	}
	h := &Handler{
		uc:               uc,
		params:           params,
		verifyTokenParam: verifyTokenParam,
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

type errorResponse struct {
	Error string `json:"error"`
}

type webhookEnvelope struct {
	Object string         `json:"object"`
	Entry  []webhookEntry `json:"entry"`
}

type webhookEntry struct {
	ID        string           `json:"id"`
	Time      int64            `json:"time"`
	Messaging []messagingEvent `json:"messaging"`
}

type messagingEvent struct {
	Sender    participant     `json:"sender"`
	Recipient participant     `json:"recipient"`
	Timestamp int64           `json:"timestamp"`
	Message   *inboundMessage `json:"message"`
}

type participant struct {
	ID string `json:"id"`
}

type inboundMessage struct {
	MID    string `json:"mid"`
	Text   string `json:"text"`
	IsEcho bool   `json:"is_echo"`
}

func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (resp events.APIGatewayProxyResponse, err error) {
	correlationID := headerValue(req.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	logger := h.logger.With("correlationId", correlationID)
	ctx = logging.WithContext(ctx, logger)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic while handling webhook", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			resp = errorJSON(http.StatusInternalServerError, usecase.ErrorInternal, correlationID)
			err = nil
		}
	}()

	switch req.HTTPMethod {
	case http.MethodGet:
		return h.verify(ctx, logger, req, correlationID), nil
	case http.MethodPost:
		return h.receive(ctx, logger, req, correlationID), nil
	default:
		notAllowed := errorJSON(http.StatusMethodNotAllowed, errorMethodNotAllowed, correlationID)
		notAllowed.Headers["Allow"] = "GET, POST"
		return notAllowed, nil
	}
}

func (h *Handler) verify(ctx context.Context, logger *slog.Logger, req events.APIGatewayProxyRequest, correlationID string) events.APIGatewayProxyResponse {
	q := req.QueryStringParameters
	mode, token, challenge := q["hub.mode"], q["hub.verify_token"], q["hub.challenge"]

	expected, err := paramstore.Token(ctx, h.params, h.verifyTokenParam)
	if err != nil {
		logger.Error("failed to load verify token", "err", err)
		return errorJSON(http.StatusInternalServerError, usecase.ErrorInternal, correlationID)
	}
	if mode != "subscribe" || token == "" || token != expected {
		logger.Warn("webhook verification failed", "code", string(usecase.ErrorVerificationFailed), "mode", mode)
		return errorJSON(http.StatusForbidden, usecase.ErrorVerificationFailed, correlationID)
	}
	logger.Info("webhook verified")
	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusOK,
		Headers: map[string]string{
			"Content-Type":    "text/plain",
			correlationHeader: correlationID,
		},
		Body: challenge,
	}
}

func (h *Handler) receive(ctx context.Context, logger *slog.Logger, req events.APIGatewayProxyRequest, correlationID string) events.APIGatewayProxyResponse {
	body := req.Body
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(body)
		if err != nil {
			logger.Warn("invalid base64 body", "code", string(usecase.ErrorMalformedPayload), "err", err)
			return errorJSON(http.StatusBadRequest, usecase.ErrorMalformedPayload, correlationID)
		}
		body = string(decoded)
	}

	var envelope webhookEnvelope
	if err := json.Unmarshal([]byte(body), &envelope); err != nil {
		logger.Warn("invalid webhook body", "code", string(usecase.ErrorMalformedPayload), "err", err)
		return errorJSON(http.StatusBadRequest, usecase.ErrorMalformedPayload, correlationID)
	}
	if envelope.Object != pageObject {
		logger.Warn("unrecognized webhook object", "object", envelope.Object)
		return errorJSON(http.StatusNotFound, errorNotFound, correlationID)
	}

	inbound, malformed := collectMessages(logger, envelope)
	if len(inbound) == 0 && (malformed > 0 || len(envelope.Entry) == 0) {
		logger.Warn("webhook carried no processable message", "code", string(usecase.ErrorMalformedPayload), "malformed", malformed)
		return errorJSON(http.StatusBadRequest, usecase.ErrorMalformedPayload, correlationID)
	}

	var (
		failed  error
		handled int
	)
	for _, in := range inbound {
		reply, err := h.uc.HandleMessage(ctx, in)
		if err == nil {
			handled++
			logger.Info("message handled", "mid", in.MessageID, "outcome", string(reply.Outcome), "conversationId", reply.ConversationID)
			continue
		}
		code, _ := usecase.CodeOf(err)
		switch code {
		case usecase.ErrorCustomerNotFound:
			logger.Warn("no customer for page, event skipped", "code", string(code), "pageId", in.RecipientID, "err", err)
		case usecase.ErrorMalformedPayload:
			logger.Warn("event rejected", "code", string(code), "mid", in.MessageID, "err", err)
		default:
			logger.Error("failed to handle message", "code", string(code), "mid", in.MessageID, "err", err)
			if failed == nil {
				failed = err
			}
		}
	}
	// A redelivered batch would repeat the replies already sent, so a
	// partial failure is acknowledged.
	if failed != nil && handled > 0 {
		logger.Warn("batch partially failed, acknowledging", "handled", handled, "events", len(inbound))
	}
	if failed != nil && handled == 0 {
		code, ok := usecase.CodeOf(failed)
		if !ok {
			code = usecase.ErrorInternal
		}
		return errorJSON(http.StatusInternalServerError, code, correlationID)
	}

	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusOK,
		Headers: map[string]string{
			"Content-Type":    "text/plain",
			correlationHeader: correlationID,
		},
		Body: eventReceived,
	}
}

// collectMessages flattens every entry and messaging event into inbound
// messages. Echoes and events without text are ignored; events with text but
// no participants are counted as malformed.
func collectMessages(logger *slog.Logger, envelope webhookEnvelope) ([]usecase.InboundMessage, int) {
	var out []usecase.InboundMessage
	malformed := 0
	for _, entry := range envelope.Entry {
		for _, ev := range entry.Messaging {
			if ev.Message == nil {
				continue
			}
			if ev.Message.IsEcho {
				logger.Debug("echo event ignored", "mid", ev.Message.MID)
				continue
			}
			text := strings.TrimSpace(ev.Message.Text)
			if text == "" {
				logger.Debug("event without text ignored", "mid", ev.Message.MID)
				continue
			}
			if ev.Sender.ID == "" || ev.Recipient.ID == "" {
				malformed++
				continue
			}
			out = append(out, usecase.InboundMessage{
				SenderID:    ev.Sender.ID,
				RecipientID: ev.Recipient.ID,
				Text:        text,
				MessageID:   ev.Message.MID,
			})
		}
	}
	return out, malformed
}

func errorJSON(status int, code usecase.ErrorCode, correlationID string) events.APIGatewayProxyResponse {
	body, _ := json.Marshal(errorResponse{Error: string(code)})
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: correlationID,
		},
		Body: string(body),
	}
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
