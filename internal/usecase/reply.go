package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"tire-assistant/internal/domain"
	"tire-assistant/internal/inventory"
	"tire-assistant/internal/logging"
	"tire-assistant/internal/repository"
	"tire-assistant/internal/toolmarker"
)

const (
	defaultHistoryLimit = 6
	defaultLLMTimeout   = 20 * time.Second
	defaultLeaseTTL     = 60 * time.Second
	defaultLeaseWait    = 10 * time.Second
	leaseRetryInterval  = 200 * time.Millisecond
)

// Store is the slice of the conversation store the reply flow needs.
type Store interface {
	ResolveCustomer(ctx context.Context, pageID string) (domain.Customer, error)
	ResolveOrCreateChannelUser(ctx context.Context, senderID, customerID string) (string, error)
	ResolveOrCreateActiveConversation(ctx context.Context, senderID, customerID string) (string, error)
	AppendMessage(ctx context.Context, msg domain.Message) (string, error)
	RecentHistory(ctx context.Context, conversationID string, limit int) ([]domain.HistoryEntry, error)
	TouchConversation(ctx context.Context, conversationID string) error
	CloseConversation(ctx context.Context, conversationID string) error
	AcquireLease(ctx context.Context, key, owner string, ttl time.Duration) error
	ReleaseLease(ctx context.Context, key, owner string) error
}

type LLMClient interface {
	Complete(ctx context.Context, req domain.CompletionRequest) (domain.Completion, error)
}

type Moderator interface {
	Moderate(ctx context.Context, input string) (bool, error)
}

type InventoryResolver interface {
	Resolve(ctx context.Context, size, customerID string) inventory.Result
}

type Deliverer interface {
	Deliver(ctx context.Context, recipientID, text string) error
}

// Options tune a ReplyService. Zero values fall back to defaults.
type Options struct {
	Persona            string
	HistoryLimit       int
	LLMTimeout         time.Duration
	FallbackCustomerID string
	CloseOnEndSentinel bool
	// DeclareTools sends the inventory tool schema with the first completion
	// request. Providers using the textual marker do not need it.
	DeclareTools bool
	LeaseTTL     time.Duration
	LeaseWait    time.Duration
	Moderator    Moderator
}

type InboundMessage struct {
	SenderID    string
	RecipientID string
	Text        string
	MessageID   string
}

type Outcome string

const (
	OutcomeReplied Outcome = "replied"
	OutcomeDropped Outcome = "dropped"
	OutcomeApology Outcome = "apology"
	OutcomeClosed  Outcome = "closed"
)

type Reply struct {
	Outcome        Outcome
	ConversationID string
	Text           string
}

type ReplyService struct {
	store     Store
	llm       LLMClient
	inventory InventoryResolver
	deliverer Deliverer
	opts      Options

	newID func() string
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewReplyService(store Store, llm LLMClient, resolver InventoryResolver, deliverer Deliverer, opts Options) (*ReplyService, error) {
	if store == nil {
		return nil, errors.New("usecase: store must not be nil")
	}
	if llm == nil {
		return nil, errors.New("usecase: llm client must not be nil")
	}
	if resolver == nil {
		return nil, errors.New("usecase: inventory resolver must not be nil")
	}
	if deliverer == nil {
		return nil, errors.New("usecase: deliverer must not be nil")
	}
	if strings.TrimSpace(opts.Persona) == "" {
		opts.Persona = defaultPersona
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = defaultHistoryLimit
	}
	if opts.LLMTimeout <= 0 {
		opts.LLMTimeout = defaultLLMTimeout
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = defaultLeaseTTL
	}
	if opts.LeaseWait <= 0 {
		opts.LeaseWait = defaultLeaseWait
	}
	return &ReplyService{
		store:     store,
		llm:       llm,
		inventory: resolver,
		deliverer: deliverer,
		opts:      opts,
		newID:     newUUID,
		now:       time.Now,
		sleep:     sleepContext,
	}, nil
}

// HandleMessage runs one customer turn: it persists the inbound text, asks
// the model (resolving at most one inventory lookup), delivers the answer
// and records it. Failures of the store, the provider or the send degrade
// the turn instead of failing it; the returned error is reserved for inputs
// the turn cannot start with.
func (s *ReplyService) HandleMessage(ctx context.Context, in InboundMessage) (Reply, error) {
	senderID := strings.TrimSpace(in.SenderID)
	pageID := strings.TrimSpace(in.RecipientID)
	text := strings.TrimSpace(in.Text)
	if senderID == "" || pageID == "" {
		return Reply{}, newError(ErrorMalformedPayload, "missing_participants", nil)
	}
	if text == "" {
		return Reply{}, newError(ErrorMalformedPayload, "empty_text", nil)
	}

	logger := logging.FromContext(ctx).With("senderId", senderID, "pageId", pageID)
	if in.MessageID != "" {
		logger = logger.With("mid", in.MessageID)
	}
	ctx = logging.WithContext(ctx, logger)

	customer, err := s.resolveCustomer(ctx, logger, pageID)
	if err != nil {
		return Reply{}, err
	}
	logger = logger.With("customerId", customer.ID)
	ctx = logging.WithContext(ctx, logger)

	release, err := s.acquireLease(ctx, logger, customer.ID+"#"+senderID)
	if err != nil {
		return Reply{}, err
	}
	defer release()

	if _, err := s.store.ResolveOrCreateChannelUser(ctx, senderID, customer.ID); err != nil {
		degrade(logger, ErrorStore, "failed to register channel user", err)
	}

	conversationID, err := s.store.ResolveOrCreateActiveConversation(ctx, senderID, customer.ID)
	if err != nil {
		degrade(logger, ErrorStore, "failed to resolve active conversation", err)
		conversationID = ""
	}
	if conversationID != "" {
		logger = logger.With("conversationId", conversationID)
		ctx = logging.WithContext(ctx, logger)
	}

	var history []domain.HistoryEntry
	if conversationID != "" {
		history, err = s.store.RecentHistory(ctx, conversationID, s.opts.HistoryLimit)
		if err != nil {
			degrade(logger, ErrorStore, "failed to read history", err)
			history = nil
		}
		s.persist(ctx, logger, domain.Message{
			ConversationID: conversationID,
			CustomerID:     customer.ID,
			SenderID:       senderID,
			Body:           text,
			Role:           domain.RoleCustomer,
		})
	}

	reply := Reply{ConversationID: conversationID}

	answer, ok := s.moderatedAnswer(ctx, logger, text)
	if !ok {
		messages := buildPromptMessages(s.opts.Persona, customer, history, text)
		answer, err = s.converse(ctx, logger, messages, customer.ID)
		if err != nil {
			degrade(logger, errorCode(err), "completion failed, sending apology", err)
			if derr := s.deliverer.Deliver(ctx, senderID, apologyText); derr != nil {
				degrade(logger, ErrorDelivery, "failed to deliver apology", derr)
			}
			reply.Outcome = OutcomeApology
			reply.Text = apologyText
			return reply, nil
		}
	}

	final := toolmarker.Strip(answer)
	if final == "" {
		logger.Info("empty reply after removing tool markers, nothing sent")
		reply.Outcome = OutcomeDropped
		return reply, nil
	}

	if s.opts.CloseOnEndSentinel && strings.Contains(final, EndSentinel) {
		if conversationID != "" {
			if err := s.store.CloseConversation(ctx, conversationID); err != nil {
				degrade(logger, ErrorStore, "failed to close conversation", err)
			}
		}
		logger.Info("conversation ended by assistant")
		reply.Outcome = OutcomeClosed
		return reply, nil
	}

	if err := s.deliverer.Deliver(ctx, senderID, final); err != nil {
		degrade(logger, ErrorDelivery, "failed to deliver reply", err)
	}

	if conversationID != "" {
		s.persist(ctx, logger, domain.Message{
			ConversationID: conversationID,
			CustomerID:     customer.ID,
			SenderID:       senderID,
			Body:           final,
			Role:           domain.RoleAssistant,
		})
		if err := s.store.TouchConversation(ctx, conversationID); err != nil {
			degrade(logger, ErrorStore, "failed to touch conversation", err)
		}
	}

	reply.Outcome = OutcomeReplied
	reply.Text = final
	return reply, nil
}

func (s *ReplyService) resolveCustomer(ctx context.Context, logger *slog.Logger, pageID string) (domain.Customer, error) {
	customer, err := s.store.ResolveCustomer(ctx, pageID)
	if err == nil {
		return customer, nil
	}
	if errors.Is(err, repository.ErrNotFound) {
		return domain.Customer{}, newError(ErrorCustomerNotFound, "unknown_page", err)
	}
	fallback := strings.TrimSpace(s.opts.FallbackCustomerID)
	if fallback == "" {
		return domain.Customer{}, newError(ErrorStore, "customer_lookup_error", err)
	}
	degrade(logger, ErrorStore, "customer lookup failed, using fallback customer", err, "fallbackCustomerId", fallback)
	return domain.Customer{ID: fallback, PageID: pageID}, nil
}

// acquireLease serializes turns of one sender with one shop. A store that
// cannot answer does not block the turn.
func (s *ReplyService) acquireLease(ctx context.Context, logger *slog.Logger, key string) (func(), error) {
	owner := s.newID()
	deadline := s.now().Add(s.opts.LeaseWait)
	for {
		err := s.store.AcquireLease(ctx, key, owner, s.opts.LeaseTTL)
		if err == nil {
			break
		}
		if !errors.Is(err, repository.ErrLeaseHeld) {
			degrade(logger, ErrorStore, "failed to acquire conversation lease, continuing without it", err)
			return func() {}, nil
		}
		if !s.now().Before(deadline) {
			return nil, newError(ErrorConversationBusy, "lease_wait_exceeded", err)
		}
		if err := s.sleep(ctx, leaseRetryInterval); err != nil {
			return nil, newError(ErrorConversationBusy, "lease_wait_cancelled", err)
		}
	}
	return func() {
		if err := s.store.ReleaseLease(context.WithoutCancel(ctx), key, owner); err != nil {
			degrade(logger, ErrorStore, "failed to release conversation lease", err)
		}
	}, nil
}

// moderatedAnswer short-circuits flagged input to the end-of-conversation
// sentinel. The second result reports whether moderation decided the answer.
func (s *ReplyService) moderatedAnswer(ctx context.Context, logger *slog.Logger, text string) (string, bool) {
	if s.opts.Moderator == nil {
		return "", false
	}
	flagged, err := s.opts.Moderator.Moderate(ctx, text)
	if err != nil {
		degrade(logger, errorCode(providerError("moderation_error", err)), "moderation failed, continuing", err)
		return "", false
	}
	if !flagged {
		return "", false
	}
	logger.Info("inbound message flagged by moderation")
	return EndSentinel, true
}

// converse asks the model once, and a second time with the inventory result
// when the first answer is a tool call.
func (s *ReplyService) converse(ctx context.Context, logger *slog.Logger, messages []domain.ChatMessage, customerID string) (string, error) {
	first, err := s.complete(ctx, messages, s.opts.DeclareTools)
	if err != nil {
		return "", err
	}
	if !first.IsToolCall() {
		return first.Text, nil
	}

	call := *first.ToolCall
	if call.Name != inventoryToolName {
		logger.Warn("model requested an unknown tool", "tool", call.Name)
		return first.Text, nil
	}
	size, err := parseSizeArgument(call.Arguments)
	if err != nil {
		degrade(logger, ErrorToolArgumentParse, "failed to parse tool arguments", err, "arguments", call.Arguments)
		return first.Text, nil
	}

	result := s.inventory.Resolve(ctx, size, customerID)
	logger.Info("inventory resolved",
		"size", size,
		"found", result.Found(),
		"usedAlternative", result.UsedAlternative,
		"alternativeSize", result.AlternativeSize,
	)

	followUp := append(append([]domain.ChatMessage(nil), messages...),
		domain.ChatMessage{Role: domain.ChatRoleAssistant, Content: first.Text, ToolCall: &call},
		domain.ChatMessage{Role: domain.ChatRoleTool, Content: result.Format(), ToolCall: &call},
	)
	// The follow-up must produce text, so no tools are offered.
	second, err := s.complete(ctx, followUp, false)
	if err != nil {
		return "", err
	}
	if second.IsToolCall() {
		if toolmarker.Strip(second.Text) == "" {
			logger.Warn("model requested another tool call, sending inventory result", "tool", second.ToolCall.Name)
			return result.Format(), nil
		}
		logger.Warn("model requested another tool call, using its text", "tool", second.ToolCall.Name)
	}
	return second.Text, nil
}

func (s *ReplyService) complete(ctx context.Context, messages []domain.ChatMessage, declareTools bool) (domain.Completion, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.opts.LLMTimeout)
	defer cancel()

	req := domain.CompletionRequest{Messages: messages}
	if declareTools {
		req.Tools = []domain.ToolSpec{inventoryTool}
	}
	completion, err := s.llm.Complete(callCtx, req)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return domain.Completion{}, newError(ErrorProviderTimeout, "llm_timeout", err)
		}
		return domain.Completion{}, providerError("llm_error", err)
	}
	return completion, nil
}

func (s *ReplyService) persist(ctx context.Context, logger *slog.Logger, msg domain.Message) {
	if _, err := s.store.AppendMessage(ctx, msg); err != nil {
		degrade(logger, ErrorStore, "failed to persist message", err, "role", string(msg.Role))
	}
}

func degrade(logger *slog.Logger, code ErrorCode, msg string, err error, attrs ...any) {
	args := []any{"code", string(code), "err", err}
	if status, ok := upstreamStatusCode(err); ok {
		args = append(args, "upstreamStatus", status)
	}
	logger.Warn(msg, append(args, attrs...)...)
}

func errorCode(err error) ErrorCode {
	if code, ok := CodeOf(err); ok {
		return code
	}
	return ErrorInternal
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func newUUID() string {
	return uuid.NewString()
}
