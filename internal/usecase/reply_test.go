package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"tire-assistant/internal/domain"
	"tire-assistant/internal/inventory"
	"tire-assistant/internal/repository"
	"tire-assistant/internal/toolmarker"
)

func TestNewReplyServiceValidatesDependencies(t *testing.T) {
	store := repository.NewMemory()
	llm := &fakeLLM{}
	resolver := inventory.NewResolver(store)
	deliverer := &fakeDeliverer{}

	_, err := NewReplyService(nil, llm, resolver, deliverer, Options{})
	require.Error(t, err)
	_, err = NewReplyService(store, nil, resolver, deliverer, Options{})
	require.Error(t, err)
	_, err = NewReplyService(store, llm, nil, deliverer, Options{})
	require.Error(t, err)
	_, err = NewReplyService(store, llm, resolver, nil, Options{})
	require.Error(t, err)

	svc, err := NewReplyService(store, llm, resolver, deliverer, Options{})
	require.NoError(t, err)
	require.Equal(t, defaultHistoryLimit, svc.opts.HistoryLimit)
	require.Equal(t, defaultPersona, svc.opts.Persona)
}

func TestHandleMessageRejectsMalformedInput(t *testing.T) {
	svc, _, llm, _ := newTestService(t, Options{})

	for _, in := range []InboundMessage{
		{RecipientID: "P1", Text: "hola"},
		{SenderID: "U1", Text: "hola"},
		{SenderID: "U1", RecipientID: "P1", Text: "   "},
	} {
		_, err := svc.HandleMessage(context.Background(), in)
		code, ok := CodeOf(err)
		require.True(t, ok)
		require.Equal(t, ErrorMalformedPayload, code)
	}
	require.Empty(t, llm.requests())
}

func TestHandleMessagePlainTextReply(t *testing.T) {
	svc, store, llm, deliverer := newTestService(t, Options{})
	llm.script(domain.Completion{Text: "¡Hola! ¿Qué medida buscas?"})

	reply, err := svc.HandleMessage(context.Background(), inbound("hola"))
	require.NoError(t, err)
	require.Equal(t, OutcomeReplied, reply.Outcome)
	require.Equal(t, "¡Hola! ¿Qué medida buscas?", reply.Text)
	require.Equal(t, []sent{{recipient: "U1", text: "¡Hola! ¿Qué medida buscas?"}}, deliverer.all())

	reqs := llm.requests()
	require.Len(t, reqs, 1)
	msgs := reqs[0].Messages
	require.Len(t, msgs, 3)
	require.Equal(t, domain.ChatRoleSystem, msgs[0].Role)
	require.Equal(t, defaultPersona, msgs[0].Content)
	require.Equal(t, domain.ChatRoleSystem, msgs[1].Role)
	require.Contains(t, msgs[1].Content, "Llantera Centro")
	require.Equal(t, domain.ChatMessage{Role: domain.ChatRoleUser, Content: "hola"}, msgs[2])
	require.Empty(t, reqs[0].Tools)

	stored := store.Messages(reply.ConversationID)
	require.Len(t, stored, 2)
	require.Equal(t, domain.RoleCustomer, stored[0].Role)
	require.Equal(t, "hola", stored[0].Body)
	require.Equal(t, domain.RoleAssistant, stored[1].Role)
	require.Equal(t, "¡Hola! ¿Qué medida buscas?", stored[1].Body)
	require.True(t, stored[0].CreatedAt.Before(stored[1].CreatedAt))

	conv, ok := store.Conversation(reply.ConversationID)
	require.True(t, ok)
	require.Equal(t, domain.ConversationActive, conv.Status)
	require.Equal(t, "C1", conv.CustomerID)
}

func TestHandleMessageInventoryRoundTrip(t *testing.T) {
	svc, store, llm, deliverer := newTestService(t, Options{})
	resolver := countResolves(svc)
	args := `{'medida':'205/55r16'}`
	llm.script(
		domain.Completion{
			Text:     toolmarker.Format(inventoryToolName, args),
			ToolCall: &domain.ToolInvocation{Name: inventoryToolName, Arguments: args},
		},
		domain.Completion{Text: "Tenemos Michelin 205/55R16 nueva en 1850 pesos."},
	)

	reply, err := svc.HandleMessage(context.Background(), inbound("Busco 205/55 R16"))
	require.NoError(t, err)
	require.Equal(t, OutcomeReplied, reply.Outcome)
	require.Equal(t, []sent{{recipient: "U1", text: "Tenemos Michelin 205/55R16 nueva en 1850 pesos."}}, deliverer.all())
	require.Equal(t, []resolveCall{{size: "205/55R16", customerID: "C1"}}, resolver.all())

	reqs := llm.requests()
	require.Len(t, reqs, 2)
	second := reqs[1].Messages
	require.Len(t, second, len(reqs[0].Messages)+2)

	assistantTurn := second[len(second)-2]
	require.Equal(t, domain.ChatRoleAssistant, assistantTurn.Role)
	require.NotNil(t, assistantTurn.ToolCall)
	require.Equal(t, inventoryToolName, assistantTurn.ToolCall.Name)

	toolTurn := second[len(second)-1]
	require.Equal(t, domain.ChatRoleTool, toolTurn.Role)
	require.Equal(t, "• Michelin 205/55R16 – Nuevo – 1850 pesos", toolTurn.Content)
	require.NotNil(t, toolTurn.ToolCall)

	stored := store.Messages(reply.ConversationID)
	require.Len(t, stored, 2)
	require.Equal(t, "Tenemos Michelin 205/55R16 nueva en 1850 pesos.", stored[1].Body)
}

func TestHandleMessageOffersCompatibleSize(t *testing.T) {
	svc, store, llm, _ := newTestService(t, Options{})
	resolver := countResolves(svc)
	ctx := context.Background()
	require.NoError(t, store.PutCompatibility(ctx, domain.SizeCompatibility{OriginalSize: "195/65R15", AlternativeSize: "205/60R15", Priority: 2}))
	require.NoError(t, store.PutCompatibility(ctx, domain.SizeCompatibility{OriginalSize: "195/65R15", AlternativeSize: "205/55R16", Priority: 1}))

	llm.script(
		domain.Completion{ToolCall: &domain.ToolInvocation{ID: "call_1", Name: inventoryToolName, Arguments: `{"medida":"195/65R15"}`}},
		domain.Completion{Text: "No la tengo, pero la 205/55R16 le queda."},
	)

	_, err := svc.HandleMessage(ctx, inbound("tienes 195 65 15?"))
	require.NoError(t, err)
	require.Equal(t, []resolveCall{{size: "195/65R15", customerID: "C1"}}, resolver.all())

	reqs := llm.requests()
	require.Len(t, reqs, 2)
	toolTurn := reqs[1].Messages[len(reqs[1].Messages)-1]
	require.Equal(t, "No tenemos la medida 195/65R15, pero esta medida compatible también le queda a tu vehículo:\n\n• Michelin 205/55R16 – Nuevo – 1850 pesos", toolTurn.Content)
	require.Equal(t, "call_1", toolTurn.ToolCall.ID)
}

func TestHandleMessageMalformedToolArgumentsUsesFirstReply(t *testing.T) {
	svc, _, llm, deliverer := newTestService(t, Options{})
	resolver := countResolves(svc)
	llm.script(domain.Completion{
		Text:     "Déjame revisar " + toolmarker.Format(inventoryToolName, "{medida: 205}"),
		ToolCall: &domain.ToolInvocation{Name: inventoryToolName, Arguments: "{medida: 205}"},
	})

	reply, err := svc.HandleMessage(context.Background(), inbound("una 205"))
	require.NoError(t, err)
	require.Equal(t, OutcomeReplied, reply.Outcome)
	require.Len(t, llm.requests(), 1)
	require.Empty(t, resolver.all())
	require.Equal(t, []sent{{recipient: "U1", text: "Déjame revisar"}}, deliverer.all())
}

func TestHandleMessageDropsEmptyReply(t *testing.T) {
	svc, store, llm, deliverer := newTestService(t, Options{})
	marker := toolmarker.Format(inventoryToolName, `{"medida":"205/55R16"}`)
	llm.script(
		domain.Completion{Text: marker, ToolCall: &domain.ToolInvocation{Name: inventoryToolName, Arguments: `{"medida":"205/55R16"}`}},
		domain.Completion{Text: "  " + marker + "  "},
	)

	reply, err := svc.HandleMessage(context.Background(), inbound("205/55R16"))
	require.NoError(t, err)
	require.Equal(t, OutcomeDropped, reply.Outcome)
	require.Empty(t, deliverer.all())

	stored := store.Messages(reply.ConversationID)
	require.Len(t, stored, 1)
	require.Equal(t, domain.RoleCustomer, stored[0].Role)
}

func TestHandleMessageProviderErrorSendsApology(t *testing.T) {
	svc, store, llm, deliverer := newTestService(t, Options{})
	llm.fail(errors.New("openai: status 500"))

	reply, err := svc.HandleMessage(context.Background(), inbound("hola"))
	require.NoError(t, err)
	require.Equal(t, OutcomeApology, reply.Outcome)
	require.Equal(t, []sent{{recipient: "U1", text: apologyText}}, deliverer.all())

	stored := store.Messages(reply.ConversationID)
	require.Len(t, stored, 1)
	require.Equal(t, domain.RoleCustomer, stored[0].Role)
}

func TestHandleMessageProviderTimeoutSendsApology(t *testing.T) {
	svc, _, llm, deliverer := newTestService(t, Options{LLMTimeout: 10 * time.Millisecond})
	llm.blockUntilDone = true

	reply, err := svc.HandleMessage(context.Background(), inbound("hola"))
	require.NoError(t, err)
	require.Equal(t, OutcomeApology, reply.Outcome)
	require.Equal(t, []sent{{recipient: "U1", text: apologyText}}, deliverer.all())
}

func TestHandleMessageSecondCompletionFailureSendsApology(t *testing.T) {
	svc, _, llm, deliverer := newTestService(t, Options{})
	llm.script(domain.Completion{ToolCall: &domain.ToolInvocation{Name: inventoryToolName, Arguments: `{"medida":"205/55R16"}`}})
	llm.fail(nil, errors.New("boom"))

	reply, err := svc.HandleMessage(context.Background(), inbound("205/55R16"))
	require.NoError(t, err)
	require.Equal(t, OutcomeApology, reply.Outcome)
	require.Equal(t, []sent{{recipient: "U1", text: apologyText}}, deliverer.all())
}

func TestHandleMessageCustomerNotFound(t *testing.T) {
	svc, _, llm, deliverer := newTestService(t, Options{})

	_, err := svc.HandleMessage(context.Background(), InboundMessage{SenderID: "U1", RecipientID: "unknown", Text: "hola"})
	code, ok := CodeOf(err)
	require.True(t, ok)
	require.Equal(t, ErrorCustomerNotFound, code)
	require.ErrorIs(t, err, repository.ErrNotFound)
	require.Empty(t, llm.requests())
	require.Empty(t, deliverer.all())
}

func TestHandleMessageCustomerLookupFailureUsesFallback(t *testing.T) {
	memory := seededMemory(t)
	store := &flakyStore{MemoryClient: memory, resolveErr: errors.New("connection reset")}
	llm := &fakeLLM{}
	deliverer := &fakeDeliverer{}
	svc, err := NewReplyService(store, llm, inventory.NewResolver(memory), deliverer, Options{FallbackCustomerID: "C0000"})
	require.NoError(t, err)
	llm.script(domain.Completion{Text: "Hola"})

	reply, err := svc.HandleMessage(context.Background(), inbound("hola"))
	require.NoError(t, err)
	require.Equal(t, OutcomeReplied, reply.Outcome)

	conv, ok := memory.Conversation(reply.ConversationID)
	require.True(t, ok)
	require.Equal(t, "C0000", conv.CustomerID)
	require.Len(t, llm.requests()[0].Messages, 2)
}

func TestHandleMessageCustomerLookupFailureWithoutFallback(t *testing.T) {
	memory := seededMemory(t)
	store := &flakyStore{MemoryClient: memory, resolveErr: errors.New("connection reset")}
	svc, err := NewReplyService(store, &fakeLLM{}, inventory.NewResolver(memory), &fakeDeliverer{}, Options{})
	require.NoError(t, err)

	_, err = svc.HandleMessage(context.Background(), inbound("hola"))
	code, ok := CodeOf(err)
	require.True(t, ok)
	require.Equal(t, ErrorStore, code)
}

func TestHandleMessageContinuesWhenStoreWritesFail(t *testing.T) {
	memory := seededMemory(t)
	store := &flakyStore{
		MemoryClient: memory,
		appendErr:    errors.New("write failed"),
		historyErr:   errors.New("read failed"),
		touchErr:     errors.New("touch failed"),
	}
	llm := &fakeLLM{}
	deliverer := &fakeDeliverer{}
	svc, err := NewReplyService(store, llm, inventory.NewResolver(memory), deliverer, Options{})
	require.NoError(t, err)
	llm.script(domain.Completion{Text: "Hola, ¿en qué te ayudo?"})

	reply, err := svc.HandleMessage(context.Background(), inbound("hola"))
	require.NoError(t, err)
	require.Equal(t, OutcomeReplied, reply.Outcome)
	require.Equal(t, []sent{{recipient: "U1", text: "Hola, ¿en qué te ayudo?"}}, deliverer.all())
	require.Empty(t, memory.Messages(reply.ConversationID))
}

func TestHandleMessageContinuesWithoutConversation(t *testing.T) {
	memory := seededMemory(t)
	store := &flakyStore{MemoryClient: memory, conversationErr: errors.New("unavailable")}
	llm := &fakeLLM{}
	deliverer := &fakeDeliverer{}
	svc, err := NewReplyService(store, llm, inventory.NewResolver(memory), deliverer, Options{})
	require.NoError(t, err)
	llm.script(domain.Completion{Text: "Hola"})

	reply, err := svc.HandleMessage(context.Background(), inbound("hola"))
	require.NoError(t, err)
	require.Equal(t, OutcomeReplied, reply.Outcome)
	require.Empty(t, reply.ConversationID)
	require.Len(t, deliverer.all(), 1)
}

func TestHandleMessageDeliveryFailureStillPersists(t *testing.T) {
	svc, store, llm, deliverer := newTestService(t, Options{})
	deliverer.err = errors.New("messenger: status 400")
	llm.script(domain.Completion{Text: "Hola"})

	reply, err := svc.HandleMessage(context.Background(), inbound("hola"))
	require.NoError(t, err)
	require.Equal(t, OutcomeReplied, reply.Outcome)
	require.Len(t, store.Messages(reply.ConversationID), 2)
}

func TestHandleMessageIncludesRecentHistory(t *testing.T) {
	svc, _, llm, _ := newTestService(t, Options{HistoryLimit: 2})
	llm.script(
		domain.Completion{Text: "r1"},
		domain.Completion{Text: "r2"},
		domain.Completion{Text: "r3"},
	)
	ctx := context.Background()

	_, err := svc.HandleMessage(ctx, inbound("m1"))
	require.NoError(t, err)
	_, err = svc.HandleMessage(ctx, inbound("m2"))
	require.NoError(t, err)
	_, err = svc.HandleMessage(ctx, inbound("m3"))
	require.NoError(t, err)

	reqs := llm.requests()
	require.Len(t, reqs, 3)

	second := reqs[1].Messages[2:]
	require.Equal(t, []domain.ChatMessage{
		{Role: domain.ChatRoleUser, Content: "m1"},
		{Role: domain.ChatRoleAssistant, Content: "r1"},
		{Role: domain.ChatRoleUser, Content: "m2"},
	}, second)

	third := reqs[2].Messages[2:]
	require.Equal(t, []domain.ChatMessage{
		{Role: domain.ChatRoleUser, Content: "m2"},
		{Role: domain.ChatRoleAssistant, Content: "r2"},
		{Role: domain.ChatRoleUser, Content: "m3"},
	}, third)
}

func TestHandleMessageEndSentinel(t *testing.T) {
	t.Run("passes through by default", func(t *testing.T) {
		svc, _, llm, deliverer := newTestService(t, Options{})
		llm.script(domain.Completion{Text: EndSentinel})

		reply, err := svc.HandleMessage(context.Background(), inbound("eres un inútil"))
		require.NoError(t, err)
		require.Equal(t, OutcomeReplied, reply.Outcome)
		require.Equal(t, []sent{{recipient: "U1", text: EndSentinel}}, deliverer.all())
	})

	t.Run("closes conversation when enabled", func(t *testing.T) {
		svc, store, llm, deliverer := newTestService(t, Options{CloseOnEndSentinel: true})
		llm.script(domain.Completion{Text: EndSentinel})

		reply, err := svc.HandleMessage(context.Background(), inbound("eres un inútil"))
		require.NoError(t, err)
		require.Equal(t, OutcomeClosed, reply.Outcome)
		require.Empty(t, deliverer.all())

		conv, ok := store.Conversation(reply.ConversationID)
		require.True(t, ok)
		require.Equal(t, domain.ConversationClosed, conv.Status)
	})
}

func TestHandleMessageModerationFlaggedClosesConversation(t *testing.T) {
	moderator := &fakeModerator{flagged: true}
	svc, store, llm, deliverer := newTestService(t, Options{CloseOnEndSentinel: true, Moderator: moderator})

	reply, err := svc.HandleMessage(context.Background(), inbound("insulto"))
	require.NoError(t, err)
	require.Equal(t, OutcomeClosed, reply.Outcome)
	require.Empty(t, llm.requests())
	require.Empty(t, deliverer.all())
	require.Equal(t, []string{"insulto"}, moderator.inputs)

	conv, ok := store.Conversation(reply.ConversationID)
	require.True(t, ok)
	require.Equal(t, domain.ConversationClosed, conv.Status)
}

func TestHandleMessageModerationErrorContinues(t *testing.T) {
	svc, _, llm, deliverer := newTestService(t, Options{Moderator: &fakeModerator{err: errors.New("down")}})
	llm.script(domain.Completion{Text: "Hola"})

	reply, err := svc.HandleMessage(context.Background(), inbound("hola"))
	require.NoError(t, err)
	require.Equal(t, OutcomeReplied, reply.Outcome)
	require.Len(t, deliverer.all(), 1)
}

func TestHandleMessageDeclaresToolsWhenConfigured(t *testing.T) {
	svc, _, llm, _ := newTestService(t, Options{DeclareTools: true})
	llm.script(domain.Completion{Text: "Hola"})

	_, err := svc.HandleMessage(context.Background(), inbound("hola"))
	require.NoError(t, err)
	reqs := llm.requests()
	require.Len(t, reqs, 1)
	require.Equal(t, []domain.ToolSpec{inventoryTool}, reqs[0].Tools)
}

func TestHandleMessageFollowUpOmitsTools(t *testing.T) {
	svc, _, llm, deliverer := newTestService(t, Options{DeclareTools: true})
	resolver := countResolves(svc)
	call := &domain.ToolInvocation{ID: "call_1", Name: inventoryToolName, Arguments: `{"medida":"205/55R16"}`}
	llm.script(
		domain.Completion{ToolCall: call},
		domain.Completion{ToolCall: call},
	)

	reply, err := svc.HandleMessage(context.Background(), inbound("205/55R16"))
	require.NoError(t, err)
	require.Equal(t, OutcomeReplied, reply.Outcome)
	require.Equal(t, "• Michelin 205/55R16 – Nuevo – 1850 pesos", reply.Text)
	require.Equal(t, []sent{{recipient: "U1", text: "• Michelin 205/55R16 – Nuevo – 1850 pesos"}}, deliverer.all())
	require.Len(t, resolver.all(), 1)

	reqs := llm.requests()
	require.Len(t, reqs, 2)
	require.Equal(t, []domain.ToolSpec{inventoryTool}, reqs[0].Tools)
	require.Empty(t, reqs[1].Tools)
}

func TestHandleMessageConversationBusy(t *testing.T) {
	svc, store, llm, _ := newTestService(t, Options{LeaseWait: time.Second})
	require.NoError(t, store.AcquireLease(context.Background(), "C1#U1", "other-turn", time.Minute))

	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return clock }
	var waits int
	svc.sleep = func(_ context.Context, d time.Duration) error {
		waits++
		clock = clock.Add(d)
		return nil
	}

	_, err := svc.HandleMessage(context.Background(), inbound("hola"))
	code, ok := CodeOf(err)
	require.True(t, ok)
	require.Equal(t, ErrorConversationBusy, code)
	require.Equal(t, 5, waits)
	require.Empty(t, llm.requests())
}

func TestHandleMessageReleasesLease(t *testing.T) {
	svc, store, llm, _ := newTestService(t, Options{})
	llm.script(domain.Completion{Text: "Hola"})

	_, err := svc.HandleMessage(context.Background(), inbound("hola"))
	require.NoError(t, err)
	require.NoError(t, store.AcquireLease(context.Background(), "C1#U1", "next-turn", time.Minute))
}

func TestHandleMessageSerializesSameSender(t *testing.T) {
	svc, store, llm, deliverer := newTestService(t, Options{})
	llm.script(domain.Completion{Text: "uno"}, domain.Completion{Text: "dos"})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, text := range []string{"a", "b"} {
		wg.Add(1)
		go func(i int, text string) {
			defer wg.Done()
			_, errs[i] = svc.HandleMessage(context.Background(), inbound(text))
		}(i, text)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	require.Len(t, deliverer.all(), 2)

	reqs := llm.requests()
	require.Len(t, reqs, 2)
	convID, err := store.ResolveOrCreateActiveConversation(context.Background(), "U1", "C1")
	require.NoError(t, err)
	require.Len(t, store.Messages(convID), 4)
}

func newTestService(t *testing.T, opts Options) (*ReplyService, *repository.MemoryClient, *fakeLLM, *fakeDeliverer) {
	t.Helper()
	store := seededMemory(t)
	llm := &fakeLLM{}
	deliverer := &fakeDeliverer{}
	svc, err := NewReplyService(store, llm, inventory.NewResolver(store), deliverer, opts)
	require.NoError(t, err)
	svc.sleep = func(ctx context.Context, _ time.Duration) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond):
			return nil
		}
	}
	return svc, store, llm, deliverer
}

type resolveCall struct {
	size       string
	customerID string
}

// countingResolver records every lookup before delegating.
type countingResolver struct {
	mu    sync.Mutex
	next  InventoryResolver
	calls []resolveCall
}

func countResolves(svc *ReplyService) *countingResolver {
	r := &countingResolver{next: svc.inventory}
	svc.inventory = r
	return r
}

func (r *countingResolver) Resolve(ctx context.Context, size, customerID string) inventory.Result {
	r.mu.Lock()
	r.calls = append(r.calls, resolveCall{size: size, customerID: customerID})
	r.mu.Unlock()
	return r.next.Resolve(ctx, size, customerID)
}

func (r *countingResolver) all() []resolveCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]resolveCall(nil), r.calls...)
}

func seededMemory(t *testing.T) *repository.MemoryClient {
	t.Helper()
	ctx := context.Background()
	store := repository.NewMemory()
	require.NoError(t, store.PutCustomer(ctx, domain.Customer{
		ID:       "C1",
		PageID:   "P1",
		Name:     "Llantera Centro",
		Address:  "Av. Juárez 100",
		Hours:    "L-S 9:00-19:00",
		Services: []string{"alineación", "balanceo"},
	}))
	require.NoError(t, store.PutInventoryItem(ctx, domain.InventoryItem{
		CustomerID: "C1",
		Brand:      "Michelin",
		Size:       "205/55R16",
		Price:      decimal.NewFromInt(1850),
		Condition:  "Nuevo",
		Available:  true,
	}))
	return store
}

func inbound(text string) InboundMessage {
	return InboundMessage{SenderID: "U1", RecipientID: "P1", Text: text, MessageID: "m-" + text}
}

type fakeLLM struct {
	mu             sync.Mutex
	responses      []domain.Completion
	errs           []error
	reqs           []domain.CompletionRequest
	blockUntilDone bool
}

func (f *fakeLLM) script(responses ...domain.Completion) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, responses...)
}

// fail queues errors for the next calls; a nil entry lets that call use the
// scripted response.
func (f *fakeLLM) fail(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = append(f.errs, errs...)
}

func (f *fakeLLM) requests() []domain.CompletionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.CompletionRequest(nil), f.reqs...)
}

func (f *fakeLLM) Complete(ctx context.Context, req domain.CompletionRequest) (domain.Completion, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	block := f.blockUntilDone
	var err error
	if len(f.errs) > 0 {
		err = f.errs[0]
		f.errs = f.errs[1:]
	}
	var resp domain.Completion
	if err == nil && len(f.responses) > 0 {
		resp = f.responses[0]
		f.responses = f.responses[1:]
	}
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return domain.Completion{}, ctx.Err()
	}
	if err != nil {
		return domain.Completion{}, err
	}
	if resp.Text == "" && resp.ToolCall == nil {
		resp.Text = "..."
	}
	return resp, nil
}

type sent struct {
	recipient string
	text      string
}

type fakeDeliverer struct {
	mu   sync.Mutex
	sent []sent
	err  error
}

func (f *fakeDeliverer) Deliver(_ context.Context, recipientID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{recipient: recipientID, text: text})
	return f.err
}

func (f *fakeDeliverer) all() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.sent...)
}

type fakeModerator struct {
	flagged bool
	err     error
	inputs  []string
}

func (f *fakeModerator) Moderate(_ context.Context, input string) (bool, error) {
	f.inputs = append(f.inputs, input)
	return f.flagged, f.err
}

type flakyStore struct {
	*repository.MemoryClient
	resolveErr      error
	conversationErr error
	appendErr       error
	historyErr      error
	touchErr        error
}

func (s *flakyStore) ResolveCustomer(ctx context.Context, pageID string) (domain.Customer, error) {
	if s.resolveErr != nil {
		return domain.Customer{}, s.resolveErr
	}
	return s.MemoryClient.ResolveCustomer(ctx, pageID)
}

func (s *flakyStore) ResolveOrCreateActiveConversation(ctx context.Context, senderID, customerID string) (string, error) {
	if s.conversationErr != nil {
		return "", s.conversationErr
	}
	return s.MemoryClient.ResolveOrCreateActiveConversation(ctx, senderID, customerID)
}

func (s *flakyStore) AppendMessage(ctx context.Context, msg domain.Message) (string, error) {
	if s.appendErr != nil {
		return "", s.appendErr
	}
	return s.MemoryClient.AppendMessage(ctx, msg)
}

func (s *flakyStore) RecentHistory(ctx context.Context, conversationID string, limit int) ([]domain.HistoryEntry, error) {
	if s.historyErr != nil {
		return nil, s.historyErr
	}
	return s.MemoryClient.RecentHistory(ctx, conversationID, limit)
}

func (s *flakyStore) TouchConversation(ctx context.Context, conversationID string) error {
	if s.touchErr != nil {
		return s.touchErr
	}
	return s.MemoryClient.TouchConversation(ctx, conversationID)
}
