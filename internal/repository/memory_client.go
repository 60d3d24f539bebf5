package repository

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"tire-assistant/internal/domain"
)

type pairKey struct {
	senderID   string
	customerID string
}

type lease struct {
	owner     string
	expiresAt time.Time
}

// MemoryClient is a process-local store used by tests and the local server.
type MemoryClient struct {
	mu            sync.Mutex
	now           func() time.Time
	customers     map[string]domain.Customer // by page id
	users         map[pairKey]domain.ChannelUser
	active        map[pairKey]string
	conversations map[string]*domain.Conversation
	messages      map[string][]domain.Message
	inventory     []domain.InventoryItem
	compat        []domain.SizeCompatibility
	leases        map[string]lease
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *MemoryClient {
	return &MemoryClient{
		now:           time.Now,
		customers:     map[string]domain.Customer{},
		users:         map[pairKey]domain.ChannelUser{},
		active:        map[pairKey]string{},
		conversations: map[string]*domain.Conversation{},
		messages:      map[string][]domain.Message{},
		leases:        map[string]lease{},
	}
}

func (m *MemoryClient) PutCustomer(_ context.Context, customer domain.Customer) error {
	if customer.ID == "" || customer.PageID == "" {
		return errors.New("repository: PutCustomer: customer id and page id are required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.customers[customer.PageID] = customer
	return nil
}

func (m *MemoryClient) ResolveCustomer(_ context.Context, pageID string) (domain.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	customer, ok := m.customers[pageID]
	if !ok {
		return domain.Customer{}, ErrNotFound
	}
	return customer, nil
}

func (m *MemoryClient) ResolveOrCreateChannelUser(_ context.Context, senderID, customerID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := pairKey{senderID: senderID, customerID: customerID}
	if u, ok := m.users[k]; ok {
		return u.ID, nil
	}
	u := domain.ChannelUser{ID: uuid.NewString(), SenderID: senderID, CustomerID: customerID, CreatedAt: m.now()}
	m.users[k] = u
	return u.ID, nil
}

func (m *MemoryClient) ResolveOrCreateActiveConversation(_ context.Context, senderID, customerID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := pairKey{senderID: senderID, customerID: customerID}
	if id, ok := m.active[k]; ok {
		return id, nil
	}
	conv := &domain.Conversation{
		ID:           uuid.NewString(),
		SenderID:     senderID,
		CustomerID:   customerID,
		Status:       domain.ConversationActive,
		LastActivity: m.now(),
	}
	m.conversations[conv.ID] = conv
	m.active[k] = conv.ID
	return conv.ID, nil
}

// AppendMessage stores msg. CreatedAt is forced to be strictly after the
// previous message of the same conversation.
func (m *MemoryClient) AppendMessage(_ context.Context, msg domain.Message) (string, error) {
	if msg.ConversationID == "" {
		return "", errors.New("repository: AppendMessage: conversation id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = m.now()
	}
	existing := m.messages[msg.ConversationID]
	if n := len(existing); n > 0 && !msg.CreatedAt.After(existing[n-1].CreatedAt) {
		msg.CreatedAt = existing[n-1].CreatedAt.Add(time.Nanosecond)
	}
	m.messages[msg.ConversationID] = append(existing, msg)
	return msg.ID, nil
}

func (m *MemoryClient) RecentHistory(_ context.Context, conversationID string, limit int) ([]domain.HistoryEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.messages[conversationID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	entries := make([]domain.HistoryEntry, 0, len(msgs))
	for _, msg := range msgs {
		entries = append(entries, domain.HistoryEntry{Role: msg.Role, Body: msg.Body})
	}
	return entries, nil
}

// Messages returns a copy of every stored message of a conversation.
func (m *MemoryClient) Messages(conversationID string) []domain.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Message(nil), m.messages[conversationID]...)
}

// Conversation returns a copy of the stored conversation.
func (m *MemoryClient) Conversation(conversationID string) (domain.Conversation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.conversations[conversationID]
	if !ok {
		return domain.Conversation{}, false
	}
	return *conv, true
}

func (m *MemoryClient) TouchConversation(_ context.Context, conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.conversations[conversationID]
	if !ok {
		return ErrNotFound
	}
	conv.LastActivity = m.now()
	return nil
}

func (m *MemoryClient) CloseConversation(_ context.Context, conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.conversations[conversationID]
	if !ok {
		return ErrNotFound
	}
	conv.Status = domain.ConversationClosed
	conv.LastActivity = m.now()
	k := pairKey{senderID: conv.SenderID, customerID: conv.CustomerID}
	if m.active[k] == conversationID {
		delete(m.active, k)
	}
	return nil
}

func (m *MemoryClient) PutInventoryItem(_ context.Context, item domain.InventoryItem) error {
	if item.CustomerID == "" || item.Size == "" {
		return errors.New("repository: PutInventoryItem: customer id and size are required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	for i := range m.inventory {
		if m.inventory[i].ID == item.ID {
			m.inventory[i] = item
			return nil
		}
	}
	m.inventory = append(m.inventory, item)
	return nil
}

func (m *MemoryClient) SearchInventory(_ context.Context, size, customerID string) ([]domain.InventoryItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.InventoryItem
	for _, item := range m.inventory {
		if item.CustomerID == customerID && item.Available && strings.EqualFold(item.Size, size) {
			out = append(out, item)
		}
	}
	return out, nil
}

func (m *MemoryClient) PutCompatibility(_ context.Context, row domain.SizeCompatibility) error {
	if row.OriginalSize == "" || row.AlternativeSize == "" {
		return errors.New("repository: PutCompatibility: sizes are required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.compat = append(m.compat, row)
	return nil
}

// CompatibleSizes orders by priority; equal priorities keep insertion order.
func (m *MemoryClient) CompatibleSizes(_ context.Context, size string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var rows []domain.SizeCompatibility
	for _, row := range m.compat {
		if strings.EqualFold(row.OriginalSize, size) {
			rows = append(rows, row)
		}
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Priority < rows[j].Priority })
	sizes := make([]string, 0, len(rows))
	for _, row := range rows {
		sizes = append(sizes, row.AlternativeSize)
	}
	return sizes, nil
}

func (m *MemoryClient) AcquireLease(_ context.Context, key, owner string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if l, ok := m.leases[key]; ok && l.owner != owner && now.Before(l.expiresAt) {
		return ErrLeaseHeld
	}
	m.leases[key] = lease{owner: owner, expiresAt: now.Add(ttl)}
	return nil
}

func (m *MemoryClient) ReleaseLease(_ context.Context, key, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.leases[key]; ok && l.owner == owner {
		delete(m.leases, key)
	}
	return nil
}
