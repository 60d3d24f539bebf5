package domain

import "time"

// Role identifies who spoke a persisted message.
type Role string

const (
	RoleCustomer  Role = "customer"
	RoleAssistant Role = "assistant"
)

// ConversationStatus is the lifecycle state of a conversation.
type ConversationStatus string

const (
	ConversationActive ConversationStatus = "active"
	ConversationClosed ConversationStatus = "closed"
)

// Customer is a tenant tire shop bound to one Messenger page.
type Customer struct {
	ID       string
	PageID   string
	Name     string
	Address  string
	Hours    string
	Services []string
}

// ChannelUser binds a platform sender id to a customer.
type ChannelUser struct {
	ID         string
	SenderID   string
	CustomerID string
	CreatedAt  time.Time
}

// Conversation is a dialogue session between one sender and one customer.
type Conversation struct {
	ID           string
	SenderID     string
	CustomerID   string
	Status       ConversationStatus
	LastActivity time.Time
}

// Message is a single persisted conversation turn.
type Message struct {
	ID             string
	ConversationID string
	CustomerID     string
	SenderID       string
	Body           string
	Role           Role
	CreatedAt      time.Time
}

// HistoryEntry is the replayable part of a message.
type HistoryEntry struct {
	Role Role
	Body string
}
