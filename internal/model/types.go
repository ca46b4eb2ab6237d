package model

// SenderKind identifies who authored a message.
type SenderKind string

const (
	SenderAgent    SenderKind = "AGENT"
	SenderCustomer SenderKind = "CUSTOMER"
	SenderSystem   SenderKind = "SYSTEM"
	SenderBot      SenderKind = "BOT"
)

// Valid reports whether k is one of the known sender kinds.
func (k SenderKind) Valid() bool {
	switch k {
	case SenderAgent, SenderCustomer, SenderSystem, SenderBot:
		return true
	}
	return false
}

// ConversationStatus is the lifecycle state of a conversation.
type ConversationStatus string

const (
	StatusOpen    ConversationStatus = "open"
	StatusPending ConversationStatus = "pending"
	StatusClosed  ConversationStatus = "closed"
)

// Valid reports whether s is a known conversation status.
func (s ConversationStatus) Valid() bool {
	switch s {
	case StatusOpen, StatusPending, StatusClosed:
		return true
	}
	return false
}

// Organization is the tenant every other row is scoped to.
type Organization struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	WidgetColor string `json:"widget_color"`
	CreatedAt   int64  `json:"created_at"`
}

// Agent is a support agent working in an organization.
type Agent struct {
	ID        string `json:"id"`
	OrgID     string `json:"org_id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	CreatedAt int64  `json:"created_at"`
}

// Customer is an end user talking to an organization through the widget.
type Customer struct {
	ID        string `json:"id"`
	OrgID     string `json:"org_id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Metadata  string `json:"metadata"`
	CreatedAt int64  `json:"created_at"`
}

// Conversation is a support thread between a customer and the organization.
type Conversation struct {
	ID            string             `json:"id"`
	OrgID         string             `json:"org_id"`
	CustomerID    string             `json:"customer_id"`
	AgentID       *string            `json:"agent_id"`
	Status        ConversationStatus `json:"status"`
	LastMessageAt int64              `json:"last_message_at"`
	CreatedAt     int64              `json:"created_at"`
}

// Message is a single entry in a conversation. CreatedAt is unix milliseconds.
type Message struct {
	ID             string     `json:"id"`
	OrgID          string     `json:"org_id"`
	ConversationID string     `json:"conversation_id"`
	SenderKind     SenderKind `json:"sender_kind"`
	AgentID        *string    `json:"agent_id"`
	CustomerID     *string    `json:"customer_id"`
	Body           string     `json:"body"`
	CreatedAt      int64      `json:"created_at"`
}

// Before reports whether m sorts before o in a conversation timeline:
// by creation time, then by identifier for messages created in the same millisecond.
func (m Message) Before(o Message) bool {
	if m.CreatedAt != o.CreatedAt {
		return m.CreatedAt < o.CreatedAt
	}
	return m.ID < o.ID
}
