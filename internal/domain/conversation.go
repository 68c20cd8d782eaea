package domain

import (
	"context"
	"strings"
	"time"
)

// ConversationKey identifies a conversation. The same contact on two
// platforms is two conversations.
type ConversationKey struct {
	Recipient string
	Platform  Platform
}

func (k ConversationKey) String() string {
	return string(k.Platform) + "|" + k.Recipient
}

// Canonical is the form conversations are stored and looked up under: the
// recipient trimmed and capped at MaxRecipientLen characters. WhatsApp
// webhooks report senders without the leading "+", so it is dropped there.
func (k ConversationKey) Canonical() ConversationKey {
	r := strings.TrimSpace(k.Recipient)
	if k.Platform == PlatformWhatsApp {
		r = strings.TrimSpace(strings.TrimPrefix(r, "+"))
	}
	n := 0
	for i := range r {
		if n == MaxRecipientLen {
			r = r[:i]
			break
		}
		n++
	}
	k.Recipient = r
	return k
}

// Conversation is the per-(recipient, platform) aggregate.
type Conversation struct {
	ID            int64     `json:"id"`
	Recipient     string    `json:"recipient"`
	Platform      Platform  `json:"platform"`
	Agent         string    `json:"agent,omitempty"`
	LastMessageAt time.Time `json:"last_message_at"`
	MessageCount  int64     `json:"message_count"`
	Active        bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Key returns the conversation's identity.
func (c Conversation) Key() ConversationKey {
	return ConversationKey{Recipient: c.Recipient, Platform: c.Platform}
}

// ConversationReader is the read side of the conversation aggregate.
type ConversationReader interface {
	// GetConversation returns nil, nil when the conversation does not exist.
	GetConversation(ctx context.Context, key ConversationKey) (*Conversation, error)
	ListActiveConversations(ctx context.Context, limit, offset int) ([]Conversation, error)
	AgentLoad(ctx context.Context, agent string) (owned int64, lastActivity time.Time, err error)
}

// Availability summarizes an agent's current workload.
type Availability struct {
	Agent              string     `json:"agent"`
	OwnedConversations int64      `json:"owned_conversations"`
	LastActivity       *time.Time `json:"last_activity,omitempty"`
	OnLeave            bool       `json:"on_leave"`
	OnShift            bool       `json:"on_shift"`
}
