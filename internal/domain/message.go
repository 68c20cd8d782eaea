package domain

import (
	"context"
	"strings"
	"time"
)

// Platform identifies the messaging network a conversation lives on.
type Platform string

const (
	PlatformWhatsApp Platform = "WhatsApp"
	PlatformFacebook Platform = "Facebook"
)

// ParsePlatform accepts the canonical names case-insensitively.
func ParsePlatform(s string) (Platform, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "whatsapp":
		return PlatformWhatsApp, true
	case "facebook", "messenger":
		return PlatformFacebook, true
	}
	return "", false
}

// Message types carried in Message.MessageType. WhatsApp may deliver other
// type names (sticker, location, ...) which are stored verbatim.
const (
	TypeText       = "text"
	TypeImage      = "image"
	TypeDocument   = "document"
	TypeAudio      = "audio"
	TypeVideo      = "video"
	TypeAttachment = "attachment"
	TypePostback   = "postback"
	TypeUnknown    = "unknown"
)

// Message status values.
const (
	StatusReceived  = "received"
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
	StatusFailed    = "failed"
)

// Column limits for the messages table.
const (
	MaxAgentLen     = 100
	MaxPlatformLen  = 50
	MaxRecipientLen = 50
)

// MessageEvent is a normalized message ready to be recorded.
type MessageEvent struct {
	Agent             string
	Platform          Platform
	Recipient         string
	Content           string
	MessageType       string
	PlatformMessageID string // empty for synthetic events
	SenderID          string
	Incoming          bool
	Status            string
	ExtraData         map[string]any
	Timestamp         time.Time // zero means "now"
}

// Message is a stored message row.
type Message struct {
	ID                int64          `json:"id"`
	PlatformMessageID string         `json:"message_id,omitempty"`
	Agent             string         `json:"agent"`
	Platform          Platform       `json:"platform"`
	Recipient         string         `json:"recipient"`
	Content           string         `json:"content"`
	MessageType       string         `json:"message_type,omitempty"`
	SenderID          string         `json:"sender_id,omitempty"`
	Incoming          bool           `json:"is_incoming"`
	Status            string         `json:"status,omitempty"`
	ExtraData         map[string]any `json:"extra_data,omitempty"`
	Timestamp         time.Time      `json:"timestamp"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// Initials returns the agent initials recorded with an outgoing message, if any.
func (m Message) Initials() string {
	if m.ExtraData == nil {
		return ""
	}
	s, _ := m.ExtraData["agent_initials"].(string)
	return s
}

// MessageFilter selects messages for listing. Zero values mean "any".
type MessageFilter struct {
	Agent     string
	Platform  Platform
	Recipient string
	Incoming  *bool
	Start     time.Time // inclusive
	End       time.Time // inclusive
	Limit     int
	Offset    int
}

// MessageReader is the read side of the message log.
type MessageReader interface {
	ListMessages(ctx context.Context, f MessageFilter) ([]Message, error)
	SearchMessages(ctx context.Context, term string, agent string, platform Platform, limit int) ([]Message, error)
	AgentDayMessages(ctx context.Context, agent string, start, end time.Time) ([]Message, error)
	MessageStats(ctx context.Context, start, end time.Time) (*MessageStats, error)
	AgentPerformance(ctx context.Context, agent string, start, end time.Time) (*AgentPerformance, error)
	AgentReplies(ctx context.Context, start, end time.Time) ([]AgentReplies, error)
}
