package domain

import (
	"fmt"
	"strings"
	"time"
)

// PlatformEvent is one item parsed out of a webhook envelope. The set of
// implementations is closed: WhatsAppMessage, FacebookMessage,
// FacebookPostback and DeliveryStatus.
type PlatformEvent interface {
	Key() ConversationKey
	platformEvent()
}

// InboundMessage is a PlatformEvent that becomes a Message row.
type InboundMessage interface {
	PlatformEvent
	// Normalize builds the event to record, attributed to agent.
	Normalize(agent string) MessageEvent
}

// WhatsAppMessage is an entry.changes.value.messages item.
type WhatsAppMessage struct {
	ID                 string
	From               string
	Type               string
	Body               string // text messages
	MediaID            string // image messages
	Filename           string // document messages
	PhoneNumberID      string
	DisplayPhoneNumber string
	Timestamp          time.Time
}

func (WhatsAppMessage) platformEvent() {}

func (m WhatsAppMessage) Key() ConversationKey {
	return ConversationKey{Recipient: m.From, Platform: PlatformWhatsApp}
}

func (m WhatsAppMessage) Normalize(agent string) MessageEvent {
	content, msgType := m.content()
	return MessageEvent{
		Agent:             agent,
		Platform:          PlatformWhatsApp,
		Recipient:         m.From,
		Content:           content,
		MessageType:       msgType,
		PlatformMessageID: m.ID,
		SenderID:          m.From,
		Incoming:          true,
		Status:            StatusReceived,
		Timestamp:         m.Timestamp,
		ExtraData: map[string]any{
			"phone_number_id":      m.PhoneNumberID,
			"display_phone_number": m.DisplayPhoneNumber,
			"message_type":         m.Type,
		},
	}
}

func (m WhatsAppMessage) content() (string, string) {
	switch m.Type {
	case TypeText:
		return m.Body, TypeText
	case TypeImage:
		return "[Image message] ID: " + m.MediaID, TypeImage
	case TypeDocument:
		name := m.Filename
		if name == "" {
			name = "Unknown"
		}
		return "[Document] " + name, TypeDocument
	case TypeAudio:
		return "[Audio message]", TypeAudio
	case TypeVideo:
		return "[Video message]", TypeVideo
	case "":
		return "[Unknown message]", TypeUnknown
	}
	return fmt.Sprintf("[%s message]", title(m.Type)), m.Type
}

// FacebookMessage is an entry.messaging item carrying a message.
type FacebookMessage struct {
	MID            string
	SenderID       string
	RecipientID    string
	Text           string
	AttachmentType string
	Timestamp      time.Time
}

func (FacebookMessage) platformEvent() {}

func (m FacebookMessage) Key() ConversationKey {
	return ConversationKey{Recipient: m.SenderID, Platform: PlatformFacebook}
}

func (m FacebookMessage) Normalize(agent string) MessageEvent {
	content, msgType := "[Unknown message type]", TypeUnknown
	switch {
	case m.Text != "":
		content, msgType = m.Text, TypeText
	case m.AttachmentType != "":
		content, msgType = "[Attachment] Type: "+m.AttachmentType, TypeAttachment
	}
	return MessageEvent{
		Agent:             agent,
		Platform:          PlatformFacebook,
		Recipient:         m.SenderID,
		Content:           content,
		MessageType:       msgType,
		PlatformMessageID: m.MID,
		SenderID:          m.SenderID,
		Incoming:          true,
		Status:            StatusReceived,
		Timestamp:         m.Timestamp,
		ExtraData: map[string]any{
			"recipient_id": m.RecipientID,
			"message_type": msgType,
		},
	}
}

// FacebookPostback is an entry.messaging item carrying a button postback.
type FacebookPostback struct {
	MID         string
	SenderID    string
	RecipientID string
	Title       string
	Payload     string
	Timestamp   time.Time
}

func (FacebookPostback) platformEvent() {}

func (p FacebookPostback) Key() ConversationKey {
	return ConversationKey{Recipient: p.SenderID, Platform: PlatformFacebook}
}

func (p FacebookPostback) Normalize(agent string) MessageEvent {
	return MessageEvent{
		Agent:             agent,
		Platform:          PlatformFacebook,
		Recipient:         p.SenderID,
		Content:           fmt.Sprintf("[Postback] %s: %s", p.Title, p.Payload),
		MessageType:       TypePostback,
		PlatformMessageID: p.MID,
		SenderID:          p.SenderID,
		Incoming:          true,
		Status:            StatusReceived,
		Timestamp:         p.Timestamp,
		ExtraData: map[string]any{
			"recipient_id":     p.RecipientID,
			"postback_title":   p.Title,
			"postback_payload": p.Payload,
		},
	}
}

// DeliveryStatus reports a status change for a message we sent.
type DeliveryStatus struct {
	Platform          Platform
	PlatformMessageID string
	Recipient         string
	Status            string
	Timestamp         time.Time
}

func (DeliveryStatus) platformEvent() {}

func (s DeliveryStatus) Key() ConversationKey {
	return ConversationKey{Recipient: s.Recipient, Platform: s.Platform}
}

func title(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}
