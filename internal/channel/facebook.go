package channel

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"callcenter/internal/domain"
)

// ParseFacebook turns a page envelope into platform events. Echoes of our
// own sends are skipped; delivery receipts become status updates.
func ParseFacebook(body []byte) ([]domain.PlatformEvent, error) {
	var payload fbPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, domain.Invalid("body", "invalid JSON")
	}
	if len(payload.Entry) == 0 {
		return nil, domain.Invalid("entry", "invalid Facebook payload structure")
	}

	var events []domain.PlatformEvent
	for _, entry := range payload.Entry {
		for _, m := range entry.Messaging {
			at := unixMillis(m.Timestamp)
			switch {
			case m.Message != nil:
				if m.Message.IsEcho {
					continue
				}
				ev := domain.FacebookMessage{
					MID:         m.Message.MID,
					SenderID:    m.Sender.ID,
					RecipientID: m.Recipient.ID,
					Text:        m.Message.Text,
					Timestamp:   at,
				}
				if len(m.Message.Attachments) > 0 {
					ev.AttachmentType = m.Message.Attachments[0].Type
				}
				events = append(events, ev)

			case m.Postback != nil:
				events = append(events, domain.FacebookPostback{
					MID:         m.Postback.MID,
					SenderID:    m.Sender.ID,
					RecipientID: m.Recipient.ID,
					Title:       m.Postback.Title,
					Payload:     m.Postback.Payload,
					Timestamp:   at,
				})

			case m.Delivery != nil:
				for _, mid := range m.Delivery.MIDs {
					events = append(events, domain.DeliveryStatus{
						Platform:          domain.PlatformFacebook,
						PlatformMessageID: mid,
						Recipient:         m.Sender.ID,
						Status:            domain.StatusDelivered,
						Timestamp:         at,
					})
				}
			}
		}
	}
	return events, nil
}

func unixMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// --- Messenger Send API ---

// MessengerSenderConfig configures the Send API client.
type MessengerSenderConfig struct {
	APIBase         string
	PageAccessToken string
	Client          *http.Client
	Logger          *slog.Logger
}

// MessengerSender sends text replies through the Messenger Send API.
type MessengerSender struct {
	cfg    MessengerSenderConfig
	client *http.Client
	logger *slog.Logger
}

func NewMessengerSender(cfg MessengerSenderConfig) *MessengerSender {
	if cfg.APIBase == "" {
		cfg.APIBase = DefaultGraphAPIBase
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &MessengerSender{cfg: cfg, client: client, logger: logger}
}

func (m *MessengerSender) Platform() domain.Platform { return domain.PlatformFacebook }
func (m *MessengerSender) Provider() string          { return "messenger" }

// Send replies to a page-scoped user id and returns the message id.
func (m *MessengerSender) Send(ctx context.Context, to, text string) (string, error) {
	endpoint := strings.TrimRight(m.cfg.APIBase, "/") + "/me/messages?access_token=" + url.QueryEscape(m.cfg.PageAccessToken)
	payload := map[string]any{
		"recipient":      map[string]string{"id": to},
		"messaging_type": "RESPONSE",
		"message":        map[string]string{"text": text},
	}
	var out struct {
		MessageID string `json:"message_id"`
	}
	if err := postGraph(ctx, m.client, domain.PlatformFacebook, endpoint, "", payload, &out); err != nil {
		m.logger.Warn("messenger send failed", "to", to, "err", err)
		return "", err
	}
	m.logger.Debug("messenger message sent", "to", to, "mid", out.MessageID)
	return out.MessageID, nil
}

// --- Facebook webhook payload types ---

type fbPayload struct {
	Object string    `json:"object"`
	Entry  []fbEntry `json:"entry"`
}

type fbEntry struct {
	ID        string        `json:"id"`
	Time      int64         `json:"time"`
	Messaging []fbMessaging `json:"messaging"`
}

type fbMessaging struct {
	Sender    fbID        `json:"sender"`
	Recipient fbID        `json:"recipient"`
	Timestamp int64       `json:"timestamp"`
	Message   *fbMessage  `json:"message,omitempty"`
	Postback  *fbPostback `json:"postback,omitempty"`
	Delivery  *fbDelivery `json:"delivery,omitempty"`
}

type fbID struct {
	ID string `json:"id"`
}

type fbMessage struct {
	MID         string         `json:"mid"`
	Text        string         `json:"text"`
	IsEcho      bool           `json:"is_echo"`
	Attachments []fbAttachment `json:"attachments"`
}

type fbAttachment struct {
	Type string `json:"type"`
}

type fbPostback struct {
	MID     string `json:"mid"`
	Title   string `json:"title"`
	Payload string `json:"payload"`
}

type fbDelivery struct {
	MIDs      []string `json:"mids"`
	Watermark int64    `json:"watermark"`
}
