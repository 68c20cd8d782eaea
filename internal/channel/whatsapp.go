package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"callcenter/internal/domain"
)

// DefaultGraphAPIBase is the Meta Graph API root used for outbound sends.
const DefaultGraphAPIBase = "https://graph.facebook.com/v18.0"

// ParseWhatsApp turns a whatsapp_business_account envelope into platform
// events: one per message and one per status receipt.
func ParseWhatsApp(body []byte) ([]domain.PlatformEvent, error) {
	var payload waPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, domain.Invalid("body", "invalid JSON")
	}
	if len(payload.Entry) == 0 {
		return nil, domain.Invalid("entry", "invalid WhatsApp payload structure")
	}

	var events []domain.PlatformEvent
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			v := change.Value
			for _, m := range v.Messages {
				ev := domain.WhatsAppMessage{
					ID:                 m.ID,
					From:               m.From,
					Type:               m.Type,
					PhoneNumberID:      v.Metadata.PhoneNumberID,
					DisplayPhoneNumber: v.Metadata.DisplayPhoneNumber,
					Timestamp:          unixSeconds(m.Timestamp),
				}
				switch {
				case m.Text != nil:
					ev.Body = m.Text.Body
				case m.Image != nil:
					ev.MediaID = m.Image.ID
				case m.Document != nil:
					ev.Filename = m.Document.Filename
				}
				events = append(events, ev)
			}
			for _, st := range v.Statuses {
				events = append(events, domain.DeliveryStatus{
					Platform:          domain.PlatformWhatsApp,
					PlatformMessageID: st.ID,
					Recipient:         st.RecipientID,
					Status:            st.Status,
					Timestamp:         unixSeconds(st.Timestamp),
				})
			}
		}
	}
	return events, nil
}

// unixSeconds parses WhatsApp's string epoch seconds. Zero means "now" to
// the recorder.
func unixSeconds(s string) time.Time {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n <= 0 {
		return time.Time{}
	}
	return time.Unix(n, 0).UTC()
}

// --- Cloud API sender ---

// WhatsAppSenderConfig configures the Cloud API client.
type WhatsAppSenderConfig struct {
	APIBase       string
	PhoneNumberID string
	AccessToken   string
	Client        *http.Client
	Logger        *slog.Logger
}

// WhatsAppSender sends text messages through the WhatsApp Cloud API.
type WhatsAppSender struct {
	cfg    WhatsAppSenderConfig
	client *http.Client
	logger *slog.Logger
}

func NewWhatsAppSender(cfg WhatsAppSenderConfig) *WhatsAppSender {
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
	return &WhatsAppSender{cfg: cfg, client: client, logger: logger}
}

func (w *WhatsAppSender) Platform() domain.Platform { return domain.PlatformWhatsApp }
func (w *WhatsAppSender) Provider() string          { return "cloud_api" }

// Send posts a text message and returns the wamid Meta assigned to it.
func (w *WhatsAppSender) Send(ctx context.Context, to, text string) (string, error) {
	url := fmt.Sprintf("%s/%s/messages", strings.TrimRight(w.cfg.APIBase, "/"), w.cfg.PhoneNumberID)
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                strings.TrimPrefix(to, "+"),
		"type":              "text",
		"text":              map[string]string{"body": text},
	}

	var out struct {
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
	}
	if err := postGraph(ctx, w.client, domain.PlatformWhatsApp, url, w.cfg.AccessToken, payload, &out); err != nil {
		w.logger.Warn("whatsapp send failed", "to", to, "err", err)
		return "", err
	}
	w.logger.Debug("whatsapp message sent", "to", to, "messages", len(out.Messages))
	if len(out.Messages) == 0 {
		return "", nil
	}
	return out.Messages[0].ID, nil
}

// postGraph sends a JSON body to a Graph API endpoint. Any transport failure
// or non-2xx answer is a *domain.UpstreamError.
func postGraph(ctx context.Context, client *http.Client, platform domain.Platform, url, bearer string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := client.Do(req)
	if err != nil {
		return &domain.UpstreamError{Platform: platform, Err: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode >= 400 {
		return &domain.UpstreamError{
			Platform: platform,
			Status:   resp.StatusCode,
			Err:      errors.New(strings.TrimSpace(string(respBody))),
		}
	}
	if out != nil && len(respBody) > 0 {
		// An unreadable success body still means the message went out.
		_ = json.Unmarshal(respBody, out)
	}
	return nil
}

// --- WhatsApp webhook payload types ---

type waPayload struct {
	Object string    `json:"object"`
	Entry  []waEntry `json:"entry"`
}

type waEntry struct {
	ID      string     `json:"id"`
	Changes []waChange `json:"changes"`
}

type waChange struct {
	Value waValue `json:"value"`
	Field string  `json:"field"`
}

type waValue struct {
	MessagingProduct string      `json:"messaging_product"`
	Metadata         waMetadata  `json:"metadata"`
	Messages         []waMessage `json:"messages"`
	Statuses         []waStatus  `json:"statuses"`
}

type waMetadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type waMessage struct {
	From      string      `json:"from"`
	ID        string      `json:"id"`
	Timestamp string      `json:"timestamp"`
	Type      string      `json:"type"`
	Text      *waText     `json:"text,omitempty"`
	Image     *waMedia    `json:"image,omitempty"`
	Document  *waDocument `json:"document,omitempty"`
}

type waText struct {
	Body string `json:"body"`
}

type waMedia struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
}

type waDocument struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
}

type waStatus struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	RecipientID string `json:"recipient_id"`
}
