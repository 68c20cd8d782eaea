package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"

	"callcenter/internal/domain"
	"callcenter/internal/ingest"
	"callcenter/internal/metrics"
	"callcenter/internal/security"
)

const webhookMaxBodySize = 1 << 20 // 1MB

// Meta webhook object types.
const (
	ObjectWhatsApp = "whatsapp_business_account"
	ObjectPage     = "page"
)

type inboundHandler interface {
	Handle(ctx context.Context, events []domain.PlatformEvent) (ingest.Summary, error)
}

// WebhookConfig configures the Meta webhook endpoint.
type WebhookConfig struct {
	VerifyToken string
	AppSecret   string // HMAC secret for X-Hub-Signature-256; empty disables the check
	Inbound     inboundHandler
	Logger      *slog.Logger
}

// Webhook receives WhatsApp and Messenger deliveries from Meta.
type Webhook struct {
	verifyToken string
	appSecret   string
	inbound     inboundHandler
	logger      *slog.Logger
}

// WebhookPayload is the outer envelope shared by both platforms.
type WebhookPayload struct {
	Object string            `json:"object"`
	Entry  []json.RawMessage `json:"entry"`
}

func NewWebhook(cfg WebhookConfig) *Webhook {
	return &Webhook{
		verifyToken: cfg.VerifyToken,
		appSecret:   cfg.AppSecret,
		inbound:     cfg.Inbound,
		logger:      cfg.Logger,
	}
}

// Verify answers Meta's subscription challenge.
func (w *Webhook) Verify(rw http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	token := q.Get("hub.verify_token")
	challenge := q.Get("hub.challenge")

	if token == "" || challenge == "" {
		w.logger.Warn("missing verification parameters")
		writeError(rw, http.StatusBadRequest, "missing verification parameters")
		return
	}
	if (mode != "" && mode != "subscribe") || w.verifyToken == "" || token != w.verifyToken {
		w.logger.Warn("webhook verification failed", "mode", mode)
		writeError(rw, http.StatusForbidden, "verification failed")
		return
	}

	w.logger.Info("webhook verified")
	rw.Header().Set("Content-Type", "text/plain; charset=utf-8")
	rw.WriteHeader(http.StatusOK)
	fmt.Fprint(rw, html.EscapeString(challenge))
}

// Receive parses a delivery and records every event in it. Storage failures
// answer 500 so Meta redelivers; recording is idempotent per message id.
func (w *Webhook) Receive(rw http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, webhookMaxBodySize+1))
	if err != nil {
		writeError(rw, http.StatusBadRequest, "bad request")
		return
	}
	defer r.Body.Close()
	if len(body) > webhookMaxBodySize {
		metrics.WebhookRequests("", "rejected").Inc()
		writeError(rw, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	if w.appSecret != "" {
		sig := r.Header.Get("X-Hub-Signature-256")
		if sig == "" {
			metrics.WebhookRequests("", "rejected").Inc()
			writeError(rw, http.StatusUnauthorized, "missing signature")
			return
		}
		if !security.VerifySignature(body, w.appSecret, sig) {
			w.logger.Warn("webhook invalid signature")
			metrics.WebhookRequests("", "rejected").Inc()
			writeError(rw, http.StatusForbidden, "invalid signature")
			return
		}
	}

	var envelope WebhookPayload
	if len(body) == 0 || json.Unmarshal(body, &envelope) != nil {
		metrics.WebhookRequests("", "rejected").Inc()
		writeError(rw, http.StatusBadRequest, "empty or invalid payload")
		return
	}
	w.logger.Info("webhook received", "object", envelope.Object, "entries", len(envelope.Entry))

	var events []domain.PlatformEvent
	switch envelope.Object {
	case ObjectWhatsApp:
		events, err = ParseWhatsApp(body)
	case ObjectPage:
		events, err = ParseFacebook(body)
	default:
		w.logger.Warn("unknown webhook object type", "object", envelope.Object)
		metrics.WebhookRequests(envelope.Object, "rejected").Inc()
		writeError(rw, http.StatusBadRequest, "unknown object type: "+envelope.Object)
		return
	}
	if err != nil {
		metrics.WebhookRequests(envelope.Object, "rejected").Inc()
		writeError(rw, http.StatusBadRequest, err.Error())
		return
	}

	sum, err := w.inbound.Handle(r.Context(), events)
	if err != nil {
		w.logger.Error("webhook processing failed", "object", envelope.Object, "err", err)
		metrics.WebhookRequests(envelope.Object, "error").Inc()
		writeError(rw, http.StatusInternalServerError, "internal server error")
		return
	}
	metrics.WebhookRequests(envelope.Object, "ok").Inc()

	writeJSON(rw, http.StatusOK, map[string]any{
		"status":     "ok",
		"recorded":   sum.Recorded,
		"duplicates": sum.Duplicates,
		"skipped":    sum.Skipped,
	})
}
