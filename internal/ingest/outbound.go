package ingest

import (
	"context"
	"log/slog"
	"strings"

	"callcenter/internal/domain"
	"callcenter/internal/initials"
	"callcenter/internal/metrics"
	"callcenter/internal/security"
)

// Sender delivers a text message through a platform API and returns the
// platform's message id. Failures are *domain.UpstreamError.
type Sender interface {
	Platform() domain.Platform
	// Provider names the API in recorded extra_data.
	Provider() string
	Send(ctx context.Context, to, text string) (string, error)
}

// SendRequest is an agent reply.
type SendRequest struct {
	Agent    string          `json:"agent"`
	To       string          `json:"to"`
	Text     string          `json:"text"`
	Platform domain.Platform `json:"platform,omitempty"`
}

// Outbound sends agent replies and records them as outgoing messages, which
// makes the replying agent the conversation owner.
type Outbound struct {
	senders  map[domain.Platform]Sender
	recorder *Recorder
	logger   *slog.Logger
}

func NewOutbound(recorder *Recorder, logger *slog.Logger, senders ...Sender) *Outbound {
	o := &Outbound{senders: make(map[domain.Platform]Sender), recorder: recorder, logger: logger}
	for _, s := range senders {
		if s != nil {
			o.senders[s.Platform()] = s
		}
	}
	return o
}

// Send strips any ^XX initials token from the text, delivers the rest and
// records it. Nothing is recorded when delivery fails.
func (o *Outbound) Send(ctx context.Context, req SendRequest) (*Result, error) {
	agent := security.Sanitize(req.Agent)
	to := security.Sanitize(req.To)
	if agent == "" || to == "" || strings.TrimSpace(req.Text) == "" {
		return nil, domain.Invalid("", "agent, to, and text are required")
	}

	platform := domain.PlatformWhatsApp
	if req.Platform != "" {
		p, ok := domain.ParsePlatform(string(req.Platform))
		if !ok {
			return nil, domain.Invalid("platform", "must be WhatsApp or Facebook")
		}
		platform = p
	}
	if platform == domain.PlatformWhatsApp && !security.ValidPhone(to) {
		return nil, domain.Invalid("to", "invalid phone number format (E.164)")
	}

	text, ini := initials.Extract(req.Text)
	if text == "" {
		return nil, domain.Invalid("text", "is empty once initials are removed")
	}

	sender, ok := o.senders[platform]
	if !ok {
		return nil, domain.Invalid("platform", string(platform)+" sending is not configured")
	}

	msgID, err := sender.Send(ctx, to, text)
	if err != nil {
		metrics.OutboundSends(string(platform), "error").Inc()
		o.logger.Error("send failed", "platform", platform, "to", to, "err", err)
		return nil, err
	}
	metrics.OutboundSends(string(platform), "ok").Inc()

	extra := map[string]any{"provider": sender.Provider()}
	if ini != "" {
		extra["agent_initials"] = ini
	}
	return o.recorder.Record(ctx, domain.MessageEvent{
		Agent:             agent,
		Platform:          platform,
		Recipient:         to,
		Content:           security.Sanitize(text),
		MessageType:       domain.TypeText,
		PlatformMessageID: msgID,
		Incoming:          false,
		Status:            domain.StatusSent,
		ExtraData:         extra,
	})
}
