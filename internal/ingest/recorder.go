// Package ingest records normalized message events. Recorder is the single
// write path for messages; Inbound drives it from parsed webhook events.
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"callcenter/internal/bus"
	"callcenter/internal/conversation"
	"callcenter/internal/domain"
	"callcenter/internal/metrics"
	"callcenter/internal/security"
)

var errConflictVanished = errors.New("conflicting message id not found after insert")

// beginner opens units of work.
type beginner interface {
	Begin(ctx context.Context) (domain.UnitOfWork, error)
}

// Result is the outcome of one Record call. Conversation is nil for
// duplicates, which change nothing.
type Result struct {
	Message      *domain.Message
	Conversation *domain.Conversation
	Duplicate    bool
}

// Recorder stores message events and keeps the conversation aggregate in
// step with them.
type Recorder struct {
	store  beginner
	agg    *conversation.Aggregator
	locks  conversation.Locker
	events *bus.EventBus
	logger *slog.Logger
	now    func() time.Time
}

func NewRecorder(store beginner, agg *conversation.Aggregator, locks conversation.Locker, events *bus.EventBus, logger *slog.Logger) *Recorder {
	if locks == nil {
		locks = conversation.NewKeyLock()
	}
	return &Recorder{
		store:  store,
		agg:    agg,
		locks:  locks,
		events: events,
		logger: logger,
		now:    time.Now,
	}
}

// Record validates ev and stores it. A platform message id that is already
// stored returns the existing row with Duplicate set and writes nothing.
// Otherwise the message insert and the conversation update commit together
// under the conversation's lock.
func (r *Recorder) Record(ctx context.Context, ev domain.MessageEvent) (*Result, error) {
	m, err := r.prepare(ev)
	if err != nil {
		return nil, err
	}
	key := domain.ConversationKey{Recipient: m.Recipient, Platform: m.Platform}
	start := time.Now()

	unlock, err := r.locks.Lock(ctx, key.String())
	if err != nil {
		return nil, domain.Storage("lock conversation", err)
	}
	defer unlock()
	metrics.ActiveRecords.Inc()
	defer metrics.ActiveRecords.Dec()

	res, err := r.recordLocked(ctx, key, m)
	if err != nil {
		r.logger.Error("record failed", "key", key.String(), "message_id", m.PlatformMessageID, "err", err)
		return nil, err
	}
	metrics.RecordLatency.ObserveSince(start)
	r.publish(res)
	return res, nil
}

func (r *Recorder) recordLocked(ctx context.Context, key domain.ConversationKey, m *domain.Message) (*Result, error) {
	uow, err := r.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer uow.Rollback()

	if m.PlatformMessageID != "" {
		existing, err := uow.MessageByPlatformID(ctx, m.PlatformMessageID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return &Result{Message: existing, Duplicate: true}, nil
		}
	}

	inserted, err := uow.InsertMessage(ctx, m)
	if err != nil {
		return nil, err
	}
	if !inserted {
		// Another process stored the same id between lookup and insert.
		existing, err := uow.MessageByPlatformID(ctx, m.PlatformMessageID)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, domain.Storage("insert message", errConflictVanished)
		}
		return &Result{Message: existing, Duplicate: true}, nil
	}

	c, err := r.agg.Touch(ctx, uow, key, m.Agent, m.Timestamp)
	if err != nil {
		return nil, err
	}
	if err := uow.Commit(); err != nil {
		return nil, err
	}
	return &Result{Message: m, Conversation: c}, nil
}

// prepare trims, validates and truncates ev into a row ready to insert.
func (r *Recorder) prepare(ev domain.MessageEvent) (*domain.Message, error) {
	agent := strings.TrimSpace(ev.Agent)
	recipient := strings.TrimSpace(ev.Recipient)
	content := strings.TrimSpace(ev.Content)
	switch {
	case agent == "":
		return nil, domain.Invalid("agent", "is required")
	case strings.TrimSpace(string(ev.Platform)) == "":
		return nil, domain.Invalid("platform", "is required")
	case recipient == "":
		return nil, domain.Invalid("recipient", "is required")
	case content == "":
		return nil, domain.Invalid("content", "is required")
	}
	platform, ok := domain.ParsePlatform(string(ev.Platform))
	if !ok {
		return nil, domain.Invalid("platform", "must be WhatsApp or Facebook")
	}
	key := domain.ConversationKey{Recipient: recipient, Platform: platform}.Canonical()
	if key.Recipient == "" {
		return nil, domain.Invalid("recipient", "is required")
	}

	msgType := strings.TrimSpace(ev.MessageType)
	if msgType == "" {
		msgType = domain.TypeText
	}
	status := strings.TrimSpace(ev.Status)
	if status == "" {
		status = domain.StatusSent
		if ev.Incoming {
			status = domain.StatusReceived
		}
	}
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = r.now()
	}

	return &domain.Message{
		PlatformMessageID: strings.TrimSpace(ev.PlatformMessageID),
		Agent:             security.Truncate(agent, domain.MaxAgentLen),
		Platform:          domain.Platform(security.Truncate(string(platform), domain.MaxPlatformLen)),
		Recipient:         key.Recipient,
		Content:           content,
		MessageType:       msgType,
		SenderID:          strings.TrimSpace(ev.SenderID),
		Incoming:          ev.Incoming,
		Status:            status,
		ExtraData:         ev.ExtraData,
		Timestamp:         ts.UTC(),
	}, nil
}

func (r *Recorder) publish(res *Result) {
	m := res.Message
	if res.Duplicate {
		metrics.MessagesDuplicate.Inc()
		r.logger.Info("duplicate delivery ignored", "message_id", m.PlatformMessageID, "id", m.ID)
		if r.events != nil {
			r.events.Publish(bus.EventMessageDuplicate, "ingest", map[string]any{
				"id":         m.ID,
				"message_id": m.PlatformMessageID,
				"platform":   string(m.Platform),
			})
		}
		return
	}

	direction := "outgoing"
	if m.Incoming {
		direction = "incoming"
	}
	metrics.MessagesRecorded(string(m.Platform), direction).Inc()
	r.logger.Info("message recorded",
		"id", m.ID,
		"platform", m.Platform,
		"recipient", m.Recipient,
		"agent", m.Agent,
		"direction", direction,
		"count", res.Conversation.MessageCount,
	)
	if r.events != nil {
		r.events.Publish(bus.EventMessageRecorded, "ingest", map[string]any{
			"id":            m.ID,
			"message_id":    m.PlatformMessageID,
			"platform":      string(m.Platform),
			"recipient":     m.Recipient,
			"agent":         m.Agent,
			"direction":     direction,
			"message_type":  m.MessageType,
			"message_count": res.Conversation.MessageCount,
		})
	}
}
