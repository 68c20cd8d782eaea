package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"callcenter/internal/bus"
	"callcenter/internal/conversation"
	"callcenter/internal/domain"
	"callcenter/internal/metrics"
	"callcenter/internal/security"
)

// statusUpdater applies delivery receipts.
type statusUpdater interface {
	UpdateMessageStatus(ctx context.Context, platformMessageID, status string) (bool, error)
}

// Summary counts what one webhook delivery produced.
type Summary struct {
	Recorded   int `json:"recorded"`
	Duplicates int `json:"duplicates"`
	Statuses   int `json:"statuses"`
	Skipped    int `json:"skipped"`
}

// Inbound routes parsed platform events to the recorder.
type Inbound struct {
	router   *conversation.Router
	recorder *Recorder
	statuses statusUpdater
	events   *bus.EventBus
	logger   *slog.Logger
}

func NewInbound(router *conversation.Router, recorder *Recorder, statuses statusUpdater, events *bus.EventBus, logger *slog.Logger) *Inbound {
	return &Inbound{
		router:   router,
		recorder: recorder,
		statuses: statuses,
		events:   events,
		logger:   logger,
	}
}

// Handle processes every event in order. Invalid events are logged and
// skipped; the first storage failure stops processing and is returned so the
// platform redelivers, which is safe because recording is idempotent.
func (in *Inbound) Handle(ctx context.Context, events []domain.PlatformEvent) (Summary, error) {
	var sum Summary
	for _, ev := range events {
		switch ev := ev.(type) {
		case domain.DeliveryStatus:
			if err := in.applyStatus(ctx, ev); err != nil {
				return sum, err
			}
			sum.Statuses++

		case domain.InboundMessage:
			res, err := in.record(ctx, ev)
			if domain.IsValidation(err) {
				in.logger.Warn("inbound event skipped", "key", ev.Key().String(), "err", err)
				sum.Skipped++
				continue
			}
			if err != nil {
				return sum, err
			}
			if res.Duplicate {
				sum.Duplicates++
			} else {
				sum.Recorded++
			}

		default:
			in.logger.Warn("unhandled platform event", "type", fmt.Sprintf("%T", ev))
			sum.Skipped++
		}
	}
	return sum, nil
}

func (in *Inbound) record(ctx context.Context, ev domain.InboundMessage) (*Result, error) {
	key := ev.Key().Canonical()
	agent, err := in.router.ResolveIncomingAgent(ctx, key)
	var degraded *domain.RoutingDegradedError
	if errors.As(err, &degraded) {
		in.logger.Warn("routing degraded, using default agent",
			"key", key.String(),
			"agent", agent,
			"err", degraded.Err,
		)
		if in.events != nil {
			in.events.Publish(bus.EventRoutingDegraded, "ingest", map[string]any{
				"platform":  string(key.Platform),
				"recipient": key.Recipient,
				"fallback":  agent,
			})
		}
	} else if err != nil {
		return nil, err
	}

	msg := ev.Normalize(agent)
	msg.Content = security.Sanitize(msg.Content)
	return in.recorder.Record(ctx, msg)
}

func (in *Inbound) applyStatus(ctx context.Context, st domain.DeliveryStatus) error {
	ok, err := in.statuses.UpdateMessageStatus(ctx, st.PlatformMessageID, st.Status)
	if err != nil {
		return err
	}
	if !ok {
		in.logger.Debug("status for unknown message", "message_id", st.PlatformMessageID, "status", st.Status)
		return nil
	}
	metrics.StatusUpdates.Inc()
	if in.events != nil {
		in.events.Publish(bus.EventMessageStatus, "ingest", map[string]any{
			"message_id": st.PlatformMessageID,
			"status":     st.Status,
			"platform":   string(st.Platform),
		})
	}
	return nil
}
