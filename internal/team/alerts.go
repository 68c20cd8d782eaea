package team

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"callcenter/internal/bus"
)

const notifyTimeout = 15 * time.Second

// Notifier delivers a supervisor alert.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// SubscribeAlerts forwards escalation.created events to n. A failed alert
// is logged; the escalation already stands. The returned func unsubscribes.
func SubscribeAlerts(events *bus.EventBus, n Notifier, logger *slog.Logger) func() {
	id := events.On(bus.EventEscalationCreated, func(e bus.Event) {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := n.Notify(ctx, escalationText(e.Payload)); err != nil {
			logger.Error("escalation alert failed", "reference", e.Payload["reference"], "err", err)
		}
	})
	return func() { events.Off(bus.EventEscalationCreated, id) }
}

func escalationText(p map[string]any) string {
	field := func(k string) string {
		s, _ := p[k].(string)
		return s
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Escalation %s [%s]\n", field("reference"), strings.ToUpper(field("priority")))
	fmt.Fprintf(&sb, "Agent: %s\n", field("agent"))
	if r := field("recipient"); r != "" {
		fmt.Fprintf(&sb, "Customer: %s\n", r)
	}
	fmt.Fprintf(&sb, "Reason: %s", field("reason"))
	return sb.String()
}
