// Package bus is the in-process event feed. Components emit events as they
// record messages or change team data; the HTTP layer replays the recent
// history for dashboards that poll.
package bus

import (
	"log/slog"
	"strconv"
	"sync"
	"time"
)

// Event is one entry in the feed.
type Event struct {
	Seq       uint64         `json:"seq"`
	Type      string         `json:"type"`
	Source    string         `json:"source"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// EventHandler is a callback for events.
type EventHandler func(Event)

// EventBus is a topic-based publish/subscribe bus with a bounded history.
type EventBus struct {
	handlers   map[string][]namedHandler
	mu         sync.RWMutex
	logger     *slog.Logger
	history    []Event
	maxHistory int
	seq        uint64
	nextID     int
}

type namedHandler struct {
	ID      string
	Handler EventHandler
}

// NewEventBus keeps up to maxHistory events for replay (1000 when <= 0).
func NewEventBus(maxHistory int, logger *slog.Logger) *EventBus {
	if maxHistory <= 0 {
		maxHistory = 1000
	}
	return &EventBus{
		handlers:   make(map[string][]namedHandler),
		logger:     logger,
		maxHistory: maxHistory,
	}
}

// On registers a handler for eventType; "*" receives every event. The
// returned id is used with Off.
func (eb *EventBus) On(eventType string, handler EventHandler) string {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.nextID++
	id := eventType + "-" + strconv.Itoa(eb.nextID)
	eb.handlers[eventType] = append(eb.handlers[eventType], namedHandler{ID: id, Handler: handler})
	return id
}

// Off removes a handler by its ID.
func (eb *EventBus) Off(eventType, handlerID string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	handlers := eb.handlers[eventType]
	for i, h := range handlers {
		if h.ID == handlerID {
			eb.handlers[eventType] = append(handlers[:i:i], handlers[i+1:]...)
			return
		}
	}
}

// Emit stamps, records and dispatches the event synchronously. A panicking
// handler is logged and does not stop the others.
func (eb *EventBus) Emit(event Event) Event {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	eb.mu.Lock()
	eb.seq++
	event.Seq = eb.seq
	if len(eb.history) >= eb.maxHistory {
		eb.history = append(eb.history[:0:0], eb.history[1:]...)
	}
	eb.history = append(eb.history, event)
	handlers := make([]namedHandler, 0, len(eb.handlers[event.Type])+len(eb.handlers["*"]))
	handlers = append(handlers, eb.handlers[event.Type]...)
	handlers = append(handlers, eb.handlers["*"]...)
	eb.mu.Unlock()

	for _, nh := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					eb.logger.Error("event handler panic", "event", event.Type, "handler", nh.ID, "panic", r)
				}
			}()
			nh.Handler(event)
		}()
	}
	return event
}

// Publish is Emit with the fields spelled out.
func (eb *EventBus) Publish(eventType, source string, payload map[string]any) Event {
	return eb.Emit(Event{Type: eventType, Source: source, Payload: payload})
}

// Replay returns history entries of eventType ("*" or "" for all) with a
// sequence number above afterSeq and a timestamp not before since, oldest
// first, capped at limit when limit > 0.
func (eb *EventBus) Replay(eventType string, since time.Time, afterSeq uint64, limit int) []Event {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	result := []Event{}
	for _, e := range eb.history {
		if e.Seq <= afterSeq || e.Timestamp.Before(since) {
			continue
		}
		if eventType != "" && eventType != "*" && e.Type != eventType {
			continue
		}
		result = append(result, e)
	}
	if limit > 0 && len(result) > limit {
		result = result[len(result)-limit:]
	}
	return result
}

// Event types emitted by the service.
const (
	EventMessageRecorded   = "message.recorded"
	EventMessageDuplicate  = "message.duplicate"
	EventMessageStatus     = "message.status"
	EventMessageSent       = "message.sent"
	EventRoutingDegraded   = "routing.degraded"
	EventConversationState = "conversation.state"
	EventLeaveCreated      = "leave.created"
	EventEscalationCreated = "escalation.created"
	EventSchedulesImported = "schedules.imported"
)
