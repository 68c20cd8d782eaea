package bus

import (
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"
)

func testEBLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func TestEventBus_EmitAndReceive(t *testing.T) {
	eb := NewEventBus(0, testEBLogger())

	var received int32
	eb.On(EventMessageRecorded, func(e Event) {
		if e.Payload["platform"] != "WhatsApp" {
			t.Errorf("unexpected payload %v", e.Payload)
		}
		atomic.AddInt32(&received, 1)
	})

	eb.Publish(EventMessageRecorded, "ingest", map[string]any{"platform": "WhatsApp"})

	if atomic.LoadInt32(&received) != 1 {
		t.Errorf("expected 1 event received, got %d", received)
	}
}

func TestEventBus_WildcardHandler(t *testing.T) {
	eb := NewEventBus(0, testEBLogger())

	var count int32
	eb.On("*", func(e Event) { atomic.AddInt32(&count, 1) })

	eb.Emit(Event{Type: EventLeaveCreated})
	eb.Emit(Event{Type: EventEscalationCreated})

	if atomic.LoadInt32(&count) != 2 {
		t.Errorf("expected 2, got %d", count)
	}
}

func TestEventBus_Off(t *testing.T) {
	eb := NewEventBus(0, testEBLogger())

	var first, second int32
	id := eb.On("x", func(e Event) { atomic.AddInt32(&first, 1) })
	eb.On("x", func(e Event) { atomic.AddInt32(&second, 1) })

	eb.Emit(Event{Type: "x"})
	eb.Off("x", id)
	eb.Emit(Event{Type: "x"})

	if first != 1 || second != 2 {
		t.Errorf("expected first=1 second=2, got %d %d", first, second)
	}
}

func TestEventBus_HandlerIDsUniqueAfterOff(t *testing.T) {
	eb := NewEventBus(0, testEBLogger())

	a := eb.On("x", func(Event) {})
	eb.Off("x", a)
	b := eb.On("x", func(Event) {})
	c := eb.On("x", func(Event) {})
	if a == b || b == c {
		t.Errorf("handler ids collide: %s %s %s", a, b, c)
	}
}

func TestEventBus_ReplayByTypeAndSeq(t *testing.T) {
	eb := NewEventBus(0, testEBLogger())

	eb.Emit(Event{Type: EventMessageRecorded})
	second := eb.Emit(Event{Type: EventMessageDuplicate})
	eb.Emit(Event{Type: EventMessageRecorded})

	if got := eb.Replay(EventMessageRecorded, time.Time{}, 0, 0); len(got) != 2 {
		t.Errorf("expected 2 recorded events, got %d", len(got))
	}
	if got := eb.Replay("*", time.Time{}, 0, 0); len(got) != 3 {
		t.Errorf("expected 3 total events, got %d", len(got))
	}

	after := eb.Replay("", time.Time{}, second.Seq, 0)
	if len(after) != 1 || after[0].Seq != second.Seq+1 {
		t.Errorf("expected only the event after seq %d, got %+v", second.Seq, after)
	}
}

func TestEventBus_ReplaySinceAndLimit(t *testing.T) {
	eb := NewEventBus(0, testEBLogger())

	eb.Emit(Event{Type: "old", Timestamp: time.Now().Add(-time.Hour)})
	threshold := time.Now()
	eb.Emit(Event{Type: "new"})
	eb.Emit(Event{Type: "newer"})

	events := eb.Replay("*", threshold, 0, 0)
	if len(events) != 2 {
		t.Errorf("expected 2 events since threshold, got %d", len(events))
	}

	limited := eb.Replay("*", time.Time{}, 0, 1)
	if len(limited) != 1 || limited[0].Type != "newer" {
		t.Errorf("expected the newest event only, got %+v", limited)
	}
}

func TestEventBus_HistoryLimit(t *testing.T) {
	eb := NewEventBus(5, testEBLogger())

	for i := 0; i < 10; i++ {
		eb.Emit(Event{Type: "test"})
	}

	if n := len(eb.Replay("*", time.Time{}, 0, 0)); n != 5 {
		t.Errorf("expected 5, got %d", n)
	}
	events := eb.Replay("*", time.Time{}, 0, 0)
	if events[0].Seq != 6 {
		t.Errorf("expected oldest retained seq 6, got %d", events[0].Seq)
	}
}

func TestEventBus_PanicRecovery(t *testing.T) {
	eb := NewEventBus(0, testEBLogger())

	var after int32
	eb.On("panic", func(e Event) { panic("test panic") })
	eb.On("panic", func(e Event) { atomic.AddInt32(&after, 1) })

	eb.Emit(Event{Type: "panic"})

	if after != 1 {
		t.Error("handler after a panicking one should still run")
	}
}

func TestEventBus_TimestampAutoSet(t *testing.T) {
	eb := NewEventBus(0, testEBLogger())

	e := eb.Emit(Event{Type: "test"})
	if e.Timestamp.IsZero() {
		t.Error("timestamp should be auto-set")
	}
	if e.Seq != 1 {
		t.Errorf("expected seq 1, got %d", e.Seq)
	}
}
