package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestDispatcherDisabledReturnsNil(t *testing.T) {
	d := NewDispatcher(Config{Enabled: false}, NewChannelSink(1))
	if d != nil {
		t.Fatal("expected nil dispatcher when disabled")
	}

	// A nil dispatcher accepts and discards everything.
	d.Emit(context.Background(), Event{EventType: "noop"})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("expected zero drops on nil dispatcher")
	}
}

func TestDispatcherDeliversAndDrains(t *testing.T) {
	sink := NewChannelSink(8)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 8}, sink)

	for i := 0; i < 5; i++ {
		d.Emit(context.Background(), Event{EventType: "login.success", Success: true})
	}
	d.Close()

	delivered := 0
	for {
		select {
		case <-sink.Events():
			delivered++
			continue
		default:
		}
		break
	}
	if delivered != 5 {
		t.Fatalf("expected 5 delivered events, got %d", delivered)
	}

	// Emitting after Close is a silent no-op.
	d.Emit(context.Background(), Event{EventType: "late"})
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	block := make(chan struct{})
	sink := &blockingSink{release: block, started: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	// First event occupies the worker, second fills the buffer, the rest
	// must be counted as dropped rather than blocking the caller.
	d.Emit(context.Background(), Event{EventType: "a"})
	<-sink.started

	deadline := time.After(2 * time.Second)
	for d.Dropped() == 0 {
		select {
		case <-deadline:
			t.Fatal("expected drops with a full buffer")
		default:
		}
		d.Emit(context.Background(), Event{EventType: "b"})
	}

	close(block)
	d.Close()
}

// blockingSink parks the dispatcher worker on its first event until
// released, so the buffer behind it can be filled deterministically.
type blockingSink struct {
	release chan struct{}
	started chan struct{}
	once    sync.Once
}

func (s *blockingSink) Emit(_ context.Context, _ Event) {
	s.once.Do(func() {
		close(s.started)
		<-s.release
	})
}

func TestJSONWriterSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)

	sink.Emit(context.Background(), Event{
		Timestamp: time.Unix(1700000000, 0).UTC(),
		EventType: "session.revoked",
		Severity:  SeverityInfo,
		UserID:    "u1",
		Success:   true,
	})
	sink.Emit(context.Background(), Event{EventType: "login.failure", Severity: SeverityWarn})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}

	var ev Event
	if err := json.Unmarshal([]byte(lines[0]), &ev); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if ev.EventType != "session.revoked" || ev.UserID != "u1" || !ev.Success {
		t.Fatalf("unexpected event %+v", ev)
	}
}
