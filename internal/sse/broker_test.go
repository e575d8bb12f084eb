package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/starford/portal/internal/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func key(vault, fname string) models.NoteKey {
	return models.NoteKey{Vault: vault, Fname: fname}
}

// drain reads every message currently buffered in ch.
func drain(ch chan []byte) []string {
	var out []string
	for {
		select {
		case msg := <-ch:
			out = append(out, string(msg))
		default:
			return out
		}
	}
}

func countType(msgs []string, typ string) int {
	n := 0
	for _, m := range msgs {
		if strings.HasPrefix(m, "event: "+typ+"\n") {
			n++
		}
	}
	return n
}

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients")
	}
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}
	b.Unsubscribe(ch)
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after unsub")
	}
}

func TestPublishDelivery(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.Publish(Event{Type: EventNoteChanged, Data: NoteChangedData{Kind: "created", Vault: "main", Fname: "a"}})

	select {
	case msg := <-ch:
		s := string(msg)
		if !strings.Contains(s, "event: note.changed") {
			t.Errorf("missing event type in %q", s)
		}
		if !strings.Contains(s, `"vault":"main","fname":"a"`) {
			t.Errorf("missing data in %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestNoteChanged_StaleThrottle(t *testing.T) {
	b := NewBroker(300 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// First change flushes immediately.
	b.NoteChanged("updated", key("main", "a"), []models.NoteKey{key("main", "host")})
	// Second change inside the window is batched.
	b.NoteChanged("updated", key("main", "b"), []models.NoteKey{key("other", "x")})

	time.Sleep(50 * time.Millisecond)
	msgs := drain(ch)
	if n := countType(msgs, EventNoteChanged); n != 2 {
		t.Errorf("note events = %d, want 2", n)
	}
	if n := countType(msgs, EventPreviewStale); n != 1 {
		t.Fatalf("stale events = %d, want 1 (throttled)", n)
	}
	for _, m := range msgs {
		if strings.HasPrefix(m, "event: preview.stale") &&
			!strings.Contains(m, `{"vault":"main","fname":"a"},{"vault":"main","fname":"host"}`) {
			t.Errorf("first stale event = %q", m)
		}
	}

	time.Sleep(400 * time.Millisecond)
	msgs = drain(ch)
	if n := countType(msgs, EventPreviewStale); n != 1 {
		t.Fatalf("batched stale events = %d, want 1", n)
	}
	if !strings.Contains(msgs[0], `{"vault":"main","fname":"b"},{"vault":"other","fname":"x"}`) {
		t.Errorf("batched stale event = %q", msgs[0])
	}
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()

	// Start handler in background.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req = req.WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	// Give handler time to subscribe.
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client from handler")
	}

	b.NoteChanged("updated", key("main", "x"), nil)
	time.Sleep(50 * time.Millisecond)

	// Cancel context to disconnect.
	cancel()
	<-done

	body := w.Body.String()
	if !strings.Contains(body, "event: note.changed") || !strings.Contains(body, "event: preview.stale") {
		t.Errorf("handler output missing events: %q", body)
	}

	// Client should be cleaned up.
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 0 {
		t.Errorf("client not cleaned up after disconnect")
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// Fill buffer (capacity 64) and then one more should not block.
	for i := 0; i < 70; i++ {
		b.Publish(Event{Type: "test", Data: map[string]string{"i": "x"}})
	}
	// If we reach here without deadlock, the test passes.
}

func TestCloseClosesSubscribersAndStopsOperations(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}

	// A pending stale flush must not outlive Close.
	b.NoteChanged("updated", key("main", "x"), nil)
	b.NoteChanged("updated", key("main", "y"), nil)

	b.Close()

	deadline := time.After(time.Second)
	for open := true; open; {
		select {
		case _, open = <-ch:
		case <-deadline:
			t.Fatal("timeout waiting for channel close")
		}
	}

	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after close")
	}

	// Should be safe no-op after close.
	b.Publish(Event{Type: EventNoteChanged, Data: NoteChangedData{}})
	b.NoteChanged("updated", key("main", "x"), nil)
}
