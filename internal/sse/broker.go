// Package sse implements a Server-Sent Events broker for live-preview updates.
package sse

import (
	"cmp"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"sync/atomic"
	"time"

	"github.com/starford/portal/internal/models"
)

// Event types sent to clients.
const (
	EventNoteChanged  = "note.changed"
	EventPreviewStale = "preview.stale"
)

// Event represents an SSE event to broadcast.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// NoteChangedData is the payload of a note.changed event.
type NoteChangedData struct {
	Kind  string `json:"kind"`
	Vault string `json:"vault"`
	Fname string `json:"fname"`
}

// PreviewStaleData is the payload of a preview.stale event: every note whose
// compiled preview no longer matches the index.
type PreviewStaleData struct {
	Notes []models.NoteKey `json:"notes"`
}

type noteEventReq struct {
	kind  string
	key   models.NoteKey
	stale []models.NoteKey
}

// Broker manages SSE client connections and broadcasts events.
//
// Concurrency model: a single internal event loop (goroutine) owns mutable state
// (clients, pending stale notes, throttle timestamp). Public methods communicate
// with this loop through channels, so no mutexes are required.
type Broker struct {
	staleMin time.Duration

	subscribeCh   chan chan []byte
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	noteEventCh   chan noteEventReq
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a new SSE broker. preview.stale events are sent at most
// once per staleThrottle; notes that go stale in between are batched.
func NewBroker(staleThrottle time.Duration) *Broker {
	if staleThrottle <= 0 {
		staleThrottle = 2 * time.Second
	}

	b := &Broker{
		staleMin:      staleThrottle,
		subscribeCh:   make(chan chan []byte),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		noteEventCh:   make(chan noteEventReq, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]struct{})
	pending := make(map[models.NoteKey]struct{})
	var lastStale time.Time
	var flushTimer *time.Timer
	var flushCh <-chan time.Time

	broadcast := func(event Event) {
		payload, err := json.Marshal(event.Data)
		if err != nil {
			return
		}
		msg := fmt.Sprintf("event: %s\ndata: %s\n\n", event.Type, payload)
		raw := []byte(msg)

		for ch := range clients {
			select {
			case ch <- raw:
			default:
				// Client buffer full; skip to avoid blocking broker loop.
			}
		}
	}

	flush := func(now time.Time) {
		if len(pending) == 0 {
			return
		}
		notes := make([]models.NoteKey, 0, len(pending))
		for k := range pending {
			notes = append(notes, k)
		}
		slices.SortFunc(notes, func(a, b models.NoteKey) int {
			return cmp.Or(cmp.Compare(a.Vault, b.Vault), cmp.Compare(a.Fname, b.Fname))
		})
		clear(pending)
		lastStale = now
		broadcast(Event{Type: EventPreviewStale, Data: PreviewStaleData{Notes: notes}})
	}

	for {
		select {
		case <-b.stopCh:
			if flushTimer != nil {
				flushTimer.Stop()
			}
			for ch := range clients {
				close(ch)
			}
			return

		case ch := <-b.subscribeCh:
			clients[ch] = struct{}{}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case event := <-b.publishCh:
			broadcast(event)

		case req := <-b.noteEventCh:
			broadcast(Event{Type: EventNoteChanged, Data: NoteChangedData{
				Kind:  req.kind,
				Vault: req.key.Vault,
				Fname: req.key.Fname,
			}})

			pending[req.key] = struct{}{}
			for _, k := range req.stale {
				pending[k] = struct{}{}
			}

			now := time.Now()
			if wait := b.staleMin - now.Sub(lastStale); wait <= 0 {
				flush(now)
			} else if flushCh == nil {
				flushTimer = time.NewTimer(wait)
				flushCh = flushTimer.C
			}

		case now := <-flushCh:
			flushTimer, flushCh = nil, nil
			flush(now)

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close gracefully stops broker loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a new client and returns its channel.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- ch:
	case <-b.stopped:
		close(ch)
	}

	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends an event to all connected clients.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- event:
	case <-b.stopped:
	}
}

// NoteChanged publishes a note.changed event and schedules a throttled
// preview.stale event covering key and stale.
func (b *Broker) NoteChanged(kind string, key models.NoteKey, stale []models.NoteKey) {
	if b.closed.Load() {
		return
	}
	select {
	case b.noteEventCh <- noteEventReq{kind: kind, key: key, stale: stale}:
	case <-b.stopped:
	}
}

// ServeHTTP is the SSE endpoint handler (GET /api/events).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
