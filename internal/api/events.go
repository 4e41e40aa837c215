package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/pysugar/tempmail-nexus/internal/inbox"
	"github.com/sirupsen/logrus"
)

const (
	clientBuffer      = 32
	keepAliveInterval = 25 * time.Second
)

// Broadcaster fans poller events out to connected SSE clients. A client that
// falls behind loses events rather than blocking the poller.
type Broadcaster struct {
	log logrus.FieldLogger

	mu      sync.Mutex
	clients map[chan inbox.Event]struct{}
	closed  bool

	detach []func()
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster(log logrus.FieldLogger) *Broadcaster {
	return &Broadcaster{log: log, clients: make(map[chan inbox.Event]struct{})}
}

// Attach forwards every event of p.
func (b *Broadcaster) Attach(p *inbox.Poller) {
	unsubscribe := p.Subscribe(b.Publish)
	b.mu.Lock()
	b.detach = append(b.detach, unsubscribe)
	b.mu.Unlock()
}

// Publish delivers ev to every client with room in its buffer.
func (b *Broadcaster) Publish(ev inbox.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.clients {
		select {
		case ch <- ev:
		default:
			b.log.WithField("type", ev.Type).Warn("⚠️ SSE client too slow, event dropped")
		}
	}
}

func (b *Broadcaster) subscribe() (chan inbox.Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, false
	}
	ch := make(chan inbox.Event, clientBuffer)
	b.clients[ch] = struct{}{}
	return ch, true
}

func (b *Broadcaster) unsubscribe(ch chan inbox.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[ch]; ok {
		delete(b.clients, ch)
		close(ch)
	}
}

// Clients returns the number of connected streams.
func (b *Broadcaster) Clients() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Close detaches from pollers and ends every stream.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	detach := b.detach
	b.detach = nil
	b.closed = true
	for ch := range b.clients {
		delete(b.clients, ch)
		close(ch)
	}
	b.mu.Unlock()

	for _, fn := range detach {
		fn()
	}
}

// handleEvents streams poller events as Server-Sent Events.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeErrorMessage(w, http.StatusInternalServerError, "internal", "streaming unsupported")
		return
	}
	ch, ok := s.events.subscribe()
	if !ok {
		writeErrorMessage(w, http.StatusServiceUnavailable, "unavailable", "server shutting down")
		return
	}
	defer s.events.unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case ev, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				s.log.WithError(err).Error("❌ Failed to encode event")
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
			flusher.Flush()
		}
	}
}
