// Package ws fans storage events out to WebSocket subscribers.
package ws

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/Tabares32/shipping-backend/internal/domain"
	"github.com/Tabares32/shipping-backend/internal/logging"
)

// DefaultBufferSize is the per-subscriber queue length. A subscriber that
// falls this far behind is disconnected.
const DefaultBufferSize = 32

// subscriber is one connected client. The hub sends encoded frames on send;
// done is closed when the hub drops the subscriber.
type subscriber struct {
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.done) })
}

// trySend queues msg without blocking and reports whether it fit.
func (s *subscriber) trySend(msg []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- msg:
		return true
	default:
		return false
	}
}

// Hub implements domain.Notifier by broadcasting each event to every
// subscriber. Notify never blocks on a subscriber.
type Hub struct {
	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	buffer int
	log    logging.Logger
}

var _ domain.Notifier = (*Hub)(nil)

// NewHub creates a hub. bufferSize <= 0 selects DefaultBufferSize.
func NewHub(bufferSize int, log logging.Logger) *Hub {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Hub{
		subs:   make(map[*subscriber]struct{}),
		buffer: bufferSize,
		log:    log,
	}
}

func (h *Hub) subscribe() *subscriber {
	s := &subscriber{
		send: make(chan []byte, h.buffer),
		done: make(chan struct{}),
	}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	return s
}

func (h *Hub) unsubscribe(s *subscriber) {
	h.mu.Lock()
	delete(h.subs, s)
	h.mu.Unlock()
	s.close()
}

// Subscribers returns the number of connected subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Notify broadcasts e. Subscribers whose queue is full are dropped.
func (h *Hub) Notify(e domain.Event) {
	msg, err := json.Marshal(e)
	if err != nil {
		h.log.Error(context.Background(), "encode event", "type", e.Type, "error", err)
		return
	}

	var slow []*subscriber
	h.mu.RLock()
	for s := range h.subs {
		if !s.trySend(msg) {
			slow = append(slow, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range slow {
		h.unsubscribe(s)
		h.log.Warn(context.Background(), "dropped slow subscriber", "event", e.Type)
	}
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[*subscriber]struct{})
	h.mu.Unlock()
	for s := range subs {
		s.close()
	}
}
