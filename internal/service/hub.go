package service

import (
	"sync"

	"github.com/sirupsen/logrus"

	"gosh-fetch/internal/metrics"
)

// Hub fans one event stream out to any number of subscribers. Each
// subscriber has its own buffer; a slow one loses events instead of
// stalling the others.
type Hub struct {
	buffer int
	log    *logrus.Entry

	mu     sync.Mutex
	subs   map[int]chan Event
	next   int
	closed bool
}

func NewHub(buffer int, logger *logrus.Logger) *Hub {
	if buffer <= 0 {
		buffer = 100
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Hub{
		buffer: buffer,
		log:    logger.WithField("component", "hub"),
		subs:   make(map[int]chan Event),
	}
}

// Subscribe returns a new event stream and the function that ends it. The
// stream is closed when the source ends.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan Event, h.buffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	id := h.next
	h.next++
	h.subs[id] = ch
	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
		}
	}
}

// Run relays src until it is closed.
func (h *Hub) Run(src <-chan Event) {
	for ev := range src {
		h.publish(ev)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, ch := range h.subs {
		close(ch)
		delete(h.subs, id)
	}
}

func (h *Hub) publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			metrics.EventsDroppedTotal.WithLabelValues("hub").Inc()
			h.log.WithField("subscriber", id).Warnf("subscriber full, dropping %s", ev.Type)
		}
	}
}
