// Package hub implements the live push fan-out: per-subject connection sets
// keyed by table session, user, or station, with best-effort JSON frame
// delivery and eviction on failed writes.
package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"restocore/events"
	"restocore/observability/metrics"
)

const writeTimeout = 10 * time.Second

// Conn is one bidirectional message channel to a subscriber.
type Conn interface {
	Write(ctx context.Context, data []byte) error
	Close() error
}

type key struct {
	kind events.SubjectKind
	id   uuid.UUID
}

// Hub maintains the per-subject connection registry.
type Hub struct {
	mu    sync.RWMutex
	conns map[key]map[Conn]struct{}
	log   *slog.Logger
}

// New constructs an empty hub.
func New(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		conns: make(map[key]map[Conn]struct{}),
		log:   log,
	}
}

// Register attaches a connection to one subject channel.
func (h *Hub) Register(kind events.SubjectKind, id uuid.UUID, conn Conn) {
	k := key{kind: kind, id: id}
	h.mu.Lock()
	set, ok := h.conns[k]
	if !ok {
		set = make(map[Conn]struct{})
		h.conns[k] = set
	}
	set[conn] = struct{}{}
	h.mu.Unlock()
	metrics.LiveConnections.WithLabelValues(string(kind)).Inc()
}

// Unregister detaches a connection; safe to call twice.
func (h *Hub) Unregister(kind events.SubjectKind, id uuid.UUID, conn Conn) {
	k := key{kind: kind, id: id}
	h.mu.Lock()
	set, ok := h.conns[k]
	if ok {
		if _, present := set[conn]; present {
			delete(set, conn)
			metrics.LiveConnections.WithLabelValues(string(kind)).Dec()
		}
		if len(set) == 0 {
			delete(h.conns, k)
		}
	}
	h.mu.Unlock()
}

// Subscribers reports the number of connections on a subject channel.
func (h *Hub) Subscribers(kind events.SubjectKind, id uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[key{kind: kind, id: id}])
}

// Broadcast serialises the frame once and writes it to every connection on
// the subject channel. Connections whose write fails are evicted.
func (h *Hub) Broadcast(kind events.SubjectKind, id uuid.UUID, frame map[string]interface{}) {
	data, err := json.Marshal(frame)
	if err != nil {
		h.log.Error("hub: marshal frame", "error", err)
		return
	}

	k := key{kind: kind, id: id}
	h.mu.RLock()
	set := h.conns[k]
	targets := make([]Conn, 0, len(set))
	for conn := range set {
		targets = append(targets, conn)
	}
	h.mu.RUnlock()

	for _, conn := range targets {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := conn.Write(ctx, data)
		cancel()
		if err != nil {
			h.log.Warn("hub: evicting connection after failed write",
				"channel", string(kind), "subject", id, "error", err)
			h.Unregister(kind, id, conn)
			_ = conn.Close()
			metrics.FramesDropped.Inc()
		}
	}
}

// Attach subscribes the hub to the bus: each published event becomes one
// frame on its subject channel.
func (h *Hub) Attach(bus *events.Bus) {
	bus.Subscribe(func(ev events.Event) {
		metrics.EventsPublished.WithLabelValues(string(ev.Type)).Inc()
		if ev.Subject.ID == uuid.Nil {
			return
		}
		frame := make(map[string]interface{}, len(ev.Payload)+2)
		for k, v := range ev.Payload {
			frame[k] = v
		}
		frame["type"] = string(ev.Type)
		frame["timestamp"] = ev.At.UTC().Format(time.RFC3339)
		h.Broadcast(ev.Subject.Kind, ev.Subject.ID, frame)
	})
}
