package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"habitquest/core"
)

type subscriber struct {
	ch    chan core.Event
	actor core.ActorID // empty receives every actor's events
}

// Hub is a simple pub/sub for broadcasting events to channels.
type Hub struct {
	mu      sync.RWMutex
	subs    map[int]subscriber
	next    int
	dropped atomic.Int64
}

func NewHub() *Hub { return &Hub{subs: map[int]subscriber{}} }

// Subscribe receives events for every actor.
func (h *Hub) Subscribe(buffer int) (int, <-chan core.Event) {
	return h.SubscribeActor("", buffer)
}

// SubscribeActor receives only the events of one actor.
func (h *Hub) SubscribeActor(actor core.ActorID, buffer int) (int, <-chan core.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	id := h.next
	ch := make(chan core.Event, buffer)
	h.subs[id] = subscriber{ch: ch, actor: actor}
	return id, ch
}

func (h *Hub) Unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(s.ch)
	}
}

// Subscribers reports the number of open subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped reports how many deliveries were skipped because a subscriber was full.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

// Broadcast delivers ev without blocking; slow subscribers miss events.
// The read lock is held during the sends so Unsubscribe cannot close a
// channel mid-send.
func (h *Hub) Broadcast(_ context.Context, ev core.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.subs {
		if s.actor != "" && s.actor != ev.ActorID {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
}

// Handle adapts Broadcast to an event bus handler.
func (h *Hub) Handle(ctx context.Context, ev core.Event) { h.Broadcast(ctx, ev) }

// MarshalJSON is a helper to convert events to JSON bytes for WebSocket/SSE.
func MarshalJSON(ev core.Event) []byte {
	b, _ := json.Marshal(ev)
	return b
}
