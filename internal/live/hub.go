// Package live provides change notification for store-backed live queries.
//
// Writers publish a topic after every committed write. Watchers re-run their
// query whenever their topic is published and push the fresh snapshot to a
// channel. Signals are coalesced per subscriber, so a slow reader skips
// intermediate states but always ends on the latest one.
package live

import (
	"context"
	"log/slog"
	"sync"
)

// ConversationsTopic is published whenever any conversation record changes.
const ConversationsTopic = "conversations"

// MessagesTopic is published whenever a message of conversationID changes.
func MessagesTopic(conversationID string) string {
	return "messages:" + conversationID
}

type subscriber struct {
	signal chan struct{}
}

// Hub fans out change signals to subscribers by topic.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[*subscriber]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*subscriber]struct{})}
}

// Publish signals every subscriber of the given topics. It never blocks.
func (h *Hub) Publish(topics ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, topic := range topics {
		for sub := range h.subs[topic] {
			select {
			case sub.signal <- struct{}{}:
			default:
				// Already pending; the next query will observe this change too.
			}
		}
	}
}

// Subscribers returns the number of active subscribers of topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[topic])
}

func (h *Hub) subscribe(topic string) (*subscriber, func()) {
	sub := &subscriber{signal: make(chan struct{}, 1)}

	h.mu.Lock()
	if _, ok := h.subs[topic]; !ok {
		h.subs[topic] = make(map[*subscriber]struct{})
	}
	h.subs[topic][sub] = struct{}{}
	h.mu.Unlock()

	return sub, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if set, ok := h.subs[topic]; ok {
			delete(set, sub)
			if len(set) == 0 {
				delete(h.subs, topic)
			}
		}
	}
}

// Watch emits query's result once immediately and again after every publish
// of topic. The returned channel is closed when ctx is done.
//
// The subscription is registered before the first query runs, so a write that
// completes after Watch returns is always reflected in a later snapshot.
// Query failures are logged and the watcher waits for the next signal.
func Watch[T any](ctx context.Context, h *Hub, topic string, query func(context.Context) (T, error)) <-chan T {
	sub, unsubscribe := h.subscribe(topic)
	out := make(chan T)

	go func() {
		defer close(out)
		defer unsubscribe()

		for {
			snapshot, err := query(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("live query failed", "topic", topic, "error", err)
			} else {
				select {
				case out <- snapshot:
				case <-ctx.Done():
					return
				}
			}

			select {
			case <-sub.signal:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}
