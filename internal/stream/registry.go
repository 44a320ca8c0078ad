package stream

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// Registry tracks open websocket connections per conversation.
type Registry struct {
	mu     sync.Mutex
	active map[string]map[*websocket.Conn]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{active: make(map[string]map[*websocket.Conn]struct{})}
}

// Register adds conn as a live view of conversationID.
func (r *Registry) Register(conversationID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.active[conversationID]; !ok {
		r.active[conversationID] = make(map[*websocket.Conn]struct{})
	}
	r.active[conversationID][conn] = struct{}{}
	slog.Debug("Live view registered", "conversation_id", conversationID, "views", len(r.active[conversationID]))
}

// Unregister removes conn.
func (r *Registry) Unregister(conversationID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if conns, ok := r.active[conversationID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(r.active, conversationID)
		}
	}
}

// Count returns the number of open views of conversationID.
func (r *Registry) Count(conversationID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active[conversationID])
}

// CloseConversation closes every view of conversationID and returns how many there were.
func (r *Registry) CloseConversation(conversationID string) int {
	r.mu.Lock()
	conns := r.active[conversationID]
	delete(r.active, conversationID)
	r.mu.Unlock()

	for conn := range conns {
		_ = conn.Close(websocket.StatusNormalClosure, "conversation deleted")
	}
	if len(conns) > 0 {
		slog.Info("Live views closed", "conversation_id", conversationID, "count", len(conns))
	}
	return len(conns)
}

// CloseAll closes every registered view, e.g. on shutdown.
func (r *Registry) CloseAll() int {
	r.mu.Lock()
	ids := make([]string, 0, len(r.active))
	for id := range r.active {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	total := 0
	for _, id := range ids {
		total += r.CloseConversation(id)
	}
	return total
}
