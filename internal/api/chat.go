package api

import (
	"net/http"

	"github.com/ashureev/auryn-chat/internal/chat"
	"github.com/go-chi/chi/v5"
)

// ConversationCloser tears down live views of a deleted conversation.
type ConversationCloser interface {
	CloseConversation(conversationID string) int
}

// ChatHandler serves conversations and messages.
type ChatHandler struct {
	svc            *chat.Service
	conversationID string
	closer         ConversationCloser
}

// NewChatHandler creates a chat handler. conversationID is the conversation
// chosen at startup and reported by GET /api/session. closer may be nil.
func NewChatHandler(svc *chat.Service, conversationID string, closer ConversationCloser) *ChatHandler {
	return &ChatHandler{svc: svc, conversationID: conversationID, closer: closer}
}

// RegisterRoutes registers chat routes.
func (h *ChatHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/session", h.Session)
		r.Get("/conversations", h.ListConversations)
		r.Post("/conversations", h.CreateConversation)
		r.Route("/conversations/{id}", func(r chi.Router) {
			r.Get("/", h.GetConversation)
			r.Delete("/", h.DeleteConversation)
			r.Get("/messages", h.ListMessages)
			r.Post("/messages", h.SendMessage)
		})
		r.Delete("/messages/{id}", h.DeleteMessage)
	})
}

// Session returns the conversation the client should open first.
func (h *ChatHandler) Session(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]string{"conversation_id": h.conversationID})
}

// ListConversations returns every conversation, most recently updated first.
func (h *ChatHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.ListConversations(r.Context())
	if err != nil {
		ServiceError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, list)
}

type createConversationRequest struct {
	Title string `json:"title"`
}

// CreateConversation starts an empty conversation.
func (h *ChatHandler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	var req createConversationRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}

	conv, err := h.svc.NewConversation(r.Context(), req.Title)
	if err != nil {
		ServiceError(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, conv)
}

// GetConversation returns a single conversation.
func (h *ChatHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := h.svc.Conversation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		ServiceError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, conv)
}

// DeleteConversation removes a conversation, its messages and its live views.
func (h *ChatHandler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.svc.DeleteConversation(r.Context(), id); err != nil {
		ServiceError(w, r, err)
		return
	}
	if h.closer != nil {
		h.closer.CloseConversation(id)
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListMessages returns the ordered messages of a conversation.
func (h *ChatHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.svc.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		ServiceError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, msgs)
}

type sendMessageRequest struct {
	Content      string `json:"content"`
	VoiceEnabled bool   `json:"voice_enabled"`
}

// SendMessage stores the user's message and responds with the reply.
func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	reply, err := h.svc.SendMessage(r.Context(), chi.URLParam(r, "id"), req.Content, req.VoiceEnabled)
	if err != nil {
		ServiceError(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, reply)
}

// DeleteMessage removes a single message.
func (h *ChatHandler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteMessage(r.Context(), chi.URLParam(r, "id")); err != nil {
		ServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
