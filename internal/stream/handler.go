// Package stream serves the live conversation view over websockets.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/auryn-chat/internal/api"
	"github.com/ashureev/auryn-chat/internal/chat"
	"github.com/ashureev/auryn-chat/internal/domain"
	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/samber/oops"
)

const writeTimeout = 10 * time.Second

// Frame types.
const (
	FrameMessages = "messages"
	FrameLoading  = "loading"
	FrameSent     = "sent"
	FrameError    = "error"
	FramePong     = "pong"
	FrameSend     = "send"
	FramePing     = "ping"
)

// snapshotFrame carries the full ordered message list.
type snapshotFrame struct {
	Type     string            `json:"type"`
	Messages []*domain.Message `json:"messages"`
}

// Frame is every other server frame.
type Frame struct {
	Type    string          `json:"type"`
	Message *domain.Message `json:"message,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// ClientFrame is a frame sent by the browser.
type ClientFrame struct {
	Type         string `json:"type"`
	Content      string `json:"content,omitempty"`
	VoiceEnabled bool   `json:"voice_enabled,omitempty"`
}

// Handler upgrades /ws/conversations/{id} to a live view.
type Handler struct {
	svc           *chat.Service
	reg           *Registry
	allowedOrigin string
	isDev         bool
}

// NewHandler creates a websocket handler.
func NewHandler(svc *chat.Service, reg *Registry, allowedOrigin string, isDev bool) *Handler {
	return &Handler{
		svc:           svc,
		reg:           reg,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	slog.Info("WebSocket connection request", "conversation_id", conversationID, "ip", r.RemoteAddr)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	if _, err := h.svc.Conversation(r.Context(), conversationID); err != nil {
		api.ServiceError(w, r, err)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "conversation_id", conversationID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "view closed"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "conversation_id", conversationID)
		}
	}()

	h.reg.Register(conversationID, ws)
	defer h.reg.Unregister(conversationID, ws)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)

	// Input loop: browser -> chat service.
	go func() {
		defer wg.Done()
		defer cancel()
		h.inputLoop(ctx, ws, conversationID)
	}()

	// Output loop: read model -> browser.
	go func() {
		defer wg.Done()
		defer cancel()
		h.outputLoop(ctx, ws, conversationID)
	}()

	wg.Wait()
	slog.Info("Live view ended", "conversation_id", conversationID)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == strings.TrimRight(h.allowedOrigin, "/") {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *Handler) inputLoop(ctx context.Context, ws *websocket.Conn, conversationID string) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				slog.Debug("WebSocket closed", "conversation_id", conversationID)
			} else {
				slog.Warn("WebSocket read error", "error", err, "conversation_id", conversationID)
			}
			return
		}

		var msg ClientFrame
		if err := json.Unmarshal(data, &msg); err != nil {
			h.writeFrame(ctx, ws, Frame{Type: FrameError, Error: "malformed frame"})
			continue
		}

		switch msg.Type {
		case FrameSend:
			h.send(ctx, ws, conversationID, msg)
		case FramePing:
			h.writeFrame(ctx, ws, Frame{Type: FramePong})
		default:
			h.writeFrame(ctx, ws, Frame{Type: FrameError, Error: "unknown frame type"})
		}
	}
}

func (h *Handler) send(ctx context.Context, ws *websocket.Conn, conversationID string, msg ClientFrame) {
	if strings.TrimSpace(msg.Content) == "" {
		h.writeFrame(ctx, ws, Frame{Type: FrameError, Error: "message content must not be blank"})
		return
	}

	h.writeFrame(ctx, ws, Frame{Type: FrameLoading})

	reply, err := h.svc.SendMessage(ctx, conversationID, msg.Content, msg.VoiceEnabled)
	if err != nil {
		slog.Warn("Send failed", "conversation_id", conversationID, "error", err)
		text := "failed to send message"
		if errors.Is(err, domain.ErrValidation) {
			text = oops.GetPublic(err, "invalid message")
		}
		h.writeFrame(ctx, ws, Frame{Type: FrameError, Error: text})
		return
	}

	h.writeFrame(ctx, ws, Frame{Type: FrameSent, Message: reply})
}

func (h *Handler) outputLoop(ctx context.Context, ws *websocket.Conn, conversationID string) {
	for msgs := range h.svc.Messages(ctx, conversationID) {
		if err := h.writeJSON(ctx, ws, snapshotFrame{Type: FrameMessages, Messages: msgs}); err != nil {
			if ctx.Err() == nil {
				slog.Debug("Failed to push snapshot", "conversation_id", conversationID, "error", err)
			}
			return
		}
	}
}

func (h *Handler) writeFrame(ctx context.Context, ws *websocket.Conn, f Frame) {
	if err := h.writeJSON(ctx, ws, f); err != nil && ctx.Err() == nil {
		slog.Debug("Failed to write frame", "type", f.Type, "error", err)
	}
}

func (h *Handler) writeJSON(ctx context.Context, ws *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return ws.Write(writeCtx, websocket.MessageText, data)
}
