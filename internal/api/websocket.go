package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/coder/websocket"

	"github.com/pdnlabs/pdn-chat/internal/domain"
	"github.com/pdnlabs/pdn-chat/internal/identity"
)

// WebSocketHandler serves the streaming chat transport. Each frame carries one
// user message; each reply frame carries the assistant's answer plus the
// resulting stage.
type WebSocketHandler struct {
	svc           ChatService
	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates a new WebSocket chat handler.
func NewWebSocketHandler(svc ChatService, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{svc: svc, allowedOrigin: allowedOrigin, isDev: isDev}
}

// wsInbound is a client frame.
type wsInbound struct {
	Type     string `json:"type"`
	Content  string `json:"content,omitempty"`
	Language string `json:"language,omitempty"`
}

// wsOutbound is a server frame.
type wsOutbound struct {
	Type       string         `json:"type"`
	Content    string         `json:"content,omitempty"`
	Stage      domain.StageID `json:"stage,omitempty"`
	Completed  bool           `json:"completed,omitempty"`
	Formatting formattingInfo `json:"formatting"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	slog.Info("WebSocket chat connection", "user_id", userID, "ip", r.RemoteAddr)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("WebSocket close error", "error", closeErr)
		}
	}()

	ctx := r.Context()
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure || ctx.Err() != nil {
				return
			}
			slog.Debug("WebSocket read error", "user_id", userID, "error", err)
			return
		}

		var in wsInbound
		if err := json.Unmarshal(data, &in); err != nil || in.Type != "message" || in.Content == "" {
			h.write(ctx, ws, wsOutbound{Type: "error", Content: "invalid message frame"})
			continue
		}

		result, err := h.svc.HandleMessage(ctx, userID, in.Language, in.Content)
		if err != nil {
			slog.Error("Failed to process WebSocket message", "user_id", userID, "error", err)
			content := "internal error"
			if errors.Is(err, domain.ErrOracleUnavailable) {
				content = "the assistant is temporarily unavailable, please try again"
			}
			h.write(ctx, ws, wsOutbound{Type: "error", Content: content})
			continue
		}

		h.write(ctx, ws, wsOutbound{
			Type:       "reply",
			Content:    result.Reply,
			Stage:      result.Stage,
			Completed:  result.Completed,
			Formatting: formatting(result.Reply),
		})
	}
}

func (h *WebSocketHandler) write(ctx context.Context, ws *websocket.Conn, out wsOutbound) {
	data, err := json.Marshal(out)
	if err != nil {
		slog.Warn("Failed to encode WebSocket frame", "error", err)
		return
	}
	if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
		slog.Debug("WebSocket write error", "error", err)
	}
}

// checkOrigin matches the Origin header against the allowed origin exactly;
// a prefix match would accept lookalike hosts like example.com.evil.com.
func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev || h.allowedOrigin == "" {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return strings.TrimSuffix(origin, "/") == strings.TrimSuffix(h.allowedOrigin, "/")
}
