package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"unicode"

	"github.com/pdnlabs/pdn-chat/internal/domain"
	"github.com/pdnlabs/pdn-chat/internal/identity"
)

type messageRequest struct {
	Message  string `json:"message"`
	Language string `json:"language,omitempty"`
	Stage    string `json:"stage,omitempty"`
}

type formattingInfo struct {
	RTL       bool   `json:"rtl"`
	Markdown  bool   `json:"markdown"`
	Direction string `json:"direction"`
}

type messageResponse struct {
	Status     string         `json:"status"`
	Message    string         `json:"message"`
	Stage      domain.StageID `json:"stage"`
	Completed  bool           `json:"completed"`
	Formatting formattingInfo `json:"formatting"`
}

// Message handles one user chat message.
func (h *Handler) Message(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())

	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		Error(w, http.StatusBadRequest, "missing message")
		return
	}

	// An explicit stage on the message overrides the current stage first,
	// mirroring the admin flow of the chat widget.
	if req.Stage != "" {
		if err := h.svc.SetStage(r.Context(), userID, domain.StageID(req.Stage)); err != nil {
			serviceError(w, err)
			return
		}
	}

	result, err := h.svc.HandleMessage(r.Context(), userID, req.Language, req.Message)
	if err != nil {
		slog.Error("Failed to process message", "user_id", userID, "error", err)
		serviceError(w, err)
		return
	}

	JSON(w, http.StatusOK, messageResponse{
		Status:     "success",
		Message:    result.Reply,
		Stage:      result.Stage,
		Completed:  result.Completed,
		Formatting: formatting(result.Reply),
	})
}

// Session returns the current stage metadata and history length.
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())

	info, err := h.svc.Info(r.Context(), userID)
	if err != nil {
		slog.Error("Failed to get session info", "user_id", userID, "error", err)
		serviceError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"status":  "success",
		"session": info,
	})
}

// History returns the full conversation history.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())

	turns, err := h.svc.History(r.Context(), userID)
	if err != nil {
		slog.Error("Failed to get history", "user_id", userID, "error", err)
		serviceError(w, err)
		return
	}
	if turns == nil {
		turns = []domain.Turn{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"status":  "success",
		"history": turns,
	})
}

// Reset discards the user's assessment.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())

	if err := h.svc.Reset(r.Context(), userID); err != nil {
		slog.Error("Failed to reset assessment", "user_id", userID, "error", err)
		serviceError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "assessment reset",
	})
}

type stageRequest struct {
	Stage string `json:"stage"`
}

// SetStage forces the assessment to a specific stage.
func (h *Handler) SetStage(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())

	var req stageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Stage == "" {
		Error(w, http.StatusBadRequest, "missing stage parameter")
		return
	}

	if err := h.svc.SetStage(r.Context(), userID, domain.StageID(req.Stage)); err != nil {
		serviceError(w, err)
		return
	}

	info, err := h.svc.Info(r.Context(), userID)
	if err != nil {
		serviceError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"status":  "success",
		"session": info,
	})
}

// formatting computes the presentation hints for a reply: direction is
// right-to-left when the text contains Hebrew or Arabic script.
func formatting(text string) formattingInfo {
	rtl := containsRTL(text)
	direction := "ltr"
	if rtl {
		direction = "rtl"
	}
	return formattingInfo{RTL: rtl, Markdown: true, Direction: direction}
}

func containsRTL(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Hebrew, r) || unicode.Is(unicode.Arabic, r) {
			return true
		}
	}
	return false
}
