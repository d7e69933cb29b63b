// Package api provides HTTP handlers for the assessment API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pdnlabs/pdn-chat/internal/chat"
	"github.com/pdnlabs/pdn-chat/internal/domain"
	"github.com/pdnlabs/pdn-chat/internal/report"
)

// ChatService is the slice of the chat service the HTTP layer depends on.
type ChatService interface {
	HandleMessage(ctx context.Context, userID, language, message string) (*chat.TurnResult, error)
	Info(ctx context.Context, userID string) (*chat.SessionInfo, error)
	History(ctx context.Context, userID string) ([]domain.Turn, error)
	Reset(ctx context.Context, userID string) error
	SetStage(ctx context.Context, userID string, id domain.StageID) error
	Report(ctx context.Context, userID string) (*domain.Report, error)
}

// Handler serves the assessment chat endpoints.
type Handler struct {
	svc      ChatService
	renderer report.Renderer
}

// NewHandler creates a new Handler.
func NewHandler(svc ChatService, renderer report.Renderer) *Handler {
	return &Handler{svc: svc, renderer: renderer}
}

// RegisterRoutes registers the chat and report routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/chat", func(r chi.Router) {
		r.Post("/message", h.Message)
		r.Get("/session", h.Session)
		r.Get("/history", h.History)
		r.Post("/reset", h.Reset)
		r.Post("/stage", h.SetStage)
	})
	r.Get("/api/report", h.Report)
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// serviceError maps core error classes to HTTP responses. Only transient
// oracle and report failures are surfaced as retryable; everything else is an
// internal concern.
func serviceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrOracleUnavailable):
		Error(w, http.StatusServiceUnavailable, "the assistant is temporarily unavailable, please try again")
	case errors.Is(err, domain.ErrReportFailed):
		Error(w, http.StatusServiceUnavailable, "report generation failed, please try again")
	case errors.Is(err, domain.ErrNotCompleted):
		Error(w, http.StatusConflict, "assessment is not completed yet")
	case errors.Is(err, domain.ErrAlreadyCompleted):
		Error(w, http.StatusConflict, "assessment is already completed")
	case errors.Is(err, domain.ErrUnknownStage):
		Error(w, http.StatusBadRequest, "unknown stage")
	default:
		Error(w, http.StatusInternalServerError, "internal error")
	}
}
