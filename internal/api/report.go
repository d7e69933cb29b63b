package api

import (
	"log/slog"
	"net/http"

	"github.com/pdnlabs/pdn-chat/internal/identity"
)

// Report returns the finalized report. JSON by default; ?format=html renders
// the standalone HTML document.
func (h *Handler) Report(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())

	rep, err := h.svc.Report(r.Context(), userID)
	if err != nil {
		slog.Warn("Report unavailable", "user_id", userID, "error", err)
		serviceError(w, err)
		return
	}

	if r.URL.Query().Get("format") == "html" {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := h.renderer.Render(w, rep); err != nil {
			slog.Error("Failed to render report", "user_id", userID, "error", err)
		}
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"status": "success",
		"report": rep,
	})
}
