package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"finman/internal/core"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeError maps domain failures to wire errors. Anything outside the
// taxonomy is a storage failure: the operation rolled back and the
// caller may retry.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var insErr *core.InsufficientFundsError
	if errors.As(err, &insErr) {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":     "insufficient_funds",
			"requested": core.FormatAmount(insErr.Requested),
			"available": core.FormatAmount(insErr.Available),
		})
		return
	}

	switch {
	case errors.Is(err, core.ErrInvalidAmount):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "invalid_amount"})
	case errors.Is(err, core.ErrEmptyName):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "invalid_name"})
	case errors.Is(err, core.ErrInvalidInput):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "invalid_input"})
	case errors.Is(err, core.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found"})
	case errors.Is(err, core.ErrCategoryExists):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "category_exists"})
	default:
		slog.ErrorContext(r.Context(), "Storage failure",
			"error", err,
			"method", r.Method,
			"path", r.URL.Path)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "storage_error"})
	}
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}
