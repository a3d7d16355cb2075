package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"chatstream/internal/domain"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
)

var errHistoryDisabled = fmt.Errorf("history disabled: %w", domain.ErrNotFound)

// historyListHandler serves GET /api/history?limit=N.
func historyListHandler(deps HandlerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.History == nil {
			writeError(w, http.StatusNotFound, errHistoryDisabled)
			return
		}

		limit := defaultHistoryLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				writeError(w, http.StatusBadRequest, fmt.Errorf("%w: limit", domain.ErrInvalidInput))
				return
			}
			limit = min(n, maxHistoryLimit)
		}

		items, err := deps.History.Recent(r.Context(), limit)
		if err != nil {
			deps.Logger.Error("history list failed", "error", err)
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if items == nil {
			items = []domain.Transcript{}
		}
		writeJSON(w, http.StatusOK, items)
	}
}

// historyGetHandler serves GET /api/history/{id}.
func historyGetHandler(deps HandlerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.History == nil {
			writeError(w, http.StatusNotFound, errHistoryDisabled)
			return
		}

		t, err := deps.History.Get(r.Context(), r.PathValue("id"))
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, err)
		case err != nil:
			deps.Logger.Error("history get failed", "error", err)
			writeError(w, http.StatusInternalServerError, err)
		default:
			writeJSON(w, http.StatusOK, t)
		}
	}
}

// modelsHandler serves GET /api/v1/models.
func modelsHandler(deps HandlerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Models == nil {
			writeError(w, http.StatusNotFound, fmt.Errorf("model listing not supported: %w", domain.ErrNotFound))
			return
		}
		models, err := deps.Models.ListModels(r.Context())
		if err != nil {
			deps.Logger.Warn("list models failed", "error", err)
			writeError(w, http.StatusBadGateway, err)
			return
		}
		writeJSON(w, http.StatusOK, models)
	}
}
