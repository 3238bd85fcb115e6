package rest

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/rocketscienceinc/quoridor-backend/internal/repository"
)

type handlers struct {
	logger  *slog.Logger
	metrics metricsSource
	archive repository.GameArchive
}

func newHandlers(logger *slog.Logger, metrics metricsSource, archive repository.GameArchive) *handlers {
	return &handlers{
		logger:  logger.With("component", "rest"),
		metrics: metrics,
		archive: archive,
	}
}

func (that *handlers) metricsHandler(w http.ResponseWriter, _ *http.Request) {
	that.writeJSON(w, http.StatusOK, that.metrics.Metrics())
}

func (that *handlers) listGamesHandler(w http.ResponseWriter, r *http.Request) {
	ids, err := that.archive.ListIDs(r.Context())
	if err != nil {
		that.logger.Error("failed to list archived games", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)

		return
	}

	that.writeJSON(w, http.StatusOK, map[string]any{"games": ids})
}

func (that *handlers) getGameHandler(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/games/")
	if id == "" {
		http.Error(w, "game id is required", http.StatusBadRequest)
		return
	}

	game, err := that.archive.GetByID(r.Context(), id)

	if errors.Is(err, repository.ErrGameNotFound) {
		http.Error(w, "game not found", http.StatusNotFound)
		return
	}

	if err != nil {
		that.logger.Error("failed to get archived game", "gameID", id, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)

		return
	}

	that.writeJSON(w, http.StatusOK, game)
}

func (that *handlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		that.logger.Error("failed to encode response", "error", err)
	}
}
