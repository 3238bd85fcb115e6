package rest

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/rocketscienceinc/quoridor-backend/internal/entity"
	"github.com/rocketscienceinc/quoridor-backend/internal/repository"
)

type metricsSource interface {
	Metrics() entity.PoolMetrics
}

func Start(port string, logger *slog.Logger, metrics metricsSource, archive repository.GameArchive) error {
	handlers := newHandlers(logger, metrics, archive)

	mux := http.NewServeMux()
	mux.HandleFunc("/ping", pingHandler)
	mux.HandleFunc("/metrics", handlers.metricsHandler)
	mux.HandleFunc("/games", handlers.listGamesHandler)
	mux.HandleFunc("/games/", handlers.getGameHandler)

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	if err := srv.ListenAndServe(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}
