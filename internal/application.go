package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/rocketscienceinc/quoridor-backend/internal/config"
	"github.com/rocketscienceinc/quoridor-backend/internal/engine"
	"github.com/rocketscienceinc/quoridor-backend/internal/entity"
	"github.com/rocketscienceinc/quoridor-backend/internal/repository"
	"github.com/rocketscienceinc/quoridor-backend/internal/repository/storage"
	"github.com/rocketscienceinc/quoridor-backend/internal/service"
	"github.com/rocketscienceinc/quoridor-backend/transport/rest"
	"github.com/rocketscienceinc/quoridor-backend/transport/websocket"
)

var ErrAddrNotFound = errors.New("redis address string is empty")

// RunApp - runs the application.
func RunApp(logger *slog.Logger, conf *config.Config) error {
	log := logger.With("component", "app")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		log.Info("Received signal, shutting down", "signal", sig)
		cancel()
	}()

	redisAddrString := conf.Redis.GetRedisAddr()
	if redisAddrString == "" {
		return ErrAddrNotFound
	}

	redisStorage, err := storage.New(ctx, redisAddrString)
	if err != nil {
		return fmt.Errorf("could not connect to redis storage: %w", err)
	}

	defer func() {
		if err = redisStorage.Close(); err != nil {
			log.Error("could not close redis storage", "error", err)
		}
	}()

	archive := repository.NewGameArchive(redisStorage)
	profiles := repository.NewProfileRepository(redisStorage)

	broadcaster := service.NewBroadcaster(logger)

	registry := service.NewRegistry(logger, engine.NewQuoridorFactory(), archive, broadcaster, service.RegistryConfig{
		EngineOptions: engine.Options{
			MaxSimulations: conf.AI.TargetSimulations * 10,
			SimIncrement:   1,
		},
		Epsilon: conf.AI.Epsilon,
		Limits: entity.PoolLimits{
			MaxGames:              conf.Limits.MaxGames,
			MaxGamesPerClient:     conf.Limits.MaxGamesPerClient,
			MaxConnections:        conf.Limits.MaxConnections,
			MaxConnectionsPerGame: conf.Limits.MaxConnectionsPerGame,
		},
	})

	worker := service.NewAIWorker(logger, registry, service.WorkerConfig{
		ComputeTimeout:    conf.AI.ComputeTimeout,
		TargetSimulations: conf.AI.TargetSimulations,
		Epsilon:           conf.AI.Epsilon,
	})
	go worker.Run(ctx)

	inactivityTimeout, sweepInterval := conf.EvictionPolicy()
	janitor := service.NewJanitor(logger, registry, sweepInterval, inactivityTimeout)
	go janitor.Run(ctx)

	// run HTTP server
	httpErrCh := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", "port", conf.HTTPPort)
		if httpErr := rest.Start(conf.HTTPPort, logger, registry, archive); httpErr != nil {
			log.Error("HTTP server error", "error", httpErr)
			httpErrCh <- httpErr
		}
	}()

	// run Websocket server
	wsErrCh := make(chan error, 1)
	go func() {
		log.Info("Starting WebSocket server", "port", conf.SocketPort)
		wsServer := websocket.New(logger, registry, broadcaster, profiles)
		if wsErr := wsServer.Start(ctx, conf.SocketPort); wsErr != nil {
			log.Error("WebSocket server error", "error", wsErr)
			wsErrCh <- wsErr
		}
	}()

	select {
	case err = <-httpErrCh:
		return fmt.Errorf("HTTP server error: %w", err)
	case err = <-wsErrCh:
		return fmt.Errorf("WebSocket server error: %w", err)
	case <-ctx.Done():
		log.Info("Application context canceled, shutting down")
		return nil
	}
}
