package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rocketscienceinc/quoridor-backend/internal/entity"
	"github.com/rocketscienceinc/quoridor-backend/internal/pkg"
	"github.com/rocketscienceinc/quoridor-backend/internal/repository"
	"github.com/rocketscienceinc/quoridor-backend/internal/service"
)

const trackerSweepInterval = 10 * time.Second

type gameRegistry interface {
	CreateGame(ctx context.Context, host entity.Player, settings entity.Settings) (entity.GameSession, error)
	JoinGame(ctx context.Context, gameID string, player entity.Player) (entity.GameSession, error)
	ApplyMove(ctx context.Context, gameID, playerID, action string) (entity.MoveResult, error)
	Resign(ctx context.Context, gameID, playerID string) (entity.GameSession, error)
	Game(gameID string) (entity.GameSession, error)

	UpsertConnection(id string, state entity.ConnectionState) error
	DropConnection(id string)
	Subscribe(gameID, clientID string) error
}

type presence interface {
	Connect(ctx context.Context, handle service.ConnHandle, gameID string)
	Disconnect(ctx context.Context, handle service.ConnHandle, gameID string)
}

type profileStore interface {
	CreateOrUpdate(ctx context.Context, profile repository.Profile) error
	GetByID(ctx context.Context, id string) (repository.Profile, error)
}

type Server struct {
	logger   *slog.Logger
	registry gameRegistry
	presence presence
	profiles profileStore
	tracker  *tracker
	upgrader websocket.Upgrader

	handlers map[string]func(ctx context.Context, client *Client, payload json.RawMessage) error
}

func New(logger *slog.Logger, registry gameRegistry, presence presence, profiles profileStore) *Server {
	server := &Server{
		logger:   logger,
		registry: registry,
		presence: presence,
		profiles: profiles,
		tracker:  newTracker(logger, registry),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		handlers: make(map[string]func(context.Context, *Client, json.RawMessage) error),
	}

	server.handlers["connect"] = server.handleConnect
	server.handlers["heartbeat"] = server.handleHeartbeat
	server.handlers["game:new"] = server.handleNewGame
	server.handlers["game:join"] = server.handleJoinGame
	server.handlers["game:turn"] = server.handleGameTurn
	server.handlers["game:resign"] = server.handleGameResign

	return server
}

// Start - starts WebSocket server.
func (that *Server) Start(ctx context.Context, port string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		that.serveConnection(ctx, w, r)
	})

	srv := &http.Server{
		Addr:        ":" + port,
		Handler:     mux,
		ReadTimeout: 0, // sockets are long-lived
		IdleTimeout: 0,
	}

	go that.sweepLoop(ctx)

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

func (that *Server) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(trackerSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			that.tracker.sweep(now)
		}
	}
}

// serveConnection upgrades one socket and pumps its messages until it drops.
func (that *Server) serveConnection(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	log := that.logger.With("method", "serveConnection")

	conn, err := that.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error("failed to upgrade connection", "error", err)
		return
	}

	connID := pkg.GenerateConnID()
	log = log.With("connID", connID)

	if err = that.tracker.opened(connID, time.Now()); err != nil {
		log.Error("failed to track connection", "error", err)
		_ = conn.Close()

		return
	}

	client := newClient(connID, conn, that.logger)
	go client.writePump()

	log.Info("WebSocket connection established")

	that.readLoop(ctx, client)

	client.shutdown()
	that.tracker.closed(connID, client.ClientID(), time.Now())

	for _, gameID := range client.trackedGames() {
		that.presence.Disconnect(ctx, client, gameID)
	}

	log.Info("WebSocket connection closed")
}

func (that *Server) readLoop(ctx context.Context, client *Client) {
	log := that.logger.With("method", "readLoop", "connID", client.ID())

	for {
		_, raw, err := client.conn.ReadMessage()
		if err != nil {
			log.Debug("read failed", "error", err)
			return
		}

		var message Message
		if err = json.Unmarshal(raw, &message); err != nil {
			log.Error("failed to unmarshal message", "error", err)
			continue
		}

		handler, ok := that.handlers[message.Action]
		if !ok {
			log.Error("unknown action", "action", message.Action)
			_ = client.replyError(message.Action, "unknown action")
			continue
		}

		if err = handler(ctx, client, message.Payload); err != nil {
			log.Error("error processing message", "action", message.Action, "error", err)
		}
	}
}
