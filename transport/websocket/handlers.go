package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rocketscienceinc/quoridor-backend/internal/apperror"
	"github.com/rocketscienceinc/quoridor-backend/internal/entity"
	"github.com/rocketscienceinc/quoridor-backend/internal/pkg"
	"github.com/rocketscienceinc/quoridor-backend/internal/repository"
)

func (that *Server) handleConnect(ctx context.Context, client *Client, payload json.RawMessage) error {
	log := that.logger.With("method", "handleConnect", "connID", client.ID())

	var req ConnectPayload
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &req); err != nil {
			return fmt.Errorf("failed to unmarshal payload: %w", err)
		}
	}

	clientID := req.ClientID
	if clientID == "" {
		clientID = pkg.GenerateClientID()
	}

	connected, err := that.tracker.establish(client.ID(), clientID, time.Now())
	if err != nil {
		log.Error("failed to establish connection", "clientID", clientID, "error", err)
		return client.replyError("connect", "failed to establish connection")
	}

	client.setClientID(clientID)

	name := req.Name
	if name == "" {
		if profile, profileErr := that.profiles.GetByID(ctx, clientID); profileErr == nil {
			name = profile.Name
		}
	}

	if err = that.profiles.CreateOrUpdate(ctx, repository.Profile{ID: clientID, Name: name}); err != nil {
		log.Error("failed to store profile", "error", err)
	}

	// a reconnecting client picks up its old games; a game evicted while the
	// client was away is simply skipped
	for gameID := range connected.Subscriptions {
		if err = that.registerSubscriber(ctx, client, clientID, gameID); err != nil {
			log.Debug("could not restore subscription", "gameID", gameID, "error", err)
		}
	}

	if err = client.reply("connect", ResponsePayload{ClientID: clientID, Name: name}); err != nil {
		return fmt.Errorf("failed to send response: %w", err)
	}

	log.Info("successfully connected client", "clientID", clientID)

	return nil
}

func (that *Server) handleHeartbeat(_ context.Context, client *Client, _ json.RawMessage) error {
	clientID := client.ClientID()
	if clientID == "" {
		return client.replyError("heartbeat", "connect first")
	}

	that.tracker.heartbeat(clientID, time.Now())

	return client.reply("heartbeat", ResponsePayload{ClientID: clientID})
}

func (that *Server) handleNewGame(ctx context.Context, client *Client, payload json.RawMessage) error {
	log := that.logger.With("method", "handleNewGame", "connID", client.ID())

	clientID := client.ClientID()
	if clientID == "" {
		return client.replyError("game:new", "connect first")
	}

	var req NewGamePayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	if req.Mode != entity.ModePvP && req.Mode != entity.ModeWithBot {
		return client.replyError("game:new", "mode must be pvp or bot")
	}

	host := entity.Player{ID: clientID}
	if profile, err := that.profiles.GetByID(ctx, clientID); err == nil {
		host.Name = profile.Name
	}

	session, err := that.registry.CreateGame(ctx, host, entity.Settings{
		Mode:  req.Mode,
		Walls: req.Walls,
		Seed:  req.Seed,
	})
	if err != nil {
		if errors.Is(err, apperror.ErrResourceExhausted) {
			return client.replyError("game:new", err.Error())
		}

		log.Error("failed to create game", "error", err)

		return client.replyError("game:new", "failed to create a new game")
	}

	if err = that.registerSubscriber(ctx, client, clientID, session.SessionID()); err != nil {
		log.Error("failed to subscribe creator", "gameID", session.SessionID(), "error", err)
		return client.replyError("game:new", err.Error())
	}

	log.Info("game created", "gameID", session.SessionID(), "mode", req.Mode)

	return client.reply("game:new", ResponsePayload{ClientID: clientID, Game: viewOf(session)})
}

func (that *Server) handleJoinGame(ctx context.Context, client *Client, payload json.RawMessage) error {
	log := that.logger.With("method", "handleJoinGame", "connID", client.ID())

	clientID := client.ClientID()
	if clientID == "" {
		return client.replyError("game:join", "connect first")
	}

	var req JoinGamePayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	player := entity.Player{ID: clientID}
	if profile, err := that.profiles.GetByID(ctx, clientID); err == nil {
		player.Name = profile.Name
	}

	session, err := that.registry.JoinGame(ctx, req.GameID, player)

	switch {
	case errors.Is(err, apperror.ErrGameNotFound):
		return client.replyError("game:join", fmt.Sprintf("game %s does not exist", req.GameID))
	case errors.Is(err, apperror.ErrGameAlreadyExists):
		return client.replyError("game:join", fmt.Sprintf("game %s is already full", req.GameID))
	case err != nil:
		log.Error("failed to join game", "gameID", req.GameID, "error", err)
		return client.replyError("game:join", "failed to join the game")
	}

	if err = that.registerSubscriber(ctx, client, clientID, session.SessionID()); err != nil {
		if errors.Is(err, apperror.ErrResourceExhausted) {
			return client.replyError("game:join", err.Error())
		}

		log.Error("failed to subscribe player", "gameID", session.SessionID(), "error", err)

		return client.replyError("game:join", "failed to join the game")
	}

	log.Info("player joined game", "gameID", session.SessionID(), "clientID", clientID)

	return client.reply("game:join", ResponsePayload{ClientID: clientID, Game: viewOf(session)})
}

func (that *Server) handleGameTurn(ctx context.Context, client *Client, payload json.RawMessage) error {
	log := that.logger.With("method", "handleGameTurn", "connID", client.ID())

	clientID := client.ClientID()
	if clientID == "" {
		return client.replyError("game:turn", "connect first")
	}

	var req TurnPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	result, err := that.registry.ApplyMove(ctx, req.GameID, clientID, req.Action)

	switch {
	case errors.Is(err, apperror.ErrGameNotFound),
		errors.Is(err, apperror.ErrGameNotActive),
		errors.Is(err, apperror.ErrPlayerNotFound),
		errors.Is(err, apperror.ErrNotYourTurn),
		errors.Is(err, apperror.ErrIllegalAction):
		return client.replyError("game:turn", fmt.Sprintf("game %s: %v", req.GameID, err))
	case err != nil:
		log.Error("failed to make turn", "gameID", req.GameID, "error", err)
		return client.replyError("game:turn", "failed to make turn")
	}

	log.Info("player made a turn", "gameID", req.GameID, "clientID", clientID)

	return client.reply("game:turn", ResponsePayload{ClientID: clientID, Game: viewOf(result.Session)})
}

func (that *Server) handleGameResign(ctx context.Context, client *Client, payload json.RawMessage) error {
	log := that.logger.With("method", "handleGameResign", "connID", client.ID())

	clientID := client.ClientID()
	if clientID == "" {
		return client.replyError("game:resign", "connect first")
	}

	var req ResignPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	session, err := that.registry.Resign(ctx, req.GameID, clientID)

	switch {
	case errors.Is(err, apperror.ErrGameNotFound),
		errors.Is(err, apperror.ErrGameNotActive),
		errors.Is(err, apperror.ErrPlayerNotFound):
		return client.replyError("game:resign", fmt.Sprintf("game %s: %v", req.GameID, err))
	case err != nil:
		log.Error("failed to resign", "gameID", req.GameID, "error", err)
		return client.replyError("game:resign", "failed to resign")
	}

	log.Info("player resigned", "gameID", req.GameID, "clientID", clientID)

	return client.reply("game:resign", ResponsePayload{ClientID: clientID, Game: viewOf(session)})
}

// registerSubscriber wires one client into a game's presence set. The game's
// connection cap is checked first; a refused client is not registered at all.
func (that *Server) registerSubscriber(ctx context.Context, client *Client, clientID, gameID string) error {
	if err := that.registry.Subscribe(gameID, clientID); err != nil {
		return err
	}

	that.tracker.subscribe(clientID, gameID)
	client.trackGame(gameID)
	that.presence.Connect(ctx, client, gameID)

	return nil
}
