package websocket

import (
	"encoding/json"

	"github.com/rocketscienceinc/quoridor-backend/internal/entity"
)

// Message represents a client message with an action type and a payload.
type Message struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type ConnectPayload struct {
	ClientID string `json:"client_id,omitempty"`
	Name     string `json:"name,omitempty"`
}

type NewGamePayload struct {
	Mode  string `json:"mode"`
	Walls int    `json:"walls,omitempty"`
	Seed  int64  `json:"seed,omitempty"`
}

type JoinGamePayload struct {
	GameID string `json:"game_id"`
}

type TurnPayload struct {
	GameID string `json:"game_id"`
	Action string `json:"action"`
}

type ResignPayload struct {
	GameID string `json:"game_id"`
}

type ResponsePayload struct {
	ClientID string    `json:"client_id,omitempty"`
	Name     string    `json:"name,omitempty"`
	Game     *GameView `json:"game,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// GameView flattens the session union for the wire.
type GameView struct {
	ID      string          `json:"id"`
	Status  string          `json:"status"`
	Players []entity.Player `json:"players"`
	Turn    int             `json:"turn,omitempty"`
	Board   string          `json:"board,omitempty"`
	Moves   int             `json:"moves"`
	Winner  int             `json:"winner,omitempty"`
	Reason  string          `json:"reason,omitempty"`
}

func viewOf(session entity.GameSession) *GameView {
	switch game := session.(type) {
	case entity.WaitingGame:
		return &GameView{
			ID:      game.ID,
			Status:  "waiting",
			Players: game.Players,
		}
	case entity.ActiveGame:
		return &GameView{
			ID:      game.ID,
			Status:  "active",
			Players: game.Players[:],
			Turn:    game.Turn,
			Board:   game.Board,
			Moves:   len(game.Moves),
		}
	case entity.CompletedGame:
		return &GameView{
			ID:      game.ID,
			Status:  "completed",
			Players: game.Players[:],
			Board:   game.Board,
			Moves:   len(game.Moves),
			Winner:  game.Winner,
			Reason:  game.Reason,
		}
	default:
		return nil
	}
}
