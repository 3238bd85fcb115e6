package entity

import (
	"fmt"
	"time"

	"github.com/rocketscienceinc/quoridor-backend/internal/apperror"
)

const (
	RolePrimary   = 1
	RoleSecondary = 2

	ControlHuman = "human"
	ControlBot   = "bot"

	ModePvP     = "pvp"
	ModeWithBot = "bot"

	ReasonResignation  = "resignation"
	ReasonNoLegalMoves = "no-legal-moves"
	ReasonDecisive     = "decisive"

	DefaultWallCount = 10
)

type Player struct {
	ID             string        `json:"id"`
	Name           string        `json:"name,omitempty"`
	Role           int           `json:"role"`
	Control        string        `json:"control"`
	WallsRemaining int           `json:"walls_remaining"`
	ClockRemaining time.Duration `json:"clock_remaining,omitempty"`
}

func (that Player) IsBot() bool {
	return that.Control == ControlBot
}

// Move is one applied action. The move log is append-only.
type Move struct {
	PlayerID string    `json:"player_id"`
	Action   string    `json:"action"`
	Sequence int       `json:"sequence"`
	Visits   int       `json:"visits,omitempty"`
	Equity   float64   `json:"equity,omitempty"`
	PlayedAt time.Time `json:"played_at"`
}

type Settings struct {
	Mode  string `json:"mode"`
	Walls int    `json:"walls"`
	Seed  int64  `json:"seed,omitempty"`
}

// GameSession is a tagged union: exactly one of WaitingGame, ActiveGame or
// CompletedGame. Every transition returns a fresh value; nothing is mutated
// in place, so readers never need a lock.
type GameSession interface {
	isGameSession()

	SessionID() string
	LastActivity() time.Time
}

type WaitingGame struct {
	ID             string    `json:"id"`
	Players        []Player  `json:"players"`
	Settings       Settings  `json:"settings"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

type ActiveGame struct {
	ID             string    `json:"id"`
	Players        [2]Player `json:"players"`
	Turn           int       `json:"turn"`
	Moves          []Move    `json:"moves"`
	Board          string    `json:"board"`
	Settings       Settings  `json:"settings"`
	CreatedAt      time.Time `json:"created_at"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

type CompletedGame struct {
	ID        string    `json:"id"`
	Players   [2]Player `json:"players"`
	Moves     []Move    `json:"moves"`
	Board     string    `json:"board"`
	Settings  Settings  `json:"settings"`
	Winner    int       `json:"winner"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}

func (WaitingGame) isGameSession()   {}
func (ActiveGame) isGameSession()    {}
func (CompletedGame) isGameSession() {}

func (that WaitingGame) SessionID() string   { return that.ID }
func (that ActiveGame) SessionID() string    { return that.ID }
func (that CompletedGame) SessionID() string { return that.ID }

func (that WaitingGame) LastActivity() time.Time   { return that.LastActivityAt }
func (that ActiveGame) LastActivity() time.Time    { return that.LastActivityAt }
func (that CompletedGame) LastActivity() time.Time { return that.EndedAt }

func NewWaitingGame(id string, settings Settings, now time.Time, players ...Player) WaitingGame {
	if settings.Walls == 0 {
		settings.Walls = DefaultWallCount
	}

	bound := make([]Player, 0, 2)
	for i, player := range players {
		player.Role = i + 1
		player.WallsRemaining = settings.Walls
		bound = append(bound, player)
	}

	return WaitingGame{
		ID:             id,
		Players:        bound,
		Settings:       settings,
		CreatedAt:      now,
		LastActivityAt: now,
	}
}

// Join binds one more player to a waiting game.
func (that WaitingGame) Join(player Player, now time.Time) (WaitingGame, error) {
	if len(that.Players) >= 2 {
		return WaitingGame{}, fmt.Errorf("%w: game id %s", apperror.ErrGameAlreadyExists, that.ID)
	}

	player.Role = len(that.Players) + 1
	player.WallsRemaining = that.Settings.Walls

	players := make([]Player, len(that.Players), len(that.Players)+1)
	copy(players, that.Players)
	players = append(players, player)

	that.Players = players
	that.LastActivityAt = now

	return that, nil
}

// StartGame promotes a waiting game once both players are bound.
// The primary player always moves first.
func StartGame(waiting WaitingGame, now time.Time) (ActiveGame, error) {
	if len(waiting.Players) != 2 {
		return ActiveGame{}, fmt.Errorf("%w: game id %s", apperror.ErrGameIsNotStarted, waiting.ID)
	}

	return ActiveGame{
		ID:             waiting.ID,
		Players:        [2]Player{waiting.Players[0], waiting.Players[1]},
		Turn:           RolePrimary,
		Moves:          nil,
		Settings:       waiting.Settings,
		CreatedAt:      waiting.CreatedAt,
		StartedAt:      now,
		LastActivityAt: now,
	}, nil
}

// MoveInput carries everything ProcessMove needs from the engine: the action
// itself, search statistics for the move log, a decisive evaluation if the
// engine reported one, the number of legal replies left to the next mover and
// the rendered board after the move.
type MoveInput struct {
	Action       string
	Visits       int
	Equity       float64
	Evaluation   *float64
	LegalReplies int
	Board        string
}

type MoveResult struct {
	Session      GameSession
	Move         Move
	AIShouldMove bool
}

// ProcessMove applies one validated move to an active game. The game
// terminates iff the next mover has no legal reply or the engine evaluation
// is decisive; otherwise the turn flips. The winner-from-evaluation sign
// convention (positive means primary) is pinned by tests.
func ProcessMove(game ActiveGame, playerID string, input MoveInput, now time.Time) (MoveResult, error) {
	mover, ok := game.PlayerByID(playerID)
	if !ok {
		return MoveResult{}, fmt.Errorf("%w: player %s in game %s", apperror.ErrPlayerNotFound, playerID, game.ID)
	}

	if mover.Role != game.Turn {
		return MoveResult{}, fmt.Errorf("%w: game %s", apperror.ErrNotYourTurn, game.ID)
	}

	// Wall placements spend from the mover's budget; the session record must
	// track it, the engine keeps its own count.
	if len(input.Action) > 0 && (input.Action[0] == 'H' || input.Action[0] == 'V') {
		for i := range game.Players {
			if game.Players[i].ID == playerID && game.Players[i].WallsRemaining > 0 {
				game.Players[i].WallsRemaining--
			}
		}
	}

	move := Move{
		PlayerID: playerID,
		Action:   input.Action,
		Sequence: len(game.Moves) + 1,
		Visits:   input.Visits,
		Equity:   input.Equity,
		PlayedAt: now,
	}

	moves := make([]Move, len(game.Moves), len(game.Moves)+1)
	copy(moves, game.Moves)
	moves = append(moves, move)

	if input.LegalReplies == 0 {
		completed := game.complete(moves, input.Board, mover.Role, ReasonNoLegalMoves, now)
		return MoveResult{Session: completed, Move: move}, nil
	}

	if input.Evaluation != nil {
		winner := RoleSecondary
		if *input.Evaluation > 0 {
			winner = RolePrimary
		}

		completed := game.complete(moves, input.Board, winner, ReasonDecisive, now)
		return MoveResult{Session: completed, Move: move}, nil
	}

	game.Turn = otherRole(mover.Role)
	game.Moves = moves
	game.Board = input.Board
	game.LastActivityAt = now

	next, _ := game.playerByRole(game.Turn)

	return MoveResult{
		Session:      game,
		Move:         move,
		AIShouldMove: next.IsBot(),
	}, nil
}

// Resign completes an active game in favor of the other player.
func Resign(game ActiveGame, playerID string, now time.Time) (CompletedGame, error) {
	resigning, ok := game.PlayerByID(playerID)
	if !ok {
		return CompletedGame{}, fmt.Errorf("%w: player %s in game %s", apperror.ErrPlayerNotFound, playerID, game.ID)
	}

	return game.complete(game.Moves, game.Board, otherRole(resigning.Role), ReasonResignation, now), nil
}

func (that ActiveGame) PlayerByID(id string) (Player, bool) {
	for _, player := range that.Players {
		if player.ID == id {
			return player, true
		}
	}

	return Player{}, false
}

func (that ActiveGame) CurrentPlayer() Player {
	player, _ := that.playerByRole(that.Turn)
	return player
}

func (that ActiveGame) playerByRole(role int) (Player, bool) {
	for _, player := range that.Players {
		if player.Role == role {
			return player, true
		}
	}

	return Player{}, false
}

func (that ActiveGame) complete(moves []Move, board string, winner int, reason string, now time.Time) CompletedGame {
	return CompletedGame{
		ID:        that.ID,
		Players:   that.Players,
		Moves:     moves,
		Board:     board,
		Settings:  that.Settings,
		Winner:    winner,
		Reason:    reason,
		CreatedAt: that.CreatedAt,
		StartedAt: that.StartedAt,
		EndedAt:   now,
	}
}

func otherRole(role int) int {
	if role == RolePrimary {
		return RoleSecondary
	}

	return RolePrimary
}
