package apperror

import "errors"

var (
	ErrGameNotFound      = errors.New("game not found")
	ErrGameNotActive     = errors.New("game is not active")
	ErrGameFinished      = errors.New("game is already finished")
	ErrGameIsNotStarted  = errors.New("game is not started")
	ErrPlayerNotFound    = errors.New("player is not part of this game")
	ErrNotYourTurn       = errors.New("it's not your turn")
	ErrIllegalAction     = errors.New("action is not legal in this position")
	ErrGameAlreadyExists = errors.New("game already exists")

	// ErrResourceExhausted means an admission cap was hit; the pool is unchanged.
	ErrResourceExhausted = errors.New("resource limit exceeded")

	// ErrEngineBusy means two mutators raced one engine handle. It signals a
	// locking-discipline bug and must never be swallowed.
	ErrEngineBusy = errors.New("concurrent access to engine handle")
)
