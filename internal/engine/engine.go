package engine

import (
	"context"
	"errors"
)

var (
	ErrNoLegalActions = errors.New("no legal actions in this position")
	ErrCancelled      = errors.New("computation cancelled")
)

// Options configures one move-search instance.
type Options struct {
	Seed           int64
	C              float64
	MinSimulations int
	MaxSimulations int
	SimIncrement   int
	UseRollout     bool
	EvalChildren   bool
	UsePUCT        bool
	UseProbs       bool
	DecideByVisits bool
}

// Action is one legal action with its search statistics.
type Action struct {
	Visits int
	Equity float64
	Token  string
}

// Handle is an opaque reference to one game's move-search instance. A handle
// is exclusively mutated by whoever holds that game's mutex; concurrent calls
// on one handle are a programming error and fail loudly with ErrEngineBusy.
//
// Cancel and Destroy are safe to call at any time; a cancelled handle remains
// usable for the next computation.
type Handle interface {
	// ApplyMove mutates the position in place. The token is interpreted in
	// the mover's perspective when flip is set.
	ApplyMove(ctx context.Context, token string, flip bool) error

	// LegalActions returns the current mover's actions sorted by strength
	// descending.
	LegalActions(ctx context.Context, flip bool) ([]Action, error)

	// BestAction picks an action epsilon-greedily.
	BestAction(ctx context.Context, epsilon float64) (string, error)

	// EnsureSimulations blocks until at least n simulations have completed,
	// the context expires or the handle is cancelled.
	EnsureSimulations(ctx context.Context, n int) error

	// Evaluation reports a decisive verdict in [-1,1], or nil while the
	// position is non-terminal.
	Evaluation(ctx context.Context) (*float64, error)

	// Render returns a text view of the board.
	Render(ctx context.Context, flip bool) (string, error)

	// Cancel aborts an in-flight computation, best effort and idempotent.
	Cancel()

	Destroy() error
}

// Factory creates engine handles, one per game.
type Factory interface {
	Create(gameID string, opts Options) (Handle, error)
}
