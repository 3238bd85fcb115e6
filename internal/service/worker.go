package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rocketscienceinc/quoridor-backend/internal/engine"
	"github.com/rocketscienceinc/quoridor-backend/internal/entity"
)

var (
	// ErrStaleAITurn marks an enqueued id whose game no longer needs a bot
	// move. A stale enqueue is expected traffic, not a failure.
	ErrStaleAITurn = errors.New("stale ai turn")

	// ErrComputeAbandoned marks a computation that overran its budget and was
	// cancelled. The turn silently does not happen.
	ErrComputeAbandoned = errors.New("ai computation abandoned")
)

// WorkerConfig bounds one computation attempt.
type WorkerConfig struct {
	ComputeTimeout    time.Duration
	TargetSimulations int
	Epsilon           float64
	Backoff           time.Duration
}

// AIWorker is the single long-lived consumer of the registry's work queue.
// One worker means bot turns are strictly serialized across all games; the
// per-game mutex inside PlayAITurn is what actually protects the handles, so
// adding workers would not relax the exclusion guarantee.
type AIWorker struct {
	logger   *slog.Logger
	registry *Registry
	conf     WorkerConfig
}

func NewAIWorker(logger *slog.Logger, registry *Registry, conf WorkerConfig) *AIWorker {
	if conf.Backoff <= 0 {
		conf.Backoff = 250 * time.Millisecond
	}

	return &AIWorker{
		logger:   logger.With("component", "ai-worker"),
		registry: registry,
		conf:     conf,
	}
}

// Run drains the queue until the context is cancelled. Each item runs inside
// its own error boundary; nothing a single item does can kill the loop.
func (that *AIWorker) Run(ctx context.Context) {
	log := that.logger.With("method", "Run")
	log.Info("ai worker started")

	for {
		select {
		case <-ctx.Done():
			log.Info("ai worker stopped")
			return
		case gameID := <-that.registry.AIQueue():
			that.processOne(ctx, gameID)
		}
	}
}

func (that *AIWorker) processOne(ctx context.Context, gameID string) {
	log := that.logger.With("method", "processOne", "gameID", gameID)

	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while playing ai turn", "panic", r)
			time.Sleep(that.conf.Backoff)
		}
	}()

	err := that.registry.PlayAITurn(ctx, gameID, that.conf)

	switch {
	case err == nil:
	case errors.Is(err, ErrStaleAITurn):
		log.Debug("skipping stale enqueue")
	case errors.Is(err, ErrComputeAbandoned):
		log.Warn("computation over budget, turn abandoned", "error", err)
	default:
		log.Error("failed to play ai turn", "error", err)
		time.Sleep(that.conf.Backoff)
	}
}

// PlayAITurn computes and applies one bot move under the same per-game mutex
// and the same applyMoveLocked path an API move uses.
func (that *Registry) PlayAITurn(ctx context.Context, gameID string, conf WorkerConfig) error {
	lock, err := that.getLock(gameID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStaleAITurn, err)
	}

	result, err := func() (entity.MoveResult, error) {
		lock.Lock()
		// The worker recovers from engine panics; the unlock must survive them
		// too or the game stays bricked.
		defer lock.Unlock()

		return that.playAITurnLocked(ctx, gameID, conf)
	}()

	if err != nil {
		return err
	}

	that.afterMove(ctx, gameID, result)

	return nil
}

func (that *Registry) playAITurnLocked(ctx context.Context, gameID string, conf WorkerConfig) (entity.MoveResult, error) {
	session, err := that.Game(gameID)
	if err != nil {
		return entity.MoveResult{}, fmt.Errorf("%w: %v", ErrStaleAITurn, err)
	}

	active, ok := session.(entity.ActiveGame)
	if !ok {
		return entity.MoveResult{}, fmt.Errorf("%w: game %s is not active", ErrStaleAITurn, gameID)
	}

	mover := active.CurrentPlayer()
	if !mover.IsBot() {
		return entity.MoveResult{}, fmt.Errorf("%w: current mover of %s is not the bot", ErrStaleAITurn, gameID)
	}

	handle, err := that.handle(gameID)
	if err != nil {
		return entity.MoveResult{}, fmt.Errorf("%w: %v", ErrStaleAITurn, err)
	}

	computeCtx, cancel := context.WithTimeout(ctx, conf.ComputeTimeout)
	defer cancel()

	if err = handle.EnsureSimulations(computeCtx, conf.TargetSimulations); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, engine.ErrCancelled) {
			// Cancellation is idempotent and the handle stays usable for the
			// next attempt.
			handle.Cancel()
			return entity.MoveResult{}, fmt.Errorf("%w: game %s: %v", ErrComputeAbandoned, gameID, err)
		}

		return entity.MoveResult{}, fmt.Errorf("failed to run simulations: %w", err)
	}

	flip := mover.Role == entity.RoleSecondary

	action, err := handle.BestAction(ctx, conf.Epsilon)
	if err != nil {
		return entity.MoveResult{}, fmt.Errorf("failed to pick best action: %w", err)
	}

	if flip {
		// BestAction speaks the canonical perspective; applyMoveLocked
		// expects the mover's own.
		token, parseErr := engine.ParseToken(action)
		if parseErr != nil {
			return entity.MoveResult{}, fmt.Errorf("failed to parse best action: %w", parseErr)
		}

		action = token.Flip().String()
	}

	return that.applyMoveLocked(ctx, gameID, mover.ID, action)
}
