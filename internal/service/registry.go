package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rocketscienceinc/quoridor-backend/internal/apperror"
	"github.com/rocketscienceinc/quoridor-backend/internal/engine"
	"github.com/rocketscienceinc/quoridor-backend/internal/entity"
	"github.com/rocketscienceinc/quoridor-backend/internal/pkg"
)

const aiQueueCapacity = 256

// BotClientID names the bundled opponent inside a game id namespace.
func BotClientID(gameID string) string {
	return "bot:" + gameID
}

type gameArchive interface {
	SaveCompleted(ctx context.Context, game entity.CompletedGame) error
}

type notifier interface {
	Broadcast(ctx context.Context, gameID string, envelope Envelope, excludeID string)
}

// RegistryConfig carries the tunables the registry does not own.
type RegistryConfig struct {
	EngineOptions engine.Options
	Epsilon       float64
	Limits        entity.PoolLimits
}

// Registry owns the game-id keyed runtime maps: immutable session records,
// per-game mutexes and engine handles. The registry-wide mutex orders only
// map structure changes; all per-game work happens under that game's own
// mutex, so unrelated games never serialize on each other.
type Registry struct {
	logger  *slog.Logger
	engines engine.Factory
	archive gameArchive
	notify  notifier
	conf    RegistryConfig

	aiQueue chan string

	mu      sync.Mutex
	pool    entity.ResourcePool
	locks   map[string]*sync.Mutex
	handles map[string]engine.Handle
}

func NewRegistry(logger *slog.Logger, engines engine.Factory, archive gameArchive, notify notifier, conf RegistryConfig) *Registry {
	return &Registry{
		logger:  logger.With("component", "registry"),
		engines: engines,
		archive: archive,
		notify:  notify,
		conf:    conf,
		aiQueue: make(chan string, aiQueueCapacity),
		pool:    entity.NewResourcePool(conf.Limits),
		locks:   make(map[string]*sync.Mutex),
		handles: make(map[string]engine.Handle),
	}
}

// AIQueue exposes the work queue for the worker to drain.
func (that *Registry) AIQueue() <-chan string {
	return that.aiQueue
}

// CreateGame admits a new game for the host and binds the bundled opponent
// when the bot mode is requested. The game starts immediately once both
// players are bound.
func (that *Registry) CreateGame(ctx context.Context, host entity.Player, settings entity.Settings) (entity.GameSession, error) {
	gameID := pkg.GenerateGameID()
	now := time.Now()

	host.Control = entity.ControlHuman

	waiting := entity.NewWaitingGame(gameID, settings, now, host)

	var session entity.GameSession = waiting

	if settings.Mode == entity.ModeWithBot {
		joined, err := waiting.Join(entity.Player{
			ID:      BotClientID(gameID),
			Name:    "bot",
			Control: entity.ControlBot,
		}, now)
		if err != nil {
			return nil, fmt.Errorf("failed to bind bot player: %w", err)
		}

		active, err := entity.StartGame(joined, now)
		if err != nil {
			return nil, fmt.Errorf("failed to start game: %w", err)
		}

		session = active
	}

	opts := that.conf.EngineOptions
	if opts.Seed == 0 {
		opts.Seed = now.UnixNano()
	}
	if settings.Seed != 0 {
		opts.Seed = settings.Seed
	}

	handle, err := that.engines.Create(gameID, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine handle: %w", err)
	}

	if active, ok := session.(entity.ActiveGame); ok {
		board, renderErr := handle.Render(ctx, false)
		if renderErr != nil {
			_ = handle.Destroy()
			return nil, fmt.Errorf("failed to render initial board: %w", renderErr)
		}

		active.Board = board
		session = active
	}

	that.mu.Lock()
	pool, err := that.pool.WithGame(session)
	if err != nil {
		that.mu.Unlock()
		_ = handle.Destroy()

		return nil, err
	}

	that.pool = pool
	that.locks[gameID] = &sync.Mutex{}
	that.handles[gameID] = handle
	that.mu.Unlock()

	that.logger.Info("game created", "gameID", gameID, "mode", settings.Mode)

	if that.notify != nil {
		that.notify.Broadcast(ctx, gameID, Envelope{Type: EnvelopeGameCreated, Data: session}, "")
	}

	return session, nil
}

// JoinGame binds a second human player to a waiting game and starts it.
func (that *Registry) JoinGame(ctx context.Context, gameID string, player entity.Player) (entity.GameSession, error) {
	lock, err := that.getLock(gameID)
	if err != nil {
		return nil, err
	}

	lock.Lock()

	session, err := that.Game(gameID)
	if err != nil {
		lock.Unlock()
		return nil, err
	}

	waiting, ok := session.(entity.WaitingGame)
	if !ok {
		lock.Unlock()
		return nil, fmt.Errorf("%w: game id %s", apperror.ErrGameAlreadyExists, gameID)
	}

	player.Control = entity.ControlHuman

	now := time.Now()

	joined, err := waiting.Join(player, now)
	if err != nil {
		lock.Unlock()
		return nil, err
	}

	active, err := entity.StartGame(joined, now)
	if err != nil {
		lock.Unlock()
		return nil, err
	}

	if handle, handleErr := that.handle(gameID); handleErr == nil {
		if board, renderErr := handle.Render(ctx, false); renderErr == nil {
			active.Board = board
		}
	}

	if err = that.storeSession(active); err != nil {
		lock.Unlock()
		return nil, err
	}

	lock.Unlock()

	if that.notify != nil {
		that.notify.Broadcast(ctx, gameID, Envelope{Type: EnvelopeGameState, Data: active}, "")
	}

	return active, nil
}

// ApplyMove runs one validated move under the game's mutex. The AI turn, if
// any, is enqueued only after the mutex is released so the worker can never
// stall on a lock held by its own producer.
func (that *Registry) ApplyMove(ctx context.Context, gameID, playerID, action string) (entity.MoveResult, error) {
	lock, err := that.getLock(gameID)
	if err != nil {
		return entity.MoveResult{}, err
	}

	result, err := func() (entity.MoveResult, error) {
		lock.Lock()
		// The mutex must survive an engine panic, so the unlock is deferred.
		defer lock.Unlock()

		return that.applyMoveLocked(ctx, gameID, playerID, action)
	}()

	if err != nil {
		return entity.MoveResult{}, err
	}

	that.afterMove(ctx, gameID, result)

	return result, nil
}

// Resign completes a game in the opponent's favor.
func (that *Registry) Resign(ctx context.Context, gameID, playerID string) (entity.GameSession, error) {
	lock, err := that.getLock(gameID)
	if err != nil {
		return nil, err
	}

	lock.Lock()

	session, err := that.Game(gameID)
	if err != nil {
		lock.Unlock()
		return nil, err
	}

	active, ok := session.(entity.ActiveGame)
	if !ok {
		lock.Unlock()
		return nil, fmt.Errorf("%w: game %s", apperror.ErrGameNotActive, gameID)
	}

	completed, err := entity.Resign(active, playerID, time.Now())
	if err != nil {
		lock.Unlock()
		return nil, err
	}

	if err = that.storeSession(completed); err != nil {
		lock.Unlock()
		return nil, err
	}

	lock.Unlock()

	that.finishGame(ctx, completed)

	return completed, nil
}

// Game returns the current immutable session record.
func (that *Registry) Game(gameID string) (entity.GameSession, error) {
	that.mu.Lock()
	defer that.mu.Unlock()

	session, ok := that.pool.Games[gameID]
	if !ok {
		return nil, fmt.Errorf("%w: id %s", apperror.ErrGameNotFound, gameID)
	}

	return session, nil
}

// Metrics returns the pool's current counters.
func (that *Registry) Metrics() entity.PoolMetrics {
	that.mu.Lock()
	defer that.mu.Unlock()

	return that.pool.Metrics
}

// Delete drops a game's session, mutex and engine handle. Deletion takes the
// game's own mutex first, so it orders after any in-flight move and the handle
// is never destroyed under a live mutation.
func (that *Registry) Delete(gameID string) {
	that.mu.Lock()
	lock := that.locks[gameID]
	that.mu.Unlock()

	if lock != nil {
		lock.Lock()
		defer lock.Unlock()
	}

	that.mu.Lock()
	handle := that.handles[gameID]
	that.pool = that.pool.WithoutGame(gameID)
	delete(that.locks, gameID)
	delete(that.handles, gameID)
	that.mu.Unlock()

	if handle != nil {
		_ = handle.Destroy()
	}

	that.logger.Info("game deleted", "gameID", gameID)
}

// UpsertConnection records a connection state in the pool.
func (that *Registry) UpsertConnection(id string, state entity.ConnectionState) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	pool, err := that.pool.WithConnection(id, state)
	if err != nil {
		return err
	}

	that.pool = pool

	return nil
}

// DropConnection forgets a connection.
func (that *Registry) DropConnection(id string) {
	that.mu.Lock()
	that.pool = that.pool.WithoutConnection(id)
	that.mu.Unlock()
}

// Subscribe indexes a client under a game, refusing once the game's
// connection cap is reached. Players bound at admission re-subscribe freely.
func (that *Registry) Subscribe(gameID, clientID string) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	if _, ok := that.pool.Games[gameID]; !ok {
		return fmt.Errorf("%w: id %s", apperror.ErrGameNotFound, gameID)
	}

	pool, err := that.pool.WithSubscriber(gameID, clientID)
	if err != nil {
		return err
	}

	that.pool = pool

	return nil
}

// SweepStale evicts inactive games and dead connections, releasing every
// runtime resource the evicted games held. Each evicted handle is destroyed
// under its game's mutex so eviction never races a move still in flight.
func (that *Registry) SweepStale(now time.Time, inactivityTimeout time.Duration) entity.SweepReport {
	log := that.logger.With("method", "SweepStale")

	type evictedGame struct {
		lock   *sync.Mutex
		handle engine.Handle
	}

	that.mu.Lock()
	pool, report := that.pool.Sweep(now, inactivityTimeout, entity.HeartbeatStaleAfter)
	that.pool = pool

	doomed := make([]evictedGame, 0, len(report.EvictedGames))
	for _, gameID := range report.EvictedGames {
		doomed = append(doomed, evictedGame{lock: that.locks[gameID], handle: that.handles[gameID]})
		delete(that.locks, gameID)
		delete(that.handles, gameID)
	}
	that.mu.Unlock()

	for _, game := range doomed {
		if game.handle == nil {
			continue
		}

		if game.lock != nil {
			game.lock.Lock()
		}
		_ = game.handle.Destroy()
		if game.lock != nil {
			game.lock.Unlock()
		}
	}

	for _, gameID := range report.EvictedGames {
		log.Info("evicted stale game", "gameID", gameID)
	}
	for _, connID := range report.EvictedConnections {
		log.Info("evicted stale connection", "connID", connID)
	}

	return report
}

// getLock returns the per-game mutex, creating it on first use under the
// short registry-wide mutex. The caller holds the returned mutex for the full
// duration of its operation; the registry mutex is released immediately.
func (that *Registry) getLock(gameID string) (*sync.Mutex, error) {
	that.mu.Lock()
	defer that.mu.Unlock()

	if _, ok := that.pool.Games[gameID]; !ok {
		return nil, fmt.Errorf("%w: id %s", apperror.ErrGameNotFound, gameID)
	}

	lock, ok := that.locks[gameID]
	if !ok {
		lock = &sync.Mutex{}
		that.locks[gameID] = lock
	}

	return lock, nil
}

func (that *Registry) handle(gameID string) (engine.Handle, error) {
	that.mu.Lock()
	defer that.mu.Unlock()

	handle, ok := that.handles[gameID]
	if !ok {
		return nil, fmt.Errorf("%w: id %s", apperror.ErrGameNotFound, gameID)
	}

	return handle, nil
}

func (that *Registry) storeSession(session entity.GameSession) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	pool, err := that.pool.WithGame(session)
	if err != nil {
		return err
	}

	that.pool = pool

	return nil
}

// applyMoveLocked is the single mutation path shared by API moves and AI
// moves. The caller must hold the game's mutex.
func (that *Registry) applyMoveLocked(ctx context.Context, gameID, playerID, action string) (entity.MoveResult, error) {
	session, err := that.Game(gameID)
	if err != nil {
		return entity.MoveResult{}, err
	}

	active, ok := session.(entity.ActiveGame)
	if !ok {
		return entity.MoveResult{}, fmt.Errorf("%w: game %s", apperror.ErrGameNotActive, gameID)
	}

	mover, ok := active.PlayerByID(playerID)
	if !ok {
		return entity.MoveResult{}, fmt.Errorf("%w: player %s in game %s", apperror.ErrPlayerNotFound, playerID, gameID)
	}

	if mover.Role != active.Turn {
		return entity.MoveResult{}, fmt.Errorf("%w: game %s", apperror.ErrNotYourTurn, gameID)
	}

	handle, err := that.handle(gameID)
	if err != nil {
		return entity.MoveResult{}, err
	}

	// Tokens cross the adapter in the mover's own perspective.
	flip := mover.Role == entity.RoleSecondary

	legal, err := handle.LegalActions(ctx, flip)
	if err != nil {
		return entity.MoveResult{}, that.engineFailure(gameID, "legal actions", err)
	}

	var chosen *engine.Action
	for i := range legal {
		if legal[i].Token == action {
			chosen = &legal[i]
			break
		}
	}

	if chosen == nil {
		return entity.MoveResult{}, fmt.Errorf("%w: %s in game %s", apperror.ErrIllegalAction, action, gameID)
	}

	if err = handle.ApplyMove(ctx, action, flip); err != nil {
		return entity.MoveResult{}, that.engineFailure(gameID, "apply move", err)
	}

	replies, err := handle.LegalActions(ctx, !flip)
	if err != nil {
		return entity.MoveResult{}, that.engineFailure(gameID, "legal replies", err)
	}

	evaluation, err := handle.Evaluation(ctx)
	if err != nil {
		return entity.MoveResult{}, that.engineFailure(gameID, "evaluation", err)
	}

	board, err := handle.Render(ctx, false)
	if err != nil {
		return entity.MoveResult{}, that.engineFailure(gameID, "render", err)
	}

	result, err := entity.ProcessMove(active, playerID, entity.MoveInput{
		Action:       action,
		Visits:       chosen.Visits,
		Equity:       chosen.Equity,
		Evaluation:   evaluation,
		LegalReplies: len(replies),
		Board:        board,
	}, time.Now())
	if err != nil {
		return entity.MoveResult{}, err
	}

	if err = that.storeSession(result.Session); err != nil {
		return entity.MoveResult{}, err
	}

	return result, nil
}

// engineFailure wraps an adapter error. A reentrancy violation is reported
// loudly: it means two mutators raced one handle despite the per-game mutex.
func (that *Registry) engineFailure(gameID, op string, err error) error {
	if errors.Is(err, apperror.ErrEngineBusy) {
		that.logger.Error("engine handle reentrancy detected", "gameID", gameID, "op", op, "error", err)
		return fmt.Errorf("engine %s: %w", op, err)
	}

	return fmt.Errorf("engine %s: %w", op, err)
}

// afterMove runs outside the game mutex: fan out the new state, then hand the
// turn to the worker when the next mover is the bot.
func (that *Registry) afterMove(ctx context.Context, gameID string, result entity.MoveResult) {
	if that.notify != nil {
		that.notify.Broadcast(ctx, gameID, Envelope{Type: EnvelopeMove, Data: result.Move}, "")
	}

	if completed, ok := result.Session.(entity.CompletedGame); ok {
		that.finishGame(ctx, completed)
		return
	}

	if that.notify != nil {
		that.notify.Broadcast(ctx, gameID, Envelope{Type: EnvelopeGameState, Data: result.Session}, "")
	}

	if result.AIShouldMove {
		that.enqueueAITurn(gameID)
	}
}

func (that *Registry) enqueueAITurn(gameID string) {
	select {
	case that.aiQueue <- gameID:
	default:
		that.logger.Warn("ai queue full, dropping turn", "gameID", gameID)
	}
}

func (that *Registry) finishGame(ctx context.Context, completed entity.CompletedGame) {
	log := that.logger.With("method", "finishGame", "gameID", completed.ID)

	if that.notify != nil {
		that.notify.Broadcast(ctx, completed.ID, Envelope{Type: EnvelopeGameEnded, Data: completed}, "")
	}

	if that.archive != nil {
		if err := that.archive.SaveCompleted(ctx, completed); err != nil {
			log.Error("failed to archive game", "error", err)
		}
	}

	log.Info("game completed", "winner", completed.Winner, "reason", completed.Reason)
}
