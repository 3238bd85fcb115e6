package websocket

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rocketscienceinc/quoridor-backend/internal/entity"
)

type connectionPool interface {
	UpsertConnection(id string, state entity.ConnectionState) error
	DropConnection(id string)
}

// tracker drives the pure connection state machine for every socket and
// mirrors the resulting states into the registry's resource pool. Keys are
// conn ids until a client identity is established, client ids afterwards, so
// a Reconnecting record survives the socket that carried it.
type tracker struct {
	logger *slog.Logger
	pool   connectionPool

	mu     sync.Mutex
	states map[string]entity.ConnectionState
}

func newTracker(logger *slog.Logger, pool connectionPool) *tracker {
	return &tracker{
		logger: logger.With("component", "conn-tracker"),
		pool:   pool,
		states: make(map[string]entity.ConnectionState),
	}
}

// opened registers a fresh socket in the Connecting state.
func (that *tracker) opened(connID string, now time.Time) error {
	state, err := entity.StartConnection(entity.Disconnected{}, connID, now)
	if err != nil {
		return err
	}

	that.mu.Lock()
	that.states[connID] = state
	that.mu.Unlock()

	return that.pool.UpsertConnection(connID, state)
}

// establish upgrades a handshaking socket to Connected. A client id that is
// currently Reconnecting gets its previous subscription set back.
func (that *tracker) establish(connID, clientID string, now time.Time) (entity.Connected, error) {
	that.mu.Lock()

	prior := that.states[clientID]
	if rec, ok := prior.(entity.Reconnecting); ok {
		if rec.GaveUp() {
			that.mu.Unlock()
			return entity.Connected{}, entity.ErrReconnectsExhausted
		}

		connected, err := entity.Establish(rec, clientID, connID, now)
		if err != nil {
			that.mu.Unlock()
			return entity.Connected{}, err
		}

		delete(that.states, connID)
		that.states[clientID] = connected
		that.mu.Unlock()

		that.pool.DropConnection(connID)

		return connected, that.pool.UpsertConnection(clientID, connected)
	}

	handshake, ok := that.states[connID]
	if !ok {
		that.mu.Unlock()
		return entity.Connected{}, fmt.Errorf("%w: unknown conn %s", entity.ErrInvalidTransition, connID)
	}

	connected, err := entity.Establish(handshake, clientID, connID, now)
	if err != nil {
		that.mu.Unlock()
		return entity.Connected{}, err
	}

	delete(that.states, connID)
	that.states[clientID] = connected
	that.mu.Unlock()

	that.pool.DropConnection(connID)

	return connected, that.pool.UpsertConnection(clientID, connected)
}

func (that *tracker) heartbeat(clientID string, now time.Time) {
	that.mu.Lock()
	state, ok := that.states[clientID]
	if ok {
		state = entity.Heartbeat(state, now)
		that.states[clientID] = state
	}
	that.mu.Unlock()

	if ok {
		_ = that.pool.UpsertConnection(clientID, state)
	}
}

func (that *tracker) subscribe(clientID, gameID string) {
	that.mu.Lock()
	connected, ok := that.states[clientID].(entity.Connected)
	if ok {
		connected = connected.Subscribe(gameID)
		that.states[clientID] = connected
	}
	that.mu.Unlock()

	if ok {
		_ = that.pool.UpsertConnection(clientID, connected)
	}
}

// closed records a dropped socket. Established clients may come back, so
// they park in Reconnecting; a socket that never finished its handshake is
// simply forgotten.
func (that *tracker) closed(connID, clientID string, now time.Time) {
	key := clientID
	if key == "" {
		key = connID
	}

	that.mu.Lock()
	state, ok := that.states[key]
	if !ok {
		that.mu.Unlock()
		return
	}

	allowReconnect := clientID != ""
	state = entity.Disconnect(state, "connection closed", allowReconnect, now)

	if _, gone := state.(entity.Disconnected); gone {
		delete(that.states, key)
		that.mu.Unlock()

		that.pool.DropConnection(key)

		return
	}

	that.states[key] = state
	that.mu.Unlock()

	_ = that.pool.UpsertConnection(key, state)
}

// sweep demotes stale states. Every interval a Reconnecting client stays
// away counts as one missed attempt toward its give-up threshold.
func (that *tracker) sweep(now time.Time) {
	that.mu.Lock()

	updated := make(map[string]entity.ConnectionState, len(that.states))
	dropped := make([]string, 0)

	for key, state := range that.states {
		if _, ok := state.(entity.Reconnecting); ok {
			state = entity.FailReconnect(state, now)
		}

		state = entity.SweepConnection(state, now, entity.HeartbeatStaleAfter)

		if _, gone := state.(entity.Disconnected); gone {
			delete(that.states, key)
			dropped = append(dropped, key)
			continue
		}

		that.states[key] = state
		updated[key] = state
	}

	that.mu.Unlock()

	for key, state := range updated {
		_ = that.pool.UpsertConnection(key, state)
	}
	for _, key := range dropped {
		that.pool.DropConnection(key)
		that.logger.Info("connection gave up", "id", key)
	}
}
