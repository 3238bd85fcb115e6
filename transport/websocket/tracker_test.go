package websocket

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/rocketscienceinc/quoridor-backend/internal/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePool records what the tracker mirrors into the registry.
type fakePool struct {
	mu      sync.Mutex
	states  map[string]entity.ConnectionState
	dropped []string
}

func newFakePool() *fakePool {
	return &fakePool{states: make(map[string]entity.ConnectionState)}
}

func (that *fakePool) UpsertConnection(id string, state entity.ConnectionState) error {
	that.mu.Lock()
	that.states[id] = state
	that.mu.Unlock()

	return nil
}

func (that *fakePool) DropConnection(id string) {
	that.mu.Lock()
	delete(that.states, id)
	that.dropped = append(that.dropped, id)
	that.mu.Unlock()
}

func (that *fakePool) stateOf(id string) (entity.ConnectionState, bool) {
	that.mu.Lock()
	defer that.mu.Unlock()

	state, ok := that.states[id]

	return state, ok
}

func newTestTracker() (*tracker, *fakePool) {
	pool := newFakePool()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return newTracker(logger, pool), pool
}

func TestTrackerHandshake(t *testing.T) {
	now := time.Now()

	t.Run("OpenedThenEstablished", func(t *testing.T) {
		tracker, pool := newTestTracker()

		// Given: a fresh socket
		require.NoError(t, tracker.opened("conn-1", now))

		_, ok := pool.stateOf("conn-1")
		require.True(t, ok)

		// When: the client identifies itself
		connected, err := tracker.establish("conn-1", "alice", now)
		require.NoError(t, err)

		// Then: the record is re-keyed from conn id to client id
		assert.Equal(t, "alice", connected.ClientID)
		assert.Empty(t, connected.Subscriptions)

		_, ok = pool.stateOf("conn-1")
		assert.False(t, ok)
		state, ok := pool.stateOf("alice")
		require.True(t, ok)
		_, ok = state.(entity.Connected)
		assert.True(t, ok)
	})

	t.Run("UnknownConn_Refused", func(t *testing.T) {
		tracker, _ := newTestTracker()

		_, err := tracker.establish("conn-9", "alice", now)

		require.Error(t, err)
		assert.ErrorIs(t, err, entity.ErrInvalidTransition)
	})
}

func TestTrackerReconnect(t *testing.T) {
	now := time.Now()

	setupConnected := func(t *testing.T) (*tracker, *fakePool) {
		t.Helper()

		tracker, pool := newTestTracker()
		require.NoError(t, tracker.opened("conn-1", now))
		_, err := tracker.establish("conn-1", "alice", now)
		require.NoError(t, err)

		return tracker, pool
	}

	t.Run("SubscriptionsSurviveSocketLoss", func(t *testing.T) {
		tracker, pool := setupConnected(t)
		tracker.subscribe("alice", "g1")

		// When: the socket drops with a known client identity
		tracker.closed("conn-1", "alice", now)

		state, ok := pool.stateOf("alice")
		require.True(t, ok)
		reconnecting, ok := state.(entity.Reconnecting)
		require.True(t, ok)
		assert.Contains(t, reconnecting.Subscriptions, "g1")

		// And: a new socket brings the subscriptions back
		require.NoError(t, tracker.opened("conn-2", now.Add(2*time.Second)))
		connected, err := tracker.establish("conn-2", "alice", now.Add(2*time.Second))
		require.NoError(t, err)
		assert.Contains(t, connected.Subscriptions, "g1")
	})

	t.Run("AnonymousSocket_Forgotten", func(t *testing.T) {
		tracker, pool := newTestTracker()
		require.NoError(t, tracker.opened("conn-1", now))

		// A socket that never identified cannot reconnect.
		tracker.closed("conn-1", "", now)

		_, ok := pool.stateOf("conn-1")
		assert.False(t, ok)
		assert.Contains(t, pool.dropped, "conn-1")
	})

	t.Run("ExhaustedClient_Refused", func(t *testing.T) {
		tracker, _ := newTestTracker()

		// Given: a parked record that already burned every attempt
		tracker.states["alice"] = entity.Reconnecting{
			ClientID: "alice",
			Attempts: entity.MaxReconnectAttempts,
			SinceAt:  now,
		}

		require.NoError(t, tracker.opened("conn-2", now))
		_, err := tracker.establish("conn-2", "alice", now)

		require.Error(t, err)
		assert.ErrorIs(t, err, entity.ErrReconnectsExhausted)
	})

	t.Run("DroppedClient_StartsFresh", func(t *testing.T) {
		tracker, pool := setupConnected(t)
		tracker.subscribe("alice", "g1")
		tracker.closed("conn-1", "alice", now)

		// When: the client stays away until the sweeps give up on it
		for i := 0; i <= entity.MaxReconnectAttempts; i++ {
			tracker.sweep(now)
		}
		assert.Contains(t, pool.dropped, "alice")

		// Then: coming back later works, with an empty subscription set
		require.NoError(t, tracker.opened("conn-2", now.Add(2*time.Second)))
		connected, err := tracker.establish("conn-2", "alice", now.Add(2*time.Second))
		require.NoError(t, err)
		assert.Empty(t, connected.Subscriptions)
	})
}

func TestTrackerSweep(t *testing.T) {
	now := time.Now()

	t.Run("GivenUpClient_Dropped", func(t *testing.T) {
		tracker, pool := newTestTracker()
		require.NoError(t, tracker.opened("conn-1", now))
		_, err := tracker.establish("conn-1", "alice", now)
		require.NoError(t, err)

		tracker.closed("conn-1", "alice", now)

		for i := 0; i <= entity.MaxReconnectAttempts; i++ {
			tracker.sweep(now)
		}

		_, ok := pool.stateOf("alice")
		assert.False(t, ok)
		assert.Contains(t, pool.dropped, "alice")
	})

	t.Run("StaleHeartbeat_ParkedForReconnect", func(t *testing.T) {
		tracker, pool := newTestTracker()
		require.NoError(t, tracker.opened("conn-1", now))
		_, err := tracker.establish("conn-1", "alice", now)
		require.NoError(t, err)

		// When: the heartbeat goes silent past the staleness bound
		tracker.sweep(now.Add(2 * entity.HeartbeatStaleAfter))

		state, ok := pool.stateOf("alice")
		require.True(t, ok)
		_, ok = state.(entity.Reconnecting)
		assert.True(t, ok)
	})

	t.Run("FreshHeartbeat_Kept", func(t *testing.T) {
		tracker, pool := newTestTracker()
		require.NoError(t, tracker.opened("conn-1", now))
		_, err := tracker.establish("conn-1", "alice", now)
		require.NoError(t, err)

		tracker.heartbeat("alice", now.Add(time.Minute))
		tracker.sweep(now.Add(time.Minute + time.Second))

		state, ok := pool.stateOf("alice")
		require.True(t, ok)
		_, ok = state.(entity.Connected)
		assert.True(t, ok)
	})
}
