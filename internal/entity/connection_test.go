package entity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartConnection(t *testing.T) {
	now := time.Now()

	t.Run("FromDisconnected_AfterCooldown", func(t *testing.T) {
		// Given: a peer that dropped long enough ago
		state := ConnectionState(Disconnected{LastSeenAt: now.Add(-2 * ReconnectCooldown)})

		// When: a new handshake begins
		next, err := StartConnection(state, "conn-1", now)

		// Then: the peer is Connecting on its first attempt
		require.NoError(t, err)
		connecting, ok := next.(Connecting)
		require.True(t, ok)
		assert.Equal(t, "conn-1", connecting.ConnID)
		assert.Equal(t, 1, connecting.Attempt)
	})

	t.Run("FromDisconnected_CooldownActive", func(t *testing.T) {
		state := ConnectionState(Disconnected{LastSeenAt: now.Add(-ReconnectCooldown / 2)})

		_, err := StartConnection(state, "conn-1", now)

		require.Error(t, err)
		assert.ErrorIs(t, err, ErrCooldownActive)
	})

	t.Run("FromReconnecting_CountsAttempts", func(t *testing.T) {
		state := ConnectionState(Reconnecting{ClientID: "alice", Attempts: 2, SinceAt: now})

		next, err := StartConnection(state, "conn-2", now)

		require.NoError(t, err)
		connecting, ok := next.(Connecting)
		require.True(t, ok)
		assert.Equal(t, 3, connecting.Attempt)
	})

	t.Run("FromConnected_Refused", func(t *testing.T) {
		state := ConnectionState(Connected{ClientID: "alice", ConnID: "conn-1"})

		_, err := StartConnection(state, "conn-2", now)

		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})
}

func TestReconnectKeepsSubscriptions(t *testing.T) {
	now := time.Now()

	// Given: a connected peer watching two games
	connected := Connected{
		ClientID:        "alice",
		ConnID:          "conn-1",
		Subscriptions:   map[string]struct{}{},
		LastHeartbeatAt: now,
	}
	connected = connected.Subscribe("g1").Subscribe("g2")

	// When: the transport drops and the peer re-establishes
	dropped := Disconnect(connected, "read error", true, now)
	reconnecting, ok := dropped.(Reconnecting)
	require.True(t, ok)
	assert.Len(t, reconnecting.Subscriptions, 2)

	restored, err := Establish(reconnecting, "alice", "conn-2", now.Add(time.Second))
	require.NoError(t, err)

	// Then: the subscription set survived the round trip
	assert.Contains(t, restored.Subscriptions, "g1")
	assert.Contains(t, restored.Subscriptions, "g2")
	assert.Equal(t, "conn-2", restored.ConnID)
}

func TestDisconnect(t *testing.T) {
	now := time.Now()

	t.Run("Connected_NoReconnect", func(t *testing.T) {
		state := Disconnect(Connected{ClientID: "alice"}, "client quit", false, now)

		disconnected, ok := state.(Disconnected)
		require.True(t, ok)
		assert.Equal(t, "client quit", disconnected.Reason)
	})

	t.Run("Connecting_LandsOnDisconnected", func(t *testing.T) {
		state := Disconnect(Connecting{ConnID: "conn-1", StartedAt: now}, "handshake aborted", true, now)

		_, ok := state.(Disconnected)
		assert.True(t, ok)
	})
}

func TestSubscriptionCopyOnWrite(t *testing.T) {
	connected := Connected{Subscriptions: map[string]struct{}{"g1": {}}}

	next := connected.Subscribe("g2")
	pruned := next.Unsubscribe("g1")

	// The original value never observes later edits.
	assert.Len(t, connected.Subscriptions, 1)
	assert.Len(t, next.Subscriptions, 2)
	assert.Len(t, pruned.Subscriptions, 1)
	assert.Contains(t, pruned.Subscriptions, "g2")
}

func TestSweepConnection(t *testing.T) {
	now := time.Now()

	t.Run("StaleHeartbeat_DemotedToReconnecting", func(t *testing.T) {
		state := Connected{
			ClientID:        "alice",
			Subscriptions:   map[string]struct{}{"g1": {}},
			LastHeartbeatAt: now.Add(-2 * HeartbeatStaleAfter),
		}

		next := SweepConnection(state, now, HeartbeatStaleAfter)

		reconnecting, ok := next.(Reconnecting)
		require.True(t, ok)
		assert.Contains(t, reconnecting.Subscriptions, "g1")
		assert.Zero(t, reconnecting.Attempts)
	})

	t.Run("FreshHeartbeat_Untouched", func(t *testing.T) {
		state := Connected{ClientID: "alice", LastHeartbeatAt: now.Add(-time.Second)}

		next := SweepConnection(state, now, HeartbeatStaleAfter)

		assert.Equal(t, ConnectionState(state), next)
	})

	t.Run("HandshakeTimeout_Disconnected", func(t *testing.T) {
		state := Connecting{ConnID: "conn-1", StartedAt: now.Add(-2 * HandshakeTimeout)}

		next := SweepConnection(state, now, HeartbeatStaleAfter)

		_, ok := next.(Disconnected)
		assert.True(t, ok)
	})

	t.Run("ReconnectAttemptsExhausted_Disconnected", func(t *testing.T) {
		state := ConnectionState(Reconnecting{ClientID: "alice", SinceAt: now})

		// When: every retry fails up to the limit
		for i := 0; i < MaxReconnectAttempts; i++ {
			next := SweepConnection(state, now, HeartbeatStaleAfter)
			_, stillWaiting := next.(Reconnecting)
			require.True(t, stillWaiting, "gave up after %d attempts", i)

			state = FailReconnect(next, now)
		}

		// Then: the next sweep gives up
		next := SweepConnection(state, now, HeartbeatStaleAfter)
		disconnected, ok := next.(Disconnected)
		require.True(t, ok)
		assert.Equal(t, "reconnect attempts exhausted", disconnected.Reason)
	})
}

func TestHeartbeat(t *testing.T) {
	now := time.Now()

	t.Run("Connected_Refreshed", func(t *testing.T) {
		state := Connected{ClientID: "alice", LastHeartbeatAt: now.Add(-time.Minute)}

		next := Heartbeat(state, now)

		connected, ok := next.(Connected)
		require.True(t, ok)
		assert.Equal(t, now, connected.LastHeartbeatAt)
	})

	t.Run("Reconnecting_NoOp", func(t *testing.T) {
		state := ConnectionState(Reconnecting{ClientID: "alice", SinceAt: now})

		next := Heartbeat(state, now)

		assert.Equal(t, state, next)
	})
}
