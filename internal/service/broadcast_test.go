package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	id    string
	alive bool
	fail  bool

	mu       sync.Mutex
	received []Envelope
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id, alive: true}
}

func (that *fakeConn) ID() string { return that.id }

func (that *fakeConn) Alive() bool { return that.alive }

func (that *fakeConn) Send(_ context.Context, envelope Envelope) error {
	if that.fail {
		return errors.New("send failed")
	}

	that.mu.Lock()
	that.received = append(that.received, envelope)
	that.mu.Unlock()

	return nil
}

func (that *fakeConn) envelopes() []Envelope {
	that.mu.Lock()
	defer that.mu.Unlock()

	out := make([]Envelope, len(that.received))
	copy(out, that.received)

	return out
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBroadcasterConnect(t *testing.T) {
	ctx := context.Background()

	// Given: one subscriber already watching the game
	broadcaster := NewBroadcaster(discardLogger())
	first := newFakeConn("conn-1")
	broadcaster.Connect(ctx, first, "g1")

	// When: a second peer connects
	second := newFakeConn("conn-2")
	broadcaster.Connect(ctx, second, "g1")

	// Then: the existing peer hears about it, the new one does not
	require.Len(t, first.envelopes(), 1)
	assert.Equal(t, EnvelopePeerConnected, first.envelopes()[0].Type)
	assert.Empty(t, second.envelopes())

	assert.ElementsMatch(t, []string{"conn-1", "conn-2"}, broadcaster.Subscribers("g1"))
}

func TestBroadcasterDisconnect(t *testing.T) {
	ctx := context.Background()

	broadcaster := NewBroadcaster(discardLogger())
	first := newFakeConn("conn-1")
	second := newFakeConn("conn-2")
	broadcaster.Connect(ctx, first, "g1")
	broadcaster.Connect(ctx, second, "g1")

	broadcaster.Disconnect(ctx, second, "g1")

	// The remaining peer hears peer-connected then peer-disconnected.
	envelopes := first.envelopes()
	require.Len(t, envelopes, 2)
	assert.Equal(t, EnvelopePeerDisconnected, envelopes[1].Type)
	assert.ElementsMatch(t, []string{"conn-1"}, broadcaster.Subscribers("g1"))

	// Dropping the last subscriber forgets the game entirely.
	broadcaster.Disconnect(ctx, first, "g1")
	assert.Empty(t, broadcaster.Subscribers("g1"))
}

func TestBroadcasterBroadcast(t *testing.T) {
	ctx := context.Background()

	t.Run("ExcludesOneSubscriber", func(t *testing.T) {
		broadcaster := NewBroadcaster(discardLogger())
		mover := newFakeConn("conn-1")
		watcher := newFakeConn("conn-2")
		broadcaster.Connect(ctx, mover, "g1")
		broadcaster.Connect(ctx, watcher, "g1")

		before := len(watcher.envelopes())

		broadcaster.Broadcast(ctx, "g1", Envelope{Type: EnvelopeMove, Data: "x"}, "conn-1")

		assert.Len(t, watcher.envelopes(), before+1)
		for _, envelope := range mover.envelopes() {
			assert.NotEqual(t, EnvelopeMove, envelope.Type)
		}
	})

	t.Run("DeadHandle_PrunedAfterFanOut", func(t *testing.T) {
		// Given: one live and one failing subscriber
		broadcaster := NewBroadcaster(discardLogger())
		live := newFakeConn("conn-1")
		dead := newFakeConn("conn-2")
		dead.fail = true
		broadcaster.Connect(ctx, live, "g1")
		broadcaster.Connect(ctx, dead, "g1")

		broadcaster.Broadcast(ctx, "g1", Envelope{Type: EnvelopeGameState, Data: "x"}, "")

		// Then: the live handle got this delivery and the dead one is gone
		last := live.envelopes()[len(live.envelopes())-1]
		assert.Equal(t, EnvelopeGameState, last.Type)
		assert.ElementsMatch(t, []string{"conn-1"}, broadcaster.Subscribers("g1"))

		// And: the next broadcast no longer targets it
		broadcaster.Broadcast(ctx, "g1", Envelope{Type: EnvelopeGameState, Data: "y"}, "")
		assert.ElementsMatch(t, []string{"conn-1"}, broadcaster.Subscribers("g1"))
	})

	t.Run("NotAliveHandle_Removed", func(t *testing.T) {
		broadcaster := NewBroadcaster(discardLogger())
		gone := newFakeConn("conn-1")
		broadcaster.Connect(ctx, gone, "g1")
		gone.alive = false

		broadcaster.Broadcast(ctx, "g1", Envelope{Type: EnvelopeGameState, Data: "x"}, "")

		assert.Empty(t, broadcaster.Subscribers("g1"))
	})
}

func TestBroadcasterBroadcastAll(t *testing.T) {
	ctx := context.Background()

	// Given: one subscriber in each of two games
	broadcaster := NewBroadcaster(discardLogger())
	first := newFakeConn("conn-1")
	second := newFakeConn("conn-2")
	broadcaster.Connect(ctx, first, "g1")
	broadcaster.Connect(ctx, second, "g2")

	broadcaster.BroadcastAll(ctx, Envelope{Type: EnvelopeGameState, Data: "x"})

	// Then: both heard it exactly once
	assert.Equal(t, EnvelopeGameState, first.envelopes()[len(first.envelopes())-1].Type)
	assert.Equal(t, EnvelopeGameState, second.envelopes()[len(second.envelopes())-1].Type)
	assert.Len(t, first.envelopes(), 1)
	assert.Len(t, second.envelopes(), 1)
}
