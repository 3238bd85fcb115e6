package service

import (
	"context"
	"log/slog"
	"sync"
)

const (
	EnvelopePeerConnected    = "peer-connected"
	EnvelopePeerDisconnected = "peer-disconnected"
	EnvelopeMove             = "move"
	EnvelopeGameState        = "game-state"
	EnvelopeGameCreated      = "game-created"
	EnvelopeGameEnded        = "game-ended"
)

// Envelope is the wire shape of every server push.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// ConnHandle is one subscriber connection as the broadcaster sees it.
// Send must be safe for concurrent use and must fail rather than block
// forever on a dead transport.
type ConnHandle interface {
	ID() string
	Alive() bool
	Send(ctx context.Context, envelope Envelope) error
}

// Broadcaster tracks the live subscriber set per game and fans messages out
// to it. Delivery is best effort, at most once: a handle that cannot be sent
// to is collected during the fan-out and removed after it, never mid-iteration.
type Broadcaster struct {
	logger *slog.Logger

	mu          sync.RWMutex
	subscribers map[string]map[string]ConnHandle
}

func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		logger:      logger.With("component", "broadcaster"),
		subscribers: make(map[string]map[string]ConnHandle),
	}
}

// Connect registers a handle under a game and tells the other subscribers —
// not the new handle — that a peer arrived.
func (that *Broadcaster) Connect(ctx context.Context, handle ConnHandle, gameID string) {
	that.mu.Lock()
	subs, ok := that.subscribers[gameID]
	if !ok {
		subs = make(map[string]ConnHandle)
		that.subscribers[gameID] = subs
	}
	subs[handle.ID()] = handle
	that.mu.Unlock()

	that.Broadcast(ctx, gameID, Envelope{
		Type: EnvelopePeerConnected,
		Data: map[string]string{"conn_id": handle.ID(), "game_id": gameID},
	}, handle.ID())
}

// Disconnect removes a handle from a game, dropping the game entry when it
// became empty and notifying the remaining subscribers otherwise.
func (that *Broadcaster) Disconnect(ctx context.Context, handle ConnHandle, gameID string) {
	that.mu.Lock()
	subs, ok := that.subscribers[gameID]
	if ok {
		delete(subs, handle.ID())
		if len(subs) == 0 {
			delete(that.subscribers, gameID)
			ok = false
		}
	}
	that.mu.Unlock()

	if !ok {
		return
	}

	that.Broadcast(ctx, gameID, Envelope{
		Type: EnvelopePeerDisconnected,
		Data: map[string]string{"conn_id": handle.ID(), "game_id": gameID},
	}, "")
}

// Subscribers returns a snapshot of one game's subscriber ids.
func (that *Broadcaster) Subscribers(gameID string) []string {
	that.mu.RLock()
	defer that.mu.RUnlock()

	ids := make([]string, 0, len(that.subscribers[gameID]))
	for id := range that.subscribers[gameID] {
		ids = append(ids, id)
	}

	return ids
}

// Broadcast delivers an envelope concurrently to every current subscriber of
// a game except the excluded one.
func (that *Broadcaster) Broadcast(ctx context.Context, gameID string, envelope Envelope, excludeID string) {
	that.mu.RLock()
	targets := make([]ConnHandle, 0, len(that.subscribers[gameID]))
	for id, handle := range that.subscribers[gameID] {
		if id == excludeID {
			continue
		}
		targets = append(targets, handle)
	}
	that.mu.RUnlock()

	dead := that.fanOut(ctx, targets, envelope)
	that.prune(gameID, dead)
}

// BroadcastAll delivers an envelope to the union of all games' subscribers.
func (that *Broadcaster) BroadcastAll(ctx context.Context, envelope Envelope) {
	that.mu.RLock()
	seen := make(map[string]ConnHandle)
	for _, subs := range that.subscribers {
		for id, handle := range subs {
			seen[id] = handle
		}
	}
	that.mu.RUnlock()

	targets := make([]ConnHandle, 0, len(seen))
	for _, handle := range seen {
		targets = append(targets, handle)
	}

	dead := that.fanOut(ctx, targets, envelope)

	that.mu.RLock()
	games := make([]string, 0, len(that.subscribers))
	for gameID := range that.subscribers {
		games = append(games, gameID)
	}
	that.mu.RUnlock()

	for _, gameID := range games {
		that.prune(gameID, dead)
	}
}

// fanOut sends to every target concurrently, issuing sends in iteration order
// and awaiting them together. Failed handles are only collected here; the
// subscriber set is not touched until the fan-out completes.
func (that *Broadcaster) fanOut(ctx context.Context, targets []ConnHandle, envelope Envelope) []string {
	var (
		wg     sync.WaitGroup
		deadMu sync.Mutex
		dead   []string
	)

	for _, target := range targets {
		if !target.Alive() {
			dead = append(dead, target.ID())
			continue
		}

		wg.Add(1)
		go func(handle ConnHandle) {
			defer wg.Done()

			if err := handle.Send(ctx, envelope); err != nil {
				deadMu.Lock()
				dead = append(dead, handle.ID())
				deadMu.Unlock()
			}
		}(target)
	}

	wg.Wait()

	return dead
}

func (that *Broadcaster) prune(gameID string, dead []string) {
	if len(dead) == 0 {
		return
	}

	log := that.logger.With("method", "prune")

	that.mu.Lock()
	subs := that.subscribers[gameID]
	for _, id := range dead {
		if _, ok := subs[id]; !ok {
			continue
		}

		delete(subs, id)
		log.Info("removed dead subscriber", "connID", id, "gameID", gameID)
	}
	if len(subs) == 0 {
		delete(that.subscribers, gameID)
	}
	that.mu.Unlock()
}
