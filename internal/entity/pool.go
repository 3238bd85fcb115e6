package entity

import (
	"fmt"
	"time"

	"github.com/rocketscienceinc/quoridor-backend/internal/apperror"
)

type PoolLimits struct {
	MaxGames              int
	MaxGamesPerClient     int
	MaxConnections        int
	MaxConnectionsPerGame int
}

type PoolMetrics struct {
	Games       int `json:"games"`
	ActiveGames int `json:"active_games"`
	Connections int `json:"connections"`
	Subscribers int `json:"subscribers"`
}

// ResourcePool is an immutable aggregate over games, connections and the
// game to client-set index. Updates return a fresh pool; a pool value that
// escaped to a reader never changes under it.
type ResourcePool struct {
	Games       map[string]GameSession
	Connections map[string]ConnectionState
	Subscribers map[string]map[string]struct{}
	Metrics     PoolMetrics
	Limits      PoolLimits
}

type SweepReport struct {
	EvictedGames       []string
	EvictedConnections []string
}

func NewResourcePool(limits PoolLimits) ResourcePool {
	return ResourcePool{
		Games:       map[string]GameSession{},
		Connections: map[string]ConnectionState{},
		Subscribers: map[string]map[string]struct{}{},
		Limits:      limits,
	}
}

// WithGame admits a game. Caps are checked before anything is copied, so a
// refused admission leaves the receiver untouched. The new game is indexed
// under every bound player's client id.
func (that ResourcePool) WithGame(game GameSession) (ResourcePool, error) {
	_, replacing := that.Games[game.SessionID()]

	if !replacing && that.Limits.MaxGames > 0 && len(that.Games) >= that.Limits.MaxGames {
		return ResourcePool{}, fmt.Errorf("%w: at most %d games", apperror.ErrResourceExhausted, that.Limits.MaxGames)
	}

	if !replacing && that.Limits.MaxGamesPerClient > 0 {
		for _, player := range boundPlayers(game) {
			if that.clientGameCount(player.ID) >= that.Limits.MaxGamesPerClient {
				return ResourcePool{}, fmt.Errorf("%w: client %s is at its game limit", apperror.ErrResourceExhausted, player.ID)
			}
		}
	}

	pool := that.clone()
	pool.Games[game.SessionID()] = game

	index := copySet(pool.Subscribers[game.SessionID()])
	for _, player := range boundPlayers(game) {
		index[player.ID] = struct{}{}
	}
	pool.Subscribers[game.SessionID()] = index

	pool.Metrics = pool.computeMetrics()

	return pool, nil
}

// WithoutGame removes a game and every index entry referencing it.
func (that ResourcePool) WithoutGame(id string) ResourcePool {
	pool := that.clone()
	delete(pool.Games, id)
	delete(pool.Subscribers, id)
	pool.Metrics = pool.computeMetrics()

	return pool
}

func (that ResourcePool) WithConnection(id string, state ConnectionState) (ResourcePool, error) {
	if _, exists := that.Connections[id]; !exists && that.Limits.MaxConnections > 0 && len(that.Connections) >= that.Limits.MaxConnections {
		return ResourcePool{}, fmt.Errorf("%w: at most %d connections", apperror.ErrResourceExhausted, that.Limits.MaxConnections)
	}

	pool := that.clone()
	pool.Connections[id] = state
	pool.Metrics = pool.computeMetrics()

	return pool, nil
}

func (that ResourcePool) WithoutConnection(id string) ResourcePool {
	pool := that.clone()
	delete(pool.Connections, id)
	pool.Metrics = pool.computeMetrics()

	return pool
}

// WithSubscriber indexes a client under a game, enforcing the per-game cap.
func (that ResourcePool) WithSubscriber(gameID, clientID string) (ResourcePool, error) {
	subs := that.Subscribers[gameID]
	if _, exists := subs[clientID]; !exists && that.Limits.MaxConnectionsPerGame > 0 && len(subs) >= that.Limits.MaxConnectionsPerGame {
		return ResourcePool{}, fmt.Errorf("%w: game %s is at its connection limit", apperror.ErrResourceExhausted, gameID)
	}

	pool := that.clone()
	index := copySet(pool.Subscribers[gameID])
	index[clientID] = struct{}{}
	pool.Subscribers[gameID] = index
	pool.Metrics = pool.computeMetrics()

	return pool, nil
}

// Sweep partitions games by inactivity and connections by
// staleness-or-non-Connected tag, returning a pool holding only kept entries.
// Index entries for evicted games are dropped with them. Sweeping an
// already-swept pool with no elapsed time changes nothing.
func (that ResourcePool) Sweep(now time.Time, inactivityTimeout, heartbeatStaleAfter time.Duration) (ResourcePool, SweepReport) {
	var report SweepReport

	pool := that.clone()

	for id, game := range pool.Games {
		if now.Sub(game.LastActivity()) > inactivityTimeout {
			delete(pool.Games, id)
			delete(pool.Subscribers, id)
			report.EvictedGames = append(report.EvictedGames, id)
		}
	}

	for id, state := range pool.Connections {
		connected, ok := state.(Connected)
		if ok && now.Sub(connected.LastHeartbeatAt) <= heartbeatStaleAfter {
			continue
		}

		delete(pool.Connections, id)
		report.EvictedConnections = append(report.EvictedConnections, id)
	}

	pool.Metrics = pool.computeMetrics()

	return pool, report
}

func (that ResourcePool) clientGameCount(clientID string) int {
	count := 0

	for _, game := range that.Games {
		if _, done := game.(CompletedGame); done {
			continue
		}

		for _, player := range boundPlayers(game) {
			if player.ID == clientID {
				count++
				break
			}
		}
	}

	return count
}

func (that ResourcePool) computeMetrics() PoolMetrics {
	metrics := PoolMetrics{
		Games:       len(that.Games),
		Connections: len(that.Connections),
	}

	for _, game := range that.Games {
		if _, active := game.(ActiveGame); active {
			metrics.ActiveGames++
		}
	}

	for _, subs := range that.Subscribers {
		metrics.Subscribers += len(subs)
	}

	return metrics
}

// clone copies every map so the receiver stays untouched. The whole-value
// copy keeps concurrent readers of an old pool safe without locks.
func (that ResourcePool) clone() ResourcePool {
	games := make(map[string]GameSession, len(that.Games))
	for id, game := range that.Games {
		games[id] = game
	}

	conns := make(map[string]ConnectionState, len(that.Connections))
	for id, state := range that.Connections {
		conns[id] = state
	}

	subs := make(map[string]map[string]struct{}, len(that.Subscribers))
	for id, set := range that.Subscribers {
		subs[id] = copySet(set)
	}

	return ResourcePool{
		Games:       games,
		Connections: conns,
		Subscribers: subs,
		Metrics:     that.Metrics,
		Limits:      that.Limits,
	}
}

func boundPlayers(game GameSession) []Player {
	switch g := game.(type) {
	case WaitingGame:
		return g.Players
	case ActiveGame:
		return g.Players[:]
	case CompletedGame:
		return g.Players[:]
	default:
		return nil
	}
}
