package entity

import (
	"errors"
	"time"
)

const (
	ReconnectCooldown    = time.Second
	HandshakeTimeout     = 30 * time.Second
	HeartbeatStaleAfter  = 60 * time.Second
	MaxReconnectAttempts = 5
)

var (
	ErrCooldownActive      = errors.New("reconnect cooldown has not elapsed")
	ErrInvalidTransition   = errors.New("invalid connection state transition")
	ErrReconnectsExhausted = errors.New("reconnect attempts exhausted")
)

// ConnectionState is a tagged union: exactly one of Disconnected, Connecting,
// Connected or Reconnecting. Client id and subscriptions exist only on the
// Connected and Reconnecting tags.
type ConnectionState interface {
	isConnectionState()
}

type Disconnected struct {
	LastSeenAt time.Time
	Reason     string
}

type Connecting struct {
	ConnID    string
	Attempt   int
	StartedAt time.Time
}

type Connected struct {
	ClientID        string
	ConnID          string
	Subscriptions   map[string]struct{}
	LastHeartbeatAt time.Time
}

type Reconnecting struct {
	ClientID      string
	Subscriptions map[string]struct{}
	Attempts      int
	SinceAt       time.Time
}

func (Disconnected) isConnectionState() {}
func (Connecting) isConnectionState()   {}
func (Connected) isConnectionState()    {}
func (Reconnecting) isConnectionState() {}

func (that Disconnected) CanReconnect(now time.Time) bool {
	return now.Sub(that.LastSeenAt) >= ReconnectCooldown
}

func (that Connecting) TimedOut(now time.Time) bool {
	return now.Sub(that.StartedAt) > HandshakeTimeout
}

func (that Reconnecting) GaveUp() bool {
	return that.Attempts >= MaxReconnectAttempts
}

// StartConnection begins a handshake. Allowed from Disconnected (after the
// cooldown) and from Reconnecting.
func StartConnection(state ConnectionState, connID string, now time.Time) (ConnectionState, error) {
	switch st := state.(type) {
	case Disconnected:
		if !st.CanReconnect(now) {
			return nil, ErrCooldownActive
		}

		return Connecting{ConnID: connID, Attempt: 1, StartedAt: now}, nil
	case Reconnecting:
		return Connecting{ConnID: connID, Attempt: st.Attempts + 1, StartedAt: now}, nil
	default:
		return nil, ErrInvalidTransition
	}
}

// Establish completes a handshake. A Reconnecting peer gets its previous
// subscription set back.
func Establish(state ConnectionState, clientID, connID string, now time.Time) (Connected, error) {
	switch st := state.(type) {
	case Connecting:
		return Connected{
			ClientID:        clientID,
			ConnID:          connID,
			Subscriptions:   map[string]struct{}{},
			LastHeartbeatAt: now,
		}, nil
	case Reconnecting:
		return Connected{
			ClientID:        clientID,
			ConnID:          connID,
			Subscriptions:   copySet(st.Subscriptions),
			LastHeartbeatAt: now,
		}, nil
	default:
		return Connected{}, ErrInvalidTransition
	}
}

// Disconnect drops a connection. A Connected peer that is allowed to
// reconnect keeps its subscriptions in the Reconnecting tag; all other tags
// land on Disconnected.
func Disconnect(state ConnectionState, reason string, allowReconnect bool, now time.Time) ConnectionState {
	switch st := state.(type) {
	case Connected:
		if allowReconnect {
			return Reconnecting{
				ClientID:      st.ClientID,
				Subscriptions: copySet(st.Subscriptions),
				Attempts:      0,
				SinceAt:       now,
			}
		}

		return Disconnected{LastSeenAt: now, Reason: reason}
	case Connecting, Reconnecting:
		return Disconnected{LastSeenAt: now, Reason: reason}
	default:
		return state
	}
}

// Heartbeat refreshes a Connected peer; every other tag is a no-op.
func Heartbeat(state ConnectionState, now time.Time) ConnectionState {
	if st, ok := state.(Connected); ok {
		st.LastHeartbeatAt = now
		return st
	}

	return state
}

// FailReconnect records one failed reconnect attempt.
func FailReconnect(state ConnectionState, now time.Time) ConnectionState {
	if st, ok := state.(Reconnecting); ok {
		st.Attempts++
		st.SinceAt = now
		return st
	}

	return state
}

// Subscribe adds a game to a Connected peer's subscription set.
func (that Connected) Subscribe(gameID string) Connected {
	subs := copySet(that.Subscriptions)
	subs[gameID] = struct{}{}
	that.Subscriptions = subs

	return that
}

func (that Connected) Unsubscribe(gameID string) Connected {
	subs := copySet(that.Subscriptions)
	delete(subs, gameID)
	that.Subscriptions = subs

	return that
}

// SweepConnection demotes stale states: a heartbeat-stale Connected peer
// becomes Reconnecting, a timed-out handshake and an exhausted Reconnecting
// peer become Disconnected. Fresh states pass through unchanged.
func SweepConnection(state ConnectionState, now time.Time, staleAfter time.Duration) ConnectionState {
	switch st := state.(type) {
	case Connected:
		if now.Sub(st.LastHeartbeatAt) > staleAfter {
			return Reconnecting{
				ClientID:      st.ClientID,
				Subscriptions: copySet(st.Subscriptions),
				Attempts:      0,
				SinceAt:       now,
			}
		}
	case Connecting:
		if st.TimedOut(now) {
			return Disconnected{LastSeenAt: now, Reason: "handshake timeout"}
		}
	case Reconnecting:
		if st.GaveUp() {
			return Disconnected{LastSeenAt: now, Reason: "reconnect attempts exhausted"}
		}
	}

	return state
}

func copySet(src map[string]struct{}) map[string]struct{} {
	dst := make(map[string]struct{}, len(src))
	for k := range src {
		dst[k] = struct{}{}
	}

	return dst
}
