package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rocketscienceinc/quoridor-backend/internal/service"
)

const (
	sendBuffer   = 32
	writeTimeout = 10 * time.Second
)

var ErrClientGone = errors.New("client connection is gone")

// Client wraps one socket. It satisfies the broadcaster's handle contract:
// Send never blocks the fan-out on a slow or dead peer, it fails instead.
type Client struct {
	id     string
	conn   *websocket.Conn
	logger *slog.Logger

	send   chan any
	done   chan struct{}
	closed atomic.Bool

	mu       sync.Mutex
	clientID string
	games    map[string]struct{}
}

func newClient(id string, conn *websocket.Conn, logger *slog.Logger) *Client {
	return &Client{
		id:     id,
		conn:   conn,
		logger: logger.With("component", "ws-client", "connID", id),
		send:   make(chan any, sendBuffer),
		done:   make(chan struct{}),
		games:  make(map[string]struct{}),
	}
}

func (that *Client) ID() string {
	return that.id
}

func (that *Client) Alive() bool {
	return !that.closed.Load()
}

// Send queues an envelope for the write pump.
func (that *Client) Send(_ context.Context, envelope service.Envelope) error {
	return that.enqueue(envelope)
}

// reply sends a request-scoped response envelope.
func (that *Client) reply(action string, payload ResponsePayload) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	return that.enqueue(Message{Action: action, Payload: raw})
}

func (that *Client) replyError(action, message string) error {
	return that.reply(action, ResponsePayload{Error: message})
}

func (that *Client) enqueue(v any) error {
	if that.closed.Load() {
		return ErrClientGone
	}

	select {
	case that.send <- v:
		return nil
	default:
		// a peer that cannot drain its buffer is as good as dead
		return ErrClientGone
	}
}

// writePump owns all writes to the socket.
func (that *Client) writePump() {
	for {
		select {
		case <-that.done:
			return
		case v := <-that.send:
			_ = that.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := that.conn.WriteJSON(v); err != nil {
				that.logger.Debug("write failed", "error", err)
				that.shutdown()
				return
			}
		}
	}
}

func (that *Client) shutdown() {
	if that.closed.CompareAndSwap(false, true) {
		close(that.done)
		_ = that.conn.Close()
	}
}

func (that *Client) setClientID(id string) {
	that.mu.Lock()
	that.clientID = id
	that.mu.Unlock()
}

func (that *Client) ClientID() string {
	that.mu.Lock()
	defer that.mu.Unlock()

	return that.clientID
}

func (that *Client) trackGame(gameID string) {
	that.mu.Lock()
	that.games[gameID] = struct{}{}
	that.mu.Unlock()
}

func (that *Client) trackedGames() []string {
	that.mu.Lock()
	defer that.mu.Unlock()

	games := make([]string, 0, len(that.games))
	for id := range that.games {
		games = append(games, id)
	}

	return games
}
