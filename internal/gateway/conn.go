package gateway

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/riftauction/auctiond/internal/wire"
)

// outboundBuffer is the per-connection outbound queue depth. A subscriber
// that cannot drain this many pending envelopes is considered a slow
// consumer and is disconnected rather than allowed to back-pressure a
// broadcast (spec §4.4).
const outboundBuffer = 64

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// connState is the socket's lifecycle per spec §4.6.
type connState int32

const (
	stateConnecting connState = iota
	stateAuthenticating
	stateReady
	stateClosed
)

// Conn wraps a single upgraded WebSocket connection. It implements
// room.Subscriber: Send is non-blocking and self-closes the connection on
// overflow so one slow client can never stall a broadcast to the rest of
// the room.
type Conn struct {
	id       string
	userID   string
	username string

	ws     *websocket.Conn
	send   chan wire.Envelope
	logger *slog.Logger

	mu        sync.Mutex
	state     connState
	closeOnce sync.Once
}

func newConn(id, userID, username string, ws *websocket.Conn, logger *slog.Logger) *Conn {
	return &Conn{
		id:       id,
		userID:   userID,
		username: username,
		ws:       ws,
		send:     make(chan wire.Envelope, outboundBuffer),
		logger:   logger,
		state:    stateReady,
	}
}

// ID returns the connection's unique identifier, used as the room
// registry's subscriber key.
func (c *Conn) ID() string { return c.id }

// Send enqueues env for delivery without blocking. If the outbound buffer is
// full the connection is treated as a slow consumer and closed.
func (c *Conn) Send(env wire.Envelope) {
	c.mu.Lock()
	closed := c.state == stateClosed
	c.mu.Unlock()
	if closed {
		return
	}

	select {
	case c.send <- env:
	default:
		c.logger.Warn("slow consumer, closing connection", "conn_id", c.id, "user_id", c.userID)
		c.Close()
	}
}

// Close shuts the connection's outbound channel, signalling writePump to
// drain, send a close frame, and return. Safe to call more than once.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = stateClosed
		c.mu.Unlock()
		close(c.send)
	})
}

// writePump owns the connection's single writer, the only goroutine
// permitted to call ws.WriteMessage, per gorilla/websocket's single-writer
// requirement (spec §4.6's "one writer per socket" discipline).
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case env, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := json.Marshal(env)
			if err != nil {
				c.logger.Error("marshaling outbound envelope", "conn_id", c.id, "error", err)
				continue
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
