package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"github.com/pairpad/server/internal/ratelimit"
	"github.com/pairpad/server/internal/registry"
	"github.com/pairpad/server/internal/store"
	roomsync "github.com/pairpad/server/internal/sync"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	maxMessageSize    = 1024 * 1024
	messagesPerSecond = 100
	messageBurst      = 200
)

// CloseRoomNotFound is the close status for joins against unknown rooms.
const CloseRoomNotFound = 4004

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is one live websocket connection. It implements registry.Conn:
// the registry enqueues outbound frames, the write pump drains them.
type Client struct {
	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	id      string
	limiter *ratelimit.Limiter

	closeOnce sync.Once
}

func (c *Client) ID() string {
	return c.id
}

// Enqueue hands a frame to the write pump. Reports false when the
// client's buffer is full or the client is shutting down.
func (c *Client) Enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// Close tears the connection down. Safe to call repeatedly and from
// any goroutine.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// ServeWs upgrades the request and runs the connection's session until
// the transport drops. Blocks for the lifetime of the connection.
func ServeWs(reg *registry.Registry, w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	if roomID == "" {
		http.Error(w, "room id is required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithField("error", err).Warn("websocket upgrade failed")
		return
	}

	client := &Client{
		conn:    conn,
		send:    make(chan []byte, 512),
		done:    make(chan struct{}),
		id:      ulid.Make().String(),
		limiter: ratelimit.NewLimiter(messagesPerSecond, messageBurst),
	}

	session := roomsync.NewSession(reg, client, roomID)

	go client.writePump()

	if err := session.Join(r.Context()); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			logrus.WithField("room_id", roomID).Warn("join rejected: room not found")
			client.closeWith(CloseRoomNotFound, "room not found")
		} else {
			logrus.WithFields(logrus.Fields{
				"room_id": roomID,
				"error":   err,
			}).Error("join failed")
			client.closeWith(websocket.CloseInternalServerErr, "failed to load room")
		}
		return
	}

	client.readPump(r.Context(), session)
}

func (c *Client) closeWith(code int, reason string) {
	deadline := time.Now().Add(writeWait)
	c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	c.Close()
}

func (c *Client) readPump(ctx context.Context, session *roomsync.Session) {
	defer func() {
		session.Close()
		c.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	rateLimitWarnings := 0

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logrus.WithFields(logrus.Fields{
					"conn_id": c.id,
					"error":   err,
				}).Warn("websocket read error")
			}
			break
		}

		if !c.limiter.Allow() {
			rateLimitWarnings++
			if rateLimitWarnings%100 == 1 {
				logrus.WithFields(logrus.Fields{
					"conn_id":  c.id,
					"warnings": rateLimitWarnings,
				}).Warn("rate limit exceeded")
			}
			if rateLimitWarnings > 1000 {
				logrus.WithField("conn_id", c.id).Warn("disconnecting client for excessive rate limit violations")
				return
			}
			continue
		}

		session.Handle(ctx, message)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
