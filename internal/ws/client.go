package ws

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/xid"
	"go.uber.org/zap"

	"github.com/MagloireKITIO/findam-rencontre/internal/storage/zapadapter"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	readLimit  = int64(4 << 10)
	sendBuffer = 256
)

// Client is one live transport-level session. It is owned by the hub entry for its
// user and destroyed on disconnect; per-connection outbound order is preserved by
// the buffered out channel drained by a single write pump.
type Client struct {
	ID     string
	UserID int64

	hub    *Hub
	conn   *websocket.Conn
	out    chan []byte
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.SugaredLogger

	// handle processes one inbound text frame; assigned by the protocol session
	// before the pumps start
	handle func(ctx context.Context, raw []byte)

	// closed is guarded by hub.mu
	closed bool
}

func newClient(hub *Hub, conn *websocket.Conn, userID int64, logger *zap.SugaredLogger) *Client {
	id := xid.New().String()
	ctx, cancel := context.WithCancel(zapadapter.NewContextWithID(context.Background(), id))

	return &Client{
		ID:     id,
		UserID: userID,
		hub:    hub,
		conn:   conn,
		out:    make(chan []byte, sendBuffer),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
}

// Send enqueues a payload for this connection only
func (c *Client) Send(payload []byte) {
	c.hub.send(c, payload)
}

// serve starts the write pump and runs the read pump until the connection dies
func (c *Client) serve() {
	go c.writePump()
	c.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debugw("abnormal close", "connection_id", c.ID, "user_id", c.UserID, "error", err)
			}
			return
		}
		c.handle(c.ctx, raw)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
