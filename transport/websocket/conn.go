package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/wricardo/mcp-training/userdirectory/core/engine"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 1 << 20

	sendBuffer = 64
)

// ErrPeerClosed is returned by Serve when the client went away.
var ErrPeerClosed = errors.New("websocket peer closed")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// IsUpgrade reports whether r asks for a websocket connection
func IsUpgrade(r *http.Request) bool {
	return websocket.IsWebSocketUpgrade(r)
}

// InboundFunc processes one JSON-RPC message the client sent over the socket.
type InboundFunc func(ctx context.Context, raw []byte) (mcp.JSONRPCMessage, error)

// Client is one websocket connection carrying a session's stream
type Client struct {
	conn    *websocket.Conn
	stream  *engine.Stream
	inbound InboundFunc
	send    chan []byte
	logger  zerolog.Logger
}

// Serve upgrades the request and pumps stream to the client until either side
// ends. Frames received from the client are passed to inbound and any answer
// is written back. Serve detaches stream before returning.
//
// The returned error is engine.ErrClosed when the conversation ended and
// ErrPeerClosed when the client went away or a write to it failed.
func Serve(w http.ResponseWriter, r *http.Request, stream *engine.Stream, inbound InboundFunc, logger zerolog.Logger) error {
	defer stream.Detach()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return errors.Wrap(err, "websocket upgrade")
	}

	c := &Client{
		conn:    conn,
		stream:  stream,
		inbound: inbound,
		send:    make(chan []byte, sendBuffer),
		logger:  logger,
	}

	// A hijacked request's context is not cancelled when the peer leaves.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	result := make(chan error, 3)
	go func() { result <- c.writePump(ctx) }()
	go func() { result <- c.streamPump(ctx) }()
	go func() { result <- c.readPump(ctx) }()

	err = <-result
	cancel()
	if errors.Is(err, engine.ErrClosed) {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	}
	conn.Close()
	c.logger.Debug().Err(err).Msg("websocket stream ended")
	return err
}

// streamPump moves messages from the engine stream to the send queue
func (c *Client) streamPump(ctx context.Context) error {
	for {
		msg, err := c.stream.Next(ctx)
		if err != nil {
			return err
		}
		if err := c.enqueue(ctx, msg); err != nil {
			return err
		}
	}
}

// readPump hands frames from the connection to the engine
func (c *Client) readPump(ctx context.Context) error {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug().Err(err).Msg("websocket read failed")
			}
			return ErrPeerClosed
		}
		// Sampling replies arrive here while a tool call waits on them.
		go c.dispatch(ctx, raw)
	}
}

func (c *Client) dispatch(ctx context.Context, raw []byte) {
	resp, err := c.inbound(ctx, raw)
	if err != nil {
		var perr *engine.ProtocolError
		if !errors.As(err, &perr) {
			c.logger.Debug().Err(err).Msg("inbound websocket message dropped")
			return
		}
		resp = perr.JSONRPC()
	}
	if resp == nil {
		return
	}
	_ = c.enqueue(ctx, resp)
}

func (c *Client) enqueue(ctx context.Context, msg mcp.JSONRPCMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "encode stream message")
	}
	select {
	case c.send <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// writePump writes queued messages and keeps the connection alive with pings
func (c *Client) writePump(ctx context.Context) error {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return errors.Wrapf(ErrPeerClosed, "write: %v", err)
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return errors.Wrapf(ErrPeerClosed, "ping: %v", err)
			}

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
