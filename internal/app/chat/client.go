package chat

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"roomcast/internal/pkg/errs"
	"roomcast/internal/pkg/logx"
)

const (
	// timeout duration for writing to the WebSocket connection.
	writeWait = 10 * time.Second

	// maximum time allowed between two Pong messages from the client.
	pongWait = 60 * time.Second

	// frequency at which the server sends a Ping message.
	pingPeriod = (pongWait * 9) / 10

	// maximum allowed size (in bytes) of a frame sent by the client.
	maxMessageSize = 8192

	// capacity of the per-connection outbound queue.
	sendQueueSize = 256

	// CloseCodeUnauthorized is sent when the credential presented at connect is rejected.
	CloseCodeUnauthorized = 4401
)

var (
	errClientClosed = errors.New("client closed")
	errQueueFull    = errors.New("client send queue full")
)

// Client is the WebSocket transport of one session. It implements Sender.
type Client struct {
	// underlying WebSocket connection object.
	conn *websocket.Conn

	// gateway receives inbound frames and the final disconnect.
	gateway *Gateway

	// session is bound once the gateway has authenticated the connection.
	session *Session

	// dialect is the wire dialect chosen by the first dialect-specific inbound event.
	dialect atomic.Int32

	// send queues encoded frames for WritePump.
	send chan []byte

	// done is closed by Close to stop WritePump.
	done chan struct{}

	// closeCode and closeReason are written into the close frame.
	closeCode   int
	closeReason string
	closed      bool

	// mu protects closed, closeCode and closeReason.
	mu sync.Mutex

	logger zerolog.Logger
}

// NewClient wraps an upgraded connection.
func NewClient(conn *websocket.Conn, gateway *Gateway) *Client {
	return &Client{
		conn:    conn,
		gateway: gateway,
		send:    make(chan []byte, sendQueueSize),
		done:    make(chan struct{}),
		logger:  logx.Component("Client"),
	}
}

// Dialect returns the wire dialect in use.
func (c *Client) Dialect() Dialect {
	return Dialect(c.dialect.Load())
}

// Send encodes ev for this connection's dialect and queues it without blocking.
func (c *Client) Send(ev Event) error {
	frame, err := EncodeFrame(ev, c.Dialect())
	if err != nil {
		return err
	}
	if frame == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errClientClosed
	}

	select {
	case c.send <- frame:
		return nil
	default:
		c.logger.Warn().Int("queue_len", len(c.send)).Msg("Client send queue full, dropping frame")
		return errQueueFull
	}
}

// Close stops the write loop, which flushes queued frames and sends a close frame
// carrying code and reason. Later calls are no-ops.
func (c *Client) Close(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	c.closed = true
	c.closeCode = code
	c.closeReason = reason
	close(c.done)
}

// Serve authenticates the connection with token and runs it until the peer goes away.
// A rejected credential closes the socket with CloseCodeUnauthorized.
func (c *Client) Serve(ctx context.Context, token string) {
	session, err := c.gateway.Open(ctx, token, c)
	if err != nil {
		c.rejectHandshake(CloseCodeUnauthorized, "Unauthorized")
		return
	}

	c.session = session

	go c.WritePump()
	c.ReadPump(ctx)
}

// rejectHandshake writes a close frame directly and drops the connection.
func (c *Client) rejectHandshake(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
		c.logger.Debug().Err(err).Msg("Failed to write rejection close frame")
	}

	if err := c.conn.Close(); err != nil {
		c.logger.Debug().Err(err).Msg("Connection close error after rejection")
	}
}

// ReadPump reads frames until the connection fails, then disconnects the session.
func (c *Client) ReadPump(ctx context.Context) {
	defer c.cleanupOnDisconnect()

	c.conn.SetReadLimit(maxMessageSize)

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log().Error().Err(err).Msg("Failed to set read deadline")
		return
	}

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log().Info().Err(err).Msg("Unexpected close while reading")
			}
			return
		}

		c.processInbound(ctx, raw)
	}
}

// log returns the session logger once bound, the component logger before that.
func (c *Client) log() *zerolog.Logger {
	if c.session != nil {
		return c.session.Logger()
	}
	return &c.logger
}

// cleanupOnDisconnect runs when ReadPump exits.
func (c *Client) cleanupOnDisconnect() {
	c.gateway.Disconnect(c.session)
	c.Close(websocket.CloseNormalClosure, "")
}

func (c *Client) processInbound(ctx context.Context, raw []byte) {
	frame, err := ParseFrame(raw)
	if err != nil {
		c.log().Warn().Err(err).Int("bytes", len(raw)).Msg("Client sent invalid frame")
		_ = c.Send(ErrorEvent(errs.NewError(errs.ErrInvalidJSONFormat), time.Now()))
		return
	}

	if d := DialectOf(frame.Event); d != DialectUnset {
		if c.dialect.CompareAndSwap(int32(DialectUnset), int32(d)) {
			c.log().Debug().Str("dialect", d.String()).Msg("Wire dialect selected")
		}
	}

	if err := c.gateway.Handle(ctx, c.session, frame); err != nil {
		c.log().Debug().Err(err).Str("event", frame.Event).Msg("Inbound event rejected")
	}
}

// WritePump drains the send queue to the socket and keeps the connection alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()

		if err := c.conn.Close(); err != nil {
			c.log().Debug().Err(err).Msg("Connection close error in WritePump")
		}
	}()

	for {
		select {
		case frame := <-c.send:
			if !c.write(websocket.TextMessage, frame) {
				return
			}

		case <-ticker.C:
			if !c.write(websocket.PingMessage, nil) {
				return
			}

		case <-c.done:
			c.flushAndClose()
			return
		}
	}
}

// flushAndClose writes whatever is still queued, then the close frame.
func (c *Client) flushAndClose() {
	for drained := false; !drained; {
		select {
		case frame := <-c.send:
			if !c.write(websocket.TextMessage, frame) {
				return
			}
		default:
			drained = true
		}
	}

	c.mu.Lock()
	code, reason := c.closeCode, c.closeReason
	c.mu.Unlock()

	c.write(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
}

// write sends one message with a deadline. It returns false when the loop should stop.
func (c *Client) write(messageType int, data []byte) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log().Error().Err(err).Msg("Failed to set write deadline")
		return false
	}

	if err := c.conn.WriteMessage(messageType, data); err != nil {
		c.log().Debug().Err(err).Int("message_type", messageType).Msg("Write failed")
		return false
	}

	return true
}
