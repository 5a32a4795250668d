package wsserver

import (
	"context"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/order-router/internal/channel"
)

var (
	// ErrClosed is returned by Send after the connection was closed.
	ErrClosed = errors.New("connection closed")
	// ErrSlowConsumer is returned by Send when the outbound queue is full.
	ErrSlowConsumer = errors.New("outbound queue full")
)

var _ channel.Subscriber = (*conn)(nil)

// conn is one WebSocket client attached to a channel. Outbound messages go
// through a bounded queue drained by a single writer goroutine, so Send
// never blocks a broadcast.
type conn struct {
	id      string
	channel channel.Name
	ws      *websocket.Conn

	writeTimeout time.Duration

	mu     sync.Mutex
	closed bool
	out    chan []byte
	done   chan struct{}
}

func newConn(id string, ch channel.Name, ws *websocket.Conn, queue int, writeTimeout time.Duration) *conn {
	return &conn{
		id:           id,
		channel:      ch,
		ws:           ws,
		writeTimeout: writeTimeout,
		out:          make(chan []byte, queue),
		done:         make(chan struct{}),
	}
}

// ID implements channel.Subscriber.
func (c *conn) ID() string { return c.id }

// Send implements channel.Subscriber.
func (c *conn) Send(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	select {
	case c.out <- msg:
		return nil
	default:
		return ErrSlowConsumer
	}
}

// shutdown marks the connection closed; later Sends fail. It is idempotent.
func (c *conn) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.done)
	}
}

// writeLoop drains the outbound queue until the connection shuts down or a
// write fails. On failure it cancels the read side via cancel.
func (c *conn) writeLoop(ctx context.Context, cancel context.CancelFunc) {
	lg := zctx.From(ctx)
	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		case msg := <-c.out:
			if err := c.write(ctx, msg); err != nil {
				lg.Debug("Write failed", zap.Error(err))
				c.shutdown()
				cancel()
				return
			}
		}
	}
}

func (c *conn) write(ctx context.Context, msg []byte) error {
	if c.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.writeTimeout)
		defer cancel()
	}
	return c.ws.Write(ctx, websocket.MessageText, msg)
}
