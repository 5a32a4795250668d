// Package wsserver is the WebSocket transport of the router. Each connection
// attaches to the channel named by its URL path for its whole lifetime.
package wsserver

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/order-router/internal/channel"
	"github.com/xenking/order-router/internal/codec"
	"github.com/xenking/order-router/pkg/ratelimit"
)

// Handler processes one inbound message of a connection.
type Handler interface {
	Handle(ctx context.Context, ch channel.Name, from channel.Subscriber, data []byte) error
}

// Config controls connection handling.
type Config struct {
	// OriginPatterns lists host patterns allowed to open connections from a
	// browser. An empty list allows same-origin requests only.
	OriginPatterns []string
	// ReadLimit caps the size of one inbound message in bytes.
	ReadLimit int64
	// SendBuffer is the outbound queue length per connection.
	SendBuffer int
	// WriteTimeout bounds a single outbound write.
	WriteTimeout time.Duration
	// RateLimit bounds inbound messages per connection.
	RateLimit ratelimit.Config
	// Envelope selects the envelope form for transport-level error replies.
	Envelope bool
}

// Server accepts WebSocket connections and feeds their messages to a Handler.
type Server struct {
	cfg      Config
	registry *channel.Registry
	handler  Handler
	limiter  *ratelimit.Limiter
	lg       *zap.Logger

	connections metric.Int64UpDownCounter

	mu      sync.Mutex
	conns   map[*conn]struct{}
	closing bool
	wg      sync.WaitGroup
}

// New creates a Server that registers connections in registry.
func New(cfg Config, registry *channel.Registry, handler Handler, lg *zap.Logger, mp metric.MeterProvider) (*Server, error) {
	connections, err := mp.Meter("order-router/wsserver").Int64UpDownCounter("wsserver.connections",
		metric.WithDescription("Open WebSocket connections"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "connections counter")
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 64
	}

	return &Server{
		cfg:         cfg,
		registry:    registry,
		handler:     handler,
		limiter:     ratelimit.New(cfg.RateLimit),
		lg:          lg,
		connections: connections,
		conns:       make(map[*conn]struct{}),
	}, nil
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.OriginPatterns,
	})
	if err != nil {
		s.lg.Debug("Upgrade failed", zap.Error(err))
		return
	}
	if s.cfg.ReadLimit > 0 {
		ws.SetReadLimit(s.cfg.ReadLimit)
	}

	name := channel.FromPath(r.URL.Path)
	c := newConn(uuid.NewString(), name, ws, s.cfg.SendBuffer, s.cfg.WriteTimeout)
	lg := s.lg.With(zap.String("channel", string(name)), zap.String("conn_id", c.id))

	ctx, cancel := context.WithCancel(zctx.Base(r.Context(), lg))
	defer cancel()

	s.attach(ctx, c, lg)
	defer s.detach(c, lg)

	go c.writeLoop(ctx, cancel)
	s.readLoop(ctx, c)
}

// attach registers c. A connection on an unrecognized path stays open but is
// never a broadcast target.
func (s *Server) attach(ctx context.Context, c *conn, lg *zap.Logger) {
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()

	if err := s.registry.Subscribe(c.channel, c); err != nil {
		lg.Warn("Client connected to unknown channel", zap.Error(err))
	} else {
		lg.Info("Client connected")
	}
	s.connections.Add(ctx, 1, metric.WithAttributes(attribute.String("channel", string(c.channel))))
}

// detach closes c for sending before removing it from its channel, so no
// delivery reaches c once it has left the registry.
func (s *Server) detach(c *conn, lg *zap.Logger) {
	c.shutdown()
	s.registry.Unsubscribe(c.channel, c)
	s.limiter.Forget(c.id)

	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()

	s.connections.Add(context.Background(), -1, metric.WithAttributes(attribute.String("channel", string(c.channel))))
	_ = c.ws.CloseNow()
	lg.Info("Client disconnected")
}

func (s *Server) readLoop(ctx context.Context, c *conn) {
	lg := zctx.From(ctx)
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				lg.Debug("Read failed", zap.Error(err))
			}
			return
		}

		if d := s.limiter.Allow(c.id, time.Now()); !d.Allowed {
			s.replyError(c, "rate limit exceeded")
			continue
		}
		if err := s.handle(ctx, c, data); err != nil {
			lg.Info("Message rejected", zap.Error(err))
		}
	}
}

// handle runs the handler, converting a panic into an error reply so one bad
// message cannot take the connection down.
func (s *Server) handle(ctx context.Context, c *conn, data []byte) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			zctx.From(ctx).Error("panic recovered",
				zap.Any("panic", rec),
				zap.Stack("stack"),
			)
			s.replyError(c, "Internal error")
			err = errors.Errorf("handler panic: %v", rec)
		}
	}()
	return s.handler.Handle(ctx, c.channel, c, data)
}

func (s *Server) replyError(c *conn, msg string) {
	_ = c.Send(codec.Marshal(codec.Failure{Message: msg, Envelope: s.cfg.Envelope}, codec.ErrorChannel))
}

// Connections returns the number of open connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// StartCleanup evicts idle rate limit state until ctx is cancelled.
func (s *Server) StartCleanup(ctx context.Context) {
	s.limiter.StartCleanup(ctx)
}

// Shutdown rejects new connections, closes open ones with "going away" and
// waits for their handlers to return or for ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	var g errgroup.Group
	for _, c := range conns {
		g.Go(func() error {
			c.shutdown()
			return c.ws.Close(websocket.StatusGoingAway, "server shutting down")
		})
	}
	if err := g.Wait(); err != nil {
		s.lg.Debug("Close during shutdown", zap.Error(err))
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "wait for connections")
	}
}
