package app

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/order-router/internal/channel"
	"github.com/xenking/order-router/internal/query"
	"github.com/xenking/order-router/internal/router"
	"github.com/xenking/order-router/internal/storage/memory"
	"github.com/xenking/order-router/internal/wsserver"
	"github.com/xenking/order-router/pkg/health"
	"github.com/xenking/order-router/pkg/httpmiddleware"
	"github.com/xenking/order-router/pkg/ratelimit"
)

// Run creates all dependencies, starts the WebSocket and HTTP servers, and
// handles graceful shutdown. It is the single wiring point for the
// application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("ws_addr", cfg.WSAddr),
		zap.String("http_addr", cfg.HTTPAddr),
		zap.Duration("accept_delay", cfg.AcceptDelay),
		zap.Bool("envelope", cfg.Envelope),
	)
	mp, tp := m.MeterProvider(), m.TracerProvider()
	limit := ratelimit.Config{Max: cfg.RateLimit.Max, Window: cfg.RateLimit.Window}

	store := memory.NewOrderStore()
	registry := channel.NewRegistry()
	dispatcher, err := channel.NewDispatcher(registry, lg.Named("dispatcher"), mp)
	if err != nil {
		return errors.Wrap(err, "create dispatcher")
	}

	rt, err := router.New(router.Config{
		AcceptDelay: cfg.AcceptDelay,
		Envelope:    cfg.Envelope,
	}, store, dispatcher, lg.Named("router"), mp, tp)
	if err != nil {
		return errors.Wrap(err, "create router")
	}
	defer rt.Close()

	ws, err := wsserver.New(wsserver.Config{
		OriginPatterns: cfg.WS.OriginPatterns,
		ReadLimit:      cfg.WS.ReadLimit,
		SendBuffer:     cfg.WS.SendBuffer,
		WriteTimeout:   cfg.WS.WriteTimeout,
		RateLimit:      limit,
		Envelope:       cfg.Envelope,
	}, registry, rt, lg.Named("ws"), mp)
	if err != nil {
		return errors.Wrap(err, "create ws server")
	}
	ws.StartCleanup(ctx)

	// Listen before serving so the readiness dial check has a target.
	wsLn, err := net.Listen("tcp", cfg.WSAddr)
	if err != nil {
		return errors.Wrap(err, "listen ws")
	}
	httpLn, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		_ = wsLn.Close()
		return errors.Wrap(err, "listen http")
	}

	healthSvc := health.New()
	healthSvc.Add(health.Liveness, health.Check{
		Name:    "goroutines",
		Timeout: time.Second,
		Func:    health.GoroutineCountCheck(200000),
	})
	healthSvc.Add(health.Readiness, health.Check{
		Name:    "ws-listener",
		Timeout: time.Second,
		Func:    health.DialCheck(dialAddr(wsLn.Addr())),
	})

	mux := http.NewServeMux()
	healthSvc.Register(mux)
	mux.Handle("/", query.NewHandler(store, dispatcher, cfg.Envelope).Routes())

	httpServer := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.InjectLogger(zctx.From(ctx).Named("http")),
			httpmiddleware.Recovery(),
			httpmiddleware.RequestID(),
			httpmiddleware.RateLimit(ctx, httpmiddleware.RateLimitConfig{Config: limit}),
			httpmiddleware.Instrument("order-router", tp, mp),
			httpmiddleware.LogRequests(),
		),
	}
	// Upgraded connections are hijacked, so only the handshake is bounded.
	wsServer := &http.Server{
		ReadHeaderTimeout: time.Second,
		MaxHeaderBytes:    1 << 20,
		Handler:           ws,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lg.Info("WebSocket server listening", zap.Stringer("addr", wsLn.Addr()))
		if err := wsServer.Serve(wsLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "ws server")
		}
		return nil
	})
	g.Go(func() error {
		lg.Info("HTTP server listening", zap.Stringer("addr", httpLn.Addr()))
		if err := httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down servers", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := wsServer.Shutdown(shutdownCtx); err != nil {
			lg.Error("WebSocket server shutdown error", zap.Error(err))
		}
		if err := ws.Shutdown(shutdownCtx); err != nil {
			lg.Error("WebSocket connections shutdown error", zap.Error(err))
		}
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			lg.Error("HTTP server shutdown error", zap.Error(err))
		}
		rt.Close()
		healthSvc.Stop()
		return nil
	})

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	return g.Wait()
}

// dialAddr turns a listener address into one a local client can dial.
func dialAddr(addr net.Addr) string {
	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}
