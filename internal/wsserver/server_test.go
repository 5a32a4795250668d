package wsserver

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/order-router/internal/channel"
	"github.com/xenking/order-router/internal/domain/order"
	"github.com/xenking/order-router/internal/router"
	"github.com/xenking/order-router/internal/storage/memory"
	"github.com/xenking/order-router/pkg/ratelimit"
)

// --- Helpers ---

type env struct {
	srv      *httptest.Server
	ws       *Server
	registry *channel.Registry
	store    *memory.OrderStore
}

func newEnv(t *testing.T, cfg Config, acceptDelay time.Duration) *env {
	t.Helper()
	lg := zap.NewNop()
	mp := metricnoop.NewMeterProvider()

	registry := channel.NewRegistry()
	dispatcher, err := channel.NewDispatcher(registry, lg, mp)
	require.NoError(t, err)

	store := memory.NewOrderStore()
	r, err := router.New(router.Config{AcceptDelay: acceptDelay}, store, dispatcher, lg, mp, tracenoop.NewTracerProvider())
	require.NoError(t, err)
	t.Cleanup(r.Close)

	ws, err := New(cfg, registry, r, lg, mp)
	require.NoError(t, err)

	srv := httptest.NewServer(ws)
	t.Cleanup(srv.Close)

	return &env{srv: srv, ws: ws, registry: registry, store: store}
}

func (e *env) dial(t *testing.T, ch channel.Name) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + ch.Path()
	c, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.CloseNow() })
	return c
}

// waitMembers blocks until ch has n subscribers.
func (e *env) waitMembers(t *testing.T, ch channel.Name, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return e.registry.Count(ch) == n
	}, 2*time.Second, 5*time.Millisecond)
}

func write(t *testing.T, c *websocket.Conn, msg string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Write(ctx, websocket.MessageText, []byte(msg)))
}

func read(t *testing.T, c *websocket.Conn) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := c.Read(ctx)
	require.NoError(t, err)
	return string(data)
}

// --- Tests ---

func TestServer_CreateBroadcastsToWIP(t *testing.T) {
	e := newEnv(t, Config{}, 20*time.Millisecond)

	wip1 := e.dial(t, channel.WIPOrders)
	wip2 := e.dial(t, channel.WIPOrders)
	accepted := e.dial(t, channel.AcceptedOrders)
	e.waitMembers(t, channel.WIPOrders, 2)
	e.waitMembers(t, channel.AcceptedOrders, 1)

	producer := e.dial(t, channel.NewOrders)
	write(t, producer, `{"id":10,"orderItems":[{"id":1,"name":"Macbook","quantity":1,"price":2000},{"id":2,"name":"Iphone","quantity":1,"price":1000}]}`)

	want := `{"id":10,"totalAmount":3000,"status":"INITIATED"}`
	assert.JSONEq(t, want, read(t, wip1))
	assert.JSONEq(t, want, read(t, wip2))

	got := read(t, accepted)
	assert.Contains(t, got, `"status":"ACCEPTED"`)
	assert.Contains(t, got, `"id":10`)
}

func TestServer_ShipRepliesToSender(t *testing.T) {
	e := newEnv(t, Config{}, time.Hour)

	c := e.dial(t, channel.OutForDelivery)
	write(t, c, `{"orderId":10,"deliveryAddress":"1234 Elm Street","deliveryDate":"2025-04-14"}`)

	assert.JSONEq(t, `{"orderId":10,"status":"SHIPPED","message":"Order is out for delivery"}`, read(t, c))

	o, ok := e.store.Get(order.NumberID(10))
	require.True(t, ok)
	assert.Equal(t, "1234 Elm Street", o.DeliveryAddress)
}

func TestServer_MalformedKeepsConnectionOpen(t *testing.T) {
	e := newEnv(t, Config{}, time.Hour)

	cancelled := e.dial(t, channel.CancelledOrder)
	e.waitMembers(t, channel.CancelledOrder, 1)

	c := e.dial(t, channel.ToBeCancelled)
	write(t, c, `{not json`)
	assert.JSONEq(t, `{"error":"Invalid JSON format"}`, read(t, c))

	write(t, c, `{"id":20}`)
	assert.JSONEq(t, `{"reference":20,"status":"CANCELLED"}`, read(t, cancelled))
}

func TestServer_UnknownPath(t *testing.T) {
	e := newEnv(t, Config{}, time.Hour)

	c := e.dial(t, "nowhere")
	write(t, c, `{"id":1}`)
	assert.JSONEq(t, `{"error":"Unknown channel: /nowhere"}`, read(t, c))
}

func TestServer_DisconnectUnsubscribes(t *testing.T) {
	e := newEnv(t, Config{}, time.Hour)

	c := e.dial(t, channel.WIPOrders)
	e.waitMembers(t, channel.WIPOrders, 1)

	require.NoError(t, c.Close(websocket.StatusNormalClosure, ""))
	e.waitMembers(t, channel.WIPOrders, 0)
	require.Eventually(t, func() bool { return e.ws.Connections() == 0 }, 2*time.Second, 5*time.Millisecond)

	// Broadcasting to the now-empty channel is a silent no-op.
	producer := e.dial(t, channel.NewOrders)
	write(t, producer, `{"id":1,"orderItems":[{"id":1,"quantity":1,"price":1}]}`)
	require.Eventually(t, func() bool {
		_, ok := e.store.Get(order.NumberID(1))
		return ok
	}, 2*time.Second, 5*time.Millisecond)
}

func TestServer_SubscriberDropDoesNotAffectOthers(t *testing.T) {
	e := newEnv(t, Config{}, time.Hour)

	stay := e.dial(t, channel.CancelledOrder)
	leave := e.dial(t, channel.CancelledOrder)
	e.waitMembers(t, channel.CancelledOrder, 2)
	_ = leave.CloseNow()

	c := e.dial(t, channel.ToBeCancelled)
	write(t, c, `{"id":5}`)
	assert.JSONEq(t, `{"reference":5,"status":"CANCELLED"}`, read(t, stay))
}

func TestServer_RateLimit(t *testing.T) {
	e := newEnv(t, Config{RateLimit: ratelimit.Config{Max: 1, Window: time.Minute}}, time.Hour)

	c := e.dial(t, channel.OutForDelivery)
	write(t, c, `{"orderId":1,"deliveryAddress":"a","deliveryDate":"d"}`)
	assert.Contains(t, read(t, c), `"SHIPPED"`)

	write(t, c, `{"orderId":2,"deliveryAddress":"a","deliveryDate":"d"}`)
	assert.JSONEq(t, `{"error":"rate limit exceeded"}`, read(t, c))

	_, ok := e.store.Get(order.NumberID(2))
	assert.False(t, ok)
}

func TestServer_Shutdown(t *testing.T) {
	e := newEnv(t, Config{}, time.Hour)

	c := e.dial(t, channel.WIPOrders)
	e.waitMembers(t, channel.WIPOrders, 1)

	// Reading lets the client answer the close handshake.
	readErr := make(chan error, 1)
	go func() {
		_, _, err := c.Read(context.Background())
		readErr <- err
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.ws.Shutdown(ctx))

	select {
	case err := <-readErr:
		assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))
	case <-time.After(5 * time.Second):
		t.Fatal("client was not closed")
	}
	assert.Equal(t, 0, e.registry.Count(channel.WIPOrders))
	assert.Equal(t, 0, e.ws.Connections())
}
