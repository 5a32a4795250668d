// Package query serves the read side of the order store over HTTP: point
// lookups and a direct status write that broadcasts to accepted-orders.
package query

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/order-router/internal/channel"
	"github.com/xenking/order-router/internal/codec"
	"github.com/xenking/order-router/internal/domain/order"
)

// maxBodySize caps PUT request bodies.
const maxBodySize = 64 << 10

// Publisher broadcasts a message to a channel.
type Publisher interface {
	Publish(ctx context.Context, ch channel.Name, msg channel.Message) (int, error)
}

// Handler serves the query API over an order store.
type Handler struct {
	store     order.Store
	publisher Publisher
	envelope  bool
	now       func() time.Time
}

// NewHandler creates a Handler. With envelope set, broadcasts use the
// envelope form; HTTP responses are always bare.
func NewHandler(store order.Store, publisher Publisher, envelope bool) *Handler {
	return &Handler{
		store:     store,
		publisher: publisher,
		envelope:  envelope,
		now:       time.Now,
	}
}

// Routes returns the router of the query API.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/orders/{id}", h.GetOrder)
	r.Put("/orders", h.PutOrder)
	r.NotFound(notFound)
	r.MethodNotAllowed(notFound)
	return r
}

// GetOrder looks an order up by id, optionally requiring a status.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(chi.URLParam(r, "id"))
	if raw == "" {
		writeError(w, http.StatusBadRequest, "Invalid order ID")
		return
	}
	id := order.ParseID(raw)

	var want order.Status
	if s := r.URL.Query().Get("status"); s != "" {
		want = order.Status(s)
	}

	o, ok := h.store.Get(id)
	if !ok || (want != "" && o.Status != want) {
		err := &order.NotFoundError{ID: id, Status: want}
		zctx.From(r.Context()).Debug("Order lookup missed", zap.Error(err))
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { codec.EncodeOrder(e, o) })
}

// PutOrder sets an order's status directly, creating it when absent, and
// broadcasts the result to accepted-orders.
func (h *Handler) PutOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	lg := zctx.From(ctx)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, codec.ErrMalformed.Error())
		return
	}

	u, err := codec.DecodeStatusUpdate(body, h.now().UTC())
	if err != nil {
		writeError(w, http.StatusBadRequest, errorText(err))
		return
	}

	var ev order.Event
	_, err = h.store.Upsert(u.ID, func(cur *order.Order) (order.Order, error) {
		res, err := order.SetStatus(cur, u)
		if err != nil {
			return order.Order{}, err
		}
		ev = res.Event
		if _, err := h.publisher.Publish(ctx, channel.AcceptedOrders, codec.Event{
			Event:    res.Event,
			Envelope: h.envelope,
		}); err != nil {
			lg.Warn("Broadcast failed", zap.Error(err))
		}
		return res.Order, nil
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, errorText(err))
		return
	}

	lg.Info("Order status set",
		zap.Stringer("order_id", u.ID),
		zap.String("status", string(u.Status)),
	)
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { codec.EncodeEvent(e, ev) })
}

func notFound(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusNotFound, "Not found")
}

func errorText(err error) string {
	var verr *order.ValidationError
	if errors.As(err, &verr) {
		return verr.Message
	}
	if errors.Is(err, codec.ErrMalformed) {
		return codec.ErrMalformed.Error()
	}
	return err.Error()
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, func(e *jx.Encoder) { codec.EncodeError(e, msg) })
}

func writeJSON(w http.ResponseWriter, status int, body func(e *jx.Encoder)) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	body(e)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
