// Package router dispatches inbound channel messages to the order state
// machine and publishes the resulting events.
package router

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/order-router/internal/channel"
	"github.com/xenking/order-router/internal/codec"
	"github.com/xenking/order-router/internal/domain/order"
)

// errAcceptSuppressed aborts an auto-accept whose order left INITIATED.
var errAcceptSuppressed = errors.New("accept suppressed")

// Publisher fans a message out to the subscribers of a channel.
type Publisher interface {
	Publish(ctx context.Context, ch channel.Name, msg channel.Message) (int, error)
}

// Config holds non-dependency configuration for the Router.
type Config struct {
	// AcceptDelay is how long an INITIATED order waits before auto-accept.
	AcceptDelay time.Duration
	// Envelope wraps outbound messages as {channel, headers, payload}.
	Envelope bool
}

// Router handles messages received on the recognized inbound channels.
type Router struct {
	store     order.Store
	publisher Publisher
	scheduler *Scheduler
	envelope  bool
	lg        *zap.Logger
	now       func() time.Time

	tracer   trace.Tracer
	messages metric.Int64Counter
}

// New creates a Router. Call Close to stop pending auto-accepts.
func New(
	cfg Config,
	store order.Store,
	publisher Publisher,
	lg *zap.Logger,
	mp metric.MeterProvider,
	tp trace.TracerProvider,
) (*Router, error) {
	messages, err := mp.Meter("order-router/router").Int64Counter("router.messages",
		metric.WithDescription("Inbound messages by channel and outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "messages counter")
	}

	r := &Router{
		store:     store,
		publisher: publisher,
		envelope:  cfg.Envelope,
		lg:        lg,
		now:       time.Now,
		tracer:    tp.Tracer("order-router/router"),
		messages:  messages,
	}
	r.scheduler = NewScheduler(cfg.AcceptDelay, r.accept)
	return r, nil
}

// Close stops every pending auto-accept.
func (r *Router) Close() {
	r.scheduler.Stop()
}

// request is one decoded inbound message.
type request struct {
	from          channel.Subscriber
	payload       []byte
	correlationID string
}

// Handle processes data received on channel ch from the connection from.
// Every failure is answered with an error reply to from only; the returned
// error is informational.
func (r *Router) Handle(ctx context.Context, ch channel.Name, from channel.Subscriber, data []byte) error {
	ctx, span := r.tracer.Start(ctx, "router.Handle",
		trace.WithAttributes(attribute.String("channel", string(ch))),
	)
	defer span.End()

	in, err := codec.DecodeInbound(data)
	if err != nil {
		return r.fail(ctx, span, ch, from, "", err)
	}

	req := request{
		from:          from,
		payload:       in.Payload,
		correlationID: in.CorrelationID,
	}
	if r.envelope && req.correlationID == "" {
		req.correlationID = "auto-" + uuid.NewString()
	}
	if req.correlationID != "" {
		ctx = zctx.With(ctx, zap.String("correlation_id", req.correlationID))
	}

	switch ch {
	case channel.NewOrders:
		err = r.create(ctx, req)
	case channel.ToBeCancelled:
		err = r.cancel(ctx, req)
	case channel.OutForDelivery:
		err = r.ship(ctx, req)
	default:
		err = &channel.UnknownChannelError{Name: ch}
	}
	if err != nil {
		return r.fail(ctx, span, ch, from, req.correlationID, err)
	}

	r.messages.Add(ctx, 1, metric.WithAttributes(
		attribute.String("channel", string(ch)),
		attribute.String("outcome", "ok"),
	))
	return nil
}

func (r *Router) create(ctx context.Context, req request) error {
	cmd, err := codec.DecodeCreate(req.payload)
	if err != nil {
		return err
	}
	if err := cmd.Validate(); err != nil {
		return err
	}

	o, err := r.store.Upsert(cmd.ID, func(cur *order.Order) (order.Order, error) {
		res, err := order.Create(cur, cmd)
		if err != nil {
			return order.Order{}, err
		}
		r.publish(ctx, channel.WIPOrders, res.Event, req.correlationID)
		if res.ScheduleAccept {
			r.scheduler.Schedule(cmd.ID)
		}
		return res.Order, nil
	})
	if err != nil {
		return err
	}

	zctx.From(ctx).Info("Order initiated",
		zap.Stringer("order_id", o.ID),
		zap.Stringer("total_amount", o.Total),
		zap.String("status", string(o.Status)),
	)
	return nil
}

func (r *Router) cancel(ctx context.Context, req request) error {
	cmd, err := codec.DecodeCancel(req.payload)
	if err != nil {
		return err
	}
	if err := cmd.Validate(); err != nil {
		return err
	}

	_, err = r.store.Upsert(cmd.ID, func(cur *order.Order) (order.Order, error) {
		res, err := order.Cancel(cur, cmd)
		if err != nil {
			return order.Order{}, err
		}
		r.scheduler.Cancel(cmd.ID)
		r.publish(ctx, channel.CancelledOrder, res.Event, req.correlationID)
		return res.Order, nil
	})
	if err != nil {
		return err
	}

	zctx.From(ctx).Info("Order cancelled", zap.Stringer("order_id", cmd.ID))
	return nil
}

func (r *Router) ship(ctx context.Context, req request) error {
	cmd, err := codec.DecodeShip(req.payload)
	if err != nil {
		return err
	}
	if err := cmd.Validate(); err != nil {
		return err
	}

	_, err = r.store.Upsert(cmd.OrderID, func(cur *order.Order) (order.Order, error) {
		res, err := order.Ship(cur, cmd)
		if err != nil {
			return order.Order{}, err
		}
		r.scheduler.Cancel(cmd.OrderID)
		r.reply(ctx, req.from, codec.DeliveryChannel, codec.Event{
			Event:         res.Event,
			Envelope:      r.envelope,
			CorrelationID: req.correlationID,
		})
		return res.Order, nil
	})
	if err != nil {
		return err
	}

	zctx.From(ctx).Info("Order out for delivery",
		zap.Stringer("order_id", cmd.OrderID),
		zap.String("address", cmd.DeliveryAddress),
		zap.String("date", cmd.DeliveryDate),
	)
	return nil
}

// accept is the auto-accept callback. It consults the order at fire time, so
// a cancellation that landed in between always wins.
func (r *Router) accept(id order.ID) {
	ctx := zctx.Base(context.Background(), r.lg)

	_, err := r.store.Upsert(id, func(cur *order.Order) (order.Order, error) {
		res, ok := order.Accept(cur, r.now())
		if !ok {
			return order.Order{}, errAcceptSuppressed
		}
		r.publish(ctx, channel.AcceptedOrders, res.Event, "")
		return res.Order, nil
	})
	switch {
	case errors.Is(err, errAcceptSuppressed):
		r.lg.Debug("Auto-accept suppressed", zap.Stringer("order_id", id))
	case err != nil:
		r.lg.Error("Auto-accept failed", zap.Stringer("order_id", id), zap.Error(err))
	default:
		r.lg.Info("Order accepted", zap.Stringer("order_id", id))
	}
}

func (r *Router) publish(ctx context.Context, ch channel.Name, ev order.Event, correlationID string) {
	n, err := r.publisher.Publish(ctx, ch, codec.Event{
		Event:         ev,
		Envelope:      r.envelope,
		CorrelationID: correlationID,
	})
	if err != nil {
		zctx.From(ctx).Error("Publish failed", zap.String("target", string(ch)), zap.Error(err))
		return
	}
	zctx.From(ctx).Debug("Broadcasted", zap.String("target", string(ch)), zap.Int("subscribers", n))
}

// reply sends msg to the originating connection only.
func (r *Router) reply(ctx context.Context, to channel.Subscriber, ch channel.Name, msg channel.Message) {
	if err := to.Send(codec.Marshal(msg, ch)); err != nil {
		zctx.From(ctx).Debug("Reply not delivered", zap.Error(err))
	}
}

// fail answers err to the originating connection and records the outcome.
func (r *Router) fail(
	ctx context.Context,
	span trace.Span,
	ch channel.Name,
	from channel.Subscriber,
	correlationID string,
	err error,
) error {
	kind := classify(err)
	span.SetStatus(codes.Error, kind)
	span.RecordError(err)

	r.messages.Add(ctx, 1, metric.WithAttributes(
		attribute.String("channel", string(ch)),
		attribute.String("outcome", kind),
	))
	r.reply(ctx, from, codec.ErrorChannel, codec.Failure{
		Message:       replyText(err),
		Envelope:      r.envelope,
		CorrelationID: correlationID,
	})
	return err
}

// classify names the error kind of err for metrics.
func classify(err error) string {
	var (
		vErr *order.ValidationError
		dErr *order.DuplicateError
		tErr *order.TransitionError
	)
	switch {
	case errors.Is(err, codec.ErrMalformed):
		return "malformed"
	case errors.Is(err, channel.ErrUnknownChannel):
		return "unknown_channel"
	case errors.As(err, &vErr):
		return "invalid"
	case errors.As(err, &dErr), errors.As(err, &tErr):
		return "rejected"
	default:
		return "error"
	}
}

// replyText is the client-facing message for err.
func replyText(err error) string {
	if errors.Is(err, codec.ErrMalformed) {
		return codec.ErrMalformed.Error()
	}
	if classify(err) == "error" {
		return "Internal error"
	}
	return err.Error()
}
