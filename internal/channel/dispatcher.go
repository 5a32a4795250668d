package channel

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// Message is an outbound event that can render itself for a channel.
type Message interface {
	EncodeJSON(e *jx.Encoder, ch Name)
}

// Dispatcher delivers messages to every current subscriber of a channel.
type Dispatcher struct {
	registry *Registry
	lg       *zap.Logger

	deliveries metric.Int64Counter
	failures   metric.Int64Counter
}

// NewDispatcher creates a Dispatcher over the registry.
func NewDispatcher(registry *Registry, lg *zap.Logger, mp metric.MeterProvider) (*Dispatcher, error) {
	meter := mp.Meter("order-router/channel")

	deliveries, err := meter.Int64Counter("dispatcher.deliveries",
		metric.WithDescription("Messages delivered to subscribers"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "deliveries counter")
	}
	failures, err := meter.Int64Counter("dispatcher.delivery_failures",
		metric.WithDescription("Subscriber sends that failed during broadcast"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failures counter")
	}

	return &Dispatcher{
		registry:   registry,
		lg:         lg,
		deliveries: deliveries,
		failures:   failures,
	}, nil
}

// Publish encodes msg once and sends it to each subscriber of ch. A failed
// send is logged and skipped. Publishing to a channel with no subscribers is
// a no-op. It returns the number of successful deliveries, and an
// *UnknownChannelError if ch is not registered.
func (d *Dispatcher) Publish(ctx context.Context, ch Name, msg Message) (int, error) {
	subs, ok := d.registry.Members(ch)
	if !ok {
		return 0, &UnknownChannelError{Name: ch}
	}
	if len(subs) == 0 {
		return 0, nil
	}

	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	msg.EncodeJSON(e, ch)
	data := append([]byte(nil), e.Bytes()...)

	attrs := metric.WithAttributes(attribute.String("channel", string(ch)))
	delivered := 0
	for _, s := range subs {
		if err := deliver(s, data); err != nil {
			d.failures.Add(ctx, 1, attrs)
			d.lg.Debug("Delivery failed",
				zap.String("channel", string(ch)),
				zap.String("conn_id", s.ID()),
				zap.Error(err),
			)
			continue
		}
		delivered++
	}
	d.deliveries.Add(ctx, int64(delivered), attrs)
	return delivered, nil
}

// deliver sends data to s, converting a panicking transport into an error.
func deliver(s Subscriber, data []byte) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.Errorf("send panicked: %v", rec)
		}
	}()
	return s.Send(data)
}
