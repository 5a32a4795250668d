package codec

import (
	"github.com/go-faster/jx"

	"github.com/xenking/order-router/internal/channel"
	"github.com/xenking/order-router/internal/domain/order"
)

// Envelope channel names for replies that are not broadcasts.
const (
	ErrorChannel    channel.Name = "error"
	DeliveryChannel channel.Name = "delivery-confirmation"
)

var (
	_ channel.Message = Event{}
	_ channel.Message = Failure{}
)

// Event is an outbound order event.
type Event struct {
	Event order.Event
	// Envelope wraps the event as {channel, headers, payload}.
	Envelope      bool
	CorrelationID string
}

// EncodeJSON implements channel.Message.
func (m Event) EncodeJSON(e *jx.Encoder, ch channel.Name) {
	encodeWrapped(e, m.Envelope, ch, m.CorrelationID, func(e *jx.Encoder) {
		EncodeEvent(e, m.Event)
	})
}

// Failure is an error reply {error}.
type Failure struct {
	Message       string
	Envelope      bool
	CorrelationID string
}

// EncodeJSON implements channel.Message.
func (m Failure) EncodeJSON(e *jx.Encoder, _ channel.Name) {
	encodeWrapped(e, m.Envelope, ErrorChannel, m.CorrelationID, func(e *jx.Encoder) {
		EncodeError(e, m.Message)
	})
}

// Marshal renders m for ch into a fresh byte slice.
func Marshal(m channel.Message, ch channel.Name) []byte {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	m.EncodeJSON(e, ch)
	return append([]byte(nil), e.Bytes()...)
}

func encodeWrapped(e *jx.Encoder, envelope bool, ch channel.Name, correlationID string, body func(e *jx.Encoder)) {
	if !envelope {
		body(e)
		return
	}
	e.Obj(func(e *jx.Encoder) {
		e.Field("channel", func(e *jx.Encoder) { e.Str(string(ch)) })
		if correlationID != "" {
			e.Field("headers", func(e *jx.Encoder) {
				e.Obj(func(e *jx.Encoder) {
					e.Field("orderCorrelationId", func(e *jx.Encoder) { e.Str(correlationID) })
				})
			})
		}
		e.Field("payload", body)
	})
}

// EncodeEvent writes the payload of an order event.
func EncodeEvent(e *jx.Encoder, ev order.Event) {
	e.Obj(func(e *jx.Encoder) {
		switch ev := ev.(type) {
		case order.InitiatedEvent:
			e.Field("id", func(e *jx.Encoder) { e.Raw(ev.ID.Raw()) })
			e.Field("totalAmount", func(e *jx.Encoder) { e.Num(jx.Num(ev.TotalAmount.String())) })
			e.Field("status", func(e *jx.Encoder) { e.Str(string(ev.Status)) })
		case order.AcceptedEvent:
			e.Field("id", func(e *jx.Encoder) { e.Raw(ev.ID.Raw()) })
			e.Field("status", func(e *jx.Encoder) { e.Str(string(ev.Status)) })
			e.Field("timestamp", func(e *jx.Encoder) { e.Str(order.FormatTimestamp(ev.Timestamp)) })
		case order.CancelledEvent:
			e.Field("reference", func(e *jx.Encoder) { e.Raw(ev.Reference.Raw()) })
			e.Field("status", func(e *jx.Encoder) { e.Str(string(ev.Status)) })
		case order.ShippedEvent:
			e.Field("orderId", func(e *jx.Encoder) { e.Raw(ev.OrderID.Raw()) })
			e.Field("status", func(e *jx.Encoder) { e.Str(string(ev.Status)) })
			e.Field("message", func(e *jx.Encoder) { e.Str(ev.Message) })
		}
	})
}

// EncodeOrder writes the full stored state of an order.
func EncodeOrder(e *jx.Encoder, o order.Order) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Raw(o.ID.Raw()) })
		if o.HasItems() {
			e.Field("totalAmount", func(e *jx.Encoder) { e.Num(jx.Num(o.Total.String())) })
		}
		e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
		if o.HasItems() {
			e.Field("items", func(e *jx.Encoder) {
				e.Arr(func(e *jx.Encoder) {
					for _, item := range o.Items {
						encodeItem(e, item)
					}
				})
			})
		}
		if o.DeliveryAddress != "" {
			e.Field("deliveryAddress", func(e *jx.Encoder) { e.Str(o.DeliveryAddress) })
		}
		if o.DeliveryDate != "" {
			e.Field("deliveryDate", func(e *jx.Encoder) { e.Str(o.DeliveryDate) })
		}
		if !o.AcceptedAt.IsZero() {
			e.Field("timestamp", func(e *jx.Encoder) { e.Str(order.FormatTimestamp(o.AcceptedAt)) })
		}
	})
}

func encodeItem(e *jx.Encoder, item order.Item) {
	e.Obj(func(e *jx.Encoder) {
		if !item.ID.IsZero() {
			e.Field("id", func(e *jx.Encoder) { e.Raw(item.ID.Raw()) })
		}
		if item.Name != "" {
			e.Field("name", func(e *jx.Encoder) { e.Str(item.Name) })
		}
		e.Field("quantity", func(e *jx.Encoder) { e.Int(item.Quantity) })
		e.Field("price", func(e *jx.Encoder) { e.Num(jx.Num(item.Price.String())) })
	})
}

// EncodeError writes an error payload {error}.
func EncodeError(e *jx.Encoder, msg string) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("error", func(e *jx.Encoder) { e.Str(msg) })
	})
}

// OrderMessage renders a stored order as a channel.Message.
type OrderMessage struct {
	Order order.Order
}

// EncodeJSON implements channel.Message.
func (m OrderMessage) EncodeJSON(e *jx.Encoder, _ channel.Name) {
	EncodeOrder(e, m.Order)
}
