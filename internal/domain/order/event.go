package order

import (
	"time"

	"github.com/shopspring/decimal"
)

// ShippedMessage is the human-readable text of a delivery confirmation.
const ShippedMessage = "Order is out for delivery"

// Event is an outbound notification produced by a transition.
type Event interface {
	event()
}

// InitiatedEvent is published to the work-in-progress channel on create.
type InitiatedEvent struct {
	ID          ID
	TotalAmount decimal.Decimal
	Status      Status
}

// AcceptedEvent is published to the accepted channel on acceptance or on a
// status update from the query service.
type AcceptedEvent struct {
	ID        ID
	Status    Status
	Timestamp time.Time
}

// CancelledEvent is published to the cancelled channel.
type CancelledEvent struct {
	Reference ID
	Status    Status
}

// ShippedEvent is sent back to the connection that requested delivery.
type ShippedEvent struct {
	OrderID ID
	Status  Status
	Message string
}

func (InitiatedEvent) event() {}
func (AcceptedEvent) event()  {}
func (CancelledEvent) event() {}
func (ShippedEvent) event()   {}
