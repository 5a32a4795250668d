package order

import (
	"fmt"
	"time"
)

// CreateCommand places a new order.
type CreateCommand struct {
	ID    ID
	Items []Item
}

// CancelCommand cancels an order.
type CancelCommand struct {
	ID ID
}

// ShipCommand sends an order out for delivery.
type ShipCommand struct {
	OrderID         ID
	DeliveryAddress string
	DeliveryDate    string
}

// StatusUpdate sets an order's status directly, bypassing the transition
// rules. It backs the query service's write path.
type StatusUpdate struct {
	ID        ID
	Status    Status
	Timestamp time.Time
}

// Result is the outcome of a transition: the next order state and the event
// to emit.
type Result struct {
	Order Order
	Event Event
	// ScheduleAccept is set when the order entered INITIATED and should be
	// auto-accepted after the configured delay.
	ScheduleAccept bool
}

// Validate checks the command's semantic constraints.
func (c CreateCommand) Validate() error {
	if c.ID.IsZero() || len(c.Items) == 0 {
		return &ValidationError{Message: "Missing required fields: id and orderItems"}
	}
	for _, item := range c.Items {
		if item.Quantity < 1 {
			return &ValidationError{Message: fmt.Sprintf("Invalid quantity for item %s: must be at least 1", item.ID)}
		}
		if item.Price.IsNegative() {
			return &ValidationError{Message: fmt.Sprintf("Invalid price for item %s: must not be negative", item.ID)}
		}
	}
	return nil
}

// Validate checks the command's semantic constraints.
func (c CancelCommand) Validate() error {
	if c.ID.IsZero() {
		return &ValidationError{Message: "Missing required field: id"}
	}
	return nil
}

// Validate checks the command's semantic constraints.
func (c ShipCommand) Validate() error {
	if c.OrderID.IsZero() || c.DeliveryAddress == "" || c.DeliveryDate == "" {
		return &ValidationError{Message: "Missing required fields: orderId, deliveryAddress, deliveryDate"}
	}
	return nil
}

// Create computes the state after a create command.
//
// A missing order starts INITIATED. A stub left by an early cancellation or
// delivery gets its items and total but keeps its status. An order that
// already has items is a duplicate.
func Create(cur *Order, cmd CreateCommand) (Result, error) {
	if err := cmd.Validate(); err != nil {
		return Result{}, err
	}

	if cur == nil {
		o := Order{
			ID:     cmd.ID,
			Items:  cmd.Items,
			Total:  Total(cmd.Items),
			Status: StatusInitiated,
		}
		return Result{
			Order:          o,
			Event:          InitiatedEvent{ID: o.ID, TotalAmount: o.Total, Status: o.Status},
			ScheduleAccept: true,
		}, nil
	}

	if cur.HasItems() {
		return Result{}, &DuplicateError{ID: cmd.ID}
	}

	o := cur.Clone()
	o.Items = cmd.Items
	o.Total = Total(cmd.Items)
	if o.Status == "" {
		o.Status = StatusInitiated
	}
	return Result{
		Order:          o,
		Event:          InitiatedEvent{ID: o.ID, TotalAmount: o.Total, Status: o.Status},
		ScheduleAccept: o.Status == StatusInitiated,
	}, nil
}

// Cancel computes the state after a cancel command. A missing order becomes a
// CANCELLED stub. Shipped orders cannot be cancelled.
func Cancel(cur *Order, cmd CancelCommand) (Result, error) {
	if err := cmd.Validate(); err != nil {
		return Result{}, err
	}

	var o Order
	if cur == nil {
		o = Order{ID: cmd.ID}
	} else {
		if cur.Status == StatusShipped {
			return Result{}, &TransitionError{ID: cmd.ID, From: cur.Status, To: StatusCancelled}
		}
		o = cur.Clone()
	}
	o.Status = StatusCancelled

	return Result{
		Order: o,
		Event: CancelledEvent{Reference: o.ID, Status: o.Status},
	}, nil
}

// Ship computes the state after a delivery command. A missing order becomes a
// SHIPPED stub. Cancelled orders cannot be shipped.
func Ship(cur *Order, cmd ShipCommand) (Result, error) {
	if err := cmd.Validate(); err != nil {
		return Result{}, err
	}

	var o Order
	if cur == nil {
		o = Order{ID: cmd.OrderID}
	} else {
		if cur.Status == StatusCancelled {
			return Result{}, &TransitionError{ID: cmd.OrderID, From: cur.Status, To: StatusShipped}
		}
		o = cur.Clone()
	}
	o.Status = StatusShipped
	o.DeliveryAddress = cmd.DeliveryAddress
	o.DeliveryDate = cmd.DeliveryDate

	return Result{
		Order: o,
		Event: ShippedEvent{OrderID: o.ID, Status: o.Status, Message: ShippedMessage},
	}, nil
}

// Accept computes the auto-accept transition at fire time. It reports false
// unless the order is still INITIATED.
func Accept(cur *Order, at time.Time) (Result, bool) {
	if cur == nil || cur.Status != StatusInitiated {
		return Result{}, false
	}

	o := cur.Clone()
	o.Status = StatusAccepted
	o.AcceptedAt = at

	return Result{
		Order: o,
		Event: AcceptedEvent{ID: o.ID, Status: o.Status, Timestamp: at},
	}, true
}

// SetStatus applies a status update, creating the order when absent.
func SetStatus(cur *Order, u StatusUpdate) (Result, error) {
	if u.ID.IsZero() {
		return Result{}, &ValidationError{Message: "Missing required field: id"}
	}

	var o Order
	if cur == nil {
		o = Order{ID: u.ID}
	} else {
		o = cur.Clone()
	}
	o.Status = u.Status
	o.AcceptedAt = u.Timestamp

	return Result{
		Order: o,
		Event: AcceptedEvent{ID: o.ID, Status: o.Status, Timestamp: u.Timestamp},
	}, nil
}
