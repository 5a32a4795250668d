// Package channel implements named broadcast channels: the registry of
// connected subscribers per channel and the dispatcher that fans events out
// to them.
package channel

import (
	"fmt"
	"strings"

	"github.com/go-faster/errors"
)

// Name identifies a logical channel. It is the connection's attachment path
// without the leading slash.
type Name string

// Recognized channels.
const (
	NewOrders      Name = "new-orders"
	WIPOrders      Name = "wip-orders"
	ToBeCancelled  Name = "to-be-cancelled-orders"
	CancelledOrder Name = "cancelled-orders"
	OutForDelivery Name = "out-for-delivery-orders"
	AcceptedOrders Name = "accepted-orders"
)

// Known lists every recognized channel.
var Known = []Name{
	NewOrders,
	WIPOrders,
	ToBeCancelled,
	CancelledOrder,
	OutForDelivery,
	AcceptedOrders,
}

// FromPath returns the channel name for a URL path.
func FromPath(path string) Name {
	return Name(strings.TrimPrefix(path, "/"))
}

// Path returns the attachment path of the channel.
func (n Name) Path() string {
	return "/" + string(n)
}

// ErrUnknownChannel is matched by every *UnknownChannelError.
var ErrUnknownChannel = errors.New("unknown channel")

// UnknownChannelError reports a channel outside the recognized set.
type UnknownChannelError struct {
	Name Name
}

func (e *UnknownChannelError) Error() string {
	return fmt.Sprintf("Unknown channel: %s", e.Name.Path())
}

func (e *UnknownChannelError) Unwrap() error {
	return ErrUnknownChannel
}
