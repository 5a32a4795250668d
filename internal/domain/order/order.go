package order

import (
	"strconv"
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

// TimestampLayout is the wire format for acceptance timestamps
// (ISO 8601, millisecond precision, UTC).
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Status is the lifecycle state of an order.
type Status string

const (
	StatusInitiated Status = "INITIATED"
	StatusAccepted  Status = "ACCEPTED"
	StatusShipped   Status = "SHIPPED"
	StatusCancelled Status = "CANCELLED"
)

// ParseStatus returns the Status named by s.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusInitiated, StatusAccepted, StatusShipped, StatusCancelled:
		return st, nil
	default:
		return "", &ValidationError{Message: "Invalid status: " + s}
	}
}

// ID is a caller-supplied order identifier kept in its canonical JSON form,
// so the number 10 and the string "10" are distinct keys.
type ID string

// NumberID returns the identifier for an integer id.
func NumberID(n int64) ID {
	return ID(strconv.FormatInt(n, 10))
}

// StringID returns the identifier for a string id.
func StringID(s string) ID {
	var e jx.Encoder
	e.Str(s)
	return ID(e.Bytes())
}

// ParseID interprets an identifier taken from a URL path: integers map to
// number ids, anything else to string ids.
func ParseID(s string) ID {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return NumberID(n)
	}
	return StringID(s)
}

// IsZero reports whether the identifier is absent.
func (id ID) IsZero() bool { return id == "" }

// Raw returns the JSON literal of the identifier.
func (id ID) Raw() []byte { return []byte(id) }

// String returns the identifier as a human would write it: string ids are
// unquoted.
func (id ID) String() string {
	if len(id) > 0 && id[0] == '"' {
		if s, err := jx.DecodeStr(string(id)).Str(); err == nil {
			return s
		}
	}
	return string(id)
}

// Item is a single order line.
type Item struct {
	ID       ID
	Name     string
	Quantity int
	Price    decimal.Decimal
}

// Order is the stored state of one order.
//
// Items and Total are empty for stubs created by a cancellation or delivery
// that arrived before the order itself.
type Order struct {
	ID              ID
	Items           []Item
	Total           decimal.Decimal
	Status          Status
	DeliveryAddress string
	DeliveryDate    string
	AcceptedAt      time.Time
}

// HasItems reports whether the order was populated by a create command.
func (o *Order) HasItems() bool {
	return len(o.Items) > 0
}

// Clone returns a deep copy of o.
func (o *Order) Clone() Order {
	c := *o
	if o.Items != nil {
		c.Items = make([]Item, len(o.Items))
		copy(c.Items, o.Items)
	}
	return c
}

// Total returns the sum of quantity×price over items.
func Total(items []Item) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return total
}

// FormatTimestamp formats t with TimestampLayout in UTC.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Store is the owned, concurrency-safe mapping from id to order.
type Store interface {
	// Get returns a copy of the order, if present.
	Get(id ID) (Order, bool)
	// Upsert atomically replaces the order with the result of fn. fn receives
	// a copy of the current order, or nil when absent. When fn returns an
	// error the store is left untouched. Calls for the same id are serialized
	// and fn runs while that id is locked.
	Upsert(id ID, fn func(cur *Order) (Order, error)) (Order, error)
}
