package order

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Helpers ---

func newItem(id int64, qty int, price string) Item {
	return Item{
		ID:       NumberID(id),
		Name:     "item",
		Quantity: qty,
		Price:    decimal.RequireFromString(price),
	}
}

func newCreate(id int64, items ...Item) CreateCommand {
	return CreateCommand{ID: NumberID(id), Items: items}
}

// --- Tests ---

func TestCreate_NewOrder(t *testing.T) {
	res, err := Create(nil, newCreate(10, newItem(1, 1, "2000"), newItem(2, 1, "1000")))
	require.NoError(t, err)

	assert.Equal(t, StatusInitiated, res.Order.Status)
	assert.True(t, decimal.RequireFromString("3000").Equal(res.Order.Total))
	assert.True(t, res.ScheduleAccept)

	ev, ok := res.Event.(InitiatedEvent)
	require.True(t, ok, "expected InitiatedEvent, got %T", res.Event)
	assert.Equal(t, NumberID(10), ev.ID)
	assert.Equal(t, StatusInitiated, ev.Status)
	assert.True(t, decimal.RequireFromString("3000").Equal(ev.TotalAmount))
}

func TestCreate_TotalUsesQuantity(t *testing.T) {
	res, err := Create(nil, newCreate(20, newItem(3, 2, "800"), newItem(4, 3, "0.5")))
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("1601.5").Equal(res.Order.Total))
}

func TestCreate_Validation(t *testing.T) {
	tests := []struct {
		name string
		cmd  CreateCommand
		msg  string
	}{
		{
			name: "missing id",
			cmd:  CreateCommand{Items: []Item{newItem(1, 1, "1")}},
			msg:  "Missing required fields: id and orderItems",
		},
		{
			name: "no items",
			cmd:  CreateCommand{ID: NumberID(1)},
			msg:  "Missing required fields: id and orderItems",
		},
		{
			name: "zero quantity",
			cmd:  newCreate(1, newItem(7, 0, "1")),
			msg:  "Invalid quantity for item 7: must be at least 1",
		},
		{
			name: "negative price",
			cmd:  newCreate(1, newItem(7, 1, "-1")),
			msg:  "Invalid price for item 7: must not be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Create(nil, tt.cmd)
			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.msg, vErr.Message)
		})
	}
}

func TestCreate_AfterCancelKeepsCancelled(t *testing.T) {
	stub, err := Cancel(nil, CancelCommand{ID: NumberID(20)})
	require.NoError(t, err)

	res, err := Create(&stub.Order, newCreate(20, newItem(3, 2, "800")))
	require.NoError(t, err)

	assert.Equal(t, StatusCancelled, res.Order.Status)
	assert.True(t, decimal.RequireFromString("1600").Equal(res.Order.Total))
	assert.Len(t, res.Order.Items, 1)
	assert.False(t, res.ScheduleAccept)
}

func TestCreate_AfterShipKeepsShipped(t *testing.T) {
	stub, err := Ship(nil, ShipCommand{OrderID: NumberID(5), DeliveryAddress: "a", DeliveryDate: "d"})
	require.NoError(t, err)

	res, err := Create(&stub.Order, newCreate(5, newItem(1, 1, "10")))
	require.NoError(t, err)

	assert.Equal(t, StatusShipped, res.Order.Status)
	assert.Equal(t, "a", res.Order.DeliveryAddress)
	assert.False(t, res.ScheduleAccept)
}

func TestCreate_Duplicate(t *testing.T) {
	first, err := Create(nil, newCreate(1, newItem(1, 1, "10")))
	require.NoError(t, err)

	_, err = Create(&first.Order, newCreate(1, newItem(2, 5, "99")))
	var dErr *DuplicateError
	require.ErrorAs(t, err, &dErr)
	assert.Equal(t, "Order 1 already exists", dErr.Error())
}

func TestCancel(t *testing.T) {
	t.Run("missing order creates stub", func(t *testing.T) {
		res, err := Cancel(nil, CancelCommand{ID: NumberID(20)})
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, res.Order.Status)
		assert.Equal(t, CancelledEvent{Reference: NumberID(20), Status: StatusCancelled}, res.Event)
	})

	t.Run("accepted order", func(t *testing.T) {
		cur := &Order{ID: NumberID(3), Status: StatusAccepted}
		res, err := Cancel(cur, CancelCommand{ID: NumberID(3)})
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, res.Order.Status)
		assert.Equal(t, StatusAccepted, cur.Status, "input must not be mutated")
	})

	t.Run("already cancelled is idempotent", func(t *testing.T) {
		cur := &Order{ID: NumberID(3), Status: StatusCancelled}
		res, err := Cancel(cur, CancelCommand{ID: NumberID(3)})
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, res.Order.Status)
	})

	t.Run("shipped is rejected", func(t *testing.T) {
		cur := &Order{ID: NumberID(3), Status: StatusShipped}
		_, err := Cancel(cur, CancelCommand{ID: NumberID(3)})
		var tErr *TransitionError
		require.ErrorAs(t, err, &tErr)
		assert.Equal(t, "Order 3 cannot transition from SHIPPED to CANCELLED", tErr.Error())
	})

	t.Run("missing id", func(t *testing.T) {
		_, err := Cancel(nil, CancelCommand{})
		var vErr *ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Equal(t, "Missing required field: id", vErr.Message)
	})
}

func TestShip(t *testing.T) {
	cmd := ShipCommand{OrderID: NumberID(10), DeliveryAddress: "1234 Elm Street", DeliveryDate: "2025-04-14"}

	t.Run("missing order creates stub", func(t *testing.T) {
		res, err := Ship(nil, cmd)
		require.NoError(t, err)
		assert.Equal(t, StatusShipped, res.Order.Status)
		assert.Equal(t, "1234 Elm Street", res.Order.DeliveryAddress)
		assert.Equal(t, "2025-04-14", res.Order.DeliveryDate)
		assert.Equal(t, ShippedEvent{OrderID: NumberID(10), Status: StatusShipped, Message: ShippedMessage}, res.Event)
	})

	t.Run("existing order keeps total", func(t *testing.T) {
		created, err := Create(nil, newCreate(10, newItem(1, 1, "2000")))
		require.NoError(t, err)

		res, err := Ship(&created.Order, cmd)
		require.NoError(t, err)
		assert.Equal(t, StatusShipped, res.Order.Status)
		assert.True(t, decimal.RequireFromString("2000").Equal(res.Order.Total))
	})

	t.Run("cancelled is rejected", func(t *testing.T) {
		_, err := Ship(&Order{ID: NumberID(10), Status: StatusCancelled}, cmd)
		var tErr *TransitionError
		require.ErrorAs(t, err, &tErr)
	})

	t.Run("missing fields", func(t *testing.T) {
		_, err := Ship(nil, ShipCommand{OrderID: NumberID(10)})
		var vErr *ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Equal(t, "Missing required fields: orderId, deliveryAddress, deliveryDate", vErr.Message)
	})
}

func TestAccept(t *testing.T) {
	at := time.Date(2025, 4, 14, 10, 0, 0, 0, time.UTC)

	created, err := Create(nil, newCreate(10, newItem(1, 1, "1")))
	require.NoError(t, err)

	res, ok := Accept(&created.Order, at)
	require.True(t, ok)
	assert.Equal(t, StatusAccepted, res.Order.Status)
	assert.Equal(t, at, res.Order.AcceptedAt)
	assert.Equal(t, AcceptedEvent{ID: NumberID(10), Status: StatusAccepted, Timestamp: at}, res.Event)

	for _, st := range []Status{StatusAccepted, StatusCancelled, StatusShipped} {
		_, ok := Accept(&Order{ID: NumberID(10), Status: st}, at)
		assert.False(t, ok, "accept from %s", st)
	}

	_, ok = Accept(nil, at)
	assert.False(t, ok)
}

func TestSetStatus(t *testing.T) {
	at := time.Date(2025, 4, 14, 10, 0, 0, 0, time.UTC)

	res, err := SetStatus(nil, StatusUpdate{ID: NumberID(4), Status: StatusAccepted, Timestamp: at})
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, res.Order.Status)
	assert.Equal(t, at, res.Order.AcceptedAt)

	_, err = SetStatus(nil, StatusUpdate{Status: StatusAccepted})
	require.Error(t, err)
}

func TestID(t *testing.T) {
	assert.Equal(t, ID("10"), NumberID(10))
	assert.Equal(t, ID(`"abc"`), StringID("abc"))
	assert.NotEqual(t, NumberID(10), StringID("10"))

	assert.Equal(t, NumberID(42), ParseID("42"))
	assert.Equal(t, StringID("ord-1"), ParseID("ord-1"))

	assert.Equal(t, "abc", StringID("abc").String())
	assert.Equal(t, "10", NumberID(10).String())
}

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus("SHIPPED")
	require.NoError(t, err)
	assert.Equal(t, StatusShipped, st)

	_, err = ParseStatus("LOST")
	require.Error(t, err)
}

func TestFormatTimestamp(t *testing.T) {
	ts := time.Date(2025, 4, 14, 10, 30, 15, 123_000_000, time.FixedZone("X", 3600))
	assert.Equal(t, "2025-04-14T09:30:15.123Z", FormatTimestamp(ts))
}
