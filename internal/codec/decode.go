// Package codec implements the JSON wire format of the router: inbound
// commands, outbound events, error replies and the optional envelope.
package codec

import (
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/order-router/internal/domain/order"
)

// ErrMalformed is returned for input that is not valid JSON. Its text is the
// error reply sent to the client.
var ErrMalformed = errors.New("Invalid JSON format")

// Inbound is a decoded client message.
type Inbound struct {
	// Payload is the command body: the envelope's payload object, or the
	// whole message when it was sent bare.
	Payload []byte
	// Envelope is set when the message used the {channel, headers, payload}
	// form.
	Envelope      bool
	Channel       string
	CorrelationID string
}

// DecodeInbound parses a client message in either bare or envelope form.
func DecodeInbound(data []byte) (Inbound, error) {
	if !jx.Valid(data) {
		return Inbound{}, ErrMalformed
	}
	d := jx.DecodeBytes(data)
	if d.Next() != jx.Object {
		return Inbound{}, invalid("Invalid message: expected JSON object")
	}

	var (
		in      Inbound
		payload jx.Raw
	)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "payload":
			raw, err := d.Raw()
			if err != nil {
				return err
			}
			if raw.Type() == jx.Object {
				payload = raw
			}
			return nil
		case "headers":
			if d.Next() != jx.Object {
				return d.Skip()
			}
			return d.Obj(func(d *jx.Decoder, key string) error {
				if key == "orderCorrelationId" && d.Next() == jx.String {
					s, err := d.Str()
					in.CorrelationID = s
					return err
				}
				return d.Skip()
			})
		case "channel":
			if d.Next() != jx.String {
				return d.Skip()
			}
			s, err := d.Str()
			in.Channel = s
			return err
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return Inbound{}, errors.Wrap(ErrMalformed, err.Error())
	}

	if payload != nil {
		in.Payload = payload
		in.Envelope = true
	} else {
		in.Payload = data
	}
	return in, nil
}

// DecodeCreate parses a create payload {id, orderItems:[{id,name,quantity,price}]}.
func DecodeCreate(payload []byte) (order.CreateCommand, error) {
	var cmd order.CreateCommand
	err := decodeObject(payload, func(d *jx.Decoder, key string) error {
		switch key {
		case "id":
			id, err := readID(d, key)
			cmd.ID = id
			return err
		case "orderItems":
			items, err := readItems(d)
			cmd.Items = items
			return err
		default:
			return d.Skip()
		}
	})
	return cmd, err
}

// DecodeCancel parses a cancel payload {id}.
func DecodeCancel(payload []byte) (order.CancelCommand, error) {
	var cmd order.CancelCommand
	err := decodeObject(payload, func(d *jx.Decoder, key string) error {
		if key != "id" {
			return d.Skip()
		}
		id, err := readID(d, key)
		cmd.ID = id
		return err
	})
	return cmd, err
}

// DecodeShip parses a delivery payload {orderId, deliveryAddress, deliveryDate}.
func DecodeShip(payload []byte) (order.ShipCommand, error) {
	var cmd order.ShipCommand
	err := decodeObject(payload, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "orderId":
			cmd.OrderID, err = readID(d, key)
		case "deliveryAddress":
			cmd.DeliveryAddress, err = readString(d, key)
		case "deliveryDate":
			cmd.DeliveryDate, err = readString(d, key)
		default:
			err = d.Skip()
		}
		return err
	})
	return cmd, err
}

// DecodeStatusUpdate parses a status update {id, status?, timestamp?}.
// Status defaults to ACCEPTED and timestamp to now.
func DecodeStatusUpdate(payload []byte, now time.Time) (order.StatusUpdate, error) {
	u := order.StatusUpdate{Status: order.StatusAccepted, Timestamp: now}
	err := decodeObject(payload, func(d *jx.Decoder, key string) error {
		switch key {
		case "id":
			id, err := readID(d, key)
			u.ID = id
			return err
		case "status":
			s, err := readString(d, key)
			if err != nil || s == "" {
				return err
			}
			u.Status, err = order.ParseStatus(s)
			return err
		case "timestamp":
			s, err := readString(d, key)
			if err != nil || s == "" {
				return err
			}
			ts, err := time.Parse(time.RFC3339Nano, s)
			if err != nil {
				return invalid("Invalid timestamp: " + s)
			}
			u.Timestamp = ts
			return nil
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return order.StatusUpdate{}, err
	}
	if u.ID.IsZero() {
		return order.StatusUpdate{}, invalid("Missing required field: id")
	}
	return u, nil
}

// decodeObject walks the top-level object of payload, normalizing errors to
// ErrMalformed or *order.ValidationError.
func decodeObject(payload []byte, fn func(d *jx.Decoder, key string) error) error {
	if !jx.Valid(payload) {
		return ErrMalformed
	}
	d := jx.DecodeBytes(payload)
	if d.Next() != jx.Object {
		return invalid("Invalid message: expected JSON object")
	}

	if err := d.Obj(fn); err != nil {
		var vErr *order.ValidationError
		if errors.As(err, &vErr) {
			return vErr
		}
		return errors.Wrap(ErrMalformed, err.Error())
	}
	return nil
}

func readID(d *jx.Decoder, field string) (order.ID, error) {
	switch d.Next() {
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return "", err
		}
		if v, err := n.Int64(); err == nil {
			return order.NumberID(v), nil
		}
		return order.ID(n.String()), nil
	case jx.String:
		s, err := d.Str()
		if err != nil || s == "" {
			return "", err
		}
		return order.StringID(s), nil
	case jx.Null:
		return "", d.Null()
	default:
		if err := d.Skip(); err != nil {
			return "", err
		}
		return "", invalid(fmt.Sprintf("Invalid field %s: expected number or string", field))
	}
}

func readString(d *jx.Decoder, field string) (string, error) {
	switch d.Next() {
	case jx.String:
		return d.Str()
	case jx.Null:
		return "", d.Null()
	default:
		if err := d.Skip(); err != nil {
			return "", err
		}
		return "", invalid(fmt.Sprintf("Invalid field %s: expected string", field))
	}
}

func readItems(d *jx.Decoder) ([]order.Item, error) {
	switch d.Next() {
	case jx.Null:
		return nil, d.Null()
	case jx.Array:
	default:
		if err := d.Skip(); err != nil {
			return nil, err
		}
		return nil, invalid("Invalid field orderItems: expected array")
	}

	var items []order.Item
	err := d.Arr(func(d *jx.Decoder) error {
		item, err := readItem(d)
		if err != nil {
			return err
		}
		items = append(items, item)
		return nil
	})
	return items, err
}

func readItem(d *jx.Decoder) (order.Item, error) {
	if d.Next() != jx.Object {
		if err := d.Skip(); err != nil {
			return order.Item{}, err
		}
		return order.Item{}, invalid("Invalid field orderItems: expected array of objects")
	}

	var (
		item     order.Item
		hasQty   bool
		hasPrice bool
	)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			item.ID, err = readID(d, key)
		case "name":
			item.Name, err = readString(d, key)
		case "quantity":
			item.Quantity, err = readQuantity(d)
			hasQty = true
		case "price":
			item.Price, err = readPrice(d)
			hasPrice = true
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return order.Item{}, err
	}
	if !hasQty || !hasPrice {
		return order.Item{}, invalid("Missing required fields for order item: quantity and price")
	}
	return item, nil
}

func readQuantity(d *jx.Decoder) (int, error) {
	if d.Next() != jx.Number {
		if err := d.Skip(); err != nil {
			return 0, err
		}
		return 0, invalid("Invalid field quantity: expected integer")
	}
	n, err := d.Num()
	if err != nil {
		return 0, err
	}
	v, err := n.Int64()
	if err != nil {
		return 0, invalid("Invalid field quantity: expected integer")
	}
	return int(v), nil
}

func readPrice(d *jx.Decoder) (decimal.Decimal, error) {
	if d.Next() != jx.Number {
		if err := d.Skip(); err != nil {
			return decimal.Zero, err
		}
		return decimal.Zero, invalid("Invalid field price: expected number")
	}
	n, err := d.Num()
	if err != nil {
		return decimal.Zero, err
	}
	price, err := decimal.NewFromString(n.String())
	if err != nil {
		return decimal.Zero, invalid("Invalid field price: expected number")
	}
	return price, nil
}

func invalid(msg string) *order.ValidationError {
	return &order.ValidationError{Message: msg}
}
