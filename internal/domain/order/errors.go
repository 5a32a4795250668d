package order

import (
	"fmt"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned by lookups when no order matches.
var ErrNotFound = errors.New("order not found")

// ValidationError indicates a command with a missing or invalid field.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// DuplicateError indicates a create command for an order that already has
// line items.
type DuplicateError struct {
	ID ID
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("Order %s already exists", e.ID)
}

// TransitionError indicates a command that is not defined for the order's
// current status.
type TransitionError struct {
	ID   ID
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("Order %s cannot transition from %s to %s", e.ID, e.From, e.To)
}

// NotFoundError describes a failed lookup, optionally filtered by status.
type NotFoundError struct {
	ID     ID
	Status Status
}

func (e *NotFoundError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("Order %s not found with status %s", e.ID, e.Status)
	}
	return fmt.Sprintf("Order %s not found", e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}
