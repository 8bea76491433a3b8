/*
lifecycle.go - Invoice status state machine and the draft edit lock

PURPOSE:
  Status only moves forward. Every legal move is listed in one table;
  anything not in the table is an InvalidTransition, checked before any
  write.

STATE MACHINE:

  draft ──────► sent ──────► paid
    │             │
    └─► cancelled ◄┘

  paid and cancelled are terminal. There is no way back to draft.

PRECONDITIONS:
  draft -> sent requires at least one item and a resolvable customer.
  Once sent, the number and the financial fields are frozen.

EDIT LOCK:
  Items, date, due date and notes change only while the invoice is a
  draft. Any other status returns ErrInvoiceLocked and nothing is written.

CONCURRENCY:
  Writes go through Patch with ExpectStatus set to the status that was
  read, so a racing transition loses with ErrConcurrentModification
  instead of overwriting.

SEE ALSO:
  - store.go: Patch
  - errors.go: TransitionError
*/
package invoice

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// transitions is the complete table of legal status moves.
var transitions = map[Status][]Status{
	StatusDraft: {StatusSent, StatusCancelled},
	StatusSent:  {StatusPaid, StatusCancelled},
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Edit lists the draft fields a caller may change. Nil fields are left alone.
// The number is not editable.
type Edit struct {
	Items   []LineItem
	Date    *time.Time
	DueDate *time.Time
	Notes   *string
}

type Lifecycle struct {
	store      InvoiceRepository
	customers  CustomerDirectory
	dispatcher Dispatcher
	now        func() time.Time
	logger     *zap.Logger
}

func NewLifecycle(store InvoiceRepository, customers CustomerDirectory, dispatcher Dispatcher, now func() time.Time, logger *zap.Logger) *Lifecycle {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if dispatcher == nil {
		dispatcher = NopDispatcher{}
	}
	return &Lifecycle{store: store, customers: customers, dispatcher: dispatcher, now: now, logger: logger}
}

// Transition moves the invoice to status to, or fails without writing.
func (l *Lifecycle) Transition(ctx context.Context, id InvoiceID, to Status) (*Invoice, error) {
	inv, err := l.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	from := inv.Status
	if !CanTransition(from, to) {
		return nil, &TransitionError{InvoiceID: id, From: from, To: to}
	}
	if to == StatusSent {
		if err := l.checkSendable(ctx, inv); err != nil {
			return nil, err
		}
	}

	now := l.now().UTC()
	patch := Patch{ExpectStatus: from, Status: &to, UpdatedAt: now}
	var event EventType
	switch to {
	case StatusSent:
		patch.SentAt, inv.SentAt, event = &now, &now, EventSent
	case StatusPaid:
		patch.PaidAt, inv.PaidAt, event = &now, &now, EventPaid
	case StatusCancelled:
		patch.CancelledAt, inv.CancelledAt, event = &now, &now, EventCancelled
	}
	if err := l.store.Patch(ctx, id, patch); err != nil {
		return nil, errors.Wrapf(err, "transition %s %s -> %s", id, from, to)
	}
	inv.Status, inv.UpdatedAt = to, now

	l.logger.Info("invoice status changed",
		zap.String("invoice_id", string(id)),
		zap.String("number", inv.Number),
		zap.String("from", string(from)),
		zap.String("to", string(to)))
	if err := l.dispatcher.Publish(ctx, eventFor(event, *inv, now)); err != nil {
		l.logger.Warn("event dispatch failed",
			zap.String("event_type", string(event)),
			zap.String("invoice_id", string(id)),
			zap.Error(err))
	}
	return inv, nil
}

func (l *Lifecycle) checkSendable(ctx context.Context, inv *Invoice) error {
	if len(inv.Items) == 0 {
		return errors.WithHint(
			errors.Wrapf(ErrPreconditionFailed, "invoice %s has no items", inv.ID),
			"add at least one line item before sending")
	}
	c, err := l.customers.Get(ctx, inv.CustomerID)
	if err != nil {
		if errors.Is(err, ErrCustomerNotFound) {
			return errors.Wrapf(ErrPreconditionFailed, "customer %s cannot be resolved", inv.CustomerID)
		}
		return errors.Wrapf(err, "resolve customer %s", inv.CustomerID)
	}
	if c.WorkspaceID != "" && c.WorkspaceID != inv.WorkspaceID {
		return errors.Wrapf(ErrPreconditionFailed, "customer %s belongs to another workspace", inv.CustomerID)
	}
	return nil
}

// Edit changes draft fields and recomputes totals. Non-drafts are locked.
func (l *Lifecycle) Edit(ctx context.Context, id InvoiceID, e Edit) (*Invoice, error) {
	inv, err := l.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !inv.Editable() {
		return nil, errors.WithHint(
			errors.Wrapf(ErrInvoiceLocked, "invoice %s is %s", inv.Number, inv.Status),
			"only draft invoices can be edited")
	}

	next := *inv
	if e.Items != nil {
		next.Items = e.Items
	}
	if e.Date != nil {
		next.Date = *e.Date
	}
	if e.DueDate != nil {
		next.DueDate = *e.DueDate
	}
	if e.Notes != nil {
		next.Notes = *e.Notes
	}
	if err := next.validateFields(); err != nil {
		return nil, err
	}
	next.Recalculate()
	next.UpdatedAt = l.now().UTC()

	totals := Totals{Subtotal: next.Subtotal, TaxTotal: next.TaxTotal, Total: next.Total}
	patch := Patch{
		ExpectStatus: StatusDraft,
		Items:        next.Items,
		Totals:       &totals,
		Date:         &next.Date,
		DueDate:      &next.DueDate,
		Notes:        &next.Notes,
		UpdatedAt:    next.UpdatedAt,
	}
	if err := l.store.Patch(ctx, id, patch); err != nil {
		if errors.Is(err, ErrConcurrentModification) {
			// Lost to a transition; report it the way a fresh read would.
			return nil, errors.WithSecondaryError(errors.Wrapf(ErrInvoiceLocked, "invoice %s", inv.Number), err)
		}
		return nil, errors.Wrapf(err, "edit invoice %s", id)
	}

	l.logger.Info("invoice edited",
		zap.String("invoice_id", string(id)),
		zap.String("number", next.Number),
		zap.Int64("total", next.Total))
	return &next, nil
}
