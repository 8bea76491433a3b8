/*
store.go - Persistence and collaborator interfaces

PURPOSE:
  Defines the boundary between the engine and everything it does not own:
  invoice persistence, the per-period sequence counter, the lesson
  calendar, the customer directory and downstream event consumers
  (PDF rendering, email).

KEY INTERFACES:
  InvoiceRepository:   Create, Get, ListByWorkspace, Patch (no Delete, ever)
  SequenceStore:       Atomic per (workspace, year, month) counters
  Store / TxStore:     Both of the above, optionally transactional
  LessonBillingSource: Unbilled lessons in a range, MarkInvoiced
  CustomerDirectory:   Customer lookup for rates, terms and VAT status
  Dispatcher:          Lifecycle events after commit

COMPARE-AND-SET:
  Patch carries the status the caller read. Implementations apply the
  patch only if the stored status still equals ExpectStatus, otherwise
  they return ErrConcurrentModification. Two racing "send" requests
  therefore cannot both succeed.

IMPLEMENTATIONS:
  - invoice/store/memory.go: In-memory for tests and dev
  - store/sqlstore/sqlstore.go: SQLite and PostgreSQL via sqlx

SEE ALSO:
  - allocator.go: the only SequenceStore caller
  - lifecycle.go: the only Patch caller
*/
package invoice

import (
	"context"
	"time"
)

// =============================================================================
// INVOICE REPOSITORY
// =============================================================================

// InvoiceRepository persists invoices. Invoices are never deleted; cancelled
// is a status, not an absence.
type InvoiceRepository interface {
	// Create inserts inv. A (workspace, number) collision returns
	// ErrDuplicateInvoiceNumber.
	Create(ctx context.Context, inv Invoice) (InvoiceID, error)

	// Get returns ErrInvoiceNotFound for unknown ids.
	Get(ctx context.Context, id InvoiceID) (*Invoice, error)

	// ListByWorkspace returns invoices ordered by number.
	ListByWorkspace(ctx context.Context, ws WorkspaceID, filter ListFilter) ([]Invoice, error)

	// Patch applies p if the stored status equals p.ExpectStatus.
	Patch(ctx context.Context, id InvoiceID, p Patch) error
}

// ListFilter narrows ListByWorkspace. Zero values match everything.
type ListFilter struct {
	Statuses   []Status
	CustomerID CustomerID
	IDs        []InvoiceID

	// Overdue is evaluated at read time by Service, never by repositories.
	Overdue bool
}

// Patch is a partial update guarded by ExpectStatus.
type Patch struct {
	ExpectStatus Status

	Status  *Status
	Items   []LineItem // nil leaves items unchanged
	Totals  *Totals    // set whenever Items is set
	Date    *time.Time
	DueDate *time.Time
	Notes   *string

	SentAt      *time.Time
	PaidAt      *time.Time
	CancelledAt *time.Time

	UpdatedAt time.Time
}

// =============================================================================
// SEQUENCE STORE
// =============================================================================

// SequenceStore owns the (workspace, year, month) counters. Every method
// must be atomic per key.
type SequenceStore interface {
	// NextSequence increments and returns the counter, starting at 1.
	NextSequence(ctx context.Context, ws WorkspaceID, p Period) (int, error)

	// AdvanceSequence raises the counter to seq if seq is greater and returns
	// the stored value afterwards. It never lowers the counter.
	AdvanceSequence(ctx context.Context, ws WorkspaceID, p Period, seq int) (int, error)

	// LastSequence returns the last issued ordinal, 0 if none.
	LastSequence(ctx context.Context, ws WorkspaceID, p Period) (int, error)
}

// Store is what the engine needs from a database.
type Store interface {
	InvoiceRepository
	SequenceStore
}

// TxStore wraps Store with transaction support.
// Use this when allocation and insert must commit together.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// COLLABORATORS
// =============================================================================

// LessonBillingSource is the calendar's view of billable time.
type LessonBillingSource interface {
	// ListUnbilled returns lessons with Start in [from, to) and Invoiced == false.
	ListUnbilled(ctx context.Context, ws WorkspaceID, from, to time.Time) ([]BillableLesson, error)

	// MarkInvoiced flags the lessons as billed.
	MarkInvoiced(ctx context.Context, ids []LessonID) error
}

// CustomerDirectory resolves customers. Unknown ids return ErrCustomerNotFound.
type CustomerDirectory interface {
	Get(ctx context.Context, id CustomerID) (*Customer, error)
}

// =============================================================================
// EVENTS
// =============================================================================

type EventType string

const (
	EventCreated   EventType = "invoice.created"
	EventSent      EventType = "invoice.sent"
	EventPaid      EventType = "invoice.paid"
	EventCancelled EventType = "invoice.cancelled"
)

// Event is published after a write has committed.
type Event struct {
	Type        EventType
	InvoiceID   InvoiceID
	WorkspaceID WorkspaceID
	CustomerID  CustomerID
	Number      string
	Status      Status
	Total       int64
	OccurredAt  time.Time
}

// Dispatcher hands events to downstream consumers. Failures never undo the
// write that produced the event.
type Dispatcher interface {
	Publish(ctx context.Context, e Event) error
}

// NopDispatcher drops every event.
type NopDispatcher struct{}

func (NopDispatcher) Publish(context.Context, Event) error { return nil }

func eventFor(t EventType, inv Invoice, at time.Time) Event {
	return Event{
		Type:        t,
		InvoiceID:   inv.ID,
		WorkspaceID: inv.WorkspaceID,
		CustomerID:  inv.CustomerID,
		Number:      inv.Number,
		Status:      inv.Status,
		Total:       inv.Total,
		OccurredAt:  at,
	}
}
