/*
Package invoice provides the invoice numbering and generation engine.

PURPOSE:
  This package owns the parts of invoicing that carry real invariants:
  sequential YY/MM/NNNN numbers per workspace, draft generation from
  billable lessons without double billing, and the draft -> sent ->
  paid/cancelled status workflow that PDF rendering, email and payment
  tracking depend on.

KEY CONCEPTS IN THIS FILE (types.go):
  - LineItem: quantity x unit price x tax rate, pure computation
  - Totals:   subtotal, tax and total derived from line items
  - Invoice:  the persisted record, totals always recomputed from items
  - Customer / BillableLesson: read-only records owned by collaborators

DESIGN PRINCIPLES:
  1. Minor units: money is int64 cents, never floats
  2. Precision: quantities and tax rates use decimal.Decimal
  3. Derived, not stored: totals and "overdue" are computed, never trusted
  4. Type Safety: strong ID types prevent mixing workspace/customer/invoice IDs

USAGE:
  item := invoice.LineItem{
      Description: "Lesson 2024-11-04",
      Quantity:    decimal.NewFromInt(1),
      UnitPrice:   5000,
      TaxRate:     decimal.NewFromInt(19),
  }
  item.Net() // 5000
  item.Tax() // 950

SEE ALSO:
  - number.go: Period and invoice number format
  - allocator.go: sequence allocation
  - generator.go: monthly draft generation
  - lifecycle.go: status state machine
*/
package invoice

import (
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type WorkspaceID string
type CustomerID string
type InvoiceID string
type LessonID string

// NewInvoiceID returns a k-sortable invoice identifier, e.g. inv_01HZX...
func NewInvoiceID() InvoiceID {
	return InvoiceID("inv_" + ulid.Make().String())
}

// =============================================================================
// STATUS
// =============================================================================

type Status string

const (
	StatusDraft     Status = "draft"
	StatusSent      Status = "sent"
	StatusPaid      Status = "paid"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is one of the four known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusSent, StatusPaid, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool { return s == StatusPaid || s == StatusCancelled }

func (s Status) String() string { return string(s) }

// =============================================================================
// LINE ITEM - Quantity x unit price x tax rate
// =============================================================================

var hundred = decimal.NewFromInt(100)

// LineItem is a single billable position. UnitPrice is in minor units.
type LineItem struct {
	Description string
	Quantity    decimal.Decimal
	UnitPrice   int64
	TaxRate     decimal.Decimal // percent, 0..100

	// Optional service metadata
	ServiceDate *time.Time
	StartsAt    *time.Time
	EndsAt      *time.Time
	LessonID    LessonID
}

// Net is quantity x unit price, rounded half away from zero to whole minor units.
func (li LineItem) Net() int64 {
	return li.Quantity.Mul(decimal.NewFromInt(li.UnitPrice)).Round(0).IntPart()
}

// Tax is the line's tax in minor units, rounded per line.
func (li LineItem) Tax() int64 {
	return decimal.NewFromInt(li.Net()).Mul(li.TaxRate).Div(hundred).Round(0).IntPart()
}

// Validate checks the line item ranges.
func (li LineItem) Validate() error {
	if li.Quantity.IsNegative() {
		return invalidf("quantity must be >= 0, got %s", li.Quantity)
	}
	if li.UnitPrice < 0 {
		return invalidf("unit price must be >= 0, got %d", li.UnitPrice)
	}
	if li.TaxRate.IsNegative() || li.TaxRate.GreaterThan(hundred) {
		return invalidf("tax rate must be within 0..100, got %s", li.TaxRate)
	}
	if li.StartsAt != nil && li.EndsAt != nil && li.EndsAt.Before(*li.StartsAt) {
		return invalidf("service time range ends before it starts")
	}
	return nil
}

// =============================================================================
// TOTALS
// =============================================================================

type Totals struct {
	Subtotal int64
	TaxTotal int64
	Total    int64
}

// ComputeTotals sums net and tax over items. Total is always Subtotal + TaxTotal.
func ComputeTotals(items []LineItem) Totals {
	var t Totals
	for _, li := range items {
		t.Subtotal += li.Net()
		t.TaxTotal += li.Tax()
	}
	t.Total = t.Subtotal + t.TaxTotal
	return t
}

// =============================================================================
// INVOICE
// =============================================================================

type Invoice struct {
	ID          InvoiceID
	WorkspaceID WorkspaceID
	CustomerID  CustomerID
	Number      string

	Date    time.Time
	DueDate time.Time

	Items  []LineItem
	Status Status
	Notes  string

	// Derived from Items by Recalculate. Never taken from callers.
	Subtotal int64
	TaxTotal int64
	Total    int64

	SentAt      *time.Time
	PaidAt      *time.Time
	CancelledAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Recalculate overwrites the derived totals from Items.
func (inv *Invoice) Recalculate() {
	t := ComputeTotals(inv.Items)
	inv.Subtotal, inv.TaxTotal, inv.Total = t.Subtotal, t.TaxTotal, t.Total
}

// IsOverdue is computed at read time. Overdue is never a stored status.
func (inv Invoice) IsOverdue(now time.Time) bool {
	return inv.Status == StatusSent && inv.DueDate.Before(now)
}

// Editable reports whether financial fields may still change.
func (inv Invoice) Editable() bool { return inv.Status == StatusDraft }

// LessonIDs returns the source lessons referenced by the line items.
func (inv Invoice) LessonIDs() []LessonID {
	var ids []LessonID
	for _, li := range inv.Items {
		if li.LessonID != "" {
			ids = append(ids, li.LessonID)
		}
	}
	return ids
}

// validateFields checks everything a caller may set directly.
func (inv Invoice) validateFields() error {
	if inv.WorkspaceID == "" {
		return invalidf("workspace id is required")
	}
	if inv.CustomerID == "" {
		return invalidf("customer id is required")
	}
	if inv.Date.IsZero() || inv.DueDate.IsZero() {
		return invalidf("date and due date are required")
	}
	if inv.DueDate.Before(inv.Date) {
		return invalidf("due date %s is before invoice date %s",
			inv.DueDate.Format(time.DateOnly), inv.Date.Format(time.DateOnly))
	}
	for i, li := range inv.Items {
		if err := li.Validate(); err != nil {
			return wrapItem(err, i)
		}
	}
	return nil
}

// =============================================================================
// COLLABORATOR RECORDS (read-only to this package)
// =============================================================================

// Customer is owned by the workspace, not by any invoice.
type Customer struct {
	ID                CustomerID
	WorkspaceID       WorkspaceID
	Name              string
	DefaultHourlyRate *int64 // minor units
	PaymentTermsDays  *int
	VATExempt         bool
}

// BillableLesson is owned by the calendar subsystem.
type BillableLesson struct {
	ID         LessonID
	CustomerID CustomerID
	Title      string
	Start      time.Time
	End        time.Time
	Rate       *int64 // minor units per hour; nil falls back to the customer default
	Invoiced   bool
}

// Hours is the lesson duration in hours rounded to two decimals.
func (l BillableLesson) Hours() (decimal.Decimal, error) {
	if l.End.Before(l.Start) {
		return decimal.Zero, invalidLessonf("lesson %s ends before it starts", l.ID)
	}
	secs := decimal.NewFromInt(int64(l.End.Sub(l.Start) / time.Second))
	return secs.Div(decimal.NewFromInt(3600)).Round(2), nil
}
