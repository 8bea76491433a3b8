// Package store provides in-memory implementations of the invoice
// engine's persistence and collaborator interfaces.
package store

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"

	"github.com/warp/invoice-engine/invoice"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements invoice.Store, invoice.LessonBillingSource and
// invoice.CustomerDirectory. It is not transactional.
type Memory struct {
	mu        sync.RWMutex
	invoices  map[invoice.InvoiceID]invoice.Invoice
	numbers   map[numberKey]invoice.InvoiceID
	customers map[invoice.CustomerID]invoice.Customer
	lessons   map[invoice.LessonID]lesson

	// Sequence arena: one atomic counter per (workspace, year, month).
	seqMu sync.RWMutex
	seqs  map[seqKey]*atomic.Int64
}

type numberKey struct {
	ws     invoice.WorkspaceID
	number string
}

type seqKey struct {
	ws    invoice.WorkspaceID
	year  int
	month time.Month
}

type lesson struct {
	ws invoice.WorkspaceID
	invoice.BillableLesson
}

func NewMemory() *Memory {
	return &Memory{
		invoices:  make(map[invoice.InvoiceID]invoice.Invoice),
		numbers:   make(map[numberKey]invoice.InvoiceID),
		customers: make(map[invoice.CustomerID]invoice.Customer),
		lessons:   make(map[invoice.LessonID]lesson),
		seqs:      make(map[seqKey]*atomic.Int64),
	}
}

// =============================================================================
// INVOICES
// =============================================================================

func (m *Memory) Create(_ context.Context, inv invoice.Invoice) (invoice.InvoiceID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.invoices[inv.ID]; ok {
		return "", errors.Newf("invoice %s already exists", inv.ID)
	}
	nk := numberKey{ws: inv.WorkspaceID, number: inv.Number}
	if other, ok := m.numbers[nk]; ok {
		return "", errors.Wrapf(invoice.ErrDuplicateInvoiceNumber, "%s already used by %s", inv.Number, other)
	}
	m.invoices[inv.ID] = cloneInvoice(inv)
	m.numbers[nk] = inv.ID
	return inv.ID, nil
}

func (m *Memory) Get(_ context.Context, id invoice.InvoiceID) (*invoice.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inv, ok := m.invoices[id]
	if !ok {
		return nil, errors.Wrapf(invoice.ErrInvoiceNotFound, "%s", id)
	}
	out := cloneInvoice(inv)
	return &out, nil
}

func (m *Memory) ListByWorkspace(_ context.Context, ws invoice.WorkspaceID, f invoice.ListFilter) ([]invoice.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []invoice.Invoice
	for _, inv := range m.invoices {
		if inv.WorkspaceID != ws {
			continue
		}
		if len(f.Statuses) > 0 && !lo.Contains(f.Statuses, inv.Status) {
			continue
		}
		if f.CustomerID != "" && inv.CustomerID != f.CustomerID {
			continue
		}
		if len(f.IDs) > 0 && !lo.Contains(f.IDs, inv.ID) {
			continue
		}
		result = append(result, cloneInvoice(inv))
	}
	slices.SortFunc(result, func(a, b invoice.Invoice) int {
		return cmp.Or(cmp.Compare(a.Number, b.Number), cmp.Compare(a.ID, b.ID))
	})
	return result, nil
}

func (m *Memory) Patch(_ context.Context, id invoice.InvoiceID, p invoice.Patch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	inv, ok := m.invoices[id]
	if !ok {
		return errors.Wrapf(invoice.ErrInvoiceNotFound, "%s", id)
	}
	if inv.Status != p.ExpectStatus {
		return errors.Wrapf(invoice.ErrConcurrentModification,
			"invoice %s is %s, expected %s", id, inv.Status, p.ExpectStatus)
	}

	if p.Status != nil {
		inv.Status = *p.Status
	}
	if p.Items != nil {
		inv.Items = slices.Clone(p.Items)
	}
	if p.Totals != nil {
		inv.Subtotal, inv.TaxTotal, inv.Total = p.Totals.Subtotal, p.Totals.TaxTotal, p.Totals.Total
	}
	if p.Date != nil {
		inv.Date = *p.Date
	}
	if p.DueDate != nil {
		inv.DueDate = *p.DueDate
	}
	if p.Notes != nil {
		inv.Notes = *p.Notes
	}
	if p.SentAt != nil {
		inv.SentAt = ptr(*p.SentAt)
	}
	if p.PaidAt != nil {
		inv.PaidAt = ptr(*p.PaidAt)
	}
	if p.CancelledAt != nil {
		inv.CancelledAt = ptr(*p.CancelledAt)
	}
	inv.UpdatedAt = p.UpdatedAt
	m.invoices[id] = cloneInvoice(inv)
	return nil
}

// =============================================================================
// SEQUENCES
// =============================================================================

func (m *Memory) counter(ws invoice.WorkspaceID, p invoice.Period) *atomic.Int64 {
	k := seqKey{ws: ws, year: p.Year, month: p.Month}

	m.seqMu.RLock()
	c, ok := m.seqs[k]
	m.seqMu.RUnlock()
	if ok {
		return c
	}

	m.seqMu.Lock()
	defer m.seqMu.Unlock()
	if c, ok = m.seqs[k]; !ok {
		c = new(atomic.Int64)
		m.seqs[k] = c
	}
	return c
}

func (m *Memory) NextSequence(_ context.Context, ws invoice.WorkspaceID, p invoice.Period) (int, error) {
	return int(m.counter(ws, p).Add(1)), nil
}

func (m *Memory) AdvanceSequence(_ context.Context, ws invoice.WorkspaceID, p invoice.Period, seq int) (int, error) {
	c := m.counter(ws, p)
	for {
		cur := c.Load()
		if int64(seq) <= cur {
			return int(cur), nil
		}
		if c.CompareAndSwap(cur, int64(seq)) {
			return seq, nil
		}
	}
}

func (m *Memory) LastSequence(_ context.Context, ws invoice.WorkspaceID, p invoice.Period) (int, error) {
	return int(m.counter(ws, p).Load()), nil
}

// =============================================================================
// CUSTOMERS
// =============================================================================

// PutCustomer inserts or replaces a customer.
func (m *Memory) PutCustomer(_ context.Context, c invoice.Customer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.customers[c.ID] = c
	return nil
}

func (m *Memory) ListCustomers(_ context.Context, ws invoice.WorkspaceID) ([]invoice.Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []invoice.Customer
	for _, c := range m.customers {
		if c.WorkspaceID == ws {
			result = append(result, c)
		}
	}
	slices.SortFunc(result, func(a, b invoice.Customer) int { return cmp.Compare(a.ID, b.ID) })
	return result, nil
}

// Customers returns m as an invoice.CustomerDirectory.
func (m *Memory) Customers() invoice.CustomerDirectory { return customerDirectory{m} }

type customerDirectory struct{ m *Memory }

func (d customerDirectory) Get(_ context.Context, id invoice.CustomerID) (*invoice.Customer, error) {
	d.m.mu.RLock()
	defer d.m.mu.RUnlock()

	c, ok := d.m.customers[id]
	if !ok {
		return nil, errors.Wrapf(invoice.ErrCustomerNotFound, "%s", id)
	}
	return &c, nil
}

// =============================================================================
// LESSONS
// =============================================================================

// PutLesson inserts or replaces a lesson. A lesson that was billed stays
// billed.
func (m *Memory) PutLesson(_ context.Context, ws invoice.WorkspaceID, l invoice.BillableLesson) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.lessons[l.ID]; ok && prev.Invoiced {
		l.Invoiced = true
	}
	m.lessons[l.ID] = lesson{ws: ws, BillableLesson: l}
	return nil
}

func (m *Memory) ListLessons(_ context.Context, ws invoice.WorkspaceID) ([]invoice.BillableLesson, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lessonsLocked(ws, func(invoice.BillableLesson) bool { return true }), nil
}

func (m *Memory) ListUnbilled(_ context.Context, ws invoice.WorkspaceID, from, to time.Time) ([]invoice.BillableLesson, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lessonsLocked(ws, func(l invoice.BillableLesson) bool {
		return !l.Invoiced && !l.Start.Before(from) && l.Start.Before(to)
	}), nil
}

func (m *Memory) lessonsLocked(ws invoice.WorkspaceID, keep func(invoice.BillableLesson) bool) []invoice.BillableLesson {
	var result []invoice.BillableLesson
	for _, l := range m.lessons {
		if l.ws == ws && keep(l.BillableLesson) {
			result = append(result, l.BillableLesson)
		}
	}
	slices.SortFunc(result, func(a, b invoice.BillableLesson) int {
		return cmp.Or(a.Start.Compare(b.Start), cmp.Compare(a.ID, b.ID))
	})
	return result
}

// MarkInvoiced flags all lessons or none. A lesson that is already billed
// fails the whole call with ErrLessonAlreadyInvoiced.
func (m *Memory) MarkInvoiced(_ context.Context, ids []invoice.LessonID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids = lo.Uniq(ids)
	for _, id := range ids {
		if _, ok := m.lessons[id]; !ok {
			return errors.Wrapf(invoice.ErrLessonNotFound, "%s", id)
		}
	}
	for _, id := range ids {
		if m.lessons[id].Invoiced {
			return errors.Wrapf(invoice.ErrLessonAlreadyInvoiced, "%s", id)
		}
	}
	for _, id := range ids {
		l := m.lessons[id]
		l.Invoiced = true
		m.lessons[id] = l
	}
	return nil
}

// =============================================================================
// WORKSPACES
// =============================================================================

// ListWorkspaces returns every workspace that owns a customer or a lesson.
func (m *Memory) ListWorkspaces(_ context.Context) ([]invoice.WorkspaceID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[invoice.WorkspaceID]struct{})
	for _, c := range m.customers {
		seen[c.WorkspaceID] = struct{}{}
	}
	for _, l := range m.lessons {
		seen[l.ws] = struct{}{}
	}
	result := lo.Keys(seen)
	slices.Sort(result)
	return result, nil
}

// Reset clears all data (for testing/demo).
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	m.invoices = make(map[invoice.InvoiceID]invoice.Invoice)
	m.numbers = make(map[numberKey]invoice.InvoiceID)
	m.customers = make(map[invoice.CustomerID]invoice.Customer)
	m.lessons = make(map[invoice.LessonID]lesson)
	m.mu.Unlock()

	m.seqMu.Lock()
	m.seqs = make(map[seqKey]*atomic.Int64)
	m.seqMu.Unlock()
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func cloneInvoice(inv invoice.Invoice) invoice.Invoice {
	inv.Items = slices.Clone(inv.Items)
	inv.SentAt = clonePtr(inv.SentAt)
	inv.PaidAt = clonePtr(inv.PaidAt)
	inv.CancelledAt = clonePtr(inv.CancelledAt)
	return inv
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	return ptr(*p)
}

func ptr[T any](v T) *T { return &v }
