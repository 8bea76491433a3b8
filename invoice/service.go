/*
service.go - The engine's public surface

PURPOSE:
  Service wires Allocator, Generator and Lifecycle over one Store and is
  what the HTTP layer and the scheduler call.

OPERATIONS:
  CreateInvoice            single invoice, optional manual number
  GenerateMonthlyInvoices  one draft per customer from unbilled lessons
  UpdateInvoiceStatus      forward-only transitions
  UpdateInvoice            draft edits
  GetInvoice / ListInvoices / PeekNextNumber
  ExportCSV                see export.go

SEE ALSO:
  - generator.go, lifecycle.go, allocator.go
*/
package invoice

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

type Service struct {
	cfg       Config
	store     Store
	customers CustomerDirectory
	allocator *Allocator
	issuer    *issuer
	generator *Generator
	lifecycle *Lifecycle
	logger    *zap.Logger
}

// NewService builds the engine. dispatcher may be nil.
func NewService(store Store, lessons LessonBillingSource, customers CustomerDirectory, dispatcher Dispatcher, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dispatcher == nil {
		dispatcher = NopDispatcher{}
	}
	cfg = cfg.withDefaults()
	gen := NewGenerator(store, lessons, customers, dispatcher, cfg, logger.Named("generator"))
	return &Service{
		cfg:       cfg,
		store:     store,
		customers: customers,
		allocator: gen.issuer.allocator,
		issuer:    gen.issuer,
		generator: gen,
		lifecycle: NewLifecycle(store, customers, dispatcher, cfg.Now, logger.Named("lifecycle")),
		logger:    logger,
	}
}

// CreateInput describes a single invoice. Totals are always derived from Items.
type CreateInput struct {
	WorkspaceID  WorkspaceID
	CustomerID   CustomerID
	Date         time.Time
	DueDate      time.Time
	Items        []LineItem
	Notes        string
	ManualNumber string
}

// CreateInvoice stores a draft. The number's period is the invoice date's
// month in the configured location.
func (s *Service) CreateInvoice(ctx context.Context, in CreateInput) (InvoiceID, error) {
	if err := s.checkCustomer(ctx, in.WorkspaceID, in.CustomerID); err != nil {
		return "", err
	}
	inv, err := s.issuer.issue(ctx, Invoice{
		WorkspaceID: in.WorkspaceID,
		CustomerID:  in.CustomerID,
		Date:        in.Date,
		DueDate:     in.DueDate,
		Items:       in.Items,
		Notes:       in.Notes,
	}, PeriodOf(in.Date.In(s.cfg.Location)), in.ManualNumber)
	if err != nil {
		return "", err
	}
	return inv.ID, nil
}

func (s *Service) checkCustomer(ctx context.Context, ws WorkspaceID, id CustomerID) error {
	if id == "" {
		return invalidf("customer id is required")
	}
	c, err := s.customers.Get(ctx, id)
	if err != nil {
		return err
	}
	if c.WorkspaceID != ws {
		return errors.Wrapf(ErrCustomerNotFound, "customer %s in workspace %s", id, ws)
	}
	return nil
}

// GenerateMonthlyInvoices runs the generator for year/month.
func (s *Service) GenerateMonthlyInvoices(ctx context.Context, ws WorkspaceID, year, month int) (*GenerationResult, error) {
	p, err := NewPeriod(year, month)
	if err != nil {
		return nil, err
	}
	return s.generator.GenerateForPeriod(ctx, ws, p)
}

// UpdateInvoiceStatus applies a forward-only transition.
func (s *Service) UpdateInvoiceStatus(ctx context.Context, id InvoiceID, to Status) error {
	_, err := s.lifecycle.Transition(ctx, id, to)
	return err
}

// UpdateInvoice edits a draft.
func (s *Service) UpdateInvoice(ctx context.Context, id InvoiceID, e Edit) (*Invoice, error) {
	return s.lifecycle.Edit(ctx, id, e)
}

func (s *Service) GetInvoice(ctx context.Context, id InvoiceID) (*Invoice, error) {
	return s.store.Get(ctx, id)
}

// ListInvoices applies the repository filter, then Overdue against the clock.
func (s *Service) ListInvoices(ctx context.Context, ws WorkspaceID, filter ListFilter) ([]Invoice, error) {
	invoices, err := s.store.ListByWorkspace(ctx, ws, filter)
	if err != nil {
		return nil, errors.Wrapf(err, "list invoices for %s", ws)
	}
	if filter.Overdue {
		now := s.Now()
		invoices = lo.Filter(invoices, func(inv Invoice, _ int) bool { return inv.IsOverdue(now) })
	}
	return invoices, nil
}

// PeekNextNumber returns the next automatic number without reserving it.
func (s *Service) PeekNextNumber(ctx context.Context, ws WorkspaceID, p Period) (string, error) {
	return s.allocator.Peek(ctx, ws, p)
}

// Now is the service clock.
func (s *Service) Now() time.Time { return s.cfg.Now() }

// Location is the zone used for periods and dates.
func (s *Service) Location() *time.Location { return s.cfg.Location }
