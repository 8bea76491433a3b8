/*
generator.go - Monthly draft generation from billable lessons

PURPOSE:
  Turns a month of unbilled lessons into one draft invoice per customer.

FLOW (per run):
  1. ListUnbilled(workspace, [monthStart, monthEnd))
  2. Drop anything already invoiced or outside the window
  3. Group by customer; customers without lessons get nothing
  4. Per group, concurrently and bounded:
       resolve customer -> build items -> allocate + create draft
       -> MarkInvoiced(lessons)
  5. Collect created ids and per-group failures

NO DOUBLE BILLING:
  Lessons are marked only after their invoice is durably created. A rerun
  for the same period sees the flags and creates nothing new. If marking
  fails, the fresh draft is cancelled (its number becomes a gap) so the
  rerun that picks the lessons up again cannot bill them twice.

  Runs for the same (workspace, period) are serialized in-process so a
  second run observes the first run's flags. Across processes the store
  settles it: MarkInvoiced only flips unbilled lessons, so the losing run
  gets ErrLessonAlreadyInvoiced and cancels its draft.

FAILURE SCOPE:
  Per customer group. A failed group does not roll back any other group.
  The caller gets a GenerationResult plus a *PartialGenerationError.

CANCELLATION:
  Checked before each group starts. A group that has started runs to
  completion so create and mark are never split by cancellation.

SEE ALSO:
  - issue.go: numbering + insert
  - allocator.go: sequence allocation
*/
package invoice

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config holds the workspace billing defaults.
type Config struct {
	// DefaultTaxRate applies to customers that are not VAT exempt.
	DefaultTaxRate decimal.Decimal

	// DefaultPaymentTermsDays applies when the customer has no terms.
	DefaultPaymentTermsDays int

	// StrictRates fails a group with ErrMissingRate instead of billing at 0.
	StrictRates bool

	// Concurrency bounds how many customer groups are generated at once.
	Concurrency int

	// Location defines month boundaries and "today".
	Location *time.Location

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

func DefaultConfig() Config {
	return Config{
		DefaultTaxRate:          decimal.NewFromInt(19),
		DefaultPaymentTermsDays: 14,
		Concurrency:             4,
		Location:                time.UTC,
		Now:                     time.Now,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.DefaultPaymentTermsDays <= 0 {
		c.DefaultPaymentTermsDays = d.DefaultPaymentTermsDays
	}
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.Location == nil {
		c.Location = d.Location
	}
	if c.Now == nil {
		c.Now = d.Now
	}
	return c
}

// today is midnight of the current day in the configured location.
func (c Config) today() time.Time {
	now := c.Now().In(c.Location)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, c.Location)
}

// =============================================================================
// GENERATOR
// =============================================================================

// GenerationResult lists what a run produced. Created is ordered by
// customer id.
type GenerationResult struct {
	WorkspaceID WorkspaceID
	Period      Period
	Created     []InvoiceID
	Failures    []GroupFailure
}

type Generator struct {
	cfg       Config
	store     Store
	lessons   LessonBillingSource
	customers CustomerDirectory
	issuer    *issuer
	runs      *keyedMutex
	logger    *zap.Logger
}

func NewGenerator(store Store, lessons LessonBillingSource, customers CustomerDirectory, dispatcher Dispatcher, cfg Config, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	return &Generator{
		cfg:       cfg,
		store:     store,
		lessons:   lessons,
		customers: customers,
		issuer: &issuer{
			store:      store,
			allocator:  NewAllocator(store, logger),
			dispatcher: dispatcher,
			now:        cfg.Now,
			logger:     logger,
		},
		runs:   newKeyedMutex(),
		logger: logger,
	}
}

// GenerateForPeriod creates one draft per customer with unbilled lessons in p.
func (g *Generator) GenerateForPeriod(ctx context.Context, ws WorkspaceID, p Period) (*GenerationResult, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	unlock := g.runs.Lock(string(ws) + "|" + p.String())
	defer unlock()

	loc := g.cfg.Location
	lessons, err := g.lessons.ListUnbilled(ctx, ws, p.Start(loc), p.End(loc))
	if err != nil {
		return nil, errors.Wrapf(err, "list unbilled lessons for %s %s", ws, p)
	}
	eligible := lo.Filter(lessons, func(l BillableLesson, _ int) bool {
		return !l.Invoiced && p.Contains(l.Start, loc)
	})
	groups := lo.GroupBy(eligible, func(l BillableLesson) CustomerID { return l.CustomerID })
	customerIDs := lo.Keys(groups)
	slices.Sort(customerIDs)

	type outcome struct {
		id  InvoiceID
		err error
	}
	outcomes := make([]*outcome, len(customerIDs))

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.cfg.Concurrency)
	for i, cid := range customerIDs {
		eg.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			// A started group finishes so create and mark stay paired.
			id, err := g.generateGroup(context.WithoutCancel(gctx), ws, p, cid, groups[cid])
			outcomes[i] = &outcome{id: id, err: err}
			return nil
		})
	}
	waitErr := eg.Wait()

	result := &GenerationResult{WorkspaceID: ws, Period: p}
	for i, o := range outcomes {
		switch {
		case o == nil:
			// never started
		case o.err != nil:
			result.Failures = append(result.Failures, GroupFailure{
				CustomerID: customerIDs[i],
				LessonIDs:  lessonIDs(groups[customerIDs[i]]),
				Err:        o.err,
			})
		default:
			result.Created = append(result.Created, o.id)
		}
	}

	g.logger.Info("generation finished",
		zap.String("workspace_id", string(ws)),
		zap.Stringer("period", p),
		zap.Int("lessons", len(eligible)),
		zap.Int("created", len(result.Created)),
		zap.Int("failed", len(result.Failures)))

	if waitErr != nil {
		return result, errors.Wrapf(waitErr, "generation for %s %s interrupted", ws, p)
	}
	if len(result.Failures) > 0 {
		return result, &PartialGenerationError{Created: result.Created, Failures: result.Failures}
	}
	return result, nil
}

func (g *Generator) generateGroup(ctx context.Context, ws WorkspaceID, p Period, cid CustomerID, lessons []BillableLesson) (InvoiceID, error) {
	customer, err := g.customers.Get(ctx, cid)
	if err != nil {
		return "", errors.Wrapf(err, "resolve customer %s", cid)
	}

	items, err := g.buildItems(customer, lessons)
	if err != nil {
		return "", err
	}

	terms := g.cfg.DefaultPaymentTermsDays
	if customer.PaymentTermsDays != nil {
		terms = *customer.PaymentTermsDays
	}
	today := g.cfg.today()

	inv, err := g.issuer.issue(ctx, Invoice{
		WorkspaceID: ws,
		CustomerID:  cid,
		Date:        today,
		DueDate:     today.AddDate(0, 0, terms),
		Items:       items,
	}, p, "")
	if err != nil {
		return "", err
	}

	if err := g.lessons.MarkInvoiced(ctx, inv.LessonIDs()); err != nil {
		g.compensate(ctx, inv, err)
		return "", errors.Wrapf(err, "mark lessons invoiced for %s", inv.Number)
	}
	return inv.ID, nil
}

// compensate cancels a draft whose lessons could not be marked.
func (g *Generator) compensate(ctx context.Context, inv Invoice, cause error) {
	now := g.cfg.Now().UTC()
	cancelled := StatusCancelled
	err := g.store.Patch(ctx, inv.ID, Patch{
		ExpectStatus: StatusDraft,
		Status:       &cancelled,
		CancelledAt:  &now,
		UpdatedAt:    now,
	})
	fields := []zap.Field{
		zap.String("invoice_id", string(inv.ID)),
		zap.String("number", inv.Number),
		zap.NamedError("cause", cause),
	}
	if err != nil {
		g.logger.Error("cancel of unmarked draft failed, lessons may be billed twice",
			append(fields, zap.Error(err))...)
		return
	}
	g.logger.Warn("cancelled draft after lesson marking failed", fields...)
}

func (g *Generator) buildItems(customer *Customer, lessons []BillableLesson) ([]LineItem, error) {
	ordered := slices.Clone(lessons)
	slices.SortStableFunc(ordered, func(a, b BillableLesson) int {
		if c := a.Start.Compare(b.Start); c != 0 {
			return c
		}
		return strings.Compare(string(a.ID), string(b.ID))
	})

	taxRate := g.cfg.DefaultTaxRate
	if customer.VATExempt {
		taxRate = decimal.Zero
	}

	items := make([]LineItem, 0, len(ordered))
	for _, l := range ordered {
		hours, err := l.Hours()
		if err != nil {
			return nil, err
		}

		var price int64
		switch {
		case l.Rate != nil:
			price = *l.Rate
		case customer.DefaultHourlyRate != nil:
			price = *customer.DefaultHourlyRate
		case g.cfg.StrictRates:
			return nil, errors.Wrapf(ErrMissingRate, "lesson %s, customer %s", l.ID, customer.ID)
		}

		start, end := l.Start.In(g.cfg.Location), l.End.In(g.cfg.Location)
		day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, g.cfg.Location)
		items = append(items, LineItem{
			Description: describeLesson(l, start),
			Quantity:    hours,
			UnitPrice:   price,
			TaxRate:     taxRate,
			ServiceDate: &day,
			StartsAt:    &start,
			EndsAt:      &end,
			LessonID:    l.ID,
		})
	}
	return items, nil
}

func describeLesson(l BillableLesson, start time.Time) string {
	title := l.Title
	if title == "" {
		title = "Lesson"
	}
	return fmt.Sprintf("%s %s", title, start.Format("2006-01-02 15:04"))
}

func lessonIDs(lessons []BillableLesson) []LessonID {
	return lo.Map(lessons, func(l BillableLesson, _ int) LessonID { return l.ID })
}
