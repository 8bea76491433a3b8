/*
scheduler.go - Automated monthly invoice generation

PURPOSE:
  On the configured day of each month, drafts invoices for the previous
  month in every workspace that has billing records.

DESIGN:
  - Runs a background goroutine with a configurable check interval
  - Acts only when today (billing timezone) is the run day
  - Generation is idempotent: lessons are flagged once invoiced, so every
    tick on the run day after the first creates nothing new
  - Failed customer groups are logged; the next tick retries them

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - RunDay: Day of month to generate on (default: 1)
  - Enabled: Whether scheduler is active

USAGE:
  scheduler := NewGenerationScheduler(svc, records, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: GenerateInvoices endpoint (manual generation)
  - invoice/generator.go: Generator
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/warp/invoice-engine/invoice"
)

// WorkspaceLister enumerates workspaces to bill.
type WorkspaceLister interface {
	ListWorkspaces(ctx context.Context) ([]invoice.WorkspaceID, error)
}

// GenerationScheduler handles automated monthly generation.
type GenerationScheduler struct {
	Service       *invoice.Service
	Workspaces    WorkspaceLister
	CheckInterval time.Duration
	RunDay        int
	Enabled       bool

	logger *zap.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewGenerationScheduler creates a scheduler that runs on the 1st, hourly.
func NewGenerationScheduler(svc *invoice.Service, workspaces WorkspaceLister, logger *zap.Logger) *GenerationScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GenerationScheduler{
		Service:       svc,
		Workspaces:    workspaces,
		CheckInterval: time.Hour,
		RunDay:        1,
		Enabled:       true,
		logger:        logger.Named("scheduler"),
	}
}

// Start begins the scheduler.
func (gs *GenerationScheduler) Start() {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	if !gs.Enabled {
		gs.logger.Info("disabled, not starting")
		return
	}
	if gs.ticker != nil {
		return
	}

	gs.ticker = time.NewTicker(gs.CheckInterval)
	gs.stop = make(chan struct{})
	gs.wg.Add(1)

	go gs.run()

	gs.logger.Info("started",
		zap.Duration("check_interval", gs.CheckInterval),
		zap.Int("run_day", gs.RunDay))
}

// Stop stops the scheduler and waits for a running check to finish.
func (gs *GenerationScheduler) Stop() {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	if gs.ticker != nil {
		gs.ticker.Stop()
		close(gs.stop)
		gs.wg.Wait()
		gs.ticker = nil
		gs.logger.Info("stopped")
	}
}

func (gs *GenerationScheduler) run() {
	defer gs.wg.Done()

	// Run immediately on start
	gs.checkAndGenerate(context.Background())

	for {
		select {
		case <-gs.ticker.C:
			gs.checkAndGenerate(context.Background())
		case <-gs.stop:
			return
		}
	}
}

// RunNow generates the previous month for every workspace if today is the
// run day, and returns how many drafts were created.
func (gs *GenerationScheduler) RunNow(ctx context.Context) int {
	return gs.checkAndGenerate(ctx)
}

func (gs *GenerationScheduler) checkAndGenerate(ctx context.Context) int {
	now := gs.Service.Now().In(gs.Service.Location())
	if now.Day() != gs.RunDay {
		gs.logger.Debug("not the run day", zap.Int("day", now.Day()))
		return 0
	}
	period := invoice.PeriodOf(now).Prev()

	workspaces, err := gs.Workspaces.ListWorkspaces(ctx)
	if err != nil {
		gs.logger.Error("listing workspaces", zap.Error(err))
		return 0
	}

	created, failed := 0, 0
	for _, ws := range workspaces {
		res, err := gs.Service.GenerateMonthlyInvoices(ctx, ws, period.Year, int(period.Month))
		if res != nil {
			created += len(res.Created)
			failed += len(res.Failures)
		}
		var partial *invoice.PartialGenerationError
		switch {
		case err == nil:
		case errors.As(err, &partial):
			gs.logger.Warn("generation partially failed",
				zap.String("workspace_id", string(ws)),
				zap.Stringer("period", period),
				zap.Error(err))
		default:
			gs.logger.Error("generation failed",
				zap.String("workspace_id", string(ws)),
				zap.Stringer("period", period),
				zap.Error(err))
		}
	}

	if created > 0 || failed > 0 {
		gs.logger.Info("generation run completed",
			zap.Stringer("period", period),
			zap.Int("workspaces", len(workspaces)),
			zap.Int("created", created),
			zap.Int("failed", failed))
	}
	return created
}
