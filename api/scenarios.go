/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built data sets so the billing flow can be exercised end to
	end without a calendar system feeding lessons.

AVAILABLE SCENARIOS:

	monthly-billing:  Two customers with November 2024 lessons, ready to generate
	legacy-numbers:   A manually numbered September 2025 invoice (25/09/5060)
	partial-failure:  Lessons for a customer that does not exist

HOW SCENARIOS WORK:
 1. Reset the store (clear all data) and the customer cache
 2. Create customers
 3. Create lessons and, where needed, invoices through the engine

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "monthly-billing"}

	POST /api/workspaces/studio-berlin/invoices/generate
	{"year": 2024, "month": 11}

NOTE:

	Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Generation and numbering endpoints
*/
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/invoice-engine/invoice"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "monthly-billing",
		Name:        "Monthly Billing",
		Description: "studio-berlin: two customers with November 2024 lessons; generate 2024/11",
	},
	{
		ID:          "legacy-numbers",
		Name:        "Legacy Numbers",
		Description: "studio-hamburg: invoice 25/09/5060 entered manually; next automatic number is 25/09/5061",
	},
	{
		ID:          "partial-failure",
		Name:        "Partial Failure",
		Description: "studio-munich: one valid customer and lessons for an unknown one; generation answers 207",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}

	var load func(context.Context) error
	switch req.ScenarioID {
	case "monthly-billing":
		load = h.loadMonthlyBillingScenario
	case "legacy-numbers":
		load = h.loadLegacyNumbersScenario
	case "partial-failure":
		load = h.loadPartialFailureScenario
	default:
		writeError(w, http.StatusBadRequest, "unknown scenario", errors.Newf("no scenario %q", req.ScenarioID))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	if err := h.Records.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to reset store", err)
		return
	}
	if h.cache != nil {
		h.cache.Flush()
	}
	h.currentScenario = ""

	if err := load(ctx); err != nil {
		h.logger.Error("scenario load failed", zap.String("scenario", req.ScenarioID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load scenario", err)
		return
	}
	h.currentScenario = req.ScenarioID

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadMonthlyBillingScenario(ctx context.Context) error {
	const ws = invoice.WorkspaceID("studio-berlin")
	if err := h.putCustomers(ctx,
		invoice.Customer{ID: "cus-anna", WorkspaceID: ws, Name: "Anna Schmidt", DefaultHourlyRate: ptr(int64(5000)), PaymentTermsDays: ptr(14)},
		invoice.Customer{ID: "cus-ben", WorkspaceID: ws, Name: "Ben Okafor", DefaultHourlyRate: ptr(int64(4000)), PaymentTermsDays: ptr(30), VATExempt: true},
	); err != nil {
		return err
	}
	// Anna: three one-hour lessons -> 150.00 net, 28.50 VAT
	// Ben: two 90-minute lessons, VAT exempt -> 120.00
	return h.putLessons(ctx, ws,
		lesson("les-anna-1", "cus-anna", "Piano", nov2024(4, 10), time.Hour),
		lesson("les-anna-2", "cus-anna", "Piano", nov2024(11, 10), time.Hour),
		lesson("les-anna-3", "cus-anna", "Piano", nov2024(18, 10), time.Hour),
		lesson("les-ben-1", "cus-ben", "Guitar", nov2024(6, 16), 90*time.Minute),
		lesson("les-ben-2", "cus-ben", "Guitar", nov2024(20, 16), 90*time.Minute),
	)
}

func (h *Handler) loadLegacyNumbersScenario(ctx context.Context) error {
	const ws = invoice.WorkspaceID("studio-hamburg")
	if err := h.putCustomers(ctx,
		invoice.Customer{ID: "cus-clara", WorkspaceID: ws, Name: "Clara Jensen", DefaultHourlyRate: ptr(int64(6000))},
	); err != nil {
		return err
	}

	loc := h.Service.Location()
	date := time.Date(2025, time.September, 15, 0, 0, 0, 0, loc)
	_, err := h.Service.CreateInvoice(ctx, invoice.CreateInput{
		WorkspaceID: ws,
		CustomerID:  "cus-clara",
		Date:        date,
		DueDate:     date.AddDate(0, 0, 14),
		Items: []invoice.LineItem{{
			Description: "Imported from previous billing system",
			Quantity:    decimal.NewFromInt(2),
			UnitPrice:   6000,
			TaxRate:     decimal.NewFromInt(19),
		}},
		ManualNumber: "25/09/5060",
	})
	return err
}

func (h *Handler) loadPartialFailureScenario(ctx context.Context) error {
	const ws = invoice.WorkspaceID("studio-munich")
	if err := h.putCustomers(ctx,
		invoice.Customer{ID: "cus-dana", WorkspaceID: ws, Name: "Dana Weiss", DefaultHourlyRate: ptr(int64(4500))},
	); err != nil {
		return err
	}
	return h.putLessons(ctx, ws,
		lesson("les-dana-1", "cus-dana", "Violin", nov2024(5, 9), time.Hour),
		lesson("les-ghost-1", "cus-deleted", "Violin", nov2024(7, 9), time.Hour),
	)
}

func (h *Handler) putCustomers(ctx context.Context, customers ...invoice.Customer) error {
	for _, c := range customers {
		if err := h.putCustomer(ctx, c); err != nil {
			return errors.Wrapf(err, "customer %s", c.ID)
		}
	}
	return nil
}

func (h *Handler) putLessons(ctx context.Context, ws invoice.WorkspaceID, lessons ...invoice.BillableLesson) error {
	for _, l := range lessons {
		if err := h.Records.PutLesson(ctx, ws, l); err != nil {
			return errors.Wrapf(err, "lesson %s", l.ID)
		}
	}
	return nil
}

func lesson(id invoice.LessonID, customer invoice.CustomerID, title string, start time.Time, d time.Duration) invoice.BillableLesson {
	return invoice.BillableLesson{ID: id, CustomerID: customer, Title: title, Start: start, End: start.Add(d)}
}

func nov2024(day, hour int) time.Time {
	return time.Date(2024, time.November, day, hour, 0, 0, 0, time.UTC)
}

func ptr[T any](v T) *T { return &v }
