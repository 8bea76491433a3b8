/*
handlers.go - HTTP API handlers for the invoice engine

PURPOSE:
  Exposes invoice.Service via REST. Handles HTTP request/response and JSON
  serialization, and delegates every rule to the engine.

ENDPOINTS:
  Invoices:
    GET    /api/workspaces/{ws}/invoices              List (status, customer_id, overdue)
    POST   /api/workspaces/{ws}/invoices              Create draft (optional manual number)
    POST   /api/workspaces/{ws}/invoices/generate     Monthly generation {year, month}
    GET    /api/workspaces/{ws}/invoices/next-number  Preview next number (?year=&month=)
    GET    /api/workspaces/{ws}/invoices/export.csv   CSV export (?ids=a,b)
    GET    /api/invoices/{id}                         Get invoice
    PATCH  /api/invoices/{id}                         Edit draft
    POST   /api/invoices/{id}/status                  Transition {status}

  Billing records:
    GET/POST /api/workspaces/{ws}/customers
    GET/POST /api/workspaces/{ws}/lessons

  Scenarios:
    GET    /api/scenarios              List demo scenarios
    POST   /api/scenarios/load         Load a demo scenario

ERROR HANDLING:
  Errors are returned as JSON {error, details, hint}:
  - 400: Validation errors, bad numbers, period mismatch, unmet preconditions
  - 404: Invoice or customer not found
  - 409: Duplicate number, locked invoice, illegal transition, lost race
  - 207: Generation finished with failed customer groups
  - 500: Internal errors

SECURITY NOTE:
  No authentication. Workspace ids in the path are trusted.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/oklog/ulid/v2"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/warp/invoice-engine/invoice"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Records is the customer and lesson bookkeeping behind the engine. Both
// the memory and SQL stores implement it.
type Records interface {
	PutCustomer(ctx context.Context, c invoice.Customer) error
	ListCustomers(ctx context.Context, ws invoice.WorkspaceID) ([]invoice.Customer, error)
	PutLesson(ctx context.Context, ws invoice.WorkspaceID, l invoice.BillableLesson) error
	ListLessons(ctx context.Context, ws invoice.WorkspaceID) ([]invoice.BillableLesson, error)
	ListWorkspaces(ctx context.Context) ([]invoice.WorkspaceID, error)
	Reset(ctx context.Context) error
}

// CustomerCache is told when customer records change.
type CustomerCache interface {
	Invalidate(id invoice.CustomerID)
	Flush()
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *invoice.Service
	Records Records

	cache    CustomerCache
	logger   *zap.Logger
	validate *validator.Validate

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler. cache may be nil.
func NewHandler(svc *invoice.Service, records Records, cache CustomerCache, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Service:  svc,
		Records:  records,
		cache:    cache,
		logger:   logger,
		validate: validator.New(),
	}
}

// =============================================================================
// INVOICE HANDLERS
// =============================================================================

// ListInvoices returns a workspace's invoices ordered by number.
func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	ws := invoice.WorkspaceID(chi.URLParam(r, "ws"))
	q := r.URL.Query()

	filter := invoice.ListFilter{CustomerID: invoice.CustomerID(q.Get("customer_id"))}
	for _, s := range splitList(q.Get("status")) {
		st := invoice.Status(s)
		if !st.Valid() {
			writeError(w, http.StatusBadRequest, "invalid status filter", errors.Newf("unknown status %q", s))
			return
		}
		filter.Statuses = append(filter.Statuses, st)
	}
	if v := q.Get("overdue"); v != "" {
		overdue, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid overdue filter", err)
			return
		}
		filter.Overdue = overdue
	}

	invoices, err := h.Service.ListInvoices(r.Context(), ws, filter)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	loc, now := h.Service.Location(), h.Service.Now()
	writeJSON(w, http.StatusOK, lo.Map(invoices, func(inv invoice.Invoice, _ int) InvoiceDTO {
		return toInvoiceDTO(inv, loc, now)
	}))
}

// CreateInvoice creates a draft, optionally under a manually entered number.
func (h *Handler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	ws := invoice.WorkspaceID(chi.URLParam(r, "ws"))
	var req CreateInvoiceRequest
	if !h.decode(w, r, &req) {
		return
	}

	loc := h.Service.Location()
	date, err := parseDate(req.Date, loc)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	due, err := parseDate(req.DueDate, loc)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	items, err := toLineItems(req.Items, loc)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	id, err := h.Service.CreateInvoice(r.Context(), invoice.CreateInput{
		WorkspaceID:  ws,
		CustomerID:   invoice.CustomerID(req.CustomerID),
		Date:         date,
		DueDate:      due,
		Items:        items,
		Notes:        req.Notes,
		ManualNumber: strings.TrimSpace(req.Number),
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeInvoice(r.Context(), w, http.StatusCreated, id)
}

// GetInvoice returns one invoice.
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	h.writeInvoice(r.Context(), w, http.StatusOK, invoice.InvoiceID(chi.URLParam(r, "id")))
}

// UpdateInvoice edits a draft. Sent, paid and cancelled invoices answer 409.
func (h *Handler) UpdateInvoice(w http.ResponseWriter, r *http.Request) {
	id := invoice.InvoiceID(chi.URLParam(r, "id"))
	var req UpdateInvoiceRequest
	if !h.decode(w, r, &req) {
		return
	}

	loc := h.Service.Location()
	var edit invoice.Edit
	if req.Date != nil {
		d, err := parseDate(*req.Date, loc)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		edit.Date = &d
	}
	if req.DueDate != nil {
		d, err := parseDate(*req.DueDate, loc)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		edit.DueDate = &d
	}
	if req.Items != nil {
		items, err := toLineItems(req.Items, loc)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		edit.Items = items
	}
	edit.Notes = req.Notes

	inv, err := h.Service.UpdateInvoice(r.Context(), id, edit)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTO(*inv, loc, h.Service.Now()))
}

// UpdateStatus moves an invoice forward in its lifecycle.
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id := invoice.InvoiceID(chi.URLParam(r, "id"))
	var req StatusRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.Service.UpdateInvoiceStatus(r.Context(), id, invoice.Status(req.Status)); err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeInvoice(r.Context(), w, http.StatusOK, id)
}

// GenerateInvoices drafts one invoice per customer with unbilled lessons in
// the requested month. Partial failures and interrupted runs answer 207 with
// what was committed.
func (h *Handler) GenerateInvoices(w http.ResponseWriter, r *http.Request) {
	ws := invoice.WorkspaceID(chi.URLParam(r, "ws"))
	var req GenerateRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.Service.GenerateMonthlyInvoices(r.Context(), ws, req.Year, req.Month)
	var partial *invoice.PartialGenerationError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, toGenerationResponse(res))
	case errors.As(err, &partial) && res != nil:
		h.logger.Warn("generation partially failed",
			zap.String("workspace_id", string(ws)),
			zap.Int("created", len(res.Created)),
			zap.Int("failed", len(res.Failures)))
		writeJSON(w, http.StatusMultiStatus, toGenerationResponse(res))
	case res != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		h.logger.Warn("generation interrupted",
			zap.String("workspace_id", string(ws)),
			zap.Int("created", len(res.Created)),
			zap.Error(err))
		resp := toGenerationResponse(res)
		resp.Interrupted = err.Error()
		writeJSON(w, http.StatusMultiStatus, resp)
	default:
		h.writeServiceError(w, err)
	}
}

// NextNumber previews the next automatic number. Defaults to the current month.
func (h *Handler) NextNumber(w http.ResponseWriter, r *http.Request) {
	ws := invoice.WorkspaceID(chi.URLParam(r, "ws"))
	p := invoice.PeriodOf(h.Service.Now().In(h.Service.Location()))

	q := r.URL.Query()
	if q.Get("year") != "" || q.Get("month") != "" {
		year, errY := strconv.Atoi(q.Get("year"))
		month, errM := strconv.Atoi(q.Get("month"))
		if errY != nil || errM != nil {
			writeError(w, http.StatusBadRequest, "year and month must both be integers", nil)
			return
		}
		var err error
		if p, err = invoice.NewPeriod(year, month); err != nil {
			h.writeServiceError(w, err)
			return
		}
	}

	number, err := h.Service.PeekNextNumber(r.Context(), ws, p)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, NextNumberResponse{Period: p.String(), Number: number})
}

// ExportCSV streams the selected invoices, or the whole workspace when ids
// is empty. Unknown ids answer 404 and no CSV is sent.
func (h *Handler) ExportCSV(w http.ResponseWriter, r *http.Request) {
	ws := invoice.WorkspaceID(chi.URLParam(r, "ws"))
	ids := lo.Map(splitList(r.URL.Query().Get("ids")), func(s string, _ int) invoice.InvoiceID {
		return invoice.InvoiceID(s)
	})

	var buf bytes.Buffer
	if err := h.Service.ExportCSV(r.Context(), &buf, ws, ids); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="invoices-%s.csv"`, ws))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (h *Handler) writeInvoice(ctx context.Context, w http.ResponseWriter, status int, id invoice.InvoiceID) {
	inv, err := h.Service.GetInvoice(ctx, id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, status, toInvoiceDTO(*inv, h.Service.Location(), h.Service.Now()))
}

// =============================================================================
// CUSTOMER AND LESSON HANDLERS
// =============================================================================

// ListCustomers returns a workspace's customers.
func (h *Handler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	ws := invoice.WorkspaceID(chi.URLParam(r, "ws"))
	customers, err := h.Records.ListCustomers(r.Context(), ws)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lo.Map(customers, func(c invoice.Customer, _ int) CustomerDTO {
		return toCustomerDTO(c)
	}))
}

// CreateCustomer inserts or replaces a customer.
func (h *Handler) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	ws := invoice.WorkspaceID(chi.URLParam(r, "ws"))
	var req CreateCustomerRequest
	if !h.decode(w, r, &req) {
		return
	}

	c := invoice.Customer{
		ID:                invoice.CustomerID(req.ID),
		WorkspaceID:       ws,
		Name:              req.Name,
		DefaultHourlyRate: req.DefaultHourlyRate,
		PaymentTermsDays:  req.PaymentTermsDays,
		VATExempt:         req.VATExempt,
	}
	if c.ID == "" {
		c.ID = invoice.CustomerID("cus_" + ulid.Make().String())
	}
	if err := h.putCustomer(r.Context(), c); err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCustomerDTO(c))
}

func (h *Handler) putCustomer(ctx context.Context, c invoice.Customer) error {
	if err := h.Records.PutCustomer(ctx, c); err != nil {
		return err
	}
	if h.cache != nil {
		h.cache.Invalidate(c.ID)
	}
	return nil
}

// ListLessons returns a workspace's lessons, billed and unbilled.
func (h *Handler) ListLessons(w http.ResponseWriter, r *http.Request) {
	ws := invoice.WorkspaceID(chi.URLParam(r, "ws"))
	lessons, err := h.Records.ListLessons(r.Context(), ws)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lo.Map(lessons, func(l invoice.BillableLesson, _ int) LessonDTO {
		return toLessonDTO(l)
	}))
}

// CreateLesson records a billable lesson. The customer is resolved at
// generation time, so an unknown customer fails that customer's group only.
func (h *Handler) CreateLesson(w http.ResponseWriter, r *http.Request) {
	ws := invoice.WorkspaceID(chi.URLParam(r, "ws"))
	var req CreateLessonRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Start.IsZero() {
		writeError(w, http.StatusBadRequest, "validation failed", errors.Newf("start is required"))
		return
	}

	l := invoice.BillableLesson{
		ID:         invoice.LessonID(req.ID),
		CustomerID: invoice.CustomerID(req.CustomerID),
		Title:      req.Title,
		Start:      req.Start,
		End:        req.End,
		Rate:       req.Rate,
	}
	if l.ID == "" {
		l.ID = invoice.LessonID("les_" + ulid.Make().String())
	}
	if err := h.Records.PutLesson(r.Context(), ws, l); err != nil {
		h.writeServiceError(w, err)
		return
	}
	// Answer with the stored row: a re-posted lesson keeps its billed flag.
	lessons, err := h.Records.ListLessons(r.Context(), ws)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if stored, ok := lo.Find(lessons, func(s invoice.BillableLesson) bool { return s.ID == l.ID }); ok {
		l = stored
	}
	writeJSON(w, http.StatusCreated, toLessonDTO(l))
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
		resp.Hint = errors.FlattenHints(err)
	}
	writeJSON(w, status, resp)
}

// writeServiceError maps engine errors onto HTTP statuses.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case invoice.IsClientError(err):
		writeError(w, http.StatusBadRequest, "invalid request", err)
	case invoice.IsNotFound(err):
		writeError(w, http.StatusNotFound, "not found", err)
	case invoice.IsConflict(err):
		writeError(w, http.StatusConflict, "conflict", err)
	default:
		h.logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error", err)
	}
}

// decode reads a JSON body into dst and validates it. On failure it writes
// a 400 and returns false.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "validation failed", err)
		return false
	}
	return true
}

func splitList(s string) []string {
	return lo.Compact(lo.Map(strings.Split(s, ","), func(p string, _ int) string {
		return strings.TrimSpace(p)
	}))
}
