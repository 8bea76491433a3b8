/*
handlers_test.go - HTTP tests for the invoice API

Tests for:
- Monthly generation, idempotent reruns and 207 partial failures
- Manual numbers and the next-number preview
- Lifecycle transitions and the draft edit lock over HTTP
- Error mapping (400/404/409) with hints
- CSV export and customer cache invalidation
*/
package api

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warp/invoice-engine/customers"
	"github.com/warp/invoice-engine/invoice"
	"github.com/warp/invoice-engine/invoice/store"
)

// testNow is 1 December 2024, the day November gets billed.
var testNow = time.Date(2024, time.December, 1, 10, 0, 0, 0, time.UTC)

type testAPI struct {
	router http.Handler
	h      *Handler
	mem    *store.Memory
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	mem := store.NewMemory()
	cache := customers.NewCachedDirectory(mem.Customers(), time.Minute)

	cfg := invoice.DefaultConfig()
	cfg.Now = func() time.Time { return testNow }
	svc := invoice.NewService(mem, mem, cache, invoice.NopDispatcher{}, cfg, zap.NewNop())

	h := NewHandler(svc, mem, cache, zap.NewNop())
	return &testAPI{router: NewRouter(h, nil), h: h, mem: mem}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (a *testAPI) loadScenario(t *testing.T, id string) {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: id})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

// createDraft posts a one-item invoice for cus-1 in W1 dated 30 Nov 2024.
func (a *testAPI) createDraft(t *testing.T) InvoiceDTO {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/workspaces/W1/customers", CreateCustomerRequest{ID: "cus-1", Name: "Anna"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = a.do(t, http.MethodPost, "/api/workspaces/W1/invoices", CreateInvoiceRequest{
		CustomerID: "cus-1",
		Date:       "2024-11-30",
		DueDate:    "2024-12-14",
		Items: []LineItemRequest{
			{Description: "Piano", Quantity: "3", UnitPrice: 5000, TaxRate: "19"},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[InvoiceDTO](t, rec)
}

// =============================================================================
// GENERATION
// =============================================================================

func TestGenerateInvoices_MonthlyBilling(t *testing.T) {
	// GIVEN: Two customers with November 2024 lessons
	// WHEN: November is generated
	// THEN: One draft per customer with derived totals and 24/11 numbers
	a := newTestAPI(t)
	a.loadScenario(t, "monthly-billing")

	rec := a.do(t, http.MethodPost, "/api/workspaces/studio-berlin/invoices/generate", GenerateRequest{Year: 2024, Month: 11})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decodeBody[GenerationResponse](t, rec)
	assert.Equal(t, "2024-11", res.Period)
	assert.Len(t, res.Created, 2)
	assert.Empty(t, res.Failures)

	rec = a.do(t, http.MethodGet, "/api/workspaces/studio-berlin/invoices", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	invoices := decodeBody[[]InvoiceDTO](t, rec)
	require.Len(t, invoices, 2)

	numbers := lo.Map(invoices, func(inv InvoiceDTO, _ int) string { return inv.Number })
	assert.ElementsMatch(t, []string{"24/11/0001", "24/11/0002"}, numbers)

	byCustomer := lo.KeyBy(invoices, func(inv InvoiceDTO) string { return inv.CustomerID })
	anna := byCustomer["cus-anna"]
	assert.Equal(t, "draft", anna.Status)
	assert.Equal(t, int64(15000), anna.Subtotal)
	assert.Equal(t, int64(2850), anna.TaxTotal)
	assert.Equal(t, int64(17850), anna.Total)
	assert.Equal(t, "2024-12-01", anna.Date)
	assert.Equal(t, "2024-12-15", anna.DueDate)
	assert.Len(t, anna.Items, 3)

	ben := byCustomer["cus-ben"]
	assert.Equal(t, int64(12000), ben.Total)
	assert.Equal(t, int64(0), ben.TaxTotal)
	assert.Equal(t, "2024-12-31", ben.DueDate)
}

func TestGenerateInvoices_RerunCreatesNothing(t *testing.T) {
	a := newTestAPI(t)
	a.loadScenario(t, "monthly-billing")

	path := "/api/workspaces/studio-berlin/invoices/generate"
	rec := a.do(t, http.MethodPost, path, GenerateRequest{Year: 2024, Month: 11})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(t, http.MethodPost, path, GenerateRequest{Year: 2024, Month: 11})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[GenerationResponse](t, rec).Created)

	lessons := decodeBody[[]LessonDTO](t, a.do(t, http.MethodGet, "/api/workspaces/studio-berlin/lessons", nil))
	assert.True(t, lo.EveryBy(lessons, func(l LessonDTO) bool { return l.Invoiced }))
}

func TestGenerateInvoices_PartialFailure(t *testing.T) {
	// GIVEN: Lessons for a known and an unknown customer
	// WHEN: November is generated
	// THEN: 207 with the known customer's draft and the unknown group's failure
	a := newTestAPI(t)
	a.loadScenario(t, "partial-failure")

	rec := a.do(t, http.MethodPost, "/api/workspaces/studio-munich/invoices/generate", GenerateRequest{Year: 2024, Month: 11})
	require.Equal(t, http.StatusMultiStatus, rec.Code, rec.Body.String())

	res := decodeBody[GenerationResponse](t, rec)
	assert.Len(t, res.Created, 1)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "cus-deleted", res.Failures[0].CustomerID)
	assert.Equal(t, []string{"les-ghost-1"}, res.Failures[0].LessonIDs)
	assert.NotEmpty(t, res.Failures[0].Error)
}

func TestGenerateInvoices_InvalidMonth(t *testing.T) {
	a := newTestAPI(t)
	rec := a.do(t, http.MethodPost, "/api/workspaces/W1/invoices/generate", GenerateRequest{Year: 2024, Month: 13})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGenerateInvoices_InterruptedRunKeepsResult(t *testing.T) {
	// GIVEN: A request whose context is already cancelled
	// WHEN: November is generated
	// THEN: 207 with the interruption reported, nothing billed, a rerun bills everything
	a := newTestAPI(t)
	a.loadScenario(t, "monthly-billing")
	path := "/api/workspaces/studio-berlin/invoices/generate"

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{"year":2024,"month":11}`)).WithContext(ctx)
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusMultiStatus, rec.Code, rec.Body.String())
	res := decodeBody[GenerationResponse](t, rec)
	assert.Empty(t, res.Created)
	assert.Contains(t, res.Interrupted, "context canceled")

	rec = a.do(t, http.MethodPost, path, GenerateRequest{Year: 2024, Month: 11})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, decodeBody[GenerationResponse](t, rec).Created, 2)
}

// =============================================================================
// NUMBERING
// =============================================================================

func TestNextNumber_AfterManualLegacyNumber(t *testing.T) {
	// GIVEN: A manually numbered 25/09/5060 invoice
	// WHEN: The next September 2025 number is previewed
	// THEN: It continues from the manual number
	a := newTestAPI(t)
	a.loadScenario(t, "legacy-numbers")

	rec := a.do(t, http.MethodGet, "/api/workspaces/studio-hamburg/invoices/next-number?year=2025&month=9", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, NextNumberResponse{Period: "2025-09", Number: "25/09/5061"}, decodeBody[NextNumberResponse](t, rec))

	// Defaults to the current month
	rec = a.do(t, http.MethodGet, "/api/workspaces/studio-hamburg/invoices/next-number", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "24/12/0001", decodeBody[NextNumberResponse](t, rec).Number)
}

func TestCreateInvoice_ManualNumberErrors(t *testing.T) {
	a := newTestAPI(t)
	a.loadScenario(t, "legacy-numbers")
	path := "/api/workspaces/studio-hamburg/invoices"

	base := CreateInvoiceRequest{
		CustomerID: "cus-clara",
		Date:       "2025-09-20",
		DueDate:    "2025-10-04",
		Items:      []LineItemRequest{{Description: "Lesson", Quantity: "1", UnitPrice: 6000}},
	}

	tests := []struct {
		name   string
		number string
		status int
	}{
		{name: "malformed", number: "2025-09-1", status: http.StatusBadRequest},
		{name: "other period", number: "25/10/0001", status: http.StatusBadRequest},
		{name: "duplicate", number: "25/09/5060", status: http.StatusConflict},
		{name: "accepted", number: "25/09/6000", status: http.StatusCreated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := base
			req.Number = tt.number
			rec := a.do(t, http.MethodPost, path, req)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}

	rec := a.do(t, http.MethodGet, "/api/workspaces/studio-hamburg/invoices/next-number?year=2025&month=9", nil)
	assert.Equal(t, "25/09/6001", decodeBody[NextNumberResponse](t, rec).Number)
}

func TestCreateInvoice_PeriodMismatchCarriesHint(t *testing.T) {
	a := newTestAPI(t)
	a.createDraft(t)

	rec := a.do(t, http.MethodPost, "/api/workspaces/W1/invoices", CreateInvoiceRequest{
		CustomerID: "cus-1",
		Date:       "2024-11-30",
		DueDate:    "2024-12-14",
		Number:     "24/10/0007",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody[ErrorResponse](t, rec)
	assert.NotEmpty(t, body.Details)
	assert.NotEmpty(t, body.Hint)
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func TestInvoiceLifecycle_OverHTTP(t *testing.T) {
	// GIVEN: A draft invoice
	// WHEN: It is edited, sent, paid and then pushed back to draft
	// THEN: Edits apply only while draft and status only moves forward
	a := newTestAPI(t)
	inv := a.createDraft(t)
	assert.Equal(t, "24/11/0001", inv.Number)
	assert.Equal(t, int64(17850), inv.Total)

	notes := "Thank you"
	rec := a.do(t, http.MethodPatch, "/api/invoices/"+inv.ID, UpdateInvoiceRequest{
		Notes: &notes,
		Items: []LineItemRequest{{Description: "Piano", Quantity: "2", UnitPrice: 5000, TaxRate: "19"}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	edited := decodeBody[InvoiceDTO](t, rec)
	assert.Equal(t, int64(11900), edited.Total)
	assert.Equal(t, "Thank you", edited.Notes)

	rec = a.do(t, http.MethodPost, "/api/invoices/"+inv.ID+"/status", StatusRequest{Status: "sent"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	sent := decodeBody[InvoiceDTO](t, rec)
	assert.Equal(t, "sent", sent.Status)
	assert.NotNil(t, sent.SentAt)

	rec = a.do(t, http.MethodPatch, "/api/invoices/"+inv.ID, UpdateInvoiceRequest{Notes: &notes})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.NotEmpty(t, decodeBody[ErrorResponse](t, rec).Hint)

	rec = a.do(t, http.MethodPost, "/api/invoices/"+inv.ID+"/status", StatusRequest{Status: "paid"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "paid", decodeBody[InvoiceDTO](t, rec).Status)

	rec = a.do(t, http.MethodPost, "/api/invoices/"+inv.ID+"/status", StatusRequest{Status: "draft"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSendEmptyDraft_PreconditionFailed(t *testing.T) {
	a := newTestAPI(t)
	inv := a.createDraft(t)

	rec := a.do(t, http.MethodPatch, "/api/invoices/"+inv.ID, `{"items": []}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, int64(0), decodeBody[InvoiceDTO](t, rec).Total)

	rec = a.do(t, http.MethodPost, "/api/invoices/"+inv.ID+"/status", StatusRequest{Status: "sent"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListInvoices_Filters(t *testing.T) {
	a := newTestAPI(t)
	draft := a.createDraft(t)

	rec := a.do(t, http.MethodPost, "/api/workspaces/W1/invoices", CreateInvoiceRequest{
		CustomerID: "cus-1", Date: "2024-11-10", DueDate: "2024-11-20",
		Items: []LineItemRequest{{Description: "Late", Quantity: "1", UnitPrice: 1000}},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	late := decodeBody[InvoiceDTO](t, rec)
	assert.False(t, late.Overdue, "drafts are never overdue")

	rec = a.do(t, http.MethodPost, "/api/invoices/"+late.ID+"/status", StatusRequest{Status: "sent"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeBody[InvoiceDTO](t, rec).Overdue)

	drafts := decodeBody[[]InvoiceDTO](t, a.do(t, http.MethodGet, "/api/workspaces/W1/invoices?status=draft", nil))
	require.Len(t, drafts, 1)
	assert.Equal(t, draft.ID, drafts[0].ID)

	overdue := decodeBody[[]InvoiceDTO](t, a.do(t, http.MethodGet, "/api/workspaces/W1/invoices?overdue=true", nil))
	require.Len(t, overdue, 1)
	assert.Equal(t, late.ID, overdue[0].ID)

	all := decodeBody[[]InvoiceDTO](t, a.do(t, http.MethodGet, "/api/workspaces/W1/invoices?status=draft,sent&customer_id=cus-1", nil))
	assert.Len(t, all, 2)

	rec = a.do(t, http.MethodGet, "/api/workspaces/W1/invoices?status=archived", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// ERRORS
// =============================================================================

func TestErrorMapping(t *testing.T) {
	a := newTestAPI(t)
	a.createDraft(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
	}{
		{name: "unknown invoice", method: http.MethodGet, path: "/api/invoices/inv_missing", status: http.StatusNotFound},
		{name: "unknown customer", method: http.MethodPost, path: "/api/workspaces/W1/invoices",
			body: CreateInvoiceRequest{CustomerID: "nobody", Date: "2024-11-30", DueDate: "2024-12-14"}, status: http.StatusNotFound},
		{name: "customer of other workspace", method: http.MethodPost, path: "/api/workspaces/W2/invoices",
			body: CreateInvoiceRequest{CustomerID: "cus-1", Date: "2024-11-30", DueDate: "2024-12-14"}, status: http.StatusNotFound},
		{name: "missing customer id", method: http.MethodPost, path: "/api/workspaces/W1/invoices",
			body: CreateInvoiceRequest{Date: "2024-11-30", DueDate: "2024-12-14"}, status: http.StatusBadRequest},
		{name: "unknown field", method: http.MethodPost, path: "/api/workspaces/W1/invoices",
			body: `{"customer_id":"cus-1","date":"2024-11-30","due_date":"2024-12-14","total":1}`, status: http.StatusBadRequest},
		{name: "due before date", method: http.MethodPost, path: "/api/workspaces/W1/invoices",
			body: CreateInvoiceRequest{CustomerID: "cus-1", Date: "2024-11-30", DueDate: "2024-11-01"}, status: http.StatusBadRequest},
		{name: "non-numeric quantity", method: http.MethodPost, path: "/api/workspaces/W1/invoices",
			body: CreateInvoiceRequest{CustomerID: "cus-1", Date: "2024-11-30", DueDate: "2024-12-14",
				Items: []LineItemRequest{{Description: "x", Quantity: "lots", UnitPrice: 1}}}, status: http.StatusBadRequest},
		{name: "unknown status", method: http.MethodPost, path: "/api/invoices/inv_missing/status",
			body: StatusRequest{Status: "archived"}, status: http.StatusBadRequest},
		{name: "transition of unknown invoice", method: http.MethodPost, path: "/api/invoices/inv_missing/status",
			body: StatusRequest{Status: "sent"}, status: http.StatusNotFound},
		{name: "unknown scenario", method: http.MethodPost, path: "/api/scenarios/load",
			body: LoadScenarioRequest{ScenarioID: "nope"}, status: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := a.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decodeBody[ErrorResponse](t, rec).Error)
		})
	}
}

// =============================================================================
// EXPORT AND RECORDS
// =============================================================================

func TestExportCSV(t *testing.T) {
	a := newTestAPI(t)
	inv := a.createDraft(t)

	rec := a.do(t, http.MethodGet, "/api/workspaces/W1/invoices/export.csv?ids="+inv.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))

	rows, err := csv.NewReader(strings.NewReader(rec.Body.String())).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		invoice.CSVHeader,
		{"24/11/0001", "Anna", "2024-11-30", "2024-12-14", "178.50", "draft"},
	}, rows)

	rec = a.do(t, http.MethodGet, "/api/workspaces/W1/invoices/export.csv?ids="+inv.ID+",inv_missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateCustomer_InvalidatesCache(t *testing.T) {
	// GIVEN: An exported invoice that cached the customer's name
	// WHEN: The customer is renamed through the API
	// THEN: The next export shows the new name
	a := newTestAPI(t)
	a.createDraft(t)

	rec := a.do(t, http.MethodGet, "/api/workspaces/W1/invoices/export.csv", nil)
	require.Contains(t, rec.Body.String(), ",Anna,")

	rec = a.do(t, http.MethodPost, "/api/workspaces/W1/customers", CreateCustomerRequest{ID: "cus-1", Name: "Anna Schmidt"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = a.do(t, http.MethodGet, "/api/workspaces/W1/invoices/export.csv", nil)
	assert.Contains(t, rec.Body.String(), ",Anna Schmidt,")

	listed := decodeBody[[]CustomerDTO](t, a.do(t, http.MethodGet, "/api/workspaces/W1/customers", nil))
	require.Len(t, listed, 1)
	assert.Equal(t, "Anna Schmidt", listed[0].Name)
}

func TestCreateLesson(t *testing.T) {
	a := newTestAPI(t)
	start := time.Date(2024, time.November, 3, 9, 0, 0, 0, time.UTC)

	rec := a.do(t, http.MethodPost, "/api/workspaces/W1/lessons", CreateLessonRequest{
		CustomerID: "cus-1", Title: "Cello", Start: start, End: start.Add(time.Hour),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[LessonDTO](t, rec)
	assert.True(t, strings.HasPrefix(created.ID, "les_"))

	rec = a.do(t, http.MethodPost, "/api/workspaces/W1/lessons", CreateLessonRequest{
		CustomerID: "cus-1", Title: "Backwards", Start: start, End: start.Add(-time.Hour),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	lessons, err := a.mem.ListLessons(context.Background(), "W1")
	require.NoError(t, err)
	assert.Len(t, lessons, 1)
}

func TestCreateLesson_RepostKeepsBilledFlag(t *testing.T) {
	// GIVEN: A lesson that November's run already billed
	// WHEN: The same lesson is posted again and November is rerun
	// THEN: The lesson stays billed and no second draft appears
	a := newTestAPI(t)
	rate := int64(5000)
	rec := a.do(t, http.MethodPost, "/api/workspaces/W1/customers", CreateCustomerRequest{ID: "cus-1", Name: "Anna", DefaultHourlyRate: &rate})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	start := time.Date(2024, time.November, 5, 16, 0, 0, 0, time.UTC)
	lesson := CreateLessonRequest{ID: "les-1", CustomerID: "cus-1", Title: "Piano", Start: start, End: start.Add(time.Hour)}
	rec = a.do(t, http.MethodPost, "/api/workspaces/W1/lessons", lesson)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	path := "/api/workspaces/W1/invoices/generate"
	rec = a.do(t, http.MethodPost, path, GenerateRequest{Year: 2024, Month: 11})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, decodeBody[GenerationResponse](t, rec).Created, 1)

	rec = a.do(t, http.MethodPost, "/api/workspaces/W1/lessons", lesson)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.True(t, decodeBody[LessonDTO](t, rec).Invoiced)

	rec = a.do(t, http.MethodPost, path, GenerateRequest{Year: 2024, Month: 11})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Empty(t, decodeBody[GenerationResponse](t, rec).Created)

	all := decodeBody[[]InvoiceDTO](t, a.do(t, http.MethodGet, "/api/workspaces/W1/invoices", nil))
	assert.Len(t, all, 1)
}

func TestScenarios_ListAndCurrent(t *testing.T) {
	a := newTestAPI(t)

	listed := decodeBody[[]ScenarioDTO](t, a.do(t, http.MethodGet, "/api/scenarios", nil))
	assert.Len(t, listed, len(scenarios))

	rec := a.do(t, http.MethodGet, "/api/scenarios/current", nil)
	assert.Equal(t, "null", strings.TrimSpace(rec.Body.String()))

	a.loadScenario(t, "monthly-billing")
	current := decodeBody[ScenarioDTO](t, a.do(t, http.MethodGet, "/api/scenarios/current", nil))
	assert.Equal(t, "monthly-billing", current.ID)

	// Loading another scenario resets the store
	a.loadScenario(t, "partial-failure")
	workspaces, err := a.mem.ListWorkspaces(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []invoice.WorkspaceID{"studio-munich"}, workspaces)
}
