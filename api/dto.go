/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the invoice model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

MONEY AND DATES:
  Amounts are integer minor units (cents). Quantities and tax rates are
  decimal strings ("1.5", "19"). Invoice dates are calendar days
  ("2024-11-30") in the server's billing timezone; lesson times are RFC 3339.

VALIDATION:
  Request types carry go-playground/validator tags. Handlers call
  h.decode, which rejects unknown JSON and failed tags with a 400.

SEE ALSO:
  - handlers.go: Uses these types
  - invoice/types.go: Domain model
*/
package api

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/warp/invoice-engine/invoice"
)

const dateLayout = "2006-01-02"

// =============================================================================
// INVOICES
// =============================================================================

// LineItemDTO is a line item with its derived amounts.
type LineItemDTO struct {
	Description string  `json:"description"`
	Quantity    string  `json:"quantity"`
	UnitPrice   int64   `json:"unit_price"`
	TaxRate     string  `json:"tax_rate"`
	Net         int64   `json:"net"`
	Tax         int64   `json:"tax"`
	ServiceDate *string `json:"service_date,omitempty"`
	StartsAt    *string `json:"starts_at,omitempty"`
	EndsAt      *string `json:"ends_at,omitempty"`
	LessonID    string  `json:"lesson_id,omitempty"`
}

// InvoiceDTO represents an invoice in API responses.
type InvoiceDTO struct {
	ID          string        `json:"id"`
	WorkspaceID string        `json:"workspace_id"`
	CustomerID  string        `json:"customer_id"`
	Number      string        `json:"number"`
	Date        string        `json:"date"`
	DueDate     string        `json:"due_date"`
	Status      string        `json:"status"`
	Overdue     bool          `json:"overdue"`
	Notes       string        `json:"notes,omitempty"`
	Items       []LineItemDTO `json:"items"`
	Subtotal    int64         `json:"subtotal"`
	TaxTotal    int64         `json:"tax_total"`
	Total       int64         `json:"total"`
	SentAt      *string       `json:"sent_at,omitempty"`
	PaidAt      *string       `json:"paid_at,omitempty"`
	CancelledAt *string       `json:"cancelled_at,omitempty"`
	CreatedAt   string        `json:"created_at"`
	UpdatedAt   string        `json:"updated_at"`
}

// LineItemRequest is a line item in create and update bodies.
type LineItemRequest struct {
	Description string     `json:"description" validate:"required,max=500"`
	Quantity    string     `json:"quantity" validate:"required,numeric"`
	UnitPrice   int64      `json:"unit_price" validate:"min=0"`
	TaxRate     string     `json:"tax_rate" validate:"omitempty,numeric"`
	ServiceDate string     `json:"service_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	StartsAt    *time.Time `json:"starts_at,omitempty"`
	EndsAt      *time.Time `json:"ends_at,omitempty"`
	LessonID    string     `json:"lesson_id,omitempty"`
}

// CreateInvoiceRequest is the body of POST /workspaces/{ws}/invoices.
type CreateInvoiceRequest struct {
	CustomerID string            `json:"customer_id" validate:"required"`
	Date       string            `json:"date" validate:"required,datetime=2006-01-02"`
	DueDate    string            `json:"due_date" validate:"required,datetime=2006-01-02"`
	Items      []LineItemRequest `json:"items" validate:"dive"`
	Notes      string            `json:"notes,omitempty" validate:"max=2000"`
	// Number is an optional manually entered YY/MM/NNNN number.
	Number string `json:"number,omitempty"`
}

// UpdateInvoiceRequest is the body of PATCH /invoices/{id}. Absent fields
// are left unchanged; "items": [] clears the items.
type UpdateInvoiceRequest struct {
	Date    *string           `json:"date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	DueDate *string           `json:"due_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Items   []LineItemRequest `json:"items,omitempty" validate:"omitempty,dive"`
	Notes   *string           `json:"notes,omitempty" validate:"omitempty,max=2000"`
}

// StatusRequest is the body of POST /invoices/{id}/status.
type StatusRequest struct {
	Status string `json:"status" validate:"required,oneof=draft sent paid cancelled"`
}

// GenerateRequest is the body of POST /workspaces/{ws}/invoices/generate.
type GenerateRequest struct {
	Year  int `json:"year" validate:"required,min=1970,max=9999"`
	Month int `json:"month" validate:"required,min=1,max=12"`
}

// GenerationFailureDTO is one customer group that could not be invoiced.
type GenerationFailureDTO struct {
	CustomerID string   `json:"customer_id"`
	LessonIDs  []string `json:"lesson_ids"`
	Error      string   `json:"error"`
}

// GenerationResponse reports a generation run. Returned with 207 when
// Failures is non-empty.
type GenerationResponse struct {
	WorkspaceID string                 `json:"workspace_id"`
	Period      string                 `json:"period"`
	Created     []string               `json:"created"`
	Failures    []GenerationFailureDTO `json:"failures"`
	// Interrupted is set when the run stopped early. Created groups stay.
	Interrupted string `json:"interrupted,omitempty"`
}

// NextNumberResponse previews the next automatic number.
type NextNumberResponse struct {
	Period string `json:"period"`
	Number string `json:"number"`
}

// =============================================================================
// CUSTOMERS AND LESSONS
// =============================================================================

// CustomerDTO represents a customer in API responses and create bodies.
type CustomerDTO struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	DefaultHourlyRate *int64 `json:"default_hourly_rate,omitempty"`
	PaymentTermsDays  *int   `json:"payment_terms_days,omitempty"`
	VATExempt         bool   `json:"vat_exempt"`
}

// CreateCustomerRequest is the body of POST /workspaces/{ws}/customers.
type CreateCustomerRequest struct {
	ID                string `json:"id,omitempty" validate:"omitempty,max=64"`
	Name              string `json:"name" validate:"required,max=200"`
	DefaultHourlyRate *int64 `json:"default_hourly_rate,omitempty" validate:"omitempty,min=0"`
	PaymentTermsDays  *int   `json:"payment_terms_days,omitempty" validate:"omitempty,min=0,max=365"`
	VATExempt         bool   `json:"vat_exempt"`
}

// LessonDTO represents a billable lesson.
type LessonDTO struct {
	ID         string    `json:"id"`
	CustomerID string    `json:"customer_id"`
	Title      string    `json:"title"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Rate       *int64    `json:"rate,omitempty"`
	Invoiced   bool      `json:"invoiced"`
}

// CreateLessonRequest is the body of POST /workspaces/{ws}/lessons.
type CreateLessonRequest struct {
	ID         string    `json:"id,omitempty" validate:"omitempty,max=64"`
	CustomerID string    `json:"customer_id" validate:"required"`
	Title      string    `json:"title" validate:"required,max=200"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end" validate:"gtefield=Start"`
	Rate       *int64    `json:"rate,omitempty" validate:"omitempty,min=0"`
}

// =============================================================================
// SCENARIOS AND ERRORS
// =============================================================================

// ScenarioDTO describes a demo data set.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest is the body of POST /scenarios/load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	Hint    string `json:"hint,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toInvoiceDTO(inv invoice.Invoice, loc *time.Location, now time.Time) InvoiceDTO {
	return InvoiceDTO{
		ID:          string(inv.ID),
		WorkspaceID: string(inv.WorkspaceID),
		CustomerID:  string(inv.CustomerID),
		Number:      inv.Number,
		Date:        inv.Date.In(loc).Format(dateLayout),
		DueDate:     inv.DueDate.In(loc).Format(dateLayout),
		Status:      string(inv.Status),
		Overdue:     inv.IsOverdue(now),
		Notes:       inv.Notes,
		Items:       lo.Map(inv.Items, func(li invoice.LineItem, _ int) LineItemDTO { return toLineItemDTO(li, loc) }),
		Subtotal:    inv.Subtotal,
		TaxTotal:    inv.TaxTotal,
		Total:       inv.Total,
		SentAt:      formatOptional(inv.SentAt, time.RFC3339),
		PaidAt:      formatOptional(inv.PaidAt, time.RFC3339),
		CancelledAt: formatOptional(inv.CancelledAt, time.RFC3339),
		CreatedAt:   inv.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   inv.UpdatedAt.Format(time.RFC3339),
	}
}

func toLineItemDTO(li invoice.LineItem, loc *time.Location) LineItemDTO {
	dto := LineItemDTO{
		Description: li.Description,
		Quantity:    li.Quantity.String(),
		UnitPrice:   li.UnitPrice,
		TaxRate:     li.TaxRate.String(),
		Net:         li.Net(),
		Tax:         li.Tax(),
		StartsAt:    formatOptional(li.StartsAt, time.RFC3339),
		EndsAt:      formatOptional(li.EndsAt, time.RFC3339),
		LessonID:    string(li.LessonID),
	}
	if li.ServiceDate != nil {
		d := li.ServiceDate.In(loc).Format(dateLayout)
		dto.ServiceDate = &d
	}
	return dto
}

func formatOptional(t *time.Time, layout string) *string {
	if t == nil {
		return nil
	}
	s := t.Format(layout)
	return &s
}

// toLineItems converts validated requests. Tax rate defaults to 0.
func toLineItems(reqs []LineItemRequest, loc *time.Location) ([]invoice.LineItem, error) {
	items := make([]invoice.LineItem, 0, len(reqs))
	for i, r := range reqs {
		qty, err := decimal.NewFromString(r.Quantity)
		if err != nil {
			return nil, errors.Wrapf(invoice.ErrInvalidInvoice, "item %d: quantity %q", i, r.Quantity)
		}
		rate := decimal.Zero
		if r.TaxRate != "" {
			if rate, err = decimal.NewFromString(r.TaxRate); err != nil {
				return nil, errors.Wrapf(invoice.ErrInvalidInvoice, "item %d: tax rate %q", i, r.TaxRate)
			}
		}
		li := invoice.LineItem{
			Description: r.Description,
			Quantity:    qty,
			UnitPrice:   r.UnitPrice,
			TaxRate:     rate,
			StartsAt:    r.StartsAt,
			EndsAt:      r.EndsAt,
			LessonID:    invoice.LessonID(r.LessonID),
		}
		if r.ServiceDate != "" {
			d, err := parseDate(r.ServiceDate, loc)
			if err != nil {
				return nil, err
			}
			li.ServiceDate = &d
		}
		items = append(items, li)
	}
	return items, nil
}

func parseDate(s string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(dateLayout, s, loc)
	if err != nil {
		return time.Time{}, errors.Wrapf(invoice.ErrInvalidInvoice, "date %q is not YYYY-MM-DD", s)
	}
	return t, nil
}

func toCustomerDTO(c invoice.Customer) CustomerDTO {
	return CustomerDTO{
		ID:                string(c.ID),
		Name:              c.Name,
		DefaultHourlyRate: c.DefaultHourlyRate,
		PaymentTermsDays:  c.PaymentTermsDays,
		VATExempt:         c.VATExempt,
	}
}

func toLessonDTO(l invoice.BillableLesson) LessonDTO {
	return LessonDTO{
		ID:         string(l.ID),
		CustomerID: string(l.CustomerID),
		Title:      l.Title,
		Start:      l.Start,
		End:        l.End,
		Rate:       l.Rate,
		Invoiced:   l.Invoiced,
	}
}

func toGenerationResponse(res *invoice.GenerationResult) GenerationResponse {
	return GenerationResponse{
		WorkspaceID: string(res.WorkspaceID),
		Period:      res.Period.String(),
		Created:     lo.Map(res.Created, func(id invoice.InvoiceID, _ int) string { return string(id) }),
		Failures: lo.Map(res.Failures, func(f invoice.GroupFailure, _ int) GenerationFailureDTO {
			return GenerationFailureDTO{
				CustomerID: string(f.CustomerID),
				LessonIDs:  lo.Map(f.LessonIDs, func(id invoice.LessonID, _ int) string { return string(id) }),
				Error:      f.Err.Error(),
			}
		}),
	}
}
