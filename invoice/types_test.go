package invoice_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/invoice-engine/invoice"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestLineItem_NetAndTax(t *testing.T) {
	tests := []struct {
		name     string
		item     invoice.LineItem
		net, tax int64
	}{
		{
			name: "one hour at 50.00, 19%",
			item: invoice.LineItem{Quantity: dec("1"), UnitPrice: 5000, TaxRate: dec("19")},
			net:  5000, tax: 950,
		},
		{
			name: "fractional hours round half away from zero",
			item: invoice.LineItem{Quantity: dec("0.75"), UnitPrice: 3333, TaxRate: dec("19")},
			// 2499.75 -> 2500, tax 475
			net: 2500, tax: 475,
		},
		{
			name: "tax rounds per line",
			item: invoice.LineItem{Quantity: dec("1"), UnitPrice: 105, TaxRate: dec("7")},
			// 7.35 -> 7
			net: 105, tax: 7,
		},
		{
			name: "zero price still an item",
			item: invoice.LineItem{Quantity: dec("1.5"), UnitPrice: 0, TaxRate: dec("19")},
			net:  0, tax: 0,
		},
		{
			name: "exempt",
			item: invoice.LineItem{Quantity: dec("2"), UnitPrice: 4000, TaxRate: decimal.Zero},
			net:  8000, tax: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.net, tt.item.Net())
			assert.Equal(t, tt.tax, tt.item.Tax())
		})
	}
}

func TestLineItem_Validate(t *testing.T) {
	valid := invoice.LineItem{Quantity: dec("1"), UnitPrice: 100, TaxRate: dec("19")}
	require.NoError(t, valid.Validate())

	bad := []invoice.LineItem{
		{Quantity: dec("-1"), UnitPrice: 100, TaxRate: dec("19")},
		{Quantity: dec("1"), UnitPrice: -1, TaxRate: dec("19")},
		{Quantity: dec("1"), UnitPrice: 100, TaxRate: dec("100.01")},
		{Quantity: dec("1"), UnitPrice: 100, TaxRate: dec("-0.5")},
	}
	for _, li := range bad {
		assert.ErrorIs(t, li.Validate(), invoice.ErrInvalidInvoice)
	}
}

func TestInvoice_Recalculate(t *testing.T) {
	// GIVEN: An invoice with caller-supplied totals that are wrong
	// WHEN: Recalculate
	// THEN: Totals derive from items and subtotal + tax == total
	inv := invoice.Invoice{
		Items: []invoice.LineItem{
			{Quantity: dec("1"), UnitPrice: 5000, TaxRate: dec("19")},
			{Quantity: dec("1.5"), UnitPrice: 4000, TaxRate: dec("7")},
		},
		Subtotal: 1, TaxTotal: 2, Total: 999,
	}
	inv.Recalculate()

	assert.Equal(t, int64(11000), inv.Subtotal)
	assert.Equal(t, int64(950+420), inv.TaxTotal)
	assert.Equal(t, inv.Subtotal+inv.TaxTotal, inv.Total)
}

func TestInvoice_IsOverdue(t *testing.T) {
	now := time.Date(2024, time.December, 20, 12, 0, 0, 0, time.UTC)
	due := time.Date(2024, time.December, 15, 0, 0, 0, 0, time.UTC)

	for status, want := range map[invoice.Status]bool{
		invoice.StatusDraft:     false,
		invoice.StatusSent:      true,
		invoice.StatusPaid:      false,
		invoice.StatusCancelled: false,
	} {
		inv := invoice.Invoice{Status: status, DueDate: due}
		assert.Equal(t, want, inv.IsOverdue(now), status)
	}

	notYet := invoice.Invoice{Status: invoice.StatusSent, DueDate: now.Add(time.Hour)}
	assert.False(t, notYet.IsOverdue(now))
}

func TestBillableLesson_Hours(t *testing.T) {
	start := time.Date(2024, time.November, 4, 15, 0, 0, 0, time.UTC)

	h, err := invoice.BillableLesson{Start: start, End: start.Add(45 * time.Minute)}.Hours()
	require.NoError(t, err)
	assert.True(t, dec("0.75").Equal(h), h.String())

	h, err = invoice.BillableLesson{Start: start, End: start.Add(20 * time.Minute)}.Hours()
	require.NoError(t, err)
	assert.True(t, dec("0.33").Equal(h), h.String())

	_, err = invoice.BillableLesson{Start: start, End: start.Add(-time.Minute)}.Hours()
	assert.ErrorIs(t, err, invoice.ErrInvalidLesson)
}

func TestStatus(t *testing.T) {
	assert.True(t, invoice.StatusSent.Valid())
	assert.False(t, invoice.Status("overdue").Valid())
	assert.True(t, invoice.StatusPaid.Terminal())
	assert.True(t, invoice.StatusCancelled.Terminal())
	assert.False(t, invoice.StatusSent.Terminal())
}
