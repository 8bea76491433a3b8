package invoice

import (
	"context"
	"encoding/csv"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// CSVHeader is the first row of every export.
var CSVHeader = []string{"number", "customer", "date", "due_date", "total", "status"}

// ExportCSV writes one row per invoice ordered by number. An empty ids
// exports the whole workspace. Ids outside the workspace return
// ErrInvoiceNotFound and nothing is written.
func (s *Service) ExportCSV(ctx context.Context, w io.Writer, ws WorkspaceID, ids []InvoiceID) error {
	invoices, err := s.store.ListByWorkspace(ctx, ws, ListFilter{IDs: ids})
	if err != nil {
		return errors.Wrapf(err, "list invoices for export")
	}
	if len(ids) > 0 {
		found := lo.Map(invoices, func(inv Invoice, _ int) InvoiceID { return inv.ID })
		if missing, _ := lo.Difference(lo.Uniq(ids), found); len(missing) > 0 {
			return errors.Wrapf(ErrInvoiceNotFound, "%v in workspace %s", missing, ws)
		}
	}

	names := make(map[CustomerID]string)
	rows := make([][]string, 0, len(invoices)+1)
	rows = append(rows, CSVHeader)
	for _, inv := range invoices {
		name, ok := names[inv.CustomerID]
		if !ok {
			name = s.customerName(ctx, inv.CustomerID)
			names[inv.CustomerID] = name
		}
		rows = append(rows, []string{
			inv.Number,
			name,
			inv.Date.In(s.cfg.Location).Format("2006-01-02"),
			inv.DueDate.In(s.cfg.Location).Format("2006-01-02"),
			FormatMinor(inv.Total),
			string(inv.Status),
		})
	}

	cw := csv.NewWriter(w)
	if err := cw.WriteAll(rows); err != nil {
		return errors.Wrap(err, "write csv")
	}
	return nil
}

func (s *Service) customerName(ctx context.Context, id CustomerID) string {
	c, err := s.customers.Get(ctx, id)
	if err != nil || c.Name == "" {
		return string(id)
	}
	return c.Name
}

// FormatMinor renders minor units as a major-unit amount with two decimals.
func FormatMinor(amount int64) string {
	return decimal.New(amount, -2).StringFixed(2)
}
