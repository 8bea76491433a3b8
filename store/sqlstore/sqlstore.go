/*
Package sqlstore provides a SQL-backed implementation of the invoice engine's
storage interfaces.

PURPOSE:
  Implements invoice.TxStore, invoice.LessonBillingSource and the customer
  directory on SQLite (default) or PostgreSQL. Queries are written once
  with "?" placeholders and rebound per driver by sqlx.

INTERFACES IMPLEMENTED:
  invoice.Store / invoice.TxStore: Invoices and sequence counters
  invoice.LessonBillingSource:     Lessons and the invoiced flag
  invoice.CustomerDirectory:       Via Customers()

KEY TABLES:
  invoices:          One row per invoice, items as JSON
  invoice_sequences: last_sequence per (workspace_id, year, month)
  customers:         Workspace customers with billing defaults
  lessons:           Billable lessons with the invoiced flag

INDEXES:
  - idx_invoices_workspace_number: UNIQUE (workspace_id, number), the last
    line of defence against duplicate numbers
  - idx_lessons_unbilled: generation hot path

SEQUENCE ATOMICITY:
  Allocation is one statement:

    INSERT INTO invoice_sequences ... VALUES (..., 1, ...)
    ON CONFLICT (workspace_id, year, month)
    DO UPDATE SET last_sequence = invoice_sequences.last_sequence + 1
    RETURNING last_sequence

  PostgreSQL takes a row lock per key; SQLite has a single writer.
  There is no read-then-write window in either.

TIMESTAMPS:
  Stored as fixed-width UTC text so lexical order equals time order on both
  drivers.

SQLITE:
  Opened with WAL, foreign keys and a busy timeout. The pool is limited to
  one connection, which also keeps ":memory:" databases shared.

USAGE:
  store, err := sqlstore.Open("sqlite3", "./data/invoices.db", logger)
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on Open(). For production, use a proper
  migration tool with versioned migrations.

SEE ALSO:
  - invoice/store.go: Interface definitions
  - invoice/store/memory.go: In-memory implementation for testing
*/
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/invoice-engine/invoice"
)

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements all storage interfaces using database/sql through sqlx.
type Store struct {
	queries
	db     *sqlx.DB
	logger *zap.Logger
}

// Open connects to driver ("sqlite3" or "postgres") and migrates the schema.
// Use ":memory:" with sqlite3 for an in-memory database.
func Open(driver, dsn string, logger *zap.Logger) (*Store, error) {
	if driver == "sqlite3" {
		dsn = sqliteDSN(dsn)
	}
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	if driver == "sqlite3" {
		db.SetMaxOpenConns(1)
	}

	s := NewWithDB(db, logger)
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migrate database")
	}
	return s, nil
}

// NewWithDB wraps an existing connection without migrating.
func NewWithDB(db *sqlx.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{queries: queries{q: db}, db: db, logger: logger}
}

func sqliteDSN(dsn string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000"
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate creates the database schema.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "apply %q", firstLine(stmt))
		}
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS invoices (
		id TEXT PRIMARY KEY,
		workspace_id TEXT NOT NULL,
		customer_id TEXT NOT NULL,
		number TEXT NOT NULL,
		date TEXT NOT NULL,
		due_date TEXT NOT NULL,
		status TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		items TEXT NOT NULL,
		subtotal BIGINT NOT NULL,
		tax_total BIGINT NOT NULL,
		total BIGINT NOT NULL,
		sent_at TEXT,
		paid_at TEXT,
		cancelled_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_invoices_workspace_number
		ON invoices(workspace_id, number)`,
	`CREATE INDEX IF NOT EXISTS idx_invoices_workspace_status
		ON invoices(workspace_id, status)`,
	`CREATE TABLE IF NOT EXISTS invoice_sequences (
		workspace_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		last_sequence INTEGER NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (workspace_id, year, month)
	)`,
	`CREATE TABLE IF NOT EXISTS customers (
		id TEXT PRIMARY KEY,
		workspace_id TEXT NOT NULL,
		name TEXT NOT NULL,
		default_hourly_rate BIGINT,
		payment_terms_days INTEGER,
		vat_exempt BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_customers_workspace ON customers(workspace_id)`,
	`CREATE TABLE IF NOT EXISTS lessons (
		id TEXT PRIMARY KEY,
		workspace_id TEXT NOT NULL,
		customer_id TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		starts_at TEXT NOT NULL,
		ends_at TEXT NOT NULL,
		rate BIGINT,
		invoiced BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_lessons_unbilled
		ON lessons(workspace_id, invoiced, starts_at)`,
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return strings.TrimSpace(line)
}

// =============================================================================
// TRANSACTIONAL STORE (invoice.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction. fn must only use the
// store it is given.
func (s *Store) WithTx(ctx context.Context, fn func(invoice.Store) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback()

	if err := fn(&queries{q: tx}); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(), "commit transaction")
}

// queries runs every invoice.Store statement against a DB or a Tx.
type queries struct {
	q sqlx.ExtContext
}

// =============================================================================
// INVOICES (invoice.InvoiceRepository interface)
// =============================================================================

type invoiceRow struct {
	ID          string         `db:"id"`
	WorkspaceID string         `db:"workspace_id"`
	CustomerID  string         `db:"customer_id"`
	Number      string         `db:"number"`
	Date        string         `db:"date"`
	DueDate     string         `db:"due_date"`
	Status      string         `db:"status"`
	Notes       string         `db:"notes"`
	Items       string         `db:"items"`
	Subtotal    int64          `db:"subtotal"`
	TaxTotal    int64          `db:"tax_total"`
	Total       int64          `db:"total"`
	SentAt      sql.NullString `db:"sent_at"`
	PaidAt      sql.NullString `db:"paid_at"`
	CancelledAt sql.NullString `db:"cancelled_at"`
	CreatedAt   string         `db:"created_at"`
	UpdatedAt   string         `db:"updated_at"`
}

const invoiceColumns = `id, workspace_id, customer_id, number, date, due_date, status, notes, items,
	subtotal, tax_total, total, sent_at, paid_at, cancelled_at, created_at, updated_at`

// Create inserts an invoice. The unique index rejects a reused number.
func (s *queries) Create(ctx context.Context, inv invoice.Invoice) (invoice.InvoiceID, error) {
	items, err := encodeItems(inv.Items)
	if err != nil {
		return "", err
	}
	query := s.q.Rebind(`INSERT INTO invoices (` + invoiceColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err = s.q.ExecContext(ctx, query,
		inv.ID,
		inv.WorkspaceID,
		inv.CustomerID,
		inv.Number,
		formatTime(inv.Date),
		formatTime(inv.DueDate),
		inv.Status,
		inv.Notes,
		items,
		inv.Subtotal,
		inv.TaxTotal,
		inv.Total,
		nullTime(inv.SentAt),
		nullTime(inv.PaidAt),
		nullTime(inv.CancelledAt),
		formatTime(inv.CreatedAt),
		formatTime(inv.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return "", errors.WithSecondaryError(
				errors.Wrapf(invoice.ErrDuplicateInvoiceNumber, "number %s in workspace %s", inv.Number, inv.WorkspaceID),
				err)
		}
		return "", errors.Wrap(err, "insert invoice")
	}
	return inv.ID, nil
}

func (s *queries) Get(ctx context.Context, id invoice.InvoiceID) (*invoice.Invoice, error) {
	var row invoiceRow
	query := s.q.Rebind(`SELECT ` + invoiceColumns + ` FROM invoices WHERE id = ?`)
	if err := sqlx.GetContext(ctx, s.q, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(invoice.ErrInvoiceNotFound, "%s", id)
		}
		return nil, errors.Wrap(err, "get invoice")
	}
	inv, err := row.toInvoice()
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (s *queries) ListByWorkspace(ctx context.Context, ws invoice.WorkspaceID, f invoice.ListFilter) ([]invoice.Invoice, error) {
	where := []string{"workspace_id = ?"}
	args := []any{ws}
	if len(f.Statuses) > 0 {
		where = append(where, "status IN (?)")
		args = append(args, lo.Map(f.Statuses, func(st invoice.Status, _ int) string { return string(st) }))
	}
	if f.CustomerID != "" {
		where = append(where, "customer_id = ?")
		args = append(args, f.CustomerID)
	}
	if len(f.IDs) > 0 {
		where = append(where, "id IN (?)")
		args = append(args, lo.Map(f.IDs, func(id invoice.InvoiceID, _ int) string { return string(id) }))
	}

	query, args, err := sqlx.In(`SELECT `+invoiceColumns+` FROM invoices WHERE `+
		strings.Join(where, " AND ")+` ORDER BY number, id`, args...)
	if err != nil {
		return nil, errors.Wrap(err, "build invoice query")
	}

	var rows []invoiceRow
	if err := sqlx.SelectContext(ctx, s.q, &rows, s.q.Rebind(query), args...); err != nil {
		return nil, errors.Wrap(err, "list invoices")
	}
	result := make([]invoice.Invoice, 0, len(rows))
	for _, row := range rows {
		inv, err := row.toInvoice()
		if err != nil {
			return nil, err
		}
		result = append(result, inv)
	}
	return result, nil
}

// Patch applies p only while the stored status equals p.ExpectStatus.
func (s *queries) Patch(ctx context.Context, id invoice.InvoiceID, p invoice.Patch) error {
	sets := []string{"updated_at = ?"}
	args := []any{formatTime(p.UpdatedAt)}
	set := func(column string, value any) {
		sets = append(sets, column+" = ?")
		args = append(args, value)
	}

	if p.Status != nil {
		set("status", string(*p.Status))
	}
	if p.Items != nil {
		items, err := encodeItems(p.Items)
		if err != nil {
			return err
		}
		set("items", items)
	}
	if p.Totals != nil {
		set("subtotal", p.Totals.Subtotal)
		set("tax_total", p.Totals.TaxTotal)
		set("total", p.Totals.Total)
	}
	if p.Date != nil {
		set("date", formatTime(*p.Date))
	}
	if p.DueDate != nil {
		set("due_date", formatTime(*p.DueDate))
	}
	if p.Notes != nil {
		set("notes", *p.Notes)
	}
	if p.SentAt != nil {
		set("sent_at", formatTime(*p.SentAt))
	}
	if p.PaidAt != nil {
		set("paid_at", formatTime(*p.PaidAt))
	}
	if p.CancelledAt != nil {
		set("cancelled_at", formatTime(*p.CancelledAt))
	}
	args = append(args, id, string(p.ExpectStatus))

	query := s.q.Rebind(`UPDATE invoices SET ` + strings.Join(sets, ", ") + ` WHERE id = ? AND status = ?`)
	res, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.Wrap(err, "update invoice")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if n > 0 {
		return nil
	}

	// Nothing matched: either the invoice is gone or its status moved on.
	var status string
	err = sqlx.GetContext(ctx, s.q, &status, s.q.Rebind(`SELECT status FROM invoices WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return errors.Wrapf(invoice.ErrInvoiceNotFound, "%s", id)
	}
	if err != nil {
		return errors.Wrap(err, "read invoice status")
	}
	return errors.Wrapf(invoice.ErrConcurrentModification,
		"invoice %s is %s, expected %s", id, status, p.ExpectStatus)
}

func (r invoiceRow) toInvoice() (invoice.Invoice, error) {
	items, err := decodeItems(r.Items)
	if err != nil {
		return invoice.Invoice{}, errors.Wrapf(err, "decode items of %s", r.ID)
	}
	var tp timeParser
	inv := invoice.Invoice{
		ID:          invoice.InvoiceID(r.ID),
		WorkspaceID: invoice.WorkspaceID(r.WorkspaceID),
		CustomerID:  invoice.CustomerID(r.CustomerID),
		Number:      r.Number,
		Date:        tp.parse("date", r.Date),
		DueDate:     tp.parse("due_date", r.DueDate),
		Status:      invoice.Status(r.Status),
		Notes:       r.Notes,
		Items:       items,
		Subtotal:    r.Subtotal,
		TaxTotal:    r.TaxTotal,
		Total:       r.Total,
		SentAt:      tp.parseNull("sent_at", r.SentAt),
		PaidAt:      tp.parseNull("paid_at", r.PaidAt),
		CancelledAt: tp.parseNull("cancelled_at", r.CancelledAt),
		CreatedAt:   tp.parse("created_at", r.CreatedAt),
		UpdatedAt:   tp.parse("updated_at", r.UpdatedAt),
	}
	if tp.err != nil {
		return invoice.Invoice{}, errors.Wrapf(tp.err, "decode invoice %s", r.ID)
	}
	return inv, nil
}

// =============================================================================
// SEQUENCES (invoice.SequenceStore interface)
// =============================================================================

func (s *queries) NextSequence(ctx context.Context, ws invoice.WorkspaceID, p invoice.Period) (int, error) {
	query := s.q.Rebind(`
		INSERT INTO invoice_sequences (workspace_id, year, month, last_sequence, updated_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT (workspace_id, year, month) DO UPDATE
		SET last_sequence = invoice_sequences.last_sequence + 1,
		    updated_at = excluded.updated_at
		RETURNING last_sequence`)

	var seq int
	if err := s.q.QueryRowxContext(ctx, query, ws, p.Year, int(p.Month), nowText()).Scan(&seq); err != nil {
		return 0, errors.Wrap(err, "increment sequence")
	}
	return seq, nil
}

func (s *queries) AdvanceSequence(ctx context.Context, ws invoice.WorkspaceID, p invoice.Period, seq int) (int, error) {
	query := s.q.Rebind(`
		INSERT INTO invoice_sequences (workspace_id, year, month, last_sequence, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (workspace_id, year, month) DO UPDATE
		SET last_sequence = CASE
		        WHEN excluded.last_sequence > invoice_sequences.last_sequence THEN excluded.last_sequence
		        ELSE invoice_sequences.last_sequence
		    END,
		    updated_at = excluded.updated_at
		RETURNING last_sequence`)

	var last int
	if err := s.q.QueryRowxContext(ctx, query, ws, p.Year, int(p.Month), seq, nowText()).Scan(&last); err != nil {
		return 0, errors.Wrap(err, "advance sequence")
	}
	return last, nil
}

func (s *queries) LastSequence(ctx context.Context, ws invoice.WorkspaceID, p invoice.Period) (int, error) {
	var last int
	query := s.q.Rebind(`SELECT last_sequence FROM invoice_sequences WHERE workspace_id = ? AND year = ? AND month = ?`)
	err := sqlx.GetContext(ctx, s.q, &last, query, ws, p.Year, int(p.Month))
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "read sequence")
	}
	return last, nil
}

// =============================================================================
// CUSTOMERS
// =============================================================================

type customerRow struct {
	ID                string        `db:"id"`
	WorkspaceID       string        `db:"workspace_id"`
	Name              string        `db:"name"`
	DefaultHourlyRate sql.NullInt64 `db:"default_hourly_rate"`
	PaymentTermsDays  sql.NullInt64 `db:"payment_terms_days"`
	VATExempt         bool          `db:"vat_exempt"`
}

func (r customerRow) toCustomer() invoice.Customer {
	c := invoice.Customer{
		ID:          invoice.CustomerID(r.ID),
		WorkspaceID: invoice.WorkspaceID(r.WorkspaceID),
		Name:        r.Name,
		VATExempt:   r.VATExempt,
	}
	if r.DefaultHourlyRate.Valid {
		c.DefaultHourlyRate = &r.DefaultHourlyRate.Int64
	}
	if r.PaymentTermsDays.Valid {
		days := int(r.PaymentTermsDays.Int64)
		c.PaymentTermsDays = &days
	}
	return c
}

// PutCustomer inserts or replaces a customer.
func (s *Store) PutCustomer(ctx context.Context, c invoice.Customer) error {
	query := s.db.Rebind(`
		INSERT INTO customers (id, workspace_id, name, default_hourly_rate, payment_terms_days, vat_exempt)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			workspace_id = excluded.workspace_id,
			name = excluded.name,
			default_hourly_rate = excluded.default_hourly_rate,
			payment_terms_days = excluded.payment_terms_days,
			vat_exempt = excluded.vat_exempt`)

	var terms *int64
	if c.PaymentTermsDays != nil {
		terms = lo.ToPtr(int64(*c.PaymentTermsDays))
	}
	_, err := s.db.ExecContext(ctx, query, c.ID, c.WorkspaceID, c.Name, c.DefaultHourlyRate, terms, c.VATExempt)
	return errors.Wrap(err, "save customer")
}

func (s *Store) ListCustomers(ctx context.Context, ws invoice.WorkspaceID) ([]invoice.Customer, error) {
	var rows []customerRow
	query := s.db.Rebind(`SELECT id, workspace_id, name, default_hourly_rate, payment_terms_days, vat_exempt
		FROM customers WHERE workspace_id = ? ORDER BY id`)
	if err := s.db.SelectContext(ctx, &rows, query, ws); err != nil {
		return nil, errors.Wrap(err, "list customers")
	}
	return lo.Map(rows, func(r customerRow, _ int) invoice.Customer { return r.toCustomer() }), nil
}

// Customers returns s as an invoice.CustomerDirectory.
func (s *Store) Customers() invoice.CustomerDirectory { return customerDirectory{s} }

type customerDirectory struct{ s *Store }

func (d customerDirectory) Get(ctx context.Context, id invoice.CustomerID) (*invoice.Customer, error) {
	var row customerRow
	query := d.s.db.Rebind(`SELECT id, workspace_id, name, default_hourly_rate, payment_terms_days, vat_exempt
		FROM customers WHERE id = ?`)
	if err := d.s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(invoice.ErrCustomerNotFound, "%s", id)
		}
		return nil, errors.Wrap(err, "get customer")
	}
	c := row.toCustomer()
	return &c, nil
}

// =============================================================================
// LESSONS (invoice.LessonBillingSource interface)
// =============================================================================

type lessonRow struct {
	ID         string        `db:"id"`
	CustomerID string        `db:"customer_id"`
	Title      string        `db:"title"`
	StartsAt   string        `db:"starts_at"`
	EndsAt     string        `db:"ends_at"`
	Rate       sql.NullInt64 `db:"rate"`
	Invoiced   bool          `db:"invoiced"`
}

func (r lessonRow) toLesson() (invoice.BillableLesson, error) {
	var tp timeParser
	l := invoice.BillableLesson{
		ID:         invoice.LessonID(r.ID),
		CustomerID: invoice.CustomerID(r.CustomerID),
		Title:      r.Title,
		Start:      tp.parse("starts_at", r.StartsAt),
		End:        tp.parse("ends_at", r.EndsAt),
		Invoiced:   r.Invoiced,
	}
	if tp.err != nil {
		return invoice.BillableLesson{}, errors.Wrapf(tp.err, "decode lesson %s", r.ID)
	}
	if r.Rate.Valid {
		l.Rate = &r.Rate.Int64
	}
	return l, nil
}

const lessonColumns = `id, customer_id, title, starts_at, ends_at, rate, invoiced`

// PutLesson inserts or replaces a lesson. A lesson that was billed stays
// billed.
func (s *Store) PutLesson(ctx context.Context, ws invoice.WorkspaceID, l invoice.BillableLesson) error {
	query := s.db.Rebind(`
		INSERT INTO lessons (id, workspace_id, customer_id, title, starts_at, ends_at, rate, invoiced)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			workspace_id = excluded.workspace_id,
			customer_id = excluded.customer_id,
			title = excluded.title,
			starts_at = excluded.starts_at,
			ends_at = excluded.ends_at,
			rate = excluded.rate,
			invoiced = lessons.invoiced OR excluded.invoiced`)
	_, err := s.db.ExecContext(ctx, query,
		l.ID, ws, l.CustomerID, l.Title, formatTime(l.Start), formatTime(l.End), l.Rate, l.Invoiced)
	return errors.Wrap(err, "save lesson")
}

func (s *Store) ListLessons(ctx context.Context, ws invoice.WorkspaceID) ([]invoice.BillableLesson, error) {
	query := s.db.Rebind(`SELECT ` + lessonColumns + ` FROM lessons WHERE workspace_id = ? ORDER BY starts_at, id`)
	return s.queryLessons(ctx, query, ws)
}

func (s *Store) ListUnbilled(ctx context.Context, ws invoice.WorkspaceID, from, to time.Time) ([]invoice.BillableLesson, error) {
	query := s.db.Rebind(`SELECT ` + lessonColumns + ` FROM lessons
		WHERE workspace_id = ? AND invoiced = ? AND starts_at >= ? AND starts_at < ?
		ORDER BY starts_at, id`)
	return s.queryLessons(ctx, query, ws, false, formatTime(from), formatTime(to))
}

func (s *Store) queryLessons(ctx context.Context, query string, args ...any) ([]invoice.BillableLesson, error) {
	var rows []lessonRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "list lessons")
	}
	result := make([]invoice.BillableLesson, 0, len(rows))
	for _, r := range rows {
		l, err := r.toLesson()
		if err != nil {
			return nil, err
		}
		result = append(result, l)
	}
	return result, nil
}

// MarkInvoiced flags all lessons or none. Only unbilled lessons are flipped,
// so of two runs racing for the same lessons exactly one wins.
func (s *Store) MarkInvoiced(ctx context.Context, ids []invoice.LessonID) error {
	ids = lo.Uniq(ids)
	if len(ids) == 0 {
		return nil
	}
	raw := lo.Map(ids, func(id invoice.LessonID, _ int) string { return string(id) })
	query, args, err := sqlx.In(`UPDATE lessons SET invoiced = ? WHERE invoiced = ? AND id IN (?)`, true, false, raw)
	if err != nil {
		return errors.Wrap(err, "build lesson update")
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, tx.Rebind(query), args...)
	if err != nil {
		return errors.Wrap(err, "mark lessons invoiced")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if int(n) != len(ids) {
		return s.markConflict(ctx, tx, raw)
	}
	return errors.Wrap(tx.Commit(), "commit lesson update")
}

// markConflict explains a short MarkInvoiced update: unknown ids win over
// lessons another run already billed.
func (s *Store) markConflict(ctx context.Context, tx *sqlx.Tx, ids []string) error {
	query, args, err := sqlx.In(`SELECT id FROM lessons WHERE id IN (?)`, ids)
	if err != nil {
		return errors.Wrap(err, "build lesson lookup")
	}
	var found []string
	if err := tx.SelectContext(ctx, &found, tx.Rebind(query), args...); err != nil {
		return errors.Wrap(err, "look up lessons")
	}
	if missing, _ := lo.Difference(ids, found); len(missing) > 0 {
		return errors.Wrapf(invoice.ErrLessonNotFound, "%s", strings.Join(missing, ", "))
	}
	return errors.Wrapf(invoice.ErrLessonAlreadyInvoiced, "%s", strings.Join(ids, ", "))
}


// =============================================================================
// UTILITIES
// =============================================================================

// ListWorkspaces returns every workspace that owns a customer or a lesson.
func (s *Store) ListWorkspaces(ctx context.Context) ([]invoice.WorkspaceID, error) {
	var ws []invoice.WorkspaceID
	err := s.db.SelectContext(ctx, &ws,
		`SELECT workspace_id FROM customers UNION SELECT workspace_id FROM lessons ORDER BY 1`)
	return ws, errors.Wrap(err, "list workspaces")
}

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	for _, table := range []string{"invoices", "invoice_sequences", "lessons", "customers"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return errors.Wrapf(err, "clear %s", table)
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

// itemRecord is the JSON shape of a line item in the items column.
type itemRecord struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   int64           `json:"unit_price"`
	TaxRate     decimal.Decimal `json:"tax_rate"`
	ServiceDate *time.Time      `json:"service_date,omitempty"`
	StartsAt    *time.Time      `json:"starts_at,omitempty"`
	EndsAt      *time.Time      `json:"ends_at,omitempty"`
	LessonID    string          `json:"lesson_id,omitempty"`
}

func encodeItems(items []invoice.LineItem) (string, error) {
	records := lo.Map(items, func(li invoice.LineItem, _ int) itemRecord {
		return itemRecord{
			Description: li.Description,
			Quantity:    li.Quantity,
			UnitPrice:   li.UnitPrice,
			TaxRate:     li.TaxRate,
			ServiceDate: li.ServiceDate,
			StartsAt:    li.StartsAt,
			EndsAt:      li.EndsAt,
			LessonID:    string(li.LessonID),
		}
	})
	b, err := json.Marshal(records)
	if err != nil {
		return "", errors.Wrap(err, "encode items")
	}
	return string(b), nil
}

func decodeItems(s string) ([]invoice.LineItem, error) {
	var records []itemRecord
	if err := json.Unmarshal([]byte(s), &records); err != nil {
		return nil, err
	}
	return lo.Map(records, func(r itemRecord, _ int) invoice.LineItem {
		return invoice.LineItem{
			Description: r.Description,
			Quantity:    r.Quantity,
			UnitPrice:   r.UnitPrice,
			TaxRate:     r.TaxRate,
			ServiceDate: r.ServiceDate,
			StartsAt:    r.StartsAt,
			EndsAt:      r.EndsAt,
			LessonID:    invoice.LessonID(r.LessonID),
		}
	}), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// timeParser keeps the first parse failure so a row decodes in one pass.
type timeParser struct {
	err error
}

func (p *timeParser) parse(column, s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil && p.err == nil {
		p.err = errors.Wrapf(err, "column %s", column)
	}
	return t
}

func (p *timeParser) parseNull(column string, s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := p.parse(column, s.String)
	return &t
}

func nowText() string {
	return formatTime(time.Now())
}
