/*
allocator.go - Invoice number allocation

PURPOSE:
  Hands out YY/MM/NNNN numbers that are never issued twice for the same
  workspace and period, and folds manually entered legacy numbers into the
  sequence so automatic numbering continues after them.

RECONCILIATION:
  Counter at 3, manual "25/09/5060" -> counter becomes 5060, next auto 5061.
  Counter at 5061, manual "25/09/0042" -> accepted as is, counter stays.
  The lower number may still collide with an existing invoice; the
  repository's unique index reports that as ErrDuplicateInvoiceNumber.

ATOMICITY:
  The allocator holds no state. Every increment is a single atomic
  operation on the SequenceStore, serialized per (workspace, year, month)
  key. Different months never contend.

GAPS:
  Numbers are not returned to the pool. A cancelled invoice keeps its
  number. When the store supports transactions the Service binds the
  allocator to the insert transaction with In(), so a failed insert rolls
  the counter back too.

SEE ALSO:
  - number.go: parsing and formatting
  - service.go: transactional create
*/
package invoice

import (
	"context"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

type Allocator struct {
	seqs   SequenceStore
	logger *zap.Logger
}

func NewAllocator(seqs SequenceStore, logger *zap.Logger) *Allocator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Allocator{seqs: seqs, logger: logger}
}

// In returns an allocator bound to seqs, typically a transaction-scoped store.
func (a *Allocator) In(seqs SequenceStore) *Allocator {
	return &Allocator{seqs: seqs, logger: a.logger}
}

// Allocate returns the number for a new invoice in period p. A non-empty
// manual number is validated, reconciled with the counter and returned
// verbatim.
func (a *Allocator) Allocate(ctx context.Context, ws WorkspaceID, p Period, manual string) (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}
	if manual != "" {
		return a.reconcile(ctx, ws, p, manual)
	}

	seq, err := a.seqs.NextSequence(ctx, ws, p)
	if err != nil {
		return "", errors.Wrapf(err, "next sequence for %s %s", ws, p)
	}
	number, err := FormatNumber(p, seq)
	if err != nil {
		return "", err
	}
	a.logger.Debug("allocated invoice number",
		zap.String("workspace_id", string(ws)),
		zap.Stringer("period", p),
		zap.String("number", number))
	return number, nil
}

func (a *Allocator) reconcile(ctx context.Context, ws WorkspaceID, p Period, manual string) (string, error) {
	n, err := ParseNumber(manual)
	if err != nil {
		return "", err
	}
	if !n.InPeriod(p) {
		return "", errors.WithHintf(
			errors.Wrapf(ErrPeriodMismatch, "number %s, invoice period %s", manual, p),
			"the YY/MM part must be %02d/%02d", p.Year%100, int(p.Month))
	}

	last, err := a.seqs.AdvanceSequence(ctx, ws, p, n.Sequence)
	if err != nil {
		return "", errors.Wrapf(err, "advance sequence for %s %s", ws, p)
	}
	if last > n.Sequence {
		a.logger.Info("manual invoice number below current sequence",
			zap.String("workspace_id", string(ws)),
			zap.Stringer("period", p),
			zap.String("number", manual),
			zap.Int("last_sequence", last))
	}
	return manual, nil
}

// Peek returns the number the next automatic allocation would produce. It
// does not reserve it.
func (a *Allocator) Peek(ctx context.Context, ws WorkspaceID, p Period) (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}
	last, err := a.seqs.LastSequence(ctx, ws, p)
	if err != nil {
		return "", errors.Wrapf(err, "last sequence for %s %s", ws, p)
	}
	return FormatNumber(p, last+1)
}
