package invoice

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// issuer validates, numbers and persists new drafts. Generator and Service
// both create invoices through it.
type issuer struct {
	store      Store
	allocator  *Allocator
	dispatcher Dispatcher
	now        func() time.Time
	logger     *zap.Logger
}

// issue stores inv as a draft numbered in period p and returns it as stored.
// When the store is transactional the counter increment and the insert
// commit together.
func (is *issuer) issue(ctx context.Context, inv Invoice, p Period, manual string) (Invoice, error) {
	if err := inv.validateFields(); err != nil {
		return Invoice{}, err
	}

	now := is.now().UTC()
	inv.ID = NewInvoiceID()
	inv.Status = StatusDraft
	inv.SentAt, inv.PaidAt, inv.CancelledAt = nil, nil, nil
	inv.CreatedAt, inv.UpdatedAt = now, now
	inv.Recalculate()

	create := func(s Store) error {
		number, err := is.allocator.In(s).Allocate(ctx, inv.WorkspaceID, p, manual)
		if err != nil {
			return err
		}
		inv.Number = number
		if _, err := s.Create(ctx, inv); err != nil {
			return errors.Wrapf(err, "create invoice %s", number)
		}
		return nil
	}

	var err error
	if txs, ok := is.store.(TxStore); ok {
		err = txs.WithTx(ctx, create)
	} else {
		err = create(is.store)
	}
	if err != nil {
		return Invoice{}, err
	}

	is.logger.Info("invoice created",
		zap.String("workspace_id", string(inv.WorkspaceID)),
		zap.String("invoice_id", string(inv.ID)),
		zap.String("number", inv.Number),
		zap.Int64("total", inv.Total))
	is.publish(ctx, eventFor(EventCreated, inv, now))
	return inv, nil
}

func (is *issuer) publish(ctx context.Context, e Event) {
	if is.dispatcher == nil {
		return
	}
	if err := is.dispatcher.Publish(ctx, e); err != nil {
		is.logger.Warn("event dispatch failed",
			zap.String("event_type", string(e.Type)),
			zap.String("invoice_id", string(e.InvoiceID)),
			zap.Error(err))
	}
}
