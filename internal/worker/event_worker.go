package worker

import (
	"context"
	"fmt"
	"time"

	"taxos/internal/amqp"
	"taxos/internal/core"
	"taxos/internal/log"
	"taxos/internal/repository"
	"taxos/internal/sheets"
)

// ReceiptIndex is the part of the receipt service the worker drives
type ReceiptIndex interface {
	Rebuild(ctx context.Context, tenant core.TenantID) (*repository.Repository, error)
	Dashboard(ctx context.Context, tenant core.TenantID, months []core.MonthKey) (core.Dashboard, error)
	Invalidate(tenant core.TenantID)
}

// EventWorker reacts to receipt and bucket events coming off the queue
type EventWorker struct {
	index  ReceiptIndex
	writer sheets.DashboardWriter
	logger *log.Logger
}

// NewEventWorker creates a worker. A nil writer disables dashboard export.
func NewEventWorker(index ReceiptIndex, writer sheets.DashboardWriter, logger *log.Logger) *EventWorker {
	if logger == nil {
		logger = log.Discard()
	}
	return &EventWorker{
		index:  index,
		writer: writer,
		logger: logger.WithComponent(log.ComponentWorker),
	}
}

// HandleEvent processes a single event. A returned error requeues the message.
func (w *EventWorker) HandleEvent(ctx context.Context, ev *amqp.Event) error {
	tenant, err := ev.Tenant()
	if err != nil {
		return fmt.Errorf("event tenant: %w", err)
	}

	w.logger.InfoContext(ctx, "Processing event",
		log.FieldEventType, string(ev.Type),
		log.FieldTenantID, ev.TenantID,
		log.FieldMonths, len(ev.Months))

	switch ev.Type {
	case amqp.EventBucketDeleted:
		return w.rebuild(ctx, tenant, ev.BucketID)
	case amqp.EventReceiptCreated, amqp.EventReceiptUpdated, amqp.EventReceiptDeleted, amqp.EventIndexRebuilt:
		return w.exportMonths(ctx, tenant, ev.Months)
	default:
		w.logger.WarnContext(ctx, "Ignoring unsupported event", log.FieldEventType, string(ev.Type))
		return nil
	}
}

// rebuild recreates the index so receipts pointing at the deleted bucket
// are re-read with the allocation zeroed.
func (w *EventWorker) rebuild(ctx context.Context, tenant core.TenantID, bucket string) error {
	start := time.Now()
	repo, err := w.index.Rebuild(ctx, tenant)
	if err != nil {
		return fmt.Errorf("rebuild after bucket delete: %w", err)
	}

	w.logger.InfoContext(ctx, "Rebuilt index after bucket deletion",
		log.FieldTenantID, tenant.String(),
		log.FieldBucketID, bucket,
		log.FieldReceipts, repo.Len(),
		log.FieldDuration, time.Since(start).Milliseconds())
	return nil
}

func (w *EventWorker) exportMonths(ctx context.Context, tenant core.TenantID, months []core.MonthKey) error {
	if w.writer == nil {
		w.logger.DebugContext(ctx, "No dashboard writer configured, skipping export",
			log.FieldTenantID, tenant.String())
		return nil
	}
	if len(months) == 0 {
		return nil
	}

	// Another process wrote the documents; never export from a stale cache.
	w.index.Invalidate(tenant)

	for _, month := range months {
		d, err := w.index.Dashboard(ctx, tenant, []core.MonthKey{month})
		if err != nil {
			return fmt.Errorf("dashboard %s: %w", month, err)
		}
		ref, err := w.writer.WriteDashboard(ctx, tenant, d)
		if err != nil {
			return fmt.Errorf("export dashboard %s: %w", month, err)
		}
		w.logger.InfoContext(ctx, "Exported dashboard",
			log.FieldTenantID, tenant.String(),
			log.FieldMonth, month.String(),
			log.FieldSheetsRef, ref)
	}
	return nil
}
