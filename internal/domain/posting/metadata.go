package posting

import (
	"context"
	"time"

	"ledgerbridge/internal/core/apperror"
	"ledgerbridge/internal/domain/invoice"
	"ledgerbridge/pkg/logger"
	"ledgerbridge/pkg/notify"
)

type metadataUpdate struct {
	field MetadataField
	value any
}

func (e *Engine) metadataUpdates(inv *invoice.Invoice) []metadataUpdate {
	updates := []metadataUpdate{
		{FieldAccountingDate, accountingDate(inv.IssuedAt)},
	}
	if e.cfg.CostCenter != "" {
		updates = append(updates, metadataUpdate{FieldCostCenter, e.cfg.CostCenter})
	}
	updates = append(updates,
		metadataUpdate{FieldPostedAt, e.now().UTC()},
		metadataUpdate{FieldObservation, "POS " + inv.Identity.Key()},
	)
	return updates
}

// applyMetadata writes the post-commit header fields one by one, reads back which
// stayed null, retries those once and returns whatever is still missing.
// Failures here never undo the committed posting.
func (e *Engine) applyMetadata(ctx context.Context, log *logger.Logger, inv *invoice.Invoice, headerID int64) []MetadataField {
	updates := e.metadataUpdates(inv)
	fields := make([]MetadataField, len(updates))
	for i, u := range updates {
		fields[i] = u.field
	}

	e.writeMetadata(ctx, log, headerID, updates)

	missing, err := e.ledger.NullMetadata(ctx, headerID, fields)
	if err != nil {
		log.Warnw("metadata read-back failed", "error", err)
		return nil
	}
	if len(missing) == 0 {
		return nil
	}

	retry := make([]metadataUpdate, 0, len(missing))
	for _, u := range updates {
		for _, f := range missing {
			if u.field == f {
				retry = append(retry, u)
			}
		}
	}
	e.writeMetadata(ctx, log, headerID, retry)

	missing, err = e.ledger.NullMetadata(ctx, headerID, fields)
	if err != nil {
		log.Warnw("metadata read-back failed", "error", err)
		return nil
	}
	if len(missing) == 0 {
		return nil
	}

	names := make([]string, len(missing))
	for i, f := range missing {
		names[i] = string(f)
	}
	drift := apperror.NewPostCommitMetadataDrift(inv.Identity.Key(), names)
	log.Errorw("post-commit metadata drift", "code", drift.Code, "fields", names, "ledger_id", headerID)
	notify.Notifyf(e.sink, "%s: metadata drift on %v", inv.Identity.Key(), names)
	return missing
}

func (e *Engine) writeMetadata(ctx context.Context, log *logger.Logger, headerID int64, updates []metadataUpdate) {
	for i, u := range updates {
		if i > 0 && e.cfg.MetadataDelay > 0 {
			e.sleep(e.cfg.MetadataDelay)
		}
		if err := e.ledger.UpdateMetadata(ctx, headerID, u.field, u.value); err != nil {
			log.Warnw("metadata update failed", "field", u.field, "error", err)
		}
	}
}

// accountingDate is the calendar day the invoice was issued on, as a UTC midnight.
func accountingDate(issued time.Time) time.Time {
	y, m, d := issued.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
