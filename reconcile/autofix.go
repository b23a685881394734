package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// AutoFix re-detects, keeps only auto-fixable non-zero variances (optionally
// intersected with targetVariationIds) and appends one correction entry per
// surviving pair. The materialized balance is treated as ground truth: the
// correction carries QtyDelta = variance and BalanceAfter = systemBalance.
//
// Each item is written in its own atomic transaction by the repository, which
// re-checks the materialized balance under a row lock and refuses with
// ErrBalanceMoved when it drifted since detection. One item failing never
// aborts the others.
//
// Callers that can race across instances must hold the per-business lock
// (utils.BusinessLock) around this call.
func (e *Engine) AutoFix(ctx context.Context, businessId string, actor string, locationId *int, targetVariationIds []int) (*AutoFixResult, error) {
	if businessId == "" {
		return nil, ErrBusinessIdRequired
	}
	if e.AutoFixDisabled {
		return nil, ErrAutoFixDisabled
	}
	if actor == "" {
		actor = "system"
	}
	ctx, span := tracer.Start(ctx, "reconcile.autofix")
	defer span.End()

	batchId := uuid.NewString()

	records, _, err := e.detect(ctx, businessId, locationId)
	if err != nil {
		return nil, err
	}

	var targets map[int]bool
	if len(targetVariationIds) > 0 {
		targets = make(map[int]bool, len(targetVariationIds))
		for _, id := range targetVariationIds {
			targets[id] = true
		}
	}

	result := &AutoFixResult{
		BusinessId:    businessId,
		CorrelationId: batchId,
		Errors:        []string{},
		Details:       []AutoFixItem{},
	}

	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !record.AutoFixable || record.Variance.IsZero() {
			continue
		}
		if targets != nil && !targets[record.VariationId] {
			continue
		}

		item := AutoFixItem{
			VariationId:   record.VariationId,
			LocationId:    record.LocationId,
			Variance:      record.Variance,
			LedgerBalance: record.LedgerBalance,
			SystemBalance: record.SystemBalance,
		}

		entry, err := e.Ledger.AppendCorrection(ctx, CorrectionRequest{
			BusinessId:            businessId,
			ProductId:             record.ProductId,
			VariationId:           record.VariationId,
			LocationId:            record.LocationId,
			QtyDelta:              record.Variance,
			UnitCost:              record.UnitCost,
			LedgerBalance:         record.LedgerBalance,
			ExpectedSystemBalance: record.SystemBalance,
			BatchId:               batchId,
			Actor:                 actor,
			Note: fmt.Sprintf("auto-fix correction: ledger %s -> system %s",
				record.LedgerBalance.String(), record.SystemBalance.String()),
		})
		if err != nil {
			item.Error = err.Error()
			result.Errors = append(result.Errors,
				fmt.Sprintf("variation_id=%d location_id=%d: %v", record.VariationId, record.LocationId, err))
			result.Details = append(result.Details, item)
			continue
		}

		item.Success = true
		item.EntryId = entry.ID
		result.Fixed++
		result.Details = append(result.Details, item)
	}

	e.writeRunAudit(ctx, businessId, actor, batchId, result)

	e.Logger.WithFields(logrus.Fields{
		"field":          "AutoFix",
		"business_id":    businessId,
		"correlation_id": batchId,
		"fixed":          result.Fixed,
		"errors":         len(result.Errors),
	}).Info("auto-fix run completed")

	return result, nil
}

// writeRunAudit records the run-level summary. Per-item audit rows are written
// by the repository inside each correction transaction; this one row ties the
// batch together. Best effort: a failed summary write is logged, not fatal.
func (e *Engine) writeRunAudit(ctx context.Context, businessId, actor, batchId string, result *AutoFixResult) {
	if e.Audit == nil {
		return
	}
	after, _ := json.Marshal(result)
	err := e.Audit.Write(ctx, &AuditEntry{
		BusinessId:    businessId,
		Action:        "reconciliation.autofix",
		EntityType:    "AutoFixRun",
		Description:   fmt.Sprintf("auto-fix run: %d fixed, %d failed", result.Fixed, len(result.Errors)),
		After:         string(after),
		Actor:         actor,
		CorrelationId: batchId,
		CreatedAt:     time.Now().UTC(),
	})
	if err != nil {
		e.Logger.WithFields(logrus.Fields{
			"field":          "AutoFix",
			"business_id":    businessId,
			"correlation_id": batchId,
		}).Warn("failed to write auto-fix run audit: " + err.Error())
	}
}

// CorrectionHistory lists correction entries for a variation, newest-first.
func (e *Engine) CorrectionHistory(ctx context.Context, businessId string, variationId int, locationId *int, limit int) ([]StockLedgerEntry, error) {
	if businessId == "" {
		return nil, ErrBusinessIdRequired
	}
	if limit <= 0 {
		limit = 50
	}
	return e.Ledger.ListCorrections(ctx, businessId, variationId, locationId, limit)
}
