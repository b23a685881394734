package reconcile

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/mmdatafocus/stockaudit_backend/appctx"
)

const (
	// recentWindowDays bounds the "recent entry" diagnostic count of a sweep.
	recentWindowDays = 30
	// suspiciousRecentEntries: more movements than this inside the window flags
	// the pair for a closer look.
	suspiciousRecentEntries = 100
)

// RunReconciliation sweeps every materialized stock row in scope, compares it
// against the latest ledger running balance, and returns all pairs where the
// two disagree. Exact matches are dropped from the result; an empty report is
// a perfectly normal outcome.
func (e *Engine) RunReconciliation(ctx context.Context, businessId string, locationId *int) (*ReconciliationReport, error) {
	if businessId == "" {
		return nil, ErrBusinessIdRequired
	}
	ctx, span := tracer.Start(ctx, "reconcile.sweep")
	defer span.End()
	// Reuse the request correlation id when one is already attached, so report
	// and access logs line up; background runs mint their own.
	correlationId, ok := appctx.GetString(ctx, appctx.ContextKeyCorrelationId)
	if !ok || correlationId == "" {
		correlationId = uuid.NewString()
	}

	records, readErrs, err := e.detect(ctx, businessId, locationId)
	if err != nil {
		return nil, err
	}

	report := &ReconciliationReport{
		BusinessId:    businessId,
		LocationId:    locationId,
		CorrelationId: correlationId,
		GeneratedAt:   time.Now().UTC(),
		Variances:     records,
		Summary:       Summarize(records),
		ReadErrors:    readErrs,
	}

	e.Logger.WithFields(logrus.Fields{
		"field":          "Reconciliation",
		"business_id":    businessId,
		"correlation_id": correlationId,
		"variances":      len(records),
		"read_errors":    len(readErrs),
	}).Info("reconciliation sweep completed")

	return report, nil
}

// detect computes variance records for every balance row in scope. Reads are
// served by one batched StatsByPair call; if that call fails the sweep falls
// back to per-pair lookups so a single bad pair cannot sink the run.
func (e *Engine) detect(ctx context.Context, businessId string, locationId *int) ([]VarianceRecord, []SweepError, error) {
	balances, err := e.Stock.ListBalances(ctx, businessId, locationId)
	if err != nil {
		return nil, nil, err
	}

	recentSince := time.Now().UTC().AddDate(0, 0, -recentWindowDays)

	stats, statsErr := e.Ledger.StatsByPair(ctx, businessId, locationId, recentSince)
	batched := statsErr == nil
	if statsErr != nil {
		e.Logger.WithFields(logrus.Fields{
			"field":       "Reconciliation",
			"business_id": businessId,
		}).Warn("batched ledger stats unavailable, falling back to per-pair reads: " + statsErr.Error())
	}

	var (
		records  []VarianceRecord
		readErrs []SweepError
	)
	for _, balance := range balances {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		var ls LedgerStats
		if batched {
			ls = stats[PairKey{VariationId: balance.VariationId, LocationId: balance.LocationId}]
		} else {
			pairStats, perr := e.pairStats(ctx, businessId, balance.VariationId, balance.LocationId, recentSince)
			if perr != nil {
				readErrs = append(readErrs, SweepError{
					VariationId: balance.VariationId,
					LocationId:  balance.LocationId,
					Err:         perr.Error(),
				})
				continue
			}
			ls = pairStats
		}

		record := e.buildVariance(balance, ls)
		if record.Variance.IsZero() {
			// "match" is a valid classification but never part of the output.
			continue
		}
		records = append(records, record)
	}
	return records, readErrs, nil
}

func (e *Engine) pairStats(ctx context.Context, businessId string, variationId, locationId int, recentSince time.Time) (LedgerStats, error) {
	latest, err := e.Ledger.LatestEntry(ctx, businessId, variationId, locationId)
	if err != nil {
		return LedgerStats{}, err
	}
	total, err := e.Ledger.CountEntries(ctx, businessId, variationId, locationId, nil)
	if err != nil {
		return LedgerStats{}, err
	}
	recent, err := e.Ledger.CountEntries(ctx, businessId, variationId, locationId, &recentSince)
	if err != nil {
		return LedgerStats{}, err
	}
	return LedgerStats{Latest: latest, TotalEntries: total, RecentEntries: recent}, nil
}

func (e *Engine) buildVariance(balance StockBalance, ls LedgerStats) VarianceRecord {
	ledgerBalance := decimal.Zero
	unitCost := decimal.Zero
	var lastDate *time.Time
	var lastType MovementType
	if ls.Latest != nil {
		ledgerBalance = ls.Latest.BalanceAfter
		unitCost = ls.Latest.UnitCost
		d := ls.Latest.EntryDate
		lastDate = &d
		lastType = ls.Latest.MovementType
	}

	variance := balance.Quantity.Sub(ledgerBalance)

	// When ledgerBalance is zero the percentage stays zero, which silently
	// disables the percentage trigger for never-ledgered stock. The absolute
	// quantity and value conditions still apply. Known gap, kept as-is.
	percentage := decimal.Zero
	if !ledgerBalance.IsZero() {
		percentage = variance.Div(ledgerBalance).Abs().Mul(decimal.NewFromInt(100))
	}

	varianceType := VarianceTypeMatch
	switch {
	case variance.IsPositive():
		varianceType = VarianceTypeOverage
	case variance.IsNegative():
		varianceType = VarianceTypeShortage
	}

	record := VarianceRecord{
		ProductId:          balance.ProductId,
		ProductName:        balance.ProductName,
		Sku:                balance.Sku,
		VariationId:        balance.VariationId,
		VariationName:      balance.VariationName,
		LocationId:         balance.LocationId,
		LocationName:       balance.LocationName,
		LedgerBalance:      ledgerBalance,
		SystemBalance:      balance.Quantity,
		Variance:           variance,
		VariancePercentage: percentage,
		UnitCost:           unitCost,
		VarianceValue:      variance.Mul(unitCost),
		VarianceType:       varianceType,
		LastEntryDate:      lastDate,
		LastEntryType:      lastType,
		TotalEntries:       ls.TotalEntries,
		RecentEntries:      ls.RecentEntries,
	}

	record.SuspiciousActivity = (ls.TotalEntries == 0 && balance.Quantity.IsPositive()) ||
		ls.RecentEntries > suspiciousRecentEntries ||
		ledgerBalance.IsNegative()

	e.Thresholds.Classify(&record)
	return record
}

// detectPair recomputes the variance for a single pair. Returns nil when the
// pair has neither a materialized row nor any ledger entries.
func (e *Engine) detectPair(ctx context.Context, businessId string, variationId, locationId int) (*VarianceRecord, error) {
	balance, err := e.Stock.GetBalance(ctx, businessId, variationId, locationId)
	if err != nil {
		return nil, err
	}

	recentSince := time.Now().UTC().AddDate(0, 0, -recentWindowDays)
	ls, err := e.pairStats(ctx, businessId, variationId, locationId, recentSince)
	if err != nil {
		return nil, err
	}

	if balance == nil {
		if ls.Latest == nil && ls.TotalEntries == 0 {
			return nil, nil
		}
		balance = &StockBalance{
			BusinessId:  businessId,
			VariationId: variationId,
			LocationId:  locationId,
			Quantity:    decimal.Zero,
		}
	}

	record := e.buildVariance(*balance, ls)
	return &record, nil
}
