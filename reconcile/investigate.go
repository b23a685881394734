package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultLookbackDays is the investigation window when the caller does not
	// pick one.
	DefaultLookbackDays = 90
	// investigationEntryLimit caps how much history one investigation loads.
	investigationEntryLimit = 100
	// unusualGapDays: a silence this long between adjacent movements is worth a note.
	unusualGapDays = 30
	// frequentCorrectionCount: more corrections than this inside the window
	// points at a process problem, not a data problem.
	frequentCorrectionCount = 5
)

// chainMismatchTolerance absorbs decimal rounding when checking the
// running-balance chain.
var chainMismatchTolerance = decimal.NewFromFloat(0.01)

// Investigate deep-dives one (variation, location) pair: recomputes its
// variance, loads recent history and runs every analysis rule independently,
// collecting all findings. When the pair currently has no variance it returns
// a benign "no action required" result; absence of a problem is success.
func (e *Engine) Investigate(ctx context.Context, businessId string, variationId, locationId int, daysBack int) (*InvestigationResult, error) {
	if businessId == "" {
		return nil, ErrBusinessIdRequired
	}
	if daysBack <= 0 {
		daysBack = DefaultLookbackDays
	}

	variance, err := e.detectPair(ctx, businessId, variationId, locationId)
	if err != nil {
		return nil, err
	}
	if variance == nil || variance.Variance.IsZero() {
		return &InvestigationResult{
			NoActionRequired: true,
			Variance:         variance,
			Transactions:     []StockLedgerEntry{},
			Analysis: InvestigationAnalysis{
				Findings:        []InvestigationFinding{},
				PossibleCauses:  []string{"no variance detected"},
				Recommendations: []string{"no action required"},
			},
		}, nil
	}

	since := time.Now().UTC().AddDate(0, 0, -daysBack)
	entries, err := e.Ledger.ListRecentEntries(ctx, businessId, variationId, locationId, &since, investigationEntryLimit)
	if err != nil {
		return nil, err
	}

	analysis := e.analyze(variance, entries)

	e.lockInvestigatedProduct(ctx, businessId, variance, analysis)

	e.Logger.WithFields(logrus.Fields{
		"field":        "Investigation",
		"business_id":  businessId,
		"variation_id": variationId,
		"location_id":  locationId,
		"findings":     len(analysis.Findings),
	}).Info("investigation completed")

	return &InvestigationResult{
		Variance:     variance,
		Transactions: entries,
		Analysis:     analysis,
	}, nil
}

// analyze runs each rule independently; rules never short-circuit each other.
// Entries arrive newest-first.
func (e *Engine) analyze(variance *VarianceRecord, entries []StockLedgerEntry) InvestigationAnalysis {
	analysis := InvestigationAnalysis{
		Findings:        []InvestigationFinding{},
		PossibleCauses:  []string{},
		Recommendations: []string{},
	}

	if len(entries) == 0 && variance.SystemBalance.IsPositive() {
		analysis.MissingTransactions = true
		analysis.Findings = append(analysis.Findings, InvestigationFinding{
			Kind:        "missing_transactions",
			Description: "stock exists but no transactions found",
		})
		analysis.PossibleCauses = append(analysis.PossibleCauses, "stock exists but no transactions found")
	}

	corrections := 0
	for i := 0; i < len(entries); i++ {
		newer := entries[i]

		if newer.MovementType == MovementTypeCorrection {
			corrections++
		}

		if newer.BalanceAfter.IsNegative() {
			occurred := newer.EntryDate
			analysis.Findings = append(analysis.Findings, InvestigationFinding{
				Kind:        "negative_balance",
				Description: fmt.Sprintf("running balance went negative (%s)", newer.BalanceAfter.String()),
				EntryId:     newer.ID,
				OccurredAt:  &occurred,
			})
		}

		if i+1 < len(entries) {
			older := entries[i+1]

			// Running-balance chain: each entry's balance must equal the
			// previous balance plus its own delta.
			expected := older.BalanceAfter.Add(newer.QtyDelta)
			if expected.Sub(newer.BalanceAfter).Abs().GreaterThan(chainMismatchTolerance) {
				occurred := newer.EntryDate
				previous := older.EntryDate
				analysis.Findings = append(analysis.Findings, InvestigationFinding{
					Kind: "balance_chain_mismatch",
					Description: fmt.Sprintf("expected balance %s but ledger shows %s",
						expected.String(), newer.BalanceAfter.String()),
					EntryId:    newer.ID,
					OccurredAt: &occurred,
					PreviousAt: &previous,
				})
			}

			if newer.EntryDate.Sub(older.EntryDate) > unusualGapDays*24*time.Hour {
				occurred := newer.EntryDate
				previous := older.EntryDate
				analysis.Findings = append(analysis.Findings, InvestigationFinding{
					Kind: "unusual_gap",
					Description: fmt.Sprintf("no movements for %d days",
						int(newer.EntryDate.Sub(older.EntryDate).Hours()/24)),
					OccurredAt: &occurred,
					PreviousAt: &previous,
				})
			}
		}
	}

	negativeSeen := false
	for _, f := range analysis.Findings {
		if f.Kind == "negative_balance" {
			negativeSeen = true
			break
		}
	}
	if negativeSeen {
		analysis.PossibleCauses = append(analysis.PossibleCauses, "sales occurred without sufficient stock")
		analysis.Recommendations = append(analysis.Recommendations, "enable stock validation before confirming sales")
	}

	if corrections > frequentCorrectionCount {
		analysis.Findings = append(analysis.Findings, InvestigationFinding{
			Kind:        "frequent_corrections",
			Description: fmt.Sprintf("%d correction entries in the window", corrections),
		})
		analysis.PossibleCauses = append(analysis.PossibleCauses, "frequent manual adjustments")
		analysis.Recommendations = append(analysis.Recommendations, "review the stock handling process for this item")
	}

	if len(analysis.Findings) == 0 {
		analysis.PossibleCauses = append(analysis.PossibleCauses, "no obvious transaction anomalies")
		analysis.Recommendations = append(analysis.Recommendations,
			"perform a physical count", "review beginning inventory")
	}

	switch variance.VarianceType {
	case VarianceTypeShortage:
		analysis.Recommendations = append(analysis.Recommendations, "check for unrecorded sales or wastage")
	case VarianceTypeOverage:
		analysis.Recommendations = append(analysis.Recommendations, "check for unrecorded purchases or returns")
	}

	return analysis
}

// lockInvestigatedProduct flags the product through the injected capability.
// The product subsystem owns the lock lifecycle; we only nominate ids.
func (e *Engine) lockInvestigatedProduct(ctx context.Context, businessId string, variance *VarianceRecord, analysis InvestigationAnalysis) {
	if e.Locker == nil || len(analysis.Findings) == 0 || variance.ProductId == 0 {
		return
	}
	reason := fmt.Sprintf("under reconciliation investigation (%s of %s units)",
		variance.VarianceType, variance.Variance.Abs().String())
	if err := e.Locker.LockProducts(ctx, businessId, []int{variance.ProductId}, reason); err != nil {
		e.Logger.WithFields(logrus.Fields{
			"field":       "Investigation",
			"business_id": businessId,
			"product_id":  variance.ProductId,
		}).Warn("failed to lock product under investigation: " + err.Error())
	}
}
