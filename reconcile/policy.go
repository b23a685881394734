package reconcile

import (
	"os"
	"strings"

	"github.com/shopspring/decimal"
)

// Thresholds are the named knobs deciding whether a variance needs a human or
// can be corrected automatically.
type Thresholds struct {
	// InvestigationPercent: variance percentage above which investigation is required.
	InvestigationPercent decimal.Decimal
	// InvestigationAbsoluteQty: absolute quantity drift above which investigation is required.
	InvestigationAbsoluteQty decimal.Decimal
	// InvestigationValue: absolute monetary drift above which investigation is required.
	InvestigationValue decimal.Decimal
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		InvestigationPercent:     decimal.NewFromInt(5),
		InvestigationAbsoluteQty: decimal.NewFromInt(10),
		InvestigationValue:       decimal.NewFromInt(1000),
	}
}

// ThresholdsFromEnv applies optional overrides on top of the defaults.
//
// Set via env:
// - RECON_INVESTIGATION_PERCENT
// - RECON_INVESTIGATION_ABS_QTY
// - RECON_INVESTIGATION_VALUE
func ThresholdsFromEnv() Thresholds {
	t := DefaultThresholds()
	if v, ok := decimalFromEnv("RECON_INVESTIGATION_PERCENT"); ok {
		t.InvestigationPercent = v
	}
	if v, ok := decimalFromEnv("RECON_INVESTIGATION_ABS_QTY"); ok {
		t.InvestigationAbsoluteQty = v
	}
	if v, ok := decimalFromEnv("RECON_INVESTIGATION_VALUE"); ok {
		t.InvestigationValue = v
	}
	return t
}

func decimalFromEnv(key string) (decimal.Decimal, bool) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return decimal.Zero, false
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false
	}
	return v, true
}

// Classify fills the investigation and auto-fix flags on a computed variance.
//
// RequiresInvestigation fires when ANY threshold is exceeded; AutoFixable
// requires ALL thresholds to hold, boundaries inclusive. The thresholds are
// numerically identical with flipped comparators, so a boundary value is both
// "not requiring investigation" and "auto-fixable" at once. That is intended.
func (t Thresholds) Classify(v *VarianceRecord) {
	absVariance := v.Variance.Abs()
	absValue := v.VarianceValue.Abs()

	v.RequiresInvestigation = v.VariancePercentage.GreaterThan(t.InvestigationPercent) ||
		absVariance.GreaterThan(t.InvestigationAbsoluteQty) ||
		absValue.GreaterThan(t.InvestigationValue)

	v.AutoFixable = v.VariancePercentage.LessThanOrEqual(t.InvestigationPercent) &&
		absVariance.LessThanOrEqual(t.InvestigationAbsoluteQty) &&
		absValue.LessThanOrEqual(t.InvestigationValue)
}
