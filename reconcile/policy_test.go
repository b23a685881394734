package reconcile

import (
	"testing"

	"github.com/shopspring/decimal"
)

func classify(t *testing.T, ledger, system, cost int64) VarianceRecord {
	t.Helper()
	variance := decimal.NewFromInt(system).Sub(decimal.NewFromInt(ledger))
	percentage := decimal.Zero
	if ledger != 0 {
		percentage = variance.Div(decimal.NewFromInt(ledger)).Abs().Mul(decimal.NewFromInt(100))
	}
	record := VarianceRecord{
		LedgerBalance:      decimal.NewFromInt(ledger),
		SystemBalance:      decimal.NewFromInt(system),
		Variance:           variance,
		VariancePercentage: percentage,
		UnitCost:           decimal.NewFromInt(cost),
		VarianceValue:      variance.Mul(decimal.NewFromInt(cost)),
	}
	DefaultThresholds().Classify(&record)
	return record
}

func TestClassify_PercentageTriggersInvestigation(t *testing.T) {
	// 8 units on a ledger of 100 is 8%, over the 5% line.
	record := classify(t, 100, 108, 50)
	if !record.RequiresInvestigation {
		t.Fatal("8% variance must require investigation")
	}
	if record.AutoFixable {
		t.Fatal("8% variance must not be auto-fixable")
	}
}

func TestClassify_AbsoluteQuantityTriggersInvestigation(t *testing.T) {
	// 12 units on a ledger of 1000 is 1.2%, but over the 10-unit line.
	record := classify(t, 1000, 1012, 1)
	if !record.RequiresInvestigation {
		t.Fatal("12-unit variance must require investigation")
	}
	if record.AutoFixable {
		t.Fatal("12-unit variance must not be auto-fixable")
	}
}

func TestClassify_ValueTriggersInvestigation(t *testing.T) {
	// 3 units at 500 each is 1500 in value, over the 1000 line.
	record := classify(t, 100, 103, 500)
	if !record.RequiresInvestigation {
		t.Fatal("1500-value variance must require investigation")
	}
	if record.AutoFixable {
		t.Fatal("1500-value variance must not be auto-fixable")
	}
}

func TestClassify_SmallVarianceIsAutoFixable(t *testing.T) {
	// 4 units on 200 is 2%, value 80; inside every threshold.
	record := classify(t, 200, 204, 20)
	if record.RequiresInvestigation {
		t.Fatal("small variance must not require investigation")
	}
	if !record.AutoFixable {
		t.Fatal("small variance must be auto-fixable")
	}
}

func TestClassify_BoundaryValuesAreAutoFixable(t *testing.T) {
	// Exactly 5%, exactly 10 units, value 1000: every comparison is inclusive.
	record := classify(t, 200, 210, 100)
	if record.VariancePercentage.String() != "5" {
		t.Fatalf("expected exactly 5%%, got %s", record.VariancePercentage)
	}
	if record.RequiresInvestigation {
		t.Fatal("boundary variance must not require investigation")
	}
	if !record.AutoFixable {
		t.Fatal("boundary variance must be auto-fixable")
	}
}

func TestClassify_ShortageUsesAbsoluteValues(t *testing.T) {
	record := classify(t, 210, 200, 100)
	if record.RequiresInvestigation {
		t.Fatal("negative boundary variance must not require investigation")
	}
	if !record.AutoFixable {
		t.Fatal("negative boundary variance must be auto-fixable")
	}
}

func TestClassify_ZeroLedgerSkipsPercentageTrigger(t *testing.T) {
	// Never-ledgered stock: percentage stays zero, so only the absolute
	// conditions can fire.
	record := classify(t, 0, 5, 10)
	if record.RequiresInvestigation {
		t.Fatal("5 units at value 50 with zero ledger must not require investigation")
	}
	if !record.AutoFixable {
		t.Fatal("expected auto-fixable")
	}

	big := classify(t, 0, 50, 10)
	if !big.RequiresInvestigation {
		t.Fatal("50 units with zero ledger must still trip the absolute quantity line")
	}
}

func TestThresholdsFromEnv_Overrides(t *testing.T) {
	t.Setenv("RECON_INVESTIGATION_PERCENT", "2.5")
	t.Setenv("RECON_INVESTIGATION_ABS_QTY", "not-a-number")

	th := ThresholdsFromEnv()
	if th.InvestigationPercent.String() != "2.5" {
		t.Fatalf("expected percent override 2.5, got %s", th.InvestigationPercent)
	}
	if th.InvestigationAbsoluteQty.String() != "10" {
		t.Fatalf("bad override must fall back to default 10, got %s", th.InvestigationAbsoluteQty)
	}
	if th.InvestigationValue.String() != "1000" {
		t.Fatalf("untouched threshold must stay 1000, got %s", th.InvestigationValue)
	}
}
