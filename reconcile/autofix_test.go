package reconcile_test

import (
	"context"
	"errors"
	"testing"

	"github.com/mmdatafocus/stockaudit_backend/reconcile"
)

func TestAutoFix_CorrectsSmallVariance(t *testing.T) {
	engine, st := newTestEngine(t)
	// 4 units drift on a ledger of 200: inside every threshold.
	seedPair(st, 1, 1, 200, 204, 20)

	result, err := engine.AutoFix(context.Background(), testBusinessId, "tester", nil, nil)
	if err != nil {
		t.Fatalf("AutoFix: %v", err)
	}
	if result.Fixed != 1 || len(result.Errors) != 0 {
		t.Fatalf("expected 1 fix and no errors, got %+v", result)
	}

	item := result.Details[0]
	if !item.Success || item.EntryId == 0 {
		t.Fatalf("expected successful item with entry id, got %+v", item)
	}
	if item.Variance.String() != "4" {
		t.Fatalf("item variance expected 4, got %s", item.Variance)
	}

	corrections, err := engine.CorrectionHistory(context.Background(), testBusinessId, 1, nil, 0)
	if err != nil {
		t.Fatalf("CorrectionHistory: %v", err)
	}
	if len(corrections) != 1 {
		t.Fatalf("expected 1 correction entry, got %d", len(corrections))
	}
	c := corrections[0]
	if c.QtyDelta.String() != "4" || c.BalanceAfter.String() != "204" {
		t.Fatalf("correction expected delta 4 balance 204, got %s / %s", c.QtyDelta, c.BalanceAfter)
	}
	if c.MovementType != reconcile.MovementTypeCorrection {
		t.Fatalf("expected correction movement type, got %s", c.MovementType)
	}
	if c.ReferenceId != result.CorrelationId {
		t.Fatalf("correction must carry the batch id, got %q want %q", c.ReferenceId, result.CorrelationId)
	}
	if c.CreatedBy != "tester" {
		t.Fatalf("correction actor expected tester, got %q", c.CreatedBy)
	}

	// The correction is now the latest entry, so a re-run finds nothing.
	report, err := engine.RunReconciliation(context.Background(), testBusinessId, nil)
	if err != nil {
		t.Fatalf("RunReconciliation after fix: %v", err)
	}
	if len(report.Variances) != 0 {
		t.Fatalf("expected clean report after fix, got %d variances", len(report.Variances))
	}
}

func TestAutoFix_SkipsVariancesRequiringInvestigation(t *testing.T) {
	engine, st := newTestEngine(t)
	// 8% drift: requires investigation, must never be corrected silently.
	seedPair(st, 1, 1, 100, 108, 50)

	result, err := engine.AutoFix(context.Background(), testBusinessId, "tester", nil, nil)
	if err != nil {
		t.Fatalf("AutoFix: %v", err)
	}
	if result.Fixed != 0 || len(result.Details) != 0 {
		t.Fatalf("investigation-required variance must be skipped, got %+v", result)
	}
}

func TestAutoFix_FailureIsolation(t *testing.T) {
	engine, st := newTestEngine(t)
	seedPair(st, 1, 1, 200, 204, 20)
	seedPair(st, 2, 1, 300, 297, 10)
	st.FailBalanceFor[reconcile.PairKey{VariationId: 2, LocationId: 1}] = true

	result, err := engine.AutoFix(context.Background(), testBusinessId, "tester", nil, nil)
	if err != nil {
		t.Fatalf("AutoFix: %v", err)
	}
	if result.Fixed != 1 {
		t.Fatalf("expected 1 fix despite the failing pair, got %d", result.Fixed)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("expected 1 error, got %d", len(result.Errors))
	}
	if len(result.Details) != 2 {
		t.Fatalf("expected 2 detail items, got %d", len(result.Details))
	}

	var failed *reconcile.AutoFixItem
	for i := range result.Details {
		if !result.Details[i].Success {
			failed = &result.Details[i]
		}
	}
	if failed == nil || failed.VariationId != 2 {
		t.Fatalf("expected variation 2 to fail, got %+v", result.Details)
	}
	if failed.Error == "" {
		t.Fatal("failed item must carry the error message")
	}
}

func TestAutoFix_DisabledRefusesToRun(t *testing.T) {
	engine, st := newTestEngine(t)
	seedPair(st, 1, 1, 200, 204, 20)
	engine.AutoFixDisabled = true

	_, err := engine.AutoFix(context.Background(), testBusinessId, "tester", nil, nil)
	if !errors.Is(err, reconcile.ErrAutoFixDisabled) {
		t.Fatalf("expected ErrAutoFixDisabled, got %v", err)
	}

	corrections, _ := engine.CorrectionHistory(context.Background(), testBusinessId, 1, nil, 0)
	if len(corrections) != 0 {
		t.Fatal("disabled auto-fix must not write anything")
	}
}

func TestAutoFix_TargetVariationFilter(t *testing.T) {
	engine, st := newTestEngine(t)
	seedPair(st, 1, 1, 200, 204, 20)
	seedPair(st, 2, 1, 300, 297, 10)

	result, err := engine.AutoFix(context.Background(), testBusinessId, "tester", nil, []int{2})
	if err != nil {
		t.Fatalf("AutoFix: %v", err)
	}
	if result.Fixed != 1 {
		t.Fatalf("expected 1 fix, got %d", result.Fixed)
	}
	if result.Details[0].VariationId != 2 {
		t.Fatalf("expected only variation 2 to be fixed, got %+v", result.Details)
	}
}

func TestAutoFix_WritesRunAudit(t *testing.T) {
	engine, st := newTestEngine(t)
	seedPair(st, 1, 1, 200, 204, 20)

	result, err := engine.AutoFix(context.Background(), testBusinessId, "tester", nil, nil)
	if err != nil {
		t.Fatalf("AutoFix: %v", err)
	}

	var perItem, runSummary int
	for _, a := range st.Audits() {
		switch a.Action {
		case "reconciliation.correction":
			perItem++
			if a.CorrelationId != result.CorrelationId {
				t.Fatalf("item audit batch id mismatch: %q", a.CorrelationId)
			}
		case "reconciliation.autofix":
			runSummary++
			if a.Actor != "tester" {
				t.Fatalf("run audit actor expected tester, got %q", a.Actor)
			}
		}
	}
	if perItem != 1 || runSummary != 1 {
		t.Fatalf("expected 1 item audit and 1 run audit, got %d / %d", perItem, runSummary)
	}
}

func TestAutoFix_DefaultsActorToSystem(t *testing.T) {
	engine, st := newTestEngine(t)
	seedPair(st, 1, 1, 200, 204, 20)

	if _, err := engine.AutoFix(context.Background(), testBusinessId, "", nil, nil); err != nil {
		t.Fatalf("AutoFix: %v", err)
	}
	corrections, _ := engine.CorrectionHistory(context.Background(), testBusinessId, 1, nil, 0)
	if len(corrections) != 1 || corrections[0].CreatedBy != "system" {
		t.Fatalf("expected system actor, got %+v", corrections)
	}
}
