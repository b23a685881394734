package reconcile_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmdatafocus/stockaudit_backend/reconcile"
)

func TestValuation_FIFOAfterSales(t *testing.T) {
	engine, st := newTestEngine(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	purchases := []struct {
		qty, cost, balance int64
	}{
		{10, 100, 10},
		{10, 110, 20},
		{10, 120, 30},
	}
	for i, p := range purchases {
		st.SeedEntry(reconcile.StockLedgerEntry{
			BusinessId:   testBusinessId,
			VariationId:  1,
			LocationId:   1,
			MovementType: reconcile.MovementTypePurchase,
			QtyDelta:     decimal.NewFromInt(p.qty),
			UnitCost:     decimal.NewFromInt(p.cost),
			BalanceAfter: decimal.NewFromInt(p.balance),
			EntryDate:    base.AddDate(0, 0, i),
		})
	}
	st.SeedEntry(reconcile.StockLedgerEntry{
		BusinessId:   testBusinessId,
		VariationId:  1,
		LocationId:   1,
		MovementType: reconcile.MovementTypeSale,
		QtyDelta:     decimal.NewFromInt(-15),
		UnitCost:     decimal.NewFromInt(100),
		BalanceAfter: decimal.NewFromInt(15),
		EntryDate:    base.AddDate(0, 0, 5),
	})

	valuation, err := engine.Valuation(context.Background(), testBusinessId, 1, 1)
	if err != nil {
		t.Fatalf("Valuation: %v", err)
	}

	if len(valuation.Layers) != 2 {
		t.Fatalf("expected 2 surviving layers, got %d", len(valuation.Layers))
	}
	if valuation.Layers[0].Qty.String() != "5" || valuation.Layers[0].UnitCost.String() != "110" {
		t.Fatalf("first layer expected 5 @ 110, got %s @ %s",
			valuation.Layers[0].Qty, valuation.Layers[0].UnitCost)
	}
	if valuation.TotalQuantity.String() != "15" {
		t.Fatalf("total quantity expected 15, got %s", valuation.TotalQuantity)
	}
	if valuation.TotalCost.String() != "1750" {
		t.Fatalf("total cost expected 1750, got %s", valuation.TotalCost)
	}
	if valuation.AverageCost.Round(2).String() != "116.67" {
		t.Fatalf("average cost expected 116.67, got %s", valuation.AverageCost.Round(2))
	}
	if valuation.WeightedAverageCost.Round(2).String() != "116.67" {
		t.Fatalf("weighted average expected 116.67, got %s", valuation.WeightedAverageCost.Round(2))
	}
}

func TestValuation_NoHistory(t *testing.T) {
	engine, _ := newTestEngine(t)

	valuation, err := engine.Valuation(context.Background(), testBusinessId, 1, 1)
	if err != nil {
		t.Fatalf("Valuation: %v", err)
	}
	if len(valuation.Layers) != 0 || !valuation.TotalCost.IsZero() {
		t.Fatalf("expected empty valuation, got %+v", valuation)
	}
}
