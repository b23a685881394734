package reconcile

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func layer(day int, qty, cost int64) CostLayer {
	return CostLayer{
		Date:     time.Date(2026, 1, day, 0, 0, 0, 0, time.UTC),
		Qty:      decimal.NewFromInt(qty),
		UnitCost: decimal.NewFromInt(cost),
	}
}

func TestFIFOConsume_PartialSecondLayer(t *testing.T) {
	layers := []CostLayer{
		layer(1, 10, 100),
		layer(2, 10, 110),
		layer(3, 10, 120),
	}

	result, err := FIFOConsume(layers, decimal.NewFromInt(15))
	if err != nil {
		t.Fatalf("FIFOConsume: %v", err)
	}

	if len(result.Layers) != 2 {
		t.Fatalf("expected 2 remaining layers, got %d", len(result.Layers))
	}
	if result.Layers[0].Qty.String() != "5" || result.Layers[0].UnitCost.String() != "110" {
		t.Fatalf("first remaining layer expected 5 @ 110, got %s @ %s",
			result.Layers[0].Qty, result.Layers[0].UnitCost)
	}
	if result.Layers[1].Qty.String() != "10" || result.Layers[1].UnitCost.String() != "120" {
		t.Fatalf("second remaining layer expected 10 @ 120, got %s @ %s",
			result.Layers[1].Qty, result.Layers[1].UnitCost)
	}
	if result.TotalQuantity.String() != "15" {
		t.Fatalf("total quantity expected 15, got %s", result.TotalQuantity)
	}
	if result.TotalCost.String() != "1750" {
		t.Fatalf("total cost expected 1750, got %s", result.TotalCost)
	}
	if result.AverageCost.Round(2).String() != "116.67" {
		t.Fatalf("average cost expected 116.67, got %s", result.AverageCost.Round(2))
	}
}

func TestFIFOConsume_InputOrderDoesNotMatter(t *testing.T) {
	shuffled := []CostLayer{
		layer(3, 10, 120),
		layer(1, 10, 100),
		layer(2, 10, 110),
	}

	result, err := FIFOConsume(shuffled, decimal.NewFromInt(15))
	if err != nil {
		t.Fatalf("FIFOConsume: %v", err)
	}
	if result.TotalCost.String() != "1750" {
		t.Fatalf("total cost expected 1750 regardless of input order, got %s", result.TotalCost)
	}
	if result.Layers[0].UnitCost.String() != "110" {
		t.Fatalf("oldest surviving layer expected cost 110, got %s", result.Layers[0].UnitCost)
	}
}

func TestFIFOConsume_ZeroSoldLeavesLayersUntouched(t *testing.T) {
	layers := []CostLayer{layer(1, 10, 100), layer(2, 10, 110)}

	result, err := FIFOConsume(layers, decimal.Zero)
	if err != nil {
		t.Fatalf("FIFOConsume: %v", err)
	}
	if len(result.Layers) != 2 || result.TotalQuantity.String() != "20" {
		t.Fatalf("expected unchanged layers, got %d layers qty %s", len(result.Layers), result.TotalQuantity)
	}
	if result.TotalCost.String() != "2100" {
		t.Fatalf("total cost expected 2100, got %s", result.TotalCost)
	}
}

func TestFIFOConsume_ExactDepletion(t *testing.T) {
	layers := []CostLayer{layer(1, 10, 100), layer(2, 10, 110)}

	result, err := FIFOConsume(layers, decimal.NewFromInt(20))
	if err != nil {
		t.Fatalf("FIFOConsume: %v", err)
	}
	if len(result.Layers) != 0 {
		t.Fatalf("expected no remaining layers, got %d", len(result.Layers))
	}
	if !result.TotalCost.IsZero() || !result.AverageCost.IsZero() {
		t.Fatalf("expected zero totals, got cost %s avg %s", result.TotalCost, result.AverageCost)
	}
}

func TestFIFOConsume_OversellIsAbsorbedSilently(t *testing.T) {
	layers := []CostLayer{layer(1, 10, 100)}

	result, err := FIFOConsume(layers, decimal.NewFromInt(25))
	if err != nil {
		t.Fatalf("oversell must not error: %v", err)
	}
	if len(result.Layers) != 0 || !result.TotalQuantity.IsZero() {
		t.Fatalf("expected everything consumed, got %d layers qty %s", len(result.Layers), result.TotalQuantity)
	}
}

func TestFIFOConsume_NegativeSoldQuantity(t *testing.T) {
	_, err := FIFOConsume([]CostLayer{layer(1, 10, 100)}, decimal.NewFromInt(-1))
	if !errors.Is(err, ErrNegativeSoldQuantity) {
		t.Fatalf("expected ErrNegativeSoldQuantity, got %v", err)
	}
}

func TestFIFOConsume_EmptyLayers(t *testing.T) {
	result, err := FIFOConsume(nil, decimal.NewFromInt(5))
	if err != nil {
		t.Fatalf("FIFOConsume: %v", err)
	}
	if len(result.Layers) != 0 || !result.AverageCost.IsZero() {
		t.Fatalf("expected empty zero result, got %+v", result)
	}
}

func TestWeightedAverageCost(t *testing.T) {
	layers := []CostLayer{layer(1, 10, 100), layer(2, 20, 120)}
	avg := WeightedAverageCost(layers)
	if avg.Round(2).String() != "113.33" {
		t.Fatalf("weighted average expected 113.33, got %s", avg.Round(2))
	}

	if !WeightedAverageCost(nil).IsZero() {
		t.Fatal("empty layers must yield zero weighted average")
	}

	zeroQty := []CostLayer{{Qty: decimal.Zero, UnitCost: decimal.NewFromInt(50)}}
	if !WeightedAverageCost(zeroQty).IsZero() {
		t.Fatal("all-zero quantities must yield zero, not a division error")
	}
}

func TestCostLayersFromEntries_OnlyPositivePurchases(t *testing.T) {
	entries := []StockLedgerEntry{
		{MovementType: MovementTypePurchase, QtyDelta: decimal.NewFromInt(10), UnitCost: decimal.NewFromInt(100)},
		{MovementType: MovementTypeSale, QtyDelta: decimal.NewFromInt(-4), UnitCost: decimal.NewFromInt(100)},
		{MovementType: MovementTypePurchase, QtyDelta: decimal.NewFromInt(-2), UnitCost: decimal.NewFromInt(100)},
		{MovementType: MovementTypeAdjustment, QtyDelta: decimal.NewFromInt(3), UnitCost: decimal.NewFromInt(90)},
	}

	layers := CostLayersFromEntries(entries)
	if len(layers) != 1 {
		t.Fatalf("expected 1 layer, got %d", len(layers))
	}
	if layers[0].Qty.String() != "10" || layers[0].UnitCost.String() != "100" {
		t.Fatalf("layer expected 10 @ 100, got %s @ %s", layers[0].Qty, layers[0].UnitCost)
	}
}
