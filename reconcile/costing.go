package reconcile

import (
	"errors"
	"sort"

	"github.com/shopspring/decimal"
)

// ErrNegativeSoldQuantity is returned by FIFOConsume for a negative sold
// quantity. No partial computation happens.
var ErrNegativeSoldQuantity = errors.New("sold quantity cannot be negative")

// FIFOResult is the state of the cost layers after consuming a sale.
type FIFOResult struct {
	Layers        []CostLayer
	TotalQuantity decimal.Decimal
	TotalCost     decimal.Decimal
	AverageCost   decimal.Decimal
}

// FIFOConsume walks acquisition layers oldest-first and consumes soldQty from
// them. Layers are re-sorted by acquisition date internally, so caller order
// never affects the result.
//
// When soldQty exceeds the total available quantity, every layer is fully
// consumed and no error is raised: the excess is absorbed silently. Sales
// against phantom stock are an upstream data problem the variance detector
// surfaces; valuation itself must stay total.
func FIFOConsume(layers []CostLayer, soldQty decimal.Decimal) (*FIFOResult, error) {
	if soldQty.IsNegative() {
		return nil, ErrNegativeSoldQuantity
	}

	sorted := make([]CostLayer, len(layers))
	copy(sorted, layers)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Date.Before(sorted[j].Date)
	})

	remaining := soldQty
	result := &FIFOResult{
		TotalQuantity: decimal.Zero,
		TotalCost:     decimal.Zero,
		AverageCost:   decimal.Zero,
	}
	for _, layer := range sorted {
		if remaining.IsPositive() {
			consume := decimal.Min(layer.Qty, remaining)
			layer.Qty = layer.Qty.Sub(consume)
			remaining = remaining.Sub(consume)
		}
		if layer.Qty.IsPositive() {
			result.Layers = append(result.Layers, layer)
			result.TotalQuantity = result.TotalQuantity.Add(layer.Qty)
			result.TotalCost = result.TotalCost.Add(layer.Qty.Mul(layer.UnitCost))
		}
	}
	if !result.TotalQuantity.IsZero() {
		result.AverageCost = result.TotalCost.Div(result.TotalQuantity)
	}
	return result, nil
}

// WeightedAverageCost returns sum(qty*unitCost)/sum(qty), or zero for empty or
// all-zero-quantity input.
func WeightedAverageCost(layers []CostLayer) decimal.Decimal {
	totalQty := decimal.Zero
	totalCost := decimal.Zero
	for _, layer := range layers {
		totalQty = totalQty.Add(layer.Qty)
		totalCost = totalCost.Add(layer.Qty.Mul(layer.UnitCost))
	}
	if totalQty.IsZero() {
		return decimal.Zero
	}
	return totalCost.Div(totalQty)
}

// CostLayersFromEntries rebuilds acquisition batches from purchase-type ledger
// entries. Only positive-quantity purchases form layers.
func CostLayersFromEntries(entries []StockLedgerEntry) []CostLayer {
	var layers []CostLayer
	for _, e := range entries {
		if e.MovementType != MovementTypePurchase || !e.QtyDelta.IsPositive() {
			continue
		}
		layers = append(layers, CostLayer{
			Date:     e.EntryDate,
			Qty:      e.QtyDelta,
			UnitCost: e.UnitCost,
		})
	}
	return layers
}
