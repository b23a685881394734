package reconcile

import (
	"context"

	"github.com/shopspring/decimal"
)

// Valuation rebuilds the cost-layer view for one (variation, location) pair:
// acquisition layers come from purchase-type entries, everything consumed since
// is replayed FIFO against them. Limit 0 means full history; valuation over a
// truncated ledger would be silently wrong.
func (e *Engine) Valuation(ctx context.Context, businessId string, variationId, locationId int) (*Valuation, error) {
	if businessId == "" {
		return nil, ErrBusinessIdRequired
	}

	entries, err := e.Ledger.ListRecentEntries(ctx, businessId, variationId, locationId, nil, 0)
	if err != nil {
		return nil, err
	}

	layers := CostLayersFromEntries(entries)

	consumed := decimal.Zero
	for _, entry := range entries {
		if entry.QtyDelta.IsNegative() {
			consumed = consumed.Add(entry.QtyDelta.Abs())
		}
	}

	result, err := FIFOConsume(layers, consumed)
	if err != nil {
		return nil, err
	}

	return &Valuation{
		VariationId:         variationId,
		LocationId:          locationId,
		Layers:              result.Layers,
		TotalQuantity:       result.TotalQuantity,
		TotalCost:           result.TotalCost,
		AverageCost:         result.AverageCost,
		WeightedAverageCost: WeightedAverageCost(result.Layers),
	}, nil
}
