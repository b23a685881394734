package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrBusinessIdRequired is returned when a caller passes an empty business id.
	ErrBusinessIdRequired = errors.New("business id is required")
	// ErrBalanceMoved is returned by AppendCorrection when the materialized
	// balance no longer matches what the detector saw. The item is reported as
	// failed and picked up by the next run.
	ErrBalanceMoved = errors.New("materialized balance changed since detection")
	// ErrAutoFixDisabled is returned when the correction write path is switched
	// off via configuration.
	ErrAutoFixDisabled = errors.New("auto-fix is disabled")
)

// PairKey identifies one (variation, location) pair inside a business.
type PairKey struct {
	VariationId int
	LocationId  int
}

// LedgerStats is the batched per-pair aggregate the detector runs on: one
// repository round trip instead of three lookups per pair.
type LedgerStats struct {
	Latest        *StockLedgerEntry
	TotalEntries  int
	RecentEntries int
}

// CorrectionRequest is a single auto-fix write. The repository must apply it
// atomically: re-read the materialized balance under a row lock, fail with
// ErrBalanceMoved if it drifted from ExpectedSystemBalance, then append the
// correction entry and the audit record in the same transaction.
type CorrectionRequest struct {
	BusinessId            string
	ProductId             int
	VariationId           int
	LocationId            int
	QtyDelta              decimal.Decimal
	UnitCost              decimal.Decimal
	LedgerBalance         decimal.Decimal
	ExpectedSystemBalance decimal.Decimal
	BatchId               string
	Actor                 string
	Note                  string
}

type LedgerRepository interface {
	// StatsByPair returns latest entry, total count and recent count for every
	// pair with at least one entry, in one batched call.
	StatsByPair(ctx context.Context, businessId string, locationId *int, recentSince time.Time) (map[PairKey]LedgerStats, error)

	LatestEntry(ctx context.Context, businessId string, variationId, locationId int) (*StockLedgerEntry, error)
	CountEntries(ctx context.Context, businessId string, variationId, locationId int, since *time.Time) (int, error)
	// ListRecentEntries returns up to limit entries newest-first, optionally
	// bounded by since. Limit <= 0 means no limit.
	ListRecentEntries(ctx context.Context, businessId string, variationId, locationId int, since *time.Time, limit int) ([]StockLedgerEntry, error)
	ListPurchaseEntries(ctx context.Context, businessId string, variationId, locationId int) ([]StockLedgerEntry, error)

	AppendCorrection(ctx context.Context, req CorrectionRequest) (*StockLedgerEntry, error)
	ListCorrections(ctx context.Context, businessId string, variationId int, locationId *int, limit int) ([]StockLedgerEntry, error)
}

type StockRepository interface {
	// ListBalances returns materialized rows joined with product/variation/
	// location display names.
	ListBalances(ctx context.Context, businessId string, locationId *int) ([]StockBalance, error)
	GetBalance(ctx context.Context, businessId string, variationId, locationId int) (*StockBalance, error)
}

type AuditLogWriter interface {
	Write(ctx context.Context, entry *AuditEntry) error
}

// ProductLocker is a capability owned by the product subsystem; this engine
// only decides which product ids qualify.
type ProductLocker interface {
	LockProducts(ctx context.Context, businessId string, productIds []int, reason string) error
	UnlockProducts(ctx context.Context, businessId string, productIds []int) error
}
