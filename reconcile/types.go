package reconcile

import (
	"time"

	"github.com/shopspring/decimal"
)

type MovementType string

const (
	MovementTypePurchase    MovementType = "purchase"
	MovementTypeSale        MovementType = "sale"
	MovementTypeTransferIn  MovementType = "transfer_in"
	MovementTypeTransferOut MovementType = "transfer_out"
	MovementTypeAdjustment  MovementType = "adjustment"
	MovementTypeReturn      MovementType = "return"
	MovementTypeCorrection  MovementType = "correction"
)

type VarianceType string

const (
	VarianceTypeOverage  VarianceType = "overage"
	VarianceTypeShortage VarianceType = "shortage"
	VarianceTypeMatch    VarianceType = "match"
)

// StockLedgerEntry is one immutable inventory movement with a running-balance
// snapshot. Entries are append-only forever; corrections are new entries, never
// edits.
type StockLedgerEntry struct {
	ID            int             `gorm:"primary_key" json:"id"`
	BusinessId    string          `gorm:"index:idx_ledger_biz_pair_date,priority:1;not null" json:"business_id"`
	ProductId     int             `gorm:"index;not null" json:"product_id"`
	VariationId   int             `gorm:"index:idx_ledger_biz_pair_date,priority:2;not null" json:"variation_id"`
	LocationId    int             `gorm:"index:idx_ledger_biz_pair_date,priority:3;not null" json:"location_id"`
	MovementType  MovementType    `gorm:"size:20;index;not null" json:"movement_type"`
	QtyDelta      decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"qty_delta"`
	UnitCost      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_cost"`
	TotalCost     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_cost"`
	BalanceAfter  decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"balance_after"`
	ReferenceType string          `gorm:"size:30;index" json:"reference_type"`
	ReferenceId   string          `gorm:"size:64;index" json:"reference_id"`
	CreatedBy     string          `gorm:"size:100" json:"created_by"`
	EntryDate     time.Time       `gorm:"index:idx_ledger_biz_pair_date,priority:4;not null" json:"entry_date"`
	Note          string          `gorm:"type:text" json:"note"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// StockBalance is the materialized current-quantity cache row, maintained by
// business operations independently of the ledger. It drifts; that is the whole
// reason this engine exists. Display fields come from the repository join and
// are not columns of the stock_balances table.
type StockBalance struct {
	ID          int             `gorm:"primary_key" json:"id"`
	BusinessId  string          `gorm:"index:idx_balance_biz_pair,priority:1;not null" json:"business_id"`
	ProductId   int             `gorm:"index;not null" json:"product_id"`
	VariationId int             `gorm:"index:idx_balance_biz_pair,priority:2;not null" json:"variation_id"`
	LocationId  int             `gorm:"index:idx_balance_biz_pair,priority:3;not null" json:"location_id"`
	Quantity    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"quantity"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`

	ProductName   string `gorm:"-" json:"product_name"`
	Sku           string `gorm:"-" json:"sku"`
	VariationName string `gorm:"-" json:"variation_name"`
	LocationName  string `gorm:"-" json:"location_name"`
}

// CostLayer is an acquisition batch reconstructed on demand from purchase-type
// ledger entries. Never persisted.
type CostLayer struct {
	Date     time.Time       `json:"date"`
	Qty      decimal.Decimal `json:"qty"`
	UnitCost decimal.Decimal `json:"unit_cost"`
}

// VarianceRecord is the computed drift for one (variation, location) pair at a
// point in time. Ephemeral; exists only for the duration of a reconciliation
// call.
type VarianceRecord struct {
	ProductId          int             `json:"product_id"`
	ProductName        string          `json:"product_name"`
	Sku                string          `json:"sku"`
	VariationId        int             `json:"variation_id"`
	VariationName      string          `json:"variation_name"`
	LocationId         int             `json:"location_id"`
	LocationName       string          `json:"location_name"`
	LedgerBalance      decimal.Decimal `json:"ledger_balance"`
	SystemBalance      decimal.Decimal `json:"system_balance"`
	Variance           decimal.Decimal `json:"variance"`
	VariancePercentage decimal.Decimal `json:"variance_percentage"`
	UnitCost           decimal.Decimal `json:"unit_cost"`
	VarianceValue      decimal.Decimal `json:"variance_value"`
	VarianceType       VarianceType    `json:"variance_type"`
	LastEntryDate      *time.Time      `json:"last_entry_date,omitempty"`
	LastEntryType      MovementType    `json:"last_entry_type,omitempty"`

	RequiresInvestigation bool `json:"requires_investigation"`
	AutoFixable           bool `json:"auto_fixable"`

	// Diagnostic metadata; does not affect fix eligibility.
	TotalEntries       int  `json:"total_entries"`
	RecentEntries      int  `json:"recent_entries"`
	SuspiciousActivity bool `json:"suspicious_activity"`
}

// SweepError reports one pair whose reads failed during a sweep. Read failures
// are isolated per record; they never abort the whole run.
type SweepError struct {
	VariationId int    `json:"variation_id"`
	LocationId  int    `json:"location_id"`
	Err         string `json:"error"`
}

type ReportSummary struct {
	TotalVariances             int             `json:"total_variances"`
	OverageCount               int             `json:"overage_count"`
	ShortageCount              int             `json:"shortage_count"`
	MatchCount                 int             `json:"match_count"`
	TotalVarianceValue         decimal.Decimal `json:"total_variance_value"`
	OverageValue               decimal.Decimal `json:"overage_value"`
	ShortageValue              decimal.Decimal `json:"shortage_value"`
	RequiresInvestigationCount int             `json:"requires_investigation_count"`
	AutoFixableCount           int             `json:"auto_fixable_count"`
}

// ReconciliationReport is never persisted as an entity; a zero-variance report
// is a normal, valid result.
type ReconciliationReport struct {
	BusinessId    string           `json:"business_id"`
	LocationId    *int             `json:"location_id,omitempty"`
	CorrelationId string           `json:"correlation_id"`
	GeneratedAt   time.Time        `json:"generated_at"`
	Variances     []VarianceRecord `json:"variances"`
	Summary       ReportSummary    `json:"summary"`
	ReadErrors    []SweepError     `json:"read_errors,omitempty"`
}

// AutoFixItem is the per-item outcome of an auto-fix run. One item failing
// never aborts the others.
type AutoFixItem struct {
	VariationId   int             `json:"variation_id"`
	LocationId    int             `json:"location_id"`
	Variance      decimal.Decimal `json:"variance"`
	LedgerBalance decimal.Decimal `json:"ledger_balance"`
	SystemBalance decimal.Decimal `json:"system_balance"`
	Success       bool            `json:"success"`
	EntryId       int             `json:"entry_id,omitempty"`
	Error         string          `json:"error,omitempty"`
}

type AutoFixResult struct {
	BusinessId    string        `json:"business_id"`
	CorrelationId string        `json:"correlation_id"`
	Fixed         int           `json:"fixed"`
	Errors        []string      `json:"errors"`
	Details       []AutoFixItem `json:"details"`
}

// AuditEntry records who changed what; correction writes carry the before/after
// balances and the run correlation id.
type AuditEntry struct {
	ID            int       `gorm:"primary_key" json:"id"`
	BusinessId    string    `gorm:"index;not null" json:"business_id"`
	Action        string    `gorm:"size:50;index;not null" json:"action"`
	EntityType    string    `gorm:"size:50" json:"entity_type"`
	EntityId      int       `gorm:"index" json:"entity_id"`
	Before        string    `gorm:"type:text" json:"before"`
	After         string    `gorm:"type:text" json:"after"`
	Description   string    `gorm:"type:text" json:"description"`
	Actor         string    `gorm:"size:100" json:"actor"`
	CorrelationId string    `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

type InvestigationFinding struct {
	Kind        string     `json:"kind"`
	Description string     `json:"description"`
	EntryId     int        `json:"entry_id,omitempty"`
	OccurredAt  *time.Time `json:"occurred_at,omitempty"`
	PreviousAt  *time.Time `json:"previous_at,omitempty"`
}

type InvestigationAnalysis struct {
	MissingTransactions bool                   `json:"missing_transactions"`
	Findings            []InvestigationFinding `json:"findings"`
	PossibleCauses      []string               `json:"possible_causes"`
	Recommendations     []string               `json:"recommendations"`
}

type InvestigationResult struct {
	NoActionRequired bool                  `json:"no_action_required"`
	Variance         *VarianceRecord       `json:"variance,omitempty"`
	Transactions     []StockLedgerEntry    `json:"transactions"`
	Analysis         InvestigationAnalysis `json:"analysis"`
}

// Valuation is the cost-layer view of one pair, rebuilt from purchase-type
// ledger entries and consumed FIFO against everything sold since.
type Valuation struct {
	VariationId         int             `json:"variation_id"`
	LocationId          int             `json:"location_id"`
	Layers              []CostLayer     `json:"layers"`
	TotalQuantity       decimal.Decimal `json:"total_quantity"`
	TotalCost           decimal.Decimal `json:"total_cost"`
	AverageCost         decimal.Decimal `json:"average_cost"`
	WeightedAverageCost decimal.Decimal `json:"weighted_average_cost"`
}
