package mysql

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mmdatafocus/stockaudit_backend/reconcile"
)

// Store backs the reconciliation engine with MySQL through gorm. One value
// implements every repository the engine needs.
type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates or updates the tables this module owns. Products, variations
// and locations belong to the main application schema and are only read here.
func (s *Store) Migrate() error {
	return s.db.AutoMigrate(
		&reconcile.StockLedgerEntry{},
		&reconcile.StockBalance{},
		&reconcile.AuditEntry{},
	)
}

type pairStatsRow struct {
	VariationId   int `gorm:"column:variation_id"`
	LocationId    int `gorm:"column:location_id"`
	TotalEntries  int `gorm:"column:total_entries"`
	RecentEntries int `gorm:"column:recent_entries"`
}

func (s *Store) StatsByPair(ctx context.Context, businessId string, locationId *int, recentSince time.Time) (map[reconcile.PairKey]reconcile.LedgerStats, error) {
	locationFilter := ""
	latestArgs := []interface{}{businessId}
	countArgs := []interface{}{recentSince, businessId}
	if locationId != nil {
		locationFilter = " AND location_id = ?"
		latestArgs = append(latestArgs, *locationId)
		countArgs = append(countArgs, *locationId)
	}

	latestQuery := `WITH rankedEntries AS (
                    SELECT *,
                           ROW_NUMBER() OVER(PARTITION BY variation_id, location_id ORDER BY entry_date DESC, id DESC) AS row_num
                    FROM stock_ledger_entries
                    WHERE business_id = ?` + locationFilter + `
             )
             SELECT * FROM rankedEntries WHERE row_num = 1`

	var latest []reconcile.StockLedgerEntry
	if err := s.db.WithContext(ctx).Raw(latestQuery, latestArgs...).Scan(&latest).Error; err != nil {
		return nil, err
	}

	countQuery := `SELECT variation_id, location_id,
                    COUNT(*) AS total_entries,
                    SUM(CASE WHEN entry_date >= ? THEN 1 ELSE 0 END) AS recent_entries
             FROM stock_ledger_entries
             WHERE business_id = ?` + locationFilter + `
             GROUP BY variation_id, location_id`

	var counts []pairStatsRow
	if err := s.db.WithContext(ctx).Raw(countQuery, countArgs...).Scan(&counts).Error; err != nil {
		return nil, err
	}

	stats := make(map[reconcile.PairKey]reconcile.LedgerStats, len(latest))
	for i := range latest {
		entry := latest[i]
		key := reconcile.PairKey{VariationId: entry.VariationId, LocationId: entry.LocationId}
		stats[key] = reconcile.LedgerStats{Latest: &entry}
	}
	for _, row := range counts {
		key := reconcile.PairKey{VariationId: row.VariationId, LocationId: row.LocationId}
		ls := stats[key]
		ls.TotalEntries = row.TotalEntries
		ls.RecentEntries = row.RecentEntries
		stats[key] = ls
	}
	return stats, nil
}

func (s *Store) LatestEntry(ctx context.Context, businessId string, variationId, locationId int) (*reconcile.StockLedgerEntry, error) {
	var entry reconcile.StockLedgerEntry
	err := s.db.WithContext(ctx).
		Where("business_id = ? AND variation_id = ? AND location_id = ?", businessId, variationId, locationId).
		Order("entry_date DESC, id DESC").
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *Store) CountEntries(ctx context.Context, businessId string, variationId, locationId int, since *time.Time) (int, error) {
	query := s.db.WithContext(ctx).Model(&reconcile.StockLedgerEntry{}).
		Where("business_id = ? AND variation_id = ? AND location_id = ?", businessId, variationId, locationId)
	if since != nil {
		query = query.Where("entry_date >= ?", *since)
	}
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

func (s *Store) ListRecentEntries(ctx context.Context, businessId string, variationId, locationId int, since *time.Time, limit int) ([]reconcile.StockLedgerEntry, error) {
	query := s.db.WithContext(ctx).
		Where("business_id = ? AND variation_id = ? AND location_id = ?", businessId, variationId, locationId).
		Order("entry_date DESC, id DESC")
	if since != nil {
		query = query.Where("entry_date >= ?", *since)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	var entries []reconcile.StockLedgerEntry
	if err := query.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) ListPurchaseEntries(ctx context.Context, businessId string, variationId, locationId int) ([]reconcile.StockLedgerEntry, error) {
	var entries []reconcile.StockLedgerEntry
	err := s.db.WithContext(ctx).
		Where("business_id = ? AND variation_id = ? AND location_id = ? AND movement_type = ?",
			businessId, variationId, locationId, reconcile.MovementTypePurchase).
		Order("entry_date ASC, id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// AppendCorrection re-reads the materialized balance under a row lock, refuses
// to write when it no longer matches what the detector saw, then appends the
// correction entry and its audit record in one transaction.
func (s *Store) AppendCorrection(ctx context.Context, req reconcile.CorrectionRequest) (*reconcile.StockLedgerEntry, error) {
	var created *reconcile.StockLedgerEntry

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var balance reconcile.StockBalance
		current := decimal.Zero
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("business_id = ? AND variation_id = ? AND location_id = ?",
				req.BusinessId, req.VariationId, req.LocationId).
			First(&balance).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err == nil {
			current = balance.Quantity
		}
		if !current.Equal(req.ExpectedSystemBalance) {
			return reconcile.ErrBalanceMoved
		}

		entry := reconcile.StockLedgerEntry{
			BusinessId:    req.BusinessId,
			ProductId:     req.ProductId,
			VariationId:   req.VariationId,
			LocationId:    req.LocationId,
			MovementType:  reconcile.MovementTypeCorrection,
			QtyDelta:      req.QtyDelta,
			UnitCost:      req.UnitCost,
			TotalCost:     req.QtyDelta.Mul(req.UnitCost),
			BalanceAfter:  req.ExpectedSystemBalance,
			ReferenceType: "reconciliation",
			ReferenceId:   req.BatchId,
			CreatedBy:     req.Actor,
			EntryDate:     time.Now().UTC(),
			Note:          req.Note,
		}
		if err := tx.Create(&entry).Error; err != nil {
			return err
		}

		before, _ := json.Marshal(map[string]string{"ledger_balance": req.LedgerBalance.String()})
		after, _ := json.Marshal(map[string]string{"ledger_balance": req.ExpectedSystemBalance.String()})
		audit := reconcile.AuditEntry{
			BusinessId:    req.BusinessId,
			Action:        "reconciliation.correction",
			EntityType:    "stock_ledger_entry",
			EntityId:      entry.ID,
			Before:        string(before),
			After:         string(after),
			Description:   req.Note,
			Actor:         req.Actor,
			CorrelationId: req.BatchId,
		}
		if err := tx.Create(&audit).Error; err != nil {
			return err
		}

		created = &entry
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *Store) ListCorrections(ctx context.Context, businessId string, variationId int, locationId *int, limit int) ([]reconcile.StockLedgerEntry, error) {
	query := s.db.WithContext(ctx).
		Where("business_id = ? AND variation_id = ? AND movement_type = ?",
			businessId, variationId, reconcile.MovementTypeCorrection).
		Order("entry_date DESC, id DESC")
	if locationId != nil {
		query = query.Where("location_id = ?", *locationId)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	var entries []reconcile.StockLedgerEntry
	if err := query.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

type balanceRow struct {
	Id            int             `gorm:"column:id"`
	BusinessId    string          `gorm:"column:business_id"`
	ProductId     int             `gorm:"column:product_id"`
	VariationId   int             `gorm:"column:variation_id"`
	LocationId    int             `gorm:"column:location_id"`
	Quantity      decimal.Decimal `gorm:"column:quantity"`
	ProductName   string          `gorm:"column:product_name"`
	Sku           string          `gorm:"column:sku"`
	VariationName string          `gorm:"column:variation_name"`
	LocationName  string          `gorm:"column:location_name"`
}

const balanceSelect = `
SELECT
    sb.id,
    sb.business_id,
    sb.product_id,
    sb.variation_id,
    sb.location_id,
    sb.quantity,
    p.name AS product_name,
    pv.sku AS sku,
    pv.name AS variation_name,
    l.name AS location_name
FROM
    stock_balances sb
    LEFT JOIN products p ON p.id = sb.product_id
    LEFT JOIN product_variations pv ON pv.id = sb.variation_id
    LEFT JOIN locations l ON l.id = sb.location_id
WHERE
    sb.business_id = ?`

func (r balanceRow) toBalance() reconcile.StockBalance {
	return reconcile.StockBalance{
		ID:            r.Id,
		BusinessId:    r.BusinessId,
		ProductId:     r.ProductId,
		VariationId:   r.VariationId,
		LocationId:    r.LocationId,
		Quantity:      r.Quantity,
		ProductName:   r.ProductName,
		Sku:           r.Sku,
		VariationName: r.VariationName,
		LocationName:  r.LocationName,
	}
}

func (s *Store) ListBalances(ctx context.Context, businessId string, locationId *int) ([]reconcile.StockBalance, error) {
	query := balanceSelect
	args := []interface{}{businessId}
	if locationId != nil {
		query += " AND sb.location_id = ?"
		args = append(args, *locationId)
	}

	var rows []balanceRow
	if err := s.db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, err
	}
	balances := make([]reconcile.StockBalance, 0, len(rows))
	for _, row := range rows {
		balances = append(balances, row.toBalance())
	}
	return balances, nil
}

func (s *Store) GetBalance(ctx context.Context, businessId string, variationId, locationId int) (*reconcile.StockBalance, error) {
	query := balanceSelect + " AND sb.variation_id = ? AND sb.location_id = ?"

	var rows []balanceRow
	if err := s.db.WithContext(ctx).Raw(query, businessId, variationId, locationId).Scan(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	balance := rows[0].toBalance()
	return &balance, nil
}

func (s *Store) Write(ctx context.Context, entry *reconcile.AuditEntry) error {
	return s.db.WithContext(ctx).Create(entry).Error
}

func (s *Store) LockProducts(ctx context.Context, businessId string, productIds []int, reason string) error {
	if len(productIds) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Exec(
		"UPDATE products SET is_locked = 1, lock_reason = ? WHERE business_id = ? AND id IN ?",
		reason, businessId, productIds).Error
}

func (s *Store) UnlockProducts(ctx context.Context, businessId string, productIds []int) error {
	if len(productIds) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Exec(
		"UPDATE products SET is_locked = 0, lock_reason = '' WHERE business_id = ? AND id IN ?",
		businessId, productIds).Error
}
