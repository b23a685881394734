// Package memory holds an in-memory implementation of the reconciliation
// repositories, used by tests and local development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmdatafocus/stockaudit_backend/reconcile"
)

type Store struct {
	mu       sync.Mutex
	nextId   int
	entries  []reconcile.StockLedgerEntry
	balances map[reconcile.PairKey]*reconcile.StockBalance
	audits   []reconcile.AuditEntry
	locked   map[int]string

	// FailBalanceFor makes AppendCorrection fail with ErrBalanceMoved for the
	// listed pairs, simulating a concurrent writer.
	FailBalanceFor map[reconcile.PairKey]bool

	// FailStats makes StatsByPair return this error, pushing sweeps onto the
	// per-pair fallback path.
	FailStats error
	// FailLatestFor makes LatestEntry fail for the listed pairs.
	FailLatestFor map[reconcile.PairKey]error
}

func New() *Store {
	return &Store{
		nextId:         1,
		balances:       map[reconcile.PairKey]*reconcile.StockBalance{},
		locked:         map[int]string{},
		FailBalanceFor: map[reconcile.PairKey]bool{},
		FailLatestFor:  map[reconcile.PairKey]error{},
	}
}

// SeedEntry appends a ledger entry, assigning it the next id.
func (s *Store) SeedEntry(entry reconcile.StockLedgerEntry) reconcile.StockLedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.ID = s.nextId
	s.nextId++
	s.entries = append(s.entries, entry)
	return entry
}

// SeedBalance sets the materialized quantity for a pair.
func (s *Store) SeedBalance(balance reconcile.StockBalance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := balance
	b.ID = s.nextId
	s.nextId++
	key := reconcile.PairKey{VariationId: b.VariationId, LocationId: b.LocationId}
	s.balances[key] = &b
}

// Audits returns a copy of the written audit entries.
func (s *Store) Audits() []reconcile.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]reconcile.AuditEntry, len(s.audits))
	copy(out, s.audits)
	return out
}

// LockedProducts returns product id to lock reason.
func (s *Store) LockedProducts() map[int]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int]string, len(s.locked))
	for id, reason := range s.locked {
		out[id] = reason
	}
	return out
}

func (s *Store) pairEntries(businessId string, variationId, locationId int) []reconcile.StockLedgerEntry {
	var out []reconcile.StockLedgerEntry
	for _, e := range s.entries {
		if e.BusinessId == businessId && e.VariationId == variationId && e.LocationId == locationId {
			out = append(out, e)
		}
	}
	return out
}

func newestFirst(entries []reconcile.StockLedgerEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].EntryDate.Equal(entries[j].EntryDate) {
			return entries[i].EntryDate.After(entries[j].EntryDate)
		}
		return entries[i].ID > entries[j].ID
	})
}

func (s *Store) StatsByPair(ctx context.Context, businessId string, locationId *int, recentSince time.Time) (map[reconcile.PairKey]reconcile.LedgerStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailStats != nil {
		return nil, s.FailStats
	}

	stats := map[reconcile.PairKey]reconcile.LedgerStats{}
	for i := range s.entries {
		e := s.entries[i]
		if e.BusinessId != businessId {
			continue
		}
		if locationId != nil && e.LocationId != *locationId {
			continue
		}
		key := reconcile.PairKey{VariationId: e.VariationId, LocationId: e.LocationId}
		ls := stats[key]
		ls.TotalEntries++
		if !e.EntryDate.Before(recentSince) {
			ls.RecentEntries++
		}
		if ls.Latest == nil || e.EntryDate.After(ls.Latest.EntryDate) ||
			(e.EntryDate.Equal(ls.Latest.EntryDate) && e.ID > ls.Latest.ID) {
			latest := e
			ls.Latest = &latest
		}
		stats[key] = ls
	}
	return stats, nil
}

func (s *Store) LatestEntry(ctx context.Context, businessId string, variationId, locationId int) (*reconcile.StockLedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.FailLatestFor[reconcile.PairKey{VariationId: variationId, LocationId: locationId}]; err != nil {
		return nil, err
	}

	entries := s.pairEntries(businessId, variationId, locationId)
	if len(entries) == 0 {
		return nil, nil
	}
	newestFirst(entries)
	latest := entries[0]
	return &latest, nil
}

func (s *Store) CountEntries(ctx context.Context, businessId string, variationId, locationId int, since *time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, e := range s.pairEntries(businessId, variationId, locationId) {
		if since != nil && e.EntryDate.Before(*since) {
			continue
		}
		count++
	}
	return count, nil
}

func (s *Store) ListRecentEntries(ctx context.Context, businessId string, variationId, locationId int, since *time.Time, limit int) ([]reconcile.StockLedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []reconcile.StockLedgerEntry
	for _, e := range s.pairEntries(businessId, variationId, locationId) {
		if since != nil && e.EntryDate.Before(*since) {
			continue
		}
		out = append(out, e)
	}
	newestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListPurchaseEntries(ctx context.Context, businessId string, variationId, locationId int) ([]reconcile.StockLedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []reconcile.StockLedgerEntry
	for _, e := range s.pairEntries(businessId, variationId, locationId) {
		if e.MovementType == reconcile.MovementTypePurchase {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].EntryDate.Before(out[j].EntryDate)
	})
	return out, nil
}

func (s *Store) AppendCorrection(ctx context.Context, req reconcile.CorrectionRequest) (*reconcile.StockLedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := reconcile.PairKey{VariationId: req.VariationId, LocationId: req.LocationId}
	if s.FailBalanceFor[key] {
		return nil, reconcile.ErrBalanceMoved
	}

	current := decimal.Zero
	if balance, ok := s.balances[key]; ok {
		current = balance.Quantity
	}
	if !current.Equal(req.ExpectedSystemBalance) {
		return nil, reconcile.ErrBalanceMoved
	}

	entry := reconcile.StockLedgerEntry{
		ID:            s.nextId,
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
	s.nextId++
	s.entries = append(s.entries, entry)

	s.audits = append(s.audits, reconcile.AuditEntry{
		ID:            s.nextId,
		BusinessId:    req.BusinessId,
		Action:        "reconciliation.correction",
		EntityType:    "stock_ledger_entry",
		EntityId:      entry.ID,
		Description:   req.Note,
		Actor:         req.Actor,
		CorrelationId: req.BatchId,
	})
	s.nextId++

	return &entry, nil
}

func (s *Store) ListCorrections(ctx context.Context, businessId string, variationId int, locationId *int, limit int) ([]reconcile.StockLedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []reconcile.StockLedgerEntry
	for _, e := range s.entries {
		if e.BusinessId != businessId || e.VariationId != variationId {
			continue
		}
		if locationId != nil && e.LocationId != *locationId {
			continue
		}
		if e.MovementType != reconcile.MovementTypeCorrection {
			continue
		}
		out = append(out, e)
	}
	newestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListBalances(ctx context.Context, businessId string, locationId *int) ([]reconcile.StockBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []reconcile.StockBalance
	for _, b := range s.balances {
		if b.BusinessId != businessId {
			continue
		}
		if locationId != nil && b.LocationId != *locationId {
			continue
		}
		out = append(out, *b)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].VariationId != out[j].VariationId {
			return out[i].VariationId < out[j].VariationId
		}
		return out[i].LocationId < out[j].LocationId
	})
	return out, nil
}

func (s *Store) GetBalance(ctx context.Context, businessId string, variationId, locationId int) (*reconcile.StockBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := reconcile.PairKey{VariationId: variationId, LocationId: locationId}
	balance, ok := s.balances[key]
	if !ok || balance.BusinessId != businessId {
		return nil, nil
	}
	copied := *balance
	return &copied, nil
}

func (s *Store) Write(ctx context.Context, entry *reconcile.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := *entry
	e.ID = s.nextId
	s.nextId++
	s.audits = append(s.audits, e)
	return nil
}

func (s *Store) LockProducts(ctx context.Context, businessId string, productIds []int, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range productIds {
		s.locked[id] = reason
	}
	return nil
}

func (s *Store) UnlockProducts(ctx context.Context, businessId string, productIds []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range productIds {
		delete(s.locked, id)
	}
	return nil
}
