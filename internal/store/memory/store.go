// Package memory provides in-process implementations of the position and
// audit stores. They back the engine when no database is configured and are
// used as fakes throughout the service tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/hedgerisk/internal/domain"
)

// PositionStore is a mutex-guarded map of positions. Every read returns a
// deep copy so callers never alias stored pointers.
type PositionStore struct {
	mu        sync.RWMutex
	positions map[string]domain.Position
}

// NewPositionStore creates an empty PositionStore.
func NewPositionStore() *PositionStore {
	return &PositionStore{positions: make(map[string]domain.Position)}
}

// Create inserts a new position.
func (s *PositionStore) Create(_ context.Context, p domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.positions[p.ID]; ok {
		return fmt.Errorf("memory: create position %s: %w", p.ID, domain.ErrAlreadyExists)
	}
	if p.Status == "" {
		p.Status = domain.PositionStatusActive
	}
	s.positions[p.ID] = clonePosition(p)
	return nil
}

// GetByID returns a copy of the position.
func (s *PositionStore) GetByID(_ context.Context, id string) (domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return clonePosition(p), nil
}

// ListActive returns copies of every ACTIVE position, oldest first.
func (s *PositionStore) ListActive(_ context.Context) ([]domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Position
	for _, p := range s.positions {
		if p.Status == domain.PositionStatusActive {
			out = append(out, clonePosition(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out, nil
}

// UpdateRiskFields applies upd under the store lock.
func (s *PositionStore) UpdateRiskFields(_ context.Context, id string, upd domain.RiskUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.positions[id]
	if !ok || p.Status != domain.PositionStatusActive {
		return fmt.Errorf("memory: update risk fields %s: active position %w", id, domain.ErrNotFound)
	}

	applyRisk(&p.Primary, upd.Primary)
	applyRisk(&p.Hedge, upd.Hedge)
	checked := upd.CheckedAt
	p.LastLiquidationCheck = &checked
	if upd.AlertSent != nil {
		p.LiquidationAlertSent = *upd.AlertSent
	}
	s.positions[id] = p
	return nil
}

func applyRisk(l *domain.Leg, u domain.RiskLegUpdate) {
	liq, prox := u.LiquidationPrice, u.ProximityRatio
	l.LiquidationPrice = &liq
	l.ProximityRatio = &prox
	l.InDanger = u.InDanger
}

// UpdateFundingFields applies upd under the store lock. A nil leg keeps its
// stored values.
func (s *PositionStore) UpdateFundingFields(_ context.Context, id string, upd domain.FundingUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.positions[id]
	if !ok || p.Status != domain.PositionStatusActive {
		return fmt.Errorf("memory: update funding fields %s: active position %w", id, domain.ErrNotFound)
	}

	if upd.Primary != nil {
		applyFunding(&p.Primary, *upd.Primary)
	}
	if upd.Hedge != nil {
		applyFunding(&p.Hedge, *upd.Hedge)
	}
	p.GrossProfit = upd.Totals.GrossProfit
	p.NetProfit = upd.Totals.NetProfit
	if upd.Totals.ExpectedSpreadPerHour != nil {
		p.ExpectedSpreadPerHour = ptr(*upd.Totals.ExpectedSpreadPerHour)
	}
	at := upd.UpdatedAt
	p.LastFundingUpdate = &at
	p.FundingUpdateCount++
	s.positions[id] = p
	return nil
}

func applyFunding(l *domain.Leg, u domain.FundingLegUpdate) {
	l.LastFundingPaid = u.LastFundingPaid
	l.TotalFundingEarned = u.TotalFundingEarned
	l.TradingFees = u.TradingFees
}

// UpdateStatus moves a position forward in its lifecycle.
func (s *PositionStore) UpdateStatus(_ context.Context, id string, status domain.PositionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.positions[id]
	if !ok {
		return domain.ErrNotFound
	}
	if !p.Status.CanTransitionTo(status) {
		return fmt.Errorf("memory: position %s %s -> %s: %w", id, p.Status, status, domain.ErrInvalidTransition)
	}
	p.Status = status
	s.positions[id] = p
	return nil
}

// ClearLiquidationAlert resets the alert latch.
func (s *PositionStore) ClearLiquidationAlert(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.positions[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.LiquidationAlertSent = false
	s.positions[id] = p
	return nil
}

func clonePosition(p domain.Position) domain.Position {
	p.Primary = cloneLeg(p.Primary)
	p.Hedge = cloneLeg(p.Hedge)
	p.ExpectedSpreadPerHour = clonePtr(p.ExpectedSpreadPerHour)
	p.LastLiquidationCheck = clonePtr(p.LastLiquidationCheck)
	p.LastFundingUpdate = clonePtr(p.LastFundingUpdate)
	return p
}

func cloneLeg(l domain.Leg) domain.Leg {
	l.EntryPrice = clonePtr(l.EntryPrice)
	l.CurrentPrice = clonePtr(l.CurrentPrice)
	l.LiquidationPrice = clonePtr(l.LiquidationPrice)
	l.ProximityRatio = clonePtr(l.ProximityRatio)
	return l
}

func clonePtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	return ptr(*v)
}

func ptr[T any](v T) *T { return &v }

// AuditStore keeps audit entries in memory, newest last.
type AuditStore struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
	now     func() time.Time
}

// NewAuditStore creates an empty AuditStore.
func NewAuditStore() *AuditStore {
	return &AuditStore{now: time.Now}
}

// Log appends an entry.
func (s *AuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := make(map[string]any, len(detail))
	for k, v := range detail {
		cp[k] = v
	}
	s.entries = append(s.entries, domain.AuditEntry{
		ID:        int64(len(s.entries) + 1),
		Event:     event,
		Detail:    cp,
		CreatedAt: s.now(),
	})
	return nil
}

// List returns entries newest first, filtered and paged by opts.
func (s *AuditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.AuditEntry
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if opts.Since != nil && e.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && e.CreatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, e)
	}
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

var (
	_ domain.PositionStore = (*PositionStore)(nil)
	_ domain.AuditStore    = (*AuditStore)(nil)
)
