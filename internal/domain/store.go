package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PositionStore persists hedged positions. UpdateRiskFields and
// UpdateFundingFields write disjoint column sets, each atomically, and only
// while the position is ACTIVE.
type PositionStore interface {
	Create(ctx context.Context, pos Position) error
	GetByID(ctx context.Context, id string) (Position, error)
	ListActive(ctx context.Context) ([]Position, error)
	UpdateRiskFields(ctx context.Context, id string, upd RiskUpdate) error
	UpdateFundingFields(ctx context.Context, id string, upd FundingUpdate) error
	UpdateStatus(ctx context.Context, id string, status PositionStatus) error
	ClearLiquidationAlert(ctx context.Context, id string) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
