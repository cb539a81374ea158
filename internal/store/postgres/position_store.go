package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/hedgerisk/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL. Each leg is
// stored as a set of primary_* / hedge_* columns on the positions row.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const legCols = `%[1]s_exchange, %[1]s_side, %[1]s_entry_price, %[1]s_current_price,
	%[1]s_filled_quantity, %[1]s_leverage, %[1]s_liquidation_price, %[1]s_proximity_ratio,
	%[1]s_in_danger, %[1]s_last_funding_paid, %[1]s_total_funding_earned, %[1]s_trading_fees`

var positionSelectCols = `id, symbol, status, started_at, ` +
	fmt.Sprintf(legCols, "primary") + `, ` +
	fmt.Sprintf(legCols, "hedge") + `,
	gross_profit, net_profit, expected_spread_per_hour, liquidation_alert_sent,
	last_liquidation_check, last_funding_update, funding_update_count`

func legDest(l *domain.Leg, side *string) []any {
	return []any{
		&l.Exchange, side, &l.EntryPrice, &l.CurrentPrice,
		&l.FilledQuantity, &l.Leverage, &l.LiquidationPrice, &l.ProximityRatio,
		&l.InDanger, &l.LastFundingPaid, &l.TotalFundingEarned, &l.TradingFees,
	}
}

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var status, primarySide, hedgeSide string

	dest := []any{&p.ID, &p.Symbol, &status, &p.StartedAt}
	dest = append(dest, legDest(&p.Primary, &primarySide)...)
	dest = append(dest, legDest(&p.Hedge, &hedgeSide)...)
	dest = append(dest,
		&p.GrossProfit, &p.NetProfit, &p.ExpectedSpreadPerHour, &p.LiquidationAlertSent,
		&p.LastLiquidationCheck, &p.LastFundingUpdate, &p.FundingUpdateCount,
	)

	if err := row.Scan(dest...); err != nil {
		return domain.Position{}, err
	}
	p.Status = domain.PositionStatus(status)
	p.Primary.Side = domain.Side(primarySide)
	p.Hedge.Side = domain.Side(hedgeSide)
	return p, nil
}

func legArgs(l domain.Leg) []any {
	return []any{
		l.Exchange, string(l.Side), l.EntryPrice, l.CurrentPrice,
		l.FilledQuantity, l.Leverage, l.LiquidationPrice, l.ProximityRatio,
		l.InDanger, l.LastFundingPaid, l.TotalFundingEarned, l.TradingFees,
	}
}

// Create inserts a new position.
func (s *PositionStore) Create(ctx context.Context, p domain.Position) error {
	if p.Status == "" {
		p.Status = domain.PositionStatusActive
	}

	args := []any{p.ID, p.Symbol, string(p.Status), p.StartedAt}
	args = append(args, legArgs(p.Primary)...)
	args = append(args, legArgs(p.Hedge)...)
	args = append(args,
		p.GrossProfit, p.NetProfit, p.ExpectedSpreadPerHour, p.LiquidationAlertSent,
		p.LastLiquidationCheck, p.LastFundingUpdate, p.FundingUpdateCount,
	)

	query := `INSERT INTO positions (` + positionSelectCols + `) VALUES (` + placeholders(len(args)) + `)`
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: create position %s: %w", p.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create position %s: %w", p.ID, err)
	}
	return nil
}

// GetByID retrieves a single position by its ID.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+positionSelectCols+` FROM positions WHERE id = $1`, id)
	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// ListActive returns every ACTIVE position, oldest first.
func (s *PositionStore) ListActive(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE status = 'ACTIVE' ORDER BY started_at`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active positions: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan active position: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list active positions rows: %w", err)
	}
	return out, nil
}

// UpdateRiskFields writes the monitor's columns in one statement. The alert
// latch is only touched when upd.AlertSent is set.
func (s *PositionStore) UpdateRiskFields(ctx context.Context, id string, upd domain.RiskUpdate) error {
	const query = `
		UPDATE positions SET
			primary_liquidation_price = $2,
			primary_proximity_ratio   = $3,
			primary_in_danger         = $4,
			hedge_liquidation_price   = $5,
			hedge_proximity_ratio     = $6,
			hedge_in_danger           = $7,
			last_liquidation_check    = $8,
			liquidation_alert_sent    = COALESCE($9::boolean, liquidation_alert_sent),
			updated_at                = NOW()
		WHERE id = $1 AND status = 'ACTIVE'`

	tag, err := s.pool.Exec(ctx, query, id,
		upd.Primary.LiquidationPrice, upd.Primary.ProximityRatio, upd.Primary.InDanger,
		upd.Hedge.LiquidationPrice, upd.Hedge.ProximityRatio, upd.Hedge.InDanger,
		upd.CheckedAt, upd.AlertSent,
	)
	if err != nil {
		return fmt.Errorf("postgres: update risk fields %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update risk fields %s: active position %w", id, domain.ErrNotFound)
	}
	return nil
}

// UpdateFundingFields writes the reconciler's columns in one statement. A nil
// leg keeps its stored values; the update counter is always incremented.
func (s *PositionStore) UpdateFundingFields(ctx context.Context, id string, upd domain.FundingUpdate) error {
	const query = `
		UPDATE positions SET
			primary_last_funding_paid    = COALESCE($2::double precision, primary_last_funding_paid),
			primary_total_funding_earned = COALESCE($3::double precision, primary_total_funding_earned),
			primary_trading_fees         = COALESCE($4::double precision, primary_trading_fees),
			hedge_last_funding_paid      = COALESCE($5::double precision, hedge_last_funding_paid),
			hedge_total_funding_earned   = COALESCE($6::double precision, hedge_total_funding_earned),
			hedge_trading_fees           = COALESCE($7::double precision, hedge_trading_fees),
			gross_profit                 = $8,
			net_profit                   = $9,
			expected_spread_per_hour     = COALESCE($10::double precision, expected_spread_per_hour),
			last_funding_update          = $11,
			funding_update_count         = funding_update_count + 1,
			updated_at                   = NOW()
		WHERE id = $1 AND status = 'ACTIVE'`

	pLast, pTotal, pFees := fundingArgs(upd.Primary)
	hLast, hTotal, hFees := fundingArgs(upd.Hedge)

	tag, err := s.pool.Exec(ctx, query, id,
		pLast, pTotal, pFees,
		hLast, hTotal, hFees,
		upd.Totals.GrossProfit, upd.Totals.NetProfit, upd.Totals.ExpectedSpreadPerHour,
		upd.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update funding fields %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update funding fields %s: active position %w", id, domain.ErrNotFound)
	}
	return nil
}

func fundingArgs(l *domain.FundingLegUpdate) (last, total, fees *float64) {
	if l == nil {
		return nil, nil, nil
	}
	return &l.LastFundingPaid, &l.TotalFundingEarned, &l.TradingFees
}

// UpdateStatus moves a position forward in its lifecycle. Backward or
// sideways moves return domain.ErrInvalidTransition.
func (s *PositionStore) UpdateStatus(ctx context.Context, id string, status domain.PositionStatus) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin status update %s: %w", id, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var current string
	if err := tx.QueryRow(ctx, `SELECT status FROM positions WHERE id = $1 FOR UPDATE`, id).Scan(&current); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("postgres: lock position %s: %w", id, err)
	}
	if !domain.PositionStatus(current).CanTransitionTo(status) {
		return fmt.Errorf("postgres: position %s %s -> %s: %w", id, current, status, domain.ErrInvalidTransition)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE positions SET status = $2, updated_at = NOW() WHERE id = $1`, id, string(status),
	); err != nil {
		return fmt.Errorf("postgres: update status %s: %w", id, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit status %s: %w", id, err)
	}
	return nil
}

// ClearLiquidationAlert resets the alert latch so the next danger entry
// alerts again.
func (s *PositionStore) ClearLiquidationAlert(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE positions SET liquidation_alert_sent = FALSE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: clear liquidation alert %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func placeholders(n int) string {
	var b []byte
	for i := 1; i <= n; i++ {
		if i > 1 {
			b = append(b, ", "...)
		}
		b = fmt.Appendf(b, "$%d", i)
	}
	return string(b)
}

var _ domain.PositionStore = (*PositionStore)(nil)
