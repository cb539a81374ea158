// Package binance adapts the Binance USDⓈ-M futures API to the engine's
// normalized settlement, liquidation and funding-rate types.
package binance

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"github.com/alanyoungcy/hedgerisk/internal/domain"
)

// Exchange is the registry name of this adapter.
const Exchange = "binance"

const (
	incomeFunding    = "FUNDING_FEE"
	incomeCommission = "COMMISSION"
	incomePageLimit  = 1000
	maxIncomePages   = 50
)

// Config holds the credentials and endpoint for one Binance account.
type Config struct {
	APIKey               string
	APISecret            string
	BaseURL              string // empty uses the SDK default
	FundingIntervalHours float64
	HTTPTimeout          time.Duration
}

// Client implements connector.HistorySource, connector.LiquidationSource and
// connector.RateSource for Binance futures.
type Client struct {
	api             *futures.Client
	fundingInterval float64
	incomePage      func(ctx context.Context, symbol, incomeType string, startMs int64) ([]*futures.IncomeHistory, error)
}

// New creates a Client bound to cfg's credentials.
func New(cfg Config) *Client {
	api := futures.NewClient(cfg.APIKey, cfg.APISecret)
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	api.HTTPClient = &http.Client{Timeout: timeout}
	if cfg.BaseURL != "" {
		api.SetApiEndpoint(strings.TrimRight(cfg.BaseURL, "/"))
	}

	interval := cfg.FundingIntervalHours
	if interval <= 0 {
		interval = 8
	}
	c := &Client{api: api, fundingInterval: interval}
	c.incomePage = c.fetchIncomePage
	return c
}

// FundingHistory returns FUNDING_FEE income since the given time. Amounts are
// signed from the account's side: positive means funding was received.
func (c *Client) FundingHistory(ctx context.Context, symbol string, since time.Time) ([]domain.SettlementEvent, error) {
	rows, err := c.income(ctx, symbol, incomeFunding, since)
	if err != nil {
		return nil, err
	}
	return IncomeToEvents(rows, domain.SettlementFunding)
}

// FeeHistory returns COMMISSION income since the given time. Binance reports
// commissions as negative income.
func (c *Client) FeeHistory(ctx context.Context, symbol string, since time.Time) ([]domain.SettlementEvent, error) {
	rows, err := c.income(ctx, symbol, incomeCommission, since)
	if err != nil {
		return nil, err
	}
	return IncomeToEvents(rows, domain.SettlementFee)
}

// income pages forward through /fapi/v1/income by start time. Running out of
// pages before the history ends fails with domain.ErrHistoryTruncated rather
// than returning a short sum.
func (c *Client) income(ctx context.Context, symbol, incomeType string, since time.Time) ([]*futures.IncomeHistory, error) {
	if since.IsZero() {
		return nil, fmt.Errorf("binance: income %s %s: zero start time: %w", incomeType, symbol, domain.ErrMissingData)
	}

	var all []*futures.IncomeHistory
	start := since.UnixMilli()
	for page := 0; page < maxIncomePages; page++ {
		rows, err := c.incomePage(ctx, symbol, incomeType, start)
		if err != nil {
			return nil, fmt.Errorf("binance: income %s %s: %w", incomeType, symbol, err)
		}
		all = append(all, rows...)
		if len(rows) < incomePageLimit {
			return all, nil
		}
		start = rows[len(rows)-1].Time + 1
	}
	return nil, fmt.Errorf("binance: income %s %s: more than %d pages since %s: %w",
		incomeType, symbol, maxIncomePages, since.UTC().Format(time.RFC3339), domain.ErrHistoryTruncated)
}

func (c *Client) fetchIncomePage(ctx context.Context, symbol, incomeType string, startMs int64) ([]*futures.IncomeHistory, error) {
	return c.api.NewGetIncomeHistoryService().
		Symbol(symbol).
		IncomeType(incomeType).
		StartTime(startMs).
		Limit(incomePageLimit).
		Do(ctx)
}

// IncomeToEvents normalizes income rows.
func IncomeToEvents(rows []*futures.IncomeHistory, kind domain.SettlementKind) ([]domain.SettlementEvent, error) {
	out := make([]domain.SettlementEvent, 0, len(rows))
	for _, r := range rows {
		if r == nil {
			continue
		}
		amt, err := strconv.ParseFloat(r.Income, 64)
		if err != nil {
			return nil, fmt.Errorf("binance: parse income %q (tran %d): %w", r.Income, r.TranID, err)
		}
		out = append(out, domain.SettlementEvent{
			Exchange: Exchange,
			Symbol:   r.Symbol,
			Kind:     kind,
			Amount:   amt,
			Asset:    r.Asset,
			At:       time.UnixMilli(r.Time).UTC(),
			Ref:      strconv.FormatInt(r.TranID, 10),
		})
	}
	return out, nil
}

// LiquidationPrice returns the exchange-reported liquidation price of the
// open position on in.Side.
func (c *Client) LiquidationPrice(ctx context.Context, in domain.LiquidationInput) (float64, error) {
	rows, err := c.api.NewGetPositionRiskService().Symbol(in.Symbol).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("binance: position risk %s: %w", in.Symbol, err)
	}
	return PickLiquidationPrice(rows, in.Side)
}

// PickLiquidationPrice selects the row matching side. Hedge-mode rows carry
// LONG/SHORT; one-way rows carry BOTH and a signed position amount.
func PickLiquidationPrice(rows []*futures.PositionRisk, side domain.Side) (float64, error) {
	for _, r := range rows {
		if r == nil {
			continue
		}
		amt, _ := strconv.ParseFloat(r.PositionAmt, 64)
		if amt == 0 {
			continue
		}
		switch strings.ToUpper(r.PositionSide) {
		case "LONG":
			if side != domain.SideLong {
				continue
			}
		case "SHORT":
			if side != domain.SideShort {
				continue
			}
		default:
			if (amt > 0) != (side == domain.SideLong) {
				continue
			}
		}
		liq, err := strconv.ParseFloat(r.LiquidationPrice, 64)
		if err != nil {
			return 0, fmt.Errorf("binance: parse liquidation price %q: %w", r.LiquidationPrice, err)
		}
		if liq <= 0 || math.IsNaN(liq) {
			return 0, fmt.Errorf("binance: no liquidation price reported for %s %s", r.Symbol, side)
		}
		return liq, nil
	}
	return 0, fmt.Errorf("binance: no open %s position", side)
}

// FundingRate returns the last funding rate from the premium index.
func (c *Client) FundingRate(ctx context.Context, symbol string) (domain.FundingRate, error) {
	rows, err := c.api.NewPremiumIndexService().Symbol(symbol).Do(ctx)
	if err != nil {
		return domain.FundingRate{}, fmt.Errorf("binance: premium index %s: %w", symbol, err)
	}
	for _, r := range rows {
		if r == nil || !strings.EqualFold(r.Symbol, symbol) {
			continue
		}
		rate, err := strconv.ParseFloat(r.LastFundingRate, 64)
		if err != nil {
			return domain.FundingRate{}, fmt.Errorf("binance: parse funding rate %q: %w", r.LastFundingRate, err)
		}
		return domain.FundingRate{
			Exchange:      Exchange,
			Symbol:        r.Symbol,
			Rate:          rate,
			IntervalHours: c.fundingInterval,
			NextFunding:   time.UnixMilli(r.NextFundingTime).UTC(),
		}, nil
	}
	return domain.FundingRate{}, fmt.Errorf("binance: premium index %s: symbol not returned", symbol)
}
