// Package bybit adapts the Bybit v5 unified-account API to the engine's
// normalized settlement, liquidation and funding-rate types.
package bybit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	bybit "github.com/bybit-exchange/bybit.go.api"

	"github.com/alanyoungcy/hedgerisk/internal/domain"
)

// Exchange is the registry name of this adapter.
const Exchange = "bybit"

const (
	mainnetURL = "https://api.bybit.com"
	category   = "linear"

	// The transaction log only accepts ranges of at most seven days.
	logWindow         = 7 * 24 * time.Hour
	logPageLimit      = 50
	maxPagesPerWindow = 20

	typeSettlement = "SETTLEMENT"
	typeTrade      = "TRADE"
)

// Config holds the credentials and endpoint for one Bybit account.
type Config struct {
	APIKey               string
	APISecret            string
	BaseURL              string // empty uses mainnet
	FundingIntervalHours float64
	HTTPTimeout          time.Duration
}

// Client implements connector.HistorySource, connector.LiquidationSource and
// connector.RateSource for Bybit linear perpetuals.
type Client struct {
	api             *bybit.Client
	fundingInterval float64
	now             func() time.Time
	logPage         func(ctx context.Context, params map[string]interface{}) (transactionLog, error)
}

// New creates a Client bound to cfg's credentials.
func New(cfg Config) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = mainnetURL
	}
	api := bybit.NewBybitHttpClient(cfg.APIKey, cfg.APISecret, bybit.WithBaseURL(strings.TrimRight(base, "/")))
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	api.HTTPClient = &http.Client{Timeout: timeout}

	interval := cfg.FundingIntervalHours
	if interval <= 0 {
		interval = 8
	}
	c := &Client{api: api, fundingInterval: interval, now: time.Now}
	c.logPage = c.fetchLogPage
	return c
}

// transactionLog is the part of /v5/account/transaction-log the engine reads.
type transactionLog struct {
	List []struct {
		ID              string `json:"id"`
		Symbol          string `json:"symbol"`
		Type            string `json:"type"`
		Currency        string `json:"currency"`
		Funding         string `json:"funding"`
		Fee             string `json:"fee"`
		TransactionTime string `json:"transactionTime"`
	} `json:"list"`
	NextPageCursor string `json:"nextPageCursor"`
}

// FundingHistory returns SETTLEMENT entries since the given time. Bybit
// reports funding as an expense, so the sign is flipped: positive means
// funding was received.
func (c *Client) FundingHistory(ctx context.Context, symbol string, since time.Time) ([]domain.SettlementEvent, error) {
	return c.history(ctx, symbol, typeSettlement, domain.SettlementFunding, since)
}

// FeeHistory returns TRADE entries' fees since the given time.
func (c *Client) FeeHistory(ctx context.Context, symbol string, since time.Time) ([]domain.SettlementEvent, error) {
	return c.history(ctx, symbol, typeTrade, domain.SettlementFee, since)
}

// history walks [since, now) in seven-day windows. Each window is half-open
// except the last, which includes now, so a boundary row is read once. A
// window with more pages than maxPagesPerWindow fails with
// domain.ErrHistoryTruncated rather than returning a short sum.
func (c *Client) history(ctx context.Context, symbol, logType string, kind domain.SettlementKind, since time.Time) ([]domain.SettlementEvent, error) {
	if since.IsZero() {
		return nil, fmt.Errorf("bybit: transaction log %s: zero start time: %w", logType, domain.ErrMissingData)
	}

	var out []domain.SettlementEvent
	end := c.now()
	for from := since; from.Before(end); from = from.Add(logWindow) {
		to := from.Add(logWindow)
		endMs := to.UnixMilli() - 1
		if !to.Before(end) {
			endMs = end.UnixMilli()
		}

		events, err := c.window(ctx, symbol, logType, kind, from.UnixMilli(), endMs)
		if err != nil {
			return nil, err
		}
		out = append(out, events...)
	}
	return out, nil
}

// window reads every page of one transaction-log window. Both bounds are
// inclusive milliseconds.
func (c *Client) window(ctx context.Context, symbol, logType string, kind domain.SettlementKind, startMs, endMs int64) ([]domain.SettlementEvent, error) {
	var out []domain.SettlementEvent
	cursor := ""
	for page := 0; page < maxPagesPerWindow; page++ {
		params := map[string]interface{}{
			"accountType": "UNIFIED",
			"category":    category,
			"currency":    "USDT",
			"type":        logType,
			"startTime":   startMs,
			"endTime":     endMs,
			"limit":       logPageLimit,
		}
		if cursor != "" {
			params["cursor"] = cursor
		}

		tl, err := c.logPage(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("bybit: transaction log %s: %w", logType, err)
		}
		events, err := logToEvents(tl, symbol, kind)
		if err != nil {
			return nil, err
		}
		out = append(out, events...)

		if tl.NextPageCursor == "" || len(tl.List) < logPageLimit {
			return out, nil
		}
		cursor = tl.NextPageCursor
	}
	return nil, fmt.Errorf("bybit: transaction log %s: more than %d pages from %d to %d: %w",
		logType, maxPagesPerWindow, startMs, endMs, domain.ErrHistoryTruncated)
}

func (c *Client) fetchLogPage(ctx context.Context, params map[string]interface{}) (transactionLog, error) {
	resp, err := c.api.NewUtaBybitServiceWithParams(params).GetTransactionLog(ctx)
	if err != nil {
		return transactionLog{}, err
	}
	if err := checkResponse(resp); err != nil {
		return transactionLog{}, err
	}
	var tl transactionLog
	if err := decodeResult(resp.Result, &tl); err != nil {
		return transactionLog{}, fmt.Errorf("decode: %w", err)
	}
	return tl, nil
}

// logToEvents normalizes transaction-log rows for symbol. Rows for other
// symbols, and SETTLEMENT rows with no funding, are dropped.
func logToEvents(tl transactionLog, symbol string, kind domain.SettlementKind) ([]domain.SettlementEvent, error) {
	out := make([]domain.SettlementEvent, 0, len(tl.List))
	for _, r := range tl.List {
		if symbol != "" && !strings.EqualFold(r.Symbol, symbol) {
			continue
		}

		raw := r.Fee
		if kind == domain.SettlementFunding {
			raw = r.Funding
		}
		if raw == "" {
			continue
		}
		amt, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("bybit: parse amount %q (id %s): %w", raw, r.ID, err)
		}
		if kind == domain.SettlementFunding {
			amt = -amt
		}

		ms, err := strconv.ParseInt(r.TransactionTime, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bybit: parse transaction time %q (id %s): %w", r.TransactionTime, r.ID, err)
		}

		out = append(out, domain.SettlementEvent{
			Exchange: Exchange,
			Symbol:   r.Symbol,
			Kind:     kind,
			Amount:   amt,
			Asset:    r.Currency,
			At:       time.UnixMilli(ms).UTC(),
			Ref:      r.ID,
		})
	}
	return out, nil
}

type positionList struct {
	List []struct {
		Symbol   string `json:"symbol"`
		Side     string `json:"side"`
		Size     string `json:"size"`
		LiqPrice string `json:"liqPrice"`
	} `json:"list"`
}

// LiquidationPrice returns the exchange-reported liquidation price of the
// open position on in.Side.
func (c *Client) LiquidationPrice(ctx context.Context, in domain.LiquidationInput) (float64, error) {
	resp, err := c.api.NewUtaBybitServiceWithParams(map[string]interface{}{
		"category": category,
		"symbol":   in.Symbol,
	}).GetPositionList(ctx)
	if err != nil {
		return 0, fmt.Errorf("bybit: position list %s: %w", in.Symbol, err)
	}
	if err := checkResponse(resp); err != nil {
		return 0, fmt.Errorf("bybit: position list %s: %w", in.Symbol, err)
	}

	var pl positionList
	if err := decodeResult(resp.Result, &pl); err != nil {
		return 0, fmt.Errorf("bybit: decode position list: %w", err)
	}
	return pickLiquidationPrice(pl, in.Side)
}

// pickLiquidationPrice selects the open position on side.
func pickLiquidationPrice(pl positionList, side domain.Side) (float64, error) {
	want := "Buy"
	if side == domain.SideShort {
		want = "Sell"
	}
	for _, p := range pl.List {
		if p.Side != want {
			continue
		}
		if size, _ := strconv.ParseFloat(p.Size, 64); size == 0 {
			continue
		}
		// liqPrice is empty when the account margin mode has no per-position
		// liquidation price.
		if p.LiqPrice == "" {
			return 0, fmt.Errorf("bybit: no liquidation price reported for %s %s", p.Symbol, side)
		}
		liq, err := strconv.ParseFloat(p.LiqPrice, 64)
		if err != nil {
			return 0, fmt.Errorf("bybit: parse liqPrice %q: %w", p.LiqPrice, err)
		}
		if liq <= 0 {
			return 0, fmt.Errorf("bybit: no liquidation price reported for %s %s", p.Symbol, side)
		}
		return liq, nil
	}
	return 0, fmt.Errorf("bybit: no open %s position", side)
}

type tickers struct {
	List []struct {
		Symbol          string `json:"symbol"`
		FundingRate     string `json:"fundingRate"`
		NextFundingTime string `json:"nextFundingTime"`
	} `json:"list"`
}

// FundingRate returns the current funding rate from the linear tickers.
func (c *Client) FundingRate(ctx context.Context, symbol string) (domain.FundingRate, error) {
	resp, err := c.api.NewUtaBybitServiceWithParams(map[string]interface{}{
		"category": category,
		"symbol":   symbol,
	}).GetMarketTickers(ctx)
	if err != nil {
		return domain.FundingRate{}, fmt.Errorf("bybit: tickers %s: %w", symbol, err)
	}
	if err := checkResponse(resp); err != nil {
		return domain.FundingRate{}, fmt.Errorf("bybit: tickers %s: %w", symbol, err)
	}

	var tk tickers
	if err := decodeResult(resp.Result, &tk); err != nil {
		return domain.FundingRate{}, fmt.Errorf("bybit: decode tickers: %w", err)
	}
	return tickerToRate(tk, symbol, c.fundingInterval)
}

// tickerToRate extracts symbol's funding rate.
func tickerToRate(tk tickers, symbol string, intervalHours float64) (domain.FundingRate, error) {
	for _, t := range tk.List {
		if !strings.EqualFold(t.Symbol, symbol) {
			continue
		}
		rate, err := strconv.ParseFloat(t.FundingRate, 64)
		if err != nil {
			return domain.FundingRate{}, fmt.Errorf("bybit: parse fundingRate %q: %w", t.FundingRate, err)
		}
		fr := domain.FundingRate{
			Exchange:      Exchange,
			Symbol:        t.Symbol,
			Rate:          rate,
			IntervalHours: intervalHours,
		}
		if ms, err := strconv.ParseInt(t.NextFundingTime, 10, 64); err == nil {
			fr.NextFunding = time.UnixMilli(ms).UTC()
		}
		return fr, nil
	}
	return domain.FundingRate{}, fmt.Errorf("bybit: tickers %s: symbol not returned", symbol)
}

func checkResponse(resp *bybit.ServerResponse) error {
	if resp == nil {
		return errors.New("empty response")
	}
	if resp.RetCode != 0 {
		return fmt.Errorf("retCode %d: %s", resp.RetCode, resp.RetMsg)
	}
	return nil
}

// decodeResult re-encodes the SDK's untyped result into a narrow struct.
func decodeResult(result interface{}, dst any) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}
