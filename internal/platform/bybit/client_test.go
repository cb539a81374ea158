package bybit

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/hedgerisk/internal/domain"
)

// Result payloads as the SDK hands them back: an untyped map decoded from
// the response body.
func untyped(t *testing.T, body string) interface{} {
	t.Helper()
	var v interface{}
	require.NoError(t, json.Unmarshal([]byte(body), &v))
	return v
}

func TestLogToEvents_Funding(t *testing.T) {
	var tl transactionLog
	require.NoError(t, decodeResult(untyped(t, `{
		"list": [
			{"id":"a1","symbol":"BTCUSDT","type":"SETTLEMENT","currency":"USDT","funding":"-0.0125","fee":"","transactionTime":"1700000000000"},
			{"id":"a2","symbol":"BTCUSDT","type":"SETTLEMENT","currency":"USDT","funding":"0.004","fee":"","transactionTime":"1700028800000"},
			{"id":"a3","symbol":"ETHUSDT","type":"SETTLEMENT","currency":"USDT","funding":"-1","fee":"","transactionTime":"1700028800000"}
		],
		"nextPageCursor": ""
	}`), &tl))

	events, err := logToEvents(tl, "BTCUSDT", domain.SettlementFunding)
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, domain.SettlementEvent{
		Exchange: "bybit",
		Symbol:   "BTCUSDT",
		Kind:     domain.SettlementFunding,
		Amount:   0.0125,
		Asset:    "USDT",
		At:       time.UnixMilli(1_700_000_000_000).UTC(),
		Ref:      "a1",
	}, events[0])
	assert.Equal(t, -0.004, events[1].Amount, "positive funding is an expense")
}

func TestLogToEvents_Fee(t *testing.T) {
	var tl transactionLog
	require.NoError(t, decodeResult(untyped(t, `{"list":[
		{"id":"t1","symbol":"BTCUSDT","type":"TRADE","currency":"USDT","funding":"","fee":"0.33","transactionTime":"1700000000000"},
		{"id":"t2","symbol":"BTCUSDT","type":"TRADE","currency":"USDT","funding":"","fee":"","transactionTime":"1700000000001"}
	]}`), &tl))

	events, err := logToEvents(tl, "BTCUSDT", domain.SettlementFee)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, 0.33, events[0].Amount)
	assert.Equal(t, domain.SettlementFee, events[0].Kind)
}

func TestLogToEvents_BadTime(t *testing.T) {
	var tl transactionLog
	require.NoError(t, decodeResult(untyped(t, `{"list":[{"id":"x","symbol":"BTCUSDT","funding":"1","transactionTime":"soon"}]}`), &tl))
	_, err := logToEvents(tl, "BTCUSDT", domain.SettlementFunding)
	assert.Error(t, err)
}

func TestPickLiquidationPrice(t *testing.T) {
	var pl positionList
	require.NoError(t, decodeResult(untyped(t, `{"list":[
		{"symbol":"BTCUSDT","side":"Buy","size":"0.5","liqPrice":"52000.5"},
		{"symbol":"BTCUSDT","side":"Sell","size":"0","liqPrice":""}
	]}`), &pl))

	liq, err := pickLiquidationPrice(pl, domain.SideLong)
	require.NoError(t, err)
	assert.Equal(t, 52000.5, liq)

	_, err = pickLiquidationPrice(pl, domain.SideShort)
	assert.Error(t, err)
}

func TestPickLiquidationPrice_EmptyLiq(t *testing.T) {
	var pl positionList
	require.NoError(t, decodeResult(untyped(t, `{"list":[{"symbol":"BTCUSDT","side":"Sell","size":"1","liqPrice":""}]}`), &pl))
	_, err := pickLiquidationPrice(pl, domain.SideShort)
	assert.Error(t, err)
}

func TestTickerToRate(t *testing.T) {
	var tk tickers
	require.NoError(t, decodeResult(untyped(t, `{"list":[
		{"symbol":"BTCUSDT","fundingRate":"0.0001","nextFundingTime":"1700006400000"}
	]}`), &tk))

	fr, err := tickerToRate(tk, "btcusdt", 8)
	require.NoError(t, err)
	assert.Equal(t, 0.0001, fr.Rate)
	assert.Equal(t, 8.0, fr.IntervalHours)
	assert.Equal(t, time.UnixMilli(1_700_006_400_000).UTC(), fr.NextFunding)

	_, err = tickerToRate(tk, "ETHUSDT", 8)
	assert.Error(t, err)
}

// feePage builds a transaction-log page of n ETHUSDT TRADE rows.
func feePage(t *testing.T, n int, cursor string) transactionLog {
	t.Helper()
	rows := make([]map[string]string, n)
	for i := range rows {
		rows[i] = map[string]string{
			"id":              strconv.Itoa(i),
			"symbol":          "ETHUSDT",
			"type":            typeTrade,
			"currency":        "USDT",
			"fee":             "0.1",
			"transactionTime": "1777000000000",
		}
	}
	raw, err := json.Marshal(map[string]any{"list": rows, "nextPageCursor": cursor})
	require.NoError(t, err)
	var tl transactionLog
	require.NoError(t, json.Unmarshal(raw, &tl))
	return tl
}

func fixedClient(now time.Time, page func(context.Context, map[string]interface{}) (transactionLog, error)) *Client {
	return &Client{fundingInterval: 8, now: func() time.Time { return now }, logPage: page}
}

func TestFeeHistory_PagesThroughCursor(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	calls := 0
	c := fixedClient(now, func(_ context.Context, params map[string]interface{}) (transactionLog, error) {
		calls++
		if calls == 1 {
			assert.NotContains(t, params, "cursor")
			return feePage(t, logPageLimit, "c2"), nil
		}
		assert.Equal(t, "c2", params["cursor"])
		return feePage(t, 3, ""), nil
	})

	events, err := c.FeeHistory(context.Background(), "ETHUSDT", now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Len(t, events, logPageLimit+3)
	assert.Equal(t, 2, calls)
}

func TestFeeHistory_TruncatedWindowFails(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	calls := 0
	c := fixedClient(now, func(context.Context, map[string]interface{}) (transactionLog, error) {
		calls++
		return feePage(t, logPageLimit, "more"), nil
	})

	events, err := c.FeeHistory(context.Background(), "ETHUSDT", now.Add(-time.Hour))
	assert.ErrorIs(t, err, domain.ErrHistoryTruncated)
	assert.Nil(t, events, "a partial fee sum must not be returned")
	assert.Equal(t, maxPagesPerWindow, calls)
}

func TestHistory_ZeroStartTime(t *testing.T) {
	c := fixedClient(time.Now(), func(context.Context, map[string]interface{}) (transactionLog, error) {
		t.Fatal("no request expected")
		return transactionLog{}, nil
	})

	_, err := c.FundingHistory(context.Background(), "ETHUSDT", time.Time{})
	assert.ErrorIs(t, err, domain.ErrMissingData)
}

func TestHistory_WindowsAreHalfOpen(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	since := now.Add(-10 * 24 * time.Hour)
	var ranges [][2]int64
	c := fixedClient(now, func(_ context.Context, params map[string]interface{}) (transactionLog, error) {
		ranges = append(ranges, [2]int64{params["startTime"].(int64), params["endTime"].(int64)})
		return feePage(t, 0, ""), nil
	})

	_, err := c.FundingHistory(context.Background(), "ETHUSDT", since)
	require.NoError(t, err)
	require.Len(t, ranges, 2)
	assert.Equal(t, since.UnixMilli(), ranges[0][0])
	assert.Equal(t, ranges[1][0]-1, ranges[0][1], "adjacent windows must not share a millisecond")
	assert.Equal(t, now.UnixMilli(), ranges[1][1])
}
