package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/hedgerisk/internal/arbitrage"
)

func writeContracts(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[[contracts]]
exchange = "gateio"
symbol = "BTC_USDT"
multiplier = 10
min_order_size = 1

[[contracts]]
exchange = "bybit"
symbol = "BTCUSDT"
multiplier = 1
`), 0o600))
	return path
}

func TestRun_JSON(t *testing.T) {
	var out bytes.Buffer
	err := run([]string{
		"-config", writeContracts(t),
		"-a", "gateio:BTC_USDT",
		"-b", "bybit:BTCUSDT",
		"-qty", "64",
		"-parts", "2",
		"-json",
	}, &out)
	require.NoError(t, err)

	var res arbitrage.GraduatedResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	assert.Equal(t, 2, res.Parts)
	assert.Equal(t, 30.0, res.QuantityPerPart)
	assert.Equal(t, 3.0, res.PerPart.LegA.Contracts)
	assert.Equal(t, 30.0, res.PerPart.LegB.Contracts)
	assert.Equal(t, 60.0, res.TotalEffectiveQuantity)
}

func TestRun_Table(t *testing.T) {
	var out bytes.Buffer
	err := run([]string{"-config", writeContracts(t), "-a", "gateio:BTC_USDT", "-b", "bybit:BTCUSDT", "-qty", "30"}, &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "gateio:BTC_USDT")
	assert.Contains(t, out.String(), "effective total")
}

func TestRun_BadArgs(t *testing.T) {
	var out bytes.Buffer
	assert.ErrorContains(t, run([]string{"-a", "gateio", "-b", "bybit:BTCUSDT", "-qty", "1"}, &out), "exchange:symbol")
	assert.Error(t, run([]string{"-config", writeContracts(t), "-a", "gateio:BTC_USDT", "-b", "bybit:BTCUSDT", "-qty", "1", "-parts", "0"}, &out))
}

func TestRun_UnknownLeg(t *testing.T) {
	var out bytes.Buffer
	err := run([]string{
		"-config", writeContracts(t),
		"-a", "gateio:BTCUSDT",
		"-b", "bybit:BTCUSDT",
		"-qty", "75",
		"-parts", "5",
	}, &out)
	assert.ErrorContains(t, err, "gateio:BTCUSDT is not in [[contracts]]")
	assert.Empty(t, out.String())
}

func TestRun_AssumeUnit(t *testing.T) {
	var out bytes.Buffer
	err := run([]string{
		"-config", writeContracts(t),
		"-a", "okx:BTC-USDT-SWAP",
		"-b", "bybit:BTCUSDT",
		"-qty", "75",
		"-parts", "5",
		"-assume-unit",
		"-json",
	}, &out)
	require.NoError(t, err)

	var res arbitrage.GraduatedResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	assert.Equal(t, 15.0, res.QuantityPerPart)
	assert.Equal(t, 75.0, res.TotalEffectiveQuantity)
}
