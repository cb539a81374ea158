// Package config defines the engine's configuration and its validation.
package config

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by HEDGERISK_* environment variables.
type Config struct {
	Store      StoreConfig               `toml:"store"`
	Postgres   PostgresConfig            `toml:"postgres"`
	Redis      RedisConfig               `toml:"redis"`
	NATS       NATSConfig                `toml:"nats"`
	S3         S3Config                  `toml:"s3"`
	Risk       RiskConfig                `toml:"risk"`
	Settlement SettlementConfig          `toml:"settlement"`
	Connector  ConnectorConfig           `toml:"connector"`
	Exchanges  map[string]ExchangeConfig `toml:"exchanges"`
	Contracts  []ContractConfig          `toml:"contracts"`
	Notify     NotifyConfig              `toml:"notify"`
	Metrics    MetricsConfig             `toml:"metrics"`
	Mode       string                    `toml:"mode"`
	LogLevel   string                    `toml:"log_level"`
}

// StoreConfig selects the position store backend: "postgres" or "memory".
type StoreConfig struct {
	Backend string `toml:"backend"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters and the names the risk
// signal sink and tick lock use.
type RedisConfig struct {
	Enabled       bool   `toml:"enabled"`
	Addr          string `toml:"addr"`
	Password      string `toml:"password"`
	DB            int    `toml:"db"`
	PoolSize      int    `toml:"pool_size"`
	MaxRetries    int    `toml:"max_retries"`
	TLSEnabled    bool   `toml:"tls_enabled"`
	ChannelPrefix string `toml:"channel_prefix"`
	Stream        string `toml:"stream"`
	LockPrefix    string `toml:"lock_prefix"`
}

// NATSConfig holds the NATS signal publisher settings.
type NATSConfig struct {
	Enabled       bool   `toml:"enabled"`
	URL           string `toml:"url"`
	SubjectPrefix string `toml:"subject_prefix"`
	Flush         bool   `toml:"flush"`
}

// S3Config holds S3-compatible object storage parameters for the settlement
// archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// RiskConfig tunes the liquidation risk monitor.
type RiskConfig struct {
	Interval             duration `toml:"interval"`
	Workers              int      `toml:"workers"`
	DangerThreshold      float64  `toml:"danger_threshold"`
	CriticalThreshold    float64  `toml:"critical_threshold"`
	AutoClose            bool     `toml:"auto_close"`
	ClearAlertOnRecovery bool     `toml:"clear_alert_on_recovery"`
	// TickLock takes a Redis lock around each tick; needs redis.enabled.
	TickLock bool `toml:"tick_lock"`
}

// SettlementConfig tunes the settlement reconciler.
type SettlementConfig struct {
	Interval       duration `toml:"interval"`
	Workers        int      `toml:"workers"`
	ExpectedSpread bool     `toml:"expected_spread"`
}

// ConnectorConfig holds settings shared by every exchange connector.
type ConnectorConfig struct {
	CallTimeout duration `toml:"call_timeout"`
	SinkTimeout duration `toml:"sink_timeout"`
}

// Liquidation sources for ExchangeConfig.Liquidation.
const (
	LiquidationExchange = "exchange"
	LiquidationEstimate = "estimate"
)

// ExchangeConfig holds one exchange account. The map key in Config.Exchanges
// is the exchange name used in positions ("binance", "bybit", ...).
type ExchangeConfig struct {
	APIKey               string  `toml:"api_key"`
	APISecret            string  `toml:"api_secret"`
	BaseURL              string  `toml:"base_url"`
	RateLimit            float64 `toml:"rate_limit"`
	Burst                int     `toml:"burst"`
	FundingIntervalHours float64 `toml:"funding_interval_hours"`
	// Liquidation is "exchange" to read the exchange's own figure or
	// "estimate" to use the isolated-margin estimator.
	Liquidation     string  `toml:"liquidation"`
	MaintenanceRate float64 `toml:"maintenance_rate"`
}

// ContractConfig describes one exchange contract's sizing.
type ContractConfig struct {
	Exchange     string  `toml:"exchange"`
	Symbol       string  `toml:"symbol"`
	Multiplier   float64 `toml:"multiplier"`
	MinOrderSize float64 `toml:"min_order_size"`
	MaxOrderSize float64 `toml:"max_order_size"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	TelegramAPIBase   string   `toml:"telegram_api_base"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	DedupTTL          duration `toml:"dedup_ttl"`
}

// MetricsConfig controls the ops listener serving /metrics and /healthz.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with the values config.example.toml
// documents.
func Defaults() Config {
	return Config{
		Store: StoreConfig{Backend: "postgres"},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "hedgerisk",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:          "localhost:6379",
			PoolSize:      10,
			MaxRetries:    3,
			ChannelPrefix: "hedgerisk.signal",
			Stream:        "hedgerisk:signals",
			LockPrefix:    "hedgerisk:",
		},
		NATS: NATSConfig{
			URL:           "nats://127.0.0.1:4222",
			SubjectPrefix: "hedgerisk.risk",
		},
		S3: S3Config{
			Region:         "us-east-1",
			Bucket:         "hedgerisk",
			Prefix:         "settlements",
			ForcePathStyle: true,
		},
		Risk: RiskConfig{
			Interval:             duration{10 * time.Second},
			Workers:              4,
			DangerThreshold:      0.8,
			CriticalThreshold:    0.9,
			AutoClose:            false,
			ClearAlertOnRecovery: true,
		},
		Settlement: SettlementConfig{
			Interval:       duration{5 * time.Minute},
			Workers:        2,
			ExpectedSpread: true,
		},
		Connector: ConnectorConfig{
			CallTimeout: duration{10 * time.Second},
			SinkTimeout: duration{5 * time.Second},
		},
		Exchanges: map[string]ExchangeConfig{},
		Notify: NotifyConfig{
			Events:   []string{"positionInDanger", "positionCritical", "autoCloseTriggered"},
			DedupTTL: duration{15 * time.Minute},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9090",
		},
		Mode:     "engine",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"engine":  true,
	"monitor": true,
	"settle":  true,
	"watch":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validSignalKinds = map[string]bool{
	"riskUpdated":        true,
	"positionInDanger":   true,
	"positionCritical":   true,
	"autoCloseTriggered": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string
	mode := strings.ToLower(c.Mode)

	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: engine, monitor, settle, watch)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	switch c.Store.Backend {
	case "postgres":
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	case "memory":
	default:
		errs = append(errs, fmt.Sprintf("store: unknown backend %q (valid: postgres, memory)", c.Store.Backend))
	}

	if c.Redis.Enabled || mode == "watch" {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}
	if mode == "watch" && !c.Redis.Enabled {
		errs = append(errs, "redis: watch mode reads the signal stream and needs redis.enabled = true")
	}
	if c.Risk.TickLock && !c.Redis.Enabled {
		errs = append(errs, "risk: tick_lock needs redis.enabled = true")
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		errs = append(errs, "nats: url must not be empty when enabled")
	}
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when enabled")
		}
	}

	d, cr := c.Risk.DangerThreshold, c.Risk.CriticalThreshold
	if !(d > 0) || d > cr || cr > 1 {
		errs = append(errs, fmt.Sprintf("risk: thresholds must satisfy 0 < danger <= critical <= 1, got %v / %v", d, cr))
	}
	if c.Risk.Interval.Duration <= 0 {
		errs = append(errs, "risk: interval must be > 0")
	}
	if c.Risk.Workers < 1 {
		errs = append(errs, "risk: workers must be >= 1")
	}
	if c.Settlement.Interval.Duration <= 0 {
		errs = append(errs, "settlement: interval must be > 0")
	}
	if c.Settlement.Workers < 1 {
		errs = append(errs, "settlement: workers must be >= 1")
	}
	if c.Connector.CallTimeout.Duration <= 0 {
		errs = append(errs, "connector: call_timeout must be > 0")
	}

	needsExchanges := mode == "engine" || mode == "monitor" || mode == "settle"
	if needsExchanges && len(c.Exchanges) == 0 {
		errs = append(errs, "exchanges: at least one [exchanges.<name>] table is required for mode "+mode)
	}
	for _, name := range c.ExchangeNames() {
		ex := c.Exchanges[name]
		switch ex.Liquidation {
		case "", LiquidationExchange, LiquidationEstimate:
		default:
			errs = append(errs, fmt.Sprintf("exchanges.%s: liquidation must be %q or %q, got %q",
				name, LiquidationExchange, LiquidationEstimate, ex.Liquidation))
		}
		if ex.MaintenanceRate < 0 || ex.MaintenanceRate >= 1 {
			errs = append(errs, fmt.Sprintf("exchanges.%s: maintenance_rate must be in [0, 1)", name))
		}
		if ex.RateLimit < 0 || ex.Burst < 0 {
			errs = append(errs, fmt.Sprintf("exchanges.%s: rate_limit and burst must be >= 0", name))
		}
		if ex.FundingIntervalHours < 0 {
			errs = append(errs, fmt.Sprintf("exchanges.%s: funding_interval_hours must be >= 0", name))
		}
	}

	for i, ct := range c.Contracts {
		if ct.Exchange == "" || ct.Symbol == "" {
			errs = append(errs, fmt.Sprintf("contracts[%d]: exchange and symbol are required", i))
		}
		if ct.Multiplier <= 0 {
			errs = append(errs, fmt.Sprintf("contracts[%d]: multiplier must be > 0", i))
		}
		if ct.MaxOrderSize > 0 && ct.MinOrderSize > ct.MaxOrderSize {
			errs = append(errs, fmt.Sprintf("contracts[%d]: min_order_size exceeds max_order_size", i))
		}
	}

	for _, ev := range c.Notify.Events {
		if !validSignalKinds[ev] {
			errs = append(errs, fmt.Sprintf("notify: unknown event %q", ev))
		}
	}
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		errs = append(errs, "metrics: addr must not be empty when enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExchangeNames returns the configured exchange names in sorted order.
func (c *Config) ExchangeNames() []string {
	names := make([]string, 0, len(c.Exchanges))
	for n := range c.Exchanges {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
