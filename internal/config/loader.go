package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies HEDGERISK_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known HEDGERISK_* environment variables and
// overwrites the corresponding Config fields when a variable is set. Secrets
// are meant to arrive this way rather than through the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Store ──
	setStr(&cfg.Store.Backend, "HEDGERISK_STORE_BACKEND")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "HEDGERISK_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "HEDGERISK_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "HEDGERISK_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "HEDGERISK_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "HEDGERISK_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "HEDGERISK_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "HEDGERISK_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "HEDGERISK_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "HEDGERISK_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "HEDGERISK_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "HEDGERISK_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "HEDGERISK_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "HEDGERISK_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "HEDGERISK_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "HEDGERISK_REDIS_TLS_ENABLED")

	// ── NATS ──
	setBool(&cfg.NATS.Enabled, "HEDGERISK_NATS_ENABLED")
	setStr(&cfg.NATS.URL, "HEDGERISK_NATS_URL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "HEDGERISK_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "HEDGERISK_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "HEDGERISK_S3_REGION")
	setStr(&cfg.S3.Bucket, "HEDGERISK_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "HEDGERISK_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "HEDGERISK_S3_SECRET_KEY")

	// ── Risk ──
	setDuration(&cfg.Risk.Interval, "HEDGERISK_RISK_INTERVAL")
	setInt(&cfg.Risk.Workers, "HEDGERISK_RISK_WORKERS")
	setFloat64(&cfg.Risk.DangerThreshold, "HEDGERISK_RISK_DANGER_THRESHOLD")
	setFloat64(&cfg.Risk.CriticalThreshold, "HEDGERISK_RISK_CRITICAL_THRESHOLD")
	setBool(&cfg.Risk.AutoClose, "HEDGERISK_RISK_AUTO_CLOSE")
	setBool(&cfg.Risk.ClearAlertOnRecovery, "HEDGERISK_RISK_CLEAR_ALERT_ON_RECOVERY")
	setBool(&cfg.Risk.TickLock, "HEDGERISK_RISK_TICK_LOCK")

	// ── Settlement ──
	setDuration(&cfg.Settlement.Interval, "HEDGERISK_SETTLEMENT_INTERVAL")
	setInt(&cfg.Settlement.Workers, "HEDGERISK_SETTLEMENT_WORKERS")

	// ── Connector ──
	setDuration(&cfg.Connector.CallTimeout, "HEDGERISK_CONNECTOR_CALL_TIMEOUT")

	// ── Exchanges: credentials per configured exchange ──
	for name, ex := range cfg.Exchanges {
		prefix := "HEDGERISK_EXCHANGE_" + envName(name) + "_"
		setStr(&ex.APIKey, prefix+"API_KEY")
		setStr(&ex.APISecret, prefix+"API_SECRET")
		setStr(&ex.BaseURL, prefix+"BASE_URL")
		cfg.Exchanges[name] = ex
	}

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "HEDGERISK_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "HEDGERISK_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "HEDGERISK_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "HEDGERISK_NOTIFY_EVENTS")

	// ── Metrics ──
	setBool(&cfg.Metrics.Enabled, "HEDGERISK_METRICS_ENABLED")
	setStr(&cfg.Metrics.Addr, "HEDGERISK_METRICS_ADDR")

	// ── Top-level ──
	setStr(&cfg.Mode, "HEDGERISK_MODE")
	setStr(&cfg.LogLevel, "HEDGERISK_LOG_LEVEL")
}

// envName upper-cases an exchange name and maps anything outside [A-Z0-9]
// to '_' ("gate.io" -> "GATE_IO").
func envName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, name)
}

// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and parses.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
