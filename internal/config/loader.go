package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies SWIV_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known SWIV_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e.
// not empty). This lets operators inject secrets at deploy time without
// touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Protocol ──
	setStr(&cfg.Protocol.Admin, "SWIV_PROTOCOL_ADMIN")
	setStr(&cfg.Protocol.Treasury, "SWIV_PROTOCOL_TREASURY")
	setUint64(&cfg.Protocol.FeeBps, "SWIV_PROTOCOL_FEE_BPS")
	setUint64(&cfg.Protocol.RefundPenaltyBps, "SWIV_PROTOCOL_REFUND_PENALTY_BPS")
	setInt64(&cfg.Protocol.BatchSettleWait, "SWIV_PROTOCOL_BATCH_SETTLE_WAIT")
	setInt64(&cfg.Protocol.EmergencyTimeout, "SWIV_PROTOCOL_EMERGENCY_TIMEOUT")

	// ── Store ──
	setStr(&cfg.Store.Backend, "SWIV_STORE_BACKEND")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "SWIV_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "SWIV_POSTGRES_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "SWIV_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "SWIV_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "SWIV_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "SWIV_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "SWIV_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "SWIV_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "SWIV_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "SWIV_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "SWIV_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "SWIV_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "SWIV_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SWIV_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SWIV_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SWIV_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SWIV_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SWIV_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "SWIV_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "SWIV_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SWIV_S3_REGION")
	setStr(&cfg.S3.Bucket, "SWIV_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SWIV_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SWIV_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "SWIV_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "SWIV_S3_FORCE_PATH_STYLE")

	// ── Delegation ──
	setDuration(&cfg.Delegation.HandoffTTL, "SWIV_DELEGATION_HANDOFF_TTL")
	setDuration(&cfg.Delegation.PollInterval, "SWIV_DELEGATION_POLL_INTERVAL")
	setBool(&cfg.Delegation.AuthRequired, "SWIV_DELEGATION_AUTH_REQUIRED")

	// ── Notify ──
	setBool(&cfg.Notify.Enabled, "SWIV_NOTIFY_ENABLED")
	setStr(&cfg.Notify.TelegramToken, "SWIV_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SWIV_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhook, "SWIV_NOTIFY_DISCORD_WEBHOOK")
	setStringSlice(&cfg.Notify.Events, "SWIV_NOTIFY_EVENTS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "SWIV_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "SWIV_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "SWIV_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.AuthToken, "SWIV_SERVER_AUTH_TOKEN")

	// ── Top-level ──
	setStr(&cfg.Mode, "SWIV_MODE")
	setStr(&cfg.LogLevel, "SWIV_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
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
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
