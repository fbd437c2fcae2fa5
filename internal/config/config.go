// Package config defines the top-level configuration for the settlement
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/swivlabs/swiv-engine/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by SWIV_* environment variables.
type Config struct {
	Protocol   ProtocolConfig   `toml:"protocol"`
	Store      StoreConfig      `toml:"store"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Delegation DelegationConfig `toml:"delegation"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// ProtocolConfig holds the settlement parameters used to initialize the
// protocol config record on first boot. Once the record exists these values
// are ignored; runtime changes go through the admin update endpoint.
type ProtocolConfig struct {
	Admin            string `toml:"admin"`
	Treasury         string `toml:"treasury"`
	FeeBps           uint64 `toml:"fee_bps"`
	RefundPenaltyBps uint64 `toml:"refund_penalty_bps"`
	BatchSettleWait  int64  `toml:"batch_settle_wait"`
	EmergencyTimeout int64  `toml:"emergency_timeout"`
}

// StoreConfig selects the persistence backend for pool and bet records.
type StoreConfig struct {
	// Backend is "memory" or "postgres".
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

// RedisConfig holds Redis connection parameters. Redis carries the handoff
// locks and the cross-process event feed.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for settlement
// snapshot archival.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// DelegationConfig tunes the delegated execution environment.
type DelegationConfig struct {
	// HandoffTTL bounds how long a handoff lock may be held before it
	// expires on its own.
	HandoffTTL duration `toml:"handoff_ttl"`
	// PollInterval is the probe spacing for WaitForBet / WaitForPool.
	PollInterval duration `toml:"poll_interval"`
	// AuthRequired makes delegated-path operations fail closed when no
	// session provider is wired.
	AuthRequired bool `toml:"auth_required"`
}

// duration wraps time.Duration so the TOML decoder can parse strings like
// "5m" or "30s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// NotifyConfig configures outbound operator alerts. A channel is active when
// its credentials are set; Events restricts announcements to the listed event
// types (empty means all).
type NotifyConfig struct {
	Enabled        bool     `toml:"enabled"`
	TelegramToken  string   `toml:"telegram_token"`
	TelegramChatID string   `toml:"telegram_chat_id"`
	DiscordWebhook string   `toml:"discord_webhook"`
	Events         []string `toml:"events"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	AuthToken   string   `toml:"auth_token"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Protocol: ProtocolConfig{
			FeeBps:           250,
			RefundPenaltyBps: domain.DefaultRefundPenaltyBps,
			BatchSettleWait:  domain.DefaultBatchSettleWait,
			EmergencyTimeout: domain.DefaultEmergencyTimeout,
		},
		Store: StoreConfig{
			Backend: "memory",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "swiv",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "swiv-settlements",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Delegation: DelegationConfig{
			HandoffTTL:   duration{30 * time.Second},
			PollInterval: duration{250 * time.Millisecond},
			AuthRequired: false,
		},
		Notify: NotifyConfig{
			Enabled: false,
			Events:  []string{"pool_resolved", "weights_finalized", "reward_claimed"},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server": true,
	"worker": true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validBackends enumerates the accepted values for Store.Backend.
var validBackends = map[string]bool{
	"memory":   true,
	"postgres": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, worker, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Protocol — admin and treasury must be well-formed addresses.
	if c.Protocol.Admin == "" {
		errs = append(errs, "protocol: admin must not be empty")
	} else if !common.IsHexAddress(c.Protocol.Admin) {
		errs = append(errs, fmt.Sprintf("protocol: admin %q is not a hex address", c.Protocol.Admin))
	}
	if c.Protocol.Treasury == "" {
		errs = append(errs, "protocol: treasury must not be empty")
	} else if !common.IsHexAddress(c.Protocol.Treasury) {
		errs = append(errs, fmt.Sprintf("protocol: treasury %q is not a hex address", c.Protocol.Treasury))
	}
	if c.Protocol.FeeBps > domain.BpsDenominator {
		errs = append(errs, fmt.Sprintf("protocol: fee_bps must be <= %d, got %d", domain.BpsDenominator, c.Protocol.FeeBps))
	}
	if c.Protocol.RefundPenaltyBps > domain.BpsDenominator {
		errs = append(errs, fmt.Sprintf("protocol: refund_penalty_bps must be <= %d, got %d", domain.BpsDenominator, c.Protocol.RefundPenaltyBps))
	}
	if c.Protocol.BatchSettleWait < 0 {
		errs = append(errs, "protocol: batch_settle_wait must be >= 0")
	}
	if c.Protocol.EmergencyTimeout <= 0 {
		errs = append(errs, "protocol: emergency_timeout must be > 0")
	}

	// Store backend
	if !validBackends[strings.ToLower(c.Store.Backend)] {
		errs = append(errs, fmt.Sprintf("store: unknown backend %q (valid: memory, postgres)", c.Store.Backend))
	}

	// Postgres — only checked when selected as the backend.
	if strings.ToLower(c.Store.Backend) == "postgres" {
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
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	// Delegation
	if c.Delegation.HandoffTTL.Duration <= 0 {
		errs = append(errs, "delegation: handoff_ttl must be > 0")
	}
	if c.Delegation.PollInterval.Duration <= 0 {
		errs = append(errs, "delegation: poll_interval must be > 0")
	}

	// Notify
	if c.Notify.Enabled {
		if c.Notify.TelegramToken == "" && c.Notify.DiscordWebhook == "" {
			errs = append(errs, "notify: enabled but no channel configured (set telegram_token or discord_webhook)")
		}
		if c.Notify.TelegramToken != "" && c.Notify.TelegramChatID == "" {
			errs = append(errs, "notify: telegram_chat_id must be set alongside telegram_token")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ProtocolDefaults converts the bootstrap section into the domain record
// persisted on first Initialize.
func (c *Config) ProtocolDefaults() domain.ProtocolConfig {
	return domain.ProtocolConfig{
		Admin:            common.HexToAddress(c.Protocol.Admin),
		Treasury:         common.HexToAddress(c.Protocol.Treasury),
		FeeBps:           c.Protocol.FeeBps,
		RefundPenaltyBps: c.Protocol.RefundPenaltyBps,
		BatchSettleWait:  c.Protocol.BatchSettleWait,
		EmergencyTimeout: c.Protocol.EmergencyTimeout,
	}
}
