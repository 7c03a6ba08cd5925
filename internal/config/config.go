// Package config defines the donorboard configuration and its validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config is the root configuration. Fields come from an optional TOML file
// and are then overridden by environment variables.
type Config struct {
	IMAP        IMAPConfig        `toml:"imap"`
	Discord     DiscordConfig     `toml:"discord"`
	Leaderboard LeaderboardConfig `toml:"leaderboard"`
	Extract     ExtractConfig     `toml:"extract"`
	Poll        PollConfig        `toml:"poll"`
	Storage     StorageConfig     `toml:"storage"`
	Redis       RedisConfig       `toml:"redis"`
	Postgres    PostgresConfig    `toml:"postgres"`
	S3          S3Config          `toml:"s3"`
	Server      ServerConfig      `toml:"server"`
	Notify      NotifyConfig      `toml:"notify"`
	LogLevel    string            `toml:"log_level"`
}

// IMAPConfig describes the mailbox that receives payment notifications.
type IMAPConfig struct {
	Server   string `toml:"server"`
	Email    string `toml:"email"`
	Password string `toml:"password"`
	Mailbox  string `toml:"mailbox"`
	// Senders are the approved notification senders.
	Senders []string `toml:"senders"`
	// MaxEmails keeps only the newest N messages per sender; 0 keeps all.
	MaxEmails int `toml:"max_emails"`
	// Identity is "seq" (sequence numbers) or "uid".
	Identity   string   `toml:"identity"`
	DisableTLS bool     `toml:"disable_tls"`
	Timeout    duration `toml:"timeout"`
}

// DiscordConfig holds the bot credentials and the leaderboard channel.
type DiscordConfig struct {
	Token     string `toml:"token"`
	GuildID   string `toml:"guild_id"`
	ChannelID string `toml:"channel_id"`
	APIURL    string `toml:"api_url"`
}

// LeaderboardConfig holds the texts shown on the leaderboard.
type LeaderboardConfig struct {
	DonateLink string `toml:"donate_link"`
	Community  string `toml:"community"`
}

// ExtractConfig tunes the payment extractor.
type ExtractConfig struct {
	CurrencyMarkers []string `toml:"currency_markers"`
	// MaxAmount is a decimal string, e.g. "10000".
	MaxAmount string `toml:"max_amount"`
}

// PollConfig controls the reconciliation loop.
type PollConfig struct {
	Interval    duration `toml:"interval"`
	MinInterval duration `toml:"min_interval"`
	LockTTL     duration `toml:"lock_ttl"`
}

// StorageConfig selects where ledger and processed-set live.
type StorageConfig struct {
	// Backend is "file", "redis" or "postgres".
	Backend string `toml:"backend"`
	// Dir holds the JSON documents of the file backend.
	Dir string `toml:"dir"`
}

// RedisConfig holds Redis connection parameters. Redis is used as state
// backend, cycle lock and signal bus when enabled.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
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
	RunMigrations bool   `toml:"run_migrations"`
}

// S3Config holds S3-compatible object storage parameters for snapshot
// archiving.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	Prefix         string `toml:"prefix"`
}

// duration wraps time.Duration so TOML strings like "5m" decode.
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

// ServerConfig holds the status HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey protects every route but /api/health when set.
	APIKey string `toml:"api_key"`
}

// NotifyConfig holds operator notification channels.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with the default values.
func Defaults() Config {
	return Config{
		IMAP: IMAPConfig{
			Server:   "imap.gmail.com",
			Mailbox:  "INBOX",
			Identity: "seq",
			Timeout:  duration{30 * time.Second},
		},
		Leaderboard: LeaderboardConfig{
			Community: "KayyShop",
		},
		Extract: ExtractConfig{
			CurrencyMarkers: []string{"€", "EUR"},
			MaxAmount:       "10000",
		},
		Poll: PollConfig{
			Interval:    duration{60 * time.Second},
			MinInterval: duration{30 * time.Second},
			LockTTL:     duration{5 * time.Minute},
		},
		Storage: StorageConfig{
			Backend: "file",
			Dir:     ".",
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
			KeyPrefix:  "donorboard:",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "donorboard",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  4,
			RunMigrations: true,
		},
		S3: S3Config{
			Region:         "us-east-1",
			ForcePathStyle: true,
			Prefix:         "leaderboard",
		},
		Server: ServerConfig{
			Port: 8080,
		},
		Notify: NotifyConfig{
			Events: []string{"donation_received", "error"},
		},
		LogLevel: "info",
	}
}

// EffectiveInterval is the pause between cycles: the configured interval,
// never below the floor.
func (c *Config) EffectiveInterval() time.Duration {
	if c.Poll.Interval.Duration < c.Poll.MinInterval.Duration {
		return c.Poll.MinInterval.Duration
	}
	return c.Poll.Interval.Duration
}

// MaxAmount returns the parsed extract.max_amount.
func (c *Config) MaxAmount() decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(c.Extract.MaxAmount))
	if err != nil {
		return decimal.Zero
	}
	return d
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validBackends = map[string]bool{
	"file":     true,
	"redis":    true,
	"postgres": true,
}

// UsesRedis reports whether a Redis connection is needed.
func (c *Config) UsesRedis() bool {
	return c.Redis.Enabled || c.Storage.Backend == "redis"
}

// Validate checks Config for missing or invalid values and returns one error
// describing every problem found.
func (c *Config) Validate() error {
	var errs []string
	required := func(v, name string) {
		if strings.TrimSpace(v) == "" {
			errs = append(errs, name+" is required")
		}
	}

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// IMAP
	required(c.IMAP.Server, "imap: server")
	required(c.IMAP.Email, "imap: email")
	required(c.IMAP.Password, "imap: password")
	if len(c.IMAP.Senders) == 0 {
		errs = append(errs, "imap: at least one sender is required")
	}
	if c.IMAP.MaxEmails < 0 {
		errs = append(errs, "imap: max_emails must be >= 0")
	}
	if c.IMAP.Identity != "seq" && c.IMAP.Identity != "uid" {
		errs = append(errs, fmt.Sprintf("imap: identity must be seq or uid, got %q", c.IMAP.Identity))
	}

	// Discord
	required(c.Discord.Token, "discord: token")
	required(c.Discord.GuildID, "discord: guild_id")
	required(c.Discord.ChannelID, "discord: channel_id")

	// Extract
	if len(c.Extract.CurrencyMarkers) == 0 {
		errs = append(errs, "extract: currency_markers must not be empty")
	}
	if !c.MaxAmount().IsPositive() {
		errs = append(errs, fmt.Sprintf("extract: max_amount must be a positive number, got %q", c.Extract.MaxAmount))
	}

	// Poll
	if c.Poll.Interval.Duration <= 0 {
		errs = append(errs, "poll: interval must be > 0")
	}
	if c.Poll.MinInterval.Duration < 0 {
		errs = append(errs, "poll: min_interval must be >= 0")
	}
	if c.Poll.LockTTL.Duration <= 0 {
		errs = append(errs, "poll: lock_ttl must be > 0")
	}

	// Storage
	if !validBackends[c.Storage.Backend] {
		errs = append(errs, fmt.Sprintf("storage: unknown backend %q (valid: file, redis, postgres)", c.Storage.Backend))
	}
	if c.Storage.Backend == "file" && c.Storage.Dir == "" {
		errs = append(errs, "storage: dir must not be empty for the file backend")
	}

	if c.UsesRedis() {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.Storage.Backend == "postgres" && strings.TrimSpace(c.Postgres.DSN) == "" {
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

	if c.S3.Enabled {
		required(c.S3.Bucket, "s3: bucket")
		required(c.S3.Region, "s3: region")
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
