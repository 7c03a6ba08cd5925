package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load merges the TOML file at path (skipped when path is empty) over the
// defaults, loads .env if present and applies environment overrides. The
// result is not validated; call Config.Validate.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	_ = godotenv.Load()

	applyLegacyEnv(&cfg)
	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyLegacyEnv honours the variable names of the first deployment so an
// existing .env keeps working. DONORBOARD_* variables win over these.
func applyLegacyEnv(cfg *Config) {
	setStr(&cfg.Discord.Token, "DISCORD_TOKEN")
	setStr(&cfg.Discord.GuildID, "GUILD_ID")
	setStr(&cfg.Discord.ChannelID, "DONATIONS_CHANNEL_ID")
	setStr(&cfg.IMAP.Server, "IMAP_SERVER")
	setStr(&cfg.IMAP.Email, "IMAP_EMAIL")
	setStr(&cfg.IMAP.Password, "IMAP_PASSWORD")
	setStringSlice(&cfg.IMAP.Senders, "PAYPAL_SENDERS")
	setStr(&cfg.Leaderboard.DonateLink, "PAYPAL_ME")
	setSeconds(&cfg.Poll.Interval, "POLL_SECONDS")
	setInt(&cfg.IMAP.MaxEmails, "MAX_EMAILS")
}

// applyEnvOverrides reads DONORBOARD_* variables and overwrites the matching
// fields when a variable is set and non-empty.
func applyEnvOverrides(cfg *Config) {
	// ── IMAP ──
	setStr(&cfg.IMAP.Server, "DONORBOARD_IMAP_SERVER")
	setStr(&cfg.IMAP.Email, "DONORBOARD_IMAP_EMAIL")
	setStr(&cfg.IMAP.Password, "DONORBOARD_IMAP_PASSWORD")
	setStr(&cfg.IMAP.Mailbox, "DONORBOARD_IMAP_MAILBOX")
	setStringSlice(&cfg.IMAP.Senders, "DONORBOARD_IMAP_SENDERS")
	setInt(&cfg.IMAP.MaxEmails, "DONORBOARD_IMAP_MAX_EMAILS")
	setStr(&cfg.IMAP.Identity, "DONORBOARD_IMAP_IDENTITY")
	setBool(&cfg.IMAP.DisableTLS, "DONORBOARD_IMAP_DISABLE_TLS")
	setDuration(&cfg.IMAP.Timeout, "DONORBOARD_IMAP_TIMEOUT")

	// ── Discord ──
	setStr(&cfg.Discord.Token, "DONORBOARD_DISCORD_TOKEN")
	setStr(&cfg.Discord.GuildID, "DONORBOARD_DISCORD_GUILD_ID")
	setStr(&cfg.Discord.ChannelID, "DONORBOARD_DISCORD_CHANNEL_ID")
	setStr(&cfg.Discord.APIURL, "DONORBOARD_DISCORD_API_URL")

	// ── Leaderboard ──
	setStr(&cfg.Leaderboard.DonateLink, "DONORBOARD_LEADERBOARD_DONATE_LINK")
	setStr(&cfg.Leaderboard.Community, "DONORBOARD_LEADERBOARD_COMMUNITY")

	// ── Extract ──
	setStringSlice(&cfg.Extract.CurrencyMarkers, "DONORBOARD_EXTRACT_CURRENCY_MARKERS")
	setStr(&cfg.Extract.MaxAmount, "DONORBOARD_EXTRACT_MAX_AMOUNT")

	// ── Poll ──
	setDuration(&cfg.Poll.Interval, "DONORBOARD_POLL_INTERVAL")
	setDuration(&cfg.Poll.MinInterval, "DONORBOARD_POLL_MIN_INTERVAL")
	setDuration(&cfg.Poll.LockTTL, "DONORBOARD_POLL_LOCK_TTL")

	// ── Storage ──
	setStr(&cfg.Storage.Backend, "DONORBOARD_STORAGE_BACKEND")
	setStr(&cfg.Storage.Dir, "DONORBOARD_STORAGE_DIR")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "DONORBOARD_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "DONORBOARD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "DONORBOARD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "DONORBOARD_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "DONORBOARD_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "DONORBOARD_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "DONORBOARD_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "DONORBOARD_REDIS_KEY_PREFIX")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "DONORBOARD_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "DONORBOARD_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "DONORBOARD_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "DONORBOARD_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "DONORBOARD_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "DONORBOARD_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "DONORBOARD_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "DONORBOARD_POSTGRES_POOL_MAX_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "DONORBOARD_POSTGRES_RUN_MIGRATIONS")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "DONORBOARD_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "DONORBOARD_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "DONORBOARD_S3_REGION")
	setStr(&cfg.S3.Bucket, "DONORBOARD_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "DONORBOARD_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "DONORBOARD_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "DONORBOARD_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "DONORBOARD_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.Prefix, "DONORBOARD_S3_PREFIX")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "DONORBOARD_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "DONORBOARD_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "DONORBOARD_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "DONORBOARD_SERVER_API_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "DONORBOARD_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "DONORBOARD_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "DONORBOARD_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "DONORBOARD_NOTIFY_EVENTS")

	setStr(&cfg.LogLevel, "DONORBOARD_LOG_LEVEL")
}

// Typed env-var helpers. Each only mutates the target when the variable is
// present and parses.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
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

// setSeconds reads a plain integer number of seconds.
func setSeconds(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			dst.Duration = time.Duration(n) * time.Second
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
