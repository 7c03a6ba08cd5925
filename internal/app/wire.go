package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/kayyshop/donorboard/internal/blob/s3"
	"github.com/kayyshop/donorboard/internal/bus"
	"github.com/kayyshop/donorboard/internal/cache/redis"
	"github.com/kayyshop/donorboard/internal/config"
	"github.com/kayyshop/donorboard/internal/discord"
	"github.com/kayyshop/donorboard/internal/domain"
	"github.com/kayyshop/donorboard/internal/extract"
	"github.com/kayyshop/donorboard/internal/identity"
	"github.com/kayyshop/donorboard/internal/mailbox"
	"github.com/kayyshop/donorboard/internal/notify"
	"github.com/kayyshop/donorboard/internal/reconcile"
	"github.com/kayyshop/donorboard/internal/server/handler"
	filestore "github.com/kayyshop/donorboard/internal/store/file"
	"github.com/kayyshop/donorboard/internal/store/postgres"
)

// Dependencies bundles every concrete collaborator built from the
// configuration. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	Stores   domain.StateStores
	Lock     domain.LockManager
	Bus      domain.SignalBus
	Archiver Archiver

	Notifier  *notify.Notifier
	Presenter *discord.Presenter
	Mailbox   *mailbox.IMAP
	Driver    *reconcile.Driver
	Resolver  identity.Resolver

	// Checks feed the health endpoint, one per remote dependency.
	Checks map[string]handler.Check
}

// Wire constructs all dependency implementations from cfg and returns them
// together with a cleanup function that should be called on shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{Checks: make(map[string]handler.Check)}

	// --- Redis: cycle lock and signal bus, optionally state ---
	var redisClient *redis.Client
	if cfg.UsesRedis() {
		rc, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = rc.Close() })
		redisClient = rc
		deps.Lock = redis.NewLockManager(rc)
		deps.Bus = redis.NewSignalBus(rc)
		deps.Checks["redis"] = rc.Ping
	} else {
		deps.Lock = newProcessLock()
		deps.Bus = bus.NewMemory()
	}

	// --- State backend ---
	switch cfg.Storage.Backend {
	case "redis":
		deps.Stores = redis.NewStateStores(redisClient, logger)
	case "postgres":
		pg, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
		}, logger)
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pg.Close)
		if cfg.Postgres.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		deps.Stores = postgres.NewStateStores(pg)
		deps.Checks["postgres"] = pg.Pool().Ping
	default:
		stores, err := filestore.Open(cfg.Storage.Dir, logger)
		if err != nil {
			return fail(fmt.Errorf("wire: file store: %w", err))
		}
		deps.Stores = stores
	}

	// --- S3 snapshot archive ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), cfg.S3.Prefix)
		deps.Checks["s3"] = s3Client.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender("", cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Discord presentation ---
	deps.Presenter = discord.NewPresenter(
		discord.NewClient(cfg.Discord.Token, cfg.Discord.APIURL),
		deps.Stores.Pointer,
		discord.PresenterConfig{
			GuildID:   cfg.Discord.GuildID,
			ChannelID: cfg.Discord.ChannelID,
			Render: discord.RenderOptions{
				DonateLink: cfg.Leaderboard.DonateLink,
				Community:  cfg.Leaderboard.Community,
			},
		},
		logger,
	)

	// --- Mailbox and reconciliation ---
	mode, err := identity.ParseMode(cfg.IMAP.Identity)
	if err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}
	deps.Resolver = identity.NewResolver(mode)
	deps.Mailbox = mailbox.New(mailbox.Config{
		Addr:         cfg.IMAP.Server,
		Username:     cfg.IMAP.Email,
		Password:     cfg.IMAP.Password,
		Mailbox:      cfg.IMAP.Mailbox,
		Senders:      cfg.IMAP.Senders,
		MaxPerSender: cfg.IMAP.MaxEmails,
		UseUID:       deps.Resolver.Stable(),
		DisableTLS:   cfg.IMAP.DisableTLS,
		Timeout:      cfg.IMAP.Timeout.Duration,
	}, logger)

	extractor, err := extract.New(extract.Options{
		CurrencyMarkers: cfg.Extract.CurrencyMarkers,
		MaxAmount:       cfg.MaxAmount(),
	})
	if err != nil {
		return fail(fmt.Errorf("wire: extractor: %w", err))
	}
	deps.Driver = reconcile.NewDriver(extractor, deps.Resolver, logger)

	return deps, cleanup, nil
}
