// Package app wires the donorboard dependencies together and runs the poll
// loop alongside the optional status server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kayyshop/donorboard/internal/config"
	"github.com/kayyshop/donorboard/internal/identity"
	"github.com/kayyshop/donorboard/internal/leaderboard"
	"github.com/kayyshop/donorboard/internal/server"
	"github.com/kayyshop/donorboard/internal/server/handler"
	"github.com/kayyshop/donorboard/internal/server/ws"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies and blocks running the poll loop (and the
// status server when enabled) until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	deps, err := a.wire(ctx)
	if err != nil {
		return err
	}
	started := time.Now().UTC()
	latest := &leaderboard.Latest{}
	poller := a.newPoller(deps, latest)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return poller.Run(ctx)
	})

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, latest, started)
	}

	return g.Wait()
}

// RunOnce resolves the channel, publishes the stored ledger and runs a
// single cycle.
func (a *App) RunOnce(ctx context.Context) error {
	deps, err := a.wire(ctx)
	if err != nil {
		return err
	}
	poller := a.newPoller(deps, nil)
	if err := poller.Start(ctx); err != nil {
		return err
	}
	return poller.RunCycle(ctx)
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) wire(ctx context.Context) (*Dependencies, error) {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("storage", a.cfg.Storage.Backend),
		slog.String("identity", a.cfg.IMAP.Identity),
		slog.Duration("interval", a.cfg.EffectiveInterval()),
		slog.Any("config", config.RedactedConfig(a.cfg)),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return nil, fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	if deps.Resolver.Mode() == identity.ModeSequence {
		a.logger.WarnContext(ctx, "identity mode seq: sequence numbers shift when mail is deleted, "+
			"which can skip or double count donations; set imap.identity = \"uid\" for a stable identity")
	}
	return deps, nil
}

func (a *App) newPoller(deps *Dependencies, latest *leaderboard.Latest) *Poller {
	return NewPoller(PollerDeps{
		Stores:    deps.Stores,
		Lock:      deps.Lock,
		Bus:       deps.Bus,
		Archiver:  deps.Archiver,
		Notifier:  deps.Notifier,
		Presenter: deps.Presenter,
		Mailbox:   deps.Mailbox,
		Driver:    deps.Driver,
		Latest:    latest,
	}, a.cfg.EffectiveInterval(), a.cfg.Poll.LockTTL.Duration, a.logger)
}

// startHTTPServer adds the status server and its WebSocket hub to g.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, latest *leaderboard.Latest, started time.Time) {
	hub := ws.NewHub(deps.Bus, latest, a.logger)
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}, server.Handlers{
		Health:      handler.NewHealthHandler(deps.Checks, a.logger),
		Leaderboard: handler.NewLeaderboardHandler(latest),
		Status: handler.NewStatusHandler(handler.StatusInfo{
			Identity:     string(deps.Resolver.Mode()),
			Storage:      a.cfg.Storage.Backend,
			PollInterval: a.cfg.EffectiveInterval(),
			StartedAt:    started,
		}),
	}, hub, a.logger)

	g.Go(func() error {
		if err := hub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("ws hub: %w", err)
		}
		return nil
	})

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
