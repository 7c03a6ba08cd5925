package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kayyshop/donorboard/internal/discord"
	"github.com/kayyshop/donorboard/internal/domain"
	"github.com/kayyshop/donorboard/internal/leaderboard"
	"github.com/kayyshop/donorboard/internal/notify"
	"github.com/kayyshop/donorboard/internal/reconcile"
)

// cycleLockKey guards reconciliation across processes sharing one backend.
const cycleLockKey = "cycle"

// Mailbox is a reconciliation source with a session lifecycle.
type Mailbox interface {
	reconcile.Source
	Connect(ctx context.Context) error
	Disconnect()
}

// Presenter renders the leaderboard where donors can see it.
type Presenter interface {
	ResolveChannel(ctx context.Context) (discord.Channel, error)
	Publish(ctx context.Context, snap leaderboard.Snapshot) error
}

// Archiver stores a copy of each published snapshot.
type Archiver interface {
	Archive(ctx context.Context, snapshot any) (string, error)
}

// Poller runs reconciliation cycles one after another.
type Poller struct {
	stores    domain.StateStores
	lock      domain.LockManager
	lockTTL   time.Duration
	bus       domain.SignalBus
	archiver  Archiver
	notifier  *notify.Notifier
	presenter Presenter
	mailbox   Mailbox
	driver    *reconcile.Driver
	latest    *leaderboard.Latest
	interval  time.Duration
	now       func() time.Time
	logger    *slog.Logger

	// presentPending is set when the last presentation failed so the next
	// cycle retries it even without new donations.
	presentPending bool
}

// PollerDeps are the collaborators of a Poller. Archiver and Notifier may
// be nil.
type PollerDeps struct {
	Stores    domain.StateStores
	Lock      domain.LockManager
	Bus       domain.SignalBus
	Archiver  Archiver
	Notifier  *notify.Notifier
	Presenter Presenter
	Mailbox   Mailbox
	Driver    *reconcile.Driver
	Latest    *leaderboard.Latest
}

// NewPoller creates a Poller that waits interval between cycles and holds
// the cycle lock for at most lockTTL.
func NewPoller(deps PollerDeps, interval, lockTTL time.Duration, logger *slog.Logger) *Poller {
	latest := deps.Latest
	if latest == nil {
		latest = &leaderboard.Latest{}
	}
	return &Poller{
		stores:    deps.Stores,
		lock:      deps.Lock,
		lockTTL:   lockTTL,
		bus:       deps.Bus,
		archiver:  deps.Archiver,
		notifier:  deps.Notifier,
		presenter: deps.Presenter,
		mailbox:   deps.Mailbox,
		driver:    deps.Driver,
		latest:    latest,
		interval:  interval,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "poller")),
	}
}

// Start checks the leaderboard channel and publishes the stored ledger so
// the leaderboard is current before the first cycle.
func (p *Poller) Start(ctx context.Context) error {
	if _, err := p.presenter.ResolveChannel(ctx); err != nil {
		return fmt.Errorf("app: resolve channel: %w", err)
	}
	ledger, err := p.stores.Ledger.Load(ctx)
	if err != nil {
		return fmt.Errorf("app: load ledger: %w", err)
	}
	p.publish(ctx, leaderboard.Build(ledger, p.now()))
	return nil
}

// Run calls Start, then runs cycles until ctx is cancelled. A failed cycle
// is logged and reported; the loop carries on.
func (p *Poller) Run(ctx context.Context) error {
	if err := p.Start(ctx); err != nil {
		return err
	}

	p.logger.InfoContext(ctx, "poll loop started", slog.Duration("interval", p.interval))
	for {
		if err := p.RunCycle(ctx); err != nil && ctx.Err() == nil {
			p.logger.ErrorContext(ctx, "cycle failed", slog.String("error", err.Error()))
			if nerr := p.notifier.CycleFailed(ctx, err); nerr != nil {
				p.logger.WarnContext(ctx, "failure notification not sent", slog.String("error", nerr.Error()))
			}
		}

		timer := time.NewTimer(p.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			p.logger.Info("poll loop stopped")
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// RunCycle performs one reconciliation: it loads state, reconciles the
// mailbox, persists the result and refreshes the leaderboard. Progress made
// before a transport failure is persisted before the failure is returned.
// The processed set is written before the ledger, so a failed ledger write
// drops that batch instead of crediting it twice.
func (p *Poller) RunCycle(ctx context.Context) error {
	unlock, err := p.lock.Acquire(ctx, cycleLockKey, p.lockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			p.logger.InfoContext(ctx, "another instance is reconciling, skipping cycle")
			return nil
		}
		return fmt.Errorf("app: acquire cycle lock: %w", err)
	}
	defer unlock()

	start := p.now()

	ledger, err := p.stores.Ledger.Load(ctx)
	if err != nil {
		return fmt.Errorf("app: load ledger: %w", err)
	}
	processed, err := p.stores.Processed.Load(ctx)
	if err != nil {
		return fmt.Errorf("app: load processed set: %w", err)
	}

	if err := p.mailbox.Connect(ctx); err != nil {
		return fmt.Errorf("app: connect mailbox: %w", err)
	}
	res, recErr := p.driver.Reconcile(ctx, ledger, processed, p.mailbox)
	p.mailbox.Disconnect()

	if res.Changed {
		// Progress is saved even when shutdown interrupted the batch.
		saveCtx := context.WithoutCancel(ctx)
		// Processed set first: if the ledger write fails the batch is lost,
		// never counted twice.
		if err := p.stores.Processed.Save(saveCtx, res.Processed); err != nil {
			return fmt.Errorf("app: save processed set: %w", err)
		}
		if err := p.stores.Ledger.Save(saveCtx, res.Ledger); err != nil {
			return fmt.Errorf("app: save ledger: %w", err)
		}
	}

	p.logger.InfoContext(ctx, "cycle finished",
		slog.Int("evaluated", res.Evaluated),
		slog.Int("skipped", res.Skipped),
		slog.Int("unavailable", res.Unavailable),
		slog.Int("credits", len(res.Credits)),
		slog.Bool("changed", res.Changed),
		slog.Duration("took", p.now().Sub(start)),
	)

	if res.Changed || p.presentPending {
		p.publish(ctx, leaderboard.Build(res.Ledger, p.now()))
	}

	for _, c := range res.Credits {
		if err := p.notifier.DonationReceived(ctx, c); err != nil {
			p.logger.WarnContext(ctx, "donation notification not sent",
				slog.String("donor_id", c.DonorID),
				slog.String("error", err.Error()),
			)
		}
	}

	return recErr
}

// publish fans snap out to every reader. Failures are logged only: state is
// already persisted by the time a snapshot is published.
func (p *Poller) publish(ctx context.Context, snap leaderboard.Snapshot) {
	p.latest.Set(snap)

	payload, err := json.Marshal(snap)
	if err != nil {
		p.logger.ErrorContext(ctx, "snapshot encode failed", slog.String("error", err.Error()))
	} else if p.bus != nil {
		if err := p.bus.Publish(ctx, leaderboard.Channel, payload); err != nil {
			p.logger.WarnContext(ctx, "snapshot broadcast failed", slog.String("error", err.Error()))
		}
	}

	if p.archiver != nil {
		key, err := p.archiver.Archive(ctx, snap)
		if err != nil {
			p.logger.WarnContext(ctx, "snapshot archive failed", slog.String("error", err.Error()))
		} else {
			p.logger.DebugContext(ctx, "snapshot archived", slog.String("key", key))
		}
	}

	if err := p.presenter.Publish(ctx, snap); err != nil {
		p.presentPending = true
		p.logger.ErrorContext(ctx, "leaderboard presentation failed, retrying next cycle",
			slog.String("error", err.Error()),
		)
		return
	}
	p.presentPending = false
}
