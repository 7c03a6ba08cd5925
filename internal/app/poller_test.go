package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kayyshop/donorboard/internal/bus"
	"github.com/kayyshop/donorboard/internal/discord"
	"github.com/kayyshop/donorboard/internal/domain"
	"github.com/kayyshop/donorboard/internal/extract"
	"github.com/kayyshop/donorboard/internal/identity"
	"github.com/kayyshop/donorboard/internal/leaderboard"
	"github.com/kayyshop/donorboard/internal/notify"
	"github.com/kayyshop/donorboard/internal/reconcile"
)

const donor = "399876603229896704"

func donationMail(amount string) []byte {
	return []byte("From: service@paypal.es\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"Ha recibido " + amount + " €\r\n" +
		"Nota de Juan\r\n" +
		donor + "\r\n")
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- fakes ---

type memLedger struct {
	mu    sync.Mutex
	v     domain.Ledger
	saves int
	err   error
}

func (m *memLedger) Load(context.Context) (domain.Ledger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.v, nil
}

func (m *memLedger) Save(_ context.Context, l domain.Ledger) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.v = l
	m.saves++
	return nil
}

type memProcessed struct {
	mu    sync.Mutex
	v     domain.ProcessedSet
	saves int
	err   error
}

func (m *memProcessed) Load(context.Context) (domain.ProcessedSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.v, nil
}

func (m *memProcessed) Save(_ context.Context, s domain.ProcessedSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.v = s
	m.saves++
	return nil
}

type memPointer struct{ v domain.PresentationPointer }

func (m *memPointer) Load(context.Context) (domain.PresentationPointer, error) { return m.v, nil }
func (m *memPointer) Save(_ context.Context, p domain.PresentationPointer) error {
	m.v = p
	return nil
}

type fakeMailbox struct {
	mu         sync.Mutex
	refs       []domain.MessageRef
	bodies     map[uint32][]byte
	fetchErrs  map[uint32]error
	connectErr error
	connects   int
	open       bool
}

func (f *fakeMailbox) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.connectErr != nil {
		return f.connectErr
	}
	f.open = true
	return nil
}

func (f *fakeMailbox) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = false
}

func (f *fakeMailbox) Search(context.Context) ([]domain.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.MessageRef(nil), f.refs...), nil
}

func (f *fakeMailbox) Fetch(_ context.Context, ref domain.MessageRef) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.open {
		return nil, domain.ErrTransport
	}
	if err := f.fetchErrs[ref.SeqNum]; err != nil {
		return nil, err
	}
	body, ok := f.bodies[ref.SeqNum]
	if !ok {
		return nil, domain.ErrMessageUnavailable
	}
	return body, nil
}

func (f *fakeMailbox) add(seq uint32, body []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bodies == nil {
		f.bodies = make(map[uint32][]byte)
	}
	f.refs = append(f.refs, domain.MessageRef{SeqNum: seq, UID: seq + 100})
	f.bodies[seq] = body
}

type fakePresenter struct {
	mu         sync.Mutex
	resolveErr error
	publishErr error
	published  []leaderboard.Snapshot
}

func (f *fakePresenter) ResolveChannel(context.Context) (discord.Channel, error) {
	if f.resolveErr != nil {
		return discord.Channel{}, f.resolveErr
	}
	return discord.Channel{ID: "2", GuildID: "1", Name: "donaciones"}, nil
}

func (f *fakePresenter) Publish(_ context.Context, snap leaderboard.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, snap)
	return nil
}

func (f *fakePresenter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

type recordingArchiver struct {
	snaps []any
}

func (r *recordingArchiver) Archive(_ context.Context, snapshot any) (string, error) {
	r.snaps = append(r.snaps, snapshot)
	return fmt.Sprintf("leaderboard/%d.json", len(r.snaps)), nil
}

type recordingSender struct {
	mu       sync.Mutex
	messages []string
}

func (r *recordingSender) Send(_ context.Context, title, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, title+": "+message)
	return nil
}

func (r *recordingSender) Name() string { return "recording" }

type fixture struct {
	ledger    *memLedger
	processed *memProcessed
	mailbox   *fakeMailbox
	presenter *fakePresenter
	archiver  *recordingArchiver
	sender    *recordingSender
	lock      *processLock
	bus       *bus.Memory
	latest    *leaderboard.Latest
	poller    *Poller
}

func newFixture(interval time.Duration) *fixture {
	f := &fixture{
		ledger:    &memLedger{v: domain.NewLedger(nil)},
		processed: &memProcessed{v: domain.NewProcessedSet()},
		mailbox:   &fakeMailbox{},
		presenter: &fakePresenter{},
		archiver:  &recordingArchiver{},
		sender:    &recordingSender{},
		lock:      newProcessLock(),
		bus:       bus.NewMemory(),
		latest:    &leaderboard.Latest{},
	}
	logger := quietLogger()
	f.poller = NewPoller(PollerDeps{
		Stores: domain.StateStores{
			Ledger:    f.ledger,
			Processed: f.processed,
			Pointer:   &memPointer{},
		},
		Lock:      f.lock,
		Bus:       f.bus,
		Archiver:  f.archiver,
		Notifier:  notify.NewNotifier([]notify.Sender{f.sender}, nil, logger),
		Presenter: f.presenter,
		Mailbox:   f.mailbox,
		Driver:    reconcile.NewDriver(extract.MustNew(extract.Options{}), identity.NewResolver(identity.ModeSequence), logger),
		Latest:    f.latest,
	}, interval, time.Minute, logger)
	return f
}

// --- tests ---

func TestRunCycleCreditsAndPublishes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(time.Minute)
	f.mailbox.add(1, donationMail("45,00"))
	f.mailbox.add(2, donationMail("5,50"))

	sub, err := f.bus.Subscribe(ctx, leaderboard.Channel)
	require.NoError(t, err)

	require.NoError(t, f.poller.RunCycle(ctx))

	assert.Equal(t, "50.50", f.ledger.v.Total(donor).StringFixed(2))
	assert.Equal(t, []string{"1", "2"}, f.processed.v.Sorted())
	assert.False(t, f.mailbox.open)

	require.Equal(t, 1, f.presenter.count())
	assert.Equal(t, donor, f.presenter.published[0].Entries[0].DonorID)
	assert.Len(t, f.archiver.snaps, 1)

	snap, ok := f.latest.Get()
	require.True(t, ok)
	assert.Equal(t, "50.50", snap.Total.StringFixed(2))

	select {
	case payload := <-sub:
		assert.Contains(t, string(payload), `"total":"50.50"`)
	case <-time.After(time.Second):
		t.Fatal("snapshot not broadcast")
	}

	require.Len(t, f.sender.messages, 2)
	assert.Contains(t, f.sender.messages[1], "total 50.50 €")
}

func TestRunCycleWithoutNewMailChangesNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(time.Minute)
	f.mailbox.add(1, donationMail("45,00"))

	require.NoError(t, f.poller.RunCycle(ctx))
	require.NoError(t, f.poller.RunCycle(ctx))

	assert.Equal(t, 1, f.ledger.saves)
	assert.Equal(t, 1, f.processed.saves)
	assert.Equal(t, 1, f.presenter.count())
	assert.Equal(t, "45.00", f.ledger.v.Total(donor).StringFixed(2))
	assert.Equal(t, 2, f.mailbox.connects)
}

func TestRunCycleSkipsWhileLockHeld(t *testing.T) {
	f := newFixture(time.Minute)
	unlock, err := f.lock.Acquire(context.Background(), cycleLockKey, time.Minute)
	require.NoError(t, err)
	defer unlock()

	require.NoError(t, f.poller.RunCycle(context.Background()))
	assert.Zero(t, f.mailbox.connects)
}

func TestRunCycleConnectFailure(t *testing.T) {
	f := newFixture(time.Minute)
	f.mailbox.connectErr = fmt.Errorf("mailbox: dial: %w", domain.ErrTransport)

	err := f.poller.RunCycle(context.Background())
	require.ErrorIs(t, err, domain.ErrTransport)
	assert.Zero(t, f.ledger.saves)
	assert.Zero(t, f.presenter.count())

	// the lock is released for the next cycle
	unlock, err := f.lock.Acquire(context.Background(), cycleLockKey, time.Minute)
	require.NoError(t, err)
	unlock()
}

func TestRunCyclePersistsPartialProgress(t *testing.T) {
	f := newFixture(time.Minute)
	f.mailbox.add(1, donationMail("10,00"))
	f.mailbox.add(2, donationMail("20,00"))
	f.mailbox.fetchErrs = map[uint32]error{2: fmt.Errorf("mailbox: fetch: %w", domain.ErrTransport)}

	err := f.poller.RunCycle(context.Background())
	require.ErrorIs(t, err, domain.ErrTransport)

	assert.Equal(t, "10.00", f.ledger.v.Total(donor).StringFixed(2))
	assert.Equal(t, []string{"1"}, f.processed.v.Sorted())
	assert.Equal(t, 1, f.presenter.count())
}

func TestRunCycleSaveFailure(t *testing.T) {
	f := newFixture(time.Minute)
	f.mailbox.add(1, donationMail("10,00"))
	f.processed.err = errors.New("disk full")

	err := f.poller.RunCycle(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "save processed set")
	assert.Zero(t, f.ledger.saves)
	assert.Zero(t, f.presenter.count())
}

func TestLedgerSaveFailureNeverDoubleCounts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(time.Minute)
	f.mailbox.add(1, donationMail("10,00"))
	f.ledger.err = errors.New("disk full")

	err := f.poller.RunCycle(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "save ledger")
	assert.Equal(t, 1, f.processed.saves)

	f.ledger.err = nil
	require.NoError(t, f.poller.RunCycle(ctx))
	require.NoError(t, f.poller.RunCycle(ctx))
	assert.Zero(t, f.ledger.saves)
	assert.True(t, f.ledger.v.Total(donor).IsZero())
}

func TestPresentationRetriedNextCycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(time.Minute)
	f.mailbox.add(1, donationMail("10,00"))
	f.presenter.publishErr = fmt.Errorf("discord: %w", domain.ErrTransport)

	require.NoError(t, f.poller.RunCycle(ctx))
	assert.Equal(t, 1, f.ledger.saves)
	assert.Zero(t, f.presenter.count())

	f.presenter.publishErr = nil
	require.NoError(t, f.poller.RunCycle(ctx))
	require.Equal(t, 1, f.presenter.count())
	assert.Equal(t, "10.00", f.presenter.published[0].Total.StringFixed(2))

	require.NoError(t, f.poller.RunCycle(ctx))
	assert.Equal(t, 1, f.presenter.count())
}

func TestStartPublishesStoredLedger(t *testing.T) {
	f := newFixture(time.Minute)
	f.ledger.v = domain.NewLedger(map[string]decimal.Decimal{donor: decimal.RequireFromString("12.5")})

	require.NoError(t, f.poller.Start(context.Background()))
	require.Equal(t, 1, f.presenter.count())
	assert.Equal(t, "12.50", f.presenter.published[0].Total.StringFixed(2))
	assert.Zero(t, f.mailbox.connects)
}

func TestStartFailsWhenChannelUnresolvable(t *testing.T) {
	f := newFixture(time.Minute)
	f.presenter.resolveErr = fmt.Errorf("discord: get channel: %w", domain.ErrForbidden)

	err := f.poller.Start(context.Background())
	require.ErrorIs(t, err, domain.ErrForbidden)
	assert.Zero(t, f.presenter.count())
}

func TestRunLoopsUntilCancelled(t *testing.T) {
	f := newFixture(10 * time.Millisecond)
	f.mailbox.connectErr = errors.New("imap down")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.poller.Run(ctx) }()

	require.Eventually(t, func() bool {
		f.mailbox.mu.Lock()
		defer f.mailbox.mu.Unlock()
		return f.mailbox.connects >= 3
	}, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("poll loop did not stop")
	}

	f.sender.mu.Lock()
	defer f.sender.mu.Unlock()
	require.NotEmpty(t, f.sender.messages)
	assert.Contains(t, f.sender.messages[0], "imap down")
}

func TestProcessLock(t *testing.T) {
	l := newProcessLock()
	ctx := context.Background()

	unlock, err := l.Acquire(ctx, "cycle", time.Minute)
	require.NoError(t, err)

	_, err = l.Acquire(ctx, "cycle", time.Minute)
	require.ErrorIs(t, err, domain.ErrLockHeld)

	other, err := l.Acquire(ctx, "other", time.Minute)
	require.NoError(t, err)
	other()

	unlock()
	unlock()
	again, err := l.Acquire(ctx, "cycle", time.Minute)
	require.NoError(t, err)
	again()
}
