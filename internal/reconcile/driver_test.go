package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kayyshop/donorboard/internal/domain"
	"github.com/kayyshop/donorboard/internal/extract"
	"github.com/kayyshop/donorboard/internal/identity"
)

const donor = "399876603229896704"

func newDriver(mode identity.Mode) *Driver {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewDriver(extract.MustNew(extract.Options{}), identity.NewResolver(mode), logger)
}

func htmlMail(body string) []byte {
	return []byte("From: service@paypal.es\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"\r\n" + body + "\r\n")
}

func plainMail(body string) []byte {
	return []byte("From: service@paypal.es\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" + strings.ReplaceAll(body, "\n", "\r\n") + "\r\n")
}

var (
	msgA = htmlMail("<p>Juan: ha recibido 45,00 €</p><p>Nota de Juan</p><p>" + donor + " gracias</p>")
	msgB = plainMail("Has enviado un pago de 10,00 €")
	msgC = plainMail("Ha recibido 100,50 € de Ana")
)

func TestApplyCreditsActionableMessage(t *testing.T) {
	d := newDriver(identity.ModeSequence)

	res := d.Apply(domain.NewLedger(nil), domain.NewProcessedSet(), []Message{{Token: "1", Raw: msgA}})

	assert.True(t, res.Changed)
	assert.True(t, res.Processed.Has("1"))
	assert.Equal(t, "45.00", res.Ledger.Total(donor).StringFixed(2))
	require.Len(t, res.Credits, 1)
	assert.Equal(t, donor, res.Credits[0].DonorID)
}

func TestApplyIsIdempotent(t *testing.T) {
	d := newDriver(identity.ModeSequence)
	batch := []Message{{Token: "1", Raw: msgA}, {Token: "2", Raw: msgB}, {Token: "3", Raw: msgC}}

	once := d.Apply(domain.NewLedger(nil), domain.NewProcessedSet(), batch)
	twice := d.Apply(once.Ledger, once.Processed, batch)

	assert.False(t, twice.Changed)
	assert.Equal(t, 3, twice.Skipped)
	assert.True(t, once.Ledger.Equal(twice.Ledger))
	assert.True(t, once.Processed.Equal(twice.Processed))
	assert.Empty(t, twice.Credits)
}

func TestApplyOutgoingMarksProcessedOnly(t *testing.T) {
	d := newDriver(identity.ModeSequence)
	outgoing := plainMail("Has enviado un pago de 10,00 €\nNota de Juan\n" + donor)

	res := d.Apply(domain.NewLedger(nil), domain.NewProcessedSet(), []Message{{Token: "2", Raw: msgB}, {Token: "4", Raw: outgoing}})

	assert.True(t, res.Changed)
	assert.True(t, res.Processed.Has("2"))
	assert.True(t, res.Processed.Has("4"))
	assert.Equal(t, 0, res.Ledger.Len())
}

func TestApplyWithoutNoteIsNotActionable(t *testing.T) {
	d := newDriver(identity.ModeSequence)

	res := d.Apply(domain.NewLedger(nil), domain.NewProcessedSet(), []Message{{Token: "3", Raw: msgC}})

	assert.True(t, res.Changed)
	assert.True(t, res.Processed.Has("3"))
	assert.Equal(t, 0, res.Ledger.Len())
}

func TestApplySumsSameDonorExactly(t *testing.T) {
	d := newDriver(identity.ModeSequence)
	m1 := plainMail("Ha recibido 10,00 €\nNota de X\n" + donor)
	m2 := plainMail("Ha recibido 5,50 €\nMensaje de X\nid " + donor)

	res := d.Apply(domain.NewLedger(nil), domain.NewProcessedSet(), []Message{{Token: "11", Raw: m1}, {Token: "12", Raw: m2}})

	assert.True(t, res.Ledger.Total(donor).Equal(decimal.RequireFromString("15.50")))
	assert.Len(t, res.Credits, 2)
}

func TestApplyDoesNotMutateInputs(t *testing.T) {
	d := newDriver(identity.ModeSequence)
	ledger := domain.NewLedger(map[string]decimal.Decimal{donor: decimal.NewFromInt(1)})
	processed := domain.NewProcessedSet("9")

	_ = d.Apply(ledger, processed, []Message{{Token: "1", Raw: msgA}})

	assert.Equal(t, "1.00", ledger.Total(donor).StringFixed(2))
	assert.False(t, processed.Has("1"))
}

func TestApplyUnreadableBodyIsProcessed(t *testing.T) {
	d := newDriver(identity.ModeSequence)
	broken := []byte("this header line has no colon\r\n\r\nHa recibido 5,00 €\r\n")

	res := d.Apply(domain.NewLedger(nil), domain.NewProcessedSet(), []Message{{Token: "5", Raw: broken}})

	assert.True(t, res.Changed)
	assert.True(t, res.Processed.Has("5"))
	assert.Equal(t, 0, res.Ledger.Len())
}

type fakeSource struct {
	refs      []domain.MessageRef
	bodies    map[uint32][]byte
	fetchErrs map[uint32]error
	searchErr error
	fetched   []uint32
}

func (f *fakeSource) Search(context.Context) ([]domain.MessageRef, error) {
	return f.refs, f.searchErr
}

func (f *fakeSource) Fetch(_ context.Context, ref domain.MessageRef) ([]byte, error) {
	f.fetched = append(f.fetched, ref.SeqNum)
	if err, ok := f.fetchErrs[ref.SeqNum]; ok {
		return nil, err
	}
	body, ok := f.bodies[ref.SeqNum]
	if !ok {
		return nil, fmt.Errorf("seq %d: %w", ref.SeqNum, domain.ErrMessageUnavailable)
	}
	return body, nil
}

func TestReconcileFetchesOnlyUnseenInOrder(t *testing.T) {
	d := newDriver(identity.ModeSequence)
	src := &fakeSource{
		refs:   []domain.MessageRef{{SeqNum: 10}, {SeqNum: 2}, {SeqNum: 1}},
		bodies: map[uint32][]byte{1: msgA, 2: msgB, 10: msgC},
	}

	res, err := d.Reconcile(context.Background(), domain.NewLedger(nil), domain.NewProcessedSet("1"), src)
	require.NoError(t, err)

	assert.Equal(t, []uint32{2, 10}, src.fetched)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 2, res.Evaluated)
	assert.True(t, res.Changed)
}

func TestReconcileSecondRunReportsNoChange(t *testing.T) {
	d := newDriver(identity.ModeSequence)
	src := &fakeSource{
		refs:   []domain.MessageRef{{SeqNum: 1}},
		bodies: map[uint32][]byte{1: msgA},
	}

	first, err := d.Reconcile(context.Background(), domain.NewLedger(nil), domain.NewProcessedSet(), src)
	require.NoError(t, err)
	second, err := d.Reconcile(context.Background(), first.Ledger, first.Processed, src)
	require.NoError(t, err)

	assert.True(t, first.Changed)
	assert.False(t, second.Changed)
	assert.Equal(t, "45.00", second.Ledger.Total(donor).StringFixed(2))
}

func TestReconcileUnavailableMessageIsRetried(t *testing.T) {
	d := newDriver(identity.ModeSequence)
	src := &fakeSource{
		refs:   []domain.MessageRef{{SeqNum: 1}, {SeqNum: 2}},
		bodies: map[uint32][]byte{2: msgA},
	}

	res, err := d.Reconcile(context.Background(), domain.NewLedger(nil), domain.NewProcessedSet(), src)
	require.NoError(t, err)

	assert.False(t, res.Processed.Has("1"))
	assert.True(t, res.Processed.Has("2"))
	assert.Equal(t, 1, res.Unavailable)
}

func TestReconcileTransportFailureKeepsPartialProgress(t *testing.T) {
	d := newDriver(identity.ModeSequence)
	dropped := errors.New("connection reset")
	src := &fakeSource{
		refs:      []domain.MessageRef{{SeqNum: 1}, {SeqNum: 2}, {SeqNum: 3}},
		bodies:    map[uint32][]byte{1: msgA, 3: msgC},
		fetchErrs: map[uint32]error{2: dropped},
	}

	res, err := d.Reconcile(context.Background(), domain.NewLedger(nil), domain.NewProcessedSet(), src)
	require.ErrorIs(t, err, dropped)

	assert.True(t, res.Changed)
	assert.True(t, res.Processed.Has("1"))
	assert.False(t, res.Processed.Has("3"))
	assert.Equal(t, "45.00", res.Ledger.Total(donor).StringFixed(2))
}

func TestReconcileSearchFailure(t *testing.T) {
	d := newDriver(identity.ModeSequence)
	src := &fakeSource{searchErr: errors.New("not connected")}

	res, err := d.Reconcile(context.Background(), domain.NewLedger(nil), domain.NewProcessedSet(), src)
	require.Error(t, err)
	assert.False(t, res.Changed)
}

func TestReconcileUsesUIDTokens(t *testing.T) {
	d := newDriver(identity.ModeUID)
	src := &fakeSource{
		refs:   []domain.MessageRef{{SeqNum: 1, UID: 500}},
		bodies: map[uint32][]byte{1: msgA},
	}

	res, err := d.Reconcile(context.Background(), domain.NewLedger(nil), domain.NewProcessedSet(), src)
	require.NoError(t, err)

	assert.True(t, res.Processed.Has("500"))
	assert.False(t, res.Processed.Has("1"))
}
