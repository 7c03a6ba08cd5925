package postgres

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kayyshop/donorboard/internal/domain"
)

// openTestStores connects to the database named by DONORBOARD_TEST_POSTGRES_DSN,
// applies the migrations and empties the state tables.
func openTestStores(t *testing.T) domain.StateStores {
	t.Helper()
	dsn := os.Getenv("DONORBOARD_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("DONORBOARD_TEST_POSTGRES_DSN not set")
	}

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c, err := New(ctx, ClientConfig{DSN: dsn, MaxConns: 2}, logger)
	require.NoError(t, err)
	t.Cleanup(c.Close)

	require.NoError(t, c.RunMigrations(ctx))
	require.NoError(t, c.RunMigrations(ctx), "migrations are idempotent")
	_, err = c.Pool().Exec(ctx, `TRUNCATE donor_totals, processed_messages, presentation_pointer`)
	require.NoError(t, err)
	return NewStateStores(c)
}

func TestLedgerSaveReplacesRows(t *testing.T) {
	ctx := context.Background()
	stores := openTestStores(t)

	empty, err := stores.Ledger.Load(ctx)
	require.NoError(t, err)
	assert.Zero(t, empty.Len())

	first := domain.NewLedger(map[string]decimal.Decimal{
		"399876603229896704": decimal.RequireFromString("15.5"),
		"123456789012345678": decimal.RequireFromString("0.1"),
	})
	require.NoError(t, stores.Ledger.Save(ctx, first))

	loaded, err := stores.Ledger.Load(ctx)
	require.NoError(t, err)
	assert.True(t, first.Equal(loaded))
	assert.Equal(t, "15.50", loaded.Total("399876603229896704").StringFixed(2))

	second := domain.NewLedger(map[string]decimal.Decimal{
		"399876603229896704": decimal.RequireFromString("20"),
	})
	require.NoError(t, stores.Ledger.Save(ctx, second))

	loaded, err = stores.Ledger.Load(ctx)
	require.NoError(t, err)
	assert.True(t, second.Equal(loaded))
	assert.True(t, loaded.Total("123456789012345678").IsZero())

	require.NoError(t, stores.Ledger.Save(ctx, domain.NewLedger(nil)))
	loaded, err = stores.Ledger.Load(ctx)
	require.NoError(t, err)
	assert.Zero(t, loaded.Len())
}

func TestProcessedSavePrunesAndAdds(t *testing.T) {
	ctx := context.Background()
	stores := openTestStores(t)

	require.NoError(t, stores.Processed.Save(ctx, domain.NewProcessedSet("1", "2", "3")))
	require.NoError(t, stores.Processed.Save(ctx, domain.NewProcessedSet("2", "3", "4")))

	loaded, err := stores.Processed.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "3", "4"}, loaded.Sorted())
}

func TestProcessedSaveEmptySetClearsRows(t *testing.T) {
	ctx := context.Background()
	stores := openTestStores(t)

	require.NoError(t, stores.Processed.Save(ctx, domain.NewProcessedSet("<a@x>", "<b@x>")))
	require.NoError(t, stores.Processed.Save(ctx, domain.NewProcessedSet()))

	loaded, err := stores.Processed.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, loaded.Sorted())
}

func TestPointerUpsert(t *testing.T) {
	ctx := context.Background()
	stores := openTestStores(t)

	empty, err := stores.Pointer.Load(ctx)
	require.NoError(t, err)
	assert.True(t, empty.IsZero())

	require.NoError(t, stores.Pointer.Save(ctx, domain.PresentationPointer{ChannelID: "42", MessageID: "1001"}))
	want := domain.PresentationPointer{ChannelID: "42", MessageID: "1002"}
	require.NoError(t, stores.Pointer.Save(ctx, want))

	got, err := stores.Pointer.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
