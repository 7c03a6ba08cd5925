package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/kayyshop/donorboard/internal/domain"
)

// NewStateStores returns the PostgreSQL-backed state stores. Save replaces
// the stored state inside one transaction.
func NewStateStores(c *Client) domain.StateStores {
	return domain.StateStores{
		Ledger:    &LedgerStore{client: c},
		Processed: &ProcessedStore{client: c},
		Pointer:   &PointerStore{client: c},
	}
}

// LedgerStore keeps one row per donor in donor_totals.
type LedgerStore struct {
	client *Client
}

func (s *LedgerStore) Load(ctx context.Context) (domain.Ledger, error) {
	rows, err := s.client.pool.Query(ctx, `SELECT donor_id, total::text FROM donor_totals`)
	if err != nil {
		return domain.NewLedger(nil), fmt.Errorf("postgres: load ledger: %w", err)
	}
	defer rows.Close()

	totals := make(map[string]decimal.Decimal)
	for rows.Next() {
		var donor, raw string
		if err := rows.Scan(&donor, &raw); err != nil {
			return domain.NewLedger(nil), fmt.Errorf("postgres: scan ledger row: %w", err)
		}
		d, err := decimal.NewFromString(raw)
		if err != nil {
			s.client.logger.WarnContext(ctx, "dropping non-numeric ledger entry", slog.String("donor_id", donor))
			continue
		}
		totals[donor] = d
	}
	if err := rows.Err(); err != nil {
		return domain.NewLedger(nil), fmt.Errorf("postgres: load ledger: %w", err)
	}
	return domain.NewLedger(totals), nil
}

func (s *LedgerStore) Save(ctx context.Context, ledger domain.Ledger) error {
	return pgx.BeginFunc(ctx, s.client.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM donor_totals`); err != nil {
			return fmt.Errorf("postgres: clear ledger: %w", err)
		}
		batch := &pgx.Batch{}
		for _, donor := range ledger.Donors() {
			batch.Queue(`INSERT INTO donor_totals (donor_id, total) VALUES ($1, $2::numeric)`,
				donor, ledger.Total(donor).StringFixed(2))
		}
		if batch.Len() == 0 {
			return nil
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("postgres: save ledger: %w", err)
		}
		return nil
	})
}

// ProcessedStore keeps one row per processed token.
type ProcessedStore struct {
	client *Client
}

func (s *ProcessedStore) Load(ctx context.Context) (domain.ProcessedSet, error) {
	rows, err := s.client.pool.Query(ctx, `SELECT token FROM processed_messages`)
	if err != nil {
		return domain.NewProcessedSet(), fmt.Errorf("postgres: load processed: %w", err)
	}
	tokens, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return domain.NewProcessedSet(), fmt.Errorf("postgres: load processed: %w", err)
	}
	return domain.NewProcessedSet(tokens...), nil
}

// Save inserts tokens not yet stored and removes the ones no longer present.
func (s *ProcessedStore) Save(ctx context.Context, set domain.ProcessedSet) error {
	tokens := set.Sorted()
	return pgx.BeginFunc(ctx, s.client.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM processed_messages WHERE NOT (token = ANY($1::text[]))`, tokens); err != nil {
			return fmt.Errorf("postgres: prune processed: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO processed_messages (token) SELECT unnest($1::text[]) ON CONFLICT (token) DO NOTHING`,
			tokens,
		); err != nil {
			return fmt.Errorf("postgres: save processed: %w", err)
		}
		return nil
	})
}

// PointerStore keeps the single presentation_pointer row.
type PointerStore struct {
	client *Client
}

func (s *PointerStore) Load(ctx context.Context) (domain.PresentationPointer, error) {
	var ptr domain.PresentationPointer
	err := s.client.pool.QueryRow(ctx,
		`SELECT channel_id, message_id FROM presentation_pointer WHERE id = 1`,
	).Scan(&ptr.ChannelID, &ptr.MessageID)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PresentationPointer{}, nil
	}
	if err != nil {
		return domain.PresentationPointer{}, fmt.Errorf("postgres: load pointer: %w", err)
	}
	return ptr, nil
}

func (s *PointerStore) Save(ctx context.Context, ptr domain.PresentationPointer) error {
	const query = `
		INSERT INTO presentation_pointer (id, channel_id, message_id, updated_at)
		VALUES (1, $1, $2, NOW())
		ON CONFLICT (id) DO UPDATE
		SET channel_id = EXCLUDED.channel_id, message_id = EXCLUDED.message_id, updated_at = NOW()`
	if _, err := s.client.pool.Exec(ctx, query, ptr.ChannelID, ptr.MessageID); err != nil {
		return fmt.Errorf("postgres: save pointer: %w", err)
	}
	return nil
}

var (
	_ domain.LedgerStore    = (*LedgerStore)(nil)
	_ domain.ProcessedStore = (*ProcessedStore)(nil)
	_ domain.PointerStore   = (*PointerStore)(nil)
)
