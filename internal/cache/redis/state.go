package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/kayyshop/donorboard/internal/domain"
)

// Keys holding the persisted state, relative to the client prefix.
const (
	ledgerKey    = "ledger"
	processedKey = "processed"
	pointerKey   = "pointer"
)

// NewStateStores returns the Redis-backed state stores. Every Save replaces
// the whole key inside one MULTI/EXEC so readers never see a partial value.
func NewStateStores(c *Client, logger *slog.Logger) domain.StateStores {
	logger = logger.With(slog.String("component", "store.redis"))
	return domain.StateStores{
		Ledger:    &LedgerStore{client: c, logger: logger},
		Processed: &ProcessedStore{client: c},
		Pointer:   &PointerStore{client: c},
	}
}

// LedgerStore keeps the ledger in a hash of donor id to decimal string.
type LedgerStore struct {
	client *Client
	logger *slog.Logger
}

func (s *LedgerStore) Load(ctx context.Context) (domain.Ledger, error) {
	raw, err := s.client.rdb.HGetAll(ctx, s.client.Key(ledgerKey)).Result()
	if err != nil {
		return domain.NewLedger(nil), fmt.Errorf("redis: load ledger: %w", err)
	}

	totals := make(map[string]decimal.Decimal, len(raw))
	for donor, v := range raw {
		d, err := decimal.NewFromString(v)
		if err != nil {
			s.logger.WarnContext(ctx, "dropping non-numeric ledger entry",
				slog.String("donor_id", donor),
				slog.String("value", v),
			)
			continue
		}
		totals[donor] = d
	}
	return domain.NewLedger(totals), nil
}

func (s *LedgerStore) Save(ctx context.Context, ledger domain.Ledger) error {
	key := s.client.Key(ledgerKey)
	fields := make(map[string]any, ledger.Len())
	for donor, total := range ledger.Totals() {
		fields[donor] = total.StringFixed(2)
	}

	_, err := s.client.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(fields) > 0 {
			pipe.HSet(ctx, key, fields)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: save ledger: %w", err)
	}
	return nil
}

// ProcessedStore keeps the processed-set in a Redis set.
type ProcessedStore struct {
	client *Client
}

func (s *ProcessedStore) Load(ctx context.Context) (domain.ProcessedSet, error) {
	members, err := s.client.rdb.SMembers(ctx, s.client.Key(processedKey)).Result()
	if err != nil {
		return domain.NewProcessedSet(), fmt.Errorf("redis: load processed: %w", err)
	}
	return domain.NewProcessedSet(members...), nil
}

func (s *ProcessedStore) Save(ctx context.Context, set domain.ProcessedSet) error {
	key := s.client.Key(processedKey)
	tokens := set.Sorted()
	members := make([]any, len(tokens))
	for i, t := range tokens {
		members[i] = t
	}

	_, err := s.client.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(members) > 0 {
			pipe.SAdd(ctx, key, members...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: save processed: %w", err)
	}
	return nil
}

// PointerStore keeps the leaderboard pointer in a two-field hash.
type PointerStore struct {
	client *Client
}

func (s *PointerStore) Load(ctx context.Context) (domain.PresentationPointer, error) {
	vals, err := s.client.rdb.HMGet(ctx, s.client.Key(pointerKey), "channel_id", "message_id").Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return domain.PresentationPointer{}, fmt.Errorf("redis: load pointer: %w", err)
	}
	var ptr domain.PresentationPointer
	if len(vals) == 2 {
		ptr.ChannelID, _ = vals[0].(string)
		ptr.MessageID, _ = vals[1].(string)
	}
	return ptr, nil
}

func (s *PointerStore) Save(ctx context.Context, ptr domain.PresentationPointer) error {
	key := s.client.Key(pointerKey)
	_, err := s.client.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, "channel_id", ptr.ChannelID, "message_id", ptr.MessageID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: save pointer: %w", err)
	}
	return nil
}

var (
	_ domain.LedgerStore    = (*LedgerStore)(nil)
	_ domain.ProcessedStore = (*ProcessedStore)(nil)
	_ domain.PointerStore   = (*PointerStore)(nil)
)
