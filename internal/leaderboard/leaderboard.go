// Package leaderboard projects a ledger into a ranked, read-only snapshot.
package leaderboard

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kayyshop/donorboard/internal/domain"
)

// Entry is one ranked donor.
type Entry struct {
	Rank    int
	DonorID string
	Total   decimal.Decimal
}

// Snapshot is a ranked view of the ledger at one point in time.
type Snapshot struct {
	Entries     []Entry
	Total       decimal.Decimal
	GeneratedAt time.Time
}

// Build ranks every donor by total, highest first. Equal totals are ordered
// by donor id so the ranking is deterministic.
func Build(ledger domain.Ledger, now time.Time) Snapshot {
	donors := ledger.Donors()
	sort.SliceStable(donors, func(i, j int) bool {
		ti, tj := ledger.Total(donors[i]), ledger.Total(donors[j])
		if c := ti.Cmp(tj); c != 0 {
			return c > 0
		}
		return domain.TokenLess(donors[i], donors[j])
	})

	entries := make([]Entry, len(donors))
	for i, d := range donors {
		entries[i] = Entry{Rank: i + 1, DonorID: d, Total: ledger.Total(d)}
	}
	return Snapshot{
		Entries:     entries,
		Total:       ledger.Sum(),
		GeneratedAt: now.UTC(),
	}
}

// Empty reports whether nobody has donated yet.
func (s Snapshot) Empty() bool {
	return len(s.Entries) == 0
}

// Top returns at most the n highest ranked entries.
func (s Snapshot) Top(n int) []Entry {
	if n > len(s.Entries) {
		n = len(s.Entries)
	}
	return s.Entries[:n]
}

// After returns the entries ranked below the first n.
func (s Snapshot) After(n int) []Entry {
	if n >= len(s.Entries) {
		return nil
	}
	return s.Entries[n:]
}

type entryJSON struct {
	Rank    int    `json:"rank"`
	DonorID string `json:"donor_id"`
	Total   string `json:"total"`
}

type snapshotJSON struct {
	Donors      int         `json:"donors"`
	Total       string      `json:"total"`
	GeneratedAt time.Time   `json:"generated_at"`
	Entries     []entryJSON `json:"entries"`
}

// MarshalJSON encodes amounts as fixed two-decimal strings.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	out := snapshotJSON{
		Donors:      len(s.Entries),
		Total:       s.Total.StringFixed(2),
		GeneratedAt: s.GeneratedAt,
		Entries:     make([]entryJSON, len(s.Entries)),
	}
	for i, e := range s.Entries {
		out.Entries[i] = entryJSON{Rank: e.Rank, DonorID: e.DonorID, Total: e.Total.StringFixed(2)}
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the MarshalJSON form.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var in snapshotJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	total, err := decimal.NewFromString(in.Total)
	if err != nil {
		return err
	}
	entries := make([]Entry, len(in.Entries))
	for i, e := range in.Entries {
		t, err := decimal.NewFromString(e.Total)
		if err != nil {
			return err
		}
		entries[i] = Entry{Rank: e.Rank, DonorID: e.DonorID, Total: t}
	}
	*s = Snapshot{Entries: entries, Total: total, GeneratedAt: in.GeneratedAt}
	return nil
}
