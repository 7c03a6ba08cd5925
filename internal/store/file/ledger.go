package file

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/kayyshop/donorboard/internal/domain"
)

// LedgerStore keeps the ledger as a JSON object mapping donor id to total.
type LedgerStore struct {
	path   string
	logger *slog.Logger
}

// Load reads the ledger. Entries whose value is not a number are dropped and
// totals are rounded to cents.
func (s *LedgerStore) Load(_ context.Context) (domain.Ledger, error) {
	var raw map[string]json.RawMessage
	if !readDoc(s.logger, s.path, &raw) {
		return domain.NewLedger(nil), nil
	}

	totals := make(map[string]decimal.Decimal, len(raw))
	for donor, v := range raw {
		amount, ok := parseTotal(v)
		if !ok {
			s.logger.Warn("dropping non-numeric ledger entry", slog.String("donor_id", donor))
			continue
		}
		totals[donor] = amount
	}
	return domain.NewLedger(totals), nil
}

// Save writes the ledger with two decimals per total.
func (s *LedgerStore) Save(_ context.Context, ledger domain.Ledger) error {
	out := make(map[string]json.Number, ledger.Len())
	for donor, total := range ledger.Totals() {
		out[donor] = json.Number(total.StringFixed(2))
	}
	return writeDoc(s.path, out)
}

// parseTotal accepts a JSON number or a numeric string.
func parseTotal(v json.RawMessage) (decimal.Decimal, bool) {
	var n json.Number
	if err := json.Unmarshal(v, &n); err == nil {
		d, err := decimal.NewFromString(n.String())
		return d, err == nil
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(s)
	return d, err == nil
}

var _ domain.LedgerStore = (*LedgerStore)(nil)
