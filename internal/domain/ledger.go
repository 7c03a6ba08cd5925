package domain

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Ledger maps donor identifiers to their cumulative donated total. A Ledger is
// an immutable value: Credit returns a new Ledger and never touches the
// receiver, so a cycle can fold messages into a copy and discard it on failure.
type Ledger struct {
	totals map[string]decimal.Decimal
}

// NewLedger builds a Ledger from raw totals. Every value is rounded to cents;
// negative totals are dropped.
func NewLedger(totals map[string]decimal.Decimal) Ledger {
	out := make(map[string]decimal.Decimal, len(totals))
	for donor, total := range totals {
		if donor == "" || total.IsNegative() {
			continue
		}
		out[donor] = total.Round(2)
	}
	return Ledger{totals: out}
}

// Total returns the donor's cumulative total, or zero when unknown.
func (l Ledger) Total(donor string) decimal.Decimal {
	if t, ok := l.totals[donor]; ok {
		return t
	}
	return decimal.Zero
}

// Credit returns a new Ledger where amount has been added to donor's total and
// the result rounded to two decimal places.
func (l Ledger) Credit(donor string, amount decimal.Decimal) Ledger {
	out := make(map[string]decimal.Decimal, len(l.totals)+1)
	for k, v := range l.totals {
		out[k] = v
	}
	out[donor] = l.Total(donor).Add(amount).Round(2)
	return Ledger{totals: out}
}

// Len returns the number of donors.
func (l Ledger) Len() int {
	return len(l.totals)
}

// Sum returns the total across all donors.
func (l Ledger) Sum() decimal.Decimal {
	sum := decimal.Zero
	for _, v := range l.totals {
		sum = sum.Add(v)
	}
	return sum
}

// Donors returns donor identifiers in lexicographic order.
func (l Ledger) Donors() []string {
	out := make([]string, 0, len(l.totals))
	for k := range l.totals {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Totals returns a copy of the underlying map.
func (l Ledger) Totals() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(l.totals))
	for k, v := range l.totals {
		out[k] = v
	}
	return out
}

// Equal reports whether both ledgers hold the same donors and totals.
func (l Ledger) Equal(other Ledger) bool {
	if len(l.totals) != len(other.totals) {
		return false
	}
	for k, v := range l.totals {
		o, ok := other.totals[k]
		if !ok || !o.Equal(v) {
			return false
		}
	}
	return true
}
