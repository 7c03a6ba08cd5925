// Package extract pulls a received amount and a donor identifier out of the
// normalized text of a payment notification.
//
// Each field has its own matcher (outgoing guard, amount, note, donor id) so
// they can be tested and tuned independently; Extractor only composes them.
package extract

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/kayyshop/donorboard/internal/domain"
)

// DefaultMaxAmount bounds a single accepted donation.
var DefaultMaxAmount = decimal.NewFromInt(10000)

// DefaultCurrencyMarkers are the symbols or codes that may follow the amount.
var DefaultCurrencyMarkers = []string{"€", "EUR"}

var (
	outgoingRe = regexp.MustCompile(`(?i)\b(?:has|ha) enviado un pago\b|\byou sent\b`)
	noteRe     = regexp.MustCompile(`(?i)(?:Nota|Mensaje) de .+\n([^\n]+)`)
	donorIDRe  = regexp.MustCompile(`\b\d{17,20}\b`)
)

// amountPhrase introduces a received amount in the notification template.
const amountPhrase = `(?:ha recibido|importe recibido|le ha enviado)`

// Options configures an Extractor.
type Options struct {
	// CurrencyMarkers lists the symbols or ISO codes accepted after the
	// amount. Defaults to DefaultCurrencyMarkers.
	CurrencyMarkers []string
	// MaxAmount is the inclusive upper bound for an accepted amount. Defaults
	// to DefaultMaxAmount.
	MaxAmount decimal.Decimal
}

// Extractor applies the field matchers to normalized message text.
type Extractor struct {
	amountRe  *regexp.Regexp
	maxAmount decimal.Decimal
}

// New compiles an Extractor for the given options.
func New(opts Options) (*Extractor, error) {
	markers := opts.CurrencyMarkers
	if len(markers) == 0 {
		markers = DefaultCurrencyMarkers
	}
	quoted := make([]string, 0, len(markers))
	for _, m := range markers {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		quoted = append(quoted, regexp.QuoteMeta(m))
	}
	if len(quoted) == 0 {
		return nil, fmt.Errorf("extract: no usable currency markers in %q", markers)
	}

	re, err := regexp.Compile(`(?i)` + amountPhrase + `[^\d]*([\d.,]+)\s*(?:` + strings.Join(quoted, "|") + `)`)
	if err != nil {
		return nil, fmt.Errorf("extract: compile amount pattern: %w", err)
	}

	maxAmount := opts.MaxAmount
	if !maxAmount.IsPositive() {
		maxAmount = DefaultMaxAmount
	}
	return &Extractor{amountRe: re, maxAmount: maxAmount}, nil
}

// MustNew is New for static configurations; it panics on error.
func MustNew(opts Options) *Extractor {
	e, err := New(opts)
	if err != nil {
		panic(err)
	}
	return e
}

// Extract runs every matcher over text. When the outgoing guard fires nothing
// else is attempted.
func (e *Extractor) Extract(text string) domain.Extraction {
	if IsOutgoing(text) {
		return domain.Extraction{Outgoing: true}
	}

	var out domain.Extraction
	if amt, ok := e.Amount(text); ok {
		out.Amount = decimal.NewNullDecimal(amt)
	}
	if note, ok := Note(text); ok {
		out.Note = note
		out.DonorID, _ = DonorID(note)
	}
	return out
}

// IsOutgoing reports whether text describes a payment the account sent.
func IsOutgoing(text string) bool {
	return outgoingRe.MatchString(text)
}

// Amount returns the first received amount in text. Only the first phrase
// match is considered; an unparseable or out-of-range token yields false.
func (e *Extractor) Amount(text string) (decimal.Decimal, bool) {
	m := e.amountRe.FindStringSubmatch(text)
	if m == nil {
		return decimal.Decimal{}, false
	}
	amt, err := ParseAmount(m[1])
	if err != nil {
		return decimal.Decimal{}, false
	}
	if !amt.IsPositive() || amt.GreaterThan(e.maxAmount) {
		return decimal.Decimal{}, false
	}
	return amt, true
}

// Note returns the first line following a "Nota de …" or "Mensaje de …"
// header, trimmed.
func Note(text string) (string, bool) {
	m := noteRe.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	note := strings.TrimSpace(m[1])
	return note, note != ""
}

// DonorID returns the first run of 17 to 20 digits in note. Callers must pass
// the note text only; numbers elsewhere in the message are not donor ids.
func DonorID(note string) (string, bool) {
	id := donorIDRe.FindString(note)
	return id, id != ""
}
