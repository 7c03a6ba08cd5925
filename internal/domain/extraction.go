package domain

import "github.com/shopspring/decimal"

// Extraction is the outcome of running the payment extractor over one
// normalized message body. Amount and DonorID are reported independently.
type Extraction struct {
	// Outgoing is set when the message describes a payment the account sent.
	// No other field is populated in that case.
	Outgoing bool
	Amount   decimal.NullDecimal
	Note     string
	DonorID  string
}

// Actionable reports whether the extraction can be credited to the ledger.
func (e Extraction) Actionable() bool {
	return !e.Outgoing && e.Amount.Valid && e.DonorID != ""
}

// Empty reports whether nothing recognisable was found.
func (e Extraction) Empty() bool {
	return !e.Outgoing && !e.Amount.Valid && e.Note == "" && e.DonorID == ""
}
