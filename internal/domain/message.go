package domain

import "github.com/shopspring/decimal"

// MessageRef identifies one message in a mailbox listing. SeqNum is only
// meaningful within the session that produced it; UID is stable for as long
// as the mailbox UIDVALIDITY does not change.
type MessageRef struct {
	SeqNum uint32
	UID    uint32
}

// Credit records one actionable message folded into the ledger. It is
// transient and exists for logging and notifications only.
type Credit struct {
	Token   string
	DonorID string
	Amount  decimal.Decimal
	Total   decimal.Decimal
}

// PresentationPointer locates the single live leaderboard message.
type PresentationPointer struct {
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id"`
}

// IsZero reports whether the pointer references nothing.
func (p PresentationPointer) IsZero() bool {
	return p.MessageID == ""
}
