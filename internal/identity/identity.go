// Package identity derives the deduplication token for a mailbox message.
//
// Sequence mode reproduces the historical behaviour: the token is the IMAP
// message sequence number. Sequence numbers are renumbered when messages are
// expunged, so a token can later point at a different email (missed
// donation) or the same email can surface under a new number (double count).
// UID mode uses the IMAP UID instead, which is stable while the mailbox
// UIDVALIDITY is unchanged. Switching modes on an existing processed-set
// re-evaluates every message, so pick one before the first run.
package identity

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kayyshop/donorboard/internal/domain"
)

// Mode selects the identity source.
type Mode string

const (
	ModeSequence Mode = "seq"
	ModeUID      Mode = "uid"
)

// ParseMode validates a configured mode string. Empty selects ModeSequence.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeSequence:
		return ModeSequence, nil
	case ModeUID:
		return ModeUID, nil
	default:
		return "", fmt.Errorf("identity: unknown mode %q (valid: seq, uid)", s)
	}
}

// Resolver turns mailbox listing items into identity tokens.
type Resolver struct {
	mode Mode
}

// NewResolver creates a Resolver for mode.
func NewResolver(mode Mode) Resolver {
	if mode == "" {
		mode = ModeSequence
	}
	return Resolver{mode: mode}
}

// Mode returns the configured identity source.
func (r Resolver) Mode() Mode {
	return r.mode
}

// Stable reports whether tokens survive across mailbox sessions.
func (r Resolver) Stable() bool {
	return r.mode == ModeUID
}

// Token returns the identity token for ref.
func (r Resolver) Token(ref domain.MessageRef) string {
	if r.mode == ModeUID {
		return strconv.FormatUint(uint64(ref.UID), 10)
	}
	return strconv.FormatUint(uint64(ref.SeqNum), 10)
}
