package domain

import (
	"sort"
	"strconv"
)

// ProcessedSet is the immutable set of identity tokens whose messages have
// already been evaluated. Membership is permanent; nothing is ever removed.
type ProcessedSet struct {
	tokens map[string]struct{}
}

// NewProcessedSet builds a set from the given tokens. Empty tokens are ignored.
func NewProcessedSet(tokens ...string) ProcessedSet {
	out := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		if t == "" {
			continue
		}
		out[t] = struct{}{}
	}
	return ProcessedSet{tokens: out}
}

// Has reports whether token is a member.
func (s ProcessedSet) Has(token string) bool {
	_, ok := s.tokens[token]
	return ok
}

// With returns a new set that also contains token.
func (s ProcessedSet) With(token string) ProcessedSet {
	out := make(map[string]struct{}, len(s.tokens)+1)
	for k := range s.tokens {
		out[k] = struct{}{}
	}
	out[token] = struct{}{}
	return ProcessedSet{tokens: out}
}

// Len returns the number of members.
func (s ProcessedSet) Len() int {
	return len(s.tokens)
}

// Sorted returns the members in token order (see TokenLess).
func (s ProcessedSet) Sorted() []string {
	out := make([]string, 0, len(s.tokens))
	for k := range s.tokens {
		out = append(out, k)
	}
	SortTokens(out)
	return out
}

// Equal reports whether both sets hold the same tokens.
func (s ProcessedSet) Equal(other ProcessedSet) bool {
	if len(s.tokens) != len(other.tokens) {
		return false
	}
	for k := range s.tokens {
		if !other.Has(k) {
			return false
		}
	}
	return true
}

// TokenLess orders identity tokens numerically when both parse as unsigned
// integers and lexicographically otherwise. Numeric tokens sort before
// non-numeric ones.
func TokenLess(a, b string) bool {
	na, errA := strconv.ParseUint(a, 10, 64)
	nb, errB := strconv.ParseUint(b, 10, 64)
	switch {
	case errA == nil && errB == nil:
		return na < nb
	case errA == nil:
		return true
	case errB == nil:
		return false
	default:
		return a < b
	}
}

// SortTokens sorts tokens in place using TokenLess.
func SortTokens(tokens []string) {
	sort.SliceStable(tokens, func(i, j int) bool {
		return TokenLess(tokens[i], tokens[j])
	})
}
