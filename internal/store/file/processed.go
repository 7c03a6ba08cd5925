package file

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/kayyshop/donorboard/internal/domain"
)

// ProcessedStore keeps the processed-set as a sorted JSON list.
type ProcessedStore struct {
	path   string
	logger *slog.Logger
}

// Load reads the processed-set. Numeric list items are accepted alongside
// strings; anything else is skipped.
func (s *ProcessedStore) Load(_ context.Context) (domain.ProcessedSet, error) {
	var raw []json.RawMessage
	if !readDoc(s.logger, s.path, &raw) {
		return domain.NewProcessedSet(), nil
	}

	tokens := make([]string, 0, len(raw))
	for _, v := range raw {
		var tok string
		if err := json.Unmarshal(v, &tok); err == nil {
			tokens = append(tokens, tok)
			continue
		}
		var n json.Number
		if err := json.Unmarshal(v, &n); err == nil {
			tokens = append(tokens, n.String())
		}
	}
	return domain.NewProcessedSet(tokens...), nil
}

// Save writes the processed-set in ascending token order.
func (s *ProcessedStore) Save(_ context.Context, set domain.ProcessedSet) error {
	return writeDoc(s.path, set.Sorted())
}

var _ domain.ProcessedStore = (*ProcessedStore)(nil)
