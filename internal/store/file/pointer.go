package file

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"

	"github.com/kayyshop/donorboard/internal/domain"
)

// PointerStore keeps the leaderboard message pointer.
type PointerStore struct {
	path   string
	logger *slog.Logger
}

// pointerDoc accepts snowflake IDs written either as strings or as JSON
// numbers.
type pointerDoc struct {
	ChannelID json.RawMessage `json:"channel_id"`
	MessageID json.RawMessage `json:"message_id"`
}

func (s *PointerStore) Load(_ context.Context) (domain.PresentationPointer, error) {
	var doc pointerDoc
	if !readDoc(s.logger, s.path, &doc) {
		return domain.PresentationPointer{}, nil
	}
	channelID, okChannel := parseID(doc.ChannelID)
	messageID, okMessage := parseID(doc.MessageID)
	if !okChannel || !okMessage {
		s.logger.Warn("pointer file has invalid ids, starting empty", slog.String("path", s.path))
		return domain.PresentationPointer{}, nil
	}
	return domain.PresentationPointer{ChannelID: channelID, MessageID: messageID}, nil
}

func (s *PointerStore) Save(_ context.Context, ptr domain.PresentationPointer) error {
	return writeDoc(s.path, ptr)
}

// parseID accepts a JSON string or an integer JSON number. A missing or null
// value yields "".
func parseID(v json.RawMessage) (string, bool) {
	if len(v) == 0 || string(v) == "null" {
		return "", true
	}
	var n json.Number
	if err := json.Unmarshal(v, &n); err == nil {
		if _, err := strconv.ParseUint(n.String(), 10, 64); err != nil {
			return "", false
		}
		return n.String(), true
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", false
	}
	return s, true
}

var _ domain.PointerStore = (*PointerStore)(nil)
