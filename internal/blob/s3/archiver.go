package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kayyshop/donorboard/internal/domain"
)

// LatestObject is the key, relative to the prefix, that always holds the
// most recent snapshot.
const LatestObject = "latest.json"

// Archiver writes one immutable JSON object per leaderboard change plus a
// rolling latest.json.
type Archiver struct {
	writer domain.BlobWriter
	prefix string
	now    func() time.Time
}

// NewArchiver creates an Archiver writing under prefix.
func NewArchiver(writer domain.BlobWriter, prefix string) *Archiver {
	return &Archiver{
		writer: writer,
		prefix: strings.Trim(prefix, "/"),
		now:    time.Now,
	}
}

// Archive serializes snapshot and uploads it. It returns the key of the
// immutable copy.
func (a *Archiver) Archive(ctx context.Context, snapshot any) (string, error) {
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return "", fmt.Errorf("s3blob: encode snapshot: %w", err)
	}

	ts := a.now().UTC()
	key := path.Join(a.prefix, ts.Format("2006/01/02"),
		fmt.Sprintf("%s-%s.json", ts.Format("150405"), uuid.NewString()))

	if err := a.writer.Put(ctx, key, bytes.NewReader(data), "application/json"); err != nil {
		return "", err
	}
	if err := a.writer.Put(ctx, path.Join(a.prefix, LatestObject), bytes.NewReader(data), "application/json"); err != nil {
		return key, err
	}
	return key, nil
}
