// Package file implements the domain state stores as JSON documents on the
// local filesystem. Every save replaces the document atomically.
package file

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"

	"github.com/kayyshop/donorboard/internal/domain"
)

// Default document names inside the state directory.
const (
	LedgerFile    = "donations.json"
	ProcessedFile = "processed_ids.json"
	PointerFile   = "embed_message.json"
)

// Open returns the three file stores rooted at dir, creating dir if needed.
func Open(dir string, logger *slog.Logger) (domain.StateStores, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return domain.StateStores{}, fmt.Errorf("file: create state dir: %w", err)
	}
	logger = logger.With(slog.String("component", "store.file"))
	return domain.StateStores{
		Ledger:    &LedgerStore{path: filepath.Join(dir, LedgerFile), logger: logger},
		Processed: &ProcessedStore{path: filepath.Join(dir, ProcessedFile), logger: logger},
		Pointer:   &PointerStore{path: filepath.Join(dir, PointerFile), logger: logger},
	}, nil
}

// readDoc decodes path into v. It reports false when the document is missing
// or unusable; the reason is logged at WARN except for a missing file.
func readDoc(logger *slog.Logger, path string, v any) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.Warn("state file unreadable, starting empty",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
		}
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		logger.Warn("state file corrupt, starting empty",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}

func writeDoc(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("file: encode %s: %w", filepath.Base(path), err)
	}
	data = append(data, '\n')
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("file: write %s: %w", filepath.Base(path), err)
	}
	return nil
}
