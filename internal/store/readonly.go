package store

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/blevesearch/bleve/v2"

	wserrors "github.com/xwiki/xwiki-platform-sub060/internal/errors"
	"github.com/xwiki/xwiki-platform-sub060/internal/logging"
)

// readOnlyConfig is passed to bleve when opening directories owned by other
// processes. A directory whose writer is still running cannot be opened
// until the timeout expires.
var readOnlyConfig = map[string]any{
	"read_only":    true,
	"bolt_timeout": "1s",
}

// OpenReadOnly opens the published generation of a directory written by
// another process. The returned snapshot has one reference owned by the
// caller and never deletes anything when it closes.
func OpenReadOnly(dir string, logger *slog.Logger) (*Snapshot, error) {
	logger = logging.OrDefault(logger)

	if _, err := os.Stat(dir); err != nil {
		return nil, wserrors.DirectoryOpenError(dir, err)
	}
	gen, err := readCurrent(dir)
	if err != nil {
		return nil, wserrors.DirectoryOpenError(dir, err)
	}
	if gen == 0 {
		return nil, wserrors.DirectoryOpenError(dir, errors.New("no published generation"))
	}

	path := filepath.Join(dir, genDirName(gen))
	if err := validateIndexIntegrity(path); err != nil {
		return nil, wserrors.DirectoryOpenError(dir, err).WithDetail("generation", strconv.Itoa(gen))
	}
	idx, err := bleve.OpenUsing(path, readOnlyConfig)
	if err != nil {
		return nil, wserrors.DirectoryOpenError(dir, err).WithDetail("generation", strconv.Itoa(gen))
	}

	logger.Debug("index_opened_read_only", slog.String("dir", dir), slog.Int("generation", gen))
	return newSnapshot(dir, gen, idx, logger, func(bool) error {
		return idx.Close()
	}), nil
}

// PublishedGeneration returns the generation CURRENT names in dir, or 0.
func PublishedGeneration(dir string) (int, error) {
	return readCurrent(dir)
}
