package indexstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/yanqian/sqlassistant/internal/domain/fewshot"
)

// DirStore keeps the snapshot in a local directory. The directory's presence decides load vs build.
type DirStore struct {
	dir    string
	logger *slog.Logger
}

// NewDirStore constructs a directory backed store.
func NewDirStore(dir string, logger *slog.Logger) *DirStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &DirStore{dir: filepath.Clean(dir), logger: logger.With("component", "indexstore.dir")}
}

// Load reads manifest.yaml and exemplars.parquet from the directory.
func (s *DirStore) Load(_ context.Context) (fewshot.Snapshot, bool, error) {
	rawManifest, err := os.ReadFile(filepath.Join(s.dir, manifestFile))
	if errors.Is(err, fs.ErrNotExist) {
		if _, statErr := os.Stat(s.dir); statErr == nil {
			s.logger.Warn("index directory has no manifest, rebuilding", "dir", s.dir)
		}
		return fewshot.Snapshot{}, false, nil
	}
	if err != nil {
		return fewshot.Snapshot{}, false, fmt.Errorf("read manifest: %w", err)
	}
	m, err := decodeManifest(rawManifest)
	if err != nil {
		return fewshot.Snapshot{}, false, err
	}
	data, err := os.ReadFile(filepath.Join(s.dir, m.DataFile))
	if err != nil {
		return fewshot.Snapshot{}, false, fmt.Errorf("read index data: %w", err)
	}
	snapshot, err := decodeSnapshot(m, data)
	if err != nil {
		return fewshot.Snapshot{}, false, err
	}
	return snapshot, true, nil
}

// Save writes into a sibling temp directory and swaps it in so readers never see a partial index.
func (s *DirStore) Save(_ context.Context, snapshot fewshot.Snapshot) error {
	manifestBytes, data, err := encodeSnapshot(snapshot)
	if err != nil {
		return err
	}
	parent := filepath.Dir(s.dir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("create index parent: %w", err)
	}
	tmp, err := os.MkdirTemp(parent, "."+filepath.Base(s.dir)+"-*")
	if err != nil {
		return fmt.Errorf("create temp index dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	if err := os.WriteFile(filepath.Join(tmp, dataFile), data, 0o644); err != nil {
		return fmt.Errorf("write index data: %w", err)
	}
	if err := os.WriteFile(filepath.Join(tmp, manifestFile), manifestBytes, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}

	var backup string
	if _, err := os.Stat(s.dir); err == nil {
		backup = s.dir + ".old-" + strconv.FormatInt(time.Now().UnixNano(), 10)
		if err := os.Rename(s.dir, backup); err != nil {
			return fmt.Errorf("move previous index aside: %w", err)
		}
	}
	if err := os.Rename(tmp, s.dir); err != nil {
		if backup != "" {
			_ = os.Rename(backup, s.dir)
		}
		return fmt.Errorf("publish index dir: %w", err)
	}
	if backup != "" {
		_ = os.RemoveAll(backup)
	}
	s.logger.Info("index snapshot saved", "dir", s.dir, "entries", len(snapshot.Entries))
	return nil
}

var _ fewshot.SnapshotStore = (*DirStore)(nil)
