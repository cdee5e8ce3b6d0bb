package indexstore

import (
	"context"
	"log/slog"

	"github.com/yanqian/sqlassistant/internal/domain/fewshot"
)

// Mirrored reads the local copy first and falls back to the remote one, warming the local copy.
// Saves go to both; a failed remote save is logged, the local copy stays authoritative.
type Mirrored struct {
	local  fewshot.SnapshotStore
	remote fewshot.SnapshotStore
	logger *slog.Logger
}

// NewMirrored wires a local and a remote store.
func NewMirrored(local, remote fewshot.SnapshotStore, logger *slog.Logger) *Mirrored {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirrored{local: local, remote: remote, logger: logger.With("component", "indexstore.mirrored")}
}

// Load implements fewshot.SnapshotStore.
func (m *Mirrored) Load(ctx context.Context) (fewshot.Snapshot, bool, error) {
	snapshot, found, err := m.local.Load(ctx)
	if err != nil {
		m.logger.Warn("local index load failed, trying remote", "error", err)
	} else if found {
		return snapshot, true, nil
	}

	snapshot, found, err = m.remote.Load(ctx)
	if err != nil || !found {
		return snapshot, found, err
	}
	if err := m.local.Save(ctx, snapshot); err != nil {
		m.logger.Warn("local index warm-up failed", "error", err)
	}
	return snapshot, true, nil
}

// Save implements fewshot.SnapshotStore.
func (m *Mirrored) Save(ctx context.Context, snapshot fewshot.Snapshot) error {
	if err := m.local.Save(ctx, snapshot); err != nil {
		return err
	}
	if err := m.remote.Save(ctx, snapshot); err != nil {
		m.logger.Warn("remote index save failed", "error", err)
	}
	return nil
}

var _ fewshot.SnapshotStore = (*Mirrored)(nil)
