package fewshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"
)

// Embedder produces embeddings for free form text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// SnapshotStore persists and restores a built index.
type SnapshotStore interface {
	Load(ctx context.Context) (Snapshot, bool, error)
	Save(ctx context.Context, snapshot Snapshot) error
}

// Config controls index construction.
type Config struct {
	EmbeddingModel string
}

// Index ranks exemplars by cosine similarity to a question.
type Index struct {
	cfg       Config
	exemplars []Exemplar
	embedder  Embedder
	store     SnapshotStore
	logger    *slog.Logger

	initMu sync.Mutex

	mu       sync.RWMutex
	ready    bool
	snapshot Snapshot
}

// NewIndex constructs an uninitialized index over the given exemplars.
func NewIndex(cfg Config, exemplars []Exemplar, embedder Embedder, store SnapshotStore, logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}
	copied := make([]Exemplar, len(exemplars))
	copy(copied, exemplars)
	return &Index{
		cfg:       cfg,
		exemplars: copied,
		embedder:  embedder,
		store:     store,
		logger:    logger.With("component", "fewshot.index"),
	}
}

// Init loads a persisted snapshot or builds and saves one. Safe to call repeatedly and concurrently.
func (idx *Index) Init(ctx context.Context) error {
	idx.initMu.Lock()
	defer idx.initMu.Unlock()

	if idx.Ready() {
		return nil
	}

	if idx.store != nil {
		snapshot, found, err := idx.store.Load(ctx)
		if err != nil {
			return fmt.Errorf("load index snapshot: %w", err)
		}
		if found {
			if snapshot.Matches(idx.exemplars, idx.cfg.EmbeddingModel) {
				idx.publish(snapshot)
				idx.logger.Info("fewshot index loaded", "entries", len(snapshot.Entries), "builtAt", snapshot.BuiltAt)
				return nil
			}
			idx.logger.Warn("fewshot index snapshot is stale, rebuilding",
				"entries", len(snapshot.Entries),
				"exemplars", len(idx.exemplars),
				"snapshotModel", snapshot.EmbeddingModel,
				"model", idx.cfg.EmbeddingModel,
			)
		}
	}

	return idx.buildLocked(ctx)
}

// Rebuild re-embeds every exemplar and replaces the persisted snapshot.
func (idx *Index) Rebuild(ctx context.Context) error {
	idx.initMu.Lock()
	defer idx.initMu.Unlock()
	return idx.buildLocked(ctx)
}

func (idx *Index) buildLocked(ctx context.Context) error {
	if len(idx.exemplars) == 0 {
		return errors.New("fewshot index requires at least one exemplar")
	}
	texts := make([]string, len(idx.exemplars))
	for i, ex := range idx.exemplars {
		texts[i] = ex.EmbeddingText()
	}
	vectors, err := idx.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed exemplars: %w", err)
	}
	if len(vectors) != len(idx.exemplars) {
		return fmt.Errorf("embed exemplars: expected %d vectors, got %d", len(idx.exemplars), len(vectors))
	}
	dims := len(vectors[0])
	if dims == 0 {
		return errors.New("embed exemplars: empty vector")
	}
	entries := make([]Entry, len(vectors))
	for i, vec := range vectors {
		if len(vec) != dims {
			return fmt.Errorf("embed exemplars: vector %d has %d dimensions, want %d", i, len(vec), dims)
		}
		entries[i] = Entry{Position: i, Exemplar: idx.exemplars[i], Embedding: vec}
	}
	snapshot := Snapshot{
		EmbeddingModel: idx.cfg.EmbeddingModel,
		Dimensions:     dims,
		BuiltAt:        time.Now().UTC(),
		Entries:        entries,
	}
	if idx.store != nil {
		if err := idx.store.Save(ctx, snapshot); err != nil {
			return fmt.Errorf("save index snapshot: %w", err)
		}
	}
	idx.publish(snapshot)
	idx.logger.Info("fewshot index built", "entries", len(entries), "dimensions", dims)
	return nil
}

func (idx *Index) publish(snapshot Snapshot) {
	idx.mu.Lock()
	idx.snapshot = snapshot
	idx.ready = true
	idx.mu.Unlock()
}

// Ready reports whether the index can serve lookups.
func (idx *Index) Ready() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.ready
}

// Size returns the number of indexed exemplars.
func (idx *Index) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.snapshot.Entries)
}

// Retrieve returns the k exemplars most similar to question, best first.
func (idx *Index) Retrieve(ctx context.Context, question string, k int) ([]Exemplar, error) {
	matches, err := idx.Search(ctx, question, k)
	if err != nil {
		return nil, err
	}
	out := make([]Exemplar, len(matches))
	for i, m := range matches {
		out[i] = m.Exemplar
	}
	return out, nil
}

// Search is Retrieve with similarity scores attached.
func (idx *Index) Search(ctx context.Context, question string, k int) ([]Match, error) {
	idx.mu.RLock()
	ready := idx.ready
	entries := idx.snapshot.Entries
	dims := idx.snapshot.Dimensions
	idx.mu.RUnlock()

	if !ready {
		return nil, ErrIndexNotReady
	}
	if k <= 0 || len(entries) == 0 {
		return []Match{}, nil
	}

	vectors, err := idx.embedder.Embed(ctx, []string{question})
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}
	if len(vectors) != 1 || len(vectors[0]) != dims {
		return nil, fmt.Errorf("embed question: unexpected vector shape")
	}
	query := vectors[0]

	matches := make([]Match, len(entries))
	for i, entry := range entries {
		matches[i] = Match{
			Exemplar: entry.Exemplar,
			Position: entry.Position,
			Score:    cosineSimilarity(query, entry.Embedding),
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score == matches[j].Score {
			return matches[i].Position < matches[j].Position
		}
		return matches[i].Score > matches[j].Score
	})
	if k > len(matches) {
		k = len(matches)
	}
	return matches[:k], nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	den := math.Sqrt(magA) * math.Sqrt(magB)
	if den == 0 {
		return 0
	}
	return dot / den
}
