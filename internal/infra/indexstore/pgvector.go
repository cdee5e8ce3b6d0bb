package indexstore

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/yanqian/sqlassistant/internal/domain/fewshot"
)

// PgvectorStore persists the snapshot as rows of a pgvector table.
type PgvectorStore struct {
	pool   *pgxpool.Pool
	table  string
	logger *slog.Logger
}

// NewPgvectorStore constructs the store; call EnsureSchema before first use.
func NewPgvectorStore(pool *pgxpool.Pool, table string, logger *slog.Logger) *PgvectorStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PgvectorStore{
		pool:   pool,
		table:  pgx.Identifier{table}.Sanitize(),
		logger: logger.With("component", "indexstore.pgvector"),
	}
}

// EnsureSchema creates the vector extension and the exemplar table if missing.
func (s *PgvectorStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("create vector extension: %w", err)
	}
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+s.table+` (
			position        INTEGER PRIMARY KEY,
			question        TEXT NOT NULL,
			sql_query       TEXT NOT NULL,
			sql_result      TEXT NOT NULL,
			answer          TEXT NOT NULL,
			embedding       vector NOT NULL,
			embedding_model TEXT NOT NULL,
			built_at        TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// Load reads all rows ordered by position. An empty table means no snapshot.
func (s *PgvectorStore) Load(ctx context.Context) (fewshot.Snapshot, bool, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT position, question, sql_query, sql_result, answer, embedding::text, embedding_model, built_at
		FROM `+s.table+`
		ORDER BY position ASC
	`)
	if err != nil {
		return fewshot.Snapshot{}, false, fmt.Errorf("query %s: %w", s.table, err)
	}
	defer rows.Close()

	var snapshot fewshot.Snapshot
	for rows.Next() {
		var (
			entry        fewshot.Entry
			embeddingRaw string
			model        string
			builtAt      time.Time
		)
		if err := rows.Scan(
			&entry.Position,
			&entry.Exemplar.Question,
			&entry.Exemplar.SQLQuery,
			&entry.Exemplar.SQLResult,
			&entry.Exemplar.Answer,
			&embeddingRaw,
			&model,
			&builtAt,
		); err != nil {
			return fewshot.Snapshot{}, false, err
		}
		vec, err := parseVector(embeddingRaw)
		if err != nil {
			return fewshot.Snapshot{}, false, fmt.Errorf("parse embedding at position %d: %w", entry.Position, err)
		}
		entry.Embedding = vec
		snapshot.Entries = append(snapshot.Entries, entry)
		snapshot.EmbeddingModel = model
		snapshot.BuiltAt = builtAt
		snapshot.Dimensions = len(vec)
	}
	if err := rows.Err(); err != nil {
		return fewshot.Snapshot{}, false, err
	}
	if len(snapshot.Entries) == 0 {
		return fewshot.Snapshot{}, false, nil
	}
	return snapshot, true, nil
}

// Save replaces the table contents in one transaction under an advisory lock, so concurrent
// processes building at startup serialize instead of interleaving rows.
func (s *PgvectorStore) Save(ctx context.Context, snapshot fewshot.Snapshot) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin index save: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, s.table); err != nil {
		return fmt.Errorf("lock %s: %w", s.table, err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM `+s.table); err != nil {
		return fmt.Errorf("clear %s: %w", s.table, err)
	}

	batch := &pgx.Batch{}
	for _, entry := range snapshot.Entries {
		batch.Queue(`
			INSERT INTO `+s.table+` (position, question, sql_query, sql_result, answer, embedding, embedding_model, built_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, entry.Position, entry.Exemplar.Question, entry.Exemplar.SQLQuery, entry.Exemplar.SQLResult,
			entry.Exemplar.Answer, pgvector.NewVector(entry.Embedding), snapshot.EmbeddingModel, snapshot.BuiltAt)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert index rows: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit index save: %w", err)
	}
	s.logger.Info("index snapshot saved", "table", s.table, "entries", len(snapshot.Entries))
	return nil
}

var _ fewshot.SnapshotStore = (*PgvectorStore)(nil)

// parseVector decodes pgvector's text form "[0.1,0.2]".
func parseVector(raw string) ([]float32, error) {
	trimmed := strings.TrimSpace(raw)
	trimmed = strings.TrimPrefix(trimmed, "[")
	trimmed = strings.TrimSuffix(trimmed, "]")
	if trimmed == "" {
		return nil, nil
	}
	parts := strings.Split(trimmed, ",")
	out := make([]float32, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, err
		}
		out = append(out, float32(f))
	}
	return out, nil
}
