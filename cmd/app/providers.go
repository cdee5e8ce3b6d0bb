package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/valkey-io/valkey-go"

	"github.com/yanqian/sqlassistant/internal/domain/assistant"
	"github.com/yanqian/sqlassistant/internal/domain/conversation"
	"github.com/yanqian/sqlassistant/internal/domain/fewshot"
	"github.com/yanqian/sqlassistant/internal/domain/prompt"
	"github.com/yanqian/sqlassistant/internal/infra/config"
	"github.com/yanqian/sqlassistant/internal/infra/embedder"
	"github.com/yanqian/sqlassistant/internal/infra/indexstore"
	"github.com/yanqian/sqlassistant/internal/infra/inventorydb"
	"github.com/yanqian/sqlassistant/internal/infra/llm/chatgpt"
	"github.com/yanqian/sqlassistant/internal/infra/sessionstore"
	"github.com/yanqian/sqlassistant/pkg/metrics"
)

const embedderDeterministic = "deterministic"

func provideChatGPTClient(cfg *config.Config) (*chatgpt.Client, error) {
	return chatgpt.NewClient(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.Timeout)
}

func provideTokenCounter(cfg *config.Config, logger *slog.Logger) *metrics.TokenCounter {
	return metrics.NewTokenCounter(cfg.LLM.Model, logger)
}

type namedEmbedder interface {
	fewshot.Embedder
	Model() string
}

func provideEmbedder(cfg *config.Config, client *chatgpt.Client, tokens *metrics.TokenCounter, logger *slog.Logger) namedEmbedder {
	if strings.EqualFold(cfg.Index.Embedder, embedderDeterministic) {
		logger.Info("using deterministic embedder", "dimensions", cfg.Index.Dimensions)
		return embedder.NewDeterministicEmbedder(cfg.Index.Dimensions)
	}
	return embedder.NewChatGPTEmbedder(client, cfg.LLM.EmbeddingModel, tokens, logger)
}

func provideExemplars(cfg *config.Config) ([]fewshot.Exemplar, error) {
	path := strings.TrimSpace(cfg.FewShot.ExemplarsFile)
	if path == "" {
		return fewshot.DefaultExemplars(), nil
	}
	return fewshot.LoadExemplars(path)
}

func provideSnapshotStore(cfg *config.Config, logger *slog.Logger) (fewshot.SnapshotStore, func(), error) {
	noop := func() {}
	switch cfg.Index.Backend {
	case config.IndexBackendPgvector:
		pool, err := newPgxPool(cfg.IndexDSN(), cfg.Index.Postgres)
		if err != nil {
			return nil, noop, fmt.Errorf("index postgres: %w", err)
		}
		store := indexstore.NewPgvectorStore(pool, cfg.Index.Postgres.Table, logger)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, noop, err
		}
		logger.Info("example index stored in pgvector", "table", cfg.Index.Postgres.Table)
		return store, pool.Close, nil
	case config.IndexBackendObject:
		remote, err := newObjectStore(cfg, logger)
		if err != nil {
			return nil, noop, err
		}
		return remote, noop, nil
	case config.IndexBackendMirrored:
		remote, err := newObjectStore(cfg, logger)
		if err != nil {
			return nil, noop, err
		}
		return indexstore.NewMirrored(indexstore.NewDirStore(cfg.Index.Dir, logger), remote, logger), noop, nil
	default:
		return indexstore.NewDirStore(cfg.Index.Dir, logger), noop, nil
	}
}

func newObjectStore(cfg *config.Config, logger *slog.Logger) (*indexstore.ObjectStore, error) {
	bucket := cfg.Index.ObjectStore
	blobs, err := indexstore.NewMinioBlobs(bucket.Endpoint, bucket.AccessKey, bucket.SecretKey, bucket.Bucket, bucket.Region)
	if err != nil {
		return nil, fmt.Errorf("index object store: %w", err)
	}
	logger.Info("example index stored in bucket", "bucket", bucket.Bucket, "prefix", bucket.Prefix)
	return indexstore.NewObjectStore(blobs, bucket.Prefix, logger), nil
}

func newPgxPool(dsn string, pg config.PostgresConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid postgres dsn: %w", err)
	}
	if pg.MaxConns > 0 {
		poolConfig.MaxConns = pg.MaxConns
	}
	if pg.MinConns > 0 {
		poolConfig.MinConns = pg.MinConns
	}
	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}
	return pool, nil
}

func provideFewShotIndex(exemplars []fewshot.Exemplar, emb namedEmbedder, store fewshot.SnapshotStore, logger *slog.Logger) *fewshot.Index {
	return fewshot.NewIndex(fewshot.Config{EmbeddingModel: emb.Model()}, exemplars, emb, store, logger)
}

func providePromptAssembler(cfg *config.Config) (*prompt.Assembler, error) {
	return prompt.NewAssembler(prompt.Config{
		Prefix:          cfg.Prompt.Prefix,
		ExampleTemplate: cfg.Prompt.ExampleTemplate,
		Suffix:          cfg.Prompt.Suffix,
	})
}

func provideInventoryConfig(cfg *config.Config) inventorydb.Config {
	return inventorydb.Config{
		Driver:        cfg.Database.Driver,
		URL:           cfg.Database.URL,
		MaxOpenConns:  cfg.Database.MaxOpenConns,
		Schema:        cfg.Database.Schema,
		IncludeTables: cfg.Database.IncludeTables,
		QueryTimeout:  cfg.Database.QueryTimeout,
		ReadOnly:      cfg.Assistant.ReadOnly,
	}
}

func provideInventoryDB(cfg inventorydb.Config, logger *slog.Logger) (*sql.DB, func(), error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	db, err := inventorydb.Open(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("inventory database: %w", err)
	}
	logger.Info("inventory database connected", "driver", cfg.Driver, "readOnly", cfg.ReadOnly)
	return db, func() { _ = db.Close() }, nil
}

func provideSessionStore(cfg *config.Config, logger *slog.Logger) (conversation.Store, func(), error) {
	if cfg.Session.Backend != config.SessionBackendValkey {
		return sessionstore.NewMemoryStore(), func() {}, nil
	}
	opt, err := buildValkeyOptions(cfg.Session.Valkey.Addr)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid valkey configuration: %w", err)
	}
	client, err := valkey.NewClient(opt)
	if err != nil {
		return nil, nil, fmt.Errorf("create valkey client: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("valkey ping failed: %w", err)
	}
	logger.Info("session valkey store enabled", "addr", cfg.Session.Valkey.Addr)
	return sessionstore.NewValkeyStore(client, cfg.Session.Valkey.Prefix, cfg.Session.TTL), client.Close, nil
}

func buildValkeyOptions(addr string) (valkey.ClientOption, error) {
	if strings.Contains(addr, "://") {
		return valkey.ParseURL(addr)
	}
	return valkey.ClientOption{InitAddress: []string{addr}}, nil
}

func provideAssistantConfig(cfg *config.Config) assistant.Config {
	return assistant.Config{
		K:           cfg.FewShot.K,
		Dialect:     cfg.Prompt.Dialect,
		TopK:        cfg.Prompt.TopK,
		AnswerMode:  cfg.Assistant.AnswerMode,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
	}
}

func provideAssistantService(
	cfg assistant.Config,
	index *fewshot.Index,
	inspector *inventorydb.Inspector,
	prompts *prompt.Assembler,
	executor *inventorydb.Executor,
	client *chatgpt.Client,
	history conversation.Service,
	tokens *metrics.TokenCounter,
	logger *slog.Logger,
) assistant.Service {
	return assistant.NewService(cfg, index, inspector, prompts, executor, client, history, tokens, logger)
}
