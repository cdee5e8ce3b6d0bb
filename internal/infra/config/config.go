package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Answer modes for the query execution adapter.
const (
	AnswerModeLLM    = "llm"
	AnswerModeDirect = "direct"
)

// Index snapshot backends.
const (
	IndexBackendDir      = "dir"
	IndexBackendPgvector = "pgvector"
	IndexBackendObject   = "object"
	IndexBackendMirrored = "mirrored"
)

// OpenAI-compatible endpoints and their default models.
const (
	OpenAIBaseURL        = "https://api.openai.com/v1"
	OpenAIModel          = "gpt-4o-mini"
	OpenAIEmbeddingModel = "text-embedding-3-small"

	GeminiBaseURL        = "https://generativelanguage.googleapis.com/v1beta/openai"
	GeminiModel          = "gemini-2.5-flash"
	GeminiEmbeddingModel = "text-embedding-004"
)

// Inventory database drivers.
const (
	DriverPgx      = "pgx"
	DriverPostgres = "postgres"
	DriverDuckDB   = "duckdb"
	DriverMySQL    = "mysql"
)

// Session store backends.
const (
	SessionBackendMemory = "memory"
	SessionBackendValkey = "valkey"
)

// Config aggregates runtime configuration used across the service.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	LLM       LLMConfig       `yaml:"llm"`
	Database  DatabaseConfig  `yaml:"database"`
	FewShot   FewShotConfig   `yaml:"fewShot"`
	Index     IndexConfig     `yaml:"index"`
	Prompt    PromptConfig    `yaml:"prompt"`
	Assistant AssistantConfig `yaml:"assistant"`
	Session   SessionConfig   `yaml:"session"`
}

// HTTPConfig controls server level behavior.
type HTTPConfig struct {
	Address        string          `yaml:"address"`
	ReadTimeout    time.Duration   `yaml:"readTimeout"`
	WriteTimeout   time.Duration   `yaml:"writeTimeout"`
	AllowedOrigins []string        `yaml:"allowedOrigins"`
	RateLimit      RateLimitConfig `yaml:"rateLimit"`
}

// RateLimitConfig drives the request limiting middleware.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requestsPerMinute"`
	Burst             int  `yaml:"burst"`
}

// LLMConfig contains settings for the OpenAI-compatible completion and embedding endpoints.
type LLMConfig struct {
	APIKey         string        `yaml:"apiKey"`
	BaseURL        string        `yaml:"baseUrl"`
	Model          string        `yaml:"model"`
	EmbeddingModel string        `yaml:"embeddingModel"`
	Temperature    float32       `yaml:"temperature"`
	Timeout        time.Duration `yaml:"timeout"`
}

// DatabaseConfig points at the inventory database the generated SQL runs against.
type DatabaseConfig struct {
	URL           string        `yaml:"url"`
	Driver        string        `yaml:"driver"`
	Schema        string        `yaml:"schema"`
	IncludeTables []string      `yaml:"includeTables"`
	MaxOpenConns  int           `yaml:"maxOpenConns"`
	QueryTimeout  time.Duration `yaml:"queryTimeout"`
}

// FewShotConfig controls exemplar retrieval.
type FewShotConfig struct {
	K             int    `yaml:"k"`
	ExemplarsFile string `yaml:"exemplarsFile"`
}

// IndexConfig selects where the similarity index snapshot lives.
type IndexConfig struct {
	Backend     string            `yaml:"backend"`
	Dir         string            `yaml:"dir"`
	Embedder    string            `yaml:"embedder"`
	Dimensions  int               `yaml:"dimensions"`
	Postgres    PostgresConfig    `yaml:"postgres"`
	ObjectStore ObjectStoreConfig `yaml:"objectStore"`
}

// PostgresConfig contains DSN and pooling settings.
type PostgresConfig struct {
	DSN      string `yaml:"dsn"`
	Table    string `yaml:"table"`
	MaxConns int32  `yaml:"maxConns"`
	MinConns int32  `yaml:"minConns"`
}

// ObjectStoreConfig describes an S3-compatible bucket (R2, MinIO, S3).
type ObjectStoreConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Prefix    string `yaml:"prefix"`
}

// PromptConfig overrides the canonical prompt contract. Empty templates fall back to defaults.
type PromptConfig struct {
	Dialect         string `yaml:"dialect"`
	TopK            int    `yaml:"topK"`
	Prefix          string `yaml:"prefix"`
	ExampleTemplate string `yaml:"exampleTemplate"`
	Suffix          string `yaml:"suffix"`
}

// AssistantConfig tunes the query execution adapter.
type AssistantConfig struct {
	AnswerMode string `yaml:"answerMode"`
	ReadOnly   bool   `yaml:"readOnly"`
}

// SessionConfig controls conversation storage.
type SessionConfig struct {
	Backend    string        `yaml:"backend"`
	CookieName string        `yaml:"cookieName"`
	TTL        time.Duration `yaml:"ttl"`
	Valkey     RedisConfig   `yaml:"valkey"`
}

// RedisConfig contains connection information for the Valkey session store.
type RedisConfig struct {
	Addr   string `yaml:"addr"`
	Prefix string `yaml:"prefix"`
}

// Load reads configuration from .env, a YAML file and environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := defaultConfig()

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if err := hydrateFromFile(cfg, path); err != nil {
			return nil, err
		}
	} else if _, err := os.Stat("configs/config.yaml"); err == nil {
		if err := hydrateFromFile(cfg, "configs/config.yaml"); err != nil {
			return nil, err
		}
	}

	googleKey := applyEnvOverrides(cfg)
	if err := resolveLLMProvider(cfg, googleKey); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	resolveDatabase(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func hydrateFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

// applyEnvOverrides reports whether the API key was taken from GOOGLE_API_KEY.
func applyEnvOverrides(cfg *Config) (googleKey bool) {
	if v := os.Getenv("HTTP_ADDRESS"); v != "" {
		cfg.HTTP.Address = v
	}
	if v := os.Getenv("HTTP_ALLOWED_ORIGINS"); v != "" {
		cfg.HTTP.AllowedOrigins = splitList(v)
	}
	if v := os.Getenv("HTTP_RATE_LIMIT_ENABLED"); v != "" {
		cfg.HTTP.RateLimit.Enabled = parseBool(v)
	}
	if v := os.Getenv("HTTP_RATE_LIMIT_RPM"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.HTTP.RateLimit.RequestsPerMinute = parsed
		}
	}
	if v := os.Getenv("HTTP_RATE_LIMIT_BURST"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.HTTP.RateLimit.Burst = parsed
		}
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	} else if v := os.Getenv("GOOGLE_API_KEY"); v != "" && cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = v
		googleKey = true
	}
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("LLM_EMBEDDING_MODEL"); v != "" {
		cfg.LLM.EmbeddingModel = v
	}
	if v := os.Getenv("LLM_TEMPERATURE"); v != "" {
		if parsed, err := strconv.ParseFloat(v, 32); err == nil {
			cfg.LLM.Temperature = float32(parsed)
		}
	}
	if v := os.Getenv("LLM_TIMEOUT"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			cfg.LLM.Timeout = parsed
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("DATABASE_SCHEMA"); v != "" {
		cfg.Database.Schema = v
	}
	if v := os.Getenv("DATABASE_INCLUDE_TABLES"); v != "" {
		cfg.Database.IncludeTables = splitList(v)
	}
	if v := os.Getenv("DATABASE_QUERY_TIMEOUT"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			cfg.Database.QueryTimeout = parsed
		}
	}
	if v := os.Getenv("FEWSHOT_K"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.FewShot.K = parsed
		}
	}
	if v := os.Getenv("FEWSHOT_EXEMPLARS_FILE"); v != "" {
		cfg.FewShot.ExemplarsFile = v
	}
	if v := os.Getenv("INDEX_BACKEND"); v != "" {
		cfg.Index.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("INDEX_DIR"); v != "" {
		cfg.Index.Dir = v
	}
	if v := os.Getenv("INDEX_EMBEDDER"); v != "" {
		cfg.Index.Embedder = strings.ToLower(v)
	}
	if v := os.Getenv("INDEX_POSTGRES_DSN"); v != "" {
		cfg.Index.Postgres.DSN = v
	}
	if v := os.Getenv("INDEX_S3_ENDPOINT"); v != "" {
		cfg.Index.ObjectStore.Endpoint = v
	}
	if v := os.Getenv("INDEX_S3_ACCESS_KEY"); v != "" {
		cfg.Index.ObjectStore.AccessKey = v
	}
	if v := os.Getenv("INDEX_S3_SECRET_KEY"); v != "" {
		cfg.Index.ObjectStore.SecretKey = v
	}
	if v := os.Getenv("INDEX_S3_BUCKET"); v != "" {
		cfg.Index.ObjectStore.Bucket = v
	}
	if v := os.Getenv("INDEX_S3_REGION"); v != "" {
		cfg.Index.ObjectStore.Region = v
	}
	if v := os.Getenv("PROMPT_DIALECT"); v != "" {
		cfg.Prompt.Dialect = v
	}
	if v := os.Getenv("PROMPT_TOP_K"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Prompt.TopK = parsed
		}
	}
	if v := os.Getenv("ANSWER_MODE"); v != "" {
		cfg.Assistant.AnswerMode = strings.ToLower(v)
	}
	if v := os.Getenv("ASSISTANT_READ_ONLY"); v != "" {
		cfg.Assistant.ReadOnly = parseBool(v)
	}
	if v := os.Getenv("SESSION_BACKEND"); v != "" {
		cfg.Session.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("SESSION_TTL"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			cfg.Session.TTL = parsed
		}
	}
	if v := os.Getenv("SESSION_VALKEY_ADDR"); v != "" {
		cfg.Session.Valkey.Addr = v
	}
	return
}

// resolveLLMProvider fills the endpoint and model names left blank by the file
// and environment. A Google key without an explicit base URL selects the
// Gemini OpenAI-compatible endpoint.
func resolveLLMProvider(cfg *Config, googleKey bool) error {
	base := strings.TrimSpace(cfg.LLM.BaseURL)
	if base == "" {
		base = OpenAIBaseURL
		if googleKey {
			base = GeminiBaseURL
		}
	}
	cfg.LLM.BaseURL = base

	gemini := isGeminiEndpoint(base)
	if googleKey && !gemini {
		return fmt.Errorf("GOOGLE_API_KEY is only accepted by the Gemini endpoint %s, but llm.baseUrl is %s; set LLM_API_KEY for that endpoint", GeminiBaseURL, base)
	}
	if strings.TrimSpace(cfg.LLM.Model) == "" {
		cfg.LLM.Model = OpenAIModel
		if gemini {
			cfg.LLM.Model = GeminiModel
		}
	}
	if strings.TrimSpace(cfg.LLM.EmbeddingModel) == "" {
		cfg.LLM.EmbeddingModel = OpenAIEmbeddingModel
		if gemini {
			cfg.LLM.EmbeddingModel = GeminiEmbeddingModel
		}
	}
	return nil
}

func isGeminiEndpoint(baseURL string) bool {
	return strings.Contains(strings.ToLower(baseURL), "generativelanguage.googleapis.com")
}

// resolveDatabase infers the driver from the URL scheme and the prompt dialect
// from the driver when neither is configured.
func resolveDatabase(cfg *Config) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Database.Driver))
	if driver == "" {
		driver = DriverFromURL(cfg.Database.URL)
	}
	cfg.Database.Driver = driver
	if strings.TrimSpace(cfg.Prompt.Dialect) == "" {
		cfg.Prompt.Dialect = dialectFor(driver)
	}
}

// DriverFromURL maps a connection URL to the database/sql driver that serves it.
func DriverFromURL(url string) string {
	lower := strings.ToLower(strings.TrimSpace(url))
	switch {
	case strings.HasPrefix(lower, "mysql://"), strings.HasPrefix(lower, "mysql+"):
		return DriverMySQL
	case strings.HasPrefix(lower, "duckdb://"), strings.HasSuffix(lower, ".duckdb"):
		return DriverDuckDB
	default:
		return DriverPgx
	}
}

func dialectFor(driver string) string {
	switch driver {
	case DriverMySQL:
		return "MySQL"
	case DriverDuckDB:
		return "DuckDB"
	default:
		return "PostgreSQL"
	}
}

func defaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Address:      ":8080",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 3 * time.Minute,
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 30,
				Burst:             10,
			},
		},
		LLM: LLMConfig{
			Temperature:    0.2,
			Timeout:        60 * time.Second,
		},
		Database: DatabaseConfig{
			Schema:       "public",
			MaxOpenConns: 4,
		},
		FewShot: FewShotConfig{
			K: 2,
		},
		Index: IndexConfig{
			Backend:    IndexBackendDir,
			Dir:        "data/fewshot_index",
			Embedder:   "openai",
			Dimensions: 64,
			Postgres: PostgresConfig{
				Table:    "fewshot_exemplars",
				MaxConns: 2,
			},
			ObjectStore: ObjectStoreConfig{
				Prefix: "fewshot_index",
			},
		},
		Prompt: PromptConfig{
			TopK: 5,
		},
		Assistant: AssistantConfig{
			AnswerMode: AnswerModeLLM,
			ReadOnly:   true,
		},
		Session: SessionConfig{
			Backend:    SessionBackendMemory,
			CookieName: "sqlassistant_session",
			TTL:        12 * time.Hour,
			Valkey: RedisConfig{
				Prefix: "sqlassistant",
			},
		},
	}
}

// Validate ensures the configuration is safe to use.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Database.URL) == "" {
		return errors.New("database.url is required (set DATABASE_URL)")
	}
	if strings.TrimSpace(c.LLM.APIKey) == "" {
		return errors.New("llm.apiKey is required (set LLM_API_KEY)")
	}
	if c.HTTP.Address == "" {
		return errors.New("http.address cannot be empty")
	}
	switch strings.ToLower(c.Database.Driver) {
	case DriverPgx, DriverPostgres, DriverDuckDB, DriverMySQL:
	default:
		return fmt.Errorf("database.driver %q is not supported (pgx, postgres, duckdb, mysql)", c.Database.Driver)
	}
	if strings.TrimSpace(c.LLM.Model) == "" {
		return errors.New("llm.model cannot be empty")
	}
	if c.FewShot.K <= 0 {
		return errors.New("fewShot.k must be positive")
	}
	if c.Prompt.TopK <= 0 {
		return errors.New("prompt.topK must be positive")
	}
	if strings.TrimSpace(c.Prompt.Dialect) == "" {
		return errors.New("prompt.dialect cannot be empty")
	}
	switch c.Assistant.AnswerMode {
	case AnswerModeLLM, AnswerModeDirect:
	default:
		return fmt.Errorf("assistant.answerMode %q must be %q or %q", c.Assistant.AnswerMode, AnswerModeLLM, AnswerModeDirect)
	}
	switch c.Index.Embedder {
	case "openai":
		if strings.TrimSpace(c.LLM.EmbeddingModel) == "" {
			return errors.New("llm.embeddingModel cannot be empty")
		}
	case "deterministic":
		if c.Index.Dimensions <= 0 {
			return errors.New("index.dimensions must be positive for the deterministic embedder")
		}
	default:
		return fmt.Errorf("index.embedder %q must be openai or deterministic", c.Index.Embedder)
	}
	switch c.Index.Backend {
	case IndexBackendDir:
		if strings.TrimSpace(c.Index.Dir) == "" {
			return errors.New("index.dir cannot be empty")
		}
	case IndexBackendPgvector:
		if strings.TrimSpace(c.Index.Postgres.Table) == "" {
			return errors.New("index.postgres.table cannot be empty")
		}
	case IndexBackendObject, IndexBackendMirrored:
		if strings.TrimSpace(c.Index.ObjectStore.Endpoint) == "" || strings.TrimSpace(c.Index.ObjectStore.Bucket) == "" {
			return errors.New("index.objectStore.endpoint and index.objectStore.bucket are required for object index backends")
		}
		if c.Index.Backend == IndexBackendMirrored && strings.TrimSpace(c.Index.Dir) == "" {
			return errors.New("index.dir cannot be empty")
		}
	default:
		return fmt.Errorf("index.backend %q is not supported", c.Index.Backend)
	}
	switch c.Session.Backend {
	case SessionBackendMemory:
	case SessionBackendValkey:
		if strings.TrimSpace(c.Session.Valkey.Addr) == "" {
			return errors.New("session.valkey.addr cannot be empty when the valkey session backend is enabled")
		}
	default:
		return fmt.Errorf("session.backend %q is not supported", c.Session.Backend)
	}
	if strings.TrimSpace(c.Session.CookieName) == "" {
		return errors.New("session.cookieName cannot be empty")
	}
	if c.HTTP.RateLimit.Enabled {
		if c.HTTP.RateLimit.RequestsPerMinute <= 0 {
			return errors.New("http.rateLimit.requestsPerMinute must be positive")
		}
		if c.HTTP.RateLimit.Burst <= 0 {
			return errors.New("http.rateLimit.burst must be positive")
		}
	}
	return nil
}

// IndexDSN returns the DSN used by the pgvector index store, defaulting to the inventory database.
func (c *Config) IndexDSN() string {
	if dsn := strings.TrimSpace(c.Index.Postgres.DSN); dsn != "" {
		return dsn
	}
	return c.Database.URL
}

func parseBool(v string) bool {
	return v == "1" || strings.EqualFold(v, "true")
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
