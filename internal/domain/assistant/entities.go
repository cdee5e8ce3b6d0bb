package assistant

import (
	"context"

	"github.com/yanqian/sqlassistant/internal/domain/conversation"
	"github.com/yanqian/sqlassistant/internal/domain/fewshot"
	"github.com/yanqian/sqlassistant/internal/domain/prompt"
	"github.com/yanqian/sqlassistant/internal/infra/inventorydb"
	"github.com/yanqian/sqlassistant/pkg/metrics"
)

// Answer modes.
const (
	AnswerModeLLM    = "llm"
	AnswerModeDirect = "direct"
)

// Config tunes the pipeline.
type Config struct {
	K           int
	Dialect     string
	TopK        int
	AnswerMode  string
	Model       string
	Temperature float32
}

// Result describes one answered question.
type Result struct {
	Question   string             `json:"question"`
	SQL        string             `json:"sql"`
	RawResult  string             `json:"rawResult"`
	Answer     string             `json:"answer"`
	Exemplars  []fewshot.Exemplar `json:"exemplars"`
	DurationMs int64              `json:"durationMs"`
	TokenUsage metrics.TokenUsage `json:"tokenUsage"`
}

// Retriever picks the exemplars shown to the model.
type Retriever interface {
	Retrieve(ctx context.Context, question string, k int) ([]fewshot.Exemplar, error)
}

// SchemaSource provides the table info embedded in the prompt.
type SchemaSource interface {
	TableInfo(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
}

// PromptBuilder renders the few-shot prompt.
type PromptBuilder interface {
	Build(vars prompt.Vars) (string, error)
}

// QueryRunner executes a generated statement.
type QueryRunner interface {
	Run(ctx context.Context, query string) (inventorydb.Result, error)
}

// History records answered questions.
type History interface {
	Append(ctx context.Context, session conversation.Session, entry conversation.Entry) error
}
