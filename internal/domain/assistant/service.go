package assistant

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/yanqian/sqlassistant/internal/domain/conversation"
	"github.com/yanqian/sqlassistant/internal/domain/fewshot"
	"github.com/yanqian/sqlassistant/internal/domain/prompt"
	"github.com/yanqian/sqlassistant/internal/infra/llm/chatgpt"
	apperrors "github.com/yanqian/sqlassistant/pkg/errors"
	"github.com/yanqian/sqlassistant/pkg/metrics"
	"github.com/yanqian/sqlassistant/pkg/util"
)

// Stop sequences for the two completion steps.
var (
	sqlStop    = []string{"\nSQLResult:"}
	answerStop = []string{"\nQuestion:"}
)

// Service turns a natural-language question into SQL, runs it and phrases the answer.
type Service interface {
	Ask(ctx context.Context, session conversation.Session, question string) (Result, error)
	RefreshSchema(ctx context.Context) (string, error)
}

type chatClient interface {
	CreateChatCompletion(ctx context.Context, req chatgpt.ChatCompletionRequest) (chatgpt.ChatCompletionResponse, error)
}

type service struct {
	cfg       Config
	retriever Retriever
	schema    SchemaSource
	prompts   PromptBuilder
	runner    QueryRunner
	client    chatClient
	history   History
	tokens    *metrics.TokenCounter
	logger    *slog.Logger
}

// NewService wires up the assistant domain.
func NewService(
	cfg Config,
	retriever Retriever,
	schema SchemaSource,
	prompts PromptBuilder,
	runner QueryRunner,
	client chatClient,
	history History,
	tokens *metrics.TokenCounter,
	logger *slog.Logger,
) Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &service{
		cfg:       cfg,
		retriever: retriever,
		schema:    schema,
		prompts:   prompts,
		runner:    runner,
		client:    client,
		history:   history,
		tokens:    tokens,
		logger:    logger.With("component", "assistant.service"),
	}
}

func (s *service) Ask(ctx context.Context, session conversation.Session, question string) (res Result, err error) {
	start := time.Now()
	defer func() {
		if err != nil {
			outcome := apperrors.CodeOf(err)
			metrics.ObserveQuestion(outcome)
			s.logger.Warn("question failed", "session", session.ID, "code", outcome, "error", err)
			return
		}
		metrics.ObserveQuestion("ok")
	}()

	question = strings.TrimSpace(question)
	if question == "" {
		return Result{}, apperrors.Wrap(apperrors.CodeInvalidInput, "question cannot be empty", nil)
	}

	exemplars, err := s.retriever.Retrieve(ctx, question, s.cfg.K)
	if err != nil {
		if errors.Is(err, fewshot.ErrIndexNotReady) {
			return Result{}, apperrors.Wrap(apperrors.CodeIndex, "example index is not ready", err)
		}
		return Result{}, apperrors.Wrap(apperrors.CodeIndex, "example retrieval failed", err)
	}

	tableInfo, err := s.schema.TableInfo(ctx)
	if err != nil {
		return Result{}, apperrors.Wrap(apperrors.CodeSchema, "failed to load table info", err)
	}

	sqlPrompt, err := s.prompts.Build(prompt.Vars{
		Dialect:   s.cfg.Dialect,
		TopK:      s.cfg.TopK,
		TableInfo: tableInfo,
		Input:     question,
		Examples:  exemplars,
	})
	if err != nil {
		return Result{}, apperrors.Wrap(apperrors.CodeInternal, "failed to render prompt", err)
	}
	metrics.ObservePromptTokens(s.tokens.Count(sqlPrompt))

	completion, usage, err := s.complete(ctx, "sql", sqlPrompt, sqlStop)
	if err != nil {
		return Result{}, err
	}
	statement := ExtractSQL(completion)
	if statement == "" {
		return Result{}, apperrors.Wrap(apperrors.CodeGeneration, "model did not return a SQL statement", nil)
	}

	sqlStart := time.Now()
	rows, err := s.runner.Run(ctx, statement)
	metrics.ObserveSQL(time.Since(sqlStart))
	if err != nil {
		s.logger.Info("generated sql failed", "sql", statement, "error", err)
		return Result{}, apperrors.Wrap(apperrors.CodeSQL, "generated SQL failed", err)
	}

	answer := rows.Text
	if s.cfg.AnswerMode != AnswerModeDirect {
		text, answerUsage, err := s.complete(ctx, "answer", prompt.AnswerPrompt(sqlPrompt, statement, rows.Text), answerStop)
		if err != nil {
			return Result{}, err
		}
		usage = usage.Add(answerUsage)
		answer = CleanAnswer(text)
		if answer == "" {
			return Result{}, apperrors.Wrap(apperrors.CodeLLM, "model returned an empty answer", nil)
		}
	}

	if err := s.history.Append(ctx, session, conversation.Entry{
		Question: question,
		Answer:   answer,
		SQL:      statement,
		AskedAt:  util.NowUTC(),
	}); err != nil {
		return Result{}, err
	}

	res = Result{
		Question:   question,
		SQL:        statement,
		RawResult:  rows.Text,
		Answer:     answer,
		Exemplars:  exemplars,
		DurationMs: util.MillisSince(start),
		TokenUsage: usage,
	}
	s.logger.Info("question answered",
		"session", session.ID,
		"exemplars", len(exemplars),
		"rows", len(rows.Rows),
		"durationMs", res.DurationMs,
		"totalTokens", usage.TotalTokens,
	)
	return res, nil
}

func (s *service) RefreshSchema(ctx context.Context) (string, error) {
	text, err := s.schema.Refresh(ctx)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeSchema, "failed to refresh table info", err)
	}
	return text, nil
}

func (s *service) complete(ctx context.Context, step, promptText string, stop []string) (string, metrics.TokenUsage, error) {
	started := time.Now()
	resp, err := s.client.CreateChatCompletion(ctx, chatgpt.ChatCompletionRequest{
		Model:       s.cfg.Model,
		Messages:    []chatgpt.Message{{Role: "user", Content: promptText}},
		Temperature: s.cfg.Temperature,
		Stop:        stop,
	})
	metrics.ObserveLLM(step, time.Since(started))
	if err != nil {
		return "", metrics.TokenUsage{}, apperrors.Wrap(apperrors.CodeLLM, "language model request failed", err)
	}
	content, ok := resp.Content()
	if !ok {
		return "", metrics.TokenUsage{}, apperrors.Wrap(apperrors.CodeLLM, "language model returned no choices", nil)
	}

	usage := metrics.TokenUsage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}
	if usage.IsZero() {
		usage.PromptTokens = s.tokens.Count(promptText)
		usage.CompletionTokens = s.tokens.Count(content)
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}
	return content, usage, nil
}
