package embedder

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/yanqian/sqlassistant/internal/domain/fewshot"
	"github.com/yanqian/sqlassistant/internal/infra/llm/chatgpt"
	"github.com/yanqian/sqlassistant/pkg/metrics"
)

const maxBatchTokens = 200_000

type embeddingClient interface {
	CreateEmbedding(ctx context.Context, req chatgpt.EmbeddingRequest) (chatgpt.EmbeddingResponse, error)
}

// ChatGPTEmbedder calls an OpenAI-compatible embeddings API.
type ChatGPTEmbedder struct {
	client embeddingClient
	model  string
	tokens *metrics.TokenCounter
	logger *slog.Logger
}

// NewChatGPTEmbedder constructs an embedder backed by the ChatGPT client.
func NewChatGPTEmbedder(client embeddingClient, model string, tokens *metrics.TokenCounter, logger *slog.Logger) *ChatGPTEmbedder {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatGPTEmbedder{
		client: client,
		model:  strings.TrimSpace(model),
		tokens: tokens,
		logger: logger.With("component", "embedder.chatgpt"),
	}
}

// Model reports the embedding model name recorded in index snapshots.
func (e *ChatGPTEmbedder) Model() string {
	return e.model
}

// Embed requests embeddings for the given texts, batching under the provider's token cap.
func (e *ChatGPTEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, 0, len(texts))
	var (
		batch       []string
		batchTokens int
	)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		resp, err := e.client.CreateEmbedding(ctx, chatgpt.EmbeddingRequest{
			Model: e.model,
			Input: batch,
		})
		if err != nil {
			return fmt.Errorf("create embedding: %w", err)
		}
		if len(resp.Data) != len(batch) {
			return fmt.Errorf("embedding result count mismatch: expected %d, got %d", len(batch), len(resp.Data))
		}
		ordered := make([][]float32, len(batch))
		for _, item := range resp.Data {
			if item.Index < 0 || item.Index >= len(batch) {
				return fmt.Errorf("embedding result index %d out of range", item.Index)
			}
			vec := make([]float32, len(item.Embedding))
			copy(vec, item.Embedding)
			ordered[item.Index] = vec
		}
		out = append(out, ordered...)
		batch = batch[:0]
		batchTokens = 0
		return nil
	}

	for _, text := range texts {
		tokens := e.tokens.Count(text)
		if tokens > maxBatchTokens {
			return nil, fmt.Errorf("text too large for embedding request: tokens=%d", tokens)
		}
		if batchTokens+tokens > maxBatchTokens && len(batch) > 0 {
			if err := flush(); err != nil {
				return nil, err
			}
		}
		batch = append(batch, text)
		batchTokens += tokens
	}
	if err := flush(); err != nil {
		return nil, err
	}
	e.logger.Debug("embedded texts", "count", len(out), "model", e.model)
	return out, nil
}

var _ fewshot.Embedder = (*ChatGPTEmbedder)(nil)
