package embedder

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yanqian/sqlassistant/internal/infra/llm/chatgpt"
)

type stubEmbeddingClient struct {
	requests []chatgpt.EmbeddingRequest
	err      error
}

func (s *stubEmbeddingClient) CreateEmbedding(_ context.Context, req chatgpt.EmbeddingRequest) (chatgpt.EmbeddingResponse, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return chatgpt.EmbeddingResponse{}, s.err
	}
	var resp chatgpt.EmbeddingResponse
	// Return items in reverse order to exercise index based reordering.
	for i := len(req.Input) - 1; i >= 0; i-- {
		resp.Data = append(resp.Data, struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		}{Index: i, Embedding: []float32{float32(len(req.Input[i]))}})
	}
	return resp, nil
}

func TestChatGPTEmbedderPreservesInputOrder(t *testing.T) {
	client := &stubEmbeddingClient{}
	emb := NewChatGPTEmbedder(client, " text-embedding-3-small ", nil, nil)

	vectors, err := emb.Embed(context.Background(), []string{"a", "bbb", "cc"})
	require.NoError(t, err)
	require.Equal(t, [][]float32{{1}, {3}, {2}}, vectors)
	require.Len(t, client.requests, 1)
	require.Equal(t, "text-embedding-3-small", client.requests[0].Model)
	require.Equal(t, "text-embedding-3-small", emb.Model())
}

func TestChatGPTEmbedderPropagatesErrors(t *testing.T) {
	emb := NewChatGPTEmbedder(&stubEmbeddingClient{err: errors.New("boom")}, "m", nil, nil)
	_, err := emb.Embed(context.Background(), []string{"a"})
	require.Error(t, err)
}

func TestDeterministicEmbedderIsStable(t *testing.T) {
	emb := NewDeterministicEmbedder(16)
	first, err := emb.Embed(context.Background(), []string{"white Nike t-shirts"})
	require.NoError(t, err)
	second, err := emb.Embed(context.Background(), []string{"white Nike t-shirts"})
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Len(t, first[0], 16)

	var total float32
	for _, v := range first[0] {
		total += v
	}
	require.Equal(t, float32(4), total)
}
