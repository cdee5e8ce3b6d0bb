package metrics

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTokenUsageAdd(t *testing.T) {
	first := TokenUsage{PromptTokens: 10, CompletionTokens: 2, TotalTokens: 12}
	second := TokenUsage{PromptTokens: 5, CompletionTokens: 1}

	got := first.Add(second)

	require.Equal(t, TokenUsage{PromptTokens: 15, CompletionTokens: 3, TotalTokens: 18}, got)
	require.False(t, got.IsZero())
	require.True(t, TokenUsage{}.IsZero())
}

func TestEstimateTokens(t *testing.T) {
	require.Equal(t, 0, EstimateTokens(""))
	require.Equal(t, 3, EstimateTokens("abcdef"))
	require.Equal(t, 4, EstimateTokens("a b c d"))
}

func TestNilTokenCounterFallsBack(t *testing.T) {
	var counter *TokenCounter
	require.Equal(t, EstimateTokens("hello world"), counter.Count("hello world"))
}
