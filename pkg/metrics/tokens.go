package metrics

import (
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

const fallbackEncoding = "cl100k_base"

// TokenCounter estimates prompt sizes. The BPE tables are resolved lazily on first use; when they
// cannot be loaded (offline hosts) a rune based estimate is used instead.
type TokenCounter struct {
	model  string
	logger *slog.Logger

	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewTokenCounter builds a counter for the given model name.
func NewTokenCounter(model string, logger *slog.Logger) *TokenCounter {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenCounter{model: strings.TrimSpace(model), logger: logger.With("component", "metrics.tokens")}
}

// Count returns the number of tokens in text.
func (c *TokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	if c == nil {
		return EstimateTokens(text)
	}
	c.once.Do(c.load)
	if c.enc == nil {
		return EstimateTokens(text)
	}
	return len(c.enc.Encode(text, nil, nil))
}

func (c *TokenCounter) load() {
	enc, err := tiktoken.EncodingForModel(c.model)
	if err != nil {
		enc, err = tiktoken.GetEncoding(fallbackEncoding)
	}
	if err != nil {
		c.logger.Warn("tiktoken encoding unavailable, using estimate", "model", c.model, "error", err)
		return
	}
	c.enc = enc
}

// EstimateTokens provides a rough, upper-biased token count without external dependencies.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	runes := utf8.RuneCountInString(text)
	words := len(strings.Fields(text))
	byRunes := (runes + 1) / 2
	if byRunes < words {
		return words
	}
	return byRunes
}
