package embedder

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/yanqian/sqlassistant/internal/domain/fewshot"
)

// DeterministicEmbedder avoids network calls by hashing word tokens into buckets.
// Texts sharing words land close together, which keeps offline retrieval meaningful.
type DeterministicEmbedder struct {
	dim int
}

// NewDeterministicEmbedder constructs the embedder.
func NewDeterministicEmbedder(dim int) *DeterministicEmbedder {
	if dim <= 0 {
		dim = 64
	}
	return &DeterministicEmbedder{dim: dim}
}

// Model reports a synthetic model name so snapshots built with another dimension are rebuilt.
func (e *DeterministicEmbedder) Model() string {
	return fmt.Sprintf("deterministic-fnv-%d", e.dim)
}

// Embed converts each text into a bag-of-words vector.
func (e *DeterministicEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vector := make([]float32, e.dim)
		for _, word := range strings.FieldsFunc(strings.ToLower(text), isSeparator) {
			hash := fnv.New64a()
			_, _ = hash.Write([]byte(word))
			vector[hash.Sum64()%uint64(e.dim)]++
		}
		vectors[i] = vector
	}
	return vectors, nil
}

func isSeparator(r rune) bool {
	return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_')
}

var _ fewshot.Embedder = (*DeterministicEmbedder)(nil)
