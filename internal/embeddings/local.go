package embeddings

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// DefaultLocalDimension matches the bge-small family so local and TEI
// vectors are interchangeable in store configuration.
const DefaultLocalDimension = 384

// LocalProvider generates deterministic embeddings by hashing tokens into
// a fixed number of buckets and L2-normalizing the counts.
//
// It needs no model download or external service, which makes it suitable
// for tests and air-gapped runs. Retrieval quality is bag-of-words level:
// texts sharing vocabulary score as similar, nothing more.
type LocalProvider struct {
	dimension int
}

// NewLocalProvider creates a local hashing provider.
func NewLocalProvider(dimension int) *LocalProvider {
	if dimension <= 0 {
		dimension = DefaultLocalDimension
	}
	return &LocalProvider{dimension: dimension}
}

// EmbedDocuments generates embeddings for multiple texts.
func (p *LocalProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = p.embed(text)
	}
	return vectors, nil
}

// EmbedQuery generates an embedding for a single query.
func (p *LocalProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyInput
	}
	return p.embed(text), nil
}

func (p *LocalProvider) embed(text string) []float32 {
	vector := make([]float32, p.dimension)

	for _, token := range strings.Fields(strings.ToLower(text)) {
		token = strings.Trim(token, ".,;:!?()[]\"'")
		if token == "" {
			continue
		}
		h := fnv.New32a()
		_, _ = h.Write([]byte(token))
		vector[h.Sum32()%uint32(p.dimension)]++
	}

	var norm float64
	for _, v := range vector {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vector {
			vector[i] *= scale
		}
	}
	return vector
}

// Dimension returns the configured vector size.
func (p *LocalProvider) Dimension() int { return p.dimension }

// Close is a no-op.
func (p *LocalProvider) Close() error { return nil }
