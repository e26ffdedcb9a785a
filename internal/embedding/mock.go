package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"

	"sirc/internal/logging"
)

// MockEngine generates deterministic embeddings from a seeded PRNG keyed by
// the input text's hash. Same text always yields the same vector, so tests
// and AI_MODE=mock runs are reproducible without a network dependency.
type MockEngine struct {
	dimensions int
}

// NewMockEngine returns a MockEngine producing unit-normalized vectors of the
// given dimensionality.
func NewMockEngine(dimensions int) *MockEngine {
	if dimensions <= 0 {
		dimensions = 512
	}
	return &MockEngine{dimensions: dimensions}
}

func (e *MockEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	logging.EmbeddingDebug("MockEngine.Embed: text length=%d, dimensions=%d", len(text), e.dimensions)
	return deterministicVector(text, e.dimensions), nil
}

func (e *MockEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	logging.EmbeddingDebug("MockEngine.EmbedBatch: %d texts", len(texts))
	out := make([][]float32, len(texts))
	for i, text := range texts {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		out[i] = deterministicVector(text, e.dimensions)
	}
	return out, nil
}

func (e *MockEngine) Dimensions() int { return e.dimensions }

func (e *MockEngine) Name() string { return "mock" }

// HealthCheck always succeeds; MockEngine has no external dependency.
func (e *MockEngine) HealthCheck(ctx context.Context) error { return nil }

// deterministicVector seeds a PRNG from the FNV-1a hash of text and draws a
// unit-normalized Gaussian vector. Text equality implies vector equality;
// text similarity has no bearing on vector similarity — callers relying on
// semantic closeness (the Contextualizer, the Linker's semantic term) will
// see mock vectors behave like noise, which is the point: no two distinct
// inputs collide, and the shape exercises every downstream consumer without
// a live model.
func deterministicVector(text string, dims int) []float32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := int64(h.Sum64())

	rng := rand.New(rand.NewSource(seed))
	vec := make([]float32, dims)
	var sumSq float64
	for i := range vec {
		v := rng.NormFloat64()
		vec[i] = float32(v)
		sumSq += v * v
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		return vec
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}
