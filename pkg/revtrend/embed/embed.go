// Package embed turns candidate phrases into fixed-length vectors.
//
// Encoders must be deterministic for identical input: the topic registry's
// merge decisions are only reproducible when the same text always yields
// the same vector.
package embed

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/cognicore/revtrend/pkg/revtrend/internalerr"
)

// Encoder produces vector embeddings from text.
type Encoder interface {
	Encode(ctx context.Context, texts []string) ([][]float32, error)
	Dims() int
	Name() string // unique key for caching, e.g. "openai-3small-256"
}

// Cosine returns the cosine similarity between two vectors. Mismatched
// lengths and zero vectors score 0.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Normalize scales v to unit length in place. Zero vectors are left alone.
func Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	n := math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) / n)
	}
}

// Bounded wraps an encoder so every call is limited to timeout.
type Bounded struct {
	Encoder Encoder
	Timeout time.Duration
}

// WithTimeout bounds enc. A non-positive timeout returns enc unchanged.
func WithTimeout(enc Encoder, timeout time.Duration) Encoder {
	if timeout <= 0 {
		return enc
	}
	return &Bounded{Encoder: enc, Timeout: timeout}
}

func (b *Bounded) Dims() int    { return b.Encoder.Dims() }
func (b *Bounded) Name() string { return b.Encoder.Name() }

func (b *Bounded) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, b.Timeout)
	defer cancel()

	type result struct {
		vecs [][]float32
		err  error
	}
	done := make(chan result, 1)
	go func() {
		vecs, err := b.Encoder.Encode(ctx, texts)
		done <- result{vecs, err}
	}()

	select {
	case r := <-done:
		return r.vecs, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s timed out after %s", internalerr.ErrEmbeddingFailure, b.Encoder.Name(), b.Timeout)
	}
}

// EncodeOne embeds a single text and checks the returned shape.
func EncodeOne(ctx context.Context, enc Encoder, text string) ([]float32, error) {
	vecs, err := enc.Encode(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", internalerr.ErrEmbeddingFailure, err)
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return nil, fmt.Errorf("%w: %s returned %d vectors", internalerr.ErrEmbeddingFailure, enc.Name(), len(vecs))
	}
	return vecs[0], nil
}
