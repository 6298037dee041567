package embed

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/cognicore/revtrend/pkg/revtrend/ingest"
)

// DefaultHashDims is the vector length of the hashing encoder.
const DefaultHashDims = 256

// Hash is a bag-of-features hashing encoder. Content-word unigrams,
// adjacent bigrams and character trigrams are hashed into a signed vector
// and L2-normalized. It needs no model and is fully deterministic.
type Hash struct {
	tokenizer *ingest.Tokenizer
	dims      int
}

// NewHash creates a hashing encoder. dims <= 0 selects DefaultHashDims.
func NewHash(tokenizer *ingest.Tokenizer, dims int) *Hash {
	if dims <= 0 {
		dims = DefaultHashDims
	}
	if tokenizer == nil {
		tokenizer = ingest.NewTokenizer(ingest.DefaultStopwords)
	}
	return &Hash{tokenizer: tokenizer, dims: dims}
}

func (h *Hash) Dims() int    { return h.dims }
func (h *Hash) Name() string { return fmt.Sprintf("hash-%d", h.dims) }

func (h *Hash) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vecs[i] = h.encode(text)
	}
	return vecs, nil
}

func (h *Hash) encode(text string) []float32 {
	vec := make([]float32, h.dims)
	tokens := h.tokenizer.Tokenize(text)

	for i, tok := range tokens {
		h.add(vec, "w:"+tok, 1.0)
		if i > 0 {
			h.add(vec, "b:"+tokens[i-1]+" "+tok, 0.5)
		}
		padded := []rune("^" + tok + "$")
		for j := 0; j+3 <= len(padded); j++ {
			h.add(vec, "c:"+string(padded[j:j+3]), 0.25)
		}
	}

	Normalize(vec)
	return vec
}

func (h *Hash) add(vec []float32, feature string, weight float32) {
	f := fnv.New64a()
	f.Write([]byte(feature))
	sum := f.Sum64()
	idx := int(sum % uint64(h.dims))
	if sum>>63 == 1 {
		weight = -weight
	}
	vec[idx] += weight
}
