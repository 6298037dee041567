package embed

import (
	"context"
	"fmt"
	"sort"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	openAIDefaultModel = openai.EmbeddingModelTextEmbedding3Small
	openAIDefaultDims  = 256
)

// OpenAIConfig configures the OpenAI embeddings encoder.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string // optional, for OpenAI-compatible endpoints
	Model      string
	Dims       int
	MaxRetries int
	Options    []option.RequestOption // extra client options (tests inject transports here)
}

// OpenAI embeds text through the OpenAI embeddings API. Requesting a fixed
// dimension keeps the vector length stable across model revisions.
type OpenAI struct {
	client *openai.Client
	model  string
	dims   int
}

// NewOpenAI builds an encoder from cfg.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("embedding: openai api key required")
	}
	if cfg.Model == "" {
		cfg.Model = openAIDefaultModel
	}
	if cfg.Dims <= 0 {
		cfg.Dims = openAIDefaultDims
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	opts = append(opts, cfg.Options...)

	client := openai.NewClient(opts...)
	return &OpenAI{client: &client, model: cfg.Model, dims: cfg.Dims}, nil
}

func (o *OpenAI) Dims() int    { return o.dims }
func (o *OpenAI) Name() string { return fmt.Sprintf("openai-%s-%d", o.model, o.dims) }

func (o *OpenAI) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := o.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input:      openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model:      o.model,
		Dimensions: openai.Int(int64(o.dims)),
	})
	if err != nil {
		return nil, fmt.Errorf("embedding: openai request: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding: openai returned %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	data := resp.Data
	sort.Slice(data, func(i, j int) bool {
		return data[i].Index < data[j].Index
	})

	vecs := make([][]float32, len(data))
	for i, d := range data {
		vec := make([]float32, len(d.Embedding))
		for j, x := range d.Embedding {
			vec[j] = float32(x)
		}
		vecs[i] = vec
	}
	return vecs, nil
}
