package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
)

const openAIInstructions = `You analyze app store reviews for a product team.
Extract the specific topics, issues, requests or feedback the review mentions.
Each topic is a short noun phrase of two to six words, e.g. "Delivery partner rude" or "Promo code not working".
Return an empty list when the review mentions nothing actionable.`

// DefaultOpenAIModel is used when OpenAIConfig.Model is empty.
const DefaultOpenAIModel = "gpt-4o-mini"

// OpenAIConfig configures the Responses API discoverer.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	MaxLabels  int
	MaxRetries int
	Options    []option.RequestOption
}

// OpenAI proposes labels through the Responses API with a strict JSON
// schema.
type OpenAI struct {
	client    *openai.Client
	model     string
	maxLabels int
	format    responses.ResponseFormatTextConfigUnionParam
}

type topicList struct {
	Topics []string `json:"topics" jsonschema:"required,description=Short topic labels mentioned in the review"`
}

var topicListSchema = generateSchema[topicList]()

// NewOpenAI builds an OpenAI discoverer.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("discovery: openai api key required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.MaxLabels <= 0 {
		cfg.MaxLabels = DefaultMaxLabels
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

	return &OpenAI{
		client:    &client,
		model:     cfg.Model,
		maxLabels: cfg.MaxLabels,
		format: responses.ResponseFormatTextConfigUnionParam{
			OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
				Name:        "ReviewTopics",
				Schema:      topicListSchema,
				Strict:      openai.Bool(true),
				Description: openai.String("Topics mentioned in an app review"),
			},
		},
	}, nil
}

func (o *OpenAI) Name() string { return "openai-" + o.model }

func (o *OpenAI) Discover(ctx context.Context, text string) ([]string, error) {
	params := responses.ResponseNewParams{
		Model:           o.model,
		MaxOutputTokens: openai.Int(200),
		Instructions:    openai.String(openAIInstructions),
		Input: responses.ResponseNewParamsInputUnion{
			OfString: openai.String(text),
		},
		Text: responses.ResponseTextConfigParam{
			Format: o.format,
		},
	}

	resp, err := o.client.Responses.New(ctx, params)
	if err != nil {
		return nil, err
	}

	var out topicList
	if err := decodeModelJSON(resp.OutputText(), &out); err != nil {
		return nil, fmt.Errorf("discovery: decode topics: %w", err)
	}
	return cleanLabels(out.Topics, o.maxLabels), nil
}

// decodeModelJSON tolerates models that wrap the JSON object in prose.
func decodeModelJSON(outputText string, v any) error {
	s := strings.TrimSpace(outputText)
	if s == "" {
		return fmt.Errorf("empty model output")
	}
	if err := json.Unmarshal([]byte(s), v); err == nil {
		return nil
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start == -1 || end <= start {
		return fmt.Errorf("no JSON object found in model output (len=%d)", len(s))
	}
	return json.Unmarshal([]byte(s[start:end+1]), v)
}

func generateSchema[T any]() map[string]any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	schema := reflector.Reflect(v)
	b, err := schema.MarshalJSON()
	if err != nil {
		panic(err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		panic(err)
	}
	// Strict mode needs every property listed as required and no extras.
	m["additionalProperties"] = false
	if props, ok := m["properties"].(map[string]any); ok {
		required := make([]string, 0, len(props))
		for name := range props {
			required = append(required, name)
		}
		sort.Strings(required)
		m["required"] = required
	}
	delete(m, "$schema")
	delete(m, "$id")
	return m
}
