package discovery

import (
	"context"

	"github.com/cognicore/revtrend/internal/llm"
)

// Chat proposes labels through any OpenAI-compatible chat completion
// endpoint.
type Chat struct {
	Client    *llm.Client
	MaxLabels int
}

// NewChat wraps an llm client.
func NewChat(client *llm.Client, maxLabels int) *Chat {
	return &Chat{Client: client, MaxLabels: maxLabels}
}

func (c *Chat) Name() string { return "chat-" + c.Client.Model }

func (c *Chat) Discover(ctx context.Context, text string) ([]string, error) {
	answer, err := c.Client.ReviewTopics(ctx, text)
	if err != nil {
		return nil, err
	}
	return SplitList(answer, c.MaxLabels), nil
}
