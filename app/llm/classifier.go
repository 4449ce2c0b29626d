// Package llm adapts an OpenAI-compatible chat endpoint to the feed
// package's Classifier interface.
package llm

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/feedglue/feedglue/app/feed"
)

var _ feed.Classifier = (*OpenAIClassifier)(nil)

type OpenAIClassifier struct {
	client *openai.Client
	model  string
}

func NewOpenAIClassifier(apiKey, model string) *OpenAIClassifier {
	return &OpenAIClassifier{
		client: openai.NewClient(apiKey),
		model:  model,
	}
}

// Classify asks the model for a yes/no relevance answer. Anything other
// than a recognizable yes or no is an error; the caller decides whether
// to skip or retry the item on a later pass.
func (c *OpenAIClassifier) Classify(ctx context.Context, prompt string) (bool, int, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     c.model,
		MaxTokens: 8,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return false, 0, fmt.Errorf("chat completion failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return false, resp.Usage.TotalTokens, fmt.Errorf("empty completion response")
	}

	answer := strings.ToLower(strings.TrimSpace(resp.Choices[0].Message.Content))
	switch {
	case strings.Contains(answer, "yes"):
		return true, resp.Usage.TotalTokens, nil
	case strings.Contains(answer, "no"):
		return false, resp.Usage.TotalTokens, nil
	default:
		return false, resp.Usage.TotalTokens, fmt.Errorf("unrecognized answer %q", answer)
	}
}
