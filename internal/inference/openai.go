package inference

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// placeholderToken satisfies langchaingo's token check for servers that do
// not authenticate (vLLM's default).
const placeholderToken = "EMPTY"

// OpenAIClient talks to an OpenAI-compatible chat-completions endpoint
// serving the vision model.
type OpenAIClient struct {
	llm *openai.LLM
}

func NewOpenAIClient(baseURL, apiKey, model string) (*OpenAIClient, error) {
	if apiKey == "" {
		apiKey = placeholderToken
	}
	llm, err := openai.New(
		openai.WithBaseURL(baseURL),
		openai.WithToken(strings.TrimPrefix(apiKey, "Bearer ")),
		openai.WithModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("create openai client: %w", err)
	}
	return &OpenAIClient{llm: llm}, nil
}

// Generate sends a single user turn holding the page image and the prompt.
func (c *OpenAIClient) Generate(ctx context.Context, png []byte, prompt string, maxNewTokens int) (string, error) {
	dataURI := "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
	messages := []llms.MessageContent{
		{
			Role: llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{
				llms.ImageURLPart(dataURI),
				llms.TextPart(prompt),
			},
		},
	}

	resp, err := c.llm.GenerateContent(ctx, messages,
		llms.WithMaxTokens(maxNewTokens),
		llms.WithTemperature(0),
	)
	if err != nil {
		return "", fmt.Errorf("openai generate: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("empty response from model")
	}
	return resp.Choices[0].Content, nil
}
