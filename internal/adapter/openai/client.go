package openai

import (
	"context"
	"fmt"

	openaiapi "github.com/sashabaranov/go-openai"

	"chatgpt-coordinator/internal/domain"
	"chatgpt-coordinator/internal/usecase/chat"
)

type Client struct {
	api *openaiapi.Client
}

func NewClient(token string) *Client {
	return &Client{
		api: openaiapi.NewClient(token),
	}
}

// NewClientWithBaseURL targets an OpenAI-compatible endpoint, e.g.
// "http://localhost:8080/v1".
func NewClientWithBaseURL(token, baseURL string) *Client {
	if baseURL == "" {
		return NewClient(token)
	}
	cfg := openaiapi.DefaultConfig(token)
	cfg.BaseURL = baseURL
	return &Client{
		api: openaiapi.NewClientWithConfig(cfg),
	}
}

// Complete sends the turns as one chat completion request. A response without
// choices is returned as is.
func (c *Client) Complete(ctx context.Context, req chat.CompletionRequest) (chat.Completion, error) {
	apiReq := openaiapi.ChatCompletionRequest{
		Model:               req.Model,
		MaxCompletionTokens: req.MaxTokens,
		Stream:              false,
		Messages:            toAPIMessages(req.Turns),
	}

	resp, err := c.api.CreateChatCompletion(ctx, apiReq)
	if err != nil {
		return chat.Completion{}, fmt.Errorf("create chat completion: %w", err)
	}

	out := chat.Completion{Choices: make([]chat.Choice, 0, len(resp.Choices))}
	for _, choice := range resp.Choices {
		out.Choices = append(out.Choices, chat.Choice{Content: choice.Message.Content})
	}
	return out, nil
}

func toAPIMessages(turns []domain.Turn) []openaiapi.ChatCompletionMessage {
	res := make([]openaiapi.ChatCompletionMessage, 0, len(turns))
	for _, t := range turns {
		res = append(res, openaiapi.ChatCompletionMessage{
			Role:    t.Role,
			Content: t.Content,
		})
	}
	return res
}
