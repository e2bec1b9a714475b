package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/agorai/agorai/pkg/models"
)

// OpenAI talks to OpenAI-compatible chat completion APIs (OpenAI, DeepSeek, x.ai).
type OpenAI struct {
	client
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Name returns the provider name.
func (o *OpenAI) Name() string { return o.name }

// Answer sends query as a single user message.
func (o *OpenAI) Answer(ctx context.Context, query string) models.ProviderResult {
	return o.call(ctx, func(ctx context.Context) (string, error) {
		body, err := json.Marshal(chatRequest{
			Model:    o.model,
			Messages: []chatMessage{{Role: "user", Content: query}},
		})
		if err != nil {
			return "", fmt.Errorf("encode request: %w", err)
		}

		endpoint := strings.TrimRight(o.baseURL, "/") + "/v1/chat/completions"
		respBody, err := o.post(ctx, endpoint, map[string]string{"Authorization": "Bearer " + o.apiKey}, body)
		if err != nil {
			return "", err
		}

		var resp chatResponse
		if err := json.Unmarshal(respBody, &resp); err != nil {
			return "", fmt.Errorf("decode response: %w", err)
		}
		if len(resp.Choices) == 0 {
			return "", errors.New("response contained no choices")
		}
		return resp.Choices[0].Message.Content, nil
	})
}
