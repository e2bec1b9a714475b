package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/agorai/agorai/pkg/models"
)

// Gemini talks to the Google generateContent API.
type Gemini struct {
	client
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

// Name returns the provider name.
func (g *Gemini) Name() string { return g.name }

// Answer sends query as a single content part.
func (g *Gemini) Answer(ctx context.Context, query string) models.ProviderResult {
	return g.call(ctx, func(ctx context.Context) (string, error) {
		body, err := json.Marshal(geminiRequest{
			Contents: []geminiContent{{Parts: []geminiPart{{Text: query}}}},
		})
		if err != nil {
			return "", fmt.Errorf("encode request: %w", err)
		}

		endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s",
			strings.TrimRight(g.baseURL, "/"), url.PathEscape(g.model), url.QueryEscape(g.apiKey))
		respBody, err := g.post(ctx, endpoint, nil, body)
		if err != nil {
			return "", err
		}

		var resp geminiResponse
		if err := json.Unmarshal(respBody, &resp); err != nil {
			return "", fmt.Errorf("decode response: %w", err)
		}
		if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
			return "", errors.New("response contained no candidates")
		}
		return resp.Candidates[0].Content.Parts[0].Text, nil
	})
}
