package zai

import (
	"context"
	"fmt"

	"github.com/xandylearning/zulip-sub000/internal/model/contract"
	openaiProvider "github.com/xandylearning/zulip-sub000/internal/model/providers/openai"

	"github.com/sashabaranov/go-openai"
)

const (
	DefaultBaseURL = "https://api.z.ai/api/paas/v4/"
	DefaultModel   = "glm-4.5-air"
)

// Provider talks to the Z.ai OpenAI-compatible endpoint.
type Provider struct {
	client *openai.Client
	model  string
}

func New(apiKey, baseURL, model string) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if model == "" {
		model = DefaultModel
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	config := openai.DefaultConfig(apiKey)
	config.BaseURL = baseURL

	return &Provider{
		client: openai.NewClientWithConfig(config),
		model:  model,
	}, nil
}

func (p *Provider) Name() string {
	return "zai"
}

func (p *Provider) Generate(ctx context.Context, req contract.CompletionRequest) (*contract.CompletionResponse, error) {
	chatReq := openaiProvider.BuildRequest(req, p.model)
	// The endpoint rejects response_format on some models.
	chatReq.ResponseFormat = nil

	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("zai request failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return &contract.CompletionResponse{Model: resp.Model}, nil
	}
	return openaiProvider.ParseResponse(resp)
}
