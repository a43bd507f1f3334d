package model

import (
	"context"
	"fmt"
	"strings"

	"github.com/xandylearning/zulip-sub000/internal/model/contract"
)

type generator interface {
	Generate(ctx context.Context, req contract.CompletionRequest) (*contract.CompletionResponse, error)
}

// ProviderAdapter wraps provider-specific implementations to satisfy model.Provider.
// It pins the registry model name onto requests that do not name one.
type ProviderAdapter struct {
	provider     generator
	name         string
	providerType string
}

func NewProviderAdapter(name, providerType string, provider generator) *ProviderAdapter {
	return &ProviderAdapter{provider: provider, name: name, providerType: providerType}
}

func (a *ProviderAdapter) Generate(ctx context.Context, req contract.CompletionRequest) (*contract.CompletionResponse, error) {
	if a.provider == nil {
		return nil, fmt.Errorf("provider %s is not initialized", a.name)
	}
	if strings.TrimSpace(req.Model) == "" {
		req.Model = a.name
	}
	resp, err := a.provider.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Model == "" {
		resp.Model = req.Model
	}
	return resp, nil
}

func (a *ProviderAdapter) Name() string {
	return a.name
}

func (a *ProviderAdapter) Type() string {
	return a.providerType
}

func (a *ProviderAdapter) Health(ctx context.Context) error {
	return nil
}
