package runtime

import (
	"context"
	"fmt"

	"github.com/xandylearning/zulip-sub000/internal/config"
	"github.com/xandylearning/zulip-sub000/internal/model"
)

type RuntimeBuilder interface {
	WithContext(ctx context.Context) RuntimeBuilder
	WithConfig(cfg *config.Config) RuntimeBuilder
	WithRouter(router model.ModelRouter) RuntimeBuilder
	Build() (*RuntimeComponents, error)
}

type DefaultRuntimeBuilder struct {
	ctx    context.Context
	cfg    *config.Config
	router model.ModelRouter
}

func NewRuntimeBuilder() RuntimeBuilder {
	return &DefaultRuntimeBuilder{}
}

func (b *DefaultRuntimeBuilder) WithContext(ctx context.Context) RuntimeBuilder {
	b.ctx = ctx
	return b
}

func (b *DefaultRuntimeBuilder) WithConfig(cfg *config.Config) RuntimeBuilder {
	b.cfg = cfg
	return b
}

// WithRouter replaces the provider router built from cfg.Models.
func (b *DefaultRuntimeBuilder) WithRouter(router model.ModelRouter) RuntimeBuilder {
	b.router = router
	return b
}

func (b *DefaultRuntimeBuilder) Build() (*RuntimeComponents, error) {
	if b.ctx == nil {
		b.ctx = context.Background()
	}

	if b.cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	if err := b.cfg.Validate(); err != nil {
		return nil, err
	}

	return NewRuntimeComponents(b.ctx, b.cfg, b.router)
}
