// Package anthropic backs research capabilities with the Anthropic Messages
// API, mirroring the OpenAI provider's prompt construction.
package anthropic

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/statdevs/leadmesh/provider/prompt"
	"github.com/statdevs/leadmesh/registry"
)

// Options configure the Anthropic provider (model id, temperature, max
// tokens, API key).
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
}

// Provider wraps the Anthropic Messages API behind registry.Provider.
type Provider struct {
	client *anthropic.Client
	opts   Options
}

// New creates an Anthropic provider using the official client.
func New(optFns ...func(o *Options)) *Provider {
	opts := Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   2048,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)
	return &Provider{client: &client, opts: opts}
}

// NewFromClient creates an Anthropic provider from an existing client.
func NewFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Provider {
	opts := Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   2048,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Provider{client: client, opts: opts}
}

// Invoke implements registry.Provider.
func (p *Provider) Invoke(ctx context.Context, req registry.Request) (registry.Response, error) {
	system, user := prompt.Build(req)
	params := anthropic.MessageNewParams{
		Model:       p.opts.Model,
		MaxTokens:   p.opts.MaxTokens,
		Temperature: anthropic.Float(p.opts.Temperature),
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	}
	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return registry.Response{}, fmt.Errorf("anthropic api error: %w", err)
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.AsText().Text)
		}
	}
	if b.Len() == 0 {
		return registry.Response{}, fmt.Errorf("anthropic: empty completion")
	}
	return registry.Response{Content: b.String()}, nil
}
