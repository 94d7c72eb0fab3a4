// Package openai backs research capabilities with the OpenAI Chat
// Completions API. It adapts the uniform provider request into a prompt
// carrying the lead attributes and the results of earlier pipeline stages.
package openai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"

	"github.com/statdevs/leadmesh/provider/prompt"
	"github.com/statdevs/leadmesh/registry"
)

// Options configure the OpenAI provider. Fields mirror a minimal subset of
// Chat Completion parameters; extend via functional options without breaking
// callers.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
}

// Provider wraps the OpenAI Chat Completions API behind registry.Provider.
type Provider struct {
	client *openai.Client
	opts   Options
}

// New creates an OpenAI provider using the default client (API key from the
// environment).
func New(optFns ...func(o *Options)) *Provider {
	client := openai.NewClient()
	return NewFromClient(&client, optFns...)
}

// NewFromClient creates an OpenAI provider from an existing client.
func NewFromClient(client *openai.Client, optFns ...func(o *Options)) *Provider {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 2048,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Provider{client: client, opts: opts}
}

// Invoke implements registry.Provider.
func (p *Provider) Invoke(ctx context.Context, req registry.Request) (registry.Response, error) {
	instructions, user := prompt.Build(req)
	params := openai.ChatCompletionNewParams{
		Model: p.opts.Model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(instructions),
			openai.UserMessage(user),
		},
		Temperature:         openai.Float(p.opts.Temperature),
		MaxCompletionTokens: openai.Int(p.opts.MaxCompletionTokens),
	}
	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return registry.Response{}, fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return registry.Response{}, fmt.Errorf("openai: empty completion")
	}
	return registry.Response{Content: resp.Choices[0].Message.Content}, nil
}
