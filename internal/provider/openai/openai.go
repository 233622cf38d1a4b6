// ABOUTME: StreamClient for OpenAI-compatible chat completions endpoints
// ABOUTME: Serves both openai.com and openai-compatible gateway providers

// Package openai adapts the Chat Completions streaming API to the
// provider.StreamClient contract. With a base URL override it also speaks
// to openai-compatible gateways, which is how most default-provider
// traffic is served.
package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/swombat/helix-chat/internal/fault"
	"github.com/swombat/helix-chat/internal/provider"
)

// Options configure the chat completions client adapter.
type Options struct {
	APIKey string
	// BaseURL points at an openai-compatible gateway when set; empty means
	// api.openai.com.
	BaseURL   string
	MaxTokens int64
}

func (o *Options) setDefaults() {
	if o.MaxTokens <= 0 {
		o.MaxTokens = 8192
	}
}

// Client implements provider.StreamClient on the official SDK.
type Client struct {
	sdk  *openai.Client
	opts Options
}

// New creates a chat completions stream client.
func New(opts Options) *Client {
	opts.setDefaults()

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}

	sdk := openai.NewClient(clientOpts...)
	return &Client{sdk: &sdk, opts: opts}
}

// Open implements provider.StreamClient. Chat completions carry no
// thinking channel, so every delta is tagged as content. Any terminal
// error is delivered on the error channel before the delta channel closes.
func (c *Client) Open(ctx context.Context, desc provider.Descriptor, prompt provider.Prompt) (<-chan provider.Delta, <-chan error) {
	deltas := make(chan provider.Delta, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(deltas)

		params := c.buildParams(desc, prompt)
		stream := c.sdk.Chat.Completions.NewStreaming(ctx, params)
		meter := provider.MeterFrom(ctx)

		for stream.Next() {
			ck := stream.Current()
			for _, choice := range ck.Choices {
				if choice.Delta.Content == "" {
					continue
				}
				d := provider.Delta{Kind: provider.KindContent, Text: choice.Delta.Content}
				select {
				case deltas <- d:
					if meter != nil {
						meter.Count(d.Kind)
					}
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			errCh <- classify(err)
		}
	}()

	return deltas, errCh
}

func (c *Client) buildParams(desc provider.Descriptor, prompt provider.Prompt) openai.ChatCompletionNewParams {
	var messages []openai.ChatCompletionMessageParamUnion
	if prompt.System != "" {
		messages = append(messages, openai.SystemMessage(prompt.System))
	}
	for _, m := range prompt.History {
		switch m.Role {
		case "assistant":
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	return openai.ChatCompletionNewParams{
		Model:               desc.ModelID,
		Messages:            messages,
		MaxCompletionTokens: openai.Int(c.opts.MaxTokens),
	}
}

// classify maps SDK errors onto the pipeline taxonomy. Auth and missing
// model failures are configuration faults; everything else stays retryable.
func classify(err error) error {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		switch apierr.StatusCode {
		case 401, 403, 404:
			return fault.Configurationf("provider rejected the request (%d): %v", apierr.StatusCode, err)
		}
	}
	return fmt.Errorf("chat completions stream: %w", err)
}
