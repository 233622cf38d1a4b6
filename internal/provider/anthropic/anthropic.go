// ABOUTME: StreamClient for the Anthropic Messages API
// ABOUTME: The only endpoint kind that speaks the extended-thinking protocol

// Package anthropic adapts the Anthropic Messages streaming API to the
// provider.StreamClient contract, including extended-thinking deltas.
package anthropic

import (
	"context"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/swombat/helix-chat/internal/fault"
	"github.com/swombat/helix-chat/internal/provider"
)

// Options configure the Anthropic client adapter.
type Options struct {
	APIKey  string
	BaseURL string
	// MaxTokens bounds the response; must exceed ThinkingBudget when
	// thinking is enabled.
	MaxTokens int64
	// ThinkingBudget is the token budget granted to the thinking phase.
	ThinkingBudget int64
}

func (o *Options) setDefaults() {
	if o.MaxTokens <= 0 {
		o.MaxTokens = 8192
	}
	if o.ThinkingBudget <= 0 {
		o.ThinkingBudget = 4096
	}
}

// Client implements provider.StreamClient on the official SDK.
type Client struct {
	sdk  *anthropic.Client
	opts Options
}

// New creates an Anthropic stream client.
func New(opts Options) *Client {
	opts.setDefaults()

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}

	sdk := anthropic.NewClient(clientOpts...)
	return &Client{sdk: &sdk, opts: opts}
}

// Open implements provider.StreamClient. Any terminal error is delivered
// on the error channel before the delta channel closes.
func (c *Client) Open(ctx context.Context, desc provider.Descriptor, prompt provider.Prompt) (<-chan provider.Delta, <-chan error) {
	deltas := make(chan provider.Delta, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(deltas)

		params := c.buildParams(desc, prompt)
		stream := c.sdk.Messages.NewStreaming(ctx, params)
		meter := provider.MeterFrom(ctx)

		for stream.Next() {
			event := stream.Current()
			eventVariant, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
			if !ok {
				continue
			}

			var d provider.Delta
			switch deltaVariant := eventVariant.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				d = provider.Delta{Kind: provider.KindContent, Text: deltaVariant.Text}
			case anthropic.ThinkingDelta:
				d = provider.Delta{Kind: provider.KindThinking, Text: deltaVariant.Thinking}
			default:
				continue
			}
			if d.Text == "" {
				continue
			}

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
		if err := stream.Err(); err != nil {
			errCh <- classify(err)
		}
	}()

	return deltas, errCh
}

func (c *Client) buildParams(desc provider.Descriptor, prompt provider.Prompt) anthropic.MessageNewParams {
	messages := make([]anthropic.MessageParam, 0, len(prompt.History))
	for _, m := range prompt.History {
		switch m.Role {
		case "assistant":
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(desc.ModelID),
		MaxTokens: c.opts.MaxTokens,
		Messages:  messages,
	}
	if prompt.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: prompt.System}}
	}
	if desc.Thinking {
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(c.opts.ThinkingBudget)
	}
	return params
}

// classify maps SDK errors onto the pipeline taxonomy. Auth and bad-request
// failures are configuration faults; everything else stays retryable.
func classify(err error) error {
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		switch apierr.StatusCode {
		case 401, 403, 404:
			return fault.Configurationf("anthropic rejected the request (%d): %v", apierr.StatusCode, err)
		}
	}
	return fmt.Errorf("anthropic stream: %w", err)
}
