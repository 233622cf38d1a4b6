// ABOUTME: Tests for chat completions request building and error classification
// ABOUTME: No network calls; exercises the SDK parameter mapping only

package openai

import (
	"errors"
	"testing"

	"github.com/openai/openai-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swombat/helix-chat/internal/fault"
	"github.com/swombat/helix-chat/internal/provider"
)

func TestBuildParams_SystemLeadsTheMessageList(t *testing.T) {
	c := New(Options{APIKey: "sk-test"})

	params := c.buildParams(
		provider.Descriptor{Provider: "openrouter", ModelID: "petite-llm"},
		provider.Prompt{
			System: "You are Scout.",
			History: []provider.Message{
				{Role: "user", Content: "hello"},
				{Role: "assistant", Content: "hi"},
			},
		},
	)

	assert.Equal(t, "petite-llm", params.Model)
	require.Len(t, params.Messages, 3)
	assert.NotNil(t, params.Messages[0].OfSystem)
	assert.NotNil(t, params.Messages[1].OfUser)
	assert.NotNil(t, params.Messages[2].OfAssistant)
}

func TestBuildParams_NoSystemWhenPromptEmpty(t *testing.T) {
	c := New(Options{APIKey: "sk-test"})

	params := c.buildParams(
		provider.Descriptor{Provider: "openrouter", ModelID: "petite-llm"},
		provider.Prompt{History: []provider.Message{{Role: "user", Content: "hi"}}},
	)

	require.Len(t, params.Messages, 1)
	assert.NotNil(t, params.Messages[0].OfUser)
}

func TestClassify_AuthFailureIsConfiguration(t *testing.T) {
	err := classify(&openai.Error{StatusCode: 401})
	assert.True(t, fault.IsConfiguration(err))
}

func TestClassify_RateLimitStaysRetryable(t *testing.T) {
	err := classify(&openai.Error{StatusCode: 429})
	assert.False(t, fault.IsConfiguration(err))

	err = classify(errors.New("connection reset"))
	assert.False(t, fault.IsConfiguration(err))
}
