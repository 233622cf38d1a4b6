// ABOUTME: Provider and endpoint resolution for agent model calls
// ABOUTME: Maps a model id plus thinking flag onto a concrete provider descriptor

// Package provider resolves which upstream endpoint serves a model call and
// defines the streaming contract those endpoints implement.
package provider

import (
	"github.com/swombat/helix-chat/internal/fault"
)

// EndpointKind distinguishes the wire shapes we can speak upstream.
type EndpointKind string

const (
	// EndpointChat is an OpenAI-compatible chat completions endpoint.
	EndpointChat EndpointKind = "chat"
	// EndpointMessages is the Anthropic-native messages endpoint, the only
	// kind that implements the extended-thinking protocol.
	EndpointMessages EndpointKind = "messages"
)

// Capability describes what a model supports and who serves it.
type Capability struct {
	SupportsThinking bool   `toml:"supports_thinking"`
	DefaultProvider  string `toml:"default_provider"`
	ThinkingProvider string `toml:"thinking_provider"`
}

// Descriptor identifies the provider and endpoint a single turn will call.
// It is a value recomputed fresh every turn so that agent reconfiguration
// between turns always takes effect.
type Descriptor struct {
	Provider string
	Endpoint EndpointKind
	ModelID  string
	Thinking bool
}

// CapabilityTable answers model capability lookups.
type CapabilityTable interface {
	Lookup(modelID string) (Capability, bool)
	Endpoint(providerName string) EndpointKind
}

// Select resolves a provider descriptor for the given model.
//
// When thinking is requested and the model supports it, the call routes to
// the model's thinking provider, which may bypass the default intermediary:
// only the direct path implements the thinking protocol extension. In every
// other case the default provider serves the call.
//
// An unknown model id is a configuration fault.
func Select(modelID string, thinking bool, table CapabilityTable) (Descriptor, error) {
	cap, ok := table.Lookup(modelID)
	if !ok {
		return Descriptor{}, fault.Configurationf("unknown model %q", modelID)
	}

	name := cap.DefaultProvider
	useThinking := false
	if thinking && cap.SupportsThinking && cap.ThinkingProvider != "" {
		name = cap.ThinkingProvider
		useThinking = true
	}
	if name == "" {
		return Descriptor{}, fault.Configurationf("model %q has no provider configured", modelID)
	}

	return Descriptor{
		Provider: name,
		Endpoint: table.Endpoint(name),
		ModelID:  modelID,
		Thinking: useThinking,
	}, nil
}
