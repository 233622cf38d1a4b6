// ABOUTME: TOML-backed model capability table
// ABOUTME: Loads model -> provider routing from a models.toml file with env expansion

package provider

import (
	"fmt"
	"os"
	"regexp"

	"github.com/BurntSushi/toml"
)

// ProviderInfo describes one upstream provider entry in the table.
type ProviderInfo struct {
	Endpoint EndpointKind `toml:"endpoint"`
	BaseURL  string       `toml:"base_url"`
}

// Table is the file-backed capability table. The file maps model ids to
// capabilities and provider names to endpoint kinds:
//
//	[models."claude-sonnet-4"]
//	supports_thinking = true
//	default_provider = "openrouter"
//	thinking_provider = "anthropic"
//
//	[providers.openrouter]
//	endpoint = "chat"
//	base_url = "https://openrouter.ai/api/v1"
//
//	[providers.anthropic]
//	endpoint = "messages"
type Table struct {
	Models    map[string]Capability   `toml:"models"`
	Providers map[string]ProviderInfo `toml:"providers"`
}

// LoadTable reads a capability table from a TOML file. Environment
// variables in ${VAR} form are expanded before parsing.
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading model table: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var t Table
	if _, err := toml.Decode(expanded, &t); err != nil {
		return nil, fmt.Errorf("parsing model table: %w", err)
	}

	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("validating model table: %w", err)
	}

	return &t, nil
}

// Lookup implements CapabilityTable.
func (t *Table) Lookup(modelID string) (Capability, bool) {
	cap, ok := t.Models[modelID]
	return cap, ok
}

// Endpoint implements CapabilityTable. Providers without an explicit entry
// default to the chat endpoint, the common denominator.
func (t *Table) Endpoint(providerName string) EndpointKind {
	if info, ok := t.Providers[providerName]; ok && info.Endpoint != "" {
		return info.Endpoint
	}
	return EndpointChat
}

// Validate checks that every model references a declared or defaultable
// provider and that endpoint kinds are known.
func (t *Table) Validate() error {
	for name, info := range t.Providers {
		switch info.Endpoint {
		case "", EndpointChat, EndpointMessages:
		default:
			return fmt.Errorf("provider %q: unknown endpoint kind %q", name, info.Endpoint)
		}
	}
	for id, cap := range t.Models {
		if cap.DefaultProvider == "" {
			return fmt.Errorf("model %q: default_provider is required", id)
		}
		if cap.SupportsThinking && cap.ThinkingProvider == "" {
			return fmt.Errorf("model %q: supports_thinking requires thinking_provider", id)
		}
	}
	return nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with environment values.
// Unset variables expand to the empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
