// ABOUTME: Tests for provider selection and the capability table
// ABOUTME: Covers thinking routing, default routing, unknown models, and TOML loading

package provider

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swombat/helix-chat/internal/fault"
)

func testTable() *Table {
	return &Table{
		Models: map[string]Capability{
			"claude-x": {
				SupportsThinking: true,
				DefaultProvider:  "openrouter",
				ThinkingProvider: "anthropic_direct",
			},
			"gpt-basic": {
				SupportsThinking: false,
				DefaultProvider:  "openai",
			},
		},
		Providers: map[string]ProviderInfo{
			"openrouter":       {Endpoint: EndpointChat, BaseURL: "https://openrouter.ai/api/v1"},
			"anthropic_direct": {Endpoint: EndpointMessages},
			"openai":           {Endpoint: EndpointChat},
		},
	}
}

func TestSelect_ThinkingRoutesToThinkingProvider(t *testing.T) {
	desc, err := Select("claude-x", true, testTable())
	require.NoError(t, err)

	assert.Equal(t, "anthropic_direct", desc.Provider)
	assert.Equal(t, EndpointMessages, desc.Endpoint)
	assert.Equal(t, "claude-x", desc.ModelID)
	assert.True(t, desc.Thinking)
}

func TestSelect_NoThinkingRoutesToDefault(t *testing.T) {
	desc, err := Select("claude-x", false, testTable())
	require.NoError(t, err)

	assert.Equal(t, "openrouter", desc.Provider)
	assert.Equal(t, EndpointChat, desc.Endpoint)
	assert.False(t, desc.Thinking)
}

func TestSelect_ThinkingRequestedButUnsupported(t *testing.T) {
	desc, err := Select("gpt-basic", true, testTable())
	require.NoError(t, err)

	// Model cannot think: route to default, thinking off.
	assert.Equal(t, "openai", desc.Provider)
	assert.False(t, desc.Thinking)
}

func TestSelect_UnknownModelIsConfigurationError(t *testing.T) {
	_, err := Select("no-such-model", false, testTable())
	require.Error(t, err)
	assert.True(t, fault.IsConfiguration(err))
}

func TestTable_EndpointDefaultsToChat(t *testing.T) {
	tbl := testTable()
	assert.Equal(t, EndpointChat, tbl.Endpoint("unlisted-provider"))
}

func TestLoadTable_ParsesTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "models.toml")
	content := `
[models."claude-x"]
supports_thinking = true
default_provider = "openrouter"
thinking_provider = "anthropic"

[providers.openrouter]
endpoint = "chat"
base_url = "https://openrouter.ai/api/v1"

[providers.anthropic]
endpoint = "messages"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	tbl, err := LoadTable(path)
	require.NoError(t, err)

	cap, ok := tbl.Lookup("claude-x")
	require.True(t, ok)
	assert.True(t, cap.SupportsThinking)
	assert.Equal(t, "openrouter", cap.DefaultProvider)
	assert.Equal(t, EndpointMessages, tbl.Endpoint("anthropic"))
}

func TestLoadTable_ExpandsEnvVars(t *testing.T) {
	t.Setenv("HELIX_TEST_BASE_URL", "https://example.test/v1")

	dir := t.TempDir()
	path := filepath.Join(dir, "models.toml")
	content := `
[models."m1"]
default_provider = "p1"

[providers.p1]
endpoint = "chat"
base_url = "${HELIX_TEST_BASE_URL}"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	tbl, err := LoadTable(path)
	require.NoError(t, err)
	assert.Equal(t, "https://example.test/v1", tbl.Providers["p1"].BaseURL)
}

func TestLoadTable_RejectsThinkingWithoutProvider(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "models.toml")
	content := `
[models."m1"]
supports_thinking = true
default_provider = "p1"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	_, err := LoadTable(path)
	assert.Error(t, err)
}

func TestLoadTable_RejectsUnknownEndpointKind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "models.toml")
	content := `
[models."m1"]
default_provider = "p1"

[providers.p1]
endpoint = "smoke-signals"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	_, err := LoadTable(path)
	assert.Error(t, err)
}
