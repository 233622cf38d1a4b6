// Package config handles configuration loading for helix-chat.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	providers:
//	  anthropic:
//	    api_key: "${ANTHROPIC_API_KEY}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	streaming:
//	  flush_interval: "250ms"
//	turns:
//	  call_timeout: "2m"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server identity:
//
//	server:
//	  account_id: "acct-main"
//
// Database:
//
//	database:
//	  path: "/var/lib/helix/chat.db"
//
// Model capability table (TOML, see internal/provider):
//
//	models:
//	  path: "/etc/helix/models.toml"
//
// Provider credentials:
//
//	providers:
//	  anthropic:
//	    api_key: "${ANTHROPIC_API_KEY}"
//	  openrouter:
//	    api_key: "${OPENROUTER_API_KEY}"
//	    base_url: "https://openrouter.ai/api/v1"
//
// Streaming and turn tuning:
//
//	streaming:
//	  flush_interval: "250ms"
//	turns:
//	  call_timeout: "2m"
//	  history_limit: 50
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Validation
//
// Load() validates:
//
//   - Database and model table paths are set
//   - Every configured provider carries an API key
//   - Duration format validity
//
// # Usage
//
//	cfg, err := config.Load("/etc/helix/chat.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
