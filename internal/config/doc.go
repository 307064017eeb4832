// Package config handles configuration loading for coven-concierge.
//
// # Overview
//
// Configuration is loaded from a YAML file with environment variable
// expansion, duration parsing, defaults, and validation. A .env file in the
// working directory is loaded by the CLI before the file is read.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from COVEN_CONCIERGE_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/coven/concierge.yaml
//  3. ~/.config/coven/concierge.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	llm:
//	  api_key: "${OPENAI_API_KEY}"
//
// Unset variables expand to the empty string.
//
// # Agent Pack Precedence
//
// The llm, rag, and memory sections override the matching agent pack
// sections field by field. Fields left at their zero value fall back to the
// pack, then to built-in defaults.
//
// # Example
//
//	server:
//	  http_addr: ":3000"
//	database:
//	  path: "./data/concierge.db"
//	vs_agent:
//	  enabled: true
//	  admin_url: "http://localhost:3001"
//	agent_pack:
//	  path: "./agent-packs/default"
//	llm:
//	  provider: "openai"
//	  api_key: "${OPENAI_API_KEY}"
//	memory:
//	  backend: "redis"
//	  redis_url: "redis://localhost:6379/0"
//	  ttl: "4h"
package config
