// Package config provides unified configuration for the wisp server.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. YAML config file (discovered or explicitly specified)
//  3. Environment variable overrides (WISP_ prefix)
//  4. File reference resolution (_file suffix fields)
//  5. Validation
package config

import "time"

// Config holds all configuration for the wisp server.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Provider     ProviderConfig     `yaml:"provider"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Storage      StorageConfig      `yaml:"storage"`
	Notify       NotifyConfig       `yaml:"notify"`
	Persona      PersonaConfig      `yaml:"persona"`
	MCP          MCPConfig          `yaml:"mcp"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`             // default: 8080
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // default: 30s
}

// ProviderConfig holds inference backend settings.
type ProviderConfig struct {
	Name       string        `yaml:"name"`         // provider label for logs and metrics
	BackendURL string        `yaml:"backend_url"`  // required
	APIKey     string        `yaml:"api_key"`      // optional
	APIKeyFile string        `yaml:"api_key_file"` // _file variant for api_key
	Model      string        `yaml:"model"`        // required
	Timeout    time.Duration `yaml:"timeout"`      // per-request timeout, default: 120s
}

// OrchestratorConfig holds tool loop settings.
type OrchestratorConfig struct {
	ToolBudget      int    `yaml:"tool_budget"`       // default: 3
	ToolErrorPolicy string `yaml:"tool_error_policy"` // "abort" or "report", default: "abort"
}

// StorageConfig holds conversation and key-value persistence settings.
type StorageConfig struct {
	Type     string         `yaml:"type"` // "memory" or "postgres", default: "memory"
	Postgres PostgresConfig `yaml:"postgres"`
}

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	DSN            string `yaml:"dsn"`
	DSNFile        string `yaml:"dsn_file"`         // _file variant for dsn
	MaxConns       int32  `yaml:"max_conns"`        // default: 25
	MigrateOnStart bool   `yaml:"migrate_on_start"` // default: false
}

// NotifyConfig holds state change broadcast settings.
type NotifyConfig struct {
	Type  string      `yaml:"type"` // "memory" or "redis", default: "memory"
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig holds Redis broker settings.
type RedisConfig struct {
	Addr         string `yaml:"addr"`
	Password     string `yaml:"password"`
	PasswordFile string `yaml:"password_file"` // _file variant for password
	DB           int    `yaml:"db"`
}

// PersonaConfig holds the default placeholder names.
type PersonaConfig struct {
	UserName string `yaml:"user_name"` // default: "User"
	CharName string `yaml:"char_name"` // default: "Assistant"
}

// MCPConfig holds MCP (Model Context Protocol) server settings.
type MCPConfig struct {
	Servers []MCPServerConfig `yaml:"servers"`
}

// MCPServerConfig describes a single MCP server connection.
type MCPServerConfig struct {
	Name      string            `yaml:"name"`
	Transport string            `yaml:"transport"` // "sse" or "streamable-http"
	URL       string            `yaml:"url"`
	Headers   map[string]string `yaml:"headers"`
}

// LoggingConfig holds slog handler settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error", default: "info"
	Format string `yaml:"format"` // "text" or "json", default: "text"
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ShutdownTimeout: 30 * time.Second,
		},
		Provider: ProviderConfig{
			Name:    "openai-compat",
			Timeout: 120 * time.Second,
		},
		Orchestrator: OrchestratorConfig{
			ToolBudget:      3,
			ToolErrorPolicy: "abort",
		},
		Storage: StorageConfig{
			Type: "memory",
			Postgres: PostgresConfig{
				MaxConns: 25,
			},
		},
		Notify: NotifyConfig{
			Type: "memory",
		},
		Persona: PersonaConfig{
			UserName: "User",
			CharName: "Assistant",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
