package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from a layered set of sources.
//
// The loading order is:
//  1. Built-in defaults
//  2. YAML config file (explicit path, WISP_CONFIG env, ./config.yaml, /etc/wisp/config.yaml)
//  3. Environment variable overrides
//  4. File reference resolution (_file suffix)
//  5. Validation
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	filePath := discoverConfigFile(configPath)
	if filePath != "" {
		if err := loadYAMLFile(filePath, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", filePath, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := resolveFileReferences(&cfg); err != nil {
		return nil, fmt.Errorf("resolving file references: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

// discoverConfigFile finds the config file path using the discovery order:
// 1. Explicit configPath argument
// 2. WISP_CONFIG environment variable
// 3. ./config.yaml in the current directory
// 4. /etc/wisp/config.yaml
//
// Returns empty string if no config file is found.
func discoverConfigFile(configPath string) string {
	if configPath != "" {
		return configPath
	}

	if envPath := os.Getenv("WISP_CONFIG"); envPath != "" {
		return envPath
	}

	candidates := []string{
		"config.yaml",
		"/etc/wisp/config.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// loadYAMLFile reads and parses a YAML file into the Config struct.
// Fields not present in the YAML retain their current (default) values.
func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// applyEnvOverrides maps WISP_* environment variables to config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("WISP_BACKEND_URL"); v != "" {
		cfg.Provider.BackendURL = v
	}
	if v := os.Getenv("WISP_API_KEY"); v != "" {
		cfg.Provider.APIKey = v
	}
	if v := os.Getenv("WISP_MODEL"); v != "" {
		cfg.Provider.Model = v
	}
	if v := os.Getenv("WISP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("WISP_STORAGE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("WISP_POSTGRES_DSN"); v != "" {
		cfg.Storage.Postgres.DSN = v
	}
	if v := os.Getenv("WISP_NOTIFY"); v != "" {
		cfg.Notify.Type = v
	}
	if v := os.Getenv("WISP_REDIS_ADDR"); v != "" {
		cfg.Notify.Redis.Addr = v
	}
	if v := os.Getenv("WISP_TOOL_BUDGET"); v != "" {
		if budget, err := strconv.Atoi(v); err == nil {
			cfg.Orchestrator.ToolBudget = budget
		}
	}
	if v := os.Getenv("WISP_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// WISP_MCP_SERVERS: JSON array of MCP server configs.
	if v := os.Getenv("WISP_MCP_SERVERS"); v != "" {
		servers, err := parseMCPServersJSON(v)
		if err == nil && len(servers) > 0 {
			cfg.MCP.Servers = servers
		}
	}
}

// parseMCPServersJSON parses a JSON array of MCP server configurations.
func parseMCPServersJSON(jsonStr string) ([]MCPServerConfig, error) {
	var servers []MCPServerConfig
	if err := json.Unmarshal([]byte(jsonStr), &servers); err != nil {
		return nil, fmt.Errorf("parsing MCP servers JSON: %w", err)
	}
	return servers, nil
}

// resolveFileReferences reads _file fields and populates the corresponding
// value fields. For each field ending in _file, if the value field is empty
// and the file field is set, the file is read, whitespace is trimmed, and
// the value field is populated.
func resolveFileReferences(cfg *Config) error {
	// provider.api_key_file -> provider.api_key
	if cfg.Provider.APIKeyFile != "" && cfg.Provider.APIKey == "" {
		val, err := readSecretFile(cfg.Provider.APIKeyFile)
		if err != nil {
			return fmt.Errorf("provider.api_key_file: %w", err)
		}
		cfg.Provider.APIKey = val
	}

	// storage.postgres.dsn_file -> storage.postgres.dsn
	if cfg.Storage.Postgres.DSNFile != "" && cfg.Storage.Postgres.DSN == "" {
		val, err := readSecretFile(cfg.Storage.Postgres.DSNFile)
		if err != nil {
			return fmt.Errorf("storage.postgres.dsn_file: %w", err)
		}
		cfg.Storage.Postgres.DSN = val
	}

	// notify.redis.password_file -> notify.redis.password
	if cfg.Notify.Redis.PasswordFile != "" && cfg.Notify.Redis.Password == "" {
		val, err := readSecretFile(cfg.Notify.Redis.PasswordFile)
		if err != nil {
			return fmt.Errorf("notify.redis.password_file: %w", err)
		}
		cfg.Notify.Redis.Password = val
	}

	return nil
}

// readSecretFile reads a file and returns its content with surrounding
// whitespace trimmed.
func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
