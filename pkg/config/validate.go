package config

import (
	"errors"
	"fmt"
)

// Validate checks the configuration for required fields and valid values.
// Returns an error with a descriptive field path on failure.
func (c *Config) Validate() error {
	var errs []error

	if c.Provider.BackendURL == "" {
		errs = append(errs, fmt.Errorf("provider.backend_url is required"))
	}
	if c.Provider.Model == "" {
		errs = append(errs, fmt.Errorf("provider.model is required"))
	}

	if c.Server.Port <= 0 {
		errs = append(errs, fmt.Errorf("server.port must be > 0, got %d", c.Server.Port))
	}

	switch c.Storage.Type {
	case "memory", "postgres":
		// valid
	default:
		errs = append(errs, fmt.Errorf("storage.type must be \"memory\" or \"postgres\", got %q", c.Storage.Type))
	}

	if c.Storage.Type == "postgres" {
		if c.Storage.Postgres.DSN == "" && c.Storage.Postgres.DSNFile == "" {
			errs = append(errs, fmt.Errorf("storage.postgres.dsn or storage.postgres.dsn_file is required when storage.type is \"postgres\""))
		}
	}

	switch c.Notify.Type {
	case "memory", "redis":
		// valid
	default:
		errs = append(errs, fmt.Errorf("notify.type must be \"memory\" or \"redis\", got %q", c.Notify.Type))
	}

	if c.Notify.Type == "redis" && c.Notify.Redis.Addr == "" {
		errs = append(errs, fmt.Errorf("notify.redis.addr is required when notify.type is \"redis\""))
	}

	if c.Orchestrator.ToolBudget < 0 {
		errs = append(errs, fmt.Errorf("orchestrator.tool_budget must be >= 0, got %d", c.Orchestrator.ToolBudget))
	}

	switch c.Orchestrator.ToolErrorPolicy {
	case "", "abort", "report":
		// valid
	default:
		errs = append(errs, fmt.Errorf("orchestrator.tool_error_policy must be \"abort\" or \"report\", got %q", c.Orchestrator.ToolErrorPolicy))
	}

	for i, srv := range c.MCP.Servers {
		if srv.Name == "" {
			errs = append(errs, fmt.Errorf("mcp.servers[%d].name is required", i))
		}
		if srv.URL == "" {
			errs = append(errs, fmt.Errorf("mcp.servers[%d].url is required", i))
		}
		switch srv.Transport {
		case "", "sse", "streamable-http":
			// valid
		default:
			errs = append(errs, fmt.Errorf("mcp.servers[%d].transport must be \"sse\" or \"streamable-http\", got %q", i, srv.Transport))
		}
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, fmt.Errorf("logging.level must be one of \"debug\", \"info\", \"warn\", \"error\", got %q", c.Logging.Level))
	}

	switch c.Logging.Format {
	case "", "text", "json":
		// valid
	default:
		errs = append(errs, fmt.Errorf("logging.format must be \"text\" or \"json\", got %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}
