// Command server runs the wisp chat orchestration server.
//
// Configuration is loaded from a YAML file (-config flag, WISP_CONFIG
// env, ./config.yaml, or /etc/wisp/config.yaml) with WISP_* environment
// variable overrides. See pkg/config for the full reference.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/wispchat/wisp/pkg/capability"
	"github.com/wispchat/wisp/pkg/capability/builtin"
	"github.com/wispchat/wisp/pkg/capability/mcpcap"
	"github.com/wispchat/wisp/pkg/chat"
	"github.com/wispchat/wisp/pkg/config"
	"github.com/wispchat/wisp/pkg/notify"
	"github.com/wispchat/wisp/pkg/orchestrator"
	"github.com/wispchat/wisp/pkg/persona"
	"github.com/wispchat/wisp/pkg/provider/openaicompat"
	"github.com/wispchat/wisp/pkg/settings"
	"github.com/wispchat/wisp/pkg/storage"
	"github.com/wispchat/wisp/pkg/storage/memory"
	"github.com/wispchat/wisp/pkg/storage/postgres"
	"github.com/wispchat/wisp/pkg/transport"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	ctx := context.Background()

	// Storage.
	var (
		kv    storage.KV
		convs storage.ConversationStore
	)
	switch cfg.Storage.Type {
	case "postgres":
		store, err := postgres.New(ctx, postgres.Config{
			DSN:            cfg.Storage.Postgres.DSN,
			MaxConns:       cfg.Storage.Postgres.MaxConns,
			MigrateOnStart: cfg.Storage.Postgres.MigrateOnStart,
		})
		if err != nil {
			return fmt.Errorf("connecting to postgres: %w", err)
		}
		defer store.Close()
		kv, convs = store, store
		logger.Info("storage ready", "type", "postgres")
	default:
		kv = memory.NewKV()
		convs = memory.NewConversationStore()
		logger.Info("storage ready", "type", "memory")
	}

	// Notification broker.
	var broker notify.Broker
	switch cfg.Notify.Type {
	case "redis":
		broker, err = notify.NewRedisBroker(ctx, notify.RedisConfig{
			Addr:     cfg.Notify.Redis.Addr,
			Password: cfg.Notify.Redis.Password,
			DB:       cfg.Notify.Redis.DB,
		}, logger)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
	default:
		broker = notify.NewMemoryBroker()
	}
	defer broker.Close()

	// Persona names. Config values seed the store once; names changed
	// at runtime are not overwritten on restart.
	resolver := persona.NewResolver(kv)
	seedPersona(ctx, resolver, cfg.Persona, logger)

	// Capability registry: builtins plus any configured MCP servers.
	registry, err := capability.NewRegistry(ctx, kv, logger)
	if err != nil {
		return fmt.Errorf("creating capability registry: %w", err)
	}
	defer registry.Close()

	registry.Register(builtin.Source(kv, broker))
	for _, src := range mcpcap.ConnectAll(ctx, mcpConfig(cfg.MCP), logger) {
		registry.Register(src)
	}

	// Inference backend.
	client := openaicompat.NewClient(openaicompat.Config{
		Name:    cfg.Provider.Name,
		BaseURL: cfg.Provider.BackendURL,
		APIKey:  cfg.Provider.APIKey,
		Model:   cfg.Provider.Model,
		Timeout: cfg.Provider.Timeout,
	})
	defer client.Close()

	loop := orchestrator.NewLoop(client, registry, resolver, orchestrator.Config{
		Model:           cfg.Provider.Model,
		ToolBudget:      cfg.Orchestrator.ToolBudget,
		ToolErrorPolicy: orchestrator.ToolErrorPolicy(cfg.Orchestrator.ToolErrorPolicy),
	}, logger)

	svc := chat.NewService(convs, settings.NewStore(kv), loop, client, cfg.Provider.Model, logger)

	serverCfg := transport.DefaultServerConfig()
	serverCfg.Addr = fmt.Sprintf(":%d", cfg.Server.Port)
	serverCfg.ShutdownTimeout = cfg.Server.ShutdownTimeout

	srv := transport.NewServer(svc, registry, convs, client, serverCfg, logger)

	logger.Info("wisp starting",
		"addr", serverCfg.Addr,
		"backend", cfg.Provider.BackendURL,
		"model", cfg.Provider.Model)
	return srv.ListenAndServe()
}

// seedPersona writes the configured names when the store still serves
// the built-in defaults.
func seedPersona(ctx context.Context, resolver *persona.Resolver, cfg config.PersonaConfig, logger *slog.Logger) {
	names := resolver.Resolve(ctx)
	if cfg.UserName != "" && cfg.UserName != names.User && names.User == persona.DefaultUserName {
		if err := resolver.SetUserName(ctx, cfg.UserName); err != nil {
			logger.Warn("failed to seed user name", "error", err)
		}
	}
	if cfg.CharName != "" && cfg.CharName != names.Char && names.Char == persona.DefaultCharName {
		if err := resolver.SetCharName(ctx, cfg.CharName); err != nil {
			logger.Warn("failed to seed character name", "error", err)
		}
	}
}

// mcpConfig converts the loaded MCP section into the connector's form.
func mcpConfig(cfg config.MCPConfig) mcpcap.Config {
	out := mcpcap.Config{Servers: make([]mcpcap.ServerConfig, 0, len(cfg.Servers))}
	for _, s := range cfg.Servers {
		out.Servers = append(out.Servers, mcpcap.ServerConfig{
			Name:      s.Name,
			Transport: s.Transport,
			URL:       s.URL,
			Headers:   s.Headers,
		})
	}
	return out
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}
