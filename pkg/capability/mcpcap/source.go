// Package mcpcap exposes tools discovered on MCP servers as capabilities.
//
// Each configured server becomes one capability source. Discovered tools
// are wrapped as plain handlers that forward the call to the server and
// return its text content; MCP tools carry no status reporters, conditions
// or cleanup hooks.
package mcpcap

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/wispchat/wisp/pkg/capability"
)

// Source is one connected MCP server exposed as a capability source.
type Source struct {
	cfg     ServerConfig
	logger  *slog.Logger
	client  *mcp.Client
	session *mcp.ClientSession

	mu         sync.Mutex
	discovered []*capability.Capability
	resolved   bool
}

var _ capability.Source = (*Source)(nil)

// NewSource creates a Source for the given server. Call Connect before
// Capabilities.
func NewSource(cfg ServerConfig, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{cfg: cfg, logger: logger}
}

// Connect establishes the MCP connection, performing the protocol
// handshake, and discovers the server's tools.
func (s *Source) Connect(ctx context.Context) error {
	return s.ConnectWithTransport(ctx, nil)
}

// ConnectWithTransport connects using the given transport. If transport
// is nil, one is created from the server configuration. Exposed for
// tests using in-memory transports.
func (s *Source) ConnectWithTransport(ctx context.Context, transport mcp.Transport) error {
	s.client = mcp.NewClient(
		&mcp.Implementation{
			Name:    "wisp",
			Version: "1.0.0",
		},
		&mcp.ClientOptions{
			Capabilities: &mcp.ClientCapabilities{},
		},
	)

	if transport == nil {
		t, err := s.createTransport()
		if err != nil {
			return fmt.Errorf("creating transport for %q: %w", s.cfg.Name, err)
		}
		transport = t
	}

	session, err := s.client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("connecting to MCP server %q: %w", s.cfg.Name, err)
	}
	s.session = session

	if err := s.discover(ctx); err != nil {
		_ = session.Close()
		s.session = nil
		return err
	}
	return nil
}

// createTransport creates an MCP transport based on the server configuration.
func (s *Source) createTransport() (mcp.Transport, error) {
	httpClient := s.buildHTTPClient()

	switch s.cfg.Transport {
	case "sse":
		transport := &mcp.SSEClientTransport{Endpoint: s.cfg.URL}
		if httpClient != nil {
			transport.HTTPClient = httpClient
		}
		return transport, nil

	case "streamable-http", "":
		transport := &mcp.StreamableClientTransport{Endpoint: s.cfg.URL}
		if httpClient != nil {
			transport.HTTPClient = httpClient
		}
		return transport, nil

	default:
		return nil, fmt.Errorf("unsupported transport type %q", s.cfg.Transport)
	}
}

// buildHTTPClient returns an HTTP client that injects the configured
// static headers, or nil when none are configured.
func (s *Source) buildHTTPClient() *http.Client {
	if len(s.cfg.Headers) == 0 {
		return nil
	}
	return &http.Client{
		Transport: &headerTransport{
			base:    http.DefaultTransport,
			headers: s.cfg.Headers,
		},
	}
}

// headerTransport adds static headers to every request.
type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	return t.base.RoundTrip(req)
}

// discover lists the server's tools and wraps each as a capability.
func (s *Source) discover(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.resolved {
		return nil
	}

	var caps []*capability.Capability
	for tool, err := range s.session.Tools(ctx, nil) {
		if err != nil {
			return fmt.Errorf("listing tools from %q: %w", s.cfg.Name, err)
		}
		c, convErr := s.wrapTool(tool)
		if convErr != nil {
			return fmt.Errorf("converting tool %q from %q: %w", tool.Name, s.cfg.Name, convErr)
		}
		caps = append(caps, c)
	}

	s.discovered = caps
	s.resolved = true
	s.logger.Info("discovered MCP tools", "server", s.cfg.Name, "tools", len(caps))
	return nil
}

// wrapTool converts one MCP tool into a capability with a plain handler
// that forwards the call to the server.
func (s *Source) wrapTool(t *mcp.Tool) (*capability.Capability, error) {
	var params map[string]any
	if t.InputSchema != nil {
		data, err := json.Marshal(t.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("marshaling input schema: %w", err)
		}
		if err := json.Unmarshal(data, &params); err != nil {
			return nil, fmt.Errorf("decoding input schema: %w", err)
		}
	}

	name := t.Name
	return &capability.Capability{
		ID: name,
		Schema: capability.Schema{
			Name:        name,
			Description: t.Description,
			Parameters:  params,
		},
		Enabled: true,
		Handler: capability.Plain(func(ctx context.Context, inv capability.Invocation, rc *capability.ResponseContext) (string, error) {
			return s.callTool(ctx, name, inv.Arguments)
		}),
	}, nil
}

// callTool executes a tool call against the server and flattens the
// result's text content.
func (s *Source) callTool(ctx context.Context, name string, args map[string]any) (string, error) {
	if s.session == nil {
		return "", fmt.Errorf("MCP server %q not connected", s.cfg.Name)
	}

	result, err := s.session.CallTool(ctx, &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return "", fmt.Errorf("calling MCP tool %q on %q: %w", name, s.cfg.Name, err)
	}

	var output string
	for _, content := range result.Content {
		if tc, ok := content.(*mcp.TextContent); ok {
			if output != "" {
				output += "\n"
			}
			output += tc.Text
		}
	}
	if result.IsError {
		return "", fmt.Errorf("MCP tool %q reported an error: %s", name, output)
	}
	return output, nil
}

// Name returns the configured server name.
func (s *Source) Name() string { return s.cfg.Name }

// Capabilities returns the discovered capability set. Empty until
// Connect succeeds.
func (s *Source) Capabilities() []*capability.Capability {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.discovered
}

// Close closes the MCP session.
func (s *Source) Close() error {
	if s.session != nil {
		return s.session.Close()
	}
	return nil
}

// ConnectAll connects every configured server, returning the sources that
// came up. A server that fails to connect is logged and skipped so one
// bad endpoint does not block startup.
func ConnectAll(ctx context.Context, cfg Config, logger *slog.Logger) []*Source {
	if logger == nil {
		logger = slog.Default()
	}
	var sources []*Source
	for _, sc := range cfg.Servers {
		src := NewSource(sc, logger)
		if err := src.Connect(ctx); err != nil {
			logger.Warn("skipping MCP server", "server", sc.Name, "error", err)
			continue
		}
		sources = append(sources, src)
	}
	return sources
}
