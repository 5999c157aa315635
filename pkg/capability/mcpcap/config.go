package mcpcap

// Config holds the MCP server connections to expose as capabilities.
type Config struct {
	Servers []ServerConfig `yaml:"servers"`
}

// ServerConfig describes a single MCP server connection.
type ServerConfig struct {
	// Name is the logical name for this server, used for logging and as
	// the capability source name.
	Name string `yaml:"name"`

	// Transport is the transport type: "sse" or "streamable-http".
	// If empty, defaults to "streamable-http".
	Transport string `yaml:"transport"`

	// URL is the MCP server endpoint URL.
	URL string `yaml:"url"`

	// Headers contains additional HTTP headers to send with requests,
	// typically used for API keys or bearer tokens.
	Headers map[string]string `yaml:"headers,omitempty"`
}
