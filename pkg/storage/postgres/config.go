package postgres

import "time"

// Config holds PostgreSQL connection settings.
type Config struct {
	// DSN is the PostgreSQL connection string.
	DSN string

	// MaxConns is the maximum pool size. Zero means the default of 25.
	MaxConns int32

	// MinConns is the minimum number of idle connections.
	MinConns int32

	// MaxConnLifetime bounds connection reuse. Zero means 1 hour.
	MaxConnLifetime time.Duration

	// MigrateOnStart applies schema migrations during New.
	MigrateOnStart bool
}

func (c *Config) defaults() {
	if c.MaxConns == 0 {
		c.MaxConns = 25
	}
	if c.MaxConnLifetime == 0 {
		c.MaxConnLifetime = time.Hour
	}
}
