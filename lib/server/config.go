package server

import (
	"fmt"
	"strings"
)

// Timer constants of the event loop. The idle deadline applies to
// connections waiting for a request; the io deadline applies while a
// response is buffered and the peer is not draining it. Both are measured
// from the connection's last activity.
const (
	idleTimeoutMs = 5 * 1000
	ioTimeoutMs   = 1 * 1000

	// maxExpireWorks caps TTL expirations per timer tick so a large backlog
	// cannot stall the loop.
	maxExpireWorks = 2000

	// readChunk is the per-read scratch size.
	readChunk = 64 * 1024

	// connBufSize is the initial size of a connection's buffers.
	connBufSize = 16 * 1024
)

// Config holds all configuration parameters of the server.
type Config struct {
	// Endpoint is the TCP address the server listens on.
	Endpoint string

	// MetricsEndpoint is the address of the Prometheus /metrics listener.
	// Empty disables the metrics endpoint.
	MetricsEndpoint string

	// LogLevel is the level at which logs will be output (debug, info,
	// warn, error).
	LogLevel string
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() Config {
	return Config{
		Endpoint: "0.0.0.0:1234",
		LogLevel: "info",
	}
}

// String returns a formatted string representation of the configuration.
func (c *Config) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Server")
	addField("Endpoint", c.Endpoint)
	addField("Idle Timeout", fmt.Sprintf("%d ms", idleTimeoutMs))
	addField("IO Timeout", fmt.Sprintf("%d ms", ioTimeoutMs))

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	if c.MetricsEndpoint != "" {
		addSection("Metrics")
		addField("Endpoint", c.MetricsEndpoint)
	}

	return sb.String()
}
