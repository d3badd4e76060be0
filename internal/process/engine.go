package process

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/nerrad567/motion-core/internal/infrastructure/config"
)

// EngineName identifies the Intiface engine in logs and stats.
const EngineName = "intiface-engine"

// defaultEnginePort is the Intiface websocket port when the URL has none.
const defaultEnginePort = "12345"

// EngineConfig builds the supervision config for a locally managed
// intiface-engine. The health check dials the engine's websocket port.
//
// Returns an error when the Intiface URL cannot be parsed.
func EngineConfig(cfg config.IntifaceConfig) (Config, error) {
	addr, err := engineAddress(cfg.URL)
	if err != nil {
		return Config{}, err
	}

	binary := cfg.Engine.Binary
	if binary == "" {
		binary = EngineName
	}
	args := cfg.Engine.Args
	if len(args) == 0 {
		_, port, _ := net.SplitHostPort(addr) //nolint:errcheck // addr always has a port
		args = []string{"--websocket-port", port, "--use-bluetooth-le"}
	}

	return Config{
		Name:               EngineName,
		Binary:             binary,
		Args:               args,
		RestartOnFailure:   cfg.Engine.RestartOnFailure,
		RestartDelay:       time.Duration(cfg.Engine.RestartDelaySeconds) * time.Second,
		MaxRestartAttempts: cfg.Engine.MaxRestartAttempts,
		HealthCheckFunc:    DialCheck(addr),
	}, nil
}

// DialCheck returns a health check that succeeds when addr accepts a TCP
// connection.
func DialCheck(addr string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return fmt.Errorf("engine not accepting connections on %s: %w", addr, err)
		}
		return conn.Close()
	}
}

// engineAddress returns host:port from an Intiface websocket URL.
func engineAddress(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parsing intiface url %q: %w", raw, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("intiface url %q: scheme must be ws or wss", raw)
	}
	host := u.Hostname()
	if host == "" {
		host = "127.0.0.1"
	}
	port := u.Port()
	if port == "" {
		port = defaultEnginePort
	}
	return net.JoinHostPort(host, port), nil
}
