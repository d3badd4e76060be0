package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"net"
	"net/url"
	"strconv"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/motion-core/internal/infrastructure/config"
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultPublishTimeout    = 5 * time.Second
	defaultDisconnectQuiesce = 1000 // ms, as paho's Disconnect takes it
	defaultKeepAlive         = 30 * time.Second

	maxQoS        = 2
	tlsMinVersion = tls.VersionTLS12
)

// Status values and reasons carried on the system status topic.
const (
	statusOnline  = "online"
	statusOffline = "offline"

	reasonShutdown   = "graceful_shutdown"
	reasonDisconnect = "unexpected_disconnect"
)

// statusPayload is the retained document on the system status topic.
type statusPayload struct {
	Status    string `json:"status"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

// brokerURL returns tcp://host:port, or ssl:// with TLS on.
func brokerURL(b config.MQTTBrokerConfig) string {
	u := url.URL{Scheme: "tcp", Host: net.JoinHostPort(b.Host, strconv.Itoa(b.Port))}
	if b.TLS {
		u.Scheme = "ssl"
	}
	return u.String()
}

// buildClientOptions translates the mqtt configuration section into paho
// options. Sessions are clean: a replayed command from a previous session
// would move the rod to a stale position.
func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	seconds := func(n int) time.Duration { return time.Duration(max(n, 1)) * time.Second }

	opts := pahomqtt.NewClientOptions().
		AddBroker(brokerURL(cfg.Broker)).
		SetClientID(cfg.Broker.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(seconds(cfg.Reconnect.InitialDelay)).
		SetMaxReconnectInterval(seconds(cfg.Reconnect.MaxDelay)).
		SetConnectTimeout(defaultConnectTimeout).
		SetKeepAlive(defaultKeepAlive)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username).SetPassword(cfg.Auth.Password)
	}
	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tlsMinVersion})
	}
	return opts
}

// configureLWT registers a retained offline status that the broker
// publishes if the connection drops without a clean disconnect.
func configureLWT(opts *pahomqtt.ClientOptions, topics Topics, clientID string) {
	opts.SetWill(topics.SystemStatus(), statusMessage(statusOffline, clientID, reasonDisconnect), 1, true)
}

func statusMessage(status, clientID, reason string) string {
	data, _ := json.Marshal(statusPayload{ //nolint:errcheck // strings only
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	return string(data)
}
