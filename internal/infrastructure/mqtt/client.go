package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/motion-core/internal/infrastructure/config"
)

// Client is the broker connection shared by the MQTT device sink and the
// remote control handler.
//
// paho reconnects on its own; Client remembers subscriptions so they are
// restored after every reconnect, announces itself on the retained system
// status topic and counts traffic for Stats.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig
	topics Topics

	connected atomic.Bool

	// mu guards subscriptions, callbacks and logger.
	mu            sync.RWMutex
	subscriptions map[string]subscription
	onConnect     func()
	onDisconnect  func(err error)
	logger        Logger

	connects      atomic.Uint64
	received      atomic.Uint64
	handlerErrors atomic.Uint64
}

// Logger is the subset of logging.Logger the client uses.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// subscription is replayed on reconnect.
type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// MessageHandler handles one received message. paho calls handlers on its
// own goroutines, so they must not block for long. A returned error is
// logged; it does not affect acknowledgment.
type MessageHandler func(topic string, payload []byte) error

// Stats is a snapshot of the connection counters.
type Stats struct {
	Connected     bool   `json:"connected"`
	Connects      uint64 `json:"connects"`
	Subscriptions int    `json:"subscriptions"`
	Received      uint64 `json:"received"`
	HandlerErrors uint64 `json:"handler_errors"`
}

// Connect dials the broker and waits for the first connection.
//
// The client registers a Last Will on {prefix}/system/status so the broker
// marks Motion Core offline if the connection drops, and publishes "online"
// there on every (re)connect.
//
// Parameters:
//   - cfg: MQTT configuration from config.yaml
//
// Returns:
//   - *Client: Connected client ready for use
//   - error: ErrConnectionFailed if the broker is not reached in time
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := &Client{
		cfg:           cfg,
		topics:        NewTopics(cfg.TopicPrefix),
		subscriptions: make(map[string]subscription),
	}

	opts := buildClientOptions(cfg)
	configureLWT(opts, c.topics, cfg.Broker.ClientID)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.handleConnect() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.handleDisconnect(err) })

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		// ConnectRetry keeps paho dialling in the background; stop it.
		c.client.Disconnect(0)
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// OnConnect runs asynchronously and may not have fired yet.
	c.connected.Store(true)
	return c, nil
}

func (c *Client) handleConnect() {
	c.connected.Store(true)
	c.connects.Add(1)

	c.mu.RLock()
	for _, sub := range c.subscriptions {
		// Nothing useful to do with a failure here; paho retries on the
		// next reconnect.
		c.client.Subscribe(sub.topic, sub.qos, c.wrapHandler(sub.handler))
	}
	callback := c.onConnect
	c.mu.RUnlock()

	c.client.Publish(c.topics.SystemStatus(), c.QoS(), true, statusMessage(statusOnline, c.cfg.Broker.ClientID, ""))

	if callback != nil {
		callback()
	}
}

func (c *Client) handleDisconnect(err error) {
	c.connected.Store(false)

	c.mu.RLock()
	callback := c.onDisconnect
	logger := c.logger
	c.mu.RUnlock()

	if logger != nil {
		logger.Warn("MQTT connection lost", "error", err)
	}
	if callback != nil {
		callback(err)
	}
}

// Close publishes a retained "offline" status and disconnects. Closing a
// zero or already closed Client is a no-op.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	if c.IsConnected() {
		token := c.client.Publish(c.topics.SystemStatus(), c.QoS(), true,
			statusMessage(statusOffline, c.cfg.Broker.ClientID, reasonShutdown))
		token.WaitTimeout(defaultPublishTimeout)
	}
	c.client.Disconnect(defaultDisconnectQuiesce)
	c.connected.Store(false)
	return nil
}

// HealthCheck reports ErrNotConnected while the broker is unreachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports whether the broker connection is up.
func (c *Client) IsConnected() bool {
	return c.client != nil && c.connected.Load() && c.client.IsConnected()
}

// SetOnConnect sets a callback run after the initial connect and every
// reconnect, once subscriptions are restored.
func (c *Client) SetOnConnect(callback func()) {
	c.mu.Lock()
	c.onConnect = callback
	c.mu.Unlock()
}

// SetOnDisconnect sets a callback run when the connection is lost.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.mu.Lock()
	c.onDisconnect = callback
	c.mu.Unlock()
}

// SetLogger sets the logger for handler errors and panics. Without one they
// are only counted.
func (c *Client) SetLogger(logger Logger) {
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

// Stats returns the connection counters.
func (c *Client) Stats() Stats {
	c.mu.RLock()
	subs := len(c.subscriptions)
	c.mu.RUnlock()

	return Stats{
		Connected:     c.IsConnected(),
		Connects:      c.connects.Load(),
		Subscriptions: subs,
		Received:      c.received.Load(),
		HandlerErrors: c.handlerErrors.Load(),
	}
}

func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		c.dispatch(handler, msg.Topic(), msg.Payload())
	}
}

// dispatch runs handler, recovering panics. Panics and returned errors are
// counted as handler errors.
func (c *Client) dispatch(handler MessageHandler, topic string, payload []byte) {
	c.received.Add(1)

	c.mu.RLock()
	logger := c.logger
	c.mu.RUnlock()

	defer func() {
		if r := recover(); r != nil {
			c.handlerErrors.Add(1)
			if logger != nil {
				logger.Error("MQTT handler panic recovered", "topic", topic, "panic", r)
			}
		}
	}()

	if err := handler(topic, payload); err != nil {
		c.handlerErrors.Add(1)
		if logger != nil {
			logger.Warn("MQTT handler returned error", "topic", topic, "error", err)
		}
	}
}
