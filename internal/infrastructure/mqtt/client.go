package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-fieldlink/internal/infrastructure/config"
)

// Client is the field unit hub's connection to the MQTT broker.
//
// It carries bus events out (PublishEvent), command requests in
// (SubscribeCommands) and the hub's retained liveness record on
// graylogic/fieldunit/hub/status. All methods are safe for concurrent use.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig

	// connected mirrors the paho connect/lost callbacks.
	connected atomic.Bool

	// subscriptions are replayed on every reconnect; the session is clean.
	subscriptions map[string]subscription
	subMu         sync.RWMutex

	hooksMu sync.RWMutex
	hooks   hooks
}

type hooks struct {
	onConnect    func()
	onDisconnect func(err error)
	logger       Logger
}

// Logger is the slice of logging.Logger the client reports through.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// MessageHandler receives one message. A returned error is logged and
// does not affect acknowledgement. Panics are recovered.
type MessageHandler func(topic string, payload []byte) error

// Connect dials the broker and waits for the first connection.
//
// It performs the following setup:
//  1. Builds paho options from cfg (broker URL, credentials, TLS, backoff)
//  2. Arms a retained "offline/unexpected_disconnect" will on the hub status topic
//  3. Installs connect/lost handlers that restore the command subscription
//     and republish "online" after every reconnect
//  4. Waits up to defaultConnectTimeout for the broker to accept
//
// Parameters:
//   - cfg: mqtt section of the hub configuration
//
// Returns:
//   - *Client: Connected client ready for PublishEvent and SubscribeCommands
//   - error: Wrapped ErrConnectionFailed if the broker is unreachable
//
// Example:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Warn("MQTT unavailable, running with local bus only", "error", err)
//	}
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := &Client{
		cfg:           cfg,
		subscriptions: make(map[string]subscription),
	}

	opts := buildClientOptions(cfg)
	configureLWT(opts, cfg.Broker.ClientID)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.handleConnect() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.handleDisconnect(err) })
	opts.SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
		if logger := c.logger(); logger != nil {
			logger.Warn("MQTT reconnecting", "client_id", cfg.Broker.ClientID)
		}
	})

	c.client = pahomqtt.NewClient(opts)
	if err := await(c.client.Connect(), ErrConnectionFailed); err != nil {
		return nil, err
	}

	// The connect handler runs asynchronously and may not have fired yet.
	c.connected.Store(true)
	return c, nil
}

func (c *Client) handleConnect() {
	c.connected.Store(true)
	c.restoreSubscriptions()
	c.publishStatus(statusOnline, "")

	c.hooksMu.RLock()
	onConnect := c.hooks.onConnect
	c.hooksMu.RUnlock()
	if onConnect != nil {
		onConnect()
	}
}

func (c *Client) handleDisconnect(err error) {
	c.connected.Store(false)

	c.hooksMu.RLock()
	onDisconnect := c.hooks.onDisconnect
	c.hooksMu.RUnlock()
	if onDisconnect != nil {
		onDisconnect(err)
	}
}

func (c *Client) restoreSubscriptions() {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	for _, sub := range c.subscriptions {
		c.client.Subscribe(sub.topic, sub.qos, c.wrapHandler(sub.handler))
	}
}

// publishStatus does not wait: on reconnect it runs on paho's callback
// goroutine, and Close waits on the returned token itself.
func (c *Client) publishStatus(status, reason string) pahomqtt.Token {
	return c.client.Publish(Topics{}.HubStatus(), c.qos(), true, buildStatusPayload(c.cfg.Broker.ClientID, status, reason))
}

// Close replaces the retained status with a graceful "offline" record
// (distinct from the will) and disconnects.
//
// It performs:
//  1. Publishes offline/graceful_shutdown on the hub status topic
//  2. Waits for that publish to be acknowledged
//  3. Disconnects, letting in-flight work drain for defaultDisconnectQuiesce
//
// Returns:
//   - error: always nil; a nil or never-connected client is a no-op
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	if c.IsConnected() {
		c.publishStatus(statusOffline, reasonGraceful).WaitTimeout(defaultPublishTimeout)
	}
	c.client.Disconnect(defaultDisconnectQuiesce)
	c.connected.Store(false)
	return nil
}

// HealthCheck reports whether the broker link is up.
//
// Parameters:
//   - ctx: Context for cancellation
//
// Returns:
//   - error: nil if connected, ErrNotConnected or the context error otherwise
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected returns the last known connection state.
func (c *Client) IsConnected() bool {
	if c == nil || c.client == nil {
		return false
	}
	return c.connected.Load() && c.client.IsConnected()
}

// SetOnConnect sets a callback run after every (re)connect, once the
// command subscription has been restored.
func (c *Client) SetOnConnect(callback func()) {
	c.hooksMu.Lock()
	c.hooks.onConnect = callback
	c.hooksMu.Unlock()
}

// SetOnDisconnect sets a callback run when the broker link drops.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.hooksMu.Lock()
	c.hooks.onDisconnect = callback
	c.hooksMu.Unlock()
}

// SetLogger sets the logger for handler errors, panics and reconnects.
func (c *Client) SetLogger(logger Logger) {
	c.hooksMu.Lock()
	c.hooks.logger = logger
	c.hooksMu.Unlock()
}

func (c *Client) logger() Logger {
	c.hooksMu.RLock()
	defer c.hooksMu.RUnlock()
	return c.hooks.logger
}

func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		logger := c.logger()
		defer func() {
			if r := recover(); r != nil && logger != nil {
				logger.Error("MQTT handler panic recovered", "topic", msg.Topic(), "panic", r)
			}
		}()
		if err := handler(msg.Topic(), msg.Payload()); err != nil && logger != nil {
			logger.Warn("MQTT handler returned error", "topic", msg.Topic(), "error", err)
		}
	}
}
