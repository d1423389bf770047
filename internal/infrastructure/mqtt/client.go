package mqtt

import (
	"context"
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/scanlink/internal/infrastructure/config"
)

// Client wraps paho.mqtt.golang with connection tracking, subscription
// restoration on reconnect and panic-safe handlers.
//
// All methods are safe for concurrent use.
type Client struct {
	client  pahomqtt.Client
	options *pahomqtt.ClientOptions
	cfg     config.MQTTConfig
	topics  Topics

	subscriptions map[string]subscription
	subMu         sync.RWMutex

	connected bool
	connMu    sync.RWMutex

	onConnect    func()
	onDisconnect func(err error)
	callbackMu   sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex
}

// Logger is the subset of logging.Logger the client needs.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// MessageHandler is the callback signature for received messages.
//
// Handlers run on paho's goroutines and should not block. A returned
// error is logged only.
type MessageHandler func(topic string, payload []byte) error

// Connect dials the broker, registers the LWT on the node status topic and
// marks the client online.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	topics := Topics{Node: cfg.Broker.ClientID}
	opts := buildClientOptions(cfg)
	configureLWT(opts, topics, cfg.Broker.ClientID)

	c := &Client{
		cfg:           cfg,
		options:       opts,
		topics:        topics,
		subscriptions: make(map[string]subscription),
	}

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.handleConnect()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleDisconnect(err)
	})

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The OnConnect handler runs asynchronously; set the flag here so
	// IsConnected is true as soon as Connect returns.
	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	return c, nil
}

// Topics returns the topic builder scoped to this client's node.
func (c *Client) Topics() Topics {
	return c.topics
}

func (c *Client) handleConnect() {
	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	c.restoreSubscriptions()
	c.client.Publish(c.topics.Status(), byte(c.cfg.QoS), true, buildOnlinePayload(c.cfg.Broker.ClientID))

	c.callbackMu.RLock()
	callback := c.onConnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback()
	}
}

func (c *Client) handleDisconnect(err error) {
	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	if logger := c.getLogger(); logger != nil {
		logger.Warn("MQTT connection lost", "error", err)
	}

	c.callbackMu.RLock()
	callback := c.onDisconnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

func (c *Client) restoreSubscriptions() {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	for _, sub := range c.subscriptions {
		c.client.Subscribe(sub.topic, sub.qos, c.wrapHandler(sub.handler))
	}
}

// Close publishes a graceful offline status and disconnects.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	if c.IsConnected() {
		token := c.client.Publish(c.topics.Status(), byte(c.cfg.QoS), true, buildOfflinePayload(c.cfg.Broker.ClientID))
		token.WaitTimeout(defaultPublishTimeout)
	}

	c.client.Disconnect(defaultDisconnectQuiesce)

	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	return nil
}

// HealthCheck reports ErrNotConnected while the broker link is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected returns the last known connection state.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.client != nil && c.client.IsConnected()
}

// SetOnConnect sets a callback invoked on initial connect and every reconnect.
func (c *Client) SetOnConnect(callback func()) {
	c.callbackMu.Lock()
	c.onConnect = callback
	c.callbackMu.Unlock()
}

// SetOnDisconnect sets a callback invoked when the connection is lost.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.callbackMu.Lock()
	c.onDisconnect = callback
	c.callbackMu.Unlock()
}

// SetLogger sets a logger for handler errors and panics.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// wrapHandler adapts a MessageHandler to paho, recovering panics.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		c.dispatch(handler, msg.Topic(), msg.Payload())
	}
}

func (c *Client) dispatch(handler MessageHandler, topic string, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Error("MQTT handler panic recovered", "topic", topic, "panic", r)
			}
		}
	}()

	if err := handler(topic, payload); err != nil {
		if logger := c.getLogger(); logger != nil {
			logger.Warn("MQTT handler returned error", "topic", topic, "error", err)
		}
	}
}
