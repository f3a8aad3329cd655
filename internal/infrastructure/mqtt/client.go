package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/mosys-billing/tvfleet/internal/infrastructure/config"
)

// Logger defines the logging interface for the MQTT client.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MessageHandler handles one received message. Handlers run on paho's
// delivery goroutine and should hand long work off. A returned error is
// logged.
type MessageHandler func(topic string, payload []byte) error

type subscription struct {
	qos     byte
	handler MessageHandler
}

// Client publishes fleet events and receives remote commands over MQTT.
//
// It is safe for concurrent use. Subscriptions survive reconnects: the
// on-connect hook replays them.
type Client struct {
	paho pahomqtt.Client
	cfg  config.MQTTConfig

	connected  atomic.Bool
	reconnects atomic.Int64

	mu           sync.RWMutex
	subs         map[string]subscription
	logger       Logger
	lastErr      error
	onConnect    func()
	onDisconnect func(err error)
}

// newClient builds a client without dialling.
func newClient(cfg config.MQTTConfig) *Client {
	c := &Client{
		cfg:    cfg,
		subs:   make(map[string]subscription),
		logger: noopLogger{},
	}

	opts := clientOptions(cfg)
	setWill(opts, cfg.Broker.ClientID)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.connectionUp() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.connectionDown(err) })

	c.paho = pahomqtt.NewClient(opts)
	return c
}

// Connect dials the broker and waits for the first connection. The last
// will marks the fleet offline on tvfleet/system/status if the process
// dies without Close.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := newClient(cfg)

	token := c.paho.Connect()
	if !token.WaitTimeout(connectTimeout) {
		// Stop the background connect retries.
		c.paho.Disconnect(0)
		return nil, fmt.Errorf("%w: no answer from %s:%d within %v",
			ErrConnectionFailed, cfg.Broker.Host, cfg.Broker.Port, connectTimeout)
	}
	if err := token.Error(); err != nil {
		c.paho.Disconnect(0)
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// connectionUp may not have run yet.
	c.connected.Store(true)
	return c, nil
}

// connectionUp replays subscriptions and announces the fleet online.
func (c *Client) connectionUp() {
	c.connected.Store(true)
	n := c.reconnects.Add(1)

	c.mu.RLock()
	subs := make(map[string]subscription, len(c.subs))
	for topic, sub := range c.subs {
		subs[topic] = sub
	}
	hook := c.onConnect
	logger := c.logger
	c.mu.RUnlock()

	for topic, sub := range subs {
		c.paho.Subscribe(topic, sub.qos, c.wrapHandler(sub.handler))
	}
	c.paho.Publish(Topics{}.SystemStatus(), byte(c.cfg.QoS), true, presencePayload(presenceOnline, c.cfg.Broker.ClientID, ""))

	logger.Info("MQTT connection up", "connects", n, "subscriptions", len(subs))
	if hook != nil {
		hook()
	}
}

func (c *Client) connectionDown(err error) {
	c.connected.Store(false)

	c.mu.Lock()
	c.lastErr = err
	hook := c.onDisconnect
	logger := c.logger
	c.mu.Unlock()

	logger.Warn("MQTT connection lost", "error", err)
	if hook != nil {
		hook(err)
	}
}

// Close announces a graceful offline status and disconnects.
func (c *Client) Close() error {
	if c == nil || c.paho == nil {
		return nil
	}

	if c.IsConnected() {
		c.paho.Publish(Topics{}.SystemStatus(), byte(c.cfg.QoS), true, presencePayload(presenceOffline, c.cfg.Broker.ClientID, reasonGraceful)).
			WaitTimeout(ackTimeout)
	}
	c.paho.Disconnect(quiesceMS)
	c.connected.Store(false)
	return nil
}

// HealthCheck returns ErrNotConnected, with the last disconnect reason,
// while the broker link is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if c.IsConnected() {
		return nil
	}

	c.mu.RLock()
	lastErr := c.lastErr
	c.mu.RUnlock()
	if lastErr != nil {
		return fmt.Errorf("%w: %v", ErrNotConnected, lastErr)
	}
	return ErrNotConnected
}

// IsConnected reports whether the broker link is up.
func (c *Client) IsConnected() bool {
	if c == nil || c.paho == nil {
		return false
	}
	return c.connected.Load() && c.paho.IsConnected()
}

// SetOnConnect sets a hook run after every (re)connect.
func (c *Client) SetOnConnect(hook func()) {
	c.mu.Lock()
	c.onConnect = hook
	c.mu.Unlock()
}

// SetOnDisconnect sets a hook run when the link drops.
func (c *Client) SetOnDisconnect(hook func(err error)) {
	c.mu.Lock()
	c.onDisconnect = hook
	c.mu.Unlock()
}

// SetLogger sets the logger for connection changes and handler failures.
func (c *Client) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

func (c *Client) log() Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.logger
}

// wrapHandler adapts a MessageHandler to paho, logging errors and
// containing panics so one bad message can't kill the delivery goroutine.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		topic := msg.Topic()
		defer func() {
			if r := recover(); r != nil {
				c.log().Error("MQTT handler panicked", "topic", topic, "panic", r)
			}
		}()

		if err := handler(topic, msg.Payload()); err != nil {
			c.log().Warn("MQTT message rejected", "topic", topic, "error", err)
		}
	}
}
