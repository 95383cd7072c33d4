package mqtt

import (
	"context"
	"fmt"
	"maps"
	"net"
	"net/url"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/trackwatch/trackwatch/internal/errors"
	"github.com/trackwatch/trackwatch/internal/logger"
	"github.com/trackwatch/trackwatch/internal/observability/metrics"
)

type subscription struct {
	qos     byte
	handler MessageHandler
}

// client implements the Client interface on top of paho.
type client struct {
	config          Config
	internalClient  paho.Client
	lastConnAttempt time.Time
	mu              sync.Mutex
	subsMu          sync.RWMutex
	subs            map[string]subscription
	metrics         *metrics.MQTTMetrics
	log             logger.Logger
}

// NewClient creates a new MQTT client for one plane. m may be nil.
func NewClient(cfg Config, m *metrics.MQTTMetrics) (Client, error) {
	if cfg.Broker == "" {
		return nil, errors.Newf("broker URL is empty").
			Component("mqtt").
			Category(errors.CategoryConfiguration).
			Context("plane", cfg.Plane).
			Build()
	}
	def := DefaultConfig()
	if cfg.ReconnectCooldown <= 0 {
		cfg.ReconnectCooldown = def.ReconnectCooldown
	}
	if cfg.MaxReconnectDelay <= 0 {
		cfg.MaxReconnectDelay = def.MaxReconnectDelay
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = def.PublishTimeout
	}
	if cfg.DisconnectTimeout <= 0 {
		cfg.DisconnectTimeout = def.DisconnectTimeout
	}
	return &client{
		config:  cfg,
		subs:    make(map[string]subscription),
		metrics: m,
		log:     GetLogger().With(logger.String("plane", cfg.Plane)),
	}, nil
}

// Plane returns the plane name the client serves.
func (c *client) Plane() string {
	return c.config.Plane
}

// Connect attempts to establish a connection to the MQTT broker.
// It first resolves the broker's hostname and then attempts to connect.
// Once connected, paho keeps the session alive and reconnects on loss.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if since := time.Since(c.lastConnAttempt); since < c.config.ReconnectCooldown {
		return fmt.Errorf("connection attempt too recent, last attempt was %v ago", since)
	}
	c.lastConnAttempt = time.Now()

	u, err := url.Parse(c.config.Broker)
	if err != nil {
		return c.connectError(fmt.Errorf("invalid broker URL: %w", err))
	}

	host := u.Hostname()
	if net.ParseIP(host) == nil {
		if _, err := net.DefaultResolver.LookupHost(ctx, host); err != nil {
			return c.connectError(fmt.Errorf("failed to resolve hostname %s: %w", host, err))
		}
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(c.config.Broker)
	opts.SetClientID(c.config.ClientID)
	opts.SetUsername(c.config.Username)
	opts.SetPassword(c.config.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(c.config.MaxReconnectDelay)
	opts.SetConnectTimeout(c.config.ConnectTimeout)
	// Handlers must not be serialized behind a slow consumer.
	opts.SetOrderMatters(false)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetReconnectingHandler(c.onReconnecting)

	c.internalClient = paho.NewClient(opts)

	token := c.internalClient.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return c.connectError(ctx.Err())
	case <-time.After(c.config.ConnectTimeout):
		return c.connectError(fmt.Errorf("connection timeout"))
	}
	if err := token.Error(); err != nil {
		return c.connectError(fmt.Errorf("connection error: %w", err))
	}

	c.metrics.UpdateConnectionStatus(c.config.Plane, true)
	return nil
}

func (c *client) connectError(err error) error {
	c.metrics.IncrementErrors(c.config.Plane, "connect")
	return errors.New(err).
		Component("mqtt").
		Category(errors.CategoryMQTTConnection).
		Context("plane", c.config.Plane).
		Context("broker", c.config.Broker).
		Build()
}

// Publish sends a message to the specified topic on the MQTT broker.
func (c *client) Publish(ctx context.Context, topic string, payload []byte, qos byte) error {
	if !c.IsConnected() {
		c.metrics.IncrementErrors(c.config.Plane, "publish")
		return ErrNotConnected
	}

	start := time.Now()
	token := c.internalClient.Publish(topic, qos, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		c.metrics.IncrementErrors(c.config.Plane, "publish")
		return ctx.Err()
	case <-time.After(c.config.PublishTimeout):
		c.metrics.IncrementErrors(c.config.Plane, "publish")
		return fmt.Errorf("publish timeout on %s", topic)
	}
	if err := token.Error(); err != nil {
		c.metrics.IncrementErrors(c.config.Plane, "publish")
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryMQTTPublish).
			Context("plane", c.config.Plane).
			Context("topic", topic).
			Build()
	}

	c.metrics.ObservePublishLatency(c.config.Plane, time.Since(start))
	c.metrics.IncrementMessagesDelivered(c.config.Plane, len(payload))
	return nil
}

// Subscribe registers handler for topic and subscribes immediately when
// connected; otherwise the subscription is made on the next connect.
func (c *client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	c.subsMu.Lock()
	c.subs[topic] = subscription{qos: qos, handler: handler}
	c.subsMu.Unlock()

	if !c.IsConnected() {
		return nil
	}
	return c.subscribe(c.internalClient, topic, subscription{qos: qos, handler: handler})
}

func (c *client) subscribe(pc paho.Client, topic string, sub subscription) error {
	token := pc.Subscribe(topic, sub.qos, func(_ paho.Client, msg paho.Message) {
		c.metrics.IncrementMessagesReceived(c.config.Plane, msg.Topic())
		sub.handler(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(c.config.ConnectTimeout) {
		c.metrics.IncrementErrors(c.config.Plane, "subscribe")
		return fmt.Errorf("subscribe timeout on %s", topic)
	}
	if err := token.Error(); err != nil {
		c.metrics.IncrementErrors(c.config.Plane, "subscribe")
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryMQTTSubscribe).
			Context("plane", c.config.Plane).
			Context("topic", topic).
			Build()
	}
	return nil
}

// IsConnected returns true if the client is currently connected to the MQTT broker.
func (c *client) IsConnected() bool {
	c.mu.Lock()
	pc := c.internalClient
	c.mu.Unlock()
	return pc != nil && pc.IsConnected()
}

// Disconnect closes the connection to the MQTT broker.
func (c *client) Disconnect() {
	c.mu.Lock()
	pc := c.internalClient
	c.mu.Unlock()
	if pc == nil {
		return
	}
	pc.Disconnect(uint(c.config.DisconnectTimeout.Milliseconds()))
	c.metrics.UpdateConnectionStatus(c.config.Plane, false)
}

// onConnect restores subscriptions; the session is clean on every connect.
func (c *client) onConnect(pc paho.Client) {
	c.log.Info("connected to MQTT broker", logger.String("broker", c.config.Broker))
	c.metrics.UpdateConnectionStatus(c.config.Plane, true)

	c.subsMu.RLock()
	subs := maps.Clone(c.subs)
	c.subsMu.RUnlock()

	// paho calls this handler on its own goroutine, so waiting here is safe.
	for topic, sub := range subs {
		if err := c.subscribe(pc, topic, sub); err != nil {
			c.log.Error("failed to restore subscription",
				logger.String("topic", topic),
				logger.Error(err))
		}
	}
}

func (c *client) onConnectionLost(_ paho.Client, err error) {
	c.log.Warn("connection to MQTT broker lost",
		logger.String("broker", c.config.Broker),
		logger.Error(err))
	c.metrics.UpdateConnectionStatus(c.config.Plane, false)
	c.metrics.IncrementErrors(c.config.Plane, "connection_lost")
}

func (c *client) onReconnecting(_ paho.Client, _ *paho.ClientOptions) {
	c.log.Debug("reconnecting to MQTT broker")
	c.metrics.IncrementReconnectAttempts(c.config.Plane)
}
