// Package mqtt provides the publish/subscribe transport for the three broker
// planes (control, video, alert).
package mqtt

import (
	"context"
	"time"

	"github.com/trackwatch/trackwatch/internal/errors"
	"github.com/trackwatch/trackwatch/internal/logger"
)

// Plane names.
const (
	PlaneControl = "ctrl"
	PlaneVideo   = "video"
	PlaneAlert   = "alert"
)

// QoS levels.
const (
	QoSAtMostOnce  byte = 0
	QoSAtLeastOnce byte = 1
	QoSExactlyOnce byte = 2
)

// ErrNotConnected is returned by Publish when the plane has no live session.
var ErrNotConnected = errors.NewStd("not connected to MQTT broker")

// MessageHandler receives inbound messages. It runs on the client's network
// goroutine and must not block.
type MessageHandler func(topic string, payload []byte)

// Client defines the interface for MQTT client operations.
type Client interface {
	// Connect attempts to connect to the MQTT broker.
	// It returns an error if the connection fails.
	Connect(ctx context.Context) error

	// Publish sends payload to topic at the given QoS and waits for the
	// broker handshake to complete or ctx to end.
	Publish(ctx context.Context, topic string, payload []byte, qos byte) error

	// Subscribe registers handler for topic. Subscriptions survive reconnects.
	Subscribe(topic string, qos byte, handler MessageHandler) error

	// IsConnected returns true if the client is currently connected to the MQTT broker.
	IsConnected() bool

	// Disconnect closes the connection to the MQTT broker.
	Disconnect()

	// Plane returns the plane name the client serves.
	Plane() string
}

// Config holds the configuration for one plane's MQTT client.
type Config struct {
	Plane             string
	Broker            string // tcp://host:port
	ClientID          string
	Username          string
	Password          string
	ReconnectCooldown time.Duration
	MaxReconnectDelay time.Duration
	// Connection timeouts
	ConnectTimeout    time.Duration
	PublishTimeout    time.Duration
	DisconnectTimeout time.Duration
}

// DefaultConfig returns a Config with reasonable default values
func DefaultConfig() Config {
	return Config{
		ReconnectCooldown: 5 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		ConnectTimeout:    10 * time.Second,
		PublishTimeout:    5 * time.Second,
		DisconnectTimeout: 250 * time.Millisecond,
	}
}

// GetLogger returns the mqtt package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("mqtt")
}
