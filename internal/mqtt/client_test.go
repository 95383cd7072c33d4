package mqtt

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/trackwatch/trackwatch/internal/errors"
)

func TestNewClientRequiresBroker(t *testing.T) {
	t.Parallel()

	_, err := NewClient(Config{Plane: PlaneControl}, nil)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestPublishWhileDisconnected(t *testing.T) {
	t.Parallel()

	c, err := NewClient(Config{Plane: PlaneVideo, Broker: "tcp://127.0.0.1:1"}, nil)
	require.NoError(t, err)
	assert.False(t, c.IsConnected())
	assert.ErrorIs(t, c.Publish(t.Context(), "obu/cam/jpeg", []byte{1}, QoSAtMostOnce), ErrNotConnected)
	assert.NotPanics(t, c.Disconnect)
}

func TestConnectInvalidBrokerURL(t *testing.T) {
	t.Parallel()

	c, err := NewClient(Config{Plane: PlaneAlert, Broker: "tcp://%zz"}, nil)
	require.NoError(t, err)

	err = c.Connect(t.Context())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryMQTTConnection))
}

func TestConnectCooldown(t *testing.T) {
	t.Parallel()

	c, err := NewClient(Config{Plane: PlaneAlert, Broker: "tcp://127.0.0.1:1", ConnectTimeout: 500 * time.Millisecond}, nil)
	require.NoError(t, err)

	require.Error(t, c.Connect(t.Context()))
	err = c.Connect(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too recent")
}

// startMosquitto runs an anonymous Mosquitto broker and returns its tcp URL.
func startMosquitto(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping broker integration test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := t.Context()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "eclipse-mosquitto:2.0",
			ExposedPorts: []string{"1883/tcp"},
			Cmd:          []string{"mosquitto", "-c", "/mosquitto-no-auth.conf"},
			WaitingFor:   wait.ForListeningPort("1883/tcp").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("docker unavailable: %v", err)
	}
	t.Cleanup(func() {
		_ = testcontainers.TerminateContainer(container)
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "1883/tcp")
	require.NoError(t, err)
	return "tcp://" + host + ":" + port.Port()
}

func TestClientRoundTripWithBroker(t *testing.T) {
	broker := startMosquitto(t)

	ctx, cancel := context.WithTimeout(t.Context(), 30*time.Second)
	defer cancel()

	sub, err := NewClient(Config{Plane: PlaneControl, Broker: broker, ClientID: "trackwatch-sub"}, nil)
	require.NoError(t, err)
	pub, err := NewClient(Config{Plane: PlaneAlert, Broker: broker, ClientID: "trackwatch-pub"}, nil)
	require.NoError(t, err)

	require.NoError(t, sub.Connect(ctx))
	defer sub.Disconnect()
	require.NoError(t, pub.Connect(ctx))
	defer pub.Disconnect()

	received := make(chan []byte, 1)
	require.NoError(t, sub.Subscribe("obu/ai/ack", QoSAtLeastOnce, func(_ string, payload []byte) {
		select {
		case received <- payload:
		default:
		}
	}))

	payload := []byte(`{"type":"AI_ACK","msg_id":"AI_T1_1","receiver":"RBC"}`)
	require.NoError(t, pub.Publish(ctx, "obu/ai/ack", payload, QoSAtLeastOnce))

	select {
	case got := <-received:
		assert.JSONEq(t, string(payload), string(got))
	case <-ctx.Done():
		t.Fatal("message not received")
	}
}
