package mqtt

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trackwatch/trackwatch/internal/events"
)

func TestNewTopics(t *testing.T) {
	t.Parallel()

	topics := NewTopics("T1", "RBC")
	assert.Equal(t, "obu/T1/cmd", topics.Command)
	assert.Equal(t, "obu/T1/status", topics.Status)
	assert.Equal(t, "obu/T1/debug", topics.Debug)
	assert.Equal(t, "obu/T1/qos", topics.QoS)
	assert.Equal(t, "obu/RBC/ai/alert", topics.AlertDest)
	assert.Equal(t, "obu/ai/alert", topics.AlertBroadcast)
	assert.Equal(t, "obu/ai/ack", topics.Ack)
}

func TestEventPublisherRoutes(t *testing.T) {
	t.Parallel()

	ctrl := NewRecorder(PlaneControl)
	alertPlane := NewRecorder(PlaneAlert)
	topics := NewTopics("T1", "RBC")
	p := NewEventPublisher(ctrl, alertPlane, topics, time.Second)

	assert.True(t, p.Accepts(events.KindDebug))
	assert.True(t, p.Accepts(events.KindRTT))
	assert.False(t, p.Accepts(events.KindAlertSent))

	require.NoError(t, p.ProcessEvent(events.Event{
		Kind:    events.KindDebug,
		Type:    "ROI_FILTER",
		Payload: map[string]any{"type": "ROI_FILTER", "frame_id": 3},
	}))
	require.NoError(t, p.ProcessEvent(events.Event{
		Kind:    events.KindRTT,
		Type:    "AI_RTT",
		Payload: map[string]any{"type": "AI_RTT", "msg_id": "AI_T1_7"},
	}))

	debug := ctrl.MessagesOn(topics.Debug)
	require.Len(t, debug, 1)
	assert.Equal(t, QoSAtMostOnce, debug[0].QoS)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(debug[0].Payload, &decoded))
	assert.Equal(t, "ROI_FILTER", decoded["type"])

	require.Len(t, ctrl.MessagesOn(topics.QoS), 1)
	rtt := alertPlane.MessagesOn(topics.QoS)
	require.Len(t, rtt, 1)
	assert.Equal(t, QoSAtLeastOnce, rtt[0].QoS)
	assert.Empty(t, alertPlane.MessagesOn(topics.Debug))
}

func TestEventPublisherPartialFailure(t *testing.T) {
	t.Parallel()

	ctrl := NewRecorder(PlaneControl)
	alertPlane := NewRecorder(PlaneAlert)
	alertPlane.FailPublish(errors.New("broker gone"))
	topics := NewTopics("T1", "RBC")
	p := NewEventPublisher(ctrl, alertPlane, topics, time.Second)

	err := p.ProcessEvent(events.Event{Kind: events.KindRTT, Type: "AI_RTT", Payload: map[string]any{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker gone")
	assert.Len(t, ctrl.MessagesOn(topics.QoS), 1, "control plane still receives the report")
}

func TestEventPublisherWithoutAlertPlane(t *testing.T) {
	t.Parallel()

	ctrl := NewRecorder(PlaneControl)
	topics := NewTopics("T1", "RBC")
	p := NewEventPublisher(ctrl, nil, topics, 0)

	require.NoError(t, p.ProcessEvent(events.Event{Kind: events.KindRTT, Payload: map[string]any{}}))
	assert.Len(t, ctrl.Messages(), 1)
}

func TestRecorderDeliver(t *testing.T) {
	t.Parallel()

	r := NewRecorder(PlaneControl)
	var got []byte
	require.NoError(t, r.Subscribe("obu/T1/cmd", QoSAtLeastOnce, func(_ string, payload []byte) {
		got = payload
	}))

	assert.True(t, r.Deliver("obu/T1/cmd", []byte(`{"cmd":"PING"}`)))
	assert.JSONEq(t, `{"cmd":"PING"}`, string(got))
	assert.False(t, r.Deliver("obu/T2/cmd", nil))

	r.Disconnect()
	assert.ErrorIs(t, r.Publish(t.Context(), "x", nil, 0), ErrNotConnected)
}
