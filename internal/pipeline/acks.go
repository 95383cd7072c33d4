package pipeline

import (
	"github.com/trackwatch/trackwatch/internal/alert"
	"github.com/trackwatch/trackwatch/internal/diagnostics"
	"github.com/trackwatch/trackwatch/internal/events"
	"github.com/trackwatch/trackwatch/internal/logger"
	"github.com/trackwatch/trackwatch/internal/observability/metrics"
	"github.com/trackwatch/trackwatch/internal/timeutil"
)

const (
	ackOutcomeAccepted = "accepted"
	// otherReceiverLabel stands in for every receiver except the primary in
	// metric labels; receiver names come from the network.
	otherReceiverLabel = "other"
)

// AckHandler correlates inbound AI_ACK messages. It runs on transport
// callback goroutines and touches only the correlator, which is locked, and
// the non-blocking event sink.
type AckHandler struct {
	correlator *alert.Correlator
	debug      *diagnostics.Publisher
	sink       diagnostics.Sink
	env        alert.Envelope
	metrics    *metrics.CorrelatorMetrics
	clock      timeutil.Clock
	log        logger.Logger
}

// NewAckHandler creates a handler. debug and m may be nil.
func NewAckHandler(c *alert.Correlator, debug *diagnostics.Publisher, sink diagnostics.Sink, env alert.Envelope, m *metrics.CorrelatorMetrics, clock timeutil.Clock) *AckHandler {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &AckHandler{
		correlator: c,
		debug:      debug,
		sink:       sink,
		env:        env,
		metrics:    m,
		clock:      clock,
		log:        GetLogger().Module("acks"),
	}
}

// HandleMessage is the subscription handler for the ack topic on every plane.
// It reports whether the acknowledgement was accepted.
func (h *AckHandler) HandleMessage(topic string, payload []byte) bool {
	ack, err := alert.ParseAck(payload)
	if err != nil {
		h.log.Debug("invalid acknowledgement", logger.String("topic", topic), logger.Error(err))
		h.metrics.ObserveAck(alert.AckInvalid.DropReason(), "", 0, false)
		h.debug.Emit(diagnostics.EventAckDrop, diagnostics.Fields{
			"reason":        alert.AckInvalid.DropReason(),
			"topic":         topic,
			"error":         err.Error(),
			"t_ack_recv_ms": h.clock.Now().UnixMilli(),
			"tracked_count": h.correlator.PendingCount(),
		})
		return false
	}

	res := h.correlator.HandleAck(ack)
	h.metrics.SetPending(res.Tracked)

	if res.Outcome != alert.AckAccepted {
		reason := res.Outcome.DropReason()
		h.metrics.ObserveAck(reason, h.receiverLabel(res.Receiver), 0, false)
		h.log.Debug("acknowledgement dropped",
			logger.String("reason", reason),
			logger.String("msg_id", res.MsgID),
			logger.String("receiver", res.Receiver))
		h.debug.Emit(diagnostics.EventAckDrop, diagnostics.Fields{
			"reason":        reason,
			"msg_id":        res.MsgID,
			"ack_from":      res.Receiver,
			"t_ack_recv_ms": res.AckedAt.UnixMilli(),
			"tracked_count": res.Tracked,
		})
		return false
	}

	h.metrics.ObserveAck(ackOutcomeAccepted, h.receiverLabel(res.Receiver), res.RTT, true)
	report := alert.NewRTTReport(h.env, res)
	h.log.Debug("acknowledgement accepted",
		logger.String("msg_id", res.MsgID),
		logger.String("receiver", res.Receiver),
		logger.Duration("rtt", res.RTT),
		logger.Bool("complete", res.Complete),
		logger.Bool("retired", res.Retired))
	h.sink.TryPublish(events.Event{
		Kind:      events.KindRTT,
		Type:      alert.TypeRTT,
		Payload:   report,
		Timestamp: res.AckedAt,
	})
	return true
}

func (h *AckHandler) receiverLabel(receiver string) string {
	if receiver == h.correlator.PrimaryReceiver() {
		return receiver
	}
	return otherReceiverLabel
}

// Handler adapts HandleMessage to a subscription callback.
func (h *AckHandler) Handler() func(topic string, payload []byte) {
	return func(topic string, payload []byte) {
		h.HandleMessage(topic, payload)
	}
}
