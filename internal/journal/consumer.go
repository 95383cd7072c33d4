package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/trackwatch/trackwatch/internal/alert"
	"github.com/trackwatch/trackwatch/internal/events"
)

const writeTimeout = 2 * time.Second

// Consumer feeds the journal from the event bus.
type Consumer struct {
	journal *Journal
	runID   string
}

// NewConsumer creates a bus consumer writing rows tagged with runID.
func NewConsumer(j *Journal, runID string) *Consumer {
	return &Consumer{journal: j, runID: runID}
}

// Name implements events.EventConsumer.
func (c *Consumer) Name() string {
	return "journal"
}

// Accepts implements events.EventConsumer.
func (c *Consumer) Accepts(k events.Kind) bool {
	return k == events.KindAlertSent || k == events.KindRTT
}

// ProcessEvent implements events.EventConsumer.
func (c *Consumer) ProcessEvent(event events.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	switch p := event.Payload.(type) {
	case alert.HazardAlert:
		d := p.DistanceM
		return c.journal.RecordAlert(ctx, &AlertRecord{
			RunID:          c.runID,
			MsgID:          p.MsgID,
			Seq:            p.Seq,
			Category:       p.Category,
			Label:          p.Label,
			FrameID:        p.FrameID,
			DistanceM:      &d,
			DistanceBucket: p.DistanceBucket,
			ROIMode:        p.ROIMode,
			SentAt:         time.UnixMilli(p.TSendMs).UTC(),
		})
	case alert.TrackAlert:
		return c.journal.RecordAlert(ctx, &AlertRecord{
			RunID:    c.runID,
			MsgID:    p.MsgID,
			Seq:      p.Seq,
			Category: p.Category,
			Label:    p.Label,
			FrameID:  p.FrameID,
			ROIMode:  p.ROIMode,
			SentAt:   time.UnixMilli(p.TSendMs).UTC(),
		})
	case alert.RTTReport:
		return c.journal.RecordRTT(ctx, &RTTRecord{
			RunID:    c.runID,
			MsgID:    p.MsgID,
			Receiver: p.AckFrom,
			RTTMs:    p.RTTMs,
			JitterMs: p.JitterMs,
			Complete: p.Complete,
			AckedAt:  time.UnixMilli(p.TAckRxMs).UTC(),
		})
	default:
		return fmt.Errorf("journal: unexpected payload %T for %s", event.Payload, event.Type)
	}
}
