package alert

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/trackwatch/trackwatch/internal/timeutil"
)

// DefaultRTTWindow is how many accepted RTT samples feed the heartbeat summary.
const DefaultRTTWindow = 256

// CorrelatorConfig tunes identity and retention.
type CorrelatorConfig struct {
	TrainID         string
	PrimaryReceiver string
	// TTL bounds the life of every pending record, acknowledged or not.
	TTL time.Duration
	// AckFallback retires a record on any acknowledgement once it is this old,
	// even when the receiver set is incomplete.
	AckFallback time.Duration
	RTTWindow   int
}

// Pending identifies an alert registered for correlation.
type Pending struct {
	MsgID  string
	Seq    uint64
	SentAt time.Time
}

type record struct {
	seq         uint64
	sentAt      time.Time
	firstSentAt time.Time
	acked       map[string]time.Time
}

// AckOutcome classifies an acknowledgement.
type AckOutcome int

const (
	AckAccepted AckOutcome = iota
	AckNotTracked
	AckNegativeRTT
	AckInvalid
)

// DropReason returns the AI_ACK_DROP reason for rejected outcomes.
func (o AckOutcome) DropReason() string {
	switch o {
	case AckNotTracked:
		return "msg_id_not_tracked"
	case AckNegativeRTT:
		return "negative_rtt"
	case AckInvalid:
		return "invalid_ack"
	default:
		return ""
	}
}

// AckResult is the outcome of HandleAck.
type AckResult struct {
	Outcome  AckOutcome
	MsgID    string
	Seq      uint64
	Receiver string
	SentAt   time.Time
	AckedAt  time.Time
	RTT      time.Duration
	// Jitter is |RTT - previous accepted RTT|, valid when HasJitter is set.
	Jitter    time.Duration
	HasJitter bool
	AckedBy   []string
	// Complete reports the primary receiver plus at least one other have acknowledged.
	Complete bool
	// Retired reports the record was removed by this acknowledgement.
	Retired bool
	// Tracked is the number of pending records after handling.
	Tracked int
}

// Correlator owns message identity and the pending-alert table. The perception
// loop registers alerts and the transport callback handles acknowledgements;
// one mutex guards the table, the sequence and the RTT history.
type Correlator struct {
	cfg   CorrelatorConfig
	clock timeutil.Clock

	mu        sync.Mutex
	seq       uint64
	pending   map[string]*record
	lastRTT   time.Duration
	hasRTT    bool
	rttWindow []float64
	rttNext   int
}

// NewCorrelator creates an empty correlator.
func NewCorrelator(cfg CorrelatorConfig, clock timeutil.Clock) *Correlator {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if cfg.RTTWindow <= 0 {
		cfg.RTTWindow = DefaultRTTWindow
	}
	cfg.PrimaryReceiver = NormalizeReceiver(cfg.PrimaryReceiver)
	return &Correlator{
		cfg:     cfg,
		clock:   clock,
		pending: make(map[string]*record),
	}
}

// Register allocates the next identifier for prefix, stamps the send time and
// inserts the pending record. Callers register before publishing so an early
// acknowledgement always finds its record. Expired records are purged.
func (c *Correlator) Register(prefix string) Pending {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	p := Pending{
		MsgID:  fmt.Sprintf("%s_%s_%d", prefix, c.cfg.TrainID, c.seq),
		Seq:    c.seq,
		SentAt: now,
	}
	c.pending[p.MsgID] = &record{
		seq:         p.Seq,
		sentAt:      now,
		firstSentAt: now,
		acked:       make(map[string]time.Time),
	}
	c.purgeLocked(now)
	return p
}

// HandleAck correlates an acknowledgement. It never returns an error: rejected
// acknowledgements are reported through the outcome and leave the table untouched.
func (c *Correlator) HandleAck(ack Ack) AckResult {
	now := c.clock.Now()
	receiver := NormalizeReceiver(ack.Receiver)
	res := AckResult{MsgID: ack.MsgID, Receiver: receiver, AckedAt: now}

	if ack.MsgID == "" || receiver == "" {
		res.Outcome = AckInvalid
		return res
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.pending[ack.MsgID]
	if !ok {
		res.Outcome = AckNotTracked
		res.Tracked = len(c.pending)
		return res
	}

	res.Seq = rec.seq
	res.SentAt = rec.sentAt
	// time.Time subtraction uses the monotonic reading when both carry one.
	res.RTT = now.Sub(rec.sentAt)
	if res.RTT < 0 {
		res.Outcome = AckNegativeRTT
		res.Tracked = len(c.pending)
		return res
	}

	if c.hasRTT {
		res.Jitter = absDuration(res.RTT - c.lastRTT)
		res.HasJitter = true
	}
	c.lastRTT = res.RTT
	c.hasRTT = true
	c.recordRTTLocked(res.RTT)

	rec.acked[receiver] = now
	res.AckedBy = sortedReceivers(rec.acked)
	res.Complete = c.completeLocked(rec)

	if res.Complete || now.Sub(rec.firstSentAt) > c.cfg.AckFallback {
		delete(c.pending, ack.MsgID)
		res.Retired = true
	}
	res.Tracked = len(c.pending)
	return res
}

// PrimaryReceiver returns the normalized name of the receiver whose ack is
// required for completion.
func (c *Correlator) PrimaryReceiver() string {
	return c.cfg.PrimaryReceiver
}

// Purge removes records older than the TTL and returns how many were removed.
func (c *Correlator) Purge() int {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.purgeLocked(now)
}

// PendingCount returns the number of records awaiting acknowledgement.
func (c *Correlator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// IsPending reports whether msgID is still tracked.
func (c *Correlator) IsPending(msgID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[msgID]
	return ok
}

// RecentRTTs returns the accepted RTT samples in the window, in milliseconds, oldest first.
func (c *Correlator) RecentRTTs() []float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.rttWindow) < c.cfg.RTTWindow {
		return slices.Clone(c.rttWindow)
	}
	out := make([]float64, 0, len(c.rttWindow))
	out = append(out, c.rttWindow[c.rttNext:]...)
	return append(out, c.rttWindow[:c.rttNext]...)
}

func (c *Correlator) completeLocked(rec *record) bool {
	if _, ok := rec.acked[c.cfg.PrimaryReceiver]; !ok {
		return false
	}
	for name := range rec.acked {
		if name != c.cfg.PrimaryReceiver {
			return true
		}
	}
	return false
}

func (c *Correlator) purgeLocked(now time.Time) int {
	removed := 0
	for id, rec := range c.pending {
		if now.Sub(rec.sentAt) > c.cfg.TTL {
			delete(c.pending, id)
			removed++
		}
	}
	return removed
}

func (c *Correlator) recordRTTLocked(rtt time.Duration) {
	ms := float64(rtt) / float64(time.Millisecond)
	if len(c.rttWindow) < c.cfg.RTTWindow {
		c.rttWindow = append(c.rttWindow, ms)
		return
	}
	c.rttWindow[c.rttNext] = ms
	c.rttNext = (c.rttNext + 1) % c.cfg.RTTWindow
}

func sortedReceivers(acked map[string]time.Time) []string {
	out := make([]string, 0, len(acked))
	for name := range acked {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
