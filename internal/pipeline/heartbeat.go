package pipeline

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/trackwatch/trackwatch/internal/alert"
	"github.com/trackwatch/trackwatch/internal/diagnostics"
	"github.com/trackwatch/trackwatch/internal/events"
	"github.com/trackwatch/trackwatch/internal/logger"
	"github.com/trackwatch/trackwatch/internal/observability/metrics"
	"github.com/trackwatch/trackwatch/internal/timeutil"
)

// HostStats samples host utilization.
type HostStats interface {
	CPUPercent() (float64, error)
	MemPercent() (float64, error)
}

// SystemStats reads host utilization through gopsutil.
type SystemStats struct{}

// CPUPercent returns overall CPU usage since the previous call.
func (SystemStats) CPUPercent() (float64, error) {
	v, err := cpu.Percent(0, false)
	if err != nil || len(v) == 0 {
		return 0, err
	}
	return v[0], nil
}

// MemPercent returns used virtual memory.
func (SystemStats) MemPercent() (float64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent, nil
}

// HeartbeatConfig configures the periodic report.
type HeartbeatConfig struct {
	Interval time.Duration
	Service  string
	RunID    string
}

// Heartbeat publishes HEARTBEAT reports and purges expired pending alerts.
type Heartbeat struct {
	cfg        HeartbeatConfig
	correlator *alert.Correlator
	frames     func() uint64
	sink       diagnostics.Sink
	host       HostStats
	metrics    *metrics.CorrelatorMetrics
	clock      timeutil.Clock
	log        logger.Logger

	lastFrames uint64
	lastBeat   time.Time
}

// NewHeartbeat creates a heartbeat. frames reports the processed frame count.
func NewHeartbeat(cfg HeartbeatConfig, c *alert.Correlator, frames func() uint64, sink diagnostics.Sink, host HostStats, m *metrics.CorrelatorMetrics, clock timeutil.Clock) *Heartbeat {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if host == nil {
		host = SystemStats{}
	}
	if cfg.Service == "" {
		cfg.Service = ServiceCamera
	}
	return &Heartbeat{
		cfg:        cfg,
		correlator: c,
		frames:     frames,
		sink:       sink,
		host:       host,
		metrics:    m,
		clock:      clock,
		log:        GetLogger().Module("heartbeat"),
		lastBeat:   clock.Now(),
	}
}

// Run beats every interval until ctx is done.
func (h *Heartbeat) Run(ctx context.Context) error {
	if h.cfg.Interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			h.Beat()
		}
	}
}

// Beat purges the correlator and publishes one report.
func (h *Heartbeat) Beat() alert.Heartbeat {
	now := h.clock.Now()

	if purged := h.correlator.Purge(); purged > 0 {
		h.metrics.AddPurged(purged)
		h.log.Debug("expired pending alerts purged", logger.Int("count", purged))
	}
	pending := h.correlator.PendingCount()
	h.metrics.SetPending(pending)

	frames := h.frames()
	var fps float64
	if elapsed := now.Sub(h.lastBeat).Seconds(); elapsed > 0 {
		fps = float64(frames-h.lastFrames) / elapsed
	}
	h.lastFrames = frames
	h.lastBeat = now

	cpuPct, err := h.host.CPUPercent()
	if err != nil {
		h.log.Debug("cpu usage unavailable", logger.Error(err))
	}
	memPct, err := h.host.MemPercent()
	if err != nil {
		h.log.Debug("memory usage unavailable", logger.Error(err))
	}

	hb := alert.Heartbeat{
		Type:          alert.TypeHeartbeat,
		Service:       h.cfg.Service,
		RunID:         h.cfg.RunID,
		TS:            alert.FormatTS(now),
		Frames:        frames,
		FPS:           round(fps, 2),
		PendingAlerts: pending,
		CPUPercent:    round(cpuPct, 1),
		MemPercent:    round(memPct, 1),
		RTT:           alert.SummarizeRTT(h.correlator.RecentRTTs()),
	}
	if !h.sink.TryPublish(events.Event{Kind: events.KindHeartbeat, Type: alert.TypeHeartbeat, Payload: hb, Timestamp: now}) {
		h.log.Debug("heartbeat dropped")
	}
	return hb
}
