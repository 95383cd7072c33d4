// Package pipeline runs the per-frame perception loop and the control-plane
// handlers that share state with it.
package pipeline

import (
	"context"
	"encoding/json"
	"image"
	"io"
	"math"
	"sync/atomic"
	"time"

	"github.com/trackwatch/trackwatch/internal/alert"
	"github.com/trackwatch/trackwatch/internal/anomaly"
	"github.com/trackwatch/trackwatch/internal/capture"
	"github.com/trackwatch/trackwatch/internal/dataset"
	"github.com/trackwatch/trackwatch/internal/detection"
	"github.com/trackwatch/trackwatch/internal/diagnostics"
	"github.com/trackwatch/trackwatch/internal/distance"
	"github.com/trackwatch/trackwatch/internal/errors"
	"github.com/trackwatch/trackwatch/internal/events"
	"github.com/trackwatch/trackwatch/internal/incursion"
	"github.com/trackwatch/trackwatch/internal/inference"
	"github.com/trackwatch/trackwatch/internal/logger"
	"github.com/trackwatch/trackwatch/internal/mqtt"
	"github.com/trackwatch/trackwatch/internal/observability/metrics"
	"github.com/trackwatch/trackwatch/internal/roi"
	"github.com/trackwatch/trackwatch/internal/timeutil"
)

// ServiceCamera is the service name on camera STATUS messages.
const ServiceCamera = "camera"

// Camera lifecycle states.
const (
	StateStarting = "starting"
	StateActive   = "active"
	StateStopped  = "stopped"
)

// maxCaptureFailures consecutive failed reads stop the loop.
const maxCaptureFailures = 50

// Suppression reasons beyond the distance gate decisions.
const (
	suppressedLowConfidence = "low_confidence"
	suppressedCooldown      = "cooldown"
)

// GetLogger returns the pipeline package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("pipeline")
}

// Encoder produces the video plane JPEG for a frame.
type Encoder interface {
	Encode(img image.Image) ([]byte, error)
}

// Config holds the loop parameters.
type Config struct {
	RunID           string
	FrameInterval   time.Duration
	AlertConfidence float64
	AlertCooldown   time.Duration
	// AnomalyThreshold and OverlapThreshold are echoed on debug events.
	AnomalyThreshold float64
	OverlapThreshold float64
	Hysteresis       float64
	MaxAlertDistance float64
	PublishWidth     int
	PublishHeight    int
	PublishTimeout   time.Duration
	Envelope         alert.Envelope
}

// Deps are the collaborators of a Runner. Video, Dataset and Metrics may be nil.
type Deps struct {
	Source     capture.Source
	Backend    inference.Backend
	Normalizer detection.Normalizer
	Texture    roi.TextureMeter
	Geometry   *roi.Geometry
	Selector   *roi.Selector
	Filter     incursion.Filter
	Anomaly    *anomaly.Machine
	Estimator  *distance.Estimator
	Correlator *alert.Correlator
	Debug      *diagnostics.Publisher
	Sink       diagnostics.Sink
	Video      mqtt.Client
	Encoder    Encoder
	Alerts     mqtt.Client
	Topics     mqtt.Topics
	Dataset    *dataset.Recorder
	Metrics    *metrics.PipelineMetrics
	Clock      timeutil.Clock
}

// Report summarizes one processed frame.
type Report struct {
	FrameID    uint64
	Detections int
	Variant    roi.Variant
	Anomaly    anomaly.Observation
	Incursion  incursion.Result
	Hazard     *alert.HazardAlert
	Track      *alert.TrackAlert
}

// Runner owns the perception loop state: ROI selection, anomaly tracking and
// hazard alert gating. Only ProcessFrame and Run touch that state; commands
// arrive through a mailbox drained at the start of each frame.
type Runner struct {
	deps Deps
	cfg  Config
	log  logger.Logger

	commands   *mailbox
	lastHazard time.Time
	frames     atomic.Uint64
}

// New validates deps and creates a runner.
func New(cfg Config, deps Deps) (*Runner, error) {
	switch {
	case deps.Source == nil:
		return nil, configError("frame source is required")
	case deps.Backend == nil:
		return nil, configError("inference backend is required")
	case deps.Texture == nil || deps.Geometry == nil || deps.Selector == nil:
		return nil, configError("track geometry is required")
	case deps.Anomaly == nil || deps.Estimator == nil || deps.Correlator == nil:
		return nil, configError("anomaly machine, distance estimator and correlator are required")
	case deps.Alerts == nil:
		return nil, configError("alert plane client is required")
	case deps.Sink == nil:
		return nil, configError("event sink is required")
	}
	if deps.Clock == nil {
		deps.Clock = timeutil.RealClock{}
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = mqtt.DefaultConfig().PublishTimeout
	}
	return &Runner{
		deps:     deps,
		cfg:      cfg,
		log:      GetLogger(),
		commands: newMailbox(),
	}, nil
}

func configError(msg string) error {
	return errors.Newf("%s", msg).
		Component("pipeline").
		Category(errors.CategoryConfiguration).
		Build()
}

// Frames returns the number of frames processed so far.
func (r *Runner) Frames() uint64 {
	return r.frames.Load()
}

// Run processes frames until ctx is done or the source is exhausted, sleeping
// the residual of each frame interval. Capture failures are retried until
// maxCaptureFailures happen in a row.
func (r *Runner) Run(ctx context.Context) error {
	r.log.Info("perception loop started",
		logger.Duration("frame_interval", r.cfg.FrameInterval),
		logger.String("run_id", r.cfg.RunID))

	failures := 0
	for ctx.Err() == nil {
		start := r.deps.Clock.Now()

		frame, err := r.deps.Source.Next(ctx)
		switch {
		case errors.Is(err, io.EOF):
			r.log.Info("frame source exhausted", logger.Uint64("frames", r.Frames()))
			return nil
		case err != nil && ctx.Err() != nil:
			return nil
		case err != nil:
			failures++
			if failures >= maxCaptureFailures {
				return errors.New(err).
					Component("pipeline").
					Category(errors.CategoryCamera).
					Context("consecutive_failures", failures).
					Build()
			}
			r.log.Warn("frame capture failed",
				logger.Error(err),
				logger.Int("consecutive_failures", failures))
		default:
			failures = 0
			r.ProcessFrame(ctx, frame)
		}

		r.pace(start)
	}

	r.log.Info("perception loop stopped", logger.Uint64("frames", r.Frames()))
	return nil
}

// pace sleeps whatever is left of the frame interval. Overruns do not sleep.
func (r *Runner) pace(start time.Time) {
	if r.cfg.FrameInterval <= 0 {
		return
	}
	if left := r.cfg.FrameInterval - r.deps.Clock.Since(start); left > 0 {
		r.deps.Clock.Sleep(left)
	}
}

// ProcessFrame runs every stage for one frame. Stage failures are reported
// and the frame continues with what is available.
func (r *Runner) ProcessFrame(ctx context.Context, frame capture.Frame) Report {
	start := r.deps.Clock.Now()
	rep := Report{FrameID: frame.ID}

	if cmd, ok := r.commands.take(); ok {
		r.applyCommand(cmd)
	}

	r.publishVideo(ctx, frame)

	dets, inferDone := r.detect(ctx, frame)
	rep.Detections = len(dets)
	r.emitBest(frame.ID, dets)

	sel, measured := r.selectGeometry(frame)
	rep.Variant = sel.Active

	// Frames without a texture reading count as not bad.
	density := sel.ActiveEMA()
	if !measured || !sel.Ready {
		density = math.NaN()
	}
	rep.Anomaly = r.deps.Anomaly.Observe(density)
	r.deps.Metrics.SetAnomalyState(int(rep.Anomaly.State))
	r.emitTrackVis(frame.ID, sel.Active, rep.Anomaly)
	if rep.Anomaly.Alert {
		rep.Track = r.sendTrackAlert(ctx, frame, sel.Active, rep.Anomaly)
	}

	rep.Incursion = r.deps.Filter.Apply(dets, r.deps.Geometry.Mask(sel.Active))
	r.deps.Debug.Emit(diagnostics.EventROIFilter, diagnostics.Fields{
		"frame_id":           frame.ID,
		"roi_mode_used":      sel.Active.String(),
		"overlap_th":         r.cfg.OverlapThreshold,
		"relevant_count":     rep.Incursion.Hazards,
		"on_track_count":     rep.Incursion.OnTrack,
		"rejected_overlap":   rep.Incursion.RejectedOverlap,
		"rejected_footpoint": rep.Incursion.RejectedFootpoint,
	})
	if rep.Incursion.Found {
		rep.Hazard = r.considerHazard(ctx, frame, rep.Incursion.Candidate, sel.Active, inferDone)
	}

	r.offerDataset(frame)

	r.frames.Add(1)
	r.deps.Metrics.ObserveFrame(r.deps.Clock.Since(start))
	return rep
}

// detect runs inference and normalization. An inference failure yields no
// detections for the frame.
func (r *Runner) detect(ctx context.Context, frame capture.Frame) ([]detection.Detection, time.Time) {
	raw, err := r.deps.Backend.Infer(ctx, frame)
	inferDone := r.deps.Clock.Now()
	if err != nil {
		r.deps.Metrics.IncInferenceErrors()
		r.log.Debug("inference failed", logger.Uint64("frame_id", frame.ID), logger.Error(err))
		r.deps.Debug.Emit(diagnostics.EventInferenceError, diagnostics.Fields{
			"frame_id": frame.ID,
			"error":    err.Error(),
		})
		return nil, inferDone
	}

	dets, stats := r.deps.Normalizer.Normalize(raw)
	if stats.Unrecognized || stats.Malformed > 0 {
		r.log.Debug("detector output partially unusable",
			logger.Uint64("frame_id", frame.ID),
			logger.Bool("unrecognized", stats.Unrecognized),
			logger.Int("malformed_rows", stats.Malformed))
	}

	counts := make(map[detection.Category]int)
	for _, d := range dets {
		counts[d.Category()]++
	}
	for cat, n := range counts {
		r.deps.Metrics.AddDetections(string(cat), n)
	}
	return dets, inferDone
}

func (r *Runner) emitBest(frameID uint64, dets []detection.Detection) {
	best, ok := detection.Best(detection.HazardsOnly(dets))
	if !ok {
		r.deps.Debug.Emit(diagnostics.EventYOLOBest, diagnostics.Fields{"frame_id": frameID, "label": nil})
		return
	}
	r.deps.Debug.Emit(diagnostics.EventYOLOBest, diagnostics.Fields{
		"frame_id":   frameID,
		"label":      best.Label(),
		"conf":       round(best.Score, 3),
		"coord_mode": best.CoordMode(),
		"bbox":       best.Box.Array(),
	})
}

// selectGeometry measures texture and updates the selector. A failed
// measurement feeds NaN samples, which leave the EMAs unchanged, and is
// reported as unmeasured.
func (r *Runner) selectGeometry(frame capture.Frame) (roi.Selection, bool) {
	dens, err := r.deps.Texture.EdgeDensities(frame.Gray)
	measured := err == nil
	if err != nil {
		r.log.Debug("edge density failed", logger.Uint64("frame_id", frame.ID), logger.Error(err))
		dens = roi.Densities{math.NaN(), math.NaN()}
	}

	sel := r.deps.Selector.Update(dens)
	if sel.Switched {
		r.log.Info("active track geometry switched",
			logger.String("variant", sel.Active.String()),
			logger.Float64("straight_ema", sel.EMA[roi.Straight]),
			logger.Float64("curve_ema", sel.EMA[roi.Curve]))
	}

	r.deps.Metrics.SetROI(sel.Active.String(), map[string]float64{
		roi.Straight.String(): sel.EMA[roi.Straight],
		roi.Curve.String():    sel.EMA[roi.Curve],
	})
	r.deps.Debug.Emit(diagnostics.EventROIAuto, diagnostics.Fields{
		"frame_id":          frame.ID,
		"roi_mode_used":     sel.Active.String(),
		"dens_straight_ema": round(sel.EMA[roi.Straight], 6),
		"dens_curve_ema":    round(sel.EMA[roi.Curve], 6),
		"hyst":              r.cfg.Hysteresis,
		"switched":          sel.Switched,
	})
	return sel, measured
}

func (r *Runner) emitTrackVis(frameID uint64, v roi.Variant, obs anomaly.Observation) {
	var density any
	if !math.IsNaN(obs.Density) {
		density = round(obs.Density, 6)
	}
	r.deps.Debug.Emit(diagnostics.EventTrackVis, diagnostics.Fields{
		"frame_id":         frameID,
		"roi_mode_used":    v.String(),
		"state":            obs.State.String(),
		"edge_density_ema": density,
		"th":               r.cfg.AnomalyThreshold,
		"bad_frames":       obs.BadFrames,
		"bad_duration_s":   round(obs.BadDuration.Seconds(), 2),
		"cooldown_left_s":  round(obs.CooldownLeft.Seconds(), 2),
	})
}

func (r *Runner) sendTrackAlert(ctx context.Context, frame capture.Frame, v roi.Variant, obs anomaly.Observation) *alert.TrackAlert {
	p := r.deps.Correlator.Register(alert.PrefixTrack)
	msg := alert.NewTrackAlert(r.cfg.Envelope, p, obs, r.cfg.AnomalyThreshold, v, frame.ID, frame.Captured)

	r.log.Warn("track anomaly alert",
		logger.String("msg_id", msg.MsgID),
		logger.Int("bad_frames", obs.BadFrames),
		logger.Duration("bad_duration", obs.BadDuration),
		logger.String("roi_mode", msg.ROIMode))
	r.publishAlert(ctx, msg.MsgID, msg)
	r.deps.Metrics.IncAlertsSent(msg.Category)
	r.deps.Sink.TryPublish(events.Event{Kind: events.KindAlertSent, Type: alert.TypeAlert, Payload: msg, Timestamp: p.SentAt})
	return &msg
}

// considerHazard applies the distance gate, the confidence floor and the
// cooldown to the frame's on-track candidate and sends the alert.
func (r *Runner) considerHazard(ctx context.Context, frame capture.Frame, c incursion.Candidate, v roi.Variant, inferDone time.Time) *alert.HazardAlert {
	d := c.Detection
	dec := r.deps.Estimator.Gate(d)
	if !dec.Allowed {
		var meters any
		if dec.Ranged {
			meters = round(dec.Meters, 2)
		}
		r.deps.Metrics.IncSuppressed(dec.Reason)
		r.deps.Debug.Emit(diagnostics.EventDistanceFilter, diagnostics.Fields{
			"frame_id":      frame.ID,
			"roi_mode_used": v.String(),
			"label":         d.Label(),
			"distance_m":    meters,
			"max_m":         r.cfg.MaxAlertDistance,
			"decision":      dec.Reason,
		})
		return nil
	}

	if d.Score < r.cfg.AlertConfidence {
		r.deps.Metrics.IncSuppressed(suppressedLowConfidence)
		return nil
	}
	now := r.deps.Clock.Now()
	if !r.lastHazard.IsZero() && now.Sub(r.lastHazard) < r.cfg.AlertCooldown {
		r.deps.Metrics.IncSuppressed(suppressedCooldown)
		return nil
	}

	p := r.deps.Correlator.Register(alert.PrefixHazard)
	msg := alert.NewHazardAlert(r.cfg.Envelope, p, alert.HazardInput{
		Candidate: c,
		Range:     dec,
		Variant:   v,
		FrameID:   frame.ID,
		Captured:  frame.Captured,
		InferDone: inferDone,
	})

	r.log.Info("hazard alert",
		logger.String("msg_id", msg.MsgID),
		logger.String("label", msg.Label),
		logger.Float64("conf", msg.Conf),
		logger.Float64("distance_m", msg.DistanceM),
		logger.String("bucket", msg.DistanceBucket))
	r.publishAlert(ctx, msg.MsgID, msg)
	r.lastHazard = now
	r.deps.Metrics.IncAlertsSent(msg.Category)
	r.deps.Sink.TryPublish(events.Event{Kind: events.KindAlertSent, Type: alert.TypeAlert, Payload: msg, Timestamp: p.SentAt})
	return &msg
}

// publishAlert sends msg on the broadcast and destination topics. A failure
// on one topic does not prevent the other attempt.
func (r *Runner) publishAlert(ctx context.Context, msgID string, msg any) {
	payload, err := json.Marshal(msg)
	if err != nil {
		r.log.Error("cannot encode alert", logger.String("msg_id", msgID), logger.Error(err))
		return
	}

	targets := []struct {
		topic string
		qos   byte
	}{
		{r.deps.Topics.AlertBroadcast, mqtt.QoSAtLeastOnce},
		{r.deps.Topics.AlertDest, mqtt.QoSExactlyOnce},
	}
	for _, t := range targets {
		pctx, cancel := context.WithTimeout(ctx, r.cfg.PublishTimeout)
		err := r.deps.Alerts.Publish(pctx, t.topic, payload, t.qos)
		cancel()
		if err != nil {
			r.deps.Metrics.IncPublishFailures("alert")
			r.log.Warn("alert publish failed",
				logger.String("msg_id", msgID),
				logger.String("topic", t.topic),
				logger.Error(err))
		}
	}
}

// publishVideo sends the frame JPEG and its CAM_META record on the video plane.
func (r *Runner) publishVideo(ctx context.Context, frame capture.Frame) {
	if r.deps.Video == nil || r.deps.Encoder == nil {
		return
	}

	jpeg, err := r.deps.Encoder.Encode(frame.Color)
	if err != nil {
		r.deps.Metrics.IncPublishFailures("video")
		r.log.Debug("video encode failed", logger.Uint64("frame_id", frame.ID), logger.Error(err))
		return
	}

	sent := r.deps.Clock.Now()
	if err := r.publishVideoPayload(ctx, r.deps.Topics.CamJPEG, jpeg); err != nil {
		r.log.Debug("video publish failed", logger.Uint64("frame_id", frame.ID), logger.Error(err))
		return
	}

	meta, err := json.Marshal(alert.CamMeta{
		Type:       alert.TypeCamMeta,
		FrameID:    frame.ID,
		TCaptureMs: frame.Captured.UnixMilli(),
		TSendMs:    sent.UnixMilli(),
		JPEGBytes:  len(jpeg),
		Width:      r.cfg.PublishWidth,
		Height:     r.cfg.PublishHeight,
		Plane:      alert.PlaneVideo,
		Origin:     r.cfg.Envelope.Origin,
	})
	if err != nil {
		return
	}
	if err := r.publishVideoPayload(ctx, r.deps.Topics.CamMeta, meta); err != nil {
		r.log.Debug("video meta publish failed", logger.Uint64("frame_id", frame.ID), logger.Error(err))
	}
}

func (r *Runner) publishVideoPayload(ctx context.Context, topic string, payload []byte) error {
	pctx, cancel := context.WithTimeout(ctx, r.cfg.PublishTimeout)
	defer cancel()
	err := r.deps.Video.Publish(pctx, topic, payload, mqtt.QoSAtMostOnce)
	if err != nil {
		r.deps.Metrics.IncPublishFailures("video")
	}
	return err
}

func (r *Runner) offerDataset(frame capture.Frame) {
	if r.deps.Dataset == nil {
		return
	}
	saved, err := r.deps.Dataset.Offer(frame.Color, r.deps.Clock.Now())
	if err != nil {
		r.log.Warn("dataset frame not saved", logger.Uint64("frame_id", frame.ID), logger.Error(err))
		return
	}
	if saved {
		r.deps.Metrics.IncDatasetFrames()
	}
}

// PublishStatus queues a STATUS message on sink.
func PublishStatus(sink diagnostics.Sink, service, state, runID string, at time.Time, extra map[string]any) bool {
	return sink.TryPublish(events.Event{
		Kind:      events.KindStatus,
		Type:      alert.TypeStatus,
		Payload:   alert.NewStatus(service, state, runID, at, extra),
		Timestamp: at,
	})
}

func round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}
