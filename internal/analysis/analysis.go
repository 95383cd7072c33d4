// Package analysis assembles the perception pipeline and its transports from
// settings and runs them until shutdown.
package analysis

import (
	"context"
	"fmt"
	"time"

	"github.com/trackwatch/trackwatch/internal/alert"
	"github.com/trackwatch/trackwatch/internal/anomaly"
	"github.com/trackwatch/trackwatch/internal/conf"
	"github.com/trackwatch/trackwatch/internal/detection"
	"github.com/trackwatch/trackwatch/internal/distance"
	"github.com/trackwatch/trackwatch/internal/errors"
	"github.com/trackwatch/trackwatch/internal/incursion"
	"github.com/trackwatch/trackwatch/internal/logger"
	"github.com/trackwatch/trackwatch/internal/mqtt"
	"github.com/trackwatch/trackwatch/internal/observability/metrics"
	"github.com/trackwatch/trackwatch/internal/pipeline"
	"github.com/trackwatch/trackwatch/internal/roi"
	"github.com/trackwatch/trackwatch/internal/timeutil"
	"github.com/trackwatch/trackwatch/internal/vision"
)

// Identity of this node on the alert plane.
const (
	envelopeSrc    = "obu_cam"
	envelopeOrigin = "obu"
)

// Plane names.
const (
	planeCtrl  = "ctrl"
	planeVideo = "video"
	planeAlert = "alert"
)

// inferenceJPEGQuality is the quality of frames posted to the detector.
const inferenceJPEGQuality = 90

const busShutdownTimeout = 5 * time.Second

// GetLogger returns the analysis package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("analysis")
}

// perception holds the stateful stages built from settings.
type perception struct {
	geometry   *roi.Geometry
	selector   *roi.Selector
	texture    *vision.EdgeAnalyzer
	normalizer detection.Normalizer
	filter     incursion.Filter
	anomaly    *anomaly.Machine
	estimator  *distance.Estimator
}

func newPerception(s *conf.Settings, clock timeutil.Clock) (*perception, error) {
	initial, err := roi.ParseVariant(s.ROI.Initial)
	if err != nil {
		return nil, errors.New(err).
			Component("analysis").
			Category(errors.CategoryConfiguration).
			Context("setting", "roi.initial").
			Build()
	}

	geom, err := roi.LoadGeometry(
		roi.Source{File: s.ROI.File, Label: s.ROI.Labels.Straight},
		roi.Source{File: s.ROI.File, Label: s.ROI.Labels.Curve},
		s.Camera.Width, s.Camera.Height, s.ROI.AnalysisSize)
	if err != nil {
		return nil, err
	}

	est, err := distance.NewEstimator(distance.Config{
		FocalPx:          s.Distance.FocalPx,
		ReferenceHeights: s.Distance.ReferenceHeights,
		Close:            s.Distance.Close,
		Medium:           s.Distance.Medium,
		MaxAlert:         s.Distance.MaxAlert,
	})
	if err != nil {
		return nil, err
	}

	return &perception{
		geometry: geom,
		selector: roi.NewSelector(roi.SelectorConfig{
			Alpha:      s.ROI.EMAAlpha,
			Hysteresis: s.ROI.Hysteresis,
			Initial:    initial,
		}),
		texture: vision.NewEdgeAnalyzer(geom, vision.EdgeConfig{
			Size:       s.ROI.AnalysisSize,
			BlurKernel: s.ROI.BlurKernel,
			CannyLow:   float32(s.ROI.CannyLow),
			CannyHigh:  float32(s.ROI.CannyHigh),
		}),
		normalizer: detection.Normalizer{
			ConfidenceFloor: s.Detection.ConfidenceFloor,
			Width:           s.Camera.Width,
			Height:          s.Camera.Height,
		},
		filter: incursion.Filter{OverlapThreshold: s.ROI.OverlapThreshold},
		anomaly: anomaly.New(anomaly.Config{
			Threshold:   s.Anomaly.Threshold,
			MinDuration: s.Anomaly.MinDuration,
			MinFrames:   s.Anomaly.MinFrames,
			Cooldown:    s.Anomaly.Cooldown,
		}, clock),
		estimator: est,
	}, nil
}

// frameInterval converts the configured rate to the loop period.
func frameInterval(fps float64) time.Duration {
	if fps <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / fps)
}

func envelope() alert.Envelope {
	return alert.Envelope{Src: envelopeSrc, Origin: envelopeOrigin}
}

func runnerConfig(s *conf.Settings, runID string) pipeline.Config {
	return pipeline.Config{
		RunID:            runID,
		FrameInterval:    frameInterval(s.Camera.FPS),
		AlertConfidence:  s.Detection.AlertConfidence,
		AlertCooldown:    s.Detection.AlertCooldown,
		AnomalyThreshold: s.Anomaly.Threshold,
		OverlapThreshold: s.ROI.OverlapThreshold,
		Hysteresis:       s.ROI.Hysteresis,
		MaxAlertDistance: s.Distance.MaxAlert,
		PublishWidth:     s.Camera.PublishWidth,
		PublishHeight:    s.Camera.PublishHeight,
		PublishTimeout:   mqtt.DefaultConfig().PublishTimeout,
		Envelope:         envelope(),
	}
}

func correlatorConfig(s *conf.Settings) alert.CorrelatorConfig {
	return alert.CorrelatorConfig{
		TrainID:         s.Main.Name,
		PrimaryReceiver: s.Alert.PrimaryReceiver,
		TTL:             s.Alert.TTL,
		AckFallback:     s.Alert.AckFallback,
		RTTWindow:       s.Alert.RTTWindow,
	}
}

// mqttConfig returns the client configuration of one plane.
func mqttConfig(s *conf.Settings, plane string, port int, runID string) mqtt.Config {
	cfg := mqtt.DefaultConfig()
	cfg.Plane = plane
	cfg.Broker = s.MQTT.BrokerURL(port)
	cfg.ClientID = fmt.Sprintf("trackwatch_%s_%s_%s", s.Main.Name, plane, shortID(runID))
	cfg.Username = s.MQTT.Username
	cfg.Password = s.MQTT.Password
	return cfg
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// planes holds the three broker connections. video is nil when the video
// plane is unavailable.
type planes struct {
	ctrl  mqtt.Client
	video mqtt.Client
	alert mqtt.Client
}

// connectPlanes connects the control and alert planes, which are required,
// and the video plane, whose failure only disables frame publishing.
func connectPlanes(ctx context.Context, s *conf.Settings, runID string, m *metrics.MQTTMetrics) (*planes, error) {
	log := GetLogger()
	p := &planes{}

	connect := func(plane string, port int) (mqtt.Client, error) {
		c, err := mqtt.NewClient(mqttConfig(s, plane, port, runID), m)
		if err != nil {
			return nil, err
		}
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
		return c, nil
	}

	var err error
	if p.ctrl, err = connect(planeCtrl, s.MQTT.Ports.Ctrl); err != nil {
		return nil, err
	}
	if p.alert, err = connect(planeAlert, s.MQTT.Ports.Alert); err != nil {
		p.disconnect()
		return nil, err
	}
	if p.video, err = connect(planeVideo, s.MQTT.Ports.Video); err != nil {
		log.Warn("video plane unavailable, frames will not be published", logger.Error(err))
		p.video = nil
	}
	return p, nil
}

// recordingPlanes keeps every message in memory.
func recordingPlanes() *planes {
	return &planes{
		ctrl:  mqtt.NewRecorder(planeCtrl),
		video: mqtt.NewRecorder(planeVideo),
		alert: mqtt.NewRecorder(planeAlert),
	}
}

func (p *planes) disconnect() {
	for _, c := range []mqtt.Client{p.video, p.alert, p.ctrl} {
		if c != nil {
			c.Disconnect()
		}
	}
}

// subscribe routes control commands to the runner and acknowledgements from
// both planes that carry them to the ack handler.
func (p *planes) subscribe(topics mqtt.Topics, runner *pipeline.Runner, acks *pipeline.AckHandler) error {
	if err := p.ctrl.Subscribe(topics.Command, mqtt.QoSAtLeastOnce, runner.HandleCommand); err != nil {
		return err
	}
	for _, c := range []mqtt.Client{p.ctrl, p.alert} {
		if err := c.Subscribe(topics.Ack, mqtt.QoSAtLeastOnce, acks.Handler()); err != nil {
			return err
		}
	}
	return nil
}
