package analysis

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/host"
	"golang.org/x/sync/errgroup"

	"github.com/trackwatch/trackwatch/internal/alert"
	"github.com/trackwatch/trackwatch/internal/capture"
	"github.com/trackwatch/trackwatch/internal/conf"
	"github.com/trackwatch/trackwatch/internal/dataset"
	"github.com/trackwatch/trackwatch/internal/diagnostics"
	"github.com/trackwatch/trackwatch/internal/events"
	"github.com/trackwatch/trackwatch/internal/inference"
	"github.com/trackwatch/trackwatch/internal/journal"
	"github.com/trackwatch/trackwatch/internal/logger"
	"github.com/trackwatch/trackwatch/internal/mqtt"
	"github.com/trackwatch/trackwatch/internal/observability"
	"github.com/trackwatch/trackwatch/internal/pipeline"
	"github.com/trackwatch/trackwatch/internal/timeutil"
	"github.com/trackwatch/trackwatch/internal/vision"
)

// Options select where frames and detections come from.
type Options struct {
	// Manifest replays a recorded JSONL manifest instead of the camera.
	Manifest string
	// Loop restarts the manifest when it ends.
	Loop bool
	// LiveInference sends replayed frames to the detector instead of using
	// the recorded output.
	LiveInference bool
	// Offline keeps outbound messages in memory instead of connecting to the broker.
	Offline bool
}

// Summary describes a finished run.
type Summary struct {
	RunID  string
	Frames uint64
	// Alerts counts broadcast alerts. It is only known for offline runs.
	Alerts int
}

// RealtimeAnalysis runs the camera pipeline until ctx is cancelled.
func RealtimeAnalysis(ctx context.Context, settings *conf.Settings) error {
	_, err := Run(ctx, settings, Options{})
	return err
}

// Run wires the pipeline for opts and blocks until the source is exhausted,
// ctx is cancelled or a component fails.
func Run(ctx context.Context, settings *conf.Settings, opts Options) (*Summary, error) {
	log := GetLogger()
	clock := timeutil.RealClock{}
	runID := uuid.NewString()
	logSystemDetails(log, settings, runID)

	perc, err := newPerception(settings, clock)
	if err != nil {
		return nil, err
	}

	m, err := observability.NewMetrics()
	if err != nil {
		return nil, err
	}

	var pl *planes
	if opts.Offline {
		pl = recordingPlanes()
	} else if pl, err = connectPlanes(ctx, settings, runID, m.MQTT); err != nil {
		return nil, err
	}
	defer pl.disconnect()

	topics := mqtt.NewTopics(settings.Main.Name, settings.Alert.Destination)

	bus := events.NewEventBus(events.DefaultConfig(), nil)
	if err := m.RegisterEventBus(bus.GetStats, bus.QueueDepth); err != nil {
		return nil, err
	}
	if err := bus.RegisterConsumer(mqtt.NewEventPublisher(pl.ctrl, pl.alert, topics, 0)); err != nil {
		return nil, err
	}
	if settings.Journal.Enabled {
		j, err := journal.Open(settings.Journal.Path)
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := j.Close(); err != nil {
				log.Warn("failed to close journal", logger.Error(err))
			}
		}()
		if err := bus.RegisterConsumer(journal.NewConsumer(j, runID)); err != nil {
			return nil, err
		}
	}
	bus.Start()
	defer func() {
		if err := bus.Shutdown(busShutdownTimeout); err != nil {
			log.Warn("event bus did not drain", logger.Error(err))
		}
	}()

	status := func(state string, extra map[string]any) {
		pipeline.PublishStatus(bus, pipeline.ServiceCamera, state, runID, clock.Now(), extra)
	}
	status(pipeline.StateStarting, map[string]any{"source": sourceName(settings, opts)})

	src, backend, closeFront, err := openFrontEnd(settings, opts, clock)
	if err != nil {
		status(pipeline.StateStopped, map[string]any{"error": err.Error()})
		return nil, err
	}
	defer closeFront()

	debug := diagnostics.NewPublisher(diagnostics.Config{
		Enabled:   settings.Debug.Enabled,
		MinPeriod: settings.Debug.MinPeriod,
		Overrides: diagnostics.DefaultConfig().Overrides,
	}, bus, clock)
	correlator := alert.NewCorrelator(correlatorConfig(settings), clock)

	runner, err := pipeline.New(runnerConfig(settings, runID), pipeline.Deps{
		Source:     src,
		Backend:    backend,
		Normalizer: perc.normalizer,
		Texture:    perc.texture,
		Geometry:   perc.geometry,
		Selector:   perc.selector,
		Filter:     perc.filter,
		Anomaly:    perc.anomaly,
		Estimator:  perc.estimator,
		Correlator: correlator,
		Debug:      debug,
		Sink:       bus,
		Video:      pl.video,
		Encoder: vision.JPEGEncoder{
			Width:   settings.Camera.PublishWidth,
			Height:  settings.Camera.PublishHeight,
			Quality: settings.Camera.JPEGQuality,
		},
		Alerts:  pl.alert,
		Topics:  topics,
		Dataset: newDatasetRecorder(settings, bus),
		Metrics: m.Pipeline,
		Clock:   clock,
	})
	if err != nil {
		return nil, err
	}

	acks := pipeline.NewAckHandler(correlator, debug, bus, envelope(), m.Correlator, clock)
	if err := pl.subscribe(topics, runner, acks); err != nil {
		status(pipeline.StateStopped, map[string]any{"error": err.Error()})
		return nil, err
	}

	hb := pipeline.NewHeartbeat(pipeline.HeartbeatConfig{
		Interval: settings.Status.Heartbeat,
		RunID:    runID,
	}, correlator, runner.Frames, bus, nil, m.Correlator, clock)

	status(pipeline.StateActive, map[string]any{"topic": topics.CamJPEG, "fps": settings.Camera.FPS})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		// A finished source ends the run.
		defer cancel()
		return runner.Run(gctx)
	})
	g.Go(func() error {
		return hb.Run(gctx)
	})
	if settings.Telemetry.Enabled {
		endpoint := observability.NewEndpoint(settings.Telemetry.Listen, m)
		g.Go(func() error {
			return endpoint.Run(gctx)
		})
	}
	err = g.Wait()

	summary := &Summary{RunID: runID, Frames: runner.Frames()}
	if rec, ok := pl.alert.(*mqtt.Recorder); ok {
		summary.Alerts = len(rec.MessagesOn(topics.AlertBroadcast))
	}

	stopped := map[string]any{"frames": summary.Frames}
	if err != nil {
		stopped["error"] = err.Error()
	}
	status(pipeline.StateStopped, stopped)

	log.Info("pipeline stopped",
		logger.String("run_id", runID),
		logger.Uint64("frames", summary.Frames),
		logger.Int("pending_alerts", correlator.PendingCount()))
	return summary, err
}

// openFrontEnd opens the frame source and the backend that infers its frames.
func openFrontEnd(s *conf.Settings, opts Options, clock timeutil.Clock) (capture.Source, inference.Backend, func(), error) {
	detector := func() (*inference.HTTPBackend, error) {
		return inference.NewHTTPBackend(inference.HTTPConfig{
			URL:     s.Inference.URL,
			Timeout: s.Inference.Timeout,
		}, vision.JPEGEncoder{Quality: inferenceJPEGQuality})
	}

	if opts.Manifest != "" {
		entries, err := capture.LoadManifest(opts.Manifest)
		if err != nil {
			return nil, nil, nil, err
		}
		src := capture.NewReplaySource(entries, s.Camera.Width, s.Camera.Height, opts.Loop, clock)
		closeSrc := func() { _ = src.Close() }
		if !opts.LiveInference {
			return src, src, closeSrc, nil
		}
		b, err := detector()
		if err != nil {
			closeSrc()
			return nil, nil, nil, err
		}
		return src, b, func() { b.Close(); closeSrc() }, nil
	}

	b, err := detector()
	if err != nil {
		return nil, nil, nil, err
	}
	cam, err := capture.OpenCamera(capture.CameraConfig{
		Device: s.Camera.Device,
		Width:  s.Camera.Width,
		Height: s.Camera.Height,
		Flip:   s.Camera.Flip,
	}, clock)
	if err != nil {
		b.Close()
		return nil, nil, nil, err
	}
	return cam, b, func() {
		b.Close()
		if err := cam.Close(); err != nil {
			GetLogger().Warn("failed to close camera", logger.Error(err))
		}
	}, nil
}

func newDatasetRecorder(s *conf.Settings, sink diagnostics.Sink) *dataset.Recorder {
	if s.Dataset.Dir == "" {
		return nil
	}
	return dataset.NewRecorder(dataset.Config{
		Dir:          s.Dataset.Dir,
		Duration:     s.Dataset.Duration,
		FPS:          s.Dataset.FPS,
		MinFreeBytes: uint64(max(s.Dataset.MinFreeMB, 0)) << 20,
	}, vision.JPEGEncoder{Quality: s.Dataset.JPEGQuality}, pipeline.DatasetNotifier(sink))
}

func sourceName(s *conf.Settings, opts Options) string {
	if opts.Manifest != "" {
		return "replay:" + opts.Manifest
	}
	return s.Camera.Device
}

// logSystemDetails prints host and configuration details at startup.
func logSystemDetails(log logger.Logger, s *conf.Settings, runID string) {
	fields := []logger.Field{
		logger.String("run_id", runID),
		logger.String("train", s.Main.Name),
		logger.Float64("fps", s.Camera.FPS),
		logger.Float64("alert_confidence", s.Detection.AlertConfidence),
		logger.Float64("overlap_threshold", s.ROI.OverlapThreshold),
	}
	info, err := host.Info()
	if err != nil {
		log.Warn("error retrieving host info", logger.Error(err))
	} else {
		fields = append(fields,
			logger.String("os", info.OS),
			logger.String("platform", strings.TrimSpace(info.Platform+" "+info.PlatformVersion)),
			logger.String("arch", info.KernelArch))
	}
	log.Info("starting trackwatch", fields...)
}

