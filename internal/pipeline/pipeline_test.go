package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

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
	"github.com/trackwatch/trackwatch/internal/mqtt"
	"github.com/trackwatch/trackwatch/internal/roi"
	"github.com/trackwatch/trackwatch/internal/timeutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("github.com/patrickmn/go-cache.(*janitor).Run"),
	)
}

const (
	workW = 640
	workH = 640
)

var epoch = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

type recordingSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (s *recordingSink) TryPublish(e events.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return true
}

func (s *recordingSink) ofType(typ string) []events.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []events.Event
	for _, e := range s.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func (s *recordingSink) ofKind(k events.Kind) []events.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []events.Event
	for _, e := range s.events {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}

type fakeTexture struct {
	dens roi.Densities
	err  error
}

func (f *fakeTexture) EdgeDensities(*image.Gray) (roi.Densities, error) {
	return f.dens, f.err
}

type fakeBackend struct {
	raw []byte
	err error
}

func (f *fakeBackend) Infer(context.Context, capture.Frame) ([]byte, error) {
	return f.raw, f.err
}

type fakeEncoder struct{}

func (fakeEncoder) Encode(image.Image) ([]byte, error) {
	return []byte("jpeg-bytes"), nil
}

type fakeSaver struct {
	mu    sync.Mutex
	paths []string
}

func (f *fakeSaver) SaveJPEG(path string, _ image.Image) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = append(f.paths, path)
	return nil
}

// rawDetections renders class-wise detector output; rows are (ymin, xmin, ymax, xmax, score).
func rawDetections(rows map[int][][]float64) []byte {
	classes := make([][][]float64, detection.ClassCount)
	for i := range classes {
		classes[i] = [][]float64{}
	}
	for cls, r := range rows {
		classes[cls] = r
	}
	b, err := json.Marshal(classes)
	if err != nil {
		panic(err)
	}
	return b
}

// personAt returns a person row centred on the straight track whose box
// height ranges to meters.
func personAt(meters, score float64) []float64 {
	h := 820 * 1.70 / meters
	return []float64{300, 280, 300 + h, 360, score}
}

func columnMask(x0, x1 int) *roi.Mask {
	pix := make([]uint8, workW*workH)
	for y := range workH {
		for x := x0; x < x1; x++ {
			pix[y*workW+x] = 1
		}
	}
	return roi.NewMask(workW, workH, pix)
}

type fixture struct {
	clock      *timeutil.MockClock
	sink       *recordingSink
	alerts     *mqtt.Recorder
	video      *mqtt.Recorder
	backend    *fakeBackend
	texture    *fakeTexture
	correlator *alert.Correlator
	saver      *fakeSaver
	topics     mqtt.Topics
	runner     *Runner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		clock:   timeutil.NewMockClock(epoch),
		sink:    &recordingSink{},
		alerts:  mqtt.NewRecorder(mqtt.PlaneAlert),
		video:   mqtt.NewRecorder(mqtt.PlaneVideo),
		backend: &fakeBackend{raw: rawDetections(nil)},
		texture: &fakeTexture{dens: roi.Densities{0.05, 0.01}},
		saver:   &fakeSaver{},
		topics:  mqtt.NewTopics("T1", "DE0001"),
	}
	f.correlator = alert.NewCorrelator(alert.CorrelatorConfig{
		TrainID:         "T1",
		PrimaryReceiver: "RBC",
		TTL:             60 * time.Second,
		AckFallback:     10 * time.Second,
	}, f.clock)

	estimator, err := distance.NewEstimator(distance.Config{
		FocalPx:          820,
		ReferenceHeights: distance.DefaultReferenceHeights,
		Close:            3,
		Medium:           6,
		MaxAlert:         18,
	})
	require.NoError(t, err)

	debugCfg := diagnostics.Config{Enabled: true}
	deps := Deps{
		Source:     &sliceSource{},
		Backend:    f.backend,
		Normalizer: detection.Normalizer{ConfidenceFloor: 0.2, Width: workW, Height: workH},
		Texture:    f.texture,
		Geometry:   roi.NewGeometry(columnMask(200, 440), columnMask(0, 200), 320),
		Selector:   roi.NewSelector(roi.SelectorConfig{Alpha: 0.1, Hysteresis: 0.00025, Initial: roi.Straight}),
		Filter:     incursion.Filter{OverlapThreshold: 0.2},
		Anomaly: anomaly.New(anomaly.Config{
			Threshold:   0.0022,
			MinDuration: 3 * time.Second,
			MinFrames:   28,
			Cooldown:    12 * time.Second,
		}, f.clock),
		Estimator:  estimator,
		Correlator: f.correlator,
		Debug:      diagnostics.NewPublisher(debugCfg, f.sink, f.clock),
		Sink:       f.sink,
		Video:      f.video,
		Encoder:    fakeEncoder{},
		Alerts:     f.alerts,
		Topics:     f.topics,
		Dataset: dataset.NewRecorder(dataset.Config{
			Dir:      t.TempDir(),
			Duration: 30 * time.Second,
			FPS:      4,
		}, f.saver, DatasetNotifier(f.sink)),
		Clock: f.clock,
	}

	f.runner, err = New(Config{
		RunID:            "run-1",
		FrameInterval:    100 * time.Millisecond,
		AlertConfidence:  0.45,
		AlertCooldown:    500 * time.Millisecond,
		AnomalyThreshold: 0.0022,
		OverlapThreshold: 0.2,
		Hysteresis:       0.00025,
		MaxAlertDistance: 18,
		PublishWidth:     640,
		PublishHeight:    360,
		Envelope:         alert.Envelope{Src: "obu_cam", Origin: "obu"},
	}, deps)
	require.NoError(t, err)
	return f
}

var nextFrameID uint64

func (f *fixture) frame() capture.Frame {
	nextFrameID++
	return capture.Frame{
		ID:       nextFrameID,
		Captured: f.clock.Now(),
		Color:    image.NewRGBA(image.Rect(0, 0, 8, 8)),
		Gray:     image.NewGray(image.Rect(0, 0, 8, 8)),
	}
}

func (f *fixture) process(t *testing.T) Report {
	t.Helper()
	return f.runner.ProcessFrame(t.Context(), f.frame())
}

func debugPayload(t *testing.T, e events.Event) map[string]any {
	t.Helper()
	p, ok := e.Payload.(map[string]any)
	require.True(t, ok, "debug payload is %T", e.Payload)
	return p
}

func TestHazardInRangeRaisesOneAlert(t *testing.T) {
	f := newFixture(t)
	f.backend.raw = rawDetections(map[int][][]float64{0: {personAt(5, 0.9)}})

	rep := f.process(t)

	require.NotNil(t, rep.Hazard)
	assert.Equal(t, "human", rep.Hazard.Category)
	assert.Equal(t, "MEDIUM", rep.Hazard.DistanceBucket)
	assert.InDelta(t, 5.0, rep.Hazard.DistanceM, 0.01)
	assert.Equal(t, "AI_T1_1", rep.Hazard.MsgID)
	assert.Equal(t, "straight", rep.Hazard.ROIMode)

	broadcast := f.alerts.MessagesOn(f.topics.AlertBroadcast)
	dest := f.alerts.MessagesOn(f.topics.AlertDest)
	require.Len(t, broadcast, 1)
	require.Len(t, dest, 1)
	assert.Equal(t, mqtt.QoSAtLeastOnce, broadcast[0].QoS)
	assert.Equal(t, mqtt.QoSExactlyOnce, dest[0].QoS)
	assert.Equal(t, broadcast[0].Payload, dest[0].Payload)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(broadcast[0].Payload, &wire))
	assert.Equal(t, "AI_ALERT", wire["type"])
	assert.Equal(t, "person", wire["label"])
	assert.Equal(t, "alert", wire["plane"])
	assert.Equal(t, "obu", wire["origin"])

	assert.True(t, f.correlator.IsPending("AI_T1_1"))

	sent := f.sink.ofKind(events.KindAlertSent)
	require.Len(t, sent, 1)
	assert.IsType(t, alert.HazardAlert{}, sent[0].Payload)
}

func TestHazardBeyondMaxDistanceIsFiltered(t *testing.T) {
	f := newFixture(t)
	f.backend.raw = rawDetections(map[int][][]float64{0: {personAt(25, 0.9)}})

	rep := f.process(t)

	assert.Nil(t, rep.Hazard)
	assert.True(t, rep.Incursion.Found)
	assert.Empty(t, f.alerts.Messages())
	assert.Zero(t, f.correlator.PendingCount())

	filtered := f.sink.ofType(diagnostics.EventDistanceFilter)
	require.Len(t, filtered, 1)
	p := debugPayload(t, filtered[0])
	assert.Equal(t, distance.DecisionIgnoredFar, p["decision"])
	assert.InDelta(t, 25.0, p["distance_m"], 0.01)
	assert.InDelta(t, 18.0, p["max_m"], 1e-9)
}

func TestUnrangedHazardIsFiltered(t *testing.T) {
	f := newFixture(t)
	// Dogs carry no reference height.
	f.backend.raw = rawDetections(map[int][][]float64{16: {{300, 280, 400, 360, 0.9}}})

	rep := f.process(t)

	assert.Nil(t, rep.Hazard)
	filtered := f.sink.ofType(diagnostics.EventDistanceFilter)
	require.Len(t, filtered, 1)
	p := debugPayload(t, filtered[0])
	assert.Equal(t, distance.DecisionIgnoredUnranged, p["decision"])
	assert.Nil(t, p["distance_m"])
}

func TestHazardGating(t *testing.T) {
	t.Run("low confidence", func(t *testing.T) {
		f := newFixture(t)
		f.backend.raw = rawDetections(map[int][][]float64{0: {personAt(5, 0.4)}})

		rep := f.process(t)

		assert.True(t, rep.Incursion.Found)
		assert.Nil(t, rep.Hazard)
		assert.Empty(t, f.alerts.Messages())
	})

	t.Run("cooldown", func(t *testing.T) {
		f := newFixture(t)
		f.backend.raw = rawDetections(map[int][][]float64{0: {personAt(5, 0.9)}})

		require.NotNil(t, f.process(t).Hazard)
		f.clock.Advance(100 * time.Millisecond)
		assert.Nil(t, f.process(t).Hazard)
		f.clock.Advance(500 * time.Millisecond)
		rep := f.process(t)
		require.NotNil(t, rep.Hazard)
		assert.Equal(t, "AI_T1_2", rep.Hazard.MsgID)
		assert.Len(t, f.alerts.MessagesOn(f.topics.AlertBroadcast), 2)
	})

	t.Run("off track", func(t *testing.T) {
		f := newFixture(t)
		// Entirely inside the curve polygon while straight is active.
		f.backend.raw = rawDetections(map[int][][]float64{0: {{300, 20, 578.8, 100, 0.9}}})

		rep := f.process(t)

		assert.False(t, rep.Incursion.Found)
		assert.Equal(t, 1, rep.Incursion.RejectedOverlap)
		assert.Nil(t, rep.Hazard)
	})
}

func TestSustainedLowTextureRaisesOneTrackAlert(t *testing.T) {
	f := newFixture(t)
	f.texture.dens = roi.Densities{0.001, 0.0005}

	var tracks []*alert.TrackAlert
	for range 30 {
		if rep := f.process(t); rep.Track != nil {
			tracks = append(tracks, rep.Track)
		}
		f.clock.Advance(110 * time.Millisecond)
	}

	require.Len(t, tracks, 1)
	tr := tracks[0]
	assert.Equal(t, "unknown", tr.Category)
	assert.Equal(t, "track_anomaly", tr.Label)
	assert.Equal(t, "low_track_texture", tr.Reason)
	assert.True(t, strings.HasPrefix(tr.MsgID, "TRACK_T1_"), tr.MsgID)
	assert.GreaterOrEqual(t, tr.BadFrames, 28)
	assert.GreaterOrEqual(t, tr.BadDurationS, 3.0)
	assert.Equal(t, anomaly.Alerted, f.runner.deps.Anomaly.State())

	assert.Len(t, f.alerts.MessagesOn(f.topics.AlertBroadcast), 1)
	assert.Len(t, f.alerts.MessagesOn(f.topics.AlertDest), 1)
	assert.True(t, f.correlator.IsPending(tr.MsgID))
}

func TestHazardAndTrackAlertsShareSequence(t *testing.T) {
	f := newFixture(t)
	f.texture.dens = roi.Densities{0.001, 0.0005}

	var track *alert.TrackAlert
	for track == nil {
		track = f.process(t).Track
		f.clock.Advance(110 * time.Millisecond)
	}
	f.backend.raw = rawDetections(map[int][][]float64{0: {personAt(5, 0.9)}})
	rep := f.process(t)

	require.NotNil(t, rep.Hazard)
	assert.Equal(t, track.Seq+1, rep.Hazard.Seq)
	assert.Equal(t, fmt.Sprintf("AI_T1_%d", track.Seq+1), rep.Hazard.MsgID)
}

func TestVideoPlanePublishesFrameAndMeta(t *testing.T) {
	f := newFixture(t)

	f.process(t)

	jpegs := f.video.MessagesOn(f.topics.CamJPEG)
	metas := f.video.MessagesOn(f.topics.CamMeta)
	require.Len(t, jpegs, 1)
	require.Len(t, metas, 1)
	assert.Equal(t, mqtt.QoSAtMostOnce, jpegs[0].QoS)

	var meta alert.CamMeta
	require.NoError(t, json.Unmarshal(metas[0].Payload, &meta))
	assert.Equal(t, "CAM_META", meta.Type)
	assert.Equal(t, len("jpeg-bytes"), meta.JPEGBytes)
	assert.Equal(t, 640, meta.Width)
	assert.Equal(t, 360, meta.Height)
	assert.Equal(t, "video", meta.Plane)
}

func TestPublishFailuresDoNotStopTheFrame(t *testing.T) {
	f := newFixture(t)
	f.video.FailPublish(mqtt.ErrNotConnected)
	f.alerts.FailPublish(errors.NewStd("broker gone"))
	f.backend.raw = rawDetections(map[int][][]float64{0: {personAt(5, 0.9)}})

	rep := f.process(t)

	require.NotNil(t, rep.Hazard)
	assert.True(t, f.correlator.IsPending(rep.Hazard.MsgID))
	assert.Len(t, f.sink.ofKind(events.KindAlertSent), 1)
	assert.Equal(t, uint64(1), f.runner.Frames())
}

func TestInferenceErrorKeepsTextureAnalysis(t *testing.T) {
	f := newFixture(t)
	f.backend.err = errors.NewStd("detector timeout")
	f.texture.dens = roi.Densities{0.01, 0.05}

	rep := f.process(t)

	assert.Zero(t, rep.Detections)
	assert.Equal(t, roi.Curve, rep.Variant)
	infer := f.sink.ofType(diagnostics.EventInferenceError)
	require.Len(t, infer, 1)
	assert.Equal(t, "detector timeout", debugPayload(t, infer[0])["error"])
	assert.Len(t, f.sink.ofType(diagnostics.EventTrackVis), 1)
}

func TestDebugEventsPerFrame(t *testing.T) {
	f := newFixture(t)
	f.backend.raw = rawDetections(map[int][][]float64{
		0:  {personAt(5, 0.9)},
		56: {{10, 10, 50, 50, 0.95}}, // chair, not a hazard class
	})

	f.process(t)

	best := f.sink.ofType(diagnostics.EventYOLOBest)
	require.Len(t, best, 1)
	assert.Equal(t, "person", debugPayload(t, best[0])["label"])

	auto := f.sink.ofType(diagnostics.EventROIAuto)
	require.Len(t, auto, 1)
	assert.Equal(t, "straight", debugPayload(t, auto[0])["roi_mode_used"])

	filter := f.sink.ofType(diagnostics.EventROIFilter)
	require.Len(t, filter, 1)
	p := debugPayload(t, filter[0])
	assert.Equal(t, 1, p["relevant_count"])
	assert.Equal(t, 1, p["on_track_count"])
}

func TestTextureFailureKeepsSelection(t *testing.T) {
	f := newFixture(t)
	f.texture.dens = roi.Densities{0.01, 0.05}
	require.Equal(t, roi.Curve, f.process(t).Variant)

	f.texture.err = errors.NewStd("canny failed")
	f.texture.dens = roi.Densities{0.9, 0}
	assert.Equal(t, roi.Curve, f.process(t).Variant)
}

func TestFailingTextureNeverRaisesTrackAlert(t *testing.T) {
	f := newFixture(t)
	f.texture.err = errors.NewStd("canny failed")

	for range 40 {
		rep := f.process(t)
		assert.Nil(t, rep.Track)
		assert.Equal(t, anomaly.Normal, rep.Anomaly.State)
		f.clock.Advance(110 * time.Millisecond)
	}
	assert.Empty(t, f.alerts.MessagesOn(f.topics.AlertBroadcast))

	vis := f.sink.ofType(diagnostics.EventTrackVis)
	require.NotEmpty(t, vis)
	assert.Nil(t, debugPayload(t, vis[len(vis)-1])["edge_density_ema"])
}

func TestTextureFailureMidRunDoesNotExtendBadEpisode(t *testing.T) {
	f := newFixture(t)
	f.texture.dens = roi.Densities{0.001, 0.0005}
	for range 10 {
		f.process(t)
		f.clock.Advance(110 * time.Millisecond)
	}
	require.Equal(t, anomaly.Degrading, f.runner.deps.Anomaly.State())

	f.texture.err = errors.NewStd("canny failed")
	for range 40 {
		assert.Nil(t, f.process(t).Track)
		f.clock.Advance(110 * time.Millisecond)
	}
	assert.Equal(t, anomaly.Normal, f.runner.deps.Anomaly.State())
	assert.Empty(t, f.alerts.MessagesOn(f.topics.AlertBroadcast))
}

type sliceSource struct {
	frames []capture.Frame
	errs   []error
	pos    int
}

func (s *sliceSource) Next(ctx context.Context) (capture.Frame, error) {
	if err := ctx.Err(); err != nil {
		return capture.Frame{}, err
	}
	if s.pos >= len(s.frames) {
		return capture.Frame{}, io.EOF
	}
	i := s.pos
	s.pos++
	if i < len(s.errs) && s.errs[i] != nil {
		return capture.Frame{}, s.errs[i]
	}
	return s.frames[i], nil
}

func (s *sliceSource) Close() error { return nil }

func TestRunPacesUntilSourceExhausted(t *testing.T) {
	f := newFixture(t)
	src := &sliceSource{frames: []capture.Frame{f.frame(), f.frame(), f.frame(), f.frame()}}
	src.errs = []error{nil, errors.NewStd("read failed"), nil, nil}
	f.runner.deps.Source = src

	require.NoError(t, f.runner.Run(t.Context()))

	assert.Equal(t, uint64(3), f.runner.Frames())
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond,
		100 * time.Millisecond,
		100 * time.Millisecond,
		100 * time.Millisecond,
	}, f.clock.Sleeps())
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	f := newFixture(t)
	f.runner.deps.Source = &sliceSource{frames: []capture.Frame{f.frame()}}

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	require.NoError(t, f.runner.Run(ctx))
	assert.Zero(t, f.runner.Frames())
}

func TestRunGivesUpAfterRepeatedCaptureFailures(t *testing.T) {
	f := newFixture(t)
	src := &sliceSource{}
	for range maxCaptureFailures {
		src.frames = append(src.frames, capture.Frame{})
		src.errs = append(src.errs, errors.NewStd("no signal"))
	}
	f.runner.deps.Source = src

	err := f.runner.Run(t.Context())

	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryCamera))
}

func TestNewRequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, Deps{})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestDatasetNotifierQueuesStatus(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	DatasetNotifier(sink)(dataset.Status{Type: dataset.TypeDataset, State: dataset.StateStarted})

	got := sink.ofKind(events.KindStatus)
	require.Len(t, got, 1)
	assert.Equal(t, dataset.TypeDataset, got[0].Type)
}

func TestDatasetCaptureCommand(t *testing.T) {
	f := newFixture(t)

	f.runner.HandleCommand(f.topics.Command, []byte(`{"cmd":"capture_30s"}`))
	f.process(t)

	f.saver.mu.Lock()
	saved := len(f.saver.paths)
	f.saver.mu.Unlock()
	assert.Equal(t, 1, saved)

	statuses := f.sink.ofType(dataset.TypeDataset)
	require.NotEmpty(t, statuses)
	st, ok := statuses[0].Payload.(dataset.Status)
	require.True(t, ok)
	assert.Equal(t, dataset.StateStarted, st.State)

	// A second trigger while capturing reports busy.
	f.runner.HandleCommand(f.topics.Command, []byte(`{"cmd":"CAPTURE_30S"}`))
	f.process(t)
	statuses = f.sink.ofType(dataset.TypeDataset)
	last, ok := statuses[len(statuses)-1].Payload.(dataset.Status)
	require.True(t, ok)
	assert.Equal(t, dataset.StateBusy, last.State)
}

func TestDatasetCaptureWritesUnderDir(t *testing.T) {
	dir := t.TempDir()
	saver := &fakeSaver{}
	rec := dataset.NewRecorder(dataset.Config{Dir: dir, Duration: time.Second, FPS: 4}, saver, nil)
	require.True(t, rec.Start(epoch))

	ok, err := rec.Offer(image.NewRGBA(image.Rect(0, 0, 2, 2)), epoch)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, dir, filepath.Dir(saver.paths[0]))

	_, statErr := os.Stat(dir)
	assert.NoError(t, statErr)
}
