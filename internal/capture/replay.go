package capture

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/trackwatch/trackwatch/internal/errors"
	"github.com/trackwatch/trackwatch/internal/timeutil"
	"github.com/trackwatch/trackwatch/internal/vision"
)

// ManifestEntry is one line of a replay manifest.
type ManifestEntry struct {
	// Image is resolved relative to the manifest directory.
	Image string `json:"image"`
	// Detections is the raw detector output replayed for this frame.
	Detections json.RawMessage `json:"detections"`
	// CaptureMs optionally pins the capture timestamp (unix milliseconds).
	CaptureMs int64 `json:"t_capture_ms,omitempty"`
}

// LoadManifest reads a JSONL manifest. Blank lines are skipped.
func LoadManifest(path string) ([]ManifestEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, manifestError(err, path, 0)
	}
	defer func() { _ = f.Close() }()

	base := filepath.Dir(path)
	var entries []ManifestEntry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16<<20)
	line := 0
	for sc.Scan() {
		line++
		text := sc.Bytes()
		if len(bytes.TrimSpace(text)) == 0 {
			continue
		}
		var e ManifestEntry
		if err := json.Unmarshal(text, &e); err != nil {
			return nil, manifestError(err, path, line)
		}
		if e.Image == "" {
			return nil, manifestError(fmt.Errorf("missing image"), path, line)
		}
		if !filepath.IsAbs(e.Image) {
			e.Image = filepath.Join(base, e.Image)
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, manifestError(err, path, line)
	}
	return entries, nil
}

func manifestError(err error, path string, line int) error {
	return errors.New(err).
		Component("capture").
		Category(errors.CategoryFileIO).
		Context("manifest", path).
		Context("line", line).
		Build()
}

// ReplaySource plays back recorded frames with their recorded detector
// output. It also serves as the inference backend for those frames.
type ReplaySource struct {
	entries []ManifestEntry
	width   int
	height  int
	clock   timeutil.Clock
	loop    bool

	mu      sync.Mutex
	pos     int
	nextID  uint64
	pending map[uint64]json.RawMessage
}

// NewReplaySource creates a source over entries. When loop is set the
// manifest restarts instead of ending.
func NewReplaySource(entries []ManifestEntry, width, height int, loop bool, clock timeutil.Clock) *ReplaySource {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &ReplaySource{
		entries: entries,
		width:   width,
		height:  height,
		clock:   clock,
		loop:    loop,
		pending: make(map[uint64]json.RawMessage),
	}
}

// Next loads the next manifest image.
func (r *ReplaySource) Next(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}

	r.mu.Lock()
	if r.pos >= len(r.entries) {
		if !r.loop || len(r.entries) == 0 {
			r.mu.Unlock()
			return Frame{}, io.EOF
		}
		r.pos = 0
	}
	e := r.entries[r.pos]
	r.pos++
	r.nextID++
	id := r.nextID
	r.pending[id] = e.Detections
	r.mu.Unlock()

	mat := gocv.IMRead(e.Image, gocv.IMReadColor)
	defer mat.Close()
	if mat.Empty() {
		r.forget(id)
		return Frame{}, errors.Newf("cannot read image %s", e.Image).
			Component("capture").
			Category(errors.CategoryFileIO).
			Build()
	}

	color, gray, err := vision.PrepareFrame(mat, r.width, r.height, false)
	if err != nil {
		r.forget(id)
		return Frame{}, err
	}

	captured := r.clock.Now()
	if e.CaptureMs > 0 {
		captured = time.UnixMilli(e.CaptureMs)
	}
	return Frame{ID: id, Captured: captured, Color: color, Gray: gray}, nil
}

func (r *ReplaySource) forget(id uint64) {
	r.mu.Lock()
	delete(r.pending, id)
	r.mu.Unlock()
}

// Infer returns the recorded detector output for frame. Each frame's output
// is handed out once.
func (r *ReplaySource) Infer(_ context.Context, frame Frame) ([]byte, error) {
	r.mu.Lock()
	raw, ok := r.pending[frame.ID]
	delete(r.pending, frame.ID)
	r.mu.Unlock()
	if !ok {
		return nil, errors.Newf("no recorded detections for frame %d", frame.ID).
			Component("capture").
			Category(errors.CategoryInference).
			Build()
	}
	if len(raw) == 0 {
		return []byte("[]"), nil
	}
	return raw, nil
}

// Close implements Source.
func (r *ReplaySource) Close() error {
	return nil
}
