// Package dataset records throttled JPEG snapshots of the camera feed on demand.
package dataset

import (
	"image"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"golang.org/x/time/rate"

	"github.com/trackwatch/trackwatch/internal/errors"
	"github.com/trackwatch/trackwatch/internal/logger"
)

// Capture states reported in DATASET messages.
const (
	StateStarted  = "started"
	StateSaved    = "saved"
	StateFinished = "finished"
	StateBusy     = "busy"
	StateFailed   = "failed"
)

// TypeDataset is the message type of capture progress reports.
const TypeDataset = "DATASET"

// progressEvery is the number of saved files between progress reports.
const progressEvery = 10

// Status reports capture progress on the status topic.
type Status struct {
	Type  string `json:"type"`
	State string `json:"state"`
	Saved int    `json:"saved"`
	Dir   string `json:"dir"`
	TS    string `json:"ts"`
	Error string `json:"error,omitempty"`
}

// Saver writes one frame as a JPEG file.
type Saver interface {
	SaveJPEG(path string, img image.Image) error
}

// Config controls a capture session.
type Config struct {
	Dir      string
	Duration time.Duration
	FPS      float64
	// MinFreeBytes refuses sessions when the filesystem holding Dir has less
	// space available. Zero disables the check.
	MinFreeBytes uint64
}

// Recorder runs at most one capture session at a time. The perception loop
// calls Offer for every frame; frames outside an active session, or arriving
// faster than the configured rate, are ignored.
type Recorder struct {
	cfg    Config
	saver  Saver
	notify func(Status)
	log    logger.Logger
	free   func(path string) (uint64, error)

	mu      sync.Mutex
	active  bool
	started time.Time
	saved   int
	limiter *rate.Limiter
}

// GetLogger returns the dataset package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("dataset")
}

// NewRecorder creates a recorder. notify receives progress reports and may be nil.
func NewRecorder(cfg Config, saver Saver, notify func(Status)) *Recorder {
	if notify == nil {
		notify = func(Status) {}
	}
	return &Recorder{cfg: cfg, saver: saver, notify: notify, log: GetLogger(), free: diskFree}
}

// diskFree returns the bytes available to unprivileged users on the filesystem holding path.
func diskFree(path string) (uint64, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}

// Active reports whether a session is running.
func (r *Recorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Start begins a session at now. It returns false, and reports busy, when a
// session is already running.
func (r *Recorder) Start(now time.Time) bool {
	r.mu.Lock()
	if r.active {
		saved := r.saved
		r.mu.Unlock()
		r.notify(r.status(StateBusy, saved, now, nil))
		return false
	}

	if err := os.MkdirAll(r.cfg.Dir, 0o755); err != nil {
		r.mu.Unlock()
		ee := errors.New(err).
			Component("dataset").
			Category(errors.CategoryFileIO).
			Context("dir", r.cfg.Dir).
			Build()
		r.log.Error("cannot create dataset directory", logger.Error(ee))
		r.notify(r.status(StateFailed, 0, now, ee))
		return false
	}

	if err := r.checkFreeSpace(); err != nil {
		r.mu.Unlock()
		r.log.Warn("dataset capture refused", logger.Error(err))
		r.notify(r.status(StateFailed, 0, now, err))
		return false
	}

	r.active = true
	r.started = now
	r.saved = 0
	// Burst 1: never more than one frame per interval.
	r.limiter = rate.NewLimiter(rate.Limit(r.cfg.FPS), 1)
	r.mu.Unlock()

	r.log.Info("dataset capture started",
		logger.String("dir", r.cfg.Dir),
		logger.Duration("duration", r.cfg.Duration),
		logger.Float64("fps", r.cfg.FPS))
	r.notify(r.status(StateStarted, 0, now, nil))
	return true
}

func (r *Recorder) checkFreeSpace() error {
	if r.cfg.MinFreeBytes == 0 {
		return nil
	}
	free, err := r.free(r.cfg.Dir)
	if err != nil {
		return errors.New(err).
			Component("dataset").
			Category(errors.CategorySystem).
			Context("dir", r.cfg.Dir).
			Build()
	}
	if free < r.cfg.MinFreeBytes {
		return errors.Newf("insufficient disk space: %d bytes free, need %d", free, r.cfg.MinFreeBytes).
			Component("dataset").
			Category(errors.CategoryFileIO).
			Context("dir", r.cfg.Dir).
			Build()
	}
	return nil
}

// Offer saves img if a session is running and the rate allows it. A session
// past its duration finishes instead.
func (r *Recorder) Offer(img image.Image, now time.Time) (bool, error) {
	r.mu.Lock()
	if !r.active {
		r.mu.Unlock()
		return false, nil
	}
	if now.Sub(r.started) >= r.cfg.Duration {
		saved := r.saved
		r.active = false
		r.mu.Unlock()
		r.log.Info("dataset capture finished", logger.Int("saved", saved))
		r.notify(r.status(StateFinished, saved, now, nil))
		return false, nil
	}
	if !r.limiter.AllowN(now, 1) {
		r.mu.Unlock()
		return false, nil
	}
	r.mu.Unlock()

	path := filepath.Join(r.cfg.Dir, FileName(now))
	if err := r.saver.SaveJPEG(path, img); err != nil {
		return false, err
	}

	r.mu.Lock()
	r.saved++
	saved := r.saved
	r.mu.Unlock()

	if saved%progressEvery == 0 {
		r.notify(r.status(StateSaved, saved, now, nil))
	}
	return true, nil
}

func (r *Recorder) status(state string, saved int, at time.Time, err error) Status {
	s := Status{
		Type:  TypeDataset,
		State: state,
		Saved: saved,
		Dir:   r.cfg.Dir,
		TS:    at.UTC().Format("2006-01-02T15:04:05Z"),
	}
	if err != nil {
		s.Error = err.Error()
	}
	return s
}

// FileName returns the snapshot name for a capture at t, local time with
// millisecond resolution.
func FileName(t time.Time) string {
	return "frame_" + t.Format("20060102_150405") + "_" + t.Format(".000")[1:] + ".jpg"
}
