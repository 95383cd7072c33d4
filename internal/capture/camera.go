package capture

import (
	"context"

	"gocv.io/x/gocv"

	"github.com/trackwatch/trackwatch/internal/errors"
	"github.com/trackwatch/trackwatch/internal/logger"
	"github.com/trackwatch/trackwatch/internal/timeutil"
	"github.com/trackwatch/trackwatch/internal/vision"
)

// CameraConfig selects and shapes the camera feed.
type CameraConfig struct {
	// Device is a device index ("0") or a stream URL.
	Device string
	Width  int
	Height int
	Flip   bool
}

// CameraSource reads frames from a local camera or network stream.
type CameraSource struct {
	cfg    CameraConfig
	clock  timeutil.Clock
	cap    *gocv.VideoCapture
	buf    gocv.Mat
	nextID uint64
}

// OpenCamera opens the configured device.
func OpenCamera(cfg CameraConfig, clock timeutil.Clock) (*CameraSource, error) {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	vc, err := gocv.OpenVideoCapture(cfg.Device)
	if err != nil {
		return nil, errors.New(err).
			Component("capture").
			Category(errors.CategoryCamera).
			Context("device", cfg.Device).
			Build()
	}
	// Keep only the freshest frame queued in the driver.
	vc.Set(gocv.VideoCaptureBufferSize, 1)

	GetLogger().Info("camera opened",
		logger.String("device", cfg.Device),
		logger.Int("width", cfg.Width),
		logger.Int("height", cfg.Height),
		logger.Bool("flip", cfg.Flip))

	return &CameraSource{cfg: cfg, clock: clock, cap: vc, buf: gocv.NewMat()}, nil
}

// Next grabs and prepares the next frame.
func (c *CameraSource) Next(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	if ok := c.cap.Read(&c.buf); !ok || c.buf.Empty() {
		return Frame{}, errors.Newf("camera read failed").
			Component("capture").
			Category(errors.CategoryCamera).
			Context("device", c.cfg.Device).
			Build()
	}
	captured := c.clock.Now()

	color, gray, err := vision.PrepareFrame(c.buf, c.cfg.Width, c.cfg.Height, c.cfg.Flip)
	if err != nil {
		return Frame{}, err
	}
	c.nextID++
	return Frame{ID: c.nextID, Captured: captured, Color: color, Gray: gray}, nil
}

// Close releases the device.
func (c *CameraSource) Close() error {
	_ = c.buf.Close()
	return c.cap.Close()
}
