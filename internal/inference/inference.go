// Package inference talks to the object detector.
package inference

import (
	"context"
	"fmt"
	"image"
	"net/http"
	"time"

	"github.com/trackwatch/trackwatch/internal/capture"
	"github.com/trackwatch/trackwatch/internal/errors"
	"github.com/trackwatch/trackwatch/internal/httpclient"
	"github.com/trackwatch/trackwatch/internal/logger"
)

// Backend runs detection on a frame and returns the raw detector output,
// class-wise lists of [ymin, xmin, ymax, xmax, score] rows.
type Backend interface {
	Infer(ctx context.Context, frame capture.Frame) ([]byte, error)
}

// Encoder turns a frame into the request body.
type Encoder interface {
	Encode(img image.Image) ([]byte, error)
}

// GetLogger returns the inference package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("inference")
}

// HTTPConfig configures the HTTP detector backend.
type HTTPConfig struct {
	URL     string
	Timeout time.Duration
}

// HTTPBackend posts JPEG frames to a detector service.
type HTTPBackend struct {
	url     string
	client  *httpclient.Client
	encoder Encoder
}

// NewHTTPBackend creates a backend posting to cfg.URL.
func NewHTTPBackend(cfg HTTPConfig, encoder Encoder) (*HTTPBackend, error) {
	if cfg.URL == "" {
		return nil, errors.Newf("detector URL is empty").
			Component("inference").
			Category(errors.CategoryConfiguration).
			Build()
	}
	client := httpclient.New(&httpclient.Config{DefaultTimeout: cfg.Timeout})
	client.SetObserveHook(func(req *http.Request, status int, elapsed time.Duration, err error) {
		GetLogger().Trace("detector request",
			logger.String("url", req.URL.String()),
			logger.Int("status", status),
			logger.Duration("elapsed", elapsed),
			logger.Error(err))
	})
	return &HTTPBackend{url: cfg.URL, client: client, encoder: encoder}, nil
}

// Client exposes the HTTP client.
func (b *HTTPBackend) Client() *httpclient.Client {
	return b.client
}

// Infer implements Backend.
func (b *HTTPBackend) Infer(ctx context.Context, frame capture.Frame) ([]byte, error) {
	body, err := b.encoder.Encode(frame.Color)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := b.client.PostBytes(ctx, b.url, "image/jpeg", body)
	if err != nil {
		return nil, b.inferError(err, frame.ID, time.Since(start))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, b.inferError(fmt.Errorf("detector returned HTTP %d", resp.StatusCode), frame.ID, time.Since(start))
	}
	return resp.Body, nil
}

// inferError does not report to telemetry; a flapping detector would flood it.
func (b *HTTPBackend) inferError(err error, frameID uint64, elapsed time.Duration) error {
	return fmt.Errorf("inference frame %d after %s: %w", frameID, elapsed.Round(time.Millisecond), err)
}

// Close releases idle connections.
func (b *HTTPBackend) Close() {
	b.client.Close()
}
