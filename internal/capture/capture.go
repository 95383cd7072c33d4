// Package capture provides the frame sources feeding the perception loop.
package capture

import (
	"context"
	"image"
	"time"

	"github.com/trackwatch/trackwatch/internal/logger"
)

// Frame is one working-size camera frame.
type Frame struct {
	ID       uint64
	Captured time.Time
	Color    image.Image
	Gray     *image.Gray
}

// Source yields frames. Next returns io.EOF when a finite source is exhausted.
type Source interface {
	Next(ctx context.Context) (Frame, error)
	Close() error
}

// GetLogger returns the capture package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("capture")
}
