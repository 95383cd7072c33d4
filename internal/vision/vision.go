// Package vision wraps the OpenCV operations used by the pipeline: track texture
// measurement, resizing and JPEG encoding.
package vision

import (
	"image"

	"gocv.io/x/gocv"

	"github.com/trackwatch/trackwatch/internal/errors"
	"github.com/trackwatch/trackwatch/internal/roi"
)

// minMaskArea: masks this small at analysis resolution report full density so they never read as "track lost".
const minMaskArea = 10

// EdgeConfig tunes texture measurement.
type EdgeConfig struct {
	// Size is the square analysis resolution frames are downscaled to.
	Size int
	// BlurKernel is the Gaussian kernel edge length (odd).
	BlurKernel int
	// CannyLow and CannyHigh are the hysteresis thresholds of the edge detector.
	CannyLow, CannyHigh float32
}

// DefaultEdgeConfig matches the on-vehicle calibration.
func DefaultEdgeConfig() EdgeConfig {
	return EdgeConfig{Size: 320, BlurKernel: 5, CannyLow: 60, CannyHigh: 140}
}

// EdgeAnalyzer implements roi.TextureMeter with a blur + Canny pass per frame.
type EdgeAnalyzer struct {
	cfg   EdgeConfig
	masks [roi.VariantCount][]uint8
	areas [roi.VariantCount]int
}

// NewEdgeAnalyzer binds the analysis masks of geom.
func NewEdgeAnalyzer(geom *roi.Geometry, cfg EdgeConfig) *EdgeAnalyzer {
	a := &EdgeAnalyzer{cfg: cfg}
	for v := range roi.VariantCount {
		m := geom.AnalysisMask(roi.Variant(v)).Resize(cfg.Size, cfg.Size)
		a.masks[v] = m.Bytes()
		a.areas[v] = m.Area()
	}
	return a
}

// EdgeDensities returns edge pixels per mask pixel for both variants.
func (a *EdgeAnalyzer) EdgeDensities(gray *image.Gray) (roi.Densities, error) {
	var out roi.Densities

	edges, err := a.edgeMap(gray)
	if err != nil {
		return out, err
	}

	for v := range roi.VariantCount {
		if a.areas[v] <= minMaskArea {
			out[v] = 1
			continue
		}
		mask := a.masks[v]
		hits := 0
		for i, e := range edges {
			if e != 0 && mask[i] != 0 {
				hits++
			}
		}
		out[v] = float64(hits) / float64(a.areas[v])
	}
	return out, nil
}

// edgeMap downscales, blurs and runs Canny, returning the size×size edge bytes.
func (a *EdgeAnalyzer) edgeMap(gray *image.Gray) ([]byte, error) {
	src, err := gocv.ImageGrayToMatGray(gray)
	if err != nil {
		return nil, wrapCV(err, "gray_to_mat")
	}
	defer src.Close()

	small := gocv.NewMat()
	defer small.Close()
	size := image.Pt(a.cfg.Size, a.cfg.Size)
	if err := gocv.Resize(src, &small, size, 0, 0, gocv.InterpolationArea); err != nil {
		return nil, wrapCV(err, "resize")
	}

	blurred := gocv.NewMat()
	defer blurred.Close()
	k := image.Pt(a.cfg.BlurKernel, a.cfg.BlurKernel)
	if err := gocv.GaussianBlur(small, &blurred, k, 0, 0, gocv.BorderDefault); err != nil {
		return nil, wrapCV(err, "gaussian_blur")
	}

	edges := gocv.NewMat()
	defer edges.Close()
	if err := gocv.Canny(blurred, &edges, a.cfg.CannyLow, a.cfg.CannyHigh); err != nil {
		return nil, wrapCV(err, "canny")
	}

	return edges.ToBytes(), nil
}

func wrapCV(err error, op string) error {
	return errors.New(err).
		Component("vision").
		Category(errors.CategoryImageProcess).
		Context("operation", op).
		Build()
}
