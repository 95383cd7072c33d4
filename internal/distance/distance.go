// Package distance ranges detections from their pixel height and gates alerts by range.
package distance

import (
	"sort"
	"strings"

	"github.com/trackwatch/trackwatch/internal/detection"
	"github.com/trackwatch/trackwatch/internal/errors"
)

// Bucket is a qualitative distance zone.
type Bucket string

const (
	BucketClose   Bucket = "CLOSE"
	BucketMedium  Bucket = "MEDIUM"
	BucketFar     Bucket = "FAR"
	BucketUnknown Bucket = "UNKNOWN"
)

// Gate decisions reported on the DISTANCE_FILTER debug event.
const (
	DecisionIgnoredFar      = "ignored_far_object"
	DecisionIgnoredUnranged = "ignored_unranged_object"
)

// DefaultReferenceHeights are physical heights in metres by COCO label.
var DefaultReferenceHeights = map[string]float64{
	"person":     1.70,
	"bicycle":    1.50,
	"car":        1.50,
	"motorcycle": 1.50,
	"bus":        3.00,
	"train":      3.20,
	"truck":      3.00,
}

// Config holds the calibration and thresholds.
type Config struct {
	FocalPx float64
	// ReferenceHeights maps COCO labels to metres.
	ReferenceHeights map[string]float64
	Close            float64
	Medium           float64
	MaxAlert         float64
}

// Estimator converts box heights to metres. It is immutable after construction.
type Estimator struct {
	cfg     Config
	heights map[int]float64
}

// NewEstimator resolves the label-keyed heights to class ids.
func NewEstimator(cfg Config) (*Estimator, error) {
	if cfg.FocalPx <= 0 {
		return nil, errors.Newf("focal length must be positive, got %v", cfg.FocalPx).
			Component("distance").
			Category(errors.CategoryConfiguration).
			Build()
	}

	labels := make([]string, 0, len(cfg.ReferenceHeights))
	for l := range cfg.ReferenceHeights {
		labels = append(labels, l)
	}
	sort.Strings(labels)

	heights := make(map[int]float64, len(labels))
	for _, l := range labels {
		h := cfg.ReferenceHeights[l]
		id, ok := detection.ClassIDForLabel(strings.ToLower(strings.TrimSpace(l)))
		if !ok {
			return nil, errors.Newf("unknown class label %q in reference heights", l).
				Component("distance").
				Category(errors.CategoryConfiguration).
				Build()
		}
		if h <= 0 {
			return nil, errors.Newf("reference height for %q must be positive, got %v", l, h).
				Component("distance").
				Category(errors.CategoryConfiguration).
				Build()
		}
		heights[id] = h
	}
	return &Estimator{cfg: cfg, heights: heights}, nil
}

// Estimate returns the distance in metres. ok is false when the class has no
// reference height or the box is 1px tall or less.
func (e *Estimator) Estimate(classID int, heightPx float64) (meters float64, ok bool) {
	ref, known := e.heights[classID]
	if !known || !(heightPx > 1) {
		return 0, false
	}
	return ref * e.cfg.FocalPx / heightPx, true
}

// BucketFor classifies a distance.
func (e *Estimator) BucketFor(meters float64, ok bool) Bucket {
	switch {
	case !ok:
		return BucketUnknown
	case meters <= e.cfg.Close:
		return BucketClose
	case meters <= e.cfg.Medium:
		return BucketMedium
	default:
		return BucketFar
	}
}

// Decision is the gate outcome for one candidate.
type Decision struct {
	Meters   float64
	Ranged   bool
	Bucket   Bucket
	HeightPx float64
	Allowed  bool
	// Reason is one of the Decision* constants when Allowed is false.
	Reason string
}

// Gate ranges a detection and decides whether it may raise an alert. Objects that
// cannot be ranged or lie beyond MaxAlert never alert.
func (e *Estimator) Gate(d detection.Detection) Decision {
	h := d.Box.YMax - d.Box.YMin
	m, ok := e.Estimate(d.ClassID, h)
	dec := Decision{Meters: m, Ranged: ok, Bucket: e.BucketFor(m, ok), HeightPx: h}

	switch {
	case !ok:
		dec.Reason = DecisionIgnoredUnranged
	case m > e.cfg.MaxAlert:
		dec.Reason = DecisionIgnoredFar
	default:
		dec.Allowed = true
	}
	return dec
}
