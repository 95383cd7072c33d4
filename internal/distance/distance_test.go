package distance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trackwatch/trackwatch/internal/detection"
	"github.com/trackwatch/trackwatch/internal/errors"
)

func newTestEstimator(t *testing.T) *Estimator {
	t.Helper()
	e, err := NewEstimator(Config{
		FocalPx:          820,
		ReferenceHeights: DefaultReferenceHeights,
		Close:            3,
		Medium:           6,
		MaxAlert:         18,
	})
	require.NoError(t, err)
	return e
}

func TestEstimate(t *testing.T) {
	t.Parallel()

	e := newTestEstimator(t)

	m, ok := e.Estimate(detection.PersonClassID, 278.8)
	require.True(t, ok)
	assert.InDelta(t, 5.0, m, 1e-9)

	// bus (class 5) is 3.00m
	m, ok = e.Estimate(5, 246)
	require.True(t, ok)
	assert.InDelta(t, 10.0, m, 1e-9)
}

func TestEstimateUnranged(t *testing.T) {
	t.Parallel()

	e := newTestEstimator(t)

	tests := []struct {
		name   string
		class  int
		height float64
	}{
		{"no reference height", 16, 200},
		{"one pixel", detection.PersonClassID, 1},
		{"sub pixel", detection.PersonClassID, 0.4},
		{"zero", detection.PersonClassID, 0},
		{"negative", detection.PersonClassID, -5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, ok := e.Estimate(tt.class, tt.height)
			assert.False(t, ok)
		})
	}
}

func TestEstimateMonotonic(t *testing.T) {
	t.Parallel()

	e := newTestEstimator(t)
	prev, ok := e.Estimate(detection.PersonClassID, 2)
	require.True(t, ok)
	for h := 3.0; h <= 640; h++ {
		m, ok := e.Estimate(detection.PersonClassID, h)
		require.True(t, ok)
		require.Less(t, m, prev, "height %v", h)
		prev = m
	}
}

func TestBucketFor(t *testing.T) {
	t.Parallel()

	e := newTestEstimator(t)
	assert.Equal(t, BucketClose, e.BucketFor(3.0, true))
	assert.Equal(t, BucketMedium, e.BucketFor(5.0, true))
	assert.Equal(t, BucketMedium, e.BucketFor(6.0, true))
	assert.Equal(t, BucketFar, e.BucketFor(6.01, true))
	assert.Equal(t, BucketUnknown, e.BucketFor(0, false))
}

func TestGate(t *testing.T) {
	t.Parallel()

	e := newTestEstimator(t)
	person := func(h float64) detection.Detection {
		return detection.Detection{ClassID: detection.PersonClassID, Score: 0.9, Box: detection.BBox{XMin: 300, YMin: 100, XMax: 340, YMax: 100 + h}}
	}

	dec := e.Gate(person(278.8))
	assert.True(t, dec.Allowed)
	assert.Equal(t, BucketMedium, dec.Bucket)
	assert.InDelta(t, 5.0, dec.Meters, 1e-9)

	// 25m
	dec = e.Gate(person(55.76))
	assert.False(t, dec.Allowed)
	assert.Equal(t, DecisionIgnoredFar, dec.Reason)
	assert.Equal(t, BucketFar, dec.Bucket)

	dec = e.Gate(detection.Detection{ClassID: 16, Box: detection.BBox{XMax: 10, YMax: 100}})
	assert.False(t, dec.Allowed)
	assert.Equal(t, DecisionIgnoredUnranged, dec.Reason)
	assert.Equal(t, BucketUnknown, dec.Bucket)
}

func TestNewEstimatorRejectsBadConfig(t *testing.T) {
	t.Parallel()

	_, err := NewEstimator(Config{FocalPx: 0})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))

	_, err = NewEstimator(Config{FocalPx: 820, ReferenceHeights: map[string]float64{"unicorn": 1}})
	require.Error(t, err)

	_, err = NewEstimator(Config{FocalPx: 820, ReferenceHeights: map[string]float64{"person": -1}})
	require.Error(t, err)
}
