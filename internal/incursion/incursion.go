// Package incursion decides which detection, if any, is physically on the track.
package incursion

import (
	"github.com/trackwatch/trackwatch/internal/detection"
	"github.com/trackwatch/trackwatch/internal/roi"
)

// Candidate is a detection that passed both track tests.
type Candidate struct {
	Detection detection.Detection
	Overlap   float64
}

// Result is the per-frame outcome, including counts for the ROI_FILTER debug event.
type Result struct {
	Candidate Candidate
	Found     bool

	Total             int // every detection in the frame
	Hazards           int // hazard-class detections tested against the mask
	OnTrack           int
	RejectedOverlap   int
	RejectedFootpoint int
}

// Filter tests detections against the active track mask.
type Filter struct {
	// OverlapThreshold is the minimum mask-covered share of the box area.
	OverlapThreshold float64
}

// Apply returns the highest-scoring on-track hazard of the frame. A detection is
// on track only when its overlap meets the threshold and its bottom-center pixel
// lies inside the mask.
func (f Filter) Apply(dets []detection.Detection, mask *roi.Mask) Result {
	res := Result{Total: len(dets)}
	if mask == nil {
		return res
	}

	for _, d := range dets {
		if !detection.IsHazardClass(d.ClassID) {
			continue
		}
		res.Hazards++

		overlap := mask.Overlap(d.Box)
		if overlap < f.OverlapThreshold {
			res.RejectedOverlap++
			continue
		}
		if !mask.BottomCenterInside(d.Box) {
			res.RejectedFootpoint++
			continue
		}

		res.OnTrack++
		if !res.Found || d.Score > res.Candidate.Detection.Score {
			res.Candidate = Candidate{Detection: d, Overlap: overlap}
			res.Found = true
		}
	}
	return res
}
