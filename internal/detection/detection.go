// Package detection turns raw class-wise NMS output from the object detector
// into pixel-space detections.
package detection

// BBox is an axis-aligned box in working-resolution pixel space.
type BBox struct {
	XMin float64 `json:"xmin"`
	YMin float64 `json:"ymin"`
	XMax float64 `json:"xmax"`
	YMax float64 `json:"ymax"`
}

// Height returns the box height clamped to at least 1px.
func (b BBox) Height() float64 {
	return max(1, b.YMax-b.YMin)
}

// Width returns the box width, zero for degenerate boxes.
func (b BBox) Width() float64 {
	return max(0, b.XMax-b.XMin)
}

// Array returns the box as [xmin, ymin, xmax, ymax].
func (b BBox) Array() [4]float64 {
	return [4]float64{b.XMin, b.YMin, b.XMax, b.YMax}
}

// Detection is one object found in a frame. It lives for a single frame.
type Detection struct {
	ClassID int
	Score   float64
	Box     BBox
	// Normalized is true when the detector reported 0..1 coordinates that were scaled to pixels.
	Normalized bool
}

// Label returns the COCO label of the detection's class.
func (d Detection) Label() string {
	return Label(d.ClassID)
}

// Category returns the hazard category of the detection's class.
func (d Detection) Category() Category {
	return CategoryFor(d.ClassID)
}

// CoordMode reports how the detector expressed the box, for diagnostics.
func (d Detection) CoordMode() string {
	if d.Normalized {
		return "normalized"
	}
	return "pixels"
}

// Best returns the highest scoring detection. ok is false for an empty slice.
func Best(dets []Detection) (best Detection, ok bool) {
	for i, d := range dets {
		if i == 0 || d.Score > best.Score {
			best = d
			ok = true
		}
	}
	return best, ok
}

// HazardsOnly keeps detections of person, vehicle and animal classes.
func HazardsOnly(dets []Detection) []Detection {
	out := make([]Detection, 0, len(dets))
	for _, d := range dets {
		if IsHazardClass(d.ClassID) {
			out = append(out, d)
		}
	}
	return out
}
