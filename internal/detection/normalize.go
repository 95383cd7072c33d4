package detection

import (
	"math"
	"slices"

	"github.com/antonholmquist/jason"
)

// normalizedCoordLimit: boxes whose max corner is within this bound are taken to be 0..1 coordinates.
const normalizedCoordLimit = 1.5

// Normalizer converts class-wise NMS output into pixel-space detections.
type Normalizer struct {
	// ConfidenceFloor drops rows scoring below it.
	ConfidenceFloor float64
	// Width and Height are the working resolution used to scale normalized boxes.
	Width, Height int
}

// Stats counts what happened to the rows of one frame's output.
type Stats struct {
	Rows       int
	Kept       int
	Malformed  int
	BelowFloor int
	Reoriented int
	// Unrecognized is true when the payload did not contain a class-wise list.
	Unrecognized bool
}

// Normalize parses one frame of raw detector output. The payload is either the
// 80-entry class-wise list (optionally wrapped in singleton batch dimensions) or
// an object whose values are such lists, one per output tensor.
//
// Malformed rows are skipped; Normalize never fails the whole frame.
func (n Normalizer) Normalize(raw []byte) ([]Detection, Stats) {
	var stats Stats

	root, err := jason.NewValueFromBytes(raw)
	if err != nil {
		stats.Unrecognized = true
		return nil, stats
	}

	var outputs []*jason.Value
	if obj, err := root.Object(); err == nil {
		m := obj.Map()
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			outputs = append(outputs, m[k])
		}
	} else {
		outputs = []*jason.Value{root}
	}

	var dets []Detection
	recognized := false
	for _, out := range outputs {
		classes, ok := classwiseLists(out)
		if !ok {
			continue
		}
		recognized = true
		for classID, classVal := range classes {
			rows, err := classVal.Array()
			if err != nil {
				continue
			}
			for _, rowVal := range rows {
				stats.Rows++
				d, outcome := n.parseRow(classID, rowVal)
				switch outcome {
				case rowMalformed:
					stats.Malformed++
				case rowBelowFloor:
					stats.BelowFloor++
				case rowReoriented:
					stats.Reoriented++
					fallthrough
				case rowOK:
					stats.Kept++
					dets = append(dets, d)
				}
			}
		}
	}
	stats.Unrecognized = !recognized

	return dets, stats
}

// classwiseLists strips singleton wrappers and returns the per-class lists.
func classwiseLists(v *jason.Value) ([]*jason.Value, bool) {
	arr, err := v.Array()
	for err == nil && len(arr) == 1 {
		arr, err = arr[0].Array()
	}
	if err != nil || len(arr) != ClassCount {
		return nil, false
	}
	return arr, true
}

type rowOutcome int

const (
	rowOK rowOutcome = iota
	rowReoriented
	rowBelowFloor
	rowMalformed
)

func (n Normalizer) parseRow(classID int, rowVal *jason.Value) (Detection, rowOutcome) {
	row, err := rowVal.Array()
	if err != nil || len(row) < 5 {
		return Detection{}, rowMalformed
	}

	var v [5]float64
	for i := range v {
		f, err := row[i].Float64()
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return Detection{}, rowMalformed
		}
		v[i] = f
	}

	score := v[4]
	if score < n.ConfidenceFloor {
		return Detection{}, rowBelowFloor
	}

	outcome := rowOK
	// Detector rows are (ymin, xmin, ymax, xmax); some exports emit (xmin, ymin, xmax, ymax).
	box := BBox{YMin: v[0], XMin: v[1], YMax: v[2], XMax: v[3]}
	if box.XMax < box.XMin || box.YMax < box.YMin {
		box = BBox{XMin: v[0], YMin: v[1], XMax: v[2], YMax: v[3]}
		outcome = rowReoriented
	}
	// Neither reading yields an upright box; order each axis.
	if box.XMax < box.XMin {
		box.XMin, box.XMax = box.XMax, box.XMin
	}
	if box.YMax < box.YMin {
		box.YMin, box.YMax = box.YMax, box.YMin
	}

	d := Detection{
		ClassID: classID,
		Score:   min(score, 1),
		Box:     box,
	}
	if box.XMax <= normalizedCoordLimit && box.YMax <= normalizedCoordLimit {
		w, h := float64(n.Width), float64(n.Height)
		d.Box = BBox{XMin: box.XMin * w, YMin: box.YMin * h, XMax: box.XMax * w, YMax: box.YMax * h}
		d.Normalized = true
	}

	return d, outcome
}
