package roi

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/trackwatch/trackwatch/internal/errors"
)

// Default polygon labels in the calibration files.
const (
	LabelStraight = "track_roi_straight"
	LabelCurve    = "track_roi_curve"
)

// Point is a polygon vertex in pixel coordinates.
type Point struct {
	X, Y float64
}

// Polygon is a labelled vertex list.
type Polygon struct {
	Label  string
	Points []Point
}

// labelmeFile is the subset of the Labelme annotation format we read.
type labelmeFile struct {
	ImageWidth  int `json:"imageWidth"`
	ImageHeight int `json:"imageHeight"`
	Shapes      []struct {
		Label  string       `json:"label"`
		Points [][2]float64 `json:"points"`
	} `json:"shapes"`
}

// LoadPolygon reads the polygon labelled label from a Labelme JSON file and
// scales it from the annotated image size to width×height.
func LoadPolygon(path, label string, width, height int) (Polygon, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Polygon{}, errors.New(err).
			Component("roi").
			Category(errors.CategoryCalibration).
			Context("file", path).
			Build()
	}

	var lm labelmeFile
	if err := json.Unmarshal(data, &lm); err != nil {
		return Polygon{}, errors.Newf("parse calibration %s: %w", path, err).
			Component("roi").
			Category(errors.CategoryCalibration).
			Build()
	}

	srcW, srcH := lm.ImageWidth, lm.ImageHeight
	if srcW <= 0 {
		srcW = width
	}
	if srcH <= 0 {
		srcH = height
	}
	sx := float64(width) / float64(srcW)
	sy := float64(height) / float64(srcH)

	for _, shape := range lm.Shapes {
		if strings.TrimSpace(shape.Label) != label {
			continue
		}
		if len(shape.Points) < 3 {
			return Polygon{}, errors.Newf("label %q in %s has %d points, need at least 3", label, path, len(shape.Points)).
				Component("roi").
				Category(errors.CategoryCalibration).
				Build()
		}
		poly := Polygon{Label: label, Points: make([]Point, len(shape.Points))}
		for i, p := range shape.Points {
			poly.Points[i] = Point{X: p[0] * sx, Y: p[1] * sy}
		}
		return poly, nil
	}

	return Polygon{}, errors.Newf("label %q not found in %s", label, path).
		Component("roi").
		Category(errors.CategoryCalibration).
		Context("label", label).
		Build()
}

// Source locates one variant's polygon.
type Source struct {
	File  string
	Label string
}

// Geometry holds both variants' masks at working and analysis resolution.
type Geometry struct {
	working  [VariantCount]*Mask
	analysis [VariantCount]*Mask
}

// LoadGeometry loads and rasterizes both track polygons. Any failure is fatal to startup:
// without track geometry no incursion decision is safe.
func LoadGeometry(straight, curve Source, width, height, analysisSize int) (*Geometry, error) {
	g := &Geometry{}
	for v, src := range [VariantCount]Source{straight, curve} {
		poly, err := LoadPolygon(src.File, src.Label, width, height)
		if err != nil {
			return nil, err
		}
		mask := Rasterize(poly, width, height)
		if mask.Area() == 0 {
			return nil, errors.Newf("%s polygon %q covers no pixels", Variant(v), src.Label).
				Component("roi").
				Category(errors.CategoryCalibration).
				Build()
		}
		g.working[v] = mask
		g.analysis[v] = mask.Resize(analysisSize, analysisSize)
	}
	return g, nil
}

// NewGeometry wraps prebuilt working-resolution masks.
func NewGeometry(straight, curve *Mask, analysisSize int) *Geometry {
	return &Geometry{
		working:  [VariantCount]*Mask{straight, curve},
		analysis: [VariantCount]*Mask{straight.Resize(analysisSize, analysisSize), curve.Resize(analysisSize, analysisSize)},
	}
}

// Mask returns the working-resolution mask for v.
func (g *Geometry) Mask(v Variant) *Mask {
	return g.working[v]
}

// AnalysisMask returns the downscaled mask used for texture measurement.
func (g *Geometry) AnalysisMask(v Variant) *Mask {
	return g.analysis[v]
}
