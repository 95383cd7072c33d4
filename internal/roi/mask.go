package roi

import (
	"image"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/vector"

	"github.com/trackwatch/trackwatch/internal/detection"
)

// coverageThreshold is the anti-aliased coverage (of 255) at which a pixel belongs to the polygon.
const coverageThreshold = 128

// Mask is an immutable binary raster. A summed-area table makes box overlap O(1).
type Mask struct {
	width, height int
	pix           []uint8 // 0 or 1, row-major
	integral      []int32 // (width+1)*(height+1)
	area          int
}

// NewMask builds a mask from row-major pixels; any non-zero value is inside.
func NewMask(width, height int, pix []uint8) *Mask {
	m := &Mask{
		width:  width,
		height: height,
		pix:    make([]uint8, width*height),
	}
	for i := range m.pix {
		if i < len(pix) && pix[i] != 0 {
			m.pix[i] = 1
		}
	}
	m.buildIntegral()
	return m
}

// Rasterize fills a polygon into a width×height mask.
func Rasterize(poly Polygon, width, height int) *Mask {
	bounds := image.Rect(0, 0, width, height)
	coverage := image.NewAlpha(bounds)

	if len(poly.Points) >= 3 {
		r := vector.NewRasterizer(width, height)
		r.DrawOp = draw.Src
		r.MoveTo(float32(poly.Points[0].X), float32(poly.Points[0].Y))
		for _, p := range poly.Points[1:] {
			r.LineTo(float32(p.X), float32(p.Y))
		}
		r.ClosePath()
		r.Draw(coverage, bounds, image.Opaque, image.Point{})
	}

	pix := make([]uint8, width*height)
	for y := range height {
		row := coverage.Pix[y*coverage.Stride : y*coverage.Stride+width]
		for x, a := range row {
			if a >= coverageThreshold {
				pix[y*width+x] = 1
			}
		}
	}
	return NewMask(width, height, pix)
}

func (m *Mask) buildIntegral() {
	stride := m.width + 1
	m.integral = make([]int32, stride*(m.height+1))
	m.area = 0
	for y := range m.height {
		var rowSum int32
		for x := range m.width {
			v := int32(m.pix[y*m.width+x])
			rowSum += v
			m.integral[(y+1)*stride+x+1] = m.integral[y*stride+x+1] + rowSum
		}
		m.area += int(rowSum)
	}
}

// Width returns the mask width in pixels.
func (m *Mask) Width() int { return m.width }

// Height returns the mask height in pixels.
func (m *Mask) Height() int { return m.height }

// Area is the number of pixels inside the mask.
func (m *Mask) Area() int { return m.area }

// At reports whether (x, y) is inside. Out of range points are outside.
func (m *Mask) At(x, y int) bool {
	if x < 0 || y < 0 || x >= m.width || y >= m.height {
		return false
	}
	return m.pix[y*m.width+x] == 1
}

// Bytes returns a copy of the 0/1 pixels.
func (m *Mask) Bytes() []uint8 {
	out := make([]uint8, len(m.pix))
	copy(out, m.pix)
	return out
}

// sum counts inside pixels in the half-open rectangle [x1,x2)×[y1,y2).
func (m *Mask) sum(x1, y1, x2, y2 int) int {
	stride := m.width + 1
	return int(m.integral[y2*stride+x2] - m.integral[y1*stride+x2] - m.integral[y2*stride+x1] + m.integral[y1*stride+x1])
}

// Overlap returns the fraction of the box, clamped to the mask bounds, that lies inside the mask.
// Degenerate boxes return 0.
func (m *Mask) Overlap(b detection.BBox) float64 {
	x1 := clamp(int(b.XMin), 0, m.width-1)
	y1 := clamp(int(b.YMin), 0, m.height-1)
	x2 := clamp(int(b.XMax), 0, m.width)
	y2 := clamp(int(b.YMax), 0, m.height)

	if x2 <= x1 || y2 <= y1 {
		return 0
	}

	area := (x2 - x1) * (y2 - y1)
	return float64(m.sum(x1, y1, x2, y2)) / float64(area)
}

// BottomCenterInside tests the pixel under the middle of the box's bottom edge.
// The point is clamped into the mask, so boxes hanging off the frame test the border pixel.
func (m *Mask) BottomCenterInside(b detection.BBox) bool {
	cx := clamp(int(math.RoundToEven((b.XMin+b.XMax)/2)), 0, m.width-1)
	cy := clamp(int(math.RoundToEven(b.YMax)), 0, m.height-1)
	return m.pix[cy*m.width+cx] == 1
}

// Resize returns a nearest-neighbour rescaled copy.
func (m *Mask) Resize(width, height int) *Mask {
	if width == m.width && height == m.height {
		return m
	}
	src := m.Gray()
	dst := image.NewGray(image.Rect(0, 0, width, height))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return NewMask(width, height, dst.Pix)
}

// Gray renders the mask as a 0/255 grayscale image.
func (m *Mask) Gray() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, m.width, m.height))
	for i, v := range m.pix {
		img.Pix[i] = v * 255
	}
	return img
}

func clamp(v, lo, hi int) int {
	return max(lo, min(hi, v))
}
