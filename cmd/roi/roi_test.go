package roi

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	trackroi "github.com/trackwatch/trackwatch/internal/roi"
)

func halfMask(left bool) *trackroi.Mask {
	pix := make([]uint8, 64*64)
	for y := range 64 {
		for x := range 64 {
			if (x < 32) == left {
				pix[y*64+x] = 1
			}
		}
	}
	return trackroi.NewMask(64, 64, pix)
}

func TestReportCoverage(t *testing.T) {
	t.Parallel()

	geom := trackroi.NewGeometry(halfMask(true), halfMask(false), 32)
	var out bytes.Buffer
	require.NoError(t, Report(&out, geom, ""))

	lines := bytes.Split(bytes.TrimSpace(out.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)
	assert.Contains(t, string(lines[0]), "straight")
	assert.Contains(t, string(lines[0]), "50.00%")
	assert.Contains(t, string(lines[1]), "curve")
}

func TestReportWritesMasks(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "masks")
	geom := trackroi.NewGeometry(halfMask(true), halfMask(false), 32)
	var out bytes.Buffer
	require.NoError(t, Report(&out, geom, dir))

	for _, name := range []string{"roi_straight.png", "roi_straight_analysis.png", "roi_curve.png", "roi_curve_analysis.png"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}
}
