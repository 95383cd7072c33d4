package vision

import (
	"image"

	"gocv.io/x/gocv"

	"github.com/trackwatch/trackwatch/internal/errors"
)

var errEmptyFrame = errors.NewStd("empty frame")

// PrepareFrame brings a BGR camera frame to the working size, optionally
// rotating it 180 degrees, and returns colour and grayscale copies owned by Go.
func PrepareFrame(src gocv.Mat, width, height int, flip bool) (image.Image, *image.Gray, error) {
	if src.Empty() {
		return nil, nil, wrapCV(errEmptyFrame, "prepare_frame")
	}

	work := src
	if width > 0 && height > 0 && (src.Cols() != width || src.Rows() != height) {
		resized := gocv.NewMat()
		defer resized.Close()
		if err := gocv.Resize(src, &resized, image.Pt(width, height), 0, 0, gocv.InterpolationLinear); err != nil {
			return nil, nil, wrapCV(err, "resize")
		}
		work = resized
	}

	if flip {
		flipped := gocv.NewMat()
		defer flipped.Close()
		// -1 flips both axes.
		gocv.Flip(work, &flipped, -1)
		work = flipped
	}

	color, err := work.ToImage()
	if err != nil {
		return nil, nil, wrapCV(err, "mat_to_image")
	}

	grayMat := gocv.NewMat()
	defer grayMat.Close()
	if err := gocv.CvtColor(work, &grayMat, gocv.ColorBGRToGray); err != nil {
		return nil, nil, wrapCV(err, "cvt_color")
	}
	gray, err := matToGray(grayMat)
	if err != nil {
		return nil, nil, err
	}
	return color, gray, nil
}
