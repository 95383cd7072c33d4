package vision

import (
	"image"
	"os"

	"gocv.io/x/gocv"

	"github.com/trackwatch/trackwatch/internal/errors"
)

// JPEGEncoder resizes and encodes frames. Zero Width or Height keeps the source size.
type JPEGEncoder struct {
	Width, Height int
	Quality       int
}

// Encode converts img to JPEG bytes.
func (e JPEGEncoder) Encode(img image.Image) ([]byte, error) {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, wrapCV(err, "image_to_mat")
	}
	defer mat.Close()

	target := mat
	if e.Width > 0 && e.Height > 0 && (mat.Cols() != e.Width || mat.Rows() != e.Height) {
		resized := gocv.NewMat()
		defer resized.Close()
		if err := gocv.Resize(mat, &resized, image.Pt(e.Width, e.Height), 0, 0, gocv.InterpolationLinear); err != nil {
			return nil, wrapCV(err, "resize")
		}
		target = resized
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, target, []int{gocv.IMWriteJpegQuality, e.Quality})
	if err != nil {
		return nil, wrapCV(err, "jpeg_encode")
	}
	defer buf.Close()

	// The native buffer is freed on Close.
	native := buf.GetBytes()
	out := make([]byte, len(native))
	copy(out, native)
	return out, nil
}

// SaveJPEG encodes img at the encoder's settings and writes it to path.
func (e JPEGEncoder) SaveJPEG(path string, img image.Image) error {
	data, err := e.Encode(img)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.New(err).
			Component("vision").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	return nil
}

// WriteMaskPNG writes a 0/255 grayscale image, used to inspect ROI calibration.
func WriteMaskPNG(path string, img *image.Gray) error {
	mat, err := gocv.ImageGrayToMatGray(img)
	if err != nil {
		return wrapCV(err, "gray_to_mat")
	}
	defer mat.Close()

	if ok := gocv.IMWrite(path, mat); !ok {
		return errors.Newf("failed to write %s", path).
			Component("vision").
			Category(errors.CategoryFileIO).
			Build()
	}
	return nil
}

// ToGray converts a colour image to grayscale at the same size.
func ToGray(img image.Image) (*image.Gray, error) {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, wrapCV(err, "image_to_mat")
	}
	defer mat.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	if err := gocv.CvtColor(mat, &gray, gocv.ColorBGRToGray); err != nil {
		return nil, wrapCV(err, "cvt_color")
	}
	return matToGray(gray)
}

func matToGray(m gocv.Mat) (*image.Gray, error) {
	img, err := m.ToImage()
	if err != nil {
		return nil, wrapCV(err, "mat_to_image")
	}
	g, ok := img.(*image.Gray)
	if !ok {
		return nil, errors.Newf("expected grayscale image, got %T", img).
			Component("vision").
			Category(errors.CategoryImageProcess).
			Build()
	}
	return g, nil
}
