package opencv

import (
	"fmt"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-usbcam/pkg/camera"
)

// DefaultJPEGQuality is used by EncodeJPEG.
const DefaultJPEGQuality = 80

// FrameFromMat copies an 8-bit Mat into a Frame. Three and four channel Mats
// are taken to be in OpenCV's native BGR/BGRA order.
func FrameFromMat(m gocv.Mat) (camera.Frame, error) {
	var order camera.ChannelOrder
	switch m.Type() {
	case gocv.MatTypeCV8UC1:
		order = camera.OrderGray
	case gocv.MatTypeCV8UC3:
		order = camera.OrderBGR
	case gocv.MatTypeCV8UC4:
		order = camera.OrderBGRA
	default:
		return camera.Frame{}, fmt.Errorf("unsupported mat type %v", m.Type())
	}

	src := m
	if !m.IsContinuous() {
		src = m.Clone()
		defer src.Close()
	}
	return camera.Frame{
		Width:  src.Cols(),
		Height: src.Rows(),
		Order:  order,
		Data:   src.ToBytes(),
	}, nil
}

// ToMat converts f to a Mat in OpenCV's native channel order. The caller
// owns the returned Mat.
func ToMat(f camera.Frame) (gocv.Mat, error) {
	if err := f.Validate(); err != nil {
		return gocv.Mat{}, err
	}
	if f.Order == camera.OrderRGB || f.Order == camera.OrderRGBA {
		f = f.SwapRB()
	}

	var mt gocv.MatType
	switch f.Channels() {
	case 1:
		mt = gocv.MatTypeCV8UC1
	case 3:
		mt = gocv.MatTypeCV8UC3
	case 4:
		mt = gocv.MatTypeCV8UC4
	default:
		return gocv.Mat{}, fmt.Errorf("unsupported channel order %v", f.Order)
	}
	return gocv.NewMatFromBytes(f.Height, f.Width, mt, f.Data[:f.Stride()*f.Height])
}

// EncodeJPEG encodes f as JPEG at DefaultJPEGQuality.
func EncodeJPEG(f camera.Frame) ([]byte, error) {
	return EncodeJPEGQuality(f, DefaultJPEGQuality)
}

// EncodeJPEGQuality encodes f as JPEG at the given quality (1-100).
func EncodeJPEGQuality(f camera.Frame, quality int) ([]byte, error) {
	mat, err := ToMat(f)
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, mat, []int{int(gocv.IMWriteJpegQuality), quality})
	if err != nil {
		return nil, fmt.Errorf("jpeg encode: %w", err)
	}
	defer buf.Close()

	// The native buffer is freed on Close
	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}
