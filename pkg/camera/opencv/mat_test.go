package opencv

import (
	"bytes"
	"testing"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-usbcam/pkg/camera"
)

func solidFrame(order camera.ChannelOrder, w, h int, px ...byte) camera.Frame {
	f := camera.Frame{Width: w, Height: h, Order: order}
	f.Data = make([]byte, 0, f.Stride()*h)
	for i := 0; i < w*h; i++ {
		f.Data = append(f.Data, px...)
	}
	return f
}

func TestMatRoundTrip(t *testing.T) {
	f := solidFrame(camera.OrderBGR, 4, 3, 10, 20, 30)

	mat, err := ToMat(f)
	if err != nil {
		t.Fatalf("ToMat failed: %v", err)
	}
	defer mat.Close()

	if mat.Cols() != 4 || mat.Rows() != 3 || mat.Type() != gocv.MatTypeCV8UC3 {
		t.Errorf("Expected 4x3 CV8UC3, got %dx%d %v", mat.Cols(), mat.Rows(), mat.Type())
	}

	back, err := FrameFromMat(mat)
	if err != nil {
		t.Fatalf("FrameFromMat failed: %v", err)
	}
	if back.Order != camera.OrderBGR || !bytes.Equal(back.Data, f.Data) {
		t.Errorf("Expected round trip to preserve BGR bytes, got %v", back.Data[:3])
	}
}

func TestToMat_RGBStoredAsBGR(t *testing.T) {
	f := solidFrame(camera.OrderRGB, 2, 2, 30, 20, 10)

	mat, err := ToMat(f)
	if err != nil {
		t.Fatalf("ToMat failed: %v", err)
	}
	defer mat.Close()

	back, err := FrameFromMat(mat)
	if err != nil {
		t.Fatalf("FrameFromMat failed: %v", err)
	}
	if !bytes.Equal(back.Data[:3], []byte{10, 20, 30}) {
		t.Errorf("Expected BGR [10 20 30], got %v", back.Data[:3])
	}
}

func TestEncodeJPEG(t *testing.T) {
	f := solidFrame(camera.OrderBGR, 16, 16, 0, 0, 255)

	data, err := EncodeJPEG(f)
	if err != nil {
		t.Fatalf("EncodeJPEG failed: %v", err)
	}
	if len(data) < 2 || data[0] != 0xFF || data[1] != 0xD8 {
		t.Fatal("Expected JPEG SOI marker")
	}

	img, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		t.Fatalf("IMDecode failed: %v", err)
	}
	defer img.Close()
	if img.Cols() != 16 || img.Rows() != 16 {
		t.Errorf("Expected 16x16, got %dx%d", img.Cols(), img.Rows())
	}
}

func TestEncodeJPEG_InvalidFrame(t *testing.T) {
	if _, err := EncodeJPEG(camera.Frame{}); err == nil {
		t.Error("Expected error for empty frame")
	}
}

func TestDriver_UnsupportedBackend(t *testing.T) {
	dev, err := NewDriver().Open(0, camera.Backend("quicktime"))
	if err == nil || dev != nil {
		t.Errorf("Expected unsupported backend error, got %v", err)
	}
}
