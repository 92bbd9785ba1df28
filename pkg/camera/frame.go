package camera

import (
	"fmt"
	"image"
	"image/color"
)

// ChannelOrder is the byte order of the channels in one pixel.
type ChannelOrder int

const (
	// OrderBGR is the native order produced by OpenCV capture devices.
	OrderBGR ChannelOrder = iota
	OrderRGB
	OrderBGRA
	OrderRGBA
	OrderGray
)

func (o ChannelOrder) String() string {
	switch o {
	case OrderBGR:
		return "BGR"
	case OrderRGB:
		return "RGB"
	case OrderBGRA:
		return "BGRA"
	case OrderRGBA:
		return "RGBA"
	case OrderGray:
		return "GRAY"
	default:
		return fmt.Sprintf("ChannelOrder(%d)", int(o))
	}
}

// Channels returns the number of bytes per pixel.
func (o ChannelOrder) Channels() int {
	switch o {
	case OrderGray:
		return 1
	case OrderBGRA, OrderRGBA:
		return 4
	default:
		return 3
	}
}

// Frame is a packed 8-bit pixel buffer, row-major with no padding.
// A Frame returned by a Camera belongs to the caller.
type Frame struct {
	Width  int
	Height int
	Order  ChannelOrder
	Data   []byte
}

// Channels returns the number of bytes per pixel.
func (f Frame) Channels() int { return f.Order.Channels() }

// Stride returns the number of bytes in one row.
func (f Frame) Stride() int { return f.Width * f.Channels() }

// Empty reports whether the frame holds no pixels.
func (f Frame) Empty() bool { return f.Width == 0 || f.Height == 0 || len(f.Data) == 0 }

// Validate checks that Data matches the declared geometry.
func (f Frame) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("invalid frame size %dx%d", f.Width, f.Height)
	}
	if want := f.Stride() * f.Height; len(f.Data) != want {
		return fmt.Errorf("frame data is %d bytes, want %d for %dx%d %s", len(f.Data), want, f.Width, f.Height, f.Order)
	}
	return nil
}

// Clone returns a deep copy of f.
func (f Frame) Clone() Frame {
	out := f
	out.Data = append([]byte(nil), f.Data...)
	return out
}

// SwapRB returns a copy of f with the first and third channel of every pixel
// exchanged, flipping BGR<->RGB and BGRA<->RGBA. Gray frames are copied as is.
func (f Frame) SwapRB() Frame {
	out := f.Clone()
	switch f.Order {
	case OrderBGR:
		out.Order = OrderRGB
	case OrderRGB:
		out.Order = OrderBGR
	case OrderBGRA:
		out.Order = OrderRGBA
	case OrderRGBA:
		out.Order = OrderBGRA
	default:
		return out
	}
	n := f.Channels()
	for i := 0; i+2 < len(out.Data); i += n {
		out.Data[i], out.Data[i+2] = out.Data[i+2], out.Data[i]
	}
	return out
}

// ToDisplayOrder converts native BGR/BGRA frames to RGB/RGBA. Frames already
// in display order are copied unchanged.
func (f Frame) ToDisplayOrder() Frame {
	switch f.Order {
	case OrderBGR, OrderBGRA:
		return f.SwapRB()
	default:
		return f.Clone()
	}
}

// Image converts the frame to an *image.RGBA or, for gray frames, an
// *image.Gray.
func (f Frame) Image() (image.Image, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	rect := image.Rect(0, 0, f.Width, f.Height)
	if f.Order == OrderGray {
		img := image.NewGray(rect)
		copy(img.Pix, f.Data)
		return img, nil
	}

	img := image.NewRGBA(rect)
	n := f.Channels()
	for y := 0; y < f.Height; y++ {
		row := f.Data[y*f.Stride():]
		for x := 0; x < f.Width; x++ {
			p := row[x*n:]
			c := color.RGBA{A: 0xff}
			switch f.Order {
			case OrderBGR, OrderBGRA:
				c.R, c.G, c.B = p[2], p[1], p[0]
			default:
				c.R, c.G, c.B = p[0], p[1], p[2]
			}
			if n == 4 {
				c.A = p[3]
			}
			img.SetRGBA(x, y, c)
		}
	}
	return img, nil
}
