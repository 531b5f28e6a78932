package frame

import "fmt"

// PixelFormat identifies the raw pixel layout of a video buffer.
type PixelFormat int

const (
	// UYVY is 8-bit 4:2:2 YCbCr, 2 bytes per pixel.
	UYVY PixelFormat = iota
	// V210 is 10-bit 4:2:2 YCbCr packed in 128-byte groups of 48 pixels.
	V210
	// RGBA is 8-bit RGB with alpha, 4 bytes per pixel.
	RGBA
	// R10k is 10-bit RGB packed in 4 bytes per pixel.
	R10k
)

// PixelFormats lists every format the engine understands, in preference order.
var PixelFormats = []PixelFormat{UYVY, V210, RGBA, R10k}

func (p PixelFormat) String() string {
	switch p {
	case UYVY:
		return "UYVY"
	case V210:
		return "v210"
	case RGBA:
		return "RGBA"
	case R10k:
		return "R10k"
	}
	return fmt.Sprintf("PixelFormat(%d)", int(p))
}

// ParsePixelFormat maps a config-file name to a PixelFormat.
func ParsePixelFormat(s string) (PixelFormat, error) {
	for _, p := range PixelFormats {
		if s == p.String() {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown pixel format %q", s)
}

// RowBytes returns the length of one picture line in bytes. v210 lines are
// padded to whole 128-byte blocks of 48 pixels.
func (p PixelFormat) RowBytes(width int) int {
	switch p {
	case UYVY:
		return width * 2
	case V210:
		return (width + 47) / 48 * 128
	case RGBA, R10k:
		return width * 4
	}
	return 0
}

// Descriptor describes the geometry and rate of a video stream. It is the
// unit of format negotiation: a session is reconfigured with a Descriptor and
// pooled buffers are matched against it.
type Descriptor struct {
	Width       int
	Height      int
	PixelFormat PixelFormat
	FPS         float64
	Interlaced  bool
	// TileCount is 1 for mono streams and 2 for stereoscopic (left+right eye).
	TileCount int
}

// RowBytes returns the stride of one line for this descriptor.
func (d Descriptor) RowBytes() int {
	return d.PixelFormat.RowBytes(d.Width)
}

// Stereo reports whether the descriptor carries two eye streams.
func (d Descriptor) Stereo() bool {
	return d.TileCount == 2
}

func (d Descriptor) String() string {
	il := "p"
	if d.Interlaced {
		il = "i"
	}
	s := fmt.Sprintf("%dx%d@%g%s %s", d.Width, d.Height, d.FPS, il, d.PixelFormat)
	if d.Stereo() {
		s += " 3D"
	}
	return s
}
