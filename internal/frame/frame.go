// Package frame provides reference-counted video buffers, the pool that
// recycles them, and the per-frame metadata (timestamps, timecode, HDR) the
// playout engine attaches before handing buffers to an output device.
package frame

import (
	"encoding/binary"
	"math"
	"sync/atomic"
)

// NoTimestamp marks a frame that carries no presentation timestamp.
const NoTimestamp int64 = math.MinInt64

// Frame is a single video buffer with a stable backing array. Ownership is
// tracked with a reference count: Acquire hands out frames with one
// reference, every holder that is done calls Release, and the final Release
// returns the frame to its pool for reuse.
type Frame struct {
	width    int
	height   int
	rowBytes int
	pixfmt   PixelFormat
	data     []byte

	refs atomic.Int32
	pool *Pool

	timestamp int64
	hdr       *HDRMetadata
	tc        Timecode
	tcSet     bool

	// rightEye is the second eye of a stereoscopic frame. It shares the
	// parent's lifetime and is never pooled on its own.
	rightEye *Frame
}

func newFrame(d Descriptor, p *Pool) *Frame {
	f := &Frame{
		width:     d.Width,
		height:    d.Height,
		rowBytes:  d.RowBytes(),
		pixfmt:    d.PixelFormat,
		data:      make([]byte, d.RowBytes()*d.Height),
		pool:      p,
		timestamp: NoTimestamp,
	}
	fillNeutral(f.data, d.PixelFormat)
	f.refs.Store(1)
	if d.Stereo() {
		mono := d
		mono.TileCount = 1
		f.rightEye = newFrame(mono, nil)
	}
	return f
}

// fillNeutral writes the format's representation of black so never-touched
// buffers play out as a clean signal instead of noise.
func fillNeutral(data []byte, pf PixelFormat) {
	switch pf {
	case UYVY:
		for i := 0; i+1 < len(data); i += 2 {
			data[i] = 0x80
			data[i+1] = 0x10
		}
	case V210:
		var pat [8]byte
		binary.LittleEndian.PutUint32(pat[0:4], 0x20010200)
		binary.LittleEndian.PutUint32(pat[4:8], 0x04080040)
		for i := 0; i+8 <= len(data); i += 8 {
			copy(data[i:i+8], pat[:])
		}
	default:
		// RGBA and R10k zero values are black already.
	}
}

// Ref takes an additional reference.
func (f *Frame) Ref() {
	f.refs.Add(1)
}

// Release drops one reference. The final release returns the frame to its
// pool; frames without a pool are simply dropped.
func (f *Frame) Release() {
	n := f.refs.Add(-1)
	switch {
	case n == 0:
		if f.pool != nil {
			f.pool.put(f)
		}
	case n < 0:
		panic("frame: Release of already released frame")
	}
}

// Bytes returns the backing pixel storage. The slice stays valid and its
// address stable for as long as the caller holds a reference.
func (f *Frame) Bytes() []byte { return f.data }

func (f *Frame) Width() int               { return f.width }
func (f *Frame) Height() int              { return f.height }
func (f *Frame) RowBytes() int            { return f.rowBytes }
func (f *Frame) PixelFormat() PixelFormat { return f.pixfmt }

// RightEye returns the second eye of a stereoscopic frame, or nil.
func (f *Frame) RightEye() *Frame { return f.rightEye }

// SetTimestamp stamps the presentation time in media-clock ticks.
func (f *Frame) SetTimestamp(ts int64) { f.timestamp = ts }

// Timestamp returns the presentation time, or NoTimestamp.
func (f *Frame) Timestamp() int64 { return f.timestamp }

// SetHDR attaches HDR signalling metadata emitted with the frame.
func (f *Frame) SetHDR(m *HDRMetadata) { f.hdr = m }

// HDR returns the attached HDR metadata, or nil for SDR output.
func (f *Frame) HDR() *HDRMetadata { return f.hdr }

// SetTimecode stamps an RP188 timecode on the frame.
func (f *Frame) SetTimecode(tc Timecode) {
	f.tc = tc
	f.tcSet = true
}

// TimecodeValue returns the stamped timecode, if any.
func (f *Frame) TimecodeValue() (Timecode, bool) { return f.tc, f.tcSet }

// matches reports whether the frame can back a buffer of the given geometry.
func (f *Frame) matches(d Descriptor) bool {
	return f.width == d.Width &&
		f.height == d.Height &&
		f.rowBytes == d.RowBytes() &&
		f.pixfmt == d.PixelFormat &&
		(f.rightEye != nil) == d.Stereo()
}

// resetForReuse restores the per-acquisition state of a pooled frame. Pixel
// data is intentionally left as-is; producers overwrite it in full.
func (f *Frame) resetForReuse() {
	f.refs.Store(1)
	f.timestamp = NoTimestamp
	f.hdr = nil
	f.tcSet = false
}
