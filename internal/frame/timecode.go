package frame

import (
	"fmt"
	"math"
)

// Timecode is an RP188 timecode packed as BCD: two nibbles each for hours,
// minutes, seconds and frames, hours in the most significant byte.
type Timecode uint32

// TimecodeFromComponents packs hours, minutes, seconds and a frame number.
func TimecodeFromComponents(h, m, s, f int) Timecode {
	return Timecode(f%10 | f/10<<4 |
		s%10<<8 | s/10<<12 |
		m%10<<16 | m/10<<20 |
		h%10<<24 | h/10<<28)
}

// Components unpacks the timecode into hours, minutes, seconds and frames.
func (t Timecode) Components() (h, m, s, f int) {
	v := uint32(t)
	f = int(v&0xf) + int(v>>4&0xf)*10
	s = int(v>>8&0xf) + int(v>>12&0xf)*10
	m = int(v>>16&0xf) + int(v>>20&0xf)*10
	h = int(v>>24&0xf) + int(v>>28&0xf)*10
	return
}

// BCD returns the packed representation as emitted on the wire.
func (t Timecode) BCD() uint32 { return uint32(t) }

func (t Timecode) String() string {
	h, m, s, f := t.Components()
	return fmt.Sprintf("%02d:%02d:%02d:%02d", h, m, s, f)
}

// Next returns the timecode advanced by one frame at the given rate.
// Fractional NTSC rates use drop-frame counting: at the start of every
// minute not divisible by ten, frame numbers 0 and 1 are skipped.
func (t Timecode) Next(fps float64) Timecode {
	const epsilon = 0.005
	dropFrame := math.Ceil(fps)-fps > epsilon

	h, m, s, f := t.Components()
	f++
	if float64(f) > fps-epsilon {
		f = 0
		s++
		if s >= 60 {
			s = 0
			m++
			if m >= 60 {
				m = 0
				h++
				if h >= 24 {
					h = 0
				}
			}
			if dropFrame && m%10 != 0 {
				f = 2
			}
		}
	}
	return TimecodeFromComponents(h, m, s, f)
}
