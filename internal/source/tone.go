package source

import (
	"encoding/binary"
	"math"
)

const (
	ToneFrequency = 440.0
	ToneAmplitude = 16000
)

// tone produces the next block of sine samples, phase-continuous across
// calls, interleaved across channels in the session's PCM layout.
func (s *Synthetic) tone(samples int) []byte {
	buf := make([]byte, samples*s.aud.BPS*s.aud.Channels)
	step := 2 * math.Pi * s.toneHz / float64(s.aud.SampleRate)
	for i := 0; i < samples; i++ {
		v := math.Sin(s.phase)
		s.phase += step
		if s.phase > 2*math.Pi {
			s.phase -= 2 * math.Pi
		}
		off := i * s.aud.BPS * s.aud.Channels
		for ch := 0; ch < s.aud.Channels; ch++ {
			switch s.aud.BPS {
			case 2:
				binary.LittleEndian.PutUint16(buf[off+ch*2:], uint16(int16(ToneAmplitude*v)))
			case 4:
				binary.LittleEndian.PutUint32(buf[off+ch*4:], uint32(int32(ToneAmplitude*65536*v)))
			}
		}
	}
	return buf
}
