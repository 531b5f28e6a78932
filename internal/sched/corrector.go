package sched

import "errors"

// ErrNotSynced means no audio anchor has been established yet, so incoming
// audio cannot be placed on the device timeline and is discarded.
var ErrNotSynced = errors.New("audio not yet synchronized to video timeline")

// Corrector converts audio frame timestamps into device stream time using
// the anchor published by the scheduler. It lives on the producer's audio
// path and is not safe for concurrent use; the anchor itself arrives through
// the lock-free cell, so no lock is shared with the callback context.
type Corrector struct {
	sampleRate  int
	saved       Anchor
	baseline    int64
	hasBaseline bool
}

// NewCorrector returns a corrector producing stream times in sampleRate
// ticks per second.
func NewCorrector(sampleRate int) *Corrector {
	return &Corrector{sampleRate: sampleRate}
}

// StreamTime maps a media-clock timestamp to the audio stream time at which
// its first sample must play. A newly established anchor rebases the
// mapping; a pending resync keeps the previous baseline until the scheduler
// publishes a fresh anchor. Timestamps behind the baseline are treated as a
// 32-bit media-clock wrap, corrected once by shifting the baseline back.
func (c *Corrector) StreamTime(ts int64, a Anchor) (int64, error) {
	if a.State == AnchorEstablished && (!c.hasBaseline || c.saved != a) {
		c.saved = a
		c.baseline = int64(a.TS)
		c.hasBaseline = true
	}
	if !c.hasBaseline {
		return 0, ErrNotSynced
	}
	if ts < c.baseline {
		c.baseline -= 1 << 32
	}
	return (ts - c.baseline) * int64(c.sampleRate) / MediaClockRate, nil
}
