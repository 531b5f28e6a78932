package sched

import "sync/atomic"

// AnchorState describes the audio/video alignment anchor lifecycle.
type AnchorState int

const (
	// AnchorUninitialized means no anchor has been established since the
	// last reconfigure; audio cannot be placed on the timeline yet.
	AnchorUninitialized AnchorState = iota
	// AnchorPendingResync means continuity was broken (overflow drop or
	// underrun repeat) and the next timestamped frame must re-anchor.
	AnchorPendingResync
	// AnchorEstablished means TS maps the video timeline onto media-clock
	// timestamps.
	AnchorEstablished
)

func (s AnchorState) String() string {
	switch s {
	case AnchorUninitialized:
		return "uninitialized"
	case AnchorPendingResync:
		return "pending-resync"
	case AnchorEstablished:
		return "established"
	}
	return "unknown"
}

// Anchor is the published alignment point: the media-clock timestamp that
// corresponds to slot zero of the video timeline. TS is meaningful only in
// the AnchorEstablished state and wraps with the 32-bit media clock.
type Anchor struct {
	State AnchorState
	TS    uint32
}

// anchorCell publishes the anchor from the device callback context to the
// producer's audio path. Single writer, any number of readers, no lock.
type anchorCell struct {
	v atomic.Value
}

func (c *anchorCell) load() Anchor {
	if a, ok := c.v.Load().(Anchor); ok {
		return a
	}
	return Anchor{State: AnchorUninitialized}
}

func (c *anchorCell) store(a Anchor) {
	c.v.Store(a)
}
