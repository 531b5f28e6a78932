// Package source produces synthetic program content for a playout session:
// color bars with a moving insert on the video track and a steady tone on
// the embedded audio.
package source

import "context"

// State constants for source lifecycle.
const (
	StateStarting = "starting"
	StateRunning  = "running"
	StateStopped  = "stopped"
	StateError    = "error"
)

// Source is the interface for any producer feeding a session.
type Source interface {
	// Start begins producing frames. Blocks until ctx is cancelled,
	// the session rejects the source, or Stop is called.
	Start(ctx context.Context) error
	// Stop terminates the source. Idempotent.
	Stop()
	// Status returns a snapshot of current source state.
	Status() Status
}

// Status describes the current state of a source.
type Status struct {
	State           string `json:"state"`
	FramesOut       int64  `json:"framesOut"`
	FramesRejected  int64  `json:"framesRejected"`
	AudioSamplesOut int64  `json:"audioSamplesOut"`
	LastError       string `json:"lastError,omitempty"`
}
