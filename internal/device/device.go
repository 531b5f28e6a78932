// Package device defines the contract between the playout engine and an
// output device, plus a simulated implementation for tests and local runs.
// The engine never talks to hardware directly; everything it needs from a
// card is expressed through the Output interface.
package device

import (
	"errors"
	"fmt"

	"github.com/Calvincombs103057/UltraGrid/internal/frame"
)

// Errors surfaced by device implementations.
var (
	// ErrAccessDenied means the output stream is held by someone else,
	// typically another application using the same card.
	ErrAccessDenied = errors.New("device access denied")
	// ErrNotEnabled is returned for operations that need EnableVideo or
	// EnableAudio first.
	ErrNotEnabled = errors.New("output not enabled")
)

// CompletionResult tells how the device retired a scheduled frame.
type CompletionResult int

const (
	// Completed means the frame was displayed in its slot.
	Completed CompletionResult = iota
	// Late means the frame was displayed after its scheduled time.
	Late
	// Dropped means the device skipped the frame entirely.
	Dropped
	// Flushed means the frame was discarded because playback stopped.
	Flushed
)

func (r CompletionResult) String() string {
	switch r {
	case Completed:
		return "completed"
	case Late:
		return "late"
	case Dropped:
		return "dropped"
	case Flushed:
		return "flushed"
	}
	return fmt.Sprintf("CompletionResult(%d)", int(r))
}

// AudioStreamType selects how the device consumes audio samples.
type AudioStreamType int

const (
	// AudioContinuous plays samples back-to-back as they arrive.
	AudioContinuous AudioStreamType = iota
	// AudioTimestamped aligns samples to the stream time passed with them.
	AudioTimestamped
)

// Mode is one fixed raster/rate combination supported by a device. Frame
// timing is expressed as a rational: FrameDuration ticks of a FrameScale
// ticks-per-second clock.
type Mode struct {
	Name          string
	Width         int
	Height        int
	FrameDuration int64
	FrameScale    int64
	Interlaced    bool
}

// FPS returns the nominal frame rate of the mode.
func (m Mode) FPS() float64 {
	if m.FrameDuration == 0 {
		return 0
	}
	return float64(m.FrameScale) / float64(m.FrameDuration)
}

func (m Mode) String() string {
	il := "p"
	if m.Interlaced {
		il = "i"
	}
	return fmt.Sprintf("%s (%dx%d%s%.4g)", m.Name, m.Width, m.Height, il, m.FPS())
}

// CompletionHandler receives playback notifications from the device. Both
// methods are invoked on the device's own callback context and must return
// quickly without blocking.
type CompletionHandler interface {
	// FrameCompleted is called once per retired frame. The receiver owns
	// the reference the device held and must release it.
	FrameCompleted(f *frame.Frame, result CompletionResult)
	// PlaybackStopped is called after scheduled playback has wound down.
	PlaybackStopped()
}

// Output is the device-side contract of the playout engine.
type Output interface {
	// Modes lists the rasters the device can drive.
	Modes() []Mode
	// SupportsPixelFormat reports whether the device accepts the format.
	SupportsPixelFormat(pf frame.PixelFormat) bool
	// MaxAudioChannels is the channel count ceiling for EnableAudio.
	MaxAudioChannels() int

	EnableVideo(m Mode, stereo bool) error
	DisableVideo() error
	EnableAudio(sampleRate, bitsPerSample, channels int, st AudioStreamType) error
	DisableAudio() error

	// SetCompletionHandler registers the handler for scheduled playback
	// notifications; nil unregisters it.
	SetCompletionHandler(h CompletionHandler)
	StartScheduledPlayback(timeScale int64) error
	// StopScheduledPlayback flushes frames still queued in the device;
	// each is completed as Flushed before the call returns.
	StopScheduledPlayback() error

	// ScheduleFrame hands one frame (and its reference) to the device for
	// presentation at slotTime, expressed in scale ticks per second.
	ScheduleFrame(f *frame.Frame, slotTime, duration, scale int64) error
	// BufferedFrames is the number of frames the device holds but has not
	// yet displayed.
	BufferedFrames() int
	// DisplayFrameSync shows the frame immediately, bypassing scheduling.
	DisplayFrameSync(f *frame.Frame) error

	// ScheduleAudioSamples queues sample frames at streamTime (in scale
	// ticks per second) and returns how many the device accepted.
	ScheduleAudioSamples(data []byte, samples int, streamTime, scale int64) (int, error)
	// WriteAudioSamplesSync appends samples to the continuous stream and
	// returns how many fit.
	WriteAudioSamplesSync(data []byte, samples int) (int, error)
	// BufferedAudioSamples is the device-side audio backlog in samples.
	BufferedAudioSamples() int
}
