// Package session orchestrates one output device: format negotiation,
// buffer hand-out, the low-latency and scheduled submission paths, embedded
// audio, and the teardown ordering that keeps device callbacks from racing
// engine state.
package session

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Calvincombs103057/UltraGrid/internal/device"
	"github.com/Calvincombs103057/UltraGrid/internal/frame"
	"github.com/Calvincombs103057/UltraGrid/internal/metrics"
	"github.com/Calvincombs103057/UltraGrid/internal/sched"
)

// DefaultAudioSampleRate is the only rate the embedded audio output runs at;
// format negotiation steers producers to it.
const DefaultAudioSampleRate = 48000

var (
	// ErrNotInitialized is returned before the first successful Reconfigure.
	ErrNotInitialized = errors.New("session not initialized")
	// ErrModeNotFound means the device has no raster/rate matching the
	// descriptor.
	ErrModeNotFound = errors.New("no suitable video mode")
	// ErrUnsupportedFormat means the device rejects the pixel format.
	ErrUnsupportedFormat = errors.New("unsupported pixel format")
	// ErrAudioNotConfigured is returned from audio operations when the
	// session was opened without audio playback.
	ErrAudioNotConfigured = errors.New("audio output not configured")
)

// Options fixes the execution mode and stream features of a session.
type Options struct {
	// Synchronized selects scheduled playback against the device clock.
	// The default is the low-latency path, which displays synchronously.
	Synchronized bool
	// MinLookahead and MaxLookahead bound the device backlog in scheduled
	// mode. Zero values take the engine defaults (4 and min+2).
	MinLookahead int
	MaxLookahead int
	// QueueCapacity bounds the unprocessed schedule queue (default 10).
	QueueCapacity int
	// Stereo declares that the producer will submit two-tile 3D frames.
	Stereo bool
	// EmitTimecode stamps an advancing RP188 timecode on every frame.
	EmitTimecode bool
	// HDR enables HDR signalling; see frame.ParseHDRMetadata for syntax.
	// The empty string selects the defaults.
	HDR string
	// HDREnabled must be set for HDR to apply (distinguishes "HDR with
	// defaults" from "no HDR").
	HDREnabled bool
	// PlayAudio enables the embedded audio output.
	PlayAudio bool
}

// AudioFormat is a PCM layout: bytes per sample, rate and channel count.
type AudioFormat struct {
	SampleRate int `json:"sample_rate"`
	BPS        int `json:"bps"`
	Channels   int `json:"channels"`
}

// Capabilities is the read-only property surface producers negotiate
// against. RGBShift gives the bit positions of R, G and B within the RGBA
// layout; the preferred pitch for any format is PixelFormat.RowBytes.
type Capabilities struct {
	PixelFormats   []frame.PixelFormat `json:"pixel_formats"`
	RGBShift       [3]int              `json:"rgb_shift"`
	InterlaceModes []string            `json:"interlace_modes"`
}

// Status is a point-in-time snapshot for the ops surface.
type Status struct {
	ID              string          `json:"id"`
	Initialized     bool            `json:"initialized"`
	Synchronized    bool            `json:"synchronized"`
	Descriptor      string          `json:"descriptor,omitempty"`
	DeviceMode      string          `json:"device_mode,omitempty"`
	Audio           AudioFormat     `json:"audio"`
	Scheduler       sched.Stats     `json:"scheduler"`
	Pool            frame.PoolStats `json:"pool"`
	AudioWritten    uint64          `json:"audio_samples_written"`
	AudioDropped    uint64          `json:"audio_samples_dropped"`
	AudioUnderflows uint64          `json:"audio_underflows"`
}

// Session drives one output device. Acquire, Submit, SubmitAudio and
// Reconfigure belong to the producer thread; the scheduler fields are shared
// with the device callback context and carry their own synchronization.
type Session struct {
	id   string
	log  *zap.Logger
	dev  device.Output
	pool *frame.Pool
	sch  *sched.Scheduler

	opts         Options
	minLookahead int
	maxLookahead int
	hdr          *frame.HDRMetadata

	// reconfMu makes video and audio reconfiguration mutually exclusive
	// and guards the initialized/descriptor state read by Status.
	reconfMu         sync.Mutex
	audioReconfigure atomic.Bool

	initialized bool
	desc        frame.Descriptor
	mode        device.Mode
	stereo      bool
	aud         AudioFormat
	corrector   *sched.Corrector
	tc          frame.Timecode

	audioWritten    atomic.Uint64
	audioDropped    atomic.Uint64
	audioUnderflows atomic.Uint64
}

// New opens a session on dev. The session is unusable until the first
// successful Reconfigure.
func New(dev device.Output, opts Options, log *zap.Logger) (*Session, error) {
	minLA := opts.MinLookahead
	if minLA == 0 {
		minLA = sched.DefaultMinLookahead
	}
	maxLA := opts.MaxLookahead
	if maxLA == 0 {
		maxLA = minLA + sched.LookaheadRange
	}
	if minLA < 1 || maxLA < minLA {
		return nil, fmt.Errorf("invalid lookahead window [%d, %d]", minLA, maxLA)
	}

	id := uuid.New().String()
	log = log.With(zap.String("session", id))

	s := &Session{
		id:           id,
		log:          log,
		dev:          dev,
		pool:         frame.NewPool(),
		opts:         opts,
		minLookahead: minLA,
		maxLookahead: maxLA,
		stereo:       opts.Stereo,
		aud:          AudioFormat{SampleRate: DefaultAudioSampleRate, BPS: 2, Channels: 2},
		corrector:    sched.NewCorrector(DefaultAudioSampleRate),
	}
	s.sch = sched.New(dev, sched.Config{
		MinLookahead:  minLA,
		MaxLookahead:  maxLA,
		QueueCapacity: opts.QueueCapacity,
	}, log)

	if opts.HDREnabled {
		m, err := frame.ParseHDRMetadata(opts.HDR)
		if err != nil {
			return nil, fmt.Errorf("HDR mode: %w", err)
		}
		s.hdr = &m
	}
	return s, nil
}

// ID returns the session identifier used in logs and the ops API.
func (s *Session) ID() string { return s.id }

func (s *Session) synchronized() bool { return s.opts.Synchronized }

// Acquire hands out a frame matching the active descriptor with one
// reference held. A pending audio reconfiguration is applied first; its
// failure fails the acquisition.
func (s *Session) Acquire() (*frame.Frame, error) {
	if !s.initialized {
		return nil, ErrNotInitialized
	}
	if s.audioReconfigure.Load() {
		if err := s.Reconfigure(s.desc); err != nil {
			return nil, fmt.Errorf("apply audio reconfiguration: %w", err)
		}
	}
	f := s.pool.Acquire(s.desc)
	if s.hdr != nil {
		f.SetHDR(s.hdr)
	}
	return f, nil
}

// Submit hands a filled frame back for output, consuming the caller's
// reference. In scheduled mode the frame is stamped with pts and queued; the
// return value reports whether the queue accepted it. The low-latency path
// displays synchronously and always accepts.
func (s *Session) Submit(f *frame.Frame, pts int64) bool {
	if f == nil {
		return true
	}
	if !s.initialized {
		f.Release()
		return false
	}
	if s.opts.EmitTimecode {
		f.SetTimecode(s.tc)
	}

	ok := true
	if s.synchronized() {
		f.SetTimestamp(pts)
		ok = s.sch.Enqueue(f)
		metrics.FramesSubmittedTotal.WithLabelValues("scheduled").Inc()
	} else {
		if err := s.dev.DisplayFrameSync(f); err != nil {
			s.log.Warn("display frame", zap.Error(err))
		}
		f.Release()
		metrics.FramesSubmittedTotal.WithLabelValues("sync").Inc()
	}

	if s.opts.EmitTimecode {
		s.tc = s.tc.Next(s.desc.FPS)
	}
	s.sch.LogStats()
	return ok
}

// SubmitAudio plays a block of PCM. It returns the number of samples the
// device accepted; short writes mean the device buffer overflowed. Audio
// arriving while a reconfiguration is pending, or before the scheduled
// timeline has an anchor, is discarded without error.
func (s *Session) SubmitAudio(af *frame.AudioFrame) (int, error) {
	if !s.opts.PlayAudio {
		return 0, ErrAudioNotConfigured
	}
	if s.audioReconfigure.Load() {
		return 0, nil
	}
	if !s.initialized {
		return 0, ErrNotInitialized
	}

	want := af.Samples()
	buffered := s.dev.BufferedAudioSamples()
	metrics.DeviceBufferedAudioSamples.Set(float64(buffered))
	if buffered == 0 {
		s.audioUnderflows.Add(1)
		metrics.AudioUnderflowsTotal.Inc()
		s.log.Warn("audio buffer underflow")
	}

	var written int
	if s.synchronized() {
		if af.Timestamp == frame.NoTimestamp {
			s.dropAudio(want, "not_synced")
			return 0, nil
		}
		streamTime, err := s.corrector.StreamTime(af.Timestamp, s.sch.Anchor())
		if err != nil {
			s.dropAudio(want, "not_synced")
			return 0, nil
		}
		written, err = s.dev.ScheduleAudioSamples(af.Data, want, streamTime, int64(s.aud.SampleRate))
		if err != nil {
			s.log.Error("schedule audio samples", zap.Error(err))
			return 0, err
		}
	} else {
		var err error
		written, err = s.dev.WriteAudioSamplesSync(af.Data, want)
		if err != nil {
			s.log.Warn("write audio samples", zap.Error(err))
			return 0, err
		}
	}

	s.audioWritten.Add(uint64(written))
	metrics.AudioSamplesWrittenTotal.Add(float64(written))
	if written != want {
		s.audioDropped.Add(uint64(want - written))
		metrics.AudioSamplesDroppedTotal.WithLabelValues("overflow").Add(float64(want - written))
		s.log.Warn("audio buffer overflow",
			zap.Int("written", written),
			zap.Int("dropped", want-written),
			zap.Int("buffered", buffered))
	}
	return written, nil
}

func (s *Session) dropAudio(samples int, reason string) {
	s.audioDropped.Add(uint64(samples))
	metrics.AudioSamplesDroppedTotal.WithLabelValues(reason).Add(float64(samples))
	s.log.Debug("audio discarded", zap.String("reason", reason), zap.Int("samples", samples))
}

// Reconfigure tears down the current output if any and brings the device up
// for the new descriptor: mode lookup, video/audio enable and, in scheduled
// mode, completion handler registration, pre-roll and playback start. On
// failure the session stays uninitialized.
func (s *Session) Reconfigure(d frame.Descriptor) error {
	s.reconfMu.Lock()
	defer s.reconfMu.Unlock()
	if err := s.reconfigureLocked(d); err != nil {
		metrics.ReconfiguresTotal.WithLabelValues("error").Inc()
		return err
	}
	metrics.ReconfiguresTotal.WithLabelValues("success").Inc()
	return nil
}

func (s *Session) reconfigureLocked(d frame.Descriptor) error {
	s.sch.ResetAnchor()

	if s.initialized {
		if s.synchronized() {
			if err := s.dev.StopScheduledPlayback(); err != nil {
				s.log.Warn("stop scheduled playback", zap.Error(err))
			}
		}
		s.dev.SetCompletionHandler(nil)
		if err := s.dev.DisableVideo(); err != nil {
			s.log.Warn("disable video", zap.Error(err))
		}
		if s.opts.PlayAudio {
			if err := s.dev.DisableAudio(); err != nil {
				s.log.Warn("disable audio", zap.Error(err))
			}
		}
		s.initialized = false
		metrics.SessionActive.Set(0)
	}

	s.sch.Reset()

	if d.TileCount == 0 {
		d.TileCount = 1
	}
	if !s.dev.SupportsPixelFormat(d.PixelFormat) {
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, d.PixelFormat)
	}
	if d.TileCount > 2 {
		return fmt.Errorf("unsupported tile count %d", d.TileCount)
	}
	if d.Stereo() != s.stereo {
		s.log.Warn("stereo setting does not match stream, toggling",
			zap.Int("tiles", d.TileCount), zap.Bool("stereo", !s.stereo))
		s.stereo = !s.stereo
	}

	mode, err := findMode(s.dev.Modes(), d)
	if err != nil {
		return err
	}
	s.log.Info("selected mode",
		zap.String("mode", mode.String()), zap.Bool("stereo", s.stereo))

	if err := s.dev.EnableVideo(mode, s.stereo); err != nil {
		if errors.Is(err, device.ErrAccessDenied) {
			return fmt.Errorf("enable video: %w (is the output in use by another application?)", err)
		}
		return fmt.Errorf("enable video: %w", err)
	}

	if s.opts.PlayAudio {
		streamType := device.AudioContinuous
		if s.synchronized() {
			streamType = device.AudioTimestamped
		}
		if err := s.dev.EnableAudio(s.aud.SampleRate, s.aud.BPS*8, s.aud.Channels, streamType); err != nil {
			return fmt.Errorf("enable audio: %w", err)
		}
		s.corrector = sched.NewCorrector(s.aud.SampleRate)
	}

	s.desc = d
	s.mode = mode
	s.sch.SetTiming(mode.FrameDuration, mode.FrameScale)

	if s.synchronized() {
		s.dev.SetCompletionHandler(s.sch)
		// Pre-roll with copies of one neutral frame so completion
		// callbacks start flowing before real frames arrive.
		f := s.pool.Acquire(d)
		for i := 0; i < (s.minLookahead+s.maxLookahead)/2; i++ {
			f.Ref()
			s.sch.Enqueue(f)
			s.sch.ScheduleNext()
		}
		f.Release()
		if err := s.dev.StartScheduledPlayback(mode.FrameScale); err != nil {
			if derr := s.dev.DisableVideo(); derr != nil {
				s.log.Warn("disable video", zap.Error(derr))
			}
			return fmt.Errorf("start scheduled playback: %w", err)
		}
	}

	s.initialized = true
	s.audioReconfigure.Store(false)
	metrics.SessionActive.Set(1)
	return nil
}

// ReconfigureAudio records a new PCM layout to apply lazily: the change
// takes effect on the next Acquire, which re-runs the full reconfiguration.
// Sample widths of 16 or 32 bits and power-of-two channel counts from 2 to
// 64 (except 4) are accepted.
func (s *Session) ReconfigureAudio(quantBits, channels, sampleRate int) error {
	if !s.opts.PlayAudio {
		return ErrAudioNotConfigured
	}
	if quantBits != 16 && quantBits != 32 {
		return fmt.Errorf("unsupported sample width %d bits", quantBits)
	}
	if channels < 2 || channels == 4 || channels > 64 || channels&(channels-1) != 0 {
		return fmt.Errorf("unsupported channel count %d", channels)
	}

	bps := quantBits / 8
	if bps == s.aud.BPS && sampleRate == s.aud.SampleRate && channels == s.aud.Channels {
		return nil
	}
	s.reconfMu.Lock()
	s.aud = AudioFormat{SampleRate: sampleRate, BPS: bps, Channels: channels}
	s.audioReconfigure.Store(true)
	s.reconfMu.Unlock()
	s.log.Info("audio format change pending",
		zap.Int("sample_rate", sampleRate),
		zap.Int("channels", channels),
		zap.Int("bps", bps))
	return nil
}

// Capabilities reports the device-filtered property surface.
func (s *Session) Capabilities() Capabilities {
	var fmts []frame.PixelFormat
	for _, pf := range frame.PixelFormats {
		if s.dev.SupportsPixelFormat(pf) {
			fmts = append(fmts, pf)
		}
	}
	return Capabilities{
		PixelFormats:   fmts,
		RGBShift:       [3]int{16, 8, 0},
		InterlaceModes: []string{"progressive", "interlaced", "segmented"},
	}
}

// NegotiateAudioFormat rounds a desired PCM layout to what the output can
// play: 48 kHz, 16- or 32-bit samples, and a supported channel count (2, 8,
// or the next power of two, capped at the device limit).
func (s *Session) NegotiateAudioFormat(desired AudioFormat) AudioFormat {
	out := desired
	out.SampleRate = DefaultAudioSampleRate
	maxCh := s.dev.MaxAudioChannels()
	switch {
	case desired.Channels >= maxCh:
		out.Channels = maxCh
	case desired.Channels <= 2:
		out.Channels = 2
	case desired.Channels <= 8:
		out.Channels = 8
	default:
		out.Channels = nextPowerOfTwo(desired.Channels)
	}
	if desired.BPS < 3 {
		out.BPS = 2
	} else {
		out.BPS = 4
	}
	return out
}

// Status returns a snapshot for the ops surface.
func (s *Session) Status() Status {
	s.reconfMu.Lock()
	st := Status{
		ID:           s.id,
		Initialized:  s.initialized,
		Synchronized: s.synchronized(),
		Audio:        s.aud,
	}
	if s.initialized {
		st.Descriptor = s.desc.String()
		st.DeviceMode = s.mode.Name
	}
	s.reconfMu.Unlock()

	st.Scheduler = s.sch.Stats()
	st.Pool = s.pool.Stats()
	st.AudioWritten = s.audioWritten.Load()
	st.AudioDropped = s.audioDropped.Load()
	st.AudioUnderflows = s.audioUnderflows.Load()
	return st
}

// Close stops playback, flushes device-held frames, releases every engine
// reference and only then unregisters the completion handler, so no callback
// races the teardown. The pool is drained last.
func (s *Session) Close() error {
	s.reconfMu.Lock()
	defer s.reconfMu.Unlock()

	if s.initialized {
		if s.synchronized() {
			if err := s.dev.StopScheduledPlayback(); err != nil {
				s.log.Warn("stop scheduled playback", zap.Error(err))
			}
		}
		s.sch.Reset()
		s.dev.SetCompletionHandler(nil)
		if s.opts.PlayAudio {
			if err := s.dev.DisableAudio(); err != nil {
				s.log.Warn("disable audio", zap.Error(err))
			}
		}
		if err := s.dev.DisableVideo(); err != nil {
			s.log.Warn("disable video", zap.Error(err))
		}
		s.initialized = false
		metrics.SessionActive.Set(0)
	} else {
		s.sch.Reset()
		s.dev.SetCompletionHandler(nil)
	}

	s.pool.Drain()

	st := s.sch.Stats()
	s.log.Info("session closed",
		zap.Uint64("scheduled", st.Scheduled),
		zap.Uint64("late", st.Late),
		zap.Uint64("dropped", st.Dropped),
		zap.Uint64("flushed", st.Flushed),
		zap.Uint64("missing", st.Missing))
	return nil
}

func findMode(modes []device.Mode, d frame.Descriptor) (device.Mode, error) {
	for _, m := range modes {
		if m.Width != d.Width || m.Height != d.Height {
			continue
		}
		if m.Interlaced != d.Interlaced {
			continue
		}
		if math.Abs(m.FPS()-d.FPS) < 0.01 {
			return m, nil
		}
	}
	return device.Mode{}, fmt.Errorf("%w for %s", ErrModeNotFound, d)
}

func nextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
