package device

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Calvincombs103057/UltraGrid/internal/frame"
)

// SimConfig tunes the simulated output device.
type SimConfig struct {
	// Realtime drives frame completions from a wall-clock ticker at the
	// enabled mode's frame rate. When false the device is stepped manually
	// with RetireNext, which is what tests want.
	Realtime bool
	// DenyVideo makes EnableVideo fail with ErrAccessDenied, simulating a
	// card held by another application.
	DenyVideo bool
	// AudioBufferSamples is the simulated audio buffer size. Writes beyond
	// it are truncated, producing the short-write overflow signal.
	AudioBufferSamples int
	// MaxChannels limits EnableAudio channel counts.
	MaxChannels int
	// RecordHistory keeps a record of every ScheduleFrame call so tests
	// can assert on slot times and frame identity.
	RecordHistory bool
}

// ScheduleRecord is one ScheduleFrame call as seen by the simulated device.
type ScheduleRecord struct {
	Frame    *frame.Frame
	SlotTime int64
	Duration int64
	Scale    int64
}

type simSlot struct {
	f *frame.Frame
}

// Sim is an in-process Output used by tests and by local runs without
// hardware. It models the parts of a playout card the engine can observe: a
// buffered frame queue retired in order, completion callbacks, a bounded
// audio buffer and a fixed mode table.
type Sim struct {
	cfg SimConfig
	log *zap.Logger

	mu            sync.Mutex
	modes         []Mode
	videoOn       bool
	audioOn       bool
	running       bool
	flushing      bool
	stereo        bool
	mode          Mode
	handler       CompletionHandler
	queue         []simSlot
	audioRate     int
	audioBuffered int
	displayed     uint64
	history       []ScheduleRecord

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewSim returns a simulated device. Zero-value config fields fall back to
// a 16-channel card with one second of audio buffering.
func NewSim(cfg SimConfig, log *zap.Logger) *Sim {
	if cfg.MaxChannels == 0 {
		cfg.MaxChannels = 16
	}
	if cfg.AudioBufferSamples == 0 {
		cfg.AudioBufferSamples = 48000
	}
	return &Sim{
		cfg:   cfg,
		log:   log,
		modes: defaultModes(),
	}
}

func defaultModes() []Mode {
	return []Mode{
		{Name: "PAL", Width: 720, Height: 576, FrameDuration: 1000, FrameScale: 25000, Interlaced: true},
		{Name: "NTSC", Width: 720, Height: 486, FrameDuration: 1001, FrameScale: 30000, Interlaced: true},
		{Name: "720p50", Width: 1280, Height: 720, FrameDuration: 1000, FrameScale: 50000},
		{Name: "720p5994", Width: 1280, Height: 720, FrameDuration: 1001, FrameScale: 60000},
		{Name: "1080p25", Width: 1920, Height: 1080, FrameDuration: 1000, FrameScale: 25000},
		{Name: "1080p2997", Width: 1920, Height: 1080, FrameDuration: 1001, FrameScale: 30000},
		{Name: "1080i50", Width: 1920, Height: 1080, FrameDuration: 1000, FrameScale: 25000, Interlaced: true},
		{Name: "1080p50", Width: 1920, Height: 1080, FrameDuration: 1000, FrameScale: 50000},
		{Name: "1080p5994", Width: 1920, Height: 1080, FrameDuration: 1001, FrameScale: 60000},
		{Name: "1080p60", Width: 1920, Height: 1080, FrameDuration: 1000, FrameScale: 60000},
		{Name: "2160p25", Width: 3840, Height: 2160, FrameDuration: 1000, FrameScale: 25000},
		{Name: "2160p50", Width: 3840, Height: 2160, FrameDuration: 1000, FrameScale: 50000},
	}
}

func (s *Sim) Modes() []Mode {
	out := make([]Mode, len(s.modes))
	copy(out, s.modes)
	return out
}

func (s *Sim) SupportsPixelFormat(frame.PixelFormat) bool { return true }

func (s *Sim) MaxAudioChannels() int { return s.cfg.MaxChannels }

func (s *Sim) EnableVideo(m Mode, stereo bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.DenyVideo {
		return ErrAccessDenied
	}
	s.videoOn = true
	s.mode = m
	s.stereo = stereo
	if s.log != nil {
		s.log.Debug("sim video enabled", zap.String("mode", m.String()), zap.Bool("stereo", stereo))
	}
	return nil
}

// DisableVideo tears down the video output. Frames still queued are flushed
// the way a driver frees them on teardown.
func (s *Sim) DisableVideo() error {
	s.mu.Lock()
	s.videoOn = false
	s.mu.Unlock()
	s.flushQueued()
	return nil
}

func (s *Sim) EnableAudio(sampleRate, bitsPerSample, channels int, st AudioStreamType) error {
	if bitsPerSample != 16 && bitsPerSample != 32 {
		return fmt.Errorf("unsupported sample width %d", bitsPerSample)
	}
	if channels > s.cfg.MaxChannels {
		return fmt.Errorf("channel count %d above device limit %d", channels, s.cfg.MaxChannels)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audioOn = true
	s.audioRate = sampleRate
	s.audioBuffered = 0
	_ = st
	return nil
}

func (s *Sim) DisableAudio() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audioOn = false
	s.audioBuffered = 0
	return nil
}

func (s *Sim) SetCompletionHandler(h CompletionHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

func (s *Sim) StartScheduledPlayback(timeScale int64) error {
	s.mu.Lock()
	if !s.videoOn {
		s.mu.Unlock()
		return ErrNotEnabled
	}
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduled playback already running")
	}
	s.running = true
	interval := time.Duration(s.mode.FrameDuration * int64(time.Second) / s.mode.FrameScale)
	realtime := s.cfg.Realtime
	s.stop = make(chan struct{})
	stop := s.stop
	s.mu.Unlock()

	if realtime {
		s.wg.Add(1)
		go s.run(interval, stop)
	}
	return nil
}

func (s *Sim) StopScheduledPlayback() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.flushing = true
	stop := s.stop
	s.mu.Unlock()

	close(stop)
	s.wg.Wait()

	for s.retireOne(Flushed) {
	}

	s.mu.Lock()
	s.flushing = false
	h := s.handler
	s.mu.Unlock()
	if h != nil {
		h.PlaybackStopped()
	}
	return nil
}

func (s *Sim) ScheduleFrame(f *frame.Frame, slotTime, duration, scale int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.videoOn || s.flushing {
		return ErrNotEnabled
	}
	if f.Width() != s.mode.Width || f.Height() != s.mode.Height {
		return fmt.Errorf("frame %dx%d does not fit mode %s", f.Width(), f.Height(), s.mode.Name)
	}
	s.queue = append(s.queue, simSlot{f: f})
	if s.cfg.RecordHistory {
		s.history = append(s.history, ScheduleRecord{Frame: f, SlotTime: slotTime, Duration: duration, Scale: scale})
	}
	return nil
}

func (s *Sim) BufferedFrames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Sim) DisplayFrameSync(f *frame.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.videoOn {
		return ErrNotEnabled
	}
	if f.Width() != s.mode.Width || f.Height() != s.mode.Height {
		return fmt.Errorf("frame %dx%d does not fit mode %s", f.Width(), f.Height(), s.mode.Name)
	}
	s.displayed++
	return nil
}

func (s *Sim) ScheduleAudioSamples(data []byte, samples int, streamTime, scale int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.audioOn {
		return 0, ErrNotEnabled
	}
	_ = data
	_, _ = streamTime, scale
	accepted := min(samples, s.cfg.AudioBufferSamples-s.audioBuffered)
	if accepted < 0 {
		accepted = 0
	}
	s.audioBuffered += accepted
	return accepted, nil
}

func (s *Sim) WriteAudioSamplesSync(data []byte, samples int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.audioOn {
		return 0, ErrNotEnabled
	}
	_ = data
	accepted := min(samples, s.cfg.AudioBufferSamples-s.audioBuffered)
	if accepted < 0 {
		accepted = 0
	}
	s.audioBuffered += accepted
	return accepted, nil
}

func (s *Sim) BufferedAudioSamples() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audioBuffered
}

// RetireNext completes the oldest buffered frame with the given result. It
// returns false when nothing is buffered. Tests use it to step playback.
func (s *Sim) RetireNext(result CompletionResult) bool {
	return s.retireOne(result)
}

// DrainAudio consumes up to n buffered samples, simulating playback.
func (s *Sim) DrainAudio(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audioBuffered -= min(n, s.audioBuffered)
}

// Displayed is the count of DisplayFrameSync calls.
func (s *Sim) Displayed() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.displayed
}

// ScheduleHistory returns the recorded ScheduleFrame calls. Empty unless
// SimConfig.RecordHistory is set.
func (s *Sim) ScheduleHistory() []ScheduleRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ScheduleRecord, len(s.history))
	copy(out, s.history)
	return out
}

func (s *Sim) flushQueued() {
	for s.retireOne(Flushed) {
	}
}

func (s *Sim) run(interval time.Duration, stop chan struct{}) {
	defer s.wg.Done()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			s.tick()
		}
	}
}

func (s *Sim) tick() {
	s.mu.Lock()
	if s.audioRate > 0 && s.mode.FrameScale > 0 {
		perFrame := int(int64(s.audioRate) * s.mode.FrameDuration / s.mode.FrameScale)
		s.audioBuffered -= min(perFrame, s.audioBuffered)
	}
	s.mu.Unlock()
	s.retireOne(Completed)
}

// retireOne pops the oldest slot and invokes the completion handler outside
// the device lock, since the handler immediately calls back into the device.
func (s *Sim) retireOne(result CompletionResult) bool {
	s.mu.Lock()
	if len(s.queue) == 0 {
		s.mu.Unlock()
		return false
	}
	slot := s.queue[0]
	s.queue = s.queue[1:]
	h := s.handler
	s.mu.Unlock()

	if h != nil {
		h.FrameCompleted(slot.f, result)
	} else {
		slot.f.Release()
	}
	return true
}
