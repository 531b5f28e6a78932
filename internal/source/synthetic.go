package source

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Calvincombs103057/UltraGrid/internal/frame"
	"github.com/Calvincombs103057/UltraGrid/internal/sched"
	"github.com/Calvincombs103057/UltraGrid/internal/session"
)

// Synthetic paces frames at the descriptor's nominal rate and submits a
// matching tone block with every frame. Presentation timestamps advance on
// the 90 kHz media clock so scheduled sessions can anchor audio to video.
type Synthetic struct {
	sess   *session.Session
	desc   frame.Descriptor
	aud    session.AudioFormat
	toneHz float64
	log    *zap.Logger

	mu        sync.Mutex
	state     string
	lastError string
	cancel    context.CancelFunc

	phase float64

	framesOut       atomic.Int64
	framesRejected  atomic.Int64
	audioSamplesOut atomic.Int64
}

// NewSynthetic creates a source for sess producing desc-shaped frames and,
// when aud.Channels > 0, tone audio in the given PCM layout.
func NewSynthetic(sess *session.Session, desc frame.Descriptor, aud session.AudioFormat,
	log *zap.Logger) *Synthetic {

	return &Synthetic{
		sess:   sess,
		desc:   desc,
		aud:    aud,
		toneHz: ToneFrequency,
		log:    log.With(zap.String("source", "synthetic")),
		state:  StateStopped,
	}
}

// Start begins producing. Blocks until ctx is cancelled or Stop is called.
func (s *Synthetic) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateRunning || s.state == StateStarting {
		s.mu.Unlock()
		return fmt.Errorf("source already running")
	}
	s.state = StateStarting
	s.lastError = ""

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	defer cancel()

	interval := time.Duration(float64(time.Second) / s.desc.FPS)
	ptsStep := int64(math.Round(sched.MediaClockRate / s.desc.FPS))

	s.mu.Lock()
	s.state = StateRunning
	s.mu.Unlock()
	s.log.Info("source started",
		zap.String("descriptor", s.desc.String()),
		zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var (
		n           int64
		pts         int64
		audioPlayed int64
	)
	for {
		select {
		case <-runCtx.Done():
			s.mu.Lock()
			s.state = StateStopped
			s.mu.Unlock()
			s.log.Info("source stopped",
				zap.Int64("frames", s.framesOut.Load()),
				zap.Int64("audioSamples", s.audioSamplesOut.Load()))
			return nil
		case <-ticker.C:
		}

		f, err := s.sess.Acquire()
		if err != nil {
			s.setError(err.Error())
			return fmt.Errorf("acquire frame: %w", err)
		}
		paint(f, int(n))
		if s.sess.Submit(f, pts) {
			s.framesOut.Add(1)
		} else {
			s.framesRejected.Add(1)
		}

		if s.aud.Channels > 0 {
			// Track the ideal sample position so rates that do not
			// divide the frame rate (e.g. 48000/29.97) stay exact.
			want := (n + 1) * int64(s.aud.SampleRate) * ptsStep / sched.MediaClockRate
			block := int(want - audioPlayed)
			audioPlayed = want

			af := &frame.AudioFrame{
				BPS:        s.aud.BPS,
				SampleRate: s.aud.SampleRate,
				Channels:   s.aud.Channels,
				Data:       s.tone(block),
				Timestamp:  pts,
			}
			written, err := s.sess.SubmitAudio(af)
			if err != nil {
				s.log.Warn("submit audio", zap.Error(err))
			}
			s.audioSamplesOut.Add(int64(written))
		}

		n++
		pts += ptsStep
	}
}

// Stop terminates the source. Idempotent.
func (s *Synthetic) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Status returns a snapshot of current source state.
func (s *Synthetic) Status() Status {
	s.mu.Lock()
	state := s.state
	lastErr := s.lastError
	s.mu.Unlock()

	return Status{
		State:           state,
		FramesOut:       s.framesOut.Load(),
		FramesRejected:  s.framesRejected.Load(),
		AudioSamplesOut: s.audioSamplesOut.Load(),
		LastError:       lastErr,
	}
}

func (s *Synthetic) setError(msg string) {
	s.mu.Lock()
	s.state = StateError
	s.lastError = msg
	s.mu.Unlock()
}

// barWidth is the moving insert width in pixels.
const barWidth = 32

// paint draws a dark field with a white bar that advances a few pixels per
// frame. Only the 8-bit formats get the pattern; 10-bit frames keep their
// neutral fill.
func paint(f *frame.Frame, n int) {
	w, h := f.Width(), f.Height()
	if w == 0 || h == 0 {
		return
	}
	pos := (n * 4) % w
	data := f.Bytes()
	rowBytes := f.RowBytes()

	switch f.PixelFormat() {
	case frame.UYVY:
		for y := 0; y < h; y++ {
			row := data[y*rowBytes : y*rowBytes+rowBytes]
			for x := 0; x < w; x++ {
				luma := byte(0x10)
				if inBar(x, pos, w) {
					luma = 0xEB
				}
				row[x*2] = 0x80
				row[x*2+1] = luma
			}
		}
	case frame.RGBA:
		for y := 0; y < h; y++ {
			row := data[y*rowBytes : y*rowBytes+rowBytes]
			for x := 0; x < w; x++ {
				v := byte(0x10)
				if inBar(x, pos, w) {
					v = 0xFF
				}
				row[x*4] = v
				row[x*4+1] = v
				row[x*4+2] = v
				row[x*4+3] = 0xFF
			}
		}
	}

	if eye := f.RightEye(); eye != nil {
		paint(eye, n)
	}
}

func inBar(x, pos, width int) bool {
	end := (pos + barWidth) % width
	if pos < end {
		return x >= pos && x < end
	}
	return x >= pos || x < end
}
