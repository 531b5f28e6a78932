// Package sched implements the scheduled playout core: a bounded queue of
// producer frames drained onto the device timeline from the device's own
// completion callbacks, and the anchor-based corrector that keeps audio
// aligned to the slots video actually occupies.
package sched

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Calvincombs103057/UltraGrid/internal/device"
	"github.com/Calvincombs103057/UltraGrid/internal/frame"
	"github.com/Calvincombs103057/UltraGrid/internal/metrics"
)

// MediaClockRate is the timestamp clock shared by video and audio frames,
// the 90 kHz RTP video clock.
const MediaClockRate = 90000

const (
	// DefaultMinLookahead is the device backlog below which the engine
	// repeats the last frame rather than let the card run dry.
	DefaultMinLookahead = 4
	// DefaultMaxLookahead is the device backlog above which freshly
	// drained frames are dismissed instead of scheduled.
	DefaultMaxLookahead = 6
	// LookaheadRange is added to an explicit minimum when no maximum is
	// given.
	LookaheadRange = 2
	// DefaultQueueCapacity bounds the unprocessed frame queue between the
	// producer and the scheduling pass.
	DefaultQueueCapacity = 10
)

// Config carries the scheduling window. Zero fields take the defaults above.
type Config struct {
	MinLookahead  int
	MaxLookahead  int
	QueueCapacity int
}

func (c Config) withDefaults() Config {
	if c.MinLookahead == 0 {
		c.MinLookahead = DefaultMinLookahead
	}
	if c.MaxLookahead == 0 {
		c.MaxLookahead = c.MinLookahead + LookaheadRange
	}
	if c.QueueCapacity == 0 {
		c.QueueCapacity = DefaultQueueCapacity
	}
	return c
}

// Stats is a snapshot of scheduling counters.
type Stats struct {
	Scheduled  uint64 `json:"scheduled"`
	Completed  uint64 `json:"completed"`
	Late       uint64 `json:"late"`
	Dropped    uint64 `json:"dropped"`
	Flushed    uint64 `json:"flushed"`
	Missing    uint64 `json:"missing"`
	Dismissed  uint64 `json:"dismissed"`
	Overflows  uint64 `json:"overflows"`
	QueueDepth int    `json:"queue_depth"`
	Sequence   int64  `json:"sequence"`
	Anchor     string `json:"anchor"`
}

// Scheduler owns the schedule queue and the device timeline position. The
// producer enqueues; the device's completion callback drains. Scheduler
// implements device.CompletionHandler and is registered with the device for
// the lifetime of scheduled playback.
type Scheduler struct {
	log *zap.Logger
	dev device.Output

	mu       sync.Mutex
	q        *frameQueue
	last     *frame.Frame
	seq      int64
	duration int64
	scale    int64
	min      int
	max      int

	anchor anchorCell

	completed uint64
	late      uint64
	dropped   uint64
	flushed   uint64
	missing   uint64
	dismissed uint64
	overflows uint64
	scheduled uint64

	statsMu   sync.Mutex
	lastStats time.Time
}

// New returns a scheduler bound to dev. Timing is set per reconfigure with
// SetTiming before playback starts.
func New(dev device.Output, cfg Config, log *zap.Logger) *Scheduler {
	cfg = cfg.withDefaults()
	return &Scheduler{
		log:       log,
		dev:       dev,
		q:         newFrameQueue(cfg.QueueCapacity),
		min:       cfg.MinLookahead,
		max:       cfg.MaxLookahead,
		lastStats: time.Now(),
	}
}

// SetTiming installs the frame-rate rational of the active mode: duration
// ticks of a scale ticks-per-second clock per frame.
func (s *Scheduler) SetTiming(duration, scale int64) {
	s.mu.Lock()
	s.duration = duration
	s.scale = scale
	s.mu.Unlock()
}

// Enqueue hands a producer frame (and its reference) to the schedule queue.
// On overflow the frame is released immediately, the anchor is flagged for
// resync and false is returned; the output stream itself is not interrupted.
func (s *Scheduler) Enqueue(f *frame.Frame) bool {
	s.mu.Lock()
	if s.q.push(f) {
		depth := s.q.len()
		s.mu.Unlock()
		metrics.ScheduleQueueDepth.Set(float64(depth))
		return true
	}
	buffered := s.q.len()
	s.overflows++
	s.anchor.store(Anchor{State: AnchorPendingResync})
	s.mu.Unlock()

	f.Release()
	metrics.FramesDroppedTotal.WithLabelValues("overflow").Inc()
	s.log.Error("schedule queue overflow", zap.Int("buffered", buffered))
	return false
}

// ScheduleNext is the scheduling pass, run once per completion callback (and
// during pre-roll). It tops the device up to the lookahead window: repeats
// the last frame on underrun, dismisses excess frames above maxLookahead,
// and publishes the audio anchor when one is needed.
func (s *Scheduler) ScheduleNext() {
	buffered := s.dev.BufferedFrames()
	metrics.DeviceBufferedFrames.Set(float64(buffered))

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.q.len() == 0 {
		if buffered >= s.min || s.last == nil {
			return
		}
		s.missing++
		metrics.FramesRepeatedTotal.Inc()
		s.log.Warn("missing frame, repeating last",
			zap.Int("buffered", buffered), zap.Uint64("total", s.missing))
		s.anchor.store(Anchor{State: AnchorPendingResync})
		// The device's completion release must not drop the reference
		// the scheduler itself holds on the repeated frame.
		s.last.Ref()
		if err := s.dev.ScheduleFrame(s.last, s.seq*s.duration, s.duration, s.scale); err != nil {
			s.last.Release()
			s.log.Warn("re-schedule last frame", zap.Error(err))
		}
		s.seq++
		return
	}

	for {
		f, ok := s.q.pop()
		if !ok {
			break
		}
		buffered++
		if buffered > s.max {
			s.dismissed++
			metrics.FramesDroppedTotal.WithLabelValues("dismissed").Inc()
			s.log.Warn("dismissed frame",
				zap.Int("buffered", buffered-1), zap.Uint64("total", s.dismissed))
			f.Release()
			continue
		}
		if s.last != nil {
			s.last.Release()
		}
		s.last = f
		f.Ref()
		if a := s.anchor.load(); a.State != AnchorEstablished && f.Timestamp() != frame.NoTimestamp {
			ts := uint32(f.Timestamp() - s.duration*s.seq*MediaClockRate/s.scale)
			s.anchor.store(Anchor{State: AnchorEstablished, TS: ts})
			metrics.AnchorResyncsTotal.Inc()
		}
		if err := s.dev.ScheduleFrame(f, s.seq*s.duration, s.duration, s.scale); err != nil {
			f.Release()
			s.log.Warn("schedule frame", zap.Error(err))
		} else {
			s.scheduled++
			metrics.FramesScheduledTotal.Inc()
		}
		s.seq++
	}
	metrics.ScheduleQueueDepth.Set(0)
}

// FrameCompleted implements device.CompletionHandler. Anomalous results are
// counted and surface through the periodic stats line rather than being
// logged per occurrence.
func (s *Scheduler) FrameCompleted(f *frame.Frame, result device.CompletionResult) {
	start := time.Now()
	s.mu.Lock()
	switch result {
	case device.Late:
		s.late++
	case device.Dropped:
		s.dropped++
	case device.Flushed:
		s.flushed++
	default:
		s.completed++
	}
	s.mu.Unlock()
	metrics.FramesCompletedTotal.WithLabelValues(result.String()).Inc()
	if result != device.Completed {
		s.log.Debug("frame not completed cleanly", zap.Stringer("result", result))
	}

	s.ScheduleNext()
	f.Release()
	metrics.CompletionCallbackSeconds.Observe(time.Since(start).Seconds())
}

// PlaybackStopped implements device.CompletionHandler.
func (s *Scheduler) PlaybackStopped() {
	s.log.Debug("scheduled playback stopped")
}

// Reset releases the last-scheduled reference and every queued frame back to
// the pool and rewinds the slot sequence. It must run before the completion
// handler is unregistered so no callback races the teardown.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last != nil {
		s.last.Release()
		s.last = nil
	}
	for {
		f, ok := s.q.pop()
		if !ok {
			break
		}
		f.Release()
	}
	s.seq = 0
	metrics.ScheduleQueueDepth.Set(0)
}

// ResetAnchor invalidates the published anchor. Audio holds its current
// baseline until a new anchor is established.
func (s *Scheduler) ResetAnchor() {
	s.anchor.store(Anchor{State: AnchorUninitialized})
}

// Anchor returns the currently published anchor.
func (s *Scheduler) Anchor() Anchor {
	return s.anchor.load()
}

// LogStats writes the cumulative anomaly counters at most every 5 seconds.
// The producer path calls it once per submitted frame.
func (s *Scheduler) LogStats() {
	s.statsMu.Lock()
	if time.Since(s.lastStats) < 5*time.Second {
		s.statsMu.Unlock()
		return
	}
	s.lastStats = time.Now()
	s.statsMu.Unlock()

	st := s.Stats()
	s.log.Debug("playback stats",
		zap.Uint64("late", st.Late),
		zap.Uint64("dropped", st.Dropped),
		zap.Uint64("flushed", st.Flushed),
		zap.Uint64("missing", st.Missing),
		zap.Uint64("dismissed", st.Dismissed),
		zap.Uint64("overflows", st.Overflows),
		zap.Uint64("scheduled", st.Scheduled))
}

// Stats returns a snapshot of the scheduling counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Scheduled:  s.scheduled,
		Completed:  s.completed,
		Late:       s.late,
		Dropped:    s.dropped,
		Flushed:    s.flushed,
		Missing:    s.missing,
		Dismissed:  s.dismissed,
		Overflows:  s.overflows,
		QueueDepth: s.q.len(),
		Sequence:   s.seq,
		Anchor:     s.anchor.load().State.String(),
	}
}
