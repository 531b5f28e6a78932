package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Gauges
var (
	ScheduleQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "playout_schedule_queue_depth",
		Help: "Frames waiting in the schedule queue",
	})
	DeviceBufferedFrames = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "playout_device_buffered_frames",
		Help: "Frames buffered inside the output device",
	})
	DeviceBufferedAudioSamples = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "playout_device_buffered_audio_samples",
		Help: "Audio samples buffered inside the output device",
	})
	SessionActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "playout_session_active",
		Help: "1 while a device session is initialized",
	})
)

// Counters
var (
	FramesSubmittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playout_frames_submitted_total",
		Help: "Frames submitted by the producer, by output path",
	}, []string{"path"})
	FramesScheduledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "playout_frames_scheduled_total",
		Help: "Frames handed to the device timeline",
	})
	FramesCompletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playout_frames_completed_total",
		Help: "Frames retired by the device, by completion result",
	}, []string{"result"})
	FramesDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playout_frames_dropped_total",
		Help: "Frames dropped before reaching the device, by reason",
	}, []string{"reason"})
	FramesRepeatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "playout_frames_repeated_total",
		Help: "Times the last frame was re-scheduled because the queue ran dry",
	})
	AnchorResyncsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "playout_anchor_resyncs_total",
		Help: "Audio anchor publications after start, overflow or underrun",
	})
	AudioSamplesWrittenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "playout_audio_samples_written_total",
		Help: "Audio samples accepted by the device",
	})
	AudioSamplesDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playout_audio_samples_dropped_total",
		Help: "Audio samples not played, by reason",
	}, []string{"reason"})
	AudioUnderflowsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "playout_audio_underflows_total",
		Help: "Times the device audio buffer was found empty before a write",
	})
	ReconfiguresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playout_reconfigures_total",
		Help: "Session reconfigurations, by outcome",
	}, []string{"outcome"})
)

// Histograms
var (
	CompletionCallbackSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "playout_completion_callback_seconds",
		Help:    "Time spent in the device completion callback",
		Buckets: []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025},
	})
)
