package session

import (
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/Calvincombs103057/UltraGrid/internal/device"
	"github.com/Calvincombs103057/UltraGrid/internal/frame"
)

func descriptor1080p50() frame.Descriptor {
	return frame.Descriptor{Width: 1920, Height: 1080, PixelFormat: frame.UYVY, FPS: 50, TileCount: 1}
}

func newSession(t *testing.T, cfg device.SimConfig, opts Options) (*Session, *device.Sim) {
	t.Helper()
	dev := device.NewSim(cfg, zap.NewNop())
	s, err := New(dev, opts, zap.NewNop())
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	return s, dev
}

func TestAcquireBeforeReconfigure(t *testing.T) {
	s, _ := newSession(t, device.SimConfig{}, Options{})
	if _, err := s.Acquire(); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}

func TestSubmitNilAndUninitialized(t *testing.T) {
	s, _ := newSession(t, device.SimConfig{}, Options{})
	if !s.Submit(nil, 0) {
		t.Error("nil frame must report success")
	}
	f := frame.NewPool().Acquire(descriptor1080p50())
	if s.Submit(f, 0) {
		t.Error("expected rejection before reconfigure")
	}
}

func TestLowLatencySubmitDisplaysImmediately(t *testing.T) {
	s, dev := newSession(t, device.SimConfig{}, Options{})
	if err := s.Reconfigure(descriptor1080p50()); err != nil {
		t.Fatalf("reconfigure: %v", err)
	}
	if got := s.Status().DeviceMode; got != "1080p50" {
		t.Fatalf("expected mode 1080p50, got %s", got)
	}

	for i := 0; i < 5; i++ {
		f, err := s.Acquire()
		if err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
		if !s.Submit(f, int64(i)*1800) {
			t.Fatalf("submit %d rejected", i)
		}
	}
	if got := dev.Displayed(); got != 5 {
		t.Errorf("expected 5 displayed frames, got %d", got)
	}

	st := s.Status()
	if st.Pool.Outstanding != 0 {
		t.Errorf("expected all frames back after display, outstanding=%d", st.Pool.Outstanding)
	}
	if st.Pool.Allocated != 1 {
		t.Errorf("expected a single allocation on the synchronous path, got %d", st.Pool.Allocated)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestScheduledPlayout(t *testing.T) {
	s, dev := newSession(t, device.SimConfig{}, Options{Synchronized: true})
	if err := s.Reconfigure(descriptor1080p50()); err != nil {
		t.Fatalf("reconfigure: %v", err)
	}

	// Pre-roll parks the device in the middle of the lookahead window.
	if got := dev.BufferedFrames(); got != 5 {
		t.Fatalf("expected 5 pre-rolled frames, got %d", got)
	}

	// Steady state: one submission per completion.
	for i := 0; i < 20; i++ {
		f, err := s.Acquire()
		if err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
		if !s.Submit(f, int64(i)*1800) {
			t.Fatalf("submit %d rejected", i)
		}
		if !dev.RetireNext(device.Completed) {
			t.Fatalf("retire %d failed", i)
		}
	}

	st := s.Status()
	if st.Scheduler.Scheduled != 25 {
		t.Errorf("expected 25 scheduled (5 pre-roll + 20), got %d", st.Scheduler.Scheduled)
	}
	if st.Scheduler.Completed != 20 {
		t.Errorf("expected 20 completions, got %d", st.Scheduler.Completed)
	}
	if st.Scheduler.Missing != 0 || st.Scheduler.Dismissed != 0 || st.Scheduler.Overflows != 0 {
		t.Errorf("expected clean run, got missing=%d dismissed=%d overflows=%d",
			st.Scheduler.Missing, st.Scheduler.Dismissed, st.Scheduler.Overflows)
	}
	if st.Scheduler.Anchor != "established" {
		t.Errorf("expected established anchor, got %s", st.Scheduler.Anchor)
	}
	if st.Pool.Allocated > 7 {
		t.Errorf("expected pooled reuse to bound allocations, got %d", st.Pool.Allocated)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	st = s.Status()
	if st.Scheduler.Flushed != 5 {
		t.Errorf("expected the 5 device-held frames flushed on close, got %d", st.Scheduler.Flushed)
	}
	if st.Pool.Outstanding != 0 {
		t.Errorf("expected zero outstanding frames after close, got %d", st.Pool.Outstanding)
	}
}

func TestReconfigureUnderLoadLeaksNothing(t *testing.T) {
	s, dev := newSession(t, device.SimConfig{}, Options{Synchronized: true})

	pump := func(n int, base int64) {
		t.Helper()
		for i := 0; i < n; i++ {
			f, err := s.Acquire()
			if err != nil {
				t.Fatalf("acquire: %v", err)
			}
			s.Submit(f, base+int64(i)*1800)
			dev.RetireNext(device.Completed)
		}
	}

	if err := s.Reconfigure(descriptor1080p50()); err != nil {
		t.Fatalf("reconfigure: %v", err)
	}
	pump(10, 0)

	hd := frame.Descriptor{Width: 1280, Height: 720, PixelFormat: frame.UYVY, FPS: 50, TileCount: 1}
	if err := s.Reconfigure(hd); err != nil {
		t.Fatalf("mid-stream reconfigure: %v", err)
	}
	if got := s.Status().DeviceMode; got != "720p50" {
		t.Fatalf("expected mode 720p50, got %s", got)
	}
	pump(10, 1<<20)

	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	st := s.Status()
	if st.Pool.Outstanding != 0 {
		t.Errorf("expected zero outstanding frames after close, got %d", st.Pool.Outstanding)
	}
	if st.Scheduler.QueueDepth != 0 {
		t.Errorf("expected empty schedule queue, got %d", st.Scheduler.QueueDepth)
	}
}

func TestScheduledAudioFollowsAnchor(t *testing.T) {
	s, dev := newSession(t, device.SimConfig{AudioBufferSamples: 100000},
		Options{Synchronized: true, PlayAudio: true})
	if err := s.Reconfigure(descriptor1080p50()); err != nil {
		t.Fatalf("reconfigure: %v", err)
	}

	pcm := func(ts int64) *frame.AudioFrame {
		return &frame.AudioFrame{
			BPS: 2, SampleRate: 48000, Channels: 2,
			Data:      make([]byte, 960*4),
			Timestamp: ts,
		}
	}

	// No video frame has anchored the timeline yet: audio is discarded.
	n, err := s.SubmitAudio(pcm(0))
	if err != nil || n != 0 {
		t.Fatalf("expected unanchored audio dropped, wrote %d (%v)", n, err)
	}

	f, err := s.Acquire()
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	s.Submit(f, 90000)
	dev.RetireNext(device.Completed)

	n, err = s.SubmitAudio(pcm(90000 + 1800))
	if err != nil {
		t.Fatalf("submit audio: %v", err)
	}
	if n != 960 {
		t.Errorf("expected 960 samples written, got %d", n)
	}

	// Untimestamped audio cannot be placed even with an anchor.
	if n, _ := s.SubmitAudio(&frame.AudioFrame{
		BPS: 2, SampleRate: 48000, Channels: 2,
		Data: make([]byte, 4), Timestamp: frame.NoTimestamp,
	}); n != 0 {
		t.Errorf("expected untimestamped audio dropped, wrote %d", n)
	}

	st := s.Status()
	if st.AudioWritten != 960 {
		t.Errorf("expected 960 samples written in total, got %d", st.AudioWritten)
	}
	if st.AudioDropped != 961 {
		t.Errorf("expected 961 samples dropped, got %d", st.AudioDropped)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestLowLatencyAudioWritesImmediately(t *testing.T) {
	s, _ := newSession(t, device.SimConfig{AudioBufferSamples: 10000},
		Options{PlayAudio: true})
	if err := s.Reconfigure(descriptor1080p50()); err != nil {
		t.Fatalf("reconfigure: %v", err)
	}

	af := &frame.AudioFrame{
		BPS: 2, SampleRate: 48000, Channels: 2,
		Data: make([]byte, 480*4), Timestamp: frame.NoTimestamp,
	}
	n, err := s.SubmitAudio(af)
	if err != nil {
		t.Fatalf("submit audio: %v", err)
	}
	if n != 480 {
		t.Errorf("expected 480 samples written, got %d", n)
	}
	if st := s.Status(); st.AudioUnderflows != 1 {
		t.Errorf("expected 1 underflow on the first write, got %d", st.AudioUnderflows)
	}
}

func TestAudioReconfigureAppliesLazily(t *testing.T) {
	s, _ := newSession(t, device.SimConfig{}, Options{PlayAudio: true})
	if err := s.Reconfigure(descriptor1080p50()); err != nil {
		t.Fatalf("reconfigure: %v", err)
	}

	if err := s.ReconfigureAudio(32, 8, 48000); err != nil {
		t.Fatalf("reconfigure audio: %v", err)
	}

	// Audio is muted while the change is pending.
	af := &frame.AudioFrame{BPS: 2, SampleRate: 48000, Channels: 2, Data: make([]byte, 4)}
	if n, err := s.SubmitAudio(af); n != 0 || err != nil {
		t.Fatalf("expected pending reconfigure to mute audio, wrote %d (%v)", n, err)
	}

	// The next acquisition applies the new format.
	f, err := s.Acquire()
	if err != nil {
		t.Fatalf("acquire applies the audio change: %v", err)
	}
	f.Release()

	st := s.Status()
	if st.Audio.Channels != 8 || st.Audio.BPS != 4 {
		t.Errorf("expected 8ch 32-bit audio, got %dch %d-byte", st.Audio.Channels, st.Audio.BPS)
	}
}

func TestReconfigureAudioValidates(t *testing.T) {
	s, _ := newSession(t, device.SimConfig{}, Options{PlayAudio: true})
	cases := []struct{ bits, ch int }{
		{24, 2}, {16, 0}, {16, 3}, {16, 4}, {16, 128},
	}
	for _, c := range cases {
		if err := s.ReconfigureAudio(c.bits, c.ch, 48000); err == nil {
			t.Errorf("expected error for %d-bit %d-channel audio", c.bits, c.ch)
		}
	}
	// Unchanged format is a no-op.
	if err := s.ReconfigureAudio(16, 2, 48000); err != nil {
		t.Errorf("unexpected error for unchanged format: %v", err)
	}
}

func TestAudioRequiresOption(t *testing.T) {
	s, _ := newSession(t, device.SimConfig{}, Options{})
	if err := s.ReconfigureAudio(16, 2, 48000); !errors.Is(err, ErrAudioNotConfigured) {
		t.Errorf("expected ErrAudioNotConfigured, got %v", err)
	}
	if _, err := s.SubmitAudio(&frame.AudioFrame{}); !errors.Is(err, ErrAudioNotConfigured) {
		t.Errorf("expected ErrAudioNotConfigured, got %v", err)
	}
}

func TestReconfigureRejectsUnknownMode(t *testing.T) {
	s, _ := newSession(t, device.SimConfig{}, Options{})
	d := frame.Descriptor{Width: 1234, Height: 777, PixelFormat: frame.UYVY, FPS: 42, TileCount: 1}
	if err := s.Reconfigure(d); !errors.Is(err, ErrModeNotFound) {
		t.Fatalf("expected ErrModeNotFound, got %v", err)
	}
	if _, err := s.Acquire(); !errors.Is(err, ErrNotInitialized) {
		t.Error("session must stay uninitialized after a failed reconfigure")
	}
}

func TestReconfigureMatchesFractionalRates(t *testing.T) {
	s, _ := newSession(t, device.SimConfig{}, Options{})
	d := frame.Descriptor{Width: 1920, Height: 1080, PixelFormat: frame.UYVY, FPS: 29.97, TileCount: 1}
	if err := s.Reconfigure(d); err != nil {
		t.Fatalf("reconfigure: %v", err)
	}
	if got := s.Status().DeviceMode; got != "1080p2997" {
		t.Errorf("expected mode 1080p2997, got %s", got)
	}
}

func TestReconfigureDeviceBusy(t *testing.T) {
	s, _ := newSession(t, device.SimConfig{DenyVideo: true}, Options{})
	err := s.Reconfigure(descriptor1080p50())
	if !errors.Is(err, device.ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied, got %v", err)
	}
	if !strings.Contains(err.Error(), "another application") {
		t.Errorf("expected a hint about a competing application, got %q", err.Error())
	}
}

func TestReconfigureTogglesStereo(t *testing.T) {
	s, _ := newSession(t, device.SimConfig{}, Options{})

	d := descriptor1080p50()
	d.TileCount = 2
	if err := s.Reconfigure(d); err != nil {
		t.Fatalf("reconfigure stereo: %v", err)
	}
	f, err := s.Acquire()
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if f.RightEye() == nil {
		t.Error("expected stereo frame with a right eye")
	}
	f.Release()
	if got := s.Status().Descriptor; !strings.Contains(got, "3D") {
		t.Errorf("expected 3D descriptor, got %q", got)
	}

	d.TileCount = 1
	if err := s.Reconfigure(d); err != nil {
		t.Fatalf("reconfigure mono: %v", err)
	}
	g, err := s.Acquire()
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if g.RightEye() != nil {
		t.Error("expected mono frame after toggling back")
	}
	g.Release()

	d.TileCount = 3
	if err := s.Reconfigure(d); err == nil {
		t.Error("expected error for 3 tiles")
	}
}

func TestSubmitStampsAdvancingTimecode(t *testing.T) {
	s, _ := newSession(t, device.SimConfig{}, Options{Synchronized: true, EmitTimecode: true})
	if err := s.Reconfigure(descriptor1080p50()); err != nil {
		t.Fatalf("reconfigure: %v", err)
	}

	// Without completions the frames stay queued, so they are safe to
	// inspect after submission.
	frames := make([]*frame.Frame, 3)
	for i := range frames {
		f, err := s.Acquire()
		if err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
		frames[i] = f
		s.Submit(f, int64(i)*1800)
	}

	want := []string{"00:00:00:00", "00:00:00:01", "00:00:00:02"}
	for i, f := range frames {
		tc, ok := f.TimecodeValue()
		if !ok {
			t.Fatalf("frame %d missing timecode", i)
		}
		if tc.String() != want[i] {
			t.Errorf("frame %d: expected %s, got %s", i, want[i], tc)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if st := s.Status(); st.Pool.Outstanding != 0 {
		t.Errorf("expected zero outstanding after close, got %d", st.Pool.Outstanding)
	}
}

func TestHDRMetadataAttachedToFrames(t *testing.T) {
	s, _ := newSession(t, device.SimConfig{}, Options{HDREnabled: true, HDR: "PQ,maxCLL=4000"})
	if err := s.Reconfigure(descriptor1080p50()); err != nil {
		t.Fatalf("reconfigure: %v", err)
	}
	f, err := s.Acquire()
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	m := f.HDR()
	if m == nil {
		t.Fatal("expected HDR metadata on acquired frame")
	}
	if m.EOTF != frame.EOTFPQ || m.MaxCLL != 4000 {
		t.Errorf("expected PQ with maxCLL 4000, got EOTF %d maxCLL %g", m.EOTF, m.MaxCLL)
	}
	f.Release()

	dev := device.NewSim(device.SimConfig{}, zap.NewNop())
	if _, err := New(dev, Options{HDREnabled: true, HDR: "XYZ"}, zap.NewNop()); err == nil {
		t.Error("expected error for an invalid HDR spec")
	}
}

func TestNegotiateAudioFormat(t *testing.T) {
	s, _ := newSession(t, device.SimConfig{MaxChannels: 16}, Options{PlayAudio: true})
	cases := []struct{ in, want AudioFormat }{
		{AudioFormat{SampleRate: 44100, BPS: 1, Channels: 1},
			AudioFormat{SampleRate: 48000, BPS: 2, Channels: 2}},
		{AudioFormat{SampleRate: 48000, BPS: 2, Channels: 6},
			AudioFormat{SampleRate: 48000, BPS: 2, Channels: 8}},
		{AudioFormat{SampleRate: 96000, BPS: 3, Channels: 10},
			AudioFormat{SampleRate: 48000, BPS: 4, Channels: 16}},
		{AudioFormat{SampleRate: 48000, BPS: 4, Channels: 64},
			AudioFormat{SampleRate: 48000, BPS: 4, Channels: 16}},
	}
	for _, c := range cases {
		if got := s.NegotiateAudioFormat(c.in); got != c.want {
			t.Errorf("negotiate %+v: expected %+v, got %+v", c.in, c.want, got)
		}
	}
}

func TestCapabilities(t *testing.T) {
	s, _ := newSession(t, device.SimConfig{}, Options{})
	caps := s.Capabilities()
	if len(caps.PixelFormats) != len(frame.PixelFormats) {
		t.Errorf("expected %d pixel formats, got %d", len(frame.PixelFormats), len(caps.PixelFormats))
	}
	if caps.RGBShift != [3]int{16, 8, 0} {
		t.Errorf("unexpected RGB shift %v", caps.RGBShift)
	}
	if len(caps.InterlaceModes) != 3 {
		t.Errorf("expected 3 interlace modes, got %d", len(caps.InterlaceModes))
	}
}
