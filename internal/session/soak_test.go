//go:build soak

package session_test

import (
	"context"
	"runtime"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Calvincombs103057/UltraGrid/internal/device"
	"github.com/Calvincombs103057/UltraGrid/internal/frame"
	"github.com/Calvincombs103057/UltraGrid/internal/session"
	"github.com/Calvincombs103057/UltraGrid/internal/source"
	"github.com/Calvincombs103057/UltraGrid/internal/testutil"
)

const soakDuration = 2 * time.Minute

// TestSoakScheduledPlayout runs a realtime device and a synthetic producer
// for an extended period and checks that neither goroutines nor frame
// allocations accumulate.
func TestSoakScheduledPlayout(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping soak test in short mode")
	}

	logger, _ := zap.NewDevelopment()

	// Record baseline
	runtime.GC()
	time.Sleep(100 * time.Millisecond)
	baselineGoroutines := runtime.NumGoroutine()
	t.Logf("baseline goroutines: %d", baselineGoroutines)

	dev := device.NewSim(device.SimConfig{Realtime: true, AudioBufferSamples: 96000}, logger)
	sess, err := session.New(dev, session.Options{
		Synchronized: true,
		PlayAudio:    true,
		EmitTimecode: true,
	}, logger)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}

	desc := frame.Descriptor{Width: 1280, Height: 720, PixelFormat: frame.UYVY, FPS: 50, TileCount: 1}
	if err := sess.Reconfigure(desc); err != nil {
		t.Fatalf("reconfigure: %v", err)
	}

	aud := session.AudioFormat{SampleRate: 48000, BPS: 2, Channels: 2}
	src := source.NewSynthetic(sess, desc, aud, logger)

	ctx, cancel := context.WithCancel(context.Background())
	srcDone := make(chan struct{})
	go func() {
		defer close(srcDone)
		if err := src.Start(ctx); err != nil {
			t.Errorf("source: %v", err)
		}
	}()

	// Run for soak duration, sampling goroutines + memory periodically
	deadline := time.Now().Add(soakDuration)
	var memSamples []uint64
	sampleTicker := time.NewTicker(15 * time.Second)
	defer sampleTicker.Stop()

	for time.Now().Before(deadline) {
		select {
		case <-sampleTicker.C:
			var ms runtime.MemStats
			runtime.ReadMemStats(&ms)
			memSamples = append(memSamples, ms.HeapInuse)
			st := sess.Status()
			t.Logf("goroutines=%d heapInuse=%dKB outstanding=%d scheduled=%d missing=%d overflows=%d",
				runtime.NumGoroutine(), ms.HeapInuse/1024,
				st.Pool.Outstanding, st.Scheduler.Scheduled,
				st.Scheduler.Missing, st.Scheduler.Overflows)
		default:
			time.Sleep(1 * time.Second)
		}
	}

	// Stop everything
	cancel()
	select {
	case <-srcDone:
	case <-time.After(5 * time.Second):
		t.Fatal("source did not stop")
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if st := sess.Status(); st.Pool.Outstanding != 0 {
		t.Errorf("expected zero outstanding frames after close, got %d", st.Pool.Outstanding)
	}

	// Give goroutines time to drain
	time.Sleep(2 * time.Second)
	runtime.GC()
	time.Sleep(500 * time.Millisecond)

	// Assert goroutine count returned to near baseline
	testutil.AssertNoGoroutineLeaks(t, baselineGoroutines, 10)

	// Assert memory is not growing monotonically
	if len(memSamples) >= 4 {
		firstAvg := (memSamples[0] + memSamples[1]) / 2
		lastAvg := (memSamples[len(memSamples)-1] + memSamples[len(memSamples)-2]) / 2
		ratio := float64(lastAvg) / float64(firstAvg)
		t.Logf("memory ratio (last/first avg): %.2f", ratio)
		if ratio > 3.0 {
			t.Errorf("possible memory leak: first avg=%dKB, last avg=%dKB, ratio=%.2f",
				firstAvg/1024, lastAvg/1024, ratio)
		}
	}

	t.Log("soak test completed successfully")
}
