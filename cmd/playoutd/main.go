package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Calvincombs103057/UltraGrid/internal/api"
	"github.com/Calvincombs103057/UltraGrid/internal/config"
	"github.com/Calvincombs103057/UltraGrid/internal/device"
	"github.com/Calvincombs103057/UltraGrid/internal/session"
	"github.com/Calvincombs103057/UltraGrid/internal/source"
)

func main() {
	cfg := config.Load()

	zcfg := zap.NewProductionConfig()
	if lvl, err := zapcore.ParseLevel(cfg.LogLevel); err == nil {
		zcfg.Level.SetLevel(lvl)
	}
	logger, _ := zcfg.Build()
	defer logger.Sync()

	playout, err := config.LoadPlayout(cfg.PlayoutFile)
	if err != nil {
		logger.Fatal("load playout config", zap.Error(err))
	}
	desc, err := playout.Video.Descriptor()
	if err != nil {
		logger.Fatal("video config", zap.Error(err))
	}

	logger.Info("playoutd starting",
		zap.String("listen", cfg.ListenAddr),
		zap.String("descriptor", desc.String()),
		zap.Bool("synchronized", playout.Output.Synchronized),
	)

	dev := device.NewSim(device.SimConfig{Realtime: true}, logger)

	opts := session.Options{
		Synchronized:  playout.Output.Synchronized,
		MinLookahead:  playout.Output.MinLookahead,
		MaxLookahead:  playout.Output.MaxLookahead,
		QueueCapacity: playout.Output.QueueCapacity,
		EmitTimecode:  playout.Output.Timecode,
		PlayAudio:     playout.Audio.Enabled,
	}
	if playout.Output.HDR != nil {
		opts.HDREnabled = true
		opts.HDR = *playout.Output.HDR
	}

	sess, err := session.New(dev, opts, logger)
	if err != nil {
		logger.Fatal("create session", zap.Error(err))
	}
	if playout.Audio.Enabled {
		if err := sess.ReconfigureAudio(playout.Audio.QuantBits,
			playout.Audio.Channels, playout.Audio.SampleRate); err != nil {
			logger.Fatal("audio format", zap.Error(err))
		}
	}
	if err := sess.Reconfigure(desc); err != nil {
		logger.Fatal("configure output", zap.Error(err))
	}

	var aud session.AudioFormat
	if playout.Audio.Enabled {
		aud = session.AudioFormat{
			SampleRate: playout.Audio.SampleRate,
			BPS:        playout.Audio.QuantBits / 8,
			Channels:   playout.Audio.Channels,
		}
	}
	src := source.NewSynthetic(sess, desc, aud, logger)

	srcCtx, cancelSrc := context.WithCancel(context.Background())
	srcDone := make(chan struct{})
	go func() {
		defer close(srcDone)
		if err := src.Start(srcCtx); err != nil {
			logger.Error("source exited", zap.Error(err))
		}
	}()

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      api.New(sess, src, logger).Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 20 * time.Second,
	}
	go func() {
		logger.Info("ops API listening", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("ops API failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	cancelSrc()
	select {
	case <-srcDone:
	case <-time.After(2 * time.Second):
		logger.Warn("source did not stop in time")
	}
	if err := sess.Close(); err != nil {
		logger.Warn("close session", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
}
