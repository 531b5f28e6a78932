// Package config loads daemon settings from the environment and the
// optional playout configuration file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Calvincombs103057/UltraGrid/internal/frame"
)

// Config is the process-level configuration, taken from the environment.
type Config struct {
	ListenAddr  string
	LogLevel    string
	PlayoutFile string
}

func Load() *Config {
	return &Config{
		ListenAddr:  getEnv("PLAYOUT_LISTEN_ADDR", ":8080"),
		LogLevel:    getEnv("PLAYOUT_LOG_LEVEL", "info"),
		PlayoutFile: getEnv("PLAYOUT_CONFIG", ""),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Playout describes one output session: execution mode, video raster and
// embedded audio. Unknown keys in the file are rejected.
type Playout struct {
	Output OutputConfig `yaml:"output"`
	Video  VideoConfig  `yaml:"video"`
	Audio  AudioConfig  `yaml:"audio"`
}

// OutputConfig selects the playback path and its scheduling window.
type OutputConfig struct {
	// Synchronized drives the device on its own clock with a bounded
	// lookahead. Off by default; the default path displays frames
	// synchronously for minimal latency.
	Synchronized  bool `yaml:"synchronized"`
	MinLookahead  int  `yaml:"min_lookahead"`
	MaxLookahead  int  `yaml:"max_lookahead"`
	QueueCapacity int  `yaml:"queue_capacity"`
	// Timecode stamps RP188 timecodes on outgoing frames.
	Timecode bool `yaml:"timecode"`
	// HDR enables HDR signalling when present. The empty string selects
	// HDR10 defaults; see the frame package for the accepted syntax.
	HDR *string `yaml:"hdr"`
}

// VideoConfig is the raster the source produces and the device must match.
type VideoConfig struct {
	Width       int     `yaml:"width"`
	Height      int     `yaml:"height"`
	FPS         float64 `yaml:"fps"`
	PixelFormat string  `yaml:"pixel_format"`
	Interlaced  bool    `yaml:"interlaced"`
}

// AudioConfig is the embedded PCM layout.
type AudioConfig struct {
	Enabled    bool `yaml:"enabled"`
	SampleRate int  `yaml:"sample_rate"`
	Channels   int  `yaml:"channels"`
	QuantBits  int  `yaml:"quant_bits"`
}

// DefaultPlayout mirrors the engine defaults: low-latency 1080p50 UYVY with
// 16-bit stereo audio.
func DefaultPlayout() Playout {
	return Playout{
		Video: VideoConfig{
			Width:       1920,
			Height:      1080,
			FPS:         50,
			PixelFormat: "UYVY",
		},
		Audio: AudioConfig{
			Enabled:    true,
			SampleRate: 48000,
			Channels:   2,
			QuantBits:  16,
		},
	}
}

// LoadPlayout reads and validates the playout file at path. An empty path
// returns the defaults.
func LoadPlayout(path string) (Playout, error) {
	p := DefaultPlayout()
	if path == "" {
		return p, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return p, err
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return p, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return p, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Validate checks the parts of the configuration that can be rejected
// without a device: raster sanity, pixel format, lookahead ordering and the
// PCM sample width.
func (p *Playout) Validate() error {
	if p.Video.Width <= 0 || p.Video.Height <= 0 {
		return fmt.Errorf("invalid raster %dx%d", p.Video.Width, p.Video.Height)
	}
	if p.Video.FPS <= 0 {
		return fmt.Errorf("invalid frame rate %g", p.Video.FPS)
	}
	if _, err := frame.ParsePixelFormat(p.Video.PixelFormat); err != nil {
		return err
	}
	if p.Output.MinLookahead < 0 || p.Output.MaxLookahead < 0 || p.Output.QueueCapacity < 0 {
		return fmt.Errorf("lookahead and queue capacity must not be negative")
	}
	if p.Output.MaxLookahead != 0 && p.Output.MaxLookahead < p.Output.MinLookahead {
		return fmt.Errorf("max_lookahead %d below min_lookahead %d",
			p.Output.MaxLookahead, p.Output.MinLookahead)
	}
	if p.Audio.Enabled {
		if p.Audio.QuantBits != 16 && p.Audio.QuantBits != 32 {
			return fmt.Errorf("unsupported quant_bits %d", p.Audio.QuantBits)
		}
		if p.Audio.SampleRate <= 0 || p.Audio.Channels <= 0 {
			return fmt.Errorf("invalid audio format %d Hz / %d ch",
				p.Audio.SampleRate, p.Audio.Channels)
		}
	}
	return nil
}

// Descriptor converts the video section to a frame descriptor. Validate
// must have accepted the configuration first.
func (v VideoConfig) Descriptor() (frame.Descriptor, error) {
	pf, err := frame.ParsePixelFormat(v.PixelFormat)
	if err != nil {
		return frame.Descriptor{}, err
	}
	return frame.Descriptor{
		Width:       v.Width,
		Height:      v.Height,
		PixelFormat: pf,
		FPS:         v.FPS,
		Interlaced:  v.Interlaced,
		TileCount:   1,
	}, nil
}
