package frame

// AudioFrame is a block of interleaved PCM samples handed to the engine
// together with the media-clock timestamp of its first sample.
type AudioFrame struct {
	// BPS is bytes per sample per channel (2 or 4).
	BPS        int
	SampleRate int
	Channels   int
	Data       []byte
	// Timestamp is the media-clock time of the first sample, or NoTimestamp.
	Timestamp int64
}

// Samples returns the number of sample frames (one sample per channel).
func (a *AudioFrame) Samples() int {
	if a.BPS == 0 || a.Channels == 0 {
		return 0
	}
	return len(a.Data) / (a.BPS * a.Channels)
}
