package audio

import (
	"fmt"
	"time"
)

// TargetSampleRate is the rate every clip is normalized to before recognition
const TargetSampleRate = 16000

// Waveform is decoded PCM audio at its native rate. Samples are interleaved by channel
// and scaled to [-1, 1].
type Waveform struct {
	Samples    []float32
	SampleRate int
	Channels   int
}

// Frames returns the number of samples per channel
func (w *Waveform) Frames() int {
	if w.Channels <= 0 {
		return 0
	}
	return len(w.Samples) / w.Channels
}

// Duration returns the playback length of the waveform
func (w *Waveform) Duration() time.Duration {
	if w.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(w.Frames()) / float64(w.SampleRate) * float64(time.Second))
}

func (w *Waveform) validate() error {
	if w.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", w.SampleRate)
	}
	if w.Channels <= 0 {
		return fmt.Errorf("invalid channel count %d", w.Channels)
	}
	if w.Frames() == 0 {
		return fmt.Errorf("no audio frames decoded")
	}
	return nil
}

// Clip is a normalized, single channel recording ready for the recognition engine
type Clip struct {
	Key        string
	Samples    []float32
	SampleRate int

	// Source describes the upload the clip was derived from
	Source SourceInfo
}

// SourceInfo records the native properties of the decoded upload
type SourceInfo struct {
	Filename   string `json:"filename"`
	Format     Format `json:"format"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Decoder    string `json:"decoder"`
}

// Duration returns the playback length of the clip
func (c *Clip) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(len(c.Samples)) / float64(c.SampleRate) * float64(time.Second))
}

// MixToMono collapses interleaved samples to one channel by averaging every frame
// across all channels. Mono input is returned unchanged.
func MixToMono(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}

	frames := len(samples) / channels
	mono := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		frame := samples[i*channels : (i+1)*channels]
		for _, s := range frame {
			sum += float64(s)
		}
		mono[i] = float32(sum / float64(channels))
	}
	return mono
}
