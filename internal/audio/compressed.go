package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
)

// DecodeMP3 decodes an MPEG-1/2 layer III stream. The decoder always yields 16-bit
// stereo frames, so mono sources come back with two identical channels.
func DecodeMP3(data []byte) (*Waveform, error) {
	d, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open MP3 stream: %w", err)
	}

	pcm, err := io.ReadAll(d)
	if err != nil {
		return nil, fmt.Errorf("failed to decode MP3 frames: %w", err)
	}

	samples := make([]float32, len(pcm)/2)
	for i := range samples {
		v := int16(binary.LittleEndian.Uint16(pcm[2*i:]))
		samples[i] = float32(v) / 32768
	}

	w := &Waveform{
		Samples:    samples,
		SampleRate: d.SampleRate(),
		Channels:   2,
	}
	if err := w.validate(); err != nil {
		return nil, err
	}
	return w, nil
}

// DecodeOggVorbis decodes an Ogg container carrying a Vorbis stream. Ogg/Opus is
// rejected here and left to the ffmpeg fallback.
func DecodeOggVorbis(data []byte) (*Waveform, error) {
	samples, format, err := oggvorbis.ReadAll(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode Ogg Vorbis: %w", err)
	}

	w := &Waveform{
		Samples:    samples,
		SampleRate: format.SampleRate,
		Channels:   format.Channels,
	}
	if err := w.validate(); err != nil {
		return nil, err
	}
	return w, nil
}
