package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func nativeOnlyNormalizer() *Normalizer {
	return NewNormalizer(NormalizerConfig{TargetSampleRate: TargetSampleRate}, testLogger())
}

func TestNormalizeStereoWAV(t *testing.T) {
	const rate = 44100
	left := sine(440, rate, rate/4, 0.5)
	data := make([]int, 2*len(left))
	for i, s := range left {
		// right channel is silent so the mono mix halves the amplitude
		data[2*i] = int(s * 32767)
	}

	n := nativeOnlyNormalizer()
	clip, err := n.Normalize(context.Background(), "k1", "stereo.wav", "audio/wav", writeWAVFixture(t, data, rate, 16, 2))
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	if clip.Key != "k1" {
		t.Errorf("Expected key k1, got %s", clip.Key)
	}

	if clip.SampleRate != TargetSampleRate {
		t.Errorf("Expected sample rate %d, got %d", TargetSampleRate, clip.SampleRate)
	}

	r, _ := NewResampler(rate, TargetSampleRate)
	if len(clip.Samples) != r.OutputLength(len(left)) {
		t.Errorf("Expected %d samples, got %d", r.OutputLength(len(left)), len(clip.Samples))
	}

	if clip.Source.Channels != 2 || clip.Source.SampleRate != rate {
		t.Errorf("Expected source 2ch/%d, got %dch/%d", rate, clip.Source.Channels, clip.Source.SampleRate)
	}

	if clip.Source.Decoder != "wav" || clip.Source.Format != FormatWAV {
		t.Errorf("Expected native wav decoder, got %s/%s", clip.Source.Decoder, clip.Source.Format)
	}

	// 0.5 amplitude sine on one channel mixes to 0.25 amplitude
	level := rms(clip.Samples[200 : len(clip.Samples)-200])
	want := 0.25 / math.Sqrt2
	if math.Abs(level-want) > 0.01 {
		t.Errorf("Expected rms %.3f, got %.3f", want, level)
	}
}

func TestNormalizeAlreadyAtTargetRate(t *testing.T) {
	samples := []float32{0.25, -0.25, 0.5, -0.5}
	wavData, err := EncodeWAV(samples, TargetSampleRate)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	clip, err := nativeOnlyNormalizer().Normalize(context.Background(), "k", "a.wav", "", wavData)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	if len(clip.Samples) != len(samples) {
		t.Fatalf("Expected %d samples, got %d", len(samples), len(clip.Samples))
	}
	for i, want := range samples {
		if math.Abs(float64(clip.Samples[i]-want)) > 1e-4 {
			t.Errorf("Sample %d: expected %f, got %f", i, want, clip.Samples[i])
		}
	}
}

func TestNormalizeDecodeErrors(t *testing.T) {
	truncatedWAV, err := EncodeWAV([]float32{0.1, 0.2}, 16000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	oversizedChunk, err := EncodeWAV(make([]float32, 4000), 16000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}
	binary.LittleEndian.PutUint32(oversizedChunk[16:20], 0xfa000010)

	truncatedOgg := append([]byte("OggS\x00\x02"), make([]byte, 200)...)
	id3Only := append([]byte("ID3\x03\x00\x00\x00\x00\x00\x00"), make([]byte, 100)...)

	tests := []struct {
		name        string
		filename    string
		contentType string
		data        []byte
	}{
		{"empty upload", "empty.wav", "audio/wav", nil},
		{"fmt chunk size beyond payload", "x.wav", "audio/wav", oversizedChunk},
		{"truncated ogg page", "bad.ogg", "audio/ogg", truncatedOgg},
		{"id3 tag without frames", "tag.mp3", "audio/mpeg", id3Only},
		{"garbage", "noise.bin", "application/octet-stream", []byte("definitely not audio, only text bytes\x00\x01")},
		{"truncated wav", "cut.wav", "audio/wav", truncatedWAV[:20]},
		{"unsupported without ffmpeg", "voice.webm", "audio/webm", []byte{0x1a, 0x45, 0xdf, 0xa3, 0x00, 0x00, 0x00, 0x00}},
	}

	n := nativeOnlyNormalizer()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := n.Normalize(context.Background(), "k", tt.filename, tt.contentType, tt.data)
			if err == nil {
				t.Fatal("Expected decode error")
			}

			var decodeErr *DecodeError
			if !errors.As(err, &decodeErr) {
				t.Fatalf("Expected *DecodeError, got %T: %v", err, err)
			}

			if decodeErr.Filename != tt.filename {
				t.Errorf("Expected filename %s, got %s", tt.filename, decodeErr.Filename)
			}

			if len(decodeErr.Header) != min(len(tt.data), headerPreviewSize) {
				t.Errorf("Expected %d header bytes, got %d", min(len(tt.data), headerPreviewSize), len(decodeErr.Header))
			}
		})
	}
}

func TestNormalizeUnsupportedWithoutFFmpeg(t *testing.T) {
	webm := []byte{0x1a, 0x45, 0xdf, 0xa3, 0x00, 0x00, 0x00, 0x00}
	_, err := nativeOnlyNormalizer().Normalize(context.Background(), "k", "voice.webm", "audio/webm", webm)
	if !errors.Is(err, ErrFFmpegUnavailable) {
		t.Errorf("Expected ErrFFmpegUnavailable, got %v", err)
	}
}

func TestNormalizeCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	wavData, _ := EncodeWAV([]float32{0.1}, 16000)
	_, err := nativeOnlyNormalizer().Normalize(ctx, "k", "a.wav", "", wavData)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestDecodeErrorMessage(t *testing.T) {
	err := newDecodeError("clip.mp3", FormatMP3, []byte{0xde, 0xad, 0xbe, 0xef}, errors.New("bad frame"))

	if err.Error() != "cannot read audio file clip.mp3: bad frame" {
		t.Errorf("Unexpected message: %s", err.Error())
	}

	if err.HeaderHex() != "deadbeef" {
		t.Errorf("Expected header deadbeef, got %s", err.HeaderHex())
	}
}
