package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// NormalizerConfig configures clip normalization
type NormalizerConfig struct {
	TargetSampleRate int
	FFmpeg           FFmpegConfig
}

// Normalizer turns uploads into mono clips at the target sample rate. It keeps no
// per-request state and may be shared by concurrent requests.
type Normalizer struct {
	targetRate int
	fallback   *FFmpegDecoder
	logger     *slog.Logger
}

type nativeDecoder struct {
	name   string
	decode func([]byte) (*Waveform, error)
}

var nativeDecoders = map[Format]nativeDecoder{
	FormatWAV: {name: "wav", decode: DecodeWAV},
	FormatMP3: {name: "mp3", decode: DecodeMP3},
	FormatOgg: {name: "vorbis", decode: DecodeOggVorbis},
}

// NewNormalizer creates a normalizer. When the ffmpeg fallback is unavailable only the
// natively supported containers can be decoded.
func NewNormalizer(cfg NormalizerConfig, logger *slog.Logger) *Normalizer {
	if cfg.TargetSampleRate <= 0 {
		cfg.TargetSampleRate = TargetSampleRate
	}

	n := &Normalizer{
		targetRate: cfg.TargetSampleRate,
		logger:     logger,
	}

	fallback, err := NewFFmpegDecoder(cfg.FFmpeg)
	if err != nil {
		logger.Warn("ffmpeg fallback decoder disabled, only wav/mp3/ogg vorbis uploads are supported",
			slog.String("error", err.Error()),
		)
	} else {
		n.fallback = fallback
		logger.Info("ffmpeg fallback decoder enabled", slog.String("path", fallback.Path()))
	}

	return n
}

// TargetSampleRate returns the rate clips are normalized to
func (n *Normalizer) TargetSampleRate() int {
	return n.targetRate
}

// Normalize decodes data, mixes it to mono and resamples it to the target rate.
// Any decoding problem is returned as a *DecodeError naming filename.
func (n *Normalizer) Normalize(ctx context.Context, key, filename, contentType string, data []byte) (*Clip, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	format := DetectFormat(data, contentType)

	n.logger.Debug("Normalizing upload",
		slog.String("filename", filename),
		slog.String("content_type", contentType),
		slog.String("format", string(format)),
		slog.Int("size", len(data)),
		slog.String("header", fmt.Sprintf("%x", data[:min(len(data), headerPreviewSize)])),
	)

	if len(data) == 0 {
		return nil, newDecodeError(filename, format, data, errors.New("empty upload"))
	}

	wave, decoder, err := n.decode(ctx, format, data)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, newDecodeError(filename, format, data, err)
	}

	samples := MixToMono(wave.Samples, wave.Channels)

	if wave.SampleRate != n.targetRate {
		resampler, err := NewResampler(wave.SampleRate, n.targetRate)
		if err != nil {
			return nil, newDecodeError(filename, format, data, err)
		}
		samples = resampler.Resample(samples)
	}

	return &Clip{
		Key:        key,
		Samples:    samples,
		SampleRate: n.targetRate,
		Source: SourceInfo{
			Filename:   filename,
			Format:     format,
			SampleRate: wave.SampleRate,
			Channels:   wave.Channels,
			Decoder:    decoder,
		},
	}, nil
}

// decode tries the native decoder for format first and falls back to ffmpeg
func (n *Normalizer) decode(ctx context.Context, format Format, data []byte) (*Waveform, string, error) {
	var nativeErr error
	if native, ok := nativeDecoders[format]; ok {
		wave, err := safeDecode(native.decode, data)
		if err == nil {
			return wave, native.name, nil
		}
		nativeErr = err
	}

	if n.fallback == nil {
		if nativeErr != nil {
			return nil, "", nativeErr
		}
		return nil, "", fmt.Errorf("unsupported audio format %q: %w", format, ErrFFmpegUnavailable)
	}

	wave, err := n.fallback.Decode(ctx, data)
	if err != nil {
		if nativeErr != nil {
			return nil, "", fmt.Errorf("%v; %w", nativeErr, err)
		}
		return nil, "", err
	}
	return wave, "ffmpeg", nil
}

// safeDecode runs a native decoder, turning a panic on malformed input into an error
func safeDecode(decode func([]byte) (*Waveform, error), data []byte) (wave *Waveform, err error) {
	defer func() {
		if r := recover(); r != nil {
			wave, err = nil, fmt.Errorf("decoder panic: %v", r)
		}
	}()
	return decode(data)
}
