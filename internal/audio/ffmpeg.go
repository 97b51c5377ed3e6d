package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// ErrFFmpegUnavailable is returned when the fallback decoder is disabled or the
// ffmpeg binary cannot be found
var ErrFFmpegUnavailable = errors.New("ffmpeg decoder unavailable")

// FFmpegConfig controls the subprocess fallback decoder
type FFmpegConfig struct {
	Enabled bool
	Path    string
	TempDir string
	Timeout time.Duration
}

// FFmpegDecoder decodes any container ffmpeg understands by transcoding it to a
// temporary PCM WAV at the native rate and channel layout
type FFmpegDecoder struct {
	path    string
	tempDir string
	timeout time.Duration
}

// NewFFmpegDecoder resolves the ffmpeg binary. It returns ErrFFmpegUnavailable when the
// fallback is disabled or the binary is missing.
func NewFFmpegDecoder(cfg FFmpegConfig) (*FFmpegDecoder, error) {
	if !cfg.Enabled {
		return nil, ErrFFmpegUnavailable
	}

	name := cfg.Path
	if name == "" {
		name = "ffmpeg"
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFFmpegUnavailable, err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &FFmpegDecoder{
		path:    path,
		tempDir: cfg.TempDir,
		timeout: timeout,
	}, nil
}

// Path returns the resolved ffmpeg binary
func (d *FFmpegDecoder) Path() string {
	return d.path
}

// Decode transcodes data and decodes the resulting WAV
func (d *FFmpegDecoder) Decode(ctx context.Context, data []byte) (*Waveform, error) {
	dir, err := os.MkdirTemp(d.tempDir, "asr-decode-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	// seekable input is required for containers with trailing indexes (m4a)
	input := filepath.Join(dir, "input")
	if err := os.WriteFile(input, data, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write temp input: %w", err)
	}
	output := filepath.Join(dir, "output.wav")

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, d.path,
		"-hide_banner", "-loglevel", "error", "-nostdin", "-y",
		"-i", input,
		"-vn", "-map", "0:a:0",
		"-acodec", "pcm_s16le",
		"-f", "wav", output,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.WaitDelay = 2 * time.Second

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("ffmpeg killed: %w", ctx.Err())
		}
		return nil, fmt.Errorf("ffmpeg failed: %w: %s", err, lastLine(stderr.String()))
	}

	wavData, err := os.ReadFile(output)
	if err != nil {
		return nil, fmt.Errorf("failed to read ffmpeg output: %w", err)
	}

	return DecodeWAV(wavData)
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
