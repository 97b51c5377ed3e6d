package vad

import (
	"math"
	"sync"
	"testing"
	"time"
)

func constant(n int, v float32) []float32 {
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = v
	}
	return samples
}

func TestNewProcessor(t *testing.T) {
	processor, err := NewProcessor(0.5, 512)
	if err != nil {
		t.Fatalf("Failed to create processor: %v", err)
	}

	if processor.GetThreshold() != 0.5 {
		t.Errorf("Expected threshold 0.5, got %f", processor.GetThreshold())
	}

	if processor.GetWindowSize() != 512 {
		t.Errorf("Expected window size 512, got %d", processor.GetWindowSize())
	}

	if processor.GetOverlapSize() != 256 {
		t.Errorf("Expected overlap size 256, got %d", processor.GetOverlapSize())
	}
}

func TestNewProcessorValidation(t *testing.T) {
	tests := []struct {
		name       string
		threshold  float32
		windowSize int
		expectErr  bool
	}{
		{name: "valid parameters", threshold: 0.5, windowSize: 512, expectErr: false},
		{name: "threshold too low", threshold: -0.1, windowSize: 512, expectErr: true},
		{name: "threshold too high", threshold: 1.1, windowSize: 512, expectErr: true},
		{name: "zero window size", threshold: 0.5, windowSize: 0, expectErr: true},
		{name: "single sample window", threshold: 0.5, windowSize: 1, expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewProcessor(tt.threshold, tt.windowSize)
			if tt.expectErr && err == nil {
				t.Error("Expected error but got none")
			}
			if !tt.expectErr && err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}

func TestAnalyze(t *testing.T) {
	processor, err := NewProcessor(0.5, 512)
	if err != nil {
		t.Fatalf("Failed to create processor: %v", err)
	}

	tests := []struct {
		name        string
		samples     []float32
		expectVoice bool
	}{
		{name: "silence", samples: make([]float32, 16000), expectVoice: false},
		{name: "low energy", samples: constant(16000, 0.01), expectVoice: false},
		{name: "high energy", samples: constant(16000, 0.3), expectVoice: true},
		{name: "shorter than a window", samples: constant(100, 0.3), expectVoice: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stats := processor.Analyze(tt.samples, 16000)
			if stats.HasVoice() != tt.expectVoice {
				t.Errorf("Expected voice %v, got %v (ratio %.2f)", tt.expectVoice, stats.HasVoice(), stats.VoiceRatio)
			}
			if stats.VoiceRatio < 0 || stats.VoiceRatio > 1 {
				t.Errorf("Invalid voice ratio: %f", stats.VoiceRatio)
			}
		})
	}
}

func TestAnalyzeSegments(t *testing.T) {
	processor, err := NewProcessor(0.5, 512)
	if err != nil {
		t.Fatalf("Failed to create processor: %v", err)
	}

	// 0.5s silence, 0.5s voice, 0.5s silence at 16kHz
	samples := make([]float32, 24000)
	copy(samples[8000:16000], constant(8000, 0.3))

	stats := processor.Analyze(samples, 16000)

	if stats.Duration != 1500*time.Millisecond {
		t.Errorf("Expected duration 1.5s, got %v", stats.Duration)
	}

	if len(stats.Segments) != 1 {
		t.Fatalf("Expected 1 segment, got %d: %+v", len(stats.Segments), stats.Segments)
	}

	seg := stats.Segments[0]
	// windows straddling the edges are voiced too, so allow one window of slack
	slack := 32 * time.Millisecond
	if seg.Start < 500*time.Millisecond-slack || seg.Start > 500*time.Millisecond {
		t.Errorf("Expected segment start near 500ms, got %v", seg.Start)
	}
	if seg.End < time.Second || seg.End > time.Second+slack {
		t.Errorf("Expected segment end near 1s, got %v", seg.End)
	}

	if math.Abs(stats.Peak-0.3) > 1e-6 {
		t.Errorf("Expected peak 0.3, got %f", stats.Peak)
	}
}

func TestAnalyzeEmpty(t *testing.T) {
	processor, _ := NewProcessor(0.5, 512)

	stats := processor.Analyze(nil, 16000)
	if stats.Windows != 0 || stats.HasVoice() {
		t.Errorf("Expected empty stats, got %+v", stats)
	}

	if processor.GetStats().TotalClips != 0 {
		t.Error("Expected empty clips to be excluded from statistics")
	}
}

func TestProcessorStats(t *testing.T) {
	processor, err := NewProcessor(0.6, 512)
	if err != nil {
		t.Fatalf("Failed to create processor: %v", err)
	}

	loud := constant(4096, 0.5)
	silence := make([]float32, 4096)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				processor.Analyze(loud, 16000)
			} else {
				processor.Analyze(silence, 16000)
			}
		}(i)
	}
	wg.Wait()

	stats := processor.GetStats()

	if stats.TotalClips != 10 {
		t.Errorf("Expected 10 clips, got %d", stats.TotalClips)
	}

	if stats.SilentClips != 5 {
		t.Errorf("Expected 5 silent clips, got %d", stats.SilentClips)
	}

	// 4096 samples with 256 hop gives 15 windows per clip
	if stats.TotalWindows != 150 {
		t.Errorf("Expected 150 total windows, got %d", stats.TotalWindows)
	}

	if math.Abs(stats.VoicePercentage-50) > 1e-9 {
		t.Errorf("Expected 50%% voice, got %f", stats.VoicePercentage)
	}

	if stats.LastProcessed.IsZero() {
		t.Error("Expected non-zero last processed time")
	}
}

func TestProcessorReset(t *testing.T) {
	processor, _ := NewProcessor(0.5, 512)
	processor.Analyze(constant(1024, 0.5), 16000)

	processor.Reset()

	stats := processor.GetStats()
	if stats.TotalClips != 0 || stats.TotalWindows != 0 || !stats.LastProcessed.IsZero() {
		t.Errorf("Expected cleared stats, got %+v", stats)
	}
}
