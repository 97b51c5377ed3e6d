package vad

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// referenceRMS is the window level that maps to a voice probability of 1 (about -20 dBFS)
const referenceRMS = 0.1

// Processor computes per-clip voice activity over half-overlapping windows. Analysis is
// stateless per clip; the processor only accumulates aggregate statistics.
type Processor struct {
	threshold   float32
	windowSize  int // Samples per window (512 for 32ms at 16kHz)
	overlapSize int // Overlap samples (256 for 50% overlap)

	// Statistics
	totalClips    uint64
	silentClips   uint64
	totalWindows  uint64
	voiceWindows  uint64
	lastProcessed time.Time

	mu sync.RWMutex
}

// Segment is a continuous stretch of voice activity inside a clip
type Segment struct {
	Start time.Duration `json:"start"`
	End   time.Duration `json:"end"`
}

// Stats summarizes the voice activity of one clip
type Stats struct {
	Windows      int           `json:"windows"`
	VoiceWindows int           `json:"voice_windows"`
	VoiceRatio   float64       `json:"voice_ratio"` // fraction of windows with voice (0.0 - 1.0)
	RMS          float64       `json:"rms"`
	Peak         float64       `json:"peak"`
	Duration     time.Duration `json:"duration"`
	Segments     []Segment     `json:"segments"`
}

// HasVoice reports whether any window crossed the threshold
func (s Stats) HasVoice() bool {
	return s.VoiceWindows > 0
}

// ProcessorStats represents aggregate VAD statistics
type ProcessorStats struct {
	TotalClips      uint64    `json:"total_clips"`
	SilentClips     uint64    `json:"silent_clips"`
	TotalWindows    uint64    `json:"total_windows"`
	VoiceWindows    uint64    `json:"voice_windows"`
	VoicePercentage float64   `json:"voice_percentage"`
	LastProcessed   time.Time `json:"last_processed"`
	Threshold       float32   `json:"threshold"`
	WindowSize      int       `json:"window_size"`
}

// NewProcessor creates a new VAD processor instance
func NewProcessor(threshold float32, windowSize int) (*Processor, error) {
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("threshold must be between 0 and 1, got %f", threshold)
	}

	if windowSize < 2 {
		return nil, fmt.Errorf("window size must be at least 2, got %d", windowSize)
	}

	return &Processor{
		threshold:   threshold,
		windowSize:  windowSize,
		overlapSize: windowSize / 2, // 50% overlap
	}, nil
}

// Analyze computes voice activity for mono samples at sampleRate. Clips shorter than one
// window are analyzed as a single window.
func (p *Processor) Analyze(samples []float32, sampleRate int) Stats {
	stats := Stats{Segments: make([]Segment, 0)}
	if len(samples) == 0 || sampleRate <= 0 {
		return stats
	}

	stats.Duration = samplesToDuration(len(samples), sampleRate)

	var sumSquares float64
	for _, s := range samples {
		v := float64(s)
		sumSquares += v * v
		stats.Peak = math.Max(stats.Peak, math.Abs(v))
	}
	stats.RMS = math.Sqrt(sumSquares / float64(len(samples)))

	hop := p.windowSize - p.overlapSize
	var current *Segment
	for start := 0; ; start += hop {
		end := min(start+p.windowSize, len(samples))
		voiced := p.probability(samples[start:end]) >= p.threshold

		stats.Windows++
		if voiced {
			stats.VoiceWindows++
			if current == nil {
				current = &Segment{Start: samplesToDuration(start, sampleRate)}
			}
			current.End = samplesToDuration(end, sampleRate)
		} else if current != nil {
			stats.Segments = append(stats.Segments, *current)
			current = nil
		}

		if end == len(samples) {
			break
		}
	}
	if current != nil {
		stats.Segments = append(stats.Segments, *current)
	}

	stats.VoiceRatio = float64(stats.VoiceWindows) / float64(stats.Windows)

	p.mu.Lock()
	p.totalClips++
	if stats.VoiceWindows == 0 {
		p.silentClips++
	}
	p.totalWindows += uint64(stats.Windows)
	p.voiceWindows += uint64(stats.VoiceWindows)
	p.lastProcessed = time.Now()
	p.mu.Unlock()

	return stats
}

// probability maps window RMS energy to a 0-1 voice probability
func (p *Processor) probability(window []float32) float32 {
	var energy float64
	for _, s := range window {
		energy += float64(s) * float64(s)
	}
	energy = math.Sqrt(energy / float64(len(window)))

	return float32(math.Min(energy/referenceRMS, 1))
}

func samplesToDuration(n, sampleRate int) time.Duration {
	return time.Duration(int64(n) * int64(time.Second) / int64(sampleRate))
}

// GetStats returns current processor statistics
func (p *Processor) GetStats() ProcessorStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	voicePercentage := float64(0)
	if p.totalWindows > 0 {
		voicePercentage = float64(p.voiceWindows) / float64(p.totalWindows) * 100
	}

	return ProcessorStats{
		TotalClips:      p.totalClips,
		SilentClips:     p.silentClips,
		TotalWindows:    p.totalWindows,
		VoiceWindows:    p.voiceWindows,
		VoicePercentage: voicePercentage,
		LastProcessed:   p.lastProcessed,
		Threshold:       p.threshold,
		WindowSize:      p.windowSize,
	}
}

// GetThreshold returns the voice detection threshold
func (p *Processor) GetThreshold() float32 {
	return p.threshold
}

// GetWindowSize returns the window size in samples
func (p *Processor) GetWindowSize() int {
	return p.windowSize
}

// GetOverlapSize returns the overlap size in samples
func (p *Processor) GetOverlapSize() int {
	return p.overlapSize
}

// Reset clears the aggregate statistics
func (p *Processor) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.totalClips = 0
	p.silentClips = 0
	p.totalWindows = 0
	p.voiceWindows = 0
	p.lastProcessed = time.Time{}
}
