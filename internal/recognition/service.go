package recognition

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/my6014/Dialect-Master/internal/audio"
	"github.com/my6014/Dialect-Master/internal/engine"
	"github.com/my6014/Dialect-Master/internal/metrics"
	"github.com/my6014/Dialect-Master/internal/tags"
	"github.com/my6014/Dialect-Master/internal/vad"
)

// Batch outcomes used as metric labels
const (
	OutcomeOK         = "ok"
	OutcomeEmpty      = "empty"
	OutcomeValidation = "validation_error"
	OutcomeDecode     = "decode_error"
	OutcomeEngine     = "engine_error"
	OutcomeCanceled   = "canceled"
)

// Normalizer turns one upload into a normalized clip
type Normalizer interface {
	Normalize(ctx context.Context, key, filename, contentType string, data []byte) (*audio.Clip, error)
}

// Config contains batch pipeline configuration
type Config struct {
	// DecodeWorkers bounds parallel normalization within one batch
	DecodeWorkers int
	Options       engine.Options
}

// Service runs recognition batches. It holds no per-request state.
type Service struct {
	config     Config
	normalizer Normalizer
	engine     engine.Engine
	extractor  *tags.Extractor
	vad        *vad.Processor
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewService creates a batch service. vadProcessor may be nil to skip voice statistics.
func NewService(config Config, normalizer Normalizer, eng engine.Engine, extractor *tags.Extractor,
	vadProcessor *vad.Processor, m *metrics.Metrics, logger *slog.Logger) *Service {
	if config.DecodeWorkers <= 0 {
		config.DecodeWorkers = runtime.NumCPU()
	}
	if extractor == nil {
		extractor = tags.NewExtractor(nil)
	}

	return &Service{
		config:     config,
		normalizer: normalizer,
		engine:     eng,
		extractor:  extractor,
		vad:        vadProcessor,
		metrics:    m,
		logger:     logger,
	}
}

// Handle recognizes every input and returns one result per transcript in input order.
// keyOverrides, when non-nil, must have one key per input; otherwise each key defaults
// to the filename. A decode failure of any input fails the whole batch.
func (s *Service) Handle(ctx context.Context, inputs []AudioInput, lang engine.Language, keyOverrides []string) ([]Result, error) {
	logger := s.logger
	if id := RequestIDFromContext(ctx); id != "" {
		logger = logger.With(slog.String("request_id", id))
	}

	keys, err := resolveKeys(inputs, keyOverrides)
	if err != nil {
		s.metrics.RecordBatch(OutcomeValidation, len(inputs))
		logger.Warn("Rejected recognition batch", slog.String("error", err.Error()))
		return nil, err
	}

	startTime := time.Now()

	clips, err := s.normalizeAll(ctx, logger, inputs, keys)
	if err != nil {
		if ctx.Err() != nil {
			s.metrics.RecordBatch(OutcomeCanceled, len(inputs))
		} else {
			s.metrics.RecordBatch(OutcomeDecode, len(inputs))
		}
		logger.Warn("Recognition batch aborted", slog.String("error", err.Error()))
		return nil, err
	}

	transcripts, err := s.engine.Infer(ctx, clips, lang, s.config.Options)
	if err != nil {
		s.metrics.RecordBatch(OutcomeEngine, len(inputs))
		return nil, &EngineError{Err: err}
	}

	if len(transcripts) == 0 {
		s.metrics.RecordBatch(OutcomeEmpty, len(inputs))
		s.metrics.RecordEmptyResult()
		logger.Info("Engine detected no speech", slog.Int("files", len(inputs)))
		return []Result{}, nil
	}

	if len(transcripts) != len(clips) {
		logger.Warn("Engine returned a different number of transcripts than clips",
			slog.Int("clips", len(clips)),
			slog.Int("transcripts", len(transcripts)),
		)
	}

	results := make([]Result, 0, len(transcripts))
	for _, t := range correlate(keys, transcripts) {
		extraction := s.extractor.Extract(t.Text)
		s.metrics.RecordTags(extraction.Emotions, extraction.Events)

		results = append(results, Result{
			Key:       t.Key,
			Text:      extraction.RichText,
			CleanText: extraction.CleanText,
			Emotions:  extraction.Emotions,
			Events:    extraction.Events,
			Raw:       t.Text,
		})
	}

	s.metrics.RecordBatch(OutcomeOK, len(inputs))
	logger.Info("Recognition batch completed",
		slog.Int("files", len(inputs)),
		slog.Int("results", len(results)),
		slog.String("lang", string(lang)),
		slog.Duration("elapsed", time.Since(startTime)),
	)

	return results, nil
}

// resolveKeys validates the request shape before any input is opened
func resolveKeys(inputs []AudioInput, keyOverrides []string) ([]string, error) {
	if len(inputs) == 0 {
		return nil, &ValidationError{Field: "files", Message: "at least one audio file is required"}
	}

	if keyOverrides != nil {
		if len(keyOverrides) != len(inputs) {
			return nil, &ValidationError{
				Field:   "keys",
				Message: fmt.Sprintf("got %d keys for %d files", len(keyOverrides), len(inputs)),
			}
		}
		keys := make([]string, len(keyOverrides))
		copy(keys, keyOverrides)
		return keys, nil
	}

	keys := make([]string, len(inputs))
	for i, in := range inputs {
		keys[i] = in.Filename
	}
	return keys, nil
}

// normalizeAll decodes every input in parallel. The first failure cancels the rest.
func (s *Service) normalizeAll(ctx context.Context, logger *slog.Logger, inputs []AudioInput, keys []string) ([]*audio.Clip, error) {
	clips := make([]*audio.Clip, len(inputs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.DecodeWorkers)

	for i := range inputs {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("Panic while normalizing upload",
						slog.String("filename", inputs[i].Filename),
						slog.Any("panic", r),
						slog.String("stack", string(debug.Stack())),
					)
					err = &audio.DecodeError{Filename: inputs[i].Filename, Format: audio.FormatUnknown, Err: fmt.Errorf("panic: %v", r)}
				}
			}()

			clip, err := s.normalizeOne(gctx, logger, inputs[i], keys[i])
			if err != nil {
				return err
			}
			clips[i] = clip
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return clips, nil
}

func (s *Service) normalizeOne(ctx context.Context, logger *slog.Logger, in AudioInput, key string) (*audio.Clip, error) {
	data, err := readInput(in)
	if err != nil {
		s.metrics.RecordDecodeFailure(string(audio.FormatUnknown))
		return nil, &audio.DecodeError{Filename: in.Filename, Format: audio.FormatUnknown, Err: err}
	}

	startTime := time.Now()
	clip, err := s.normalizer.Normalize(ctx, key, in.Filename, in.ContentType, data)
	if err != nil {
		if ctx.Err() == nil {
			s.metrics.RecordDecodeFailure(string(audio.DetectFormat(data, in.ContentType)))
		}
		return nil, err
	}

	clipSeconds := clip.Duration().Seconds()
	s.metrics.RecordDecode(string(clip.Source.Format), clip.Source.Decoder, time.Since(startTime).Seconds(), clipSeconds)

	attrs := []any{
		slog.String("filename", in.Filename),
		slog.String("key", key),
		slog.String("format", string(clip.Source.Format)),
		slog.String("decoder", clip.Source.Decoder),
		slog.Int("native_rate", clip.Source.SampleRate),
		slog.Int("native_channels", clip.Source.Channels),
		slog.Float64("duration_seconds", clipSeconds),
	}

	if s.vad != nil {
		stats := s.vad.Analyze(clip.Samples, clip.SampleRate)
		s.metrics.RecordVoiceActivity(stats.VoiceRatio, stats.HasVoice())
		attrs = append(attrs,
			slog.Float64("voice_ratio", stats.VoiceRatio),
			slog.Int("voice_segments", len(stats.Segments)),
		)
	}

	logger.Debug("Clip normalized", attrs...)
	return clip, nil
}

func readInput(in AudioInput) ([]byte, error) {
	if in.Open == nil {
		return nil, fmt.Errorf("no content")
	}
	rc, err := in.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open upload: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	return data, nil
}

// correlate orders transcripts by input: each key takes the first unused transcript
// with the same key, and transcripts matching no input follow in engine order
func correlate(keys []string, transcripts []engine.Transcript) []engine.Transcript {
	byKey := make(map[string][]int, len(transcripts))
	for i, t := range transcripts {
		byKey[t.Key] = append(byKey[t.Key], i)
	}

	used := make([]bool, len(transcripts))
	ordered := make([]engine.Transcript, 0, len(transcripts))
	for _, k := range keys {
		queue := byKey[k]
		if len(queue) == 0 {
			continue
		}
		i := queue[0]
		byKey[k] = queue[1:]
		used[i] = true
		ordered = append(ordered, transcripts[i])
	}

	for i, t := range transcripts {
		if !used[i] {
			ordered = append(ordered, t)
		}
	}
	return ordered
}
