package recognition

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/my6014/Dialect-Master/internal/audio"
	"github.com/my6014/Dialect-Master/internal/engine"
	"github.com/my6014/Dialect-Master/internal/metrics"
	"github.com/my6014/Dialect-Master/internal/tags"
	"github.com/my6014/Dialect-Master/internal/vad"
)

// fakeEngine returns canned transcripts and records what it was asked
type fakeEngine struct {
	mu          sync.Mutex
	calls       int
	clips       []*audio.Clip
	lang        engine.Language
	opts        engine.Options
	transcripts []engine.Transcript
	err         error
	// echo answers with one transcript per clip, in reverse order
	echo func(key string) string
}

func (f *fakeEngine) Infer(ctx context.Context, clips []*audio.Clip, lang engine.Language, opts engine.Options) ([]engine.Transcript, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.clips = clips
	f.lang = lang
	f.opts = opts

	if f.err != nil {
		return nil, f.err
	}
	if f.echo != nil {
		out := make([]engine.Transcript, 0, len(clips))
		for i := len(clips) - 1; i >= 0; i-- {
			out = append(out, engine.Transcript{Key: clips[i].Key, Text: f.echo(clips[i].Key)})
		}
		return out, nil
	}
	return f.transcripts, nil
}

type openCounter struct {
	n int32
}

func (c *openCounter) input(t *testing.T, filename string, data []byte) AudioInput {
	t.Helper()
	return AudioInput{
		Filename:    filename,
		ContentType: "application/octet-stream",
		Open: func() (io.ReadCloser, error) {
			atomic.AddInt32(&c.n, 1)
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

func (c *openCounter) count() int32 {
	return atomic.LoadInt32(&c.n)
}

func wavBytes(t *testing.T, sampleRate int) []byte {
	t.Helper()
	samples := make([]float32, sampleRate/4)
	for i := range samples {
		samples[i] = float32(i%64) / 128
	}
	data, err := audio.EncodeWAV(samples, sampleRate)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}
	return data
}

func newTestService(t *testing.T, eng engine.Engine) (*Service, *metrics.Metrics) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.NewMetrics(prometheus.NewRegistry())
	normalizer := audio.NewNormalizer(audio.NormalizerConfig{TargetSampleRate: audio.TargetSampleRate}, logger)
	vadProcessor, err := vad.NewProcessor(0.5, 512)
	if err != nil {
		t.Fatalf("NewProcessor failed: %v", err)
	}
	svc := NewService(Config{DecodeWorkers: 2, Options: engine.DefaultOptions()},
		normalizer, eng, tags.NewExtractor(tags.IdentityRenderer{}), vadProcessor, m, logger)
	return svc, m
}

func TestHandleKeyCountMismatch(t *testing.T) {
	eng := &fakeEngine{}
	svc, m := newTestService(t, eng)
	opener := &openCounter{}

	inputs := []AudioInput{
		opener.input(t, "a.wav", wavBytes(t, 16000)),
		opener.input(t, "b.wav", wavBytes(t, 16000)),
	}

	_, err := svc.Handle(context.Background(), inputs, engine.LanguageAuto, []string{"only-one"})

	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("Expected *ValidationError, got %v", err)
	}
	if validationErr.Field != "keys" {
		t.Errorf("Expected field keys, got %s", validationErr.Field)
	}
	if opener.count() != 0 {
		t.Errorf("Expected no input to be opened, got %d", opener.count())
	}
	if eng.calls != 0 {
		t.Errorf("Expected no engine call, got %d", eng.calls)
	}
	if got := testutil.ToFloat64(m.BatchesProcessed.WithLabelValues(OutcomeValidation)); got != 1 {
		t.Errorf("Expected 1 validation batch, got %f", got)
	}
}

func TestHandleNoInputs(t *testing.T) {
	svc, _ := newTestService(t, &fakeEngine{})

	_, err := svc.Handle(context.Background(), nil, engine.LanguageAuto, nil)

	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("Expected *ValidationError, got %v", err)
	}
}

func TestHandleDefaultKeysAndOrder(t *testing.T) {
	eng := &fakeEngine{echo: func(key string) string {
		return "<|zh|><|HAPPY|><|Laughter|><|withitn|>" + key + " 你好"
	}}
	svc, _ := newTestService(t, eng)
	opener := &openCounter{}

	inputs := []AudioInput{
		opener.input(t, "first.wav", wavBytes(t, 16000)),
		opener.input(t, "second.wav", wavBytes(t, 48000)),
		opener.input(t, "first.wav", wavBytes(t, 8000)),
	}

	results, err := svc.Handle(context.Background(), inputs, engine.LanguageChinese, nil)
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	expectedKeys := []string{"first.wav", "second.wav", "first.wav"}
	if len(results) != len(expectedKeys) {
		t.Fatalf("Expected %d results, got %d", len(expectedKeys), len(results))
	}
	for i, want := range expectedKeys {
		if results[i].Key != want {
			t.Errorf("Result %d: expected key %s, got %s", i, want, results[i].Key)
		}
	}

	r := results[1]
	if r.CleanText != "second.wav 你好" {
		t.Errorf("Expected clean text %q, got %q", "second.wav 你好", r.CleanText)
	}
	if len(r.Emotions) != 1 || r.Emotions[0] != "HAPPY" {
		t.Errorf("Expected emotions [HAPPY], got %v", r.Emotions)
	}
	if len(r.Events) != 1 || r.Events[0] != "Laughter" {
		t.Errorf("Expected events [Laughter], got %v", r.Events)
	}
	if r.Raw != "<|zh|><|HAPPY|><|Laughter|><|withitn|>second.wav 你好" {
		t.Errorf("Unexpected raw text: %q", r.Raw)
	}
	if r.Text != r.CleanText {
		t.Errorf("Expected identity renderer text %q, got %q", r.CleanText, r.Text)
	}

	if eng.calls != 1 {
		t.Errorf("Expected exactly one engine call, got %d", eng.calls)
	}
	if eng.lang != engine.LanguageChinese {
		t.Errorf("Expected lang zh, got %s", eng.lang)
	}
	if !eng.opts.UseITN || eng.opts.BanEmotionUnknown {
		t.Errorf("Expected default options, got %+v", eng.opts)
	}
	for i, clip := range eng.clips {
		if clip.SampleRate != audio.TargetSampleRate {
			t.Errorf("Clip %d: expected rate %d, got %d", i, audio.TargetSampleRate, clip.SampleRate)
		}
		if clip.Key != expectedKeys[i] {
			t.Errorf("Clip %d: expected key %s, got %s", i, expectedKeys[i], clip.Key)
		}
	}
}

func TestHandleKeyOverrides(t *testing.T) {
	eng := &fakeEngine{echo: func(key string) string { return key }}
	svc, _ := newTestService(t, eng)
	opener := &openCounter{}

	inputs := []AudioInput{
		opener.input(t, "a.wav", wavBytes(t, 16000)),
		opener.input(t, "b.wav", wavBytes(t, 16000)),
	}

	results, err := svc.Handle(context.Background(), inputs, engine.LanguageAuto, []string{" x", "y "})
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	if results[0].Key != " x" || results[1].Key != "y " {
		t.Errorf("Expected verbatim override keys, got %q and %q", results[0].Key, results[1].Key)
	}
}

func TestHandleDecodeFailureAbortsBatch(t *testing.T) {
	eng := &fakeEngine{echo: func(key string) string { return key }}
	svc, m := newTestService(t, eng)
	opener := &openCounter{}

	inputs := []AudioInput{
		opener.input(t, "good.wav", wavBytes(t, 16000)),
		opener.input(t, "broken.bin", []byte("this is not audio\x00\x01\x02")),
		opener.input(t, "good2.wav", wavBytes(t, 16000)),
	}

	results, err := svc.Handle(context.Background(), inputs, engine.LanguageAuto, nil)
	if results != nil {
		t.Errorf("Expected no results, got %v", results)
	}

	var decodeErr *audio.DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("Expected *audio.DecodeError, got %v", err)
	}
	if decodeErr.Filename != "broken.bin" {
		t.Errorf("Expected offending filename broken.bin, got %s", decodeErr.Filename)
	}
	if eng.calls != 0 {
		t.Errorf("Expected no engine call, got %d", eng.calls)
	}
	if got := testutil.ToFloat64(m.BatchesProcessed.WithLabelValues(OutcomeDecode)); got != 1 {
		t.Errorf("Expected 1 decode_error batch, got %f", got)
	}
}

func TestHandleOpenFailure(t *testing.T) {
	svc, _ := newTestService(t, &fakeEngine{})

	inputs := []AudioInput{{
		Filename: "gone.wav",
		Open:     func() (io.ReadCloser, error) { return nil, errors.New("disk error") },
	}}

	_, err := svc.Handle(context.Background(), inputs, engine.LanguageAuto, nil)

	var decodeErr *audio.DecodeError
	if !errors.As(err, &decodeErr) || decodeErr.Filename != "gone.wav" {
		t.Errorf("Expected DecodeError for gone.wav, got %v", err)
	}
}

func TestHandleEngineFailure(t *testing.T) {
	cause := errors.New("model crashed")
	svc, m := newTestService(t, &fakeEngine{err: cause})
	opener := &openCounter{}

	_, err := svc.Handle(context.Background(), []AudioInput{opener.input(t, "a.wav", wavBytes(t, 16000))}, engine.LanguageAuto, nil)

	var engineErr *EngineError
	if !errors.As(err, &engineErr) {
		t.Fatalf("Expected *EngineError, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("Expected error to wrap the engine cause, got %v", err)
	}
	if got := testutil.ToFloat64(m.BatchesProcessed.WithLabelValues(OutcomeEngine)); got != 1 {
		t.Errorf("Expected 1 engine_error batch, got %f", got)
	}
}

func TestHandleEmptyResult(t *testing.T) {
	eng := &fakeEngine{transcripts: nil}
	svc, m := newTestService(t, eng)
	opener := &openCounter{}

	inputs := []AudioInput{
		opener.input(t, "one.wav", wavBytes(t, 16000)),
		opener.input(t, "two.wav", wavBytes(t, 16000)),
		opener.input(t, "three.wav", wavBytes(t, 16000)),
	}

	results, err := svc.Handle(context.Background(), inputs, engine.LanguageAuto, nil)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if eng.calls != 1 || len(eng.clips) != 3 {
		t.Errorf("Expected one engine call with 3 clips, got %d calls with %d clips", eng.calls, len(eng.clips))
	}
	if results == nil || len(results) != 0 {
		t.Fatalf("Expected empty non-nil results, got %#v", results)
	}

	body, _ := json.Marshal(map[string]any{"result": results})
	if string(body) != `{"result":[]}` {
		t.Errorf("Expected {\"result\":[]}, got %s", body)
	}
	if got := testutil.ToFloat64(m.EmptyResults); got != 1 {
		t.Errorf("Expected 1 empty result, got %f", got)
	}
}

func TestHandleMalformedOgg(t *testing.T) {
	eng := &fakeEngine{}
	svc, m := newTestService(t, eng)
	opener := &openCounter{}

	badOgg := append([]byte("OggS\x00\x02"), make([]byte, 200)...)
	inputs := []AudioInput{
		opener.input(t, "good.wav", wavBytes(t, 16000)),
		opener.input(t, "bad.ogg", badOgg),
	}

	_, err := svc.Handle(context.Background(), inputs, engine.LanguageAuto, nil)

	var decodeErr *audio.DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("Expected *audio.DecodeError, got %T: %v", err, err)
	}
	if decodeErr.Filename != "bad.ogg" {
		t.Errorf("Expected filename bad.ogg, got %s", decodeErr.Filename)
	}
	if eng.calls != 0 {
		t.Errorf("Expected no engine calls, got %d", eng.calls)
	}
	if got := testutil.ToFloat64(m.BatchesProcessed.WithLabelValues(OutcomeDecode)); got != 1 {
		t.Errorf("Expected 1 decode_error batch, got %f", got)
	}
}

// panicNormalizer fails the way a buggy decoder would
type panicNormalizer struct{}

func (panicNormalizer) Normalize(ctx context.Context, key, filename, contentType string, data []byte) (*audio.Clip, error) {
	var header []byte
	_ = header[255]
	return nil, nil
}

func TestHandleNormalizerPanic(t *testing.T) {
	eng := &fakeEngine{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(Config{DecodeWorkers: 2}, panicNormalizer{}, eng, nil, nil,
		metrics.NewMetrics(prometheus.NewRegistry()), logger)
	opener := &openCounter{}

	_, err := svc.Handle(context.Background(), []AudioInput{opener.input(t, "crash.ogg", []byte("OggS"))}, engine.LanguageAuto, nil)

	var decodeErr *audio.DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("Expected *audio.DecodeError, got %T: %v", err, err)
	}
	if decodeErr.Filename != "crash.ogg" {
		t.Errorf("Expected filename crash.ogg, got %s", decodeErr.Filename)
	}
	if eng.calls != 0 {
		t.Errorf("Expected no engine calls, got %d", eng.calls)
	}
}

func TestResultJSONNeverNull(t *testing.T) {
	svc, _ := newTestService(t, &fakeEngine{transcripts: []engine.Transcript{{Key: "a.wav", Text: "plain"}}})
	opener := &openCounter{}

	results, err := svc.Handle(context.Background(), []AudioInput{opener.input(t, "a.wav", wavBytes(t, 16000))}, engine.LanguageAuto, nil)
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	body, _ := json.Marshal(results[0])
	expected := `{"key":"a.wav","text":"plain","clean_text":"plain","emotions":[],"events":[],"raw":"plain"}`
	if string(body) != expected {
		t.Errorf("Expected %s, got %s", expected, body)
	}
}

func TestCorrelate(t *testing.T) {
	tests := []struct {
		name        string
		keys        []string
		transcripts []engine.Transcript
		expected    []engine.Transcript
	}{
		{
			name:        "reordered",
			keys:        []string{"a", "b"},
			transcripts: []engine.Transcript{{Key: "b", Text: "2"}, {Key: "a", Text: "1"}},
			expected:    []engine.Transcript{{Key: "a", Text: "1"}, {Key: "b", Text: "2"}},
		},
		{
			name:        "duplicate keys consumed in order",
			keys:        []string{"x", "y", "x"},
			transcripts: []engine.Transcript{{Key: "x", Text: "1"}, {Key: "x", Text: "3"}, {Key: "y", Text: "2"}},
			expected:    []engine.Transcript{{Key: "x", Text: "1"}, {Key: "y", Text: "2"}, {Key: "x", Text: "3"}},
		},
		{
			name:        "unknown keys appended",
			keys:        []string{"a", "b"},
			transcripts: []engine.Transcript{{Key: engine.UnknownKey, Text: "?"}, {Key: "b", Text: "2"}},
			expected:    []engine.Transcript{{Key: "b", Text: "2"}, {Key: engine.UnknownKey, Text: "?"}},
		},
		{
			name:        "partial result",
			keys:        []string{"a", "b", "c"},
			transcripts: []engine.Transcript{{Key: "c", Text: "3"}},
			expected:    []engine.Transcript{{Key: "c", Text: "3"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := correlate(tt.keys, tt.transcripts)
			if len(got) != len(tt.expected) {
				t.Fatalf("Expected %d transcripts, got %d", len(tt.expected), len(got))
			}
			for i := range got {
				if got[i] != tt.expected[i] {
					t.Errorf("Position %d: expected %+v, got %+v", i, tt.expected[i], got[i])
				}
			}
		})
	}
}

func TestRequestIDContext(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")
	if got := RequestIDFromContext(ctx); got != "req-1" {
		t.Errorf("Expected req-1, got %s", got)
	}
	if got := RequestIDFromContext(context.Background()); got != "" {
		t.Errorf("Expected empty request id, got %s", got)
	}
}
