package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/my6014/Dialect-Master/internal/audio"
	"github.com/my6014/Dialect-Master/internal/metrics"
)

// maxErrorBody bounds how much of a failed response is kept in errors
const maxErrorBody = 512

// Client sends inference batches to a model server over HTTP
type Client struct {
	config     Config
	httpClient *http.Client
	semaphore  chan struct{} // Concurrency limit
	metrics    *metrics.Metrics
	logger     *slog.Logger

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	totalClips      uint64
	unknownKeys     uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// Config contains engine client configuration
type Config struct {
	Endpoint      string
	APIKey        string
	Timeout       time.Duration
	MaxConcurrent int
}

// StatusError is returned when the model server answers with a non-2xx status
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("model server returned HTTP %d: %s", e.StatusCode, e.Body)
}

type inferResponse struct {
	Result []struct {
		Key  *string `json:"key"`
		Text string  `json:"text"`
	} `json:"result"`
}

// ClientStats represents client statistics
type ClientStats struct {
	Endpoint        string        `json:"endpoint"`
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	TotalClips      uint64        `json:"total_clips"`
	UnknownKeys     uint64        `json:"unknown_keys"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	ActiveRequests  int           `json:"active_requests"`
}

// NewClient creates a new engine HTTP client
func NewClient(config Config, m *metrics.Metrics, logger *slog.Logger) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	u, err := url.Parse(config.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("endpoint must be an absolute http(s) URL, got %q", config.Endpoint)
	}

	if config.Timeout <= 0 {
		config.Timeout = 120 * time.Second
	}

	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 4
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
		semaphore:  make(chan struct{}, config.MaxConcurrent),
		metrics:    m,
		logger:     logger,
	}, nil
}

// Infer sends all clips in one request and returns the keyed transcripts. Failures are
// not retried.
func (c *Client) Infer(ctx context.Context, clips []*audio.Clip, lang Language, opts Options) ([]Transcript, error) {
	if len(clips) == 0 {
		return []Transcript{}, nil
	}

	select {
	case c.semaphore <- struct{}{}:
		defer func() { <-c.semaphore }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	requestID := uuid.NewString()
	logger := c.logger.With(slog.String("engine_request_id", requestID))

	startTime := time.Now()
	c.recordRequest(len(clips))
	c.metrics.RecordEngineRequest()

	logger.Debug("Sending inference request",
		slog.Int("clips", len(clips)),
		slog.String("lang", string(lang)),
		slog.Bool("use_itn", opts.UseITN),
	)

	transcripts, err := c.doRequest(ctx, requestID, clips, lang, opts)
	elapsed := time.Since(startTime)
	if err != nil {
		c.recordFailure()
		c.metrics.RecordEngineFailure(elapsed.Seconds())
		logger.Error("Inference request failed",
			slog.String("error", err.Error()),
			slog.Duration("elapsed", elapsed),
		)
		return nil, err
	}

	c.recordSuccess(elapsed)
	c.metrics.RecordEngineSuccess(elapsed.Seconds())

	logger.Info("Inference completed",
		slog.Int("clips", len(clips)),
		slog.Int("transcripts", len(transcripts)),
		slog.Duration("elapsed", elapsed),
	)

	return transcripts, nil
}

// doRequest performs a single HTTP request to the model server
func (c *Client) doRequest(ctx context.Context, requestID string, clips []*audio.Clip, lang Language, opts Options) ([]Transcript, error) {
	body, contentType, err := createMultipartRequest(clips, lang, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create multipart request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", "Dialect-Master-ASR/1.0")
	httpReq.Header.Set("X-Request-ID", requestID)
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		text := string(respBody)
		if len(text) > maxErrorBody {
			text = text[:maxErrorBody]
		}
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: text}
	}

	var parsed inferResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response JSON: %w", err)
	}

	transcripts := make([]Transcript, 0, len(parsed.Result))
	for i, r := range parsed.Result {
		key := UnknownKey
		if r.Key != nil {
			key = *r.Key
		} else {
			c.recordUnknownKey()
			c.metrics.RecordUnknownKeyFallback()
			c.logger.Warn("Engine returned a transcript without a key",
				slog.String("engine_request_id", requestID),
				slog.Int("index", i),
				slog.String("fallback_key", UnknownKey),
			)
		}
		transcripts = append(transcripts, Transcript{Key: key, Text: r.Text})
	}

	return transcripts, nil
}

// createMultipartRequest encodes every clip as 16-bit PCM WAV with its key
func createMultipartRequest(clips []*audio.Clip, lang Language, opts Options) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	for i, clip := range clips {
		wav, err := audio.EncodeWAV(clip.Samples, clip.SampleRate)
		if err != nil {
			return nil, "", fmt.Errorf("failed to encode clip %d: %w", i, err)
		}

		fileWriter, err := writer.CreateFormFile("files", fmt.Sprintf("clip_%d.wav", i))
		if err != nil {
			return nil, "", fmt.Errorf("failed to create form file: %w", err)
		}

		if _, err := fileWriter.Write(wav); err != nil {
			return nil, "", fmt.Errorf("failed to write audio data: %w", err)
		}
	}

	// keys are repeated in clip order so they can hold commas
	for _, clip := range clips {
		if err := writer.WriteField("keys", clip.Key); err != nil {
			return nil, "", fmt.Errorf("failed to write field keys: %w", err)
		}
	}

	fields := []struct{ name, value string }{
		{"lang", string(lang)},
		{"use_itn", strconv.FormatBool(opts.UseITN)},
		{"ban_emo_unk", strconv.FormatBool(opts.BanEmotionUnknown)},
		{"fs", strconv.Itoa(clips[0].SampleRate)},
	}
	for _, f := range fields {
		if err := writer.WriteField(f.name, f.value); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", f.name, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

// Statistics methods
func (c *Client) recordRequest(clips int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
	c.totalClips += uint64(clips)
}

func (c *Client) recordSuccess(responseTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successRequests++

	// Simple moving average
	if c.avgResponseTime == 0 {
		c.avgResponseTime = responseTime
	} else {
		c.avgResponseTime = (c.avgResponseTime + responseTime) / 2
	}
}

func (c *Client) recordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failedRequests++
}

func (c *Client) recordUnknownKey() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unknownKeys++
}

// GetStats returns current client statistics
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}

	return ClientStats{
		Endpoint:        c.config.Endpoint,
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		SuccessRate:     successRate,
		TotalClips:      c.totalClips,
		UnknownKeys:     c.unknownKeys,
		AvgResponseTime: c.avgResponseTime,
		ActiveRequests:  len(c.semaphore),
	}
}

// Close waits for in-flight requests to finish and releases idle connections
func (c *Client) Close() error {
	for i := 0; i < cap(c.semaphore); i++ {
		c.semaphore <- struct{}{}
	}
	c.httpClient.CloseIdleConnections()
	return nil
}
