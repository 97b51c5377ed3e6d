package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/my6014/Dialect-Master/internal/metrics"
)

// Forward outcomes used as metric labels
const (
	OutcomeOK          = "ok"
	OutcomeInvalidJSON = "invalid_json"
	OutcomeUnreachable = "unreachable"
	OutcomeTooLarge    = "too_large"
)

// defaultMaxResponseBytes bounds how much of an upstream answer is relayed
const defaultMaxResponseBytes = 10 << 20

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// Config contains forwarder configuration
type Config struct {
	UpstreamURL string
	Timeout     time.Duration
	// MaxResponseBytes caps the relayed upstream body, 10 MB when zero
	MaxResponseBytes int64
}

// Upload is the file being forwarded
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Response is what the gateway answers with. Body is always valid JSON.
type Response struct {
	StatusCode int
	Body       []byte
	Outcome    string
}

// Forwarder relays uploads to the upstream recognition endpoint
type Forwarder struct {
	config     Config
	httpClient *http.Client
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewForwarder creates a new upstream forwarder
func NewForwarder(config Config, m *metrics.Metrics, logger *slog.Logger) (*Forwarder, error) {
	if config.UpstreamURL == "" {
		return nil, fmt.Errorf("upstream URL cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	if config.MaxResponseBytes <= 0 {
		config.MaxResponseBytes = defaultMaxResponseBytes
	}

	return &Forwarder{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		metrics:    m,
		logger:     logger,
	}, nil
}

// Forward sends upload as the single "files" part together with lang and keys. The
// upstream status and JSON body are relayed unchanged; transport failures and non-JSON
// answers become 502 responses with an error object.
func (f *Forwarder) Forward(ctx context.Context, upload Upload, lang, keys string) *Response {
	startTime := time.Now()

	resp := f.forward(ctx, upload, lang, keys)
	f.metrics.RecordGatewayRequest(resp.Outcome)

	f.logger.Info("Forwarded recognition request",
		slog.String("filename", upload.Filename),
		slog.Int("size", len(upload.Data)),
		slog.String("outcome", resp.Outcome),
		slog.Int("status", resp.StatusCode),
		slog.Duration("elapsed", time.Since(startTime)),
	)

	return resp
}

func (f *Forwarder) forward(ctx context.Context, upload Upload, lang, keys string) *Response {
	body, contentType, err := createMultipartRequest(upload, lang, keys)
	if err != nil {
		return unreachable(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.config.UpstreamURL, body)
	if err != nil {
		return unreachable(err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	httpResp, err := f.httpClient.Do(req)
	if err != nil {
		f.logger.Warn("Upstream ASR service unreachable", slog.String("error", err.Error()))
		return unreachable(err)
	}
	defer httpResp.Body.Close()

	limit := f.config.MaxResponseBytes
	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, limit+1))
	if err != nil {
		return unreachable(err)
	}

	if int64(len(raw)) > limit {
		f.logger.Warn("Upstream ASR response too large",
			slog.Int("status", httpResp.StatusCode),
			slog.Int64("limit", limit),
		)
		return errorResponse(OutcomeTooLarge, map[string]string{
			"error": "upstream ASR response too large",
			"limit": strconv.FormatInt(limit, 10),
		})
	}

	if !json.Valid(raw) {
		f.logger.Warn("Upstream ASR service returned invalid JSON",
			slog.Int("status", httpResp.StatusCode),
			slog.Int("size", len(raw)),
		)
		return errorResponse(OutcomeInvalidJSON, map[string]string{
			"error": "upstream ASR returned invalid JSON",
			"raw":   string(raw),
		})
	}

	return &Response{StatusCode: httpResp.StatusCode, Body: raw, Outcome: OutcomeOK}
}

func unreachable(err error) *Response {
	return errorResponse(OutcomeUnreachable, map[string]string{
		"error":   "cannot reach upstream ASR service",
		"details": err.Error(),
	})
}

func errorResponse(outcome string, payload map[string]string) *Response {
	body, _ := json.Marshal(payload)
	return &Response{StatusCode: http.StatusBadGateway, Body: body, Outcome: outcome}
}

func createMultipartRequest(upload Upload, lang, keys string) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	contentType := upload.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="files"; filename="%s"`, quoteEscaper.Replace(upload.Filename)))
	header.Set("Content-Type", contentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(upload.Data); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}

	if lang == "" {
		lang = "auto"
	}
	if err := writer.WriteField("lang", lang); err != nil {
		return nil, "", fmt.Errorf("failed to write field lang: %w", err)
	}
	if keys != "" {
		if err := writer.WriteField("keys", keys); err != nil {
			return nil, "", fmt.Errorf("failed to write field keys: %w", err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}
