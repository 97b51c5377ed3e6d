package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvFiles are loaded before the configuration file. Variables already present in the
// environment are never overridden, and earlier files win over later ones.
var EnvFiles = []string{".env.local", ".env"}

// Config represents the complete service configuration
type Config struct {
	HTTP    HTTPConfig    `yaml:"http" json:"http"`
	Audio   AudioConfig   `yaml:"audio" json:"audio"`
	VAD     VADConfig     `yaml:"vad" json:"vad"`
	Engine  EngineConfig  `yaml:"engine" json:"engine"`
	Gateway GatewayConfig `yaml:"gateway" json:"gateway"`
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Address      string   `yaml:"address" json:"address"`
	Port         int      `yaml:"port" json:"port"`
	ReadTimeout  int      `yaml:"read_timeout" json:"read_timeout"`   // seconds
	WriteTimeout int      `yaml:"write_timeout" json:"write_timeout"` // seconds
	MaxUploadMB  int      `yaml:"max_upload_mb" json:"max_upload_mb"`
	CORSOrigins  []string `yaml:"cors_origins" json:"cors_origins"`
}

// AudioConfig contains audio normalization parameters
type AudioConfig struct {
	TargetSampleRate int    `yaml:"target_sample_rate" json:"target_sample_rate"`
	DecodeWorkers    int    `yaml:"decode_workers" json:"decode_workers"`
	FFmpegEnabled    bool   `yaml:"ffmpeg_enabled" json:"ffmpeg_enabled"`
	FFmpegPath       string `yaml:"ffmpeg_path" json:"ffmpeg_path"`
	FFmpegTimeout    int    `yaml:"ffmpeg_timeout" json:"ffmpeg_timeout"` // seconds
	TempDir          string `yaml:"temp_dir" json:"temp_dir"`
}

// VADConfig contains voice activity statistics configuration
type VADConfig struct {
	Enabled    bool    `yaml:"enabled" json:"enabled"`
	Threshold  float32 `yaml:"threshold" json:"threshold"`
	WindowSize int     `yaml:"window_size" json:"window_size"` // samples
}

// EngineConfig contains recognition engine client configuration
type EngineConfig struct {
	Endpoint          string `yaml:"endpoint" json:"endpoint"`
	APIKey            string `yaml:"api_key" json:"api_key"`
	Timeout           int    `yaml:"timeout" json:"timeout"` // seconds
	MaxConcurrent     int    `yaml:"max_concurrent" json:"max_concurrent"`
	UseITN            bool   `yaml:"use_itn" json:"use_itn"`
	BanEmotionUnknown bool   `yaml:"ban_emo_unk" json:"ban_emo_unk"`
}

// GatewayConfig contains the upstream forwarding endpoint configuration
type GatewayConfig struct {
	Enabled     bool   `yaml:"enabled" json:"enabled"`
	UpstreamURL string `yaml:"upstream_url" json:"upstream_url"`
	Timeout     int    `yaml:"timeout" json:"timeout"` // seconds
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
}

// Default returns the configuration used for every key the file leaves out
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Address:      "0.0.0.0",
			Port:         8080,
			ReadTimeout:  60,
			WriteTimeout: 180,
			MaxUploadMB:  50,
			CORSOrigins:  []string{"*"},
		},
		Audio: AudioConfig{
			TargetSampleRate: 16000,
			DecodeWorkers:    4,
			FFmpegEnabled:    true,
			FFmpegPath:       "ffmpeg",
			FFmpegTimeout:    60,
		},
		VAD: VADConfig{
			Enabled:    true,
			Threshold:  0.5,
			WindowSize: 512,
		},
		Engine: EngineConfig{
			Endpoint:          "http://127.0.0.1:50000/api/v1/asr",
			Timeout:           120,
			MaxConcurrent:     4,
			UseITN:            true,
			BanEmotionUnknown: false,
		},
		Gateway: GatewayConfig{
			Enabled:     false,
			UpstreamURL: "http://127.0.0.1:50000/api/v1/asr",
			Timeout:     30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load reads and parses the configuration file. Env files are loaded first and
// ${VAR} references in the file are expanded from the environment.
func Load(path string) (*Config, error) {
	if err := LoadEnvFiles(EnvFiles...); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// LoadEnvFiles loads the given dotenv files, skipping any that do not exist
func LoadEnvFiles(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("failed to load env file %s: %w", p, err)
		}
	}
	return nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.VAD.Validate(); err != nil {
		return fmt.Errorf("vad config: %w", err)
	}

	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("engine config: %w", err)
	}

	if err := c.Gateway.Validate(); err != nil {
		return fmt.Errorf("gateway config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Port < 1 || h.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", h.Port)
	}

	if h.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	if h.ReadTimeout < 1 {
		return fmt.Errorf("read_timeout must be at least 1 second, got %d", h.ReadTimeout)
	}

	if h.WriteTimeout < 1 {
		return fmt.Errorf("write_timeout must be at least 1 second, got %d", h.WriteTimeout)
	}

	if h.MaxUploadMB < 1 {
		return fmt.Errorf("max_upload_mb must be at least 1, got %d", h.MaxUploadMB)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.TargetSampleRate != 16000 {
		return fmt.Errorf("target_sample_rate must be 16000 Hz for the recognition model, got %d", a.TargetSampleRate)
	}

	if a.DecodeWorkers < 1 {
		return fmt.Errorf("decode_workers must be at least 1, got %d", a.DecodeWorkers)
	}

	if a.FFmpegEnabled && a.FFmpegPath == "" {
		return fmt.Errorf("ffmpeg_path cannot be empty when ffmpeg is enabled")
	}

	if a.FFmpegTimeout < 1 {
		return fmt.Errorf("ffmpeg_timeout must be at least 1 second, got %d", a.FFmpegTimeout)
	}

	return nil
}

// Validate validates VAD configuration
func (v *VADConfig) Validate() error {
	if !v.Enabled {
		return nil
	}

	if v.Threshold < 0 || v.Threshold > 1 {
		return fmt.Errorf("threshold must be between 0 and 1, got %f", v.Threshold)
	}

	if v.WindowSize < 256 || v.WindowSize > 2048 {
		return fmt.Errorf("window_size must be between 256 and 2048 samples, got %d", v.WindowSize)
	}

	return nil
}

// Validate validates engine configuration
func (e *EngineConfig) Validate() error {
	if err := validateURL(e.Endpoint); err != nil {
		return fmt.Errorf("endpoint: %w", err)
	}

	if e.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", e.Timeout)
	}

	if e.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", e.MaxConcurrent)
	}

	return nil
}

// Validate validates gateway configuration
func (g *GatewayConfig) Validate() error {
	if !g.Enabled {
		return nil
	}

	if err := validateURL(g.UpstreamURL); err != nil {
		return fmt.Errorf("upstream_url: %w", err)
	}

	if g.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", g.Timeout)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// any other output value is treated as a file path
	if l.Output == "" {
		return fmt.Errorf("output cannot be empty")
	}

	return nil
}

func validateURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("cannot be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}
	return nil
}

// Sanitized returns a copy that is safe to expose over the API
func (c *Config) Sanitized() Config {
	out := *c
	out.HTTP.CORSOrigins = append([]string(nil), c.HTTP.CORSOrigins...)
	if out.Engine.APIKey != "" {
		out.Engine.APIKey = "***"
	}
	return out
}

// GetReadTimeout returns the read timeout as a time.Duration
func (h *HTTPConfig) GetReadTimeout() time.Duration {
	return time.Duration(h.ReadTimeout) * time.Second
}

// GetWriteTimeout returns the write timeout as a time.Duration
func (h *HTTPConfig) GetWriteTimeout() time.Duration {
	return time.Duration(h.WriteTimeout) * time.Second
}

// GetMaxUploadBytes returns the request body limit in bytes
func (h *HTTPConfig) GetMaxUploadBytes() int64 {
	return int64(h.MaxUploadMB) << 20
}

// GetFFmpegTimeout returns the ffmpeg timeout as a time.Duration
func (a *AudioConfig) GetFFmpegTimeout() time.Duration {
	return time.Duration(a.FFmpegTimeout) * time.Second
}

// GetTimeoutDuration returns the engine timeout as a time.Duration
func (e *EngineConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(e.Timeout) * time.Second
}

// GetTimeoutDuration returns the gateway timeout as a time.Duration
func (g *GatewayConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(g.Timeout) * time.Second
}
