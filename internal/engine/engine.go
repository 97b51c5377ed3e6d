package engine

import (
	"context"
	"fmt"

	"github.com/my6014/Dialect-Master/internal/audio"
)

// Language selects the recognition language hint
type Language string

const (
	LanguageAuto      Language = "auto"
	LanguageChinese   Language = "zh"
	LanguageEnglish   Language = "en"
	LanguageCantonese Language = "yue"
	LanguageJapanese  Language = "ja"
	LanguageKorean    Language = "ko"
	LanguageNoSpeech  Language = "nospeech"
)

var languages = []Language{
	LanguageAuto,
	LanguageChinese,
	LanguageEnglish,
	LanguageCantonese,
	LanguageJapanese,
	LanguageKorean,
	LanguageNoSpeech,
}

// Languages returns every accepted language hint
func Languages() []Language {
	out := make([]Language, len(languages))
	copy(out, languages)
	return out
}

// ParseLanguage validates a language hint. An empty string selects LanguageAuto.
func ParseLanguage(s string) (Language, error) {
	if s == "" {
		return LanguageAuto, nil
	}
	for _, l := range languages {
		if string(l) == s {
			return l, nil
		}
	}
	return "", fmt.Errorf("unsupported language %q", s)
}

// UnknownKey labels transcripts the engine returned without a key
const UnknownKey = "unknown"

// Options are per-call inference switches
type Options struct {
	// UseITN enables inverse text normalization (punctuation, digits)
	UseITN bool
	// BanEmotionUnknown suppresses the unknown emotion tag
	BanEmotionUnknown bool
}

// DefaultOptions returns the options used when a caller sets none
func DefaultOptions() Options {
	return Options{UseITN: true, BanEmotionUnknown: false}
}

// Transcript is one raw tagged transcript produced by the engine
type Transcript struct {
	Key  string `json:"key"`
	Text string `json:"text"`
}

// Engine runs speech recognition over a batch of clips. Implementations must return
// keyed transcripts; callers never correlate by position. An engine that finds no
// speech returns an empty slice and a nil error.
type Engine interface {
	Infer(ctx context.Context, clips []*audio.Clip, lang Language, opts Options) ([]Transcript, error)
}
