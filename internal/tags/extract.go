package tags

import (
	"strings"
)

// Extraction is the structured form of a tagged transcript
type Extraction struct {
	// CleanText is the transcript with every tag removed and outer whitespace trimmed
	CleanText string
	// Emotions lists emotion tag names in order of appearance, duplicates kept
	Emotions []string
	// Events lists acoustic event tag names in order of appearance, duplicates kept
	Events []string
	// RichText is the display rendering produced by the extractor's Renderer
	RichText string
}

// Extractor turns tagged transcripts into Extractions using a Renderer for the
// display form
type Extractor struct {
	renderer Renderer
}

// NewExtractor creates an extractor. A nil renderer selects EmojiRenderer.
func NewExtractor(renderer Renderer) *Extractor {
	if renderer == nil {
		renderer = EmojiRenderer{}
	}
	return &Extractor{renderer: renderer}
}

// Extract parses tagged and returns its clean text, labels and rich rendering
func (e *Extractor) Extract(tagged string) Extraction {
	tokens := Tokenize(tagged)

	result := Extraction{
		CleanText: CleanText(tokens),
		Emotions:  make([]string, 0),
		Events:    make([]string, 0),
	}

	for _, tok := range tokens {
		switch tok.Kind {
		case KindEmotion:
			result.Emotions = append(result.Emotions, tok.Value)
		case KindEvent:
			result.Events = append(result.Events, tok.Value)
		}
	}

	result.RichText = e.renderer.Render(tokens)

	return result
}

// Extract parses tagged with the default emoji renderer
func Extract(tagged string) Extraction {
	return NewExtractor(nil).Extract(tagged)
}

// CleanText joins the text runs of tokens and trims surrounding whitespace.
// Removing a tag can splice a new one together (e.g. "<|<|SAD|>x|>"), so joining is
// repeated until no tag is left.
func CleanText(tokens []Token) string {
	s := joinText(tokens)
	for ContainsTag(s) {
		s = joinText(Tokenize(s))
	}
	return strings.TrimSpace(s)
}

func joinText(tokens []Token) string {
	var b strings.Builder
	for _, tok := range tokens {
		if tok.Kind == KindText {
			b.WriteString(tok.Value)
		}
	}
	return b.String()
}

// Strip removes every tag from s and trims surrounding whitespace
func Strip(s string) string {
	return CleanText(Tokenize(s))
}
