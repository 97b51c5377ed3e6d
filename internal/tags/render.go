package tags

import (
	"strings"
	"unicode/utf8"
)

// Renderer turns a token sequence into display text. Implementations decide how tags
// are shown; they must not affect CleanText, Emotions or Events.
type Renderer interface {
	Render(tokens []Token) string
}

// RendererFunc adapts a function to the Renderer interface
type RendererFunc func(tokens []Token) string

// Render calls f(tokens)
func (f RendererFunc) Render(tokens []Token) string {
	return f(tokens)
}

// IdentityRenderer renders the clean text, dropping every tag
type IdentityRenderer struct{}

// Render implements Renderer
func (IdentityRenderer) Render(tokens []Token) string {
	return CleanText(tokens)
}

var emotionEmoji = map[string]string{
	"HAPPY":     "😊",
	"SAD":       "😔",
	"ANGRY":     "😡",
	"NEUTRAL":   "",
	"FEARFUL":   "😰",
	"DISGUSTED": "🤢",
	"SURPRISED": "😮",
}

// emotionOrder fixes tie-breaking when two emotions occur equally often
var emotionOrder = []string{"HAPPY", "SAD", "ANGRY", "NEUTRAL", "FEARFUL", "DISGUSTED", "SURPRISED"}

var eventEmoji = map[string]string{
	"BGM":      "🎼",
	"Speech":   "",
	"Applause": "👏",
	"Laughter": "😀",
	"Cry":      "😭",
	"Sneeze":   "🤧",
	"Breath":   "",
	"Cough":    "😷",
}

// eventOrder is the order events are prepended in; the last one present ends up first
var eventOrder = []string{"BGM", "Speech", "Applause", "Laughter", "Cry", "Sneeze", "Breath", "Cough"}

var languageTags = map[string]bool{
	"zh":       true,
	"en":       true,
	"yue":      true,
	"ja":       true,
	"ko":       true,
	"nospeech": true,
}

const unknownSpeechMark = "❓"

var emotionRunes = runeSet(emotionEmoji)
var eventRunes = runeSet(eventEmoji)

func runeSet(m map[string]string) map[rune]bool {
	set := make(map[rune]bool)
	for _, e := range m {
		if r, _ := utf8.DecodeRuneInString(e); e != "" {
			set[r] = true
		}
	}
	return set
}

// EmojiRenderer renders emotions and acoustic events as emoji. The transcript is split
// into language segments; within a segment the dominant emotion is appended and every
// event present is prepended. Consecutive segments sharing the same leading event or
// trailing emotion are merged so the mark appears once. Other tags are dropped, except
// that <|nospeech|><|Event_UNK|> becomes a question mark emoji.
type EmojiRenderer struct{}

// Render implements Renderer
func (EmojiRenderer) Render(tokens []Token) string {
	if !hasTag(tokens) {
		return CleanText(tokens)
	}

	segments := splitLanguageSegments(tokens)

	rendered := make([]string, len(segments))
	for i, seg := range segments {
		rendered[i] = strings.Trim(renderSegment(seg), " ")
	}

	out := " " + rendered[0]
	var current rune
	for _, seg := range rendered[1:] {
		if seg == "" {
			continue
		}
		ev := leadingEvent(seg)
		if ev != 0 && ev == current {
			_, size := utf8.DecodeRuneInString(seg)
			seg = seg[size:]
		}
		current = leadingEvent(seg)

		if emo := trailingEmotion(seg); emo != 0 && emo == trailingEmotion(out) {
			_, size := utf8.DecodeLastRuneInString(out)
			out = out[:len(out)-size]
		}
		out += strings.TrimSpace(seg)
	}

	return strings.TrimSpace(out)
}

// splitLanguageSegments cuts tokens at language tags. A nospeech tag directly followed
// by Event_UNK is turned into a text token carrying the unknown speech mark.
func splitLanguageSegments(tokens []Token) [][]Token {
	segments := [][]Token{nil}
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		if tok.Kind == KindOther && tok.Value == "nospeech" &&
			i+1 < len(tokens) && tokens[i+1].Kind == KindOther && tokens[i+1].Value == "Event_UNK" {
			last := len(segments) - 1
			segments[last] = append(segments[last], Token{Kind: KindText, Value: unknownSpeechMark})
			i++
			continue
		}
		if tok.Kind == KindOther && languageTags[tok.Value] {
			segments = append(segments, nil)
			continue
		}
		last := len(segments) - 1
		segments[last] = append(segments[last], tok)
	}
	return segments
}

func renderSegment(tokens []Token) string {
	counts := make(map[string]int)
	var text strings.Builder
	for _, tok := range tokens {
		if tok.Kind == KindText {
			text.WriteString(tok.Value)
			continue
		}
		counts[tok.Value]++
	}

	s := text.String()

	for _, ev := range eventOrder {
		if counts[ev] > 0 {
			s = eventEmoji[ev] + s
		}
	}

	dominant := "NEUTRAL"
	for _, emo := range emotionOrder {
		if counts[emo] > counts[dominant] {
			dominant = emo
		}
	}
	s += emotionEmoji[dominant]

	for r := range emotionRunes {
		s = tightenAround(s, string(r))
	}
	for r := range eventRunes {
		s = tightenAround(s, string(r))
	}

	return strings.TrimSpace(s)
}

// tightenAround removes single spaces adjacent to mark
func tightenAround(s, mark string) string {
	s = strings.ReplaceAll(s, " "+mark, mark)
	return strings.ReplaceAll(s, mark+" ", mark)
}

func hasTag(tokens []Token) bool {
	for _, tok := range tokens {
		if tok.IsTag() {
			return true
		}
	}
	return false
}

func leadingEvent(s string) rune {
	if s == "" {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(s)
	if eventRunes[r] {
		return r
	}
	return 0
}

func trailingEmotion(s string) rune {
	if s == "" {
		return 0
	}
	r, _ := utf8.DecodeLastRuneInString(s)
	if emotionRunes[r] {
		return r
	}
	return 0
}
