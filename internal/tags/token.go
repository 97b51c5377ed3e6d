package tags

import (
	"strings"
)

// Kind classifies a token of a tagged transcript
type Kind int

const (
	// KindText is a run of plain spoken content
	KindText Kind = iota
	// KindEmotion is a tag from the closed emotion set
	KindEmotion
	// KindEvent is a tag from the closed acoustic event set
	KindEvent
	// KindOther is any other tag (language, ITN state, unknown markers)
	KindOther
)

const (
	tagOpen  = "<|"
	tagClose = "|>"
)

// String returns the kind name
func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindEmotion:
		return "emotion"
	case KindEvent:
		return "event"
	case KindOther:
		return "other"
	default:
		return "unknown"
	}
}

// Token is one element of a tokenized transcript. For KindText, Value holds the text
// run; for tags it holds the tag name without the <| |> delimiters.
type Token struct {
	Kind  Kind
	Value string
}

// IsTag reports whether the token is a tag of any kind
func (t Token) IsTag() bool {
	return t.Kind != KindText
}

// Literal returns the token as it appeared in the source string
func (t Token) Literal() string {
	if t.Kind == KindText {
		return t.Value
	}
	return tagOpen + t.Value + tagClose
}

var emotionTags = map[string]bool{
	"HAPPY":     true,
	"SAD":       true,
	"ANGRY":     true,
	"NEUTRAL":   true,
	"FEARFUL":   true,
	"DISGUSTED": true,
	"SURPRISED": true,
}

var eventTags = map[string]bool{
	"BGM":      true,
	"Speech":   true,
	"Applause": true,
	"Laughter": true,
	"Cry":      true,
	"Sneeze":   true,
	"Breath":   true,
	"Cough":    true,
}

// IsEmotion reports whether name belongs to the emotion tag set
func IsEmotion(name string) bool {
	return emotionTags[name]
}

// IsEvent reports whether name belongs to the acoustic event tag set
func IsEvent(name string) bool {
	return eventTags[name]
}

// Classify returns the kind of a tag name
func Classify(name string) Kind {
	switch {
	case emotionTags[name]:
		return KindEmotion
	case eventTags[name]:
		return KindEvent
	default:
		return KindOther
	}
}

// Tokenize splits s into text runs and tags. A tag is "<|" followed by one or more
// characters other than '|' and then "|>". Matching is leftmost-first: a "<|" that does
// not start a well-formed tag is kept as text and scanning resumes at the next byte.
// Adjacent text is merged into a single run.
func Tokenize(s string) []Token {
	var tokens []Token
	var text strings.Builder

	flush := func() {
		if text.Len() > 0 {
			tokens = append(tokens, Token{Kind: KindText, Value: text.String()})
			text.Reset()
		}
	}

	for i := 0; i < len(s); {
		if name, width, ok := matchTag(s[i:]); ok {
			flush()
			tokens = append(tokens, Token{Kind: Classify(name), Value: name})
			i += width
			continue
		}
		text.WriteByte(s[i])
		i++
	}
	flush()

	return tokens
}

// matchTag reports whether s starts with a tag, returning its name and byte width
func matchTag(s string) (string, int, bool) {
	if !strings.HasPrefix(s, tagOpen) {
		return "", 0, false
	}
	end := strings.IndexByte(s[len(tagOpen):], '|')
	if end <= 0 {
		return "", 0, false
	}
	end += len(tagOpen)
	if end+1 >= len(s) || s[end+1] != '>' {
		return "", 0, false
	}
	return s[len(tagOpen):end], end + len(tagClose), true
}

// ContainsTag reports whether s contains at least one tag
func ContainsTag(s string) bool {
	for i := strings.Index(s, tagOpen); i >= 0; {
		if _, _, ok := matchTag(s[i:]); ok {
			return true
		}
		next := strings.Index(s[i+1:], tagOpen)
		if next < 0 {
			return false
		}
		i += next + 1
	}
	return false
}
