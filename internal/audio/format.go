package audio

import (
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Format identifies an audio container
type Format string

const (
	FormatWAV     Format = "wav"
	FormatMP3     Format = "mp3"
	FormatOgg     Format = "ogg"
	FormatWebM    Format = "webm"
	FormatMP4     Format = "m4a"
	FormatFLAC    Format = "flac"
	FormatAAC     Format = "aac"
	FormatAMR     Format = "amr"
	FormatUnknown Format = "unknown"
)

var mimeFormats = []struct {
	mimes  []string
	format Format
}{
	{[]string{"audio/wav", "audio/x-wav", "audio/wave", "audio/vnd.wave"}, FormatWAV},
	{[]string{"audio/mpeg", "audio/mp3", "audio/x-mpeg"}, FormatMP3},
	{[]string{"audio/ogg", "application/ogg", "audio/opus", "audio/x-ogg"}, FormatOgg},
	{[]string{"audio/webm", "video/webm"}, FormatWebM},
	{[]string{"audio/mp4", "audio/x-m4a", "audio/m4a", "video/mp4", "video/quicktime", "audio/x-mp4a-latm"}, FormatMP4},
	{[]string{"audio/flac", "audio/x-flac"}, FormatFLAC},
	{[]string{"audio/aac", "audio/x-aac"}, FormatAAC},
	{[]string{"audio/amr", "audio/amr-wb"}, FormatAMR},
}

// DetectFormat identifies the container of data from its content. The declared MIME
// type is only consulted when sniffing is inconclusive, since browsers and mobile
// clients frequently mislabel recordings.
func DetectFormat(data []byte, declared string) Format {
	detected := mimetype.Detect(data)
	for m := detected; m != nil; m = m.Parent() {
		if f := formatForMIME(m.String()); f != FormatUnknown {
			return f
		}
	}
	return formatForMIME(declared)
}

func formatForMIME(mime string) Format {
	mime = strings.ToLower(strings.TrimSpace(mime))
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	if mime == "" {
		return FormatUnknown
	}
	for _, entry := range mimeFormats {
		for _, m := range entry.mimes {
			if m == mime {
				return entry.format
			}
		}
	}
	return FormatUnknown
}
