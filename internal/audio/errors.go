package audio

import (
	"fmt"
)

// headerPreviewSize is how many leading payload bytes a DecodeError keeps
const headerPreviewSize = 16

// DecodeError reports an upload that could not be turned into a waveform: a corrupt
// or truncated container, an unsupported codec, or an empty stream
type DecodeError struct {
	Filename string
	Format   Format
	// Header holds the first bytes of the payload for diagnostics
	Header []byte
	Err    error
}

func newDecodeError(filename string, format Format, data []byte, err error) *DecodeError {
	n := min(len(data), headerPreviewSize)
	header := make([]byte, n)
	copy(header, data[:n])
	return &DecodeError{
		Filename: filename,
		Format:   format,
		Header:   header,
		Err:      err,
	}
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("cannot read audio file %s: %v", e.Filename, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// HeaderHex returns the payload preview as a hex string
func (e *DecodeError) HeaderHex() string {
	return fmt.Sprintf("%x", e.Header)
}
