package protocol

import (
	"errors"
	"unicode/utf8"
)

// MaxAttributeBytes is the largest attribute value ATT allows.
const MaxAttributeBytes = 512

// ErrInvalidOffset is returned by ReadWindow for an offset past the end of the value.
var ErrInvalidOffset = errors.New("protocol: invalid read offset")

// TruncateText cuts text to at most maxBytes without splitting a UTF-8
// character. Text that already fits is returned unchanged.
func TruncateText(text string, maxBytes int) string {
	if len(text) <= maxBytes {
		return text
	}
	if maxBytes <= 0 {
		return ""
	}

	// Walk back until we're at the start of a rune.
	split := maxBytes
	for split > 0 && !utf8.RuneStart(text[split]) {
		split--
	}
	return text[:split]
}

// ReadWindow returns the part of value a (possibly long) read request at
// offset may carry, limited to capBytes when capBytes > 0.
func ReadWindow(value []byte, offset, capBytes int) ([]byte, error) {
	if offset < 0 || offset > len(value) {
		return nil, ErrInvalidOffset
	}
	out := value[offset:]
	if capBytes > 0 && len(out) > capBytes {
		out = out[:capBytes]
	}
	return out, nil
}
