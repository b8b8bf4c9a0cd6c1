// Package contenthash normalizes document text and derives the content digest used as the
// deduplication key.
//
// Normalization keeps the decoded bytes exactly as received: no case folding, no whitespace
// changes and no Unicode normalization. The only transformation is removal of a single
// leading UTF-8 byte order mark. Input that is not valid UTF-8 is rejected.
package contenthash

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
	"unicode/utf8"
)

// ErrInvalidEncoding is returned for input that is not valid UTF-8 or valid base64.
var ErrInvalidEncoding = errors.New("invalid encoding")

// Size is the length of a digest returned by Sum, in hex characters.
const Size = sha256.Size * 2

var bom = []byte{0xEF, 0xBB, 0xBF}

// Normalize decodes raw document bytes into text.
func Normalize(raw []byte) (string, error) {
	raw = bytes.TrimPrefix(raw, bom)
	if !utf8.Valid(raw) {
		return "", ErrInvalidEncoding
	}
	return string(raw), nil
}

// Sum returns the hex-encoded sha256 of normalized text.
func Sum(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

// DecodeBase64 decodes transport base64, accepting the standard and URL-safe alphabets with
// or without padding. Surrounding whitespace and embedded line breaks are ignored.
func DecodeBase64(s string) ([]byte, error) {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', ' ', '\t':
			return -1
		}
		return r
	}, s)
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		if b, err := enc.DecodeString(s); err == nil {
			return b, nil
		}
	}
	return nil, ErrInvalidEncoding
}
