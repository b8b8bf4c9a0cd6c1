// Package language tags document text with a best-effort language code.
package language

import (
	"context"
	"errors"
	"unicode"
)

const (
	Japanese = "ja"
	English  = "en"

	DefaultThreshold   = 0.1
	DefaultSampleChars = 200
)

// ErrUndetermined is returned when text carries no letters to judge by.
var ErrUndetermined = errors.New("language could not be determined")

// Detector tags text with a language code.
type Detector interface {
	Detect(ctx context.Context, text string) (string, error)
}

// ScriptDetector tags text as Japanese when the share of hiragana, katakana and CJK
// ideographs among the sampled non-space characters exceeds Threshold, and as English
// when any other letter is present.
type ScriptDetector struct {
	Threshold   float64
	SampleChars int
}

// NewScriptDetector returns a detector with the given threshold and sample size. Non-positive
// values fall back to the defaults.
func NewScriptDetector(threshold float64, sampleChars int) *ScriptDetector {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if sampleChars <= 0 {
		sampleChars = DefaultSampleChars
	}
	return &ScriptDetector{Threshold: threshold, SampleChars: sampleChars}
}

// Detect returns Japanese, English or ErrUndetermined.
func (d *ScriptDetector) Detect(ctx context.Context, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var total, japanese int
	letters := false
	seen := 0
	for _, r := range text {
		if seen >= d.SampleChars {
			break
		}
		seen++
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if IsJapanese(r) {
			japanese++
			letters = true
		} else if unicode.IsLetter(r) {
			letters = true
		}
	}
	if total == 0 || !letters {
		return "", ErrUndetermined
	}
	if float64(japanese)/float64(total) > d.Threshold {
		return Japanese, nil
	}
	return English, nil
}

// IsJapanese reports whether r is hiragana, katakana or a CJK ideograph.
func IsJapanese(r rune) bool {
	return unicode.In(r, unicode.Hiragana, unicode.Katakana, unicode.Han)
}
