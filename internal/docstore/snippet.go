package docstore

import "strings"

// DefaultSnippetLength is the maximum snippet length in characters.
const DefaultSnippetLength = 160

// Snippet collapses every whitespace run in text to one space and truncates the result to
// at most max characters, ending on a word boundary. When the first word alone is longer
// than max it is cut at max characters.
func Snippet(text string, max int) string {
	if max <= 0 {
		max = DefaultSnippetLength
	}
	collapsed := strings.Join(strings.Fields(text), " ")
	runes := []rune(collapsed)
	if len(runes) <= max {
		return collapsed
	}
	cut := runes[:max]
	if runes[max] == ' ' {
		return string(cut)
	}
	for i := len(cut) - 1; i > 0; i-- {
		if cut[i] == ' ' {
			return string(cut[:i])
		}
	}
	return string(cut)
}
