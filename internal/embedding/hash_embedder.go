package embedding

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"

	"github.com/hyperjump/shiori/pkg/utils"
)

// HashEmbedder is a deterministic local embedder. It hashes lowercase word features into a
// fixed number of buckets and L2-normalizes the counts, so texts sharing words end up close.
// Runs of Japanese script are split into character bigrams since they carry no spaces.
type HashEmbedder struct {
	dimensions int
}

// NewHashEmbedder returns a hashing embedder with the given dimensions.
func NewHashEmbedder(dimensions int) *HashEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &HashEmbedder{dimensions: dimensions}
}

// Embed returns the feature-hashed embedding of text.
func (e *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	emb := make([]float32, e.dimensions)
	for _, feature := range Features(text) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(feature))
		emb[h.Sum32()%uint32(e.dimensions)]++
	}
	utils.NormalizeL2(emb)
	return emb, nil
}

// Dimensions returns the embedding dimension.
func (e *HashEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op.
func (e *HashEmbedder) Close() error {
	return nil
}

// Features splits text into lowercase word features. Letters and digits form words; a word
// containing Japanese script yields its character bigrams instead.
func Features(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	features := make([]string, 0, len(words))
	for _, w := range words {
		if !hasJapanese(w) {
			features = append(features, w)
			continue
		}
		runes := []rune(w)
		if len(runes) == 1 {
			features = append(features, w)
			continue
		}
		for i := 0; i+1 < len(runes); i++ {
			features = append(features, string(runes[i:i+2]))
		}
	}
	return features
}

func hasJapanese(s string) bool {
	for _, r := range s {
		if unicode.In(r, unicode.Hiragana, unicode.Katakana, unicode.Han) {
			return true
		}
	}
	return false
}
