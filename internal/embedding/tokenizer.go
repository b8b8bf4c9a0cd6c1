package embedding

import "hash/fnv"

const (
	clsToken   = 101
	sepToken   = 102
	vocabSize  = 30000
	vocabFloor = 1000
)

// Tokenizer produces token IDs for BERT-style models (input_ids, attention_mask, token_type_ids).
type Tokenizer interface {
	Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64)
}

// SimpleTokenizer maps each feature from Features to a hashed token ID. It is a fallback
// for models shipped without a vocabulary file.
type SimpleTokenizer struct{}

// Tokenize produces [CLS] features [SEP] padded with zeros up to maxTokens.
func (t *SimpleTokenizer) Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	if maxTokens <= 1 {
		maxTokens = 256
	}
	inputIDs = make([]int64, maxTokens)
	attentionMask = make([]int64, maxTokens)
	tokenTypeIDs = make([]int64, maxTokens)

	inputIDs[0] = clsToken
	attentionMask[0] = 1

	pos := 1
	for _, feature := range Features(text) {
		if pos >= maxTokens-1 {
			break
		}
		inputIDs[pos] = tokenID(feature)
		attentionMask[pos] = 1
		pos++
	}
	inputIDs[pos] = sepToken
	attentionMask[pos] = 1
	return inputIDs, attentionMask, tokenTypeIDs
}

// tokenID keeps hashed IDs clear of the special tokens below vocabFloor.
func tokenID(feature string) int64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(feature))
	return int64(vocabFloor + h.Sum32()%(vocabSize-vocabFloor))
}
