package model

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// tokenizer lazily loads the cl100k_base encoding shared by the supported
// embedding models. Loading can touch the network/cache, so it happens once.
var (
	tokenizerOnce sync.Once
	tokenizer     *tiktoken.Tiktoken
)

// countTokens estimates the token count of text.
// Falls back to a rune-based heuristic (~4 runes per token) when the
// encoding cannot be loaded, so the guard degrades rather than fails.
func countTokens(text string) int {
	tokenizerOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			tokenizer = enc
		}
	})

	if tokenizer != nil {
		return len(tokenizer.Encode(text, nil, nil))
	}
	return utf8.RuneCountInString(text)/4 + 1
}
