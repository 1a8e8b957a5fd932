package orchestration

import (
	"sync"
	"unicode/utf8"

	"github.com/tiktoken-go/tokenizer"
)

var (
	codecOnce sync.Once
	codec     tokenizer.Codec
)

// estimateTokens counts tokens locally for responses that don't report
// usage. It falls back to a characters-per-token ratio when the encoding is
// unavailable.
func estimateTokens(text string) int {
	if text == "" {
		return 0
	}

	codecOnce.Do(func() {
		enc, err := tokenizer.Get(tokenizer.Cl100kBase)
		if err != nil {
			logger.Warn("token encoding unavailable, estimating by length", "error", err)
			return
		}
		codec = enc
	})

	if codec != nil {
		if ids, _, err := codec.Encode(text); err == nil {
			return len(ids)
		}
	}
	return (utf8.RuneCountInString(text) + 3) / 4
}
