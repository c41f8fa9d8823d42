package session

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	encoderOnce sync.Once
	encoder     *tiktoken.Tiktoken
)

// EstimateTokens approximates how many tokens the text costs in a
// prompt. The cl100k_base encoding loads lazily; when it is
// unavailable the estimate falls back to four characters per token.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	encoderOnce.Do(func() {
		if enc, err := tiktoken.GetEncoding("cl100k_base"); err == nil {
			encoder = enc
		}
	})
	if encoder == nil {
		return len(text) / 4
	}
	return len(encoder.Encode(text, nil, nil))
}
