package cost

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// preciseEncoding is loaded once per process; tiktoken-go's own
// vocabulary download/cache is itself lazy and memoized internally.
var (
	preciseOnce sync.Once
	preciseEnc  *tiktoken.Tiktoken
	preciseErr  error
)

func loadPreciseEncoding() (*tiktoken.Tiktoken, error) {
	preciseOnce.Do(func() {
		preciseEnc, preciseErr = tiktoken.GetEncoding("cl100k_base")
	})
	return preciseEnc, preciseErr
}

// PreciseTokenCount returns a real BPE token count for text, used only as
// a diagnostic cross-check against the conservative estimateTokens
// heuristic used for budgeting (ctxbuild.EstimateTokens). It never
// replaces that heuristic for budget decisions - if the encoding cannot
// be loaded (e.g. no network access to fetch the vocabulary file), ok is
// false and callers should omit the diagnostic field rather than fail.
func PreciseTokenCount(text string) (count int, ok bool) {
	enc, err := loadPreciseEncoding()
	if err != nil {
		return 0, false
	}
	tokens := enc.Encode(text, nil, nil)
	return len(tokens), true
}
