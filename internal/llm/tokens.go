package llm

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

const encodingName = "cl100k_base"

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
	encErr  error
)

func encoding() (*tiktoken.Tiktoken, error) {
	encOnce.Do(func() {
		enc, encErr = tiktoken.GetEncoding(encodingName)
	})
	return enc, encErr
}

// Truncate cuts text to at most maxTokens cl100k tokens and reports whether
// it did. Text with no more bytes than maxTokens cannot exceed the budget and
// is returned without loading the encoding.
func Truncate(text string, maxTokens int) (string, bool, error) {
	if maxTokens <= 0 || len(text) <= maxTokens {
		return text, false, nil
	}
	e, err := encoding()
	if err != nil {
		return text, false, fmt.Errorf("llm: loading %s encoding: %w", encodingName, err)
	}
	tokens := e.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text, false, nil
	}
	return e.Decode(tokens[:maxTokens]), true, nil
}
