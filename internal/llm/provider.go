// Package llm talks to the secondary generation API used for structured
// parsing and fallback generation.
package llm

import (
	"context"
	"fmt"
)

type Request struct {
	System string
	Prompt string
	// JSON asks the provider to constrain the reply to a JSON object.
	JSON bool
	// Temperature is passed through when positive.
	Temperature float64
}

// Provider is a synchronous request/response completion backend.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (string, error)
}

// GenerationAPIError wraps any failure of a Provider call.
type GenerationAPIError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *GenerationAPIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: generation API returned status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: generation API: %v", e.Provider, e.Err)
}

func (e *GenerationAPIError) Unwrap() error { return e.Err }
