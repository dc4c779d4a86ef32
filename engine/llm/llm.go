// Package llm provides chat completion clients for the pipeline agents.
package llm

import (
	"context"

	"github.com/sageql/sageql/engine/domain"
)

// Request is a single chat completion call.
type Request struct {
	System      string
	User        string
	Complexity  domain.Complexity // picks the model tier
	MaxTokens   int
	Temperature float64
	JSONMode    bool // ask the provider for a JSON object response
}

// Completion produces chat completions.
type Completion interface {
	Complete(ctx context.Context, req Request) (string, error)
}
