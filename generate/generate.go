// Package generate defines the model-completion surface used by the
// dialog pipeline and its provider implementations.
package generate

import (
	"context"
	"errors"
)

// Message roles on the completion wire.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one prompt entry sent to a provider.
type Message struct {
	Role    string
	Content string
}

var (
	// ErrStreamFailed means the streaming call produced no usable output
	// and the caller should retry without streaming.
	ErrStreamFailed = errors.New("stream produced no output")

	// ErrGenerationFailed means all attempts, including retries, failed.
	ErrGenerationFailed = errors.New("generation failed")
)

// Completer produces a full answer in one call. The Gemini fallback
// implements only this.
type Completer interface {
	Generate(ctx context.Context, msgs []Message) (string, error)
}

// Backend is the primary provider surface: streaming with incremental
// chunks, plain completion, and the web-augmented path.
type Backend interface {
	Completer

	// StreamGenerate sends each text delta to onChunk as it arrives and
	// returns the accumulated answer. A stream that ends with no chunks
	// returns ErrStreamFailed.
	StreamGenerate(ctx context.Context, msgs []Message, onChunk func(string)) (string, error)

	// GenerateWithWebTool fetches web context for the query, injects it
	// into the prompt and completes non-streaming. The returned answer
	// has a source-links block appended when sources were found.
	GenerateWithWebTool(ctx context.Context, msgs []Message, query, lang string) (string, error)
}
