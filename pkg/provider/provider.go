// Package provider implements the call adapters for the inference backends:
// a chat-completion adapter (unary and streaming) and a text-to-image
// adapter. Adapters translate a model/provider/parameter set into the
// concrete HTTP request and classify every raw result into an Outcome.
package provider

import "context"

// Message is a single chat message.
type Message struct {
	Role    string `json:"role"` // "system", "user" or "assistant"
	Content string `json:"content"`
}

// ChatRequest describes one chat-completion call.
//
// Model and Provider are opaque identifiers validated only by the remote
// router; Provider may be "auto" (or empty) to let the router choose.
type ChatRequest struct {
	Model       string
	Provider    string
	Messages    []Message
	Temperature float64
	TopP        float64
	MaxTokens   int
}

// ChatResponse is a complete (non-streamed) chat completion.
type ChatResponse struct {
	Text         string
	PromptTokens int
	OutputTokens int
}

// StreamChunk is a single fragment of a streamed chat completion. The
// sequence is append-only and delivered in arrival order. Err is non-nil
// when the stream terminated abnormally; Done marks a clean end.
type StreamChunk struct {
	Text string
	Done bool
	Err  error
}

// ImageRequest describes one text-to-image call.
//
// Width and Height must be positive multiples of 8. Seed -1 means the
// backend picks a random seed.
type ImageRequest struct {
	Model          string
	Provider       string
	Prompt         string
	NegativePrompt string
	Width          int
	Height         int
	Steps          int
	GuidanceScale  float64
	Seed           int64
}

// Image is a decoded image artifact.
type Image struct {
	Data        []byte
	ContentType string
}

// ChatProvider performs chat-completion calls with a per-call credential.
type ChatProvider interface {
	// Complete performs a unary chat-completion call.
	Complete(ctx context.Context, token string, req ChatRequest) (ChatResponse, error)

	// Stream performs a streaming chat-completion call and returns a
	// channel of chunks. The channel is closed when the stream finishes
	// or the context is cancelled.
	Stream(ctx context.Context, token string, req ChatRequest) (<-chan StreamChunk, error)
}

// ImageProvider performs text-to-image calls with a per-call credential.
type ImageProvider interface {
	Generate(ctx context.Context, token string, req ImageRequest) (Image, error)
}
