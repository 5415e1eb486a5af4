package inference

import (
	"context"

	"github.com/go-go-golems/memoir/pkg/assembler"
	"github.com/go-go-golems/memoir/pkg/conversation"
	"github.com/go-go-golems/memoir/pkg/streaming"
)

// Options configure one model call.
type Options struct {
	Model       string
	Temperature *float32
	MaxTokens   *int

	// MessageID is carried in event metadata so consumers can correlate
	// stream events with the assistant message that gets persisted. A zero
	// value makes the engine mint its own.
	MessageID conversation.MessageID
}

// Engine is the model-provider boundary: it turns an assembled context
// window into a completion. The core is agnostic to which backend implements
// it.
type Engine interface {
	RunInference(ctx context.Context, window *assembler.Context, opts Options) (string, error)
}

// StreamingEngine additionally exposes the completion as an incremental
// token stream.
type StreamingEngine interface {
	Engine
	StreamInference(ctx context.Context, window *assembler.Context, opts Options) (*streaming.TokenStream, error)
}
