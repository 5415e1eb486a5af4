package inference

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/memoir/pkg/assembler"
	"github.com/go-go-golems/memoir/pkg/events"
	"github.com/go-go-golems/memoir/pkg/streaming"
)

// EchoEngine streams the last message's content back one character at a
// time. Used in tests and demos where no model backend is available.
type EchoEngine struct {
	TimePerCharacter time.Duration
}

var _ StreamingEngine = (*EchoEngine)(nil)

func NewEchoEngine() *EchoEngine {
	return &EchoEngine{TimePerCharacter: 10 * time.Millisecond}
}

func (e *EchoEngine) RunInference(_ context.Context, window *assembler.Context, _ Options) (string, error) {
	if len(window.Messages) == 0 {
		return "", errors.New("no input")
	}
	return window.Messages[len(window.Messages)-1].Content, nil
}

func (e *EchoEngine) StreamInference(ctx context.Context, window *assembler.Context, opts Options) (*streaming.TokenStream, error) {
	if len(window.Messages) == 0 {
		return nil, errors.New("no input")
	}

	text := window.Messages[len(window.Messages)-1].Content
	metadata := eventMetadata(window, opts)

	eg, cancellableCtx := errgroup.WithContext(ctx)
	cancellableCtx, cancel := context.WithCancel(cancellableCtx)

	ch := make(chan events.Event)
	ret := streaming.NewTokenStream(ch, cancel)

	eg.Go(func() error {
		defer close(ch)

		emit(cancellableCtx, ch, events.NewStartEvent(metadata))

		completion := ""
		for _, c := range text {
			select {
			case <-cancellableCtx.Done():
				emitOrDrop(ch, events.NewInterruptEvent(metadata, completion))
				return cancellableCtx.Err()
			case <-time.After(e.TimePerCharacter):
			}

			delta := string(c)
			completion += delta
			emit(cancellableCtx, ch, events.NewPartialCompletionEvent(metadata, delta, completion))
		}

		emit(cancellableCtx, ch, events.NewFinalEvent(metadata, completion))
		return nil
	})

	return ret, nil
}
