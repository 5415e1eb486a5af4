package streaming

import (
	"sync"

	"github.com/go-go-golems/memoir/pkg/events"
)

// TokenStream is a cancellable asynchronous sequence of chat events: the
// single abstraction replacing ad hoc listener registration. Producers close
// the channel when the stream ends (after a final, error or interrupt
// event); consumers range over Events and may call Cancel at any time.
//
// Cancel is idempotent and signals the upstream producer to stop promptly.
type TokenStream struct {
	ch     <-chan events.Event
	cancel func()
	once   sync.Once
}

func NewTokenStream(ch <-chan events.Event, cancel func()) *TokenStream {
	return &TokenStream{ch: ch, cancel: cancel}
}

func (s *TokenStream) Events() <-chan events.Event {
	return s.ch
}

// Cancel tells the producer to stop. Safe to call multiple times and after
// natural completion.
func (s *TokenStream) Cancel() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}
