package streaming

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/memoir/pkg/conversation"
	"github.com/go-go-golems/memoir/pkg/events"
	"github.com/go-go-golems/memoir/pkg/store"
	"github.com/go-go-golems/memoir/pkg/tokens"
)

// StreamError wraps token-source or sink failures. Reported through OnError
// exactly once; never silently swallowed.
type StreamError struct {
	Err error
}

func (e *StreamError) Error() string {
	return "stream error: " + e.Err.Error()
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

// ErrStreamCancelled is returned by StreamResponse when the request was
// cancelled before a final event arrived. Nothing is persisted in that case.
var ErrStreamCancelled = errors.New("stream cancelled")

type RequestID string

func NewRequestID() RequestID {
	return RequestID(uuid.NewString())
}

// Callbacks observe the stream's lifecycle. OnComplete and OnError are
// mutually exclusive: once one has fired for a request, the other never
// does.
type Callbacks struct {
	OnToken    func(delta string)
	OnComplete func(text string)
	OnError    func(err error)
}

// StreamRequest describes one generation stream to accumulate.
type StreamRequest struct {
	// RequestID keys the stream for out-of-band Cancel calls. Cancellation
	// only reaches streams StreamResponse has already registered; callers
	// racing a cancel against stream start should use context cancellation.
	RequestID RequestID
	SessionID conversation.SessionID
	BranchID  *conversation.BranchID
	ParentID  *conversation.MessageID
	// MessageID is the id the assistant message is persisted under; a zero
	// value gets a fresh id.
	MessageID conversation.MessageID

	Stream    *TokenStream
	Sink      Sink
	Callbacks Callbacks
}

type accumulation struct {
	stream    *TokenStream
	text      string
	cancelled bool
	terminal  bool
}

// Accumulator bridges token sources to delivery sinks while building up the
// full response text. State is keyed by request id in an injected registry
// owned by whoever constructs the accumulator; there is no process-global
// map. On a final event the accumulated text is persisted as the assistant
// message; on error or cancellation nothing is persisted.
type Accumulator struct {
	store     *store.SessionStore
	estimator tokens.Estimator

	mu     sync.Mutex
	active map[RequestID]*accumulation
}

type AccumulatorOption func(*Accumulator)

func WithEstimator(estimator tokens.Estimator) AccumulatorOption {
	return func(a *Accumulator) {
		a.estimator = estimator
	}
}

func NewAccumulator(store_ *store.SessionStore, options ...AccumulatorOption) *Accumulator {
	ret := &Accumulator{
		store:     store_,
		estimator: tokens.NewHeuristic(),
		active:    map[RequestID]*accumulation{},
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

// ActiveCount reports how many streams are currently registered.
func (a *Accumulator) ActiveCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.active)
}

// Cancel stops the request's upstream source, prevents further sink writes
// and releases accumulator state. Idempotent: cancelling twice, or after
// natural completion, is a no-op. A cancel that races ahead of
// StreamResponse registering the request id is also a no-op; to abort a
// stream that may not have started yet, cancel its context instead.
func (a *Accumulator) Cancel(requestID RequestID) {
	a.mu.Lock()
	acc, ok := a.active[requestID]
	if !ok || acc.terminal {
		a.mu.Unlock()
		return
	}
	acc.cancelled = true
	stream := acc.stream
	a.mu.Unlock()

	if stream != nil {
		stream.Cancel()
	}
	log.Debug().Str("request_id", string(requestID)).Msg("stream cancelled")
}

// StreamResponse consumes the request's token stream to completion. It
// returns the persisted assistant message on success, ErrStreamCancelled on
// cancellation, and a *StreamError when the source reports failure.
func (a *Accumulator) StreamResponse(ctx context.Context, req StreamRequest) (*conversation.Message, error) {
	if req.Stream == nil {
		return nil, errors.New("stream request has no token stream")
	}
	if req.RequestID == "" {
		req.RequestID = NewRequestID()
	}
	if req.Sink == nil {
		req.Sink = NewNullSink()
	}
	if req.MessageID == conversation.NullMessageID {
		req.MessageID = conversation.NewMessageID()
	}

	acc := &accumulation{stream: req.Stream}

	a.mu.Lock()
	if _, exists := a.active[req.RequestID]; exists {
		a.mu.Unlock()
		return nil, errors.Errorf("request %s is already streaming", req.RequestID)
	}
	a.active[req.RequestID] = acc
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		delete(a.active, req.RequestID)
		a.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			a.Cancel(req.RequestID)
			a.finish(req.RequestID)
			return nil, errors.Wrap(ErrStreamCancelled, ctx.Err().Error())

		case ev, ok := <-req.Stream.Events():
			if !ok {
				if a.isCancelled(req.RequestID) {
					a.finish(req.RequestID)
					return nil, ErrStreamCancelled
				}
				a.finish(req.RequestID)
				return nil, &StreamError{Err: errors.New("token source closed without a final event")}
			}

			msg, done, err := a.handleEvent(ctx, req, acc, ev)
			if done {
				return msg, err
			}
		}
	}
}

func (a *Accumulator) handleEvent(ctx context.Context, req StreamRequest, acc *accumulation, ev events.Event) (*conversation.Message, bool, error) {
	switch e := ev.(type) {
	case *events.EventStart:
		a.deliver(req, ev)
		return nil, false, nil

	case *events.EventPartialCompletion:
		a.mu.Lock()
		cancelled := acc.cancelled
		if !cancelled {
			acc.text += e.Delta
		}
		a.mu.Unlock()
		if cancelled {
			return nil, false, nil
		}

		a.deliver(req, ev)
		if req.Callbacks.OnToken != nil {
			req.Callbacks.OnToken(e.Delta)
		}
		return nil, false, nil

	case *events.EventFinal:
		a.mu.Lock()
		cancelled := acc.cancelled
		acc.terminal = true
		text := acc.text
		a.mu.Unlock()

		if cancelled {
			return nil, true, ErrStreamCancelled
		}
		// Some engines only report the full text on the final event.
		if len(e.Text) > len(text) {
			text = e.Text
		}

		msg, err := a.persist(ctx, req, text)
		if err != nil {
			if req.Callbacks.OnError != nil {
				req.Callbacks.OnError(err)
			}
			return nil, true, err
		}

		a.deliver(req, ev)
		if req.Callbacks.OnComplete != nil {
			req.Callbacks.OnComplete(text)
		}
		return msg, true, nil

	case *events.EventError:
		a.mu.Lock()
		acc.terminal = true
		a.mu.Unlock()

		streamErr := &StreamError{Err: e.Err()}
		a.deliver(req, ev)
		if req.Callbacks.OnError != nil {
			req.Callbacks.OnError(streamErr)
		}
		return nil, true, streamErr

	case *events.EventInterrupt:
		a.mu.Lock()
		acc.terminal = true
		acc.cancelled = true
		a.mu.Unlock()
		return nil, true, ErrStreamCancelled

	default:
		log.Warn().Str("type", string(ev.Type())).Msg("ignoring unknown event type on token stream")
		return nil, false, nil
	}
}

// deliver forwards an event to the sink unless the request was cancelled.
// Sink failures are logged, not fatal: the accumulation continues so the
// final text can still be persisted.
func (a *Accumulator) deliver(req StreamRequest, ev events.Event) {
	if a.isCancelled(req.RequestID) {
		return
	}
	if err := req.Sink.Send(ev); err != nil {
		log.Warn().Err(err).
			Str("request_id", string(req.RequestID)).
			Str("event_type", string(ev.Type())).
			Msg("failed to deliver event to sink")
	}
}

func (a *Accumulator) persist(ctx context.Context, req StreamRequest, text string) (*conversation.Message, error) {
	opts := []conversation.MessageOption{
		conversation.WithMessageID(req.MessageID),
	}
	if req.BranchID != nil {
		opts = append(opts, conversation.WithBranchID(*req.BranchID))
	}
	if req.ParentID != nil {
		opts = append(opts, conversation.WithParentID(*req.ParentID))
	}

	msg := conversation.NewMessage(req.SessionID, conversation.RoleAssistant, text, opts...)
	msg.SetMetadata(conversation.MetadataTokenEstimate, a.estimator.EstimateTokens(text))
	msg.SetMetadata(conversation.MetadataPersistedAt, time.Now().Format(time.RFC3339Nano))

	// Append contention is retryable; deterministic failures surface as-is.
	err := store.RetryWithBackoff(ctx, store.DefaultRetryConfig(), func(ctx context.Context) error {
		return a.store.AddMessage(ctx, msg)
	})
	if err != nil {
		return nil, errors.Wrap(err, "persisting assistant message")
	}
	return msg, nil
}

func (a *Accumulator) isCancelled(requestID RequestID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	acc, ok := a.active[requestID]
	return ok && acc.cancelled
}

func (a *Accumulator) finish(requestID RequestID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if acc, ok := a.active[requestID]; ok {
		acc.terminal = true
	}
}
