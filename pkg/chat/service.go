package chat

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/memoir/pkg/assembler"
	"github.com/go-go-golems/memoir/pkg/conversation"
	"github.com/go-go-golems/memoir/pkg/inference"
	"github.com/go-go-golems/memoir/pkg/store"
	"github.com/go-go-golems/memoir/pkg/streaming"
)

// Service orchestrates one chat turn: append the user message, assemble a
// bounded context window, stream the model's response through the
// accumulator, and persist the assistant reply.
type Service struct {
	store       *store.SessionStore
	assembler   *assembler.Assembler
	engine      inference.StreamingEngine
	accumulator *streaming.Accumulator
}

func NewService(
	store_ *store.SessionStore,
	assembler_ *assembler.Assembler,
	engine inference.StreamingEngine,
	accumulator *streaming.Accumulator,
) *Service {
	return &Service{
		store:       store_,
		assembler:   assembler_,
		engine:      engine,
		accumulator: accumulator,
	}
}

// TurnOptions configure one turn. Zero values use the assembler defaults.
type TurnOptions struct {
	BranchID    *conversation.BranchID
	MaxMessages int
	MaxTokens   int

	Model     inference.Options
	Sink      streaming.Sink
	Callbacks streaming.Callbacks

	// RequestID keys the stream in the accumulator so callers can cancel it
	// out-of-band. Empty gets a fresh id.
	RequestID streaming.RequestID
}

// RunTurn executes a full chat turn for the session, creating the session on
// first use. It returns the persisted assistant message.
func (s *Service) RunTurn(ctx context.Context, sessionID conversation.SessionID, userText string, opts TurnOptions) (*conversation.Message, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, errors.Wrap(err, "fetching session")
		}
		session = conversation.NewSession(conversation.WithSessionID(sessionID))
		if err := s.store.SetSession(ctx, session); err != nil {
			return nil, errors.Wrap(err, "creating session")
		}
		log.Debug().Str("session_id", sessionID.String()).Msg("session created")
	}

	userOpts := []conversation.MessageOption{}
	if opts.BranchID != nil {
		userOpts = append(userOpts, conversation.WithBranchID(*opts.BranchID))
	}
	userMsg := conversation.NewMessage(sessionID, conversation.RoleUser, userText, userOpts...)

	err = store.RetryWithBackoff(ctx, store.DefaultRetryConfig(), func(ctx context.Context) error {
		return s.store.AddMessage(ctx, userMsg)
	})
	if err != nil {
		return nil, errors.Wrap(err, "appending user message")
	}

	window, err := s.assembler.AssembleContext(ctx, sessionID, assembler.Options{
		MaxMessages: opts.MaxMessages,
		MaxTokens:   opts.MaxTokens,
		BranchID:    opts.BranchID,
	})
	if err != nil {
		return nil, errors.Wrap(err, "assembling context")
	}

	modelOpts := opts.Model
	if modelOpts.MessageID == conversation.NullMessageID {
		modelOpts.MessageID = conversation.NewMessageID()
	}

	tokenStream, err := s.engine.StreamInference(ctx, window, modelOpts)
	if err != nil {
		return nil, errors.Wrap(err, "starting inference")
	}

	return s.accumulator.StreamResponse(ctx, streaming.StreamRequest{
		RequestID: opts.RequestID,
		SessionID: sessionID,
		BranchID:  opts.BranchID,
		ParentID:  &userMsg.ID,
		MessageID: modelOpts.MessageID,
		Stream:    tokenStream,
		Sink:      opts.Sink,
		Callbacks: opts.Callbacks,
	})
}

// Cancel aborts an in-flight turn by request id. Safe to call at any time.
func (s *Service) Cancel(requestID streaming.RequestID) {
	s.accumulator.Cancel(requestID)
}
