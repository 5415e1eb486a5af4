package inference

import (
	"context"
	"io"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"

	"github.com/go-go-golems/memoir/pkg/assembler"
	"github.com/go-go-golems/memoir/pkg/conversation"
	"github.com/go-go-golems/memoir/pkg/events"
	"github.com/go-go-golems/memoir/pkg/streaming"
)

// OpenAIEngine implements Engine and StreamingEngine against the OpenAI
// chat completion API (or any compatible endpoint via base URL).
type OpenAIEngine struct {
	client *openai.Client
}

var _ StreamingEngine = (*OpenAIEngine)(nil)

func NewOpenAIEngine(apiKey string, baseURL string) *OpenAIEngine {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &OpenAIEngine{client: openai.NewClientWithConfig(config)}
}

func NewOpenAIEngineFromClient(client *openai.Client) *OpenAIEngine {
	return &OpenAIEngine{client: client}
}

func (e *OpenAIEngine) RunInference(ctx context.Context, window *assembler.Context, opts Options) (string, error) {
	req := e.buildRequest(window, opts, false)

	resp, err := e.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", errors.Wrap(err, "openai chat completion")
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func (e *OpenAIEngine) StreamInference(ctx context.Context, window *assembler.Context, opts Options) (*streaming.TokenStream, error) {
	req := e.buildRequest(window, opts, true)
	metadata := eventMetadata(window, opts)

	cancellableCtx, cancel := context.WithCancel(ctx)

	stream, err := e.client.CreateChatCompletionStream(cancellableCtx, req)
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "opening openai stream")
	}

	ch := make(chan events.Event)
	ret := streaming.NewTokenStream(ch, cancel)

	go func() {
		defer close(ch)
		defer func() {
			_ = stream.Close()
		}()

		emit(cancellableCtx, ch, events.NewStartEvent(metadata))

		completion := ""
		for {
			resp, err := stream.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) {
					emit(cancellableCtx, ch, events.NewFinalEvent(metadata, completion))
					return
				}
				if cancellableCtx.Err() != nil {
					emitOrDrop(ch, events.NewInterruptEvent(metadata, completion))
					return
				}
				emit(cancellableCtx, ch, events.NewErrorEvent(metadata, err))
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}

			delta := resp.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			completion += delta
			emit(cancellableCtx, ch, events.NewPartialCompletionEvent(metadata, delta, completion))
		}
	}()

	return ret, nil
}

func (e *OpenAIEngine) buildRequest(window *assembler.Context, opts Options, stream bool) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, len(window.Messages)+1)
	if window.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: window.SystemPrompt,
		})
	}
	for _, msg := range window.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}

	req := openai.ChatCompletionRequest{
		Model:    opts.Model,
		Messages: messages,
		Stream:   stream,
	}
	if opts.Temperature != nil {
		req.Temperature = *opts.Temperature
	}
	if opts.MaxTokens != nil {
		req.MaxTokens = *opts.MaxTokens
	}
	return req
}

func eventMetadata(window *assembler.Context, opts Options) events.EventMetadata {
	messageID := opts.MessageID
	if messageID == conversation.NullMessageID {
		messageID = conversation.NewMessageID()
	}
	return events.EventMetadata{
		MessageID: messageID,
		SessionID: window.SessionID,
		BranchID:  window.BranchID,
	}
}

// emit sends unless the consumer went away. A cancelled context must not
// block the producer goroutine forever.
func emit(ctx context.Context, ch chan<- events.Event, ev events.Event) {
	select {
	case ch <- ev:
	case <-ctx.Done():
		log.Trace().Str("event_type", string(ev.Type())).Msg("dropping event, stream consumer gone")
	}
}

// emitOrDrop is used after cancellation, when the consumer may already have
// stopped reading.
func emitOrDrop(ch chan<- events.Event, ev events.Event) {
	select {
	case ch <- ev:
	default:
		log.Trace().Str("event_type", string(ev.Type())).Msg("dropping event after cancellation")
	}
}
