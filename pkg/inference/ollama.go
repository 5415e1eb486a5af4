package inference

import (
	"context"

	"github.com/jmorganca/ollama/api"
	"github.com/pkg/errors"

	"github.com/go-go-golems/memoir/pkg/assembler"
	"github.com/go-go-golems/memoir/pkg/events"
	"github.com/go-go-golems/memoir/pkg/streaming"
)

// OllamaEngine implements Engine and StreamingEngine against a local ollama
// server.
type OllamaEngine struct {
	client *api.Client
}

var _ StreamingEngine = (*OllamaEngine)(nil)

func NewOllamaEngine(client *api.Client) *OllamaEngine {
	return &OllamaEngine{client: client}
}

func NewOllamaEngineFromEnvironment() (*OllamaEngine, error) {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return nil, errors.Wrap(err, "creating ollama client")
	}
	return &OllamaEngine{client: client}, nil
}

func (e *OllamaEngine) RunInference(ctx context.Context, window *assembler.Context, opts Options) (string, error) {
	stream := false
	req := e.buildRequest(window, opts, &stream)

	response := ""
	err := e.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		response += resp.Message.Content
		return nil
	})
	if err != nil {
		return "", errors.Wrap(err, "ollama chat")
	}
	return response, nil
}

func (e *OllamaEngine) StreamInference(ctx context.Context, window *assembler.Context, opts Options) (*streaming.TokenStream, error) {
	streamFlag := true
	req := e.buildRequest(window, opts, &streamFlag)
	metadata := eventMetadata(window, opts)

	cancellableCtx, cancel := context.WithCancel(ctx)

	ch := make(chan events.Event)
	ret := streaming.NewTokenStream(ch, cancel)

	go func() {
		defer close(ch)

		emit(cancellableCtx, ch, events.NewStartEvent(metadata))

		completion := ""
		err := e.client.Chat(cancellableCtx, req, func(resp api.ChatResponse) error {
			if resp.Done {
				emit(cancellableCtx, ch, events.NewFinalEvent(metadata, completion))
				return nil
			}

			completion += resp.Message.Content
			emit(cancellableCtx, ch, events.NewPartialCompletionEvent(metadata, resp.Message.Content, completion))
			return nil
		})
		if err != nil {
			if cancellableCtx.Err() != nil {
				emitOrDrop(ch, events.NewInterruptEvent(metadata, completion))
				return
			}
			emit(cancellableCtx, ch, events.NewErrorEvent(metadata, err))
		}
	}()

	return ret, nil
}

func (e *OllamaEngine) buildRequest(window *assembler.Context, opts Options, stream *bool) *api.ChatRequest {
	messages := make([]api.Message, 0, len(window.Messages)+1)
	if window.SystemPrompt != "" {
		messages = append(messages, api.Message{
			Role:    "system",
			Content: window.SystemPrompt,
		})
	}
	for _, msg := range window.Messages {
		messages = append(messages, api.Message{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}

	options := map[string]interface{}{}
	if opts.Temperature != nil {
		options["temperature"] = *opts.Temperature
	}
	if opts.MaxTokens != nil {
		options["num_predict"] = *opts.MaxTokens
	}

	return &api.ChatRequest{
		Model:    opts.Model,
		Messages: messages,
		Stream:   stream,
		Options:  options,
	}
}
