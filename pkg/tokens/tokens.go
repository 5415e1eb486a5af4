package tokens

import (
	"github.com/pkg/errors"
	"github.com/tiktoken-go/tokenizer"

	"github.com/go-go-golems/memoir/pkg/conversation"
)

// Estimator approximates the token cost of a piece of text. Estimates bound
// context windows, they don't need to be exact.
type Estimator interface {
	EstimateTokens(text string) int
}

// Heuristic estimates ~1 token per 4 characters of content. This matches
// what providers quote for English prose and is cheap enough to run on every
// message.
type Heuristic struct {
	CharsPerToken int
}

var _ Estimator = (*Heuristic)(nil)

func NewHeuristic() *Heuristic {
	return &Heuristic{CharsPerToken: 4}
}

func (h *Heuristic) EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	cpt := h.CharsPerToken
	if cpt <= 0 {
		cpt = 4
	}
	n := (len(text) + cpt - 1) / cpt
	if n < 1 {
		n = 1
	}
	return n
}

// TiktokenEstimator counts tokens with the model's actual BPE codec and
// falls back to the heuristic when encoding fails.
type TiktokenEstimator struct {
	codec    tokenizer.Codec
	fallback *Heuristic
}

var _ Estimator = (*TiktokenEstimator)(nil)

func NewTiktokenEstimator(model string) (*TiktokenEstimator, error) {
	codec, err := tokenizer.ForModel(tokenizer.Model(model))
	if err != nil {
		return nil, errors.Wrapf(err, "no tokenizer for model %s", model)
	}
	return &TiktokenEstimator{
		codec:    codec,
		fallback: NewHeuristic(),
	}, nil
}

func NewTiktokenEstimatorForEncoding(encoding string) (*TiktokenEstimator, error) {
	codec, err := tokenizer.Get(tokenizer.Encoding(encoding))
	if err != nil {
		return nil, errors.Wrapf(err, "no tokenizer for encoding %s", encoding)
	}
	return &TiktokenEstimator{
		codec:    codec,
		fallback: NewHeuristic(),
	}, nil
}

func (t *TiktokenEstimator) EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	ids, _, err := t.codec.Encode(text)
	if err != nil {
		return t.fallback.EstimateTokens(text)
	}
	return len(ids)
}

// ForMessage returns the message's stored token estimate when present,
// otherwise estimates from content.
func ForMessage(msg *conversation.Message, estimator Estimator) int {
	if est, ok := msg.TokenEstimate(); ok {
		return est
	}
	return estimator.EstimateTokens(msg.Content)
}
