package inference

import (
	"github.com/pkg/errors"
	"github.com/tiktoken-go/tokenizer"
)

// TokenCounter estimates the prompt size of a request.
type TokenCounter interface {
	Count(messages []Message) (int, error)
}

// perMessageOverhead approximates the role and separator tokens the chat
// format adds around every message.
const perMessageOverhead = 4

type TiktokenCounter struct {
	codec tokenizer.Codec
}

// NewTiktokenCounter picks the codec for model, falling back to cl100k_base
// for models the tokenizer does not know.
func NewTiktokenCounter(model string) (*TiktokenCounter, error) {
	codec, err := tokenizer.ForModel(tokenizer.Model(model))
	if err != nil {
		codec, err = tokenizer.Get(tokenizer.Encoding("cl100k_base"))
		if err != nil {
			return nil, errors.Wrap(err, "could not load tokenizer")
		}
	}
	return &TiktokenCounter{codec: codec}, nil
}

func (t *TiktokenCounter) Count(messages []Message) (int, error) {
	total := 0
	for _, m := range messages {
		ids, _, err := t.codec.Encode(m.Content)
		if err != nil {
			return 0, errors.Wrap(err, "could not encode message")
		}
		total += len(ids) + perMessageOverhead
	}
	return total, nil
}

var _ TokenCounter = (*TiktokenCounter)(nil)
