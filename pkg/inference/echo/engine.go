// Package echo is an offline engine that answers by repeating the last user
// message. It streams word by word so that demos show incremental output.
package echo

import (
	"context"
	"strings"
	"time"

	"github.com/go-go-golems/parley/pkg/conversation"
	"github.com/go-go-golems/parley/pkg/inference"
)

const DefaultModel = "echo"

type Engine struct {
	model  string
	prefix string
	delay  time.Duration
}

type Option func(*Engine)

func WithPrefix(prefix string) Option {
	return func(e *Engine) {
		e.prefix = prefix
	}
}

// WithDelay pauses between words.
func WithDelay(d time.Duration) Option {
	return func(e *Engine) {
		e.delay = d
	}
}

func WithModel(model string) Option {
	return func(e *Engine) {
		e.model = model
	}
}

func NewEngine(options ...Option) *Engine {
	e := &Engine{model: DefaultModel, prefix: "You said: "}
	for _, o := range options {
		o(e)
	}
	return e
}

func (e *Engine) Model() string {
	return e.model
}

func (e *Engine) Stream(ctx context.Context, messages []inference.Message) (inference.Stream, error) {
	reply := e.prefix + lastUserContent(messages)
	words := strings.SplitAfter(reply, " ")

	return inference.NewChanStream(ctx, func(ctx context.Context, emit inference.EmitFunc) error {
		for _, w := range words {
			if e.delay > 0 {
				select {
				case <-time.After(e.delay):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			if err := emit(w); err != nil {
				return err
			}
		}
		return nil
	}), nil
}

func lastUserContent(messages []inference.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == conversation.RoleUser {
			return messages[i].Content
		}
	}
	return ""
}

var _ inference.Engine = (*Engine)(nil)
