package inference

import (
	"context"

	"github.com/go-go-golems/parley/pkg/conversation"
)

// Message is one role-tagged entry of an inference request. Content is
// plain text; images travel as inline markers (see
// conversation.ImageMarker).
type Message struct {
	Role    conversation.Role `json:"role"`
	Content string            `json:"content"`
}

// FromConversation renders transcript messages for a text-only transport.
func FromConversation(msgs []conversation.Message) []Message {
	ret := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		ret = append(ret, Message{Role: m.Role, Content: m.InferenceText()})
	}
	return ret
}

// Stream is an incrementally produced completion. Recv returns the next
// text delta, io.EOF once the completion is done, or any other error when
// the stream failed. Deltas may be empty.
type Stream interface {
	Recv() (string, error)
	Close() error
}

// Engine starts completions. Stream must not block on the response body:
// it returns as soon as the backend accepted the request.
type Engine interface {
	Stream(ctx context.Context, messages []Message) (Stream, error)
	Model() string
}
