package events

import (
	"encoding/json"

	"github.com/go-go-golems/parley/pkg/conversation"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type EventType string

const (
	// EventTypeStart to EventTypeFinal describe a single inference run
	EventTypeStart             EventType = "start"
	EventTypePartialCompletion EventType = "partial"
	EventTypeFinal             EventType = "final"
	EventTypeError             EventType = "error"
	EventTypeInterrupt         EventType = "interrupt"

	// Session level events
	EventTypeState           EventType = "state"
	EventTypeMessageAppended EventType = "message-appended"
	EventTypeMessageUpdated  EventType = "message-updated"
)

type Event interface {
	Type() EventType
	Metadata() EventMetadata
	Payload() []byte
}

type EventImpl struct {
	Type_     EventType     `json:"type"`
	Metadata_ EventMetadata `json:"meta"`

	// raw payload when the event was decoded with NewEventFromJson
	payload []byte
}

func (e *EventImpl) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("type", string(e.Type_))
	ev.Object("meta", e.Metadata_)
}

func (e *EventImpl) Type() EventType {
	return e.Type_
}

func (e *EventImpl) Metadata() EventMetadata {
	return e.Metadata_
}

func (e *EventImpl) Payload() []byte {
	return e.payload
}

func (e *EventImpl) SetPayload(b []byte) {
	e.payload = b
}

var _ Event = &EventImpl{}

func newImpl(t EventType, metadata EventMetadata) EventImpl {
	return EventImpl{Type_: t, Metadata_: metadata}
}

type EventStart struct {
	EventImpl
}

func NewStartEvent(metadata EventMetadata) *EventStart {
	return &EventStart{EventImpl: newImpl(EventTypeStart, metadata)}
}

var _ Event = &EventStart{}

type EventPartialCompletion struct {
	EventImpl
	Delta string `json:"delta"`
	// Completion is the full text received so far
	Completion string `json:"completion"`
}

func NewPartialCompletionEvent(metadata EventMetadata, delta string, completion string) *EventPartialCompletion {
	return &EventPartialCompletion{
		EventImpl:  newImpl(EventTypePartialCompletion, metadata),
		Delta:      delta,
		Completion: completion,
	}
}

var _ Event = &EventPartialCompletion{}

type EventFinal struct {
	EventImpl
	Text    string               `json:"text"`
	Message conversation.Message `json:"message"`
}

func NewFinalEvent(metadata EventMetadata, msg conversation.Message) *EventFinal {
	return &EventFinal{
		EventImpl: newImpl(EventTypeFinal, metadata),
		Text:      msg.Text(),
		Message:   msg,
	}
}

var _ Event = &EventFinal{}

type EventError struct {
	EventImpl
	ErrorString string `json:"error_string"`
	// Text is the partial completion kept in the transcript, if any
	Text string `json:"text,omitempty"`
}

func NewErrorEvent(metadata EventMetadata, err error, partial string) *EventError {
	return &EventError{
		EventImpl:   newImpl(EventTypeError, metadata),
		ErrorString: err.Error(),
		Text:        partial,
	}
}

var _ Event = &EventError{}

type EventInterrupt struct {
	EventImpl
	Text string `json:"text"`
}

func NewInterruptEvent(metadata EventMetadata, text string) *EventInterrupt {
	return &EventInterrupt{
		EventImpl: newImpl(EventTypeInterrupt, metadata),
		Text:      text,
	}
}

var _ Event = &EventInterrupt{}

type EventState struct {
	EventImpl
	From string `json:"from"`
	To   string `json:"to"`
}

func NewStateEvent(metadata EventMetadata, from, to string) *EventState {
	return &EventState{
		EventImpl: newImpl(EventTypeState, metadata),
		From:      from,
		To:        to,
	}
}

var _ Event = &EventState{}

// EventMessage carries a whole message that was appended to or replaced in
// the transcript.
type EventMessage struct {
	EventImpl
	Message conversation.Message `json:"message"`
}

func NewMessageAppendedEvent(metadata EventMetadata, msg conversation.Message) *EventMessage {
	return &EventMessage{
		EventImpl: newImpl(EventTypeMessageAppended, metadata),
		Message:   msg,
	}
}

func NewMessageUpdatedEvent(metadata EventMetadata, msg conversation.Message) *EventMessage {
	return &EventMessage{
		EventImpl: newImpl(EventTypeMessageUpdated, metadata),
		Message:   msg,
	}
}

var _ Event = &EventMessage{}

func ToTypedEvent[T any](e Event) (*T, bool) {
	var ret *T
	err := json.Unmarshal(e.Payload(), &ret)
	if err != nil {
		return nil, false
	}

	return ret, true
}

func decodeTyped[T any, P interface {
	*T
	Event
	SetPayload([]byte)
}](b []byte) (Event, error) {
	var ret T
	if err := json.Unmarshal(b, &ret); err != nil {
		return nil, err
	}
	p := P(&ret)
	p.SetPayload(b)
	return p, nil
}

func NewEventFromJson(b []byte) (Event, error) {
	var hdr struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(b, &hdr); err != nil {
		return nil, errors.Wrap(err, "could not decode event header")
	}

	switch hdr.Type {
	case EventTypeStart:
		return decodeTyped[EventStart](b)
	case EventTypePartialCompletion:
		return decodeTyped[EventPartialCompletion](b)
	case EventTypeFinal:
		return decodeTyped[EventFinal](b)
	case EventTypeError:
		return decodeTyped[EventError](b)
	case EventTypeInterrupt:
		return decodeTyped[EventInterrupt](b)
	case EventTypeState:
		return decodeTyped[EventState](b)
	case EventTypeMessageAppended, EventTypeMessageUpdated:
		return decodeTyped[EventMessage](b)
	}

	return nil, errors.Errorf("unknown event type: %q", hdr.Type)
}

func (e EventStart) MarshalZerologObject(ev *zerolog.Event) {
	e.EventImpl.MarshalZerologObject(ev)
}

func (e EventPartialCompletion) MarshalZerologObject(ev *zerolog.Event) {
	e.EventImpl.MarshalZerologObject(ev)
	ev.Str("delta", e.Delta).Int("completion_length", len(e.Completion))
}

func (e EventFinal) MarshalZerologObject(ev *zerolog.Event) {
	e.EventImpl.MarshalZerologObject(ev)
	ev.Str("text", e.Text)
}

func (e EventError) MarshalZerologObject(ev *zerolog.Event) {
	e.EventImpl.MarshalZerologObject(ev)
	ev.Str("error", e.ErrorString)
}

func (e EventInterrupt) MarshalZerologObject(ev *zerolog.Event) {
	e.EventImpl.MarshalZerologObject(ev)
	ev.Str("text", e.Text)
}

func (e EventState) MarshalZerologObject(ev *zerolog.Event) {
	e.EventImpl.MarshalZerologObject(ev)
	ev.Str("from", e.From).Str("to", e.To)
}

func (e EventMessage) MarshalZerologObject(ev *zerolog.Event) {
	e.EventImpl.MarshalZerologObject(ev)
	ev.Str("id", e.Message.ID).Str("role", string(e.Message.Role))
}
