package events

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-go-golems/parley/pkg/conversation"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func meta() EventMetadata {
	return EventMetadata{SessionID: "s1", InferenceID: "i1", MessageID: "m1", Seq: 3}
}

func TestNewEventFromJson_DecodesTypedEvents(t *testing.T) {
	msg := conversation.NewAssistantMessage("Hello!", conversation.WithID("m1"))

	for _, ev := range []Event{
		NewStartEvent(meta()),
		NewPartialCompletionEvent(meta(), "lo!", "Hello!"),
		NewFinalEvent(meta(), msg),
		NewErrorEvent(meta(), errors.New("boom"), "Hel"),
		NewInterruptEvent(meta(), "Hel"),
		NewStateEvent(meta(), "idle", "requesting"),
		NewMessageAppendedEvent(meta(), msg),
	} {
		b, err := json.Marshal(ev)
		require.NoError(t, err)

		decoded, err := NewEventFromJson(b)
		require.NoError(t, err)
		require.Equal(t, ev.Type(), decoded.Type())
		require.Equal(t, meta(), decoded.Metadata())
		require.Equal(t, b, decoded.Payload())
	}
}

func TestNewEventFromJson_PartialFields(t *testing.T) {
	b, err := json.Marshal(NewPartialCompletionEvent(meta(), "lo!", "Hello!"))
	require.NoError(t, err)

	ev, err := NewEventFromJson(b)
	require.NoError(t, err)
	p, ok := ev.(*EventPartialCompletion)
	require.True(t, ok)
	require.Equal(t, "lo!", p.Delta)
	require.Equal(t, "Hello!", p.Completion)
}

func TestNewEventFromJson_FinalCarriesMessage(t *testing.T) {
	msg := conversation.NewAssistantMessage("done", conversation.WithID("a1"))
	b, err := json.Marshal(NewFinalEvent(meta(), msg))
	require.NoError(t, err)

	ev, err := NewEventFromJson(b)
	require.NoError(t, err)
	f, ok := ev.(*EventFinal)
	require.True(t, ok)
	require.Equal(t, "done", f.Text)
	require.Equal(t, "a1", f.Message.ID)
	require.Equal(t, conversation.Parts{conversation.TextPart{Text: "done"}}, f.Message.Parts)
}

func TestNewEventFromJson_UnknownType(t *testing.T) {
	_, err := NewEventFromJson([]byte(`{"type":"tool-call"}`))
	require.Error(t, err)
	_, err = NewEventFromJson([]byte(`not json`))
	require.Error(t, err)
}

func TestPublishEventToContext_FansOutAndIgnoresFailures(t *testing.T) {
	a := &CollectingSink{}
	b := &CollectingSink{}
	failing := SinkFunc(func(Event) error { return errors.New("nope") })

	ctx := WithEventSinks(context.Background(), a, failing)
	ctx = WithEventSinks(ctx, b)
	require.Len(t, GetEventSinks(ctx), 3)

	PublishEventToContext(ctx, NewStartEvent(meta()))
	PublishEventToContext(context.Background(), NewStartEvent(meta()))

	require.Equal(t, []EventType{EventTypeStart}, a.Types())
	require.Equal(t, []EventType{EventTypeStart}, b.Types())
}

func TestWatermillSink_PublishesJSONWithMetadata(t *testing.T) {
	router, err := NewEventRouter()
	require.NoError(t, err)
	defer func() { _ = router.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, err := router.Subscribe(ctx, TopicChat)
	require.NoError(t, err)

	require.NoError(t, router.Sink(TopicChat).PublishEvent(NewInterruptEvent(meta(), "partial")))

	select {
	case msg := <-ch:
		msg.Ack()
		require.Equal(t, "s1", msg.Metadata.Get(MetadataKeySessionID))
		require.Equal(t, string(EventTypeInterrupt), msg.Metadata.Get(MetadataKeyEventType))
		ev, err := NewEventFromJson(msg.Payload)
		require.NoError(t, err)
		require.Equal(t, "partial", ev.(*EventInterrupt).Text)
	case <-ctx.Done():
		t.Fatal("timed out waiting for event")
	}
}

func publishAll(t *testing.T, h func(*message.Message) error, evs ...Event) {
	for _, ev := range evs {
		b, err := json.Marshal(ev)
		require.NoError(t, err)
		require.NoError(t, h(message.NewMessage(watermill.NewUUID(), b)))
	}
}

func TestPrinterFunc_StreamsDeltas(t *testing.T) {
	var buf bytes.Buffer
	h := PrinterFunc("assistant", "s1", &buf)
	other := meta()
	other.SessionID = "s2"

	publishAll(t, h,
		NewStartEvent(meta()),
		NewPartialCompletionEvent(meta(), "Hel", "Hel"),
		NewPartialCompletionEvent(other, "ignored", "ignored"),
		NewPartialCompletionEvent(meta(), "lo!", "Hello!"),
		NewFinalEvent(meta(), conversation.NewAssistantMessage("Hello!")),
	)
	require.Equal(t, "\nassistant: Hello!\n", buf.String())
}

func TestDumpRawEvents_StripsMetadata(t *testing.T) {
	var buf bytes.Buffer
	router, err := NewEventRouter(WithDumpWriter(&buf))
	require.NoError(t, err)
	defer func() { _ = router.Close() }()

	publishAll(t, router.DumpRawEvents, NewStartEvent(meta()))

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	require.Equal(t, "m1", out["id"])
	require.NotContains(t, out, "meta")
}

func TestDumpRawEvents_VerboseKeepsMetadata(t *testing.T) {
	var buf bytes.Buffer
	router, err := NewEventRouter(WithVerbose(true), WithDumpWriter(&buf))
	require.NoError(t, err)
	defer func() { _ = router.Close() }()

	publishAll(t, router.DumpRawEvents, NewStartEvent(meta()))

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	require.NotContains(t, out, "id")
	m, ok := out["meta"].(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, "s1", m["session_id"])
	require.Equal(t, "m1", m["message_id"])
}
