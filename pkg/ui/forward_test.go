package ui

import (
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-go-golems/parley/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type streamRecorder struct {
	got []events.Event
}

func (r streamRecorder) Init() tea.Cmd { return nil }

func (r streamRecorder) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if s, ok := msg.(StreamMsg); ok {
		r.got = append(r.got, s.Event)
		return r, tea.Quit
	}
	return r, nil
}

func (r streamRecorder) View() string { return "" }

func startMessage(t *testing.T, sessionID string) *message.Message {
	t.Helper()
	payload, err := json.Marshal(events.NewStartEvent(events.EventMetadata{SessionID: sessionID}))
	require.NoError(t, err)
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(events.MetadataKeySessionID, sessionID)
	return msg
}

func TestChatForwardFunc_OnlyForwardsOwnSession(t *testing.T) {
	p := tea.NewProgram(streamRecorder{},
		tea.WithInput(nil), tea.WithOutput(io.Discard), tea.WithoutRenderer())
	forward := ChatForwardFunc(p, "s-1")

	errs := make(chan error, 2)
	go func() {
		errs <- forward(startMessage(t, "other"))
		errs <- forward(startMessage(t, "s-1"))
	}()

	done := make(chan tea.Model, 1)
	go func() {
		final, err := p.Run()
		assert.NoError(t, err)
		done <- final
	}()

	select {
	case final := <-done:
		got := final.(streamRecorder).got
		require.Len(t, got, 1)
		assert.Equal(t, events.EventTypeStart, got[0].Type())
		assert.Equal(t, "s-1", got[0].Metadata().SessionID)
	case <-time.After(5 * time.Second):
		p.Kill()
		t.Fatal("program did not receive the session event")
	}
	require.NoError(t, <-errs)
	require.NoError(t, <-errs)
}
