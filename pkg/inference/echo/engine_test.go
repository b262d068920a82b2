package echo

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/go-go-golems/parley/pkg/conversation"
	"github.com/go-go-golems/parley/pkg/inference"
	"github.com/stretchr/testify/require"
)

func TestEngine_EchoesLastUserMessage(t *testing.T) {
	e := NewEngine(WithPrefix("> "))
	s, err := e.Stream(context.Background(), []inference.Message{
		{Role: conversation.RoleUser, Content: "first"},
		{Role: conversation.RoleAssistant, Content: "reply"},
		{Role: conversation.RoleUser, Content: "hello there"},
	})
	require.NoError(t, err)

	var deltas []string
	for {
		d, err := s.Recv()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		deltas = append(deltas, d)
	}
	require.Equal(t, []string{"> ", "hello ", "there"}, deltas)
}

func TestEngine_CanceledContextStopsStream(t *testing.T) {
	e := NewEngine(WithDelay(time.Hour))
	ctx, cancel := context.WithCancel(context.Background())
	s, err := e.Stream(ctx, []inference.Message{{Role: conversation.RoleUser, Content: "hi"}})
	require.NoError(t, err)

	cancel()
	_, err = s.Recv()
	require.ErrorIs(t, err, context.Canceled)
}
