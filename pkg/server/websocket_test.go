package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/go-go-golems/parley/pkg/events"
	"github.com/go-go-golems/parley/pkg/inference/echo"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type frame struct {
	Type    string `json:"type"`
	Command string `json:"command"`
	Error   string `json:"error"`
	Meta    struct {
		SessionID string `json:"session_id"`
	} `json:"meta"`
	Completion string `json:"completion"`
}

func dialSession(t *testing.T, url string, id string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(url, "http") + "/api/sessions/" + id + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(testTimeout)))
	_, b, err := conn.ReadMessage()
	require.NoError(t, err)
	var f frame
	require.NoError(t, json.Unmarshal(b, &f))
	return f
}

func newRouter(t *testing.T) *events.EventRouter {
	t.Helper()
	router, err := events.NewEventRouter(events.WithBlockPublishUntilAck(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = router.Close() })
	return router
}

func TestWebSocket_StreamsSessionEvents(t *testing.T) {
	router := newRouter(t)
	_, ts := newTestServer(t, echo.NewEngine(), WithEventRouter(router))
	mine := createSession(t, ts)
	other := createSession(t, ts)

	conn := dialSession(t, ts.URL, mine.ID)

	// another session's run must not show up on this stream
	status, _ := do(t, http.MethodPost, ts.URL+"/api/sessions/"+other.ID+"/messages?wait=true", submitRequest{Text: "elsewhere"})
	require.Equal(t, http.StatusOK, status)

	require.NoError(t, conn.WriteJSON(command{Type: "submit", Text: "hello world"}))

	var types []string
	var completion string
	for {
		f := readFrame(t, conn)
		assert.Equal(t, mine.ID, f.Meta.SessionID)
		types = append(types, f.Type)
		if f.Type == string(events.EventTypePartialCompletion) {
			completion = f.Completion
		}
		if f.Type == string(events.EventTypeFinal) {
			break
		}
	}
	assert.Equal(t, "You said: hello world", completion)
	assert.Equal(t, string(events.EventTypeState), types[0])
	assert.Contains(t, types, string(events.EventTypeStart))
	assert.Contains(t, types, string(events.EventTypeMessageAppended))
}

func TestWebSocket_CommandErrors(t *testing.T) {
	router := newRouter(t)
	_, ts := newTestServer(t, echo.NewEngine(), WithEventRouter(router))
	v := createSession(t, ts)
	conn := dialSession(t, ts.URL, v.ID)

	require.NoError(t, conn.WriteJSON(command{Type: "dance"}))
	f := readFrame(t, conn)
	assert.Equal(t, "command_error", f.Type)
	assert.Equal(t, "dance", f.Command)
	assert.Contains(t, f.Error, "unknown command")

	require.NoError(t, conn.WriteJSON(command{Type: "regenerate"}))
	f = readFrame(t, conn)
	assert.Equal(t, "command_error", f.Type)
	assert.Contains(t, f.Error, "transcript is empty")

	require.NoError(t, conn.WriteJSON(command{Type: "cancel"}))
	f = readFrame(t, conn)
	assert.Equal(t, "command_error", f.Type)
	assert.Contains(t, f.Error, "no active inference")
}

func TestWebSocket_UnknownSessionAndNoRouter(t *testing.T) {
	_, ts := newTestServer(t, nil)
	v := createSession(t, ts)

	status, _ := do(t, http.MethodGet, ts.URL+"/api/sessions/missing/ws", nil)
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = do(t, http.MethodGet, ts.URL+"/api/sessions/"+v.ID+"/ws", nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
}
