package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-go-golems/parley/pkg/attachments"
	"github.com/go-go-golems/parley/pkg/attachments/local"
	"github.com/go-go-golems/parley/pkg/conversation"
	"github.com/go-go-golems/parley/pkg/inference"
	"github.com/go-go-golems/parley/pkg/inference/echo"
	"github.com/go-go-golems/parley/pkg/session"
	"github.com/go-go-golems/parley/pkg/store"
	"github.com/go-go-golems/parley/pkg/store/memory"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testTimeout = 5 * time.Second
	testTick    = 10 * time.Millisecond
)

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 32)...)

// gatedEngine streams whatever the test sends on gate and ends when gate
// is closed.
type gatedEngine struct {
	gate chan string
}

func (g *gatedEngine) Model() string { return "gated" }

func (g *gatedEngine) Stream(ctx context.Context, messages []inference.Message) (inference.Stream, error) {
	return inference.NewChanStream(ctx, func(ctx context.Context, emit inference.EmitFunc) error {
		for {
			select {
			case d, ok := <-g.gate:
				if !ok {
					return nil
				}
				if err := emit(d); err != nil {
					return err
				}
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}), nil
}

type failingUploader struct{}

func (failingUploader) Upload(ctx context.Context, data []byte) (attachments.Upload, error) {
	return attachments.Upload{}, errors.New("cdn down")
}

type failingStore struct{}

func (failingStore) Append(ctx context.Context, r store.Record) error { return errors.New("down") }

func (failingStore) ListRecent(ctx context.Context, limit int, options ...store.ListOption) ([]store.Record, error) {
	return nil, errors.New("down")
}

func (failingStore) Close() error { return nil }

func newTestServer(t *testing.T, engine inference.Engine, options ...Option) (*Server, *httptest.Server) {
	t.Helper()
	if engine == nil {
		engine = echo.NewEngine()
	}
	srv, err := New(engine, DefaultSettings(), options...)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Close()
	})
	return srv, ts
}

func do(t *testing.T, method, url string, body any) (int, []byte) {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, r)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, b
}

func createSession(t *testing.T, ts *httptest.Server) sessionView {
	t.Helper()
	status, body := do(t, http.MethodPost, ts.URL+"/api/sessions", nil)
	require.Equal(t, http.StatusCreated, status, string(body))
	var v sessionView
	require.NoError(t, json.Unmarshal(body, &v))
	require.NotEmpty(t, v.ID)
	return v
}

func errorOf(t *testing.T, body []byte) string {
	t.Helper()
	var e errorResponse
	require.NoError(t, json.Unmarshal(body, &e))
	return e.Error
}

func TestServer_SessionLifecycle(t *testing.T) {
	_, ts := newTestServer(t, nil)
	v := createSession(t, ts)
	assert.Equal(t, session.StateIdle, v.State)
	assert.Empty(t, v.Messages)

	status, body := do(t, http.MethodPost, ts.URL+"/api/sessions/"+v.ID+"/messages?wait=true",
		submitRequest{Text: "hello there"})
	require.Equal(t, http.StatusOK, status, string(body))
	var run runView
	require.NoError(t, json.Unmarshal(body, &run))
	require.NotNil(t, run.Reply)
	assert.Equal(t, "You said: hello there", run.Reply.Text())
	assert.Equal(t, session.StateSettled, run.State)
	assert.Empty(t, run.Error)

	status, body = do(t, http.MethodGet, ts.URL+"/api/sessions/"+v.ID, nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(body, &v))
	require.Len(t, v.Messages, 2)
	assert.Equal(t, conversation.RoleUser, v.Messages[0].Role)
	assert.Equal(t, session.StateIdle, v.State)

	status, body = do(t, http.MethodGet, ts.URL+"/api/sessions", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), v.ID)

	status, _ = do(t, http.MethodDelete, ts.URL+"/api/sessions/"+v.ID, nil)
	require.Equal(t, http.StatusNoContent, status)
	status, body = do(t, http.MethodGet, ts.URL+"/api/sessions/"+v.ID, nil)
	require.Equal(t, http.StatusNotFound, status)
	assert.Contains(t, errorOf(t, body), "session not found")
}

func TestServer_SubmitValidation(t *testing.T) {
	_, ts := newTestServer(t, nil)
	v := createSession(t, ts)

	status, body := do(t, http.MethodPost, ts.URL+"/api/sessions/"+v.ID+"/messages", submitRequest{Text: "   "})
	require.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, errorOf(t, body), "no text")

	status, _ = do(t, http.MethodPost, ts.URL+"/api/sessions/nope/messages", submitRequest{Text: "hi"})
	require.Equal(t, http.StatusNotFound, status)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/sessions/"+v.ID+"/messages", strings.NewReader("{not json"))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	status, _ = do(t, http.MethodPost, ts.URL+"/api/sessions/"+v.ID+"/messages",
		submitRequest{Text: "look", Attachments: []string{"!!!"}})
	require.Equal(t, http.StatusBadRequest, status)

	// attachments need an uploader
	status, body = do(t, http.MethodPost, ts.URL+"/api/sessions/"+v.ID+"/messages",
		submitRequest{Text: "look", Attachments: []string{base64.StdEncoding.EncodeToString(pngBytes)}})
	require.Equal(t, http.StatusInternalServerError, status)
	assert.Contains(t, errorOf(t, body), "uploader")
}

func TestServer_BusySessionIsConflict(t *testing.T) {
	engine := &gatedEngine{gate: make(chan string)}
	_, ts := newTestServer(t, engine)
	v := createSession(t, ts)

	status, body := do(t, http.MethodPost, ts.URL+"/api/sessions/"+v.ID+"/messages", submitRequest{Text: "first"})
	require.Equal(t, http.StatusAccepted, status, string(body))

	status, body = do(t, http.MethodPost, ts.URL+"/api/sessions/"+v.ID+"/messages", submitRequest{Text: "second"})
	require.Equal(t, http.StatusConflict, status)
	assert.Contains(t, errorOf(t, body), "busy")

	status, _ = do(t, http.MethodPost, ts.URL+"/api/sessions/"+v.ID+"/regenerate", nil)
	require.Equal(t, http.StatusConflict, status)

	engine.gate <- "done"
	close(engine.gate)
}

func TestServer_CancelKeepsPartial(t *testing.T) {
	engine := &gatedEngine{gate: make(chan string)}
	srv, ts := newTestServer(t, engine)
	v := createSession(t, ts)

	status, _ := do(t, http.MethodPost, ts.URL+"/api/sessions/"+v.ID+"/cancel", nil)
	require.Equal(t, http.StatusConflict, status)

	status, _ = do(t, http.MethodPost, ts.URL+"/api/sessions/"+v.ID+"/messages", submitRequest{Text: "q"})
	require.Equal(t, http.StatusAccepted, status)
	engine.gate <- "partial"

	m, err := srv.session(v.ID)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(m.Transcript()) == 2 }, testTimeout, testTick)

	status, body := do(t, http.MethodPost, ts.URL+"/api/sessions/"+v.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(body, &v))
	assert.Equal(t, session.StateIdle, v.State)
	require.Len(t, v.Messages, 2)
	assert.Equal(t, "partial", v.Messages[1].Text())
}

func TestServer_EditAndRegenerate(t *testing.T) {
	_, ts := newTestServer(t, nil)
	v := createSession(t, ts)

	status, _ := do(t, http.MethodPost, ts.URL+"/api/sessions/"+v.ID+"/messages?wait=true", submitRequest{Text: "one"})
	require.Equal(t, http.StatusOK, status)
	status, body := do(t, http.MethodGet, ts.URL+"/api/sessions/"+v.ID, nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(body, &v))
	userID := v.Messages[0].ID

	status, body = do(t, http.MethodPatch, ts.URL+"/api/sessions/"+v.ID+"/messages/"+userID+"?wait=true",
		map[string]string{"text": "two"})
	require.Equal(t, http.StatusOK, status, string(body))
	var run runView
	require.NoError(t, json.Unmarshal(body, &run))
	require.NotNil(t, run.Reply)
	assert.Equal(t, "You said: two", run.Reply.Text())

	status, body = do(t, http.MethodPost, ts.URL+"/api/sessions/"+v.ID+"/regenerate?wait=true", nil)
	require.Equal(t, http.StatusOK, status, string(body))

	status, body = do(t, http.MethodGet, ts.URL+"/api/sessions/"+v.ID, nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(body, &v))
	var texts []string
	for _, m := range v.Messages {
		texts = append(texts, m.Text())
	}
	assert.Equal(t, []string{"two", "You said: one", "You said: two", "You said: two"}, texts)

	// blank edits change nothing
	status, body = do(t, http.MethodPatch, ts.URL+"/api/sessions/"+v.ID+"/messages/"+userID, map[string]string{"text": " "})
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(body, &run))
	assert.Empty(t, run.InferenceID)

	status, _ = do(t, http.MethodPatch, ts.URL+"/api/sessions/"+v.ID+"/messages/missing", map[string]string{"text": "x"})
	require.Equal(t, http.StatusNotFound, status)
	status, _ = do(t, http.MethodPatch, ts.URL+"/api/sessions/"+v.ID+"/messages/"+v.Messages[1].ID, map[string]string{"text": "x"})
	require.Equal(t, http.StatusBadRequest, status)
}

func TestServer_SubmitWithAttachmentUploads(t *testing.T) {
	uploader, err := local.New(t.TempDir(), "http://files.test/uploads", 0)
	require.NoError(t, err)
	_, ts := newTestServer(t, nil, WithUploader(uploader), WithUploadsHandler(uploader.Handler()))
	v := createSession(t, ts)

	status, body := do(t, http.MethodPost, ts.URL+"/api/sessions/"+v.ID+"/messages?wait=true", submitRequest{
		Attachments: []string{attachments.EncodeDataURI("image/png", pngBytes)},
	})
	require.Equal(t, http.StatusOK, status, string(body))

	status, body = do(t, http.MethodGet, ts.URL+"/api/sessions/"+v.ID, nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(body, &v))
	user := v.Messages[0]
	assert.Equal(t, conversation.ImageCaption, user.Text())
	urls := user.ImageURLs()
	require.Len(t, urls, 1)
	require.True(t, strings.HasPrefix(urls[0], "http://files.test/uploads/"))

	name := strings.TrimPrefix(urls[0], "http://files.test/uploads/")
	resp, err := http.Get(ts.URL + "/uploads/" + name)
	require.NoError(t, err)
	got, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, pngBytes, got)
}

func TestServer_UploadFailureIsBadGateway(t *testing.T) {
	_, ts := newTestServer(t, nil, WithUploader(failingUploader{}))
	v := createSession(t, ts)

	status, body := do(t, http.MethodPost, ts.URL+"/api/sessions/"+v.ID+"/messages", submitRequest{
		Text:        "look",
		Attachments: []string{base64.StdEncoding.EncodeToString(pngBytes)},
	})
	require.Equal(t, http.StatusBadGateway, status)
	assert.Contains(t, errorOf(t, body), "cdn down")
}

func TestServer_UploadEndpoint(t *testing.T) {
	uploader, err := local.New(t.TempDir(), "/uploads", 0)
	require.NoError(t, err)
	_, ts := newTestServer(t, nil, WithUploader(uploader))

	status, body := do(t, http.MethodPost, ts.URL+"/api/upload", uploadRequest{File: attachments.EncodeDataURI("image/png", pngBytes)})
	require.Equal(t, http.StatusOK, status, string(body))
	var up uploadResponse
	require.NoError(t, json.Unmarshal(body, &up))
	assert.True(t, up.Success)
	assert.True(t, strings.HasPrefix(up.URL, "/uploads/"))
	assert.NotEmpty(t, up.PublicID)

	status, body = do(t, http.MethodPost, ts.URL+"/api/upload", map[string]string{})
	require.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "No file provided", errorOf(t, body))

	status, body = do(t, http.MethodPost, ts.URL+"/api/upload", uploadRequest{File: base64.StdEncoding.EncodeToString([]byte("plain text"))})
	require.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, errorOf(t, body), "not supported")
}

func TestServer_UploadEndpointFailure(t *testing.T) {
	_, ts := newTestServer(t, nil, WithUploader(failingUploader{}))
	status, body := do(t, http.MethodPost, ts.URL+"/api/upload", uploadRequest{File: base64.StdEncoding.EncodeToString(pngBytes)})
	require.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "Upload failed", errorOf(t, body))
}

func TestServer_UploadIsRateLimited(t *testing.T) {
	settings := DefaultSettings()
	settings.UploadRate = 0.001
	settings.UploadBurst = 1
	srv, err := New(echo.NewEngine(), settings, WithUploader(failingUploader{}))
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	status, _ := do(t, http.MethodPost, ts.URL+"/api/upload", map[string]string{})
	require.Equal(t, http.StatusBadRequest, status)
	status, body := do(t, http.MethodPost, ts.URL+"/api/upload", map[string]string{})
	require.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "Too many requests", errorOf(t, body))
}

func TestServer_HistoryEndpoint(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	for i := 0; i < 60; i++ {
		sid := "a"
		if i%2 == 1 {
			sid = "b"
		}
		msg := conversation.NewMessage(conversation.RoleUser,
			conversation.Parts{conversation.TextPart{Text: fmt.Sprintf("m%02d", i)}},
			conversation.WithID(fmt.Sprintf("id-%d", i)))
		require.NoError(t, st.Append(ctx, store.NewRecord(sid, msg)))
	}
	_, ts := newTestServer(t, nil, WithStore(st))

	status, body := do(t, http.MethodGet, ts.URL+"/api/chat/history", nil)
	require.Equal(t, http.StatusOK, status)
	var h historyResponse
	require.NoError(t, json.Unmarshal(body, &h))
	require.Len(t, h.Messages, 50)
	assert.Equal(t, "m59", h.Messages[0].Text)
	assert.Equal(t, "m10", h.Messages[49].Text)

	status, body = do(t, http.MethodGet, ts.URL+"/api/chat/history?session=a", nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(body, &h))
	require.Len(t, h.Messages, 30)
	assert.Equal(t, "m58", h.Messages[0].Text)
	assert.Contains(t, string(body), `"sessionId":"a"`)
}

func TestServer_HistoryFailure(t *testing.T) {
	_, ts := newTestServer(t, nil, WithStore(failingStore{}))
	status, body := do(t, http.MethodGet, ts.URL+"/api/chat/history", nil)
	require.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "Failed to fetch history", errorOf(t, body))

	_, ts = newTestServer(t, nil)
	status, body = do(t, http.MethodGet, ts.URL+"/api/chat/history", nil)
	require.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "Failed to fetch history", errorOf(t, body))
}

func TestServer_ResumedSessionLoadsTranscript(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	for i, text := range []string{"first", "second"} {
		msg := conversation.NewMessage(conversation.RoleUser,
			conversation.Parts{conversation.TextPart{Text: text}},
			conversation.WithID(fmt.Sprintf("%d", i)))
		require.NoError(t, st.Append(ctx, store.NewRecord("resume-me", msg)))
	}
	_, ts := newTestServer(t, nil, WithStore(st))

	status, body := do(t, http.MethodPost, ts.URL+"/api/sessions", map[string]string{"id": "resume-me"})
	require.Equal(t, http.StatusCreated, status, string(body))
	var v sessionView
	require.NoError(t, json.Unmarshal(body, &v))
	assert.Equal(t, "resume-me", v.ID)
	require.Len(t, v.Messages, 2)
	assert.Equal(t, "first", v.Messages[0].Text())

	// opening it again returns the live session
	status, _ = do(t, http.MethodPost, ts.URL+"/api/sessions", map[string]string{"id": "resume-me"})
	require.Equal(t, http.StatusOK, status)

	status, body = do(t, http.MethodPost, ts.URL+"/api/sessions/resume-me/messages?wait=true", submitRequest{Text: "third"})
	require.Equal(t, http.StatusOK, status, string(body))

	// the user message is written in the background
	require.Eventually(t, func() bool {
		status, body := do(t, http.MethodGet, ts.URL+"/api/sessions/resume-me/history?limit=2", nil)
		var h historyResponse
		if status != http.StatusOK || json.Unmarshal(body, &h) != nil {
			return false
		}
		return len(h.Messages) == 2 && h.Messages[0].Text == "third"
	}, testTimeout, testTick)
}

func TestServer_MetricsAndHealth(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := session.NewMetrics(reg)
	require.NoError(t, err)
	_, ts := newTestServer(t, nil, WithGatherer(reg), WithSessionOptions(session.WithMetrics(metrics)))
	v := createSession(t, ts)

	status, _ := do(t, http.MethodPost, ts.URL+"/api/sessions/"+v.ID+"/messages?wait=true", submitRequest{Text: "hi"})
	require.Equal(t, http.StatusOK, status)

	status, body := do(t, http.MethodGet, ts.URL+"/metrics", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `parley_session_runs_total{outcome="settled"} 1`)

	status, body = do(t, http.MethodGet, ts.URL+"/healthz", nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestServer_CORS(t *testing.T) {
	settings := DefaultSettings()
	settings.CORSOrigin = "http://app.test"
	srv, err := New(echo.NewEngine(), settings)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/sessions", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://app.test", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "PATCH")
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusConflict, statusFor(errors.Wrap(session.ErrBusy, "x")))
	assert.Equal(t, http.StatusNotFound, statusFor(session.ErrMessageNotFound))
	assert.Equal(t, http.StatusBadRequest, statusFor(attachments.ErrTooLarge))
	assert.Equal(t, http.StatusBadGateway, statusFor(session.ErrUploadFailed))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
}
