package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-go-golems/parley/pkg/attachments"
	"github.com/go-go-golems/parley/pkg/conversation"
	"github.com/go-go-golems/parley/pkg/events"
	"github.com/go-go-golems/parley/pkg/inference"
	"github.com/go-go-golems/parley/pkg/store"
	"github.com/go-go-golems/parley/pkg/window"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Manager owns the live transcript of one chat session.
//
// It enforces that at most one inference is requesting or streaming at a
// time, appends user messages optimistically, persists them without
// blocking, and reconciles the streamed reply into the transcript.
type Manager struct {
	id     string
	engine inference.Engine

	store            store.Store
	uploader         attachments.Uploader
	windowSize       int
	historyLimit     int
	persistAssistant bool
	persistTimeout   time.Duration
	sinks            []events.EventSink
	metrics          *Metrics
	tokens           inference.TokenCounter
	now              func() time.Time
	newID            func() string

	// emitMu serializes state updates together with the publication of
	// their events, so sinks see events in the order the updates happened.
	// Lock order is emitMu, then mu.
	emitMu sync.Mutex
	mu     sync.Mutex

	transcript *conversation.Transcript
	state      State
	active     *ExecutionHandle
	closed     bool
	seq        uint64

	persistWG sync.WaitGroup
	closeOnce sync.Once
}

func NewManager(engine inference.Engine, options ...Option) (*Manager, error) {
	if engine == nil {
		return nil, errors.New("engine is nil")
	}
	transcript, err := conversation.NewTranscript()
	if err != nil {
		return nil, err
	}
	m := &Manager{
		id:             uuid.NewString(),
		engine:         engine,
		windowSize:     window.DefaultSize,
		historyLimit:   DefaultHistoryLimit,
		persistTimeout: DefaultPersistTimeout,
		now:            time.Now,
		newID:          uuid.NewString,
		transcript:     transcript,
		state:          StateIdle,
	}
	for _, o := range options {
		if err := o(m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Manager) ID() string {
	return m.id
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Transcript returns a deep copy of the transcript.
func (m *Manager) Transcript() []conversation.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transcript.Snapshot()
}

// Active returns the running handle, or nil when idle.
func (m *Manager) Active() *ExecutionHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// update runs f under the state lock and publishes the events it returns
// before any other update can publish.
func (m *Manager) update(ctx context.Context, f func() ([]events.Event, error)) error {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()

	m.mu.Lock()
	evs, err := f()
	m.mu.Unlock()

	if len(evs) > 0 {
		ctx = events.WithEventSinks(ctx, m.sinks...)
		for _, ev := range evs {
			events.PublishEventToContext(ctx, ev)
		}
	}
	return err
}

func (m *Manager) metaLocked(inferenceID, messageID string) events.EventMetadata {
	m.seq++
	return events.EventMetadata{
		LLMInferenceData: events.LLMInferenceData{
			Model:      m.engine.Model(),
			WindowSize: m.windowSize,
		},
		SessionID:   m.id,
		InferenceID: inferenceID,
		MessageID:   messageID,
		Seq:         m.seq,
	}
}

func (m *Manager) transitionLocked(h *ExecutionHandle, to State) events.Event {
	from := m.state
	if !from.CanTransitionTo(to) {
		log.Error().Str("session_id", m.id).Str("from", string(from)).Str("to", string(to)).Msg("invalid state transition")
	}
	m.state = to
	inferenceID := ""
	if h != nil {
		inferenceID = h.InferenceID
		// the handle keeps its terminal state once the session is idle again
		if to != StateIdle {
			h.setState(to)
		}
	}
	return events.NewStateEvent(m.metaLocked(inferenceID, ""), string(from), string(to))
}

// reserveLocked moves an idle session to requesting and creates the handle
// of the new run.
func (m *Manager) reserveLocked(ctx context.Context) (*ExecutionHandle, events.Event, error) {
	if m.closed {
		return nil, nil, ErrSessionClosed
	}
	if m.state.Busy() {
		m.metrics.reject("busy")
		return nil, nil, ErrBusy
	}
	h := newExecutionHandle(context.WithoutCancel(ctx), m.id, uuid.NewString())
	m.active = h
	ev := m.transitionLocked(h, StateRequesting)
	m.metrics.active(1)
	return h, ev, nil
}

// current reports whether h may still mutate the session.
func (m *Manager) currentLocked(h *ExecutionHandle) bool {
	return m.active == h && !m.closed
}

// abort releases a reservation that never reached the inference backend.
func (m *Manager) abort(ctx context.Context, h *ExecutionHandle, cause error) {
	_ = m.update(ctx, func() ([]events.Event, error) {
		if m.active != h {
			return nil, nil
		}
		m.active = nil
		m.metrics.active(-1)
		if m.closed {
			m.state = StateIdle
			return nil, nil
		}
		return []events.Event{m.transitionLocked(h, StateIdle)}, nil
	})
	h.setResult(StateIdle, nil, cause)
}

// Submit appends a user message built from text and the attachments, then
// starts an inference over the windowed transcript. The run outlives ctx;
// stop it with Cancel or Close.
//
// Attachments are uploaded after the session is reserved and before the
// message is appended: a failed upload leaves the transcript untouched.
func (m *Manager) Submit(ctx context.Context, text string, options ...SubmitOption) (*ExecutionHandle, error) {
	o := submitOptions{}
	for _, opt := range options {
		opt(&o)
	}
	text = strings.TrimSpace(text)
	if text == "" && len(o.attachments) == 0 && len(o.imageURLs) == 0 {
		m.metrics.reject("empty")
		return nil, ErrEmptySubmission
	}
	if len(o.attachments) > 0 && m.uploader == nil {
		m.metrics.reject("no_uploader")
		return nil, ErrNoUploader
	}

	var h *ExecutionHandle
	err := m.update(ctx, func() ([]events.Event, error) {
		var ev events.Event
		var err error
		h, ev, err = m.reserveLocked(ctx)
		if err != nil {
			return nil, err
		}
		return []events.Event{ev}, nil
	})
	if err != nil {
		return nil, err
	}

	urls := append([]string{}, o.imageURLs...)
	for _, data := range o.attachments {
		up, err := m.uploader.Upload(h.ctx, data)
		if err != nil {
			log.Warn().Err(err).Str("session_id", m.id).Msg("attachment upload failed")
			err = errors.Wrapf(ErrUploadFailed, "%v", err)
			m.abort(ctx, h, err)
			return nil, err
		}
		urls = append(urls, up.URL)
	}

	msg, err := conversation.NewUserMessage(text, urls,
		conversation.WithID(m.newID()),
		conversation.WithCreatedAt(m.now()))
	if err != nil {
		m.abort(ctx, h, err)
		return nil, errors.Wrap(ErrEmptySubmission, err.Error())
	}

	var win []conversation.Message
	err = m.update(ctx, func() ([]events.Event, error) {
		if !m.currentLocked(h) {
			return nil, ErrSessionClosed
		}
		if err := h.ctx.Err(); err != nil {
			return nil, ErrCanceled
		}
		if err := m.transcript.Append(msg); err != nil {
			return nil, err
		}
		win = window.MustSelect(m.transcript.Messages(), m.windowSize)
		return []events.Event{events.NewMessageAppendedEvent(m.metaLocked(h.InferenceID, msg.ID), msg)}, nil
	})
	if err != nil {
		m.abort(ctx, h, err)
		return nil, err
	}

	m.persist(ctx, msg)
	go m.run(h, win)
	return h, nil
}

// Edit replaces the text of a user message and regenerates. The edited
// message keeps its id, role, creation time and images; the reply that
// followed it stays in place and the new reply is appended at the end.
// Blank text is a no-op and returns a nil handle. Edits are not persisted.
func (m *Manager) Edit(ctx context.Context, id string, text string) (*ExecutionHandle, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	var h *ExecutionHandle
	var win []conversation.Message
	err := m.update(ctx, func() ([]events.Event, error) {
		if m.closed {
			return nil, ErrSessionClosed
		}
		if m.state.Busy() {
			m.metrics.reject("busy")
			return nil, ErrBusy
		}
		original, _, ok := m.transcript.Get(id)
		if !ok {
			m.metrics.reject("not_found")
			return nil, errors.Wrapf(ErrMessageNotFound, "%s", id)
		}
		if original.Role != conversation.RoleUser {
			m.metrics.reject("not_user")
			return nil, errors.Wrapf(ErrNotUserMessage, "%s has role %s", id, original.Role)
		}

		edited := original.WithText(text)
		if err := m.transcript.Replace(edited); err != nil {
			return nil, err
		}
		var ev events.Event
		var err error
		h, ev, err = m.reserveLocked(ctx)
		if err != nil {
			// restore the original text
			_ = m.transcript.Replace(original)
			return nil, err
		}
		win = window.MustSelect(m.transcript.Messages(), m.windowSize)
		return []events.Event{
			ev,
			events.NewMessageUpdatedEvent(m.metaLocked(h.InferenceID, edited.ID), edited),
		}, nil
	})
	if err != nil {
		return nil, err
	}

	go m.run(h, win)
	return h, nil
}

// Regenerate requests a new reply for the current transcript and appends
// it. Earlier replies are left alone.
func (m *Manager) Regenerate(ctx context.Context) (*ExecutionHandle, error) {
	var h *ExecutionHandle
	var win []conversation.Message
	err := m.update(ctx, func() ([]events.Event, error) {
		if m.transcript.Len() == 0 {
			if m.closed {
				return nil, ErrSessionClosed
			}
			m.metrics.reject("empty_transcript")
			return nil, ErrEmptyTranscript
		}
		var ev events.Event
		var err error
		h, ev, err = m.reserveLocked(ctx)
		if err != nil {
			return nil, err
		}
		win = window.MustSelect(m.transcript.Messages(), m.windowSize)
		return []events.Event{ev}, nil
	})
	if err != nil {
		return nil, err
	}

	go m.run(h, win)
	return h, nil
}

// Cancel stops the active run. The partial reply, if any, stays in the
// transcript.
func (m *Manager) Cancel() error {
	m.mu.Lock()
	h := m.active
	m.mu.Unlock()
	if h == nil {
		return ErrNoActive
	}
	h.Cancel()
	return nil
}

// Upload stores an attachment without touching the session state.
func (m *Manager) Upload(ctx context.Context, data []byte) (string, error) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return "", ErrSessionClosed
	}
	if m.uploader == nil {
		return "", ErrNoUploader
	}
	up, err := m.uploader.Upload(ctx, data)
	if err != nil {
		return "", errors.Wrapf(ErrUploadFailed, "%v", err)
	}
	return up.URL, nil
}

// Load replaces the transcript with the session's persisted records, up
// to the history limit, in chronological order.
func (m *Manager) Load(ctx context.Context) error {
	if m.store == nil {
		return ErrNoStore
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrSessionClosed
	}
	if m.state.Busy() {
		m.mu.Unlock()
		m.metrics.reject("busy")
		return ErrBusy
	}
	// Hold the session while reading so that no run starts on the old
	// transcript.
	m.state = StateRequesting
	m.mu.Unlock()

	records, err := m.store.ListRecent(ctx, m.historyLimit, store.ForSession(m.id))

	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateIdle
	if err != nil {
		return errors.Wrap(err, "could not load transcript")
	}
	msgs := make([]conversation.Message, 0, len(records))
	for _, r := range store.Chronological(records) {
		msgs = append(msgs, r.Message())
	}
	return m.transcript.Reset(msgs)
}

// History lists persisted records of this session, newest first. A
// non-positive limit uses the history limit.
func (m *Manager) History(ctx context.Context, limit int) ([]store.Record, error) {
	if m.store == nil {
		return nil, ErrNoStore
	}
	if limit <= 0 {
		limit = m.historyLimit
	}
	return m.store.ListRecent(ctx, limit, store.ForSession(m.id))
}

// Close cancels the active run, waits for it and for pending writes. After
// Close every operation fails with ErrSessionClosed and a late stream can
// no longer change the transcript. The store is not closed.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		h := m.active
		m.mu.Unlock()

		if h != nil {
			h.Cancel()
			<-h.Done()
		}
		m.persistWG.Wait()
		log.Debug().Str("session_id", m.id).Msg("session closed")
	})
	return nil
}

// persist writes msg to the store in the background. Failures are logged
// and counted, never returned.
func (m *Manager) persist(ctx context.Context, msg conversation.Message) {
	if m.store == nil {
		return
	}
	record := store.NewRecord(m.id, msg)
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.persistWG.Add(1)
	m.mu.Unlock()
	go func() {
		defer m.persistWG.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.persistTimeout)
		defer cancel()
		if err := m.store.Append(ctx, record); err != nil {
			m.metrics.persistFailed()
			log.Error().Err(err).
				Str("session_id", m.id).
				Str("message_id", record.ID).
				Str("role", string(record.Role)).
				Msg("could not persist message")
		}
	}()
}
