package session

import (
	"context"
	"sync"

	"github.com/go-go-golems/parley/pkg/conversation"
	"github.com/pkg/errors"
)

var ErrExecutionHandleNil = errors.New("execution handle is nil")

// ExecutionHandle represents a single in-flight inference.
//
// It is cancelable and waitable. Cancel works from the moment the session
// reserved the run, so it also aborts a pending attachment upload.
type ExecutionHandle struct {
	SessionID   string
	InferenceID string

	ctx  context.Context
	done chan struct{}

	mu     sync.Mutex
	cancel context.CancelFunc
	state  State
	out    *conversation.Message
	err    error
}

func newExecutionHandle(ctx context.Context, sessionID, inferenceID string) *ExecutionHandle {
	runCtx, cancel := context.WithCancel(ctx)
	return &ExecutionHandle{
		SessionID:   sessionID,
		InferenceID: inferenceID,
		ctx:         runCtx,
		done:        make(chan struct{}),
		cancel:      cancel,
		state:       StateRequesting,
	}
}

func (h *ExecutionHandle) setState(s State) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

func (h *ExecutionHandle) setResult(state State, out *conversation.Message, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case <-h.done:
		return
	default:
	}
	h.state = state
	h.out = out
	h.err = err
	close(h.done)
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// Cancel cancels the inference. It is safe to call multiple times.
func (h *ExecutionHandle) Cancel() {
	if h == nil {
		return
	}
	h.mu.Lock()
	cancel := h.cancel
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Wait blocks until the run ends. It returns the assistant message (nil
// when none was produced) and the error of a failed run. A run that failed
// after producing text returns both.
func (h *ExecutionHandle) Wait() (*conversation.Message, error) {
	if h == nil {
		return nil, ErrExecutionHandleNil
	}
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.out, h.err
}

func (h *ExecutionHandle) Done() <-chan struct{} {
	return h.done
}

// State is the run's current state; settled or failed once it is done.
func (h *ExecutionHandle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *ExecutionHandle) IsRunning() bool {
	if h == nil {
		return false
	}
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}
