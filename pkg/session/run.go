package session

import (
	"context"
	"io"
	"time"

	"github.com/go-go-golems/parley/pkg/conversation"
	"github.com/go-go-golems/parley/pkg/events"
	"github.com/go-go-golems/parley/pkg/inference"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// run drives one inference from requesting to a terminal state and
// reconciles every delta into a single pending assistant message.
//
// The assistant message is appended on the first non-empty delta, so a
// run that fails before producing text leaves no trace in the transcript.
// A run that fails or is canceled later keeps its partial reply.
func (m *Manager) run(h *ExecutionHandle, win []conversation.Message) {
	ctx := inference.WithRunMeta(h.ctx, inference.RunMeta{SessionID: m.id, InferenceID: h.InferenceID})
	started := time.Now()
	msgs := inference.FromConversation(win)

	tokens := 0
	if m.tokens != nil {
		n, err := m.tokens.Count(msgs)
		if err != nil {
			log.Debug().Err(err).Str("session_id", m.id).Msg("could not count window tokens")
		} else {
			tokens = n
			m.metrics.windowTokens(n)
		}
	}

	log.Debug().
		Str("session_id", m.id).
		Str("inference_id", h.InferenceID).
		Str("model", m.engine.Model()).
		Int("window", len(msgs)).
		Int("window_tokens", tokens).
		Msg("starting inference")

	meta := func(messageID string) events.EventMetadata {
		md := m.metaLocked(h.InferenceID, messageID)
		md.WindowSize = len(msgs)
		md.WindowTokens = tokens
		return md
	}

	if !m.emit(ctx, h, func() []events.Event {
		return []events.Event{events.NewStartEvent(meta(""))}
	}) {
		m.finish(ctx, h, started, nil, ErrSessionClosed)
		return
	}

	stream, err := m.engine.Stream(ctx, msgs)
	if err != nil {
		m.finish(ctx, h, started, nil, m.streamError(ctx, err))
		return
	}
	defer func() {
		if err := stream.Close(); err != nil {
			log.Debug().Err(err).Str("session_id", m.id).Msg("could not close inference stream")
		}
	}()

	if !m.emit(ctx, h, func() []events.Event {
		return []events.Event{m.transitionLocked(h, StateStreaming)}
	}) {
		m.finish(ctx, h, started, nil, ErrSessionClosed)
		return
	}

	var pending *conversation.Message
	for {
		delta, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			m.finish(ctx, h, started, pending, m.streamError(ctx, err))
			return
		}
		if delta == "" {
			continue
		}

		ok := m.emit(ctx, h, func() []events.Event {
			if pending == nil {
				msg := conversation.NewAssistantMessage(delta,
					conversation.WithID(m.newID()),
					conversation.WithCreatedAt(m.now()))
				if err := m.transcript.Append(msg); err != nil {
					log.Error().Err(err).Str("session_id", m.id).Msg("could not append assistant message")
					return nil
				}
				pending = &msg
				return []events.Event{
					events.NewMessageAppendedEvent(meta(msg.ID), msg),
					events.NewPartialCompletionEvent(meta(msg.ID), delta, delta),
				}
			}
			full, err := m.transcript.AppendText(pending.ID, delta)
			if err != nil {
				log.Error().Err(err).Str("session_id", m.id).Msg("could not extend assistant message")
				return nil
			}
			updated, _, _ := m.transcript.Get(pending.ID)
			pending = &updated
			return []events.Event{events.NewPartialCompletionEvent(meta(pending.ID), delta, full)}
		})
		if !ok {
			m.finish(ctx, h, started, pending, ErrSessionClosed)
			return
		}
		m.metrics.delta()
	}

	if ctx.Err() != nil {
		m.finish(ctx, h, started, pending, errors.Wrapf(ErrCanceled, "%v", ctx.Err()))
		return
	}
	if pending == nil || !pending.HasContent() {
		m.finish(ctx, h, started, pending, ErrEmptyResponse)
		return
	}
	m.finish(ctx, h, started, pending, nil)
}

// emit applies f while h still owns the session. It reports false once
// the run was superseded or the session closed.
func (m *Manager) emit(ctx context.Context, h *ExecutionHandle, f func() []events.Event) bool {
	owned := true
	_ = m.update(ctx, func() ([]events.Event, error) {
		if !m.currentLocked(h) {
			owned = false
			return nil, nil
		}
		return f(), nil
	})
	return owned
}

func (m *Manager) streamError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return errors.Wrapf(ErrCanceled, "%v", err)
	}
	return errors.Wrap(err, "inference failed")
}

// finish moves the session through settled or failed back to idle and
// resolves the handle.
func (m *Manager) finish(ctx context.Context, h *ExecutionHandle, started time.Time, reply *conversation.Message, cause error) {
	terminal := StateSettled
	outcome := "settled"
	if cause != nil {
		terminal = StateFailed
		outcome = "failed"
		if errors.Is(cause, ErrCanceled) || errors.Is(cause, ErrSessionClosed) {
			outcome = "canceled"
		}
	}
	elapsed := time.Since(started)

	var final *conversation.Message
	_ = m.update(ctx, func() ([]events.Event, error) {
		if m.active != h {
			return nil, nil
		}
		m.active = nil
		m.metrics.active(-1)
		if reply != nil {
			if msg, _, ok := m.transcript.Get(reply.ID); ok {
				final = &msg
			}
		}
		if m.closed {
			m.state = StateIdle
			h.setState(terminal)
			return nil, nil
		}

		ms := elapsed.Milliseconds()
		md := m.metaLocked(h.InferenceID, "")
		md.DurationMs = &ms
		partial := ""
		if final != nil {
			md.MessageID = final.ID
			partial = final.Text()
		}

		var evs []events.Event
		if cause == nil && final == nil {
			cause = ErrEmptyResponse
			terminal = StateFailed
			outcome = "failed"
		}
		switch {
		case cause == nil:
			evs = append(evs, events.NewFinalEvent(md, *final))
		case errors.Is(cause, ErrCanceled):
			evs = append(evs, events.NewInterruptEvent(md, partial))
		default:
			evs = append(evs, events.NewErrorEvent(md, cause, partial))
		}
		evs = append(evs, m.transitionLocked(h, terminal))
		evs = append(evs, m.transitionLocked(h, StateIdle))
		return evs, nil
	})

	if cause == nil && final != nil && m.persistAssistant {
		m.persist(ctx, *final)
	}
	m.metrics.run(outcome, elapsed.Seconds())

	l := log.Debug()
	if cause != nil && outcome == "failed" {
		l = log.Warn().Err(cause)
	}
	l.Str("session_id", m.id).
		Str("inference_id", h.InferenceID).
		Str("outcome", outcome).
		Dur("elapsed", elapsed).
		Msg("inference finished")

	h.setResult(terminal, final, cause)
}
