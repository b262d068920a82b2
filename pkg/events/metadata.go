package events

import (
	"github.com/rs/zerolog"
)

// LLMInferenceData is the per-run model information attached to events.
type LLMInferenceData struct {
	Model        string `json:"model,omitempty" yaml:"model,omitempty" mapstructure:"model,omitempty"`
	WindowSize   int    `json:"window_size,omitempty" yaml:"window_size,omitempty" mapstructure:"window_size,omitempty"`
	WindowTokens int    `json:"window_tokens,omitempty" yaml:"window_tokens,omitempty" mapstructure:"window_tokens,omitempty"`
	DurationMs   *int64 `json:"duration_ms,omitempty" yaml:"duration_ms,omitempty" mapstructure:"duration_ms,omitempty"`
}

// EventMetadata correlates an event with its session, run and message.
type EventMetadata struct {
	LLMInferenceData
	SessionID   string `json:"session_id,omitempty" yaml:"session_id,omitempty" mapstructure:"session_id"`
	InferenceID string `json:"inference_id,omitempty" yaml:"inference_id,omitempty" mapstructure:"inference_id"`
	MessageID   string `json:"message_id,omitempty" yaml:"message_id,omitempty" mapstructure:"message_id"`
	// Seq orders the events of one session
	Seq uint64 `json:"seq" yaml:"seq" mapstructure:"seq"`
}

func (em EventMetadata) MarshalZerologObject(e *zerolog.Event) {
	if em.SessionID != "" {
		e.Str("session_id", em.SessionID)
	}
	if em.InferenceID != "" {
		e.Str("inference_id", em.InferenceID)
	}
	if em.MessageID != "" {
		e.Str("message_id", em.MessageID)
	}
	e.Uint64("seq", em.Seq)
	if em.Model != "" {
		e.Str("model", em.Model)
	}
	if em.WindowSize > 0 {
		e.Int("window_size", em.WindowSize)
	}
	if em.WindowTokens > 0 {
		e.Int("window_tokens", em.WindowTokens)
	}
	if em.DurationMs != nil {
		e.Int64("duration_ms", *em.DurationMs)
	}
}
