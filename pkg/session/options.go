package session

import (
	"time"

	"github.com/go-go-golems/parley/pkg/attachments"
	"github.com/go-go-golems/parley/pkg/events"
	"github.com/go-go-golems/parley/pkg/inference"
	"github.com/go-go-golems/parley/pkg/store"
	"github.com/go-go-golems/parley/pkg/window"
	"github.com/pkg/errors"
)

const (
	DefaultHistoryLimit   = 50
	DefaultPersistTimeout = 10 * time.Second
)

// Settings are the configurable session knobs.
type Settings struct {
	WindowSize       int           `mapstructure:"window-size" yaml:"window_size"`
	HistoryLimit     int           `mapstructure:"history-limit" yaml:"history_limit"`
	PersistAssistant bool          `mapstructure:"persist-assistant" yaml:"persist_assistant"`
	PersistTimeout   time.Duration `mapstructure:"persist-timeout" yaml:"persist_timeout"`
}

func DefaultSettings() Settings {
	return Settings{
		WindowSize:     window.DefaultSize,
		HistoryLimit:   DefaultHistoryLimit,
		PersistTimeout: DefaultPersistTimeout,
	}
}

// Options turns s into manager options.
func (s Settings) Options() []Option {
	return []Option{
		WithWindowSize(s.WindowSize),
		WithHistoryLimit(s.HistoryLimit),
		WithPersistAssistant(s.PersistAssistant),
		WithPersistTimeout(s.PersistTimeout),
	}
}

type Option func(*Manager) error

// WithStore enables persistence. The manager never closes the store.
func WithStore(s store.Store) Option {
	return func(m *Manager) error {
		m.store = s
		return nil
	}
}

func WithUploader(u attachments.Uploader) Option {
	return func(m *Manager) error {
		m.uploader = u
		return nil
	}
}

func WithWindowSize(n int) Option {
	return func(m *Manager) error {
		if err := window.Validate(n); err != nil {
			return err
		}
		m.windowSize = n
		return nil
	}
}

func WithEventSinks(sinks ...events.EventSink) Option {
	return func(m *Manager) error {
		m.sinks = append(m.sinks, sinks...)
		return nil
	}
}

func WithMetrics(metrics *Metrics) Option {
	return func(m *Manager) error {
		m.metrics = metrics
		return nil
	}
}

func WithTokenCounter(c inference.TokenCounter) Option {
	return func(m *Manager) error {
		m.tokens = c
		return nil
	}
}

// WithPersistAssistant also persists settled assistant replies.
func WithPersistAssistant(persist bool) Option {
	return func(m *Manager) error {
		m.persistAssistant = persist
		return nil
	}
}

func WithHistoryLimit(n int) Option {
	return func(m *Manager) error {
		if n <= 0 {
			return errors.Errorf("history limit must be positive, got %d", n)
		}
		m.historyLimit = n
		return nil
	}
}

// WithPersistTimeout bounds each store write. Writes outlive the caller's
// context but not this timeout.
func WithPersistTimeout(d time.Duration) Option {
	return func(m *Manager) error {
		if d <= 0 {
			return errors.Errorf("persist timeout must be positive, got %s", d)
		}
		m.persistTimeout = d
		return nil
	}
}

// WithSessionID resumes an existing session id instead of generating one.
func WithSessionID(id string) Option {
	return func(m *Manager) error {
		if id == "" {
			return errors.New("session id is empty")
		}
		m.id = id
		return nil
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) error {
		m.now = now
		return nil
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(m *Manager) error {
		m.newID = newID
		return nil
	}
}

type submitOptions struct {
	attachments [][]byte
	imageURLs   []string
}

type SubmitOption func(*submitOptions)

// WithAttachment uploads data before the message is appended.
func WithAttachment(data []byte) SubmitOption {
	return func(o *submitOptions) {
		o.attachments = append(o.attachments, data)
	}
}

// WithImageURL attaches an image that is already hosted.
func WithImageURL(url string) SubmitOption {
	return func(o *submitOptions) {
		o.imageURLs = append(o.imageURLs, url)
	}
}
