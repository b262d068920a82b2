package store

import (
	"context"
	"time"

	"github.com/go-go-golems/parley/pkg/conversation"
	"github.com/pkg/errors"
)

var (
	ErrClosed        = errors.New("store is closed")
	ErrUnknownDriver = errors.New("unknown store driver")
	ErrInvalidLimit  = errors.New("limit must be positive")
	ErrDuplicateID   = errors.New("record id already stored")
)

// Record is the persisted form of a message. Text holds every text part
// joined with "\n"; Parts keeps the full content.
type Record struct {
	ID        string             `json:"id" yaml:"id"`
	SessionID string             `json:"sessionId,omitempty" yaml:"session_id,omitempty"`
	Role      conversation.Role  `json:"role" yaml:"role"`
	Text      string             `json:"text" yaml:"text"`
	Parts     conversation.Parts `json:"parts" yaml:"-"`
	CreatedAt time.Time          `json:"createdAt" yaml:"created_at"`
}

func NewRecord(sessionID string, m conversation.Message) Record {
	parts := make(conversation.Parts, len(m.Parts))
	copy(parts, m.Parts)
	return Record{
		ID:        m.ID,
		SessionID: sessionID,
		Role:      m.Role,
		Text:      m.Text(),
		Parts:     parts,
		CreatedAt: m.CreatedAt,
	}
}

// Message turns the record back into a transcript message. Records
// written without parts fall back to their text.
func (r Record) Message() conversation.Message {
	parts := r.Parts
	if len(parts) == 0 && r.Text != "" {
		parts = conversation.Parts{conversation.TextPart{Text: r.Text}}
	}
	return conversation.NewMessage(r.Role, parts,
		conversation.WithID(r.ID),
		conversation.WithCreatedAt(r.CreatedAt))
}

type ListOptions struct {
	SessionID string
}

type ListOption func(*ListOptions)

// ForSession restricts a listing to one session.
func ForSession(sessionID string) ListOption {
	return func(o *ListOptions) {
		o.SessionID = sessionID
	}
}

func NewListOptions(options ...ListOption) ListOptions {
	o := ListOptions{}
	for _, opt := range options {
		opt(&o)
	}
	return o
}

// Matches reports whether r passes the listing filter.
func (o ListOptions) Matches(r Record) bool {
	return o.SessionID == "" || o.SessionID == r.SessionID
}

// Store is the durable transcript. Append keeps insertion order and
// ListRecent returns at most limit records, newest first.
type Store interface {
	Append(ctx context.Context, r Record) error
	ListRecent(ctx context.Context, limit int, options ...ListOption) ([]Record, error)
	Close() error
}

// Chronological reverses a newest-first listing in place and returns it.
func Chronological(records []Record) []Record {
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records
}

func ValidateLimit(limit int) error {
	if limit <= 0 {
		return errors.Wrapf(ErrInvalidLimit, "got %d", limit)
	}
	return nil
}
