package conversation

import (
	"github.com/huandu/go-clone"
	"github.com/pkg/errors"
)

var (
	ErrEmptyMessage = errors.New("message has no content")
	ErrDuplicateID  = errors.New("message id already in transcript")
	ErrNotFound     = errors.New("message not found")
	ErrRoleChanged  = errors.New("message role cannot change")
	ErrNotText      = errors.New("message has no trailing text part")
)

// Transcript is the ordered, in-memory message sequence of one session.
// It only changes through Append, Replace, AppendText and Reset. It is not
// safe for concurrent use; the session manager serializes access.
type Transcript struct {
	messages []Message
	index    map[string]int
}

func NewTranscript(messages ...Message) (*Transcript, error) {
	t := &Transcript{}
	if err := t.Reset(messages); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Transcript) Len() int {
	return len(t.messages)
}

// Messages returns the transcript in append order. The slice is a copy but
// the parts are shared; use Snapshot for an independent copy.
func (t *Transcript) Messages() []Message {
	ret := make([]Message, len(t.messages))
	copy(ret, t.messages)
	return ret
}

// Snapshot returns a deep copy of the transcript.
func (t *Transcript) Snapshot() []Message {
	if len(t.messages) == 0 {
		return []Message{}
	}
	return clone.Clone(t.messages).([]Message)
}

func (t *Transcript) Get(id string) (Message, int, bool) {
	idx, ok := t.index[id]
	if !ok {
		return Message{}, -1, false
	}
	return t.messages[idx], idx, true
}

func (t *Transcript) Last() (Message, bool) {
	if len(t.messages) == 0 {
		return Message{}, false
	}
	return t.messages[len(t.messages)-1], true
}

func (t *Transcript) Append(m Message) error {
	if m.ID == "" {
		return errors.New("message id is empty")
	}
	if _, ok := t.index[m.ID]; ok {
		return errors.Wrapf(ErrDuplicateID, "append %s", m.ID)
	}
	t.index[m.ID] = len(t.messages)
	t.messages = append(t.messages, m)
	return nil
}

// Replace swaps the message with m.ID in place, keeping its position.
func (t *Transcript) Replace(m Message) error {
	idx, ok := t.index[m.ID]
	if !ok {
		return errors.Wrapf(ErrNotFound, "replace %s", m.ID)
	}
	if t.messages[idx].Role != m.Role {
		return errors.Wrapf(ErrRoleChanged, "replace %s", m.ID)
	}
	t.messages[idx] = m
	return nil
}

// AppendText extends the last text part of the message with delta and
// returns the full text of that part.
func (t *Transcript) AppendText(id string, delta string) (string, error) {
	idx, ok := t.index[id]
	if !ok {
		return "", errors.Wrapf(ErrNotFound, "append text %s", id)
	}
	m := t.messages[idx]
	if len(m.Parts) == 0 {
		return "", errors.Wrapf(ErrNotText, "append text %s", id)
	}
	last, ok := m.Parts[len(m.Parts)-1].(TextPart)
	if !ok {
		return "", errors.Wrapf(ErrNotText, "append text %s", id)
	}
	parts := make(Parts, len(m.Parts))
	copy(parts, m.Parts)
	last.Text += delta
	parts[len(parts)-1] = last
	m.Parts = parts
	t.messages[idx] = m
	return last.Text, nil
}

// Reset replaces the whole transcript.
func (t *Transcript) Reset(messages []Message) error {
	index := make(map[string]int, len(messages))
	for i, m := range messages {
		if _, ok := index[m.ID]; ok {
			return errors.Wrapf(ErrDuplicateID, "reset %s", m.ID)
		}
		index[m.ID] = i
	}
	t.messages = make([]Message, len(messages))
	copy(t.messages, messages)
	t.index = index
	return nil
}
