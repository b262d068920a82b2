package conversation

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

type PartType string

const (
	PartTypeText  PartType = "text"
	PartTypeImage PartType = "image_url"
)

// Part is one typed fragment of a message. The set of implementations is
// closed: TextPart and ImagePart are the only kinds.
type Part interface {
	PartType() PartType
	isPart()
}

type TextPart struct {
	Text string `json:"text"`
}

func (TextPart) PartType() PartType { return PartTypeText }
func (TextPart) isPart()            {}

// ImagePart references an uploaded image by its public URL.
type ImagePart struct {
	URL string `json:"url"`
}

func (ImagePart) PartType() PartType { return PartTypeImage }
func (ImagePart) isPart()            {}

var (
	_ Part = TextPart{}
	_ Part = ImagePart{}
)

// ImageCaption is the text fragment given to a submission that only
// carries an image.
const ImageCaption = "Uploaded an image:"

// Parts is the ordered content of a message. Its JSON form is the one the
// history viewer consumes: {"type":"text","text":...} and
// {"type":"image_url","image_url":{"url":...}}.
type Parts []Part

type imageURLJSON struct {
	URL string `json:"url"`
}

type partJSON struct {
	Type     PartType      `json:"type"`
	Text     *string       `json:"text,omitempty"`
	ImageURL *imageURLJSON `json:"image_url,omitempty"`
}

func (p Parts) MarshalJSON() ([]byte, error) {
	out := make([]partJSON, 0, len(p))
	for _, part := range p {
		switch v := part.(type) {
		case TextPart:
			text := v.Text
			out = append(out, partJSON{Type: PartTypeText, Text: &text})
		case ImagePart:
			out = append(out, partJSON{Type: PartTypeImage, ImageURL: &imageURLJSON{URL: v.URL}})
		default:
			return nil, errors.Errorf("unknown part type %T", part)
		}
	}
	return json.Marshal(out)
}

func (p *Parts) UnmarshalJSON(b []byte) error {
	var raw []partJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	ret := make(Parts, 0, len(raw))
	for i, r := range raw {
		switch r.Type {
		case PartTypeText:
			text := ""
			if r.Text != nil {
				text = *r.Text
			}
			ret = append(ret, TextPart{Text: text})
		case PartTypeImage:
			if r.ImageURL == nil || r.ImageURL.URL == "" {
				return errors.Errorf("part %d: image_url without url", i)
			}
			ret = append(ret, ImagePart{URL: r.ImageURL.URL})
		default:
			return errors.Errorf("part %d: unknown part type %q", i, r.Type)
		}
	}
	*p = ret
	return nil
}

// Message is a single transcript entry. Its ID, Role and CreatedAt never
// change once the message exists.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Parts     Parts     `json:"parts"`
	CreatedAt time.Time `json:"createdAt"`
}

type MessageOption func(*Message)

func WithID(id string) MessageOption {
	return func(m *Message) {
		m.ID = id
	}
}

func WithCreatedAt(t time.Time) MessageOption {
	return func(m *Message) {
		m.CreatedAt = t
	}
}

func NewMessage(role Role, parts Parts, options ...MessageOption) Message {
	ret := Message{
		ID:        uuid.NewString(),
		Role:      role,
		Parts:     parts,
		CreatedAt: time.Now(),
	}
	for _, o := range options {
		o(&ret)
	}
	return ret
}

// NewUserMessage builds a user message from optional text and image URLs.
// Text is trimmed; blank text is dropped, and an image-only message gets
// ImageCaption as its text fragment.
func NewUserMessage(text string, imageURLs []string, options ...MessageOption) (Message, error) {
	text = strings.TrimSpace(text)
	parts := Parts{}
	if text != "" {
		parts = append(parts, TextPart{Text: text})
	} else if len(imageURLs) > 0 {
		parts = append(parts, TextPart{Text: ImageCaption})
	}
	for _, u := range imageURLs {
		if u == "" {
			continue
		}
		parts = append(parts, ImagePart{URL: u})
	}
	if len(parts) == 0 {
		return Message{}, ErrEmptyMessage
	}
	return NewMessage(RoleUser, parts, options...), nil
}

func NewAssistantMessage(text string, options ...MessageOption) Message {
	return NewMessage(RoleAssistant, Parts{TextPart{Text: text}}, options...)
}

// Text joins all text fragments with a newline.
func (m Message) Text() string {
	texts := make([]string, 0, len(m.Parts))
	for _, p := range m.Parts {
		if t, ok := p.(TextPart); ok {
			texts = append(texts, t.Text)
		}
	}
	return strings.Join(texts, "\n")
}

func (m Message) ImageURLs() []string {
	var ret []string
	for _, p := range m.Parts {
		if img, ok := p.(ImagePart); ok {
			ret = append(ret, img.URL)
		}
	}
	return ret
}

// HasContent reports whether the message carries a non-empty text or any image.
func (m Message) HasContent() bool {
	for _, p := range m.Parts {
		switch v := p.(type) {
		case TextPart:
			if v.Text != "" {
				return true
			}
		case ImagePart:
			return true
		}
	}
	return false
}

// WithText returns a copy of m whose text fragments are replaced by a
// single fragment holding text. The new fragment takes the position of the
// first original text fragment (or the front, if there was none); every
// non-text fragment keeps its relative order.
func (m Message) WithText(text string) Message {
	parts := make(Parts, 0, len(m.Parts)+1)
	placed := false
	for _, p := range m.Parts {
		switch v := p.(type) {
		case TextPart:
			if !placed {
				parts = append(parts, TextPart{Text: text})
				placed = true
			}
		case ImagePart:
			parts = append(parts, v)
		}
	}
	if !placed {
		parts = append(Parts{TextPart{Text: text}}, parts...)
	}
	ret := m
	ret.Parts = parts
	return ret
}

// InferenceText renders the message for a text-only transport: text
// fragments are joined with a newline and every image becomes an inline
// ImageMarker.
func (m Message) InferenceText() string {
	chunks := make([]string, 0, len(m.Parts))
	for _, p := range m.Parts {
		switch v := p.(type) {
		case TextPart:
			chunks = append(chunks, v.Text)
		case ImagePart:
			chunks = append(chunks, ImageMarker(v.URL))
		}
	}
	return strings.Join(chunks, "\n")
}

func (m Message) View() string {
	return fmt.Sprintf("[%s]: %s", m.Role, strings.TrimRight(m.InferenceText(), "\n"))
}
