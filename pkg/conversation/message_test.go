package conversation

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewUserMessage_TrimsAndBuildsParts(t *testing.T) {
	m, err := NewUserMessage("  hello  ", []string{"https://img/1.png"}, WithID("m1"))
	require.NoError(t, err)
	require.Equal(t, "m1", m.ID)
	require.Equal(t, RoleUser, m.Role)
	require.Equal(t, Parts{TextPart{Text: "hello"}, ImagePart{URL: "https://img/1.png"}}, m.Parts)
}

func TestNewUserMessage_ImageOnlyGetsCaption(t *testing.T) {
	m, err := NewUserMessage("   ", []string{"https://img/1.png"})
	require.NoError(t, err)
	require.Equal(t, Parts{TextPart{Text: ImageCaption}, ImagePart{URL: "https://img/1.png"}}, m.Parts)
}

func TestNewUserMessage_EmptyFails(t *testing.T) {
	_, err := NewUserMessage(" \n\t", nil)
	require.ErrorIs(t, err, ErrEmptyMessage)
}

func TestMessage_WithText_PreservesIdentityAndImages(t *testing.T) {
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	m := NewMessage(RoleUser, Parts{
		ImagePart{URL: "a"},
		TextPart{Text: "first"},
		ImagePart{URL: "b"},
		TextPart{Text: "second"},
	}, WithID("x"), WithCreatedAt(created))

	edited := m.WithText("new")
	require.Equal(t, "x", edited.ID)
	require.Equal(t, RoleUser, edited.Role)
	require.Equal(t, created, edited.CreatedAt)
	require.Equal(t, Parts{
		ImagePart{URL: "a"},
		TextPart{Text: "new"},
		ImagePart{URL: "b"},
	}, edited.Parts)

	// the original is untouched
	require.Len(t, m.Parts, 4)
}

func TestMessage_WithText_PrependsWhenNoTextPart(t *testing.T) {
	m := NewMessage(RoleUser, Parts{ImagePart{URL: "a"}})
	edited := m.WithText("caption")
	require.Equal(t, Parts{TextPart{Text: "caption"}, ImagePart{URL: "a"}}, edited.Parts)
}

func TestMessage_TextAndInferenceText(t *testing.T) {
	m := NewMessage(RoleUser, Parts{
		TextPart{Text: "look"},
		ImagePart{URL: "https://img/cat.png"},
		TextPart{Text: "please"},
	})
	require.Equal(t, "look\nplease", m.Text())
	require.Equal(t, "look\n![image](https://img/cat.png)\nplease", m.InferenceText())
	require.Equal(t, []string{"https://img/cat.png"}, m.ImageURLs())
	require.Equal(t, []string{"https://img/cat.png"}, ExtractImageURLs(m.InferenceText()))
}

func TestMessage_HasContent(t *testing.T) {
	require.False(t, NewMessage(RoleAssistant, Parts{TextPart{}}).HasContent())
	require.False(t, NewMessage(RoleAssistant, nil).HasContent())
	require.True(t, NewAssistantMessage("x").HasContent())
	require.True(t, NewMessage(RoleUser, Parts{ImagePart{URL: "u"}}).HasContent())
}

func TestParts_JSONShape(t *testing.T) {
	parts := Parts{TextPart{Text: "hi"}, ImagePart{URL: "https://x/y.png"}}
	b, err := json.Marshal(parts)
	require.NoError(t, err)
	require.JSONEq(t, `[
		{"type":"text","text":"hi"},
		{"type":"image_url","image_url":{"url":"https://x/y.png"}}
	]`, string(b))

	var decoded Parts
	require.NoError(t, json.Unmarshal(b, &decoded))
	require.Equal(t, parts, decoded)
}

func TestParts_UnmarshalRejectsUnknownType(t *testing.T) {
	var p Parts
	err := json.Unmarshal([]byte(`[{"type":"video","url":"x"}]`), &p)
	require.Error(t, err)

	err = json.Unmarshal([]byte(`[{"type":"image_url"}]`), &p)
	require.Error(t, err)
}

func TestExtractImageURLs(t *testing.T) {
	require.Nil(t, ExtractImageURLs("no images here"))
	require.Equal(t,
		[]string{"https://a/1.png", "https://b/2.jpg"},
		ExtractImageURLs("one ![image](https://a/1.png) and\n\n![x](https://b/2.jpg)"),
	)
}
