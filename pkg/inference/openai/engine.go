package openai

import (
	"context"
	"io"
	"strings"

	"github.com/go-go-golems/parley/pkg/conversation"
	"github.com/go-go-golems/parley/pkg/inference"
	"github.com/pkg/errors"
	go_openai "github.com/sashabaranov/go-openai"
)

// Engine streams chat completions from the OpenAI API or any server that
// speaks the same protocol.
type Engine struct {
	client   *go_openai.Client
	settings inference.Settings
}

func MakeClient(s inference.OpenAISettings) *go_openai.Client {
	config := go_openai.DefaultConfig(s.APIKey)
	if s.BaseURL != "" {
		config.BaseURL = s.BaseURL
	}
	return go_openai.NewClientWithConfig(config)
}

func NewEngine(settings inference.Settings) (*Engine, error) {
	settings = settings.Normalize()
	if settings.OpenAI.APIKey == "" {
		return nil, errors.New("no API key for openai")
	}
	return &Engine{
		client:   MakeClient(settings.OpenAI),
		settings: settings,
	}, nil
}

func (e *Engine) Model() string {
	return e.settings.Model
}

func (e *Engine) Stream(ctx context.Context, messages []inference.Message) (inference.Stream, error) {
	req := MakeCompletionRequest(e.settings, messages)
	logger := inference.Logger(ctx)
	logger.Debug().
		Str("model", req.Model).
		Int("messages", len(req.Messages)).
		Msg("openai stream request")

	stream, err := e.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, errors.Wrap(err, "openai: could not start stream")
	}
	return &chatStream{stream: stream}, nil
}

// MakeCompletionRequest builds a streaming request. With VisionParts set,
// user messages that contain image markers are sent as multi-part content.
func MakeCompletionRequest(s inference.Settings, messages []inference.Message) go_openai.ChatCompletionRequest {
	msgs := make([]go_openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, toChatMessage(m, s.VisionParts))
	}

	req := go_openai.ChatCompletionRequest{
		Model:    s.Model,
		Messages: msgs,
		Stream:   true,
	}
	if s.Temperature != nil {
		req.Temperature = float32(*s.Temperature)
	}
	if s.MaxTokens != nil {
		req.MaxTokens = *s.MaxTokens
	}
	return req
}

func toChatMessage(m inference.Message, vision bool) go_openai.ChatCompletionMessage {
	role := go_openai.ChatMessageRoleUser
	if m.Role == conversation.RoleAssistant {
		role = go_openai.ChatMessageRoleAssistant
	}

	if !vision || m.Role != conversation.RoleUser {
		return go_openai.ChatCompletionMessage{Role: role, Content: m.Content}
	}
	urls := conversation.ExtractImageURLs(m.Content)
	if len(urls) == 0 {
		return go_openai.ChatCompletionMessage{Role: role, Content: m.Content}
	}

	text := m.Content
	for _, u := range urls {
		text = strings.ReplaceAll(text, conversation.ImageMarker(u), "")
	}
	var parts []go_openai.ChatMessagePart
	if t := strings.TrimSpace(text); t != "" {
		parts = append(parts, go_openai.ChatMessagePart{
			Type: go_openai.ChatMessagePartTypeText,
			Text: t,
		})
	}
	for _, u := range urls {
		parts = append(parts, go_openai.ChatMessagePart{
			Type: go_openai.ChatMessagePartTypeImageURL,
			ImageURL: &go_openai.ChatMessageImageURL{
				URL:    u,
				Detail: go_openai.ImageURLDetailAuto,
			},
		})
	}
	return go_openai.ChatCompletionMessage{Role: role, MultiContent: parts}
}

type chatStream struct {
	stream *go_openai.ChatCompletionStream
}

func (c *chatStream) Recv() (string, error) {
	response, err := c.stream.Recv()
	if errors.Is(err, io.EOF) {
		return "", io.EOF
	}
	if err != nil {
		return "", errors.Wrap(err, "openai: stream failed")
	}
	delta := ""
	for _, choice := range response.Choices {
		delta += choice.Delta.Content
	}
	return delta, nil
}

func (c *chatStream) Close() error {
	return c.stream.Close()
}

var _ inference.Engine = (*Engine)(nil)
