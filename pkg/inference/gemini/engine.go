package gemini

import (
	"context"
	"io"
	"iter"
	"net/http"

	"github.com/go-go-golems/parley/pkg/conversation"
	"github.com/go-go-golems/parley/pkg/inference"
	"github.com/pkg/errors"
	"google.golang.org/genai"
)

type Engine struct {
	client   *genai.Client
	settings inference.Settings
}

type Option func(*genai.ClientConfig)

// WithHTTPClient replaces the transport, mostly for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(cc *genai.ClientConfig) {
		cc.HTTPClient = c
	}
}

func NewEngine(ctx context.Context, settings inference.Settings, options ...Option) (*Engine, error) {
	settings = settings.Normalize()
	if settings.Gemini.APIKey == "" {
		return nil, errors.New("no API key for gemini")
	}
	cc := &genai.ClientConfig{
		APIKey:  settings.Gemini.APIKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: settings.Gemini.BaseURL,
		},
	}
	for _, o := range options {
		o(cc)
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, errors.Wrap(err, "could not create gemini client")
	}
	return &Engine{client: client, settings: settings}, nil
}

func (e *Engine) Model() string {
	return e.settings.Model
}

func (e *Engine) Stream(ctx context.Context, messages []inference.Message) (inference.Stream, error) {
	contents := makeContents(messages)
	logger := inference.Logger(ctx)
	logger.Debug().Str("model", e.settings.Model).Int("messages", len(contents)).Msg("gemini stream request")

	seq := e.client.Models.GenerateContentStream(ctx, e.settings.Model, contents, makeConfig(e.settings))
	next, stop := iter.Pull2(seq)
	return &contentStream{next: next, stop: stop}, nil
}

func makeContents(messages []inference.Message) []*genai.Content {
	ret := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		role := genai.Role(genai.RoleUser)
		if m.Role == conversation.RoleAssistant {
			role = genai.RoleModel
		}
		ret = append(ret, genai.NewContentFromText(m.Content, role))
	}
	return ret
}

func makeConfig(s inference.Settings) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if s.Temperature != nil {
		t := float32(*s.Temperature)
		cfg.Temperature = &t
	}
	if s.MaxTokens != nil {
		cfg.MaxOutputTokens = int32(*s.MaxTokens)
	}
	return cfg
}

type contentStream struct {
	next func() (*genai.GenerateContentResponse, error, bool)
	stop func()
	done bool
}

func (c *contentStream) Recv() (string, error) {
	if c.done {
		return "", io.EOF
	}
	resp, err, ok := c.next()
	if !ok {
		c.done = true
		return "", io.EOF
	}
	if err != nil {
		return "", errors.Wrap(err, "gemini: stream failed")
	}
	if resp == nil {
		return "", nil
	}
	return resp.Text(), nil
}

func (c *contentStream) Close() error {
	c.stop()
	return nil
}

var _ inference.Engine = (*Engine)(nil)
