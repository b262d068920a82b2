package ollama

import (
	"context"
	"os"
	"sync"

	"github.com/go-go-golems/parley/pkg/conversation"
	"github.com/go-go-golems/parley/pkg/inference"
	"github.com/jmorganca/ollama/api"
	"github.com/pkg/errors"
)

// Engine streams replies from a local ollama server.
type Engine struct {
	client   *api.Client
	settings inference.Settings
}

// NewEngine builds a client for the configured host, or from OLLAMA_HOST
// when none is set.
func NewEngine(settings inference.Settings) (*Engine, error) {
	settings = settings.Normalize()
	client, err := clientForHost(settings.Ollama.Host)
	if err != nil {
		return nil, errors.Wrap(err, "could not create ollama client")
	}
	return &Engine{client: client, settings: settings}, nil
}

var envMu sync.Mutex

// clientForHost builds a client for host. The api package only reads its
// base URL from OLLAMA_HOST, so the variable is swapped for the duration of
// the call and restored afterwards.
func clientForHost(host string) (*api.Client, error) {
	if host == "" {
		return api.ClientFromEnvironment()
	}

	envMu.Lock()
	defer envMu.Unlock()

	prev, had := os.LookupEnv("OLLAMA_HOST")
	if err := os.Setenv("OLLAMA_HOST", host); err != nil {
		return nil, err
	}
	defer func() {
		if had {
			_ = os.Setenv("OLLAMA_HOST", prev)
		} else {
			_ = os.Unsetenv("OLLAMA_HOST")
		}
	}()
	return api.ClientFromEnvironment()
}

func (e *Engine) Model() string {
	return e.settings.Model
}

func (e *Engine) Stream(ctx context.Context, messages []inference.Message) (inference.Stream, error) {
	req := makeChatRequest(e.settings, messages)
	logger := inference.Logger(ctx)
	logger.Debug().Str("model", req.Model).Int("messages", len(req.Messages)).Msg("ollama stream request")

	return inference.NewChanStream(ctx, func(ctx context.Context, emit inference.EmitFunc) error {
		err := e.client.Chat(ctx, req, func(resp api.ChatResponse) error {
			content := messageContent(resp.Message)
			if content == "" {
				return nil
			}
			return emit(content)
		})
		if err != nil {
			return errors.Wrap(err, "ollama: chat failed")
		}
		return nil
	}), nil
}

func makeChatRequest(s inference.Settings, messages []inference.Message) *api.ChatRequest {
	msgs := make([]api.Message, 0, len(messages))
	for _, m := range messages {
		role := "user"
		if m.Role == conversation.RoleAssistant {
			role = "assistant"
		}
		msgs = append(msgs, api.Message{Role: role, Content: m.Content})
	}

	stream := true
	options := map[string]interface{}{}
	if s.Temperature != nil {
		options["temperature"] = *s.Temperature
	}
	if s.MaxTokens != nil {
		options["num_predict"] = *s.MaxTokens
	}
	return &api.ChatRequest{
		Model:    s.Model,
		Messages: msgs,
		Stream:   &stream,
		Options:  options,
	}
}

// messageContent accepts both the pointer and the value form of the
// response message.
func messageContent(m any) string {
	switch v := m.(type) {
	case *api.Message:
		if v == nil {
			return ""
		}
		return v.Content
	case api.Message:
		return v.Content
	default:
		return ""
	}
}

var _ inference.Engine = (*Engine)(nil)
