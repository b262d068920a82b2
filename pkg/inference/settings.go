package inference

import (
	"strings"

	"github.com/pkg/errors"
)

type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderOllama Provider = "ollama"
	ProviderGemini Provider = "gemini"
	ProviderEcho   Provider = "echo"
)

const DefaultModel = "gpt-4o-mini"

var ErrUnknownProvider = errors.New("unknown inference provider")

type OpenAISettings struct {
	APIKey  string `mapstructure:"openai-api-key" yaml:"api_key"`
	BaseURL string `mapstructure:"openai-base-url" yaml:"base_url"`
}

type GeminiSettings struct {
	APIKey  string `mapstructure:"gemini-api-key" yaml:"api_key"`
	BaseURL string `mapstructure:"gemini-base-url" yaml:"base_url"`
}

type OllamaSettings struct {
	Host string `mapstructure:"ollama-host" yaml:"host"`
}

// Settings selects and configures the inference backend.
type Settings struct {
	Provider    Provider `mapstructure:"ai-provider" yaml:"provider"`
	Model       string   `mapstructure:"ai-model" yaml:"model"`
	Temperature *float64 `mapstructure:"ai-temperature" yaml:"temperature,omitempty"`
	MaxTokens   *int     `mapstructure:"ai-max-tokens" yaml:"max_tokens,omitempty"`
	// VisionParts forwards inline image markers of user messages as image
	// parts when the provider supports it.
	VisionParts bool `mapstructure:"vision-parts" yaml:"vision_parts"`

	OpenAI OpenAISettings `mapstructure:",squash" yaml:"openai"`
	Gemini GeminiSettings `mapstructure:",squash" yaml:"gemini"`
	Ollama OllamaSettings `mapstructure:",squash" yaml:"ollama"`
}

func DefaultSettings() Settings {
	return Settings{
		Provider: ProviderOpenAI,
		Model:    DefaultModel,
	}
}

// Normalize fills defaults and lowercases the provider name.
func (s Settings) Normalize() Settings {
	s.Provider = Provider(strings.ToLower(strings.TrimSpace(string(s.Provider))))
	if s.Provider == "" {
		s.Provider = ProviderOpenAI
	}
	if strings.TrimSpace(s.Model) == "" {
		s.Model = DefaultModel
	}
	return s
}

func (s Settings) Validate() error {
	switch s.Provider {
	case ProviderOpenAI:
		if s.OpenAI.APIKey == "" {
			return errors.New("openai-api-key is required for the openai provider")
		}
	case ProviderGemini:
		if s.Gemini.APIKey == "" {
			return errors.New("gemini-api-key is required for the gemini provider")
		}
	case ProviderOllama, ProviderEcho:
	default:
		return errors.Wrapf(ErrUnknownProvider, "%q", s.Provider)
	}
	if s.Temperature != nil && (*s.Temperature < 0 || *s.Temperature > 2) {
		return errors.Errorf("ai-temperature must be between 0 and 2, got %v", *s.Temperature)
	}
	if s.MaxTokens != nil && *s.MaxTokens <= 0 {
		return errors.Errorf("ai-max-tokens must be positive, got %d", *s.MaxTokens)
	}
	return nil
}
