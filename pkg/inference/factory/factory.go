package factory

import (
	"context"
	"strings"

	"github.com/go-go-golems/parley/pkg/inference"
	"github.com/go-go-golems/parley/pkg/inference/echo"
	"github.com/go-go-golems/parley/pkg/inference/gemini"
	"github.com/go-go-golems/parley/pkg/inference/ollama"
	"github.com/go-go-golems/parley/pkg/inference/openai"
	"github.com/pkg/errors"
)

// EngineFactory creates inference engines from provider settings, so that
// callers never depend on a concrete provider.
type EngineFactory interface {
	CreateEngine(ctx context.Context, settings inference.Settings) (inference.Engine, error)
	SupportedProviders() []string
	DefaultProvider() string
}

type StandardEngineFactory struct{}

func NewStandardEngineFactory() *StandardEngineFactory {
	return &StandardEngineFactory{}
}

// CreateEngine validates the settings and builds the engine for
// settings.Provider, defaulting to openai.
func (f *StandardEngineFactory) CreateEngine(ctx context.Context, settings inference.Settings) (inference.Engine, error) {
	settings = settings.Normalize()
	if err := settings.Validate(); err != nil {
		if errors.Is(err, inference.ErrUnknownProvider) {
			return nil, errors.Errorf("unsupported provider %s. Supported providers: %s",
				settings.Provider, strings.Join(f.SupportedProviders(), ", "))
		}
		return nil, errors.Wrapf(err, "invalid settings for provider %s", settings.Provider)
	}

	switch settings.Provider {
	case inference.ProviderOpenAI:
		return openai.NewEngine(settings)
	case inference.ProviderOllama:
		return ollama.NewEngine(settings)
	case inference.ProviderGemini:
		return gemini.NewEngine(ctx, settings)
	case inference.ProviderEcho:
		return echo.NewEngine(echo.WithModel(settings.Model)), nil
	default:
		return nil, errors.Errorf("unsupported provider %s", settings.Provider)
	}
}

func (f *StandardEngineFactory) SupportedProviders() []string {
	return []string{
		string(inference.ProviderOpenAI),
		string(inference.ProviderOllama),
		string(inference.ProviderGemini),
		string(inference.ProviderEcho),
	}
}

func (f *StandardEngineFactory) DefaultProvider() string {
	return string(inference.ProviderOpenAI)
}

// NewEngine is a shortcut for the standard factory.
func NewEngine(ctx context.Context, settings inference.Settings) (inference.Engine, error) {
	return NewStandardEngineFactory().CreateEngine(ctx, settings)
}

var _ EngineFactory = (*StandardEngineFactory)(nil)
