package main

import (
	"github.com/go-go-golems/parley/pkg/attachments"
	"github.com/go-go-golems/parley/pkg/inference"
	"github.com/go-go-golems/parley/pkg/server"
	"github.com/go-go-golems/parley/pkg/session"
	"github.com/go-go-golems/parley/pkg/store"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config is everything read from flags, environment and config file.
type Config struct {
	Inference   inference.Settings
	Store       store.Settings
	Attachments attachments.Settings
	Session     session.Settings
	Server      server.Settings
}

func addSettingsFlags(cmd *cobra.Command) {
	fs := cmd.PersistentFlags()

	defaultInference := inference.DefaultSettings()
	fs.String("ai-provider", string(defaultInference.Provider), "Inference provider (openai, ollama, gemini, echo)")
	fs.String("ai-model", defaultInference.Model, "Model name")
	fs.Float64("ai-temperature", 0, "Sampling temperature (provider default when unset)")
	fs.Int("ai-max-tokens", 0, "Maximum reply tokens (provider default when unset)")
	fs.String("openai-api-key", "", "OpenAI API key")
	fs.String("openai-base-url", "", "OpenAI compatible base URL")
	fs.String("gemini-api-key", "", "Gemini API key")
	fs.String("gemini-base-url", "", "Gemini API base URL")
	fs.String("ollama-host", "", "Ollama host (default OLLAMA_HOST)")
	fs.Bool("vision-parts", false, "Send inline images as image parts where supported")

	defaultSession := session.DefaultSettings()
	fs.Int("window-size", defaultSession.WindowSize, "Messages forwarded per request (first message plus the most recent)")
	fs.Int("history-limit", defaultSession.HistoryLimit, "Messages loaded and listed from history")
	fs.Bool("persist-assistant", false, "Also persist settled assistant replies")
	fs.Duration("persist-timeout", defaultSession.PersistTimeout, "Timeout of each transcript write")

	defaultStore := store.DefaultSettings()
	fs.String("store-driver", string(defaultStore.Driver), "Transcript store (sqlite, pebble, memory)")
	fs.String("store-path", defaultStore.Path, "sqlite file or pebble directory")

	defaultAttachments := attachments.DefaultSettings()
	fs.String("uploads-dir", defaultAttachments.Dir, "Directory for locally stored uploads")
	fs.String("uploads-base-url", "", "Public base URL of locally stored uploads (default /uploads)")
	fs.String("upload-endpoint", "", "Remote upload endpoint; uploads are stored locally when empty")
	fs.Int("upload-max-bytes", defaultAttachments.MaxBytes, "Maximum attachment size")

	defaultServer := server.DefaultSettings()
	fs.String("listen-address", defaultServer.ListenAddress, "HTTP listen address")
	fs.String("cors-origin", defaultServer.CORSOrigin, "Allowed CORS origin")
	fs.Float64("upload-rate", defaultServer.UploadRate, "Uploads per second")
	fs.Int("upload-burst", defaultServer.UploadBurst, "Upload burst")
}

func loadConfig() (Config, error) {
	var cfg Config
	for name, target := range map[string]any{
		"inference":   &cfg.Inference,
		"store":       &cfg.Store,
		"attachments": &cfg.Attachments,
		"session":     &cfg.Session,
		"server":      &cfg.Server,
	} {
		if err := viper.Unmarshal(target); err != nil {
			return Config{}, errors.Wrapf(err, "could not decode %s settings", name)
		}
	}

	// zero flag defaults mean "let the provider decide"
	if !viper.IsSet("ai-temperature") {
		cfg.Inference.Temperature = nil
	}
	if !viper.IsSet("ai-max-tokens") {
		cfg.Inference.MaxTokens = nil
	}
	cfg.Inference = cfg.Inference.Normalize()

	if cfg.Attachments.BaseURL == "" {
		cfg.Attachments.BaseURL = "/uploads"
	}
	return cfg, nil
}
