package main

import (
	"context"
	"net/http"

	"github.com/go-go-golems/parley/pkg/attachments"
	"github.com/go-go-golems/parley/pkg/attachments/local"
	"github.com/go-go-golems/parley/pkg/attachments/remote"
	"github.com/go-go-golems/parley/pkg/inference"
	"github.com/go-go-golems/parley/pkg/inference/factory"
	"github.com/go-go-golems/parley/pkg/session"
	"github.com/go-go-golems/parley/pkg/store"
	storefactory "github.com/go-go-golems/parley/pkg/store/factory"
	"github.com/rs/zerolog/log"
)

// app holds the collaborators shared by the commands.
type app struct {
	cfg      Config
	engine   inference.Engine
	store    store.Store
	uploader attachments.Uploader
	// files serves local uploads; nil with a remote uploader
	files  http.Handler
	tokens inference.TokenCounter
}

func newApp(ctx context.Context, cfg Config) (*app, error) {
	engine, err := factory.NewEngine(ctx, cfg.Inference)
	if err != nil {
		return nil, err
	}

	st, err := storefactory.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	ret := &app{cfg: cfg, engine: engine, store: st}
	if err := ret.initUploader(); err != nil {
		_ = st.Close()
		return nil, err
	}

	counter, err := inference.NewTiktokenCounter(cfg.Inference.Model)
	if err != nil {
		log.Debug().Err(err).Str("model", cfg.Inference.Model).Msg("token counting disabled")
	} else {
		ret.tokens = counter
	}

	log.Debug().
		Str("provider", string(cfg.Inference.Provider)).
		Str("model", engine.Model()).
		Str("store", string(cfg.Store.Driver)).
		Msg("app ready")
	return ret, nil
}

func (a *app) initUploader() error {
	s := a.cfg.Attachments
	if s.Endpoint != "" {
		u, err := remote.New(s.Endpoint, s.MaxBytes)
		if err != nil {
			return err
		}
		a.uploader = u
		return nil
	}
	u, err := local.New(s.Dir, s.BaseURL, s.MaxBytes)
	if err != nil {
		return err
	}
	a.uploader = u
	a.files = u.Handler()
	return nil
}

// sessionOptions are shared by every session the app creates.
func (a *app) sessionOptions() []session.Option {
	options := a.cfg.Session.Options()
	if a.tokens != nil {
		options = append(options, session.WithTokenCounter(a.tokens))
	}
	return options
}

func (a *app) Close() error {
	return a.store.Close()
}
