package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-go-golems/parley/pkg/attachments"
	"github.com/go-go-golems/parley/pkg/events"
	"github.com/go-go-golems/parley/pkg/inference"
	"github.com/go-go-golems/parley/pkg/session"
	"github.com/go-go-golems/parley/pkg/store"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

type Settings struct {
	ListenAddress string  `mapstructure:"listen-address" yaml:"listen_address"`
	CORSOrigin    string  `mapstructure:"cors-origin" yaml:"cors_origin"`
	UploadRate    float64 `mapstructure:"upload-rate" yaml:"upload_rate"`
	UploadBurst   int     `mapstructure:"upload-burst" yaml:"upload_burst"`
	UploadMax     int     `mapstructure:"upload-max-bytes" yaml:"upload_max_bytes"`
	HistoryLimit  int     `mapstructure:"history-limit" yaml:"history_limit"`
}

func DefaultSettings() Settings {
	return Settings{
		ListenAddress: ":8080",
		CORSOrigin:    "*",
		UploadRate:    2,
		UploadBurst:   5,
		UploadMax:     attachments.DefaultMaxBytes,
		HistoryLimit:  session.DefaultHistoryLimit,
	}
}

// Server hosts chat sessions over HTTP and websockets.
type Server struct {
	settings Settings
	engine   inference.Engine

	store          store.Store
	uploader       attachments.Uploader
	uploadsHandler http.Handler
	router         *events.EventRouter
	gatherer       prometheus.Gatherer
	sessionOptions []session.Option
	limiter        *rate.Limiter

	mu       sync.Mutex
	sessions map[string]*session.Manager
}

type Option func(*Server)

func WithStore(s store.Store) Option {
	return func(srv *Server) {
		srv.store = s
	}
}

func WithUploader(u attachments.Uploader) Option {
	return func(srv *Server) {
		srv.uploader = u
	}
}

// WithUploadsHandler serves stored attachments under /uploads/.
func WithUploadsHandler(h http.Handler) Option {
	return func(srv *Server) {
		srv.uploadsHandler = h
	}
}

// WithEventRouter makes every session publish its events on the router,
// which also feeds the websocket streams. Websocket clients only see events
// in order when the router blocks publishing until ack.
func WithEventRouter(r *events.EventRouter) Option {
	return func(srv *Server) {
		srv.router = r
	}
}

func WithGatherer(g prometheus.Gatherer) Option {
	return func(srv *Server) {
		srv.gatherer = g
	}
}

// WithSessionOptions are applied to every session the server creates.
func WithSessionOptions(options ...session.Option) Option {
	return func(srv *Server) {
		srv.sessionOptions = append(srv.sessionOptions, options...)
	}
}

func New(engine inference.Engine, settings Settings, options ...Option) (*Server, error) {
	if engine == nil {
		return nil, errors.New("engine is nil")
	}
	if settings.HistoryLimit <= 0 {
		settings.HistoryLimit = session.DefaultHistoryLimit
	}
	if settings.UploadRate <= 0 {
		settings.UploadRate = DefaultSettings().UploadRate
	}
	if settings.UploadBurst <= 0 {
		settings.UploadBurst = DefaultSettings().UploadBurst
	}
	srv := &Server{
		settings: settings,
		engine:   engine,
		gatherer: prometheus.DefaultGatherer,
		limiter:  rate.NewLimiter(rate.Limit(settings.UploadRate), settings.UploadBurst),
		sessions: map[string]*session.Manager{},
	}
	for _, o := range options {
		o(srv)
	}
	return srv, nil
}

// Handler returns the routed, middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("POST /api/upload", s.handleUpload)
	mux.HandleFunc("GET /api/chat/history", s.handleHistory)

	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("GET /api/sessions/{id}/history", s.handleSessionHistory)
	mux.HandleFunc("POST /api/sessions/{id}/messages", s.handleSubmit)
	mux.HandleFunc("PATCH /api/sessions/{id}/messages/{messageID}", s.handleEdit)
	mux.HandleFunc("POST /api/sessions/{id}/regenerate", s.handleRegenerate)
	mux.HandleFunc("POST /api/sessions/{id}/cancel", s.handleCancel)
	mux.HandleFunc("GET /api/sessions/{id}/ws", s.handleWebSocket)

	if s.uploadsHandler != nil {
		mux.Handle("GET /uploads/", http.StripPrefix("/uploads/", s.uploadsHandler))
	}

	return s.logMiddleware(s.corsMiddleware(mux))
}

// Run serves until ctx is canceled, then shuts down gracefully and closes
// every session.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.settings.ListenAddress,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		log.Info().Str("address", s.settings.ListenAddress).Msg("starting server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server failed")
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Info().Msg("shutting down server")
		err := httpServer.Shutdown(shutdownCtx)
		s.Close()
		return err
	})
	return eg.Wait()
}

// Close closes every live session. The store is left open.
func (s *Server) Close() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = map[string]*session.Manager{}
	s.mu.Unlock()

	for id, m := range sessions {
		if err := m.Close(); err != nil {
			log.Warn().Err(err).Str("session_id", id).Msg("could not close session")
		}
	}
}
