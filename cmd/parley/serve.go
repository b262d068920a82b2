package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-go-golems/parley/pkg/events"
	"github.com/go-go-golems/parley/pkg/helpers"
	"github.com/go-go-golems/parley/pkg/server"
	"github.com/go-go-golems/parley/pkg/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

func newServeCommand() *cobra.Command {
	var dumpEvents bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the chat API over HTTP and websockets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, dumpEvents)
		},
	}
	cmd.Flags().BoolVar(&dumpEvents, "dump-events", false, "Print every session event to stdout")
	return cmd
}

func runServe(ctx context.Context, dumpEvents bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn().Err(err).Msg("could not close store")
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := session.NewMetrics(registry)
	if err != nil {
		return err
	}

	router, err := events.NewEventRouter(
		events.WithBlockPublishUntilAck(true),
		events.WithVerbose(viper.GetBool("verbose")),
		events.WithLogger(helpers.NewWatermill(log.Logger)),
	)
	if err != nil {
		return err
	}
	defer func() {
		_ = router.Close()
	}()
	if dumpEvents {
		router.AddHandler("dump", events.TopicChat, router.DumpRawEvents)
	}

	options := []server.Option{
		server.WithStore(a.store),
		server.WithUploader(a.uploader),
		server.WithEventRouter(router),
		server.WithGatherer(registry),
		server.WithSessionOptions(append(a.sessionOptions(), session.WithMetrics(metrics))...),
	}
	if a.files != nil {
		options = append(options, server.WithUploadsHandler(a.files))
	}
	srv, err := server.New(a.engine, cfg.Server, options...)
	if err != nil {
		return err
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return router.Run(ctx)
	})
	eg.Go(func() error {
		// the router only returns from Run once closed
		defer func() {
			_ = router.Close()
		}()
		<-router.Running()
		log.Info().Str("model", a.engine.Model()).Msg("event router running")
		return srv.Run(ctx)
	})
	return eg.Wait()
}
