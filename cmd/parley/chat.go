package main

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/signal"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fatih/color"
	"github.com/go-go-golems/parley/pkg/attachments"
	"github.com/go-go-golems/parley/pkg/events"
	"github.com/go-go-golems/parley/pkg/helpers"
	"github.com/go-go-golems/parley/pkg/session"
	"github.com/go-go-golems/parley/pkg/ui"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

type chatSettings struct {
	SessionID    string
	Plain        bool
	GlamourStyle string
}

func newChatCommand() *cobra.Command {
	s := chatSettings{}

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat in the terminal",
		Long: "Chat in the terminal. Without a tty, or with --plain, chat reads one " +
			"message per line and understands /regen, /attach <path>, /history and /quit.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

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

			interactive := isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
			if s.Plain || !interactive {
				return runPlainChat(ctx, a, s, os.Stdin, os.Stdout)
			}
			return runTUIChat(ctx, a, s)
		},
	}

	cmd.Flags().StringVar(&s.SessionID, "session", "", "Resume the session with this id")
	cmd.Flags().BoolVar(&s.Plain, "plain", false, "Line based chat without the terminal UI")
	cmd.Flags().StringVar(&s.GlamourStyle, "glamour-style", "dark", "Markdown style of replies (dark, light, notty)")
	return cmd
}

// openChatSession creates the session and, when resuming, loads its
// transcript.
func openChatSession(ctx context.Context, a *app, sessionID string, sinks ...events.EventSink) (*session.Manager, error) {
	options := append(a.sessionOptions(),
		session.WithStore(a.store),
		session.WithUploader(a.uploader),
		session.WithEventSinks(sinks...),
	)
	if sessionID != "" {
		options = append(options, session.WithSessionID(sessionID))
	}
	m, err := session.NewManager(a.engine, options...)
	if err != nil {
		return nil, err
	}
	if sessionID != "" {
		if err := m.Load(ctx); err != nil {
			_ = m.Close()
			return nil, err
		}
	}
	log.Debug().Str("session_id", m.ID()).Int("messages", len(m.Transcript())).Msg("session opened")
	return m, nil
}

// runWithRouter runs the router next to f and closes it once f returns.
func runWithRouter(ctx context.Context, router *events.EventRouter, f func(ctx context.Context) error) error {
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return router.Run(ctx)
	})
	eg.Go(func() error {
		defer func() {
			_ = router.Close()
		}()
		<-router.Running()
		return f(ctx)
	})
	return eg.Wait()
}

func runTUIChat(ctx context.Context, a *app, s chatSettings) error {
	// Sessions publish from inside Update, so publishing must never wait for
	// the program to receive the event.
	router, err := events.NewEventRouter(
		events.WithVerbose(viper.GetBool("verbose")),
		events.WithLogger(helpers.NewWatermill(log.Logger)),
	)
	if err != nil {
		return err
	}

	m, err := openChatSession(ctx, a, s.SessionID, router.Sink(events.TopicChat))
	if err != nil {
		return err
	}
	defer func() {
		_ = m.Close()
	}()

	options := []tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}
	if !isatty.IsTerminal(os.Stdin.Fd()) {
		tty, err := ui.OpenTTY()
		if err != nil {
			return errors.Wrap(err, "could not open tty")
		}
		defer func() {
			_ = tty.Close()
		}()
		options = append(options, tea.WithInput(tty))
	}

	p := tea.NewProgram(
		ui.InitialModel(ctx, m, ui.WithGlamourStyle(s.GlamourStyle)),
		options...,
	)
	router.AddHandler("ui", events.TopicChat, ui.ChatForwardFunc(p, m.ID()))

	return runWithRouter(ctx, router, func(ctx context.Context) error {
		_, err := p.Run()
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return err
	})
}

type plainChat struct {
	manager  *session.Manager
	out      io.Writer
	maxBytes int
	// attachment staged with /attach for the next message
	pending []byte

	prompt *color.Color
	info   *color.Color
	fail   *color.Color
}

func runPlainChat(ctx context.Context, a *app, s chatSettings, in io.Reader, out io.Writer) error {
	router, err := events.NewEventRouter(
		events.WithBlockPublishUntilAck(true),
		events.WithVerbose(viper.GetBool("verbose")),
		events.WithLogger(helpers.NewWatermill(log.Logger)),
	)
	if err != nil {
		return err
	}

	m, err := openChatSession(ctx, a, s.SessionID, router.Sink(events.TopicChat))
	if err != nil {
		return err
	}
	defer func() {
		_ = m.Close()
	}()
	router.AddHandler("printer", events.TopicChat, events.PrinterFunc("assistant", m.ID(), out))

	c := &plainChat{
		manager:  m,
		out:      out,
		maxBytes: a.cfg.Attachments.MaxBytes,
		prompt:   color.New(color.FgGreen, color.Bold),
		info:     color.New(color.FgCyan),
		fail:     color.New(color.FgRed),
	}
	return runWithRouter(ctx, router, func(ctx context.Context) error {
		return c.loop(ctx, in)
	})
}

func (c *plainChat) loop(ctx context.Context, in io.Reader) error {
	_, _ = c.info.Fprintf(c.out, "session %s\n", c.manager.ID())
	for _, msg := range c.manager.Transcript() {
		_, _ = c.info.Fprintf(c.out, "%s: %s\n", msg.Role, msg.Text())
	}

	lines := bufio.NewScanner(in)
	for {
		_, _ = c.prompt.Fprint(c.out, "> ")
		if !lines.Scan() {
			return lines.Err()
		}
		if ctx.Err() != nil {
			return nil
		}

		quit, err := c.handleLine(ctx, strings.TrimSpace(lines.Text()))
		if err != nil {
			_, _ = c.fail.Fprintf(c.out, "error: %v\n", err)
		}
		if quit {
			return nil
		}
	}
}

func (c *plainChat) handleLine(ctx context.Context, line string) (bool, error) {
	command, arg, _ := strings.Cut(line, " ")
	switch command {
	case "":
		return false, nil

	case "/quit", "/exit":
		return true, nil

	case "/regen":
		h, err := c.manager.Regenerate(ctx)
		if err != nil {
			return false, err
		}
		return false, c.wait(ctx, h)

	case "/attach":
		data, err := os.ReadFile(strings.TrimSpace(arg))
		if err != nil {
			return false, errors.Wrap(err, "could not read attachment")
		}
		if _, err := attachments.Validate(data, c.maxBytes); err != nil {
			return false, err
		}
		c.pending = data
		_, _ = c.info.Fprintln(c.out, "attachment staged for the next message")
		return false, nil

	case "/history":
		records, err := c.manager.History(ctx, 0)
		if err != nil {
			return false, err
		}
		return false, writeHistoryTable(ctx, c.out, records)
	}

	var options []session.SubmitOption
	if c.pending != nil {
		options = append(options, session.WithAttachment(c.pending))
	}
	h, err := c.manager.Submit(ctx, line, options...)
	if err != nil {
		return false, err
	}
	c.pending = nil
	return false, c.wait(ctx, h)
}

// wait blocks until the run settles. An interrupt cancels the run and
// keeps whatever was streamed so far.
func (c *plainChat) wait(ctx context.Context, h *session.ExecutionHandle) error {
	select {
	case <-h.Done():
	case <-ctx.Done():
		h.Cancel()
		<-h.Done()
	}
	_, err := h.Wait()
	if errors.Is(err, session.ErrCanceled) {
		return nil
	}
	// errors are printed by the event printer
	if err != nil {
		log.Debug().Err(err).Str("inference_id", h.InferenceID).Msg("run failed")
	}
	return nil
}
