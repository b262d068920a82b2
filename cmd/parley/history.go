package main

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/layers"
	"github.com/go-go-golems/glazed/pkg/cmds/parameters"
	"github.com/go-go-golems/glazed/pkg/formatters/table"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/go-go-golems/parley/pkg/store"
	storefactory "github.com/go-go-golems/parley/pkg/store/factory"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

type HistorySettings struct {
	Limit   int    `glazed.parameter:"limit"`
	Session string `glazed.parameter:"session"`
}

type HistoryCommand struct {
	*cmds.CommandDescription
}

var _ cmds.GlazeCommand = (*HistoryCommand)(nil)

func NewHistoryCommand() (*HistoryCommand, error) {
	glazedParameterLayer, err := settings.NewGlazedParameterLayers()
	if err != nil {
		return nil, errors.Wrap(err, "could not create glazed parameter layer")
	}

	return &HistoryCommand{
		CommandDescription: cmds.NewCommandDescription(
			"history",
			cmds.WithShort("List the most recent stored messages, newest first"),
			cmds.WithFlags(
				parameters.NewParameterDefinition(
					"limit",
					parameters.ParameterTypeInteger,
					parameters.WithHelp("Number of messages (default: history-limit)"),
					parameters.WithDefault(0),
				),
				parameters.NewParameterDefinition(
					"session",
					parameters.ParameterTypeString,
					parameters.WithHelp("Only list messages of this session"),
				),
			),
			cmds.WithLayersList(glazedParameterLayer),
		),
	}, nil
}

func (c *HistoryCommand) RunIntoGlazeProcessor(ctx context.Context, parsedLayers *layers.ParsedLayers, gp middlewares.Processor) error {
	s := &HistorySettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, s); err != nil {
		return errors.Wrap(err, "could not initialize history settings")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if s.Limit <= 0 {
		s.Limit = cfg.Session.HistoryLimit
	}

	st, err := storefactory.Open(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer func() {
		_ = st.Close()
	}()

	var options []store.ListOption
	if s.Session != "" {
		options = append(options, store.ForSession(s.Session))
	}
	records, err := st.ListRecent(ctx, s.Limit, options...)
	if err != nil {
		return err
	}
	return addHistoryRows(ctx, gp, records)
}

func newHistoryCommand() *cobra.Command {
	historyCmd, err := NewHistoryCommand()
	cobra.CheckErr(err)

	cobraCmd, err := cli.BuildCobraCommandFromGlazeCommand(historyCmd)
	cobra.CheckErr(err)
	return cobraCmd
}

func historyRow(r store.Record) types.Row {
	return types.NewRow(
		types.MRP("created_at", r.CreatedAt.Format(time.RFC3339)),
		types.MRP("session_id", r.SessionID),
		types.MRP("id", r.ID),
		types.MRP("role", string(r.Role)),
		types.MRP("text", r.Text),
		types.MRP("images", strings.Join(r.Message().ImageURLs(), ",")),
	)
}

func addHistoryRows(ctx context.Context, gp middlewares.Processor, records []store.Record) error {
	for _, r := range records {
		if err := gp.AddRow(ctx, historyRow(r)); err != nil {
			return err
		}
	}
	return nil
}

// writeHistoryTable renders records as an ascii table, for the line chat.
func writeHistoryTable(ctx context.Context, w io.Writer, records []store.Record) error {
	t := types.NewTable()
	for _, r := range records {
		row := historyRow(r)
		row.Set("text", strings.ReplaceAll(r.Text, "\n", " "))
		t.AddRows(row)
	}
	return table.NewOutputFormatter("ascii").OutputTable(ctx, t, w)
}
