package main

import (
	"fmt"
	"os"

	"github.com/go-go-golems/parley/pkg/attachments"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newUploadCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload an image and print its URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			data, err := os.ReadFile(args[0])
			if err != nil {
				return errors.Wrapf(err, "could not read %s", args[0])
			}
			if _, err := attachments.Validate(data, cfg.Attachments.MaxBytes); err != nil {
				return err
			}

			a := &app{cfg: cfg}
			if err := a.initUploader(); err != nil {
				return err
			}
			up, err := a.uploader.Upload(cmd.Context(), data)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), up.URL)
			return err
		},
	}
}
