package main

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/falk/ctrdec/pkg/archive"
)

func (a *app) packCmd() *cobra.Command {
	var (
		output string
		level  int
	)

	cmd := &cobra.Command{
		Use:   "pack <image>",
		Short: "Compress an image into a zstd archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" {
				output = args[0] + archive.Extension
			}
			n, err := archive.PackFile(args[0], output, archive.Options{
				Level:   level,
				Workers: a.cfg.Workers,
				Logger:  a.log,
			})
			if err != nil {
				return err
			}
			a.log.WithFields(logrus.Fields{"path": output, "bytes": n}).Info("packed image")
			fmt.Fprintln(cmd.OutOrStdout(), output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "archive path (default <image>.zst)")
	cmd.Flags().IntVarP(&level, "level", "l", archive.DefaultLevel, "compression level (1-22, higher = slower but smaller)")
	return cmd
}

func unpackCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "unpack <archive>",
		Short: "Restore an image from a zstd archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" {
				output = strings.TrimSuffix(args[0], archive.Extension)
				if output == args[0] {
					return fmt.Errorf("%s has no %s extension, use --output", args[0], archive.Extension)
				}
			}
			if _, err := archive.UnpackFile(args[0], output); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "image path (default: archive name without .zst)")
	return cmd
}
