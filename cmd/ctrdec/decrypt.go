package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/falk/ctrdec/pkg/decrypt"
	"github.com/falk/ctrdec/pkg/metrics"
)

func (a *app) decryptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decrypt <image>...",
		Short: "Decrypt images in place",
		Long: `Decrypt every encrypted partition of each image in place and mark it as
decrypted. Already decrypted and mis-flagged partitions are detected from their
content and only have their flags corrected.

Examples:
  ctrdec decrypt game.3ds
  ctrdec decrypt -k ~/aes_keys.txt --strategy batch game.3ds`,
		Args: cobra.MinimumNArgs(1),
		RunE: a.runDecrypt,
	}
}

func (a *app) runDecrypt(cmd *cobra.Command, args []string) error {
	strategy, err := decrypt.ParseStrategy(a.cfg.Strategy)
	if err != nil {
		return err
	}
	db, err := a.loadKeys()
	if err != nil {
		return err
	}

	m := metrics.NewMetrics()
	out := cmd.OutOrStdout()
	opts := decrypt.Options{
		Workers:       a.cfg.Workers,
		ChunkSize:     a.cfg.ChunkSize,
		CodeChunkSize: a.cfg.CodeChunkSize,
		BatchSize:     a.cfg.BatchSize,
		Logger:        a.log,
		Reporter:      decrypt.ReporterFunc(func(msg string) { fmt.Fprintln(out, msg) }),
		Metrics:       m,
	}

	for _, path := range args {
		fmt.Fprintln(out, path)
		res, err := decrypt.DecryptFile(path, strategy, db, opts)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		a.log.WithFields(logrus.Fields{
			"path":     path,
			"run_id":   res.RunID,
			"duration": res.Duration,
		}).Debug("image processed")
	}

	if a.cfg.MetricsFile != "" {
		if err := m.WriteToTextfile(a.cfg.MetricsFile); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}
	return nil
}
