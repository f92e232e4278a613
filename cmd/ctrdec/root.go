package main

import (
	"errors"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/falk/ctrdec/internal/config"
	"github.com/falk/ctrdec/internal/logging"
	"github.com/falk/ctrdec/pkg/keys"
)

// app carries state shared by all subcommands of one invocation.
type app struct {
	v          *viper.Viper
	configFile string
	cfg        *config.Config
	log        *logrus.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{v: config.New()}

	root := &cobra.Command{
		Use:   "ctrdec [image]",
		Short: "Decrypt 3DS NCSD images in place",
		Long: `ctrdec converts encrypted 3DS card images (.3ds/.cci) to plaintext in place.

Keys are read from aes_keys.txt (generator and slot0x2C/25/18/1B KeyX). Without
--keys the file is searched in the current directory, ~/.config/ctrdec and the
Citra/Azahar sysdata directories.

Commands:
  decrypt     Decrypt images in place (default when an image is given)
  info        Show partition headers and what a decryption pass would do
  verify      Print or check the SHA-256 of a file
  keys        Check or install a key file
  pack        Compress an image with zstd
  unpack      Restore a packed image`,
		Version:           version,
		Args:              cobra.ArbitraryArgs,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}
			return a.runDecrypt(cmd, args)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configFile, "config", "", "config file (default ctrdec.yaml in ., $HOME/.config/ctrdec, /etc/ctrdec)")
	pf.StringP("keys", "k", "", "path to aes_keys.txt")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	pf.String("log-format", "text", "log format (text, json)")
	pf.String("strategy", "auto", "target access strategy (auto, mmap, batch)")
	pf.Int("workers", 0, "parallel decryption workers (0 = number of CPUs)")
	pf.Int("chunk-size", 4<<20, "RomFS chunk size in bytes")
	pf.Int("code-chunk-size", 1<<20, "ExeFS and .code chunk size in bytes")
	pf.Int("batch-size", 64<<20, "batch size in bytes for the batch strategy")
	pf.String("metrics-file", "", "write prometheus metrics to this textfile after the run")

	for key, flag := range map[string]string{
		"keys_file":       "keys",
		"log_level":       "log-level",
		"log_format":      "log-format",
		"strategy":        "strategy",
		"workers":         "workers",
		"chunk_size":      "chunk-size",
		"code_chunk_size": "code-chunk-size",
		"batch_size":      "batch-size",
		"metrics_file":    "metrics-file",
	} {
		cobra.CheckErr(a.v.BindPFlag(key, pf.Lookup(flag)))
	}

	root.AddCommand(
		a.decryptCmd(),
		a.infoCmd(),
		verifyCmd(),
		a.keysCmd(),
		a.packCmd(),
		unpackCmd(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(a.v, a.configFile)
	if err != nil {
		return err
	}
	a.cfg = cfg

	a.log, err = logging.New(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	if used := a.v.ConfigFileUsed(); used != "" {
		a.log.WithField("path", used).Debug("loaded config file")
	}
	return nil
}

// loadKeys reads the configured key file. Without one the default locations are searched
// and an empty database is returned when nothing is found, so plaintext and zero-key
// images still work.
func (a *app) loadKeys() (*keys.DB, error) {
	if a.cfg.KeysFile != "" {
		db, err := keys.Load(a.cfg.KeysFile, a.log)
		if err != nil {
			return nil, err
		}
		a.log.WithFields(logrus.Fields{"path": a.cfg.KeysFile, "keys": db.Len()}).Debug("loaded key file")
		return db, nil
	}

	db, path, err := keys.LoadDefault(a.log)
	if errors.Is(err, keys.ErrNoDefaultKeyFile) {
		a.log.Warnf("%v, continuing without keys", err)
		return keys.New(), nil
	}
	if err != nil {
		return nil, err
	}
	a.log.WithFields(logrus.Fields{"path": path, "keys": db.Len()}).Debug("loaded key file")
	return db, nil
}
