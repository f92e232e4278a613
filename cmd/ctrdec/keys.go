package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/falk/ctrdec/pkg/keys"
)

func (a *app) keysCmd() *cobra.Command {
	var install bool

	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Check the key file, optionally installing it to the default location",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.loadKeys()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%d keys loaded\n", db.Len())

			var missing int
			for _, name := range keys.RequiredNames() {
				status := "ok"
				if _, ok := db.Get(name); !ok {
					status = "missing"
					missing++
				}
				fmt.Fprintf(out, "  %-14s %s\n", name, status)
			}

			if install {
				path, err := keys.DefaultSavePath()
				if err != nil {
					return err
				}
				if err := db.Save(path); err != nil {
					return fmt.Errorf("save keys: %w", err)
				}
				fmt.Fprintf(out, "Saved to %s\n", path)
			}

			if missing > 0 {
				return fmt.Errorf("%d required keys missing", missing)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&install, "install", false, "copy the loaded keys to the default key file location")
	return cmd
}
