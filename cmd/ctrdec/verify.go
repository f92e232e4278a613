package main

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func verifyCmd() *cobra.Command {
	var expect string

	cmd := &cobra.Command{
		Use:   "verify <file>",
		Short: "Print or check the SHA-256 of a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sum, err := fileSHA256(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", sum, args[0])

			if expect != "" && !strings.EqualFold(expect, sum) {
				return fmt.Errorf("hash mismatch: got %s, expected %s", sum, strings.ToUpper(expect))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&expect, "expect", "", "expected SHA-256 (hex, case-insensitive)")
	return cmd
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return strings.ToUpper(hex.EncodeToString(h.Sum(nil))), nil
}
