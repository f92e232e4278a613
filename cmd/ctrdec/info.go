package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/falk/ctrdec/pkg/decrypt"
)

func (a *app) infoCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "info <image>",
		Short: "Show partition headers and the planned action for each slot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			info, err := decrypt.Inspect(f)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			return renderInfo(cmd.OutOrStdout(), info, format)
		},
	}
	cmd.Flags().StringVarP(&format, "output", "o", "text", "output format (text, yaml, json)")
	return cmd
}

func renderInfo(w io.Writer, info *decrypt.ImageInfo, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(info); err != nil {
			return err
		}
		return enc.Close()
	case "text":
	default:
		return fmt.Errorf("invalid output format: %s (must be text, yaml or json)", format)
	}

	fmt.Fprintf(w, "Sector size: %#x\n", info.SectorSize)
	for _, p := range info.Partitions {
		if p.Outcome == decrypt.Skipped {
			continue
		}
		fmt.Fprintf(w, "\nPartition %d: offset %#x, length %#x sectors\n", p.Slot, p.OffsetSectors, p.LengthSectors)
		fmt.Fprintf(w, "  Action:        %s (modifies image: %t)\n", p.Outcome, p.Modifies)
		h := p.Header
		if h == nil {
			continue
		}
		fmt.Fprintf(w, "  Title ID:      %s\n", h.TitleID)
		fmt.Fprintf(w, "  Product code:  %s\n", h.ProductCode)
		fmt.Fprintf(w, "  Crypto method: %s (%s)\n", h.CryptoMethod, h.MethodFlag)
		fmt.Fprintf(w, "  Crypto flags:  %s (no-crypto=%t fixed-key=%t new-keyy=%t)\n", h.CryptoFlags, h.NoCrypto, h.FixedKey, h.NewKeyY)
		fmt.Fprintf(w, "  Content:       %s\n", h.Content)
		fmt.Fprintf(w, "  ExHeader:      %#x bytes\n", h.ExHeaderLength)
		fmt.Fprintf(w, "  ExeFS:         offset %#x, length %#x\n", h.ExeFS.Offset, h.ExeFS.Length)
		fmt.Fprintf(w, "  RomFS:         offset %#x, length %#x\n", h.RomFS.Offset, h.RomFS.Length)
	}
	return nil
}
