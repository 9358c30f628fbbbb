// Package cmd holds the scan subcommands for inputs other than an .eml
// directory.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/dhcgn/ico-scan/config"
)

// ScanFunc runs a scan for the given mode once flags are parsed.
type ScanFunc func(cmd *cobra.Command, mode config.Mode, args []string) error
