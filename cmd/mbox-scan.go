package cmd

import (
	"github.com/spf13/cobra"

	"github.com/dhcgn/ico-scan/config"
)

// NewMboxScanCommand scans the messages of an mbox archive.
func NewMboxScanCommand(scan ScanFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "mbox-scan <mbox file> [output file]",
		Short: "Scan the messages of an mbox archive",
		Long: "Scan every message of an mbox archive. Rows are identified as " +
			"<archive name>-<n>, counting messages from 1.",
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return scan(cmd, config.ModeMbox, args)
		},
	}
}
