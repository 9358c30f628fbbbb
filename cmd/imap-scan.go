package cmd

import (
	"github.com/spf13/cobra"

	"github.com/dhcgn/ico-scan/config"
)

// NewIMAPScanCommand scans the messages of an IMAP folder. Rows are
// identified by message UID.
func NewIMAPScanCommand(scan ScanFunc) *cobra.Command {
	c := &cobra.Command{
		Use:   "imap-scan [output file]",
		Short: "Scan the messages of an IMAP folder",
		Long: "Scan every message of one IMAP folder. The folder is opened read " +
			"only and no flags are changed. Rows are identified by message UID.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return scan(cmd, config.ModeIMAP, args)
		},
	}
	config.RegisterIMAPFlags(c)
	return c
}
