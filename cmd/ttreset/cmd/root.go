package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "ttreset",
	Short: "Tenstorrent chip reset and recovery tool",
	Long: `ttreset resets Tenstorrent AI accelerators (Grayskull, Wormhole,
Blackhole, Galaxy systems) back to a known-good state without rebooting
the host.

Examples:
  ttreset detect                      # List chips and their state
  ttreset reset                       # Reset every detected chip
  ttreset reset -d 0,1                # Reset devices 0 and 1
  ttreset reset -d reset_config.json  # Reset per config (incl. Galaxy)
  ttreset generate                    # Write a reset config for this host
  ttreset history                     # Show recent reset runs`,
	Version: "1.0.0",
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
