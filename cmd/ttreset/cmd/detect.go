package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tenstorrent/tt-reset/pkg/chip"
	"github.com/tenstorrent/tt-reset/pkg/detect"
	"github.com/tenstorrent/tt-reset/pkg/pcie"
)

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "List Tenstorrent devices and their state",
	Long: `Enumerate Tenstorrent devices on the PCIe bus, probe each one and
report whether it is healthy, degraded, or unrecoverable. A degraded or
unrecoverable chip never aborts the scan; its state is reported alongside
the healthy ones.

Examples:
  ttreset detect
  ttreset detect -v     # per-chip probe progress and firmware versions`,
	RunE: runDetect,
}

func init() {
	rootCmd.AddCommand(detectCmd)
}

func runDetect(cmd *cobra.Command, args []string) error {
	acc := pcie.New()

	opts := detect.Options{}
	if verbose {
		opts.Progress = func(status string) { fmt.Println(status) }
	}

	detections, err := detect.All(acc, opts)
	if err != nil {
		return err
	}
	if len(detections) == 0 {
		fmt.Println("No Tenstorrent devices found")
		return nil
	}

	fmt.Printf("%-4s %-14s %-10s %-8s %s\n", "IDX", "PCI ADDRESS", "FAMILY", "BOARD", "STATE")
	for i, d := range detections {
		family, board := "-", "-"
		if d.Handle != nil {
			family = string(d.Handle.Family)
			if b := d.Handle.BoardType(); b != "" {
				board = b
			}
		}
		fmt.Printf("%-4d %-14s %-10s %-8s %s\n", i, d.ID.BDF, family, board, d.State)

		if verbose && d.State.Kind == chip.StateHealthy {
			if snap, err := acc.ReadTelemetry(d.ID); err == nil {
				fmt.Printf("     ARC FW %s, ETH FW %s, refclk %d\n",
					snap.ARCFWString(), snap.ETHFWString(), snap.Refclk)
			}
		}
	}
	return nil
}
