package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tenstorrent/tt-reset/internal/history"
)

var (
	historyLimit  int
	historyDevice string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent reset runs",
	Long: `Show the reset runs recorded on this host, newest first. With
--device, show the last successful reset of that device instead.

Examples:
  ttreset history
  ttreset history -n 50
  ttreset history --device 0000:01:00.0`,
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of runs to show")
	historyCmd.Flags().StringVar(&historyDevice, "device", "", "show the last successful reset of this device")
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	store, err := history.Open(ctx, history.DefaultPath())
	if err != nil {
		return err
	}
	defer store.Close()

	if historyDevice != "" {
		run, err := store.LastSuccess(ctx, historyDevice)
		if err != nil {
			return err
		}
		if run == nil {
			fmt.Printf("No successful reset recorded for %s\n", historyDevice)
			return nil
		}
		fmt.Printf("%s last reset successfully at %s (%s)\n",
			run.DeviceKey, run.FinishedAt.Local().Format("2006-01-02 15:04:05"), run.Family)
		return nil
	}

	runs, err := store.Recent(ctx, historyLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No reset runs recorded")
		return nil
	}

	fmt.Printf("%-20s %-14s %-10s %-18s %s\n", "FINISHED", "DEVICE", "FAMILY", "OUTCOME", "DETAIL")
	for _, r := range runs {
		detail := r.Detail
		if len(detail) > 60 {
			detail = detail[:57] + "..."
		}
		fmt.Printf("%-20s %-14s %-10s %-18s %s\n",
			r.FinishedAt.Local().Format("2006-01-02 15:04:05"), r.DeviceKey, r.Family, r.Outcome, detail)
	}
	return nil
}
