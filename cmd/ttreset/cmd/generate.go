package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tenstorrent/tt-reset/internal/hostinfo"
	"github.com/tenstorrent/tt-reset/internal/resetcfg"
	"github.com/tenstorrent/tt-reset/pkg/detect"
	"github.com/tenstorrent/tt-reset/pkg/pcie"
)

var generateOutput string

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Write a default reset config for this host",
	Long: `Probe the devices present on this host and write a reset config JSON
file describing them. Galaxy motherboard entries must be filled in by hand;
everything detected on the PCIe bus is recorded as a standalone device.

Examples:
  ttreset generate
  ttreset generate -o /tmp/reset_config.json`,
	RunE: runGenerate,
}

func init() {
	rootCmd.AddCommand(generateCmd)

	generateCmd.Flags().StringVarP(&generateOutput, "output", "o", "",
		"output path (default: the per-user config location)")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	acc := pcie.New()

	var opts detect.Options
	if verbose {
		opts.Progress = func(status string) { fmt.Println(status) }
	}
	detections, err := detect.All(acc, opts)
	if err != nil {
		return err
	}

	hostname := hostinfo.Hostname()
	cfg := resetcfg.Default(hostname)
	for _, d := range detections {
		family := "unknown"
		if d.Handle != nil {
			family = string(d.Handle.Family)
		}
		cfg.Devices[d.ID.Key()] = resetcfg.DeviceEntry{
			Family:          family,
			Role:            resetcfg.RoleStandalone,
			ReportSWVersion: true,
		}
	}

	path := generateOutput
	if path == "" {
		path = resetcfg.DefaultPath()
	}
	store := resetcfg.NewStore(path)
	if err := store.Save(cfg); err != nil {
		return err
	}

	fmt.Printf("Wrote reset config for %d device(s) to %s\n", len(cfg.Devices), path)
	if len(detections) == 0 {
		fmt.Println("No devices detected; the config is empty")
	}
	return nil
}
