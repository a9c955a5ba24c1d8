package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tenstorrent/tt-reset/internal/fwdefines"
	"github.com/tenstorrent/tt-reset/internal/history"
	"github.com/tenstorrent/tt-reset/internal/hostinfo"
	"github.com/tenstorrent/tt-reset/internal/resetcfg"
	"github.com/tenstorrent/tt-reset/pkg/chip"
	"github.com/tenstorrent/tt-reset/pkg/detect"
	"github.com/tenstorrent/tt-reset/pkg/mobo"
	"github.com/tenstorrent/tt-reset/pkg/pcie"
	"github.com/tenstorrent/tt-reset/pkg/reset"
)

var (
	resetDevices string
	resetM3      bool
	resetSilent  bool
	noHistory    bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset Tenstorrent devices",
	Long: `Reset Tenstorrent devices back to a known-good state. With no flags
every detected device is reset. -d accepts either a comma-separated list of
device indices (as shown by 'ttreset detect') or a path to a reset config
JSON file; a config with Galaxy motherboard entries drives the full Galaxy
warm-reset sequence.

The command exits non-zero when a Blackhole reset fails; other families
report failures as warnings.

Examples:
  ttreset reset
  ttreset reset -d 0,1
  ttreset reset -d reset_config.json
  ttreset reset --m3          # lighter m3/DMC reset where supported`,
	RunE: runReset,
}

func init() {
	rootCmd.AddCommand(resetCmd)

	resetCmd.Flags().StringVarP(&resetDevices, "devices", "d", "",
		"device indices (e.g. 0,1) or a reset config json file")
	resetCmd.Flags().BoolVar(&resetM3, "m3", false,
		"use the m3/DMC reset path where the family supports it")
	resetCmd.Flags().BoolVar(&resetSilent, "silent", false,
		"suppress narration (outcomes are unaffected)")
	resetCmd.Flags().BoolVar(&noHistory, "no-history", false,
		"do not record this run in the reset history")
}

func runReset(cmd *cobra.Command, args []string) error {
	gate := hostinfo.NewGate()
	acc := pcie.New()

	defines, err := fwdefines.Load()
	if err != nil {
		return err
	}
	opcodes := make(map[chip.Family]reset.ArcOpcodes, len(defines))
	for family, d := range defines {
		opcodes[family] = reset.ArcOpcodes{ArcState3: d.ArcState3, TriggerReset: d.TriggerReset}
	}

	params := reset.DefaultParams()
	params.M3 = resetM3
	params.Silent = resetSilent

	engine := reset.New(acc, gate, opcodes, params)
	engine.Log = func(line string) { fmt.Println(line) }

	var opts detect.Options
	if verbose {
		opts.Progress = func(status string) { fmt.Println(status) }
	}
	detections, err := detect.All(acc, opts)
	if err != nil {
		return err
	}
	if len(detections) == 0 {
		return fmt.Errorf("no Tenstorrent devices found")
	}

	// The config store is part of every flow: an explicit config file drives
	// target selection, and otherwise the per-user config is loaded (created
	// on first run) so each attempt is stamped back into it.
	var cfg *resetcfg.Config
	var indices []int
	if resetDevices != "" {
		cfg, indices, err = resetcfg.ParseResetInput(resetDevices, hostinfo.Hostname())
		if err != nil {
			return err
		}
	}
	fromConfigFile := cfg != nil
	var store *resetcfg.Store
	if fromConfigFile {
		store = resetcfg.NewStore(resetDevices)
	} else {
		store = resetcfg.NewStore(resetcfg.DefaultPath())
		cfg, _, err = store.Load(hostinfo.Hostname())
		if err != nil {
			return err
		}
	}

	started := time.Now().UTC()
	var results []reset.Result

	switch {
	case fromConfigFile && len(cfg.MoboResets) > 0:
		boards := make([]reset.GalaxyBoard, 0, len(cfg.MoboResets))
		for _, m := range cfg.MoboResets {
			boards = append(boards, reset.GalaxyBoard{
				Mobo:          m.Mobo,
				NBHosts:       targetsForKeys(detections, m.NBHostIDs),
				CredoPorts:    m.Credo,
				DisabledPorts: m.DisabledPorts,
			})
		}
		results, err = engine.ResetGalaxy(mobo.NewClient(), boards)
		if err != nil {
			recordRuns(started, results)
			updateConfig(store, cfg, results)
			return err
		}

	case fromConfigFile:
		targets := targetsForKeys(detections, configKeys(cfg))
		results = engine.ResetAll(targets)

	case indices != nil:
		var targets []reset.Target
		for _, i := range indices {
			if i < 0 || i >= len(detections) {
				return fmt.Errorf("device index %d out of range (%d devices detected)", i, len(detections))
			}
			t, ok := targetFor(detections[i])
			if !ok {
				return fmt.Errorf("device %s did not answer detection, cannot determine its family", detections[i].ID)
			}
			targets = append(targets, t)
		}
		results = engine.ResetAll(targets)

	default:
		var targets []reset.Target
		for _, d := range detections {
			t, ok := targetFor(d)
			if !ok {
				fmt.Fprintf(os.Stderr, "Skipping %s: family unknown (%s)\n", d.ID, d.State)
				continue
			}
			targets = append(targets, t)
		}
		results = engine.ResetAll(targets)
	}

	printResults(results)
	if !noHistory {
		recordRuns(started, results)
	}
	updateConfig(store, cfg, results)

	if code := worstExitCode(results); code != 0 {
		os.Exit(code)
	}
	return nil
}

func targetFor(d detect.Detection) (reset.Target, bool) {
	if d.Handle == nil {
		return reset.Target{}, false
	}
	return reset.Target{ID: d.ID, Family: d.Handle.Family, Handle: d.Handle}, true
}

// targetsForKeys matches config device keys (PCI addresses) against the
// detection pass. Keys that match a chip which never answered detection are
// reported and skipped rather than failing the batch.
func targetsForKeys(detections []detect.Detection, keys []string) []reset.Target {
	byKey := make(map[string]detect.Detection, len(detections))
	for _, d := range detections {
		byKey[d.ID.Key()] = d
	}
	var targets []reset.Target
	for _, key := range keys {
		d, ok := byKey[key]
		if !ok {
			fmt.Fprintf(os.Stderr, "Configured device %s not present on this host, skipping\n", key)
			continue
		}
		t, ok := targetFor(d)
		if !ok {
			fmt.Fprintf(os.Stderr, "Configured device %s did not answer detection (%s), skipping\n", key, d.State)
			continue
		}
		targets = append(targets, t)
	}
	return targets
}

func configKeys(cfg *resetcfg.Config) []string {
	keys := make([]string, 0, len(cfg.Devices))
	for key := range cfg.Devices {
		keys = append(keys, key)
	}
	return keys
}

func printResults(results []reset.Result) {
	for _, r := range results {
		for _, w := range r.Warnings {
			fmt.Fprintf(os.Stderr, "Warning: %s\n", w)
		}
		if r.Failed() {
			fmt.Fprintf(os.Stderr, "%s: %s (%s)\n", r.Device, r.Outcome, r.Reason)
		} else if !resetSilent {
			fmt.Printf("%s: reset complete\n", r.Device)
		}
	}
}

// recordRuns appends this invocation to the local reset history. History is
// advisory; failure to record never fails the reset.
func recordRuns(started time.Time, results []reset.Result) {
	if len(results) == 0 {
		return
	}
	ctx := context.Background()
	store, err := history.Open(ctx, history.DefaultPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: reset history unavailable: %v\n", err)
		return
	}
	defer store.Close()

	hostname := hostinfo.Hostname()
	for _, r := range results {
		detail := r.Reason
		for _, w := range r.Warnings {
			if detail != "" {
				detail += "; "
			}
			detail += w
		}
		run := history.Run{
			Hostname:   hostname,
			DeviceKey:  r.Device.Key(),
			Family:     string(r.Family),
			Outcome:    string(r.Outcome),
			Detail:     detail,
			ExitCode:   r.ExitCode,
			StartedAt:  started,
			FinishedAt: time.Now().UTC(),
		}
		if err := store.Record(ctx, run); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not record reset history: %v\n", err)
			return
		}
	}
}

// updateConfig folds one run back into the reset config: every attempted
// device ends up with an entry, and successful attempts get their timestamp
// stamped. The config is saved after every attempt, success or not.
func updateConfig(store *resetcfg.Store, cfg *resetcfg.Config, results []reset.Result) {
	if len(results) == 0 {
		return
	}
	now := time.Now().UTC()
	for _, r := range results {
		key := r.Device.Key()
		entry, ok := cfg.Devices[key]
		if !ok {
			entry = resetcfg.DeviceEntry{Role: resetcfg.RoleStandalone, ReportSWVersion: true}
		}
		if entry.Family == "" || entry.Family == string(chip.FamilyUnknown) {
			entry.Family = string(r.Family)
		}
		cfg.Devices[key] = entry
		if r.Outcome == reset.OutcomeSuccess {
			cfg.MarkReset(key, entry.Family, entry.Role, now)
		}
	}
	if err := store.Save(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not update %s: %v\n", store.Path(), err)
	}
}

func worstExitCode(results []reset.Result) int {
	code := 0
	for _, r := range results {
		if r.ExitCode > code {
			code = r.ExitCode
		}
	}
	return code
}
