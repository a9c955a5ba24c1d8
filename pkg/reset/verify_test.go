package reset

import (
	"strings"
	"testing"

	"github.com/tenstorrent/tt-reset/pkg/chip"
)

func snap(refclk uint64) *chip.TelemetrySnapshot {
	return &chip.TelemetrySnapshot{Refclk: refclk}
}

func TestVerifyDecisionTable(t *testing.T) {
	dev := chip.DeviceID{BDF: "0000:01:00.0"}

	cases := []struct {
		name        string
		in          VerifyInput
		outcome     Outcome
		exitCode    int
		wantWarning string
		wantReason  string
	}{
		{
			name: "healthy wormhole with refclk below baseline",
			in: VerifyInput{
				Device: dev, Family: chip.FamilyWormhole,
				Pre: snap(1000), Post: snap(10),
				PostState: chip.Healthy(), RefclkChecked: true,
			},
			outcome: OutcomeSuccess,
		},
		{
			name: "healthy wormhole with refclk at baseline warns",
			in: VerifyInput{
				Device: dev, Family: chip.FamilyWormhole,
				Pre: snap(1000), Post: snap(1000),
				PostState: chip.Healthy(), RefclkChecked: true,
			},
			outcome:     OutcomeSuccess,
			wantWarning: "refclk",
		},
		{
			name: "missing post snapshot disables the refclk check",
			in: VerifyInput{
				Device: dev, Family: chip.FamilyWormhole,
				Pre:       snap(1000),
				PostState: chip.Healthy(), RefclkChecked: true,
			},
			outcome: OutcomeSuccess,
		},
		{
			name: "grayskull never compares refclk",
			in: VerifyInput{
				Device: dev, Family: chip.FamilyGrayskull,
				Pre: snap(1000), Post: snap(2000),
				PostState: chip.Healthy(),
			},
			outcome: OutcomeSuccess,
		},
		{
			name: "degraded chip recommends a retry",
			in: VerifyInput{
				Device: dev, Family: chip.FamilyWormhole,
				PostState: chip.Degraded("not responding"),
			},
			outcome:    OutcomeFailed,
			wantReason: "retry the reset",
		},
		{
			name: "unrecoverable chip recommends a host reboot",
			in: VerifyInput{
				Device: dev, Family: chip.FamilyWormhole,
				PostState: chip.Unrecoverable("device node vanished"),
			},
			outcome:    OutcomeNeedsHostReboot,
			wantReason: "reboot the host",
		},
		{
			name: "unrecoverable on ARM gets the rescan advisory",
			in: VerifyInput{
				Device: dev, Family: chip.FamilyWormhole,
				PostState: chip.Unrecoverable("device node vanished"),
				HostARM:   true,
			},
			outcome:    OutcomeNeedsHostReboot,
			wantReason: "ARM hosts",
		},
		{
			name: "unrecoverable blackhole is exit-code-worthy",
			in: VerifyInput{
				Device: dev, Family: chip.FamilyBlackhole,
				PostState: chip.Unrecoverable("config space dead"),
			},
			outcome:  OutcomeNeedsHostReboot,
			exitCode: 1,
		},
		{
			name: "degraded blackhole is exit-code-worthy",
			in: VerifyInput{
				Device: dev, Family: chip.FamilyBlackhole,
				PostState: chip.Degraded("still not answering"),
			},
			outcome:  OutcomeFailed,
			exitCode: 1,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := Verify(tc.in)
			if res.Outcome != tc.outcome {
				t.Fatalf("Outcome = %s, want %s (reason %q)", res.Outcome, tc.outcome, res.Reason)
			}
			if res.ExitCode != tc.exitCode {
				t.Fatalf("ExitCode = %d, want %d", res.ExitCode, tc.exitCode)
			}
			if tc.wantWarning != "" {
				if len(res.Warnings) != 1 || !strings.Contains(res.Warnings[0], tc.wantWarning) {
					t.Fatalf("Warnings = %v, want one containing %q", res.Warnings, tc.wantWarning)
				}
			} else if len(res.Warnings) != 0 {
				t.Fatalf("unexpected warnings: %v", res.Warnings)
			}
			if tc.wantReason != "" && !strings.Contains(res.Reason, tc.wantReason) {
				t.Fatalf("Reason = %q, want it to contain %q", res.Reason, tc.wantReason)
			}
		})
	}
}

func TestVerifyCarriesSnapshots(t *testing.T) {
	pre, post := snap(500), snap(20)
	res := Verify(VerifyInput{
		Device:    chip.DeviceID{BDF: "0000:01:00.0"},
		Family:    chip.FamilyWormhole,
		Pre:       pre,
		Post:      post,
		PostState: chip.Healthy(),
	})
	if res.Pre != pre || res.Post != post {
		t.Fatalf("snapshots not carried through to the result")
	}
}
