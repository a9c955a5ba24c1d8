package reset

import (
	"fmt"

	"github.com/tenstorrent/tt-reset/pkg/chip"
)

// VerifyInput is everything the post-reset verifier needs to reach a
// verdict for one device.
type VerifyInput struct {
	Device chip.DeviceID
	Family chip.Family

	// Pre is the baseline telemetry captured before the reset, when the
	// family's strategy collected one.
	Pre *chip.TelemetrySnapshot

	// PostState is the re-detection verdict after the reset.
	PostState chip.State

	// Post is the post-reset telemetry, present only when re-detection
	// found the chip healthy and the read succeeded.
	Post *chip.TelemetrySnapshot

	// HostARM selects the ARM-specific recovery advisory.
	HostARM bool

	// RefclkChecked enables the refclk comparison for families whose
	// reset restarts the counter.
	RefclkChecked bool
}

const armAdvisory = "ARM hosts cannot rescan the PCIe bus after a device reset; reboot the host to recover the board"

// Verify reduces a pre/post snapshot pair and the post-reset chip state to
// a terminal result. Pure decision logic, no hardware access.
func Verify(in VerifyInput) Result {
	res := Result{
		Device: in.Device,
		Family: in.Family,
		Pre:    in.Pre,
		Post:   in.Post,
	}

	switch in.PostState.Kind {
	case chip.StateHealthy:
		res.Outcome = OutcomeSuccess
		if in.RefclkChecked {
			if warn := refclkWarning(in); warn != "" {
				res.Warnings = append(res.Warnings, warn)
			}
		}

	case chip.StateDegraded:
		res.Outcome = OutcomeFailed
		res.Reason = fmt.Sprintf("chip degraded after reset (%s); retry the reset", in.PostState.Reason)

	case chip.StateUnrecoverable:
		res.Outcome = OutcomeNeedsHostReboot
		res.Reason = fmt.Sprintf("chip unrecoverable after reset (%s); reboot the host", in.PostState.Reason)
		if in.HostARM {
			res.Reason += "; " + armAdvisory
		}
	}

	res.ExitCode = exitCodeFor(in.Family, res.Outcome)
	return res
}

// refclkWarning implements the soft refclk-regression check: a reset that
// worked restarts the counter, so the post value must be strictly below the
// pre value. Missing snapshots disable the comparison rather than failing.
func refclkWarning(in VerifyInput) string {
	if in.Pre == nil || in.Post == nil {
		return ""
	}
	if in.Post.Refclk < in.Pre.Refclk {
		return ""
	}
	return fmt.Sprintf("%v for %s: value before %d, value after %d",
		ErrRefclkRegression, in.Device, in.Pre.Refclk, in.Post.Refclk)
}
