package reset

import (
	"fmt"
	"time"

	"github.com/tenstorrent/tt-reset/pkg/chip"
)

// strategy supplies the family-specific portion of a reset run. The shared
// skeleton in run.execute drives these hooks.
type strategy interface {
	// preReset runs before any reset sub-step, with the chip still alive.
	preReset(r *run) error

	// resetSteps issues the family's Resetting sub-steps.
	resetSteps(r *run) error

	// reinitWait is the settle time before re-detection starts.
	reinitWait(p Params) time.Duration

	// checksRefclk reports whether the verifier must compare refclk
	// across the reset for this family.
	checksRefclk() bool
}

func strategyFor(f chip.Family) (strategy, error) {
	switch f {
	case chip.FamilyGrayskull:
		return gsStrategy{}, nil
	case chip.FamilyWormhole:
		return whStrategy{}, nil
	case chip.FamilyBlackhole:
		return bhStrategy{}, nil
	default:
		return nil, fmt.Errorf("reset: no reset protocol for family %q", f)
	}
}

func (r *run) opcodesFor(f chip.Family) (ArcOpcodes, error) {
	ops, ok := r.engine.opcodes[f]
	if !ok {
		return ArcOpcodes{}, fmt.Errorf("reset: no arc opcodes loaded for family %s", f)
	}
	return ops, nil
}

// captureBaseline reads pre-reset telemetry. Required families treat a
// failed read as fatal; others record a warning and move on.
func (r *run) captureBaseline(required bool) error {
	snap, err := r.engine.acc.ReadTelemetry(r.target.ID)
	if err != nil {
		if required {
			return fmt.Errorf("failed to read pre-reset telemetry for %s, the chip cannot be recovered without a host reboot: %v", r.target.ID, err)
		}
		r.result.Warnings = append(r.result.Warnings,
			fmt.Sprintf("pre-reset telemetry unavailable for %s: %v", r.target.ID, err))
		return nil
	}
	r.pre = &snap
	r.result.Pre = &snap
	return nil
}

// gsStrategy: Grayskull only needs its tensix cores pulled through reset.
type gsStrategy struct{}

func (gsStrategy) preReset(r *run) error { return r.captureBaseline(false) }

func (gsStrategy) resetSteps(r *run) error {
	if err := r.engine.acc.Reset(r.target.ID, chip.ModeTensix); err != nil {
		return fmt.Errorf("tensix reset for %s: %v", r.target.ID, err)
	}
	return nil
}

func (gsStrategy) reinitWait(p Params) time.Duration { return p.PostResetWait }
func (gsStrategy) checksRefclk() bool                { return false }

// whStrategy: Wormhole link/ARC reset. The refclk counter restarts on a
// successful reset, so the pre-reset reading is the verification baseline.
type whStrategy struct{}

func (whStrategy) preReset(r *run) error { return r.captureBaseline(true) }

func (whStrategy) resetSteps(r *run) error {
	e := r.engine
	id := r.target.ID

	ops, err := r.opcodesFor(chip.FamilyWormhole)
	if err != nil {
		return err
	}

	// A failed secondary bus reset is survivable; the ARC sequence below
	// can still pull the chip through.
	if err := e.acc.Reset(id, chip.ModePCIeLink); err != nil {
		r.result.Warnings = append(r.result.Warnings,
			fmt.Sprintf("secondary bus reset not completed for %s, continuing: %v", id, err))
	}

	// A3 is a safe state with no pending regulator requests; give it time
	// to propagate before triggering the reset proper.
	if err := e.acc.ArcMsg(id, ops.ArcState3, true, 0); err != nil {
		return fmt.Errorf("arc safe-state message for %s: %v", id, err)
	}
	e.sleep(e.params.ArcStatePropTime)

	var arg0 uint32
	if e.params.M3 {
		arg0 = 3
	}
	if err := e.acc.ArcMsg(id, ops.TriggerReset, false, arg0); err != nil {
		return fmt.Errorf("arc trigger-reset message for %s: %v", id, err)
	}

	if err := e.acc.Reset(id, chip.ModeRestoreState); err != nil {
		return fmt.Errorf("restore state for %s: %v", id, err)
	}
	return nil
}

func (whStrategy) reinitWait(p Params) time.Duration { return p.PostResetWait }
func (whStrategy) checksRefclk() bool                { return true }

// bhStrategy: Blackhole resets through config space, or through the m3
// path when requested. An m3 reset may kick off a BMFW self-upgrade, which
// is not an error — just a much longer wait before the chip answers again.
type bhStrategy struct{}

func (bhStrategy) preReset(r *run) error { return r.captureBaseline(false) }

func (bhStrategy) resetSteps(r *run) error {
	e := r.engine
	id := r.target.ID

	if e.params.M3 {
		ops, err := r.opcodesFor(chip.FamilyBlackhole)
		if err != nil {
			return err
		}
		if err := e.acc.ArcMsg(id, ops.TriggerReset, false, 3); err != nil {
			return fmt.Errorf("m3 reset message for %s: %v", id, err)
		}
	} else {
		if err := e.acc.Reset(id, chip.ModeConfigWrite); err != nil {
			return fmt.Errorf("config space reset for %s: %v", id, err)
		}
	}

	if err := e.acc.Reset(id, chip.ModeRestoreState); err != nil {
		return fmt.Errorf("restore state for %s: %v", id, err)
	}
	return nil
}

func (bhStrategy) reinitWait(p Params) time.Duration {
	if p.M3 {
		// A full BMFW upgrade can take a while.
		return p.BMFWUpgradeWait
	}
	return p.PostResetWait
}

func (bhStrategy) checksRefclk() bool { return false }
