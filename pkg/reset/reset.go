// Package reset drives the per-family chip reset protocols. One shared
// state machine skeleton (Idle → DriverChecked → Resetting → AwaitingReinit
// → Verifying → Done) runs every family; a per-family strategy supplies the
// Resetting sub-steps and the verification policy, so family quirks (WH
// refclk checks, BH m3 mode and BMFW self-upgrade waits, Galaxy board
// ordering) stay isolated and independently testable.
package reset

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tenstorrent/tt-reset/pkg/chip"
)

// State names the phases of a reset run, in order.
type State string

const (
	StateIdle           State = "idle"
	StateDriverChecked  State = "driver-checked"
	StateResetting      State = "resetting"
	StateAwaitingReinit State = "awaiting-reinit"
	StateVerifying      State = "verifying"
	StateDone           State = "done"
)

// Outcome is the terminal verdict for one device.
type Outcome string

const (
	OutcomeSuccess         Outcome = "success"
	OutcomeFailed          Outcome = "failed"
	OutcomeNeedsHostReboot Outcome = "needs-host-reboot"
)

// Result is the terminal record for one device's reset attempt.
type Result struct {
	Device   chip.DeviceID
	Family   chip.Family
	Outcome  Outcome
	Reason   string
	Warnings []string
	ExitCode int
	Trace    []State

	Pre  *chip.TelemetrySnapshot
	Post *chip.TelemetrySnapshot
}

// Failed reports whether the run ended short of success.
func (r Result) Failed() bool { return r.Outcome != OutcomeSuccess }

var (
	// ErrResetTimeout means the device did not come back within the
	// re-detection budget.
	ErrResetTimeout = errors.New("reset: timed out waiting for device to reinitialize")

	// ErrRefclkRegression is the soft failure raised when a post-reset
	// refclk reading is not below the pre-reset one.
	ErrRefclkRegression = errors.New("reset: refclk did not reset")
)

// DriverGate is the slice of host checking the engine needs. Satisfied by
// *hostinfo.Gate.
type DriverGate interface {
	Check(operation, minimum string) error
	IsARM() bool
}

// ArcOpcodes are the mailbox message codes a family's reset sequence sends.
type ArcOpcodes struct {
	ArcState3    uint16
	TriggerReset uint16
}

// Params tunes a reset run. The retry and wait values are deliberately
// configuration, not constants; defaults follow the stock tool behavior.
type Params struct {
	// MinDriverVersion gates the whole operation before any hardware is
	// touched.
	MinDriverVersion string

	// M3 selects the lighter-weight m3 reset path where the family
	// supports it.
	M3 bool

	// Silent suppresses narration. It never changes transitions or
	// pass/fail decisions.
	Silent bool

	// RedetectAttempts bounds the post-reset re-detection loop.
	RedetectAttempts int

	// RedetectBackoff is the fixed pause between re-detection attempts.
	RedetectBackoff time.Duration

	// PostResetWait is how long to let the bus settle before re-detection.
	PostResetWait time.Duration

	// BMFWUpgradeWait replaces PostResetWait when a Blackhole board
	// management firmware self-upgrade may be in flight.
	BMFWUpgradeWait time.Duration

	// ArcStatePropTime is the settle time after requesting the A3 safe
	// state.
	ArcStatePropTime time.Duration

	// BootTimeout bounds a Galaxy motherboard boot-progress wait.
	BootTimeout time.Duration
}

// DefaultParams returns the documented defaults. The re-detection ceiling
// and backoff match the stock tool's observed settling behavior.
func DefaultParams() Params {
	return Params{
		MinDriverVersion: "1.26.0",
		RedetectAttempts: 3,
		RedetectBackoff:  2 * time.Second,
		PostResetWait:    2 * time.Second,
		BMFWUpgradeWait:  60 * time.Second,
		ArcStatePropTime: 30 * time.Millisecond,
		BootTimeout:      600 * time.Second,
	}
}

// Target names one device to reset.
type Target struct {
	ID     chip.DeviceID
	Family chip.Family

	// Handle, when present, is the caller's pre-reset handle. The engine
	// invalidates it the moment resetting starts.
	Handle *chip.Handle
}

// Engine executes reset runs. Operations against distinct devices may run
// concurrently; runs touching the same device are serialized internally.
type Engine struct {
	acc     chip.Accessor
	gate    DriverGate
	opcodes map[chip.Family]ArcOpcodes
	params  Params

	// Log receives narration lines when not silent. Optional.
	Log func(line string)

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	// sleep is replaceable in tests so retry loops run instantly.
	sleep func(time.Duration)
}

// New builds an engine over the given hardware accessor.
func New(acc chip.Accessor, gate DriverGate, opcodes map[chip.Family]ArcOpcodes, params Params) *Engine {
	if params.RedetectAttempts <= 0 {
		params.RedetectAttempts = DefaultParams().RedetectAttempts
	}
	if params.MinDriverVersion == "" {
		params.MinDriverVersion = DefaultParams().MinDriverVersion
	}
	return &Engine{
		acc:     acc,
		gate:    gate,
		opcodes: opcodes,
		params:  params,
		locks:   map[string]*sync.Mutex{},
		sleep:   time.Sleep,
	}
}

func (e *Engine) say(format string, args ...any) {
	if e.params.Silent || e.Log == nil {
		return
	}
	e.Log(fmt.Sprintf(format, args...))
}

func (e *Engine) deviceLock(key string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[key]
	if !ok {
		l = &sync.Mutex{}
		e.locks[key] = l
	}
	return l
}

// ResetAll runs the full reset flow for each target in order and returns
// one result per target.
func (e *Engine) ResetAll(targets []Target) []Result {
	results := make([]Result, 0, len(targets))
	for _, t := range targets {
		results = append(results, e.ResetDevice(t))
	}
	return results
}

// ResetDevice runs the full state machine for one device. It never panics
// on hardware errors; every path ends in a Done result.
func (e *Engine) ResetDevice(t Target) Result {
	lock := e.deviceLock(t.ID.Key())
	lock.Lock()
	defer lock.Unlock()

	run := &run{
		engine: e,
		target: t,
		result: Result{Device: t.ID, Family: t.Family, Outcome: OutcomeFailed},
	}
	run.enter(StateIdle)
	return run.execute()
}

// run is the state machine for a single device.
type run struct {
	engine *Engine
	target Target
	result Result

	pre       *chip.TelemetrySnapshot
	postState chip.State
	post      *chip.TelemetrySnapshot
}

func (r *run) enter(s State) {
	r.result.Trace = append(r.result.Trace, s)
}

func (r *run) fail(reason string) Result {
	r.enter(StateDone)
	r.result.Outcome = OutcomeFailed
	r.result.Reason = reason
	r.result.ExitCode = exitCodeFor(r.target.Family, r.result.Outcome)
	return r.result
}

func (r *run) execute() Result {
	e := r.engine
	p := e.params

	strat, err := strategyFor(r.target.Family)
	if err != nil {
		return r.fail(err.Error())
	}

	// Driver gate runs before anything touches the hardware.
	if err := e.gate.Check("reset", p.MinDriverVersion); err != nil {
		return r.fail(err.Error())
	}
	r.enter(StateDriverChecked)

	e.say("Starting %s reset on %s", r.target.Family, r.target.ID)
	r.enter(StateResetting)

	// The old handle is dead the moment a reset is in flight.
	if r.target.Handle != nil {
		r.target.Handle.Invalidate()
	}

	if err := strat.preReset(r); err != nil {
		return r.fail(err.Error())
	}
	if err := strat.resetSteps(r); err != nil {
		return r.fail(err.Error())
	}

	r.enter(StateAwaitingReinit)
	wait := strat.reinitWait(p)
	e.say("Waiting %s for %s to come back after reset", wait, r.target.ID)
	e.sleep(wait)

	r.redetect()

	r.enter(StateVerifying)
	if r.postState.Kind == chip.StateHealthy {
		if snap, err := e.acc.ReadTelemetry(r.target.ID); err == nil {
			r.post = &snap
		} else {
			r.result.Warnings = append(r.result.Warnings,
				fmt.Sprintf("%v: %v", chip.ErrTelemetryUnavailable, err))
		}
	}

	verdict := Verify(VerifyInput{
		Device:        r.target.ID,
		Family:        r.target.Family,
		Pre:           r.pre,
		PostState:     r.postState,
		Post:          r.post,
		HostARM:       e.gate.IsARM(),
		RefclkChecked: strat.checksRefclk(),
	})
	verdict.Trace = append(r.result.Trace, StateDone)
	verdict.Warnings = append(r.result.Warnings, verdict.Warnings...)

	if verdict.Outcome == OutcomeSuccess {
		e.say("Reset successfully completed for %s", r.target.ID)
	} else {
		e.say("Reset did not complete for %s: %s", r.target.ID, verdict.Reason)
	}
	return verdict
}

// redetect retries detection until the chip answers or the attempt budget
// is spent. The loop has a fixed ceiling and fixed backoff; it never spins
// indefinitely.
func (r *run) redetect() {
	e := r.engine
	attempts := e.params.RedetectAttempts

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			e.sleep(e.params.RedetectBackoff)
		}
		_, err := e.acc.Init(r.target.ID)
		if err == nil {
			r.postState = chip.Healthy()
			return
		}
		lastErr = err
		e.say("Re-detection attempt %d/%d for %s failed: %v", i+1, attempts, r.target.ID, err)
	}

	if errors.Is(lastErr, chip.ErrChipUnrecoverable) {
		r.postState = chip.Unrecoverable(lastErr.Error())
		return
	}
	r.postState = chip.Degraded(fmt.Sprintf("%v after %d attempts: %v", ErrResetTimeout, attempts, lastErr))
}

func exitCodeFor(family chip.Family, outcome Outcome) int {
	if outcome == OutcomeSuccess {
		return 0
	}
	// A failed Blackhole reset is exit-code-worthy; other families surface
	// failures as warnings through the caller's UI layer.
	if family == chip.FamilyBlackhole {
		return 1
	}
	return 0
}
