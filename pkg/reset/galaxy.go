package reset

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tenstorrent/tt-reset/pkg/mobo"
)

// MoboControl is the slice of the motherboard server client the Galaxy
// sequence uses. Satisfied by *mobo.Client; tests substitute a recorder.
type MoboControl interface {
	BootCredo(mobo string, credoPorts, disabledPorts []string) (warning string, err error)
	WaitForBoot(mobo string, timeout time.Duration, progress func(mobo.BootProgress)) error
	ShutdownModules(mobo string) error
	BootModules(mobo string) error
}

// GalaxyBoard is one motherboard plus the neighbor-board hosts wired to it.
type GalaxyBoard struct {
	Mobo          string
	NBHosts       []Target
	CredoPorts    []string
	DisabledPorts []string
}

// ResetGalaxy warm-resets a multi-board Galaxy topology. Credo bring-up and
// boot waits run concurrently across motherboards (they are independent),
// then each board goes through the fixed sequence NB reset → module
// powercycle → NB reset, strictly one board at a time so no board's modules
// powercycle while a link partner's NB reset is still in flight.
func (e *Engine) ResetGalaxy(ctl MoboControl, boards []GalaxyBoard) ([]Result, error) {
	if len(boards) == 0 {
		return nil, nil
	}

	if err := e.gate.Check("galaxy reset", e.params.MinDriverVersion); err != nil {
		return nil, err
	}

	if err := e.forEachMobo(boards, func(b GalaxyBoard) error {
		warning, err := ctl.BootCredo(b.Mobo, b.CredoPorts, b.DisabledPorts)
		if warning != "" {
			e.say("%s", warning)
		}
		if err != nil {
			return err
		}
		e.say("%s - credo boot requested", b.Mobo)
		return nil
	}); err != nil {
		return nil, err
	}

	if err := e.forEachMobo(boards, func(b GalaxyBoard) error {
		return ctl.WaitForBoot(b.Mobo, e.params.BootTimeout, func(p mobo.BootProgress) {
			if p.Step != "" {
				e.say("%s - waiting for server boot... %6.2f%% (%s)", b.Mobo, p.Percent, p.Step)
			} else {
				e.say("%s - waiting for server boot... %6.2f%%", b.Mobo, p.Percent)
			}
		})
	}); err != nil {
		return nil, err
	}

	var results []Result
	for _, b := range boards {
		e.say("%s - neighbor-board reset before powercycle", b.Mobo)
		first := e.ResetAll(b.NBHosts)
		if err := hardFailure(first); err != nil {
			return append(results, first...), fmt.Errorf("reset: %s: aborting before powercycle: %w", b.Mobo, err)
		}

		e.say("%s - turning off modules", b.Mobo)
		if err := ctl.ShutdownModules(b.Mobo); err != nil {
			return results, fmt.Errorf("reset: %s: shutdown modules: %w", b.Mobo, err)
		}
		e.say("%s - turning on modules", b.Mobo)
		if err := ctl.BootModules(b.Mobo); err != nil {
			return results, fmt.Errorf("reset: %s: boot modules: %w", b.Mobo, err)
		}

		e.say("%s - neighbor-board reset after powercycle", b.Mobo)
		results = append(results, e.ResetAll(b.NBHosts)...)
	}
	return results, nil
}

// forEachMobo runs fn concurrently for every board and joins the failures,
// mirroring the independence of per-motherboard server operations.
func (e *Engine) forEachMobo(boards []GalaxyBoard, fn func(GalaxyBoard) error) error {
	var wg sync.WaitGroup
	errs := make([]error, len(boards))
	for i, b := range boards {
		wg.Add(1)
		go func(i int, b GalaxyBoard) {
			defer wg.Done()
			errs[i] = fn(b)
		}(i, b)
	}
	wg.Wait()
	return errors.Join(errs...)
}

func hardFailure(results []Result) error {
	for _, r := range results {
		if r.Outcome == OutcomeNeedsHostReboot {
			return fmt.Errorf("device %s: %s", r.Device, r.Reason)
		}
	}
	return nil
}
