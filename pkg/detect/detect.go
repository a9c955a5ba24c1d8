// Package detect enumerates Tenstorrent chips and classifies how responsive
// each one is. Detection is fallible per chip: one dead board never hides
// the rest of the fleet, so the result slice always covers every enumerated
// device.
package detect

import (
	"errors"
	"fmt"
	"time"

	"github.com/tenstorrent/tt-reset/pkg/chip"
)

// ProgressFunc receives a human-readable status line after each chip is
// probed. It is optional; a nil callback changes nothing about the results.
type ProgressFunc func(status string)

// Detection is the detector's verdict for one device. Handle is non-nil
// only when State is healthy.
type Detection struct {
	ID     chip.DeviceID
	Handle *chip.Handle
	State  chip.State
}

// Options tunes a detection pass.
type Options struct {
	// Progress, when set, is invoked once per chip.
	Progress ProgressFunc

	// ProbeTimeout bounds each init attempt. Zero means DefaultProbeTimeout.
	ProbeTimeout time.Duration
}

// DefaultProbeTimeout bounds how long one chip may take to answer an init
// probe before it is written off as degraded.
const DefaultProbeTimeout = 30 * time.Second

// All probes every enumerated device and returns one Detection per device,
// in bus order. The only error return is an enumeration failure; per-chip
// init failures are folded into the chip's State.
func All(acc chip.Accessor, opts Options) ([]Detection, error) {
	ids, err := acc.Enumerate()
	if err != nil {
		return nil, fmt.Errorf("detect: enumerate devices: %w", err)
	}

	timeout := opts.ProbeTimeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}

	results := make([]Detection, 0, len(ids))
	for _, id := range ids {
		det := probe(acc, id, timeout)
		results = append(results, det)
		if opts.Progress != nil {
			opts.Progress(fmt.Sprintf("Detected %s: %s", det.ID, det.State))
		}
	}
	return results, nil
}

type initResult struct {
	handle *chip.Handle
	err    error
}

func probe(acc chip.Accessor, id chip.DeviceID, timeout time.Duration) Detection {
	// Hardware init is not cancellable; on timeout the probe goroutine is
	// left to finish on its own and its result is discarded.
	done := make(chan initResult, 1)
	go func() {
		h, err := acc.Init(id)
		done <- initResult{handle: h, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-done:
		if res.err == nil {
			return Detection{ID: id, Handle: res.handle, State: chip.Healthy()}
		}
		return Detection{ID: id, State: classify(res.err)}
	case <-timer.C:
		return Detection{ID: id, State: chip.Degraded(fmt.Sprintf("init did not answer within %s", timeout))}
	}
}

func classify(err error) chip.State {
	if errors.Is(err, chip.ErrChipUnrecoverable) {
		return chip.Unrecoverable(err.Error())
	}
	return chip.Degraded(err.Error())
}
