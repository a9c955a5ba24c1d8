package reset

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tenstorrent/tt-reset/pkg/chip"
	"github.com/tenstorrent/tt-reset/pkg/mobo"
)

// opLog is shared between the fake motherboard server and the chip
// simulator so cross-layer ordering can be asserted.
type opLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *opLog) add(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, fmt.Sprintf(format, args...))
}

func (l *opLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries...)
}

type fakeMobo struct {
	log *opLog

	credoWarning string
	credoErr     error
	shutdownErr  error
}

func (f *fakeMobo) BootCredo(m string, credoPorts, disabledPorts []string) (string, error) {
	f.log.add("%s credo", m)
	return f.credoWarning, f.credoErr
}

func (f *fakeMobo) WaitForBoot(m string, timeout time.Duration, progress func(mobo.BootProgress)) error {
	if progress != nil {
		progress(mobo.BootProgress{Percent: 100})
	}
	f.log.add("%s booted", m)
	return nil
}

func (f *fakeMobo) ShutdownModules(m string) error {
	f.log.add("%s shutdown", m)
	return f.shutdownErr
}

func (f *fakeMobo) BootModules(m string) error {
	f.log.add("%s boot", m)
	return nil
}

func galaxyFixture(t *testing.T, log *opLog, boards int) (*Engine, []GalaxyBoard) {
	t.Helper()
	var devs []*chip.SimDevice
	var gbs []GalaxyBoard
	for i := 0; i < boards; i++ {
		d := whDevice(i, 5_000_000, 40_000)
		devs = append(devs, d)
		gbs = append(gbs, GalaxyBoard{
			Mobo:    fmt.Sprintf("mobo%d", i+1),
			NBHosts: []Target{{ID: d.ID, Family: chip.FamilyWormhole}},
		})
	}
	sim := chip.NewSimAccessor(devs...)
	sim.OnReset = func(id chip.DeviceID, mode chip.ResetMode) error {
		log.add("%s reset %d", id.Key(), mode)
		return nil
	}
	return newTestEngine(sim, fakeGate{}, DefaultParams()), gbs
}

func TestGalaxyPerBoardOrdering(t *testing.T) {
	log := &opLog{}
	engine, boards := galaxyFixture(t, log, 2)
	ctl := &fakeMobo{log: log}

	results, err := engine.ResetGalaxy(ctl, boards)
	if err != nil {
		t.Fatalf("ResetGalaxy returned error: %v", err)
	}
	// Two NB passes per board, one result each.
	if len(results) != 4 {
		t.Fatalf("results = %d, want 4", len(results))
	}
	for _, r := range results {
		if r.Outcome != OutcomeSuccess {
			t.Fatalf("device %s: %s (%s)", r.Device, r.Outcome, r.Reason)
		}
	}

	entries := log.all()
	// Credo boot and the boot wait are concurrent across motherboards, so
	// only assert they all happened before any powercycle work.
	firstShutdown := index(entries, "mobo1 shutdown")
	for _, m := range []string{"mobo1", "mobo2"} {
		if i := index(entries, m+" credo"); i < 0 || i > firstShutdown {
			t.Fatalf("%s credo boot did not precede powercycling: %v", m, entries)
		}
		if i := index(entries, m+" booted"); i < 0 || i > firstShutdown {
			t.Fatalf("%s boot wait did not precede powercycling: %v", m, entries)
		}
	}

	// Each board runs NB reset, powercycle, NB reset with no interleaving
	// from the other board.
	assertBoardSequence(t, entries, "mobo1", "0000:01:00.0")
	assertBoardSequence(t, entries, "mobo2", "0000:02:00.0")

	// Board 2's work starts only after board 1 finished entirely.
	if index(entries, "mobo2 shutdown") < index(entries, "mobo1 boot") {
		t.Fatalf("board 2 powercycled before board 1 finished: %v", entries)
	}
}

// assertBoardSequence checks reset → shutdown → boot → reset for one board.
func assertBoardSequence(t *testing.T, entries []string, mobo, bdf string) {
	t.Helper()
	shutdown := index(entries, mobo+" shutdown")
	boot := index(entries, mobo+" boot")
	if shutdown < 0 || boot < 0 || boot < shutdown {
		t.Fatalf("%s powercycle out of order: %v", mobo, entries)
	}
	var before, after bool
	for i, e := range entries {
		if !strings.HasPrefix(e, bdf+" reset") {
			continue
		}
		switch {
		case i < shutdown:
			before = true
		case i > boot:
			after = true
		default:
			t.Fatalf("%s: NB reset landed inside the powercycle window: %v", mobo, entries)
		}
	}
	if !before || !after {
		t.Fatalf("%s: want NB resets on both sides of the powercycle, got %v", mobo, entries)
	}
}

func index(entries []string, want string) int {
	for i, e := range entries {
		if e == want {
			return i
		}
	}
	return -1
}

func TestGalaxyAbortsAfterUnrecoverableFirstPass(t *testing.T) {
	log := &opLog{}
	engine, boards := galaxyFixture(t, log, 1)

	// First-pass reset leaves the chip unrecoverable.
	sim := engine.acc.(*chip.SimAccessor)
	sim.Device(boards[0].NBHosts[0].ID).InitErr =
		fmt.Errorf("%w: gone from the bus", chip.ErrChipUnrecoverable)

	ctl := &fakeMobo{log: log}
	results, err := engine.ResetGalaxy(ctl, boards)
	if err == nil {
		t.Fatalf("expected an abort error")
	}
	if !strings.Contains(err.Error(), "before powercycle") {
		t.Fatalf("err = %v, want a pre-powercycle abort", err)
	}
	if len(results) != 1 || results[0].Outcome != OutcomeNeedsHostReboot {
		t.Fatalf("results = %+v, want one needs-host-reboot", results)
	}
	for _, e := range log.all() {
		if strings.Contains(e, "shutdown") || e == "mobo1 boot" {
			t.Fatalf("modules must not powercycle after a hard failure: %v", log.all())
		}
	}
}

func TestGalaxyCredoFailureStopsEverything(t *testing.T) {
	log := &opLog{}
	engine, boards := galaxyFixture(t, log, 2)
	ctl := &fakeMobo{log: log, credoErr: fmt.Errorf("credo flash not found")}

	results, err := engine.ResetGalaxy(ctl, boards)
	if err == nil {
		t.Fatalf("expected the credo failure to surface")
	}
	if results != nil {
		t.Fatalf("no resets should run after a credo failure, got %+v", results)
	}
	for _, e := range log.all() {
		if strings.Contains(e, " reset ") {
			t.Fatalf("NB reset ran despite the credo failure: %v", log.all())
		}
	}
}

func TestGalaxyCredoWarningNarrated(t *testing.T) {
	log := &opLog{}
	engine, boards := galaxyFixture(t, log, 1)
	ctl := &fakeMobo{log: log, credoWarning: "mobo1 - server too old to disable sel entries"}

	var lines []string
	engine.Log = func(s string) { lines = append(lines, s) }

	if _, err := engine.ResetGalaxy(ctl, boards); err != nil {
		t.Fatalf("ResetGalaxy returned error: %v", err)
	}
	found := false
	for _, l := range lines {
		if strings.Contains(l, "too old to disable sel") {
			found = true
		}
	}
	if !found {
		t.Fatalf("credo warning not narrated: %v", lines)
	}
}

func TestGalaxyDriverGateBlocksServerCalls(t *testing.T) {
	log := &opLog{}
	engine, boards := galaxyFixture(t, log, 1)
	engine.gate = fakeGate{err: fmt.Errorf("driver too old")}
	ctl := &fakeMobo{log: log}

	if _, err := engine.ResetGalaxy(ctl, boards); err == nil {
		t.Fatalf("expected the gate failure to surface")
	}
	if len(log.all()) != 0 {
		t.Fatalf("no server call may run before the driver gate passes: %v", log.all())
	}
}

func TestGalaxyEmptyTopology(t *testing.T) {
	log := &opLog{}
	engine, _ := galaxyFixture(t, log, 1)
	results, err := engine.ResetGalaxy(&fakeMobo{log: log}, nil)
	if err != nil || results != nil {
		t.Fatalf("empty topology: results=%v err=%v, want nil/nil", results, err)
	}
}
