package chip

import (
	"errors"
	"fmt"
	"time"
)

// Family identifies a Tenstorrent chip generation.
type Family string

const (
	FamilyGrayskull Family = "grayskull"
	FamilyWormhole  Family = "wormhole"
	FamilyBlackhole Family = "blackhole"
	FamilyUnknown   Family = "unknown"
)

// DeviceID is the stable identity of a physical chip slot. The PCI BDF
// survives bus rescans and chip re-ordering; the interface index is the
// current /dev/tenstorrent/N node and may change across a reset.
type DeviceID struct {
	BDF       string
	Interface int
}

func (d DeviceID) String() string {
	if d.BDF != "" {
		return fmt.Sprintf("%s (tenstorrent/%d)", d.BDF, d.Interface)
	}
	return fmt.Sprintf("tenstorrent/%d", d.Interface)
}

// Key returns the identifier used for config and history records. The BDF is
// preferred so entries stay valid when interface indices shuffle.
func (d DeviceID) Key() string {
	if d.BDF != "" {
		return d.BDF
	}
	return fmt.Sprintf("iface:%d", d.Interface)
}

// StateKind classifies how responsive a chip is after an init attempt.
type StateKind uint8

const (
	StateHealthy StateKind = iota
	StateDegraded
	StateUnrecoverable
)

func (k StateKind) String() string {
	switch k {
	case StateHealthy:
		return "healthy"
	case StateDegraded:
		return "degraded"
	case StateUnrecoverable:
		return "unrecoverable"
	default:
		return fmt.Sprintf("statekind(%d)", uint8(k))
	}
}

// State is the detector's verdict for one chip. Reason is empty for healthy
// chips and carries the init failure otherwise.
type State struct {
	Kind   StateKind
	Reason string
}

func Healthy() State                 { return State{Kind: StateHealthy} }
func Degraded(reason string) State   { return State{Kind: StateDegraded, Reason: reason} }
func Unrecoverable(reason string) State {
	return State{Kind: StateUnrecoverable, Reason: reason}
}

func (s State) String() string {
	if s.Reason == "" {
		return s.Kind.String()
	}
	return fmt.Sprintf("%s: %s", s.Kind, s.Reason)
}

// ResetMode selects the reset operation issued to the driver. Values 0-6
// match the TENSTORRENT_IOCTL_RESET_DEVICE flag word; ModeTensix is a
// Grayskull-only core reset that never goes through the reset ioctl.
type ResetMode int

const (
	ModeRestoreState ResetMode = 0
	ModePCIeLink     ResetMode = 1
	ModeConfigWrite  ResetMode = 2
	ModeUserReset    ResetMode = 3
	ModeASIC         ResetMode = 4
	ModeASICDMC      ResetMode = 5
	ModePostReset    ResetMode = 6

	ModeTensix ResetMode = 100
)

func (m ResetMode) String() string {
	switch m {
	case ModeRestoreState:
		return "restore-state"
	case ModePCIeLink:
		return "pcie-link"
	case ModeConfigWrite:
		return "config-write"
	case ModeUserReset:
		return "user-reset"
	case ModeASIC:
		return "asic"
	case ModeASICDMC:
		return "asic-dmc"
	case ModePostReset:
		return "post-reset"
	case ModeTensix:
		return "tensix"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// TelemetrySnapshot is a point-in-time read of the values the verifier
// compares across a reset. Immutable once captured.
type TelemetrySnapshot struct {
	ARCFWVersion uint32
	ETHFWVersion uint32
	Refclk       uint64
	CapturedAt   time.Time
}

// ARCFWString renders the ARC firmware version for display.
func (t TelemetrySnapshot) ARCFWString() string { return HexToSemver(t.ARCFWVersion) }

// ETHFWString renders the Ethernet firmware version for display.
func (t TelemetrySnapshot) ETHFWString() string { return HexToSemverEth(t.ETHFWVersion) }

// Handle is a runtime reference to an initialized chip. A reset invalidates
// the handle; callers must re-detect to obtain a fresh one.
type Handle struct {
	ID      DeviceID
	Family  Family
	BoardID string

	invalid bool
}

// ErrHandleInvalid is returned when a handle is used across a reset boundary.
var ErrHandleInvalid = errors.New("chip: handle invalidated by reset, re-detect the device")

// ErrTelemetryUnavailable signals that the chip did not answer a telemetry
// read. It does not imply the chip is unrecoverable.
var ErrTelemetryUnavailable = errors.New("chip: telemetry unavailable")

// ErrChipDegraded marks an init failure where the chip is visible but not
// fully responsive; it may recover after a reset or retry.
var ErrChipDegraded = errors.New("chip: degraded")

// ErrChipUnrecoverable marks an init failure that cannot be cleared without
// a host reboot. Accessors wrap init errors with this when the device node
// or BAR mapping is gone.
var ErrChipUnrecoverable = errors.New("chip: unrecoverable")

// Invalidate marks the handle unusable. Called by the reset engine once a
// reset has been issued for the underlying device.
func (h *Handle) Invalidate() { h.invalid = true }

// Valid reports whether the handle may still be used.
func (h *Handle) Valid() bool { return h != nil && !h.invalid }

// BoardType decodes the board model from the handle's board serial.
func (h *Handle) BoardType() string { return BoardTypeFromID(h.BoardID) }

// Accessor abstracts the hardware-access layer (driver ioctls, ARC mailbox,
// telemetry registers). The reset engine and detector depend only on this
// interface; pkg/pcie provides the real implementation and SimAccessor a
// scriptable one for tests.
type Accessor interface {
	// Enumerate lists physically present devices in bus order.
	Enumerate() ([]DeviceID, error)

	// Init brings up communication with one device. Failure does not imply
	// the device vanished; callers classify it.
	Init(id DeviceID) (*Handle, error)

	// Reset issues one reset sub-step. Resets are not interruptible.
	Reset(id DeviceID, mode ResetMode) error

	// ArcMsg posts a message to the on-chip management controller.
	ArcMsg(id DeviceID, msg uint16, waitForDone bool, arg0 uint32) error

	// ReadTelemetry captures a snapshot without mutating chip state.
	ReadTelemetry(id DeviceID) (TelemetrySnapshot, error)
}
