package chip

import (
	"fmt"
	"sync"
	"time"
)

// Op records one accessor invocation for inspection within tests.
type Op struct {
	Kind   string // "init", "reset", "arc_msg", "telemetry"
	Device DeviceID
	Mode   ResetMode
	Msg    uint16
	Arg0   uint32
}

// SimDevice scripts the behavior of one simulated chip.
type SimDevice struct {
	ID      DeviceID
	Family  Family
	BoardID string

	// InitFailures makes the next N Init calls fail, then succeed. Used to
	// exercise re-detection retry loops.
	InitFailures int

	// InitErr, when set, makes every Init call fail with this error.
	InitErr error

	Telemetry TelemetrySnapshot

	// PostResetRefclk, when non-zero, replaces the telemetry refclk after
	// the first reset on this device.
	PostResetRefclk uint64

	TelemetryErr error

	wasReset bool
}

// SimAccessor is an in-memory Accessor useful for unit tests. It records
// every call and can provide deterministic behavior via the scripted
// devices or the optional hooks.
type SimAccessor struct {
	mu      sync.Mutex
	devices []*SimDevice
	ops     []Op

	// OnReset, when set, is consulted before the default reset behavior.
	OnReset func(id DeviceID, mode ResetMode) error

	// OnArcMsg, when set, is consulted before the default arc message
	// behavior.
	OnArcMsg func(id DeviceID, msg uint16, waitForDone bool, arg0 uint32) error
}

// NewSimAccessor constructs a simulator over the given scripted devices.
func NewSimAccessor(devices ...*SimDevice) *SimAccessor {
	return &SimAccessor{devices: devices}
}

// Ops returns a copy of the recorded call log.
func (s *SimAccessor) Ops() []Op {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Op(nil), s.ops...)
}

// Device returns the scripted device for id, for mutation mid-test.
func (s *SimAccessor) Device(id DeviceID) *SimDevice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.find(id)
}

func (s *SimAccessor) find(id DeviceID) *SimDevice {
	for _, d := range s.devices {
		if d.ID == id {
			return d
		}
	}
	return nil
}

func (s *SimAccessor) record(op Op) {
	s.ops = append(s.ops, op)
}

func (s *SimAccessor) Enumerate() ([]DeviceID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]DeviceID, 0, len(s.devices))
	for _, d := range s.devices {
		ids = append(ids, d.ID)
	}
	return ids, nil
}

func (s *SimAccessor) Init(id DeviceID) (*Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(Op{Kind: "init", Device: id})

	d := s.find(id)
	if d == nil {
		return nil, fmt.Errorf("sim: unknown device %s", id)
	}
	if d.InitErr != nil {
		return nil, d.InitErr
	}
	if d.InitFailures > 0 {
		d.InitFailures--
		return nil, fmt.Errorf("sim: device %s not responding", id)
	}
	return &Handle{ID: d.ID, Family: d.Family, BoardID: d.BoardID}, nil
}

func (s *SimAccessor) Reset(id DeviceID, mode ResetMode) error {
	s.mu.Lock()
	onReset := s.OnReset
	s.record(Op{Kind: "reset", Device: id, Mode: mode})
	d := s.find(id)
	s.mu.Unlock()

	if onReset != nil {
		if err := onReset(id, mode); err != nil {
			return err
		}
	}
	if d == nil {
		return fmt.Errorf("sim: unknown device %s", id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !d.wasReset && d.PostResetRefclk != 0 {
		d.Telemetry.Refclk = d.PostResetRefclk
	}
	d.wasReset = true
	return nil
}

func (s *SimAccessor) ArcMsg(id DeviceID, msg uint16, waitForDone bool, arg0 uint32) error {
	s.mu.Lock()
	onArcMsg := s.OnArcMsg
	s.record(Op{Kind: "arc_msg", Device: id, Msg: msg, Arg0: arg0})
	d := s.find(id)
	s.mu.Unlock()

	if onArcMsg != nil {
		return onArcMsg(id, msg, waitForDone, arg0)
	}
	if d == nil {
		return fmt.Errorf("sim: unknown device %s", id)
	}
	return nil
}

func (s *SimAccessor) ReadTelemetry(id DeviceID) (TelemetrySnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(Op{Kind: "telemetry", Device: id})

	d := s.find(id)
	if d == nil {
		return TelemetrySnapshot{}, fmt.Errorf("sim: unknown device %s", id)
	}
	if d.TelemetryErr != nil {
		return TelemetrySnapshot{}, d.TelemetryErr
	}
	snap := d.Telemetry
	snap.CapturedAt = time.Now()
	return snap, nil
}
