// Package pcie is the hardware-access layer over the tt-kmd character
// devices: reset ioctls, BAR0 register access for the ARC mailbox and
// telemetry, and the sysfs bookkeeping needed to follow a device across a
// link reset. Everything above this package talks to the chip.Accessor
// interface and can run against the simulator instead.
package pcie

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/tenstorrent/tt-reset/pkg/chip"
)

const (
	pciVendorTenstorrent = 0x1e52

	pciDeviceGrayskull = 0xfaca
	pciDeviceWormhole  = 0x401e
	pciDeviceBlackhole = 0xb140
)

// Accessor implements chip.Accessor against real hardware. Zero value is not
// usable; construct with New.
type Accessor struct {
	// DevDir holds the per-device character nodes, normally
	// /dev/tenstorrent.
	DevDir string

	// SysfsDir is the PCI device tree root, normally
	// /sys/bus/pci/devices.
	SysfsDir string

	// ReappearTimeout bounds the wait for a device to come back on the bus
	// after a link-level reset.
	ReappearTimeout time.Duration
}

var _ chip.Accessor = (*Accessor)(nil)

// New returns an accessor over the standard driver paths.
func New() *Accessor {
	return &Accessor{
		DevDir:          "/dev/tenstorrent",
		SysfsDir:        "/sys/bus/pci/devices",
		ReappearTimeout: 30 * time.Second,
	}
}

func familyForPCIDevice(deviceID uint16) chip.Family {
	switch deviceID {
	case pciDeviceGrayskull:
		return chip.FamilyGrayskull
	case pciDeviceWormhole:
		return chip.FamilyWormhole
	case pciDeviceBlackhole:
		return chip.FamilyBlackhole
	default:
		return chip.FamilyUnknown
	}
}

// Enumerate lists present devices in BDF order. Nodes whose driver query
// fails are skipped rather than failing the whole scan.
func (a *Accessor) Enumerate() ([]chip.DeviceID, error) {
	entries, err := os.ReadDir(a.DevDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("pcie: %s missing, is the tenstorrent driver loaded: %w", a.DevDir, err)
		}
		return nil, fmt.Errorf("pcie: scan %s: %w", a.DevDir, err)
	}

	var ids []chip.DeviceID
	for _, e := range entries {
		iface, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		info, err := a.queryNode(iface)
		if err != nil {
			continue
		}
		ids = append(ids, chip.DeviceID{
			BDF:       formatBDF(info.pciDomain, info.busDevFn),
			Interface: iface,
		})
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].BDF < ids[j].BDF })
	return ids, nil
}

func (a *Accessor) nodePath(iface int) string {
	return filepath.Join(a.DevDir, strconv.Itoa(iface))
}

func (a *Accessor) queryNode(iface int) (getDeviceInfoOut, error) {
	f, err := os.OpenFile(a.nodePath(iface), os.O_RDWR, 0)
	if err != nil {
		return getDeviceInfoOut{}, err
	}
	defer f.Close()
	return deviceInfo(int(f.Fd()))
}

// locate resolves a DeviceID to its current node, BDF and family. The
// interface index is tried first; if its BDF no longer matches (indices
// shuffle across resets) the node list is scanned for the BDF.
func (a *Accessor) locate(id chip.DeviceID) (iface int, bdf string, family chip.Family, err error) {
	if info, err := a.queryNode(id.Interface); err == nil {
		bdf := formatBDF(info.pciDomain, info.busDevFn)
		if id.BDF == "" || id.BDF == bdf {
			return id.Interface, bdf, familyForPCIDevice(info.deviceID), nil
		}
	}
	if id.BDF == "" {
		return 0, "", chip.FamilyUnknown,
			fmt.Errorf("%w: device tenstorrent/%d not present", chip.ErrChipUnrecoverable, id.Interface)
	}

	all, err2 := a.Enumerate()
	if err2 != nil {
		return 0, "", chip.FamilyUnknown, err2
	}
	for _, cand := range all {
		if cand.BDF == id.BDF {
			info, err := a.queryNode(cand.Interface)
			if err != nil {
				continue
			}
			return cand.Interface, cand.BDF, familyForPCIDevice(info.deviceID), nil
		}
	}
	return 0, "", chip.FamilyUnknown,
		fmt.Errorf("%w: device %s not on the bus", chip.ErrChipUnrecoverable, id.BDF)
}

// Init opens the device and proves the management firmware answers. A
// missing node or BAR is unrecoverable; a mailbox that will not acknowledge
// is degraded and may clear on retry.
func (a *Accessor) Init(id chip.DeviceID) (*chip.Handle, error) {
	_, bdf, family, err := a.locate(id)
	if err != nil {
		return nil, err
	}
	rm, ok := regmaps[family]
	if !ok {
		return nil, fmt.Errorf("pcie: no register map for family %s (%s)", family, bdf)
	}

	b, err := mapBAR0(bdf, a.SysfsDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", chip.ErrChipUnrecoverable, err)
	}
	defer b.close()

	if _, err := b.arcMsg(rm, msgPing, true, 0); err != nil {
		return nil, fmt.Errorf("%w: %v", chip.ErrChipDegraded, err)
	}

	var boardID string
	if _, bid, err := b.readTelemetry(rm); err == nil {
		boardID = bid
	}
	return &chip.Handle{ID: chip.DeviceID{BDF: bdf, Interface: id.Interface}, Family: family, BoardID: boardID}, nil
}

// Reset issues one reset sub-step. Link-level steps block until the device
// is visible again; resets are not interruptible once issued.
func (a *Accessor) Reset(id chip.DeviceID, mode chip.ResetMode) error {
	iface, bdf, family, err := a.locate(id)
	if err != nil {
		return err
	}

	if mode == chip.ModeTensix {
		return a.tensixReset(bdf, family)
	}

	f, err := os.OpenFile(a.nodePath(iface), os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("pcie: open %s for reset: %w", bdf, err)
	}
	err = resetIoctl(int(f.Fd()), uint32(mode))
	f.Close()
	if err != nil {
		return err
	}

	switch mode {
	case chip.ModePCIeLink:
		// The link drops; nothing else can run until the device is back.
		return a.waitForDevice(bdf)
	case chip.ModeConfigWrite:
		return a.waitForMemoryAccess(bdf)
	}
	return nil
}

// Grayskull tensix reset holds every RISC-V core in soft reset through the
// NOC broadcast alias. The cores stay held until the next workload
// deasserts them.
const (
	gsTensixSoftReset = 0x01b121b0
	gsSoftResetAll    = 0x47800
)

func (a *Accessor) tensixReset(bdf string, family chip.Family) error {
	if family != chip.FamilyGrayskull {
		return fmt.Errorf("pcie: tensix reset is grayskull-only, device %s is %s", bdf, family)
	}
	b, err := mapBAR0(bdf, a.SysfsDir)
	if err != nil {
		return err
	}
	defer b.close()
	return b.write32(gsTensixSoftReset, gsSoftResetAll)
}

// ArcMsg posts one management firmware message.
func (a *Accessor) ArcMsg(id chip.DeviceID, msg uint16, waitForDone bool, arg0 uint32) error {
	_, bdf, family, err := a.locate(id)
	if err != nil {
		return err
	}
	rm, ok := regmaps[family]
	if !ok {
		return fmt.Errorf("pcie: no register map for family %s (%s)", family, bdf)
	}
	b, err := mapBAR0(bdf, a.SysfsDir)
	if err != nil {
		return err
	}
	defer b.close()
	_, err = b.arcMsg(rm, msg, waitForDone, arg0)
	return err
}

// ReadTelemetry captures one snapshot. Failure is reported as telemetry
// unavailability, never as a chip-state verdict.
func (a *Accessor) ReadTelemetry(id chip.DeviceID) (chip.TelemetrySnapshot, error) {
	_, bdf, family, err := a.locate(id)
	if err != nil {
		return chip.TelemetrySnapshot{}, fmt.Errorf("%w: %v", chip.ErrTelemetryUnavailable, err)
	}
	rm, ok := regmaps[family]
	if !ok {
		return chip.TelemetrySnapshot{}, fmt.Errorf("%w: no register map for family %s", chip.ErrTelemetryUnavailable, family)
	}
	b, err := mapBAR0(bdf, a.SysfsDir)
	if err != nil {
		return chip.TelemetrySnapshot{}, fmt.Errorf("%w: %v", chip.ErrTelemetryUnavailable, err)
	}
	defer b.close()

	snap, _, err := b.readTelemetry(rm)
	if err != nil {
		return chip.TelemetrySnapshot{}, fmt.Errorf("%w: %v", chip.ErrTelemetryUnavailable, err)
	}
	return snap, nil
}

// waitForDevice polls sysfs until the device address is back on the bus.
func (a *Accessor) waitForDevice(bdf string) error {
	deadline := time.Now().Add(a.ReappearTimeout)
	path := filepath.Join(a.SysfsDir, bdf)
	for {
		if _, err := os.Stat(path); err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: device %s did not reappear within %s", chip.ErrChipUnrecoverable, bdf, a.ReappearTimeout)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

// waitForMemoryAccess polls PCI config space until the command register has
// memory space enabled again, which is when a Blackhole has finished its
// internal reset.
func (a *Accessor) waitForMemoryAccess(bdf string) error {
	deadline := time.Now().Add(a.ReappearTimeout)
	path := filepath.Join(a.SysfsDir, bdf, "config")
	for {
		cfg, err := os.ReadFile(path)
		if err == nil && memoryEnabled(cfg) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: device %s config space did not recover within %s", chip.ErrChipUnrecoverable, bdf, a.ReappearTimeout)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

// memoryEnabled reports whether the command register in a raw config space
// dump has the memory space enable bit set.
func memoryEnabled(cfg []byte) bool {
	const (
		commandOffset  = 0x04
		memorySpaceBit = 0x2
	)
	if len(cfg) < commandOffset+2 {
		return false
	}
	command := binary.LittleEndian.Uint16(cfg[commandOffset:])
	return command&memorySpaceBit != 0
}
