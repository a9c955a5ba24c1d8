package pcie

import (
	"fmt"
	"os"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/tenstorrent/tt-reset/pkg/chip"
)

// regmap locates the ARC mailbox and the telemetry window inside BAR0 for
// one chip generation.
type regmap struct {
	scratchBase uint32 // reset-unit scratch registers, 4 bytes apart
	miscCntl    uint32 // ARC misc control, bit 16 raises mailbox IRQ0
	csmBase     uint32 // chip state memory aperture in BAR0
	csmWindow   uint32 // CSM address the aperture is mapped at

	// telemetry struct field offsets, relative to the address the
	// get-telemetry-offset message returns
	offBoardIDHi uint32
	offBoardIDLo uint32
	offARCFW     uint32
	offETHFW     uint32
	offRefclkLo  uint32
	offRefclkHi  uint32
}

var regmaps = map[chip.Family]regmap{
	chip.FamilyGrayskull: {
		scratchBase: 0x1ff30060,
		miscCntl:    0x1ff30100,
		csmBase:     0x1fe80000,
		csmWindow:   0x10000000,
		offBoardIDHi: 0x10, offBoardIDLo: 0x14,
		offARCFW: 0x0c, offETHFW: 0x18,
		offRefclkLo: 0x1c, offRefclkHi: 0x20,
	},
	chip.FamilyWormhole: {
		scratchBase: 0x1ff30060,
		miscCntl:    0x1ff30100,
		csmBase:     0x1fe80000,
		csmWindow:   0x10000000,
		offBoardIDHi: 0x10, offBoardIDLo: 0x14,
		offARCFW: 0x0c, offETHFW: 0x18,
		offRefclkLo: 0x1c, offRefclkHi: 0x20,
	},
	chip.FamilyBlackhole: {
		scratchBase: 0x80030400,
		miscCntl:    0x80030100,
		csmBase:     0x80400000,
		csmWindow:   0x10000000,
		offBoardIDHi: 0x10, offBoardIDLo: 0x14,
		offARCFW: 0x0c, offETHFW: 0x18,
		offRefclkLo: 0x1c, offRefclkHi: 0x20,
	},
}

const (
	// A message is posted with the 0xaa prefix; firmware rewrites the
	// prefix to 0x55 when it has consumed and completed the message.
	mailboxPosted = uint32(0xaa) << 24
	mailboxDone   = uint32(0x55) << 24

	arcMiscIRQ0 = uint32(1) << 16

	scratchArg    = 3 // arg0 in, result out
	scratchMsg    = 5
	mailboxPoll   = 10 * time.Millisecond
	mailboxBudget = 1 * time.Second

	msgTelemetryOffset = 0x2c
	msgPing            = 0x90
)

// bar is a memory-mapped PCI BAR. Device memory wants aligned 32-bit
// accesses, so reads and writes go through word pointers rather than
// byte-slice codecs.
type bar struct {
	f *os.File
	m []byte
}

func mapBAR0(bdf string, sysfsDir string) (*bar, error) {
	path := fmt.Sprintf("%s/%s/resource0", sysfsDir, bdf)
	f, err := os.OpenFile(path, os.O_RDWR|unix.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("pcie: open BAR0 for %s: %w", bdf, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("pcie: stat BAR0 for %s: %w", bdf, err)
	}
	m, err := unix.Mmap(int(f.Fd()), 0, int(st.Size()), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("pcie: mmap BAR0 for %s: %w", bdf, err)
	}
	return &bar{f: f, m: m}, nil
}

func (b *bar) close() {
	if b == nil {
		return
	}
	unix.Munmap(b.m)
	b.f.Close()
}

func (b *bar) read32(off uint32) (uint32, error) {
	if int(off)+4 > len(b.m) {
		return 0, fmt.Errorf("pcie: register 0x%08x outside BAR0 (%d bytes)", off, len(b.m))
	}
	return *(*uint32)(unsafe.Pointer(&b.m[off])), nil
}

func (b *bar) write32(off, val uint32) error {
	if int(off)+4 > len(b.m) {
		return fmt.Errorf("pcie: register 0x%08x outside BAR0 (%d bytes)", off, len(b.m))
	}
	*(*uint32)(unsafe.Pointer(&b.m[off])) = val
	return nil
}

// arcMsg posts one message to the ARC mailbox and optionally waits for
// completion. The result word, when the caller waits, is left in the arg
// scratch register and returned.
func (b *bar) arcMsg(rm regmap, msg uint16, waitForDone bool, arg0 uint32) (uint32, error) {
	scratch := func(n uint32) uint32 { return rm.scratchBase + 4*n }

	if err := b.write32(scratch(scratchArg), arg0); err != nil {
		return 0, err
	}
	if err := b.write32(scratch(scratchMsg), mailboxPosted|uint32(msg)); err != nil {
		return 0, err
	}
	misc, err := b.read32(rm.miscCntl)
	if err != nil {
		return 0, err
	}
	if err := b.write32(rm.miscCntl, misc|arcMiscIRQ0); err != nil {
		return 0, err
	}
	if !waitForDone {
		return 0, nil
	}

	deadline := time.Now().Add(mailboxBudget)
	for {
		v, err := b.read32(scratch(scratchMsg))
		if err != nil {
			return 0, err
		}
		if v == mailboxDone|uint32(msg) {
			return b.read32(scratch(scratchArg))
		}
		if time.Now().After(deadline) {
			return 0, fmt.Errorf("pcie: arc message 0x%02x not acknowledged within %s (mailbox 0x%08x)", msg, mailboxBudget, v)
		}
		time.Sleep(mailboxPoll)
	}
}

// telemetryBase resolves the CSM address of the firmware telemetry struct
// into a BAR0 offset.
func (b *bar) telemetryBase(rm regmap) (uint32, error) {
	addr, err := b.arcMsg(rm, msgTelemetryOffset, true, 0)
	if err != nil {
		return 0, err
	}
	if addr < rm.csmWindow {
		return 0, fmt.Errorf("pcie: telemetry address 0x%08x below CSM window", addr)
	}
	return rm.csmBase + (addr - rm.csmWindow), nil
}

func (b *bar) readTelemetry(rm regmap) (chip.TelemetrySnapshot, string, error) {
	base, err := b.telemetryBase(rm)
	if err != nil {
		return chip.TelemetrySnapshot{}, "", err
	}

	var snap chip.TelemetrySnapshot
	if snap.ARCFWVersion, err = b.read32(base + rm.offARCFW); err != nil {
		return chip.TelemetrySnapshot{}, "", err
	}
	if snap.ETHFWVersion, err = b.read32(base + rm.offETHFW); err != nil {
		return chip.TelemetrySnapshot{}, "", err
	}
	lo, err := b.read32(base + rm.offRefclkLo)
	if err != nil {
		return chip.TelemetrySnapshot{}, "", err
	}
	hi, err := b.read32(base + rm.offRefclkHi)
	if err != nil {
		return chip.TelemetrySnapshot{}, "", err
	}
	snap.Refclk = uint64(hi)<<32 | uint64(lo)
	snap.CapturedAt = time.Now()

	idHi, err := b.read32(base + rm.offBoardIDHi)
	if err != nil {
		return chip.TelemetrySnapshot{}, "", err
	}
	idLo, err := b.read32(base + rm.offBoardIDLo)
	if err != nil {
		return chip.TelemetrySnapshot{}, "", err
	}
	boardID := fmt.Sprintf("%016x", uint64(idHi)<<32|uint64(idLo))
	return snap, boardID, nil
}
