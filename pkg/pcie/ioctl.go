package pcie

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// tt-kmd ioctls are _IO(0xFA, n): no payload size encoded in the request,
// the driver reads sizes from the in/out headers.
const ioctlMagic = 0xFA

const (
	ioctlGetDeviceInfo = ioctlMagic<<8 | 0
	ioctlResetDevice   = ioctlMagic<<8 | 6
)

type getDeviceInfoIn struct {
	outputSizeBytes uint32
}

type getDeviceInfoOut struct {
	outputSizeBytes   uint32
	vendorID          uint16
	deviceID          uint16
	subsystemVendorID uint16
	subsystemID       uint16
	busDevFn          uint16
	maxDMABufSizeLog2 uint16
	pciDomain         uint16
	_                 uint16
}

type getDeviceInfo struct {
	in  getDeviceInfoIn
	out getDeviceInfoOut
}

type resetDeviceIn struct {
	outputSizeBytes uint32
	flags           uint32
}

type resetDeviceOut struct {
	outputSizeBytes uint32
	result          uint32
}

type resetDevice struct {
	in  resetDeviceIn
	out resetDeviceOut
}

func ioctl(fd int, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

func deviceInfo(fd int) (getDeviceInfoOut, error) {
	var d getDeviceInfo
	d.in.outputSizeBytes = uint32(unsafe.Sizeof(d.out))
	if err := ioctl(fd, ioctlGetDeviceInfo, unsafe.Pointer(&d)); err != nil {
		return getDeviceInfoOut{}, fmt.Errorf("pcie: get device info: %w", err)
	}
	return d.out, nil
}

func resetIoctl(fd int, flags uint32) error {
	var d resetDevice
	d.in.outputSizeBytes = uint32(unsafe.Sizeof(d.out))
	d.in.flags = flags
	if err := ioctl(fd, ioctlResetDevice, unsafe.Pointer(&d)); err != nil {
		return fmt.Errorf("pcie: reset ioctl (flags=%d): %w", flags, err)
	}
	if d.out.result != 0 {
		return fmt.Errorf("pcie: reset ioctl (flags=%d): driver result %d", flags, d.out.result)
	}
	return nil
}

// formatBDF renders the driver's packed bus/device/function word plus the
// PCI domain as the canonical sysfs address.
func formatBDF(domain, busDevFn uint16) string {
	bus := busDevFn >> 8
	dev := (busDevFn >> 3) & 0x1f
	fn := busDevFn & 0x7
	return fmt.Sprintf("%04x:%02x:%02x.%d", domain, bus, dev, fn)
}
