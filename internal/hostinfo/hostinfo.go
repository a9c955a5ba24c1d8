// Package hostinfo reads host-side facts the reset flow depends on: the
// installed tt-kmd driver version and the host platform. The driver gate
// runs before any hardware mutation; a failure here aborts the whole
// operation with no chip state touched.
package hostinfo

import (
	"fmt"
	"os"
	"runtime"
	"strings"
)

const defaultVersionPath = "/sys/module/tenstorrent/version"

// Gate checks driver compatibility for an operation. The version path is
// injectable so tests can point at a fixture file.
type Gate struct {
	VersionPath string

	// Platform overrides the detected machine architecture when non-empty.
	Platform string
}

// NewGate returns a gate reading the live sysfs version node.
func NewGate() *Gate {
	return &Gate{VersionPath: defaultVersionPath}
}

// DriverVersion returns the raw installed driver version string.
func (g *Gate) DriverVersion() (string, error) {
	path := g.VersionPath
	if path == "" {
		path = defaultVersionPath
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", ErrNoDriver
	}
	version := strings.TrimSpace(string(raw))
	if version == "" {
		return "", ErrNoDriver
	}
	return version, nil
}

// Check verifies the installed driver is at least minimum for the named
// operation. Returns ErrNoDriver, ErrDriverVersionUnparsable or
// ErrDriverTooOld.
func (g *Gate) Check(operation, minimum string) error {
	current, err := g.DriverVersion()
	if err != nil {
		return err
	}
	ok, err := IsVersionAtLeast(current, minimum)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: operation %q requires tt-kmd %s or greater, installed version is %s",
			ErrDriverTooOld, operation, minimum, current)
	}
	return nil
}

// HostPlatform returns the machine architecture, honoring the override.
func (g *Gate) HostPlatform() string {
	if g.Platform != "" {
		return g.Platform
	}
	return runtime.GOARCH
}

// IsARM reports whether the host is an ARM machine. ARM hosts have a known
// class of PCIe rescan issue after device resets and need a reboot to
// recover an unresponsive chip.
func (g *Gate) IsARM() bool {
	p := g.HostPlatform()
	return strings.HasPrefix(p, "arm") || strings.HasPrefix(p, "aarch")
}

// Hostname returns the host name, or "unknown" if it cannot be read.
func Hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return name
}
