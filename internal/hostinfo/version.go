package hostinfo

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// MinimumDriverVersionReset is the oldest tt-kmd release whose reset ioctl
// behaves correctly for LDS resets.
const MinimumDriverVersionReset = "1.26.0"

// MinimumDriverVersionUnifiedReset is the first tt-kmd release carrying the
// unified WH/BH reset sequence.
const MinimumDriverVersionUnifiedReset = "2.4.0"

var (
	// ErrNoDriver means /sys/module/tenstorrent/version is absent.
	ErrNoDriver = errors.New("hostinfo: no Tenstorrent driver detected, install tt-kmd: https://github.com/tenstorrent/tt-kmd")

	// ErrDriverVersionUnparsable means the reported version string could not
	// be reduced to numeric components.
	ErrDriverVersionUnparsable = errors.New("hostinfo: driver version unparsable")

	// ErrDriverTooOld means the installed driver predates the minimum
	// required for the requested operation.
	ErrDriverTooOld = errors.New("hostinfo: driver too old")
)

// Version is a parsed driver version. Missing minor/patch components
// default to zero.
type Version struct {
	Major, Minor, Patch int
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// AtLeast reports whether v >= min, comparing lexicographically on
// (major, minor, patch).
func (v Version) AtLeast(min Version) bool {
	if v.Major != min.Major {
		return v.Major > min.Major
	}
	if v.Minor != min.Minor {
		return v.Minor > min.Minor
	}
	return v.Patch >= min.Patch
}

// ParseVersion parses a driver version string. Build metadata ("+build42")
// and extraversion suffixes ("-bh", "-rc1") are stripped before the numeric
// components are read, so "1.28-bh" parses as 1.28.0 rather than failing.
func ParseVersion(s string) (Version, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Version{}, fmt.Errorf("%w: empty string", ErrDriverVersionUnparsable)
	}

	// Strip build metadata first, then the pre-release/extraversion suffix.
	core, _, _ := strings.Cut(s, "+")
	core, _, _ = strings.Cut(core, "-")

	parts := strings.Split(core, ".")
	if len(parts) == 0 || parts[0] == "" {
		return Version{}, fmt.Errorf("%w: %q", ErrDriverVersionUnparsable, s)
	}

	var v Version
	var err error
	if v.Major, err = strconv.Atoi(parts[0]); err != nil {
		return Version{}, fmt.Errorf("%w: %q", ErrDriverVersionUnparsable, s)
	}
	if len(parts) > 1 {
		if v.Minor, err = strconv.Atoi(parts[1]); err != nil {
			return Version{}, fmt.Errorf("%w: %q", ErrDriverVersionUnparsable, s)
		}
	}
	if len(parts) > 2 {
		if v.Patch, err = strconv.Atoi(parts[2]); err != nil {
			return Version{}, fmt.Errorf("%w: %q", ErrDriverVersionUnparsable, s)
		}
	}
	return v, nil
}

// IsVersionAtLeast parses both strings and compares them. Returns
// ErrDriverVersionUnparsable if either side does not parse.
func IsVersionAtLeast(current, minimum string) (bool, error) {
	cur, err := ParseVersion(current)
	if err != nil {
		return false, err
	}
	min, err := ParseVersion(minimum)
	if err != nil {
		return false, err
	}
	return cur.AtLeast(min), nil
}
