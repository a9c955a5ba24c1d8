package pcie

import (
	"testing"

	"github.com/tenstorrent/tt-reset/pkg/chip"
)

func TestFormatBDF(t *testing.T) {
	cases := []struct {
		domain, busDevFn uint16
		want             string
	}{
		{0, 0x01<<8 | 0x00<<3 | 0, "0000:01:00.0"},
		{0, 0xc1<<8 | 0x1f<<3 | 7, "0000:c1:1f.7"},
		{1, 0x03<<8 | 0x02<<3 | 1, "0001:03:02.1"},
	}
	for _, tc := range cases {
		if got := formatBDF(tc.domain, tc.busDevFn); got != tc.want {
			t.Fatalf("formatBDF(%#x, %#x) = %q, want %q", tc.domain, tc.busDevFn, got, tc.want)
		}
	}
}

func TestFamilyForPCIDevice(t *testing.T) {
	cases := []struct {
		id   uint16
		want chip.Family
	}{
		{pciDeviceGrayskull, chip.FamilyGrayskull},
		{pciDeviceWormhole, chip.FamilyWormhole},
		{pciDeviceBlackhole, chip.FamilyBlackhole},
		{0xbeef, chip.FamilyUnknown},
	}
	for _, tc := range cases {
		if got := familyForPCIDevice(tc.id); got != tc.want {
			t.Fatalf("familyForPCIDevice(%#x) = %s, want %s", tc.id, got, tc.want)
		}
	}
}

func TestMemoryEnabled(t *testing.T) {
	cfg := make([]byte, 64)
	if memoryEnabled(cfg) {
		t.Fatalf("zeroed command register must read as disabled")
	}
	cfg[4] = 0x06 // memory space + bus master
	if !memoryEnabled(cfg) {
		t.Fatalf("memory space bit set but not detected")
	}
	if memoryEnabled(cfg[:4]) {
		t.Fatalf("truncated config dump must read as disabled")
	}
}

func TestRegmapsCoverResettableFamilies(t *testing.T) {
	for _, f := range []chip.Family{chip.FamilyGrayskull, chip.FamilyWormhole, chip.FamilyBlackhole} {
		rm, ok := regmaps[f]
		if !ok {
			t.Fatalf("no register map for %s", f)
		}
		if rm.scratchBase == 0 || rm.miscCntl == 0 {
			t.Fatalf("%s register map incomplete: %+v", f, rm)
		}
	}
}
