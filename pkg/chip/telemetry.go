package chip

import "fmt"

// HexToSemver converts a firmware version word 0x0A0F01 to "10.15.1".
func HexToSemver(v uint32) string {
	if v == 0 || v == 0xFFFFFFFF {
		return "N/A"
	}
	return fmt.Sprintf("%d.%d.%d", v>>16&0xFF, v>>8&0xFF, v&0xFF)
}

// HexToSemverEth converts an Ethernet firmware version word 0x061000 to
// "6.1.0". The minor field is only a nibble wide on the ETH controller.
func HexToSemverEth(v uint32) string {
	if v == 0 || v == 0xFFFFFF {
		return "N/A"
	}
	return fmt.Sprintf("%d.%d.%d", v>>16&0xFF, v>>12&0xF, v&0xFFF)
}

// HexToSemverM3 converts an M3 board firmware version word 0x0A0F0102 to
// "10.15.1.2".
func HexToSemverM3(v uint32) string {
	if v == 0 || v == 0xFFFFFFFF {
		return "N/A"
	}
	return fmt.Sprintf("%d.%d.%d.%d", v>>24&0xFF, v>>16&0xFF, v>>8&0xFF, v&0xFF)
}
