package chip

import "strconv"

// BoardTypeFromID decodes the board model from a board ID serial.
//
//	Board ID: AA-BBBBB-C-D-EE-FF-XXX
//	           ^     ^ ^ ^  ^  ^   ^
//	           |     | | |  |  |   +- XXX
//	           |     | | |  |  +----- FF
//	           |     | | |  +-------- EE
//	           |     | | +----------- D
//	           |     | +------------- C = Revision
//	           |     +--------------- BBBBB = Unique Part Identifier (UPI)
//	           +--------------------- AA
func BoardTypeFromID(boardID string) string {
	serial, err := strconv.ParseUint(boardID, 16, 64)
	if err != nil {
		return "N/A"
	}
	upi := (serial >> 36) & 0xFFFFF
	rev := (serial >> 32) & 0xF

	switch upi {
	case 0x1:
		switch rev {
		case 0x2:
			return "E300_R2"
		case 0x3, 0x4:
			return "E300_R3"
		default:
			return "N/A"
		}
	case 0x3:
		// Formerly E300_105
		return "e150"
	case 0x7:
		return "e75"
	case 0x8:
		return "NEBULA_CB"
	case 0xA:
		// Formerly E300_X2
		return "e300"
	case 0xB:
		return "GALAXY"
	case 0x14:
		// Formerly NEBULA_X2
		return "n300"
	case 0x18:
		// Formerly NEBULA_X1
		return "n150"
	case 0x36:
		return "p100"
	case 0x40:
		return "p150"
	default:
		return "N/A"
	}
}

// FamilyForBoardType maps a board model to its chip family.
func FamilyForBoardType(boardType string) Family {
	switch boardType {
	case "E300_R2", "E300_R3", "e150", "e75", "e300":
		return FamilyGrayskull
	case "NEBULA_CB", "n300", "n150", "GALAXY":
		return FamilyWormhole
	case "p100", "p150":
		return FamilyBlackhole
	default:
		return FamilyUnknown
	}
}
