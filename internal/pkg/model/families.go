package model

import (
	"fmt"
	"strings"
)

// Family is the device family tag, classified once from the free-form
// device-type string. Downstream logic switches on the tag instead of
// repeating substring scans.
type Family int

const (
	FamilyUnknown Family = iota
	FamilyMotion
	FamilyDoor
	FamilySmoke
	FamilyWater
	FamilyGlassBreak
	FamilySwitch
	FamilySiren
	FamilyKeypad
	FamilyRangeExtender
)

// Known product names per family. Matching is by substring: new
// firmware device-type strings are usually super-strings of a known
// family name (eg. DoorProtectPlusFibra contains DoorProtect).
var familyTypeNames = map[Family][]string{
	FamilyMotion: {
		"MotionProtect",
		"MotionCam",
		"CombiProtect",
	},
	FamilyDoor: {
		"DoorProtect",
	},
	FamilySmoke: {
		"FireProtect",
	},
	FamilyWater: {
		"LeaksProtect",
		"WaterStop",
	},
	FamilyGlassBreak: {
		"GlassProtect",
	},
	FamilySwitch: {
		"Socket",
		"WallSwitch",
		"Relay",
		"LightSwitch",
	},
	FamilySiren: {
		"HomeSiren",
		"StreetSiren",
	},
	FamilyKeypad: {
		"Keypad",
	},
	FamilyRangeExtender: {
		"RangeExtender",
	},
}

// classification order matters where name lists could overlap; keep the
// sensor families ahead of the accessory ones
var familyOrder = []Family{
	FamilyDoor,
	FamilyMotion,
	FamilySmoke,
	FamilyWater,
	FamilyGlassBreak,
	FamilySwitch,
	FamilySiren,
	FamilyKeypad,
	FamilyRangeExtender,
}

// ClassifyDeviceType tags a free-form device-type string with its
// family. A type matching no known family name is FamilyUnknown.
func ClassifyDeviceType(deviceType string) Family {
	for _, family := range familyOrder {
		for _, name := range familyTypeNames[family] {
			if strings.Contains(deviceType, name) {
				return family
			}
		}
	}

	return FamilyUnknown
}

func (f Family) String() string {
	switch f {
	case FamilyMotion:
		return "motion"
	case FamilyDoor:
		return "door"
	case FamilySmoke:
		return "smoke"
	case FamilyWater:
		return "water"
	case FamilyGlassBreak:
		return "glass-break"
	case FamilySwitch:
		return "switch"
	case FamilySiren:
		return "siren"
	case FamilyKeypad:
		return "keypad"
	case FamilyRangeExtender:
		return "range-extender"
	case FamilyUnknown:
		return "unknown"
	default:
		return fmt.Sprintf("unknown (%d)", int(f))
	}
}

// MarshalText makes the family readable in snapshot JSON
func (f Family) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}
