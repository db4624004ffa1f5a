package model

import "testing"

func TestClassifyDeviceType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		deviceType string
		want       Family
	}{
		{"DoorProtect", FamilyDoor},
		{"DoorProtectPlus", FamilyDoor},
		{"DoorProtectPlusFibra", FamilyDoor},
		{"MotionProtect", FamilyMotion},
		{"MotionProtectCurtain", FamilyMotion},
		{"MotionCam", FamilyMotion},
		{"MotionCamOutdoor", FamilyMotion},
		{"CombiProtect", FamilyMotion},
		{"FireProtect", FamilySmoke},
		{"FireProtect2", FamilySmoke},
		{"LeaksProtect", FamilyWater},
		{"WaterStop", FamilyWater},
		{"GlassProtect", FamilyGlassBreak},
		{"Socket", FamilySwitch},
		{"WallSwitch", FamilySwitch},
		{"Relay", FamilySwitch},
		{"LightSwitch", FamilySwitch},
		{"HomeSiren", FamilySiren},
		{"StreetSirenDoubleDeck", FamilySiren},
		{"KeypadPlus", FamilyKeypad},
		{"RangeExtender", FamilyRangeExtender},
		{"Transmitter", FamilyUnknown},
		{"", FamilyUnknown},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.deviceType, func(t *testing.T) {
			t.Parallel()

			if got := ClassifyDeviceType(tc.deviceType); got != tc.want {
				t.Errorf("ClassifyDeviceType(%q) = %v, want %v", tc.deviceType, got, tc.want)
			}
		})
	}
}

func TestFamilyString(t *testing.T) {
	t.Parallel()

	if got := FamilyDoor.String(); got != "door" {
		t.Errorf("FamilyDoor.String() = %q, want %q", got, "door")
	}
	if got := Family(99).String(); got != "unknown (99)" {
		t.Errorf("Family(99).String() = %q, want %q", got, "unknown (99)")
	}
}
