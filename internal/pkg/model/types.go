package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Hub is the physical security controller for one premises. It is
// replaced wholesale on each poll cycle; individual fields may be
// patched by an event.
type Hub struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Model           string          `json:"model"`
	Online          bool            `json:"online"`
	Armed           bool            `json:"armed"`
	NightMode       bool            `json:"nightMode"`
	FirmwareVersion string          `json:"firmwareVersion,omitempty"`
	BatteryLevel    *int            `json:"batteryLevel,omitempty"`
	BatteryState    string          `json:"batteryState,omitempty"`
	CellularSignal  *int            `json:"cellularSignal,omitempty"`
	WifiSignal      *int            `json:"wifiSignal,omitempty"`
	GroupsEnabled   bool            `json:"groupsEnabled"`
	Raw             json.RawMessage `json:"-"`
}

// Device is a sensor or actuator attached to a hub. Raw keeps the
// original payload for fields not yet modelled.
type Device struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	DeviceType      string          `json:"deviceType"`
	Family          Family          `json:"family"`
	RoomID          string          `json:"roomId,omitempty"`
	GroupID         string          `json:"groupId,omitempty"`
	Online          bool            `json:"online"`
	BatteryLevel    *int            `json:"batteryLevel,omitempty"`
	SignalStrength  *int            `json:"signalStrength,omitempty"`
	Temperature     *float64        `json:"temperature,omitempty"`
	Tampered        bool            `json:"tampered"`
	Triggered       bool            `json:"triggered"`
	Bypassed        bool            `json:"bypassed"`
	FirmwareVersion string          `json:"firmwareVersion,omitempty"`
	Raw             json.RawMessage `json:"-"`
}

func (d *Device) IsMotionSensor() bool     { return d.Family == FamilyMotion }
func (d *Device) IsDoorSensor() bool       { return d.Family == FamilyDoor }
func (d *Device) IsSmokeSensor() bool      { return d.Family == FamilySmoke }
func (d *Device) IsWaterSensor() bool      { return d.Family == FamilyWater }
func (d *Device) IsGlassBreakSensor() bool { return d.Family == FamilyGlassBreak }
func (d *Device) IsSwitch() bool           { return d.Family == FamilySwitch }

// Group is an optional sub-partition of a hub's devices with its own
// arm state. Present only when the hub reports group mode enabled.
type Group struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Armed     bool            `json:"armed"`
	NightMode bool            `json:"nightMode"`
	Raw       json.RawMessage `json:"-"`
}

// Room decorates a device's display name and has no behavioural effect.
type Room struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Raw  json.RawMessage `json:"-"`
}

// Snapshot is the canonical in-memory view of one hub at a point in
// time. A device's RoomID/GroupID may reference an absent room/group;
// that means "unlabeled", not an error.
type Snapshot struct {
	Hub       *Hub               `json:"hub"`
	Devices   map[string]*Device `json:"devices"`
	Groups    map[string]*Group  `json:"groups"`
	Rooms     map[string]*Room   `json:"rooms"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

// Clone returns a copy sharing no map or entry with the receiver, so a
// published snapshot is never mutated behind a reader's back.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}

	ns := &Snapshot{
		Devices:   make(map[string]*Device, len(s.Devices)),
		Groups:    make(map[string]*Group, len(s.Groups)),
		Rooms:     make(map[string]*Room, len(s.Rooms)),
		UpdatedAt: s.UpdatedAt,
	}

	if s.Hub != nil {
		hub := *s.Hub
		ns.Hub = &hub
	}
	for id, d := range s.Devices {
		dc := *d
		ns.Devices[id] = &dc
	}
	for id, g := range s.Groups {
		gc := *g
		ns.Groups[id] = &gc
	}
	for id, r := range s.Rooms {
		rc := *r
		ns.Rooms[id] = &rc
	}

	return ns
}

// ArmState is the parsed arming state of a hub or group. Unknown raw
// values fail closed: not armed, no night mode.
type ArmState int

const (
	ArmStateUnknown ArmState = iota
	ArmStateDisarmed
	ArmStateArmed
	ArmStateNightMode
	ArmStateArmedNightMode
	ArmStatePartiallyArmed
)

var armStateNames = map[string]ArmState{
	"DISARMED":                      ArmStateDisarmed,
	"DISARMED_NIGHT_MODE":           ArmStateDisarmed,
	"ARMED":                         ArmStateArmed,
	"ARMED_NIGHT_MODE":              ArmStateArmedNightMode,
	"NIGHT_MODE":                    ArmStateNightMode,
	"NIGHT_MODE_ON":                 ArmStateNightMode,
	"NIGHT_MODE_OFF":                ArmStateDisarmed,
	"PARTIALLY_ARMED":               ArmStatePartiallyArmed,
	"PARTIALLY_ARMED_NIGHT_MODE_ON": ArmStateArmedNightMode,
}

// ParseArmState maps a raw state string onto the enum. A value missing
// from the table parses as ArmStateUnknown rather than guessing by
// substring.
func ParseArmState(raw string) ArmState {
	if state, ok := armStateNames[raw]; ok {
		return state
	}
	return ArmStateUnknown
}

func (s ArmState) Armed() bool {
	return s == ArmStateArmed || s == ArmStateArmedNightMode || s == ArmStatePartiallyArmed
}

func (s ArmState) NightMode() bool {
	return s == ArmStateNightMode || s == ArmStateArmedNightMode
}

func (s ArmState) String() string {
	switch s {
	case ArmStateDisarmed:
		return "disarmed"
	case ArmStateArmed:
		return "armed"
	case ArmStateNightMode:
		return "night-mode"
	case ArmStateArmedNightMode:
		return "armed-night-mode"
	case ArmStatePartiallyArmed:
		return "partially-armed"
	default:
		return fmt.Sprintf("unknown (%d)", int(s))
	}
}

// signalLevels maps the qualitative wire levels onto a percentage.
// Unknown levels stay nil to keep "unknown" distinct from "no signal".
var signalLevels = map[string]int{
	"NO_SIGNAL": 0,
	"WEAK":      33,
	"NORMAL":    66,
	"STRONG":    100,
}

// SignalPercent converts a qualitative signal level to a percentage
func SignalPercent(level string) *int {
	if pct, ok := signalLevels[level]; ok {
		return &pct
	}
	return nil
}
