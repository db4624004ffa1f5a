package model

import (
	"encoding/json"
	"strings"
)

/*
 *   Pure mappings from raw wire payloads onto the canonical entities.
 *   None of these fail: missing or malformed fields substitute the
 *   documented defaults, and the raw payload is kept on the entity.
 *
 *   The backend serves several wire shapes; notably devices fetched
 *   with enrich=true nest most fields under a "model" object. Lookup
 *   order is top level first, then the nested object. New shapes are
 *   handled by extending the wire structs, not the call sites.
 */

type hubStateWire struct {
	Armed     bool `json:"armed"`
	NightMode bool `json:"nightMode"`
}

type batteryWire struct {
	ChargeLevelPercentage *int   `json:"chargeLevelPercentage"`
	Level                 *int   `json:"level"`
	State                 string `json:"state"`
}

type hubWire struct {
	ID                  string          `json:"id"`
	Name                string          `json:"name"`
	HubSubtype          string          `json:"hubSubtype"`
	Type                string          `json:"type"`
	Online              *bool           `json:"online"`
	State               json.RawMessage `json:"state"`
	ArmState            string          `json:"armState"`
	Battery             batteryWire     `json:"battery"`
	Firmware            struct {
		Version string `json:"version"`
	} `json:"firmware"`
	CellularSignalLevel string            `json:"cellularSignalLevel"`
	WifiSignalLevel     string            `json:"wifiSignalLevel"`
	GroupsEnabled       bool              `json:"groupsEnabled"`
	Groups              []json.RawMessage `json:"groups"`
}

func firstString(candidates ...string) string {
	for _, s := range candidates {
		if s != "" {
			return s
		}
	}
	return ""
}

// ParseHub maps a raw hub payload onto a Hub. The state field arrives
// either as a raw arm-state string or, in the newer shape, as an object
// with explicit armed/nightMode booleans.
func ParseHub(raw json.RawMessage) Hub {
	var w hubWire
	_ = json.Unmarshal(raw, &w)

	armed, nightMode := false, false
	var stateStr string
	if len(w.State) > 0 && json.Unmarshal(w.State, &stateStr) == nil {
		state := ParseArmState(strings.ToUpper(stateStr))
		armed, nightMode = state.Armed(), state.NightMode()
	} else if len(w.State) > 0 {
		var obj hubStateWire
		if json.Unmarshal(w.State, &obj) == nil {
			armed, nightMode = obj.Armed, obj.NightMode
		}
	} else if w.ArmState != "" {
		state := ParseArmState(strings.ToUpper(w.ArmState))
		armed, nightMode = state.Armed(), state.NightMode()
	}

	batteryLevel := w.Battery.ChargeLevelPercentage
	if batteryLevel == nil {
		batteryLevel = w.Battery.Level
	}

	// the hub reporting at all implies it is reachable; default online
	online := true
	if w.Online != nil {
		online = *w.Online
	}

	name := w.Name
	if name == "" {
		name = "Hub " + w.ID
	}

	return Hub{
		ID:              w.ID,
		Name:            name,
		Model:           firstString(w.HubSubtype, w.Type, "Hub"),
		Online:          online,
		Armed:           armed,
		NightMode:       nightMode,
		FirmwareVersion: w.Firmware.Version,
		BatteryLevel:    batteryLevel,
		BatteryState:    w.Battery.State,
		CellularSignal:  SignalPercent(w.CellularSignalLevel),
		WifiSignal:      SignalPercent(w.WifiSignalLevel),
		GroupsEnabled:   w.GroupsEnabled,
		Raw:             raw,
	}
}

// HubGroups extracts the embedded group payloads from a hub payload
func HubGroups(raw json.RawMessage) []json.RawMessage {
	var w hubWire
	_ = json.Unmarshal(raw, &w)
	return w.Groups
}

// deviceFields is the field set shared by the top level device payload
// and the nested enrich=true "model" object.
type deviceFields struct {
	ID                           string   `json:"id"`
	DeviceType                   string   `json:"deviceType"`
	DeviceName                   string   `json:"deviceName"`
	Name                         string   `json:"name"`
	RoomID                       string   `json:"roomId"`
	GroupID                      string   `json:"groupId"`
	Online                       *bool    `json:"online"`
	BatteryChargeLevelPercentage *int     `json:"batteryChargeLevelPercentage"`
	SignalLevel                  string   `json:"signalLevel"`
	Temperature                  *float64 `json:"temperature"`
	Tampered                     *bool    `json:"tampered"`
	FirmwareVersion              string   `json:"firmwareVersion"`
	ReedClosed                   *bool    `json:"reedClosed"`
	State                        string   `json:"state"`
	BypassState                  []string `json:"bypassState"`
}

type deviceWire struct {
	deviceFields
	Model deviceFields `json:"model"`
}

// ParseDevice maps a raw device payload onto a Device, tolerating both
// the flat and the enriched (model-nested) shapes.
func ParseDevice(raw json.RawMessage) Device {
	var w deviceWire
	_ = json.Unmarshal(raw, &w)

	id := firstString(w.ID, w.Model.ID)
	deviceType := firstString(w.DeviceType, w.Model.DeviceType)
	name := firstString(w.DeviceName, w.Model.DeviceName, w.Name, w.Model.Name)
	if name == "" {
		name = "Device " + id
	}

	online := false
	if w.Model.Online != nil {
		online = *w.Model.Online
	} else if w.Online != nil {
		online = *w.Online
	}

	batteryLevel := w.Model.BatteryChargeLevelPercentage
	if batteryLevel == nil {
		batteryLevel = w.BatteryChargeLevelPercentage
	}

	temperature := w.Model.Temperature
	if temperature == nil {
		temperature = w.Temperature
	}

	tampered := false
	if w.Model.Tampered != nil {
		tampered = *w.Model.Tampered
	} else if w.Tampered != nil {
		tampered = *w.Tampered
	}

	family := ClassifyDeviceType(deviceType)

	return Device{
		ID:              id,
		Name:            name,
		DeviceType:      deviceType,
		Family:          family,
		RoomID:          firstString(w.RoomID, w.Model.RoomID),
		GroupID:         firstString(w.GroupID, w.Model.GroupID),
		Online:          online,
		BatteryLevel:    batteryLevel,
		SignalStrength:  SignalPercent(firstString(w.Model.SignalLevel, w.SignalLevel)),
		Temperature:     temperature,
		Tampered:        tampered,
		Triggered:       triggered(family, &w),
		Bypassed:        len(w.Model.BypassState) > 0 || len(w.BypassState) > 0,
		FirmwareVersion: firstString(w.Model.FirmwareVersion, w.FirmwareVersion),
		Raw:             raw,
	}
}

// triggered computes the family specific "is this sensor alarming"
// state; the vendor API has no uniform boolean for it.
func triggered(family Family, w *deviceWire) bool {
	switch family {
	case FamilyDoor:
		// reed contact not closed means the opening is open
		reedClosed := true
		if w.Model.ReedClosed != nil {
			reedClosed = *w.Model.ReedClosed
		} else if w.ReedClosed != nil {
			reedClosed = *w.ReedClosed
		}
		return !reedClosed

	case FamilyMotion:
		return stateIn(w, "ACTIVE", "ALARM", "TRIGGERED")
	case FamilySmoke:
		return stateIn(w, "ALARM", "TRIGGERED", "SMOKE")
	case FamilyWater:
		return stateIn(w, "ALARM", "TRIGGERED", "LEAK")
	case FamilyGlassBreak:
		return stateIn(w, "ALARM", "TRIGGERED")
	default:
		// other families have no triggered concept
		return false
	}
}

func stateIn(w *deviceWire, values ...string) bool {
	state := strings.ToUpper(firstString(w.Model.State, w.State))
	for _, v := range values {
		if state == v {
			return true
		}
	}
	return false
}

type groupWire struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	ArmState  string `json:"armState"`
	State     string `json:"state"`
	NightMode bool   `json:"nightMode"`
}

// ParseGroup maps a raw group payload onto a Group
func ParseGroup(raw json.RawMessage) Group {
	var w groupWire
	_ = json.Unmarshal(raw, &w)

	state := ParseArmState(strings.ToUpper(firstString(w.ArmState, w.State)))

	name := w.Name
	if name == "" {
		name = "Group " + w.ID
	}

	return Group{
		ID:        w.ID,
		Name:      name,
		Armed:     state.Armed(),
		NightMode: w.NightMode || state.NightMode(),
		Raw:       raw,
	}
}

type roomWire struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	RoomName string `json:"roomName"`
}

// ParseRoom maps a raw room payload onto a Room
func ParseRoom(raw json.RawMessage) Room {
	var w roomWire
	_ = json.Unmarshal(raw, &w)

	name := firstString(w.Name, w.RoomName)
	if name == "" {
		name = "Room " + w.ID
	}

	return Room{
		ID:   w.ID,
		Name: name,
		Raw:  raw,
	}
}
