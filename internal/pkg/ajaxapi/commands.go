package ajaxapi

/*
 *   Request bodies for the hub/group arming endpoints and the generic
 *   device command endpoint
 */

type armingCommand struct {
	Command        string `json:"command"`
	IgnoreProblems bool   `json:"ignoreProblems"`
}

func newArmingCommand(arm bool, ignoreProblems bool) armingCommand {
	name := "DISARM"
	if arm {
		name = "ARM"
	}

	return armingCommand{
		Command:        name,
		IgnoreProblems: ignoreProblems,
	}
}

func newNightModeCommand(enabled bool, ignoreProblems bool) armingCommand {
	name := "NIGHT_MODE_OFF"
	if enabled {
		name = "NIGHT_MODE_ON"
	}

	return armingCommand{
		Command:        name,
		IgnoreProblems: ignoreProblems,
	}
}

// DeviceCommand is the body of the generic device command endpoint.
type DeviceCommand struct {
	Command         string                 `json:"command"`
	DeviceType      string                 `json:"deviceType"`
	AdditionalParam map[string]interface{} `json:"additionalParam,omitempty"`
}

// NewSwitchCommand builds the on/off command for socket/relay devices
func NewSwitchCommand(deviceType string, on bool) DeviceCommand {
	name := "SWITCH_OFF"
	if on {
		name = "SWITCH_ON"
	}

	return DeviceCommand{
		Command:    name,
		DeviceType: deviceType,
	}
}
