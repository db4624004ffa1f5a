package ajaxapi

import (
	"context"
	"encoding/json"
	"time"
)

// Client is one method per remote operation. Every authenticated call
// refreshes the session transparently and retries exactly once on a 401.
type Client interface {
	WithTimeout(d time.Duration) Client

	GetSpaces(ctx context.Context) ([]json.RawMessage, error)
	GetSpace(ctx context.Context, spaceID string) (json.RawMessage, error)
	GetHub(ctx context.Context, hubID string) (json.RawMessage, error)
	GetRooms(ctx context.Context, hubID string) ([]json.RawMessage, error)
	GetDevices(ctx context.Context, hubID string, enrich bool) ([]json.RawMessage, error)

	ArmHub(ctx context.Context, hubID string, ignoreProblems bool) error
	DisarmHub(ctx context.Context, hubID string, ignoreProblems bool) error
	ArmGroup(ctx context.Context, hubID, groupID string, ignoreProblems bool) error
	DisarmGroup(ctx context.Context, hubID, groupID string, ignoreProblems bool) error
	SetNightMode(ctx context.Context, hubID string, enabled, ignoreProblems bool) error
	SetGroupNightMode(ctx context.Context, hubID, groupID string, enabled, ignoreProblems bool) error

	SendDeviceCommand(ctx context.Context, hubID, deviceID string, cmd DeviceCommand) error
	SwitchDevice(ctx context.Context, hubID, deviceID, deviceType string, on bool) error

	MuteHub(ctx context.Context, hubID string) error
	RestoreAfterAlarm(ctx context.Context, hubID string) error

	ValidateConnection(ctx context.Context, hubID string) (bool, error)

	Credentials() *Credentials
}
