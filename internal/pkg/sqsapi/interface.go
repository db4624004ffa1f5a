package sqsapi

import (
	"context"
	"encoding/json"
	"time"
)

// Event types delivered by the enterprise notification queue
const (
	EventTypeAlarm              = "ALARM"
	EventTypeArm                = "ARM"
	EventTypeDisarm             = "DISARM"
	EventTypeNightMode          = "NIGHT_MODE"
	EventTypeDeviceState        = "DEVICE_STATE"
	EventTypeDeviceTriggered    = "DEVICE_TRIGGERED"
	EventTypeMalfunction        = "MALFUNCTION"
	EventTypeTamper             = "TAMPER"
	EventTypeBatteryLow         = "BATTERY_LOW"
	EventTypeConnectionLost     = "CONNECTION_LOST"
	EventTypeConnectionRestored = "CONNECTION_RESTORED"
)

// Event is one decoded change notification
type Event struct {
	EventID    string
	EventType  string
	HubID      string
	Timestamp  time.Time
	DeviceID   string
	DeviceType string
	RoomName   string
	GroupID    string
	ArmedState string
	Triggered  *bool
	Receipt    string
	Raw        json.RawMessage
}

// Message is one raw queue delivery
type Message struct {
	Body    []byte
	Receipt string
}

// Queue is the long-poll message source. Receive blocks up to the
// queue's configured wait ceiling; Delete acknowledges one message by
// its receipt handle.
type Queue interface {
	Receive(ctx context.Context) ([]Message, error)
	Delete(ctx context.Context, receipt string) error
}

// The queue serves a couple of schema generations; each field has a
// legacy fallback key.
type eventWire struct {
	EventID          string `json:"eventId"`
	ID               string `json:"id"`
	EventType        string `json:"eventType"`
	Type             string `json:"type"`
	HubID            string `json:"hubId"`
	ObjectID         string `json:"objectId"`
	Timestamp        string `json:"timestamp"`
	EventTime        string `json:"eventTime"`
	DeviceID         string `json:"deviceId"`
	SourceObjectID   string `json:"sourceObjectId"`
	DeviceType       string `json:"deviceType"`
	SourceObjectType string `json:"sourceObjectType"`
	RoomName         string `json:"roomName"`
	Room             string `json:"room"`
	GroupID          string `json:"groupId"`
	ArmState         string `json:"armState"`
	State            string `json:"state"`
	Triggered        *bool  `json:"triggered"`
	Alarm            *bool  `json:"alarm"`
}

func firstString(candidates ...string) string {
	for _, s := range candidates {
		if s != "" {
			return s
		}
	}
	return ""
}

// ParseEvent decodes a queue message body into an Event. Some
// deliveries wrap the event under a "body" key, possibly as an escaped
// JSON string.
func ParseEvent(msg Message) (Event, error) {
	body := msg.Body

	var envelope struct {
		Body json.RawMessage `json:"body"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && len(envelope.Body) > 0 {
		var inner string
		if json.Unmarshal(envelope.Body, &inner) == nil {
			body = []byte(inner)
		} else {
			body = envelope.Body
		}
	}

	var w eventWire
	if err := json.Unmarshal(body, &w); err != nil {
		return Event{}, err
	}

	timestamp := time.Now()
	if ts := firstString(w.Timestamp, w.EventTime); ts != "" {
		if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
			timestamp = parsed
		}
	}

	eventType := firstString(w.EventType, w.Type)
	if eventType == "" {
		eventType = "UNKNOWN"
	}

	triggered := w.Triggered
	if triggered == nil {
		triggered = w.Alarm
	}

	return Event{
		EventID:    firstString(w.EventID, w.ID),
		EventType:  eventType,
		HubID:      firstString(w.HubID, w.ObjectID),
		Timestamp:  timestamp,
		DeviceID:   firstString(w.DeviceID, w.SourceObjectID),
		DeviceType: firstString(w.DeviceType, w.SourceObjectType),
		RoomName:   firstString(w.RoomName, w.Room),
		GroupID:    w.GroupID,
		ArmedState: firstString(w.ArmState, w.State),
		Receipt:    msg.Receipt,
		Triggered:  triggered,
		Raw:        body,
	}, nil
}
