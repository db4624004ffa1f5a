package sqsapi

import (
	"testing"
	"time"
)

func TestParseEventModernShape(t *testing.T) {
	t.Parallel()

	msg := Message{
		Receipt: "rcpt-1",
		Body: []byte(`{
			"eventId": "ev-1",
			"eventType": "DEVICE_TRIGGERED",
			"hubId": "hub-1",
			"deviceId": "dev-1",
			"deviceType": "DoorProtect",
			"roomName": "Hallway",
			"triggered": true,
			"timestamp": "2026-03-01T10:15:00Z"
		}`),
	}

	event, err := ParseEvent(msg)
	if err != nil {
		t.Fatalf("ParseEvent() error: %v", err)
	}

	if event.EventID != "ev-1" || event.EventType != EventTypeDeviceTriggered {
		t.Errorf("identity = %q/%q", event.EventID, event.EventType)
	}
	if event.HubID != "hub-1" || event.DeviceID != "dev-1" {
		t.Errorf("hub/device = %q/%q", event.HubID, event.DeviceID)
	}
	if event.Triggered == nil || !*event.Triggered {
		t.Errorf("Triggered = %v, want true", event.Triggered)
	}
	if event.Receipt != "rcpt-1" {
		t.Errorf("Receipt = %q, want rcpt-1", event.Receipt)
	}

	want := time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC)
	if !event.Timestamp.Equal(want) {
		t.Errorf("Timestamp = %v, want %v", event.Timestamp, want)
	}
}

func TestParseEventLegacyFallbackKeys(t *testing.T) {
	t.Parallel()

	msg := Message{Body: []byte(`{
		"id": "ev-2",
		"type": "ALARM",
		"objectId": "hub-1",
		"sourceObjectId": "dev-2",
		"sourceObjectType": "MotionProtect",
		"alarm": true,
		"eventTime": "2026-03-01T10:16:00Z"
	}`)}

	event, err := ParseEvent(msg)
	if err != nil {
		t.Fatalf("ParseEvent() error: %v", err)
	}

	if event.EventID != "ev-2" || event.EventType != EventTypeAlarm {
		t.Errorf("identity = %q/%q", event.EventID, event.EventType)
	}
	if event.HubID != "hub-1" {
		t.Errorf("HubID = %q, want objectId fallback", event.HubID)
	}
	if event.DeviceID != "dev-2" || event.DeviceType != "MotionProtect" {
		t.Errorf("device = %q/%q, want sourceObject fallbacks", event.DeviceID, event.DeviceType)
	}
	if event.Triggered == nil || !*event.Triggered {
		t.Errorf("Triggered = %v, want alarm fallback", event.Triggered)
	}
}

func TestParseEventEnvelope(t *testing.T) {
	t.Parallel()

	t.Run("raw object body", func(t *testing.T) {
		t.Parallel()

		msg := Message{Body: []byte(`{"body": {"eventId": "ev-3", "eventType": "ARM", "hubId": "hub-1"}}`)}
		event, err := ParseEvent(msg)
		if err != nil {
			t.Fatalf("ParseEvent() error: %v", err)
		}
		if event.EventID != "ev-3" || event.EventType != EventTypeArm {
			t.Errorf("got %q/%q", event.EventID, event.EventType)
		}
	})

	t.Run("escaped string body", func(t *testing.T) {
		t.Parallel()

		msg := Message{Body: []byte(`{"body": "{\"eventId\": \"ev-4\", \"eventType\": \"DISARM\", \"hubId\": \"hub-1\"}"}`)}
		event, err := ParseEvent(msg)
		if err != nil {
			t.Fatalf("ParseEvent() error: %v", err)
		}
		if event.EventID != "ev-4" || event.EventType != EventTypeDisarm {
			t.Errorf("got %q/%q", event.EventID, event.EventType)
		}
	})
}

func TestParseEventDefaults(t *testing.T) {
	t.Parallel()

	before := time.Now()
	event, err := ParseEvent(Message{Body: []byte(`{"hubId": "hub-1"}`)})
	if err != nil {
		t.Fatalf("ParseEvent() error: %v", err)
	}

	if event.EventType != "UNKNOWN" {
		t.Errorf("EventType = %q, want UNKNOWN", event.EventType)
	}
	if event.Triggered != nil {
		t.Errorf("Triggered = %v, want nil when absent", event.Triggered)
	}
	// missing timestamp falls back to receipt time
	if event.Timestamp.Before(before) || event.Timestamp.After(time.Now()) {
		t.Errorf("Timestamp = %v, want now-ish", event.Timestamp)
	}
}

func TestParseEventGarbage(t *testing.T) {
	t.Parallel()

	if _, err := ParseEvent(Message{Body: []byte(`not json`)}); err == nil {
		t.Error("ParseEvent() of garbage should fail")
	}
}
