package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/hubwatch/ajax-bridge/internal/pkg/ajaxapi"
	"github.com/hubwatch/ajax-bridge/internal/pkg/coordinator"
	"github.com/hubwatch/ajax-bridge/internal/pkg/sqsapi"
)

// mockClient implements ajaxapi.Client for testing.
type mockClient struct {
	ajaxapi.Client

	creds    *ajaxapi.Credentials
	armErr   error
	lastArm  *bool
	lastProb *bool
}

func (m *mockClient) GetHub(ctx context.Context, hubID string) (json.RawMessage, error) {
	return json.RawMessage(`{"id": "hub-1", "name": "Home", "state": "DISARMED"}`), nil
}

func (m *mockClient) GetRooms(ctx context.Context, hubID string) ([]json.RawMessage, error) {
	return nil, nil
}

func (m *mockClient) GetDevices(ctx context.Context, hubID string, enrich bool) ([]json.RawMessage, error) {
	return []json.RawMessage{
		json.RawMessage(`{"id": "d1", "deviceName": "Front Door", "deviceType": "DoorProtect", "reedClosed": true}`),
	}, nil
}

func (m *mockClient) ArmHub(ctx context.Context, hubID string, ignoreProblems bool) error {
	armed := true
	m.lastArm, m.lastProb = &armed, &ignoreProblems
	return m.armErr
}

func (m *mockClient) GetSpaces(ctx context.Context) ([]json.RawMessage, error) {
	return []json.RawMessage{json.RawMessage(`{"id": "space-1", "hubId": "hub-1"}`)}, nil
}

func (m *mockClient) Credentials() *ajaxapi.Credentials {
	return m.creds
}

func newTestServer(t *testing.T, client *mockClient, prime bool) *httptest.Server {
	t.Helper()

	if client.creds == nil {
		client.creds = ajaxapi.NewUserCredentials("http://example.invalid", "key", "user", "hash")
		client.creds.SetTokens("st-1", "rt-1", "uid-1", time.Now().Add(15*time.Minute))
	}

	coord := coordinator.New(client, "hub-1", coordinator.DefaultInterval, coordinator.NewStore(), make(chan sqsapi.Event))
	if prime {
		if err := coord.Refresh(context.Background()); err != nil {
			t.Fatalf("priming refresh failed: %v", err)
		}
	}

	r := mux.NewRouter()
	NewBridgeHandler(coord, nil).Register(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestGetSnapshot(t *testing.T) {
	t.Parallel()

	t.Run("before first poll", func(t *testing.T) {
		t.Parallel()

		srv := newTestServer(t, &mockClient{}, false)
		resp, err := http.Get(srv.URL + "/snapshot")
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want 503", resp.StatusCode)
		}
	})

	t.Run("after poll", func(t *testing.T) {
		t.Parallel()

		srv := newTestServer(t, &mockClient{}, true)
		resp, err := http.Get(srv.URL + "/snapshot")
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}

		var snap struct {
			Hub struct {
				ID string `json:"id"`
			} `json:"hub"`
			Devices map[string]struct {
				Name string `json:"name"`
			} `json:"devices"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
			t.Fatalf("decoding snapshot: %v", err)
		}
		if snap.Hub.ID != "hub-1" {
			t.Errorf("hub id = %q", snap.Hub.ID)
		}
		if _, ok := snap.Devices["d1"]; !ok {
			t.Error("device d1 missing from snapshot")
		}
	})
}

func TestArmHub(t *testing.T) {
	t.Parallel()

	client := &mockClient{}
	srv := newTestServer(t, client, true)

	resp, err := http.Post(srv.URL+"/hub/arm", "application/json",
		strings.NewReader(`{"ignoreProblems": true}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("status = %d, want 202", resp.StatusCode)
	}
	if client.lastArm == nil || client.lastProb == nil || !*client.lastProb {
		t.Error("arm command or ignoreProblems not forwarded")
	}
}

func TestArmHubEmptyBody(t *testing.T) {
	t.Parallel()

	client := &mockClient{}
	srv := newTestServer(t, client, true)

	resp, err := http.Post(srv.URL+"/hub/arm", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("status = %d, want 202 for an empty body", resp.StatusCode)
	}
	if client.lastProb == nil || *client.lastProb {
		t.Error("ignoreProblems should default false")
	}
}

func TestArmHubPreconditionFailure(t *testing.T) {
	t.Parallel()

	client := &mockClient{armErr: &ajaxapi.PreconditionError{Body: []byte(`{"problems": ["LID_OPEN"]}`)}}
	srv := newTestServer(t, client, true)

	resp, err := http.Post(srv.URL+"/hub/arm", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}

	var body errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	if !strings.Contains(string(body.Problems), "LID_OPEN") {
		t.Errorf("problems payload = %s, want the blocked condition list", body.Problems)
	}
}

func TestArmHubAuthFailure(t *testing.T) {
	t.Parallel()

	client := &mockClient{armErr: &ajaxapi.AuthError{Reason: "session rejected"}}
	srv := newTestServer(t, client, true)

	resp, err := http.Post(srv.URL+"/hub/arm", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestListenerEndpointsWithoutListener(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &mockClient{}, false)

	resp, err := http.Get(srv.URL + "/listener")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var status listenerState
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatal(err)
	}
	if status.Enabled || status.Running {
		t.Errorf("status = %+v, want disabled", status)
	}

	resp2, err := http.Post(srv.URL+"/listener/start", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp2.Body.Close()

	if resp2.StatusCode != http.StatusNotFound {
		t.Errorf("start without a listener = %d, want 404", resp2.StatusCode)
	}
}

func TestGetSpaces(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &mockClient{}, false)

	resp, err := http.Get(srv.URL + "/spaces")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var spaces []struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&spaces); err != nil {
		t.Fatal(err)
	}
	if len(spaces) != 1 || spaces[0].ID != "space-1" {
		t.Errorf("spaces = %+v", spaces)
	}
}

func TestGetCredentials(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &mockClient{}, true)

	resp, err := http.Get(srv.URL + "/credentials")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body credentialsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}

	if body.SessionToken != "st-1" || body.RefreshToken != "rt-1" || body.UserID != "uid-1" {
		t.Errorf("tokens = %q/%q/%q", body.SessionToken, body.RefreshToken, body.UserID)
	}
	if body.NeedsReauth {
		t.Error("NeedsReauth should be false after a successful poll")
	}
}
