package ajaxapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hubwatch/ajax-bridge/internal/pkg/logging"
	"github.com/pkg/errors"
)

// DefaultBaseURL is the production cloud endpoint
const DefaultBaseURL = "https://api.ajax.systems/api"

type Live struct {
	baseURL    string
	creds      *Credentials
	timeout    time.Duration
	httpClient *http.Client
}

func NewLiveClient(baseURL string, creds *Credentials) *Live {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	return &Live{
		baseURL:    baseURL,
		creds:      creds,
		httpClient: http.DefaultClient,
	}
}

func (c *Live) WithTimeout(d time.Duration) Client {
	nc := *c
	nc.timeout = d
	return &nc
}

func (c *Live) Credentials() *Credentials {
	return c.creds
}

func (c *Live) makeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	var cancel context.CancelFunc = func() {}
	if c.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
	}

	return ctx, cancel
}

// do executes a single HTTP attempt. Transport failures come back as
// *ConnectionError; any HTTP status is returned for the caller to map.
func (c *Live) do(ctx context.Context, method, path string, payload []byte) (int, []byte, error) {
	ctx, cancel := c.makeContext(ctx)
	defer cancel()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, nil, errors.Wrap(err, "building request")
	}

	for k, v := range c.creds.authHeaders() {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, &ConnectionError{cause: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, &ConnectionError{cause: err}
	}

	return resp.StatusCode, respBody, nil
}

// request runs an authenticated call with the one permitted
// refresh-and-retry on session expiry.
func (c *Live) request(ctx context.Context, method, path string, reqBody interface{}) ([]byte, error) {
	var payload []byte
	if reqBody != nil {
		var err error
		payload, err = json.Marshal(reqBody)
		if err != nil {
			return nil, errors.Wrap(err, "encoding request body")
		}
	}

	if err := c.creds.EnsureValidToken(ctx); err != nil {
		return nil, err
	}

	status, respBody, err := c.do(ctx, method, path, payload)
	if err != nil {
		return nil, err
	}

	if status == http.StatusUnauthorized {
		if c.creds.Mode() != AuthModeUser || !c.creds.canRefresh() {
			return nil, &AuthError{Reason: "request rejected and no refresh token available"}
		}

		// The server rejected a token we thought was fresh; rotate it
		// and retry the same request exactly once
		logging.Logger(ctx).Debugf("%s %s returned 401, refreshing session and retrying", method, path)
		if err := c.creds.RefreshSession(ctx); err != nil {
			return nil, &AuthError{Reason: "session refresh after rejection failed", cause: err}
		}

		status, respBody, err = c.do(ctx, method, path, payload)
		if err != nil {
			return nil, err
		}
	}

	switch {
	case status == http.StatusNoContent:
		return nil, nil
	case status >= 200 && status <= 299:
		// 202 means the hub accepted the command asynchronously; the
		// payload is returned but the state change may not be visible
		// on the immediate next poll
		return respBody, nil
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return nil, &AuthError{Reason: fmt.Sprintf("%s %s returned HTTP %d", method, path, status)}
	case status == http.StatusPreconditionFailed:
		return nil, &PreconditionError{Body: respBody}
	default:
		return nil, &APIError{StatusCode: status, Body: respBody}
	}
}

// extractList tolerates the known list response shapes: a bare JSON
// array, or an object wrapping the array under one of the given keys.
func extractList(raw []byte, keys ...string) ([]json.RawMessage, error) {
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, errors.Wrap(err, "decoding list response")
	}

	for _, key := range keys {
		wrapped, ok := obj[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(wrapped, &list); err != nil {
			return nil, errors.Wrapf(err, "decoding %q list", key)
		}
		return list, nil
	}

	// an object with none of the known keys: treat as empty
	return nil, nil
}

func (c *Live) GetSpaces(ctx context.Context) ([]json.RawMessage, error) {
	raw, err := c.request(ctx, http.MethodGet, c.creds.basePath()+"/spaces", nil)
	if err != nil {
		return nil, err
	}

	return extractList(raw, "spaces")
}

func (c *Live) GetSpace(ctx context.Context, spaceID string) (json.RawMessage, error) {
	return c.request(ctx, http.MethodGet, c.creds.basePath()+"/spaces/"+spaceID, nil)
}

func (c *Live) GetHub(ctx context.Context, hubID string) (json.RawMessage, error) {
	return c.request(ctx, http.MethodGet, c.creds.basePath()+"/hubs/"+hubID, nil)
}

func (c *Live) GetRooms(ctx context.Context, hubID string) ([]json.RawMessage, error) {
	raw, err := c.request(ctx, http.MethodGet, c.creds.basePath()+"/hubs/"+hubID+"/rooms", nil)
	if err != nil {
		return nil, err
	}

	return extractList(raw, "rooms")
}

func (c *Live) GetDevices(ctx context.Context, hubID string, enrich bool) ([]json.RawMessage, error) {
	path := fmt.Sprintf("%s/hubs/%s/devices?enrich=%s",
		c.creds.basePath(), hubID, url.QueryEscape(fmt.Sprintf("%t", enrich)))

	raw, err := c.request(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	return extractList(raw, "devices", "deviceInfos")
}

func (c *Live) armingRequest(ctx context.Context, path string, cmd armingCommand) error {
	_, err := c.request(ctx, http.MethodPut, path, cmd)
	return err
}

func (c *Live) hubArmingPath(hubID string) string {
	return c.creds.basePath() + "/hubs/" + hubID + "/commands/arming"
}

func (c *Live) groupArmingPath(hubID, groupID string) string {
	return c.creds.basePath() + "/hubs/" + hubID + "/groups/" + groupID + "/commands/arming"
}

func (c *Live) ArmHub(ctx context.Context, hubID string, ignoreProblems bool) error {
	return c.armingRequest(ctx, c.hubArmingPath(hubID), newArmingCommand(true, ignoreProblems))
}

func (c *Live) DisarmHub(ctx context.Context, hubID string, ignoreProblems bool) error {
	return c.armingRequest(ctx, c.hubArmingPath(hubID), newArmingCommand(false, ignoreProblems))
}

func (c *Live) ArmGroup(ctx context.Context, hubID, groupID string, ignoreProblems bool) error {
	return c.armingRequest(ctx, c.groupArmingPath(hubID, groupID), newArmingCommand(true, ignoreProblems))
}

func (c *Live) DisarmGroup(ctx context.Context, hubID, groupID string, ignoreProblems bool) error {
	return c.armingRequest(ctx, c.groupArmingPath(hubID, groupID), newArmingCommand(false, ignoreProblems))
}

func (c *Live) SetNightMode(ctx context.Context, hubID string, enabled, ignoreProblems bool) error {
	return c.armingRequest(ctx, c.hubArmingPath(hubID), newNightModeCommand(enabled, ignoreProblems))
}

func (c *Live) SetGroupNightMode(ctx context.Context, hubID, groupID string, enabled, ignoreProblems bool) error {
	return c.armingRequest(ctx, c.groupArmingPath(hubID, groupID), newNightModeCommand(enabled, ignoreProblems))
}

func (c *Live) SendDeviceCommand(ctx context.Context, hubID, deviceID string, cmd DeviceCommand) error {
	path := c.creds.basePath() + "/hubs/" + hubID + "/devices/" + deviceID + "/command"

	logging.Logger(ctx).Debugf("sending command %s to device %s", cmd.Command, deviceID)
	_, err := c.request(ctx, http.MethodPost, path, cmd)
	return err
}

func (c *Live) SwitchDevice(ctx context.Context, hubID, deviceID, deviceType string, on bool) error {
	return c.SendDeviceCommand(ctx, hubID, deviceID, NewSwitchCommand(deviceType, on))
}

func (c *Live) MuteHub(ctx context.Context, hubID string) error {
	path := c.creds.basePath() + "/hubs/" + hubID + "/commands/muteSoundIndication"
	_, err := c.request(ctx, http.MethodPost, path, nil)
	return err
}

func (c *Live) RestoreAfterAlarm(ctx context.Context, hubID string) error {
	path := c.creds.basePath() + "/hubs/" + hubID + "/commands/restoreAfterAlarmCondition"
	_, err := c.request(ctx, http.MethodPost, path, nil)
	return err
}

// ValidateConnection checks that the credentials can reach the given hub
func (c *Live) ValidateConnection(ctx context.Context, hubID string) (bool, error) {
	raw, err := c.GetHub(ctx, hubID)
	if err != nil {
		var authErr *AuthError
		var apiErr *APIError
		var connErr *ConnectionError
		if errors.As(err, &authErr) || errors.As(err, &apiErr) || errors.As(err, &connErr) {
			return false, nil
		}
		return false, err
	}

	var hub struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &hub); err != nil {
		return false, nil
	}

	return hub.ID == hubID, nil
}
