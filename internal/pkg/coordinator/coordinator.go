package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/hubwatch/ajax-bridge/internal/pkg/ajaxapi"
	"github.com/hubwatch/ajax-bridge/internal/pkg/logging"
	"github.com/hubwatch/ajax-bridge/internal/pkg/model"
	"github.com/hubwatch/ajax-bridge/internal/pkg/sqsapi"
	"github.com/pkg/errors"
)

const (
	// poll interval bounds
	MinInterval     = 3 * time.Second
	MaxInterval     = 300 * time.Second
	DefaultInterval = 30 * time.Second
)

// Coordinator owns the fetch-normalize-publish cycle and the command
// surface. The remote system is the source of truth: commands never
// mutate local state optimistically, they act and then force a refresh.
type Coordinator struct {
	client   ajaxapi.Client
	hubID    string
	interval time.Duration
	store    *Store
	events   <-chan sqsapi.Event

	// serialises refresh cycles; a scheduled tick that finds one in
	// flight marks refreshPending instead of queueing behind it
	refreshMu sync.Mutex

	stateMu        sync.Mutex
	needsReauth    bool
	refreshPending bool
	lastErr        error
}

func New(client ajaxapi.Client, hubID string, interval time.Duration, store *Store, events <-chan sqsapi.Event) *Coordinator {
	if interval < MinInterval {
		interval = MinInterval
	}
	if interval > MaxInterval {
		interval = MaxInterval
	}

	return &Coordinator{
		client:   client,
		hubID:    hubID,
		interval: interval,
		store:    store,
		events:   events,
	}
}

// Snapshot returns the current canonical snapshot, nil before the first
// successful poll
func (c *Coordinator) Snapshot() *model.Snapshot {
	return c.store.Get()
}

// NeedsReauth reports whether the last cycle failed with an auth error.
// It stays set until a cycle succeeds with new credentials.
func (c *Coordinator) NeedsReauth() bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.needsReauth
}

// LastError returns the failure of the most recent cycle, nil after a
// successful one
func (c *Coordinator) LastError() error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.lastErr
}

// Run drives the periodic poll cycle and the event intake until ctx is
// cancelled. A cycle failure retains the last good snapshot; the next
// tick retries.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.scheduledRefresh(ctx)

	for {
		select {
		case <-ctx.Done():
			logging.Logger(nil).Info("coordinator shutting down")
			return

		case <-ticker.C:
			c.scheduledRefresh(ctx)

		case event, ok := <-c.events:
			if !ok {
				ticker.Stop()
				logging.Logger(nil).Info("event channel closed")
				return
			}
			c.handleEvent(ctx, event)
		}
	}
}

// scheduledRefresh runs one cycle unless another is already in flight,
// in which case the request is coalesced into that cycle. While the
// credentials are rejected the ticker stays quiet; an explicit Refresh
// after re-authentication clears the condition.
func (c *Coordinator) scheduledRefresh(ctx context.Context) {
	if c.NeedsReauth() {
		logging.Logger(nil).Debug("skipping poll tick until re-authentication")
		return
	}

	if !c.refreshMu.TryLock() {
		c.stateMu.Lock()
		c.refreshPending = true
		c.stateMu.Unlock()
		logging.Logger(nil).Debug("cycle already in flight, coalescing refresh request")
		return
	}
	defer c.refreshMu.Unlock()

	if err := c.runCycle(ctx); err != nil {
		logging.Logger(nil).WithError(err).Error("poll cycle failed, retaining last snapshot")
	}
}

// Refresh runs one full fetch-normalize-publish cycle now
func (c *Coordinator) Refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()
	return c.runCycle(ctx)
}

// runCycle runs a cycle under refreshMu, then drains any refresh
// request that was coalesced while it was in flight
func (c *Coordinator) runCycle(ctx context.Context) error {
	err := c.refresh(ctx)
	for c.takePendingRefresh() {
		err = c.refresh(ctx)
	}
	return err
}

func (c *Coordinator) takePendingRefresh() bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	pending := c.refreshPending && !c.needsReauth
	c.refreshPending = false
	return pending
}

func (c *Coordinator) refresh(ctx context.Context) error {
	snap, err := c.fetch(ctx)

	c.stateMu.Lock()
	c.lastErr = err
	if err != nil {
		var authErr *ajaxapi.AuthError
		c.needsReauth = errors.As(err, &authErr)
	} else {
		c.needsReauth = false
	}
	c.stateMu.Unlock()

	if err != nil {
		return err
	}

	c.store.Replace(snap)
	return nil
}

func (c *Coordinator) fetch(ctx context.Context) (*model.Snapshot, error) {
	hubRaw, err := c.client.GetHub(ctx, c.hubID)
	if err != nil {
		return nil, errors.Wrap(err, "fetching hub")
	}
	hub := model.ParseHub(hubRaw)

	roomsRaw, err := c.client.GetRooms(ctx, c.hubID)
	if err != nil {
		return nil, errors.Wrap(err, "fetching rooms")
	}

	rooms := make(map[string]*model.Room, len(roomsRaw))
	for _, raw := range roomsRaw {
		room := model.ParseRoom(raw)
		rooms[room.ID] = &room
	}

	devicesRaw, err := c.client.GetDevices(ctx, c.hubID, true)
	if err != nil {
		return nil, errors.Wrap(err, "fetching devices")
	}

	devices := make(map[string]*model.Device, len(devicesRaw))
	for _, raw := range devicesRaw {
		device := model.ParseDevice(raw)

		// decorate against this cycle's room set only
		if room, ok := rooms[device.RoomID]; ok && device.RoomID != "" {
			device.Name = fmt.Sprintf("%s (%s)", device.Name, room.Name)
		}

		devices[device.ID] = &device
	}

	groups := map[string]*model.Group{}
	if hub.GroupsEnabled {
		for _, raw := range model.HubGroups(hubRaw) {
			group := model.ParseGroup(raw)
			groups[group.ID] = &group
		}
	}

	return &model.Snapshot{
		Hub:       &hub,
		Devices:   devices,
		Groups:    groups,
		Rooms:     rooms,
		UpdatedAt: time.Now(),
	}, nil
}

// handleEvent reconciles one queue event into the snapshot. Device
// events carrying a triggered value patch in place; everything else is
// too coarse to patch and forces a cycle.
func (c *Coordinator) handleEvent(ctx context.Context, event sqsapi.Event) {
	switch event.EventType {
	case sqsapi.EventTypeDeviceState, sqsapi.EventTypeDeviceTriggered:
		if event.DeviceID != "" && event.Triggered != nil {
			if !c.store.PatchDeviceTriggered(event.DeviceID, *event.Triggered) {
				logging.Logger(nil).Debugf("event for unknown device %s, forcing refresh", event.DeviceID)
				c.scheduledRefresh(ctx)
			}
			return
		}
		c.scheduledRefresh(ctx)

	default:
		// ARM/DISARM/NIGHT_MODE/ALARM and the rest: state changed but
		// the event carries too little detail to patch locally
		c.scheduledRefresh(ctx)
	}
}

// refreshAfterCommand runs the unconditional post-command cycle; its
// failure doesn't fail the command, the next tick will recover
func (c *Coordinator) refreshAfterCommand(ctx context.Context) {
	if err := c.Refresh(ctx); err != nil {
		logging.Logger(ctx).WithError(err).Warn("post-command refresh failed")
	}
}

func (c *Coordinator) Arm(ctx context.Context, ignoreProblems bool) error {
	if err := c.client.ArmHub(ctx, c.hubID, ignoreProblems); err != nil {
		return err
	}
	c.refreshAfterCommand(ctx)
	return nil
}

func (c *Coordinator) Disarm(ctx context.Context, ignoreProblems bool) error {
	if err := c.client.DisarmHub(ctx, c.hubID, ignoreProblems); err != nil {
		return err
	}
	c.refreshAfterCommand(ctx)
	return nil
}

func (c *Coordinator) ArmGroup(ctx context.Context, groupID string, ignoreProblems bool) error {
	if err := c.client.ArmGroup(ctx, c.hubID, groupID, ignoreProblems); err != nil {
		return err
	}
	c.refreshAfterCommand(ctx)
	return nil
}

func (c *Coordinator) DisarmGroup(ctx context.Context, groupID string, ignoreProblems bool) error {
	if err := c.client.DisarmGroup(ctx, c.hubID, groupID, ignoreProblems); err != nil {
		return err
	}
	c.refreshAfterCommand(ctx)
	return nil
}

func (c *Coordinator) SetNightMode(ctx context.Context, enabled, ignoreProblems bool) error {
	if err := c.client.SetNightMode(ctx, c.hubID, enabled, ignoreProblems); err != nil {
		return err
	}
	c.refreshAfterCommand(ctx)
	return nil
}

func (c *Coordinator) SetGroupNightMode(ctx context.Context, groupID string, enabled, ignoreProblems bool) error {
	if err := c.client.SetGroupNightMode(ctx, c.hubID, groupID, enabled, ignoreProblems); err != nil {
		return err
	}
	c.refreshAfterCommand(ctx)
	return nil
}

// SwitchDevice turns a switch/relay device on or off. The device type
// comes from the snapshot; an unknown device is an error.
func (c *Coordinator) SwitchDevice(ctx context.Context, deviceID string, on bool) error {
	snap := c.store.Get()
	if snap == nil {
		return errors.New("no snapshot yet")
	}

	device, ok := snap.Devices[deviceID]
	if !ok {
		return errors.Errorf("unknown device %s", deviceID)
	}

	if err := c.client.SwitchDevice(ctx, c.hubID, deviceID, device.DeviceType, on); err != nil {
		return err
	}
	c.refreshAfterCommand(ctx)
	return nil
}

func (c *Coordinator) Mute(ctx context.Context) error {
	if err := c.client.MuteHub(ctx, c.hubID); err != nil {
		return err
	}
	c.refreshAfterCommand(ctx)
	return nil
}

func (c *Coordinator) RestoreAfterAlarm(ctx context.Context) error {
	if err := c.client.RestoreAfterAlarm(ctx, c.hubID); err != nil {
		return err
	}
	c.refreshAfterCommand(ctx)
	return nil
}

// Spaces lists the spaces (premises) visible to the credentials, for
// discovering hub IDs before the bridge is pinned to one
func (c *Coordinator) Spaces(ctx context.Context) ([]json.RawMessage, error) {
	return c.client.GetSpaces(ctx)
}

// Credentials exposes the client's credential state for export
func (c *Coordinator) Credentials() *ajaxapi.Credentials {
	return c.client.Credentials()
}
