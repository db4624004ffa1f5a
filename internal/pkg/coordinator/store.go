package coordinator

import (
	"sync"
	"time"

	"github.com/hubwatch/ajax-bridge/internal/pkg/model"
)

// Store owns the shared snapshot. Two writers exist: the poll cycle
// replacing the snapshot wholesale, and the event listener patching a
// single device field. One mutex around read/replace/patch keeps them
// serialised; readers get a snapshot pointer that is never mutated
// after publication (patches are copy-on-write).
type Store struct {
	mu   sync.RWMutex
	snap *model.Snapshot
}

func NewStore() *Store {
	return &Store{}
}

// Get returns the current snapshot, or nil before the first successful
// poll. The returned snapshot must be treated as read-only.
func (s *Store) Get() *model.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Replace publishes a new snapshot with a single atomic swap
func (s *Store) Replace(snap *model.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = snap
}

// PatchDeviceTriggered sets one device's triggered flag and republishes.
// Returns false if there is no snapshot yet or the device is unknown.
// Setting the same value twice is a no-op, so redelivered events are
// harmless.
func (s *Store) PatchDeviceTriggered(deviceID string, triggered bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.snap == nil {
		return false
	}
	device, ok := s.snap.Devices[deviceID]
	if !ok {
		return false
	}
	if device.Triggered == triggered {
		return true
	}

	snap := s.snap.Clone()
	snap.Devices[deviceID].Triggered = triggered
	snap.UpdatedAt = time.Now()
	s.snap = snap

	return true
}
