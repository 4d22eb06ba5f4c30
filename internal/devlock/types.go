package devlock

import (
	"fmt"
	"strings"

	"github.com/dgaddy/gpu-scheduler/internal/inventory"
)

// State tracks a lock handle's lifecycle
type State int

const (
	// Unlocked means the handle has not been acquired yet
	Unlocked State = iota
	// Held means this process owns the device's exclusive lock
	Held
	// Released means the handle was given up
	Released
)

// RaceError indicates acquisition lost to a concurrent holder. It is
// recovered locally: the launcher retries with the contended device excluded.
type RaceError struct {
	Device inventory.Device
}

func (e *RaceError) Error() string {
	return fmt.Sprintf("lock on gpu %d held by another process", e.Device.Index)
}

// Reservation is the set of lock handles held by one invocation to satisfy
// one multi-device request. It is all-or-nothing: AcquireAll either returns
// a fully held Reservation or nothing.
type Reservation struct {
	handles []*Handle
}

// Devices returns the reserved devices in acquisition order
func (r *Reservation) Devices() []inventory.Device {
	devices := make([]inventory.Device, len(r.handles))
	for i, h := range r.handles {
		devices[i] = h.device
	}
	return devices
}

// DeviceIDs returns the comma-joined device ids for the visibility
// environment value
func (r *Reservation) DeviceIDs() string {
	ids := make([]string, len(r.handles))
	for i, h := range r.handles {
		ids[i] = h.device.ID()
	}
	return strings.Join(ids, ",")
}

// Release releases every handle. Idempotent and always safe: the OS drops
// flocks on process death anyway, this is just the fast path.
func (r *Reservation) Release() {
	for _, h := range r.handles {
		h.release()
	}
}
