package classify

import (
	"fmt"
	"strings"
	"time"

	"github.com/dgaddy/gpu-scheduler/internal/devlock"
	"github.com/dgaddy/gpu-scheduler/internal/inventory"
	"github.com/dgaddy/gpu-scheduler/internal/logging"
)

// Request is one invocation's resource ask
type Request struct {
	LargeMemory bool
	Count       int
}

// Occupant is a derived fact about who sits on a reserved or orphaned
// device. Recomputed every scan, never persisted.
type Occupant struct {
	Device    inventory.Device
	PID       int32
	Owner     string
	Start     time.Time
	HoldsLock bool
	// Candidate marks a legal preemption target. Occupants without a lock
	// are counted in their owner's group but never selected as victims:
	// killing a lockless process frees no reservation.
	Candidate bool
}

// Classification partitions the requested class's devices into three
// disjoint sets. Devices of the wrong class are excluded entirely.
type Classification struct {
	// Free devices have no lock holder and no device-level process
	Free []inventory.Device
	// Orphaned devices have no lock holder but are actively used; they are
	// not acquirable since locking them would not actually free the device
	Orphaned []inventory.Device
	// Occupants covers every reserved device's lock holder plus every
	// orphaned device's first using process, for preemption bookkeeping
	Occupants []Occupant
}

// LockPather maps a device to its lock file path
type LockPather interface {
	LockPath(device inventory.Device) string
}

// Classifier partitions a snapshot's devices for one request
type Classifier struct {
	locks   LockPather
	holders devlock.HolderQuery
	logger  *logging.Logger
}

// NewClassifier creates a classifier
func NewClassifier(locks LockPather, holders devlock.HolderQuery, logger *logging.Logger) *Classifier {
	return &Classifier{locks: locks, holders: holders, logger: logger}
}

// Classify partitions the snapshot's matching-class devices. Free devices
// come back in index order, which keeps acquisition deterministic.
func (c *Classifier) Classify(snap *inventory.Snapshot, req Request) (*Classification, error) {
	cls := &Classification{}

	for _, device := range snap.Devices {
		if device.LargeMemory != req.LargeMemory {
			continue
		}

		holder, held, err := c.holders.HolderPID(c.locks.LockPath(device))
		if err != nil {
			return nil, fmt.Errorf("querying lock holder for gpu %d: %w", device.Index, err)
		}

		switch {
		case held:
			cls.Occupants = append(cls.Occupants, c.occupant(snap, device, holder, true))

		case len(snap.DeviceProcs[device.Index]) > 0:
			c.warnOrphaned(snap, device)
			cls.Orphaned = append(cls.Orphaned, device)
			first := snap.DeviceProcs[device.Index][0]
			cls.Occupants = append(cls.Occupants, c.occupant(snap, device, first, false))

		default:
			cls.Free = append(cls.Free, device)
		}
	}

	return cls, nil
}

func (c *Classifier) occupant(snap *inventory.Snapshot, device inventory.Device, pid int32, holdsLock bool) Occupant {
	owner := "unknown"
	var start time.Time
	if info, ok := snap.Procs[pid]; ok {
		owner = info.Owner
		start = info.Start
	}

	return Occupant{
		Device:    device,
		PID:       pid,
		Owner:     owner,
		Start:     start,
		HoldsLock: holdsLock,
		Candidate: holdsLock,
	}
}

// warnOrphaned reports processes using a device without a reservation,
// which signals a caller that bypassed the scheduler
func (c *Classifier) warnOrphaned(snap *inventory.Snapshot, device inventory.Device) {
	pairs := make([]string, 0, len(snap.DeviceProcs[device.Index]))
	for _, pid := range snap.DeviceProcs[device.Index] {
		owner := "unknown"
		if info, ok := snap.Procs[pid]; ok {
			owner = info.Owner
		}
		pairs = append(pairs, fmt.Sprintf("%d:%s", pid, owner))
	}

	c.logger.Warn("classify.orphaned", "Processes with no reservation on device", map[string]interface{}{
		"device":    device.Index,
		"processes": strings.Join(pairs, " "),
	})
}
