package inventory

import (
	"fmt"

	"github.com/dgaddy/gpu-scheduler/internal/procs"
)

// Device represents one schedulable GPU. Devices are enumerated fresh on
// every scan and never persisted.
type Device struct {
	Index       int
	UUID        string
	Name        string
	LargeMemory bool
}

// ID returns the device's visibility-environment identifier
func (d Device) ID() string {
	return fmt.Sprintf("%d", d.Index)
}

// LockName returns the device's lock file name
func (d Device) LockName() string {
	return fmt.Sprintf("gpu%d", d.Index)
}

// Snapshot is a point-in-time view of the machine: devices, the PIDs using
// each device, and the process table
type Snapshot struct {
	Devices     []Device
	DeviceProcs map[int][]int32
	Procs       map[int32]procs.ProcessInfo
}

// CollectorError indicates that an external inventory query failed or
// returned unparsable output. Callers treat it as fatal: stale inventory
// risks double-reservation.
type CollectorError struct {
	Source string
	Err    error
}

func (e *CollectorError) Error() string {
	return fmt.Sprintf("inventory collection failed (%s): %v", e.Source, e.Err)
}

func (e *CollectorError) Unwrap() error {
	return e.Err
}
