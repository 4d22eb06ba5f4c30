package tui

import "time"

// DeviceState is a device's reservation state as shown in the status view
type DeviceState string

const (
	// StateFree means no lock holder and no device-level process
	StateFree DeviceState = "free"
	// StateOrphaned means device-level processes exist with no reservation
	StateOrphaned DeviceState = "orphaned"
	// StateReserved means a process holds the device's lock
	StateReserved DeviceState = "reserved"
)

// Row describes one device in the status report
type Row struct {
	Index    int
	Name     string
	Class    string
	State    DeviceState
	Occupant string // "pid:user" for reserved/orphaned devices
}

// Report is a one-shot view of every device's reservation state
type Report struct {
	Host    string
	Rows    []Row
	Updated time.Time
}

// RefreshFunc produces a fresh report; the live view calls it periodically
type RefreshFunc func() (Report, error)
