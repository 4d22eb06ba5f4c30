package inventory

import (
	"sort"
	"strings"

	"github.com/dgaddy/gpu-scheduler/internal/logging"
	"github.com/dgaddy/gpu-scheduler/internal/procs"
)

// DeviceProvider enumerates GPU devices and the PIDs currently using them
type DeviceProvider interface {
	Devices() ([]Device, error)
	// DeviceProcesses maps device index to the PIDs with compute work on it
	DeviceProcesses() (map[int][]int32, error)
}

// Collector assembles a point-in-time Snapshot from the device and process
// providers
type Collector struct {
	devices DeviceProvider
	procs   procs.Provider
	marker  string
	logger  *logging.Logger
}

// NewCollector creates a collector. marker tags devices whose name contains
// it as large-memory.
func NewCollector(devices DeviceProvider, procInfo procs.Provider, marker string, logger *logging.Logger) *Collector {
	return &Collector{
		devices: devices,
		procs:   procInfo,
		marker:  marker,
		logger:  logger,
	}
}

// Collect queries all providers and assembles a Snapshot. Any provider
// failure yields a *CollectorError; there is no partial result.
func (c *Collector) Collect() (*Snapshot, error) {
	devices, err := c.devices.Devices()
	if err != nil {
		return nil, &CollectorError{Source: "devices", Err: err}
	}

	deviceProcs, err := c.devices.DeviceProcesses()
	if err != nil {
		return nil, &CollectorError{Source: "device_processes", Err: err}
	}

	table, err := c.procs.Table()
	if err != nil {
		return nil, &CollectorError{Source: "processes", Err: err}
	}

	for i := range devices {
		devices[i].LargeMemory = strings.Contains(devices[i].Name, c.marker)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].Index < devices[j].Index })

	c.logger.Debug("inventory.collected", "Inventory snapshot assembled", map[string]interface{}{
		"devices":   len(devices),
		"processes": len(table),
	})

	return &Snapshot{
		Devices:     devices,
		DeviceProcs: deviceProcs,
		Procs:       table,
	}, nil
}
