package inventory

import (
	"errors"
	"testing"
	"time"

	"github.com/dgaddy/gpu-scheduler/internal/logging"
	"github.com/dgaddy/gpu-scheduler/internal/procs"
)

type fakeDevices struct {
	devices []Device
	procs   map[int][]int32
	err     error
}

func (f *fakeDevices) Devices() ([]Device, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.devices, nil
}

func (f *fakeDevices) DeviceProcesses() (map[int][]int32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.procs, nil
}

type fakeProcs struct {
	table map[int32]procs.ProcessInfo
	err   error
}

func (f *fakeProcs) Table() (map[int32]procs.ProcessInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.table, nil
}

func (f *fakeProcs) Descendants(pid int32) ([]int32, error) { return []int32{pid}, nil }
func (f *fakeProcs) Alive(pid int32) bool                   { return false }

func TestCollect_AssemblesSnapshot(t *testing.T) {
	devices := &fakeDevices{
		devices: []Device{
			{Index: 1, UUID: "GPU-b", Name: "Quadro RTX 8000"},
			{Index: 0, UUID: "GPU-a", Name: "GeForce RTX 2080 Ti"},
		},
		procs: map[int][]int32{1: {4242}},
	}
	table := &fakeProcs{
		table: map[int32]procs.ProcessInfo{
			4242: {PID: 4242, Owner: "alice", Start: time.Unix(1000, 0)},
		},
	}

	collector := NewCollector(devices, table, "8000", logging.NewLogger(logging.LevelError))

	snap, err := collector.Collect()
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}

	if len(snap.Devices) != 2 {
		t.Fatalf("Expected 2 devices, got %d", len(snap.Devices))
	}

	// Sorted by index
	if snap.Devices[0].Index != 0 || snap.Devices[1].Index != 1 {
		t.Errorf("Expected devices sorted by index, got: %v", snap.Devices)
	}

	// Class derived from name marker
	if snap.Devices[0].LargeMemory {
		t.Error("Expected 2080 Ti not to be large-memory")
	}
	if !snap.Devices[1].LargeMemory {
		t.Error("Expected RTX 8000 to be large-memory")
	}

	if snap.Procs[4242].Owner != "alice" {
		t.Errorf("Expected process table entry for alice, got: %v", snap.Procs)
	}

	if len(snap.DeviceProcs[1]) != 1 || snap.DeviceProcs[1][0] != 4242 {
		t.Errorf("Expected device 1 used by 4242, got: %v", snap.DeviceProcs)
	}
}

func TestCollect_ProviderFailureIsCollectorError(t *testing.T) {
	cases := []struct {
		name      string
		devices   DeviceProvider
		procsProv procs.Provider
		source    string
	}{
		{
			name:      "device provider fails",
			devices:   &fakeDevices{err: errors.New("nvml init failed")},
			procsProv: &fakeProcs{},
			source:    "devices",
		},
		{
			name:      "process table fails",
			devices:   &fakeDevices{},
			procsProv: &fakeProcs{err: errors.New("ps failed")},
			source:    "processes",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			collector := NewCollector(tc.devices, tc.procsProv, "8000", logging.NewLogger(logging.LevelError))

			_, err := collector.Collect()
			if err == nil {
				t.Fatal("Expected error")
			}

			var collErr *CollectorError
			if !errors.As(err, &collErr) {
				t.Fatalf("Expected *CollectorError, got: %T", err)
			}
			if collErr.Source != tc.source {
				t.Errorf("Expected source %q, got %q", tc.source, collErr.Source)
			}
		})
	}
}

func TestDevice_IDAndLockName(t *testing.T) {
	d := Device{Index: 3}
	if d.ID() != "3" {
		t.Errorf("Expected ID '3', got: %s", d.ID())
	}
	if d.LockName() != "gpu3" {
		t.Errorf("Expected lock name 'gpu3', got: %s", d.LockName())
	}
}
