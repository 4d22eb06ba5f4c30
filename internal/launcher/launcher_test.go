package launcher

import (
	"strings"
	"testing"
	"time"

	"github.com/dgaddy/gpu-scheduler/internal/classify"
	"github.com/dgaddy/gpu-scheduler/internal/devlock"
	"github.com/dgaddy/gpu-scheduler/internal/inventory"
	"github.com/dgaddy/gpu-scheduler/internal/logging"
	"github.com/dgaddy/gpu-scheduler/internal/procs"
)

type fakeDevices struct {
	devices []inventory.Device
	procs   map[int][]int32
}

func (f *fakeDevices) Devices() ([]inventory.Device, error)      { return f.devices, nil }
func (f *fakeDevices) DeviceProcesses() (map[int][]int32, error) { return f.procs, nil }

type fakeTable struct {
	table map[int32]procs.ProcessInfo
}

func (f *fakeTable) Table() (map[int32]procs.ProcessInfo, error) { return f.table, nil }
func (f *fakeTable) Descendants(pid int32) ([]int32, error)      { return []int32{pid}, nil }
func (f *fakeTable) Alive(pid int32) bool                        { return false }

type fakeHolders struct {
	holders map[string]int32
}

func (f *fakeHolders) HolderPID(path string) (int32, bool, error) {
	pid, ok := f.holders[path]
	return pid, ok, nil
}

type recordingRunner struct {
	command  []string
	env      []string
	exitCode int
	calls    int
}

func (r *recordingRunner) Run(command []string, env []string) (int, error) {
	r.calls++
	r.command = command
	r.env = env
	return r.exitCode, nil
}

type fixture struct {
	launcher *Launcher
	locks    *devlock.Manager
	runner   *recordingRunner
	devices  []inventory.Device
}

func newFixture(t *testing.T, deviceCount int, holders map[string]int32, deviceProcs map[int][]int32, inheritEnv bool) *fixture {
	t.Helper()
	logger := logging.NewLogger(logging.LevelError)

	devices := make([]inventory.Device, deviceCount)
	for i := range devices {
		devices[i] = inventory.Device{Index: i, Name: "GeForce RTX 2080 Ti"}
	}

	table := &fakeTable{table: map[int32]procs.ProcessInfo{
		900: {PID: 900, Owner: "carol", Start: time.Unix(500, 0)},
	}}
	collector := inventory.NewCollector(&fakeDevices{devices: devices, procs: deviceProcs}, table, "8000", logger)

	locks := devlock.NewManager(t.TempDir(), logger)
	classifier := classify.NewClassifier(locks, &fakeHolders{holders: holders}, logger)
	runner := &recordingRunner{}

	return &fixture{
		launcher: NewLauncher(collector, classifier, locks, runner, "CUDA_VISIBLE_DEVICES", inheritEnv, logger),
		locks:    locks,
		runner:   runner,
		devices:  devices,
	}
}

func TestLaunch_RunsOnFreeDevice(t *testing.T) {
	f := newFixture(t, 2, nil, nil, false)
	f.runner.exitCode = 7

	outcome, err := f.launcher.Launch(classify.Request{Count: 1}, []string{"train.sh", "--epochs", "10"})
	if err != nil {
		t.Fatalf("Launch failed: %v", err)
	}

	if !outcome.Ran || outcome.ExitCode != 7 {
		t.Errorf("Expected workload run with exit 7, got: %+v", outcome)
	}

	if f.runner.command[0] != "train.sh" {
		t.Errorf("Expected command passed through, got: %v", f.runner.command)
	}

	// Scan order is deterministic: first free device wins
	found := false
	for _, kv := range f.runner.env {
		if kv == "CUDA_VISIBLE_DEVICES=0" {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected CUDA_VISIBLE_DEVICES=0, got env: %v", f.runner.env)
	}

	// Reservation released after the workload exits
	res, err := f.locks.AcquireAll(f.devices[:1])
	if err != nil {
		t.Fatalf("Expected lock to be released after run, got: %v", err)
	}
	f.locks.Release(res)
}

func TestLaunch_MultiDeviceEnvValue(t *testing.T) {
	f := newFixture(t, 3, nil, nil, false)

	outcome, err := f.launcher.Launch(classify.Request{Count: 2}, []string{"job"})
	if err != nil {
		t.Fatal(err)
	}
	if !outcome.Ran {
		t.Fatalf("Expected run, got: %+v", outcome)
	}

	found := false
	for _, kv := range f.runner.env {
		if kv == "CUDA_VISIBLE_DEVICES=0,1" {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected comma-joined ids, got env: %v", f.runner.env)
	}
}

func TestLaunch_MinimalEnvByDefault(t *testing.T) {
	f := newFixture(t, 1, nil, nil, false)

	if _, err := f.launcher.Launch(classify.Request{Count: 1}, []string{"job"}); err != nil {
		t.Fatal(err)
	}

	if len(f.runner.env) != 1 {
		t.Errorf("Expected only the visibility variable without --inherit-env, got: %v", f.runner.env)
	}
}

func TestLaunch_InheritEnv(t *testing.T) {
	t.Setenv("GPU_RESERVE_TEST_MARKER", "1")
	f := newFixture(t, 1, nil, nil, true)

	if _, err := f.launcher.Launch(classify.Request{Count: 1}, []string{"job"}); err != nil {
		t.Fatal(err)
	}

	found := false
	for _, kv := range f.runner.env {
		if strings.HasPrefix(kv, "GPU_RESERVE_TEST_MARKER=") {
			found = true
		}
	}
	if !found {
		t.Error("Expected invoking environment to be inherited")
	}
}

func TestLaunch_RaceLossDropsDeviceAndRetries(t *testing.T) {
	f := newFixture(t, 2, nil, nil, false)

	// Another "process" grabs gpu0 between scan and acquisition: the holder
	// query saw nothing, but the flock is taken
	blocker, err := f.locks.AcquireAll(f.devices[:1])
	if err != nil {
		t.Fatal(err)
	}
	defer f.locks.Release(blocker)

	outcome, err := f.launcher.Launch(classify.Request{Count: 1}, []string{"job"})
	if err != nil {
		t.Fatalf("Launch failed: %v", err)
	}

	if !outcome.Ran {
		t.Fatalf("Expected fallback to gpu1, got: %+v", outcome)
	}

	found := false
	for _, kv := range f.runner.env {
		if kv == "CUDA_VISIBLE_DEVICES=1" {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected contended device dropped, got env: %v", f.runner.env)
	}
}

func TestLaunch_ExhaustedReturnsOccupants(t *testing.T) {
	holders := map[string]int32{} // filled below with real lock paths
	f := newFixture(t, 2, holders, nil, false)
	holders[f.locks.LockPath(f.devices[0])] = 900
	holders[f.locks.LockPath(f.devices[1])] = 900

	outcome, err := f.launcher.Launch(classify.Request{Count: 1}, []string{"job"})
	if err != nil {
		t.Fatal(err)
	}

	if outcome.Ran {
		t.Fatal("Expected exhausted outcome")
	}
	if f.runner.calls != 0 {
		t.Error("Expected no workload run on exhaustion")
	}
	if len(outcome.Occupants) != 2 {
		t.Fatalf("Expected 2 occupants, got: %v", outcome.Occupants)
	}
	if outcome.Occupants[0].Owner != "carol" {
		t.Errorf("Expected occupant owner carol, got: %s", outcome.Occupants[0].Owner)
	}
}

func TestLaunch_CountBeyondFreeIsExhausted(t *testing.T) {
	// 2 devices, one reserved: a count=2 request must end exhausted even
	// though one device is free
	holders := map[string]int32{}
	f := newFixture(t, 2, holders, nil, false)
	holders[f.locks.LockPath(f.devices[1])] = 900

	outcome, err := f.launcher.Launch(classify.Request{Count: 2}, []string{"job"})
	if err != nil {
		t.Fatal(err)
	}

	if outcome.Ran {
		t.Fatal("Expected exhaustion when free < count")
	}
}

func TestLaunch_OrphanedDeviceNotAcquired(t *testing.T) {
	// gpu0 is used without a reservation; the only acquirable device is gpu1
	f := newFixture(t, 2, nil, map[int][]int32{0: {900}}, false)

	outcome, err := f.launcher.Launch(classify.Request{Count: 1}, []string{"job"})
	if err != nil {
		t.Fatal(err)
	}
	if !outcome.Ran {
		t.Fatalf("Expected run on gpu1, got: %+v", outcome)
	}

	for _, kv := range f.runner.env {
		if kv == "CUDA_VISIBLE_DEVICES=0" {
			t.Error("Orphaned device must not be acquired")
		}
	}
}
