package procs

import (
	"time"

	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/dgaddy/gpu-scheduler/internal/logging"
)

// ProcessInfo is a read-only snapshot of an OS process
type ProcessInfo struct {
	PID   int32
	Owner string
	Start time.Time
}

// Provider supplies process facts: ownership, start times, descendants
// and liveness. Implementations outside tests query the real process table.
type Provider interface {
	// Table returns owner and start time for every visible process
	Table() (map[int32]ProcessInfo, error)
	// Descendants returns pid's full process tree, including pid itself
	Descendants(pid int32) ([]int32, error)
	// Alive reports whether pid still exists
	Alive(pid int32) bool
}

// SystemProvider reads the real process table via gopsutil
type SystemProvider struct {
	logger *logging.Logger
}

// NewSystemProvider creates a provider backed by the OS process table
func NewSystemProvider(logger *logging.Logger) *SystemProvider {
	return &SystemProvider{logger: logger}
}

// Table returns owner and start time for every visible process.
// Processes that disappear mid-scan are skipped.
func (p *SystemProvider) Table() (map[int32]ProcessInfo, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, errors.Wrap(err, "listing processes")
	}

	table := make(map[int32]ProcessInfo, len(procs))
	for _, proc := range procs {
		owner, err := proc.Username()
		if err != nil {
			// Kernel threads and races with process exit
			p.logger.Debug("procs.table.skip", "Could not resolve process owner", map[string]interface{}{
				"pid":   proc.Pid,
				"error": err.Error(),
			})
			continue
		}

		createMS, err := proc.CreateTime()
		if err != nil {
			continue
		}

		table[proc.Pid] = ProcessInfo{
			PID:   proc.Pid,
			Owner: owner,
			Start: time.UnixMilli(createMS),
		}
	}

	return table, nil
}

// Descendants returns pid's full process tree, including pid itself
func (p *SystemProvider) Descendants(pid int32) ([]int32, error) {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return nil, errors.Wrapf(err, "looking up process %d", pid)
	}

	pids := []int32{pid}
	if err := p.collectChildren(proc, &pids); err != nil {
		return nil, err
	}
	return pids, nil
}

func (p *SystemProvider) collectChildren(proc *process.Process, pids *[]int32) error {
	children, err := proc.Children()
	if err != nil {
		// No children is reported as an error by gopsutil
		if errors.Is(err, process.ErrorNoChildren) {
			return nil
		}
		return errors.Wrapf(err, "listing children of %d", proc.Pid)
	}

	for _, child := range children {
		*pids = append(*pids, child.Pid)
		if err := p.collectChildren(child, pids); err != nil {
			return err
		}
	}
	return nil
}

// Alive reports whether pid still exists
func (p *SystemProvider) Alive(pid int32) bool {
	exists, err := process.PidExists(pid)
	if err != nil {
		return false
	}
	return exists
}
