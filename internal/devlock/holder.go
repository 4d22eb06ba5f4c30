package devlock

import (
	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/dgaddy/gpu-scheduler/internal/logging"
)

// HolderQuery reports which process currently has an open handle on a lock
// file, or none
type HolderQuery interface {
	// HolderPID returns the holding PID; ok is false when no process has
	// the file open
	HolderPID(path string) (pid int32, ok bool, err error)
}

// OpenFilesQuery finds lock holders by scanning open file tables, the same
// observation lsof -t makes: any process with the file open counts, since an
// acquirer keeps its lock file open for the lifetime of the flock.
type OpenFilesQuery struct {
	logger *logging.Logger
}

// NewOpenFilesQuery creates a holder query backed by the real process table
func NewOpenFilesQuery(logger *logging.Logger) *OpenFilesQuery {
	return &OpenFilesQuery{logger: logger}
}

// HolderPID returns the first PID with path open, warning when several are
// found (they are treated as a single arbitrary holder for policy purposes)
func (q *OpenFilesQuery) HolderPID(path string) (int32, bool, error) {
	procs, err := process.Processes()
	if err != nil {
		return 0, false, errors.Wrap(err, "listing processes")
	}

	var holders []int32
	for _, proc := range procs {
		files, err := proc.OpenFiles()
		if err != nil {
			// Other users' processes are not always inspectable
			continue
		}
		for _, f := range files {
			if f.Path == path {
				holders = append(holders, proc.Pid)
				break
			}
		}
	}

	if len(holders) == 0 {
		return 0, false, nil
	}

	if len(holders) > 1 {
		q.logger.Warn("lock.holder.multiple", "Multiple processes accessing lock file", map[string]interface{}{
			"path":    path,
			"holders": holders,
		})
	}

	return holders[0], true, nil
}
