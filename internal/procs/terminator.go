package procs

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/dgaddy/gpu-scheduler/internal/logging"
)

// Signaller delivers a signal to a PID or, for negative values, a process group
type Signaller func(pid int32, sig unix.Signal) error

func defaultSignaller(pid int32, sig unix.Signal) error {
	return unix.Kill(int(pid), sig)
}

// Terminator tears down a victim's process tree with a single group signal
// and a bounded liveness wait. It never re-signals within one call.
type Terminator struct {
	procs  Provider
	signal Signaller
	poll   time.Duration
	logger *logging.Logger
}

// NewTerminator creates a terminator using real signal delivery
func NewTerminator(procs Provider, logger *logging.Logger) *Terminator {
	return &Terminator{
		procs:  procs,
		signal: defaultSignaller,
		poll:   time.Second,
		logger: logger,
	}
}

// NewTerminatorWithSignaller creates a terminator with a custom signaller
// and poll interval (for testing)
func NewTerminatorWithSignaller(procs Provider, signal Signaller, poll time.Duration, logger *logging.Logger) *Terminator {
	return &Terminator{
		procs:  procs,
		signal: signal,
		poll:   poll,
		logger: logger,
	}
}

// Terminate sends SIGTERM once to victim's process group, then polls the
// liveness of its full descendant tree up to maxWait seconds. It returns the
// PIDs still running at the deadline; an empty result means full termination.
func (t *Terminator) Terminate(victim int32, maxWait int) ([]int32, error) {
	tree, err := t.procs.Descendants(victim)
	if err != nil {
		return nil, fmt.Errorf("enumerating process tree of %d: %w", victim, err)
	}

	t.logger.Info("terminate.signal", "Sending SIGTERM to process group", map[string]interface{}{
		"victim": victim,
		"tree":   tree,
	})

	if err := t.signal(-victim, unix.SIGTERM); err != nil {
		return nil, fmt.Errorf("signalling process group %d: %w", victim, err)
	}

	for waited := 0; ; waited++ {
		survivors := t.alive(tree)
		if len(survivors) == 0 {
			t.logger.Info("terminate.done", "Process tree fully terminated", map[string]interface{}{
				"victim": victim,
			})
			return nil, nil
		}

		if waited >= maxWait {
			t.logger.Warn("terminate.partial", "Processes still running after wait", map[string]interface{}{
				"victim":    victim,
				"survivors": survivors,
			})
			return survivors, nil
		}

		time.Sleep(t.poll)
	}
}

func (t *Terminator) alive(pids []int32) []int32 {
	var alive []int32
	for _, pid := range pids {
		if t.procs.Alive(pid) {
			alive = append(alive, pid)
		}
	}
	return alive
}
