package launcher

import (
	"errors"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/dgaddy/gpu-scheduler/internal/logging"
)

// Runner spawns the reserved workload and waits for it
type Runner interface {
	// Run executes command with exactly env as its environment and returns
	// the exit status
	Run(command []string, env []string) (int, error)
}

// ExecRunner runs the workload in its own process group and forwards
// operator interrupts to that group explicitly, since default signal
// propagation is not guaranteed once the child is re-grouped.
type ExecRunner struct {
	logger *logging.Logger
}

// NewExecRunner creates a runner backed by os/exec
func NewExecRunner(logger *logging.Logger) *ExecRunner {
	return &ExecRunner{logger: logger}
}

// Run spawns command and blocks until it exits. SIGINT and SIGTERM received
// while waiting are delivered to the workload's process group; the wait
// still completes normally so the caller releases its reservation on the
// way out.
func (r *ExecRunner) Run(command []string, env []string) (int, error) {
	cmd := exec.Command(command[0], command[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = env
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return 1, err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	for {
		select {
		case sig := <-sigCh:
			r.logger.Info("run.interrupt", "Forwarding signal to workload process group", map[string]interface{}{
				"signal": sig.String(),
				"pgid":   cmd.Process.Pid,
			})
			if s, ok := sig.(syscall.Signal); ok {
				_ = unix.Kill(-cmd.Process.Pid, unix.Signal(s))
			}

		case err := <-done:
			return exitStatus(err)
		}
	}
}

func exitStatus(err error) (int, error) {
	if err == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return 128 + int(ws.Signal()), nil
		}
		return exitErr.ExitCode(), nil
	}

	return 1, err
}
