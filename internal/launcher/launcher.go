package launcher

import (
	"errors"
	"fmt"
	"os"

	"github.com/dgaddy/gpu-scheduler/internal/classify"
	"github.com/dgaddy/gpu-scheduler/internal/devlock"
	"github.com/dgaddy/gpu-scheduler/internal/inventory"
	"github.com/dgaddy/gpu-scheduler/internal/logging"
)

// Outcome is the result of one Launch call. Either the workload ran to
// completion under a reservation, or the request was exhausted and the
// occupant set is returned for reporting and preemption.
type Outcome struct {
	Ran       bool
	ExitCode  int
	Occupants []classify.Occupant
}

// Launcher drives the scan / acquire / run loop for one invocation
type Launcher struct {
	collector  *inventory.Collector
	classifier *classify.Classifier
	locks      *devlock.Manager
	runner     Runner
	envName    string
	inheritEnv bool
	logger     *logging.Logger
}

// NewLauncher creates a launcher. envName is the visibility variable set for
// the workload; inheritEnv additionally passes the invoking environment
// through.
func NewLauncher(collector *inventory.Collector, classifier *classify.Classifier, locks *devlock.Manager, runner Runner, envName string, inheritEnv bool, logger *logging.Logger) *Launcher {
	return &Launcher{
		collector:  collector,
		classifier: classifier,
		locks:      locks,
		runner:     runner,
		envName:    envName,
		inheritEnv: inheritEnv,
		logger:     logger,
	}
}

// Launch scans the machine, tries to reserve req.Count devices and runs
// command under the reservation. A lock lost to a concurrent process drops
// the contended device and retries; when fewer than req.Count free devices
// remain the call returns an exhausted Outcome carrying the occupant set.
func (l *Launcher) Launch(req classify.Request, command []string) (*Outcome, error) {
	snap, err := l.collector.Collect()
	if err != nil {
		return nil, err
	}

	cls, err := l.classifier.Classify(snap, req)
	if err != nil {
		return nil, err
	}

	free := cls.Free
	for len(free) >= req.Count {
		res, err := l.locks.AcquireAll(free[:req.Count])
		if err != nil {
			var race *devlock.RaceError
			if errors.As(err, &race) {
				l.logger.Info("launch.race", "Lost device to a concurrent process, retrying without it", map[string]interface{}{
					"device": race.Device.Index,
				})
				free = without(free, race.Device.Index)
				continue
			}
			return nil, err
		}

		code, err := l.run(res, command)
		return &Outcome{Ran: true, ExitCode: code}, err
	}

	l.logger.Info("launch.exhausted", "Not enough free devices", map[string]interface{}{
		"free":      len(free),
		"requested": req.Count,
	})
	return &Outcome{Occupants: cls.Occupants}, nil
}

// run executes the workload under the reservation. The reservation is
// released on every exit path.
func (l *Launcher) run(res *devlock.Reservation, command []string) (int, error) {
	defer l.locks.Release(res)

	ids := res.DeviceIDs()
	l.logger.Info("run.start", "Running workload under reservation", map[string]interface{}{
		"devices": ids,
		"command": command,
	})

	env := []string{}
	if l.inheritEnv {
		env = os.Environ()
	}
	env = append(env, fmt.Sprintf("%s=%s", l.envName, ids))

	return l.runner.Run(command, env)
}

func without(devices []inventory.Device, index int) []inventory.Device {
	kept := make([]inventory.Device, 0, len(devices))
	for _, d := range devices {
		if d.Index != index {
			kept = append(kept, d)
		}
	}
	return kept
}
