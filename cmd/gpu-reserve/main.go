package main

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"os/user"
	"path/filepath"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"

	"github.com/dgaddy/gpu-scheduler/internal/classify"
	"github.com/dgaddy/gpu-scheduler/internal/config"
	"github.com/dgaddy/gpu-scheduler/internal/devlock"
	"github.com/dgaddy/gpu-scheduler/internal/fsutil"
	"github.com/dgaddy/gpu-scheduler/internal/inventory"
	"github.com/dgaddy/gpu-scheduler/internal/launcher"
	"github.com/dgaddy/gpu-scheduler/internal/logging"
	"github.com/dgaddy/gpu-scheduler/internal/preempt"
	"github.com/dgaddy/gpu-scheduler/internal/procs"
	"github.com/dgaddy/gpu-scheduler/internal/tui"
	"github.com/dgaddy/gpu-scheduler/internal/users"
)

const version = "0.1.0"

// Exit codes: the workload's own status is propagated after a run; these
// cover the paths where no workload ran.
const (
	exitOK            = 0
	exitError         = 1
	exitNoReservation = 2
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "status":
			runStatus(os.Args[2:])
			return
		case "version", "--version":
			fmt.Printf("gpu-reserve version %s\n", version)
			return
		case "help", "--help", "-h":
			printUsage()
			return
		}
	}

	runReserve(os.Args[1:])
}

func printUsage() {
	fmt.Println(`gpu-reserve - reserve GPUs on a shared host and run a command

Usage:
  gpu-reserve [flags] command [args...]
  gpu-reserve status [--once]
  gpu-reserve version

Flags:
  --large-mem          request a gpu with extra memory
  -n, --gpus N         number of gpus to reserve (default 1)
  --inherit-env        pass the invoking environment to the workload
  --kill-wait SECONDS  wait this long for a preempted job to exit
  --config PATH        load configuration from PATH
  -v, --verbose        debug logging

The reserved gpu indexes are exported to the workload via the visibility
variable (CUDA_VISIBLE_DEVICES by default). When every matching gpu is
reserved, privileged callers are offered a single preemption.`)
}

// deps is the wired-up component set for one invocation
type deps struct {
	cfg        config.Config
	logger     *logging.Logger
	host       string
	hostDir    string
	collector  *inventory.Collector
	locks      *devlock.Manager
	holders    devlock.HolderQuery
	classifier *classify.Classifier
	procs      *procs.SystemProvider
}

func buildDeps(configPath string, verbose bool) (*deps, error) {
	var cfg config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFrom(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	level := logging.ParseLevel(cfg.Logging.Level)
	if verbose {
		level = logging.LevelDebug
	}
	logger := logging.NewLogger(level)

	host, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("determining hostname: %w", err)
	}

	hostDir := filepath.Join(fsutil.ResolveLockDir(cfg.LockDir), host)
	if err := fsutil.EnsureDir(hostDir); err != nil {
		return nil, err
	}

	procProvider := procs.NewSystemProvider(logger)
	locks := devlock.NewManager(hostDir, logger)
	holders := devlock.NewOpenFilesQuery(logger)

	return &deps{
		cfg:        cfg,
		logger:     logger,
		host:       host,
		hostDir:    hostDir,
		collector:  inventory.NewCollector(inventory.NewNVMLProvider(logger), procProvider, cfg.LargeMemoryMarker, logger),
		locks:      locks,
		holders:    holders,
		classifier: classify.NewClassifier(locks, holders, logger),
		procs:      procProvider,
	}, nil
}

func runReserve(args []string) {
	flags := pflag.NewFlagSet("gpu-reserve", pflag.ExitOnError)
	flags.SetInterspersed(false)
	largeMem := flags.Bool("large-mem", false, "request a gpu with extra memory")
	count := flags.IntP("gpus", "n", 1, "number of gpus to reserve")
	inheritEnv := flags.Bool("inherit-env", false, "pass the invoking environment to the workload")
	killWait := flags.Int("kill-wait", 0, "seconds to wait for a preempted job to exit (overrides config)")
	configPath := flags.String("config", "", "load configuration from this path")
	verbose := flags.BoolP("verbose", "v", false, "debug logging")
	flags.Usage = printUsage

	if err := flags.Parse(args); err != nil {
		os.Exit(exitError)
	}

	command := flags.Args()
	if len(command) == 0 {
		fmt.Fprintln(os.Stderr, "No command given")
		printUsage()
		os.Exit(exitError)
	}

	if *count < 1 {
		fmt.Fprintln(os.Stderr, "--gpus must be at least 1")
		os.Exit(exitError)
	}

	d, err := buildDeps(*configPath, *verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitError)
	}

	req := classify.Request{LargeMemory: *largeMem, Count: *count}
	run := launcher.NewLauncher(d.collector, d.classifier, d.locks, launcher.NewExecRunner(d.logger), d.cfg.VisibleDevicesEnv, *inheritEnv, d.logger)

	outcome, err := run.Launch(req, command)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitError)
	}
	if outcome.Ran {
		os.Exit(outcome.ExitCode)
	}

	// Exhausted: report who sits on the devices, then consider preemption
	fmt.Println("All gpus reserved")
	printOwnerCounts(outcome.Occupants)

	wait := d.cfg.KillWaitSeconds
	if *killWait > 0 {
		wait = *killWait
	}

	if !attemptPreemption(d, req, outcome.Occupants, wait) {
		os.Exit(exitNoReservation)
	}

	// The freed device should now be lock-free; one more round from scan
	outcome, err = run.Launch(req, command)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitError)
	}
	if outcome.Ran {
		os.Exit(outcome.ExitCode)
	}

	fmt.Println("No gpu became free after preemption")
	os.Exit(exitNoReservation)
}

// attemptPreemption runs the single preemption round. It returns true only
// when a victim was fully terminated and a retry is worthwhile.
func attemptPreemption(d *deps, req classify.Request, occupants []classify.Occupant, killWait int) bool {
	caller, err := currentUser()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return false
	}

	privileged, err := users.Load(filepath.Join(d.hostDir, users.PrivilegedFileName))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return false
	}

	quotas := preempt.Quotas{
		Privileged:    d.cfg.Quotas.Privileged,
		NonPrivileged: d.cfg.Quotas.NonPrivileged,
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	policy := preempt.NewPolicy(quotas, privileged, rng, d.logger)

	ok, reason := policy.CanAttempt(caller, req, occupants)
	if !ok {
		fmt.Printf("Preemption not attempted: %s\n", reason)
		return false
	}

	victim, err := policy.SelectVictim(occupants)
	if err != nil {
		if errors.Is(err, preempt.ErrNoEligibleVictim) {
			fmt.Println("Preemption not possible: no user is over quota with a preemptable job")
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return false
	}

	prompt := fmt.Sprintf("Preempt %s's job (pid %d on gpu %d, started %s)? Type 'yes' to confirm: ",
		victim.Owner, victim.PID, victim.Device.Index, victim.Start.Format(time.RFC3339))
	confirmed, err := (preempt.StdinConfirmer{}).Confirm(prompt)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return false
	}
	if !confirmed {
		fmt.Println("Preemption declined, nothing killed")
		return false
	}

	terminator := procs.NewTerminator(d.procs, d.logger)
	survivors, err := terminator.Terminate(victim.PID, killWait)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return false
	}
	if len(survivors) > 0 {
		fmt.Printf("Still running after %ds: %s (manual intervention required)\n", killWait, joinPIDs(survivors))
		return false
	}

	return true
}

func runStatus(args []string) {
	flags := pflag.NewFlagSet("gpu-reserve status", pflag.ExitOnError)
	once := flags.Bool("once", false, "print the current state and exit")
	configPath := flags.String("config", "", "load configuration from this path")
	verbose := flags.BoolP("verbose", "v", false, "debug logging")

	if err := flags.Parse(args); err != nil {
		os.Exit(exitError)
	}

	d, err := buildDeps(*configPath, *verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitError)
	}

	refresh := func() (tui.Report, error) {
		snap, err := d.collector.Collect()
		if err != nil {
			return tui.Report{}, err
		}
		return tui.BuildReport(d.host, snap, d.locks, d.holders)
	}

	if *once {
		report, err := refresh()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(exitError)
		}
		fmt.Print(tui.RenderPlain(report))
		return
	}

	if _, err := tea.NewProgram(tui.NewModel(refresh)).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitError)
	}
}

func currentUser() (string, error) {
	u, err := user.Current()
	if err != nil {
		return "", fmt.Errorf("determining current user: %w", err)
	}
	return u.Username, nil
}

// printOwnerCounts prints the reservation counts per user, most first
func printOwnerCounts(occupants []classify.Occupant) {
	if len(occupants) == 0 {
		return
	}

	counts := map[string]int{}
	for _, o := range occupants {
		counts[o.Owner]++
	}

	owners := make([]string, 0, len(counts))
	for owner := range counts {
		owners = append(owners, owner)
	}
	sort.Slice(owners, func(i, j int) bool {
		if counts[owners[i]] != counts[owners[j]] {
			return counts[owners[i]] > counts[owners[j]]
		}
		return owners[i] < owners[j]
	})

	parts := make([]string, len(owners))
	for i, owner := range owners {
		parts[i] = fmt.Sprintf("%s=%d", owner, counts[owner])
	}
	fmt.Printf("Users with a reservation: %s\n", strings.Join(parts, " "))
}

func joinPIDs(pids []int32) string {
	parts := make([]string, len(pids))
	for i, pid := range pids {
		parts[i] = fmt.Sprintf("%d", pid)
	}
	return strings.Join(parts, " ")
}
