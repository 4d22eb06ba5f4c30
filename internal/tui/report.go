package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/dgaddy/gpu-scheduler/internal/classify"
	"github.com/dgaddy/gpu-scheduler/internal/devlock"
	"github.com/dgaddy/gpu-scheduler/internal/inventory"
)

// BuildReport derives a status report for every device, independent of any
// request class
func BuildReport(host string, snap *inventory.Snapshot, locks classify.LockPather, holders devlock.HolderQuery) (Report, error) {
	report := Report{Host: host, Updated: time.Now()}

	for _, device := range snap.Devices {
		row := Row{
			Index: device.Index,
			Name:  device.Name,
			Class: "standard",
		}
		if device.LargeMemory {
			row.Class = "large-mem"
		}

		holder, held, err := holders.HolderPID(locks.LockPath(device))
		if err != nil {
			return Report{}, fmt.Errorf("querying lock holder for gpu %d: %w", device.Index, err)
		}

		switch {
		case held:
			row.State = StateReserved
			row.Occupant = occupantLabel(snap, holder)
		case len(snap.DeviceProcs[device.Index]) > 0:
			row.State = StateOrphaned
			row.Occupant = occupantLabel(snap, snap.DeviceProcs[device.Index][0])
		default:
			row.State = StateFree
		}

		report.Rows = append(report.Rows, row)
	}

	return report, nil
}

func occupantLabel(snap *inventory.Snapshot, pid int32) string {
	owner := "unknown"
	if info, ok := snap.Procs[pid]; ok {
		owner = info.Owner
	}
	return fmt.Sprintf("%d:%s", pid, owner)
}

// RenderPlain formats a report for one-shot, non-interactive output
func RenderPlain(report Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "GPU reservations on %s\n", report.Host)
	for _, row := range report.Rows {
		occupant := ""
		if row.Occupant != "" {
			occupant = " " + row.Occupant
		}
		fmt.Fprintf(&b, "  gpu%-3d %-28s %-10s %s%s\n", row.Index, row.Name, row.Class, row.State, occupant)
	}
	return b.String()
}
