package devlock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/dgaddy/gpu-scheduler/internal/inventory"
	"github.com/dgaddy/gpu-scheduler/internal/logging"
)

// Handle is one advisory exclusive lock bound to a device's lock file.
// The lock file is only ever flocked, never written.
type Handle struct {
	device inventory.Device
	path   string
	file   *os.File
	state  State
}

// acquire opens the lock file and takes a non-blocking exclusive flock.
// A busy lock yields *RaceError.
func (h *Handle) acquire() error {
	file, err := os.OpenFile(h.path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("opening lock file %s: %w", h.path, err)
	}

	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = file.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return &RaceError{Device: h.device}
		}
		return fmt.Errorf("locking %s: %w", h.path, err)
	}

	h.file = file
	h.state = Held
	return nil
}

// release unlocks and closes the handle. Safe to call in any state.
func (h *Handle) release() {
	if h.state != Held {
		return
	}
	// Close drops the flock too; the explicit unlock keeps the intent clear
	_ = unix.Flock(int(h.file.Fd()), unix.LOCK_UN)
	_ = h.file.Close()
	h.state = Released
}

// Manager acquires and releases per-device advisory locks under one
// host-scoped lock directory
type Manager struct {
	dir    string
	logger *logging.Logger
}

// NewManager creates a lock manager rooted at dir
func NewManager(dir string, logger *logging.Logger) *Manager {
	return &Manager{dir: dir, logger: logger}
}

// LockPath returns the lock file path for a device
func (m *Manager) LockPath(device inventory.Device) string {
	return filepath.Join(m.dir, device.LockName())
}

// AcquireAll attempts to lock every device in sequence. On the first
// failure it releases everything already acquired in this call and returns
// the error; a *RaceError names the blocking device. A partial Reservation
// never survives this function.
func (m *Manager) AcquireAll(devices []inventory.Device) (*Reservation, error) {
	res := &Reservation{}

	for _, device := range devices {
		h := &Handle{device: device, path: m.LockPath(device)}
		if err := h.acquire(); err != nil {
			res.Release()
			return nil, err
		}
		res.handles = append(res.handles, h)

		m.logger.Debug("lock.acquired", "Device lock acquired", map[string]interface{}{
			"device": device.Index,
			"path":   h.path,
		})
	}

	return res, nil
}

// Release releases a reservation. Idempotent.
func (m *Manager) Release(res *Reservation) {
	if res == nil {
		return
	}
	res.Release()
	m.logger.Debug("lock.released", "Reservation released", map[string]interface{}{
		"devices": len(res.handles),
	})
}
