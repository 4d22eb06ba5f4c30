package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// LockDirEnv overrides the configured lock directory when set
	LockDirEnv = "GPU_RESERVE_LOCK_DIR"
	// DefaultDirPermissions is the default permission for lock directories
	DefaultDirPermissions = 0o750
)

// ResolveLockDir returns the lock directory from the environment or the
// configured default. It returns an absolute path when possible.
func ResolveLockDir(configured string) string {
	if env := os.Getenv(LockDirEnv); env != "" {
		if abs, err := filepath.Abs(env); err == nil {
			return abs
		}
		return env
	}
	return configured
}

// EnsureDir creates the directory if it doesn't exist.
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, DefaultDirPermissions); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}
	return nil
}
