package config

import "fmt"

// Validate checks if the configuration is valid
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	if c.LockDir == "" {
		errors = append(errors, ValidationError{
			Path:    "lock_dir",
			Message: "must not be empty",
		})
	}

	if c.LargeMemoryMarker == "" {
		errors = append(errors, ValidationError{
			Path:    "large_memory_marker",
			Message: "must not be empty",
		})
	}

	if c.VisibleDevicesEnv == "" {
		errors = append(errors, ValidationError{
			Path:    "visible_devices_env",
			Message: "must not be empty",
		})
	}

	if c.KillWaitSeconds < 1 {
		errors = append(errors, ValidationError{
			Path:    "kill_wait_seconds",
			Message: fmt.Sprintf("must be at least 1, got %d", c.KillWaitSeconds),
		})
	}

	if c.Quotas.Privileged < 0 {
		errors = append(errors, ValidationError{
			Path:    "quotas.privileged",
			Message: fmt.Sprintf("must be non-negative, got %d", c.Quotas.Privileged),
		})
	}

	if c.Quotas.NonPrivileged < 0 {
		errors = append(errors, ValidationError{
			Path:    "quotas.non_privileged",
			Message: fmt.Sprintf("must be non-negative, got %d", c.Quotas.NonPrivileged),
		})
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLevels, c.Logging.Level) {
		errors = append(errors, ValidationError{
			Path:    "logging.level",
			Message: fmt.Sprintf("must be one of %v, got '%s'", validLevels, c.Logging.Level),
		})
	}

	return errors
}

// contains checks if a string is in a slice
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
