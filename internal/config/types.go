package config

// Config represents the complete gpu-reserve configuration
type Config struct {
	LockDir           string        `yaml:"lock_dir"`
	LargeMemoryMarker string        `yaml:"large_memory_marker"`
	VisibleDevicesEnv string        `yaml:"visible_devices_env"`
	KillWaitSeconds   int           `yaml:"kill_wait_seconds"`
	Quotas            QuotaConfig   `yaml:"quotas"`
	Logging           LoggingConfig `yaml:"logging"`
}

// QuotaConfig sets the minimum reservation count a user's group must
// exceed before any of their jobs become preemptable
type QuotaConfig struct {
	Privileged    int `yaml:"privileged"`
	NonPrivileged int `yaml:"non_privileged"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Path    string
	Message string
}

func (e ValidationError) Error() string {
	return e.Path + ": " + e.Message
}
