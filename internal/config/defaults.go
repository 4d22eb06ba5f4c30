package config

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() Config {
	return Config{
		LockDir:           "/var/lib/gpu-reserve/locks",
		LargeMemoryMarker: "8000",
		VisibleDevicesEnv: "CUDA_VISIBLE_DEVICES",
		KillWaitSeconds:   30,
		Quotas: QuotaConfig{
			Privileged:    1,
			NonPrivileged: 0,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}
