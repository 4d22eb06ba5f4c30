//go:build !cuda

package inventory

import (
	"errors"

	"github.com/dgaddy/gpu-scheduler/internal/logging"
)

var errNoCUDA = errors.New("NVML disabled: rebuild with -tags cuda")

// NVMLProvider is a no-op device provider when NVML is unavailable
type NVMLProvider struct {
	logger *logging.Logger
}

// NewNVMLProvider creates a device provider that fails when CUDA support is
// disabled
func NewNVMLProvider(logger *logging.Logger) *NVMLProvider {
	return &NVMLProvider{logger: logger}
}

// Devices reports that NVML is unavailable in the current build
func (p *NVMLProvider) Devices() ([]Device, error) {
	if p.logger != nil {
		p.logger.Warn("inventory.nvml.disabled", "NVML enumeration skipped (built without cuda tag)", nil)
	}
	return nil, errNoCUDA
}

// DeviceProcesses reports that NVML is unavailable in the current build
func (p *NVMLProvider) DeviceProcesses() (map[int][]int32, error) {
	return nil, errNoCUDA
}
