//go:build cuda

package inventory

import (
	"fmt"

	"github.com/NVIDIA/go-nvml/pkg/nvml"

	"github.com/dgaddy/gpu-scheduler/internal/logging"
)

// DeviceInterface defines the per-device NVML operations we use (for mocking)
type DeviceInterface interface {
	GetUUID() (string, nvml.Return)
	GetName() (string, nvml.Return)
	GetComputeRunningProcesses() ([]nvml.ProcessInfo, nvml.Return)
}

// NVMLInterface defines the NVML operations we use (for mocking)
type NVMLInterface interface {
	Init() nvml.Return
	Shutdown() nvml.Return
	DeviceGetCount() (int, nvml.Return)
	DeviceGetHandleByIndex(index int) (DeviceInterface, nvml.Return)
}

type deviceWrapper struct {
	device nvml.Device
}

func (w deviceWrapper) GetUUID() (string, nvml.Return) {
	return w.device.GetUUID()
}

func (w deviceWrapper) GetName() (string, nvml.Return) {
	return w.device.GetName()
}

func (w deviceWrapper) GetComputeRunningProcesses() ([]nvml.ProcessInfo, nvml.Return) {
	return w.device.GetComputeRunningProcesses()
}

type realNVML struct{}

func (realNVML) Init() nvml.Return     { return nvml.Init() }
func (realNVML) Shutdown() nvml.Return { return nvml.Shutdown() }

func (realNVML) DeviceGetCount() (int, nvml.Return) {
	return nvml.DeviceGetCount()
}

func (realNVML) DeviceGetHandleByIndex(index int) (DeviceInterface, nvml.Return) {
	device, ret := nvml.DeviceGetHandleByIndex(index)
	if ret != nvml.SUCCESS {
		return nil, ret
	}
	return deviceWrapper{device: device}, ret
}

// NVMLProvider enumerates devices and their compute processes via NVML
type NVMLProvider struct {
	nvml   NVMLInterface
	logger *logging.Logger
}

// NewNVMLProvider creates a provider backed by the real NVML library
func NewNVMLProvider(logger *logging.Logger) *NVMLProvider {
	return &NVMLProvider{nvml: realNVML{}, logger: logger}
}

// NewNVMLProviderWithNVML creates a provider with a custom NVML interface
// (for testing)
func NewNVMLProviderWithNVML(nvmlInterface NVMLInterface, logger *logging.Logger) *NVMLProvider {
	return &NVMLProvider{nvml: nvmlInterface, logger: logger}
}

// Devices enumerates all GPUs
func (p *NVMLProvider) Devices() ([]Device, error) {
	var devices []Device
	err := p.withNVML(func() error {
		count, ret := p.nvml.DeviceGetCount()
		if ret != nvml.SUCCESS {
			return fmt.Errorf("device count: %s", nvml.ErrorString(ret))
		}

		for i := 0; i < count; i++ {
			handle, ret := p.nvml.DeviceGetHandleByIndex(i)
			if ret != nvml.SUCCESS {
				return fmt.Errorf("device %d handle: %s", i, nvml.ErrorString(ret))
			}

			uuid, ret := handle.GetUUID()
			if ret != nvml.SUCCESS {
				return fmt.Errorf("device %d uuid: %s", i, nvml.ErrorString(ret))
			}

			name, ret := handle.GetName()
			if ret != nvml.SUCCESS {
				return fmt.Errorf("device %d name: %s", i, nvml.ErrorString(ret))
			}

			devices = append(devices, Device{Index: i, UUID: uuid, Name: name})
		}
		return nil
	})
	return devices, err
}

// DeviceProcesses maps device index to the PIDs with compute work on it
func (p *NVMLProvider) DeviceProcesses() (map[int][]int32, error) {
	procs := make(map[int][]int32)
	err := p.withNVML(func() error {
		count, ret := p.nvml.DeviceGetCount()
		if ret != nvml.SUCCESS {
			return fmt.Errorf("device count: %s", nvml.ErrorString(ret))
		}

		for i := 0; i < count; i++ {
			handle, ret := p.nvml.DeviceGetHandleByIndex(i)
			if ret != nvml.SUCCESS {
				return fmt.Errorf("device %d handle: %s", i, nvml.ErrorString(ret))
			}

			infos, ret := handle.GetComputeRunningProcesses()
			if ret != nvml.SUCCESS {
				return fmt.Errorf("device %d processes: %s", i, nvml.ErrorString(ret))
			}

			for _, info := range infos {
				procs[i] = append(procs[i], int32(info.Pid))
			}
		}
		return nil
	})
	return procs, err
}

func (p *NVMLProvider) withNVML(fn func() error) error {
	if ret := p.nvml.Init(); ret != nvml.SUCCESS {
		return fmt.Errorf("failed to initialize NVML: %s", nvml.ErrorString(ret))
	}
	defer p.nvml.Shutdown()
	return fn()
}
