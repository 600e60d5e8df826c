package worker

import (
	"fmt"

	"github.com/kunal/gpu-warp-router/pkg/config"
	"github.com/kunal/gpu-warp-router/pkg/device"
	"github.com/kunal/gpu-warp-router/pkg/warp"
	"github.com/kunal/gpu-warp-router/pkg/worker/executor"
)

// NewExecutor builds the warp executor selected by EXECUTOR_TYPE.
// "device" runs on a simulated device with DEVICE_UNITS parallel units;
// "reference" runs the same engine on a single unit, which makes every
// batch deterministic in ordering and easy to profile.
func NewExecutor(cfg *config.Config) (executor.WarpExecutor, error) {
	units := cfg.DeviceUnits
	switch cfg.ExecutorType {
	case "device", "":
	case "reference":
		units = 1
	default:
		return nil, fmt.Errorf("unknown executor type %q", cfg.ExecutorType)
	}

	dev := device.New(device.Options{
		Name:        cfg.WorkerID + "-" + cfg.ExecutorType,
		Units:       units,
		MemoryBytes: cfg.DeviceMemoryMB << 20,
	})
	opts := engineOptions(cfg)
	name := cfg.ExecutorType + "/" + cfg.BorderMode

	switch cfg.BorderMode {
	case "constant", "":
		if cfg.BorderValue < 0 || cfg.BorderValue > 255 {
			return nil, fmt.Errorf("border value %d out of range [0, 255]", cfg.BorderValue)
		}
		return executor.NewDevice(name, dev, opts, warp.ConstantBorder{Value: uint8(cfg.BorderValue)})
	case "clamp":
		return executor.NewDevice(name, dev, opts, warp.ClampBorder{})
	case "wrap":
		return executor.NewDevice(name, dev, opts, warp.WrapBorder{})
	}
	return nil, fmt.Errorf("unknown border mode %q", cfg.BorderMode)
}

func engineOptions(cfg *config.Config) warp.Options {
	opts := warp.DefaultOptions()
	if cfg.TileW > 0 && cfg.TileH > 0 {
		opts.TileSize = warp.Extent{W: cfg.TileW, H: cfg.TileH}
	}
	if cfg.UnitW > 0 && cfg.UnitH > 0 {
		opts.UnitSize = warp.Extent{W: cfg.UnitW, H: cfg.UnitH}
	}
	return opts
}
