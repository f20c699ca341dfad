package sysinfo

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/cuemby/xnode/pkg/types"
)

// Collect summarizes the host CPU and memory. Any probe that fails leaves
// its fields zero; the returned error reports the first failure.
func Collect(ctx context.Context) (types.SystemInfo, error) {
	var info types.SystemInfo
	var firstErr error

	cores, err := cpu.CountsWithContext(ctx, true)
	if err != nil {
		firstErr = fmt.Errorf("failed to count cpus: %w", err)
	} else {
		info.CPUCores = cores
	}

	cpus, err := cpu.InfoWithContext(ctx)
	if err != nil {
		if firstErr == nil {
			firstErr = fmt.Errorf("failed to read cpu info: %w", err)
		}
	} else if len(cpus) > 0 {
		info.CPUModel = cpuModel(cpus[0])
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		if firstErr == nil {
			firstErr = fmt.Errorf("failed to read memory info: %w", err)
		}
	} else {
		info.MemoryTotal = humanize.Bytes(vm.Total)
	}

	return info, firstErr
}

func cpuModel(c cpu.InfoStat) string {
	if c.Mhz <= 0 {
		return c.ModelName
	}
	return fmt.Sprintf("%s/%.2f GHz", c.ModelName, c.Mhz/1000)
}
