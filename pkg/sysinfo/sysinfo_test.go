package sysinfo

import (
	"context"
	"testing"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/stretchr/testify/assert"
)

func TestCollect(t *testing.T) {
	info, err := Collect(context.Background())
	if err != nil {
		t.Skipf("host probes unavailable: %v", err)
	}

	assert.Greater(t, info.CPUCores, 0)
	assert.NotEmpty(t, info.MemoryTotal)
}

func TestCPUModel(t *testing.T) {
	tests := []struct {
		name string
		in   cpu.InfoStat
		want string
	}{
		{name: "with clock", in: cpu.InfoStat{ModelName: "AMD EPYC 7B13", Mhz: 2450}, want: "AMD EPYC 7B13/2.45 GHz"},
		{name: "without clock", in: cpu.InfoStat{ModelName: "Neoverse-N1"}, want: "Neoverse-N1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cpuModel(tt.in))
		})
	}
}
