// Package hardware takes snapshots of local compute resources for capacity planning.
package hardware

import (
	"context"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/pictora/pictora-go/internal/errors"
	"github.com/pictora/pictora-go/internal/logging"
)

var (
	hardwareLogger     *slog.Logger
	hardwareLoggerOnce sync.Once
)

func getLogger() *slog.Logger {
	hardwareLoggerOnce.Do(func() {
		hardwareLogger = logging.ForService("hardware")
		if hardwareLogger == nil {
			hardwareLogger = slog.Default().With("service", "hardware")
		}
	})
	return hardwareLogger
}

const (
	nvidiaSmiTimeout = 5 * time.Second
	bytesPerGB       = 1024 * 1024 * 1024
)

// GPU describes one accelerator at snapshot time.
type GPU struct {
	Index       int     `json:"index"`
	Name        string  `json:"name"`
	VRAMTotalGB float64 `json:"vram_total_gb"`
	VRAMUsedGB  float64 `json:"vram_used_gb"`
	UtilPercent float64 `json:"util_percent"`
}

// FreeVRAMGB returns the VRAM currently available on the device.
func (g *GPU) FreeVRAMGB() float64 {
	return g.VRAMTotalGB - g.VRAMUsedGB
}

// Inventory is a point-in-time snapshot of local compute resources.
type Inventory struct {
	CPUCores   int     `json:"cpu_cores"`
	RAMTotalGB float64 `json:"ram_total_gb"`
	RAMUsedGB  float64 `json:"ram_used_gb"`
	GPUs       []GPU   `json:"gpus"`
}

// Snapshot inspects the host and returns the current inventory. A missing
// nvidia-smi binary yields zero GPUs, not an error.
func Snapshot(ctx context.Context) (Inventory, error) {
	inv := Inventory{}

	cores, err := cpu.CountsWithContext(ctx, true)
	if err != nil {
		return inv, errors.New(err).
			Component("hardware").
			Category(errors.CategoryConfiguration).
			Context("operation", "cpu-count").
			Build()
	}
	inv.CPUCores = cores

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return inv, errors.New(err).
			Component("hardware").
			Category(errors.CategoryConfiguration).
			Context("operation", "memory-stat").
			Build()
	}
	inv.RAMTotalGB = float64(vm.Total) / bytesPerGB
	inv.RAMUsedGB = float64(vm.Used) / bytesPerGB

	inv.GPUs = detectGPUs(ctx)
	return inv, nil
}

// detectGPUs queries nvidia-smi for the installed accelerators.
func detectGPUs(ctx context.Context) []GPU {
	queryCtx, cancel := context.WithTimeout(ctx, nvidiaSmiTimeout)
	defer cancel()

	out, err := exec.CommandContext(queryCtx, "nvidia-smi",
		"--query-gpu=index,name,memory.total,memory.used,utilization.gpu",
		"--format=csv,noheader,nounits").Output()
	if err != nil {
		getLogger().Debug("nvidia-smi not available, assuming no GPUs", "error", err)
		return nil
	}

	gpus := ParseNvidiaSmiCSV(string(out))
	getLogger().Debug("detected GPUs", "count", len(gpus))
	return gpus
}

// ParseNvidiaSmiCSV parses nvidia-smi CSV output into GPU entries.
// Malformed lines are skipped. Memory values are reported in MiB by
// nvidia-smi and converted to GB here.
func ParseNvidiaSmiCSV(out string) []GPU {
	var gpus []GPU
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		fields := strings.Split(line, ",")
		if len(fields) < 5 {
			continue
		}
		for i := range fields {
			fields[i] = strings.TrimSpace(fields[i])
		}

		index, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		totalMiB, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			continue
		}
		usedMiB, err := strconv.ParseFloat(fields[3], 64)
		if err != nil {
			continue
		}
		util, err := strconv.ParseFloat(fields[4], 64)
		if err != nil {
			util = 0
		}

		gpus = append(gpus, GPU{
			Index:       index,
			Name:        fields[1],
			VRAMTotalGB: totalMiB / 1024,
			VRAMUsedGB:  usedMiB / 1024,
			UtilPercent: util,
		})
	}
	return gpus
}
