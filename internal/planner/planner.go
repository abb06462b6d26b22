// Package planner turns a hardware inventory into a worker-loading plan.
//
// Plan is pure with respect to its inputs: the same inventory and limits
// always produce the same plan, which keeps capacity decisions testable.
package planner

import (
	"fmt"
	"math"
	"sort"

	"github.com/pictora/pictora-go/internal/conf"
	"github.com/pictora/pictora-go/internal/hardware"
)

// Strategy selects how accelerators are assigned worker instances.
type Strategy string

const (
	StrategyCPUOnly    Strategy = "cpu_only"
	StrategySpecific   Strategy = "specific"
	StrategyAllGPUs    Strategy = "all_gpus"
	StrategySingleBest Strategy = "single_best"
	StrategyAuto       Strategy = "auto"
)

// DeviceCPU is the device descriptor for CPU-hosted workers.
const DeviceCPU = "cpu"

// CUDADevice returns the device descriptor for a GPU index.
func CUDADevice(index int) string {
	return fmt.Sprintf("cuda:%d", index)
}

// Entry is one line of a load plan: how many instances to start on a device.
type Entry struct {
	Device string `json:"device"` // "cpu" or "cuda:N"
	Count  int    `json:"count"`
	Name   string `json:"name"` // display name for the device
}

// Limits bounds the plan. GPUEnabled and GPUInstances apply to the
// specific strategy only; a GPU missing from GPUEnabled counts as enabled.
type Limits struct {
	MaxPerGPU      int
	MaxTotal       int
	CPUInstances   int
	AllowCPU       bool
	ReservedVRAMGB float64
	InstanceVRAMGB float64 // assumed VRAM cost per instance
	MinFreeVRAMGB  float64 // free VRAM a GPU needs to qualify
	GPUEnabled     map[int]bool
	GPUInstances   map[int]int
}

// LimitsFromConfig converts vision settings into planner limits.
func LimitsFromConfig(v *conf.VisionSettings) Limits {
	lim := Limits{
		MaxPerGPU:      v.MaxPerGPU,
		MaxTotal:       v.MaxTotal,
		CPUInstances:   v.CPUInstances,
		AllowCPU:       v.AllowCPU,
		ReservedVRAMGB: v.ReservedVRAMGB,
		InstanceVRAMGB: v.InstanceVRAMGB,
		MinFreeVRAMGB:  v.MinFreeVRAMGB,
	}
	if len(v.GPUEnabled) > 0 {
		lim.GPUEnabled = make(map[int]bool, len(v.GPUEnabled))
		for key, val := range v.GPUEnabled {
			var idx int
			if _, err := fmt.Sscanf(key, "%d", &idx); err == nil {
				lim.GPUEnabled[idx] = val != 0
			}
		}
	}
	if len(v.GPUInstances) > 0 {
		lim.GPUInstances = make(map[int]int, len(v.GPUInstances))
		for key, val := range v.GPUInstances {
			var idx int
			if _, err := fmt.Sscanf(key, "%d", &idx); err == nil {
				lim.GPUInstances[idx] = val
			}
		}
	}
	return lim
}

// Plan builds a load plan for the given strategy. An empty plan means no
// usable device under the limits; callers report that as a failure result
// rather than an error.
func Plan(strategy Strategy, inv hardware.Inventory, lim Limits) []Entry {
	var plan []Entry

	switch strategy {
	case StrategyCPUOnly:
		plan = cpuPlan(lim)

	case StrategySpecific:
		for i := range inv.GPUs {
			gpu := &inv.GPUs[i]
			if enabled, ok := lim.GPUEnabled[gpu.Index]; ok && !enabled {
				continue
			}
			count := 2
			if configured, ok := lim.GPUInstances[gpu.Index]; ok {
				count = configured
			}
			count = min(count, lim.MaxPerGPU)
			if count < 1 {
				continue
			}
			plan = append(plan, Entry{Device: CUDADevice(gpu.Index), Count: count, Name: gpu.Name})
		}
		plan = cpuFallback(plan, lim)

	case StrategyAllGPUs:
		for i := range inv.GPUs {
			gpu := &inv.GPUs[i]
			if count := vramInstanceCount(gpu, lim); count > 0 {
				plan = append(plan, Entry{Device: CUDADevice(gpu.Index), Count: count, Name: gpu.Name})
			}
		}
		plan = cpuFallback(plan, lim)

	case StrategySingleBest:
		if best := bestGPU(inv.GPUs); best != nil {
			if count := vramInstanceCount(best, lim); count > 0 {
				plan = append(plan, Entry{Device: CUDADevice(best.Index), Count: count, Name: best.Name})
			}
		}
		plan = cpuFallback(plan, lim)

	case StrategyAuto:
		fallthrough
	default:
		type candidate struct {
			gpu   *hardware.GPU
			count int
		}
		var usable []candidate
		for i := range inv.GPUs {
			gpu := &inv.GPUs[i]
			if count := vramInstanceCount(gpu, lim); count > 0 {
				usable = append(usable, candidate{gpu: gpu, count: count})
			}
		}
		// Rank by free VRAM descending, index as a stable tie-break.
		sort.SliceStable(usable, func(a, b int) bool {
			fa, fb := usable[a].gpu.FreeVRAMGB(), usable[b].gpu.FreeVRAMGB()
			if fa != fb {
				return fa > fb
			}
			return usable[a].gpu.Index < usable[b].gpu.Index
		})
		for _, c := range usable {
			plan = append(plan, Entry{Device: CUDADevice(c.gpu.Index), Count: c.count, Name: c.gpu.Name})
		}
		plan = cpuFallback(plan, lim)
	}

	return capTotal(plan, lim.MaxTotal)
}

// vramInstanceCount applies the free-VRAM formula. Zero means the GPU
// does not qualify.
func vramInstanceCount(gpu *hardware.GPU, lim Limits) int {
	free := gpu.FreeVRAMGB()
	if free < lim.MinFreeVRAMGB {
		return 0
	}
	usable := free - lim.ReservedVRAMGB
	count := int(math.Floor(usable / lim.InstanceVRAMGB))
	return max(1, min(lim.MaxPerGPU, count))
}

// bestGPU picks the accelerator with the most free VRAM.
func bestGPU(gpus []hardware.GPU) *hardware.GPU {
	var best *hardware.GPU
	for i := range gpus {
		if best == nil || gpus[i].FreeVRAMGB() > best.FreeVRAMGB() {
			best = &gpus[i]
		}
	}
	return best
}

func cpuPlan(lim Limits) []Entry {
	count := min(lim.CPUInstances, lim.MaxTotal)
	if count < 1 {
		return nil
	}
	return []Entry{{Device: DeviceCPU, Count: count, Name: "CPU"}}
}

// cpuFallback appends a CPU entry when no GPU qualified and the
// configuration allows it.
func cpuFallback(plan []Entry, lim Limits) []Entry {
	if len(plan) > 0 || !lim.AllowCPU {
		return plan
	}
	return cpuPlan(lim)
}

// capTotal scales entries down proportionally (minimum 1 each) so the
// summed instance count does not exceed maxTotal.
func capTotal(plan []Entry, maxTotal int) []Entry {
	if maxTotal < 1 {
		return plan
	}
	total := 0
	for i := range plan {
		total += plan[i].Count
	}
	if total <= maxTotal {
		return plan
	}
	scale := float64(maxTotal) / float64(total)
	for i := range plan {
		plan[i].Count = max(1, int(float64(plan[i].Count)*scale))
	}
	return plan
}

// TotalInstances sums the instance counts of a plan.
func TotalInstances(plan []Entry) int {
	total := 0
	for i := range plan {
		total += plan[i].Count
	}
	return total
}

// IsCPUOnly reports whether the plan loads exclusively on CPU.
func IsCPUOnly(plan []Entry) bool {
	if len(plan) == 0 {
		return false
	}
	for i := range plan {
		if plan[i].Device != DeviceCPU {
			return false
		}
	}
	return true
}
