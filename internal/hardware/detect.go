// Package hardware detects the CPU topology the miner runs on and derives a
// sensible worker configuration from it.
package hardware

import (
	"fmt"

	"github.com/jaypipes/ghw"
	"github.com/klauspost/cpuid/v2"
	sysmem "github.com/pbnjay/memory"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/shizukutanaka/tsurugi/internal/config"
	"github.com/shizukutanaka/tsurugi/internal/cryptonight"
)

// Info summarizes the hardware facts the auto-configuration needs.
type Info struct {
	BrandName     string
	PhysicalCores int
	LogicalCores  int
	L3CacheBytes  int
	NUMANodes     int
	HasAES        bool
	TotalMemory   uint64
}

// Detect gathers CPU, cache and memory facts. The NUMA topology and virtual
// memory probes degrade to their fallback values with a debug log line; a
// failure to count physical or logical cores fails the whole detection.
func Detect(log *zap.Logger) (*Info, error) {
	info := &Info{
		BrandName:    cpuid.CPU.BrandName,
		L3CacheBytes: cpuid.CPU.Cache.L3,
		HasAES:       cpuid.CPU.Supports(cpuid.AESNI),
		TotalMemory:  sysmem.TotalMemory(),
		NUMANodes:    1,
	}

	physical, err := cpu.Counts(false)
	if err != nil {
		return nil, fmt.Errorf("count physical cores: %w", err)
	}
	logical, err := cpu.Counts(true)
	if err != nil {
		return nil, fmt.Errorf("count logical cores: %w", err)
	}
	info.PhysicalCores = physical
	info.LogicalCores = logical

	if topo, err := ghw.Topology(); err != nil {
		log.Debug("NUMA topology unavailable", zap.Error(err))
	} else if len(topo.Nodes) > 0 {
		info.NUMANodes = len(topo.Nodes)
	}

	if vm, err := mem.VirtualMemory(); err != nil {
		log.Debug("virtual memory stats unavailable", zap.Error(err))
	} else if info.TotalMemory == 0 {
		info.TotalMemory = vm.Total
	}

	log.Info("detected hardware",
		zap.String("cpu", info.BrandName),
		zap.Int("physical_cores", info.PhysicalCores),
		zap.Int("logical_cores", info.LogicalCores),
		zap.Int("l3_cache_bytes", info.L3CacheBytes),
		zap.Int("numa_nodes", info.NUMANodes),
		zap.Bool("aes", info.HasAES),
		zap.Uint64("total_memory", info.TotalMemory))

	if !info.HasAES {
		log.Warn("CPU has no AES-NI; Cryptonight hashing will be very slow")
	}
	return info, nil
}

// SuggestThreads derives a worker list from the detected hardware: one
// scratchpad per 2 MiB of L3, capped at the physical core count, pinned to
// every other logical CPU when SMT doubles them. Spare cache promotes the
// first workers to the double kernel.
func SuggestThreads(info *Info) []config.ThreadConfig {
	byCache := info.PhysicalCores
	if info.L3CacheBytes > 0 {
		byCache = info.L3CacheBytes / cryptonight.ScratchpadSize
	}

	n := info.PhysicalCores
	if byCache < n {
		n = byCache
	}
	if n < 1 {
		n = 1
	}

	// Pin to physically distinct cores: with 2-way SMT the even logical
	// CPUs map to separate cores.
	stride := 1
	if info.LogicalCores == 2*info.PhysicalCores {
		stride = 2
	}

	spare := byCache - n
	threads := make([]config.ThreadConfig, n)
	for i := range threads {
		width := 1
		if spare > 0 {
			width = 2
			spare--
		}
		threads[i] = config.ThreadConfig{
			Multiway:    width,
			CPUAffinity: i * stride,
		}
	}
	return threads
}
