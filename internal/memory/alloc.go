// Package memory provides the scratchpad allocator for the mining workers.
// Cryptonight wants its 2 MiB working set on huge pages, locked into RAM and
// placed on the NUMA node that owns the worker's CPU; this package owns the
// policy around all three.
package memory

import (
	"fmt"

	sysmem "github.com/pbnjay/memory"
	"go.uber.org/zap"
)

// Mode controls how slow (scratchpad) regions are obtained. The names follow
// the classic slow_memory config option: "slow memory" means regular pages.
type Mode int

const (
	// ModeNeverUseSlow requires huge pages and mlock; allocation fails otherwise.
	ModeNeverUseSlow Mode = iota
	// ModeNoMlock requires huge pages but does not lock them.
	ModeNoMlock
	// ModeWarn tries huge pages and mlock, logs a warning on failure and
	// falls back to regular pages.
	ModeWarn
	// ModeAlwaysUseSlow uses regular pages only.
	ModeAlwaysUseSlow
)

// ParseMode parses the slow_memory config value.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "never_use":
		return ModeNeverUseSlow, nil
	case "no_mlock":
		return ModeNoMlock, nil
	case "warn", "print_warning":
		return ModeWarn, nil
	case "always_use":
		return ModeAlwaysUseSlow, nil
	}
	return 0, fmt.Errorf("unknown slow_memory setting %q", s)
}

func (m Mode) String() string {
	switch m {
	case ModeNeverUseSlow:
		return "never_use"
	case ModeNoMlock:
		return "no_mlock"
	case ModeWarn:
		return "warn"
	case ModeAlwaysUseSlow:
		return "always_use"
	}
	return "unknown"
}

// Allocator hands out scratchpad regions according to a Mode.
type Allocator struct {
	mode Mode
	log  *zap.Logger
}

// New creates an allocator with the given policy.
func New(mode Mode, log *zap.Logger) *Allocator {
	return &Allocator{mode: mode, log: log}
}

// Mode returns the allocator's policy.
func (a *Allocator) Mode() Mode { return a.mode }

// Init performs the one-time platform readiness check. In the strict modes a
// failed probe is fatal; in ModeWarn it only logs.
func (a *Allocator) Init(probeSize int) error {
	total := sysmem.TotalMemory()
	a.log.Info("memory init",
		zap.String("slow_memory", a.mode.String()),
		zap.Uint64("total_bytes", total))

	if a.mode == ModeAlwaysUseSlow {
		return nil
	}

	r, err := allocHuge(probeSize, a.mode != ModeNoMlock)
	if err != nil {
		if a.mode == ModeWarn {
			a.log.Warn("MEMORY INIT ERROR: huge pages unavailable, will fall back to regular pages",
				zap.Error(err))
			return nil
		}
		return fmt.Errorf("memory init: %w", err)
	}
	return r.Free()
}

// AllocSlow obtains one scratchpad region of the given size. It returns an
// error when the policy cannot be satisfied; in ModeWarn it logs and degrades
// to regular pages instead.
func (a *Allocator) AllocSlow(size int) (*Region, error) {
	switch a.mode {
	case ModeNeverUseSlow:
		r, err := allocHuge(size, true)
		if err != nil {
			a.log.Error("MEMORY ALLOC FAILED", zap.Error(err))
			return nil, err
		}
		return r, nil

	case ModeNoMlock:
		r, err := allocHuge(size, false)
		if err != nil {
			a.log.Error("MEMORY ALLOC FAILED", zap.Error(err))
			return nil, err
		}
		return r, nil

	case ModeWarn:
		r, err := allocHuge(size, true)
		if err == nil {
			return r, nil
		}
		a.log.Warn("MEMORY ALLOC FAILED, using regular pages", zap.Error(err))
		return allocSmall(size)

	case ModeAlwaysUseSlow:
		return allocSmall(size)
	}
	return nil, fmt.Errorf("unknown allocation mode %d", a.mode)
}

// Region is a single allocation, possibly huge-page backed and locked.
type Region struct {
	Data   []byte
	Huge   bool
	Locked bool

	mapped bool
}
