// Package cryptonight defines the hashing kernel contract the mining workers
// run against, the per-lane scratchpad context, and the bundled pure-Go
// kernel implementation.
package cryptonight

import (
	"fmt"

	"github.com/shizukutanaka/tsurugi/internal/memory"
)

const (
	// ScratchpadSize is the slow working set of one Cryptonight lane.
	ScratchpadSize = 2 * 1024 * 1024
	// StateSize is the fast per-lane region (hash state and round keys).
	StateSize = 200 * 1024
)

// Context is one lane's working set: a scratchpad that wants huge pages and
// a small fast region on regular pages. In-place kernels hash inside these
// buffers; the bundled pure-Go kernel cannot (see the limitation note in
// kernel.go) and only carries them through the contract.
type Context struct {
	Scratchpad *memory.Region
	State      []byte
}

// Allocator produces and releases contexts using a memory.Allocator for the
// scratchpad half.
type Allocator struct {
	mem *memory.Allocator
}

// NewAllocator wraps a memory allocator.
func NewAllocator(mem *memory.Allocator) *Allocator {
	return &Allocator{mem: mem}
}

// Alloc obtains one context, honoring the configured slow-memory policy.
func (a *Allocator) Alloc() (*Context, error) {
	pad, err := a.mem.AllocSlow(ScratchpadSize)
	if err != nil {
		return nil, fmt.Errorf("alloc scratchpad: %w", err)
	}
	return &Context{
		Scratchpad: pad,
		State:      make([]byte, StateSize),
	}, nil
}

// Free releases a context's scratchpad.
func (a *Allocator) Free(ctx *Context) {
	if ctx == nil {
		return
	}
	ctx.Scratchpad.Free()
	ctx.State = nil
}
