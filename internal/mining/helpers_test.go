package mining

import (
	"encoding/binary"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/shizukutanaka/tsurugi/internal/cryptonight"
)

// fakeAlloc hands out contexts without touching the real allocator; the
// bundled and mocked kernels both manage their own working sets.
type fakeAlloc struct {
	fail    bool
	allocs  atomic.Int64
	frees   atomic.Int64
	failAt  int64
	limited bool
}

func (f *fakeAlloc) Alloc() (*cryptonight.Context, error) {
	n := f.allocs.Add(1)
	if f.fail || (f.limited && n > f.failAt) {
		return nil, errAllocFailed
	}
	return &cryptonight.Context{State: make([]byte, 32)}, nil
}

func (f *fakeAlloc) Free(ctx *cryptonight.Context) {
	f.frees.Add(1)
}

var errAllocFailed = errors.New("scratchpad allocation failed")

// recordingKernel captures every nonce it is invoked with and writes the
// nonce value into each lane's trailing comparand, so tests steer solutions
// with the target alone.
type recordingKernel struct {
	mu     sync.Mutex
	nonces []uint32
	calls  atomic.Uint64
	delay  func()
}

func (k *recordingKernel) fn(width int) cryptonight.HashFn {
	return func(input []byte, size int, output []byte, ctxs []*cryptonight.Context) {
		k.calls.Add(1)
		if k.delay != nil {
			k.delay()
		}
		k.mu.Lock()
		for i := 0; i < width; i++ {
			nonce := binary.LittleEndian.Uint32(input[i*size+NonceOffset:])
			k.nonces = append(k.nonces, nonce)
			digest := output[i*cryptonight.DigestSize : (i+1)*cryptonight.DigestSize]
			binary.LittleEndian.PutUint64(digest[comparandOffset:], uint64(nonce))
		}
		k.mu.Unlock()
	}
}

func (k *recordingKernel) provider() KernelProvider {
	return func(width int) (cryptonight.HashFn, bool) {
		switch width {
		case 1, 2, 4, 5, 6:
			return k.fn(width), true
		}
		return nil, false
	}
}

func (k *recordingKernel) recorded() []uint32 {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make([]uint32, len(k.nonces))
	copy(out, k.nonces)
	return out
}

// collectSink gathers solutions with their arrival order preserved.
type collectSink struct {
	mu        sync.Mutex
	solutions []Solution
}

func (c *collectSink) PushSolution(s Solution) {
	c.mu.Lock()
	c.solutions = append(c.solutions, s)
	c.mu.Unlock()
}

func (c *collectSink) all() []Solution {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Solution, len(c.solutions))
	copy(out, c.solutions)
	return out
}

func (c *collectSink) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.solutions)
}

// testWork builds a non-stall work item with a recognizable job id.
func testWork(id byte, target uint64) WorkItem {
	w := WorkItem{
		Size:   76,
		Target: target,
	}
	w.JobID = JobID{id, id, id, id, id, id, id, id}
	return w
}
