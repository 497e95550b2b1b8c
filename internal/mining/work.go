// Package mining implements the CPU worker pool: long-lived pinned threads
// hashing a shared work item through multiway Cryptonight kernels, with a
// generation-counted publish protocol between the job source and the workers.
package mining

import (
	"encoding/binary"
	"sync/atomic"
	"time"
)

const (
	// MaxBlobSize bounds the hashing pre-image.
	MaxBlobSize = 112
	// NonceOffset is where the little-endian 32-bit nonce lives in the blob.
	NonceOffset = 39
	// comparandOffset is where the 64-bit target comparand starts inside a
	// 32-byte digest.
	comparandOffset = 24
)

// JobID is the opaque pool job identifier.
type JobID [8]byte

// WorkItem is one unit of work from the job source. It is copied by value on
// publish and on consume; workers never share its backing storage.
type WorkItem struct {
	JobID       JobID
	Blob        [MaxBlobSize]byte
	Size        int
	Target      uint64
	ResumeCount uint32
	NiceHash    bool
	PoolID      int
	Stall       bool
}

// StallWork returns the "no current work" item workers sleep on.
func StallWork() WorkItem {
	return WorkItem{Stall: true}
}

// Nonce reads the nonce slot of the blob.
func (w *WorkItem) Nonce() uint32 {
	return binary.LittleEndian.Uint32(w.Blob[NonceOffset:])
}

// SetNonce writes the nonce slot of the blob.
func (w *WorkItem) SetNonce(n uint32) {
	binary.LittleEndian.PutUint32(w.Blob[NonceOffset:], n)
}

// TrailingU64 extracts the 64-bit little-endian comparand from a 32-byte
// digest. A digest qualifies iff TrailingU64(digest) < target.
func TrailingU64(digest []byte) uint64 {
	return binary.LittleEndian.Uint64(digest[comparandOffset:])
}

// WorkSlot is the shared slot between the single publisher and the workers.
//
// Ordering: the publisher writes current, zeroes consumeCount and then
// increments generation; a worker loads generation, copies current and then
// increments consumeCount. The pre-publish wait for consumeCount ==
// threadCount guarantees no worker is still reading current when it is
// overwritten.
type WorkSlot struct {
	current      WorkItem
	generation   atomic.Uint64
	consumeCount atomic.Uint64
	threadCount  uint64
}

// NewWorkSlot creates a slot for the given number of workers, primed with
// the initial work item at generation zero.
func NewWorkSlot(initial WorkItem, threads int) *WorkSlot {
	return &WorkSlot{current: initial, threadCount: uint64(threads)}
}

// Generation returns the current job generation.
func (s *WorkSlot) Generation() uint64 { return s.generation.Load() }

// ThreadCount returns the number of workers the slot serves.
func (s *WorkSlot) ThreadCount() int { return int(s.threadCount) }

// Ready counts a worker into the current generation without consuming it.
// Called once per worker after its contexts are allocated.
func (s *WorkSlot) Ready() { s.consumeCount.Add(1) }

// Consume copies the current work out of the slot and counts the caller into
// the new generation.
func (s *WorkSlot) Consume() WorkItem {
	w := s.current
	s.consumeCount.Add(1)
	return w
}

// forcePublish bumps the generation without the consume wait. Only safe when
// every live worker is known to have consumed the current generation.
func (s *WorkSlot) forcePublish(w WorkItem) {
	s.current = w
	s.consumeCount.Store(0)
	s.generation.Add(1)
}

// Publish hands a new work item to the workers. It spin-waits until every
// worker has consumed the previous generation; the job source cannot outrun
// a 100 ms poll, pools emit jobs at a ~250 ms cadence at best.
func (s *WorkSlot) Publish(w WorkItem) {
	for s.consumeCount.Load() < s.threadCount {
		time.Sleep(100 * time.Millisecond)
	}
	s.current = w
	s.consumeCount.Store(0)
	s.generation.Add(1)
}
