package cryptonight

import (
	cn "ekyu.moe/cryptonight"
)

// HashFn is the kernel contract. The input buffer holds width consecutive
// pre-images of size bytes each; the kernel writes width*32 digest bytes to
// output. ctxs supplies one allocator-backed working set per lane: in-place
// kernels use ctxs[i].Scratchpad.Data and ctxs[i].State as lane i's memory.
type HashFn func(input []byte, size int, output []byte, ctxs []*Context)

// DigestSize is the per-lane output size.
const DigestSize = 32

// Widths lists the supported multiway kernel widths in ascending order.
var Widths = []int{1, 2, 4, 5, 6}

// Kernel returns the hashing function for the given multiway width.
func Kernel(width int) (HashFn, bool) {
	switch width {
	case 1, 2, 4, 5, 6:
		return multiway(width), true
	}
	return nil, false
}

// multiway builds an N-lane kernel over the bundled implementation.
//
// LIMITATION: ekyu.moe/cryptonight offers no way to supply the working
// buffer, so this kernel hashes in its own pooled memory and leaves ctxs
// untouched — the lane scratchpads are NOT the bytes this implementation
// walks, and their huge-page/NUMA placement does not reach it. Replacing
// this adapter with an in-place kernel restores that placement; the worker
// loop, allocator and contract are already shaped for one.
func multiway(n int) HashFn {
	return func(input []byte, size int, output []byte, ctxs []*Context) {
		for i := 0; i < n; i++ {
			sum := cn.Sum(input[i*size:(i+1)*size], 0)
			copy(output[i*DigestSize:(i+1)*DigestSize], sum)
		}
	}
}
