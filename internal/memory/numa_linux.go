//go:build linux

package memory

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	mpolBind = 2
	// Kernel bitmap size for set_mempolicy; covers any realistic node count.
	numaMaxNodes = 1024
)

// NodeOf returns the NUMA node that owns the given CPU, from sysfs.
func NodeOf(cpu int) (int, error) {
	dir := fmt.Sprintf("/sys/devices/system/cpu/cpu%d", cpu)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", dir, err)
	}
	for _, e := range entries {
		if name, ok := strings.CutPrefix(e.Name(), "node"); ok {
			if node, err := strconv.Atoi(name); err == nil {
				return node, nil
			}
		}
	}
	return 0, fmt.Errorf("cpu %d has no node entry in sysfs", cpu)
}

// BindToNode restricts the calling thread's future page allocations to the
// NUMA node owning the given CPU. Must run on the worker's locked OS thread
// before any scratchpad allocation.
func BindToNode(cpu int) error {
	node, err := NodeOf(cpu)
	if err != nil {
		return err
	}

	var mask [numaMaxNodes / 64]uint64
	mask[node/64] = 1 << (uint(node) % 64)

	_, _, errno := unix.Syscall(unix.SYS_SET_MEMPOLICY,
		uintptr(mpolBind),
		uintptr(unsafe.Pointer(&mask[0])),
		uintptr(numaMaxNodes))
	if errno != 0 {
		return fmt.Errorf("set_mempolicy(node %d): %w", node, errno)
	}
	return nil
}
