//go:build linux

package memory

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// allocHuge maps an anonymous huge-page region and optionally locks it.
// Requires vm.nr_hugepages to be provisioned.
func allocHuge(size int, lock bool) (*Region, error) {
	data, err := unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_HUGETLB)
	if err != nil {
		return nil, fmt.Errorf("mmap huge pages: %w", err)
	}

	r := &Region{Data: data, Huge: true, mapped: true}
	if lock {
		if err := unix.Mlock(data); err != nil {
			unix.Munmap(data)
			return nil, fmt.Errorf("mlock: %w", err)
		}
		r.Locked = true
	}

	// Touch the first byte of every page so the kernel faults them in on the
	// caller's current NUMA policy.
	for i := 0; i < len(data); i += 4096 {
		data[i] = 0
	}
	return r, nil
}

func allocSmall(size int) (*Region, error) {
	data, err := unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("mmap: %w", err)
	}
	return &Region{Data: data, mapped: true}, nil
}

// Free releases the region. Calling it again on a freed region is a no-op.
func (r *Region) Free() error {
	if r == nil || r.Data == nil {
		return nil
	}
	data := r.Data
	r.Data = nil
	if !r.mapped {
		return nil
	}
	if r.Locked {
		unix.Munlock(data)
	}
	return unix.Munmap(data)
}
