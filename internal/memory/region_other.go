//go:build !linux

package memory

import "errors"

var errNoHugePages = errors.New("huge pages are not supported on this platform")

func allocHuge(size int, lock bool) (*Region, error) {
	return nil, errNoHugePages
}

func allocSmall(size int) (*Region, error) {
	return &Region{Data: make([]byte, size)}, nil
}

// Free releases the region.
func (r *Region) Free() error {
	if r != nil {
		r.Data = nil
	}
	return nil
}
