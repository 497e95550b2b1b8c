//go:build linux

// Package affinity pins worker threads to CPUs. Callers must hold the OS
// thread with runtime.LockOSThread before pinning.
package affinity

import "golang.org/x/sys/unix"

// Advisory reports whether pinning on this platform is only a scheduler hint.
const Advisory = false

// Pin binds the calling thread to exactly one CPU.
func Pin(cpu int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	return unix.SchedSetaffinity(0, &set)
}
