//go:build !linux && !darwin

// Package affinity pins worker threads to CPUs. Callers must hold the OS
// thread with runtime.LockOSThread before pinning.
package affinity

import "errors"

// Advisory reports whether pinning on this platform is only a scheduler hint.
const Advisory = false

// Pin is unavailable on this platform.
func Pin(cpu int) error {
	return errors.New("thread affinity not supported on this platform")
}
