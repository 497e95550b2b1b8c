//go:build darwin

// Package affinity pins worker threads to CPUs. Callers must hold the OS
// thread with runtime.LockOSThread before pinning.
package affinity

// Advisory reports whether pinning on this platform is only a scheduler hint.
// macOS exposes affinity tags, not hard binding, so the placement request is
// a hint the scheduler may ignore.
const Advisory = true

// Pin does nothing on macOS and returns nil; the Go runtime offers no access
// to the mach thread policy port, so no placement hint is set.
func Pin(cpu int) error {
	return nil
}
