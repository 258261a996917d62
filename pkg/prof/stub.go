//go:build !profile

package prof

// ErrActive is returned by StartCPU while an earlier profile is still
// running. Without the profile build tag it is never returned.
var ErrActive error

// Enabled reports whether the binary carries profiling support.
func Enabled() bool { return false }

// StartCPU does nothing without the profile build tag.
func StartCPU(string) error { return nil }

// StopCPU does nothing without the profile build tag.
func StopCPU() {}

// WriteHeap does nothing without the profile build tag.
func WriteHeap(string) error { return nil }
