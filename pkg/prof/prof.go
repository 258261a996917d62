//go:build profile

package prof

import (
	"errors"
	"os"
	"runtime"
	"runtime/pprof"
	"sync"
)

// ErrActive is returned by StartCPU while an earlier profile is still
// running.
var ErrActive = errors.New("cpu profile already active")

var (
	mu      sync.Mutex
	cpuFile *os.File
)

// Enabled reports whether the binary carries profiling support.
func Enabled() bool { return true }

// StartCPU begins sampling CPU time to the file at path. The profile
// runs until StopCPU; only one can run at a time.
func StartCPU(path string) error {
	mu.Lock()
	defer mu.Unlock()
	if cpuFile != nil {
		return ErrActive
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		f.Close()
		return err
	}
	cpuFile = f
	return nil
}

// StopCPU flushes and closes the running CPU profile. Calling it with
// no profile running does nothing.
func StopCPU() {
	mu.Lock()
	defer mu.Unlock()
	if cpuFile == nil {
		return
	}
	pprof.StopCPUProfile()
	cpuFile.Close()
	cpuFile = nil
}

// WriteHeap collects garbage and then writes the live heap profile to
// the file at path.
func WriteHeap(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	runtime.GC()
	if err := pprof.Lookup("heap").WriteTo(f, 0); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
