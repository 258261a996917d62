// Package prof writes CPU and heap profiles behind the profile build
// tag.
//
// The package compiles in two shapes. Built with -tags profile, StartCPU
// and WriteHeap drive runtime/pprof; built without it every function is
// a no-op, so callers keep their profiling hooks in place at zero cost.
// Enabled tells the two apart at run time.
//
//	if err := prof.StartCPU("cpu.prof"); err != nil {
//		log.Fatal(err)
//	}
//	defer prof.StopCPU()
//
// A heap snapshot is a single call, usually at shutdown:
//
//	if err := prof.WriteHeap("heap.prof"); err != nil {
//		log.Fatal(err)
//	}
package prof
