// Package pkg provides shared utilities for the USB device stack.
//
// This package contains common functionality used across the stack,
// including:
//
//   - Structured logging via [github.com/sirupsen/logrus]
//   - Sentinel error types for USB protocol and resource errors
//   - Component identifiers for log filtering
//
// # Logging
//
// The logging subsystem wraps logrus with USB-specific context:
//
//	pkg.SetLogLevel(logrus.DebugLevel)
//	pkg.LogInfo(pkg.ComponentDevice, "device configured", "config", 1)
//
// # Errors
//
// Common USB errors are defined as sentinel values:
//
//	if errors.Is(err, pkg.ErrStall) {
//	    // Handle endpoint stall
//	}
package pkg
