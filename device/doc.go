// Package device implements a full-speed USB 2.0 device-side protocol
// stack in pure Go.
//
// The stack is platform-agnostic: it programs a serial interface engine
// through the [hal.Engine] interface and a shared-memory buffer
// descriptor table defined in
// [github.com/vladyst/USB-Stack/device/hal]. Each endpoint half owns a
// pair of buffer descriptors whose ownership bit hands packet buffers
// back and forth between firmware and the engine, the way full-speed
// device controllers with BDT-style DMA work. A software engine for
// tests and simulation lives in
// [github.com/vladyst/USB-Stack/device/hal/sim].
//
// # Architecture
//
//   - [Stack] runs the device state machine, the event loop, and the
//     endpoint table
//   - the control transfer engine sequences SETUP, data, and status
//     stages on endpoint zero and services the standard ch.9 requests
//   - [Handler] receives what the stack does not consume: class and
//     vendor requests, class endpoint completions, and configuration
//     changes
//   - [DescriptorSet] serves device, configuration, and string
//     descriptors; [ConfigurationBuilder] assembles configuration
//     blocks with patched totals
//
// Everything runs from [Stack.ServiceOnce], which drains the engine's
// event queue. There are no internal goroutines; callers decide whether
// servicing happens on an interrupt-style loop, a ticker, or inline
// with a test host.
//
// # Device States
//
// The stack implements the USB 2.0 visible device states:
//
//	Detached → Attached → Powered → Default → Address → Configured
//
// Suspend is carried separately so a suspended device resumes into the
// state it left. Bus reset rewinds to Default from anywhere and tears
// down the active configuration.
//
// # Transfer Types
//
// Control transfers run on endpoint zero with automatic chunking, short
// packet and zero-length-packet handling, and deferred address
// application. Bulk and interrupt endpoints move one packet per
// descriptor through [Stack.ArmIn] and [Stack.ArmOut], with data
// toggles advanced at arm time so double-buffered endpoints keep both
// descriptors in flight. Isochronous endpoints are not supported.
//
// # Zero-Allocation Design
//
// The data path allocates nothing: packet buffers live in a fixed arena
// sized at attach time, descriptors serialize via MarshalTo(buf), and
// parse functions fill caller-provided structs. Fixed-size arrays back
// the endpoint table.
//
// # Class Drivers
//
// Class packages implement [Handler] on top of the stack:
//
//   - [github.com/vladyst/USB-Stack/device/class/cdc] - CDC-ACM serial
//   - [github.com/vladyst/USB-Stack/device/class/hid] - HID keyboard
//
// # Example
//
//	eng := sim.New(hal.PingPongDisabled)
//	dev, err := device.New(device.Options{
//	    Engine:      eng,
//	    Descriptors: descriptors,
//	    Handler:     acm,
//	    Endpoints:   endpoints,
//	})
//	if err != nil {
//	    return err
//	}
//	if err := dev.Attach(); err != nil {
//	    return err
//	}
//	for {
//	    dev.ServiceOnce()
//	}
package device
