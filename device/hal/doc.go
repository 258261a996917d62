// Package hal defines the hardware boundary of the USB device stack: a
// buffer-descriptor-table model of a full-speed device controller.
//
// # Buffer Descriptors
//
// All packet traffic flows through [BD] entries in a shared [BDT]. Each
// endpoint number owns four descriptors: one per direction and ping-pong
// slot. Firmware arms a descriptor by pointing it at arena bytes,
// setting the toggle and handshake bits, and handing it over with
// [BDOwn]; the engine completes it by writing the byte count and token
// PID back and clearing [BDOwn]. Neither side touches a descriptor the
// other owns.
//
// # Ping-Pong Buffering
//
// The [PingPong] policy fixes, per endpoint half, whether both slots are
// in play or only Even. The engine advances its own next-slot pointer on
// each successful transaction; the stack tracks the same alternation
// from completion events. [Engine.ResetPingPong] snaps every pointer
// back to Even after a bus reset.
//
// # Events
//
// Bus conditions (reset, suspend, resume, start-of-frame, error) and
// transaction completions surface as [Event] values drained through
// [Engine.NextEvent]. A completion's [Transaction] names the endpoint,
// direction, and slot of the returned descriptor, mirroring a
// controller's transaction status register.
//
// # Implementing an Engine
//
// An implementation must reproduce the handshake rules hardware follows:
//
//  1. Token to an endpoint half with no engine-owned descriptor: NAK.
//  2. Descriptor armed with [BDStall]: STALL, descriptor left untouched.
//  3. Otherwise: transfer bytes, complete the descriptor, queue the
//     transaction event, advance the slot pointer.
//
// A software engine with a scripted host driver is available in
// [github.com/vladyst/USB-Stack/device/hal/sim].
package hal
