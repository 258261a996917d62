// Package sim provides a software serial interface engine and a
// scripted host for exercising a device stack without hardware.
//
// # Engine
//
// Engine implements hal.Engine over an in-memory bus. The host side
// offers one method per token type; each consults the buffer
// descriptor the hardware pointer selects and answers the way a
// full-speed serial interface engine would:
//
//   - descriptor not owned: NAK, nothing recorded
//   - stall bit set: STALL, descriptor untouched
//   - OUT with the wrong data toggle while synchronization is enabled:
//     ACK, packet discarded, descriptor untouched
//   - otherwise: data moves through the shared arena, the descriptor
//     is written back with the token id and count, the pointer
//     advances on doubled endpoints, and a transaction event is queued
//
// SETUP is the exception hardware makes: an owned descriptor accepts
// it regardless of stall and toggle state.
//
// Bus conditions (Reset, Suspend, Resume, Sof, InjectError) queue the
// corresponding events. The engine stays passive across a reset;
// address and pointer rewind happen when the device services the
// event, as on real silicon.
//
// # Host
//
// Host layers transfers over the token methods: control reads and
// writes with standard chunking and status stages, single-packet class
// transfers, and a full Enumerate. It pumps the device between tokens,
// retries NAKs, and tracks the data toggle it expects from the device,
// failing loudly on a sequence error.
package sim
