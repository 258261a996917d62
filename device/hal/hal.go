package hal

// MaxEndpoints is the number of endpoint numbers a buffer descriptor
// table covers (0 through 15).
const MaxEndpoints = 16

// MaxPacketSize is the largest packet a full-speed bulk or interrupt
// endpoint may carry, and the upper bound for control endpoints.
const MaxPacketSize = 64

// Buffer descriptor status bits, as written by firmware when arming.
// When the engine returns a descriptor it clears Own and replaces bits
// 5:2 with the token PID of the completing transaction.
const (
	BDOwn   uint8 = 0x80 // Descriptor owned by the engine
	BDData1 uint8 = 0x40 // Transact with DATA1 parity
	BDKeep  uint8 = 0x20 // Engine keeps ownership after completion
	BDNoInc uint8 = 0x10 // Suppress buffer address increment
	BDDTSEn uint8 = 0x08 // Enforce data toggle synchronization
	BDStall uint8 = 0x04 // Answer the next token with STALL
)

// BDPIDMask covers the token PID field in a returned descriptor.
const BDPIDMask uint8 = 0x3C

// Token PIDs (USB 2.0 table 8-1, low nibble).
const (
	PIDOut   uint8 = 0x1
	PIDIn    uint8 = 0x9
	PIDSOF   uint8 = 0x5
	PIDSetup uint8 = 0xD
)

// Data PIDs.
const (
	PIDData0 uint8 = 0x3
	PIDData1 uint8 = 0xB
)

// Handshake PIDs.
const (
	PIDAck   uint8 = 0x2
	PIDNak   uint8 = 0xA
	PIDStall uint8 = 0xE
)

// Direction distinguishes the two halves of an endpoint number.
type Direction uint8

// Transfer directions, named from the host's point of view.
const (
	DirOut Direction = 0 // Host to device
	DirIn  Direction = 1 // Device to host
)

// String returns the conventional direction name.
func (d Direction) String() string {
	if d == DirIn {
		return "IN"
	}
	return "OUT"
}

// Slot selects one of the two ping-pong descriptors of an endpoint half.
type Slot uint8

// Ping-pong slots.
const (
	SlotEven Slot = 0
	SlotOdd  Slot = 1
)

// String returns the slot name.
func (s Slot) String() string {
	if s == SlotOdd {
		return "Odd"
	}
	return "Even"
}

// Other returns the opposite slot.
func (s Slot) Other() Slot {
	return s ^ 1
}

// PingPong selects which endpoint halves run double-buffered. It mirrors
// a controller configuration field: the engine and the stack driving it
// must be constructed with the same value.
type PingPong uint8

// Ping-pong buffering policies.
const (
	PingPongDisabled PingPong = iota // Even descriptors only, everywhere
	PingPongEP0Out                   // Double-buffer EP0 OUT only
	PingPongEP1Plus                  // Double-buffer endpoints 1-15
	PingPongAll                      // Double-buffer every endpoint half
)

// Doubles reports whether the policy double-buffers the given endpoint half.
func (p PingPong) Doubles(ep uint8, dir Direction) bool {
	switch p {
	case PingPongEP0Out:
		return ep == 0 && dir == DirOut
	case PingPongEP1Plus:
		return ep >= 1
	case PingPongAll:
		return true
	default:
		return false
	}
}

// String returns a human-readable policy name.
func (p PingPong) String() string {
	switch p {
	case PingPongDisabled:
		return "Disabled"
	case PingPongEP0Out:
		return "EP0 OUT"
	case PingPongEP1Plus:
		return "EP1-15"
	case PingPongAll:
		return "All"
	default:
		return "Unknown"
	}
}

// BD is a single buffer descriptor. Setting BDOwn passes the descriptor,
// and the arena bytes it points at, to the engine; the engine clears
// BDOwn when it hands the descriptor back.
type BD struct {
	Stat uint8  // Status and control bits
	Cnt  uint16 // Capacity when armed, bytes transferred on return
	Addr uint16 // Arena offset of the packet buffer
}

// Owned reports whether the engine currently owns the descriptor.
func (bd *BD) Owned() bool {
	return bd.Stat&BDOwn != 0
}

// Data1 reports the DATA1 parity bit.
func (bd *BD) Data1() bool {
	return bd.Stat&BDData1 != 0
}

// Stalled reports whether the descriptor is armed to answer with STALL.
func (bd *BD) Stalled() bool {
	return bd.Stat&BDStall != 0
}

// TokenPID extracts the token PID recorded by the engine on completion.
func (bd *BD) TokenPID() uint8 {
	return (bd.Stat >> 2) & 0x0F
}

// Arm hands the descriptor to the engine. flags carries the toggle and
// handshake bits to transact with; cnt is the buffer capacity (OUT) or
// the number of bytes to send (IN).
func (bd *BD) Arm(flags uint8, cnt uint16) {
	bd.Cnt = cnt
	bd.Stat = BDOwn | flags
}

// Complete returns the descriptor to firmware, recording the token PID
// and the transferred byte count. The DATA1 bit is preserved so firmware
// can read the parity the transaction used.
func (bd *BD) Complete(pid uint8, cnt uint16) {
	bd.Stat = bd.Stat&BDData1 | pid<<2&BDPIDMask
	bd.Cnt = cnt
}

// BDT is the buffer descriptor table, indexed by endpoint number,
// direction, and ping-pong slot.
type BDT [MaxEndpoints][2][2]BD

// At returns the descriptor for the given endpoint half and slot.
func (t *BDT) At(ep uint8, dir Direction, slot Slot) *BD {
	return &t[ep][dir][slot]
}

// Memory is the shared region both sides of the Engine boundary operate
// on: the descriptor table plus the packet arena its Addr fields index.
type Memory struct {
	BDT   BDT
	Arena []byte
}

// Buffer returns the n arena bytes behind bd.
func (m *Memory) Buffer(bd *BD, n int) []byte {
	return m.Arena[int(bd.Addr) : int(bd.Addr)+n]
}

// Transaction identifies the descriptor a completed transaction used,
// mirroring a controller's transaction status register.
type Transaction struct {
	EP   uint8
	Dir  Direction
	Slot Slot
}

// EventKind discriminates engine events.
type EventKind uint8

// Engine event kinds.
const (
	EventNone EventKind = iota
	EventReset
	EventSuspend
	EventResume
	EventSOF
	EventError
	EventTransaction
)

// String returns a human-readable event kind name.
func (k EventKind) String() string {
	switch k {
	case EventNone:
		return "None"
	case EventReset:
		return "Reset"
	case EventSuspend:
		return "Suspend"
	case EventResume:
		return "Resume"
	case EventSOF:
		return "SOF"
	case EventError:
		return "Error"
	case EventTransaction:
		return "Transaction"
	default:
		return "Unknown"
	}
}

// Error condition bits reported with EventError.
const (
	ErrorPID       uint8 = 0x01 // PID check failed
	ErrorCRC5      uint8 = 0x02 // Token CRC failed
	ErrorCRC16     uint8 = 0x04 // Data CRC failed
	ErrorDataWidth uint8 = 0x08 // Data field not a whole number of bytes
	ErrorTimeout   uint8 = 0x10 // Bus turnaround timed out
	ErrorDMA       uint8 = 0x20 // Descriptor or arena access failed
	ErrorBitStuff  uint8 = 0x80 // Bit stuffing violation
)

// Event is a single engine notification. Frame is valid for EventSOF,
// Errors for EventError, and Txn for EventTransaction.
type Event struct {
	Kind   EventKind
	Frame  uint16
	Errors uint8
	Txn    Transaction
}

// EndpointControl mirrors a per-endpoint control register: which token
// types the engine accepts on that endpoint number.
type EndpointControl struct {
	Out     bool // Accept OUT tokens
	In      bool // Accept IN tokens
	Control bool // Accept SETUP tokens
}

// Engine abstracts a full-speed device controller driven through a
// buffer descriptor table.
//
// The engine owns token matching, handshake generation, and descriptor
// completion; the stack owns everything above: arming descriptors,
// toggle discipline, and protocol state. The two communicate only
// through the shared Memory and the event queue.
//
// Implementations must treat an armed descriptor exactly like hardware:
// answer NAK while no descriptor is owned, answer STALL and keep the
// descriptor as-is when BDStall is set, and otherwise transfer bytes,
// write the count and token PID back, clear BDOwn, and queue an
// EventTransaction.
type Engine interface {
	// Attach connects the device to the bus. mem stays shared between
	// the caller and the engine until Detach.
	Attach(mem *Memory) error

	// Detach disconnects the device from the bus.
	Detach() error

	// NextEvent fills out with the oldest pending event, reporting
	// whether one was available.
	NextEvent(out *Event) bool

	// SetAddress programs the address used for token matching.
	SetAddress(addr uint8)

	// ConfigureEndpoint programs the control register of one endpoint
	// number.
	ConfigureEndpoint(ep uint8, ctl EndpointControl)

	// ResetPingPong forces every next-slot pointer back to Even.
	ResetPingPong()
}
