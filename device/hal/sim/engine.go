package sim

import (
	"sync"

	"github.com/vladyst/USB-Stack/device/hal"
	"github.com/vladyst/USB-Stack/pkg"
)

// Result is the handshake a token elicited on the simulated bus.
type Result uint8

// Handshake results. Timeout models a missing response: device
// detached, endpoint disabled, or a token the device never saw.
const (
	Timeout Result = 0
	ACK     Result = Result(hal.PIDAck)
	NAK     Result = Result(hal.PIDNak)
	STALL   Result = Result(hal.PIDStall)
)

func (r Result) String() string {
	switch r {
	case ACK:
		return "ACK"
	case NAK:
		return "NAK"
	case STALL:
		return "STALL"
	case Timeout:
		return "timeout"
	}
	return "unknown"
}

// Engine is a software serial interface engine: it answers host tokens
// out of the shared buffer descriptor table exactly the way full-speed
// device hardware does, and queues the resulting events for the stack.
//
// Token methods (Setup, Out, In) are the bus side; everything on
// hal.Engine is the device side. Both sides lock, so a test host and
// the stack may run on separate goroutines, though the scripted Host
// drives them in lockstep.
type Engine struct {
	mu sync.Mutex

	pp       hal.PingPong
	attached bool
	mem      *hal.Memory
	addr     uint8
	frame    uint16

	epCtl [hal.MaxEndpoints]hal.EndpointControl
	next  [hal.MaxEndpoints][2]hal.Slot

	events []hal.Event
}

// New creates an engine using the given ping-pong buffering mode. The
// stack attached to it must be built with the same mode.
func New(pp hal.PingPong) *Engine {
	return &Engine{pp: pp}
}

// PingPong returns the engine's buffering mode.
func (e *Engine) PingPong() hal.PingPong {
	return e.pp
}

// Attach implements hal.Engine.
func (e *Engine) Attach(mem *hal.Memory) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.attached {
		return pkg.ErrAttached
	}
	if mem == nil || mem.Arena == nil {
		return pkg.ErrInvalidParameter
	}
	e.mem = mem
	e.attached = true
	pkg.LogDebug(pkg.ComponentSim, "device attached", "arena", len(mem.Arena))
	return nil
}

// Detach implements hal.Engine. Queued events are dropped.
func (e *Engine) Detach() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.attached {
		return pkg.ErrDetached
	}
	e.attached = false
	e.mem = nil
	e.events = nil
	e.addr = 0
	e.epCtl = [hal.MaxEndpoints]hal.EndpointControl{}
	e.next = [hal.MaxEndpoints][2]hal.Slot{}
	pkg.LogDebug(pkg.ComponentSim, "device detached")
	return nil
}

// NextEvent implements hal.Engine.
func (e *Engine) NextEvent(out *hal.Event) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.events) == 0 {
		return false
	}
	*out = e.events[0]
	e.events = e.events[1:]
	return true
}

// SetAddress implements hal.Engine.
func (e *Engine) SetAddress(addr uint8) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.addr = addr & 0x7F
}

// ConfigureEndpoint implements hal.Engine.
func (e *Engine) ConfigureEndpoint(ep uint8, ctl hal.EndpointControl) {
	if ep >= hal.MaxEndpoints {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.epCtl[ep] = ctl
}

// ResetPingPong implements hal.Engine: every buffer pointer rewinds to
// the even slot.
func (e *Engine) ResetPingPong() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.next = [hal.MaxEndpoints][2]hal.Slot{}
}

// Address returns the address the device programmed.
func (e *Engine) Address() uint8 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.addr
}

// Attached reports whether a device holds the bus end.
func (e *Engine) Attached() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.attached
}

func (e *Engine) queue(ev hal.Event) {
	e.events = append(e.events, ev)
}

func (e *Engine) slot(ep uint8, dir hal.Direction) hal.Slot {
	return e.next[ep][dir]
}

func (e *Engine) advance(ep uint8, dir hal.Direction) {
	if e.pp.Doubles(ep, dir) {
		e.next[ep][dir] = e.next[ep][dir].Other()
	}
}

// Reset drives a bus reset. The engine itself stays passive: address
// and buffer pointers rewind only when the stack reprograms them while
// servicing the event, as on real hardware.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.frame = 0
	e.queue(hal.Event{Kind: hal.EventReset})
}

// Suspend drives bus idle.
func (e *Engine) Suspend() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queue(hal.Event{Kind: hal.EventSuspend})
}

// Resume drives resume signaling.
func (e *Engine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queue(hal.Event{Kind: hal.EventResume})
}

// Sof advances the frame counter and delivers a start-of-frame. Frame
// numbers wrap at eleven bits.
func (e *Engine) Sof() uint16 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.frame = (e.frame + 1) & 0x7FF
	e.queue(hal.Event{Kind: hal.EventSOF, Frame: e.frame})
	return e.frame
}

// InjectError queues a bus error event with the given error bits.
func (e *Engine) InjectError(bits uint8) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queue(hal.Event{Kind: hal.EventError, Errors: bits})
}

// Setup delivers a SETUP token with its data packet. Stall conditions
// do not block SETUP: an owned descriptor accepts it even when the
// stall bit is set, matching hardware. An unowned descriptor answers
// NAK and the host retries after servicing the device.
func (e *Engine) Setup(ep uint8, data []byte) Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.attached || ep >= hal.MaxEndpoints || !e.epCtl[ep].Control {
		return Timeout
	}
	slot := e.slot(ep, hal.DirOut)
	bd := e.mem.BDT.At(ep, hal.DirOut, slot)
	if !bd.Owned() {
		return NAK
	}
	n := len(data)
	if n > int(bd.Cnt) {
		e.queue(hal.Event{Kind: hal.EventError, Errors: hal.ErrorDMA})
		return NAK
	}
	copy(e.mem.Buffer(bd, n), data)
	bd.Complete(hal.PIDSetup, uint16(n))
	e.advance(ep, hal.DirOut)
	e.queue(hal.Event{Kind: hal.EventTransaction, Frame: e.frame,
		Txn: hal.Transaction{EP: ep, Dir: hal.DirOut, Slot: slot}})
	pkg.LogTrace(pkg.ComponentSim, "SETUP accepted", "ep", ep, "slot", slot.String())
	return ACK
}

// Out delivers an OUT token carrying data with the given toggle. A
// data-toggle mismatch on a synchronizing descriptor is acknowledged
// and discarded without consuming the descriptor, which is how the
// protocol absorbs a lost handshake.
func (e *Engine) Out(ep uint8, data []byte, data1 bool) Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.attached || ep >= hal.MaxEndpoints || !e.epCtl[ep].Out {
		return Timeout
	}
	slot := e.slot(ep, hal.DirOut)
	bd := e.mem.BDT.At(ep, hal.DirOut, slot)
	if !bd.Owned() {
		return NAK
	}
	if bd.Stalled() {
		return STALL
	}
	if bd.Stat&hal.BDDTSEn != 0 && bd.Data1() != data1 {
		pkg.LogTrace(pkg.ComponentSim, "OUT toggle mismatch dropped",
			"ep", ep, "data1", data1)
		return ACK
	}
	n := len(data)
	if n > int(bd.Cnt) {
		e.queue(hal.Event{Kind: hal.EventError, Errors: hal.ErrorDMA})
		return NAK
	}
	copy(e.mem.Buffer(bd, n), data)
	bd.Complete(hal.PIDOut, uint16(n))
	e.advance(ep, hal.DirOut)
	e.queue(hal.Event{Kind: hal.EventTransaction, Frame: e.frame,
		Txn: hal.Transaction{EP: ep, Dir: hal.DirOut, Slot: slot}})
	pkg.LogTrace(pkg.ComponentSim, "OUT accepted",
		"ep", ep, "len", n, "slot", slot.String())
	return ACK
}

// In delivers an IN token. On ACK the transmitted packet is copied into
// buf and its length and toggle bit are returned; the host compares the
// toggle against its own sequence.
func (e *Engine) In(ep uint8, buf []byte) (Result, int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.attached || ep >= hal.MaxEndpoints || !e.epCtl[ep].In {
		return Timeout, 0, false
	}
	slot := e.slot(ep, hal.DirIn)
	bd := e.mem.BDT.At(ep, hal.DirIn, slot)
	if !bd.Owned() {
		return NAK, 0, false
	}
	if bd.Stalled() {
		return STALL, 0, false
	}
	n := int(bd.Cnt)
	data1 := bd.Data1()
	copied := copy(buf, e.mem.Buffer(bd, n))
	bd.Complete(hal.PIDIn, uint16(n))
	e.advance(ep, hal.DirIn)
	e.queue(hal.Event{Kind: hal.EventTransaction, Frame: e.frame,
		Txn: hal.Transaction{EP: ep, Dir: hal.DirIn, Slot: slot}})
	pkg.LogTrace(pkg.ComponentSim, "IN answered",
		"ep", ep, "len", n, "data1", data1, "slot", slot.String())
	if copied < n {
		n = copied
	}
	return ACK, n, data1
}
