package device

import (
	"fmt"
	"sync"

	"github.com/vladyst/USB-Stack/device/hal"
	"github.com/vladyst/USB-Stack/pkg"
)

// Stack is a complete full-speed USB device: the buffer descriptor
// model, the control transfer engine, the chapter 9 state machine, and
// the dispatch loop tying them to an engine.
//
// The stack is event-driven and unpaced: ServiceOnce drains whatever
// the engine has queued and returns. A firmware-style main loop calls
// it forever; tests pump it between scripted bus operations.
type Stack struct {
	mu sync.Mutex

	engine  hal.Engine
	mem     hal.Memory
	pp      hal.PingPong
	descs   DescriptorSet
	handler Handler

	state          State
	suspended      bool
	address        uint8
	pendingAddress uint8
	addressPending bool
	configuration  uint8
	numInterfaces  uint8
	remoteWakeup   bool
	selfPowered    bool
	frame          uint16

	ep0MPS uint16
	epCfgs []EndpointConfig
	eps    [hal.MaxEndpoints][2]epHalf

	ctrl controlTransfer

	stats *stackStats

	onStateChange func(old, new State)
	onReset       func()
	onSuspend     func()
	onResume      func()
	onSOF         func(frame uint16)
	onError       func(errs uint8)
}

// Attach connects the device to the bus. The packet arena is laid out
// once, the engine takes the shared memory, and the device sits powered
// waiting for the host's reset.
func (s *Stack) Attach() error {
	s.mu.Lock()
	if s.state != StateDetached {
		s.mu.Unlock()
		return pkg.ErrAttached
	}
	if s.mem.Arena == nil {
		if err := s.allocateBuffersLocked(); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	if err := s.engine.Attach(&s.mem); err != nil {
		s.mu.Unlock()
		return err
	}
	s.setStateLocked(StateAttached)
	s.setStateLocked(StatePowered)
	s.mu.Unlock()
	pkg.LogInfo(pkg.ComponentStack, "attached to bus")
	return nil
}

// Detach disconnects the device from the bus and rewinds all protocol
// state. The buffer layout survives for the next Attach.
func (s *Stack) Detach() error {
	s.mu.Lock()
	if s.state == StateDetached {
		s.mu.Unlock()
		return pkg.ErrDetached
	}
	if err := s.engine.Detach(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.suspended = false
	s.address = 0
	s.addressPending = false
	s.configuration = 0
	s.numInterfaces = 0
	s.resetEndpointsLocked()
	s.ctrl = controlTransfer{}
	s.setStateLocked(StateDetached)
	s.mu.Unlock()
	pkg.LogInfo(pkg.ComponentStack, "detached from bus")
	return nil
}

// ServiceOnce drains and dispatches every event the engine has queued,
// returning the number serviced. Handler hooks run on the calling
// goroutine.
//
// Exactly one goroutine may drive ServiceOnce.
func (s *Stack) ServiceOnce() int {
	var ev hal.Event
	n := 0
	for s.engine.NextEvent(&ev) {
		n++
		s.mu.Lock()
		switch ev.Kind {
		case hal.EventReset:
			s.handleResetLocked()
		case hal.EventSuspend:
			s.handleSuspendLocked()
		case hal.EventResume:
			s.handleResumeLocked()
		case hal.EventSOF:
			s.handleSOFLocked(ev.Frame)
		case hal.EventError:
			s.handleErrorLocked(ev.Errors)
		case hal.EventTransaction:
			s.handleTransactionLocked(ev.Txn)
		}
		s.mu.Unlock()
	}
	return n
}

// handleResetLocked services a bus reset: back to address zero and the
// default state, all endpoint state rewound, ping-pong pointers to
// Even, endpoint zero alone enabled and armed for SETUP.
func (s *Stack) handleResetLocked() {
	pkg.LogInfo(pkg.ComponentStack, "bus reset")
	s.stats.resets.Inc(1)

	s.suspended = false
	s.address = 0
	s.addressPending = false
	s.configuration = 0
	s.numInterfaces = 0

	s.engine.SetAddress(0)
	s.engine.ResetPingPong()
	s.disableClassEndpointsLocked()
	s.resetEndpointsLocked()
	s.engine.ConfigureEndpoint(0, hal.EndpointControl{Out: true, In: true, Control: true})

	s.ctrl = controlTransfer{}
	s.setStateLocked(StateDefault)
	s.ensureSetupArmedLocked()

	hook := s.resetHook()
	cb := s.onReset
	s.mu.Unlock()
	if hook != nil {
		hook.Reset(s)
	}
	if cb != nil {
		cb()
	}
	s.mu.Lock()
}

// handleSuspendLocked records bus idle. Suspend is orthogonal to the
// device state: whatever state the device was in, it resumes to it.
func (s *Stack) handleSuspendLocked() {
	if s.suspended {
		return
	}
	s.suspended = true
	s.stats.suspends.Inc(1)
	pkg.LogDebug(pkg.ComponentStack, "bus idle, suspended")
	cb := s.onSuspend
	s.mu.Unlock()
	if cb != nil {
		cb()
	}
	s.mu.Lock()
}

func (s *Stack) handleResumeLocked() {
	if !s.suspended {
		return
	}
	s.suspended = false
	s.stats.resumes.Inc(1)
	pkg.LogDebug(pkg.ComponentStack, "bus activity, resumed")
	cb := s.onResume
	s.mu.Unlock()
	if cb != nil {
		cb()
	}
	s.mu.Lock()
}

func (s *Stack) handleSOFLocked(frame uint16) {
	s.frame = frame
	s.stats.sofs.Inc(1)
	hook := s.sofHook()
	cb := s.onSOF
	s.mu.Unlock()
	if hook != nil {
		hook.SOF(s, frame)
	}
	if cb != nil {
		cb(frame)
	}
	s.mu.Lock()
}

func (s *Stack) handleErrorLocked(errs uint8) {
	s.stats.busErrors.Inc(1)
	pkg.LogWarn(pkg.ComponentStack, "bus error", "bits", fmt.Sprintf("0x%02X", errs))
	cb := s.onError
	s.mu.Unlock()
	if cb != nil {
		cb(errs)
	}
	s.mu.Lock()
}

// handleTransactionLocked routes one completed transaction: endpoint
// zero to the control transfer engine, everything else to the class
// handler.
func (s *Stack) handleTransactionLocked(txn hal.Transaction) {
	bd := s.noteCompletion(txn)
	s.stats.transactions.Inc(1)

	if txn.EP == 0 {
		s.handleControlEvent(bd)
		return
	}

	n := int(bd.Cnt)
	if txn.Dir == hal.DirOut {
		s.stats.bytesOut.Inc(int64(n))
	} else {
		s.stats.bytesIn.Inc(int64(n))
	}
	h := s.handler
	if h == nil {
		return
	}
	data := s.mem.Buffer(bd, n)
	s.mu.Unlock()
	h.Transaction(s, txn.EP, txn.Dir, data)
	s.mu.Lock()
}

// setStateLocked changes the device state. The state change callback
// runs with the lock released.
func (s *Stack) setStateLocked(st State) {
	old := s.state
	if old == st {
		return
	}
	s.state = st
	pkg.LogDebug(pkg.ComponentDevice, "device state changed",
		"from", old.String(), "to", st.String())
	cb := s.onStateChange
	if cb != nil {
		s.mu.Unlock()
		cb(old, st)
		s.mu.Lock()
	}
}

// configureLocked applies SET_CONFIGURATION. Zero deconfigures; any
// other value must match the bConfigurationValue of a known
// configuration block.
func (s *Stack) configureLocked(value uint8) bool {
	var cfg []byte
	if value != 0 {
		cfg = s.findConfigurationLocked(value)
		if cfg == nil {
			return false
		}
	}
	s.disableClassEndpointsLocked()
	s.configuration = value
	if value == 0 {
		s.numInterfaces = 0
		if s.address != 0 {
			s.setStateLocked(StateAddress)
		} else {
			s.setStateLocked(StateDefault)
		}
		pkg.LogInfo(pkg.ComponentStack, "deconfigured")
		return true
	}
	s.numInterfaces = cfg[4]
	s.enableClassEndpointsLocked()
	s.setStateLocked(StateConfigured)
	pkg.LogInfo(pkg.ComponentStack, "configured", "value", value)
	return true
}

// findConfigurationLocked locates the configuration block whose
// bConfigurationValue matches value.
func (s *Stack) findConfigurationLocked(value uint8) []byte {
	for i := 0; i < MaxConfigurations; i++ {
		cfg := s.descs.Configuration(uint8(i))
		if cfg == nil {
			return nil
		}
		if len(cfg) >= ConfigurationDescriptorSize && cfg[5] == value {
			return cfg
		}
	}
	return nil
}

// enableClassEndpointsLocked programs the engine for every declared
// class endpoint and puts each half in the freshly-configured state:
// toggle DATA0, halt clear, nothing armed. Ping-pong pointers are not
// touched; only a bus reset moves those.
func (s *Stack) enableClassEndpointsLocked() {
	var ctl [hal.MaxEndpoints]hal.EndpointControl
	for i := range s.epCfgs {
		cfg := &s.epCfgs[i]
		ep := cfg.Number()
		dir := cfg.Direction()
		if dir == hal.DirIn {
			ctl[ep].In = true
		} else {
			ctl[ep].Out = true
		}
		h := &s.eps[ep][dir]
		h.toggle = false
		h.halted = false
		h.armed = [2]bool{}
		for slot := range h.armed {
			s.mem.BDT.At(ep, dir, hal.Slot(slot)).Stat = 0
		}
	}
	for ep := 1; ep < hal.MaxEndpoints; ep++ {
		if ctl[ep].In || ctl[ep].Out {
			s.engine.ConfigureEndpoint(uint8(ep), ctl[ep])
		}
	}
}

// disableClassEndpointsLocked turns every class endpoint off at the
// engine and reclaims their descriptors.
func (s *Stack) disableClassEndpointsLocked() {
	var seen [hal.MaxEndpoints]bool
	for i := range s.epCfgs {
		cfg := &s.epCfgs[i]
		ep := cfg.Number()
		dir := cfg.Direction()
		if !seen[ep] {
			seen[ep] = true
			s.engine.ConfigureEndpoint(ep, hal.EndpointControl{})
		}
		h := &s.eps[ep][dir]
		h.halted = false
		h.toggle = false
		h.armed = [2]bool{}
		for slot := range h.armed {
			s.mem.BDT.At(ep, dir, hal.Slot(slot)).Stat = 0
		}
	}
}

// State returns the current device state.
func (s *Stack) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Suspended reports whether the bus is idle. Suspend is tracked apart
// from the device state; the state is what the device resumes to.
func (s *Stack) Suspended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.suspended
}

// Address returns the device address assigned by the host.
func (s *Stack) Address() uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.address
}

// Configuration returns the active configuration value, zero when
// unconfigured.
func (s *Stack) Configuration() uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.configuration
}

// Frame returns the frame number of the last start-of-frame.
func (s *Stack) Frame() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame
}

// RemoteWakeupEnabled reports whether the host armed remote wakeup.
func (s *Stack) RemoteWakeupEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteWakeup
}
