package device

import (
	"fmt"

	"github.com/vladyst/USB-Stack/device/hal"
	"github.com/vladyst/USB-Stack/pkg"
)

// Stage identifies where the control transfer engine is within the
// current transfer.
type Stage uint8

// Control transfer stages. StageSetup doubles as the quiet state: one
// OUT descriptor armed, waiting for the host's next SETUP packet.
const (
	StageSetup     Stage = iota // Awaiting or dispatching a SETUP packet
	StageDataIn                 // Sending response chunks to the host
	StageDataOut                // Collecting request data from the host
	StageStatusIn               // Awaiting the zero-length IN handshake
	StageStatusOut              // Awaiting the zero-length OUT handshake
)

// String returns the stage name.
func (st Stage) String() string {
	switch st {
	case StageSetup:
		return "Setup"
	case StageDataIn:
		return "DataIn"
	case StageDataOut:
		return "DataOut"
	case StageStatusIn:
		return "StatusIn"
	case StageStatusOut:
		return "StatusOut"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(st))
	}
}

// TransferSource tells the control engine whether response bytes stay
// valid for the duration of a transfer.
type TransferSource uint8

// Response byte lifetimes for SetupInTransfer.
const (
	// SourceStatic bytes stay valid and unchanged until the transfer
	// completes; the engine references them in place.
	SourceStatic TransferSource = iota
	// SourceMutable bytes may change after the call returns; the engine
	// snapshots them into its scratch buffer first.
	SourceMutable
)

// controlTransfer is the engine's working state for the transfer whose
// SETUP packet arrived last.
type controlTransfer struct {
	stage    Stage
	setup    SetupPacket
	src      []byte // response bytes still to send
	sendZLP  bool   // short-transfer marker still owed to the host
	dst      []byte // caller buffer collecting OUT data
	received int
	done     func(n int) bool
	scratch  [ControlScratchSize]byte
}

// ControlStage reports where the control transfer engine currently is.
func (s *Stack) ControlStage() Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctrl.stage
}

// Setup returns a copy of the SETUP packet most recently accepted.
func (s *Stack) Setup() SetupPacket {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctrl.setup
}

func (s *Stack) setStageLocked(st Stage) {
	if s.ctrl.stage != st {
		pkg.LogTrace(pkg.ComponentControl, "control stage",
			"from", s.ctrl.stage.String(), "to", st.String())
		s.ctrl.stage = st
	}
}

// handleControlEvent routes one completed endpoint-zero transaction.
// Called with the stack lock held; unlocks around handler callbacks.
func (s *Stack) handleControlEvent(bd *hal.BD) {
	switch bd.TokenPID() {
	case hal.PIDSetup:
		s.handleSetupLocked(bd)
	case hal.PIDIn:
		s.handleControlInLocked()
	case hal.PIDOut:
		s.handleControlOutLocked(bd)
	default:
		pkg.LogWarn(pkg.ComponentControl, "unexpected token on endpoint 0",
			"pid", fmt.Sprintf("0x%X", bd.TokenPID()))
	}
}

// handleSetupLocked starts a fresh transfer. A SETUP token cancels
// whatever was in flight: every endpoint-zero descriptor is reclaimed,
// protocol stalls drop, and both toggles rewind to DATA1 for the first
// data-stage transaction.
func (s *Stack) handleSetupLocked(bd *hal.BD) {
	var setup SetupPacket
	short := int(bd.Cnt) < SetupPacketSize
	if !short {
		if err := ParseSetupPacket(s.mem.Buffer(bd, SetupPacketSize), &setup); err != nil {
			short = true
		}
	}

	s.reclaimControlLocked()
	s.ctrl.src = nil
	s.ctrl.sendZLP = false
	s.ctrl.dst = nil
	s.ctrl.received = 0
	s.ctrl.done = nil
	s.setStageLocked(StageSetup)

	if short {
		pkg.LogWarn(pkg.ComponentControl, "runt setup packet", "len", bd.Cnt)
		s.requestErrorLocked()
		return
	}

	s.ctrl.setup = setup
	s.setToggleLocked(0, hal.DirOut, true)
	s.setToggleLocked(0, hal.DirIn, true)

	s.stats.setupPackets.Inc(1)
	pkg.LogDebug(pkg.ComponentControl, "setup received", "packet", setup.String())

	s.dispatchSetupLocked(&setup)
}

// reclaimControlLocked returns every endpoint-zero descriptor to
// firmware and drops protocol stalls. The engine always lets a SETUP
// packet through, so ownership of anything still armed is simply taken
// back.
func (s *Stack) reclaimControlLocked() {
	for _, dir := range []hal.Direction{hal.DirOut, hal.DirIn} {
		h := &s.eps[0][dir]
		h.halted = false
		for slot := range h.armed {
			s.mem.BDT.At(0, dir, hal.Slot(slot)).Stat = 0
			h.armed[slot] = false
		}
	}
}

func (s *Stack) dispatchSetupLocked(setup *SetupPacket) {
	handled := false
	if setup.IsStandard() {
		handled = s.handleStandardRequestLocked(setup)
	}
	if !handled {
		handled = s.requestHookLocked(setup)
	}
	s.finishDispatchLocked(handled, setup)
}

// requestHookLocked offers the request to the class handler. The lock
// is released around the callback so the handler can start the data
// stage through the public API.
func (s *Stack) requestHookLocked(setup *SetupPacket) bool {
	h := s.handler
	if h == nil {
		return false
	}
	s.mu.Unlock()
	handled := h.Request(s, setup)
	s.mu.Lock()
	return handled
}

// finishDispatchLocked settles the transfer after dispatch. A handler
// that accepted a request with no data stage gets the status handshake
// armed for it; one that accepted a request with a data stage but armed
// nothing has nowhere for the transfer to go but a protocol stall.
func (s *Stack) finishDispatchLocked(handled bool, setup *SetupPacket) {
	if !handled {
		pkg.LogDebug(pkg.ComponentControl, "request not handled", "packet", setup.String())
		s.requestErrorLocked()
		return
	}
	if s.ctrl.stage != StageSetup {
		return
	}
	if setup.Length == 0 {
		s.ackStatusLocked()
		return
	}
	s.requestErrorLocked()
}

// SetupInTransfer begins the data stage of the device-to-host control
// transfer whose SETUP packet is currently being dispatched. data is
// the complete response; the engine sends min(len(data), wLength) bytes
// in max-packet-size chunks and marks a response shorter than wLength
// with a zero-length packet when it ends on a packet boundary.
//
// Valid only while a SETUP packet with a device-to-host data stage is
// being dispatched.
func (s *Stack) SetupInTransfer(src TransferSource, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setupInLocked(src, data)
}

func (s *Stack) setupInLocked(src TransferSource, data []byte) error {
	if s.ctrl.stage != StageSetup {
		return pkg.ErrInvalidState
	}
	setup := &s.ctrl.setup
	if !setup.IsDeviceToHost() || setup.Length == 0 {
		return pkg.ErrInvalidState
	}
	n := len(data)
	if n > int(setup.Length) {
		n = int(setup.Length)
	}
	if src == SourceMutable {
		if n > len(s.ctrl.scratch) {
			return pkg.ErrBufferTooSmall
		}
		copy(s.ctrl.scratch[:n], data[:n])
		s.ctrl.src = s.ctrl.scratch[:n]
	} else {
		s.ctrl.src = data[:n]
	}
	s.ctrl.sendZLP = n == 0 || (n%int(s.ep0MPS) == 0 && n < int(setup.Length))
	s.setStageLocked(StageDataIn)

	if err := s.armControlInChunkLocked(); err != nil {
		return err
	}
	// The status handshake is armed up front. It also catches a host
	// that walks away from the data stage early.
	s.setToggleLocked(0, hal.DirOut, true)
	return s.armOutLocked(0)
}

// SetupOutTransfer begins the data stage of the host-to-device control
// transfer whose SETUP packet is currently being dispatched. Incoming
// bytes accumulate in dst, which must hold wLength bytes. Once the host
// has sent everything, done receives the byte count; returning false
// rejects the transfer with a protocol stall instead of the status
// handshake.
//
// Valid only while a SETUP packet with a host-to-device data stage is
// being dispatched.
func (s *Stack) SetupOutTransfer(dst []byte, done func(n int) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setupOutLocked(dst, done)
}

func (s *Stack) setupOutLocked(dst []byte, done func(n int) bool) error {
	if s.ctrl.stage != StageSetup {
		return pkg.ErrInvalidState
	}
	setup := &s.ctrl.setup
	if !setup.IsHostToDevice() || setup.Length == 0 {
		return pkg.ErrInvalidState
	}
	if len(dst) < int(setup.Length) {
		return pkg.ErrBufferTooSmall
	}
	s.ctrl.dst = dst
	s.ctrl.received = 0
	s.ctrl.done = done
	s.setStageLocked(StageDataOut)
	return s.armOutLocked(0)
}

// armControlInChunkLocked stages the next IN packet of the data stage:
// the next max-packet-size window of the response, then the short-
// transfer ZLP if one is owed.
func (s *Stack) armControlInChunkLocked() error {
	if len(s.ctrl.src) > 0 {
		chunk := len(s.ctrl.src)
		if chunk > int(s.ep0MPS) {
			chunk = int(s.ep0MPS)
		}
		err := s.armInLocked(0, s.ctrl.src[:chunk])
		if err == nil {
			s.ctrl.src = s.ctrl.src[chunk:]
		}
		return err
	}
	if s.ctrl.sendZLP {
		err := s.armInLocked(0, nil)
		if err == nil {
			s.ctrl.sendZLP = false
		}
		return err
	}
	return nil
}

func (s *Stack) handleControlInLocked() {
	switch s.ctrl.stage {
	case StageDataIn:
		if len(s.ctrl.src) > 0 || s.ctrl.sendZLP {
			if err := s.armControlInChunkLocked(); err != nil {
				pkg.LogError(pkg.ComponentControl, "data stage arm failed", "error", err)
				s.requestErrorLocked()
			}
			return
		}
		// Last data packet went out; only the status handshake remains.
		s.setStageLocked(StageStatusOut)
	case StageStatusIn:
		s.completeStatusInLocked()
	default:
		// Leftover completion from an abandoned transfer.
	}
}

func (s *Stack) handleControlOutLocked(bd *hal.BD) {
	switch s.ctrl.stage {
	case StageDataOut:
		s.controlOutDataLocked(bd)
	case StageDataIn, StageStatusOut:
		// The zero-length status handshake, possibly cutting the data
		// stage short.
		s.controlIdleLocked()
	default:
		s.ensureSetupArmedLocked()
	}
}

func (s *Stack) controlOutDataLocked(bd *hal.BD) {
	n := int(bd.Cnt)
	if room := len(s.ctrl.dst) - s.ctrl.received; n > room {
		n = room
	}
	copy(s.ctrl.dst[s.ctrl.received:], s.mem.Buffer(bd, n))
	s.ctrl.received += n

	if s.ctrl.received >= int(s.ctrl.setup.Length) || int(bd.Cnt) < int(s.ep0MPS) {
		done := s.ctrl.done
		received := s.ctrl.received
		ok := true
		if done != nil {
			s.mu.Unlock()
			ok = done(received)
			s.mu.Lock()
		}
		if !ok {
			s.requestErrorLocked()
			return
		}
		s.ackStatusLocked()
		return
	}
	if err := s.armOutLocked(0); err != nil {
		pkg.LogError(pkg.ComponentControl, "data stage arm failed", "error", err)
		s.requestErrorLocked()
	}
}

// ackStatusLocked arms the zero-length IN handshake that closes a
// host-to-device or no-data control transfer. The status stage always
// runs DATA1.
func (s *Stack) ackStatusLocked() {
	s.setToggleLocked(0, hal.DirIn, true)
	if err := s.armInLocked(0, nil); err != nil {
		pkg.LogError(pkg.ComponentControl, "status stage arm failed", "error", err)
		s.requestErrorLocked()
		return
	}
	s.setStageLocked(StageStatusIn)
}

// completeStatusInLocked finishes a host-to-device or no-data transfer.
// An address latched by SET_ADDRESS takes effect only here, after the
// handshake went out on the old address.
func (s *Stack) completeStatusInLocked() {
	if s.addressPending {
		s.applyAddressLocked()
	}
	s.controlIdleLocked()
}

func (s *Stack) applyAddressLocked() {
	s.addressPending = false
	s.address = s.pendingAddress
	s.engine.SetAddress(s.address)
	if s.address == 0 {
		s.setStateLocked(StateDefault)
	} else if s.state != StateConfigured {
		s.setStateLocked(StateAddress)
	}
	pkg.LogInfo(pkg.ComponentControl, "address applied", "address", s.address)
}

// controlIdleLocked returns endpoint zero to its quiet state: transfer
// context dropped, one OUT descriptor armed for the next SETUP packet.
func (s *Stack) controlIdleLocked() {
	s.setStageLocked(StageSetup)
	s.ctrl.src = nil
	s.ctrl.sendZLP = false
	s.ctrl.dst = nil
	s.ctrl.done = nil
	s.ensureSetupArmedLocked()
}

// ensureSetupArmedLocked keeps a receive descriptor available on the
// OUT half of endpoint zero. If one is already armed it serves; SETUP
// packets are accepted regardless of the armed toggle.
func (s *Stack) ensureSetupArmedLocked() {
	h := &s.eps[0][hal.DirOut]
	if h.armed[hal.SlotEven] || h.armed[hal.SlotOdd] {
		return
	}
	s.setToggleLocked(0, hal.DirOut, false)
	if err := s.armOutLocked(0); err != nil {
		pkg.LogError(pkg.ComponentControl, "setup arm failed", "error", err)
	}
}

// requestErrorLocked answers the current request with a protocol stall:
// the IN half of endpoint zero STALLs every token until the next SETUP
// packet, which always gets through. Toggles are left alone.
func (s *Stack) requestErrorLocked() {
	h := &s.eps[0][hal.DirIn]
	slots := 1
	if s.pp.Doubles(0, hal.DirIn) {
		slots = 2
	}
	for i := 0; i < slots; i++ {
		bd := s.mem.BDT.At(0, hal.DirIn, hal.Slot(i))
		bd.Addr = h.addr[i]
		bd.Arm(hal.BDStall, 0)
		h.armed[i] = true
	}
	h.halted = true

	s.setStageLocked(StageSetup)
	s.ctrl.src = nil
	s.ctrl.sendZLP = false
	s.ctrl.dst = nil
	s.ctrl.done = nil

	s.stats.requestErrors.Inc(1)
	s.ensureSetupArmedLocked()
	pkg.LogDebug(pkg.ComponentControl, "request error, endpoint 0 stalled")
}
