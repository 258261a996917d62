package device

import (
	"fmt"

	"github.com/vladyst/USB-Stack/device/hal"
	"github.com/vladyst/USB-Stack/pkg"
)

// Endpoint transfer types (USB 2.0 Spec Table 9-13).
const (
	EndpointTypeControl     = 0x00 // Control transfer
	EndpointTypeIsochronous = 0x01 // Isochronous transfer
	EndpointTypeBulk        = 0x02 // Bulk transfer
	EndpointTypeInterrupt   = 0x03 // Interrupt transfer
)

// Endpoint address direction bits.
const (
	EndpointDirectionOut = 0x00 // Host to device
	EndpointDirectionIn  = 0x80 // Device to host
)

// EndpointConfig declares one endpoint half used by the device's
// configuration. The stack allocates packet buffers for each declared
// half at attach time and enables the endpoints when the host selects a
// configuration.
type EndpointConfig struct {
	Address       uint8  // Endpoint address including direction bit
	Attributes    uint8  // Transfer type bits
	MaxPacketSize uint16 // Maximum packet size (up to 64 at full speed)
	Interval      uint8  // Polling interval for interrupt endpoints
}

// Number returns the endpoint number (0-15).
func (e *EndpointConfig) Number() uint8 {
	return e.Address & 0x0F
}

// Direction returns which endpoint half this is.
func (e *EndpointConfig) Direction() hal.Direction {
	if e.Address&EndpointDirectionIn != 0 {
		return hal.DirIn
	}
	return hal.DirOut
}

// TransferType returns the transfer type bits.
func (e *EndpointConfig) TransferType() uint8 {
	return e.Attributes & 0x03
}

// Descriptor returns the endpoint descriptor for this half.
func (e *EndpointConfig) Descriptor() *EndpointDescriptor {
	return &EndpointDescriptor{
		Length:          EndpointDescriptorSize,
		DescriptorType:  DescriptorTypeEndpoint,
		EndpointAddress: e.Address,
		Attributes:      e.Attributes,
		MaxPacketSize:   e.MaxPacketSize,
		Interval:        e.Interval,
	}
}

// EndpointStatus is a snapshot of one endpoint half's protocol state.
type EndpointStatus struct {
	Toggle   bool     // Parity of the next armed transaction
	Halted   bool     // ENDPOINT_HALT feature state
	LastSlot hal.Slot // Slot of the last completed transaction
	Armed    [2]bool  // Which slots the engine currently owns
}

// epHalf is the working state behind one endpoint number and direction.
//
// lastSlot follows the engine's ping-pong pointer: it records the slot
// of the last completed transaction, so the next arm goes to the other
// slot. It starts at Odd (first arm lands Even, matching the engine
// after reset) and only a bus reset rewinds it. Stalls and halt clears
// leave it alone; the engine's pointer does not move on those either.
type epHalf struct {
	mps      uint16
	addr     [2]uint16
	toggle   bool
	halted   bool
	lastSlot hal.Slot
	armed    [2]bool
}

// present reports whether this half was declared and given buffers.
func (h *epHalf) present() bool {
	return h.mps != 0
}

// Endpoint returns a snapshot of one endpoint half's protocol state.
func (s *Stack) Endpoint(ep uint8, dir hal.Direction) EndpointStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := &s.eps[ep&0x0F][dir]
	return EndpointStatus{
		Toggle:   h.toggle,
		Halted:   h.halted,
		LastSlot: h.lastSlot,
		Armed:    h.armed,
	}
}

// Halted reports the ENDPOINT_HALT feature state of one endpoint half.
func (s *Stack) Halted(ep uint8, dir hal.Direction) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eps[ep&0x0F][dir].halted
}

// ArmOut hands an OUT endpoint buffer to the engine so the host can
// send a packet. The completed packet is delivered through the
// handler's Transaction hook. Endpoint 0 belongs to the control
// transfer engine and cannot be armed directly.
func (s *Stack) ArmOut(ep uint8) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep &= 0x0F
	if ep == 0 {
		return pkg.ErrInvalidEndpoint
	}
	if s.state != StateConfigured {
		return pkg.ErrNotConfigured
	}
	return s.armOutLocked(ep)
}

// ArmIn queues data for transmission on an IN endpoint. len(data) must
// not exceed the endpoint's maximum packet size; a zero-length data
// slice queues a ZLP. Endpoint 0 belongs to the control transfer engine
// and cannot be armed directly.
func (s *Stack) ArmIn(ep uint8, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep &= 0x0F
	if ep == 0 {
		return pkg.ErrInvalidEndpoint
	}
	if s.state != StateConfigured {
		return pkg.ErrNotConfigured
	}
	return s.armInLocked(ep, data)
}

func (s *Stack) armOutLocked(ep uint8) error {
	h := &s.eps[ep][hal.DirOut]
	if !h.present() {
		return pkg.ErrInvalidEndpoint
	}
	if h.halted {
		return pkg.ErrHalted
	}
	slot, ok := s.pickSlotLocked(h, ep, hal.DirOut)
	if !ok {
		return pkg.ErrOwned
	}
	bd := s.mem.BDT.At(ep, hal.DirOut, slot)
	bd.Addr = h.addr[slot]
	bd.Arm(toggleFlags(h.toggle), h.mps)
	h.armed[slot] = true
	h.toggle = !h.toggle
	return nil
}

func (s *Stack) armInLocked(ep uint8, data []byte) error {
	h := &s.eps[ep][hal.DirIn]
	if !h.present() {
		return pkg.ErrInvalidEndpoint
	}
	if h.halted {
		return pkg.ErrHalted
	}
	if len(data) > int(h.mps) {
		return pkg.ErrPacketTooLarge
	}
	slot, ok := s.pickSlotLocked(h, ep, hal.DirIn)
	if !ok {
		return pkg.ErrOwned
	}
	bd := s.mem.BDT.At(ep, hal.DirIn, slot)
	bd.Addr = h.addr[slot]
	copy(s.mem.Arena[bd.Addr:int(bd.Addr)+len(data)], data)
	bd.Arm(toggleFlags(h.toggle), uint16(len(data)))
	h.armed[slot] = true
	h.toggle = !h.toggle
	return nil
}

// pickSlotLocked selects the slot for the next arm on a half. Alternation
// follows lastSlot so firmware and engine stay in step; when the natural
// slot is still outstanding the other one is used, which keeps both slots
// of a double-buffered endpoint in flight. With both slots outstanding a
// third arm has nowhere to go.
func (s *Stack) pickSlotLocked(h *epHalf, ep uint8, dir hal.Direction) (hal.Slot, bool) {
	if !s.pp.Doubles(ep, dir) {
		if h.armed[hal.SlotEven] {
			return hal.SlotEven, false
		}
		return hal.SlotEven, true
	}
	next := h.lastSlot.Other()
	if !h.armed[next] {
		return next, true
	}
	if !h.armed[next.Other()] {
		return next.Other(), true
	}
	pkg.LogWarn(pkg.ComponentEndpoint, "both slots armed, refusing third arm",
		"ep", ep, "dir", dir.String())
	return next, false
}

// toggleFlags composes the arm bits for a data toggle value.
func toggleFlags(toggle bool) uint8 {
	if toggle {
		return hal.BDData1 | hal.BDDTSEn
	}
	return hal.BDDTSEn
}

// noteCompletion records a returned descriptor in the endpoint table
// and returns it. Toggles are not touched here: they advance when a
// descriptor is armed, so queued double-buffered packets carry
// alternating parity.
func (s *Stack) noteCompletion(txn hal.Transaction) *hal.BD {
	h := &s.eps[txn.EP][txn.Dir]
	h.armed[txn.Slot] = false
	h.lastSlot = txn.Slot
	return s.mem.BDT.At(txn.EP, txn.Dir, txn.Slot)
}

// setToggleLocked forces the data toggle of one half. The control
// transfer engine uses it at stage boundaries.
func (s *Stack) setToggleLocked(ep uint8, dir hal.Direction, v bool) {
	s.eps[ep][dir].toggle = v
}

// StallEndpoint halts a class endpoint half: the engine answers every
// token on it with STALL until the halt is cleared. Endpoint 0 stalls
// are protocol stalls raised by the control transfer engine itself.
func (s *Stack) StallEndpoint(ep uint8, dir hal.Direction) error {
	s.mu.Lock()
	ep &= 0x0F
	if ep == 0 || !s.eps[ep][dir].present() {
		s.mu.Unlock()
		return pkg.ErrInvalidEndpoint
	}
	s.stallHalfLocked(ep, dir)
	hook := s.haltHook()
	s.mu.Unlock()
	if hook != nil {
		hook.HaltChanged(s, ep, dir, true)
	}
	return nil
}

// ClearStall clears a halt on a class endpoint half and resets its data
// toggle to DATA0.
func (s *Stack) ClearStall(ep uint8, dir hal.Direction) error {
	s.mu.Lock()
	ep &= 0x0F
	if ep == 0 || !s.eps[ep][dir].present() {
		s.mu.Unlock()
		return pkg.ErrInvalidEndpoint
	}
	s.clearHalfLocked(ep, dir)
	hook := s.haltHook()
	s.mu.Unlock()
	if hook != nil {
		hook.HaltChanged(s, ep, dir, false)
	}
	return nil
}

// stallHalfLocked arms every slot of a half to answer STALL. Slots
// already in flight are overwritten; the abandoned packets are the
// host's to recover per the halt protocol.
func (s *Stack) stallHalfLocked(ep uint8, dir hal.Direction) {
	h := &s.eps[ep][dir]
	h.halted = true
	slots := 1
	if s.pp.Doubles(ep, dir) {
		slots = 2
	}
	for i := 0; i < slots; i++ {
		bd := s.mem.BDT.At(ep, dir, hal.Slot(i))
		bd.Addr = h.addr[i]
		bd.Arm(hal.BDStall, 0)
		h.armed[i] = true
	}
	pkg.LogDebug(pkg.ComponentEndpoint, "endpoint stalled",
		"ep", fmt.Sprintf("%d %s", ep, dir))
}

// clearHalfLocked reclaims a half's descriptors and resets its toggle.
// lastSlot is preserved: the engine's ping-pong pointer did not move
// while the stall answered tokens.
func (s *Stack) clearHalfLocked(ep uint8, dir hal.Direction) {
	h := &s.eps[ep][dir]
	h.halted = false
	h.toggle = false
	for i := range h.armed {
		bd := s.mem.BDT.At(ep, dir, hal.Slot(i))
		bd.Stat = 0
		h.armed[i] = false
	}
	pkg.LogDebug(pkg.ComponentEndpoint, "endpoint stall cleared",
		"ep", fmt.Sprintf("%d %s", ep, dir))
}

// resetEndpointsLocked rewinds the whole endpoint table after a bus
// reset: descriptors reclaimed, toggles cleared, ping-pong pointers
// back to the post-ODDRST position.
func (s *Stack) resetEndpointsLocked() {
	for ep := range s.eps {
		for dir := range s.eps[ep] {
			h := &s.eps[ep][dir]
			h.toggle = false
			h.halted = false
			h.lastSlot = hal.SlotOdd
			h.armed = [2]bool{}
			for slot := range h.armed {
				s.mem.BDT.At(uint8(ep), hal.Direction(dir), hal.Slot(slot)).Stat = 0
			}
		}
	}
}

// allocateBuffersLocked lays out the packet arena: two slots per
// declared half, endpoint 0 first. Every half gets both slot buffers
// regardless of policy so a policy change never moves offsets.
func (s *Stack) allocateBuffersLocked() error {
	total := 4 * int(s.ep0MPS)
	for i := range s.epCfgs {
		total += 2 * int(s.epCfgs[i].MaxPacketSize)
	}
	if total > 0x10000 {
		return fmt.Errorf("%w: packet arena exceeds descriptor addressing",
			pkg.ErrInvalidParameter)
	}
	s.mem.Arena = make([]byte, total)

	next := uint16(0)
	take := func(n uint16) uint16 {
		off := next
		next += n
		return off
	}

	for _, dir := range []hal.Direction{hal.DirOut, hal.DirIn} {
		h := &s.eps[0][dir]
		h.mps = s.ep0MPS
		h.addr[hal.SlotEven] = take(s.ep0MPS)
		h.addr[hal.SlotOdd] = take(s.ep0MPS)
	}
	for i := range s.epCfgs {
		cfg := &s.epCfgs[i]
		h := &s.eps[cfg.Number()][cfg.Direction()]
		if h.present() {
			return fmt.Errorf("%w: endpoint %d %s declared twice",
				pkg.ErrInvalidParameter, cfg.Number(), cfg.Direction())
		}
		h.mps = cfg.MaxPacketSize
		h.addr[hal.SlotEven] = take(cfg.MaxPacketSize)
		h.addr[hal.SlotOdd] = take(cfg.MaxPacketSize)
	}
	return nil
}

// TransferTypeName returns a human-readable transfer type name.
func TransferTypeName(t uint8) string {
	switch t & 0x03 {
	case EndpointTypeControl:
		return "Control"
	case EndpointTypeIsochronous:
		return "Isochronous"
	case EndpointTypeBulk:
		return "Bulk"
	case EndpointTypeInterrupt:
		return "Interrupt"
	default:
		return fmt.Sprintf("Unknown(%d)", t)
	}
}
