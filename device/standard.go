package device

import (
	"encoding/binary"

	"github.com/vladyst/USB-Stack/device/hal"
	"github.com/vladyst/USB-Stack/pkg"
)

// handleStandardRequestLocked dispatches a standard request. The return
// value reports whether the request was recognized and its transfer set
// in motion; unrecognized requests fall through to the class handler
// before the engine answers with a protocol stall.
func (s *Stack) handleStandardRequestLocked(setup *SetupPacket) bool {
	switch setup.Recipient() {
	case RequestRecipientDevice:
		return s.deviceRequestLocked(setup)
	case RequestRecipientInterface:
		return s.interfaceRequestLocked(setup)
	case RequestRecipientEndpoint:
		return s.endpointRequestLocked(setup)
	default:
		return false
	}
}

func (s *Stack) deviceRequestLocked(setup *SetupPacket) bool {
	switch setup.Request {
	case RequestGetStatus:
		return s.deviceStatusLocked(setup)
	case RequestClearFeature:
		return s.deviceFeatureLocked(setup, false)
	case RequestSetFeature:
		return s.deviceFeatureLocked(setup, true)
	case RequestSetAddress:
		return s.setAddressLocked(setup)
	case RequestGetDescriptor:
		return s.getDescriptorLocked(setup)
	case RequestGetConfiguration:
		return s.getConfigurationLocked(setup)
	case RequestSetConfiguration:
		return s.setConfigurationLocked(setup)
	default:
		// SET_DESCRIPTOR is not supported.
		return false
	}
}

// deviceStatusLocked answers GET_STATUS for the device recipient:
// bit 0 self-powered, bit 1 remote wakeup enabled.
func (s *Stack) deviceStatusLocked(setup *SetupPacket) bool {
	var status uint16
	if s.selfPowered {
		status |= 0x0001
	}
	if s.remoteWakeup {
		status |= 0x0002
	}
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], status)
	return s.setupInLocked(SourceMutable, buf[:]) == nil
}

// deviceFeatureLocked services SET_FEATURE and CLEAR_FEATURE for the
// device recipient. Remote wakeup is the only feature carried; TEST_MODE
// has no implementation here and falls through to a protocol stall.
func (s *Stack) deviceFeatureLocked(setup *SetupPacket, set bool) bool {
	switch setup.Value {
	case FeatureDeviceRemoteWakeup:
		s.remoteWakeup = set
		pkg.LogDebug(pkg.ComponentControl, "remote wakeup", "enabled", set)
		return true
	default:
		return false
	}
}

// setAddressLocked latches the new address. It is applied when the
// status handshake completes: the handshake itself still answers on the
// old address.
func (s *Stack) setAddressLocked(setup *SetupPacket) bool {
	s.pendingAddress = uint8(setup.Value & 0x7F)
	s.addressPending = true
	pkg.LogDebug(pkg.ComponentControl, "address latched", "address", s.pendingAddress)
	return true
}

// getDescriptorLocked serves standard descriptors from the descriptor
// set. Class descriptor types (HID report descriptors and the like) are
// not known here and route through the class handler. A full-speed-only
// device has no device qualifier, so that type routes through and ends
// in a protocol stall.
func (s *Stack) getDescriptorLocked(setup *SetupPacket) bool {
	var data []byte
	switch setup.DescriptorType() {
	case DescriptorTypeDevice:
		data = s.descs.Device()
	case DescriptorTypeConfiguration:
		data = s.descs.Configuration(setup.DescriptorIndex())
	case DescriptorTypeString:
		data = s.descs.String(setup.DescriptorIndex())
	default:
		return false
	}
	if data == nil {
		return false
	}
	return s.setupInLocked(SourceStatic, data) == nil
}

func (s *Stack) getConfigurationLocked(setup *SetupPacket) bool {
	return s.setupInLocked(SourceMutable, []byte{s.configuration}) == nil
}

func (s *Stack) setConfigurationLocked(setup *SetupPacket) bool {
	value := uint8(setup.Value)
	if !s.configureLocked(value) {
		return false
	}
	h := s.handler
	if h != nil {
		s.mu.Unlock()
		h.Configured(s, value)
		s.mu.Lock()
	}
	return true
}

// interfaceRequestLocked services interface-recipient requests. Only
// the default alternate setting is offered, so GET_INTERFACE always
// answers zero and SET_INTERFACE accepts only zero. Outside the
// configured state no interfaces exist to ask about.
func (s *Stack) interfaceRequestLocked(setup *SetupPacket) bool {
	if s.state != StateConfigured || setup.InterfaceNumber() >= s.numInterfaces {
		return false
	}
	switch setup.Request {
	case RequestGetStatus:
		return s.setupInLocked(SourceMutable, []byte{0, 0}) == nil
	case RequestGetInterface:
		return s.setupInLocked(SourceMutable, []byte{0}) == nil
	case RequestSetInterface:
		return setup.Value == 0
	default:
		// No standard interface features exist to set or clear.
		return false
	}
}

// endpointRequestLocked services endpoint-recipient requests. The halt
// feature applies to class endpoints; endpoint zero's stalls are
// protocol stalls owned by the control engine, so halting it by request
// is refused while clearing it is vacuously done (this request's SETUP
// packet already dropped any protocol stall).
func (s *Stack) endpointRequestLocked(setup *SetupPacket) bool {
	addr := setup.EndpointAddress()
	ep := addr & 0x0F
	dir := hal.DirOut
	if addr&EndpointDirectionIn != 0 {
		dir = hal.DirIn
	}
	if ep != 0 {
		if s.state != StateConfigured || !s.eps[ep][dir].present() {
			return false
		}
	}

	switch setup.Request {
	case RequestGetStatus:
		var buf [2]byte
		if s.eps[ep][dir].halted {
			buf[0] = 1
		}
		return s.setupInLocked(SourceMutable, buf[:]) == nil
	case RequestClearFeature:
		if setup.Value != FeatureEndpointHalt {
			return false
		}
		if ep == 0 {
			return true
		}
		s.clearHalfLocked(ep, dir)
		s.notifyHaltLocked(ep, dir, false)
		return true
	case RequestSetFeature:
		if setup.Value != FeatureEndpointHalt || ep == 0 {
			return false
		}
		s.stallHalfLocked(ep, dir)
		s.notifyHaltLocked(ep, dir, true)
		return true
	default:
		// SYNCH_FRAME wants an isochronous endpoint; there are none.
		return false
	}
}

// notifyHaltLocked runs the optional halt hook with the lock released.
func (s *Stack) notifyHaltLocked(ep uint8, dir hal.Direction, halted bool) {
	hook := s.haltHook()
	if hook == nil {
		return
	}
	s.mu.Unlock()
	hook.HaltChanged(s, ep, dir, halted)
	s.mu.Lock()
}
