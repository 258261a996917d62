package device

import "github.com/vladyst/USB-Stack/device/hal"

// Handler is the class layer's contract with the stack. One handler
// serves the whole device; composite functions multiplex internally on
// endpoint numbers and interface indices.
//
// Hooks run on the goroutine driving ServiceOnce, with the stack lock
// released: they may call back into the stack (SetupInTransfer, ArmIn,
// StallEndpoint and the rest), but must not call ServiceOnce.
type Handler interface {
	// Request offers a SETUP packet the standard machinery did not
	// consume: class and vendor requests, plus standard requests the
	// stack has no answer for, such as GET_DESCRIPTOR of a class
	// descriptor type. Return true after starting the data stage with
	// SetupInTransfer or SetupOutTransfer, or after accepting a no-data
	// request. Returning false answers the request with a protocol
	// stall.
	Request(s *Stack, setup *SetupPacket) bool

	// Transaction delivers a completed class endpoint transaction. For
	// an OUT endpoint, data is the received packet and stays valid only
	// until the endpoint is re-armed; for an IN endpoint it is the
	// packet that just went out.
	Transaction(s *Stack, ep uint8, dir hal.Direction, data []byte)

	// Configured runs after SET_CONFIGURATION switches the active
	// configuration; value zero means the host deconfigured the
	// device. Class endpoints are enabled by the time it runs, so OUT
	// endpoints get their first arm here.
	Configured(s *Stack, value uint8)
}

// SOFHandler is an optional Handler capability: periodic servicing on
// start-of-frame, for idle-rate timers and notification polling.
type SOFHandler interface {
	SOF(s *Stack, frame uint16)
}

// HaltHandler is an optional Handler capability: notification whenever
// an endpoint halt is set or cleared, by host request or through
// StallEndpoint and ClearStall.
type HaltHandler interface {
	HaltChanged(s *Stack, ep uint8, dir hal.Direction, halted bool)
}

// ResetHandler is an optional Handler capability: notification when a
// bus reset tears the configuration down.
type ResetHandler interface {
	Reset(s *Stack)
}

func (s *Stack) haltHook() HaltHandler {
	if h, ok := s.handler.(HaltHandler); ok {
		return h
	}
	return nil
}

func (s *Stack) sofHook() SOFHandler {
	if h, ok := s.handler.(SOFHandler); ok {
		return h
	}
	return nil
}

func (s *Stack) resetHook() ResetHandler {
	if h, ok := s.handler.(ResetHandler); ok {
		return h
	}
	return nil
}

// SetOnStateChange sets the state change callback.
func (s *Stack) SetOnStateChange(cb func(old, new State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStateChange = cb
}

// SetOnReset sets the bus reset callback.
func (s *Stack) SetOnReset(cb func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onReset = cb
}

// SetOnSuspend sets the suspend callback.
func (s *Stack) SetOnSuspend(cb func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSuspend = cb
}

// SetOnResume sets the resume callback.
func (s *Stack) SetOnResume(cb func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onResume = cb
}

// SetOnSOF sets the start-of-frame callback.
func (s *Stack) SetOnSOF(cb func(frame uint16)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSOF = cb
}

// SetOnError sets the bus error callback. The argument carries the
// engine's error condition bits.
func (s *Stack) SetOnError(cb func(errs uint8)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onError = cb
}
