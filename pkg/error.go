package pkg

import "errors"

// USB device stack errors.
var (
	// ErrStall indicates an endpoint answered or was placed in a stall condition.
	ErrStall = errors.New("endpoint stalled")

	// ErrNAK indicates a NAK handshake (endpoint not ready).
	ErrNAK = errors.New("NAK received")

	// ErrOwned indicates a buffer descriptor is owned by the hardware engine.
	ErrOwned = errors.New("buffer descriptor hardware-owned")

	// ErrHalted indicates an operation on a halted endpoint.
	ErrHalted = errors.New("endpoint halted")

	// ErrRequest indicates a malformed or unsupported control request.
	ErrRequest = errors.New("request error")

	// ErrInvalidEndpoint indicates an invalid endpoint address.
	ErrInvalidEndpoint = errors.New("invalid endpoint")

	// ErrInvalidState indicates an invalid device state for the operation.
	ErrInvalidState = errors.New("invalid device state")

	// ErrNotConfigured indicates the device is not configured.
	ErrNotConfigured = errors.New("device not configured")

	// ErrDetached indicates the device is detached from the bus.
	ErrDetached = errors.New("device detached")

	// ErrAttached indicates the device is already attached to the bus.
	ErrAttached = errors.New("device already attached")

	// ErrBufferTooSmall indicates the provided buffer is too small.
	ErrBufferTooSmall = errors.New("buffer too small")

	// ErrPacketTooLarge indicates data exceeding the endpoint packet size.
	ErrPacketTooLarge = errors.New("packet exceeds endpoint size")

	// ErrDescriptorTooShort indicates the descriptor data is too short.
	ErrDescriptorTooShort = errors.New("descriptor too short")

	// ErrDescriptorTypeMismatch indicates the descriptor type does not match expected.
	ErrDescriptorTypeMismatch = errors.New("descriptor type mismatch")

	// ErrSetupPacketTooShort indicates the setup packet data is too short.
	ErrSetupPacketTooShort = errors.New("setup packet too short")

	// ErrInvalidParameter indicates an invalid parameter was provided.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrConfig indicates an invalid device definition.
	ErrConfig = errors.New("invalid configuration")

	// ErrTimeout indicates the host gave up waiting on a transaction.
	ErrTimeout = errors.New("transaction timeout")
)
