package sim

import (
	"encoding/binary"
	"fmt"

	"github.com/vladyst/USB-Stack/device"
	"github.com/vladyst/USB-Stack/device/hal"
	"github.com/vladyst/USB-Stack/pkg"
)

const defaultRetries = 32

// Host scripts bus traffic against an Engine. Between tokens it calls
// Pump so the device stack can service completions, the way a real
// host's inter-packet gaps give firmware time to run. NAK handshakes
// are retried after pumping, up to Retries attempts.
//
// The host keeps its own data toggle per endpoint and fails a transfer
// when the device answers with the wrong sequence bit.
type Host struct {
	// Pump services the attached device, typically Stack.ServiceOnce.
	Pump func()

	// MPS0 is the control endpoint packet size used for chunking.
	// Hosts start at 8 until the device descriptor says otherwise;
	// Enumerate updates it automatically.
	MPS0 int

	// Retries bounds NAK retry loops. Zero means the default.
	Retries int

	eng     *Engine
	toggles [hal.MaxEndpoints][2]bool
}

// NewHost creates a host driving eng, pumping the device with pump
// between bus operations.
func NewHost(eng *Engine, pump func()) *Host {
	return &Host{Pump: pump, MPS0: 8, eng: eng}
}

// Engine returns the engine under the host.
func (h *Host) Engine() *Engine {
	return h.eng
}

func (h *Host) pump() {
	if h.Pump != nil {
		h.Pump()
	}
}

func (h *Host) retries() int {
	if h.Retries > 0 {
		return h.Retries
	}
	return defaultRetries
}

// ResetBus drives a bus reset and rewinds the host's toggle state.
func (h *Host) ResetBus() {
	h.eng.Reset()
	h.pump()
	h.toggles = [hal.MaxEndpoints][2]bool{}
}

// ResetToggle rewinds the host's toggle for one endpoint half, as a
// host does after clearing a halt.
func (h *Host) ResetToggle(ep uint8, dir hal.Direction) {
	h.toggles[ep][dir] = false
}

// Setup sends a SETUP packet to endpoint zero, retrying while the
// device has no buffer ready.
func (h *Host) Setup(setup []byte) error {
	for attempt := 0; attempt < h.retries(); attempt++ {
		res := h.eng.Setup(0, setup)
		h.pump()
		switch res {
		case ACK:
			return nil
		case NAK:
			continue
		default:
			return fmt.Errorf("SETUP handshake %s", res)
		}
	}
	return fmt.Errorf("%w: SETUP", pkg.ErrTimeout)
}

func (h *Host) outRetry(ep uint8, data []byte, data1 bool) (Result, error) {
	for attempt := 0; attempt < h.retries(); attempt++ {
		res := h.eng.Out(ep, data, data1)
		h.pump()
		if res != NAK {
			return res, nil
		}
	}
	return NAK, fmt.Errorf("%w: OUT ep %d", pkg.ErrTimeout, ep)
}

func (h *Host) inRetry(ep uint8, buf []byte) (Result, int, bool, error) {
	for attempt := 0; attempt < h.retries(); attempt++ {
		res, n, data1 := h.eng.In(ep, buf)
		h.pump()
		if res != NAK {
			return res, n, data1, nil
		}
	}
	return NAK, 0, false, fmt.Errorf("%w: IN ep %d", pkg.ErrTimeout, ep)
}

// controlIn runs the data and status stages of a device-to-host
// control transfer after sending pkt.
func (h *Host) controlIn(pkt device.SetupPacket, buf []byte) (int, error) {
	var raw [device.SetupPacketSize]byte
	pkt.MarshalTo(raw[:])
	if err := h.Setup(raw[:]); err != nil {
		return 0, err
	}

	total := 0
	expect := true
	for total < len(buf) {
		res, n, data1, err := h.inRetry(0, buf[total:])
		if err != nil {
			return total, err
		}
		switch res {
		case ACK:
		case STALL:
			return total, fmt.Errorf("%w: control read data", pkg.ErrStall)
		default:
			return total, fmt.Errorf("control read data handshake %s", res)
		}
		if data1 != expect {
			return total, fmt.Errorf("control read toggle: got DATA%d, want DATA%d",
				b2i(data1), b2i(expect))
		}
		total += n
		if n < h.MPS0 {
			break
		}
		expect = !expect
	}

	res, err := h.outRetry(0, nil, true)
	if err != nil {
		return total, err
	}
	switch res {
	case ACK:
		return total, nil
	case STALL:
		return total, fmt.Errorf("%w: control read status", pkg.ErrStall)
	default:
		return total, fmt.Errorf("control read status handshake %s", res)
	}
}

// controlOut runs the data and status stages of a host-to-device
// control transfer after sending pkt.
func (h *Host) controlOut(pkt device.SetupPacket, data []byte) error {
	var raw [device.SetupPacketSize]byte
	pkt.MarshalTo(raw[:])
	if err := h.Setup(raw[:]); err != nil {
		return err
	}

	data1 := true
	for off := 0; off < len(data); {
		n := len(data) - off
		if n > h.MPS0 {
			n = h.MPS0
		}
		res, err := h.outRetry(0, data[off:off+n], data1)
		if err != nil {
			return err
		}
		switch res {
		case ACK:
		case STALL:
			return fmt.Errorf("%w: control write data", pkg.ErrStall)
		default:
			return fmt.Errorf("control write data handshake %s", res)
		}
		off += n
		data1 = !data1
	}

	var status [hal.MaxPacketSize]byte
	res, n, got1, err := h.inRetry(0, status[:])
	if err != nil {
		return err
	}
	switch res {
	case ACK:
	case STALL:
		return fmt.Errorf("%w: control write status", pkg.ErrStall)
	default:
		return fmt.Errorf("control write status handshake %s", res)
	}
	if n != 0 || !got1 {
		return fmt.Errorf("control write status: %d bytes DATA%d, want empty DATA1",
			n, b2i(got1))
	}
	return nil
}

// ControlRead runs a device-to-host control transfer and returns the
// number of bytes the device sent. len(buf) becomes wLength. A request
// the device refuses returns pkg.ErrStall.
func (h *Host) ControlRead(bmRequestType, bRequest uint8, wValue, wIndex uint16, buf []byte) (int, error) {
	return h.controlIn(device.SetupPacket{
		RequestType: bmRequestType | device.RequestDirectionDeviceToHost,
		Request:     bRequest,
		Value:       wValue,
		Index:       wIndex,
		Length:      uint16(len(buf)),
	}, buf)
}

// ControlWrite runs a host-to-device control transfer; a nil or empty
// data means a no-data request. A request the device refuses returns
// pkg.ErrStall.
func (h *Host) ControlWrite(bmRequestType, bRequest uint8, wValue, wIndex uint16, data []byte) error {
	return h.controlOut(device.SetupPacket{
		RequestType: bmRequestType &^ device.RequestDirectionDeviceToHost,
		Request:     bRequest,
		Value:       wValue,
		Index:       wIndex,
		Length:      uint16(len(data)),
	}, data)
}

// OutPacket sends one data packet to a class OUT endpoint, advancing
// the host toggle on success.
func (h *Host) OutPacket(ep uint8, data []byte) error {
	res, err := h.outRetry(ep, data, h.toggles[ep][hal.DirOut])
	if err != nil {
		return err
	}
	switch res {
	case ACK:
		h.toggles[ep][hal.DirOut] = !h.toggles[ep][hal.DirOut]
		return nil
	case STALL:
		return fmt.Errorf("%w: OUT ep %d", pkg.ErrStall, ep)
	default:
		return fmt.Errorf("OUT ep %d handshake %s", ep, res)
	}
}

// InPacket reads one data packet from a class IN endpoint, verifying
// and advancing the host toggle.
func (h *Host) InPacket(ep uint8, buf []byte) (int, error) {
	res, n, data1, err := h.inRetry(ep, buf)
	if err != nil {
		return 0, err
	}
	switch res {
	case ACK:
	case STALL:
		return 0, fmt.Errorf("%w: IN ep %d", pkg.ErrStall, ep)
	default:
		return 0, fmt.Errorf("IN ep %d handshake %s", ep, res)
	}
	if data1 != h.toggles[ep][hal.DirIn] {
		return n, fmt.Errorf("ep %d IN toggle: got DATA%d, want DATA%d",
			ep, b2i(data1), b2i(h.toggles[ep][hal.DirIn]))
	}
	h.toggles[ep][hal.DirIn] = !h.toggles[ep][hal.DirIn]
	return n, nil
}

// GetDescriptor reads a descriptor into buf; len(buf) caps the length
// requested. wIndex carries the language ID for string descriptors.
func (h *Host) GetDescriptor(descType, index uint8, wIndex uint16, buf []byte) (int, error) {
	return h.controlIn(device.GetDescriptorSetup(descType, index, wIndex, uint16(len(buf))), buf)
}

// SetAddress assigns the device address.
func (h *Host) SetAddress(addr uint8) error {
	return h.controlOut(device.SetAddressSetup(addr), nil)
}

// SetConfiguration selects a configuration by value.
func (h *Host) SetConfiguration(value uint8) error {
	return h.controlOut(device.SetConfigurationSetup(value), nil)
}

// GetConfiguration reads the active configuration value.
func (h *Host) GetConfiguration() (uint8, error) {
	var b [1]byte
	n, err := h.controlIn(device.GetConfigurationSetup(), b[:])
	if err != nil {
		return 0, err
	}
	if n != 1 {
		return 0, fmt.Errorf("GET_CONFIGURATION returned %d bytes", n)
	}
	return b[0], nil
}

// GetStatus reads the two status bytes for the given recipient.
func (h *Host) GetStatus(recipient uint8, wIndex uint16) (uint16, error) {
	var b [2]byte
	n, err := h.controlIn(device.GetStatusSetup(recipient, wIndex), b[:])
	if err != nil {
		return 0, err
	}
	if n != 2 {
		return 0, fmt.Errorf("GET_STATUS returned %d bytes", n)
	}
	return binary.LittleEndian.Uint16(b[:]), nil
}

// SetInterface selects an alternate setting on an interface.
func (h *Host) SetInterface(iface, alt uint8) error {
	return h.controlOut(device.SetInterfaceSetup(iface, alt), nil)
}

// GetInterface reads the active alternate setting of an interface.
func (h *Host) GetInterface(iface uint8) (uint8, error) {
	var b [1]byte
	n, err := h.controlIn(device.GetInterfaceSetup(iface), b[:])
	if err != nil {
		return 0, err
	}
	if n != 1 {
		return 0, fmt.Errorf("GET_INTERFACE returned %d bytes", n)
	}
	return b[0], nil
}

// ClearHalt clears the halt feature on an endpoint and rewinds the
// host-side toggle for it.
func (h *Host) ClearHalt(epAddr uint8) error {
	pkt := device.ClearFeatureSetup(device.RequestRecipientEndpoint,
		device.FeatureEndpointHalt, uint16(epAddr))
	if err := h.controlOut(pkt, nil); err != nil {
		return err
	}
	dir := hal.DirOut
	if epAddr&0x80 != 0 {
		dir = hal.DirIn
	}
	h.ResetToggle(epAddr&0x0F, dir)
	return nil
}

// SetHalt sets the halt feature on an endpoint.
func (h *Host) SetHalt(epAddr uint8) error {
	pkt := device.SetFeatureSetup(device.RequestRecipientEndpoint,
		device.FeatureEndpointHalt, uint16(epAddr))
	return h.controlOut(pkt, nil)
}

// Enumeration is what Enumerate learned about the device.
type Enumeration struct {
	Device  []byte
	Config  []byte
	Address uint8
}

// Enumerate runs the standard bring-up: reset, size the control
// endpoint from the first eight descriptor bytes, assign addr, read
// the full device and configuration descriptors, and select the first
// configuration.
func (h *Host) Enumerate(addr uint8) (*Enumeration, error) {
	h.ResetBus()
	h.MPS0 = 8

	var head [8]byte
	if _, err := h.GetDescriptor(device.DescriptorTypeDevice, 0, 0, head[:]); err != nil {
		return nil, fmt.Errorf("device descriptor head: %w", err)
	}
	if head[7] != 0 {
		h.MPS0 = int(head[7])
	}

	h.ResetBus()
	if err := h.SetAddress(addr); err != nil {
		return nil, fmt.Errorf("set address: %w", err)
	}

	dev := make([]byte, head[0])
	if _, err := h.GetDescriptor(device.DescriptorTypeDevice, 0, 0, dev); err != nil {
		return nil, fmt.Errorf("device descriptor: %w", err)
	}

	var cfgHead [9]byte
	if _, err := h.GetDescriptor(device.DescriptorTypeConfiguration, 0, 0, cfgHead[:]); err != nil {
		return nil, fmt.Errorf("configuration descriptor head: %w", err)
	}
	total := binary.LittleEndian.Uint16(cfgHead[2:4])
	cfg := make([]byte, total)
	if _, err := h.GetDescriptor(device.DescriptorTypeConfiguration, 0, 0, cfg); err != nil {
		return nil, fmt.Errorf("configuration descriptor: %w", err)
	}

	if err := h.SetConfiguration(cfg[5]); err != nil {
		return nil, fmt.Errorf("set configuration: %w", err)
	}
	return &Enumeration{Device: dev, Config: cfg, Address: addr}, nil
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}
