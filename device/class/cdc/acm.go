package cdc

import (
	"sync"

	"github.com/vladyst/USB-Stack/device"
	"github.com/vladyst/USB-Stack/device/hal"
	"github.com/vladyst/USB-Stack/pkg"
)

// MaxTxBufferSize is the transmit ring capacity.
const MaxTxBufferSize = 4096

// SerialStateSize is the size of a SERIAL_STATE notification packet:
// an eight byte request header followed by two state bytes.
const SerialStateSize = 10

// Config places the ACM function on the bus: which interfaces it
// occupies and which endpoints carry notifications and data. The data
// endpoint number is used in both directions.
type Config struct {
	ControlInterface uint8
	DataInterface    uint8
	NotifyEndpoint   uint8
	DataEndpoint     uint8
	MaxPacketSize    uint16
}

// DefaultConfig is the classic two-interface layout: notifications on
// interrupt endpoint 1, data on bulk endpoint 2.
func DefaultConfig() Config {
	return Config{
		ControlInterface: 0,
		DataInterface:    1,
		NotifyEndpoint:   1,
		DataEndpoint:     2,
		MaxPacketSize:    64,
	}
}

// Endpoints returns the endpoint declarations for device.Options.
func (c Config) Endpoints() []device.EndpointConfig {
	return []device.EndpointConfig{
		{
			Address:       c.NotifyEndpoint | device.EndpointDirectionIn,
			Attributes:    device.EndpointTypeInterrupt,
			MaxPacketSize: SerialStateSize,
			Interval:      2,
		},
		{
			Address:       c.DataEndpoint | device.EndpointDirectionIn,
			Attributes:    device.EndpointTypeBulk,
			MaxPacketSize: c.MaxPacketSize,
		},
		{
			Address:       c.DataEndpoint,
			Attributes:    device.EndpointTypeBulk,
			MaxPacketSize: c.MaxPacketSize,
		},
	}
}

// AddTo appends the ACM function's interfaces, functional descriptors,
// and endpoints to a configuration under construction.
func (c Config) AddTo(b *device.ConfigurationBuilder) {
	b.AddInterface(&device.InterfaceDescriptor{
		Length:            device.InterfaceDescriptorSize,
		DescriptorType:    device.DescriptorTypeInterface,
		InterfaceNumber:   c.ControlInterface,
		NumEndpoints:      1,
		InterfaceClass:    ClassCDC,
		InterfaceSubClass: SubclassACM,
		InterfaceProtocol: ProtocolAT,
	})

	var buf [HeaderDescriptorSize]byte
	hdr := HeaderDescriptor{CDCVersion: 0x0110}
	b.AddRaw(buf[:hdr.MarshalTo(buf[:])])
	acm := ACMDescriptor{Capabilities: ACMCapLineCoding | ACMCapSendBreak}
	b.AddRaw(buf[:acm.MarshalTo(buf[:])])
	union := UnionDescriptor{
		MasterInterface: c.ControlInterface,
		SlaveInterface0: c.DataInterface,
	}
	b.AddRaw(buf[:union.MarshalTo(buf[:])])
	call := CallManagementDescriptor{DataInterface: c.DataInterface}
	b.AddRaw(buf[:call.MarshalTo(buf[:])])

	b.AddEndpoint(&device.EndpointDescriptor{
		Length:          device.EndpointDescriptorSize,
		DescriptorType:  device.DescriptorTypeEndpoint,
		EndpointAddress: c.NotifyEndpoint | device.EndpointDirectionIn,
		Attributes:      device.EndpointTypeInterrupt,
		MaxPacketSize:   SerialStateSize,
		Interval:        2,
	})

	b.AddInterface(&device.InterfaceDescriptor{
		Length:          device.InterfaceDescriptorSize,
		DescriptorType:  device.DescriptorTypeInterface,
		InterfaceNumber: c.DataInterface,
		NumEndpoints:    2,
		InterfaceClass:  ClassCDCData,
	})
	b.AddEndpoint(&device.EndpointDescriptor{
		Length:          device.EndpointDescriptorSize,
		DescriptorType:  device.DescriptorTypeEndpoint,
		EndpointAddress: c.DataEndpoint | device.EndpointDirectionIn,
		Attributes:      device.EndpointTypeBulk,
		MaxPacketSize:   c.MaxPacketSize,
	})
	b.AddEndpoint(&device.EndpointDescriptor{
		Length:          device.EndpointDescriptorSize,
		DescriptorType:  device.DescriptorTypeEndpoint,
		EndpointAddress: c.DataEndpoint,
		Attributes:      device.EndpointTypeBulk,
		MaxPacketSize:   c.MaxPacketSize,
	})
}

// ACM is an abstract control model serial function. It answers the
// class control requests, moves bulk data through a transmit ring, and
// raises SERIAL_STATE notifications.
//
// The ACM lock may be held across stack calls: the stack never enters
// class code while holding its own lock.
type ACM struct {
	cfg Config

	mu           sync.Mutex
	lineCoding   LineCoding
	controlState uint16
	serialState  uint16
	configured   bool

	codingBuf [LineCodingSize]byte
	notifyBuf [SerialStateSize]byte

	txRing [MaxTxBufferSize]byte
	txTail int
	txUsed int

	onLineCodingChange   func(LineCoding)
	onControlStateChange func(dtr, rts bool)
	onBreak              func(millis uint16)
	onReceive            func(data []byte)
}

// NewACM creates an ACM function with the given layout.
func NewACM(cfg Config) *ACM {
	if cfg.MaxPacketSize == 0 {
		cfg.MaxPacketSize = 64
	}
	return &ACM{cfg: cfg, lineCoding: DefaultLineCoding}
}

// SetOnLineCodingChange sets the callback for accepted line codings.
func (a *ACM) SetOnLineCodingChange(cb func(LineCoding)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onLineCodingChange = cb
}

// SetOnControlStateChange sets the callback for DTR and RTS changes.
func (a *ACM) SetOnControlStateChange(cb func(dtr, rts bool)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onControlStateChange = cb
}

// SetOnBreak sets the callback for break signaling.
func (a *ACM) SetOnBreak(cb func(millis uint16)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onBreak = cb
}

// SetOnReceive sets the callback for received bulk data. The slice is
// only valid for the duration of the call.
func (a *ACM) SetOnReceive(cb func(data []byte)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onReceive = cb
}

// LineCoding returns the current line coding.
func (a *ACM) LineCoding() LineCoding {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lineCoding
}

// DTR reports the data terminal ready line.
func (a *ACM) DTR() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.controlState&ControlLineDTR != 0
}

// RTS reports the request to send line.
func (a *ACM) RTS() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.controlState&ControlLineRTS != 0
}

// Request implements device.Handler.
func (a *ACM) Request(s *device.Stack, setup *device.SetupPacket) bool {
	if !setup.IsClass() || !setup.IsInterfaceRecipient() {
		return false
	}
	if setup.InterfaceNumber() != a.cfg.ControlInterface {
		return false
	}

	switch setup.Request {
	case RequestSetLineCoding:
		if setup.Length != LineCodingSize {
			return false
		}
		return s.SetupOutTransfer(a.codingBuf[:], a.acceptLineCoding) == nil

	case RequestGetLineCoding:
		a.mu.Lock()
		n := a.lineCoding.MarshalTo(a.codingBuf[:])
		a.mu.Unlock()
		if n == 0 {
			return false
		}
		return s.SetupInTransfer(device.SourceMutable, a.codingBuf[:n]) == nil

	case RequestSetControlLineState:
		if setup.Length != 0 {
			return false
		}
		a.mu.Lock()
		a.controlState = setup.Value
		dtr := setup.Value&ControlLineDTR != 0
		rts := setup.Value&ControlLineRTS != 0
		cb := a.onControlStateChange
		a.mu.Unlock()
		pkg.LogDebug(pkg.ComponentClass, "control line state",
			"dtr", dtr, "rts", rts)
		if cb != nil {
			cb(dtr, rts)
		}
		return true

	case RequestSendBreak:
		if setup.Length != 0 {
			return false
		}
		a.mu.Lock()
		cb := a.onBreak
		a.mu.Unlock()
		pkg.LogDebug(pkg.ComponentClass, "break", "millis", setup.Value)
		if cb != nil {
			cb(setup.Value)
		}
		return true
	}
	return false
}

// acceptLineCoding validates a SET_LINE_CODING payload. The function
// only does 8N1 with whole stop bits; anything else fails the request.
func (a *ACM) acceptLineCoding(n int) bool {
	var lc LineCoding
	if !ParseLineCoding(a.codingBuf[:n], &lc) {
		return false
	}
	if lc.CharFormat != StopBits1 || lc.ParityType != ParityNone || lc.DataBits != 8 {
		pkg.LogDebug(pkg.ComponentClass, "line coding rejected",
			"stopBits", lc.CharFormat,
			"parity", lc.ParityType,
			"dataBits", lc.DataBits)
		return false
	}
	a.mu.Lock()
	a.lineCoding = lc
	cb := a.onLineCodingChange
	a.mu.Unlock()
	pkg.LogDebug(pkg.ComponentClass, "line coding set", "baud", lc.DTERate)
	if cb != nil {
		cb(lc)
	}
	return true
}

// Transaction implements device.Handler.
func (a *ACM) Transaction(s *device.Stack, ep uint8, dir hal.Direction, data []byte) {
	switch {
	case ep == a.cfg.DataEndpoint && dir == hal.DirOut:
		a.mu.Lock()
		cb := a.onReceive
		a.mu.Unlock()
		if cb != nil {
			cb(data)
		}
		if err := s.ArmOut(ep); err != nil {
			pkg.LogWarn(pkg.ComponentClass, "rearm failed",
				"ep", ep, "error", err.Error())
		}

	case ep == a.cfg.DataEndpoint && dir == hal.DirIn:
		a.pumpTx(s)
	}
}

// Configured implements device.Handler.
func (a *ACM) Configured(s *device.Stack, value uint8) {
	a.mu.Lock()
	a.configured = value != 0
	a.txTail = 0
	a.txUsed = 0
	a.mu.Unlock()
	if value == 0 {
		return
	}
	if err := s.ArmOut(a.cfg.DataEndpoint); err != nil {
		pkg.LogWarn(pkg.ComponentClass, "initial arm failed",
			"ep", a.cfg.DataEndpoint, "error", err.Error())
	}
}

// Send queues data toward the host and returns how much fit in the
// transmit ring. Data drains one bulk packet at a time as the host
// polls; Send never blocks.
func (a *ACM) Send(s *device.Stack, data []byte) (int, error) {
	a.mu.Lock()
	if !a.configured {
		a.mu.Unlock()
		return 0, pkg.ErrNotConfigured
	}
	queued := 0
	for queued < len(data) && a.txUsed < len(a.txRing) {
		head := (a.txTail + a.txUsed) % len(a.txRing)
		n := len(a.txRing) - head
		if free := len(a.txRing) - a.txUsed; n > free {
			n = free
		}
		if rem := len(data) - queued; n > rem {
			n = rem
		}
		copy(a.txRing[head:head+n], data[queued:queued+n])
		a.txUsed += n
		queued += n
	}
	a.pumpTxLocked(s)
	a.mu.Unlock()
	return queued, nil
}

func (a *ACM) pumpTx(s *device.Stack) {
	a.mu.Lock()
	a.pumpTxLocked(s)
	a.mu.Unlock()
}

// pumpTxLocked arms bulk IN packets from the ring until the endpoint
// runs out of free buffers or the ring drains.
func (a *ACM) pumpTxLocked(s *device.Stack) {
	for a.configured && a.txUsed > 0 {
		n := a.txUsed
		if mps := int(a.cfg.MaxPacketSize); n > mps {
			n = mps
		}
		if wrap := len(a.txRing) - a.txTail; n > wrap {
			n = wrap
		}
		if err := s.ArmIn(a.cfg.DataEndpoint, a.txRing[a.txTail:a.txTail+n]); err != nil {
			return
		}
		a.txTail = (a.txTail + n) % len(a.txRing)
		a.txUsed -= n
	}
}

// NotifySerialState reports line and error state to the host on the
// notification endpoint.
func (a *ACM) NotifySerialState(s *device.Stack, state uint16) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.configured {
		return pkg.ErrNotConfigured
	}
	a.serialState = state

	b := &a.notifyBuf
	b[0] = 0xA1
	b[1] = NotificationSerialState
	b[2], b[3] = 0, 0
	b[4], b[5] = a.cfg.ControlInterface, 0
	b[6], b[7] = 2, 0
	b[8] = byte(state)
	b[9] = byte(state >> 8)

	return s.ArmIn(a.cfg.NotifyEndpoint, b[:])
}

var _ device.Handler = (*ACM)(nil)
