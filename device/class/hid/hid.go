package hid

import (
	"errors"
	"sync"

	"github.com/vladyst/USB-Stack/device"
	"github.com/vladyst/USB-Stack/device/hal"
	"github.com/vladyst/USB-Stack/pkg"
)

// MaxReportSize is the largest report the class driver moves through
// endpoint zero.
const MaxReportSize = 64

// DefaultIdleRate is the keyboard idle default of 500 ms, in the 4 ms
// units SET_IDLE uses.
const DefaultIdleRate = 125

// Config places a HID function on the bus.
type Config struct {
	Interface     uint8
	InEndpoint    uint8
	OutEndpoint   uint8 // zero means LED reports arrive over endpoint zero only
	MaxPacketSize uint16
	Interval      uint8
}

// DefaultKeyboardConfig is a boot keyboard on interrupt endpoint 1.
func DefaultKeyboardConfig() Config {
	return Config{
		Interface:     0,
		InEndpoint:    1,
		MaxPacketSize: KeyboardReportSize,
		Interval:      10,
	}
}

// Endpoints returns the endpoint declarations for device.Options.
func (c Config) Endpoints() []device.EndpointConfig {
	eps := []device.EndpointConfig{{
		Address:       c.InEndpoint | device.EndpointDirectionIn,
		Attributes:    device.EndpointTypeInterrupt,
		MaxPacketSize: c.MaxPacketSize,
		Interval:      c.Interval,
	}}
	if c.OutEndpoint != 0 {
		eps = append(eps, device.EndpointConfig{
			Address:       c.OutEndpoint,
			Attributes:    device.EndpointTypeInterrupt,
			MaxPacketSize: c.MaxPacketSize,
			Interval:      c.Interval,
		})
	}
	return eps
}

// Keyboard is a boot-protocol keyboard function. It owns the current
// input report, answers the HID class requests, keeps the idle timer
// from start-of-frame, and accepts LED output reports.
//
// The keyboard lock may be held across stack calls: the stack never
// enters class code while holding its own lock.
type Keyboard struct {
	cfg        Config
	reportDesc []byte
	hidDesc    HIDDescriptor

	mu         sync.Mutex
	report     KeyboardReport
	leds       uint8
	protocol   uint8
	idleRate   uint8
	sofs       uint16
	dirty      bool
	configured bool

	ctrlBuf [MaxReportSize]byte
	ledBuf  [MaxReportSize]byte
	sendBuf [KeyboardReportSize]byte

	onLEDChange   func(leds uint8)
	onSetProtocol func(protocol uint8)
	onSetIdle     func(rate, reportID uint8)
}

// NewKeyboard creates a boot keyboard. A nil report descriptor uses
// the standard boot keyboard layout.
func NewKeyboard(cfg Config, reportDesc []byte) *Keyboard {
	if reportDesc == nil {
		reportDesc = KeyboardReportDescriptor
	}
	if cfg.MaxPacketSize == 0 {
		cfg.MaxPacketSize = KeyboardReportSize
	}
	return &Keyboard{
		cfg:        cfg,
		reportDesc: reportDesc,
		hidDesc: HIDDescriptor{
			Length:         HIDDescriptorSize,
			DescriptorType: DescriptorTypeHID,
			HIDVersion:     0x0111,
			CountryCode:    CountryNone,
			NumDescriptors: 1,
			ReportDescType: DescriptorTypeReport,
			ReportDescLen:  uint16(len(reportDesc)),
		},
		protocol: ProtocolReport,
		idleRate: DefaultIdleRate,
	}
}

// AddTo appends the keyboard's interface, HID descriptor, and
// endpoints to a configuration under construction.
func (k *Keyboard) AddTo(b *device.ConfigurationBuilder) {
	numEPs := uint8(1)
	if k.cfg.OutEndpoint != 0 {
		numEPs = 2
	}
	b.AddInterface(&device.InterfaceDescriptor{
		Length:            device.InterfaceDescriptorSize,
		DescriptorType:    device.DescriptorTypeInterface,
		InterfaceNumber:   k.cfg.Interface,
		NumEndpoints:      numEPs,
		InterfaceClass:    ClassHID,
		InterfaceSubClass: SubclassBoot,
		InterfaceProtocol: ProtocolKeyboard,
	})
	var buf [HIDDescriptorSize]byte
	b.AddRaw(buf[:k.hidDesc.MarshalTo(buf[:])])
	b.AddEndpoint(&device.EndpointDescriptor{
		Length:          device.EndpointDescriptorSize,
		DescriptorType:  device.DescriptorTypeEndpoint,
		EndpointAddress: k.cfg.InEndpoint | device.EndpointDirectionIn,
		Attributes:      device.EndpointTypeInterrupt,
		MaxPacketSize:   k.cfg.MaxPacketSize,
		Interval:        k.cfg.Interval,
	})
	if k.cfg.OutEndpoint != 0 {
		b.AddEndpoint(&device.EndpointDescriptor{
			Length:          device.EndpointDescriptorSize,
			DescriptorType:  device.DescriptorTypeEndpoint,
			EndpointAddress: k.cfg.OutEndpoint,
			Attributes:      device.EndpointTypeInterrupt,
			MaxPacketSize:   k.cfg.MaxPacketSize,
			Interval:        k.cfg.Interval,
		})
	}
}

// SetOnLEDChange sets the callback for LED output reports.
func (k *Keyboard) SetOnLEDChange(cb func(leds uint8)) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.onLEDChange = cb
}

// SetOnSetProtocol sets the callback for protocol changes.
func (k *Keyboard) SetOnSetProtocol(cb func(protocol uint8)) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.onSetProtocol = cb
}

// SetOnSetIdle sets the callback for idle rate changes.
func (k *Keyboard) SetOnSetIdle(cb func(rate, reportID uint8)) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.onSetIdle = cb
}

// Protocol returns the active protocol, boot or report.
func (k *Keyboard) Protocol() uint8 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.protocol
}

// IdleRate returns the idle rate in 4 ms units, zero meaning reports
// go out only on change.
func (k *Keyboard) IdleRate() uint8 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.idleRate
}

// LEDs returns the LED state last set by the host.
func (k *Keyboard) LEDs() uint8 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.leds
}

// ReportDescriptor returns the report descriptor served to the host.
func (k *Keyboard) ReportDescriptor() []byte {
	return k.reportDesc
}

// Request implements device.Handler.
func (k *Keyboard) Request(s *device.Stack, setup *device.SetupPacket) bool {
	if !setup.IsInterfaceRecipient() || setup.InterfaceNumber() != k.cfg.Interface {
		return false
	}
	if setup.IsStandard() {
		if setup.Request != device.RequestGetDescriptor {
			return false
		}
		return k.getDescriptor(s, setup)
	}
	if !setup.IsClass() {
		return false
	}

	switch setup.Request {
	case RequestGetReport:
		return k.getReport(s, setup)
	case RequestSetReport:
		return k.setReport(s, setup)
	case RequestGetIdle:
		k.mu.Lock()
		k.ctrlBuf[0] = k.idleRate
		k.mu.Unlock()
		return s.SetupInTransfer(device.SourceMutable, k.ctrlBuf[:1]) == nil
	case RequestSetIdle:
		return k.setIdle(setup)
	case RequestGetProtocol:
		k.mu.Lock()
		k.ctrlBuf[0] = k.protocol
		k.mu.Unlock()
		return s.SetupInTransfer(device.SourceMutable, k.ctrlBuf[:1]) == nil
	case RequestSetProtocol:
		return k.setProtocol(setup)
	}
	return false
}

func (k *Keyboard) getDescriptor(s *device.Stack, setup *device.SetupPacket) bool {
	switch setup.DescriptorType() {
	case DescriptorTypeHID:
		k.mu.Lock()
		n := k.hidDesc.MarshalTo(k.ctrlBuf[:])
		k.mu.Unlock()
		if n == 0 {
			return false
		}
		return s.SetupInTransfer(device.SourceMutable, k.ctrlBuf[:n]) == nil
	case DescriptorTypeReport:
		return s.SetupInTransfer(device.SourceStatic, k.reportDesc) == nil
	}
	return false
}

func (k *Keyboard) getReport(s *device.Stack, setup *device.SetupPacket) bool {
	reportType := uint8(setup.Value >> 8)
	k.mu.Lock()
	var n int
	switch reportType {
	case ReportTypeInput:
		n = k.report.MarshalTo(k.ctrlBuf[:])
	case ReportTypeOutput:
		k.ctrlBuf[0] = k.leds
		n = 1
	}
	k.mu.Unlock()
	if n == 0 {
		return false
	}
	return s.SetupInTransfer(device.SourceMutable, k.ctrlBuf[:n]) == nil
}

func (k *Keyboard) setReport(s *device.Stack, setup *device.SetupPacket) bool {
	reportType := uint8(setup.Value >> 8)
	if reportType != ReportTypeOutput {
		return false
	}
	if setup.Length == 0 || setup.Length > MaxReportSize {
		return false
	}
	return s.SetupOutTransfer(k.ledBuf[:], k.acceptLEDs) == nil
}

func (k *Keyboard) acceptLEDs(n int) bool {
	if n < 1 {
		return false
	}
	k.mu.Lock()
	k.leds = k.ledBuf[0]
	cb := k.onLEDChange
	leds := k.leds
	k.mu.Unlock()
	pkg.LogDebug(pkg.ComponentClass, "keyboard LEDs set", "leds", leds)
	if cb != nil {
		cb(leds)
	}
	return true
}

func (k *Keyboard) setIdle(setup *device.SetupPacket) bool {
	if setup.Length != 0 {
		return false
	}
	rate := uint8(setup.Value >> 8)
	reportID := uint8(setup.Value)
	k.mu.Lock()
	k.idleRate = rate
	k.sofs = 0
	cb := k.onSetIdle
	k.mu.Unlock()
	pkg.LogDebug(pkg.ComponentClass, "idle rate set",
		"rate", rate, "reportID", reportID)
	if cb != nil {
		cb(rate, reportID)
	}
	return true
}

func (k *Keyboard) setProtocol(setup *device.SetupPacket) bool {
	if setup.Length != 0 || setup.Value > ProtocolReport {
		return false
	}
	proto := uint8(setup.Value)
	k.mu.Lock()
	k.protocol = proto
	cb := k.onSetProtocol
	k.mu.Unlock()
	pkg.LogDebug(pkg.ComponentClass, "protocol set", "protocol", proto)
	if cb != nil {
		cb(proto)
	}
	return true
}

// Transaction implements device.Handler.
func (k *Keyboard) Transaction(s *device.Stack, ep uint8, dir hal.Direction, data []byte) {
	switch {
	case ep == k.cfg.InEndpoint && dir == hal.DirIn:
		k.mu.Lock()
		resend := k.dirty
		k.mu.Unlock()
		if resend {
			k.sendReport(s, true)
		}

	case k.cfg.OutEndpoint != 0 && ep == k.cfg.OutEndpoint && dir == hal.DirOut:
		if len(data) >= 1 {
			copy(k.ledBuf[:1], data[:1])
			k.acceptLEDs(1)
		}
		if err := s.ArmOut(ep); err != nil {
			pkg.LogWarn(pkg.ComponentClass, "rearm failed",
				"ep", ep, "error", err.Error())
		}
	}
}

// Configured implements device.Handler. A fresh configuration puts the
// function back into report protocol at the default idle rate.
func (k *Keyboard) Configured(s *device.Stack, value uint8) {
	k.mu.Lock()
	k.configured = value != 0
	k.protocol = ProtocolReport
	k.idleRate = DefaultIdleRate
	k.sofs = 0
	k.dirty = false
	k.report.Clear()
	k.mu.Unlock()
	if value == 0 || k.cfg.OutEndpoint == 0 {
		return
	}
	if err := s.ArmOut(k.cfg.OutEndpoint); err != nil {
		pkg.LogWarn(pkg.ComponentClass, "initial arm failed",
			"ep", k.cfg.OutEndpoint, "error", err.Error())
	}
}

// SOF implements device.SOFHandler: when the idle period elapses
// without a change, the current report goes out again.
func (k *Keyboard) SOF(s *device.Stack, frame uint16) {
	k.mu.Lock()
	if !k.configured || k.idleRate == 0 {
		k.mu.Unlock()
		return
	}
	k.sofs++
	if k.sofs < uint16(k.idleRate)*4 {
		k.mu.Unlock()
		return
	}
	k.sofs = 0
	k.mu.Unlock()
	k.sendReport(s, false)
}

// Press adds a key to the report and sends it.
func (k *Keyboard) Press(s *device.Stack, key uint8) error {
	k.mu.Lock()
	if !k.report.SetKey(key) {
		k.mu.Unlock()
		return pkg.ErrBufferTooSmall
	}
	k.mu.Unlock()
	return k.sendReport(s, true)
}

// Release removes a key from the report and sends it.
func (k *Keyboard) Release(s *device.Stack, key uint8) error {
	k.mu.Lock()
	k.report.ClearKey(key)
	k.mu.Unlock()
	return k.sendReport(s, true)
}

// SetModifiers replaces the modifier byte and sends the report.
func (k *Keyboard) SetModifiers(s *device.Stack, mods uint8) error {
	k.mu.Lock()
	k.report.Modifiers = mods
	k.mu.Unlock()
	return k.sendReport(s, true)
}

// sendReport arms the current report. When the endpoint has no free
// buffer and the report changed, the dirty flag defers the send to the
// next IN completion and the report is considered delivered.
func (k *Keyboard) sendReport(s *device.Stack, markDirty bool) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.configured {
		return pkg.ErrNotConfigured
	}
	n := k.report.MarshalTo(k.sendBuf[:])
	err := s.ArmIn(k.cfg.InEndpoint, k.sendBuf[:n])
	if err == nil {
		k.dirty = false
		k.sofs = 0
		return nil
	}
	if markDirty && errors.Is(err, pkg.ErrOwned) {
		k.dirty = true
		return nil
	}
	return err
}

var _ device.Handler = (*Keyboard)(nil)
var _ device.SOFHandler = (*Keyboard)(nil)
