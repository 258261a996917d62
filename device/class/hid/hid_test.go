package hid_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/vladyst/USB-Stack/device"
	"github.com/vladyst/USB-Stack/device/class/hid"
	"github.com/vladyst/USB-Stack/device/hal"
	"github.com/vladyst/USB-Stack/device/hal/sim"
	"github.com/vladyst/USB-Stack/pkg"
)

func keyboardDescriptors(t *testing.T, kbd *hid.Keyboard) *device.StaticDescriptors {
	t.Helper()

	dev := device.DeviceDescriptor{
		Length:            device.DeviceDescriptorSize,
		DescriptorType:    device.DescriptorTypeDevice,
		USBVersion:        0x0200,
		MaxPacketSize0:    8,
		VendorID:          0x04D8,
		ProductID:         0x0055,
		DeviceVersion:     0x0100,
		NumConfigurations: 1,
	}
	devBytes := make([]byte, device.DeviceDescriptorSize)
	dev.MarshalTo(devBytes)

	b := device.NewConfigurationBuilder(&device.ConfigurationDescriptor{
		Length:             device.ConfigurationDescriptorSize,
		DescriptorType:     device.DescriptorTypeConfiguration,
		ConfigurationValue: 1,
		Attributes:         0xA0,
		MaxPower:           50,
	})
	kbd.AddTo(b)

	var lang [8]byte
	nl := device.LanguageDescriptorTo(lang[:], device.LangIDUSEnglish)

	return &device.StaticDescriptors{
		DeviceBytes: devBytes,
		Configs:     [][]byte{b.Bytes()},
		Strings:     [][]byte{lang[:nl]},
	}
}

func newKeyboardDevice(t *testing.T) (*device.Stack, *hid.Keyboard, *sim.Host) {
	t.Helper()

	kbd := hid.NewKeyboard(hid.DefaultKeyboardConfig(), nil)
	eng := sim.New(hal.PingPongDisabled)
	s, err := device.New(device.Options{
		Engine:      eng,
		Descriptors: keyboardDescriptors(t, kbd),
		Handler:     kbd,
		Endpoints:   hid.DefaultKeyboardConfig().Endpoints(),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := s.Attach(); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	host := sim.NewHost(eng, func() { s.ServiceOnce() })
	if _, err := host.Enumerate(3); err != nil {
		t.Fatalf("Enumerate() error = %v", err)
	}
	return s, kbd, host
}

func TestKeyboardReportDescriptorRequest(t *testing.T) {
	_, kbd, host := newKeyboardDevice(t)

	buf := make([]byte, len(kbd.ReportDescriptor()))
	n, err := host.ControlRead(0x81, device.RequestGetDescriptor,
		uint16(hid.DescriptorTypeReport)<<8, 0, buf)
	if err != nil {
		t.Fatalf("GET_DESCRIPTOR(report) error = %v", err)
	}
	if !bytes.Equal(buf[:n], kbd.ReportDescriptor()) {
		t.Errorf("report descriptor mismatch: %d bytes", n)
	}
}

func TestKeyboardHIDDescriptorRequest(t *testing.T) {
	_, kbd, host := newKeyboardDevice(t)

	var buf [hid.HIDDescriptorSize]byte
	n, err := host.ControlRead(0x81, device.RequestGetDescriptor,
		uint16(hid.DescriptorTypeHID)<<8, 0, buf[:])
	if err != nil {
		t.Fatalf("GET_DESCRIPTOR(hid) error = %v", err)
	}
	if n != hid.HIDDescriptorSize {
		t.Fatalf("HID descriptor = %d bytes, want %d", n, hid.HIDDescriptorSize)
	}
	if buf[1] != hid.DescriptorTypeHID {
		t.Errorf("bDescriptorType = 0x%02X, want 0x%02X", buf[1], hid.DescriptorTypeHID)
	}
	if got := binary.LittleEndian.Uint16(buf[7:9]); got != uint16(len(kbd.ReportDescriptor())) {
		t.Errorf("wDescriptorLength = %d, want %d", got, len(kbd.ReportDescriptor()))
	}
}

func TestKeyboardPressRelease(t *testing.T) {
	s, kbd, host := newKeyboardDevice(t)

	if err := kbd.Press(s, hid.KeyA); err != nil {
		t.Fatalf("Press() error = %v", err)
	}
	var buf [16]byte
	n, err := host.InPacket(1, buf[:])
	if err != nil {
		t.Fatalf("InPacket() error = %v", err)
	}
	if n != hid.KeyboardReportSize {
		t.Fatalf("report = %d bytes, want %d", n, hid.KeyboardReportSize)
	}
	if buf[2] != hid.KeyA {
		t.Errorf("keycode = 0x%02X, want 0x%02X", buf[2], hid.KeyA)
	}

	if err := kbd.Release(s, hid.KeyA); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	n, err = host.InPacket(1, buf[:])
	if err != nil {
		t.Fatalf("InPacket() after release error = %v", err)
	}
	empty := make([]byte, hid.KeyboardReportSize)
	if !bytes.Equal(buf[:n], empty) {
		t.Errorf("release report = % X, want zeros", buf[:n])
	}
}

func TestKeyboardGetReport(t *testing.T) {
	s, kbd, host := newKeyboardDevice(t)

	if err := kbd.SetModifiers(s, hid.ModLeftShift); err != nil {
		t.Fatalf("SetModifiers() error = %v", err)
	}
	var buf [hid.KeyboardReportSize]byte
	n, err := host.ControlRead(0xA1, hid.RequestGetReport,
		uint16(hid.ReportTypeInput)<<8, 0, buf[:])
	if err != nil {
		t.Fatalf("GET_REPORT error = %v", err)
	}
	if n != hid.KeyboardReportSize {
		t.Fatalf("GET_REPORT = %d bytes, want %d", n, hid.KeyboardReportSize)
	}
	if buf[0] != hid.ModLeftShift {
		t.Errorf("modifiers = 0x%02X, want 0x%02X", buf[0], hid.ModLeftShift)
	}
}

func TestKeyboardSetReportLEDs(t *testing.T) {
	_, kbd, host := newKeyboardDevice(t)

	var got uint8
	kbd.SetOnLEDChange(func(leds uint8) { got = leds })

	leds := []byte{hid.LEDCapsLock | hid.LEDNumLock}
	err := host.ControlWrite(0x21, hid.RequestSetReport,
		uint16(hid.ReportTypeOutput)<<8, 0, leds)
	if err != nil {
		t.Fatalf("SET_REPORT error = %v", err)
	}
	if kbd.LEDs() != leds[0] {
		t.Errorf("LEDs() = 0x%02X, want 0x%02X", kbd.LEDs(), leds[0])
	}
	if got != leds[0] {
		t.Errorf("callback leds = 0x%02X, want 0x%02X", got, leds[0])
	}
}

func TestKeyboardIdleRate(t *testing.T) {
	_, kbd, host := newKeyboardDevice(t)

	var buf [1]byte
	n, err := host.ControlRead(0xA1, hid.RequestGetIdle, 0, 0, buf[:])
	if err != nil || n != 1 {
		t.Fatalf("GET_IDLE = (%d, %v), want (1, nil)", n, err)
	}
	if buf[0] != hid.DefaultIdleRate {
		t.Errorf("idle rate = %d, want %d", buf[0], hid.DefaultIdleRate)
	}

	if err := host.ControlWrite(0x21, hid.RequestSetIdle, 32<<8, 0, nil); err != nil {
		t.Fatalf("SET_IDLE error = %v", err)
	}
	if kbd.IdleRate() != 32 {
		t.Errorf("IdleRate() = %d, want 32", kbd.IdleRate())
	}
}

func TestKeyboardIdleResend(t *testing.T) {
	_, _, host := newKeyboardDevice(t)

	// One 4 ms unit: the report repeats every four frames.
	if err := host.ControlWrite(0x21, hid.RequestSetIdle, 1<<8, 0, nil); err != nil {
		t.Fatalf("SET_IDLE error = %v", err)
	}
	eng := host.Engine()
	for i := 0; i < 4; i++ {
		eng.Sof()
	}

	var buf [16]byte
	n, err := host.InPacket(1, buf[:])
	if err != nil {
		t.Fatalf("InPacket() error = %v", err)
	}
	if n != hid.KeyboardReportSize {
		t.Errorf("idle resend = %d bytes, want %d", n, hid.KeyboardReportSize)
	}
}

func TestKeyboardIdleZeroSilent(t *testing.T) {
	_, _, host := newKeyboardDevice(t)

	if err := host.ControlWrite(0x21, hid.RequestSetIdle, 0, 0, nil); err != nil {
		t.Fatalf("SET_IDLE error = %v", err)
	}
	eng := host.Engine()
	for i := 0; i < 32; i++ {
		eng.Sof()
	}

	var buf [16]byte
	if _, err := host.InPacket(1, buf[:]); !errors.Is(err, pkg.ErrTimeout) {
		t.Errorf("InPacket() error = %v, want %v", err, pkg.ErrTimeout)
	}
}

func TestKeyboardProtocol(t *testing.T) {
	_, kbd, host := newKeyboardDevice(t)

	if err := host.ControlWrite(0x21, hid.RequestSetProtocol, hid.ProtocolBoot, 0, nil); err != nil {
		t.Fatalf("SET_PROTOCOL error = %v", err)
	}
	if kbd.Protocol() != hid.ProtocolBoot {
		t.Errorf("Protocol() = %d, want %d", kbd.Protocol(), hid.ProtocolBoot)
	}

	var buf [1]byte
	n, err := host.ControlRead(0xA1, hid.RequestGetProtocol, 0, 0, buf[:])
	if err != nil || n != 1 {
		t.Fatalf("GET_PROTOCOL = (%d, %v), want (1, nil)", n, err)
	}
	if buf[0] != hid.ProtocolBoot {
		t.Errorf("protocol = %d, want %d", buf[0], hid.ProtocolBoot)
	}

	err = host.ControlWrite(0x21, hid.RequestSetProtocol, 2, 0, nil)
	if !errors.Is(err, pkg.ErrStall) {
		t.Errorf("SET_PROTOCOL(2) error = %v, want %v", err, pkg.ErrStall)
	}
}
