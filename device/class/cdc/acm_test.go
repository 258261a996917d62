package cdc_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/vladyst/USB-Stack/device"
	"github.com/vladyst/USB-Stack/device/class/cdc"
	"github.com/vladyst/USB-Stack/device/hal"
	"github.com/vladyst/USB-Stack/device/hal/sim"
	"github.com/vladyst/USB-Stack/pkg"
)

func serialDescriptors(t *testing.T, cfg cdc.Config) *device.StaticDescriptors {
	t.Helper()

	dev := device.DeviceDescriptor{
		Length:            device.DeviceDescriptorSize,
		DescriptorType:    device.DescriptorTypeDevice,
		USBVersion:        0x0200,
		DeviceClass:       cdc.ClassCDC,
		MaxPacketSize0:    8,
		VendorID:          0x04D8,
		ProductID:         0x000A,
		DeviceVersion:     0x0100,
		ManufacturerIndex: 1,
		ProductIndex:      2,
		NumConfigurations: 1,
	}
	devBytes := make([]byte, device.DeviceDescriptorSize)
	if n := dev.MarshalTo(devBytes); n != device.DeviceDescriptorSize {
		t.Fatalf("device descriptor MarshalTo() = %d", n)
	}

	b := device.NewConfigurationBuilder(&device.ConfigurationDescriptor{
		Length:             device.ConfigurationDescriptorSize,
		DescriptorType:     device.DescriptorTypeConfiguration,
		ConfigurationValue: 1,
		Attributes:         0x80,
		MaxPower:           50,
	})
	cfg.AddTo(b)

	var lang, mfr, prod [64]byte
	nl := device.LanguageDescriptorTo(lang[:], device.LangIDUSEnglish)
	nm := device.StringDescriptorTo(mfr[:], "Example Corp")
	np := device.StringDescriptorTo(prod[:], "Serial Adapter")

	return &device.StaticDescriptors{
		DeviceBytes: devBytes,
		Configs:     [][]byte{b.Bytes()},
		Strings:     [][]byte{lang[:nl], mfr[:nm], prod[:np]},
	}
}

func newSerialDevice(t *testing.T) (*device.Stack, *cdc.ACM, *sim.Host) {
	t.Helper()

	cfg := cdc.DefaultConfig()
	acm := cdc.NewACM(cfg)
	eng := sim.New(hal.PingPongDisabled)

	s, err := device.New(device.Options{
		Engine:      eng,
		Descriptors: serialDescriptors(t, cfg),
		Handler:     acm,
		PingPong:    hal.PingPongDisabled,
		Endpoints:   cfg.Endpoints(),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := s.Attach(); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}

	host := sim.NewHost(eng, func() { s.ServiceOnce() })
	if _, err := host.Enumerate(5); err != nil {
		t.Fatalf("Enumerate() error = %v", err)
	}
	if s.State() != device.StateConfigured {
		t.Fatalf("State() = %v after enumeration, want %v",
			s.State(), device.StateConfigured)
	}
	return s, acm, host
}

func TestACMSetLineCoding(t *testing.T) {
	_, acm, host := newSerialDevice(t)

	var got cdc.LineCoding
	acm.SetOnLineCodingChange(func(lc cdc.LineCoding) { got = lc })

	coding := []byte{0x80, 0x25, 0x00, 0x00, 0x00, 0x00, 0x08} // 9600 8N1
	if err := host.ControlWrite(0x21, cdc.RequestSetLineCoding, 0, 0, coding); err != nil {
		t.Fatalf("SET_LINE_CODING error = %v", err)
	}
	if lc := acm.LineCoding(); lc.DTERate != 9600 || lc.DataBits != 8 {
		t.Errorf("LineCoding() = %+v, want 9600 8N1", lc)
	}
	if got.DTERate != 9600 {
		t.Errorf("callback line coding = %+v, want 9600 baud", got)
	}
}

func TestACMSetLineCodingRejectsFormat(t *testing.T) {
	_, acm, host := newSerialDevice(t)

	odd := []byte{0x00, 0xC2, 0x01, 0x00, 0x00, 0x01, 0x08} // odd parity
	err := host.ControlWrite(0x21, cdc.RequestSetLineCoding, 0, 0, odd)
	if !errors.Is(err, pkg.ErrStall) {
		t.Fatalf("odd parity error = %v, want %v", err, pkg.ErrStall)
	}
	if lc := acm.LineCoding(); lc.ParityType != cdc.ParityNone {
		t.Errorf("rejected coding was stored: %+v", lc)
	}

	// Device must keep answering control requests after the stall.
	if _, err := host.GetStatus(0, 0); err != nil {
		t.Errorf("GET_STATUS after stall error = %v", err)
	}
}

func TestACMSetLineCodingRejectsLength(t *testing.T) {
	_, _, host := newSerialDevice(t)

	short := []byte{0x80, 0x25, 0x00, 0x00, 0x00, 0x00}
	err := host.ControlWrite(0x21, cdc.RequestSetLineCoding, 0, 0, short)
	if !errors.Is(err, pkg.ErrStall) {
		t.Errorf("six byte coding error = %v, want %v", err, pkg.ErrStall)
	}
}

func TestACMGetLineCoding(t *testing.T) {
	_, _, host := newSerialDevice(t)

	var buf [cdc.LineCodingSize]byte
	n, err := host.ControlRead(0xA1, cdc.RequestGetLineCoding, 0, 0, buf[:])
	if err != nil {
		t.Fatalf("GET_LINE_CODING error = %v", err)
	}
	if n != cdc.LineCodingSize {
		t.Fatalf("GET_LINE_CODING returned %d bytes, want %d", n, cdc.LineCodingSize)
	}
	var lc cdc.LineCoding
	if !cdc.ParseLineCoding(buf[:], &lc) {
		t.Fatal("ParseLineCoding() = false")
	}
	if lc != cdc.DefaultLineCoding {
		t.Errorf("line coding = %+v, want %+v", lc, cdc.DefaultLineCoding)
	}
}

func TestACMControlLineState(t *testing.T) {
	_, acm, host := newSerialDevice(t)

	var gotDTR, gotRTS bool
	acm.SetOnControlStateChange(func(dtr, rts bool) { gotDTR, gotRTS = dtr, rts })

	state := uint16(cdc.ControlLineDTR | cdc.ControlLineRTS)
	if err := host.ControlWrite(0x21, cdc.RequestSetControlLineState, state, 0, nil); err != nil {
		t.Fatalf("SET_CONTROL_LINE_STATE error = %v", err)
	}
	if !acm.DTR() || !acm.RTS() {
		t.Errorf("DTR() = %v, RTS() = %v, want both true", acm.DTR(), acm.RTS())
	}
	if !gotDTR || !gotRTS {
		t.Errorf("callback = (%v, %v), want (true, true)", gotDTR, gotRTS)
	}
}

func TestACMSendBreak(t *testing.T) {
	_, acm, host := newSerialDevice(t)

	var millis uint16
	acm.SetOnBreak(func(m uint16) { millis = m })

	if err := host.ControlWrite(0x21, cdc.RequestSendBreak, 250, 0, nil); err != nil {
		t.Fatalf("SEND_BREAK error = %v", err)
	}
	if millis != 250 {
		t.Errorf("break duration = %d, want 250", millis)
	}
}

func TestACMEcho(t *testing.T) {
	s, acm, host := newSerialDevice(t)

	acm.SetOnReceive(func(data []byte) {
		buf := append([]byte(nil), data...)
		if _, err := acm.Send(s, buf); err != nil {
			t.Errorf("Send() error = %v", err)
		}
	})

	msg := []byte("hello, bus")
	if err := host.OutPacket(cdc.DefaultConfig().DataEndpoint, msg); err != nil {
		t.Fatalf("OutPacket() error = %v", err)
	}

	var buf [64]byte
	n, err := host.InPacket(cdc.DefaultConfig().DataEndpoint, buf[:])
	if err != nil {
		t.Fatalf("InPacket() error = %v", err)
	}
	if !bytes.Equal(buf[:n], msg) {
		t.Errorf("echo = %q, want %q", buf[:n], msg)
	}
}

func TestACMSendChunksAtPacketSize(t *testing.T) {
	s, acm, host := newSerialDevice(t)

	data := make([]byte, 100)
	for i := range data {
		data[i] = byte(i)
	}
	n, err := acm.Send(s, data)
	if err != nil || n != len(data) {
		t.Fatalf("Send() = (%d, %v), want (%d, nil)", n, err, len(data))
	}

	ep := cdc.DefaultConfig().DataEndpoint
	var buf [64]byte
	first, err := host.InPacket(ep, buf[:])
	if err != nil {
		t.Fatalf("first InPacket() error = %v", err)
	}
	if first != 64 {
		t.Fatalf("first packet = %d bytes, want 64", first)
	}
	var rest [64]byte
	second, err := host.InPacket(ep, rest[:])
	if err != nil {
		t.Fatalf("second InPacket() error = %v", err)
	}
	if second != 36 {
		t.Fatalf("second packet = %d bytes, want 36", second)
	}
	got := append(buf[:first:first], rest[:second]...)
	if !bytes.Equal(got, data) {
		t.Error("reassembled data does not match sent data")
	}
}

func TestACMSerialStateNotification(t *testing.T) {
	s, acm, host := newSerialDevice(t)

	state := uint16(cdc.SerialStateTxCarrier | cdc.SerialStateRxCarrier)
	if err := acm.NotifySerialState(s, state); err != nil {
		t.Fatalf("NotifySerialState() error = %v", err)
	}

	var buf [16]byte
	n, err := host.InPacket(cdc.DefaultConfig().NotifyEndpoint, buf[:])
	if err != nil {
		t.Fatalf("InPacket() error = %v", err)
	}
	if n != cdc.SerialStateSize {
		t.Fatalf("notification = %d bytes, want %d", n, cdc.SerialStateSize)
	}
	if buf[0] != 0xA1 || buf[1] != cdc.NotificationSerialState {
		t.Errorf("notification header = % X", buf[:2])
	}
	if got := uint16(buf[8]) | uint16(buf[9])<<8; got != state {
		t.Errorf("notification state = 0x%04X, want 0x%04X", got, state)
	}
}

func TestACMSendBeforeConfigured(t *testing.T) {
	cfg := cdc.DefaultConfig()
	acm := cdc.NewACM(cfg)
	eng := sim.New(hal.PingPongDisabled)
	s, err := device.New(device.Options{
		Engine:      eng,
		Descriptors: serialDescriptors(t, cfg),
		Handler:     acm,
		Endpoints:   cfg.Endpoints(),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := acm.Send(s, []byte("x")); !errors.Is(err, pkg.ErrNotConfigured) {
		t.Errorf("Send() error = %v, want %v", err, pkg.ErrNotConfigured)
	}
}
