package device_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/rcrowley/go-metrics"

	"github.com/vladyst/USB-Stack/device"
	"github.com/vladyst/USB-Stack/device/hal"
	"github.com/vladyst/USB-Stack/device/hal/sim"
	"github.com/vladyst/USB-Stack/pkg"
)

// counter reads one of the stack's bus counters by short name.
func counter(t *testing.T, dev *device.Stack, name string) int64 {
	t.Helper()
	c, ok := dev.Metrics().Get("usb.device." + name).(metrics.Counter)
	if !ok {
		t.Fatalf("counter %q not registered", name)
	}
	return c.Count()
}

// TestControlReadChunking reads the 18-byte device descriptor over an
// 8-byte control endpoint and counts the bus transactions: one SETUP,
// three data packets, one status handshake.
func TestControlReadChunking(t *testing.T) {
	dev, host := enumerated(t, nil)

	setups := counter(t, dev, "setup_packets")
	txns := counter(t, dev, "transactions")

	var buf [device.DeviceDescriptorSize]byte
	n, err := host.GetDescriptor(device.DescriptorTypeDevice, 0, 0, buf[:])
	if err != nil {
		t.Fatalf("GetDescriptor(device) error = %v", err)
	}
	if n != device.DeviceDescriptorSize {
		t.Errorf("GetDescriptor(device) = %d bytes, want %d", n, device.DeviceDescriptorSize)
	}
	if !bytes.Equal(buf[:n], busDescriptors(8).Device()) {
		t.Errorf("device descriptor = % X, want % X", buf[:n], busDescriptors(8).Device())
	}

	if got := counter(t, dev, "setup_packets") - setups; got != 1 {
		t.Errorf("setup packets = %d, want 1", got)
	}
	if got := counter(t, dev, "transactions") - txns; got != 5 {
		t.Errorf("transactions = %d, want 5 (SETUP, 3 IN, status OUT)", got)
	}

	// Asking for 64 bytes adds nothing: the 2-byte tail already ends
	// the data stage short, so no zero-length packet follows.
	txns = counter(t, dev, "transactions")
	var big [64]byte
	n, err = host.GetDescriptor(device.DescriptorTypeDevice, 0, 0, big[:])
	if err != nil {
		t.Fatalf("GetDescriptor(device, 64) error = %v", err)
	}
	if n != device.DeviceDescriptorSize {
		t.Errorf("GetDescriptor(device, 64) = %d bytes, want %d", n, device.DeviceDescriptorSize)
	}
	if got := counter(t, dev, "transactions") - txns; got != 5 {
		t.Errorf("transactions = %d, want 5 (SETUP, 3 IN, status OUT)", got)
	}
}

// TestControlReadZLPTail asks for more than the device has when the
// response is an exact multiple of the packet size. The device must
// close the data stage with a zero-length packet or the host would
// wait for a fourth data packet forever.
func TestControlReadZLPTail(t *testing.T) {
	dev, host := enumerated(t, nil)
	want := busDescriptors(8).String(1)
	if len(want)%8 != 0 {
		t.Fatalf("test string descriptor is %d bytes, need a multiple of 8", len(want))
	}

	txns := counter(t, dev, "transactions")

	var buf [64]byte
	n, err := host.GetDescriptor(device.DescriptorTypeString, 1, 0, buf[:])
	if err != nil {
		t.Fatalf("GetDescriptor(string 1) error = %v", err)
	}
	if n != len(want) || !bytes.Equal(buf[:n], want) {
		t.Errorf("string descriptor = % X, want % X", buf[:n], want)
	}

	// SETUP, three full data packets, the ZLP, and the status OUT.
	if got := counter(t, dev, "transactions") - txns; got != 6 {
		t.Errorf("transactions = %d, want 6", got)
	}
}

// TestSetupCancelsTransferInFlight abandons a descriptor read after one
// data packet and verifies the next SETUP packet supersedes it.
func TestSetupCancelsTransferInFlight(t *testing.T) {
	dev, host := enumerated(t, nil)
	eng := host.Engine()

	raw := []byte{0x80, device.RequestGetDescriptor, 0x00, device.DescriptorTypeDevice,
		0x00, 0x00, device.DeviceDescriptorSize, 0x00}
	if err := host.Setup(raw); err != nil {
		t.Fatalf("Setup(GET_DESCRIPTOR) error = %v", err)
	}

	var chunk [8]byte
	res, n, data1 := eng.In(0, chunk[:])
	if res != sim.ACK || n != 8 || !data1 {
		t.Fatalf("first chunk = %v, %d bytes, DATA1 %t; want ACK, 8 bytes, DATA1", res, n, data1)
	}
	if !bytes.Equal(chunk[:], busDescriptors(8).Device()[:8]) {
		t.Errorf("first chunk = % X, want % X", chunk[:], busDescriptors(8).Device()[:8])
	}
	dev.ServiceOnce()
	if got := dev.ControlStage(); got != device.StageDataIn {
		t.Fatalf("ControlStage() mid-transfer = %v, want %v", got, device.StageDataIn)
	}

	status, err := host.GetStatus(device.RequestRecipientDevice, 0)
	if err != nil {
		t.Fatalf("GetStatus after abandoned transfer error = %v", err)
	}
	if status != 0x0001 {
		t.Errorf("device status = %#04x, want 0x0001", status)
	}
	if got := dev.ControlStage(); got != device.StageSetup {
		t.Errorf("ControlStage() = %v, want %v", got, device.StageSetup)
	}
}

// vendorHandler services vendor requests through the control transfer
// engine: IN requests answer with reply, OUT requests collect into a
// scratch buffer. accept decides whether OUT data and no-data commands
// are acknowledged or refused.
type vendorHandler struct {
	reply    []byte
	accept   bool
	got      []byte
	requests []device.SetupPacket

	scratch [64]byte
}

func (v *vendorHandler) Request(s *device.Stack, setup *device.SetupPacket) bool {
	if !setup.IsVendor() {
		return false
	}
	v.requests = append(v.requests, *setup)
	if setup.IsDeviceToHost() {
		if len(v.reply) == 0 {
			return false
		}
		return s.SetupInTransfer(device.SourceStatic, v.reply) == nil
	}
	if setup.Length == 0 {
		return v.accept
	}
	return s.SetupOutTransfer(v.scratch[:setup.Length], func(n int) bool {
		v.got = append([]byte(nil), v.scratch[:n]...)
		return v.accept
	}) == nil
}

func (v *vendorHandler) Transaction(s *device.Stack, ep uint8, dir hal.Direction, data []byte) {}

func (v *vendorHandler) Configured(s *device.Stack, value uint8) {}

func TestControlWriteDataStage(t *testing.T) {
	h := &vendorHandler{accept: true}
	dev, host := enumerated(t, h)

	txns := counter(t, dev, "transactions")

	payload := []byte("twenty byte payload!")[:20]
	if err := host.ControlWrite(device.RequestTypeVendor, 0x01, 0x1234, 0x5678, payload); err != nil {
		t.Fatalf("vendor ControlWrite error = %v", err)
	}
	if !bytes.Equal(h.got, payload) {
		t.Errorf("received payload = %q, want %q", h.got, payload)
	}
	if len(h.requests) != 1 {
		t.Fatalf("handler saw %d requests, want 1", len(h.requests))
	}
	if got := h.requests[0]; got.Value != 0x1234 || got.Index != 0x5678 || got.Length != 20 {
		t.Errorf("setup = %+v, want Value 0x1234 Index 0x5678 Length 20", got)
	}

	// SETUP, data packets of 8+8+4, and the status IN.
	if got := counter(t, dev, "transactions") - txns; got != 5 {
		t.Errorf("transactions = %d, want 5", got)
	}
}

func TestControlWriteRejectedByHandler(t *testing.T) {
	h := &vendorHandler{accept: false}
	dev, host := enumerated(t, h)

	errCount := counter(t, dev, "request_errors")

	err := host.ControlWrite(device.RequestTypeVendor, 0x02, 0, 0, []byte("nope"))
	if !errors.Is(err, pkg.ErrStall) {
		t.Fatalf("rejected ControlWrite error = %v, want %v", err, pkg.ErrStall)
	}
	if !bytes.Equal(h.got, []byte("nope")) {
		t.Errorf("handler data = %q, want %q (rejection happens after receipt)", h.got, "nope")
	}
	if got := counter(t, dev, "request_errors") - errCount; got != 1 {
		t.Errorf("request errors = %d, want 1", got)
	}

	status, err := host.GetStatus(device.RequestRecipientDevice, 0)
	if err != nil {
		t.Fatalf("GetStatus after rejection error = %v", err)
	}
	if status != 0x0001 {
		t.Errorf("device status = %#04x, want 0x0001", status)
	}
}

func TestControlReadVendorReply(t *testing.T) {
	h := &vendorHandler{reply: []byte("ten chars!"), accept: true}
	_, host := enumerated(t, h)

	var buf [16]byte
	n, err := host.ControlRead(device.RequestTypeVendor, 0x03, 0, 0, buf[:])
	if err != nil {
		t.Fatalf("vendor ControlRead error = %v", err)
	}
	if n != len(h.reply) || !bytes.Equal(buf[:n], h.reply) {
		t.Errorf("vendor reply = %q, want %q", buf[:n], h.reply)
	}
}

func TestControlNoDataVendorCommand(t *testing.T) {
	h := &vendorHandler{accept: true}
	_, host := enumerated(t, h)

	if err := host.ControlWrite(device.RequestTypeVendor, 0x07, 1, 2, nil); err != nil {
		t.Fatalf("no-data vendor command error = %v", err)
	}
	if len(h.requests) != 1 || h.requests[0].Length != 0 {
		t.Fatalf("handler requests = %+v, want one no-data request", h.requests)
	}

	h.accept = false
	err := host.ControlWrite(device.RequestTypeVendor, 0x07, 0, 0, nil)
	if !errors.Is(err, pkg.ErrStall) {
		t.Errorf("refused no-data command error = %v, want %v", err, pkg.ErrStall)
	}
}

// echoHandler runs a bulk loopback on endpoint 1: every received
// packet is queued back on the IN half, and the OUT half is re-armed
// after each packet and after a halt clears.
type echoHandler struct {
	received [][]byte
}

func (e *echoHandler) Request(s *device.Stack, setup *device.SetupPacket) bool { return false }

func (e *echoHandler) Transaction(s *device.Stack, ep uint8, dir hal.Direction, data []byte) {
	if dir != hal.DirOut {
		return
	}
	buf := append([]byte(nil), data...)
	e.received = append(e.received, buf)
	s.ArmIn(ep, buf)
	s.ArmOut(ep)
}

func (e *echoHandler) Configured(s *device.Stack, value uint8) {
	if value != 0 {
		s.ArmOut(1)
	}
}

func (e *echoHandler) HaltChanged(s *device.Stack, ep uint8, dir hal.Direction, halted bool) {
	if !halted && dir == hal.DirOut {
		s.ArmOut(ep)
	}
}

func TestBulkEchoAndHaltRecovery(t *testing.T) {
	h := &echoHandler{}
	_, host := enumerated(t, h)
	eng := host.Engine()

	var buf [64]byte
	for i, msg := range []string{"ping", "pong"} {
		if err := host.OutPacket(1, []byte(msg)); err != nil {
			t.Fatalf("OutPacket %d error = %v", i, err)
		}
		n, err := host.InPacket(1, buf[:])
		if err != nil {
			t.Fatalf("InPacket %d error = %v", i, err)
		}
		if string(buf[:n]) != msg {
			t.Errorf("echo %d = %q, want %q", i, buf[:n], msg)
		}
	}

	if err := host.SetHalt(0x01); err != nil {
		t.Fatalf("SetHalt(0x01) error = %v", err)
	}
	err := host.OutPacket(1, []byte("lost"))
	if !errors.Is(err, pkg.ErrStall) {
		t.Fatalf("OutPacket on halted endpoint error = %v, want %v", err, pkg.ErrStall)
	}
	if err := host.ClearHalt(0x01); err != nil {
		t.Fatalf("ClearHalt(0x01) error = %v", err)
	}

	// A packet with a stale toggle is acknowledged and dropped without
	// reaching the handler: the halt clear rewound the endpoint to DATA0.
	if res := eng.Out(1, []byte("stale"), true); res != sim.ACK {
		t.Fatalf("stale-toggle OUT = %v, want ACK", res)
	}
	if len(h.received) != 2 {
		t.Fatalf("received %d packets after stale-toggle OUT, want 2", len(h.received))
	}

	if err := host.OutPacket(1, []byte("back")); err != nil {
		t.Fatalf("OutPacket after halt recovery error = %v", err)
	}
	n, err := host.InPacket(1, buf[:])
	if err != nil {
		t.Fatalf("InPacket after halt recovery error = %v", err)
	}
	if string(buf[:n]) != "back" {
		t.Errorf("echo after recovery = %q, want %q", buf[:n], "back")
	}

	want := []string{"ping", "pong", "back"}
	if len(h.received) != len(want) {
		t.Fatalf("received %d packets, want %d", len(h.received), len(want))
	}
	for i, msg := range want {
		if string(h.received[i]) != msg {
			t.Errorf("received[%d] = %q, want %q", i, h.received[i], msg)
		}
	}
}
