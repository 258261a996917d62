package device_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/vladyst/USB-Stack/device"
	"github.com/vladyst/USB-Stack/device/hal"
	"github.com/vladyst/USB-Stack/device/hal/sim"
	"github.com/vladyst/USB-Stack/pkg"
)

// busEndpoints declares the class endpoints the bus-level tests use: a
// bulk pair on endpoint 1.
func busEndpoints() []device.EndpointConfig {
	return []device.EndpointConfig{
		{Address: 0x81, Attributes: device.EndpointTypeBulk, MaxPacketSize: 64},
		{Address: 0x01, Attributes: device.EndpointTypeBulk, MaxPacketSize: 64},
	}
}

// busDescriptors builds a one-configuration vendor device with string
// descriptors for manufacturer and product.
func busDescriptors(mps0 uint8) *device.StaticDescriptors {
	dev := device.DeviceDescriptor{
		Length:            device.DeviceDescriptorSize,
		DescriptorType:    device.DescriptorTypeDevice,
		USBVersion:        0x0200,
		MaxPacketSize0:    mps0,
		VendorID:          0x1209,
		ProductID:         0x0001,
		DeviceVersion:     0x0100,
		ManufacturerIndex: 1,
		ProductIndex:      2,
		NumConfigurations: 1,
	}
	devBytes := make([]byte, device.DeviceDescriptorSize)
	dev.MarshalTo(devBytes)

	cfg := device.NewConfigurationBuilder(&device.ConfigurationDescriptor{
		Length:             device.ConfigurationDescriptorSize,
		DescriptorType:     device.DescriptorTypeConfiguration,
		ConfigurationValue: 1,
		Attributes: device.ConfigAttrBusPowered | device.ConfigAttrSelfPowered |
			device.ConfigAttrRemoteWakeup,
		MaxPower: 25,
	}).AddInterface(&device.InterfaceDescriptor{
		Length:          device.InterfaceDescriptorSize,
		DescriptorType:  device.DescriptorTypeInterface,
		InterfaceNumber: 0,
		NumEndpoints:    2,
		InterfaceClass:  device.ClassVendor,
	})
	for _, ep := range busEndpoints() {
		cfg.AddEndpoint(ep.Descriptor())
	}

	lang := make([]byte, 4)
	device.LanguageDescriptorTo(lang, 0x0409)
	mfr := make([]byte, 2+2*len("Test Vendor"))
	device.StringDescriptorTo(mfr, "Test Vendor")
	prod := make([]byte, 2+2*len("Test Widget"))
	device.StringDescriptorTo(prod, "Test Widget")

	return &device.StaticDescriptors{
		DeviceBytes: devBytes,
		Configs:     [][]byte{cfg.Bytes()},
		Strings:     [][]byte{lang, mfr, prod},
	}
}

// newBusDevice attaches a stack to a simulated bus and returns a host
// that pumps the stack between tokens.
func newBusDevice(t *testing.T, h device.Handler) (*device.Stack, *sim.Host) {
	t.Helper()
	eng := sim.New(hal.PingPongDisabled)
	dev, err := device.New(device.Options{
		Engine:      eng,
		Descriptors: busDescriptors(8),
		Handler:     h,
		Endpoints:   busEndpoints(),
		SelfPowered: true,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := dev.Attach(); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	t.Cleanup(func() { dev.Detach() })
	return dev, sim.NewHost(eng, func() { dev.ServiceOnce() })
}

func enumerated(t *testing.T, h device.Handler) (*device.Stack, *sim.Host) {
	t.Helper()
	dev, host := newBusDevice(t, h)
	if _, err := host.Enumerate(7); err != nil {
		t.Fatalf("Enumerate() error = %v", err)
	}
	return dev, host
}

// busRecorder records handler callbacks for the bus-level tests. It
// refuses every class request so unknown requests end in a stall.
type busRecorder struct {
	configs []uint8
	halts   []haltChange
}

type haltChange struct {
	ep     uint8
	dir    hal.Direction
	halted bool
}

func (r *busRecorder) Request(s *device.Stack, setup *device.SetupPacket) bool { return false }

func (r *busRecorder) Transaction(s *device.Stack, ep uint8, dir hal.Direction, data []byte) {}

func (r *busRecorder) Configured(s *device.Stack, value uint8) {
	r.configs = append(r.configs, value)
}

func (r *busRecorder) HaltChanged(s *device.Stack, ep uint8, dir hal.Direction, halted bool) {
	r.halts = append(r.halts, haltChange{ep: ep, dir: dir, halted: halted})
}

func TestEnumerationSequence(t *testing.T) {
	dev, host := newBusDevice(t, nil)

	enum, err := host.Enumerate(7)
	if err != nil {
		t.Fatalf("Enumerate() error = %v", err)
	}

	want := busDescriptors(8)
	if !bytes.Equal(enum.Device, want.Device()) {
		t.Errorf("device descriptor = % X, want % X", enum.Device, want.Device())
	}
	if !bytes.Equal(enum.Config, want.Configuration(0)) {
		t.Errorf("configuration block = % X, want % X", enum.Config, want.Configuration(0))
	}
	if host.MPS0 != 8 {
		t.Errorf("host MPS0 = %d, want 8", host.MPS0)
	}
	if got := dev.State(); got != device.StateConfigured {
		t.Errorf("State() = %v, want %v", got, device.StateConfigured)
	}
	if got := dev.Address(); got != 7 {
		t.Errorf("Address() = %d, want 7", got)
	}
	if got := host.Engine().Address(); got != 7 {
		t.Errorf("engine address = %d, want 7", got)
	}
	if got := dev.Configuration(); got != 1 {
		t.Errorf("Configuration() = %d, want 1", got)
	}
}

// TestSetAddressTiming verifies the address is applied only after the
// status stage completes, not when the request arrives.
func TestSetAddressTiming(t *testing.T) {
	dev, host := newBusDevice(t, nil)
	host.ResetBus()

	raw := []byte{0x00, device.RequestSetAddress, 7, 0, 0, 0, 0, 0}
	if err := host.Setup(raw); err != nil {
		t.Fatalf("Setup(SET_ADDRESS) error = %v", err)
	}
	if got := dev.Address(); got != 0 {
		t.Fatalf("Address() before status stage = %d, want 0", got)
	}
	if got := host.Engine().Address(); got != 0 {
		t.Fatalf("engine address before status stage = %d, want 0", got)
	}

	var buf [8]byte
	res, n, data1 := host.Engine().In(0, buf[:])
	if res != sim.ACK || n != 0 || !data1 {
		t.Fatalf("status stage = %v, %d bytes, DATA1 %t; want ACK, 0 bytes, DATA1", res, n, data1)
	}
	dev.ServiceOnce()

	if got := dev.Address(); got != 7 {
		t.Errorf("Address() after status stage = %d, want 7", got)
	}
	if got := host.Engine().Address(); got != 7 {
		t.Errorf("engine address after status stage = %d, want 7", got)
	}
	if got := dev.State(); got != device.StateAddress {
		t.Errorf("State() = %v, want %v", got, device.StateAddress)
	}
}

func TestGetStatusDevice(t *testing.T) {
	dev, host := enumerated(t, nil)

	status, err := host.GetStatus(device.RequestRecipientDevice, 0)
	if err != nil {
		t.Fatalf("GetStatus(device) error = %v", err)
	}
	if status != 0x0001 {
		t.Errorf("device status = %#04x, want 0x0001 (self-powered)", status)
	}

	err = host.ControlWrite(device.RequestRecipientDevice, device.RequestSetFeature,
		device.FeatureDeviceRemoteWakeup, 0, nil)
	if err != nil {
		t.Fatalf("SET_FEATURE(remote wakeup) error = %v", err)
	}
	if !dev.RemoteWakeupEnabled() {
		t.Error("RemoteWakeupEnabled() = false after SET_FEATURE")
	}
	status, err = host.GetStatus(device.RequestRecipientDevice, 0)
	if err != nil {
		t.Fatalf("GetStatus(device) error = %v", err)
	}
	if status != 0x0003 {
		t.Errorf("device status = %#04x, want 0x0003", status)
	}

	err = host.ControlWrite(device.RequestRecipientDevice, device.RequestClearFeature,
		device.FeatureDeviceRemoteWakeup, 0, nil)
	if err != nil {
		t.Fatalf("CLEAR_FEATURE(remote wakeup) error = %v", err)
	}
	if dev.RemoteWakeupEnabled() {
		t.Error("RemoteWakeupEnabled() = true after CLEAR_FEATURE")
	}
	status, err = host.GetStatus(device.RequestRecipientDevice, 0)
	if err != nil {
		t.Fatalf("GetStatus(device) error = %v", err)
	}
	if status != 0x0001 {
		t.Errorf("device status = %#04x, want 0x0001", status)
	}
}

func TestGetStatusEndpointHalt(t *testing.T) {
	dev, host := enumerated(t, nil)

	status, err := host.GetStatus(device.RequestRecipientEndpoint, 0x0081)
	if err != nil {
		t.Fatalf("GetStatus(ep 0x81) error = %v", err)
	}
	if status != 0 {
		t.Errorf("endpoint status = %#04x, want 0", status)
	}

	if err := host.SetHalt(0x81); err != nil {
		t.Fatalf("SetHalt(0x81) error = %v", err)
	}
	if !dev.Halted(1, hal.DirIn) {
		t.Error("Halted(1, IN) = false after SET_FEATURE(halt)")
	}
	status, err = host.GetStatus(device.RequestRecipientEndpoint, 0x0081)
	if err != nil {
		t.Fatalf("GetStatus(ep 0x81) error = %v", err)
	}
	if status != 1 {
		t.Errorf("endpoint status = %#04x, want 1 (halted)", status)
	}

	if err := host.ClearHalt(0x81); err != nil {
		t.Fatalf("ClearHalt(0x81) error = %v", err)
	}
	if dev.Halted(1, hal.DirIn) {
		t.Error("Halted(1, IN) = true after CLEAR_FEATURE(halt)")
	}
	status, err = host.GetStatus(device.RequestRecipientEndpoint, 0x0081)
	if err != nil {
		t.Fatalf("GetStatus(ep 0x81) error = %v", err)
	}
	if status != 0 {
		t.Errorf("endpoint status = %#04x, want 0", status)
	}
}

// TestUnknownRequestStalls drives a vendor request no handler claims
// and verifies endpoint zero recovers for the next request.
func TestUnknownRequestStalls(t *testing.T) {
	_, host := enumerated(t, nil)

	var buf [4]byte
	_, err := host.ControlRead(device.RequestTypeVendor, 0x42, 0, 0, buf[:])
	if !errors.Is(err, pkg.ErrStall) {
		t.Fatalf("vendor ControlRead error = %v, want %v", err, pkg.ErrStall)
	}

	status, err := host.GetStatus(device.RequestRecipientDevice, 0)
	if err != nil {
		t.Fatalf("GetStatus after stall error = %v", err)
	}
	if status != 0x0001 {
		t.Errorf("device status = %#04x, want 0x0001", status)
	}
}

func TestGetDescriptorString(t *testing.T) {
	_, host := enumerated(t, nil)
	want := busDescriptors(8)

	var buf [64]byte
	n, err := host.GetDescriptor(device.DescriptorTypeString, 0, 0, buf[:])
	if err != nil {
		t.Fatalf("GetDescriptor(string 0) error = %v", err)
	}
	if !bytes.Equal(buf[:n], want.String(0)) {
		t.Errorf("language table = % X, want % X", buf[:n], want.String(0))
	}

	n, err = host.GetDescriptor(device.DescriptorTypeString, 1, 0, buf[:])
	if err != nil {
		t.Fatalf("GetDescriptor(string 1) error = %v", err)
	}
	if !bytes.Equal(buf[:n], want.String(1)) {
		t.Errorf("manufacturer string = % X, want % X", buf[:n], want.String(1))
	}
	if buf[0] != uint8(n) || buf[1] != device.DescriptorTypeString {
		t.Errorf("string header = %d/%#02x, want %d/%#02x",
			buf[0], buf[1], n, device.DescriptorTypeString)
	}

	_, err = host.GetDescriptor(device.DescriptorTypeString, 9, 0, buf[:])
	if !errors.Is(err, pkg.ErrStall) {
		t.Errorf("GetDescriptor(string 9) error = %v, want %v", err, pkg.ErrStall)
	}
}

func TestSetConfigurationInvalid(t *testing.T) {
	dev, host := enumerated(t, nil)

	if err := host.SetConfiguration(3); !errors.Is(err, pkg.ErrStall) {
		t.Fatalf("SetConfiguration(3) error = %v, want %v", err, pkg.ErrStall)
	}
	if got := dev.State(); got != device.StateConfigured {
		t.Errorf("State() after refused request = %v, want %v", got, device.StateConfigured)
	}

	if err := host.SetConfiguration(0); err != nil {
		t.Fatalf("SetConfiguration(0) error = %v", err)
	}
	if got := dev.State(); got != device.StateAddress {
		t.Errorf("State() after deconfigure = %v, want %v", got, device.StateAddress)
	}
	value, err := host.GetConfiguration()
	if err != nil {
		t.Fatalf("GetConfiguration() error = %v", err)
	}
	if value != 0 {
		t.Errorf("GetConfiguration() = %d, want 0", value)
	}

	if err := host.SetConfiguration(1); err != nil {
		t.Fatalf("SetConfiguration(1) error = %v", err)
	}
	if got := dev.State(); got != device.StateConfigured {
		t.Errorf("State() = %v, want %v", got, device.StateConfigured)
	}
	value, err = host.GetConfiguration()
	if err != nil {
		t.Fatalf("GetConfiguration() error = %v", err)
	}
	if value != 1 {
		t.Errorf("GetConfiguration() = %d, want 1", value)
	}
}

func TestInterfaceRequests(t *testing.T) {
	_, host := enumerated(t, nil)

	alt, err := host.GetInterface(0)
	if err != nil {
		t.Fatalf("GetInterface(0) error = %v", err)
	}
	if alt != 0 {
		t.Errorf("GetInterface(0) = %d, want 0", alt)
	}

	if err := host.SetInterface(0, 0); err != nil {
		t.Errorf("SetInterface(0, 0) error = %v", err)
	}
	if err := host.SetInterface(0, 1); !errors.Is(err, pkg.ErrStall) {
		t.Errorf("SetInterface(0, 1) error = %v, want %v", err, pkg.ErrStall)
	}
	if err := host.SetInterface(5, 0); !errors.Is(err, pkg.ErrStall) {
		t.Errorf("SetInterface(5, 0) error = %v, want %v", err, pkg.ErrStall)
	}

	status, err := host.GetStatus(device.RequestRecipientInterface, 0)
	if err != nil {
		t.Fatalf("GetStatus(interface) error = %v", err)
	}
	if status != 0 {
		t.Errorf("interface status = %#04x, want 0", status)
	}
}

func TestConfiguredHook(t *testing.T) {
	rec := &busRecorder{}
	_, host := enumerated(t, rec)

	if len(rec.configs) != 1 || rec.configs[0] != 1 {
		t.Fatalf("configs after enumeration = %v, want [1]", rec.configs)
	}

	if err := host.SetConfiguration(0); err != nil {
		t.Fatalf("SetConfiguration(0) error = %v", err)
	}
	if len(rec.configs) != 2 || rec.configs[1] != 0 {
		t.Errorf("configs after deconfigure = %v, want [1 0]", rec.configs)
	}

	if err := host.SetConfiguration(1); err != nil {
		t.Fatalf("SetConfiguration(1) error = %v", err)
	}
	if err := host.SetHalt(0x81); err != nil {
		t.Fatalf("SetHalt(0x81) error = %v", err)
	}
	if err := host.ClearHalt(0x81); err != nil {
		t.Fatalf("ClearHalt(0x81) error = %v", err)
	}
	want := []haltChange{
		{ep: 1, dir: hal.DirIn, halted: true},
		{ep: 1, dir: hal.DirIn, halted: false},
	}
	if len(rec.halts) != len(want) {
		t.Fatalf("halt changes = %v, want %v", rec.halts, want)
	}
	for i, h := range rec.halts {
		if h != want[i] {
			t.Errorf("halt change %d = %+v, want %+v", i, h, want[i])
		}
	}
}
