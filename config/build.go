package config

import (
	"fmt"

	"github.com/vladyst/USB-Stack/device"
	"github.com/vladyst/USB-Stack/device/class/cdc"
	"github.com/vladyst/USB-Stack/device/class/hid"
	"github.com/vladyst/USB-Stack/device/class/msc"
)

// Bundle is everything Build derives from a device definition: the
// descriptor set and endpoint table for device.Options, the class driver
// as the stack handler, and the driver itself under its concrete type so
// callers can drive it.
type Bundle struct {
	Descriptors *device.StaticDescriptors
	Endpoints   []device.EndpointConfig
	Handler     device.Handler

	// Exactly one of these is set, matching device.function.
	ACM      *cdc.ACM
	Keyboard *hid.Keyboard
	Disk     *msc.Disk
}

// Build validates the definition and assembles the device it describes.
func (c *Config) Build() (*Bundle, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	switch c.Device.Function {
	case FunctionKeyboard:
		return c.buildKeyboard(), nil
	case FunctionStorage:
		return c.buildStorage()
	}
	return c.buildSerial(), nil
}

func (c *Config) buildSerial() *Bundle {
	fn := cdc.Config{
		ControlInterface: c.Serial.ControlInterface,
		DataInterface:    c.Serial.DataInterface,
		NotifyEndpoint:   c.Serial.NotifyEndpoint,
		DataEndpoint:     c.Serial.DataEndpoint,
		MaxPacketSize:    c.Serial.MaxPacketSize,
	}
	acm := cdc.NewACM(fn)

	b := device.NewConfigurationBuilder(c.configDescriptor())
	fn.AddTo(b)

	return &Bundle{
		Descriptors: c.descriptors(device.ClassCDC, b.Bytes()),
		Endpoints:   fn.Endpoints(),
		Handler:     acm,
		ACM:         acm,
	}
}

func (c *Config) buildKeyboard() *Bundle {
	fn := hid.Config{
		Interface:     c.Keyboard.Interface,
		InEndpoint:    c.Keyboard.InEndpoint,
		OutEndpoint:   c.Keyboard.OutEndpoint,
		MaxPacketSize: c.Keyboard.MaxPacketSize,
		Interval:      c.Keyboard.Interval,
	}
	kbd := hid.NewKeyboard(fn, nil)

	b := device.NewConfigurationBuilder(c.configDescriptor())
	kbd.AddTo(b)

	return &Bundle{
		Descriptors: c.descriptors(device.ClassPerInterface, b.Bytes()),
		Endpoints:   fn.Endpoints(),
		Handler:     kbd,
		Keyboard:    kbd,
	}
}

func (c *Config) buildStorage() (*Bundle, error) {
	fn := msc.Config{
		Interface:     c.Storage.Interface,
		InEndpoint:    c.Storage.InEndpoint,
		OutEndpoint:   c.Storage.OutEndpoint,
		MaxPacketSize: c.Storage.MaxPacketSize,
	}
	var store msc.Storage
	if c.Storage.Image != "" {
		fd, err := msc.NewFileDisk(c.Storage.Image, c.Storage.BlockSize, c.Storage.ReadOnly)
		if err != nil {
			return nil, fmt.Errorf("storage.image: %w", err)
		}
		store = fd
	} else {
		md := msc.NewMemDisk(c.Storage.Blocks, c.Storage.BlockSize)
		md.SetWriteProtected(c.Storage.ReadOnly)
		store = md
	}
	disk := msc.NewDisk(fn, store)

	b := device.NewConfigurationBuilder(c.configDescriptor())
	disk.AddTo(b)

	return &Bundle{
		Descriptors: c.descriptors(device.ClassPerInterface, b.Bytes()),
		Endpoints:   fn.Endpoints(),
		Handler:     disk,
		Disk:        disk,
	}, nil
}

func (c *Config) configDescriptor() *device.ConfigurationDescriptor {
	attrs := uint8(device.ConfigAttrBusPowered)
	if c.Device.SelfPowered {
		attrs |= device.ConfigAttrSelfPowered
	}
	if c.Device.RemoteWakeup {
		attrs |= device.ConfigAttrRemoteWakeup
	}
	return &device.ConfigurationDescriptor{
		Length:             device.ConfigurationDescriptorSize,
		DescriptorType:     device.DescriptorTypeConfiguration,
		ConfigurationValue: 1,
		Attributes:         attrs,
		MaxPower:           uint8(c.Device.MaxPowerMA / 2),
	}
}

// descriptors marshals the device descriptor and string table around the
// finished configuration block. String indices are assigned in order,
// skipping empty strings so their descriptor index reads zero.
func (c *Config) descriptors(class uint8, cfg []byte) *device.StaticDescriptors {
	lang := make([]byte, 4)
	device.LanguageDescriptorTo(lang, device.LangIDUSEnglish)
	strs := [][]byte{lang}
	add := func(s string) uint8 {
		if s == "" {
			return 0
		}
		buf := make([]byte, 2+2*len(s))
		n := device.StringDescriptorTo(buf, s)
		strs = append(strs, buf[:n])
		return uint8(len(strs) - 1)
	}
	iMfr := add(c.Device.Manufacturer)
	iProd := add(c.Device.Product)
	iSerial := add(c.Device.Serial)

	dev := device.DeviceDescriptor{
		Length:            device.DeviceDescriptorSize,
		DescriptorType:    device.DescriptorTypeDevice,
		USBVersion:        0x0200,
		DeviceClass:       class,
		MaxPacketSize0:    uint8(c.Device.MaxPacketSize0),
		VendorID:          c.Device.VendorID,
		ProductID:         c.Device.ProductID,
		DeviceVersion:     c.Device.Version,
		ManufacturerIndex: iMfr,
		ProductIndex:      iProd,
		SerialNumberIndex: iSerial,
		NumConfigurations: 1,
	}
	devBytes := make([]byte, device.DeviceDescriptorSize)
	dev.MarshalTo(devBytes)

	return &device.StaticDescriptors{
		DeviceBytes: devBytes,
		Configs:     [][]byte{cfg},
		Strings:     strs,
	}
}
