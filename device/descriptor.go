package device

import (
	"encoding/binary"

	"github.com/vladyst/USB-Stack/pkg"
)

// bDescriptorType codes, USB 2.0 table 9-5, plus the HID and
// class-specific types that travel in the same byte.
const (
	DescriptorTypeDevice               = 0x01
	DescriptorTypeConfiguration        = 0x02
	DescriptorTypeString               = 0x03
	DescriptorTypeInterface            = 0x04
	DescriptorTypeEndpoint             = 0x05
	DescriptorTypeDeviceQualifier      = 0x06
	DescriptorTypeOtherSpeedConfig     = 0x07
	DescriptorTypeInterfacePower       = 0x08
	DescriptorTypeOTG                  = 0x09
	DescriptorTypeDebug                = 0x0A
	DescriptorTypeInterfaceAssociation = 0x0B
	DescriptorTypeBOS                  = 0x0F
	DescriptorTypeDeviceCapability     = 0x10
	DescriptorTypeHID                  = 0x21
	DescriptorTypeHIDReport            = 0x22
	DescriptorTypeHIDPhysical          = 0x23
	DescriptorTypeCSInterface          = 0x24 // class-specific interface
	DescriptorTypeCSEndpoint           = 0x25 // class-specific endpoint
)

// Class codes for bDeviceClass and bInterfaceClass.
const (
	ClassPerInterface = 0x00 // interfaces declare their own class
	ClassAudio        = 0x01
	ClassCDC          = 0x02 // Communications Device Class
	ClassHID          = 0x03 // Human Interface Device
	ClassPhysical     = 0x05
	ClassImage        = 0x06
	ClassPrinter      = 0x07
	ClassMassStorage  = 0x08
	ClassHub          = 0x09
	ClassCDCData      = 0x0A // data interfaces of a CDC function
	ClassSmartCard    = 0x0B
	ClassContentSec   = 0x0D
	ClassVideo        = 0x0E
	ClassHealthcare   = 0x0F
	ClassAudioVideo   = 0x10
	ClassBillboard    = 0x11
	ClassDiagnostic   = 0xDC
	ClassWireless     = 0xE0
	ClassMisc         = 0xEF // composite devices using IADs
	ClassAppSpecific  = 0xFE
	ClassVendor       = 0xFF
)

// DeviceDescriptor is the first descriptor a host reads: device-level
// class and protocol, the control endpoint packet size, and the vendor
// and product IDs drivers match on. Field comments give the wire names.
type DeviceDescriptor struct {
	Length            uint8  // bLength, 18
	DescriptorType    uint8  // bDescriptorType, 0x01
	USBVersion        uint16 // bcdUSB
	DeviceClass       uint8  // bDeviceClass
	DeviceSubClass    uint8  // bDeviceSubClass
	DeviceProtocol    uint8  // bDeviceProtocol
	MaxPacketSize0    uint8  // bMaxPacketSize0
	VendorID          uint16 // idVendor
	ProductID         uint16 // idProduct
	DeviceVersion     uint16 // bcdDevice
	ManufacturerIndex uint8  // iManufacturer
	ProductIndex      uint8  // iProduct
	SerialNumberIndex uint8  // iSerialNumber
	NumConfigurations uint8  // bNumConfigurations
}

// DeviceDescriptorSize is the wire size of a device descriptor.
const DeviceDescriptorSize = 18

// MarshalTo writes the wire form into buf and returns the byte count,
// zero when buf is too short. bLength and bDescriptorType are forced
// to their fixed values regardless of the struct fields.
func (d *DeviceDescriptor) MarshalTo(buf []byte) int {
	if len(buf) < DeviceDescriptorSize {
		return 0
	}
	buf[0] = DeviceDescriptorSize
	buf[1] = DescriptorTypeDevice
	binary.LittleEndian.PutUint16(buf[2:4], d.USBVersion)
	buf[4] = d.DeviceClass
	buf[5] = d.DeviceSubClass
	buf[6] = d.DeviceProtocol
	buf[7] = d.MaxPacketSize0
	binary.LittleEndian.PutUint16(buf[8:10], d.VendorID)
	binary.LittleEndian.PutUint16(buf[10:12], d.ProductID)
	binary.LittleEndian.PutUint16(buf[12:14], d.DeviceVersion)
	buf[14] = d.ManufacturerIndex
	buf[15] = d.ProductIndex
	buf[16] = d.SerialNumberIndex
	buf[17] = d.NumConfigurations
	return DeviceDescriptorSize
}

// ParseDeviceDescriptor decodes data into out, rejecting short input
// and a wrong bDescriptorType.
func ParseDeviceDescriptor(data []byte, out *DeviceDescriptor) error {
	if len(data) < DeviceDescriptorSize {
		return pkg.ErrDescriptorTooShort
	}
	if data[1] != DescriptorTypeDevice {
		return pkg.ErrDescriptorTypeMismatch
	}
	out.Length = data[0]
	out.DescriptorType = data[1]
	out.USBVersion = binary.LittleEndian.Uint16(data[2:4])
	out.DeviceClass = data[4]
	out.DeviceSubClass = data[5]
	out.DeviceProtocol = data[6]
	out.MaxPacketSize0 = data[7]
	out.VendorID = binary.LittleEndian.Uint16(data[8:10])
	out.ProductID = binary.LittleEndian.Uint16(data[10:12])
	out.DeviceVersion = binary.LittleEndian.Uint16(data[12:14])
	out.ManufacturerIndex = data[14]
	out.ProductIndex = data[15]
	out.SerialNumberIndex = data[16]
	out.NumConfigurations = data[17]
	return nil
}

// ConfigurationDescriptor heads a configuration block. wTotalLength
// covers the whole block, interface and endpoint descriptors included,
// which is why callers normally go through ConfigurationBuilder rather
// than computing it by hand.
type ConfigurationDescriptor struct {
	Length             uint8  // bLength, 9
	DescriptorType     uint8  // bDescriptorType, 0x02
	TotalLength        uint16 // wTotalLength
	NumInterfaces      uint8  // bNumInterfaces
	ConfigurationValue uint8  // bConfigurationValue
	ConfigurationIndex uint8  // iConfiguration
	Attributes         uint8  // bmAttributes
	MaxPower           uint8  // bMaxPower, units of 2 mA
}

// bmAttributes bits of a configuration descriptor.
const (
	ConfigAttrBusPowered   = 0x80 // historical, always set
	ConfigAttrSelfPowered  = 0x40
	ConfigAttrRemoteWakeup = 0x20
)

// ConfigurationDescriptorSize is the wire size of the configuration
// descriptor alone, without the block behind it.
const ConfigurationDescriptorSize = 9

// MarshalTo writes the wire form into buf, zero when buf is too short.
func (c *ConfigurationDescriptor) MarshalTo(buf []byte) int {
	if len(buf) < ConfigurationDescriptorSize {
		return 0
	}
	buf[0] = ConfigurationDescriptorSize
	buf[1] = DescriptorTypeConfiguration
	binary.LittleEndian.PutUint16(buf[2:4], c.TotalLength)
	buf[4] = c.NumInterfaces
	buf[5] = c.ConfigurationValue
	buf[6] = c.ConfigurationIndex
	buf[7] = c.Attributes
	buf[8] = c.MaxPower
	return ConfigurationDescriptorSize
}

// ParseConfigurationDescriptor decodes the 9-byte header into out.
func ParseConfigurationDescriptor(data []byte, out *ConfigurationDescriptor) error {
	if len(data) < ConfigurationDescriptorSize {
		return pkg.ErrDescriptorTooShort
	}
	if data[1] != DescriptorTypeConfiguration {
		return pkg.ErrDescriptorTypeMismatch
	}
	out.Length = data[0]
	out.DescriptorType = data[1]
	out.TotalLength = binary.LittleEndian.Uint16(data[2:4])
	out.NumInterfaces = data[4]
	out.ConfigurationValue = data[5]
	out.ConfigurationIndex = data[6]
	out.Attributes = data[7]
	out.MaxPower = data[8]
	return nil
}

// InterfaceDescriptor declares one interface, or one alternate setting
// of it.
type InterfaceDescriptor struct {
	Length            uint8 // bLength, 9
	DescriptorType    uint8 // bDescriptorType, 0x04
	InterfaceNumber   uint8 // bInterfaceNumber
	AlternateSetting  uint8 // bAlternateSetting
	NumEndpoints      uint8 // bNumEndpoints, EP0 not counted
	InterfaceClass    uint8 // bInterfaceClass
	InterfaceSubClass uint8 // bInterfaceSubClass
	InterfaceProtocol uint8 // bInterfaceProtocol
	InterfaceIndex    uint8 // iInterface
}

// InterfaceDescriptorSize is the wire size of an interface descriptor.
const InterfaceDescriptorSize = 9

// MarshalTo writes the wire form into buf, zero when buf is too short.
func (i *InterfaceDescriptor) MarshalTo(buf []byte) int {
	if len(buf) < InterfaceDescriptorSize {
		return 0
	}
	buf[0] = InterfaceDescriptorSize
	buf[1] = DescriptorTypeInterface
	buf[2] = i.InterfaceNumber
	buf[3] = i.AlternateSetting
	buf[4] = i.NumEndpoints
	buf[5] = i.InterfaceClass
	buf[6] = i.InterfaceSubClass
	buf[7] = i.InterfaceProtocol
	buf[8] = i.InterfaceIndex
	return InterfaceDescriptorSize
}

// ParseInterfaceDescriptor decodes data into out.
func ParseInterfaceDescriptor(data []byte, out *InterfaceDescriptor) error {
	if len(data) < InterfaceDescriptorSize {
		return pkg.ErrDescriptorTooShort
	}
	if data[1] != DescriptorTypeInterface {
		return pkg.ErrDescriptorTypeMismatch
	}
	out.Length = data[0]
	out.DescriptorType = data[1]
	out.InterfaceNumber = data[2]
	out.AlternateSetting = data[3]
	out.NumEndpoints = data[4]
	out.InterfaceClass = data[5]
	out.InterfaceSubClass = data[6]
	out.InterfaceProtocol = data[7]
	out.InterfaceIndex = data[8]
	return nil
}

// EndpointDescriptor declares one endpoint of an interface. The
// direction bit rides in EndpointAddress, the transfer type in the low
// bits of Attributes.
type EndpointDescriptor struct {
	Length          uint8  // bLength, 7
	DescriptorType  uint8  // bDescriptorType, 0x05
	EndpointAddress uint8  // bEndpointAddress
	Attributes      uint8  // bmAttributes
	MaxPacketSize   uint16 // wMaxPacketSize
	Interval        uint8  // bInterval, interrupt and isochronous only
}

// EndpointDescriptorSize is the wire size of an endpoint descriptor.
const EndpointDescriptorSize = 7

// MarshalTo writes the wire form into buf, zero when buf is too short.
func (e *EndpointDescriptor) MarshalTo(buf []byte) int {
	if len(buf) < EndpointDescriptorSize {
		return 0
	}
	buf[0] = EndpointDescriptorSize
	buf[1] = DescriptorTypeEndpoint
	buf[2] = e.EndpointAddress
	buf[3] = e.Attributes
	binary.LittleEndian.PutUint16(buf[4:6], e.MaxPacketSize)
	buf[6] = e.Interval
	return EndpointDescriptorSize
}

// ParseEndpointDescriptor decodes data into out.
func ParseEndpointDescriptor(data []byte, out *EndpointDescriptor) error {
	if len(data) < EndpointDescriptorSize {
		return pkg.ErrDescriptorTooShort
	}
	if data[1] != DescriptorTypeEndpoint {
		return pkg.ErrDescriptorTypeMismatch
	}
	out.Length = data[0]
	out.DescriptorType = data[1]
	out.EndpointAddress = data[2]
	out.Attributes = data[3]
	out.MaxPacketSize = binary.LittleEndian.Uint16(data[4:6])
	out.Interval = data[6]
	return nil
}

// InterfaceAssociationDescriptor groups consecutive interfaces into
// one function, the glue that lets a composite device such as CDC-ACM
// present its control and data interfaces as a unit.
type InterfaceAssociationDescriptor struct {
	Length           uint8 // bLength, 8
	DescriptorType   uint8 // bDescriptorType, 0x0B
	FirstInterface   uint8 // bFirstInterface
	InterfaceCount   uint8 // bInterfaceCount
	FunctionClass    uint8 // bFunctionClass
	FunctionSubClass uint8 // bFunctionSubClass
	FunctionProtocol uint8 // bFunctionProtocol
	FunctionIndex    uint8 // iFunction
}

// IADSize is the wire size of an interface association descriptor.
const IADSize = 8

// MarshalTo writes the wire form into buf, zero when buf is too short.
func (i *InterfaceAssociationDescriptor) MarshalTo(buf []byte) int {
	if len(buf) < IADSize {
		return 0
	}
	buf[0] = IADSize
	buf[1] = DescriptorTypeInterfaceAssociation
	buf[2] = i.FirstInterface
	buf[3] = i.InterfaceCount
	buf[4] = i.FunctionClass
	buf[5] = i.FunctionSubClass
	buf[6] = i.FunctionProtocol
	buf[7] = i.FunctionIndex
	return IADSize
}

// StringDescriptorTo encodes s as a UTF-16LE string descriptor into
// buf and returns the descriptor length, zero when buf is too small.
// Strings past 126 characters are truncated so the length still fits
// the one-byte bLength field.
func StringDescriptorTo(buf []byte, s string) int {
	runes := []rune(s)
	if len(runes) > 126 {
		runes = runes[:126]
	}
	length := 2 + len(runes)*2
	if len(buf) < length {
		return 0
	}
	buf[0] = uint8(length)
	buf[1] = DescriptorTypeString
	for i, r := range runes {
		binary.LittleEndian.PutUint16(buf[2+i*2:], uint16(r))
	}
	return length
}

// LanguageDescriptorTo writes string descriptor zero, the table of
// language IDs the device supports. Returns the descriptor length,
// zero when buf is too small.
func LanguageDescriptorTo(buf []byte, langIDs ...uint16) int {
	length := 2 + len(langIDs)*2
	if len(buf) < length {
		return 0
	}
	buf[0] = uint8(length)
	buf[1] = DescriptorTypeString
	for i, id := range langIDs {
		binary.LittleEndian.PutUint16(buf[2+i*2:], id)
	}
	return length
}

// LangIDUSEnglish is the language ID for US English.
const LangIDUSEnglish = 0x0409

// DescriptorSet supplies the descriptor bytes served during enumeration.
// Returned slices are referenced directly by in-progress control
// transfers and must stay stable while the device is attached.
//
// A nil return means the descriptor does not exist and the request is
// answered with a protocol stall.
type DescriptorSet interface {
	// Device returns the 18-byte device descriptor.
	Device() []byte

	// Configuration returns the complete configuration block (the
	// configuration descriptor followed by all interface, class, and
	// endpoint descriptors, wTotalLength bytes in all) for the given
	// descriptor index.
	Configuration(index uint8) []byte

	// String returns the string descriptor for the given index. Index 0
	// is the language ID table.
	String(index uint8) []byte
}

// StaticDescriptors is a DescriptorSet backed by pre-marshaled byte
// slices.
type StaticDescriptors struct {
	DeviceBytes []byte
	Configs     [][]byte
	Strings     [][]byte
}

// Device returns the device descriptor bytes.
func (d *StaticDescriptors) Device() []byte {
	return d.DeviceBytes
}

// Configuration returns the configuration block at index, or nil.
func (d *StaticDescriptors) Configuration(index uint8) []byte {
	if int(index) >= len(d.Configs) {
		return nil
	}
	return d.Configs[index]
}

// String returns the string descriptor at index, or nil.
func (d *StaticDescriptors) String(index uint8) []byte {
	if int(index) >= len(d.Strings) {
		return nil
	}
	return d.Strings[index]
}

// ConfigurationBuilder assembles a complete configuration block: the
// configuration descriptor followed by interface, class-specific, and
// endpoint descriptors in bus order. Bytes patches wTotalLength and
// bNumInterfaces, so callers never compute either by hand.
type ConfigurationBuilder struct {
	buf        []byte
	interfaces uint8
}

// NewConfigurationBuilder starts a block with the given configuration
// descriptor. TotalLength and NumInterfaces fields are ignored; both
// are derived from what gets added.
func NewConfigurationBuilder(cfg *ConfigurationDescriptor) *ConfigurationBuilder {
	b := &ConfigurationBuilder{buf: make([]byte, 0, 128)}
	var hdr [ConfigurationDescriptorSize]byte
	cfg.MarshalTo(hdr[:])
	b.buf = append(b.buf, hdr[:]...)
	return b
}

// AddInterface appends an interface descriptor.
func (b *ConfigurationBuilder) AddInterface(i *InterfaceDescriptor) *ConfigurationBuilder {
	var tmp [InterfaceDescriptorSize]byte
	i.MarshalTo(tmp[:])
	b.buf = append(b.buf, tmp[:]...)
	if i.AlternateSetting == 0 {
		b.interfaces++
	}
	return b
}

// AddEndpoint appends an endpoint descriptor.
func (b *ConfigurationBuilder) AddEndpoint(e *EndpointDescriptor) *ConfigurationBuilder {
	var tmp [EndpointDescriptorSize]byte
	e.MarshalTo(tmp[:])
	b.buf = append(b.buf, tmp[:]...)
	return b
}

// AddAssociation appends an interface association descriptor.
func (b *ConfigurationBuilder) AddAssociation(i *InterfaceAssociationDescriptor) *ConfigurationBuilder {
	var tmp [IADSize]byte
	i.MarshalTo(tmp[:])
	b.buf = append(b.buf, tmp[:]...)
	return b
}

// AddRaw appends pre-marshaled descriptor bytes, typically a class
// package's functional descriptors.
func (b *ConfigurationBuilder) AddRaw(data []byte) *ConfigurationBuilder {
	b.buf = append(b.buf, data...)
	return b
}

// Bytes patches wTotalLength and bNumInterfaces and returns the block.
func (b *ConfigurationBuilder) Bytes() []byte {
	binary.LittleEndian.PutUint16(b.buf[2:4], uint16(len(b.buf)))
	b.buf[4] = b.interfaces
	return b.buf
}
