package device

import (
	"encoding/binary"
	"fmt"

	"github.com/vladyst/USB-Stack/pkg"
)

// bRequest codes for the standard device requests, USB 2.0 table 9-4.
const (
	RequestGetStatus        = 0x00
	RequestClearFeature     = 0x01
	RequestSetFeature       = 0x03
	RequestSetAddress       = 0x05
	RequestGetDescriptor    = 0x06
	RequestSetDescriptor    = 0x07
	RequestGetConfiguration = 0x08
	RequestSetConfiguration = 0x09
	RequestGetInterface     = 0x0A
	RequestSetInterface     = 0x0B
	RequestSynchFrame       = 0x0C
)

// Feature selectors for SET_FEATURE and CLEAR_FEATURE, USB 2.0 table 9-6.
const (
	FeatureEndpointHalt       = 0x00
	FeatureDeviceRemoteWakeup = 0x01
	FeatureTestMode           = 0x02
)

// bmRequestType packs direction, type, and recipient into one byte.
// The masks split it back apart.
const (
	RequestTypeDirectionMask = 0x80
	RequestTypeTypeMask      = 0x60
	RequestTypeRecipientMask = 0x1F
)

// Direction bit values.
const (
	RequestDirectionHostToDevice = 0x00
	RequestDirectionDeviceToHost = 0x80
)

// Type field values.
const (
	RequestTypeStandard = 0x00
	RequestTypeClass    = 0x20
	RequestTypeVendor   = 0x40
)

// Recipient field values.
const (
	RequestRecipientDevice    = 0x00
	RequestRecipientInterface = 0x01
	RequestRecipientEndpoint  = 0x02
	RequestRecipientOther     = 0x03
)

// SetupPacketSize is the wire size of a SETUP packet.
const SetupPacketSize = 8

// SetupPacket is the decoded form of the eight bytes a SETUP token
// carries. Fields keep their wire names: bmRequestType, bRequest,
// wValue, wIndex, wLength.
type SetupPacket struct {
	RequestType uint8
	Request     uint8
	Value       uint16
	Index       uint16
	Length      uint16
}

// ParseSetupPacket fills out from the first eight bytes of data and
// fails with pkg.ErrSetupPacketTooShort when data cannot hold a full
// packet. The multi-byte fields are little-endian on the wire.
func ParseSetupPacket(data []byte, out *SetupPacket) error {
	if len(data) < SetupPacketSize {
		return pkg.ErrSetupPacketTooShort
	}
	out.RequestType = data[0]
	out.Request = data[1]
	out.Value = binary.LittleEndian.Uint16(data[2:4])
	out.Index = binary.LittleEndian.Uint16(data[4:6])
	out.Length = binary.LittleEndian.Uint16(data[6:8])
	return nil
}

// MarshalTo writes the packet's wire form into buf and returns the
// byte count, zero when buf is shorter than SetupPacketSize.
func (s *SetupPacket) MarshalTo(buf []byte) int {
	if len(buf) < SetupPacketSize {
		return 0
	}
	buf[0] = s.RequestType
	buf[1] = s.Request
	binary.LittleEndian.PutUint16(buf[2:4], s.Value)
	binary.LittleEndian.PutUint16(buf[4:6], s.Index)
	binary.LittleEndian.PutUint16(buf[6:8], s.Length)
	return SetupPacketSize
}

// Direction extracts the direction bit of bmRequestType.
func (s *SetupPacket) Direction() uint8 {
	return s.RequestType & RequestTypeDirectionMask
}

// IsDeviceToHost reports whether the data stage moves device to host.
func (s *SetupPacket) IsDeviceToHost() bool {
	return s.Direction() == RequestDirectionDeviceToHost
}

// IsHostToDevice reports whether the data stage moves host to device.
func (s *SetupPacket) IsHostToDevice() bool {
	return s.Direction() == RequestDirectionHostToDevice
}

// Type extracts the type field of bmRequestType.
func (s *SetupPacket) Type() uint8 {
	return s.RequestType & RequestTypeTypeMask
}

// IsStandard reports whether this is a standard request.
func (s *SetupPacket) IsStandard() bool {
	return s.Type() == RequestTypeStandard
}

// IsClass reports whether this is a class-specific request.
func (s *SetupPacket) IsClass() bool {
	return s.Type() == RequestTypeClass
}

// IsVendor reports whether this is a vendor-specific request.
func (s *SetupPacket) IsVendor() bool {
	return s.Type() == RequestTypeVendor
}

// Recipient extracts the recipient field of bmRequestType.
func (s *SetupPacket) Recipient() uint8 {
	return s.RequestType & RequestTypeRecipientMask
}

// IsDeviceRecipient reports whether the request targets the device.
func (s *SetupPacket) IsDeviceRecipient() bool {
	return s.Recipient() == RequestRecipientDevice
}

// IsInterfaceRecipient reports whether the request targets an interface.
func (s *SetupPacket) IsInterfaceRecipient() bool {
	return s.Recipient() == RequestRecipientInterface
}

// IsEndpointRecipient reports whether the request targets an endpoint.
func (s *SetupPacket) IsEndpointRecipient() bool {
	return s.Recipient() == RequestRecipientEndpoint
}

// DescriptorType reads the wValue high byte, the descriptor type in a
// GET_DESCRIPTOR request.
func (s *SetupPacket) DescriptorType() uint8 {
	return uint8(s.Value >> 8)
}

// DescriptorIndex reads the wValue low byte, the descriptor index in a
// GET_DESCRIPTOR request.
func (s *SetupPacket) DescriptorIndex() uint8 {
	return uint8(s.Value & 0xFF)
}

// InterfaceNumber reads wIndex as an interface number.
func (s *SetupPacket) InterfaceNumber() uint8 {
	return uint8(s.Index & 0xFF)
}

// EndpointAddress reads wIndex as an endpoint address, direction bit
// included.
func (s *SetupPacket) EndpointAddress() uint8 {
	return uint8(s.Index & 0xFF)
}

var (
	setupTypeNames      = [4]string{"Standard", "Class", "Vendor", "Reserved"}
	setupRecipientNames = [4]string{"Device", "Interface", "Endpoint", "Other"}
)

// String renders the packet for log output.
func (s *SetupPacket) String() string {
	dir := "OUT"
	if s.IsDeviceToHost() {
		dir = "IN"
	}
	typ := setupTypeNames[(s.RequestType>>5)&0x03]
	recip := "Reserved"
	if r := s.Recipient(); int(r) < len(setupRecipientNames) {
		recip = setupRecipientNames[r]
	}
	return fmt.Sprintf("SETUP %s %s/%s bRequest=0x%02X wValue=0x%04X wIndex=0x%04X wLength=%d",
		dir, typ, recip, s.Request, s.Value, s.Index, s.Length)
}

// The constructors below build the standard requests a host places on
// the wire during enumeration and endpoint recovery.

// GetDescriptorSetup builds a GET_DESCRIPTOR request. index carries
// the language ID for string descriptors and stays zero otherwise.
func GetDescriptorSetup(descType, descIndex uint8, index, length uint16) SetupPacket {
	return SetupPacket{
		RequestType: RequestDirectionDeviceToHost | RequestTypeStandard | RequestRecipientDevice,
		Request:     RequestGetDescriptor,
		Value:       uint16(descType)<<8 | uint16(descIndex),
		Index:       index,
		Length:      length,
	}
}

// SetAddressSetup builds a SET_ADDRESS request.
func SetAddressSetup(address uint8) SetupPacket {
	return SetupPacket{
		RequestType: RequestDirectionHostToDevice | RequestTypeStandard | RequestRecipientDevice,
		Request:     RequestSetAddress,
		Value:       uint16(address),
	}
}

// SetConfigurationSetup builds a SET_CONFIGURATION request selecting
// the configuration with the given bConfigurationValue.
func SetConfigurationSetup(value uint8) SetupPacket {
	return SetupPacket{
		RequestType: RequestDirectionHostToDevice | RequestTypeStandard | RequestRecipientDevice,
		Request:     RequestSetConfiguration,
		Value:       uint16(value),
	}
}

// GetConfigurationSetup builds a GET_CONFIGURATION request.
func GetConfigurationSetup() SetupPacket {
	return SetupPacket{
		RequestType: RequestDirectionDeviceToHost | RequestTypeStandard | RequestRecipientDevice,
		Request:     RequestGetConfiguration,
		Length:      1,
	}
}

// GetStatusSetup builds a GET_STATUS request for the given recipient.
// index names the interface or endpoint, zero for the device itself.
func GetStatusSetup(recipient uint8, index uint16) SetupPacket {
	return SetupPacket{
		RequestType: RequestDirectionDeviceToHost | RequestTypeStandard | recipient,
		Request:     RequestGetStatus,
		Index:       index,
		Length:      2,
	}
}

// SetFeatureSetup builds a SET_FEATURE request.
func SetFeatureSetup(recipient uint8, feature, index uint16) SetupPacket {
	return SetupPacket{
		RequestType: RequestDirectionHostToDevice | RequestTypeStandard | recipient,
		Request:     RequestSetFeature,
		Value:       feature,
		Index:       index,
	}
}

// ClearFeatureSetup builds a CLEAR_FEATURE request.
func ClearFeatureSetup(recipient uint8, feature, index uint16) SetupPacket {
	return SetupPacket{
		RequestType: RequestDirectionHostToDevice | RequestTypeStandard | recipient,
		Request:     RequestClearFeature,
		Value:       feature,
		Index:       index,
	}
}

// SetInterfaceSetup builds a SET_INTERFACE request selecting alt on
// the given interface.
func SetInterfaceSetup(iface, alt uint8) SetupPacket {
	return SetupPacket{
		RequestType: RequestDirectionHostToDevice | RequestTypeStandard | RequestRecipientInterface,
		Request:     RequestSetInterface,
		Value:       uint16(alt),
		Index:       uint16(iface),
	}
}

// GetInterfaceSetup builds a GET_INTERFACE request reading the active
// alternate setting of an interface.
func GetInterfaceSetup(iface uint8) SetupPacket {
	return SetupPacket{
		RequestType: RequestDirectionDeviceToHost | RequestTypeStandard | RequestRecipientInterface,
		Request:     RequestGetInterface,
		Index:       uint16(iface),
		Length:      1,
	}
}
