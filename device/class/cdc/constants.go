package cdc

// bDescriptorType codes for class-specific CDC descriptors.
const (
	DescriptorTypeCSInterface = 0x24
	DescriptorTypeCSEndpoint  = 0x25
)

// bDescriptorSubtype codes distinguishing the functional descriptors.
const (
	SubtypeHeader          = 0x00
	SubtypeCallManagement  = 0x01
	SubtypeACM             = 0x02
	SubtypeDLM             = 0x03
	SubtypeTelephoneRinger = 0x04
	SubtypeTelephoneCall   = 0x05
	SubtypeUnion           = 0x06
	SubtypeCountrySelect   = 0x07
	SubtypeTelephoneOpMode = 0x08
	SubtypeUSBTerminal     = 0x09
	SubtypeNetworkChannel  = 0x0A
	SubtypeProtocolUnit    = 0x0B
	SubtypeExtensionUnit   = 0x0C
	SubtypeMCM             = 0x0D
	SubtypeCAPI            = 0x0E
	SubtypeEthernet        = 0x0F
	SubtypeATMNetworking   = 0x10
)

// Class codes for the two interfaces of a CDC function.
const (
	ClassCDC     = 0x02 // communications interface
	ClassCDCData = 0x0A // data interface
)

// bInterfaceSubClass codes for the communications interface.
const (
	SubclassNone = 0x00
	SubclassDLCM = 0x01 // Direct Line Control Model
	SubclassACM  = 0x02 // Abstract Control Model
	SubclassTCM  = 0x03 // Telephone Control Model
	SubclassMCCM = 0x04 // Multi-Channel Control Model
	SubclassCAPI = 0x05 // CAPI Control Model
	SubclassECM  = 0x06 // Ethernet Networking Control Model
	SubclassATM  = 0x07 // ATM Networking Control Model
)

// bInterfaceProtocol codes for the communications interface.
const (
	ProtocolNone   = 0x00
	ProtocolAT     = 0x01 // V.250 AT commands
	ProtocolVendor = 0xFF
)

// Class-specific bRequest codes.
const (
	RequestSendEncapsulatedCommand = 0x00
	RequestGetEncapsulatedResponse = 0x01
	RequestSetCommFeature          = 0x02
	RequestGetCommFeature          = 0x03
	RequestClearCommFeature        = 0x04
	RequestSetLineCoding           = 0x20
	RequestGetLineCoding           = 0x21
	RequestSetControlLineState     = 0x22
	RequestSendBreak               = 0x23
)

// Notification codes sent on the interrupt endpoint.
const (
	NotificationNetworkConnection = 0x00
	NotificationResponseAvailable = 0x01
	NotificationSerialState       = 0x20
)

// LineCoding is the serial line format exchanged through
// GET_LINE_CODING and SET_LINE_CODING.
type LineCoding struct {
	DTERate    uint32 // baud rate
	CharFormat uint8  // stop bits: 0=1, 1=1.5, 2=2
	ParityType uint8  // 0=None, 1=Odd, 2=Even, 3=Mark, 4=Space
	DataBits   uint8  // 5, 6, 7, 8, or 16
}

// LineCodingSize is the wire size of a line coding block.
const LineCodingSize = 7

// CharFormat values.
const (
	StopBits1   = 0
	StopBits1_5 = 1
	StopBits2   = 2
)

// ParityType values.
const (
	ParityNone  = 0
	ParityOdd   = 1
	ParityEven  = 2
	ParityMark  = 3
	ParitySpace = 4
)

// wValue bits of SET_CONTROL_LINE_STATE.
const (
	ControlLineDTR = 1 << 0
	ControlLineRTS = 1 << 1
)

// wSerialState bits carried by the SERIAL_STATE notification.
const (
	SerialStateRxCarrier  = 1 << 0 // DCD
	SerialStateTxCarrier  = 1 << 1 // DSR
	SerialStateBreak      = 1 << 2
	SerialStateRingSignal = 1 << 3
	SerialStateFraming    = 1 << 4
	SerialStateParity     = 1 << 5
	SerialStateOverrun    = 1 << 6
)

// DefaultLineCoding is 115200 8N1.
var DefaultLineCoding = LineCoding{
	DTERate:    115200,
	CharFormat: StopBits1,
	ParityType: ParityNone,
	DataBits:   8,
}

// MarshalTo writes the wire form into buf and returns the byte count,
// zero when buf is too short.
func (lc *LineCoding) MarshalTo(buf []byte) int {
	if len(buf) < LineCodingSize {
		return 0
	}
	buf[0] = byte(lc.DTERate)
	buf[1] = byte(lc.DTERate >> 8)
	buf[2] = byte(lc.DTERate >> 16)
	buf[3] = byte(lc.DTERate >> 24)
	buf[4] = lc.CharFormat
	buf[5] = lc.ParityType
	buf[6] = lc.DataBits
	return LineCodingSize
}

// ParseLineCoding decodes the 7-byte line coding block into out,
// false when data is too short.
func ParseLineCoding(data []byte, out *LineCoding) bool {
	if len(data) < LineCodingSize {
		return false
	}
	out.DTERate = uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16 | uint32(data[3])<<24
	out.CharFormat = data[4]
	out.ParityType = data[5]
	out.DataBits = data[6]
	return true
}

// HeaderDescriptor opens the functional descriptor chain and names the
// CDC release it follows.
type HeaderDescriptor struct {
	Length         uint8  // bLength, 5
	DescriptorType uint8  // bDescriptorType, 0x24
	SubType        uint8  // bDescriptorSubtype, 0x00
	CDCVersion     uint16 // bcdCDC
}

// HeaderDescriptorSize is the wire size of the header descriptor.
const HeaderDescriptorSize = 5

// MarshalTo writes the wire form into buf, zero when buf is too short.
func (d *HeaderDescriptor) MarshalTo(buf []byte) int {
	if len(buf) < HeaderDescriptorSize {
		return 0
	}
	buf[0] = HeaderDescriptorSize
	buf[1] = DescriptorTypeCSInterface
	buf[2] = SubtypeHeader
	buf[3] = byte(d.CDCVersion)
	buf[4] = byte(d.CDCVersion >> 8)
	return HeaderDescriptorSize
}

// CallManagementDescriptor says how call management is carried and
// which interface carries it.
type CallManagementDescriptor struct {
	Length         uint8 // bLength, 5
	DescriptorType uint8 // bDescriptorType, 0x24
	SubType        uint8 // bDescriptorSubtype, 0x01
	Capabilities   uint8 // bmCapabilities
	DataInterface  uint8 // bDataInterface
}

// CallManagementDescriptorSize is the wire size of the call management
// descriptor.
const CallManagementDescriptorSize = 5

// bmCapabilities bits of the call management descriptor.
const (
	CallMgmtHandlesCallManagement = 1 << 0
	CallMgmtCallMgmtOverDataClass = 1 << 1
)

// MarshalTo writes the wire form into buf, zero when buf is too short.
func (d *CallManagementDescriptor) MarshalTo(buf []byte) int {
	if len(buf) < CallManagementDescriptorSize {
		return 0
	}
	buf[0] = CallManagementDescriptorSize
	buf[1] = DescriptorTypeCSInterface
	buf[2] = SubtypeCallManagement
	buf[3] = d.Capabilities
	buf[4] = d.DataInterface
	return CallManagementDescriptorSize
}

// ACMDescriptor advertises which requests and notifications the
// abstract control model function honors.
type ACMDescriptor struct {
	Length         uint8 // bLength, 4
	DescriptorType uint8 // bDescriptorType, 0x24
	SubType        uint8 // bDescriptorSubtype, 0x02
	Capabilities   uint8 // bmCapabilities
}

// ACMDescriptorSize is the wire size of the ACM descriptor.
const ACMDescriptorSize = 4

// bmCapabilities bits of the ACM descriptor.
const (
	ACMCapCommFeature = 1 << 0 // Set/Get/Clear Comm Feature
	ACMCapLineCoding  = 1 << 1 // line coding and control line state
	ACMCapSendBreak   = 1 << 2
	ACMCapNetworkConn = 1 << 3 // Network Connection notification
)

// MarshalTo writes the wire form into buf, zero when buf is too short.
func (d *ACMDescriptor) MarshalTo(buf []byte) int {
	if len(buf) < ACMDescriptorSize {
		return 0
	}
	buf[0] = ACMDescriptorSize
	buf[1] = DescriptorTypeCSInterface
	buf[2] = SubtypeACM
	buf[3] = d.Capabilities
	return ACMDescriptorSize
}

// UnionDescriptor binds the communications interface to the data
// interface subordinate to it.
type UnionDescriptor struct {
	Length          uint8 // bLength, 5
	DescriptorType  uint8 // bDescriptorType, 0x24
	SubType         uint8 // bDescriptorSubtype, 0x06
	MasterInterface uint8 // bMasterInterface
	SlaveInterface0 uint8 // bSlaveInterface0
}

// UnionDescriptorSize is the wire size of a union descriptor with one
// subordinate interface.
const UnionDescriptorSize = 5

// MarshalTo writes the wire form into buf, zero when buf is too short.
func (d *UnionDescriptor) MarshalTo(buf []byte) int {
	if len(buf) < UnionDescriptorSize {
		return 0
	}
	buf[0] = UnionDescriptorSize
	buf[1] = DescriptorTypeCSInterface
	buf[2] = SubtypeUnion
	buf[3] = d.MasterInterface
	buf[4] = d.SlaveInterface0
	return UnionDescriptorSize
}
