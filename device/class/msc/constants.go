package msc

// Mass storage interface class code.
const ClassMSC = 0x08

// Subclass and protocol carried in the interface descriptor. Only the
// transparent SCSI command set over Bulk-Only Transport is implemented.
const (
	SubclassSCSI     = 0x06
	ProtocolBulkOnly = 0x50
)

// Bulk-Only Transport class requests.
const (
	RequestBulkOnlyReset = 0xFF // Reset the mass storage state machine
	RequestGetMaxLUN     = 0xFE // Highest logical unit number
)

// Command Block Wrapper framing.
const (
	CBWSignature   = 0x43425355 // "USBC" little-endian
	CBWSize        = 31
	CBWFlagDataIn  = 0x80 // Data phase runs device to host
	CBWFlagDataOut = 0x00
)

// Command Status Wrapper framing.
const (
	CSWSignature        = 0x53425355 // "USBS" little-endian
	CSWSize             = 13
	CSWStatusGood       = 0x00
	CSWStatusFailed     = 0x01
	CSWStatusPhaseError = 0x02
)

// SCSI operation codes the disk services.
const (
	OpTestUnitReady        = 0x00
	OpRequestSense         = 0x03
	OpInquiry              = 0x12
	OpModeSense6           = 0x1A
	OpStartStopUnit        = 0x1B
	OpPreventAllowRemoval  = 0x1E
	OpReadFormatCapacities = 0x23
	OpReadCapacity10       = 0x25
	OpRead10               = 0x28
	OpWrite10              = 0x2A
	OpVerify10             = 0x2F
	OpSynchronizeCache10   = 0x35
)

// Sense keys reported through REQUEST SENSE.
const (
	SenseNoSense        = 0x00
	SenseNotReady       = 0x02
	SenseMediumError    = 0x03
	SenseHardwareError  = 0x04
	SenseIllegalRequest = 0x05
	SenseUnitAttention  = 0x06
	SenseDataProtect    = 0x07
)

// Additional sense codes qualifying the sense key.
const (
	ASCNone                 = 0x00
	ASCWriteError           = 0x0C
	ASCUnrecoveredReadError = 0x11
	ASCInvalidCommand       = 0x20
	ASCLBAOutOfRange        = 0x21
	ASCInvalidFieldInCDB    = 0x24
	ASCWriteProtected       = 0x27
	ASCMediumNotPresent     = 0x3A
)

// INQUIRY response framing.
const (
	InquirySize           = 36
	InquiryVersionSPC4    = 0x06
	InquiryResponseFormat = 0x02
	InquiryRemovable      = 0x80
	DeviceTypeDisk        = 0x00
)

// Fixed-format sense data size returned by REQUEST SENSE.
const SenseDataSize = 18

// DefaultBlockSize is the block size hosts expect from a disk.
const DefaultBlockSize = 512

// MaxTransferSize bounds the data phase of a single command.
const MaxTransferSize = 65536
