package msc

import "encoding/binary"

// CommandBlockWrapper is the 31-byte frame that opens every Bulk-Only
// Transport command.
type CommandBlockWrapper struct {
	Tag            uint32   // Echoed in the status wrapper
	TransferLength uint32   // Bytes the host expects to move in the data phase
	Flags          uint8    // Bit 7 set: data phase runs device to host
	LUN            uint8    // Logical unit, bits 0-3
	CBLength       uint8    // Valid bytes of CB, 1-16
	CB             [16]byte // SCSI command descriptor block
}

// ParseCBW parses a command block wrapper. It returns false for a
// frame that is not exactly CBW-sized, carries the wrong signature, or
// declares a command block length outside 1-16; the transport treats
// all of those as a reason to stall both bulk endpoints.
func ParseCBW(data []byte, out *CommandBlockWrapper) bool {
	if len(data) != CBWSize {
		return false
	}
	if binary.LittleEndian.Uint32(data[0:4]) != CBWSignature {
		return false
	}
	out.Tag = binary.LittleEndian.Uint32(data[4:8])
	out.TransferLength = binary.LittleEndian.Uint32(data[8:12])
	out.Flags = data[12]
	out.LUN = data[13] & 0x0F
	out.CBLength = data[14] & 0x1F
	if out.CBLength == 0 || out.CBLength > 16 {
		return false
	}
	copy(out.CB[:], data[15:31])
	return true
}

// IsDataIn reports whether the data phase runs device to host.
func (cbw *CommandBlockWrapper) IsDataIn() bool {
	return cbw.Flags&CBWFlagDataIn != 0
}

// CommandStatusWrapper is the 13-byte frame that closes every command.
type CommandStatusWrapper struct {
	Tag         uint32 // Tag of the CBW being answered
	DataResidue uint32 // Expected minus actually transferred bytes
	Status      uint8  // CSWStatus value
}

// MarshalTo serializes the status wrapper to buf.
// Returns the number of bytes written (always 13 if buf is large enough).
func (csw *CommandStatusWrapper) MarshalTo(buf []byte) int {
	if len(buf) < CSWSize {
		return 0
	}
	binary.LittleEndian.PutUint32(buf[0:4], CSWSignature)
	binary.LittleEndian.PutUint32(buf[4:8], csw.Tag)
	binary.LittleEndian.PutUint32(buf[8:12], csw.DataResidue)
	buf[12] = csw.Status
	return CSWSize
}

// ParseCSW parses a command status wrapper from raw bytes.
// Returns false if the frame is undersized or missigned.
func ParseCSW(data []byte, out *CommandStatusWrapper) bool {
	if len(data) < CSWSize {
		return false
	}
	if binary.LittleEndian.Uint32(data[0:4]) != CSWSignature {
		return false
	}
	out.Tag = binary.LittleEndian.Uint32(data[4:8])
	out.DataResidue = binary.LittleEndian.Uint32(data[8:12])
	out.Status = data[12]
	return true
}
