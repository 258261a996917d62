package msc

import "encoding/binary"

// InquiryData is the 36-byte standard INQUIRY response.
type InquiryData struct {
	DeviceType uint8
	Removable  bool
	Vendor     string // 8 characters, space padded
	Product    string // 16 characters, space padded
	Revision   string // 4 characters, space padded
}

// MarshalTo serializes the INQUIRY response to buf.
// Returns the number of bytes written (always 36 if buf is large enough).
func (q *InquiryData) MarshalTo(buf []byte) int {
	if len(buf) < InquirySize {
		return 0
	}
	for i := 0; i < InquirySize; i++ {
		buf[i] = 0
	}
	buf[0] = q.DeviceType
	if q.Removable {
		buf[1] = InquiryRemovable
	}
	buf[2] = InquiryVersionSPC4
	buf[3] = InquiryResponseFormat
	buf[4] = InquirySize - 5
	padTo(buf[8:16], q.Vendor)
	padTo(buf[16:32], q.Product)
	padTo(buf[32:36], q.Revision)
	return InquirySize
}

// marshalReadCapacity10 writes the 8-byte READ CAPACITY (10) response:
// the last block address and the block length, both big-endian.
func marshalReadCapacity10(buf []byte, lastLBA, blockSize uint32) int {
	binary.BigEndian.PutUint32(buf[0:4], lastLBA)
	binary.BigEndian.PutUint32(buf[4:8], blockSize)
	return 8
}

// marshalSenseData writes fixed-format sense data.
func marshalSenseData(buf []byte, key, asc, ascq uint8) int {
	for i := 0; i < SenseDataSize; i++ {
		buf[i] = 0
	}
	buf[0] = 0x70 // Current errors, fixed format
	buf[2] = key & 0x0F
	buf[7] = SenseDataSize - 8
	buf[12] = asc
	buf[13] = ascq
	return SenseDataSize
}

// marshalModeSense6 writes a MODE SENSE (6) response carrying only the
// four-byte parameter header; no mode pages are kept.
func marshalModeSense6(buf []byte, writeProtected bool) int {
	buf[0] = 3 // Mode data length, excluding this byte
	buf[1] = 0
	buf[2] = 0
	if writeProtected {
		buf[2] = 0x80
	}
	buf[3] = 0
	return 4
}

// marshalFormatCapacities writes the READ FORMAT CAPACITIES response:
// the list header and one formatted-media capacity descriptor.
func marshalFormatCapacities(buf []byte, blocks, blockSize uint32) int {
	buf[0], buf[1], buf[2] = 0, 0, 0
	buf[3] = 8
	binary.BigEndian.PutUint32(buf[4:8], blocks)
	buf[8] = 0x02 // Formatted media
	buf[9] = uint8(blockSize >> 16)
	buf[10] = uint8(blockSize >> 8)
	buf[11] = uint8(blockSize)
	return 12
}

// cdbLBA extracts the 32-bit logical block address of a 10-byte CDB.
func cdbLBA(cb []byte) uint32 {
	return binary.BigEndian.Uint32(cb[2:6])
}

// cdbBlocks extracts the 16-bit transfer length of a 10-byte CDB.
func cdbBlocks(cb []byte) uint32 {
	return uint32(binary.BigEndian.Uint16(cb[7:9]))
}

// cdbAllocation extracts the 16-bit allocation length commands like
// INQUIRY carry in bytes 3-4.
func cdbAllocation(cb []byte) int {
	return int(binary.BigEndian.Uint16(cb[3:5]))
}

func padTo(dst []byte, s string) {
	for i := range dst {
		if i < len(s) {
			dst[i] = s[i]
		} else {
			dst[i] = ' '
		}
	}
}
