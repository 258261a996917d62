package msc

import (
	"encoding/binary"

	"github.com/vladyst/USB-Stack/pkg"
)

// cmdResult is what a command execution hands the transport: the
// status for the eventual CSW and which way data moves. Response
// bytes live in d.buf with their length in d.dataLen.
type cmdResult struct {
	status  uint8
	dataIn  bool
	dataOut bool
}

func good() cmdResult { return cmdResult{status: CSWStatusGood} }

// executeLocked runs the command block of a freshly parsed CBW.
// Device-to-host responses land in d.buf; WRITE (10) records its
// target in d.writeLBA and leaves the data move to the transport.
func (d *Disk) executeLocked(cbw *CommandBlockWrapper) cmdResult {
	op := cbw.CB[0]
	if op != OpRequestSense {
		d.clearSenseLocked()
	}
	d.dataLen = 0
	if int(cbw.CBLength) < cdbLen(op) {
		return d.failLocked(SenseIllegalRequest, ASCInvalidFieldInCDB)
	}
	cb := cbw.CB[:]
	pkg.LogDebug(pkg.ComponentClass, "SCSI command", "op", op, "tag", cbw.Tag)

	switch op {
	case OpTestUnitReady:
		return d.testUnitReadyLocked()
	case OpRequestSense:
		return d.requestSenseLocked(cb)
	case OpInquiry:
		return d.inquiryLocked(cb)
	case OpModeSense6:
		return d.modeSense6Locked(cb)
	case OpStartStopUnit:
		return d.startStopUnitLocked(cb)
	case OpPreventAllowRemoval:
		return good()
	case OpReadFormatCapacities:
		return d.readFormatCapacitiesLocked(cb)
	case OpReadCapacity10:
		return d.readCapacity10Locked()
	case OpRead10:
		return d.read10Locked(cb)
	case OpWrite10:
		return d.write10Locked(cb)
	case OpVerify10:
		return d.verify10Locked(cb)
	case OpSynchronizeCache10:
		return d.synchronizeCacheLocked()
	}
	return d.failLocked(SenseIllegalRequest, ASCInvalidCommand)
}

// cdbLen is the shortest CDB that carries all the fields a command
// reads.
func cdbLen(op uint8) int {
	switch op {
	case OpReadFormatCapacities, OpReadCapacity10, OpRead10, OpWrite10,
		OpVerify10, OpSynchronizeCache10:
		return 10
	}
	return 6
}

func (d *Disk) failLocked(key, asc uint8) cmdResult {
	d.setSenseLocked(key, asc, 0)
	return cmdResult{status: CSWStatusFailed}
}

func (d *Disk) setSenseLocked(key, asc, ascq uint8) {
	d.senseKey, d.senseASC, d.senseASCQ = key, asc, ascq
}

func (d *Disk) clearSenseLocked() {
	d.setSenseLocked(SenseNoSense, ASCNone, 0)
}

func (d *Disk) testUnitReadyLocked() cmdResult {
	if !d.store.Present() {
		return d.failLocked(SenseNotReady, ASCMediumNotPresent)
	}
	return good()
}

func (d *Disk) requestSenseLocked(cb []byte) cmdResult {
	n := marshalSenseData(d.buf[:], d.senseKey, d.senseASC, d.senseASCQ)
	if alloc := int(cb[4]); n > alloc {
		n = alloc
	}
	d.dataLen = n
	d.clearSenseLocked()
	return cmdResult{status: CSWStatusGood, dataIn: true}
}

func (d *Disk) inquiryLocked(cb []byte) cmdResult {
	if cb[1]&0x01 != 0 {
		// No vital product data pages.
		return d.failLocked(SenseIllegalRequest, ASCInvalidFieldInCDB)
	}
	d.inquiry.Removable = storeRemovable(d.store)
	n := d.inquiry.MarshalTo(d.buf[:])
	if alloc := cdbAllocation(cb); n > alloc {
		n = alloc
	}
	d.dataLen = n
	return cmdResult{status: CSWStatusGood, dataIn: true}
}

func (d *Disk) modeSense6Locked(cb []byte) cmdResult {
	n := marshalModeSense6(d.buf[:], d.store.WriteProtected())
	if alloc := int(cb[4]); n > alloc {
		n = alloc
	}
	d.dataLen = n
	return cmdResult{status: CSWStatusGood, dataIn: true}
}

func (d *Disk) startStopUnitLocked(cb []byte) cmdResult {
	loej := cb[4]&0x02 != 0
	start := cb[4]&0x01 != 0
	if !loej {
		return good()
	}
	ej, ok := d.store.(Ejector)
	if !ok {
		return d.failLocked(SenseIllegalRequest, ASCInvalidFieldInCDB)
	}
	if err := ej.Eject(start); err != nil {
		return d.failLocked(SenseIllegalRequest, ASCInvalidFieldInCDB)
	}
	return good()
}

func (d *Disk) readFormatCapacitiesLocked(cb []byte) cmdResult {
	n := marshalFormatCapacities(d.buf[:], d.store.Blocks(), d.store.BlockSize())
	if alloc := int(binary.BigEndian.Uint16(cb[7:9])); n > alloc {
		n = alloc
	}
	d.dataLen = n
	return cmdResult{status: CSWStatusGood, dataIn: true}
}

func (d *Disk) readCapacity10Locked() cmdResult {
	if !d.store.Present() || d.store.Blocks() == 0 {
		return d.failLocked(SenseNotReady, ASCMediumNotPresent)
	}
	d.dataLen = marshalReadCapacity10(d.buf[:], d.store.Blocks()-1, d.store.BlockSize())
	return cmdResult{status: CSWStatusGood, dataIn: true}
}

func (d *Disk) read10Locked(cb []byte) cmdResult {
	if !d.store.Present() {
		return d.failLocked(SenseNotReady, ASCMediumNotPresent)
	}
	lba, blocks := cdbLBA(cb), cdbBlocks(cb)
	if blocks == 0 {
		return good()
	}
	if lba+blocks < lba || lba+blocks > d.store.Blocks() {
		return d.failLocked(SenseIllegalRequest, ASCLBAOutOfRange)
	}
	n := int(blocks) * int(d.store.BlockSize())
	if n > len(d.buf) {
		return d.failLocked(SenseIllegalRequest, ASCInvalidFieldInCDB)
	}
	if err := d.store.ReadBlocks(lba, d.buf[:n]); err != nil {
		pkg.LogWarn(pkg.ComponentClass, "block read failed",
			"lba", lba, "blocks", blocks, "error", err.Error())
		return d.failLocked(SenseMediumError, ASCUnrecoveredReadError)
	}
	d.dataLen = n
	return cmdResult{status: CSWStatusGood, dataIn: true}
}

func (d *Disk) write10Locked(cb []byte) cmdResult {
	if !d.store.Present() {
		return d.failLocked(SenseNotReady, ASCMediumNotPresent)
	}
	if d.store.WriteProtected() {
		return d.failLocked(SenseDataProtect, ASCWriteProtected)
	}
	lba, blocks := cdbLBA(cb), cdbBlocks(cb)
	if blocks == 0 {
		return good()
	}
	if lba+blocks < lba || lba+blocks > d.store.Blocks() {
		return d.failLocked(SenseIllegalRequest, ASCLBAOutOfRange)
	}
	n := int(blocks) * int(d.store.BlockSize())
	if n > len(d.buf) {
		return d.failLocked(SenseIllegalRequest, ASCInvalidFieldInCDB)
	}
	d.writeLBA = lba
	d.dataLen = n
	return cmdResult{status: CSWStatusGood, dataOut: true}
}

// finishWriteLocked lands a completed WRITE (10) data stage on the
// backing store and returns the status for the CSW.
func (d *Disk) finishWriteLocked() uint8 {
	if err := d.store.WriteBlocks(d.writeLBA, d.buf[:d.dataLen]); err != nil {
		pkg.LogWarn(pkg.ComponentClass, "block write failed",
			"lba", d.writeLBA, "error", err.Error())
		d.setSenseLocked(SenseMediumError, ASCWriteError, 0)
		return CSWStatusFailed
	}
	return CSWStatusGood
}

func (d *Disk) verify10Locked(cb []byte) cmdResult {
	if !d.store.Present() {
		return d.failLocked(SenseNotReady, ASCMediumNotPresent)
	}
	lba, blocks := cdbLBA(cb), cdbBlocks(cb)
	if lba+blocks < lba || lba+blocks > d.store.Blocks() {
		return d.failLocked(SenseIllegalRequest, ASCLBAOutOfRange)
	}
	return good()
}

func (d *Disk) synchronizeCacheLocked() cmdResult {
	if err := d.store.Sync(); err != nil {
		return d.failLocked(SenseMediumError, ASCWriteError)
	}
	return good()
}
