package msc

import (
	"errors"
	"sync"

	"github.com/vladyst/USB-Stack/device"
	"github.com/vladyst/USB-Stack/device/hal"
	"github.com/vladyst/USB-Stack/pkg"
)

// botStage tracks where the bulk-only transport is between packets.
type botStage uint8

const (
	stageCommand botStage = iota // waiting for a CBW on the OUT endpoint
	stageDataOut                 // collecting host data for WRITE (10)
	stageDataIn                  // sending response data to the host
	stageStatus                  // CSW armed, waiting for its completion
)

// Config places a bulk-only storage function on the bus.
type Config struct {
	Interface     uint8
	InEndpoint    uint8
	OutEndpoint   uint8
	MaxPacketSize uint16
}

// DefaultConfig is a single-LUN disk on bulk endpoint 1.
func DefaultConfig() Config {
	return Config{
		Interface:     0,
		InEndpoint:    1,
		OutEndpoint:   1,
		MaxPacketSize: 64,
	}
}

// Endpoints returns the endpoint declarations for device.Options.
func (c Config) Endpoints() []device.EndpointConfig {
	return []device.EndpointConfig{
		{
			Address:       c.InEndpoint | device.EndpointDirectionIn,
			Attributes:    device.EndpointTypeBulk,
			MaxPacketSize: c.MaxPacketSize,
		},
		{
			Address:       c.OutEndpoint,
			Attributes:    device.EndpointTypeBulk,
			MaxPacketSize: c.MaxPacketSize,
		},
	}
}

// Disk is a single-LUN SCSI disk behind the mass storage bulk-only
// transport. The transport runs packet at a time off the handler
// hooks: a CBW arrives on the OUT endpoint, the command executes
// against the Storage backend, data moves in max-packet-size chunks,
// and the CSW closes the exchange.
//
// Commands that fail before their device-to-host data stage follow
// the halt protocol: the IN endpoint stalls, and the CSW goes out
// once the host clears the halt. A CBW that does not parse stalls
// both endpoints and waits for reset recovery.
//
// The disk lock may be held across stack calls: the stack never
// enters class code while holding its own lock.
type Disk struct {
	cfg     Config
	inquiry InquiryData

	mu         sync.Mutex
	store      Storage
	configured bool

	stage      botStage
	tag        uint32
	hostLen    int
	dataLen    int
	dataOff    int
	writeLBA   uint32
	status     uint8
	cswPending bool

	senseKey  uint8
	senseASC  uint8
	senseASCQ uint8

	buf    [MaxTransferSize]byte
	cswBuf [CSWSize]byte
	lunBuf [1]byte
}

// NewDisk creates a bulk-only storage function over store. Stores with
// removable media advertise it in the INQUIRY response.
func NewDisk(cfg Config, store Storage) *Disk {
	if cfg.MaxPacketSize == 0 {
		cfg.MaxPacketSize = 64
	}
	return &Disk{
		cfg:   cfg,
		store: store,
		inquiry: InquiryData{
			DeviceType: DeviceTypeDisk,
			Vendor:     "USBSTACK",
			Product:    "Bulk Storage",
			Revision:   "1.00",
		},
	}
}

// SetInquiry replaces the INQUIRY identification strings. Vendor,
// product, and revision are space padded to 8, 16, and 4 characters.
func (d *Disk) SetInquiry(vendor, product, revision string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.inquiry.Vendor = vendor
	d.inquiry.Product = product
	d.inquiry.Revision = revision
}

// AddTo appends the storage interface and its bulk endpoint pair to a
// configuration under construction.
func (d *Disk) AddTo(b *device.ConfigurationBuilder) {
	b.AddInterface(&device.InterfaceDescriptor{
		Length:            device.InterfaceDescriptorSize,
		DescriptorType:    device.DescriptorTypeInterface,
		InterfaceNumber:   d.cfg.Interface,
		NumEndpoints:      2,
		InterfaceClass:    ClassMSC,
		InterfaceSubClass: SubclassSCSI,
		InterfaceProtocol: ProtocolBulkOnly,
	})
	b.AddEndpoint(&device.EndpointDescriptor{
		Length:          device.EndpointDescriptorSize,
		DescriptorType:  device.DescriptorTypeEndpoint,
		EndpointAddress: d.cfg.InEndpoint | device.EndpointDirectionIn,
		Attributes:      device.EndpointTypeBulk,
		MaxPacketSize:   d.cfg.MaxPacketSize,
	})
	b.AddEndpoint(&device.EndpointDescriptor{
		Length:          device.EndpointDescriptorSize,
		DescriptorType:  device.DescriptorTypeEndpoint,
		EndpointAddress: d.cfg.OutEndpoint,
		Attributes:      device.EndpointTypeBulk,
		MaxPacketSize:   d.cfg.MaxPacketSize,
	})
}

// Request implements device.Handler: the two bulk-only class requests.
func (d *Disk) Request(s *device.Stack, setup *device.SetupPacket) bool {
	if !setup.IsClass() || !setup.IsInterfaceRecipient() ||
		setup.InterfaceNumber() != d.cfg.Interface {
		return false
	}
	switch setup.Request {
	case RequestGetMaxLUN:
		if !setup.IsDeviceToHost() || setup.Length < 1 {
			return false
		}
		d.lunBuf[0] = 0
		return s.SetupInTransfer(device.SourceMutable, d.lunBuf[:1]) == nil
	case RequestBulkOnlyReset:
		if setup.Length != 0 || setup.Value != 0 {
			return false
		}
		d.mu.Lock()
		d.resetTransportLocked()
		if d.configured {
			d.armReceiveLocked(s)
		}
		d.mu.Unlock()
		pkg.LogDebug(pkg.ComponentClass, "bulk-only transport reset")
		return true
	}
	return false
}

// Transaction implements device.Handler.
func (d *Disk) Transaction(s *device.Stack, ep uint8, dir hal.Direction, data []byte) {
	switch {
	case ep == d.cfg.OutEndpoint && dir == hal.DirOut:
		d.outPacket(s, data)
	case ep == d.cfg.InEndpoint && dir == hal.DirIn:
		d.inComplete(s, data)
	}
}

// Configured implements device.Handler. A fresh configuration arms the
// OUT endpoint for the first CBW.
func (d *Disk) Configured(s *device.Stack, value uint8) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.configured = value != 0
	d.resetTransportLocked()
	if value == 0 {
		return
	}
	d.armReceiveLocked(s)
}

// Reset implements device.ResetHandler.
func (d *Disk) Reset(s *device.Stack) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.configured = false
	d.resetTransportLocked()
}

// HaltChanged implements device.HaltHandler. A cleared IN halt with a
// status wrapper owed sends it; a cleared OUT halt between commands
// re-arms CBW reception.
func (d *Disk) HaltChanged(s *device.Stack, ep uint8, dir hal.Direction, halted bool) {
	if halted {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	switch {
	case ep == d.cfg.InEndpoint && dir == hal.DirIn && d.cswPending:
		d.cswPending = false
		d.queueCSWLocked(s)
	case ep == d.cfg.OutEndpoint && dir == hal.DirOut && d.stage == stageCommand:
		d.armReceiveLocked(s)
	}
}

func (d *Disk) outPacket(s *device.Stack, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch d.stage {
	case stageCommand:
		d.startCommandLocked(s, data)
	case stageDataOut:
		d.dataOutLocked(s, data)
	default:
		pkg.LogWarn(pkg.ComponentClass, "OUT packet outside a data stage",
			"len", len(data))
		d.armReceiveLocked(s)
	}
}

func (d *Disk) inComplete(s *device.Stack, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch d.stage {
	case stageDataIn:
		d.dataOff += len(data)
		if d.dataOff < d.dataLen {
			d.armDataInLocked(s)
			return
		}
		d.queueCSWLocked(s)
	case stageStatus:
		d.stage = stageCommand
		d.armReceiveLocked(s)
	}
}

// startCommandLocked parses and executes a CBW, then routes the
// exchange into its data or status stage.
func (d *Disk) startCommandLocked(s *device.Stack, data []byte) {
	var cbw CommandBlockWrapper
	if !ParseCBW(data, &cbw) {
		pkg.LogWarn(pkg.ComponentClass, "invalid CBW", "len", len(data))
		s.StallEndpoint(d.cfg.InEndpoint, hal.DirIn)
		s.StallEndpoint(d.cfg.OutEndpoint, hal.DirOut)
		return
	}
	d.tag = cbw.Tag
	d.hostLen = int(cbw.TransferLength)
	d.dataOff = 0

	res := d.executeLocked(&cbw)
	d.status = res.status

	switch {
	case res.dataIn:
		if d.hostLen == 0 || !cbw.IsDataIn() {
			d.status = CSWStatusPhaseError
			d.queueCSWLocked(s)
			return
		}
		if d.dataLen > d.hostLen {
			d.dataLen = d.hostLen
		}
		d.stage = stageDataIn
		d.armDataInLocked(s)

	case res.dataOut:
		if d.hostLen == 0 || cbw.IsDataIn() {
			d.status = CSWStatusPhaseError
			d.queueCSWLocked(s)
			return
		}
		if d.hostLen < d.dataLen {
			// The host will stop short of the command's data.
			d.status = CSWStatusPhaseError
			s.StallEndpoint(d.cfg.OutEndpoint, hal.DirOut)
			d.queueCSWLocked(s)
			return
		}
		d.stage = stageDataOut
		d.armReceiveLocked(s)

	default:
		if d.hostLen > 0 {
			// The command moved no data but the host expects some:
			// stall the data pipe, then report the residue.
			if cbw.IsDataIn() {
				s.StallEndpoint(d.cfg.InEndpoint, hal.DirIn)
				d.cswPending = true
				d.stage = stageStatus
				return
			}
			s.StallEndpoint(d.cfg.OutEndpoint, hal.DirOut)
		}
		d.queueCSWLocked(s)
	}
}

func (d *Disk) dataOutLocked(s *device.Stack, data []byte) {
	d.dataOff += copy(d.buf[d.dataOff:d.dataLen], data)
	if d.dataOff < d.dataLen {
		d.armReceiveLocked(s)
		return
	}
	if d.hostLen > d.dataLen {
		s.StallEndpoint(d.cfg.OutEndpoint, hal.DirOut)
	}
	d.status = d.finishWriteLocked()
	d.queueCSWLocked(s)
}

// armDataInLocked stages the next chunk of the response.
func (d *Disk) armDataInLocked(s *device.Stack) {
	n := d.dataLen - d.dataOff
	if n > int(d.cfg.MaxPacketSize) {
		n = int(d.cfg.MaxPacketSize)
	}
	if err := s.ArmIn(d.cfg.InEndpoint, d.buf[d.dataOff:d.dataOff+n]); err != nil {
		pkg.LogWarn(pkg.ComponentClass, "data arm failed", "error", err.Error())
	}
}

// queueCSWLocked arms the status wrapper for the current command. The
// residue is what the host announced minus what actually moved.
func (d *Disk) queueCSWLocked(s *device.Stack) {
	csw := CommandStatusWrapper{
		Tag:         d.tag,
		DataResidue: uint32(d.hostLen - d.dataOff),
		Status:      d.status,
	}
	csw.MarshalTo(d.cswBuf[:])
	d.stage = stageStatus
	if err := s.ArmIn(d.cfg.InEndpoint, d.cswBuf[:]); err != nil {
		pkg.LogWarn(pkg.ComponentClass, "CSW arm failed", "error", err.Error())
	}
}

// armReceiveLocked arms the OUT endpoint for the next packet. A halted
// pipe gets its arm from HaltChanged instead, and an already armed
// pipe keeps the arm it has.
func (d *Disk) armReceiveLocked(s *device.Stack) {
	err := s.ArmOut(d.cfg.OutEndpoint)
	if err == nil || errors.Is(err, pkg.ErrHalted) || errors.Is(err, pkg.ErrOwned) {
		return
	}
	pkg.LogWarn(pkg.ComponentClass, "receive arm failed", "error", err.Error())
}

func (d *Disk) resetTransportLocked() {
	d.stage = stageCommand
	d.hostLen = 0
	d.dataLen = 0
	d.dataOff = 0
	d.cswPending = false
	d.status = CSWStatusGood
}

var _ device.Handler = (*Disk)(nil)
var _ device.HaltHandler = (*Disk)(nil)
var _ device.ResetHandler = (*Disk)(nil)
