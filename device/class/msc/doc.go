// Package msc implements the USB Mass Storage Class for the device
// stack.
//
// The package provides Disk, a single-LUN SCSI disk over the bulk-only
// transport: the layout of every USB flash drive. A Disk implements
// device.Handler and serves the transparent SCSI command set hosts use
// to identify, read, and write block media.
//
// # Transport
//
// The bulk-only transport is a strict three-stage exchange over one
// bulk endpoint pair. The host sends a 31-byte Command Block Wrapper
// on the OUT endpoint, data moves in whichever direction the command
// calls for, and the device closes with a 13-byte Command Status
// Wrapper on the IN endpoint. Disk runs the exchange packet at a time
// off the handler hooks with no goroutines of its own.
//
// Error reporting follows the transport's halt protocol. A command
// that fails before producing data stalls the data endpoint; the host
// clears the halt and collects the CSW, then learns the particulars
// with REQUEST SENSE. A CBW that does not parse stalls both endpoints
// until reset recovery.
//
// # Storage
//
// The Storage interface abstracts the block media. MemDisk keeps the
// blocks in memory, FileDisk maps them onto a file, and anything else
// that can read and write fixed-size blocks fits. Stores implementing
// Ejector surface as removable media.
//
// # Usage
//
//	cfg := msc.DefaultConfig()
//	disk := msc.NewDisk(cfg, msc.NewMemDisk(2048, 512))
//
//	b := device.NewConfigurationBuilder(&device.ConfigurationDescriptor{
//	    ConfigurationValue: 1,
//	    Attributes:         0x80,
//	    MaxPower:           50,
//	})
//	disk.AddTo(b)
//
//	stack, err := device.New(device.Options{
//	    Engine:      eng,
//	    Descriptors: descriptors, // includes b.Bytes()
//	    Handler:     disk,
//	    Endpoints:   cfg.Endpoints(),
//	})
package msc
