// Command usbsim runs a software USB device against the simulated bus
// engine: a scripted host resets and enumerates the device, exchanges
// class traffic with it, and reports what moved.
package main

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"strings"

	"github.com/rcrowley/go-metrics"
	"github.com/sirupsen/logrus"
	cli "github.com/urfave/cli/v2"

	"github.com/vladyst/USB-Stack/config"
	"github.com/vladyst/USB-Stack/device"
	"github.com/vladyst/USB-Stack/device/class/cdc"
	"github.com/vladyst/USB-Stack/device/class/hid"
	"github.com/vladyst/USB-Stack/device/class/msc"
	"github.com/vladyst/USB-Stack/device/hal/sim"
	"github.com/vladyst/USB-Stack/pkg"
	"github.com/vladyst/USB-Stack/pkg/prof"
)

const version = "v0.1.0"

// deviceAddress is the bus address the scripted host assigns.
const deviceAddress = 5

type options struct {
	configPath string
	logLevel   string
	logFormat  string
	scenario   string
	frames     int
	stats      bool
	cpuProfile string
	memProfile string
}

func main() {
	var opts options
	app := cli.NewApp()
	app.Name = "usbsim"
	app.Version = version
	app.Usage = "Enumerate and exercise a software USB device on the simulated bus."
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			EnvVars:     []string{"USBSIM_CONFIG"},
			Destination: &opts.configPath,
			Usage:       "device definition file; defaults describe a CDC-ACM serial adapter",
		},
		&cli.StringFlag{
			Name:        "log-level",
			Destination: &opts.logLevel,
			Usage:       "override the configured log level",
		},
		&cli.StringFlag{
			Name:        "log-format",
			Destination: &opts.logFormat,
			Usage:       "override the configured log format (text or json)",
		},
		&cli.StringFlag{
			Name:        "scenario",
			Aliases:     []string{"s"},
			Destination: &opts.scenario,
			Usage:       "traffic to run after enumeration: echo, type, store, or none (default matches the device function)",
		},
		&cli.IntFlag{
			Name:        "frames",
			Value:       16,
			Destination: &opts.frames,
			Usage:       "start-of-frame ticks between scenario steps",
		},
		&cli.BoolFlag{
			Name:        "stats",
			Destination: &opts.stats,
			Usage:       "print the metrics snapshot before exiting",
		},
		&cli.StringFlag{
			Name:        "cpuprofile",
			Destination: &opts.cpuProfile,
			Usage:       "write a CPU profile to this file (build with -tags profile)",
		},
		&cli.StringFlag{
			Name:        "memprofile",
			Destination: &opts.memProfile,
			Usage:       "write a heap profile to this file on exit (build with -tags profile)",
		},
	}
	app.Action = func(c *cli.Context) error {
		return run(opts)
	}

	if err := app.Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}

func run(opts options) error {
	cfg := config.Default()
	if opts.configPath != "" {
		var err error
		cfg, err = config.Load(opts.configPath)
		if err != nil {
			return err
		}
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if opts.logFormat != "" {
		cfg.Log.Format = opts.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	level, err := cfg.LogLevel()
	if err != nil {
		return err
	}
	format, err := cfg.LogFormat()
	if err != nil {
		return err
	}
	pkg.SetLogLevel(level)
	pkg.SetLogFormat(format)
	log := pkg.Logger()

	if (opts.cpuProfile != "" || opts.memProfile != "") && !prof.Enabled() {
		log.Warn("profiling flags need a binary built with -tags profile")
	}
	if opts.cpuProfile != "" {
		if err := prof.StartCPU(opts.cpuProfile); err != nil {
			return err
		}
		defer prof.StopCPU()
	}

	bundle, err := cfg.Build()
	if err != nil {
		return err
	}
	pp, err := cfg.PingPong()
	if err != nil {
		return err
	}

	eng := sim.New(pp)
	dev, err := device.New(device.Options{
		Engine:      eng,
		Descriptors: bundle.Descriptors,
		Handler:     bundle.Handler,
		PingPong:    pp,
		Endpoints:   bundle.Endpoints,
		SelfPowered: cfg.Device.SelfPowered,
		Registry:    metrics.NewRegistry(),
	})
	if err != nil {
		return err
	}
	if err := dev.Attach(); err != nil {
		return err
	}
	host := sim.NewHost(eng, func() { dev.ServiceOnce() })

	enum, err := host.Enumerate(deviceAddress)
	if err != nil {
		return fmt.Errorf("enumeration: %w", err)
	}
	log.WithFields(logrus.Fields{
		"vid":     fmt.Sprintf("%04X", cfg.Device.VendorID),
		"pid":     fmt.Sprintf("%04X", cfg.Device.ProductID),
		"address": enum.Address,
		"state":   dev.State().String(),
		"config":  len(enum.Config),
	}).Info("device enumerated")

	scenario := opts.scenario
	if scenario == "" {
		switch cfg.Device.Function {
		case config.FunctionKeyboard:
			scenario = "type"
		case config.FunctionStorage:
			scenario = "store"
		default:
			scenario = "echo"
		}
	}
	switch scenario {
	case "echo":
		if bundle.ACM == nil {
			return fmt.Errorf("echo scenario needs a %s device", config.FunctionSerial)
		}
		err = runEcho(log, cfg, bundle.ACM, dev, host, eng, opts.frames)
	case "type":
		if bundle.Keyboard == nil {
			return fmt.Errorf("type scenario needs a %s device", config.FunctionKeyboard)
		}
		err = runType(log, cfg, bundle.Keyboard, dev, host, eng, opts.frames)
	case "store":
		if bundle.Disk == nil {
			return fmt.Errorf("store scenario needs a %s device", config.FunctionStorage)
		}
		err = runStore(log, cfg, dev, host, eng, opts.frames)
	case "none":
	default:
		return fmt.Errorf("unknown scenario %q", scenario)
	}
	if err != nil {
		return err
	}

	// A suspend/resume round trip before leaving the bus.
	eng.Suspend()
	dev.ServiceOnce()
	log.WithField("suspended", dev.Suspended()).Info("bus idle")
	eng.Resume()
	dev.ServiceOnce()

	if err := dev.Detach(); err != nil {
		return err
	}
	if opts.stats {
		metrics.WriteOnce(dev.Metrics(), os.Stdout)
	}
	if opts.memProfile != "" {
		if err := prof.WriteHeap(opts.memProfile); err != nil {
			return err
		}
	}
	return nil
}

// runEcho wires the ACM receive callback back into its transmitter, sends
// one line from the host, and reads the echo plus a line-state
// notification.
func runEcho(log *logrus.Logger, cfg *config.Config, acm *cdc.ACM, dev *device.Stack, host *sim.Host, eng *sim.Engine, frames int) error {
	acm.SetOnReceive(func(data []byte) {
		msg := append([]byte(nil), data...)
		if _, err := acm.Send(dev, msg); err != nil {
			log.WithError(err).Warn("echo send failed")
		}
	})

	msg := []byte("hello, usb\r\n")
	if err := host.OutPacket(cfg.Serial.DataEndpoint, msg); err != nil {
		return fmt.Errorf("bulk out: %w", err)
	}
	tick(dev, eng, frames)

	buf := make([]byte, cfg.Serial.MaxPacketSize)
	n, err := host.InPacket(cfg.Serial.DataEndpoint, buf)
	if err != nil {
		return fmt.Errorf("bulk in: %w", err)
	}
	log.WithFields(logrus.Fields{
		"sent":   len(msg),
		"echoed": n,
		"text":   string(buf[:n]),
	}).Info("serial echo completed")

	if err := acm.NotifySerialState(dev, cdc.SerialStateRxCarrier|cdc.SerialStateTxCarrier); err != nil {
		return fmt.Errorf("serial state: %w", err)
	}
	note := make([]byte, cdc.SerialStateSize)
	if _, err := host.InPacket(cfg.Serial.NotifyEndpoint, note); err != nil {
		return fmt.Errorf("notify in: %w", err)
	}
	log.WithField("state", fmt.Sprintf("%#04x", binary.LittleEndian.Uint16(note[8:]))).
		Info("serial state notified")
	return nil
}

// runType injects keystrokes and reads each press and release report from
// the interrupt endpoint.
func runType(log *logrus.Logger, cfg *config.Config, kbd *hid.Keyboard, dev *device.Stack, host *sim.Host, eng *sim.Engine, frames int) error {
	word := []uint8{hid.KeyH, hid.KeyE, hid.KeyL, hid.KeyL, hid.KeyO, hid.KeyEnter}
	report := make([]byte, hid.KeyboardReportSize)
	for _, key := range word {
		if err := kbd.Press(dev, key); err != nil {
			return fmt.Errorf("press %#02x: %w", key, err)
		}
		if _, err := host.InPacket(cfg.Keyboard.InEndpoint, report); err != nil {
			return fmt.Errorf("press report: %w", err)
		}
		if report[2] != key {
			return fmt.Errorf("press report carries key %#02x, want %#02x", report[2], key)
		}
		if err := kbd.Release(dev, key); err != nil {
			return fmt.Errorf("release %#02x: %w", key, err)
		}
		if _, err := host.InPacket(cfg.Keyboard.InEndpoint, report); err != nil {
			return fmt.Errorf("release report: %w", err)
		}
		tick(dev, eng, frames)
	}
	log.WithField("keys", len(word)).Info("keystrokes delivered")
	return nil
}

// runStore identifies the disk with INQUIRY and READ CAPACITY, then
// writes one block and reads it back through the bulk-only transport.
func runStore(log *logrus.Logger, cfg *config.Config, dev *device.Stack, host *sim.Host, eng *sim.Engine, frames int) error {
	bot := &botScript{
		host: host,
		in:   cfg.Storage.InEndpoint,
		out:  cfg.Storage.OutEndpoint,
		mps:  int(cfg.Storage.MaxPacketSize),
	}

	inquiry := make([]byte, 6)
	inquiry[0] = msc.OpInquiry
	inquiry[4] = msc.InquirySize
	data, err := bot.read(inquiry, msc.InquirySize)
	if err != nil {
		return fmt.Errorf("INQUIRY: %w", err)
	}
	if len(data) < msc.InquirySize {
		return fmt.Errorf("INQUIRY returned %d bytes, want %d", len(data), msc.InquirySize)
	}
	log.WithFields(logrus.Fields{
		"vendor":  strings.TrimRight(string(data[8:16]), " "),
		"product": strings.TrimRight(string(data[16:32]), " "),
	}).Info("disk identified")

	capCB := make([]byte, 10)
	capCB[0] = msc.OpReadCapacity10
	data, err = bot.read(capCB, 8)
	if err != nil {
		return fmt.Errorf("READ CAPACITY: %w", err)
	}
	if len(data) < 8 {
		return fmt.Errorf("READ CAPACITY returned %d bytes, want 8", len(data))
	}
	lastLBA := binary.BigEndian.Uint32(data[0:4])
	blockSize := binary.BigEndian.Uint32(data[4:8])
	log.WithFields(logrus.Fields{
		"blocks":     lastLBA + 1,
		"block_size": blockSize,
	}).Info("disk capacity read")

	block := make([]byte, blockSize)
	for i := range block {
		block[i] = byte('A' + i%26)
	}
	wr := make([]byte, 10)
	wr[0] = msc.OpWrite10
	binary.BigEndian.PutUint32(wr[2:6], 7)
	binary.BigEndian.PutUint16(wr[7:9], 1)
	if err := bot.write(wr, block); err != nil {
		return fmt.Errorf("WRITE(10): %w", err)
	}
	tick(dev, eng, frames)

	rd := make([]byte, 10)
	rd[0] = msc.OpRead10
	binary.BigEndian.PutUint32(rd[2:6], 7)
	binary.BigEndian.PutUint16(rd[7:9], 1)
	data, err = bot.read(rd, int(blockSize))
	if err != nil {
		return fmt.Errorf("READ(10): %w", err)
	}
	if !bytes.Equal(data, block) {
		return fmt.Errorf("block 7 read back %d bytes that do not match the write", len(data))
	}
	log.WithFields(logrus.Fields{
		"lba":   7,
		"bytes": len(block),
	}).Info("block round trip verified")
	return nil
}

// botScript drives bulk-only command exchanges from the scripted host.
type botScript struct {
	host *sim.Host
	in   uint8
	out  uint8
	mps  int
	tag  uint32
}

func (b *botScript) command(cb []byte, transferLength uint32, flags uint8) error {
	b.tag++
	cbw := make([]byte, msc.CBWSize)
	binary.LittleEndian.PutUint32(cbw[0:4], msc.CBWSignature)
	binary.LittleEndian.PutUint32(cbw[4:8], b.tag)
	binary.LittleEndian.PutUint32(cbw[8:12], transferLength)
	cbw[12] = flags
	cbw[14] = uint8(len(cb))
	copy(cbw[15:], cb)
	return b.host.OutPacket(b.out, cbw)
}

func (b *botScript) status() error {
	buf := make([]byte, msc.CSWSize)
	n, err := b.host.InPacket(b.in, buf)
	if err != nil {
		return err
	}
	var csw msc.CommandStatusWrapper
	if !msc.ParseCSW(buf[:n], &csw) {
		return fmt.Errorf("status wrapper did not parse (%d bytes)", n)
	}
	if csw.Tag != b.tag {
		return fmt.Errorf("status tag %#x, want %#x", csw.Tag, b.tag)
	}
	if csw.Status != msc.CSWStatusGood {
		return fmt.Errorf("command status %d, residue %d", csw.Status, csw.DataResidue)
	}
	return nil
}

func (b *botScript) read(cb []byte, n int) ([]byte, error) {
	if err := b.command(cb, uint32(n), msc.CBWFlagDataIn); err != nil {
		return nil, err
	}
	got := make([]byte, 0, n)
	buf := make([]byte, b.mps)
	for len(got) < n {
		rn, err := b.host.InPacket(b.in, buf)
		if err != nil {
			return nil, err
		}
		got = append(got, buf[:rn]...)
		if rn < len(buf) {
			break
		}
	}
	return got, b.status()
}

func (b *botScript) write(cb, data []byte) error {
	if err := b.command(cb, uint32(len(data)), msc.CBWFlagDataOut); err != nil {
		return err
	}
	for off := 0; off < len(data); off += b.mps {
		end := off + b.mps
		if end > len(data) {
			end = len(data)
		}
		if err := b.host.OutPacket(b.out, data[off:end]); err != nil {
			return err
		}
	}
	return b.status()
}

// tick advances the simulated frame clock and lets the device drain the
// events.
func tick(dev *device.Stack, eng *sim.Engine, frames int) {
	for i := 0; i < frames; i++ {
		eng.Sof()
		dev.ServiceOnce()
	}
}
