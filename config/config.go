package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/vladyst/USB-Stack/device/hal"
	"github.com/vladyst/USB-Stack/pkg"
)

// Device functions selectable through the config file.
const (
	FunctionSerial   = "serial"   // CDC-ACM virtual serial port
	FunctionKeyboard = "keyboard" // HID boot keyboard
	FunctionStorage  = "storage"  // mass storage bulk-only disk
)

// Config is the root of a device definition file. Zero or missing fields
// take the values from Default, so a file only states what it changes.
type Config struct {
	Log      LogConfig      `yaml:"log"`
	Device   DeviceConfig   `yaml:"device"`
	Serial   SerialConfig   `yaml:"serial"`
	Keyboard KeyboardConfig `yaml:"keyboard"`
	Storage  StorageConfig  `yaml:"storage"`
	Bus      BusConfig      `yaml:"bus"`
}

// LogConfig selects the logger level and output format.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DeviceConfig carries the device identity: everything that ends up in the
// device descriptor plus the configuration descriptor's power attributes.
type DeviceConfig struct {
	VendorID       uint16 `yaml:"vendor_id"`
	ProductID      uint16 `yaml:"product_id"`
	Version        uint16 `yaml:"version"` // bcdDevice
	Manufacturer   string `yaml:"manufacturer"`
	Product        string `yaml:"product"`
	Serial         string `yaml:"serial"`
	MaxPacketSize0 uint16 `yaml:"max_packet_size0"`
	SelfPowered    bool   `yaml:"self_powered"`
	RemoteWakeup   bool   `yaml:"remote_wakeup"`
	MaxPowerMA     uint16 `yaml:"max_power_ma"`
	Function       string `yaml:"function"`
}

// SerialConfig assigns interfaces and endpoints for the serial function.
type SerialConfig struct {
	ControlInterface uint8  `yaml:"control_interface"`
	DataInterface    uint8  `yaml:"data_interface"`
	NotifyEndpoint   uint8  `yaml:"notify_endpoint"`
	DataEndpoint     uint8  `yaml:"data_endpoint"`
	MaxPacketSize    uint16 `yaml:"max_packet_size"`
}

// KeyboardConfig assigns the interface and endpoints for the keyboard
// function. OutEndpoint 0 means LED reports arrive over the control pipe
// only.
type KeyboardConfig struct {
	Interface     uint8  `yaml:"interface"`
	InEndpoint    uint8  `yaml:"in_endpoint"`
	OutEndpoint   uint8  `yaml:"out_endpoint"`
	MaxPacketSize uint16 `yaml:"max_packet_size"`
	Interval      uint8  `yaml:"interval"`
}

// StorageConfig assigns the interface and endpoint pair for the storage
// function and describes its medium. An image path maps the disk onto a
// file; otherwise blocks of RAM back it.
type StorageConfig struct {
	Interface     uint8  `yaml:"interface"`
	InEndpoint    uint8  `yaml:"in_endpoint"`
	OutEndpoint   uint8  `yaml:"out_endpoint"`
	MaxPacketSize uint16 `yaml:"max_packet_size"`
	Blocks        uint32 `yaml:"blocks"`
	BlockSize     uint32 `yaml:"block_size"`
	ReadOnly      bool   `yaml:"read_only"`
	Image         string `yaml:"image"`
}

// BusConfig selects engine-level options.
type BusConfig struct {
	PingPong string `yaml:"ping_pong"`
}

// Default returns the stock device definition: a full-speed CDC-ACM serial
// adapter with the classic demo identity.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Device: DeviceConfig{
			VendorID:       0x04D8,
			ProductID:      0x000A,
			Version:        0x0100,
			Manufacturer:   "Microchip Technology Inc.",
			Product:        "CDC RS-232 Emulation Demo",
			Serial:         "0123456789AB",
			MaxPacketSize0: 8,
			MaxPowerMA:     100,
			Function:       FunctionSerial,
		},
		Serial: SerialConfig{
			ControlInterface: 0,
			DataInterface:    1,
			NotifyEndpoint:   1,
			DataEndpoint:     2,
			MaxPacketSize:    64,
		},
		Keyboard: KeyboardConfig{
			Interface:     0,
			InEndpoint:    1,
			OutEndpoint:   0,
			MaxPacketSize: 8,
			Interval:      10,
		},
		Storage: StorageConfig{
			Interface:     0,
			InEndpoint:    1,
			OutEndpoint:   1,
			MaxPacketSize: 64,
			Blocks:        2048,
			BlockSize:     512,
		},
		Bus: BusConfig{
			PingPong: "disabled",
		},
	}
}

// Load reads and parses the device definition at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a device definition document over the defaults. Unknown
// keys are rejected. An empty document yields Default unchanged.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", pkg.ErrConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LogLevel parses the configured log level.
func (c *Config) LogLevel() (logrus.Level, error) {
	return pkg.ParseLogLevel(c.Log.Level)
}

// LogFormat parses the configured log format.
func (c *Config) LogFormat() (pkg.LogFormat, error) {
	switch c.Log.Format {
	case "text", "":
		return pkg.LogFormatText, nil
	case "json":
		return pkg.LogFormatJSON, nil
	}
	return 0, fmt.Errorf("%w: log.format %q (want text or json)", pkg.ErrConfig, c.Log.Format)
}

// PingPong parses the configured buffering policy.
func (c *Config) PingPong() (hal.PingPong, error) {
	return ParsePingPong(c.Bus.PingPong)
}

// ParsePingPong maps a policy name to the engine buffering mode.
func ParsePingPong(s string) (hal.PingPong, error) {
	switch s {
	case "disabled", "":
		return hal.PingPongDisabled, nil
	case "ep0-out":
		return hal.PingPongEP0Out, nil
	case "ep1-plus":
		return hal.PingPongEP1Plus, nil
	case "all":
		return hal.PingPongAll, nil
	}
	return 0, fmt.Errorf("%w: bus.ping_pong %q (want disabled, ep0-out, ep1-plus, or all)", pkg.ErrConfig, s)
}

// Validate checks the definition for problems that would produce a device
// the stack cannot host or a host cannot enumerate.
func (c *Config) Validate() error {
	if _, err := c.LogLevel(); err != nil {
		return fmt.Errorf("%w: log.level %q", pkg.ErrConfig, c.Log.Level)
	}
	if _, err := c.LogFormat(); err != nil {
		return err
	}
	if _, err := c.PingPong(); err != nil {
		return err
	}

	d := &c.Device
	if d.VendorID == 0 {
		return fmt.Errorf("%w: device.vendor_id must be nonzero", pkg.ErrConfig)
	}
	if d.ProductID == 0 {
		return fmt.Errorf("%w: device.product_id must be nonzero", pkg.ErrConfig)
	}
	switch d.MaxPacketSize0 {
	case 8, 16, 32, 64:
	default:
		return fmt.Errorf("%w: device.max_packet_size0 %d (want 8, 16, 32, or 64)", pkg.ErrConfig, d.MaxPacketSize0)
	}
	if d.MaxPowerMA > 500 {
		return fmt.Errorf("%w: device.max_power_ma %d exceeds 500", pkg.ErrConfig, d.MaxPowerMA)
	}

	switch d.Function {
	case FunctionSerial:
		return c.validateSerial()
	case FunctionKeyboard:
		return c.validateKeyboard()
	case FunctionStorage:
		return c.validateStorage()
	}
	return fmt.Errorf("%w: device.function %q (want %s, %s, or %s)", pkg.ErrConfig, d.Function, FunctionSerial, FunctionKeyboard, FunctionStorage)
}

func (c *Config) validateSerial() error {
	s := &c.Serial
	if err := validEndpoint("serial.notify_endpoint", s.NotifyEndpoint); err != nil {
		return err
	}
	if err := validEndpoint("serial.data_endpoint", s.DataEndpoint); err != nil {
		return err
	}
	if s.NotifyEndpoint == s.DataEndpoint {
		return fmt.Errorf("%w: serial notify and data endpoints collide on %d", pkg.ErrConfig, s.DataEndpoint)
	}
	if s.ControlInterface == s.DataInterface {
		return fmt.Errorf("%w: serial control and data interfaces collide on %d", pkg.ErrConfig, s.DataInterface)
	}
	if s.MaxPacketSize == 0 || s.MaxPacketSize > 64 {
		return fmt.Errorf("%w: serial.max_packet_size %d (want 1-64)", pkg.ErrConfig, s.MaxPacketSize)
	}
	return nil
}

func (c *Config) validateKeyboard() error {
	k := &c.Keyboard
	if err := validEndpoint("keyboard.in_endpoint", k.InEndpoint); err != nil {
		return err
	}
	if k.OutEndpoint != 0 {
		if err := validEndpoint("keyboard.out_endpoint", k.OutEndpoint); err != nil {
			return err
		}
	}
	if k.MaxPacketSize == 0 || k.MaxPacketSize > 64 {
		return fmt.Errorf("%w: keyboard.max_packet_size %d (want 1-64)", pkg.ErrConfig, k.MaxPacketSize)
	}
	if k.Interval == 0 {
		return fmt.Errorf("%w: keyboard.interval must be nonzero", pkg.ErrConfig)
	}
	return nil
}

func (c *Config) validateStorage() error {
	s := &c.Storage
	if err := validEndpoint("storage.in_endpoint", s.InEndpoint); err != nil {
		return err
	}
	if err := validEndpoint("storage.out_endpoint", s.OutEndpoint); err != nil {
		return err
	}
	if s.MaxPacketSize == 0 || s.MaxPacketSize > 64 {
		return fmt.Errorf("%w: storage.max_packet_size %d (want 1-64)", pkg.ErrConfig, s.MaxPacketSize)
	}
	switch s.BlockSize {
	case 512, 1024, 2048, 4096:
	default:
		return fmt.Errorf("%w: storage.block_size %d (want 512, 1024, 2048, or 4096)", pkg.ErrConfig, s.BlockSize)
	}
	if s.Image == "" && s.Blocks == 0 {
		return fmt.Errorf("%w: storage.blocks must be nonzero without an image", pkg.ErrConfig)
	}
	return nil
}

func validEndpoint(field string, ep uint8) error {
	if ep == 0 || ep >= hal.MaxEndpoints {
		return fmt.Errorf("%w: %s %d (want 1-%d)", pkg.ErrConfig, field, ep, hal.MaxEndpoints-1)
	}
	return nil
}
