package device

import (
	"fmt"

	"github.com/rcrowley/go-metrics"

	"github.com/vladyst/USB-Stack/device/hal"
	"github.com/vladyst/USB-Stack/pkg"
)

// Options configures a Stack.
type Options struct {
	// Engine drives the bus. Required.
	Engine hal.Engine

	// Descriptors serves the device, configuration, and string
	// descriptors. Required.
	Descriptors DescriptorSet

	// Handler receives class requests, transaction completions, and
	// configuration changes. Optional; without one the device
	// enumerates but stalls every class request.
	Handler Handler

	// PingPong selects which endpoint buffers are doubled. It must
	// match the engine's own buffering mode, the same way the buffer
	// descriptor table base must be programmed consistently on real
	// hardware.
	PingPong hal.PingPong

	// Endpoints declares the class endpoints the configurations use.
	// Endpoint zero is implicit and always present.
	Endpoints []EndpointConfig

	// SelfPowered sets the self-powered bit reported by GET_STATUS.
	SelfPowered bool

	// Registry receives the stack's counters. Nil creates a private
	// registry.
	Registry metrics.Registry
}

// New builds a Stack. The device starts detached; call Attach to join
// the bus and ServiceOnce to run it.
func New(opts Options) (*Stack, error) {
	if opts.Engine == nil {
		return nil, fmt.Errorf("%w: engine is required", pkg.ErrInvalidParameter)
	}
	if opts.Descriptors == nil {
		return nil, fmt.Errorf("%w: descriptor set is required", pkg.ErrInvalidParameter)
	}
	dev := opts.Descriptors.Device()
	if len(dev) < DeviceDescriptorSize {
		return nil, fmt.Errorf("%w: device descriptor", pkg.ErrDescriptorTooShort)
	}
	ep0 := uint16(dev[7])
	switch ep0 {
	case 8, 16, 32, 64:
	default:
		return nil, fmt.Errorf("%w: bMaxPacketSize0 %d", pkg.ErrInvalidParameter, ep0)
	}

	var seen [hal.MaxEndpoints][2]bool
	for i := range opts.Endpoints {
		cfg := &opts.Endpoints[i]
		ep := cfg.Number()
		if ep == 0 || ep >= hal.MaxEndpoints {
			return nil, fmt.Errorf("%w: 0x%02X", pkg.ErrInvalidEndpoint, cfg.Address)
		}
		if cfg.MaxPacketSize == 0 || cfg.MaxPacketSize > hal.MaxPacketSize {
			return nil, fmt.Errorf("%w: endpoint 0x%02X max packet size %d",
				pkg.ErrInvalidParameter, cfg.Address, cfg.MaxPacketSize)
		}
		switch cfg.TransferType() {
		case EndpointTypeBulk, EndpointTypeInterrupt:
		default:
			return nil, fmt.Errorf("%w: endpoint 0x%02X transfer type %s",
				pkg.ErrInvalidParameter, cfg.Address, TransferTypeName(cfg.TransferType()))
		}
		dir := cfg.Direction()
		if seen[ep][dir] {
			return nil, fmt.Errorf("%w: endpoint 0x%02X declared twice",
				pkg.ErrInvalidParameter, cfg.Address)
		}
		seen[ep][dir] = true
	}

	s := &Stack{
		engine:      opts.Engine,
		descs:       opts.Descriptors,
		handler:     opts.Handler,
		pp:          opts.PingPong,
		selfPowered: opts.SelfPowered,
		ep0MPS:      ep0,
		epCfgs:      append([]EndpointConfig(nil), opts.Endpoints...),
		stats:       newStackStats(opts.Registry),
	}
	for ep := range s.eps {
		for dir := range s.eps[ep] {
			s.eps[ep][dir].lastSlot = hal.SlotOdd
		}
	}

	pkg.LogDebug(pkg.ComponentDevice, "stack created",
		"ep0MaxPacket", ep0,
		"endpoints", len(s.epCfgs),
		"pingPong", s.pp.String())

	return s, nil
}
