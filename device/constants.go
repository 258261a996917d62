package device

import "fmt"

// Maximum limits for fixed-size arrays (zero-allocation support).
const (
	// MaxEndpointsPerInterface is the maximum number of endpoints per interface.
	// USB 2.0 allows up to 16 IN + 16 OUT endpoints, but typically far fewer are used.
	MaxEndpointsPerInterface = 16

	// MaxInterfacesPerConfiguration is the maximum number of interfaces per configuration.
	MaxInterfacesPerConfiguration = 8

	// MaxConfigurations is the maximum number of configurations per device.
	MaxConfigurations = 4

	// MaxStrings is the maximum number of string descriptors per device.
	MaxStrings = 16

	// ControlScratchSize is the capacity of the control transfer scratch
	// buffer. Data stages of mutable-source IN transfers and all OUT data
	// stages are bounded by it.
	ControlScratchSize = 512
)

// DefaultControlPacketSize is the EP0 maximum packet size used when no
// device descriptor overrides it. Full-speed devices may declare 8, 16,
// 32, or 64.
const DefaultControlPacketSize = 8

// Device states as defined in USB 2.0 specification section 9.1.
// Suspend is not a state here: any state can be suspended and resumes to
// itself, so the stack tracks it as a separate flag.
const (
	StateDetached   State = 0 // Not attached to the bus
	StateAttached   State = 1 // Attached but not powered
	StatePowered    State = 2 // Powered, no bus reset seen yet
	StateDefault    State = 3 // Reset received, answering on address 0
	StateAddress    State = 4 // Unique address assigned
	StateConfigured State = 5 // Configuration selected, class endpoints live
)

// State represents USB device state.
type State uint8

// String returns a human-readable state description.
func (s State) String() string {
	switch s {
	case StateDetached:
		return "Detached"
	case StateAttached:
		return "Attached"
	case StatePowered:
		return "Powered"
	case StateDefault:
		return "Default"
	case StateAddress:
		return "Address"
	case StateConfigured:
		return "Configured"
	default:
		return fmt.Sprintf("Unknown State (%d)", s)
	}
}
