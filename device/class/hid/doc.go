// Package hid implements the USB Human Interface Device class for the
// device stack.
//
// The centerpiece is Keyboard, a boot-protocol keyboard function that
// implements device.Handler. It serves the HID and report descriptors,
// answers GET_REPORT, SET_REPORT, GET_IDLE, SET_IDLE, GET_PROTOCOL,
// and SET_PROTOCOL, and sends input reports over an interrupt IN
// endpoint.
//
// # Idle Rate
//
// The idle rate throttles unchanged reports. At rate zero a report
// goes out only when the report changes; otherwise the keyboard counts
// start-of-frame events and repeats the current report every rate
// times 4 ms, the way interactive hosts expect typematic behavior to
// surface. SET_CONFIGURATION rewinds the rate to the keyboard default
// of 500 ms.
//
// # LED Reports
//
// The host sets Num Lock, Caps Lock, and the other LEDs with an
// output report, over endpoint zero by default or over an interrupt
// OUT endpoint when the configuration declares one. Both paths land in
// the same callback.
//
// # Usage
//
//	kbd := hid.NewKeyboard(hid.DefaultKeyboardConfig(), nil)
//	kbd.SetOnLEDChange(func(leds uint8) {
//	    // mirror to hardware
//	})
//
//	b := device.NewConfigurationBuilder(&device.ConfigurationDescriptor{
//	    ConfigurationValue: 1,
//	    Attributes:         0xA0,
//	    MaxPower:           50,
//	})
//	kbd.AddTo(b)
//
//	stack, err := device.New(device.Options{
//	    Engine:      eng,
//	    Descriptors: descriptors,
//	    Handler:     kbd,
//	    Endpoints:   hid.DefaultKeyboardConfig().Endpoints(),
//	})
//
//	kbd.Press(stack, hid.KeyA)
//	kbd.Release(stack, hid.KeyA)
package hid
