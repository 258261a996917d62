// Package cdc implements the USB Communications Device Class for the
// device stack.
//
// The package provides CDC-ACM (Abstract Control Model), the standard
// class behind USB serial adapters and virtual COM ports.
//
// # Architecture
//
// An ACM function occupies two interfaces:
//
//   - Control interface (Communications Class): class requests such as
//     SET_LINE_CODING and SET_CONTROL_LINE_STATE, plus an interrupt IN
//     endpoint for SERIAL_STATE notifications
//   - Data interface (Data Class): bulk IN and OUT endpoints carrying
//     the serial byte stream
//
// ACM implements device.Handler, so one instance plugs straight into
// device.Options. It keeps a fixed transmit ring and drains it one
// bulk packet at a time as the host polls; received packets are handed
// to a callback and the OUT endpoint is re-armed immediately.
//
// # Usage
//
//	cfg := cdc.DefaultConfig()
//	acm := cdc.NewACM(cfg)
//	acm.SetOnReceive(func(data []byte) {
//	    // bytes from the host; copy out before returning
//	})
//
//	b := device.NewConfigurationBuilder(&device.ConfigurationDescriptor{
//	    ConfigurationValue: 1,
//	    Attributes:         0x80,
//	    MaxPower:           50,
//	})
//	cfg.AddTo(b)
//
//	stack, err := device.New(device.Options{
//	    Engine:      eng,
//	    Descriptors: descriptors, // includes b.Bytes()
//	    Handler:     acm,
//	    Endpoints:   cfg.Endpoints(),
//	})
//
//	// later, from any goroutine
//	acm.Send(stack, []byte("hello"))
//
// # Line Coding
//
// The function models a fixed-format serial port: SET_LINE_CODING
// accepts any baud rate but only 8 data bits, no parity, and one stop
// bit. Other formats fail the request and the host sees a stall.
package cdc
