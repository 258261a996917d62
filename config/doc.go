// Package config loads YAML device definitions and turns them into
// everything a [device.Stack] needs: descriptors, endpoint declarations,
// and a class driver wired as the stack handler.
//
// A definition file only states what differs from [Default], which
// describes a full-speed CDC-ACM serial adapter:
//
//	device:
//	  vendor_id: 0x1209
//	  product_id: 0x0001
//	  product: Example Widget
//	  function: keyboard
//	bus:
//	  ping_pong: all
//
// Unknown keys are rejected, so a typo fails [Load] instead of silently
// keeping a default.
//
// # Building
//
// [Config.Build] validates the definition and assembles a [Bundle]:
//
//	cfg, err := config.Load("device.yaml")
//	// handle err
//	b, err := cfg.Build()
//	// handle err
//	dev, err := device.New(device.Options{
//	    Engine:      engine,
//	    Descriptors: b.Descriptors,
//	    Endpoints:   b.Endpoints,
//	    Handler:     b.Handler,
//	})
//
// The device and configuration descriptors, the string table, and the
// class-specific descriptor layout all derive from the definition; the
// class driver is returned under its concrete type so the caller can
// exchange traffic with it.
package config
