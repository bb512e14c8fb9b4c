// Package hardware is the boundary between VimRGB and the LED keyboards.
//
// A Controller enumerates devices and accepts staged colour writes that
// become visible on Flush. Three backends are provided:
//
//   - Simulator: in-memory keyboard with latency and failure injection
//   - ArtNet: one ArtDmx universe per device over UDP
//   - MQTTController: per-device JSON frames published to an MQTT broker
//
// Calls are made from a single goroutine (the layout updater); backends
// still guard their state with a mutex because ListDevices may be called
// concurrently during a reload.
//
// Failures are reported as *Error, wrapping one of ErrWriteFailed,
// ErrFlushFailed or ErrTimeout:
//
//	if errors.Is(err, hardware.ErrTimeout) { ... }
package hardware
