// Package layout turns a compiled theme and a device list into per-mode
// colour assignments, and caches them so a mode switch costs a map lookup.
//
// Resolve is a pure function. Cache memoizes it per mode against an
// immutable snapshot of (compiled theme, devices); Reload swaps the
// snapshot atomically, which invalidates every cached layout at once.
package layout
