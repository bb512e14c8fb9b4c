package layout

import (
	"github.com/nerrad567/vimrgb-core/internal/hardware"
	"github.com/nerrad567/vimrgb-core/internal/theme"
)

// PositionSentinel is shown on position-only LEDs in every mode.
var PositionSentinel = theme.RGB(0, 50, 0)

// Assignment is a resolved colour for one LED.
type Assignment struct {
	DeviceIndex int         `json:"device"`
	LEDID       int         `json:"led"`
	Key         string      `json:"key"`
	Color       theme.Color `json:"color"`
}

// Unassigned is an LED for which no colour could be resolved.
type Unassigned struct {
	DeviceIndex int    `json:"device"`
	LEDID       int    `json:"led"`
	Key         string `json:"key"`
}

// Layout is the resolved colour assignment for one mode.
// It must not be modified once built; the cache hands the same value to
// every caller.
type Layout struct {
	Mode        string       `json:"mode"`
	Assignments []Assignment `json:"assignments"`
	Unassigned  []Unassigned `json:"unassigned,omitempty"`
}

// DeviceBatch is the set of colours to write to one device.
type DeviceBatch struct {
	DeviceIndex int
	Colors      []hardware.KeyColor
}

// ByDevice groups assignments into one batch per device, keeping
// device order and LED enumeration order.
func (l Layout) ByDevice() []DeviceBatch {
	var batches []DeviceBatch
	for _, a := range l.Assignments {
		if n := len(batches); n == 0 || batches[n-1].DeviceIndex != a.DeviceIndex {
			batches = append(batches, DeviceBatch{DeviceIndex: a.DeviceIndex})
		}
		last := &batches[len(batches)-1]
		last.Colors = append(last.Colors, hardware.KeyColor{LEDID: a.LEDID, Color: a.Color})
	}
	return batches
}

// Resolve computes the layout for mode.
//
// Devices are visited in order and LEDs in enumeration order. For each
// colour-capable LED the first colour found wins:
//
//  1. compiled[mode][key]
//  2. compiled["default"][key]
//  3. compiled[mode]["default"]
//  4. compiled["default"]["default"]
//
// An LED with no match is recorded in Unassigned and receives no write.
// Position-only LEDs always receive PositionSentinel.
//
// Resolve has no side effects.
//
// Parameters:
//   - compiled: Theme with groupings already expanded
//   - mode: Mode to resolve (need not exist in the theme)
//   - devices: Attached devices
//
// Returns:
//   - Layout: Assignments and unassigned LEDs for mode
func Resolve(compiled *theme.Theme, mode string, devices []hardware.Device) Layout {
	l := Layout{Mode: mode}
	for _, dev := range devices {
		for _, led := range dev.LEDs {
			if led.Capability == hardware.CapabilityPosition {
				l.Assignments = append(l.Assignments, Assignment{
					DeviceIndex: dev.Index, LEDID: led.ID, Key: led.Key, Color: PositionSentinel,
				})
				continue
			}

			c, ok := lookup(compiled, mode, led.Key)
			if !ok {
				l.Unassigned = append(l.Unassigned, Unassigned{DeviceIndex: dev.Index, LEDID: led.ID, Key: led.Key})
				continue
			}
			l.Assignments = append(l.Assignments, Assignment{
				DeviceIndex: dev.Index, LEDID: led.ID, Key: led.Key, Color: c,
			})
		}
	}
	return l
}

func lookup(t *theme.Theme, mode, key string) (theme.Color, bool) {
	if t == nil {
		return theme.Color{}, false
	}
	candidates := [...][2]string{
		{mode, key},
		{theme.DefaultMode, key},
		{mode, theme.DefaultKey},
		{theme.DefaultMode, theme.DefaultKey},
	}
	for _, c := range candidates {
		if color, ok := t.Explicit(c[0], c[1]); ok {
			return color, true
		}
	}
	return theme.Color{}, false
}
