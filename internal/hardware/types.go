package hardware

import (
	"context"

	"github.com/nerrad567/vimrgb-core/internal/theme"
)

// Capability describes what an LED can display.
type Capability string

const (
	// CapabilityColor LEDs accept any RGB value.
	CapabilityColor Capability = "color"

	// CapabilityPosition LEDs only mark a key's location and always show
	// a fixed indicator colour.
	CapabilityPosition Capability = "position"
)

// LED is one addressable light on a device.
type LED struct {
	// ID is stable for the lifetime of the device.
	ID         int        `json:"id"`
	Key        string     `json:"key"`
	Capability Capability `json:"capability"`
}

// Device is one keyboard. LEDs are in enumeration order.
type Device struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	LEDs  []LED  `json:"leds"`
}

// KeyColor is a staged colour for one LED.
type KeyColor struct {
	LEDID int
	Color theme.Color
}

// Controller drives a set of LED devices.
//
// WriteColors stages colours for one device; nothing is visible until
// Flush commits every staged write.
type Controller interface {
	ListDevices(ctx context.Context) ([]Device, error)
	WriteColors(ctx context.Context, deviceIndex int, colors []KeyColor) error
	Flush(ctx context.Context) error
	Close() error
}

// Publisher is the MQTT publish capability used by MQTTController. The
// wait for the broker must end when ctx does. Satisfied by *mqtt.Client.
type Publisher interface {
	PublishContext(ctx context.Context, topic string, payload []byte, qos byte, retained bool) error
}

// KnownKeys returns the set of key names exposed by devices.
func KnownKeys(devices []Device) map[string]bool {
	keys := make(map[string]bool)
	for _, d := range devices {
		for _, led := range d.LEDs {
			keys[led.Key] = true
		}
	}
	return keys
}

// LEDCount returns the total number of LEDs across devices.
func LEDCount(devices []Device) int {
	n := 0
	for _, d := range devices {
		n += len(d.LEDs)
	}
	return n
}

// cloneDevices returns a deep copy so callers cannot mutate backend state.
func cloneDevices(devices []Device) []Device {
	out := make([]Device, len(devices))
	for i, d := range devices {
		out[i] = Device{
			Index: d.Index,
			Name:  d.Name,
			LEDs:  append([]LED(nil), d.LEDs...),
		}
	}
	return out
}
