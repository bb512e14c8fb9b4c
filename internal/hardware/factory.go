package hardware

import (
	"fmt"
	"time"

	"github.com/nerrad567/vimrgb-core/internal/infrastructure/config"
)

// DevicesFromConfig builds the device list described by cfg.
//
// Devices are indexed in configuration order. LED ids are the enumeration
// index within the device: configured keys first, then explicit LEDs.
func DevicesFromConfig(cfg config.HardwareConfig) []Device {
	devices := make([]Device, 0, len(cfg.Devices))
	for i, dc := range cfg.Devices {
		d := Device{Index: i, Name: dc.Name}
		for _, key := range dc.Keys {
			d.LEDs = append(d.LEDs, LED{ID: len(d.LEDs), Key: key, Capability: CapabilityColor})
		}
		for _, lc := range dc.LEDs {
			capability := CapabilityColor
			if lc.Kind == config.LEDKindPosition {
				capability = CapabilityPosition
			}
			d.LEDs = append(d.LEDs, LED{ID: len(d.LEDs), Key: lc.Key, Capability: capability})
		}
		devices = append(devices, d)
	}
	return devices
}

// New creates the controller selected by cfg.Backend.
//
// Parameters:
//   - cfg: Hardware section of the configuration
//   - pub: MQTT publisher, required only for the mqtt backend
//
// Returns:
//   - Controller: Ready to use; the caller must Close it
//   - error: ErrUnknownBackend, or a setup failure
func New(cfg config.HardwareConfig, pub Publisher) (Controller, error) {
	devices := DevicesFromConfig(cfg)

	switch cfg.Backend {
	case config.BackendSimulated, "":
		sim := NewSimulator(devices)
		sim.SetLatency(time.Duration(cfg.SimulatedLatencyMS) * time.Millisecond)
		return sim, nil

	case config.BackendArtNet:
		targets := make([]ArtNetTarget, len(cfg.Devices))
		for i, dc := range cfg.Devices {
			targets[i] = ArtNetTarget{Host: dc.Host, Universe: dc.Universe}
		}
		return NewArtNet(devices, targets, cfg.ArtNet.Port)

	case config.BackendMQTT:
		if pub == nil {
			return nil, fmt.Errorf("mqtt backend: %w", ErrNoPublisher)
		}
		return NewMQTTController(devices, pub, cfg.MQTT.TopicPrefix, cfg.MQTT.Retain), nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}
