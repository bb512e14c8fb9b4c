package hardware

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/vimrgb-core/internal/theme"
)

// frameQoS is the QoS for LED frames. A lost frame is superseded by the
// next mode change.
const frameQoS = 0

// FrameLED is one LED entry in a published frame.
type FrameLED struct {
	ID    int         `json:"id"`
	Key   string      `json:"key"`
	Color theme.Color `json:"color"`
}

// Frame is the payload published for one device on Flush.
type Frame struct {
	Device    string     `json:"device"`
	LEDs      []FrameLED `json:"leds"`
	Timestamp time.Time  `json:"timestamp"`
}

// MQTTController publishes per-device frames for LED controllers that
// subscribe to MQTT (ESP32/WLED-style firmware). Each device's frame goes
// to <prefix>/<device name>.
type MQTTController struct {
	pub    Publisher
	prefix string
	retain bool

	mu      sync.Mutex
	devices []Device
	frames  []map[int]theme.Color
	dirty   []bool
	closed  bool
}

// NewMQTTController creates a controller publishing through pub.
func NewMQTTController(devices []Device, pub Publisher, prefix string, retain bool) *MQTTController {
	m := &MQTTController{
		pub:     pub,
		prefix:  strings.TrimSuffix(prefix, "/"),
		retain:  retain,
		devices: cloneDevices(devices),
		frames:  make([]map[int]theme.Color, len(devices)),
		dirty:   make([]bool, len(devices)),
	}
	for i := range m.frames {
		m.frames[i] = make(map[int]theme.Color)
	}
	return m
}

// ListDevices returns the configured devices.
func (m *MQTTController) ListDevices(ctx context.Context) ([]Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, newError(OpList, -1, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, &Error{Op: OpList, Device: -1, Err: ErrClosed}
	}
	return cloneDevices(m.devices), nil
}

// WriteColors updates the device's frame. Nothing is published until Flush.
func (m *MQTTController) WriteColors(ctx context.Context, deviceIndex int, colors []KeyColor) error {
	if err := ctx.Err(); err != nil {
		return newError(OpWrite, deviceIndex, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return newError(OpWrite, deviceIndex, ErrClosed)
	}
	if deviceIndex < 0 || deviceIndex >= len(m.devices) {
		return newError(OpWrite, deviceIndex, ErrUnknownDevice)
	}

	for _, kc := range colors {
		m.frames[deviceIndex][kc.LEDID] = kc.Color
	}
	m.dirty[deviceIndex] = true
	return nil
}

// Flush publishes the frame of every device written since the last flush.
func (m *MQTTController) Flush(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return newError(OpFlush, -1, ErrClosed)
	}

	for i, dev := range m.devices {
		if !m.dirty[i] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return newError(OpFlush, i, err)
		}

		payload, err := json.Marshal(m.frame(i, dev))
		if err != nil {
			return newError(OpFlush, i, err)
		}
		if err := m.pub.PublishContext(ctx, m.Topic(dev.Name), payload, frameQoS, m.retain); err != nil {
			return newError(OpFlush, i, err)
		}
		// A publish that completes after the deadline still failed the write.
		if err := ctx.Err(); err != nil {
			return newError(OpFlush, i, err)
		}
		m.dirty[i] = false
	}
	return nil
}

// Close stops accepting writes. The publisher is owned by the caller.
func (m *MQTTController) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Topic returns the frame topic for a device.
func (m *MQTTController) Topic(deviceName string) string {
	return m.prefix + "/" + deviceName
}

// frame builds the payload for dev. Caller holds m.mu.
func (m *MQTTController) frame(i int, dev Device) Frame {
	colors := m.frames[i]
	keys := make(map[int]string, len(dev.LEDs))
	for _, led := range dev.LEDs {
		keys[led.ID] = led.Key
	}

	f := Frame{
		Device:    dev.Name,
		LEDs:      make([]FrameLED, 0, len(colors)),
		Timestamp: time.Now().UTC(),
	}
	for id, c := range colors {
		f.LEDs = append(f.LEDs, FrameLED{ID: id, Key: keys[id], Color: c})
	}
	sort.Slice(f.LEDs, func(a, b int) bool { return f.LEDs[a].ID < f.LEDs[b].ID })
	return f
}
