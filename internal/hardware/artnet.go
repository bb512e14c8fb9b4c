package hardware

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"sync"
)

// Art-Net constants.
const (
	// DefaultArtNetPort is the standard Art-Net UDP port.
	DefaultArtNetPort = 6454

	// dmxUniverseSize is the number of channels in one DMX universe.
	dmxUniverseSize = 512

	// channelsPerLED is one channel each for R, G and B.
	channelsPerLED = 3

	// maxLEDsPerUniverse is the number of RGB LEDs that fit in a universe.
	maxLEDsPerUniverse = dmxUniverseSize / channelsPerLED

	artDmxHeaderSize = 18
	opOutput         = 0x5000
	protocolVersion  = 14
	maxUniverse      = 0x7fff
)

var artNetID = [8]byte{'A', 'r', 't', '-', 'N', 'e', 't', 0}

// BuildArtDmx encodes an ArtDmx packet carrying data for universe.
//
// data is padded to an even length as the protocol requires and truncated
// to 512 channels. A zero sequence disables receiver reordering.
func BuildArtDmx(sequence uint8, universe int, data []byte) []byte {
	if len(data) > dmxUniverseSize {
		data = data[:dmxUniverseSize]
	}
	length := len(data)
	if length%2 != 0 {
		length++
	}
	if length < 2 {
		length = 2
	}

	packet := make([]byte, artDmxHeaderSize+length)
	copy(packet[0:8], artNetID[:])
	binary.LittleEndian.PutUint16(packet[8:10], opOutput)
	binary.BigEndian.PutUint16(packet[10:12], protocolVersion)
	packet[12] = sequence
	packet[13] = 0 // physical port
	binary.LittleEndian.PutUint16(packet[14:16], uint16(universe&maxUniverse)) // #nosec G115 -- masked to 15 bits
	binary.BigEndian.PutUint16(packet[16:18], uint16(length))                  // #nosec G115 -- at most 512
	copy(packet[artDmxHeaderSize:], data)
	return packet
}

// ArtNetTarget addresses one device on the network.
type ArtNetTarget struct {
	Host     string
	Universe int
}

type artNetOutput struct {
	conn     *net.UDPConn
	universe int
	frame    [dmxUniverseSize]byte
	dirty    bool
}

// ArtNet drives devices that accept ArtDmx packets, one universe per
// device. LED n occupies channels 3n to 3n+2. Writes update an in-memory
// frame per device; Flush sends every changed frame.
type ArtNet struct {
	mu       sync.Mutex
	devices  []Device
	outputs  []*artNetOutput
	sequence uint8
	closed   bool
}

// NewArtNet dials one UDP socket per device.
//
// Parameters:
//   - devices: Attached devices, indexed as in targets
//   - targets: Host and universe per device
//   - port: Destination UDP port (0 means 6454)
//
// Returns:
//   - *ArtNet: Ready to use; the caller must Close it
//   - error: If a target cannot be resolved or a device has too many LEDs
func NewArtNet(devices []Device, targets []ArtNetTarget, port int) (*ArtNet, error) {
	if len(targets) != len(devices) {
		return nil, fmt.Errorf("artnet: %d targets for %d devices", len(targets), len(devices))
	}
	if port == 0 {
		port = DefaultArtNetPort
	}

	a := &ArtNet{devices: cloneDevices(devices)}
	for i, target := range targets {
		if n := len(devices[i].LEDs); n > maxLEDsPerUniverse {
			a.Close() //nolint:errcheck // Best effort cleanup on error path
			return nil, fmt.Errorf("artnet: device %q has %d LEDs, a universe holds %d", devices[i].Name, n, maxLEDsPerUniverse)
		}
		if target.Universe < 0 || target.Universe > maxUniverse {
			a.Close() //nolint:errcheck // Best effort cleanup on error path
			return nil, fmt.Errorf("artnet: universe %d out of range", target.Universe)
		}

		addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(target.Host, strconv.Itoa(port)))
		if err != nil {
			a.Close() //nolint:errcheck // Best effort cleanup on error path
			return nil, fmt.Errorf("artnet: resolving %s: %w", target.Host, err)
		}
		conn, err := net.DialUDP("udp", nil, addr)
		if err != nil {
			a.Close() //nolint:errcheck // Best effort cleanup on error path
			return nil, fmt.Errorf("artnet: dialing %s: %w", addr, err)
		}
		a.outputs = append(a.outputs, &artNetOutput{conn: conn, universe: target.Universe})
	}
	return a, nil
}

// ListDevices returns the configured devices.
func (a *ArtNet) ListDevices(ctx context.Context) ([]Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, newError(OpList, -1, err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, &Error{Op: OpList, Device: -1, Err: ErrClosed}
	}
	return cloneDevices(a.devices), nil
}

// WriteColors updates the device's frame. Nothing is sent until Flush.
func (a *ArtNet) WriteColors(ctx context.Context, deviceIndex int, colors []KeyColor) error {
	if err := ctx.Err(); err != nil {
		return newError(OpWrite, deviceIndex, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return newError(OpWrite, deviceIndex, ErrClosed)
	}
	if deviceIndex < 0 || deviceIndex >= len(a.outputs) {
		return newError(OpWrite, deviceIndex, ErrUnknownDevice)
	}

	out := a.outputs[deviceIndex]
	for _, kc := range colors {
		if kc.LEDID < 0 || kc.LEDID >= maxLEDsPerUniverse {
			return newError(OpWrite, deviceIndex, fmt.Errorf("led %d outside universe", kc.LEDID))
		}
		ch := kc.LEDID * channelsPerLED
		out.frame[ch] = kc.Color.R
		out.frame[ch+1] = kc.Color.G
		out.frame[ch+2] = kc.Color.B
	}
	out.dirty = true
	return nil
}

// Flush sends one ArtDmx packet for every device written since the last
// flush. The context deadline bounds each socket write.
func (a *ArtNet) Flush(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return newError(OpFlush, -1, ErrClosed)
	}

	// A zero deadline (no context deadline) clears any previous one.
	deadline, _ := ctx.Deadline()
	for i, out := range a.outputs {
		if !out.dirty {
			continue
		}
		if err := ctx.Err(); err != nil {
			return newError(OpFlush, i, err)
		}

		a.sequence++
		if a.sequence == 0 {
			a.sequence = 1
		}
		packet := BuildArtDmx(a.sequence, out.universe, out.frame[:])

		if err := out.conn.SetWriteDeadline(deadline); err != nil {
			return newError(OpFlush, i, err)
		}
		if _, err := out.conn.Write(packet); err != nil {
			return newError(OpFlush, i, err)
		}
		out.dirty = false
	}
	return nil
}

// Close closes all sockets. Safe to call multiple times.
func (a *ArtNet) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true

	var firstErr error
	for _, out := range a.outputs {
		if err := out.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
