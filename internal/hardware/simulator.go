package hardware

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/vimrgb-core/internal/theme"
)

// errInjected is the cause reported by injected failures.
var errInjected = errors.New("injected failure")

// Simulator is an in-memory keyboard.
//
// It records staged and committed frames, can delay every write, and can
// be told to fail a number of upcoming writes or flushes. It also tracks
// how many hardware calls overlap, which must never exceed one.
type Simulator struct {
	mu        sync.Mutex
	devices   []Device
	staged    map[int]map[int]theme.Color
	committed map[int]map[int]theme.Color
	latency   time.Duration
	failWrite int
	failFlush int
	writes    int
	flushes   int
	closed    bool

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

// NewSimulator creates a simulator exposing devices.
func NewSimulator(devices []Device) *Simulator {
	return &Simulator{
		devices:   cloneDevices(devices),
		staged:    make(map[int]map[int]theme.Color),
		committed: make(map[int]map[int]theme.Color),
	}
}

// SetLatency delays every WriteColors and Flush by d.
func (s *Simulator) SetLatency(d time.Duration) {
	s.mu.Lock()
	s.latency = d
	s.mu.Unlock()
}

// SetDevices replaces the attached devices, as if keyboards were plugged
// in or removed. Committed frames for removed devices are discarded.
func (s *Simulator) SetDevices(devices []Device) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.devices = cloneDevices(devices)
	for idx := range s.committed {
		if idx >= len(s.devices) {
			delete(s.committed, idx)
		}
	}
	s.staged = make(map[int]map[int]theme.Color)
}

// FailNextWrites makes the next n WriteColors calls fail.
func (s *Simulator) FailNextWrites(n int) {
	s.mu.Lock()
	s.failWrite = n
	s.mu.Unlock()
}

// FailNextFlushes makes the next n Flush calls fail.
func (s *Simulator) FailNextFlushes(n int) {
	s.mu.Lock()
	s.failFlush = n
	s.mu.Unlock()
}

// ListDevices returns the attached devices.
func (s *Simulator) ListDevices(ctx context.Context) ([]Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, newError(OpList, -1, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, &Error{Op: OpList, Device: -1, Err: ErrClosed}
	}
	return cloneDevices(s.devices), nil
}

// WriteColors stages colours for one device.
func (s *Simulator) WriteColors(ctx context.Context, deviceIndex int, colors []KeyColor) error {
	done := s.enter()
	defer done()

	if err := s.wait(ctx); err != nil {
		return newError(OpWrite, deviceIndex, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.writes++
	if s.closed {
		return newError(OpWrite, deviceIndex, ErrClosed)
	}
	if s.failWrite > 0 {
		s.failWrite--
		return newError(OpWrite, deviceIndex, errInjected)
	}
	if deviceIndex < 0 || deviceIndex >= len(s.devices) {
		return newError(OpWrite, deviceIndex, ErrUnknownDevice)
	}

	frame := s.staged[deviceIndex]
	if frame == nil {
		frame = make(map[int]theme.Color, len(colors))
		s.staged[deviceIndex] = frame
	}
	for _, kc := range colors {
		frame[kc.LEDID] = kc.Color
	}
	return nil
}

// Flush commits all staged colours.
func (s *Simulator) Flush(ctx context.Context) error {
	done := s.enter()
	defer done()

	if err := s.wait(ctx); err != nil {
		return newError(OpFlush, -1, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.flushes++
	if s.closed {
		return newError(OpFlush, -1, ErrClosed)
	}
	if s.failFlush > 0 {
		s.failFlush--
		s.staged = make(map[int]map[int]theme.Color)
		return newError(OpFlush, -1, errInjected)
	}

	for idx, frame := range s.staged {
		target := s.committed[idx]
		if target == nil {
			target = make(map[int]theme.Color, len(frame))
			s.committed[idx] = target
		}
		for id, c := range frame {
			target[id] = c
		}
	}
	s.staged = make(map[int]map[int]theme.Color)
	return nil
}

// Close marks the simulator closed. Safe to call multiple times.
func (s *Simulator) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Color returns the committed colour of one LED.
func (s *Simulator) Color(deviceIndex, ledID int) (theme.Color, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.committed[deviceIndex][ledID]
	return c, ok
}

// Frame returns a copy of the committed colours of a device keyed by LED id.
func (s *Simulator) Frame(deviceIndex int) map[int]theme.Color {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int]theme.Color, len(s.committed[deviceIndex]))
	for id, c := range s.committed[deviceIndex] {
		out[id] = c
	}
	return out
}

// Counts returns the number of WriteColors and Flush calls so far.
func (s *Simulator) Counts() (writes, flushes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes, s.flushes
}

// MaxInFlight returns the highest number of overlapping hardware calls seen.
func (s *Simulator) MaxInFlight() int {
	return int(s.maxInFlight.Load())
}

func (s *Simulator) enter() func() {
	n := s.inFlight.Add(1)
	for {
		prev := s.maxInFlight.Load()
		if n <= prev || s.maxInFlight.CompareAndSwap(prev, n) {
			break
		}
	}
	return func() { s.inFlight.Add(-1) }
}

func (s *Simulator) wait(ctx context.Context) error {
	s.mu.Lock()
	latency := s.latency
	s.mu.Unlock()

	if latency <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(latency)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
