package layout

import (
	"errors"
	"strconv"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/nerrad567/vimrgb-core/internal/hardware"
	"github.com/nerrad567/vimrgb-core/internal/theme"
)

// maxCachedModes bounds the cache against arbitrary mode names arriving
// from the editor. Layouts beyond the bound are resolved but not stored.
const maxCachedModes = 64

var (
	// ErrNotLoaded is returned by Get before the first Reload.
	ErrNotLoaded = errors.New("layout: no theme loaded")

	// ErrNoColor marks an LED that no theme entry colours.
	ErrNoColor = errors.New("layout: no colour resolves for LED")
)

// Logger is the logging interface used by the cache.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// snapshot is one generation of cache inputs and the layouts derived from
// them. compiled and devices never change after the snapshot is published.
type snapshot struct {
	gen      uint64
	compiled *theme.Theme
	devices  []hardware.Device

	mu      sync.RWMutex
	layouts map[string]Layout
}

// Cache memoizes Resolve per mode.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Concurrent misses for the same mode resolve once.
//   - Reload and InvalidateAll never block readers; a Get racing a Reload
//     returns a layout consistent with one generation or the other.
type Cache struct {
	current  atomic.Pointer[snapshot]
	gen      atomic.Uint64
	group    singleflight.Group
	resolves atomic.Int64

	logMu  sync.RWMutex
	logger Logger
}

// NewCache creates an empty cache. Get fails with ErrNotLoaded until Reload.
func NewCache() *Cache {
	c := &Cache{logger: noopLogger{}}
	c.current.Store(&snapshot{layouts: make(map[string]Layout)})
	return c
}

// SetLogger sets the logger used for unassigned-LED warnings.
func (c *Cache) SetLogger(logger Logger) {
	c.logMu.Lock()
	c.logger = logger
	c.logMu.Unlock()
}

func (c *Cache) getLogger() Logger {
	c.logMu.RLock()
	defer c.logMu.RUnlock()
	return c.logger
}

// Reload publishes a new compiled theme and device list and drops every
// cached layout.
func (c *Cache) Reload(compiled *theme.Theme, devices []hardware.Device) {
	c.publish(compiled, devices)
}

// InvalidateAll drops every cached layout, keeping the current inputs.
func (c *Cache) InvalidateAll() {
	cur := c.current.Load()
	c.publish(cur.compiled, cur.devices)
}

func (c *Cache) publish(compiled *theme.Theme, devices []hardware.Device) {
	c.current.Store(&snapshot{
		gen:      c.gen.Add(1),
		compiled: compiled,
		devices:  devices,
		layouts:  make(map[string]Layout),
	})
}

// Get returns the layout for mode, resolving and storing it on a miss.
func (c *Cache) Get(mode string) (Layout, error) {
	snap := c.current.Load()
	if snap.compiled == nil {
		return Layout{}, ErrNotLoaded
	}

	if l, ok := snap.lookup(mode); ok {
		return l, nil
	}

	key := strconv.FormatUint(snap.gen, 10) + "/" + mode
	v, _, _ := c.group.Do(key, func() (any, error) {
		if l, ok := snap.lookup(mode); ok {
			return l, nil
		}
		l := c.resolve(snap, mode)
		snap.store(mode, l)
		return l, nil
	})
	return v.(Layout), nil
}

// Warm resolves and stores the layouts for modes.
func (c *Cache) Warm(modes ...string) error {
	for _, mode := range modes {
		if _, err := c.Get(mode); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of cached layouts.
func (c *Cache) Len() int {
	snap := c.current.Load()
	snap.mu.RLock()
	defer snap.mu.RUnlock()
	return len(snap.layouts)
}

// Devices returns the device list of the current generation.
func (c *Cache) Devices() []hardware.Device {
	return c.current.Load().devices
}

// Theme returns the compiled theme of the current generation, or nil.
func (c *Cache) Theme() *theme.Theme {
	return c.current.Load().compiled
}

// Resolves returns how many times Resolve has run.
func (c *Cache) Resolves() int64 {
	return c.resolves.Load()
}

func (c *Cache) resolve(snap *snapshot, mode string) Layout {
	c.resolves.Add(1)
	l := Resolve(snap.compiled, mode, snap.devices)

	logger := c.getLogger()
	for _, u := range l.Unassigned {
		logger.Warn("LED left unlit",
			"device", u.DeviceIndex,
			"led", u.LEDID,
			"error", &theme.ConfigError{Mode: mode, Key: u.Key, Err: ErrNoColor},
		)
	}
	logger.Debug("layout resolved", "mode", mode, "leds", len(l.Assignments), "generation", snap.gen)
	return l
}

func (s *snapshot) lookup(mode string) (Layout, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.layouts[mode]
	return l, ok
}

func (s *snapshot) store(mode string, l Layout) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.layouts) < maxCachedModes {
		s.layouts[mode] = l
	}
}
