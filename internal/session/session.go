package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/vimrgb-core/internal/hardware"
	"github.com/nerrad567/vimrgb-core/internal/layout"
	"github.com/nerrad567/vimrgb-core/internal/theme"
	"github.com/nerrad567/vimrgb-core/internal/updater"
)

// ctrlV is what editors report for blockwise visual mode.
const ctrlV = "\x16"

var (
	// ErrMissingDependency is returned by New when a required option is nil.
	ErrMissingDependency = errors.New("session: missing dependency")

	// ErrNotStarted is returned by Reload before Start.
	ErrNotStarted = errors.New("session: not started")
)

// Logger is the logging interface used by the session.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Observer is told about every handled mode change.
// LayoutApplied runs on the updater goroutine and must not block.
type Observer interface {
	LayoutApplied(res updater.Result)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(res updater.Result)

// LayoutApplied calls f.
func (f ObserverFunc) LayoutApplied(res updater.Result) { f(res) }

// Options configures a Session.
type Options struct {
	// Controller drives the keyboards. Required.
	Controller hardware.Controller

	// LoadTheme returns the raw theme. Required. Called on Start and on
	// every Reload.
	LoadTheme func() (*theme.Theme, error)

	Logger Logger

	QueueSize              int
	Policy                 updater.Policy
	WriteTimeout           time.Duration
	RetryOnce              bool
	MaxConsecutiveFailures int

	// Aliases maps raw editor mode codes to theme mode names.
	Aliases map[string]string

	// InitialMode is applied on Start and after each reload until the
	// editor reports a mode.
	InitialMode string

	// OnDisconnect is called when the hardware stops responding.
	OnDisconnect func(error)
}

// Status is a point-in-time view of the session.
type Status struct {
	SessionID     string             `json:"session_id"`
	Mode          string             `json:"mode"`
	State         string             `json:"state"`
	Connected     bool               `json:"connected"`
	LastApplied   string             `json:"last_applied,omitempty"`
	LastOutcome   string             `json:"last_outcome,omitempty"`
	LastError     string             `json:"last_error,omitempty"`
	LastAt        *time.Time         `json:"last_at,omitempty"`
	Devices       int                `json:"devices"`
	LEDs          int                `json:"leds"`
	Modes         []string           `json:"modes"`
	CachedLayouts int                `json:"cached_layouts"`
	QueueLength   int                `json:"queue_length"`
	Queue         updater.QueueStats `json:"queue"`
	Applied       uint64             `json:"applied"`
	Failed        uint64             `json:"failed"`
	Skipped       uint64             `json:"skipped"`
	Warnings      []string           `json:"warnings,omitempty"`
	ThemeLoadedAt *time.Time         `json:"theme_loaded_at,omitempty"`
}

// Session owns the queue, cache, updater and hardware controller for one
// run of the service. Create it with New, Start it once, Stop it on
// shutdown.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Reloads are serialised.
type Session struct {
	id      string
	opts    Options
	logger  Logger
	cache   *layout.Cache
	queue   *updater.Queue
	updater *updater.Updater

	reloadMu sync.Mutex

	mu        sync.RWMutex
	runCtx    context.Context
	started   bool
	mode      string
	last      *updater.Result
	connected bool
	warnings  []string
	loadedAt  time.Time
	observers []Observer
}

// New creates a session. Nothing is loaded or written until Start.
//
// Parameters:
//   - opts: Controller and LoadTheme are required
//
// Returns:
//   - *Session: Ready to Start
//   - error: ErrMissingDependency if a required option is missing
func New(opts Options) (*Session, error) {
	if opts.Controller == nil || opts.LoadTheme == nil {
		return nil, fmt.Errorf("%w: controller and theme loader are required", ErrMissingDependency)
	}

	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	s := &Session{
		id:     uuid.NewString(),
		opts:   opts,
		logger: logger,
		cache:  layout.NewCache(),
		queue:  updater.NewQueue(opts.QueueSize, opts.Policy),
	}
	s.cache.SetLogger(logger)

	upd, err := updater.New(updater.Options{
		Queue:                  s.queue,
		Layouts:                s.cache,
		Writer:                 opts.Controller,
		Logger:                 logger,
		WriteTimeout:           opts.WriteTimeout,
		RetryOnce:              opts.RetryOnce,
		MaxConsecutiveFailures: opts.MaxConsecutiveFailures,
		OnResult:               s.handleResult,
		OnDisconnect:           s.handleDisconnect,
	})
	if err != nil {
		return nil, err
	}
	s.updater = upd
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// AddObserver registers o for every subsequent result.
func (s *Session) AddObserver(o Observer) {
	s.mu.Lock()
	s.observers = append(s.observers, o)
	s.mu.Unlock()
}

// Start loads the theme, caches every mode's layout, starts the updater
// and queues the initial mode.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return updater.ErrAlreadyRunning
	}
	s.started = true
	s.runCtx = ctx
	s.mu.Unlock()

	if err := s.Reload(ctx); err != nil {
		s.mu.Lock()
		s.started = false
		s.mu.Unlock()
		return err
	}

	s.logger.Info("session started", "session_id", s.id)
	return nil
}

// Reload re-reads the theme, re-enumerates devices, rebuilds the cache and
// re-applies the current mode. If the updater stopped after repeated
// hardware failures it is restarted.
//
// On error the previous theme and layouts stay in effect.
func (s *Session) Reload(ctx context.Context) error {
	s.mu.RLock()
	started, runCtx := s.started, s.runCtx
	s.mu.RUnlock()
	if !started {
		return ErrNotStarted
	}

	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	raw, err := s.opts.LoadTheme()
	if err != nil {
		return fmt.Errorf("loading theme: %w", err)
	}

	devices, err := s.opts.Controller.ListDevices(ctx)
	if err != nil {
		return fmt.Errorf("listing devices: %w", err)
	}

	var known map[string]bool
	if len(devices) > 0 {
		known = hardware.KnownKeys(devices)
	}
	compiled, compileWarnings := theme.Compile(raw, theme.CompileOptions{KnownKeys: known})
	warnings := append(theme.Validate(raw), compileWarnings...)

	messages := make([]string, 0, len(warnings))
	for _, w := range warnings {
		s.logger.Warn("theme problem", "error", w)
		messages = append(messages, w.Error())
	}

	s.cache.Reload(compiled, devices)
	if err := s.cache.Warm(compiled.ModeNames()...); err != nil {
		return fmt.Errorf("caching layouts: %w", err)
	}

	if !s.updater.Running() {
		if err := s.updater.Start(runCtx); err != nil && !errors.Is(err, updater.ErrAlreadyRunning) {
			return fmt.Errorf("starting updater: %w", err)
		}
	}

	s.mu.Lock()
	s.warnings = messages
	s.loadedAt = time.Now().UTC()
	s.connected = true
	mode := s.mode
	if mode == "" {
		mode = s.normalize(s.opts.InitialMode)
		s.mode = mode
	}
	s.mu.Unlock()

	s.logger.Info("theme loaded",
		"modes", len(compiled.Modes),
		"devices", len(devices),
		"leds", hardware.LEDCount(devices),
		"warnings", len(messages),
	)

	if mode != "" {
		s.queue.Push(mode)
	}
	return nil
}

// OnModeChanged records a mode change and queues its layout. It never
// blocks. Editor mode codes are translated through the configured aliases.
func (s *Session) OnModeChanged(mode string) {
	mode = s.normalize(mode)
	if mode == "" {
		return
	}

	s.mu.Lock()
	s.mode = mode
	s.mu.Unlock()

	if dropped := s.queue.Push(mode); dropped {
		s.logger.Debug("update queue full, dropped oldest request", "mode", mode)
	}
	s.logger.Debug("mode changed", "mode", mode)
}

// Stop stops the updater, letting an in-flight write finish. The
// controller is owned by the caller.
func (s *Session) Stop() {
	s.updater.Stop()

	s.mu.Lock()
	s.started = false
	s.mu.Unlock()

	s.logger.Info("session stopped", "session_id", s.id)
}

// Layout returns the cached layout for mode.
func (s *Session) Layout(mode string) (layout.Layout, error) {
	return s.cache.Get(s.normalize(mode))
}

// Modes returns the modes defined by the current theme.
func (s *Session) Modes() []string {
	t := s.cache.Theme()
	if t == nil {
		return nil
	}
	return t.ModeNames()
}

// Devices returns the devices of the current generation.
func (s *Session) Devices() []hardware.Device {
	return s.cache.Devices()
}

// Status returns a snapshot of the session.
func (s *Session) Status() Status {
	devices := s.cache.Devices()
	applied, failed, skipped := s.updater.Counts()

	st := Status{
		SessionID:     s.id,
		State:         s.updater.State().String(),
		Devices:       len(devices),
		LEDs:          hardware.LEDCount(devices),
		Modes:         s.Modes(),
		CachedLayouts: s.cache.Len(),
		QueueLength:   s.queue.Len(),
		Queue:         s.queue.Stats(),
		Applied:       applied,
		Failed:        failed,
		Skipped:       skipped,
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	st.Mode = s.mode
	st.Connected = s.connected
	st.Warnings = append([]string(nil), s.warnings...)
	if !s.loadedAt.IsZero() {
		at := s.loadedAt
		st.ThemeLoadedAt = &at
	}
	if s.last != nil {
		st.LastApplied = s.last.Mode
		st.LastOutcome = string(s.last.Outcome)
		at := s.last.At
		st.LastAt = &at
		if s.last.Err != nil {
			st.LastError = s.last.Err.Error()
		}
	}
	return st
}

func (s *Session) normalize(mode string) string {
	mode = strings.TrimSpace(mode)
	if mode == ctrlV {
		mode = "^V"
	}
	if alias, ok := s.opts.Aliases[mode]; ok {
		return alias
	}
	return mode
}

func (s *Session) handleResult(res updater.Result) {
	s.mu.Lock()
	r := res
	s.last = &r
	if res.Outcome == updater.OutcomeApplied {
		s.connected = true
	}
	observers := s.observers
	s.mu.Unlock()

	for _, o := range observers {
		o.LayoutApplied(res)
	}
}

func (s *Session) handleDisconnect(err error) {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()

	s.logger.Error("keyboard disconnected", "error", err)
	if s.opts.OnDisconnect != nil {
		s.opts.OnDisconnect(err)
	}
}
