package editor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/vimrgb-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/vimrgb-core/internal/session"
	"github.com/nerrad567/vimrgb-core/internal/updater"
)

const (
	subscribeQoS  = 1
	eventBuffer   = 64
	reloadTimeout = 10 * time.Second
	maxModeLength = 64
)

// ErrInvalidEvent is returned for mode payloads that carry no mode.
var ErrInvalidEvent = errors.New("editor: invalid mode event")

// Broker is the MQTT surface used by the bridge. Satisfied by *mqtt.Client.
type Broker interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Session is the part of session.Session the bridge drives.
type Session interface {
	OnModeChanged(mode string)
	Reload(ctx context.Context) error
	Status() session.Status
}

// Logger is the logging interface used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// ModeEvent is the JSON form of a mode change.
type ModeEvent struct {
	Mode     string `json:"mode"`
	Previous string `json:"previous,omitempty"`
}

// AppliedEvent is published for every handled layout request.
type AppliedEvent struct {
	SessionID  string    `json:"session_id"`
	Mode       string    `json:"mode"`
	Outcome    string    `json:"outcome"`
	LEDs       int       `json:"leds"`
	Attempts   int       `json:"attempts"`
	DurationMS float64   `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	At         time.Time `json:"at"`
}

// Bridge relays editor events into the session and results back out.
type Bridge struct {
	broker  Broker
	session Session
	logger  Logger
	qos     byte
	topics  mqtt.Topics

	events  chan updater.Result
	dropped atomic.Uint64

	// reloads holds at most one pending reload request; requests arriving
	// while one is pending are folded into it.
	reloads chan struct{}

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewBridge creates a bridge publishing at qos.
func NewBridge(broker Broker, s Session, qos byte) *Bridge {
	return &Bridge{
		broker:  broker,
		session: s,
		logger:  noopLogger{},
		qos:     qos,
		events:  make(chan updater.Result, eventBuffer),
		reloads: make(chan struct{}, 1),
	}
}

// SetLogger sets the logger. Call before Start.
func (b *Bridge) SetLogger(logger Logger) {
	b.logger = logger
}

// Start subscribes to the editor topics and starts the publisher and the
// reload worker. Message handlers only hand work to these goroutines, so
// the MQTT client's delivery is never held up by a reload.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return nil
	}

	if err := b.broker.Subscribe(b.topics.EditorMode(), subscribeQoS, b.handleMode); err != nil {
		return fmt.Errorf("subscribing to editor mode: %w", err)
	}
	if err := b.broker.Subscribe(b.topics.EditorReload(), subscribeQoS, b.handleReload); err != nil {
		return fmt.Errorf("subscribing to editor reload: %w", err)
	}

	b.running = true
	b.stopCh = make(chan struct{})
	b.wg.Add(2)
	go b.publishLoop(b.stopCh)
	go b.reloadLoop(ctx, b.stopCh)

	b.publishStatus()
	return nil
}

// Stop stops the publisher after sending what is buffered. A reload in
// progress is allowed to finish; a pending one is abandoned.
func (b *Bridge) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	close(b.stopCh)
	b.mu.Unlock()

	b.wg.Wait()
}

// LayoutApplied queues res for publishing. It never blocks; when the
// buffer is full the result is dropped.
func (b *Bridge) LayoutApplied(res updater.Result) {
	select {
	case b.events <- res:
	default:
		b.dropped.Add(1)
	}
}

// ParseModeEvent decodes a mode payload, accepting plain text or JSON.
func ParseModeEvent(payload []byte) (ModeEvent, error) {
	text := strings.TrimSpace(string(payload))

	var ev ModeEvent
	if strings.HasPrefix(text, "{") {
		if err := json.Unmarshal([]byte(text), &ev); err != nil {
			return ModeEvent{}, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
		}
	} else {
		ev.Mode = text
	}

	ev.Mode = strings.TrimSpace(ev.Mode)
	if ev.Mode == "" {
		return ModeEvent{}, fmt.Errorf("%w: empty mode", ErrInvalidEvent)
	}
	if len(ev.Mode) > maxModeLength {
		return ModeEvent{}, fmt.Errorf("%w: mode longer than %d bytes", ErrInvalidEvent, maxModeLength)
	}
	return ev, nil
}

func (b *Bridge) handleMode(_ string, payload []byte) error {
	ev, err := ParseModeEvent(payload)
	if err != nil {
		return err
	}
	b.logger.Debug("editor mode", "mode", ev.Mode, "previous", ev.Previous)
	b.session.OnModeChanged(ev.Mode)
	return nil
}

func (b *Bridge) handleReload(_ string, _ []byte) error {
	select {
	case b.reloads <- struct{}{}:
		b.logger.Debug("editor reload queued")
	default:
		b.logger.Debug("editor reload already pending")
	}
	return nil
}

func (b *Bridge) reloadLoop(ctx context.Context, stop <-chan struct{}) {
	defer b.wg.Done()
	for {
		select {
		case <-b.reloads:
			b.reload(ctx)
		case <-stop:
			return
		}
	}
}

func (b *Bridge) reload(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, reloadTimeout)
	defer cancel()

	if err := b.session.Reload(ctx); err != nil {
		b.logger.Warn("editor reload failed, keeping previous theme", "error", err)
		return
	}
	b.publishStatus()
}

func (b *Bridge) publishLoop(stop <-chan struct{}) {
	defer b.wg.Done()
	for {
		select {
		case res := <-b.events:
			b.publishResult(res)
		case <-stop:
			for {
				select {
				case res := <-b.events:
					b.publishResult(res)
				default:
					return
				}
			}
		}
	}
}

func (b *Bridge) publishResult(res updater.Result) {
	st := b.session.Status()

	ev := AppliedEvent{
		SessionID:  st.SessionID,
		Mode:       res.Mode,
		Outcome:    string(res.Outcome),
		LEDs:       res.LEDs,
		Attempts:   res.Attempts,
		DurationMS: float64(res.Duration) / float64(time.Millisecond),
		At:         res.At,
	}
	if res.Err != nil {
		ev.Error = res.Err.Error()
	}

	b.publishJSON(b.topics.LayoutApplied(), ev, false)
	b.publishJSON(b.topics.SessionStatus(), st, true)
}

func (b *Bridge) publishStatus() {
	b.publishJSON(b.topics.SessionStatus(), b.session.Status(), true)
}

func (b *Bridge) publishJSON(topic string, v any, retained bool) {
	data, err := json.Marshal(v)
	if err != nil {
		b.logger.Warn("encoding editor message", "topic", topic, "error", err)
		return
	}
	if err := b.broker.Publish(topic, data, b.qos, retained); err != nil {
		b.logger.Warn("publishing editor message", "topic", topic, "error", err)
	}
}

// Dropped returns how many results were not published because the buffer
// was full.
func (b *Bridge) Dropped() uint64 {
	return b.dropped.Load()
}
