package updater

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/vimrgb-core/internal/hardware"
	"github.com/nerrad567/vimrgb-core/internal/layout"
)

// State is the consumer loop state.
type State int32

const (
	// StateIdle waits for a request.
	StateIdle State = iota
	// StateDraining is taking requests from the queue.
	StateDraining
	// StateWriting has the gate closed while a layout is written.
	StateWriting
	// StateStopped is not consuming.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDraining:
		return "draining"
	case StateWriting:
		return "writing"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Outcome is the fate of one request.
type Outcome string

const (
	// OutcomeApplied means the layout was written and flushed.
	OutcomeApplied Outcome = "applied"
	// OutcomeFailed means the hardware rejected the layout.
	OutcomeFailed Outcome = "failed"
	// OutcomeSkipped means no layout was available for the mode.
	OutcomeSkipped Outcome = "skipped"
)

// Result describes how one request was handled.
type Result struct {
	Mode      string
	Outcome   Outcome
	LEDs      int
	Attempts  int
	QueueWait time.Duration
	Duration  time.Duration
	Err       error
	At        time.Time
}

// LayoutSource provides resolved layouts. Satisfied by *layout.Cache.
type LayoutSource interface {
	Get(mode string) (layout.Layout, error)
}

// Writer is the hardware surface used by the updater.
// Satisfied by hardware.Controller.
type Writer interface {
	WriteColors(ctx context.Context, deviceIndex int, colors []hardware.KeyColor) error
	Flush(ctx context.Context) error
}

// Logger is the logging interface used by the updater.
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

// Options configures an Updater.
type Options struct {
	Queue   *Queue
	Layouts LayoutSource
	Writer  Writer
	Logger  Logger

	// WriteTimeout bounds one write+flush attempt. Zero means no bound.
	WriteTimeout time.Duration

	// RetryOnce retries a failed write+flush once before giving up.
	RetryOnce bool

	// MaxConsecutiveFailures stops the loop after this many failed requests
	// in a row. Zero disables the limit.
	MaxConsecutiveFailures int

	// OnResult is called on the consumer goroutine after each request,
	// once the gate has been reopened. It must not block.
	OnResult func(Result)

	// OnDisconnect is called when the failure limit stops the loop.
	OnDisconnect func(error)
}

// Updater is the single consumer of the update queue.
//
// It takes one request at a time, looks up its layout, writes it to the
// hardware and reopens the gate. Hardware calls are only ever made from
// the consumer goroutine, so writes never overlap.
type Updater struct {
	opts   Options
	logger Logger
	state  atomic.Int32

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	// Only touched by the consumer goroutine.
	failures int

	applied atomic.Uint64
	failed  atomic.Uint64
	skipped atomic.Uint64
}

// New creates an updater. It does not start consuming.
//
// Parameters:
//   - opts: Queue, Layouts and Writer are required
//
// Returns:
//   - *Updater: Stopped updater
//   - error: ErrMissingDependency if a required option is nil
func New(opts Options) (*Updater, error) {
	if opts.Queue == nil || opts.Layouts == nil || opts.Writer == nil {
		return nil, fmt.Errorf("%w: queue, layouts and writer are required", ErrMissingDependency)
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	u := &Updater{opts: opts, logger: logger}
	u.state.Store(int32(StateStopped))
	return u, nil
}

// Start launches the consumer goroutine.
//
// A second Start while running logs a warning and returns
// ErrAlreadyRunning; no second consumer is created. Cancelling ctx stops
// the loop like Stop does, except that it does not wait.
func (u *Updater) Start(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.running {
		u.logger.Warn("layout updater already running")
		return ErrAlreadyRunning
	}

	u.running = true
	u.stopCh = make(chan struct{})
	u.doneCh = make(chan struct{})
	u.failures = 0
	u.state.Store(int32(StateIdle))
	u.opts.Queue.OpenGate()

	go u.loop(ctx, u.stopCh, u.doneCh)

	u.logger.Info("layout updater started", "policy", u.opts.Queue.Policy().String())
	return nil
}

// Stop stops the consumer and waits for it to exit. A write in progress
// completes first. Pending requests are discarded. Safe to call when not
// running.
func (u *Updater) Stop() {
	u.mu.Lock()
	if !u.running {
		u.mu.Unlock()
		return
	}
	close(u.stopCh)
	done := u.doneCh
	u.mu.Unlock()

	<-done
	u.finish(done)
	u.logger.Info("layout updater stopped")
}

// State returns the current loop state.
func (u *Updater) State() State {
	return State(u.state.Load())
}

// Running reports whether the consumer goroutine is active.
func (u *Updater) Running() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.running
}

// Counts returns the number of applied, failed and skipped requests.
func (u *Updater) Counts() (applied, failed, skipped uint64) {
	return u.applied.Load(), u.failed.Load(), u.skipped.Load()
}

// finish marks the run that owns done as stopped. A newer run started in
// the meantime is left alone.
func (u *Updater) finish(done chan struct{}) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.doneCh == done {
		u.running = false
		u.opts.Queue.Clear()
		u.state.Store(int32(StateStopped))
	}
}

func (u *Updater) loop(ctx context.Context, stop <-chan struct{}, done chan struct{}) {
	defer close(done)

	q := u.opts.Queue
	for {
		u.state.Store(int32(StateIdle))

		select {
		case <-stop:
			return
		case <-ctx.Done():
			u.finish(done)
			return
		case <-q.Notify():
		}

		u.state.Store(int32(StateDraining))
		for {
			req, ok := q.TryPop()
			if !ok {
				break
			}

			res := u.apply(ctx, req)
			q.OpenGate()
			u.report(res)

			if res.Outcome == OutcomeFailed && u.tripped() {
				u.logger.Error("hardware unresponsive, stopping layout updater",
					"consecutive_failures", u.failures,
					"error", res.Err,
				)
				u.finish(done)
				if u.opts.OnDisconnect != nil {
					u.opts.OnDisconnect(res.Err)
				}
				return
			}

			select {
			case <-stop:
				return
			case <-ctx.Done():
				u.finish(done)
				return
			default:
			}
		}
	}
}

// apply writes the layout for req. The gate is closed for its duration.
func (u *Updater) apply(ctx context.Context, req Request) Result {
	u.state.Store(int32(StateWriting))
	start := time.Now()
	res := Result{Mode: req.Mode, QueueWait: start.Sub(req.EnqueuedAt)}

	l, err := u.opts.Layouts.Get(req.Mode)
	if err != nil {
		res.Outcome = OutcomeSkipped
		res.Err = err
		res.At = time.Now()
		res.Duration = res.At.Sub(start)
		return res
	}
	res.LEDs = len(l.Assignments)

	attempts := 1
	if u.opts.RetryOnce {
		attempts = 2
	}
	for res.Attempts = 1; ; res.Attempts++ {
		err = u.write(ctx, l)
		if err == nil || res.Attempts >= attempts {
			break
		}
		u.logger.Debug("retrying layout write", "mode", req.Mode, "error", err)
	}

	res.Outcome = OutcomeApplied
	if err != nil {
		res.Outcome = OutcomeFailed
		res.Err = err
	}
	res.At = time.Now()
	res.Duration = res.At.Sub(start)
	return res
}

// write stages every device batch and flushes. The write context is not
// cancelled by Stop so an in-flight write is never torn.
func (u *Updater) write(ctx context.Context, l layout.Layout) error {
	wctx := context.WithoutCancel(ctx)
	if u.opts.WriteTimeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(wctx, u.opts.WriteTimeout)
		defer cancel()
	}

	for _, batch := range l.ByDevice() {
		if err := u.opts.Writer.WriteColors(wctx, batch.DeviceIndex, batch.Colors); err != nil {
			return err
		}
	}
	return u.opts.Writer.Flush(wctx)
}

func (u *Updater) report(res Result) {
	switch res.Outcome {
	case OutcomeApplied:
		u.failures = 0
		u.applied.Add(1)
		u.logger.Debug("layout applied",
			"mode", res.Mode,
			"leds", res.LEDs,
			"duration", res.Duration,
		)
	case OutcomeFailed:
		u.failures++
		u.failed.Add(1)
		u.logger.Warn("layout write failed",
			"mode", res.Mode,
			"attempts", res.Attempts,
			"error", res.Err,
		)
	case OutcomeSkipped:
		u.skipped.Add(1)
		u.logger.Warn("no layout for mode", "mode", res.Mode, "error", res.Err)
	}

	if u.opts.OnResult != nil {
		u.opts.OnResult(res)
	}
}

func (u *Updater) tripped() bool {
	return u.opts.MaxConsecutiveFailures > 0 && u.failures >= u.opts.MaxConsecutiveFailures
}
