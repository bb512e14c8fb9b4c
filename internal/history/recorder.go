package history

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/vimrgb-core/internal/updater"
)

const (
	recorderBuffer = 256
	writeTimeout   = 2 * time.Second
	pruneInterval  = time.Hour
)

// Logger is the logging interface used by the recorder.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Recorder writes session results to a Repository in the background.
type Recorder struct {
	repo      Repository
	sessionID string
	retention time.Duration
	logger    Logger

	entries chan Entry
	dropped atomic.Uint64

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewRecorder creates a recorder for one session. A retention of zero
// keeps history forever.
func NewRecorder(repo Repository, sessionID string, retention time.Duration) *Recorder {
	return &Recorder{
		repo:      repo,
		sessionID: sessionID,
		retention: retention,
		logger:    noopLogger{},
		entries:   make(chan Entry, recorderBuffer),
	}
}

// SetLogger sets the logger. Call before Start.
func (r *Recorder) SetLogger(logger Logger) {
	r.logger = logger
}

// LayoutApplied queues res for writing. It never blocks.
func (r *Recorder) LayoutApplied(res updater.Result) {
	e := Entry{
		SessionID: r.sessionID,
		Mode:      res.Mode,
		Outcome:   string(res.Outcome),
		LEDs:      res.LEDs,
		Attempts:  res.Attempts,
		QueueWait: res.QueueWait,
		Duration:  res.Duration,
		AppliedAt: res.At,
	}
	if res.Err != nil {
		e.Error = res.Err.Error()
	}

	select {
	case r.entries <- e:
	default:
		r.dropped.Add(1)
	}
}

// Dropped returns how many entries were discarded because the buffer was
// full.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

// Start launches the writer goroutine and prunes once immediately. The
// writer keeps recording after ctx is cancelled, since the session still
// reports its last results while shutting down; Stop ends it.
func (r *Recorder) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})

	go r.run(ctx, r.stopCh, r.doneCh)
}

// Stop writes any buffered entries and stops the writer.
func (r *Recorder) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stopCh)
	done := r.doneCh
	r.mu.Unlock()

	<-done
}

func (r *Recorder) run(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	r.prune(ctx)
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	ctxDone := ctx.Done()
	for {
		select {
		case e := <-r.entries:
			r.write(ctx, e)
		case <-ticker.C:
			r.prune(ctx)
		case <-stop:
			r.drain(ctx)
			return
		case <-ctxDone:
			r.drain(ctx)
			ctxDone = nil
		}
	}
}

func (r *Recorder) drain(ctx context.Context) {
	for {
		select {
		case e := <-r.entries:
			r.write(ctx, e)
		default:
			return
		}
	}
}

func (r *Recorder) write(ctx context.Context, e Entry) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	if err := r.repo.Record(wctx, &e); err != nil {
		r.logger.Warn("failed to record layout history", "mode", e.Mode, "error", err)
	}
}

func (r *Recorder) prune(ctx context.Context) {
	if r.retention <= 0 || ctx.Err() != nil {
		return
	}
	pctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	n, err := r.repo.Prune(pctx, time.Now().Add(-r.retention))
	if err != nil {
		r.logger.Warn("failed to prune layout history", "error", err)
		return
	}
	if n > 0 {
		r.logger.Debug("pruned layout history", "rows", n)
	}
}
