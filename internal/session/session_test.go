package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/vimrgb-core/internal/hardware"
	"github.com/nerrad567/vimrgb-core/internal/theme"
	"github.com/nerrad567/vimrgb-core/internal/updater"
)

var (
	white  = theme.RGB(255, 255, 255)
	green  = theme.RGB(0, 255, 0)
	red    = theme.RGB(255, 0, 0)
	orange = theme.RGB(255, 128, 0)
)

const themeYAML = `
default:
  default: "#ffffff"
insert:
  default: "#00ff00"
  movement: "#ff8000"
visual:
  default: "#ff0000"
groupings:
  movement: [h, j, k, l]
`

func testDevices() []hardware.Device {
	keys := []string{"a", "h", "j"}
	leds := make([]hardware.LED, len(keys))
	for i, k := range keys {
		leds[i] = hardware.LED{ID: i, Key: k, Capability: hardware.CapabilityColor}
	}
	return []hardware.Device{{Index: 0, Name: "keyboard", LEDs: leds}}
}

type fixture struct {
	sim     *hardware.Simulator
	session *Session
	results chan updater.Result

	mu       sync.Mutex
	yaml     string
	loadErr  error
	disconns int
}

func newFixture(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()

	f := &fixture{
		sim:     hardware.NewSimulator(testDevices()),
		results: make(chan updater.Result, 64),
		yaml:    themeYAML,
	}
	opts := Options{
		Controller:  f.sim,
		LoadTheme:   f.load,
		QueueSize:   8,
		Policy:      updater.PolicyCoalesce,
		InitialMode: "default",
		Aliases:     map[string]string{"i": "insert", "v": "visual", "^V": "visual"},
		OnDisconnect: func(error) {
			f.mu.Lock()
			f.disconns++
			f.mu.Unlock()
		},
	}
	if mutate != nil {
		mutate(&opts)
	}

	s, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	s.AddObserver(ObserverFunc(func(r updater.Result) { f.results <- r }))
	f.session = s
	return f
}

func (f *fixture) load() (*theme.Theme, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return theme.Parse([]byte(f.yaml))
}

func (f *fixture) setTheme(yaml string, err error) {
	f.mu.Lock()
	f.yaml, f.loadErr = yaml, err
	f.mu.Unlock()
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	if err := f.session.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(f.session.Stop)
}

func (f *fixture) next(t *testing.T) updater.Result {
	t.Helper()
	select {
	case r := <-f.results:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a result")
		return updater.Result{}
	}
}

func (f *fixture) expectColor(t *testing.T, led int, want theme.Color) {
	t.Helper()
	if got, _ := f.sim.Color(0, led); got != want {
		t.Errorf("LED %d = %v, want %v", led, got, want)
	}
}

func TestSession_StartAppliesInitialMode(t *testing.T) {
	f := newFixture(t, nil)
	f.start(t)

	r := f.next(t)
	if r.Mode != "default" || r.Outcome != updater.OutcomeApplied {
		t.Fatalf("result = %+v, want default applied", r)
	}
	for led := 0; led < 3; led++ {
		f.expectColor(t, led, white)
	}

	st := f.session.Status()
	if st.Devices != 1 || st.LEDs != 3 || st.CachedLayouts != 3 {
		t.Errorf("Status() = %+v", st)
	}
	if st.SessionID == "" || st.SessionID != f.session.ID() {
		t.Errorf("SessionID = %q", st.SessionID)
	}
}

func TestSession_ModeChangeUsesAliases(t *testing.T) {
	f := newFixture(t, nil)
	f.start(t)
	f.next(t)

	f.session.OnModeChanged("i")
	if r := f.next(t); r.Mode != "insert" {
		t.Fatalf("applied %q, want insert", r.Mode)
	}
	f.expectColor(t, 0, green)
	f.expectColor(t, 1, orange)
	f.expectColor(t, 2, orange)

	f.session.OnModeChanged("\x16")
	if r := f.next(t); r.Mode != "visual" {
		t.Fatalf("applied %q, want visual for blockwise visual", r.Mode)
	}
	f.expectColor(t, 1, red)

	if st := f.session.Status(); st.Mode != "visual" || st.LastApplied != "visual" {
		t.Errorf("Status() mode = %q, last = %q", st.Mode, st.LastApplied)
	}
}

func TestSession_UnknownModeFallsBackToDefault(t *testing.T) {
	f := newFixture(t, nil)
	f.start(t)
	f.next(t)

	f.session.OnModeChanged("operator-pending")
	r := f.next(t)
	if r.Outcome != updater.OutcomeApplied {
		t.Fatalf("result = %+v, want applied", r)
	}
	f.expectColor(t, 0, white)
}

func TestSession_IgnoresBlankMode(t *testing.T) {
	f := newFixture(t, nil)
	f.start(t)
	f.next(t)

	f.session.OnModeChanged("   ")
	select {
	case r := <-f.results:
		t.Errorf("blank mode produced %+v", r)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSession_ReloadReappliesCurrentMode(t *testing.T) {
	f := newFixture(t, nil)
	f.start(t)
	f.next(t)

	f.session.OnModeChanged("insert")
	f.next(t)

	f.setTheme(`
default:
  default: "#ffffff"
insert:
  default: "#ff0000"
`, nil)
	if err := f.session.Reload(context.Background()); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}

	if r := f.next(t); r.Mode != "insert" {
		t.Fatalf("re-applied %q, want insert", r.Mode)
	}
	for led := 0; led < 3; led++ {
		f.expectColor(t, led, red)
	}
	if got := f.session.Modes(); len(got) != 2 {
		t.Errorf("Modes() = %v, want 2 modes", got)
	}
}

func TestSession_ReloadErrorKeepsPreviousTheme(t *testing.T) {
	f := newFixture(t, nil)
	f.start(t)
	f.next(t)

	loadErr := errors.New("disk gone")
	f.setTheme("", loadErr)
	if err := f.session.Reload(context.Background()); !errors.Is(err, loadErr) {
		t.Fatalf("Reload() error = %v, want %v", err, loadErr)
	}

	l, err := f.session.Layout("insert")
	if err != nil {
		t.Fatalf("Layout() error = %v", err)
	}
	if l.Assignments[0].Color != green {
		t.Errorf("insert layout colour = %v, want previous theme %v", l.Assignments[0].Color, green)
	}
}

func TestSession_ReloadPicksUpNewDevices(t *testing.T) {
	f := newFixture(t, nil)
	f.start(t)
	f.next(t)

	devices := testDevices()
	devices[0].LEDs = append(devices[0].LEDs, hardware.LED{ID: 3, Key: "k", Capability: hardware.CapabilityColor})
	f.sim.SetDevices(devices)

	if err := f.session.Reload(context.Background()); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	f.next(t)

	if st := f.session.Status(); st.LEDs != 4 {
		t.Errorf("LEDs = %d, want 4", st.LEDs)
	}
	l, _ := f.session.Layout("i")
	if got := l.Assignments[3].Color; got != orange {
		t.Errorf("new LED colour = %v, want %v", got, orange)
	}
}

func TestSession_WarningsReported(t *testing.T) {
	f := newFixture(t, nil)
	f.setTheme(`
insert:
  default: "#00ff00"
groupings:
  movement: [h, nosuchkey]
`, nil)
	f.start(t)

	st := f.session.Status()
	if len(st.Warnings) < 2 {
		t.Errorf("Warnings = %v, want missing default and unknown key", st.Warnings)
	}
}

func TestSession_DisconnectAndRecover(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.MaxConsecutiveFailures = 1
	})
	f.start(t)
	f.next(t)

	f.sim.FailNextWrites(1)
	f.session.OnModeChanged("insert")
	if r := f.next(t); r.Outcome != updater.OutcomeFailed {
		t.Fatalf("result = %+v, want failed", r)
	}

	deadline := time.Now().Add(2 * time.Second)
	for f.session.Status().Connected {
		if time.Now().After(deadline) {
			t.Fatal("session still connected after failure")
		}
		time.Sleep(time.Millisecond)
	}
	f.mu.Lock()
	if f.disconns != 1 {
		t.Errorf("OnDisconnect calls = %d, want 1", f.disconns)
	}
	f.mu.Unlock()

	if err := f.session.Reload(context.Background()); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if r := f.next(t); r.Mode != "insert" || r.Outcome != updater.OutcomeApplied {
		t.Errorf("result after reload = %+v, want insert applied", r)
	}
	if st := f.session.Status(); !st.Connected || st.State == "stopped" {
		t.Errorf("Status() after reload = %+v", st)
	}
}

func TestSession_Lifecycle(t *testing.T) {
	if _, err := New(Options{}); !errors.Is(err, ErrMissingDependency) {
		t.Errorf("New() error = %v, want ErrMissingDependency", err)
	}

	f := newFixture(t, nil)
	if err := f.session.Reload(context.Background()); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Reload() before Start error = %v, want ErrNotStarted", err)
	}

	f.start(t)
	if err := f.session.Start(context.Background()); !errors.Is(err, updater.ErrAlreadyRunning) {
		t.Errorf("second Start() error = %v, want ErrAlreadyRunning", err)
	}
}

func TestSession_StartFailsOnBadTheme(t *testing.T) {
	f := newFixture(t, nil)
	f.setTheme("", errors.New("missing"))

	if err := f.session.Start(context.Background()); err == nil {
		t.Fatal("Start() succeeded without a theme")
	}
	f.setTheme(themeYAML, nil)
	f.start(t)
}
