package influxdb

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/vimrgb-core/internal/infrastructure/config"
	"github.com/nerrad567/vimrgb-core/internal/updater"
)

// fakeInflux answers /ping and records line protocol posted to /api/v2/write.
type fakeInflux struct {
	mu     sync.Mutex
	lines  []string
	status int
}

func (f *fakeInflux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/ping":
		w.WriteHeader(http.StatusNoContent)
	case "/api/v2/write":
		body, _ := io.ReadAll(r.Body) //nolint:errcheck // test server
		f.mu.Lock()
		f.lines = append(f.lines, strings.Split(strings.TrimSpace(string(body)), "\n")...)
		status := f.status
		f.mu.Unlock()
		if status == 0 {
			status = http.StatusNoContent
		}
		w.WriteHeader(status)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeInflux) written() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...)
}

func testConfig(url string) config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           url,
		Token:         "test-token",
		Org:           "vimrgb",
		Bucket:        "layouts",
		BatchSize:     10,
		FlushInterval: 1,
	}
}

func TestConnect(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		cfg := testConfig("http://127.0.0.1:1")
		cfg.Enabled = false
		if _, err := Connect(cfg); !errors.Is(err, ErrDisabled) {
			t.Errorf("Connect() error = %v, want ErrDisabled", err)
		}
	})

	t.Run("unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		if _, err := Connect(testConfig(url)); !errors.Is(err, ErrConnectionFailed) {
			t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
		}
	})

	t.Run("healthy", func(t *testing.T) {
		srv := httptest.NewServer(&fakeInflux{})
		defer srv.Close()

		c, err := Connect(testConfig(srv.URL))
		if err != nil {
			t.Fatalf("Connect() error = %v", err)
		}
		defer c.Close() //nolint:errcheck // test cleanup

		if !c.IsConnected() {
			t.Error("IsConnected() = false")
		}
		if err := c.HealthCheck(context.Background()); err != nil {
			t.Errorf("HealthCheck() error = %v", err)
		}
	})
}

func TestLayoutApplied_WritesPoint(t *testing.T) {
	fake := &fakeInflux{}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	c, err := Connect(testConfig(srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	c.LayoutApplied(updater.Result{
		Mode:     "insert",
		Outcome:  updater.OutcomeApplied,
		LEDs:     104,
		Attempts: 1,
		Duration: 4 * time.Millisecond,
		At:       time.Now(),
	})
	c.WriteQueueStats(updater.QueueStats{Pushed: 5, Coalesced: 2}, 1)
	c.Flush()
	c.Close() //nolint:errcheck // flushes

	lines := fake.written()
	if len(lines) != 2 {
		t.Fatalf("wrote %d lines, want 2: %v", len(lines), lines)
	}
	if !strings.HasPrefix(lines[0], "layout_apply,mode=insert,outcome=applied ") {
		t.Errorf("line = %q", lines[0])
	}
	if !strings.Contains(lines[0], "leds=104i") {
		t.Errorf("line %q missing leds field", lines[0])
	}
	if !strings.HasPrefix(lines[1], "update_queue ") {
		t.Errorf("line = %q", lines[1])
	}

	if c.IsConnected() {
		t.Error("IsConnected() after Close")
	}
	c.LayoutApplied(updater.Result{Mode: "normal"})
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() after Close = %v", err)
	}
}

func TestWriteErrorsReported(t *testing.T) {
	fake := &fakeInflux{status: http.StatusBadRequest}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	cfg := testConfig(srv.URL)
	c, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Close() //nolint:errcheck // test cleanup

	errs := make(chan error, 4)
	c.SetOnError(func(err error) { errs <- err })

	c.LayoutApplied(updater.Result{Mode: "insert", Outcome: updater.OutcomeFailed, At: time.Now()})
	c.Flush()

	select {
	case err := <-errs:
		if !errors.Is(err, ErrWriteFailed) {
			t.Errorf("error = %v, want ErrWriteFailed", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no write error reported")
	}
}

func TestLayoutPoint(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := layoutPoint(updater.Result{
		Mode:      "visual",
		Outcome:   updater.OutcomeFailed,
		LEDs:      3,
		Attempts:  2,
		Duration:  1500 * time.Microsecond,
		QueueWait: 2 * time.Millisecond,
		At:        at,
	})

	if p.Name() != measurementLayoutApply || !p.Time().Equal(at) {
		t.Errorf("point = %s at %v", p.Name(), p.Time())
	}

	tags := map[string]string{}
	for _, tag := range p.TagList() {
		tags[tag.Key] = tag.Value
	}
	if tags["mode"] != "visual" || tags["outcome"] != "failed" {
		t.Errorf("tags = %v", tags)
	}

	fields := map[string]any{}
	for _, f := range p.FieldList() {
		fields[f.Key] = f.Value
	}
	if fields["duration_ms"] != 1.5 || fields["queue_wait_ms"] != 2.0 {
		t.Errorf("fields = %v", fields)
	}
}

func TestClose_Nil(t *testing.T) {
	var c Client
	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	c.Flush()
}
