package updater

import (
	"errors"
	"sync"
	"testing"
)

func pushAll(q *Queue, modes ...string) {
	for _, m := range modes {
		q.Push(m)
	}
}

func TestQueue_Policies(t *testing.T) {
	tests := []struct {
		name   string
		policy Policy
		want   []string
	}{
		{name: "coalesce keeps newest", policy: PolicyCoalesce, want: []string{"normal"}},
		{name: "fifo keeps all in order", policy: PolicyFIFO, want: []string{"insert", "command", "normal"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := NewQueue(8, tt.policy)
			pushAll(q, "insert", "command", "normal")

			var got []string
			for {
				req, ok := q.TryPop()
				if !ok {
					break
				}
				got = append(got, req.Mode)
				q.OpenGate()
			}

			if len(got) != len(tt.want) {
				t.Fatalf("popped %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("popped[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestQueue_GateClosesOnPop(t *testing.T) {
	q := NewQueue(4, PolicyFIFO)
	pushAll(q, "insert", "normal")

	if _, ok := q.TryPop(); !ok {
		t.Fatal("first TryPop() = false")
	}
	if q.GateOpen() {
		t.Error("gate open after TryPop")
	}
	if _, ok := q.TryPop(); ok {
		t.Error("TryPop() succeeded with gate closed")
	}

	q.OpenGate()
	select {
	case <-q.Notify():
	default:
		t.Error("OpenGate() with pending requests did not signal")
	}
	if req, ok := q.TryPop(); !ok || req.Mode != "normal" {
		t.Errorf("TryPop() = %q, %v, want normal", req.Mode, ok)
	}

	q.OpenGate()
	q.CloseGate()
	q.Push("visual")
	if _, ok := q.TryPop(); ok {
		t.Error("TryPop() succeeded after CloseGate")
	}
}

func TestQueue_DropsOldestWhenFull(t *testing.T) {
	q := NewQueue(2, PolicyFIFO)

	if q.Push("a") || q.Push("b") {
		t.Fatal("Push() dropped before queue was full")
	}
	if !q.Push("c") {
		t.Error("Push() on full queue did not report a drop")
	}

	req, _ := q.TryPop()
	if req.Mode != "b" {
		t.Errorf("oldest surviving request = %q, want b", req.Mode)
	}

	stats := q.Stats()
	if stats.Pushed != 3 || stats.Dropped != 1 {
		t.Errorf("Stats() = %+v, want 3 pushed, 1 dropped", stats)
	}
}

func TestQueue_CoalesceStats(t *testing.T) {
	q := NewQueue(8, PolicyCoalesce)
	pushAll(q, "a", "b", "c", "d")
	q.TryPop()

	if got := q.Stats().Coalesced; got != 3 {
		t.Errorf("Coalesced = %d, want 3", got)
	}
	if q.Len() != 0 {
		t.Errorf("Len() = %d, want 0", q.Len())
	}
}

func TestQueue_ClearAndZeroCapacity(t *testing.T) {
	q := NewQueue(0, PolicyFIFO)
	pushAll(q, "a", "b")

	if q.Len() != 1 {
		t.Errorf("Len() = %d, want 1 for minimum capacity", q.Len())
	}
	if n := q.Clear(); n != 1 {
		t.Errorf("Clear() = %d, want 1", n)
	}
	if _, ok := q.TryPop(); ok {
		t.Error("TryPop() after Clear succeeded")
	}
}

func TestQueue_PushNeverBlocks(t *testing.T) {
	q := NewQueue(4, PolicyCoalesce)
	q.CloseGate()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				q.Push("insert")
			}
		}()
	}
	wg.Wait()

	if q.Len() != 4 {
		t.Errorf("Len() = %d, want capacity 4", q.Len())
	}
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    Policy
		wantErr bool
	}{
		{in: "coalesce", want: PolicyCoalesce},
		{in: "", want: PolicyCoalesce},
		{in: "fifo", want: PolicyFIFO},
		{in: "lifo", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParsePolicy(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrUnknownPolicy) {
				t.Errorf("ParsePolicy(%q) error = %v, want ErrUnknownPolicy", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParsePolicy(%q) = %v, %v, want %v", tt.in, got, err, tt.want)
		}
	}
}
