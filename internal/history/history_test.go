package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/vimrgb-core/internal/infrastructure/config"
	"github.com/nerrad567/vimrgb-core/internal/infrastructure/database"
	"github.com/nerrad567/vimrgb-core/internal/updater"
	"github.com/nerrad567/vimrgb-core/migrations"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()

	db, err := database.Open(config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "history.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup

	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewSQLiteRepository(db.DB)
}

func TestRepository_RecordAndRecent(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	entries := []Entry{
		{SessionID: "s1", Mode: "normal", Outcome: "applied", LEDs: 104, Attempts: 1, Duration: 3 * time.Millisecond, AppliedAt: base},
		{SessionID: "s1", Mode: "insert", Outcome: "failed", Attempts: 2, Error: "hardware: write failed", AppliedAt: base.Add(time.Second)},
		{SessionID: "s1", Mode: "insert", Outcome: "applied", LEDs: 104, Attempts: 1, AppliedAt: base.Add(2 * time.Second)},
	}
	for i := range entries {
		if err := repo.Record(ctx, &entries[i]); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
		if entries[i].ID == 0 {
			t.Errorf("entry %d has no ID", i)
		}
	}

	tests := []struct {
		name   string
		filter Filter
		want   []int64
	}{
		{name: "all newest first", filter: Filter{}, want: []int64{entries[2].ID, entries[1].ID, entries[0].ID}},
		{name: "by mode", filter: Filter{Mode: "insert"}, want: []int64{entries[2].ID, entries[1].ID}},
		{name: "by outcome", filter: Filter{Outcome: "failed"}, want: []int64{entries[1].ID}},
		{name: "limit", filter: Filter{Limit: 1}, want: []int64{entries[2].ID}},
		{name: "no match", filter: Filter{Mode: "replace"}, want: []int64{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.Recent(ctx, tt.filter)
			if err != nil {
				t.Fatalf("Recent() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("Recent() returned %d entries, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i].ID != tt.want[i] {
					t.Errorf("entry %d ID = %d, want %d", i, got[i].ID, tt.want[i])
				}
			}
		})
	}

	got, _ := repo.Recent(ctx, Filter{Outcome: "failed"})
	e := got[0]
	if e.Error != "hardware: write failed" || e.Attempts != 2 || !e.AppliedAt.Equal(entries[1].AppliedAt) {
		t.Errorf("round-tripped entry = %+v", e)
	}
}

func TestRepository_Prune(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now()

	for _, age := range []time.Duration{72 * time.Hour, 48 * time.Hour, time.Hour} {
		e := Entry{SessionID: "s1", Mode: "normal", Outcome: "applied", AppliedAt: now.Add(-age)}
		if err := repo.Record(ctx, &e); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	n, err := repo.Prune(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Prune() removed %d, want 2", n)
	}
	if got, _ := repo.Recent(ctx, Filter{}); len(got) != 1 {
		t.Errorf("%d entries left, want 1", len(got))
	}
}

func TestRecorder_WritesResults(t *testing.T) {
	repo := newTestRepo(t)
	rec := NewRecorder(repo, "session-1", 0)
	rec.Start(context.Background())

	rec.LayoutApplied(updater.Result{Mode: "insert", Outcome: updater.OutcomeApplied, LEDs: 3, Attempts: 1, At: time.Now()})
	rec.LayoutApplied(updater.Result{Mode: "visual", Outcome: updater.OutcomeFailed, Attempts: 1, Err: errors.New("boom"), At: time.Now()})
	rec.Stop()

	got, err := repo.Recent(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("recorded %d entries, want 2", len(got))
	}
	if got[0].Mode != "visual" || got[0].Error != "boom" || got[0].SessionID != "session-1" {
		t.Errorf("newest entry = %+v", got[0])
	}
}

func TestRecorder_RecordsAfterCancel(t *testing.T) {
	repo := newTestRepo(t)
	ctx, cancel := context.WithCancel(context.Background())
	rec := NewRecorder(repo, "s", time.Hour)
	rec.Start(ctx)

	rec.LayoutApplied(updater.Result{Mode: "insert", Outcome: updater.OutcomeApplied, At: time.Now()})
	cancel()
	// The session's last in-flight write reports after the signal.
	time.Sleep(20 * time.Millisecond)
	rec.LayoutApplied(updater.Result{Mode: "normal", Outcome: updater.OutcomeApplied, At: time.Now()})
	rec.Stop()

	got, err := repo.Recent(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("recorded %d entries, want 2", len(got))
	}
}

type blockingRepo struct {
	Repository
}

func (blockingRepo) Record(ctx context.Context, _ *Entry) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestRecorder_DropsWhenFull(t *testing.T) {
	rec := NewRecorder(blockingRepo{}, "s", 0)

	for i := 0; i < recorderBuffer+10; i++ {
		rec.LayoutApplied(updater.Result{Mode: "normal"})
	}
	if got := rec.Dropped(); got != 10 {
		t.Errorf("Dropped() = %d, want 10", got)
	}
}

func TestRecorder_PrunesOnStart(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	old := Entry{SessionID: "s", Mode: "normal", Outcome: "applied", AppliedAt: time.Now().Add(-10 * 24 * time.Hour)}
	if err := repo.Record(ctx, &old); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	rec := NewRecorder(repo, "s", 7*24*time.Hour)
	rec.Start(ctx)
	rec.Stop()

	if got, _ := repo.Recent(ctx, Filter{}); len(got) != 0 {
		t.Errorf("%d entries left after prune, want 0", len(got))
	}
}
