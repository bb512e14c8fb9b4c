package history

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000Z"

const (
	defaultLimit = 50
	maxLimit     = 500
)

// Entry is one handled layout request.
type Entry struct {
	ID        int64         `json:"id"`
	SessionID string        `json:"session_id"`
	Mode      string        `json:"mode"`
	Outcome   string        `json:"outcome"`
	LEDs      int           `json:"leds"`
	Attempts  int           `json:"attempts"`
	QueueWait time.Duration `json:"queue_wait_ns"`
	Duration  time.Duration `json:"duration_ns"`
	Error     string        `json:"error,omitempty"`
	AppliedAt time.Time     `json:"applied_at"`
}

// Filter narrows Recent.
type Filter struct {
	Mode    string // optional
	Outcome string // optional
	Limit   int    // default 50, max 500
}

// Repository stores and queries history entries.
type Repository interface {
	Record(ctx context.Context, e *Entry) error
	Recent(ctx context.Context, f Filter) ([]Entry, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// SQLiteRepository keeps history in the apply_history table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository on db. The apply_history
// migration must have been applied.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Record inserts e and sets its ID. AppliedAt defaults to now.
func (r *SQLiteRepository) Record(ctx context.Context, e *Entry) error {
	if e.AppliedAt.IsZero() {
		e.AppliedAt = time.Now()
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO apply_history
		 (session_id, mode, outcome, leds, attempts, queue_wait_us, duration_us, error, applied_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.SessionID, e.Mode, e.Outcome, e.LEDs, e.Attempts,
		e.QueueWait.Microseconds(), e.Duration.Microseconds(),
		nullableString(e.Error),
		e.AppliedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting history entry: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading history entry id: %w", err)
	}
	e.ID = id
	return nil
}

// Recent returns matching entries, newest first.
func (r *SQLiteRepository) Recent(ctx context.Context, f Filter) ([]Entry, error) {
	if f.Limit <= 0 {
		f.Limit = defaultLimit
	}
	if f.Limit > maxLimit {
		f.Limit = maxLimit
	}

	var conds []string
	var args []any
	if f.Mode != "" {
		conds = append(conds, "mode = ?")
		args = append(args, f.Mode)
	}
	if f.Outcome != "" {
		conds = append(conds, "outcome = ?")
		args = append(args, f.Outcome)
	}
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, f.Limit)

	query := fmt.Sprintf( //nolint:gosec // WHERE built from fixed conditions
		`SELECT id, session_id, mode, outcome, leds, attempts, queue_wait_us, duration_us, error, applied_at
		 FROM apply_history %s ORDER BY id DESC LIMIT ?`, where)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var waitUS, durUS int64
		var errText sql.NullString
		var at string

		if err := rows.Scan(&e.ID, &e.SessionID, &e.Mode, &e.Outcome, &e.LEDs, &e.Attempts,
			&waitUS, &durUS, &errText, &at); err != nil {
			return nil, fmt.Errorf("scanning history entry: %w", err)
		}
		e.QueueWait = time.Duration(waitUS) * time.Microsecond
		e.Duration = time.Duration(durUS) * time.Microsecond
		e.Error = errText.String
		if e.AppliedAt, err = time.Parse(timeLayout, at); err != nil {
			return nil, fmt.Errorf("parsing history timestamp %q: %w", at, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating history: %w", err)
	}
	return entries, nil
}

// Prune deletes entries applied before the cutoff and returns how many
// were removed.
func (r *SQLiteRepository) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM apply_history WHERE applied_at < ?",
		before.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("pruning history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting pruned history: %w", err)
	}
	return n, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
