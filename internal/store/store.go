// Package store persists calendar sources and blocked periods in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"meetcal/internal/model"
)

var ErrNotFound = errors.New("not found")

const schema = `
CREATE TABLE IF NOT EXISTS calendar_sources (
	id             TEXT PRIMARY KEY,
	user_id        TEXT NOT NULL,
	url            TEXT NOT NULL,
	name           TEXT NOT NULL DEFAULT '',
	color          TEXT NOT NULL DEFAULT '',
	sync_status    TEXT NOT NULL DEFAULT 'PENDING',
	last_error     TEXT NOT NULL DEFAULT '',
	last_synced_at TEXT,
	is_active      INTEGER NOT NULL DEFAULT 1,
	sort_order     INTEGER NOT NULL DEFAULT 0,
	created_at     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_calendar_sources_user ON calendar_sources(user_id);

CREATE TABLE IF NOT EXISTS blocked_periods (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	start_date TEXT NOT NULL,
	days       INTEGER NOT NULL DEFAULT 0,
	reason     TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_blocked_periods_user ON blocked_periods(user_id, start_date);
`

// Store is the SQLite-backed repository for calendar sources and blocked
// periods.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the database at path with WAL journaling and
// applies the schema.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// AddSource registers a calendar feed. A missing ID is generated; the
// source starts in PENDING state.
func (s *Store) AddSource(ctx context.Context, src model.CalendarSource) (model.CalendarSource, error) {
	src.UserID = strings.TrimSpace(src.UserID)
	src.URL = strings.TrimSpace(src.URL)
	if src.UserID == "" || src.URL == "" {
		return model.CalendarSource{}, errors.New("calendar source requires user id and url")
	}
	if src.ID == "" {
		src.ID = uuid.NewString()
	}
	src.SyncStatus = model.SyncPending
	src.LastError = ""
	src.LastSyncedAt = nil

	_, err := s.db.ExecContext(ctx, `INSERT INTO calendar_sources
		(id, user_id, url, name, color, sync_status, last_error, is_active, sort_order, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		src.ID, src.UserID, src.URL, src.Name, src.Color, string(src.SyncStatus), "",
		boolInt(src.IsActive), src.SortOrder, formatTime(s.now()))
	if err != nil {
		return model.CalendarSource{}, fmt.Errorf("insert calendar source: %w", err)
	}
	return src, nil
}

// ListSources returns every source of userID, active or not, in display
// order.
func (s *Store) ListSources(ctx context.Context, userID string) ([]model.CalendarSource, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, user_id, url, name, color, sync_status, last_error,
		last_synced_at, is_active, sort_order
		FROM calendar_sources WHERE user_id = ? ORDER BY sort_order, created_at, id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.CalendarSource
	for rows.Next() {
		var (
			src    model.CalendarSource
			status string
			synced sql.NullString
			active int
		)
		if err := rows.Scan(&src.ID, &src.UserID, &src.URL, &src.Name, &src.Color, &status, &src.LastError,
			&synced, &active, &src.SortOrder); err != nil {
			return nil, err
		}
		src.SyncStatus = model.SyncStatus(status)
		src.IsActive = active != 0
		if synced.Valid && synced.String != "" {
			t, err := time.Parse(time.RFC3339Nano, synced.String)
			if err != nil {
				return nil, fmt.Errorf("source %s: last_synced_at: %w", src.ID, err)
			}
			src.LastSyncedAt = &t
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

// SetSourceActive toggles whether a source is fetched.
func (s *Store) SetSourceActive(ctx context.Context, userID, id string, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE calendar_sources SET is_active = ? WHERE id = ? AND user_id = ?`,
		boolInt(active), id, userID)
	if err != nil {
		return err
	}
	return expectOne(res, "calendar source "+id)
}

// SaveSyncResults records the outcome of the latest fetch of each source in
// one transaction. Unknown source ids are ignored.
func (s *Store) SaveSyncResults(ctx context.Context, syncs []model.SourceSync) error {
	if len(syncs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `UPDATE calendar_sources
		SET sync_status = ?, last_error = ?, last_synced_at = ? WHERE id = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, sync := range syncs {
		syncedAt := sync.SyncedAt
		if syncedAt.IsZero() {
			syncedAt = s.now()
		}
		if _, err := stmt.ExecContext(ctx, string(sync.Status), sync.LastError, formatTime(syncedAt), sync.SourceID); err != nil {
			return fmt.Errorf("update source %s: %w", sync.SourceID, err)
		}
	}
	return tx.Commit()
}

// AddBlockedPeriod stores a manual override. Days <= 0 is stored as a single
// day.
func (s *Store) AddBlockedPeriod(ctx context.Context, p model.BlockedPeriod) (model.BlockedPeriod, error) {
	p.UserID = strings.TrimSpace(p.UserID)
	if p.UserID == "" || p.Start.IsZero() {
		return model.BlockedPeriod{}, errors.New("blocked period requires user id and start date")
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Days <= 0 {
		p.Days = 1
	}

	_, err := s.db.ExecContext(ctx, `INSERT INTO blocked_periods (id, user_id, start_date, days, reason, created_at)
		VALUES (?,?,?,?,?,?)`, p.ID, p.UserID, p.Start.String(), p.Days, p.Reason, formatTime(s.now()))
	if err != nil {
		return model.BlockedPeriod{}, fmt.Errorf("insert blocked period: %w", err)
	}
	return p, nil
}

func (s *Store) ListBlockedPeriods(ctx context.Context, userID string) ([]model.BlockedPeriod, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, user_id, start_date, days, reason
		FROM blocked_periods WHERE user_id = ? ORDER BY start_date, id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.BlockedPeriod
	for rows.Next() {
		var (
			p     model.BlockedPeriod
			start string
		)
		if err := rows.Scan(&p.ID, &p.UserID, &start, &p.Days, &p.Reason); err != nil {
			return nil, err
		}
		d, err := model.ParseISODate(start)
		if err != nil {
			return nil, fmt.Errorf("blocked period %s: %w", p.ID, err)
		}
		p.Start = d
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) DeleteBlockedPeriod(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM blocked_periods WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return err
	}
	return expectOne(res, "blocked period "+id)
}

func expectOne(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
