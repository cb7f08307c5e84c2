// Package sqlstore implements storage.Store on database/sql. The sqlite and
// postgres drivers open a *sql.DB and hand it over with their Dialect.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/timeprofiler/internal/storage"
	"github.com/timeprofiler/pkg/models"
)

// Store is a SQL-backed storage.Store.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

var _ storage.Store = (*Store)(nil)

// New wraps db and creates the schema if it does not exist.
func New(ctx context.Context, db *sql.DB, dialect Dialect) (*Store, error) {
	s := &Store{db: db, dialect: dialect}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: failed to apply schema: %w", s.dialect.Name, err)
		}
	}
	return nil
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) StoreFeedback(ctx context.Context, fb models.Feedback) error {
	_, err := s.db.ExecContext(ctx, s.dialect.bind(
		`INSERT INTO feedback (user_id, text, category, platform, created_at) VALUES (?, ?, ?, ?, ?)`),
		fb.UserID, fb.Text, string(fb.Category), string(fb.Platform), toUnix(fb.Timestamp))
	if err != nil {
		return fmt.Errorf("insert feedback: %w", err)
	}
	return nil
}

func (s *Store) StoreAllocation(ctx context.Context, a models.Allocation) error {
	acts, err := json.Marshal(a.Activities)
	if err != nil {
		return fmt.Errorf("encode activities: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.dialect.bind(
		`INSERT INTO allocations (user_id, activities, unit, recorded_at) VALUES (?, ?, ?, ?)`),
		a.UserID, string(acts), string(a.Unit), toUnix(a.RecordedAt))
	if err != nil {
		return fmt.Errorf("insert allocation: %w", err)
	}
	return nil
}

func (s *Store) ListProblems(ctx context.Context) ([]*models.ProblemRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, description, frequency_count, first_reported, last_reported FROM problems ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("query problems: %w", err)
	}
	defer rows.Close()

	var out []*models.ProblemRecord
	for rows.Next() {
		var (
			p           models.ProblemRecord
			first, last int64
		)
		if err := rows.Scan(&p.ID, &p.Description, &p.FrequencyCount, &first, &last); err != nil {
			return nil, fmt.Errorf("scan problem: %w", err)
		}
		p.FirstReported = fromUnix(first)
		p.LastReported = fromUnix(last)
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (s *Store) UpsertProblem(ctx context.Context, p *models.ProblemRecord) error {
	_, err := s.db.ExecContext(ctx, s.dialect.bind(
		`INSERT INTO problems (id, description, frequency_count, first_reported, last_reported)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			description = excluded.description,
			frequency_count = excluded.frequency_count,
			first_reported = excluded.first_reported,
			last_reported = excluded.last_reported`),
		p.ID, p.Description, p.FrequencyCount, toUnix(p.FirstReported), toUnix(p.LastReported))
	if err != nil {
		return fmt.Errorf("upsert problem %s: %w", p.ID, err)
	}
	return nil
}

func (s *Store) ListFeedback(ctx context.Context, userID string) ([]models.Feedback, error) {
	query := `SELECT user_id, text, category, platform, created_at FROM feedback`
	var args []any
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	rows, err := s.db.QueryContext(ctx, s.dialect.bind(query+` ORDER BY seq`), args...)
	if err != nil {
		return nil, fmt.Errorf("query feedback: %w", err)
	}
	defer rows.Close()

	var out []models.Feedback
	for rows.Next() {
		var (
			fb                 models.Feedback
			category, platform string
			ts                 int64
		)
		if err := rows.Scan(&fb.UserID, &fb.Text, &category, &platform, &ts); err != nil {
			return nil, fmt.Errorf("scan feedback: %w", err)
		}
		fb.Category = models.Category(category)
		fb.Platform = models.Platform(platform)
		fb.Timestamp = fromUnix(ts)
		out = append(out, fb)
	}
	return out, rows.Err()
}

func (s *Store) ListAllocations(ctx context.Context, userID string) ([]models.Allocation, error) {
	query := `SELECT user_id, activities, unit, recorded_at FROM allocations`
	var args []any
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	rows, err := s.db.QueryContext(ctx, s.dialect.bind(query+` ORDER BY seq`), args...)
	if err != nil {
		return nil, fmt.Errorf("query allocations: %w", err)
	}
	defer rows.Close()

	var out []models.Allocation
	for rows.Next() {
		var (
			a          models.Allocation
			acts, unit string
			ts         int64
		)
		if err := rows.Scan(&a.UserID, &acts, &unit, &ts); err != nil {
			return nil, fmt.Errorf("scan allocation: %w", err)
		}
		if err := json.Unmarshal([]byte(acts), &a.Activities); err != nil {
			return nil, fmt.Errorf("decode activities: %w", err)
		}
		a.Unit = models.AllocationUnit(unit)
		a.RecordedAt = fromUnix(ts)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Timestamps are stored as UTC unix nanoseconds so both engines sort and
// compare them the same way.
func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnix(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
