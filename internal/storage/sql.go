package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// Dialect selects placeholder syntax and driver.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

const schema = `
CREATE TABLE IF NOT EXISTS submissions (
	id TEXT PRIMARY KEY,
	submission_id TEXT NOT NULL UNIQUE,
	callback_id TEXT NOT NULL,
	team_id TEXT NOT NULL DEFAULT '',
	user_id TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS submissions_user_created_idx ON submissions (user_id, created_at);
`

// SQLStore persists records in SQLite or Postgres.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

// OpenSQL opens, pings and migrates a SQL store.
func OpenSQL(ctx context.Context, dialect Dialect, dsn string, config *SQLConfig) (*SQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	if dialect != DialectSQLite && dialect != DialectPostgres {
		return nil, fmt.Errorf("unsupported storage dialect %q", dialect)
	}
	if config == nil {
		config = DefaultSQLConfig()
	}

	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	maxOpen := config.MaxOpenConns
	if dialect == DialectSQLite {
		// SQLite serializes writers and in-memory databases are per connection.
		maxOpen = 1
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(min(config.MaxIdleConns, maxOpen))
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, config.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := NewSQLStore(db, dialect)
	if err := store.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLStore wraps an open database.
func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

// Migrate creates the schema if it does not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate submissions: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) Save(ctx context.Context, rec *Record) error {
	if err := validate(rec); err != nil {
		return err
	}
	payload, err := json.Marshal(rec.Values)
	if err != nil {
		return fmt.Errorf("marshal submission values: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO submissions (id, submission_id, callback_id, team_id, user_id, payload, created_at)
		 VALUES (?,?,?,?,?,?,?)`),
		rec.ID,
		rec.SubmissionID,
		rec.CallbackID,
		rec.Team,
		rec.User,
		string(payload),
		rec.CreatedAt.UnixMilli(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("save submission: %w", err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (*Record, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT id, submission_id, callback_id, team_id, user_id, payload, created_at
		 FROM submissions WHERE id = ?`), id)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get submission: %w", err)
	}
	return rec, nil
}

// ListByUser returns the user's records, newest first.
func (s *SQLStore) ListByUser(ctx context.Context, user string, limit int) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT id, submission_id, callback_id, team_id, user_id, payload, created_at
		 FROM submissions WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`),
		user, listLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	return out, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var rec Record
	var payload string
	var createdAt int64
	if err := row.Scan(
		&rec.ID,
		&rec.SubmissionID,
		&rec.CallbackID,
		&rec.Team,
		&rec.User,
		&payload,
		&createdAt,
	); err != nil {
		return nil, err
	}
	if payload != "" {
		if err := json.Unmarshal([]byte(payload), &rec.Values); err != nil {
			return nil, fmt.Errorf("unmarshal submission values: %w", err)
		}
	}
	rec.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &rec, nil
}

// rebind rewrites ? placeholders as $n for Postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate")
}
