package session

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v4/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	log "github.com/sirupsen/logrus"

	"github.com/dudu/eyebox/internal/drowsiness"
)

//go:embed migrations/*.sql
var migrations embed.FS

// goose keeps its settings in package globals.
var gooseMu sync.Mutex

// SQLStore is a Store on SQLite or PostgreSQL.
type SQLStore struct {
	db       *sql.DB
	postgres bool
	log      *log.Entry
}

// OpenSQL connects to the database and applies pending migrations. backend
// is BackendSQLite (dsn is a file path) or BackendPostgres.
func OpenSQL(ctx context.Context, backend, dsn string) (*SQLStore, error) {
	var driver, dialect string
	switch backend {
	case BackendSQLite:
		driver, dialect = "sqlite3", "sqlite3"
	case BackendPostgres:
		driver, dialect = "pgx", "postgres"
	default:
		return nil, fmt.Errorf("unsupported sql backend %q", backend)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if backend == BackendSQLite {
		// writers would otherwise fight over the file lock
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(5)
		db.SetMaxIdleConns(2)
	}
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := migrate(db, dialect); err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLStore{
		db:       db,
		postgres: backend == BackendPostgres,
		log:      log.WithField("component", "session"),
	}
	s.log.Infof("%s session store ready", backend)
	return s, nil
}

func migrate(db *sql.DB, dialect string) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations)
	goose.SetLogger(log.StandardLogger())
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

func (s *SQLStore) Microsleep(ctx context.Context) (bool, error) {
	var on bool
	err := s.db.QueryRowContext(ctx, "SELECT microsleep FROM session_state WHERE id = 1").Scan(&on)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read microsleep flag: %w", err)
	}
	return on, nil
}

func (s *SQLStore) SetMicrosleep(ctx context.Context, on bool) error {
	query := s.rebind(`INSERT INTO session_state (id, microsleep, updated_at) VALUES (1, ?, ?)
		ON CONFLICT (id) DO UPDATE SET microsleep = excluded.microsleep, updated_at = excluded.updated_at`)
	if _, err := s.db.ExecContext(ctx, query, on, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to write microsleep flag: %w", err)
	}
	return nil
}

func (s *SQLStore) RecordEvent(ctx context.Context, ev drowsiness.Event) error {
	id, err := newID()
	if err != nil {
		return err
	}
	query := s.rebind(`INSERT INTO microsleep_events (id, outcome, occurred_at, frame_time_ms, closure_ms)
		VALUES (?, ?, ?, ?, ?)`)
	_, err = s.db.ExecContext(ctx, query, id, ev.Outcome.String(), ev.At.UTC(),
		ev.FrameTime.Milliseconds(), ev.Closure.Milliseconds())
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

func (s *SQLStore) Events(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		return nil, nil
	}
	query := s.rebind(`SELECT id, outcome, occurred_at, frame_time_ms, closure_ms
		FROM microsleep_events ORDER BY occurred_at DESC LIMIT ?`)
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r                  Record
			outcome            string
			frameMs, closureMs int64
		)
		if err := rows.Scan(&r.ID, &outcome, &r.At, &frameMs, &closureMs); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if err := r.Outcome.UnmarshalText([]byte(outcome)); err != nil {
			return nil, err
		}
		r.FrameTime = time.Duration(frameMs) * time.Millisecond
		r.Closure = time.Duration(closureMs) * time.Millisecond
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the database
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// rebind turns ? placeholders into $n for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if !s.postgres {
		return query
	}
	return rebindDollar(query)
}

func rebindDollar(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
