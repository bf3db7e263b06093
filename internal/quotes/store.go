// Package quotes persists the channel's "pearls": an ordered, append-only
// list of memorable chat lines, addressed by 0-based index.
package quotes

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrations embed.FS

// ErrEmpty is returned by Append for blank text.
var ErrEmpty = errors.New("quotes: empty text")

// Store manages pearls in PostgreSQL.
type Store struct {
	db *sql.DB
}

// Open connects to PostgreSQL and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("quotes: open: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("quotes: postgres connection failed: %w", err)
	}
	return &Store{db: db}, nil
}

// NewStore wraps an existing database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate brings the schema up to date from the embedded migrations.
func (s *Store) Migrate() error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("quotes: migration source: %w", err)
	}
	drv, err := postgres.WithInstance(s.db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("quotes: migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", drv)
	if err != nil {
		return fmt.Errorf("quotes: migrate: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("quotes: migrate up: %w", err)
	}
	version, dirty, _ := m.Version()
	log.Printf("[quotes] schema at version %d (dirty=%v)", version, dirty)
	return nil
}

// Load returns every pearl in insertion order.
func (s *Store) Load(ctx context.Context) ([]string, error) {
	const query = `SELECT text FROM pearls ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("quotes: load: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			return nil, fmt.Errorf("quotes: scan: %w", err)
		}
		out = append(out, text)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("quotes: load: %w", err)
	}
	return out, nil
}

// Append stores a new pearl and returns its 0-based index.
func (s *Store) Append(ctx context.Context, author, text string) (int, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, ErrEmpty
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("quotes: begin: %w", err)
	}
	defer tx.Rollback()

	var id int64
	const insert = `INSERT INTO pearls (text, author) VALUES ($1, $2) RETURNING id`
	if err := tx.QueryRowContext(ctx, insert, text, author).Scan(&id); err != nil {
		return 0, fmt.Errorf("quotes: insert: %w", err)
	}

	var count int
	const position = `SELECT COUNT(*) FROM pearls WHERE id <= $1`
	if err := tx.QueryRowContext(ctx, position, id).Scan(&count); err != nil {
		return 0, fmt.Errorf("quotes: position: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("quotes: commit: %w", err)
	}
	return count - 1, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Memory keeps pearls in process. It is used when no database is configured.
type Memory struct {
	mu     sync.Mutex
	pearls []string
}

// NewMemory creates a store seeded with the given pearls.
func NewMemory(seed ...string) *Memory {
	return &Memory{pearls: append([]string(nil), seed...)}
}

// Load returns every pearl in insertion order.
func (m *Memory) Load(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.pearls...), nil
}

// Append stores a new pearl and returns its 0-based index.
func (m *Memory) Append(_ context.Context, _ string, text string) (int, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, ErrEmpty
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pearls = append(m.pearls, text)
	return len(m.pearls) - 1, nil
}
