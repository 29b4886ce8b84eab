// Package pgstore is a PostgreSQL-backed session store for multi-instance
// deployments. Sessions live in a JSONB table swept on a TTL; per-call
// serialization uses advisory locks so any instance can process any turn.
package pgstore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/storylineai/storyline/internal/session"

	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store implements session.Store using PostgreSQL.
type Store struct {
	db       *sql.DB
	ttl      time.Duration
	done     chan struct{}
	stopOnce sync.Once
}

// New opens a PostgreSQL connection, runs pending migrations and starts the
// TTL sweeper.
func New(dsn string, ttl time.Duration) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgresql: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgresql: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{db: db, ttl: ttl, done: make(chan struct{})}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	go s.sweeper()

	slog.Info("postgresql session store opened")
	return s, nil
}

// Close stops the sweeper and closes the connection pool.
func (s *Store) Close() error {
	s.stopOnce.Do(func() { close(s.done) })
	return s.db.Close()
}

// migrate runs all pending SQL migration files in order.
func (s *Store) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version := strings.TrimSuffix(entry.Name(), ".sql")

		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = $1", version).Scan(&count)
		if err != nil {
			return fmt.Errorf("checking migration %s: %w", version, err)
		}
		if count > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", version, err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %s: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("executing migration %s: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES ($1)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %s: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %s: %w", version, err)
		}

		slog.Info("applied migration", "version", version)
	}

	return nil
}

func (s *Store) sweeper() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			res, err := s.db.Exec(
				`DELETE FROM dialog_sessions WHERE updated_at < NOW() - $1::interval`,
				fmt.Sprintf("%d seconds", int(s.ttl.Seconds())),
			)
			if err != nil {
				slog.Error("session sweep failed", "error", err)
				continue
			}
			if n, _ := res.RowsAffected(); n > 0 {
				slog.Info("expired sessions swept", "count", n)
			}
		case <-s.done:
			return
		}
	}
}

// Get returns the session for a call ID, or nil. Rows past the TTL read as
// missing even before the sweeper removes them.
func (s *Store) Get(ctx context.Context, callID string) (*session.Session, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM dialog_sessions
		 WHERE call_id = $1 AND updated_at >= NOW() - $2::interval`,
		callID, fmt.Sprintf("%d seconds", int(s.ttl.Seconds())),
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}

	var sess session.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decoding session: %w", err)
	}
	return &sess, nil
}

// Put stores the session as a JSONB row keyed by call ID.
func (s *Store) Put(ctx context.Context, sess *session.Session) error {
	sess.UpdatedAt = time.Now()
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO dialog_sessions (call_id, data, updated_at)
		 VALUES ($1, $2, NOW())
		 ON CONFLICT (call_id) DO UPDATE SET data = $2, updated_at = NOW()`,
		sess.CallID, data,
	)
	if err != nil {
		return fmt.Errorf("storing session: %w", err)
	}
	return nil
}

// Delete removes the session for a call ID.
func (s *Store) Delete(ctx context.Context, callID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM dialog_sessions WHERE call_id = $1`, callID); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// ActiveSessions returns the number of unexpired session rows.
func (s *Store) ActiveSessions() int {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM dialog_sessions WHERE updated_at >= NOW() - $1::interval`,
		fmt.Sprintf("%d seconds", int(s.ttl.Seconds())),
	).Scan(&n)
	if err != nil {
		slog.Error("counting active sessions failed", "error", err)
		return 0
	}
	return n
}

// Lock takes a PostgreSQL advisory lock keyed by a hash of the call ID so
// turns for one call serialize across instances. The lock is session-scoped
// and pinned to a dedicated connection until unlock.
func (s *Store) Lock(ctx context.Context, callID string) (func(), error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring connection: %w", err)
	}

	key := lockKey(callID)
	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, key); err != nil {
		conn.Close()
		return nil, fmt.Errorf("acquiring advisory lock: %w", err)
	}

	return func() {
		if _, err := conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, key); err != nil {
			slog.Error("releasing advisory lock failed", "call_id", callID, "error", err)
		}
		conn.Close()
	}, nil
}

func lockKey(callID string) int64 {
	h := fnv.New64a()
	h.Write([]byte(callID))
	return int64(h.Sum64())
}
