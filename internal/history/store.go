package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
	"sonyctl/internal/device"
	"sonyctl/internal/dispatch"
	"sonyctl/internal/logger"
)

// Entry is one recorded dispatch
type Entry struct {
	ID        string          `json:"id"`
	Kind      device.Kind     `json:"kind"`
	Action    string          `json:"action"`
	Results   []device.Result `json:"results,omitempty"`
	Error     string          `json:"error,omitempty"`
	StartedAt time.Time       `json:"started_at"`
	Duration  time.Duration   `json:"duration"`
}

// FromOutcome converts a dispatcher outcome into a history entry
func FromOutcome(o dispatch.Outcome) Entry {
	id := o.ID
	if id == "" {
		id = uuid.New().String()
	}
	return Entry{
		ID:        id,
		Kind:      o.Kind,
		Action:    string(o.Action),
		Results:   o.Results,
		Error:     o.Error,
		StartedAt: o.StartedAt,
		Duration:  o.Duration,
	}
}

// queueSize bounds outcomes waiting for the writer goroutine
const queueSize = 64

// Store keeps dispatched actions in SQLite
type Store struct {
	db     *sql.DB
	limit  int
	logger zerolog.Logger

	mu      sync.RWMutex
	closed  bool
	queue   chan Entry
	drained chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// NewStore opens (or creates) the history database. limit caps the number
// of rows kept; zero keeps everything.
func NewStore(dbPath string, limit int, log zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// a single writer avoids SQLITE_BUSY between the observer and readers
	db.SetMaxOpenConns(1)

	s := &Store{
		db:      db,
		limit:   limit,
		logger:  logger.Component(log, "history"),
		queue:   make(chan Entry, queueSize),
		drained: make(chan struct{}),
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	go s.writeLoop()

	return s, nil
}

// Close writes any queued outcomes, then closes the database connection.
// It is safe to call more than once.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.queue)
		s.mu.Unlock()

		<-s.drained
		s.closeErr = s.db.Close()
	})
	return s.closeErr
}

func (s *Store) writeLoop() {
	defer close(s.drained)
	for e := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.Record(ctx, e); err != nil {
			s.logger.Error().Err(err).Str("action", e.Action).Msg("Failed to record action")
		}
		cancel()
	}
}

func (s *Store) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS actions (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT UNIQUE NOT NULL,
			kind TEXT NOT NULL,
			action TEXT NOT NULL,
			results TEXT, -- JSON array as TEXT
			error TEXT,
			started_at INTEGER NOT NULL,
			duration_ns INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_actions_started_at ON actions(started_at)`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}

	return nil
}

// Record stores e and prunes rows beyond the configured limit
func (s *Store) Record(ctx context.Context, e Entry) error {
	results, err := json.Marshal(e.Results)
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}

	query := `INSERT INTO actions (id, kind, action, results, error, started_at, duration_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		e.ID, string(e.Kind), e.Action, string(results), e.Error,
		e.StartedAt.UnixNano(), int64(e.Duration))
	if err != nil {
		return fmt.Errorf("failed to record action: %w", err)
	}

	if s.limit > 0 {
		prune := `DELETE FROM actions WHERE seq NOT IN (
			SELECT seq FROM actions ORDER BY seq DESC LIMIT ?)`
		if _, err := s.db.ExecContext(ctx, prune, s.limit); err != nil {
			return fmt.Errorf("failed to prune history: %w", err)
		}
	}

	return nil
}

// Recent returns up to n entries, newest first
func (s *Store) Recent(ctx context.Context, n int) ([]Entry, error) {
	query := `SELECT id, kind, action, results, error, started_at, duration_ns
		FROM actions ORDER BY seq DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			e         Entry
			kind      string
			results   sql.NullString
			errText   sql.NullString
			startedAt int64
			duration  int64
		)
		if err := rows.Scan(&e.ID, &kind, &e.Action, &results, &errText, &startedAt, &duration); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		e.Kind = device.Kind(kind)
		e.Error = errText.String
		e.StartedAt = time.Unix(0, startedAt)
		e.Duration = time.Duration(duration)
		if results.Valid && results.String != "" && results.String != "null" {
			if err := json.Unmarshal([]byte(results.String), &e.Results); err != nil {
				return nil, fmt.Errorf("failed to parse results: %w", err)
			}
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// Observer returns a dispatch observer that queues every outcome for the
// writer goroutine, so the database never sits on the dispatch path. When
// the queue is full the outcome is dropped and logged. Write failures are
// logged, never surfaced to the caller of the action.
func (s *Store) Observer() dispatch.Observer {
	return func(o dispatch.Outcome) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		if s.closed {
			return
		}

		select {
		case s.queue <- FromOutcome(o):
		default:
			s.logger.Warn().Str("action", string(o.Action)).Msg("History queue full, dropped action")
		}
	}
}
