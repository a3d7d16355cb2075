package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"chatstream/internal/domain"
)

// SQLiteStore implements domain.TranscriptStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ domain.TranscriptStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) a SQLite database at dbPath
// and runs the schema migration.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	// WAL mode for better concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate history db: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS transcripts (
			message_id  TEXT PRIMARY KEY,
			prompt      TEXT NOT NULL,
			answer      TEXT NOT NULL DEFAULT '',
			thinking    TEXT NOT NULL DEFAULT '',
			provider    TEXT NOT NULL DEFAULT '',
			model       TEXT NOT NULL DEFAULT '',
			outcome     TEXT NOT NULL,
			error       TEXT NOT NULL DEFAULT '',
			started_at  INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_transcripts_started ON transcripts(started_at);
	`)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Save inserts t, replacing any earlier record for the same message id.
func (s *SQLiteStore) Save(ctx context.Context, t domain.Transcript) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO transcripts
			(message_id, prompt, answer, thinking, provider, model, outcome, error, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.MessageID, t.Prompt, t.Answer, t.Thinking, t.Provider, t.Model,
		string(t.Outcome), t.Error, t.StartedAt.UnixNano(), t.Duration.Milliseconds(),
	)
	if err != nil {
		return domain.NewSubSystemError("history", "SQLiteStore.Save", domain.ErrHistoryStore, err.Error())
	}
	return nil
}

const selectColumns = `SELECT message_id, prompt, answer, thinking, provider, model, outcome, error, started_at, duration_ms FROM transcripts`

// Get returns the transcript for messageID.
func (s *SQLiteStore) Get(ctx context.Context, messageID string) (*domain.Transcript, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+" WHERE message_id = ?", messageID)
	t, err := scanTranscript(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewSubSystemError("history", "SQLiteStore.Get", domain.ErrNotFound, messageID)
	}
	if err != nil {
		return nil, domain.NewSubSystemError("history", "SQLiteStore.Get", domain.ErrHistoryStore, err.Error())
	}
	return t, nil
}

// Recent returns up to limit transcripts, newest first.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]domain.Transcript, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+" ORDER BY started_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, domain.NewSubSystemError("history", "SQLiteStore.Recent", domain.ErrHistoryStore, err.Error())
	}
	defer rows.Close()

	var out []domain.Transcript
	for rows.Next() {
		t, err := scanTranscript(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// Prune deletes transcripts that started before cutoff.
func (s *SQLiteStore) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM transcripts WHERE started_at < ?", cutoff.UnixNano())
	if err != nil {
		return 0, domain.NewSubSystemError("history", "SQLiteStore.Prune", domain.ErrHistoryStore, err.Error())
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTranscript(row scanner) (*domain.Transcript, error) {
	var (
		t          domain.Transcript
		outcome    string
		startedAt  int64
		durationMS int64
	)
	if err := row.Scan(&t.MessageID, &t.Prompt, &t.Answer, &t.Thinking, &t.Provider, &t.Model,
		&outcome, &t.Error, &startedAt, &durationMS); err != nil {
		return nil, err
	}
	t.Outcome = domain.Outcome(outcome)
	t.StartedAt = time.Unix(0, startedAt)
	t.Duration = time.Duration(durationMS) * time.Millisecond
	return &t, nil
}
