package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pavelanni/boost/internal/model"

	_ "modernc.org/sqlite"
)

// ErrDuplicate is returned when an insert hits a UNIQUE constraint.
var ErrDuplicate = errors.New("duplicate record")

// Transactions take the write lock up front so concurrent writers queue on
// busy_timeout instead of failing on a lock upgrade.
const dsnParams = "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_txlock=immediate"

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+dsnParams)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// An in-memory database exists per connection; keep a single one so
	// every query sees the same schema.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		email TEXT NOT NULL UNIQUE,
		full_name TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL DEFAULT '',
		provider TEXT NOT NULL DEFAULT 'email',
		role TEXT NOT NULL DEFAULT 'student',
		active INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS profiles (
		user_id INTEGER PRIMARY KEY,
		level TEXT,
		diagnostic_completed INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS auth_sessions (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS diagnostic_results (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		correct_answers INTEGER NOT NULL,
		level TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE INDEX IF NOT EXISTS idx_diagnostic_results_user ON diagnostic_results(user_id, created_at);

	CREATE TABLE IF NOT EXISTS diagnostic_questions (
		id INTEGER PRIMARY KEY,
		text TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS oauth_states (
		state TEXT PRIMARY KEY,
		provider TEXT NOT NULL,
		return_to TEXT NOT NULL DEFAULT '',
		session_id TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS app_metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS imported_files (
		path TEXT PRIMARY KEY,
		hash TEXT NOT NULL,
		imported_at DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// ReplaceQuestions swaps the whole diagnostic question bank in one transaction.
func (s *Store) ReplaceQuestions(questions []model.DiagnosticQuestion) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM diagnostic_questions`); err != nil {
		return err
	}
	for _, q := range questions {
		if _, err := tx.Exec(`INSERT INTO diagnostic_questions (id, text) VALUES (?, ?)`, q.ID, q.Text); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListQuestions returns the question bank ordered by ID.
func (s *Store) ListQuestions() ([]model.DiagnosticQuestion, error) {
	rows, err := s.db.Query(`SELECT id, text FROM diagnostic_questions ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var questions []model.DiagnosticQuestion
	for rows.Next() {
		var q model.DiagnosticQuestion
		if err := rows.Scan(&q.ID, &q.Text); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// QuestionCount returns the number of questions in the bank.
func (s *Store) QuestionCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM diagnostic_questions`).Scan(&count)
	return count, err
}

// ResultTx is the write side of a diagnostic submission. Both writes share
// one database transaction.
type ResultTx struct {
	tx *sql.Tx
}

// InsertResult appends a diagnostic result record.
func (t *ResultTx) InsertResult(r model.DiagnosticResult) error {
	createdAt := r.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := t.tx.Exec(
		`INSERT INTO diagnostic_results (id, user_id, correct_answers, level, created_at) VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.UserID, r.CorrectAnswers, r.Level, createdAt,
	)
	return err
}

// UpdateProfile sets the user's level and marks the diagnostic as completed.
func (t *ResultTx) UpdateProfile(userID int64, level model.Level) error {
	now := time.Now()
	_, err := t.tx.Exec(
		`INSERT INTO profiles (user_id, level, diagnostic_completed, updated_at)
		 VALUES (?, ?, 1, ?)
		 ON CONFLICT(user_id) DO UPDATE SET level = ?, diagnostic_completed = 1, updated_at = ?`,
		userID, level, now, level, now,
	)
	return err
}

// DiagnosticTx runs fn inside a transaction. The transaction commits only if
// fn returns nil.
func (s *Store) DiagnosticTx(fn func(*ResultTx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(&ResultTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

// ListResults returns a user's diagnostic results, newest first.
func (s *Store) ListResults(userID int64) ([]model.DiagnosticResult, error) {
	rows, err := s.db.Query(
		`SELECT id, user_id, correct_answers, level, created_at
		 FROM diagnostic_results WHERE user_id = ? ORDER BY created_at DESC, rowid DESC`, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanResults(rows)
}

// LatestResult returns the user's most recent result, or nil if none exist.
func (s *Store) LatestResult(userID int64) (*model.DiagnosticResult, error) {
	var r model.DiagnosticResult
	err := s.db.QueryRow(
		`SELECT id, user_id, correct_answers, level, created_at
		 FROM diagnostic_results WHERE user_id = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`, userID,
	).Scan(&r.ID, &r.UserID, &r.CorrectAnswers, &r.Level, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// GetResult returns a result by ID, or nil if it does not exist.
func (s *Store) GetResult(id string) (*model.DiagnosticResult, error) {
	var r model.DiagnosticResult
	err := s.db.QueryRow(
		`SELECT id, user_id, correct_answers, level, created_at FROM diagnostic_results WHERE id = ?`, id,
	).Scan(&r.ID, &r.UserID, &r.CorrectAnswers, &r.Level, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ResultCount returns the total number of stored results.
func (s *Store) ResultCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM diagnostic_results`).Scan(&count)
	return count, err
}

func scanResults(rows *sql.Rows) ([]model.DiagnosticResult, error) {
	var results []model.DiagnosticResult
	for rows.Next() {
		var r model.DiagnosticResult
		if err := rows.Scan(&r.ID, &r.UserID, &r.CorrectAnswers, &r.Level, &r.CreatedAt); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// GetProfile returns the profile for a user, or nil if it does not exist.
func (s *Store) GetProfile(userID int64) (*model.Profile, error) {
	var p model.Profile
	var level sql.NullString
	err := s.db.QueryRow(
		`SELECT user_id, level, diagnostic_completed, updated_at FROM profiles WHERE user_id = ?`, userID,
	).Scan(&p.UserID, &level, &p.DiagnosticCompleted, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.Level = model.Level(level.String)
	return &p, nil
}
