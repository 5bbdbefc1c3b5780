package store

import (
	"database/sql"
	"time"
)

// Metadata keys.
const (
	MetaJWTSecret = "jwt_secret"
)

// SetMetadata upserts a key-value pair in the app_metadata table.
func (s *Store) SetMetadata(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO app_metadata (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = ?`,
		key, value, value,
	)
	return err
}

// GetMetadata returns the value for a metadata key.
// Returns empty string and nil error if the key is missing.
func (s *Store) GetMetadata(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM app_metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// EnsureSecret returns the stored value for key, generating and storing a
// random one on first use.
func (s *Store) EnsureSecret(key string) (string, error) {
	v, err := s.GetMetadata(key)
	if err != nil {
		return "", err
	}
	if v != "" {
		return v, nil
	}
	v, err = generateToken()
	if err != nil {
		return "", err
	}
	if err := s.SetMetadata(key, v); err != nil {
		return "", err
	}
	return v, nil
}

// GetImportedFileHash returns the content hash recorded for an imported
// questions file, or "" if it was never imported.
func (s *Store) GetImportedFileHash(path string) (string, error) {
	var hash string
	err := s.db.QueryRow(`SELECT hash FROM imported_files WHERE path = ?`, path).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return hash, err
}

// SetImportedFileHash records that a questions file was imported.
func (s *Store) SetImportedFileHash(path, hash string) error {
	now := time.Now()
	_, err := s.db.Exec(
		`INSERT INTO imported_files (path, hash, imported_at) VALUES (?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET hash = ?, imported_at = ?`,
		path, hash, now, hash, now,
	)
	return err
}
