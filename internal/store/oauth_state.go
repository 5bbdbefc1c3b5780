package store

import (
	"database/sql"
	"time"

	"github.com/pavelanni/boost/internal/model"
)

// OAuthStateTTL bounds how long an authorization request may stay pending.
const OAuthStateTTL = 10 * time.Minute

// PutOAuthState records a pending OAuth authorization request.
func (s *Store) PutOAuthState(st model.OAuthState) error {
	createdAt := st.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT INTO oauth_states (state, provider, return_to, session_id, created_at) VALUES (?, ?, ?, '', ?)`,
		st.State, st.Provider, st.ReturnTo, createdAt,
	)
	return err
}

// GetOAuthState returns a pending state, or nil if missing or expired.
func (s *Store) GetOAuthState(state string) (*model.OAuthState, error) {
	var st model.OAuthState
	err := s.db.QueryRow(
		`SELECT state, provider, return_to, session_id, created_at FROM oauth_states WHERE state = ?`, state,
	).Scan(&st.State, &st.Provider, &st.ReturnTo, &st.SessionID, &st.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if time.Since(st.CreatedAt) > OAuthStateTTL {
		_ = s.DeleteOAuthState(state)
		return nil, nil
	}
	return &st, nil
}

// AttachOAuthSession stores the session that completed a flow so a polling
// client can collect it.
func (s *Store) AttachOAuthSession(state, sessionID string) error {
	_, err := s.db.Exec(`UPDATE oauth_states SET session_id = ? WHERE state = ?`, sessionID, state)
	return err
}

// DeleteOAuthState removes a state so it cannot be replayed.
func (s *Store) DeleteOAuthState(state string) error {
	_, err := s.db.Exec(`DELETE FROM oauth_states WHERE state = ?`, state)
	return err
}

// CleanupExpiredOAuthStates removes abandoned authorization requests.
func (s *Store) CleanupExpiredOAuthStates() error {
	_, err := s.db.Exec(`DELETE FROM oauth_states WHERE created_at < ?`, time.Now().Add(-OAuthStateTTL))
	return err
}
