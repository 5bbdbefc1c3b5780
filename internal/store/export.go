package store

import (
	"fmt"

	"github.com/pavelanni/boost/internal/model"
)

// ExportAllResults builds export-ready records from every diagnostic result,
// oldest first.
func (s *Store) ExportAllResults() ([]model.ExportedResult, error) {
	rows, err := s.db.Query(
		`SELECT id, user_id, correct_answers, level, created_at
		 FROM diagnostic_results ORDER BY created_at, rowid`,
	)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	results, err := scanResults(rows)
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("scan results: %w", err)
	}

	// Track attempts per user for attempt_number.
	attempts := make(map[int64]int)
	users := make(map[int64]*model.User)

	var out []model.ExportedResult
	for _, r := range results {
		attempts[r.UserID]++

		user, ok := users[r.UserID]
		if !ok {
			user, err = s.GetUserByID(r.UserID)
			if err != nil {
				return nil, fmt.Errorf("get user %d: %w", r.UserID, err)
			}
			users[r.UserID] = user
		}

		var email, fullName string
		if user != nil {
			email = user.Email
			fullName = user.FullName
		}

		out = append(out, model.ExportedResult{
			Email:          email,
			FullName:       fullName,
			AttemptNumber:  attempts[r.UserID],
			CorrectAnswers: r.CorrectAnswers,
			Level:          r.Level,
			CreatedAt:      r.CreatedAt,
		})
	}

	return out, nil
}
