package model

import "time"

// ResultsExport is the top-level JSON structure for diagnostic result export.
type ResultsExport struct {
	ExportedAt time.Time        `json:"exported_at"`
	Total      int              `json:"total"`
	Results    []ExportedResult `json:"results"`
}

// ExportedResult holds one diagnostic attempt joined with its user.
type ExportedResult struct {
	Email          string    `json:"email"`
	FullName       string    `json:"full_name"`
	AttemptNumber  int       `json:"attempt_number"`
	CorrectAnswers int       `json:"correct_answers"`
	Level          Level     `json:"level"`
	CreatedAt      time.Time `json:"created_at"`
}
