package diagnostic

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/pavelanni/boost/internal/model"
)

// ErrInvalidQuestionBank means an imported bank is not exactly questions 1..20.
var ErrInvalidQuestionBank = errors.New("invalid question bank")

// DefaultQuestions returns the placeholder bank used until one is imported.
func DefaultQuestions() []model.DiagnosticQuestion {
	qs := make([]model.DiagnosticQuestion, QuestionCount)
	for i := range qs {
		qs[i] = model.DiagnosticQuestion{ID: i + 1, Text: fmt.Sprintf("Diagnostic question %d", i+1)}
	}
	return qs
}

// ParseQuestionBank decodes a JSON array of questions and checks that it
// holds each ID from 1 to QuestionCount exactly once. The result is sorted
// by ID.
func ParseQuestionBank(data []byte) ([]model.DiagnosticQuestion, error) {
	var imports []model.QuestionImport
	if err := json.Unmarshal(data, &imports); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuestionBank, err)
	}
	if len(imports) != QuestionCount {
		return nil, fmt.Errorf("%w: want %d questions, got %d", ErrInvalidQuestionBank, QuestionCount, len(imports))
	}

	seen := make(map[int]bool, QuestionCount)
	qs := make([]model.DiagnosticQuestion, 0, QuestionCount)
	for _, qi := range imports {
		if qi.ID < 1 || qi.ID > QuestionCount {
			return nil, fmt.Errorf("%w: id %d out of range", ErrInvalidQuestionBank, qi.ID)
		}
		if seen[qi.ID] {
			return nil, fmt.Errorf("%w: duplicate id %d", ErrInvalidQuestionBank, qi.ID)
		}
		text := strings.TrimSpace(qi.Text)
		if text == "" {
			return nil, fmt.Errorf("%w: question %d has no text", ErrInvalidQuestionBank, qi.ID)
		}
		seen[qi.ID] = true
		qs = append(qs, model.DiagnosticQuestion{ID: qi.ID, Text: text})
	}
	sort.Slice(qs, func(i, j int) bool { return qs[i].ID < qs[j].ID })
	return qs, nil
}
