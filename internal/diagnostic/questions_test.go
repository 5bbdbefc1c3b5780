package diagnostic

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelanni/boost/internal/model"
)

func bankJSON(t *testing.T, mutate func([]model.QuestionImport) []model.QuestionImport) []byte {
	t.Helper()
	qs := make([]model.QuestionImport, QuestionCount)
	for i := range qs {
		// Reverse order to check sorting.
		id := QuestionCount - i
		qs[i] = model.QuestionImport{ID: id, Text: fmt.Sprintf(" Q%d ", id)}
	}
	if mutate != nil {
		qs = mutate(qs)
	}
	data, err := json.Marshal(qs)
	require.NoError(t, err)
	return data
}

func TestDefaultQuestions(t *testing.T) {
	qs := DefaultQuestions()
	require.Len(t, qs, QuestionCount)
	assert.Equal(t, model.DiagnosticQuestion{ID: 1, Text: "Diagnostic question 1"}, qs[0])
	assert.Equal(t, 20, qs[19].ID)
}

func TestParseQuestionBank(t *testing.T) {
	qs, err := ParseQuestionBank(bankJSON(t, nil))
	require.NoError(t, err)
	require.Len(t, qs, QuestionCount)
	assert.Equal(t, 1, qs[0].ID)
	assert.Equal(t, "Q1", qs[0].Text)
	assert.Equal(t, 20, qs[19].ID)
}

func TestParseQuestionBankRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func([]model.QuestionImport) []model.QuestionImport
	}{
		{"too few", func(qs []model.QuestionImport) []model.QuestionImport { return qs[:19] }},
		{"duplicate id", func(qs []model.QuestionImport) []model.QuestionImport { qs[0].ID = qs[1].ID; return qs }},
		{"id out of range", func(qs []model.QuestionImport) []model.QuestionImport { qs[0].ID = 21; return qs }},
		{"empty text", func(qs []model.QuestionImport) []model.QuestionImport { qs[3].Text = "  "; return qs }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseQuestionBank(bankJSON(t, tt.mutate))
			assert.ErrorIs(t, err, ErrInvalidQuestionBank)
		})
	}

	_, err := ParseQuestionBank([]byte(`{"not":"an array"}`))
	assert.ErrorIs(t, err, ErrInvalidQuestionBank)
}
