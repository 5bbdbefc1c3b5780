// Package diagnostic scores the placement quiz and records its outcome.
package diagnostic

import "github.com/pavelanni/boost/internal/model"

// QuestionCount is the fixed size of the diagnostic quiz.
const QuestionCount = 20

// threshold maps the highest score still inside a level to that level.
type threshold struct {
	maxScore int
	level    model.Level
}

// Ordered, exclusive bands. Anything above the last maxScore is B2.
var thresholds = []threshold{
	{maxScore: 5, level: model.LevelA1},
	{maxScore: 10, level: model.LevelA2},
	{maxScore: 15, level: model.LevelB1},
}

// LevelFor classifies a score. It is the only place the threshold table is
// read; submission, API responses and result pages all go through it.
func LevelFor(score int) model.Level {
	for _, t := range thresholds {
		if score <= t.maxScore {
			return t.level
		}
	}
	return model.LevelB2
}

// ValidLevel reports whether l is one of the known levels.
func ValidLevel(l model.Level) bool {
	for _, known := range model.Levels {
		if l == known {
			return true
		}
	}
	return false
}
