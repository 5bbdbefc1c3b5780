package diagnostic

import (
	"errors"
	"fmt"
)

// ErrUnknownQuestion is returned for question IDs outside 1..QuestionCount.
var ErrUnknownQuestion = errors.New("unknown question")

// AnswerSet records which questions were marked correct. Missing entries
// count as incorrect.
type AnswerSet map[int]bool

// NewAnswerSet builds a set with the given question IDs marked correct.
func NewAnswerSet(correct ...int) (AnswerSet, error) {
	a := AnswerSet{}
	for _, id := range correct {
		if err := checkID(id); err != nil {
			return nil, err
		}
		a[id] = true
	}
	return a, nil
}

// Toggle flips the answer for a question.
func (a AnswerSet) Toggle(id int) error {
	if err := checkID(id); err != nil {
		return err
	}
	if a[id] {
		delete(a, id)
	} else {
		a[id] = true
	}
	return nil
}

// IsCorrect reports whether a question is marked correct.
func (a AnswerSet) IsCorrect(id int) bool {
	return a[id]
}

// Score counts the questions marked correct.
func (a AnswerSet) Score() int {
	n := 0
	for id, ok := range a {
		if ok && checkID(id) == nil {
			n++
		}
	}
	return n
}

func checkID(id int) error {
	if id < 1 || id > QuestionCount {
		return fmt.Errorf("%w: %d", ErrUnknownQuestion, id)
	}
	return nil
}
