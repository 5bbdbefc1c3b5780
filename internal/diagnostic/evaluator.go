package diagnostic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/boost/internal/model"
)

var (
	// ErrIdentityMissing means no current user could be resolved. Nothing was written.
	ErrIdentityMissing = errors.New("no current user")
	// ErrPersistence means a result or profile write failed. Nothing was committed.
	ErrPersistence = errors.New("save diagnostic result")
)

// Identity resolves the user a submission belongs to.
type Identity interface {
	CurrentUser(ctx context.Context) (*model.User, error)
}

// IdentityFunc adapts a function to Identity.
type IdentityFunc func(ctx context.Context) (*model.User, error)

// CurrentUser calls f.
func (f IdentityFunc) CurrentUser(ctx context.Context) (*model.User, error) {
	return f(ctx)
}

// Tx is the pair of writes a submission performs.
type Tx interface {
	InsertResult(r model.DiagnosticResult) error
	UpdateProfile(userID int64, level model.Level) error
}

// Store runs fn atomically: either both writes land or neither does.
type Store interface {
	WithTx(fn func(Tx) error) error
}

// Recorder is notified of every persisted outcome.
type Recorder interface {
	RecordSubmission(level model.Level, correct int)
}

// Outcome is what a successful submission reports back for display.
type Outcome struct {
	ResultID       string      `json:"result_id"`
	CorrectAnswers int         `json:"correct_answers"`
	Level          model.Level `json:"level"`
}

// Evaluator scores answer sets and persists the result.
type Evaluator struct {
	identity Identity
	store    Store
	recorder Recorder
	now      func() time.Time
	newID    func() string
}

// NewEvaluator creates an Evaluator. recorder may be nil.
func NewEvaluator(identity Identity, store Store, recorder Recorder) *Evaluator {
	return &Evaluator{
		identity: identity,
		store:    store,
		recorder: recorder,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Submit scores answers for the current user and stores the result, then
// updates the user's profile. Both writes happen in one transaction, in
// that order.
func (e *Evaluator) Submit(ctx context.Context, answers AnswerSet) (Outcome, error) {
	user, err := e.identity.CurrentUser(ctx)
	if err != nil {
		slog.Error("resolve current user", "error", err)
		return Outcome{}, fmt.Errorf("%w: %v", ErrIdentityMissing, err)
	}
	if user == nil {
		return Outcome{}, ErrIdentityMissing
	}

	correct := answers.Score()
	out := Outcome{
		ResultID:       e.newID(),
		CorrectAnswers: correct,
		Level:          LevelFor(correct),
	}

	err = e.store.WithTx(func(tx Tx) error {
		if err := tx.InsertResult(model.DiagnosticResult{
			ID:             out.ResultID,
			UserID:         user.ID,
			CorrectAnswers: out.CorrectAnswers,
			Level:          out.Level,
			CreatedAt:      e.now(),
		}); err != nil {
			return fmt.Errorf("insert result: %w", err)
		}
		if err := tx.UpdateProfile(user.ID, out.Level); err != nil {
			return fmt.Errorf("update profile: %w", err)
		}
		return nil
	})
	if err != nil {
		slog.Error("diagnostic submission failed", "user_id", user.ID, "error", err)
		return Outcome{}, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	if e.recorder != nil {
		e.recorder.RecordSubmission(out.Level, out.CorrectAnswers)
	}
	slog.Info("diagnostic submitted", "user_id", user.ID, "correct", out.CorrectAnswers, "level", out.Level)
	return out, nil
}
