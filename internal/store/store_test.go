package store

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pavelanni/boost/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createTestUser(t *testing.T, s *Store, email string) int64 {
	t.Helper()
	id, err := s.CreateUser(model.User{
		Email:        email,
		FullName:     "Test " + email,
		PasswordHash: "hash",
		Active:       true,
	})
	if err != nil {
		t.Fatalf("createTestUser: %v", err)
	}
	return id
}

func TestUserCRUD(t *testing.T) {
	s := newTestStore(t)

	count, err := s.UserCount()
	if err != nil {
		t.Fatalf("UserCount: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 users, got %d", count)
	}

	id := createTestUser(t, s, "Ana@Example.com")

	u, err := s.GetUserByEmail("  ana@example.COM ")
	if err != nil {
		t.Fatalf("GetUserByEmail: %v", err)
	}
	if u == nil {
		t.Fatal("expected user, got nil")
	}
	if u.ID != id {
		t.Errorf("expected id %d, got %d", id, u.ID)
	}
	if u.Email != "ana@example.com" {
		t.Errorf("expected normalized email, got %q", u.Email)
	}
	if u.Provider != model.ProviderEmail {
		t.Errorf("expected provider email, got %q", u.Provider)
	}
	if u.Role != model.UserRoleStudent {
		t.Errorf("expected role student, got %q", u.Role)
	}
	if !u.Active {
		t.Error("expected active user")
	}

	byID, err := s.GetUserByID(id)
	if err != nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	if byID == nil || byID.Email != u.Email {
		t.Errorf("GetUserByID returned %+v", byID)
	}

	missing, err := s.GetUserByEmail("nobody@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail missing: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for missing user, got %+v", missing)
	}

	// Profile is created alongside the user.
	p, err := s.GetProfile(id)
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if p == nil {
		t.Fatal("expected profile, got nil")
	}
	if p.DiagnosticCompleted {
		t.Error("new profile should not have diagnostic completed")
	}
	if p.Level != "" {
		t.Errorf("new profile should have no level, got %q", p.Level)
	}

	// Duplicate email is rejected.
	if _, err := s.CreateUser(model.User{Email: "ana@example.com", Active: true}); err == nil {
		t.Error("expected error for duplicate email")
	}

	if err := s.ToggleUserActive(id); err != nil {
		t.Fatalf("ToggleUserActive: %v", err)
	}
	u, _ = s.GetUserByID(id)
	if u.Active {
		t.Error("expected user to be inactive after toggle")
	}
}

func TestListUsersAndAdminCount(t *testing.T) {
	s := newTestStore(t)
	createTestUser(t, s, "a@example.com")
	if _, err := s.CreateUser(model.User{Email: "root@example.com", Role: model.UserRoleAdmin, Active: true}); err != nil {
		t.Fatalf("CreateUser admin: %v", err)
	}

	users, err := s.ListUsers()
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("expected 2 users, got %d", len(users))
	}
	admins, err := s.AdminCount()
	if err != nil {
		t.Fatalf("AdminCount: %v", err)
	}
	if admins != 1 {
		t.Errorf("expected 1 admin, got %d", admins)
	}
}

func TestAuthSessionLifecycle(t *testing.T) {
	s := newTestStore(t)
	uid := createTestUser(t, s, "s@example.com")

	sess, err := s.CreateAuthSession(uid)
	if err != nil {
		t.Fatalf("CreateAuthSession: %v", err)
	}
	if len(sess.ID) != 64 {
		t.Errorf("expected 64-char hex token, got %d chars", len(sess.ID))
	}

	got, err := s.GetAuthSession(sess.ID)
	if err != nil {
		t.Fatalf("GetAuthSession: %v", err)
	}
	if got == nil || got.UserID != uid {
		t.Fatalf("expected session for user %d, got %+v", uid, got)
	}

	if err := s.DeleteAuthSession(sess.ID); err != nil {
		t.Fatalf("DeleteAuthSession: %v", err)
	}
	got, err = s.GetAuthSession(sess.ID)
	if err != nil {
		t.Fatalf("GetAuthSession after delete: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil after delete, got %+v", got)
	}
}

func TestExpiredAuthSession(t *testing.T) {
	s := newTestStore(t)
	uid := createTestUser(t, s, "old@example.com")

	past := time.Now().Add(-48 * time.Hour)
	_, err := s.db.Exec(
		`INSERT INTO auth_sessions (id, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		"stale", uid, past, past.Add(AuthSessionTTL),
	)
	if err != nil {
		t.Fatalf("insert stale session: %v", err)
	}

	got, err := s.GetAuthSession("stale")
	if err != nil {
		t.Fatalf("GetAuthSession: %v", err)
	}
	if got != nil {
		t.Errorf("expected expired session to be nil, got %+v", got)
	}

	_, err = s.db.Exec(
		`INSERT INTO auth_sessions (id, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		"stale2", uid, past, past.Add(AuthSessionTTL),
	)
	if err != nil {
		t.Fatalf("insert stale session: %v", err)
	}
	n, err := s.CleanupExpiredSessions()
	if err != nil {
		t.Fatalf("CleanupExpiredSessions: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 session cleaned up, got %d", n)
	}
}

func TestDiagnosticTxCommit(t *testing.T) {
	s := newTestStore(t)
	uid := createTestUser(t, s, "d@example.com")

	err := s.DiagnosticTx(func(tx *ResultTx) error {
		if err := tx.InsertResult(model.DiagnosticResult{
			ID: "r1", UserID: uid, CorrectAnswers: 12, Level: model.LevelB1,
		}); err != nil {
			return err
		}
		return tx.UpdateProfile(uid, model.LevelB1)
	})
	if err != nil {
		t.Fatalf("DiagnosticTx: %v", err)
	}

	r, err := s.GetResult("r1")
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if r == nil || r.CorrectAnswers != 12 || r.Level != model.LevelB1 {
		t.Errorf("unexpected result %+v", r)
	}

	p, err := s.GetProfile(uid)
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if !p.DiagnosticCompleted {
		t.Error("expected diagnostic completed")
	}
	if p.Level != model.LevelB1 {
		t.Errorf("expected level B1, got %q", p.Level)
	}
}

func TestDiagnosticTxRollback(t *testing.T) {
	s := newTestStore(t)
	uid := createTestUser(t, s, "r@example.com")
	boom := errors.New("boom")

	err := s.DiagnosticTx(func(tx *ResultTx) error {
		if err := tx.InsertResult(model.DiagnosticResult{
			ID: "r1", UserID: uid, CorrectAnswers: 3, Level: model.LevelA1,
		}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	count, err := s.ResultCount()
	if err != nil {
		t.Fatalf("ResultCount: %v", err)
	}
	if count != 0 {
		t.Errorf("expected rollback to leave 0 results, got %d", count)
	}
	p, _ := s.GetProfile(uid)
	if p.DiagnosticCompleted {
		t.Error("profile should be untouched after rollback")
	}
}

func TestFileDatabasePragmas(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "boost.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	// Every pooled connection must carry the settings, not just the first.
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var mode string
			var timeout int
			if err := s.db.QueryRow(`PRAGMA journal_mode`).Scan(&mode); err != nil {
				t.Errorf("journal_mode: %v", err)
				return
			}
			if err := s.db.QueryRow(`PRAGMA busy_timeout`).Scan(&timeout); err != nil {
				t.Errorf("busy_timeout: %v", err)
				return
			}
			if mode != "wal" || timeout != 5000 {
				t.Errorf("journal_mode/busy_timeout = %s/%d, want wal/5000", mode, timeout)
			}
		}()
	}
	wg.Wait()
}

func TestDiagnosticTxConcurrentWriters(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "boost.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	const users, perUser = 16, 10
	ids := make([]int64, users)
	for i := range ids {
		ids[i] = createTestUser(t, s, fmt.Sprintf("w%d@example.com", i))
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed int
		first  error
	)
	for _, uid := range ids {
		for j := range perUser {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := s.DiagnosticTx(func(tx *ResultTx) error {
					if err := tx.InsertResult(model.DiagnosticResult{
						ID: fmt.Sprintf("r-%d-%d", uid, j), UserID: uid, CorrectAnswers: 9, Level: model.LevelA2,
					}); err != nil {
						return err
					}
					return tx.UpdateProfile(uid, model.LevelA2)
				})
				if err != nil {
					mu.Lock()
					if failed == 0 {
						first = err
					}
					failed++
					mu.Unlock()
				}
			}()
		}
	}
	wg.Wait()

	if failed > 0 {
		t.Fatalf("failed transactions: %d/%d; first error: %v", failed, users*perUser, first)
	}
	count, err := s.ResultCount()
	if err != nil {
		t.Fatalf("ResultCount: %v", err)
	}
	if count != users*perUser {
		t.Errorf("ResultCount = %d, want %d", count, users*perUser)
	}
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	s := newTestStore(t)
	createTestUser(t, s, "dup@example.com")

	_, err := s.CreateUser(model.User{Email: " DUP@example.com ", FullName: "Again", Active: true})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if n, _ := s.UserCount(); n != 1 {
		t.Errorf("UserCount = %d, want 1", n)
	}
}

func TestListAndLatestResults(t *testing.T) {
	s := newTestStore(t)
	uid := createTestUser(t, s, "l@example.com")

	latest, err := s.LatestResult(uid)
	if err != nil {
		t.Fatalf("LatestResult: %v", err)
	}
	if latest != nil {
		t.Errorf("expected nil latest result, got %+v", latest)
	}

	base := time.Now().Add(-time.Hour)
	for i, score := range []int{4, 9, 17} {
		err := s.DiagnosticTx(func(tx *ResultTx) error {
			return tx.InsertResult(model.DiagnosticResult{
				ID:             string(rune('a' + i)),
				UserID:         uid,
				CorrectAnswers: score,
				Level:          model.LevelA1,
				CreatedAt:      base.Add(time.Duration(i) * time.Minute),
			})
		})
		if err != nil {
			t.Fatalf("insert result %d: %v", i, err)
		}
	}

	results, err := s.ListResults(uid)
	if err != nil {
		t.Fatalf("ListResults: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].CorrectAnswers != 17 {
		t.Errorf("expected newest first, got %d", results[0].CorrectAnswers)
	}

	latest, err = s.LatestResult(uid)
	if err != nil {
		t.Fatalf("LatestResult: %v", err)
	}
	if latest == nil || latest.CorrectAnswers != 17 {
		t.Errorf("unexpected latest result %+v", latest)
	}
}

func TestQuestionBank(t *testing.T) {
	s := newTestStore(t)

	count, err := s.QuestionCount()
	if err != nil {
		t.Fatalf("QuestionCount: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected empty bank, got %d", count)
	}

	err = s.ReplaceQuestions([]model.DiagnosticQuestion{
		{ID: 2, Text: "second"},
		{ID: 1, Text: "first"},
	})
	if err != nil {
		t.Fatalf("ReplaceQuestions: %v", err)
	}
	qs, err := s.ListQuestions()
	if err != nil {
		t.Fatalf("ListQuestions: %v", err)
	}
	if len(qs) != 2 || qs[0].Text != "first" || qs[1].Text != "second" {
		t.Errorf("unexpected questions %+v", qs)
	}

	// Replacing swaps the whole bank.
	if err := s.ReplaceQuestions([]model.DiagnosticQuestion{{ID: 1, Text: "only"}}); err != nil {
		t.Fatalf("ReplaceQuestions: %v", err)
	}
	qs, _ = s.ListQuestions()
	if len(qs) != 1 || qs[0].Text != "only" {
		t.Errorf("unexpected questions after replace %+v", qs)
	}
}

func TestMetadataAndSecrets(t *testing.T) {
	s := newTestStore(t)

	v, err := s.GetMetadata("missing")
	if err != nil {
		t.Fatalf("GetMetadata: %v", err)
	}
	if v != "" {
		t.Errorf("expected empty value, got %q", v)
	}

	first, err := s.EnsureSecret(MetaJWTSecret)
	if err != nil {
		t.Fatalf("EnsureSecret: %v", err)
	}
	second, err := s.EnsureSecret(MetaJWTSecret)
	if err != nil {
		t.Fatalf("EnsureSecret: %v", err)
	}
	if first == "" || first != second {
		t.Errorf("expected stable secret, got %q then %q", first, second)
	}

	hash, err := s.GetImportedFileHash("questions.json")
	if err != nil {
		t.Fatalf("GetImportedFileHash: %v", err)
	}
	if hash != "" {
		t.Errorf("expected no hash, got %q", hash)
	}
	if err := s.SetImportedFileHash("questions.json", "abc"); err != nil {
		t.Fatalf("SetImportedFileHash: %v", err)
	}
	hash, _ = s.GetImportedFileHash("questions.json")
	if hash != "abc" {
		t.Errorf("expected hash abc, got %q", hash)
	}
}

func TestOAuthState(t *testing.T) {
	s := newTestStore(t)

	err := s.PutOAuthState(model.OAuthState{State: "st1", Provider: model.ProviderGoogle, ReturnTo: "/"})
	if err != nil {
		t.Fatalf("PutOAuthState: %v", err)
	}
	st, err := s.GetOAuthState("st1")
	if err != nil {
		t.Fatalf("GetOAuthState: %v", err)
	}
	if st == nil || st.Provider != model.ProviderGoogle || st.SessionID != "" {
		t.Fatalf("unexpected state %+v", st)
	}

	if err := s.AttachOAuthSession("st1", "sess"); err != nil {
		t.Fatalf("AttachOAuthSession: %v", err)
	}
	st, _ = s.GetOAuthState("st1")
	if st.SessionID != "sess" {
		t.Errorf("expected attached session, got %q", st.SessionID)
	}

	if err := s.DeleteOAuthState("st1"); err != nil {
		t.Fatalf("DeleteOAuthState: %v", err)
	}
	st, _ = s.GetOAuthState("st1")
	if st != nil {
		t.Errorf("expected nil after delete, got %+v", st)
	}

	err = s.PutOAuthState(model.OAuthState{
		State:     "old",
		Provider:  model.ProviderGitHub,
		CreatedAt: time.Now().Add(-2 * OAuthStateTTL),
	})
	if err != nil {
		t.Fatalf("PutOAuthState old: %v", err)
	}
	st, err = s.GetOAuthState("old")
	if err != nil {
		t.Fatalf("GetOAuthState old: %v", err)
	}
	if st != nil {
		t.Errorf("expected expired state to be nil, got %+v", st)
	}
}

func TestExportAllResults(t *testing.T) {
	s := newTestStore(t)
	a := createTestUser(t, s, "a@example.com")
	b := createTestUser(t, s, "b@example.com")

	base := time.Now().Add(-time.Hour)
	inserts := []model.DiagnosticResult{
		{ID: "1", UserID: a, CorrectAnswers: 5, Level: model.LevelA1, CreatedAt: base},
		{ID: "2", UserID: b, CorrectAnswers: 11, Level: model.LevelB1, CreatedAt: base.Add(time.Minute)},
		{ID: "3", UserID: a, CorrectAnswers: 16, Level: model.LevelB2, CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, r := range inserts {
		r := r
		if err := s.DiagnosticTx(func(tx *ResultTx) error { return tx.InsertResult(r) }); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	out, err := s.ExportAllResults()
	if err != nil {
		t.Fatalf("ExportAllResults: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 exported results, got %d", len(out))
	}
	if out[0].Email != "a@example.com" || out[0].AttemptNumber != 1 {
		t.Errorf("unexpected first export %+v", out[0])
	}
	if out[1].Email != "b@example.com" || out[1].AttemptNumber != 1 {
		t.Errorf("unexpected second export %+v", out[1])
	}
	if out[2].AttemptNumber != 2 || out[2].Level != model.LevelB2 {
		t.Errorf("unexpected third export %+v", out[2])
	}
}
