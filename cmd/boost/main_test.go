package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/pavelanni/boost/internal/model"
	"github.com/pavelanni/boost/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func writeBank(t *testing.T, prefix string) string {
	t.Helper()
	qs := make([]model.DiagnosticQuestion, 20)
	for i := range qs {
		qs[i] = model.DiagnosticQuestion{ID: i + 1, Text: fmt.Sprintf("%s %d", prefix, i+1)}
	}
	data, err := json.Marshal(qs)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "questions.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadQuestionsDefaults(t *testing.T) {
	s := newTestStore(t)
	if err := loadQuestions(s, ""); err != nil {
		t.Fatalf("loadQuestions: %v", err)
	}
	n, err := s.QuestionCount()
	if err != nil {
		t.Fatal(err)
	}
	if n != 20 {
		t.Errorf("QuestionCount = %d, want 20", n)
	}
}

func TestLoadQuestionsFromFile(t *testing.T) {
	s := newTestStore(t)
	path := writeBank(t, "Grammar")

	if err := loadQuestions(s, path); err != nil {
		t.Fatalf("loadQuestions: %v", err)
	}
	qs, err := s.ListQuestions()
	if err != nil {
		t.Fatal(err)
	}
	if len(qs) != 20 || qs[0].Text != "Grammar 1" {
		t.Fatalf("unexpected questions: %+v", qs[:1])
	}

	// Unchanged file is skipped; the import hash stays.
	if err := loadQuestions(s, path); err != nil {
		t.Fatalf("second loadQuestions: %v", err)
	}
	hash, err := s.GetImportedFileHash(path)
	if err != nil {
		t.Fatal(err)
	}
	if hash == "" {
		t.Error("import hash not recorded")
	}
}

func TestLoadQuestionsRejectsBadBank(t *testing.T) {
	s := newTestStore(t)
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte(`[{"id":1,"text":"only one"}]`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := loadQuestions(s, path); err == nil {
		t.Error("expected error for a bank with one question")
	}
}

func TestSeedAdmin(t *testing.T) {
	s := newTestStore(t)

	if err := seedAdmin(s, "admin@boost.local", ""); err != nil {
		t.Fatalf("seedAdmin without password: %v", err)
	}
	if n, _ := s.AdminCount(); n != 0 {
		t.Fatalf("AdminCount = %d, want 0", n)
	}

	if err := seedAdmin(s, "admin@boost.local", "abc"); err == nil {
		t.Error("expected error for a short password")
	}

	if err := seedAdmin(s, "admin@boost.local", "adminpass"); err != nil {
		t.Fatalf("seedAdmin: %v", err)
	}
	u, err := s.GetUserByEmail("admin@boost.local")
	if err != nil || u == nil {
		t.Fatalf("GetUserByEmail: %v, %v", u, err)
	}
	if u.Role != model.UserRoleAdmin || !u.Active {
		t.Errorf("admin = %+v", u)
	}

	// Idempotent once an admin exists.
	if err := seedAdmin(s, "other@boost.local", "adminpass"); err != nil {
		t.Fatalf("second seedAdmin: %v", err)
	}
	if n, _ := s.AdminCount(); n != 1 {
		t.Errorf("AdminCount = %d, want 1", n)
	}
}

func TestNormalizeBasePath(t *testing.T) {
	tests := map[string]string{
		"":     "",
		"/":    "",
		"es":   "/es",
		"/es/": "/es",
	}
	for in, want := range tests {
		if got := normalizeBasePath(in); got != want {
			t.Errorf("normalizeBasePath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRootCommands(t *testing.T) {
	root := rootCmd()
	for _, name := range []string{"serve", "export", "login", "register", "logout", "whoami", "diagnostic"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("command %q not registered", name)
		}
	}
	if root.Flags().Lookup("addr") == nil {
		t.Error("serve flags should be available on the root command")
	}
}
