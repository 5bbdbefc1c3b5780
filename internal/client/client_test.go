package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelanni/boost/internal/auth"
	"github.com/pavelanni/boost/internal/diagnostic"
	"github.com/pavelanni/boost/internal/handler"
	appI18n "github.com/pavelanni/boost/internal/i18n"
	"github.com/pavelanni/boost/internal/model"
	"github.com/pavelanni/boost/internal/session"
	"github.com/pavelanni/boost/internal/store"
)

func newServer(t *testing.T) string {
	t.Helper()
	require.NoError(t, appI18n.Init("en"))

	s, err := store.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.ReplaceQuestions(diagnostic.DefaultQuestions()))

	a, err := auth.New(s, auth.Config{JWTSecret: "test-secret", PublicURL: "http://example.test"})
	require.NoError(t, err)
	h, err := handler.New(s, a, nil, model.AppConfig{LoginBurst: 100})
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(appI18n.Middleware("en"))
	r.Use(h.BasePathMiddleware)
	h.Routes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv.URL + "/api"
}

type eventLog struct {
	mu     sync.Mutex
	events []session.Event
}

func (l *eventLog) record(e session.Event, _ *model.Session) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) all() []session.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]session.Event(nil), l.events...)
}

func signUp(t *testing.T, c *Client, email string) {
	t.Helper()
	_, err := c.SignUp(context.Background(), auth.SignUpRequest{
		Email: email, Password: "secret123", FullName: "Ana Student",
	})
	require.NoError(t, err)
}

func TestCredentialsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "boost", "credentials.toml")

	c, err := LoadCredentials(path)
	require.NoError(t, err)
	assert.Equal(t, Credentials{}, c)

	want := Credentials{
		APIURL:    "http://localhost:4000/api",
		Token:     "tok",
		Email:     "ana@example.com",
		ExpiresAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	require.NoError(t, SaveCredentials(path, want))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	got, err := LoadCredentials(path)
	require.NoError(t, err)
	assert.Equal(t, want.Token, got.Token)
	assert.Equal(t, want.Email, got.Email)
	assert.True(t, want.ExpiresAt.Equal(got.ExpiresAt))

	require.NoError(t, RemoveCredentials(path))
	require.NoError(t, RemoveCredentials(path))
}

func TestDefaultCredentialsPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	assert.Equal(t, "/tmp/xdg/boost/credentials.toml", DefaultCredentialsPath())
}

func TestNewPicksBaseURL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.toml")

	c, err := New("", path)
	require.NoError(t, err)
	assert.Equal(t, DefaultAPIURL, c.BaseURL())

	require.NoError(t, SaveCredentials(path, Credentials{APIURL: "http://saved/api", Token: "t"}))
	c, err = New("", path)
	require.NoError(t, err)
	assert.Equal(t, "http://saved/api", c.BaseURL())
	assert.NotEmpty(t, c.token())

	c, err = New("http://other/api/", path)
	require.NoError(t, err)
	assert.Equal(t, "http://other/api", c.BaseURL())
	assert.Empty(t, c.token())
}

func TestSignInAndOut(t *testing.T) {
	ctx := context.Background()
	apiURL := newServer(t)
	path := filepath.Join(t.TempDir(), "credentials.toml")

	c, err := New(apiURL, path)
	require.NoError(t, err)
	var log eventLog
	sub := c.OnAuthStateChange(log.record)
	defer sub.Unsubscribe()

	sess, err := c.GetSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, sess)

	signUp(t, c, "Ana@Example.com")
	_, err = c.SignInWithPassword(ctx, auth.SignInRequest{Email: "ana@example.com", Password: "secret123"})
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", c.Email())

	// A fresh client picks the saved token up.
	c2, err := New("", path)
	require.NoError(t, err)
	sess, err = c2.GetSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, sess)

	user, err := c2.GetUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Ana Student", user.FullName)

	require.NoError(t, c.SignOut(ctx))
	assert.Equal(t, []session.Event{session.EventSignedIn, session.EventSignedOut}, log.all())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	sess, err = c.GetSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, sess)
	require.NoError(t, c.SignOut(ctx))
}

func TestSignInErrors(t *testing.T) {
	ctx := context.Background()
	apiURL := newServer(t)
	path := filepath.Join(t.TempDir(), "credentials.toml")
	c, err := New(apiURL, path)
	require.NoError(t, err)

	_, err = c.SignUp(ctx, auth.SignUpRequest{Email: "bad", Password: "secret123", FullName: "Ana"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, []string{"email"}, apiErr.Fields)

	signUp(t, c, "ana@example.com")
	_, err = c.SignInWithPassword(ctx, auth.SignInRequest{Email: "ana@example.com", Password: "wrong-pass"})
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestRejectedTokenSignsOut(t *testing.T) {
	ctx := context.Background()
	apiURL := newServer(t)
	path := filepath.Join(t.TempDir(), "credentials.toml")
	require.NoError(t, SaveCredentials(path, Credentials{APIURL: apiURL, Token: "stale", Email: "ana@example.com"}))

	c, err := New(apiURL, path)
	require.NoError(t, err)
	var log eventLog
	c.OnAuthStateChange(log.record)

	_, err = c.Questions(ctx)
	require.ErrorIs(t, err, ErrNotSignedIn)
	assert.Equal(t, []session.Event{session.EventSignedOut}, log.all())
	assert.Empty(t, c.Email())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	_, err = c.Profile(ctx)
	require.ErrorIs(t, err, ErrNotSignedIn)
	assert.Len(t, log.all(), 1)
}

func TestDiagnosticOverAPI(t *testing.T) {
	ctx := context.Background()
	c, err := New(newServer(t), filepath.Join(t.TempDir(), "credentials.toml"))
	require.NoError(t, err)
	c.SetLanguage("es")

	signUp(t, c, "ana@example.com")
	_, err = c.SignInWithPassword(ctx, auth.SignInRequest{Email: "ana@example.com", Password: "secret123"})
	require.NoError(t, err)

	qs, err := c.Questions(ctx)
	require.NoError(t, err)
	require.Len(t, qs, diagnostic.QuestionCount)

	res, err := c.SubmitDiagnostic(ctx, []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11})
	require.NoError(t, err)
	assert.Equal(t, 11, res.CorrectAnswers)
	assert.Equal(t, model.LevelB1, res.Level)
	assert.Equal(t, "B1 (Intermedio)", res.LevelLabel)

	p, err := c.Profile(ctx)
	require.NoError(t, err)
	assert.True(t, p.Profile.DiagnosticCompleted)
	assert.Equal(t, res.ResultID, p.Latest.ID)

	res, err = c.SubmitDiagnostic(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, model.LevelA1, res.Level)

	_, err = c.SubmitDiagnostic(ctx, []int{21})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
}

func TestGateOverClient(t *testing.T) {
	ctx := context.Background()
	c, err := New(newServer(t), filepath.Join(t.TempDir(), "credentials.toml"))
	require.NoError(t, err)

	gate := session.NewGate(c)
	gate.Start(ctx)
	assert.Equal(t, session.Redirect, gate.Decide())

	signUp(t, c, "ana@example.com")
	_, err = c.SignInWithPassword(ctx, auth.SignInRequest{Email: "ana@example.com", Password: "secret123"})
	require.NoError(t, err)
	assert.Equal(t, session.Allow, gate.Decide())

	require.NoError(t, c.SignOut(ctx))
	assert.Equal(t, session.Redirect, gate.Decide())

	gate.Teardown()
	_, err = c.SignInWithPassword(ctx, auth.SignInRequest{Email: "ana@example.com", Password: "secret123"})
	require.NoError(t, err)
	assert.Equal(t, session.Redirect, gate.Decide())
}

func TestSignInWithOAuthPolls(t *testing.T) {
	var mu sync.Mutex
	polls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/oauth/github", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"url":"https://github.example/authorize","state":"st-1"}`))
	})
	mux.HandleFunc("/api/auth/oauth/poll", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "st-1", r.URL.Query().Get("state"))
		mu.Lock()
		polls++
		n := polls
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		if n < 3 {
			w.WriteHeader(http.StatusAccepted)
			_, _ = w.Write([]byte(`{"status":"pending"}`))
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"tok","token_type":"bearer","expires_at":"2030-01-01T00:00:00Z","user":{"id":7,"email":"octo@example.com"}}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "credentials.toml")
	c, err := New(srv.URL+"/api", path)
	require.NoError(t, err)
	c.PollInterval = 10 * time.Millisecond

	var opened string
	sess, err := c.SignInWithOAuth(context.Background(), model.ProviderGitHub, func(u string) error {
		opened = u
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "https://github.example/authorize", opened)
	assert.Equal(t, int64(7), sess.UserID)
	assert.Equal(t, 3, polls)

	saved, err := LoadCredentials(path)
	require.NoError(t, err)
	assert.Equal(t, "tok", saved.Token)
	assert.Equal(t, "octo@example.com", saved.Email)
}

func TestSignInWithOAuthStopsOnExpiredState(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/oauth/google", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"url":"https://accounts.example/auth","state":"st-2"}`))
	})
	mux.HandleFunc("/api/auth/oauth/poll", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
		_, _ = w.Write([]byte(`{"error":"invalid or expired OAuth state"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, err := New(srv.URL+"/api", filepath.Join(t.TempDir(), "credentials.toml"))
	require.NoError(t, err)
	c.PollInterval = 10 * time.Millisecond

	_, err = c.SignInWithOAuth(context.Background(), model.ProviderGoogle, func(string) error { return nil })
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusGone, apiErr.Status)
	assert.Equal(t, "invalid or expired OAuth state", apiErr.Message)
}
