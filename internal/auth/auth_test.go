package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/pavelanni/boost/internal/model"
	"github.com/pavelanni/boost/internal/session"
	"github.com/pavelanni/boost/internal/store"
)

func newTestService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	s, err := store.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	svc, err := New(s, Config{JWTSecret: "test-secret", PublicURL: "http://localhost:4000"})
	require.NoError(t, err)
	return svc, s
}

type recordedEvent struct {
	event session.Event
	sess  *model.Session
}

type eventLog struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (l *eventLog) listen(event session.Event, sess *model.Session) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, recordedEvent{event, sess})
}

func (l *eventLog) names() []session.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]session.Event, len(l.events))
	for i, e := range l.events {
		out[i] = e.event
	}
	return out
}

func signUp(t *testing.T, svc *Service, email string) *model.User {
	t.Helper()
	u, err := svc.SignUp(context.Background(), SignUpRequest{
		Email:    email,
		Password: "secret123",
		FullName: "Ana Student",
	})
	require.NoError(t, err)
	return u
}

func TestNewRequiresSecret(t *testing.T) {
	s, err := store.New(":memory:")
	require.NoError(t, err)
	defer s.Close()

	_, err = New(s, Config{})
	assert.Error(t, err)
}

func TestSignUpSignInSignOut(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	var log eventLog
	sub := svc.OnAuthStateChange(log.listen)
	defer sub.Unsubscribe()

	u := signUp(t, svc, "  Ana@Example.com ")
	assert.Equal(t, "ana@example.com", u.Email)
	assert.Equal(t, model.UserRoleStudent, u.Role)
	assert.Equal(t, model.ProviderEmail, u.Provider)
	assert.NotEqual(t, "secret123", u.PasswordHash)

	prof, err := st.GetProfile(u.ID)
	require.NoError(t, err)
	require.NotNil(t, prof)
	assert.False(t, prof.DiagnosticCompleted)

	sess, err := svc.SignInWithPassword(ctx, SignInRequest{Email: "ana@example.com", Password: "secret123"})
	require.NoError(t, err)
	assert.Equal(t, u.ID, sess.UserID)

	got, err := svc.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, sess.ID, got.ID)

	user, err := svc.GetUser(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, u.Email, user.Email)

	require.NoError(t, svc.SignOut(ctx, sess.ID))
	got, err = svc.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	assert.Equal(t, []session.Event{session.EventSignedIn, session.EventSignedOut}, log.names())

	// Signing out twice is harmless and publishes nothing.
	require.NoError(t, svc.SignOut(ctx, sess.ID))
	assert.Len(t, log.names(), 2)
}

func TestSignUpDuplicateEmail(t *testing.T) {
	svc, _ := newTestService(t)
	signUp(t, svc, "ana@example.com")

	_, err := svc.SignUp(context.Background(), SignUpRequest{
		Email:    "ANA@example.com",
		Password: "another1",
		FullName: "Someone Else",
	})
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestSignUpConcurrentSameEmail(t *testing.T) {
	s, err := store.New(filepath.Join(t.TempDir(), "boost.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	svc, err := New(s, Config{JWTSecret: "test-secret"})
	require.NoError(t, err)

	const n = 8
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.SignUp(context.Background(), SignUpRequest{
				Email:    "race@example.com",
				Password: "secret123",
				FullName: "Racer",
			})
		}()
	}
	wg.Wait()

	created := 0
	for _, err := range errs {
		if err == nil {
			created++
			continue
		}
		assert.ErrorIs(t, err, ErrEmailTaken)
	}
	assert.Equal(t, 1, created)
	count, err := s.UserCount()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSignUpValidation(t *testing.T) {
	svc, _ := newTestService(t)

	tests := []struct {
		name  string
		req   SignUpRequest
		field string
	}{
		{"bad email", SignUpRequest{Email: "not-an-email", Password: "secret123", FullName: "A"}, "email"},
		{"short password", SignUpRequest{Email: "a@example.com", Password: "abc", FullName: "A"}, "password"},
		{"missing name", SignUpRequest{Email: "a@example.com", Password: "secret123", FullName: "  "}, "full_name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.SignUp(context.Background(), tt.req)
			require.ErrorIs(t, err, ErrInvalidInput)
			assert.Contains(t, InvalidFields(err), tt.field)
		})
	}
}

func TestSignInRejectsBadCredentials(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	u := signUp(t, svc, "ana@example.com")

	_, err := svc.SignInWithPassword(ctx, SignInRequest{Email: "ana@example.com", Password: "wrong-pass"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.SignInWithPassword(ctx, SignInRequest{Email: "nobody@example.com", Password: "secret123"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	require.NoError(t, st.ToggleUserActive(u.ID))
	_, err = svc.SignInWithPassword(ctx, SignInRequest{Email: "ana@example.com", Password: "secret123"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestDeactivatedUserLosesSession(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	u := signUp(t, svc, "ana@example.com")

	sess, err := svc.SignInWithPassword(ctx, SignInRequest{Email: "ana@example.com", Password: "secret123"})
	require.NoError(t, err)

	require.NoError(t, st.ToggleUserActive(u.ID))
	got, err := svc.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestTokenRoundTrip(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	signUp(t, svc, "ana@example.com")

	sess, err := svc.SignInWithPassword(ctx, SignInRequest{Email: "ana@example.com", Password: "secret123"})
	require.NoError(t, err)

	tok, err := svc.IssueToken(sess)
	require.NoError(t, err)

	id, err := svc.ParseToken(tok)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, id)

	_, err = svc.ParseToken(tok + "x")
	assert.ErrorIs(t, err, ErrInvalidToken)

	other, err := New(svc.store, Config{JWTSecret: "other-secret"})
	require.NoError(t, err)
	_, err = other.ParseToken(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestForSessionFiltersEvents(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	signUp(t, svc, "ana@example.com")
	signUp(t, svc, "ben@example.com")

	mine, err := svc.SignInWithPassword(ctx, SignInRequest{Email: "ana@example.com", Password: "secret123"})
	require.NoError(t, err)

	gate := session.NewGate(svc.ForSession(mine.ID))
	gate.Start(ctx)
	defer gate.Teardown()
	assert.Equal(t, session.Allow, gate.Decide())

	// Another user's sign-out must not affect this gate.
	theirs, err := svc.SignInWithPassword(ctx, SignInRequest{Email: "ben@example.com", Password: "secret123"})
	require.NoError(t, err)
	require.NoError(t, svc.SignOut(ctx, theirs.ID))
	assert.Equal(t, session.Allow, gate.Decide())

	require.NoError(t, svc.SignOut(ctx, mine.ID))
	assert.Equal(t, session.Redirect, gate.Decide())

	gate.Teardown()
	assert.Equal(t, 0, svc.broker.Len())
}

func TestBrokerUnsubscribe(t *testing.T) {
	b := NewBroker()
	var log eventLog
	sub := b.Subscribe(log.listen)
	b.Publish(session.EventSignedIn, &model.Session{ID: "s1"})
	sub.Unsubscribe()
	sub.Unsubscribe()
	b.Publish(session.EventSignedOut, &model.Session{ID: "s1"})

	assert.Equal(t, []session.Event{session.EventSignedIn}, log.names())
	assert.Equal(t, 0, b.Len())
}

// fakeProvider serves the token and user endpoints of a GitHub-like provider.
func fakeProvider(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.Form.Get("code") != "good-code" {
			http.Error(w, `{"error":"bad_verification_code"}`, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "gh-token",
			"token_type":   "bearer",
		})
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer gh-token", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]any{"login": "octo", "name": ""})
	})
	mux.HandleFunc("/user/emails", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]any{
			{"email": "octo@users.noreply.github.com", "primary": false, "verified": true},
			{"email": "Octo@Example.com", "primary": true, "verified": true},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func withFakeGitHub(t *testing.T, svc *Service) {
	srv := fakeProvider(t)
	svc.providers[model.ProviderGitHub] = &provider{
		name: model.ProviderGitHub,
		config: &oauth2.Config{
			ClientID:     "client",
			ClientSecret: "secret",
			Endpoint: oauth2.Endpoint{
				AuthURL:   srv.URL + "/authorize",
				TokenURL:  srv.URL + "/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
			RedirectURL: "http://localhost:4000/auth/github/callback",
			Scopes:      []string{"user:email"},
		},
		profile: func(ctx context.Context, client *http.Client) (*providerProfile, error) {
			return githubProfile(ctx, client, srv.URL)
		},
	}
}

func TestProvidersFromConfig(t *testing.T) {
	s, err := store.New(":memory:")
	require.NoError(t, err)
	defer s.Close()

	svc, err := New(s, Config{
		JWTSecret: "x",
		PublicURL: "https://boost.example.com/app/",
		GitHub:    OAuthCredentials{ClientID: "id", ClientSecret: "secret"},
	})
	require.NoError(t, err)
	assert.Equal(t, []model.Provider{model.ProviderGitHub}, svc.Providers())
	assert.Equal(t, "https://boost.example.com/app/auth/github/callback",
		svc.providers[model.ProviderGitHub].config.RedirectURL)

	_, _, err = svc.SignInWithOAuth(context.Background(), model.ProviderGoogle, "/")
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestOAuthBrowserFlow(t *testing.T) {
	svc, st := newTestService(t)
	withFakeGitHub(t, svc)
	ctx := context.Background()

	authURL, state, err := svc.SignInWithOAuth(ctx, model.ProviderGitHub, "/diagnostic")
	require.NoError(t, err)
	u, err := url.Parse(authURL)
	require.NoError(t, err)
	assert.Equal(t, state, u.Query().Get("state"))

	sess, returnTo, err := svc.CompleteOAuth(ctx, model.ProviderGitHub, state, "good-code")
	require.NoError(t, err)
	assert.Equal(t, "/diagnostic", returnTo)

	user, err := st.GetUserByID(sess.UserID)
	require.NoError(t, err)
	assert.Equal(t, "octo@example.com", user.Email)
	assert.Equal(t, "octo", user.FullName)
	assert.Equal(t, model.ProviderGitHub, user.Provider)

	// The state is single use.
	_, _, err = svc.CompleteOAuth(ctx, model.ProviderGitHub, state, "good-code")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestOAuthLinksExistingUser(t *testing.T) {
	svc, _ := newTestService(t)
	withFakeGitHub(t, svc)
	ctx := context.Background()
	existing := signUp(t, svc, "octo@example.com")

	_, state, err := svc.SignInWithOAuth(ctx, model.ProviderGitHub, "/")
	require.NoError(t, err)
	sess, _, err := svc.CompleteOAuth(ctx, model.ProviderGitHub, state, "good-code")
	require.NoError(t, err)
	assert.Equal(t, existing.ID, sess.UserID)
}

func TestOAuthBadCode(t *testing.T) {
	svc, _ := newTestService(t)
	withFakeGitHub(t, svc)
	ctx := context.Background()

	_, state, err := svc.SignInWithOAuth(ctx, model.ProviderGitHub, "/")
	require.NoError(t, err)
	_, _, err = svc.CompleteOAuth(ctx, model.ProviderGitHub, state, "bad-code")
	assert.Error(t, err)

	_, _, err = svc.CompleteOAuth(ctx, model.ProviderGitHub, "unknown-state", "good-code")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestOAuthPollFlow(t *testing.T) {
	svc, _ := newTestService(t)
	withFakeGitHub(t, svc)
	ctx := context.Background()

	_, state, err := svc.SignInWithOAuth(ctx, model.ProviderGitHub, PollReturnTo)
	require.NoError(t, err)

	pending, err := svc.PollOAuth(ctx, state)
	require.NoError(t, err)
	assert.Nil(t, pending)

	sess, returnTo, err := svc.CompleteOAuth(ctx, model.ProviderGitHub, state, "good-code")
	require.NoError(t, err)
	assert.Equal(t, PollReturnTo, returnTo)

	got, err := svc.PollOAuth(ctx, state)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, sess.ID, got.ID)

	// Collected once only.
	_, err = svc.PollOAuth(ctx, state)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestParseProvider(t *testing.T) {
	p, err := ParseProvider("GitHub")
	require.NoError(t, err)
	assert.Equal(t, model.ProviderGitHub, p)

	_, err = ParseProvider("myspace")
	assert.ErrorIs(t, err, ErrUnknownProvider)
}
