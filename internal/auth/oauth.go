package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/pavelanni/boost/internal/model"
)

// PollReturnTo marks a flow started by a terminal client. Its session is
// parked on the state for PollOAuth instead of being handed to the browser.
const PollReturnTo = "poll"

// OAuthCredentials are the client ID and secret registered with a provider.
type OAuthCredentials struct {
	ClientID     string
	ClientSecret string
}

func (c OAuthCredentials) configured() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// providerProfile is what we need from a provider's user endpoint.
type providerProfile struct {
	Email string
	Name  string
}

type provider struct {
	name    model.Provider
	config  *oauth2.Config
	profile func(ctx context.Context, client *http.Client) (*providerProfile, error)
}

func googleProvider(creds OAuthCredentials, redirectURL string) *provider {
	return &provider{
		name: model.ProviderGoogle,
		config: &oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			Endpoint:     endpoints.Google,
			RedirectURL:  redirectURL,
			Scopes:       []string{"openid", "email", "profile"},
		},
		profile: func(ctx context.Context, client *http.Client) (*providerProfile, error) {
			return googleProfile(ctx, client, "https://openidconnect.googleapis.com/v1/userinfo")
		},
	}
}

func githubProvider(creds OAuthCredentials, redirectURL string) *provider {
	return &provider{
		name: model.ProviderGitHub,
		config: &oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			Endpoint:     endpoints.GitHub,
			RedirectURL:  redirectURL,
			Scopes:       []string{"read:user", "user:email"},
		},
		profile: func(ctx context.Context, client *http.Client) (*providerProfile, error) {
			return githubProfile(ctx, client, "https://api.github.com")
		},
	}
}

// Providers lists the configured OAuth providers.
func (s *Service) Providers() []model.Provider {
	var out []model.Provider
	for _, p := range []model.Provider{model.ProviderGoogle, model.ProviderGitHub} {
		if _, ok := s.providers[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

// SignInWithOAuth starts an authorization code flow and returns the URL to
// send the user to, plus the state that identifies the flow.
func (s *Service) SignInWithOAuth(ctx context.Context, name model.Provider, returnTo string) (authURL, state string, err error) {
	p, ok := s.providers[name]
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	state = uuid.NewString()
	if err := s.store.PutOAuthState(model.OAuthState{State: state, Provider: name, ReturnTo: returnTo}); err != nil {
		return "", "", fmt.Errorf("save oauth state: %w", err)
	}
	return p.config.AuthCodeURL(state), state, nil
}

// CompleteOAuth finishes a flow: it exchanges the code, finds or creates the
// user, and opens a session. It returns the ReturnTo recorded at the start.
func (s *Service) CompleteOAuth(ctx context.Context, name model.Provider, state, code string) (*model.Session, string, error) {
	p, ok := s.providers[name]
	if !ok {
		return nil, "", fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	st, err := s.store.GetOAuthState(state)
	if err != nil {
		return nil, "", fmt.Errorf("load oauth state: %w", err)
	}
	if st == nil || st.Provider != name || st.SessionID != "" {
		return nil, "", ErrInvalidState
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.http)
	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, "", fmt.Errorf("exchange code: %w", err)
	}
	prof, err := p.profile(ctx, p.config.Client(ctx, token))
	if err != nil {
		return nil, "", fmt.Errorf("fetch %s profile: %w", name, err)
	}
	if prof.Email == "" {
		return nil, "", fmt.Errorf("%s account has no verified email", name)
	}

	user, err := s.findOrCreateOAuthUser(name, prof)
	if err != nil {
		return nil, "", err
	}
	sess, err := s.openSession(user)
	if err != nil {
		return nil, "", err
	}

	if st.ReturnTo == PollReturnTo {
		err = s.store.AttachOAuthSession(state, sess.ID)
	} else {
		err = s.store.DeleteOAuthState(state)
	}
	if err != nil {
		return nil, "", fmt.Errorf("update oauth state: %w", err)
	}
	return sess, st.ReturnTo, nil
}

// PollOAuth collects the session of a terminal-initiated flow. It returns
// nil while the user has not finished in the browser.
func (s *Service) PollOAuth(ctx context.Context, state string) (*model.Session, error) {
	st, err := s.store.GetOAuthState(state)
	if err != nil {
		return nil, fmt.Errorf("load oauth state: %w", err)
	}
	if st == nil || st.ReturnTo != PollReturnTo {
		return nil, ErrInvalidState
	}
	if st.SessionID == "" {
		return nil, nil
	}
	if err := s.store.DeleteOAuthState(state); err != nil {
		return nil, fmt.Errorf("delete oauth state: %w", err)
	}
	return s.GetSession(ctx, st.SessionID)
}

func (s *Service) findOrCreateOAuthUser(name model.Provider, prof *providerProfile) (*model.User, error) {
	user, err := s.store.GetUserByEmail(prof.Email)
	if err != nil {
		return nil, fmt.Errorf("look up user: %w", err)
	}
	if user != nil {
		if !user.Active {
			return nil, ErrInvalidCredentials
		}
		return user, nil
	}
	id, err := s.store.CreateUser(model.User{
		Email:    prof.Email,
		FullName: prof.Name,
		Provider: name,
		Role:     model.UserRoleStudent,
		Active:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	slog.Info("created user from OAuth", "provider", name, "user_id", id)
	return s.store.GetUserByID(id)
}

func googleProfile(ctx context.Context, client *http.Client, url string) (*providerProfile, error) {
	var info struct {
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Name          string `json:"name"`
	}
	if err := getJSON(ctx, client, url, &info); err != nil {
		return nil, err
	}
	if !info.EmailVerified {
		return &providerProfile{Name: info.Name}, nil
	}
	return &providerProfile{Email: info.Email, Name: info.Name}, nil
}

func githubProfile(ctx context.Context, client *http.Client, apiBase string) (*providerProfile, error) {
	var u struct {
		Login string `json:"login"`
		Name  string `json:"name"`
	}
	if err := getJSON(ctx, client, apiBase+"/user", &u); err != nil {
		return nil, err
	}
	name := u.Name
	if name == "" {
		name = u.Login
	}

	// The profile email may be private; the emails endpoint always lists it.
	var emails []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}
	if err := getJSON(ctx, client, apiBase+"/user/emails", &emails); err != nil {
		return nil, err
	}
	for _, e := range emails {
		if e.Primary && e.Verified {
			return &providerProfile{Email: e.Email, Name: name}, nil
		}
	}
	return &providerProfile{Name: name}, nil
}

func getJSON(ctx context.Context, client *http.Client, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: %s", url, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}

// ParseProvider maps a URL segment to a provider.
func ParseProvider(s string) (model.Provider, error) {
	switch p := model.Provider(strings.ToLower(s)); p {
	case model.ProviderGoogle, model.ProviderGitHub:
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownProvider, s)
}
