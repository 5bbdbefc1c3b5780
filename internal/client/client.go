// Package client talks to the boost JSON API on behalf of the terminal
// client and keeps the signed-in state in a local credentials file.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pavelanni/boost/internal/auth"
	"github.com/pavelanni/boost/internal/model"
	"github.com/pavelanni/boost/internal/session"
)

// DefaultAPIURL is used when neither a flag nor saved credentials name a server.
const DefaultAPIURL = "http://localhost:4000/api"

// ErrNotSignedIn means there is no usable token. Any saved credentials have
// been discarded.
var ErrNotSignedIn = errors.New("not signed in")

// APIError is a non-2xx reply from the server.
type APIError struct {
	Status  int
	Message string
	Fields  []string
}

func (e *APIError) Error() string {
	if len(e.Fields) > 0 {
		return fmt.Sprintf("%s (%s)", e.Message, strings.Join(e.Fields, ", "))
	}
	return e.Message
}

// Profile is the signed-in user's learning state.
type Profile struct {
	Profile    *model.Profile          `json:"profile"`
	Latest     *model.DiagnosticResult `json:"latest"`
	LevelLabel string                  `json:"level_label"`
}

// SubmitResult is the server's verdict on a diagnostic submission.
type SubmitResult struct {
	ResultID       string      `json:"result_id"`
	CorrectAnswers int         `json:"correct_answers"`
	Level          model.Level `json:"level"`
	LevelLabel     string      `json:"level_label"`
	Total          int         `json:"total"`
}

type tokenResponse struct {
	AccessToken string      `json:"access_token"`
	TokenType   string      `json:"token_type"`
	ExpiresAt   time.Time   `json:"expires_at"`
	User        *model.User `json:"user"`
}

// Client is an HTTP implementation of the auth collaborator.
type Client struct {
	baseURL  string
	credPath string
	lang     string
	http     *http.Client
	broker   *auth.Broker

	// PollInterval is how often SignInWithOAuth asks whether the browser
	// step has finished.
	PollInterval time.Duration

	mu    sync.Mutex
	creds Credentials
}

// New loads saved credentials from credPath. An empty baseURL falls back to
// the saved server and then to DefaultAPIURL. Saved credentials for a
// different server are ignored.
func New(baseURL, credPath string) (*Client, error) {
	creds, err := LoadCredentials(credPath)
	if err != nil {
		return nil, err
	}
	baseURL = strings.TrimRight(baseURL, "/")
	switch {
	case baseURL == "" && creds.APIURL != "":
		baseURL = creds.APIURL
	case baseURL == "":
		baseURL = DefaultAPIURL
	}
	if creds.APIURL != "" && creds.APIURL != baseURL {
		slog.Debug("ignoring credentials for another server", "saved", creds.APIURL, "url", baseURL)
		creds = Credentials{}
	}
	return &Client{
		baseURL:      baseURL,
		credPath:     credPath,
		http:         &http.Client{Timeout: 30 * time.Second},
		broker:       auth.NewBroker(),
		PollInterval: 2 * time.Second,
		creds:        creds,
	}, nil
}

// SetLanguage sets the Accept-Language sent with every request.
func (c *Client) SetLanguage(lang string) {
	c.lang = lang
}

// BaseURL returns the API root the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Email returns the address of the saved account, if any.
func (c *Client) Email() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.creds.Email
}

func (c *Client) token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.creds.Token
}

// OnAuthStateChange subscribes fn to sign-in and sign-out events.
func (c *Client) OnAuthStateChange(fn session.Listener) session.Subscription {
	return c.broker.Subscribe(fn)
}

// do sends a JSON request and decodes a JSON reply into out. With authed set
// a 401 drops the saved credentials and reports ErrNotSignedIn.
func (c *Client) do(ctx context.Context, method, path string, body, out any, authed bool) (int, error) {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.lang != "" {
		req.Header.Set("Accept-Language", c.lang)
	}
	if authed {
		tok := c.token()
		if tok == "" {
			return 0, ErrNotSignedIn
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	slog.Debug("api request", "method", method, "path", path, "status", resp.StatusCode)

	if authed && resp.StatusCode == http.StatusUnauthorized {
		c.dropCredentials()
		return resp.StatusCode, ErrNotSignedIn
	}
	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var e struct {
			Error  string   `json:"error"`
			Fields []string `json:"fields"`
		}
		if json.NewDecoder(resp.Body).Decode(&e) == nil && e.Error != "" {
			apiErr.Message = e.Error
			apiErr.Fields = e.Fields
		}
		return resp.StatusCode, apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func (c *Client) dropCredentials() {
	c.mu.Lock()
	had := c.creds.Token != ""
	c.creds = Credentials{}
	c.mu.Unlock()

	if err := RemoveCredentials(c.credPath); err != nil {
		slog.Error("failed to remove credentials", "error", err)
	}
	if had {
		c.broker.Publish(session.EventSignedOut, nil)
	}
}

func (c *Client) signedIn(tr tokenResponse) (*model.Session, error) {
	creds := Credentials{
		APIURL:    c.baseURL,
		Token:     tr.AccessToken,
		ExpiresAt: tr.ExpiresAt,
	}
	sess := &model.Session{ExpiresAt: tr.ExpiresAt}
	if tr.User != nil {
		creds.Email = tr.User.Email
		sess.UserID = tr.User.ID
	}
	if err := SaveCredentials(c.credPath, creds); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.creds = creds
	c.mu.Unlock()

	c.broker.Publish(session.EventSignedIn, sess)
	return sess, nil
}

// GetSession asks the server whether the saved token is still good. No
// token, or a rejected one, yields (nil, nil).
func (c *Client) GetSession(ctx context.Context) (*model.Session, error) {
	if c.token() == "" {
		return nil, nil
	}
	var out struct {
		Session *model.Session `json:"session"`
	}
	if _, err := c.do(ctx, http.MethodGet, "/auth/session", nil, &out, true); err != nil {
		if errors.Is(err, ErrNotSignedIn) {
			return nil, nil
		}
		return nil, err
	}
	return out.Session, nil
}

// SignUp creates an account. It does not sign in.
func (c *Client) SignUp(ctx context.Context, req auth.SignUpRequest) (*model.User, error) {
	var out struct {
		User *model.User `json:"user"`
	}
	if _, err := c.do(ctx, http.MethodPost, "/auth/signup", req, &out, false); err != nil {
		return nil, err
	}
	return out.User, nil
}

// SignInWithPassword exchanges email and password for a token and saves it.
func (c *Client) SignInWithPassword(ctx context.Context, req auth.SignInRequest) (*model.Session, error) {
	var tr tokenResponse
	if _, err := c.do(ctx, http.MethodPost, "/auth/token", req, &tr, false); err != nil {
		return nil, err
	}
	return c.signedIn(tr)
}

// SignInWithOAuth starts a provider flow, hands the authorization URL to
// open and polls until the browser step completes or ctx is done.
func (c *Client) SignInWithOAuth(ctx context.Context, provider model.Provider, open func(authURL string) error) (*model.Session, error) {
	var start struct {
		URL   string `json:"url"`
		State string `json:"state"`
	}
	if _, err := c.do(ctx, http.MethodGet, "/auth/oauth/"+url.PathEscape(string(provider)), nil, &start, false); err != nil {
		return nil, err
	}
	if err := open(start.URL); err != nil {
		return nil, fmt.Errorf("open browser: %w", err)
	}

	ticker := time.NewTicker(c.PollInterval)
	defer ticker.Stop()
	pollPath := "/auth/oauth/poll?state=" + url.QueryEscape(start.State)
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
		var tr tokenResponse
		status, err := c.do(ctx, http.MethodGet, pollPath, nil, &tr, false)
		if err != nil {
			return nil, err
		}
		if status == http.StatusAccepted {
			continue
		}
		return c.signedIn(tr)
	}
}

// SignOut ends the server session if there is one and forgets the token.
func (c *Client) SignOut(ctx context.Context) error {
	if c.token() == "" {
		return RemoveCredentials(c.credPath)
	}
	_, err := c.do(ctx, http.MethodPost, "/auth/logout", nil, nil, true)
	if err != nil && !errors.Is(err, ErrNotSignedIn) {
		return err
	}
	if err == nil {
		c.dropCredentials()
	}
	return nil
}

// GetUser returns the signed-in user.
func (c *Client) GetUser(ctx context.Context) (*model.User, error) {
	var u model.User
	if _, err := c.do(ctx, http.MethodGet, "/user", nil, &u, true); err != nil {
		return nil, err
	}
	return &u, nil
}

// Profile returns the signed-in user's level and latest result.
func (c *Client) Profile(ctx context.Context) (*Profile, error) {
	var p Profile
	if _, err := c.do(ctx, http.MethodGet, "/profile", nil, &p, true); err != nil {
		return nil, err
	}
	return &p, nil
}

// Questions returns the diagnostic question bank.
func (c *Client) Questions(ctx context.Context) ([]model.DiagnosticQuestion, error) {
	var out struct {
		Questions []model.DiagnosticQuestion `json:"questions"`
	}
	if _, err := c.do(ctx, http.MethodGet, "/diagnostic/questions", nil, &out, true); err != nil {
		return nil, err
	}
	return out.Questions, nil
}

// SubmitDiagnostic sends the IDs of the questions answered correctly.
func (c *Client) SubmitDiagnostic(ctx context.Context, correct []int) (*SubmitResult, error) {
	if correct == nil {
		correct = []int{}
	}
	var out SubmitResult
	body := map[string][]int{"correct": correct}
	if _, err := c.do(ctx, http.MethodPost, "/diagnostic", body, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}
