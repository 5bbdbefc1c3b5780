// Package auth signs users up and in, manages their sessions and reports
// auth state changes to subscribers.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/boost/internal/model"
	"github.com/pavelanni/boost/internal/session"
	"github.com/pavelanni/boost/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidToken       = errors.New("invalid token")
	ErrUnknownProvider    = errors.New("unknown or unconfigured OAuth provider")
	ErrInvalidState       = errors.New("invalid or expired OAuth state")
)

// Config holds the secrets and OAuth client settings.
type Config struct {
	JWTSecret string
	// PublicURL is the externally visible base URL including any base path,
	// used to build OAuth redirect URIs.
	PublicURL string
	Google    OAuthCredentials
	GitHub    OAuthCredentials
}

// Service implements sign-up, sign-in and session lookup on top of the store.
type Service struct {
	store     *store.Store
	secret    []byte
	broker    *Broker
	providers map[model.Provider]*provider
	http      *http.Client
}

// New creates a Service.
func New(s *store.Store, cfg Config) (*Service, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT secret is required")
	}
	svc := &Service{
		store:     s,
		secret:    []byte(cfg.JWTSecret),
		broker:    NewBroker(),
		providers: make(map[model.Provider]*provider),
		http:      http.DefaultClient,
	}
	callbackBase := strings.TrimRight(cfg.PublicURL, "/") + "/auth/"
	if cfg.Google.configured() {
		svc.providers[model.ProviderGoogle] = googleProvider(cfg.Google, callbackBase+string(model.ProviderGoogle)+"/callback")
	}
	if cfg.GitHub.configured() {
		svc.providers[model.ProviderGitHub] = githubProvider(cfg.GitHub, callbackBase+string(model.ProviderGitHub)+"/callback")
	}
	return svc, nil
}

// SignUp registers a new email/password user.
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (*model.User, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.FullName = strings.TrimSpace(req.FullName)
	if err := req.Validate(); err != nil {
		return nil, err
	}

	existing, err := s.store.GetUserByEmail(req.Email)
	if err != nil {
		return nil, fmt.Errorf("look up user: %w", err)
	}
	if existing != nil {
		return nil, ErrEmailTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	id, err := s.store.CreateUser(model.User{
		Email:        req.Email,
		FullName:     req.FullName,
		PasswordHash: string(hash),
		Provider:     model.ProviderEmail,
		Role:         model.UserRoleStudent,
		Active:       true,
	})
	if errors.Is(err, store.ErrDuplicate) {
		// Lost a race with a concurrent sign-up for the same address.
		return nil, ErrEmailTaken
	}
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return s.store.GetUserByID(id)
}

// SignInWithPassword checks credentials and opens a session.
func (s *Service) SignInWithPassword(ctx context.Context, req SignInRequest) (*model.Session, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	user, err := s.store.GetUserByEmail(req.Email)
	if err != nil {
		return nil, fmt.Errorf("look up user: %w", err)
	}
	if user == nil || !user.Active || user.PasswordHash == "" {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return s.openSession(user)
}

func (s *Service) openSession(user *model.User) (*model.Session, error) {
	sess, err := s.store.CreateAuthSession(user.ID)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	slog.Info("user signed in", "user_id", user.ID, "provider", user.Provider)
	s.broker.Publish(session.EventSignedIn, sess)
	return sess, nil
}

// SignOut ends a session. Unknown sessions are not an error.
func (s *Service) SignOut(ctx context.Context, sessionID string) error {
	sess, err := s.store.GetAuthSession(sessionID)
	if err != nil {
		return fmt.Errorf("look up session: %w", err)
	}
	if err := s.store.DeleteAuthSession(sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if sess != nil {
		slog.Info("user signed out", "user_id", sess.UserID)
		s.broker.Publish(session.EventSignedOut, sess)
	}
	return nil
}

// GetSession returns the live session for an ID, or nil when it is missing,
// expired or belongs to a deactivated user.
func (s *Service) GetSession(ctx context.Context, sessionID string) (*model.Session, error) {
	if sessionID == "" {
		return nil, nil
	}
	sess, err := s.store.GetAuthSession(sessionID)
	if err != nil || sess == nil {
		return nil, err
	}
	user, err := s.store.GetUserByID(sess.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil || !user.Active {
		return nil, nil
	}
	return sess, nil
}

// GetUser returns the user behind a session, or nil.
func (s *Service) GetUser(ctx context.Context, sessionID string) (*model.User, error) {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil || sess == nil {
		return nil, err
	}
	return s.store.GetUserByID(sess.UserID)
}

// OnAuthStateChange subscribes to sign-in and sign-out events for all sessions.
func (s *Service) OnAuthStateChange(fn session.Listener) session.Subscription {
	return s.broker.Subscribe(fn)
}

// ForSession returns an Authenticator scoped to a single session ID, for
// use with a session.Gate.
func (s *Service) ForSession(sessionID string) session.Authenticator {
	return &boundSession{svc: s, id: sessionID}
}

type boundSession struct {
	svc *Service
	id  string
}

func (b *boundSession) GetSession(ctx context.Context) (*model.Session, error) {
	return b.svc.GetSession(ctx, b.id)
}

func (b *boundSession) OnAuthStateChange(fn session.Listener) session.Subscription {
	return b.svc.broker.Subscribe(func(event session.Event, sess *model.Session) {
		if sess != nil && sess.ID == b.id {
			fn(event, sess)
		}
	})
}
