package model

import (
	"context"
	"time"
)

// UserRole represents a user's access level.
type UserRole string

const (
	// UserRoleStudent is a learner.
	UserRoleStudent UserRole = "student"
	// UserRoleAdmin can manage users and the question bank.
	UserRoleAdmin UserRole = "admin"
)

// Provider identifies how a user signs in.
type Provider string

const (
	ProviderEmail  Provider = "email"
	ProviderGoogle Provider = "google"
	ProviderGitHub Provider = "github"
)

// User represents a system user.
type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	FullName     string    `json:"full_name"`
	PasswordHash string    `json:"-"`
	Provider     Provider  `json:"provider"`
	Role         UserRole  `json:"role"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

// Session represents an authenticated session.
type Session struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Level is a CEFR-like proficiency tier. The raw value is what gets persisted;
// human-readable labels are produced by the i18n layer.
type Level string

const (
	LevelA1 Level = "A1"
	LevelA2 Level = "A2"
	LevelB1 Level = "B1"
	LevelB2 Level = "B2"
)

// Levels lists every level in ascending order.
var Levels = []Level{LevelA1, LevelA2, LevelB1, LevelB2}

// Profile holds per-user learning state.
type Profile struct {
	UserID              int64     `json:"user_id"`
	Level               Level     `json:"level,omitempty"`
	DiagnosticCompleted bool      `json:"diagnostic_completed"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// DiagnosticResult is one persisted diagnostic attempt.
type DiagnosticResult struct {
	ID             string    `json:"id"`
	UserID         int64     `json:"user_id"`
	CorrectAnswers int       `json:"correct_answers"`
	Level          Level     `json:"level"`
	CreatedAt      time.Time `json:"created_at"`
}

// DiagnosticQuestion is one entry of the diagnostic question bank.
type DiagnosticQuestion struct {
	ID   int    `json:"id"`
	Text string `json:"text"`
}

// OAuthState tracks an OAuth authorization request until its callback arrives.
type OAuthState struct {
	State     string
	Provider  Provider
	ReturnTo  string
	SessionID string // set once the flow completes, for polling clients
	CreatedAt time.Time
}

type userCtxKey struct{}

// ContextWithUser stores a user in the request context.
func ContextWithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// UserFromContext retrieves the authenticated user from context, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userCtxKey{}).(*User)
	return u
}

type sessionCtxKey struct{}

// ContextWithSession stores the auth session in the request context.
func ContextWithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionCtxKey{}, s)
}

// SessionFromContext retrieves the auth session from context, or nil.
func SessionFromContext(ctx context.Context) *Session {
	s, _ := ctx.Value(sessionCtxKey{}).(*Session)
	return s
}

type basePathCtxKey struct{}

// ContextWithBasePath stores the base path prefix in context.
func ContextWithBasePath(ctx context.Context, basePath string) context.Context {
	return context.WithValue(ctx, basePathCtxKey{}, basePath)
}

// BasePathFromContext retrieves the base path from context (empty string if not set).
func BasePathFromContext(ctx context.Context) string {
	bp, _ := ctx.Value(basePathCtxKey{}).(string)
	return bp
}

type csrfCtxKey struct{}

// ContextWithCSRFToken stores the CSRF token in context.
func ContextWithCSRFToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, csrfCtxKey{}, token)
}

// CSRFTokenFromContext retrieves the CSRF token from context.
func CSRFTokenFromContext(ctx context.Context) string {
	t, _ := ctx.Value(csrfCtxKey{}).(string)
	return t
}

// AppConfig holds runtime server parameters set via CLI flags.
type AppConfig struct {
	BasePath      string        // URL prefix for sub-path deployments (e.g. "/es")
	SecureCookies bool          // Set Secure flag on cookies (disable for local dev)
	PublicURL     string        // External base URL, used for OAuth redirect URIs
	LoginRate     float64       // Sign-in attempts per second per client IP
	LoginBurst    int           // Sign-in attempts allowed in a burst
	AdviceEnabled bool          // Ask the LLM for study advice on the result page
	SessionCheck  time.Duration // How long a protected page waits for the session check
	MaxFormBytes  int64         // Largest accepted form body, question bank uploads included
}

// QuestionImport is used for loading the diagnostic question bank from JSON.
type QuestionImport struct {
	ID   int    `json:"id"`
	Text string `json:"text"`
}

// DashboardView combines user and profile data for the dashboard page.
type DashboardView struct {
	User    User
	Profile *Profile
	Latest  *DiagnosticResult
}

// ResultView is what the result page shows for one attempt.
type ResultView struct {
	Result        DiagnosticResult
	AdviceSummary string
	AdviceFocus   []string
	History       []DiagnosticResult
}
