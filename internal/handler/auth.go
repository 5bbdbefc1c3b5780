package handler

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/boost/internal/auth"
	"github.com/pavelanni/boost/internal/handler/views"
	appI18n "github.com/pavelanni/boost/internal/i18n"
	"github.com/pavelanni/boost/internal/metrics"
	"github.com/pavelanni/boost/internal/model"
	"github.com/pavelanni/boost/internal/session"
)

const (
	sessionCookieName = "session"
	csrfCookieName    = "csrf_token"
)

func generateCSRFToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// limitFormBody caps the request body before the CSRF check parses the form.
func (h *Handler) limitFormBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > h.config.MaxFormBytes {
			slog.Warn("request body too large", "path", r.URL.Path, "bytes", r.ContentLength)
			http.Error(w, "request too large", http.StatusRequestEntityTooLarge)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxFormBytes)
		next.ServeHTTP(w, r)
	})
}

// csrfMiddleware issues a fresh token cookie on every request and checks the
// double-submitted form token on anything that is not GET or HEAD.
func (h *Handler) csrfMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			cookie, err := r.Cookie(csrfCookieName)
			if err != nil || cookie.Value == "" {
				slog.Warn("CSRF cookie missing")
				http.Error(w, "csrf token missing", http.StatusForbidden)
				return
			}

			if err := r.ParseMultipartForm(h.config.MaxFormBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					http.Error(w, "request too large", http.StatusRequestEntityTooLarge)
					return
				}
				http.Error(w, "invalid form", http.StatusBadRequest)
				return
			}

			formToken := r.FormValue("csrf_token")
			if formToken == "" {
				slog.Warn("CSRF form token missing")
				http.Error(w, "csrf token missing", http.StatusForbidden)
				return
			}

			if len(formToken) != len(cookie.Value) || subtle.ConstantTimeCompare([]byte(formToken), []byte(cookie.Value)) != 1 {
				slog.Warn("CSRF token mismatch")
				http.Error(w, "invalid csrf token", http.StatusForbidden)
				return
			}
		}

		token, err := generateCSRFToken()
		if err != nil {
			slog.Error("failed to generate CSRF token", "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		http.SetCookie(w, &http.Cookie{
			Name:     csrfCookieName,
			Value:    token,
			Path:     h.cookiePath(),
			HttpOnly: false,
			Secure:   h.config.SecureCookies,
			SameSite: http.SameSiteLaxMode,
		})

		ctx := model.ContextWithCSRFToken(r.Context(), token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionToken(r *http.Request) string {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// requireAuth runs a session gate for the request cookie. While the check is
// still pending after SessionCheck the loading page is shown; it refreshes
// itself until the gate decides.
func (h *Handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := sessionToken(r)
		if token == "" {
			h.redirectToLogin(w, r)
			return
		}

		gate := session.NewGate(h.gateAuth(token))
		defer gate.Teardown()
		go gate.Start(r.Context())

		timer := time.NewTimer(h.config.SessionCheck)
		defer timer.Stop()
		select {
		case <-gate.Ready():
		case <-timer.C:
		case <-r.Context().Done():
		}

		switch gate.Decide() {
		case session.Loading:
			slog.Warn("session check still pending", "path", r.URL.Path)
			w.Header().Set("Cache-Control", "no-store")
			render(w, r, http.StatusOK, views.LoadingPage())
			return
		case session.Redirect:
			h.redirectToLogin(w, r)
			return
		}

		user, err := h.auth.GetUser(r.Context(), token)
		if err != nil {
			slog.Error("failed to get user for session", "error", err)
		}
		if user == nil {
			h.redirectToLogin(w, r)
			return
		}

		ctx := model.ContextWithUser(r.Context(), user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireRole returns middleware that checks the user has one of the allowed roles.
func requireRole(allowed ...model.UserRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := model.UserFromContext(r.Context())
			if user == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			for _, role := range allowed {
				if user.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			http.Error(w, "forbidden", http.StatusForbidden)
		})
	}
}

func (h *Handler) redirectToLogin(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, h.path("/login"), http.StatusSeeOther)
}

func (h *Handler) setSessionCookie(w http.ResponseWriter, sess *model.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    sess.ID,
		Path:     h.cookiePath(),
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   h.config.SecureCookies,
	})
}

func (h *Handler) loginForm() views.LoginForm {
	return views.LoginForm{Providers: h.auth.Providers()}
}

func (h *Handler) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	f := h.loginForm()
	q := r.URL.Query()
	if q.Get("registered") != "" {
		f.Notice = appI18n.T(r.Context(), "Registered")
	}
	if q.Get("error") == "oauth" {
		f.Error = appI18n.T(r.Context(), "ErrOAuthFailed")
	}
	render(w, r, http.StatusOK, views.LoginPage(f))
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(r.FormValue("email"))
	sess, err := h.auth.SignInWithPassword(r.Context(), auth.SignInRequest{
		Email:    email,
		Password: r.FormValue("password"),
	})
	if err != nil {
		f := h.loginForm()
		f.Email = email
		status := http.StatusUnauthorized
		switch {
		case errors.Is(err, auth.ErrInvalidInput):
			metrics.LoginFailed("invalid_input")
			f.Error = appI18n.T(r.Context(), "ErrInvalidCredentials")
			status = http.StatusBadRequest
		case errors.Is(err, auth.ErrInvalidCredentials):
			metrics.LoginFailed("credentials")
			f.Error = appI18n.T(r.Context(), "ErrInvalidCredentials")
		default:
			slog.Error("sign-in failed", "error", err)
			f.Error = appI18n.T(r.Context(), "ErrGeneric")
			status = http.StatusInternalServerError
		}
		render(w, r, status, views.LoginPage(f))
		return
	}

	h.setSessionCookie(w, sess)
	http.Redirect(w, r, h.path("/"), http.StatusSeeOther)
}

func (h *Handler) loginRateLimited(w http.ResponseWriter, r *http.Request) {
	f := h.loginForm()
	f.Error = appI18n.T(r.Context(), "ErrTooManyAttempts")
	render(w, r, http.StatusTooManyRequests, views.LoginPage(f))
}

func (h *Handler) registerForm() views.RegisterForm {
	return views.RegisterForm{MinPassword: auth.MinPasswordLength, Providers: h.auth.Providers()}
}

func (h *Handler) handleRegisterPage(w http.ResponseWriter, r *http.Request) {
	render(w, r, http.StatusOK, views.RegisterPage(h.registerForm()))
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	req := auth.SignUpRequest{
		Email:    r.FormValue("email"),
		Password: r.FormValue("password"),
		FullName: r.FormValue("full_name"),
	}
	f := h.registerForm()
	f.Email = req.Email
	f.FullName = req.FullName

	fail := func(status int, msgID string, fields ...string) {
		f.Error = appI18n.T(r.Context(), msgID)
		f.Invalid = fields
		render(w, r, status, views.RegisterPage(f))
	}

	if req.Password != r.FormValue("confirm_password") {
		fail(http.StatusBadRequest, "ErrPasswordMismatch", "confirm_password")
		return
	}
	if r.FormValue("accept_terms") == "" {
		fail(http.StatusBadRequest, "ErrTermsRequired")
		return
	}

	user, err := h.auth.SignUp(r.Context(), req)
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		fail(http.StatusBadRequest, "ErrInvalidInput", auth.InvalidFields(err)...)
		return
	case errors.Is(err, auth.ErrEmailTaken):
		fail(http.StatusConflict, "ErrEmailTaken", "email")
		return
	case err != nil:
		slog.Error("sign-up failed", "error", err)
		fail(http.StatusInternalServerError, "ErrGeneric")
		return
	}

	slog.Info("user registered", "user_id", user.ID)
	http.Redirect(w, r, h.path("/login?registered=1"), http.StatusSeeOther)
}

func (h *Handler) registerRateLimited(w http.ResponseWriter, r *http.Request) {
	f := h.registerForm()
	f.Error = appI18n.T(r.Context(), "ErrTooManyAttempts")
	render(w, r, http.StatusTooManyRequests, views.RegisterPage(f))
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := sessionToken(r); token != "" {
		if err := h.auth.SignOut(r.Context(), token); err != nil {
			slog.Error("sign-out failed", "error", err)
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     h.cookiePath(),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.SecureCookies,
	})
	http.Redirect(w, r, h.path("/login"), http.StatusSeeOther)
}

func (h *Handler) handleOAuthStart(w http.ResponseWriter, r *http.Request) {
	provider, err := auth.ParseProvider(chi.URLParam(r, "provider"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	authURL, _, err := h.auth.SignInWithOAuth(r.Context(), provider, safeReturnTo(r.URL.Query().Get("next")))
	if err != nil {
		if errors.Is(err, auth.ErrUnknownProvider) {
			http.NotFound(w, r)
			return
		}
		slog.Error("failed to start OAuth flow", "provider", provider, "error", err)
		http.Redirect(w, r, h.path("/login?error=oauth"), http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, authURL, http.StatusSeeOther)
}

func (h *Handler) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	provider, err := auth.ParseProvider(chi.URLParam(r, "provider"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		slog.Warn("OAuth provider returned an error", "provider", provider, "error", e)
		http.Redirect(w, r, h.path("/login?error=oauth"), http.StatusSeeOther)
		return
	}

	sess, returnTo, err := h.auth.CompleteOAuth(r.Context(), provider, q.Get("state"), q.Get("code"))
	if err != nil {
		slog.Error("OAuth callback failed", "provider", provider, "error", err)
		http.Redirect(w, r, h.path("/login?error=oauth"), http.StatusSeeOther)
		return
	}

	// Terminal flows collect the session by polling; the browser gets none.
	if returnTo == auth.PollReturnTo {
		render(w, r, http.StatusOK, views.MessagePage("OAuthDoneTitle", "OAuthDoneTerminal"))
		return
	}

	h.setSessionCookie(w, sess)
	http.Redirect(w, r, h.path(safeReturnTo(returnTo)), http.StatusSeeOther)
}

// safeReturnTo keeps redirects inside the app.
func safeReturnTo(p string) string {
	if !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") || strings.HasPrefix(p, "/\\") {
		return "/"
	}
	return p
}
