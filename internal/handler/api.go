package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/boost/internal/auth"
	"github.com/pavelanni/boost/internal/diagnostic"
	appI18n "github.com/pavelanni/boost/internal/i18n"
	"github.com/pavelanni/boost/internal/metrics"
	"github.com/pavelanni/boost/internal/model"
)

const maxAPIBody = 64 << 10

// TokenResponse is returned when an API client signs in.
type TokenResponse struct {
	AccessToken string      `json:"access_token"`
	TokenType   string      `json:"token_type"`
	ExpiresAt   time.Time   `json:"expires_at"`
	User        *model.User `json:"user"`
}

// SubmitRequest lists the question IDs marked correct.
type SubmitRequest struct {
	Correct []int `json:"correct"`
}

// SubmitResponse reports a persisted diagnostic result.
type SubmitResponse struct {
	diagnostic.Outcome
	LevelLabel string `json:"level_label"`
	Total      int    `json:"total"`
}

type errorResponse struct {
	Error  string   `json:"error"`
	Fields []string `json:"fields,omitempty"`
}

// APIRoutes registers the JSON API used by the terminal client.
func (h *Handler) APIRoutes(r chi.Router) {
	r.Route("/auth", func(r chi.Router) {
		r.With(h.rateLimit(apiRateLimited)).Post("/signup", h.apiSignUp)
		r.With(h.rateLimit(apiRateLimited)).Post("/token", h.apiToken)
		r.Get("/oauth/poll", h.apiOAuthPoll)
		r.Get("/oauth/{provider}", h.apiOAuthStart)

		r.Group(func(r chi.Router) {
			r.Use(h.requireBearer)
			r.Get("/session", h.apiSession)
			r.Post("/logout", h.apiLogout)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(h.requireBearer)
		r.Get("/user", h.apiUser)
		r.Get("/profile", h.apiProfile)
		r.Get("/diagnostic/questions", h.apiQuestions)
		r.Post("/diagnostic", h.apiSubmit)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string, fields ...string) {
	writeJSON(w, status, errorResponse{Error: msg, Fields: fields})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAPIBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func apiRateLimited(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusTooManyRequests, "too many attempts")
}

func bearerToken(r *http.Request) string {
	const prefix = "bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}

// requireBearer resolves the JWT in the Authorization header to a live
// session and its user.
func (h *Handler) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok := bearerToken(r)
		if tok == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		sessionID, err := h.auth.ParseToken(tok)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		sess, err := h.auth.GetSession(r.Context(), sessionID)
		if err != nil {
			slog.Error("failed to get session", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if sess == nil {
			writeError(w, http.StatusUnauthorized, "session expired")
			return
		}
		user, err := h.auth.GetUser(r.Context(), sessionID)
		if err != nil || user == nil {
			writeError(w, http.StatusUnauthorized, "session expired")
			return
		}

		ctx := model.ContextWithSession(r.Context(), sess)
		ctx = model.ContextWithUser(ctx, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) tokenResponse(w http.ResponseWriter, r *http.Request, status int, sess *model.Session) {
	tok, err := h.auth.IssueToken(sess)
	if err != nil {
		slog.Error("failed to issue token", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	user, err := h.store.GetUserByID(sess.UserID)
	if err != nil {
		slog.Error("failed to get user", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, status, TokenResponse{
		AccessToken: tok,
		TokenType:   "bearer",
		ExpiresAt:   sess.ExpiresAt,
		User:        user,
	})
}

// writeAuthError maps auth errors to status codes and messages.
func writeAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid input", auth.InvalidFields(err)...)
	case errors.Is(err, auth.ErrEmailTaken):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, auth.ErrUnknownProvider):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, auth.ErrInvalidState):
		writeError(w, http.StatusGone, err.Error())
	default:
		slog.Error("auth request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) apiSignUp(w http.ResponseWriter, r *http.Request) {
	var req auth.SignUpRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	user, err := h.auth.SignUp(r.Context(), req)
	if err != nil {
		writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"user": user})
}

func (h *Handler) apiToken(w http.ResponseWriter, r *http.Request) {
	var req auth.SignInRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sess, err := h.auth.SignInWithPassword(r.Context(), req)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			metrics.LoginFailed("credentials")
		}
		writeAuthError(w, err)
		return
	}
	h.tokenResponse(w, r, http.StatusOK, sess)
}

func (h *Handler) apiSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"session": model.SessionFromContext(r.Context())})
}

func (h *Handler) apiLogout(w http.ResponseWriter, r *http.Request) {
	sess := model.SessionFromContext(r.Context())
	if err := h.auth.SignOut(r.Context(), sess.ID); err != nil {
		slog.Error("sign-out failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) apiOAuthStart(w http.ResponseWriter, r *http.Request) {
	provider, err := auth.ParseProvider(chi.URLParam(r, "provider"))
	if err != nil {
		writeAuthError(w, err)
		return
	}
	authURL, state, err := h.auth.SignInWithOAuth(r.Context(), provider, auth.PollReturnTo)
	if err != nil {
		writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": authURL, "state": state})
}

func (h *Handler) apiOAuthPoll(w http.ResponseWriter, r *http.Request) {
	sess, err := h.auth.PollOAuth(r.Context(), r.URL.Query().Get("state"))
	if err != nil {
		writeAuthError(w, err)
		return
	}
	if sess == nil {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "pending"})
		return
	}
	h.tokenResponse(w, r, http.StatusOK, sess)
}

func (h *Handler) apiUser(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, model.UserFromContext(r.Context()))
}

func (h *Handler) apiProfile(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	profile, err := h.store.GetProfile(user.ID)
	if err != nil {
		slog.Error("failed to get profile", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	latest, err := h.store.LatestResult(user.ID)
	if err != nil {
		slog.Error("failed to get latest result", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	resp := map[string]any{"profile": profile, "latest": latest}
	if profile != nil && profile.Level != "" {
		resp["level_label"] = appI18n.LevelLabel(r.Context(), profile.Level)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) apiQuestions(w http.ResponseWriter, r *http.Request) {
	questions, err := h.store.ListQuestions()
	if err != nil {
		slog.Error("failed to list questions", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"questions": questions})
}

func (h *Handler) apiSubmit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	answers, err := diagnostic.NewAnswerSet(req.Correct...)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	out, err := h.evaluator.Submit(r.Context(), answers)
	switch {
	case errors.Is(err, diagnostic.ErrIdentityMissing):
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "could not save diagnostic result")
		return
	}

	writeJSON(w, http.StatusCreated, SubmitResponse{
		Outcome:    out,
		LevelLabel: appI18n.LevelLabel(r.Context(), out.Level),
		Total:      diagnostic.QuestionCount,
	})
}

func parseQuestionID(s string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(s))
}
