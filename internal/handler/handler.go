package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/a-h/templ"
	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/boost/internal/auth"
	"github.com/pavelanni/boost/internal/diagnostic"
	"github.com/pavelanni/boost/internal/handler/views"
	appI18n "github.com/pavelanni/boost/internal/i18n"
	"github.com/pavelanni/boost/internal/llm"
	"github.com/pavelanni/boost/internal/metrics"
	"github.com/pavelanni/boost/internal/model"
	"github.com/pavelanni/boost/internal/session"
	"github.com/pavelanni/boost/internal/store"
)

const (
	defaultSessionCheck = 3 * time.Second
	defaultMaxFormBytes = 1 << 20
	adviceTimeout       = 20 * time.Second
)

// Advisor writes study advice for a result. *llm.Client implements it.
type Advisor interface {
	StudyAdvice(ctx context.Context, req llm.AdviceRequest) (*llm.Advice, error)
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store     *store.Store
	auth      *auth.Service
	evaluator *diagnostic.Evaluator
	advisor   Advisor
	limiter   *ipLimiter
	config    model.AppConfig

	// gateAuth binds a session cookie to the authenticator the route gate
	// waits on.
	gateAuth func(token string) session.Authenticator
}

// New creates a new Handler. advisor may be nil.
func New(s *store.Store, a *auth.Service, advisor Advisor, cfg model.AppConfig) (*Handler, error) {
	if cfg.SessionCheck <= 0 {
		cfg.SessionCheck = defaultSessionCheck
	}
	if cfg.MaxFormBytes <= 0 {
		cfg.MaxFormBytes = defaultMaxFormBytes
	}
	identity := diagnostic.IdentityFunc(func(ctx context.Context) (*model.User, error) {
		return model.UserFromContext(ctx), nil
	})
	return &Handler{
		store:     s,
		auth:      a,
		evaluator: diagnostic.NewEvaluator(identity, diagnostic.SQLStore{DB: s}, metrics.Recorder{}),
		advisor:   advisor,
		limiter:   newIPLimiter(cfg.LoginRate, cfg.LoginBurst),
		config:    cfg,
		gateAuth:  a.ForSession,
	}, nil
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Handle("/metrics", metrics.Handler())
	r.Route("/api", h.APIRoutes)

	r.Group(func(r chi.Router) {
		r.Use(h.limitFormBody)
		r.Use(h.csrfMiddleware)

		r.Get("/login", h.handleLoginPage)
		r.With(h.rateLimit(h.loginRateLimited)).Post("/login", h.handleLogin)
		r.Get("/register", h.handleRegisterPage)
		r.With(h.rateLimit(h.registerRateLimited)).Post("/register", h.handleRegister)
		r.Post("/logout", h.handleLogout)
		r.Get("/auth/{provider}", h.handleOAuthStart)
		r.Get("/auth/{provider}/callback", h.handleOAuthCallback)

		r.Group(func(r chi.Router) {
			r.Use(h.requireAuth)
			r.Get("/", h.handleDashboard)
			r.Get("/diagnostic", h.handleDiagnosticPage)
			r.Post("/diagnostic", h.handleDiagnosticSubmit)
			r.Get("/diagnostic/result", h.handleResultPage)

			r.Route("/admin", func(r chi.Router) {
				r.Use(requireRole(model.UserRoleAdmin))
				r.Get("/users", h.handleAdminUsersPage)
				r.Post("/users/{userID}/toggle", h.handleToggleUserActive)
				r.Get("/questions", h.handleAdminQuestionsPage)
				r.Post("/questions", h.handleUploadQuestions)
			})
		})
	})
}

// BasePathMiddleware stores the configured base path in the request context
// so views can build links.
func (h *Handler) BasePathMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := model.ContextWithBasePath(r.Context(), h.config.BasePath)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) path(p string) string {
	return h.config.BasePath + p
}

func (h *Handler) cookiePath() string {
	if h.config.BasePath != "" {
		return h.config.BasePath + "/"
	}
	return "/"
}

func render(w http.ResponseWriter, r *http.Request, status int, c templ.Component) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	if err := c.Render(r.Context(), w); err != nil {
		slog.Error("render error", "error", err)
	}
}

func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())

	profile, err := h.store.GetProfile(user.ID)
	if err != nil {
		slog.Error("failed to get profile", "user_id", user.ID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	latest, err := h.store.LatestResult(user.ID)
	if err != nil {
		slog.Error("failed to get latest result", "user_id", user.ID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	render(w, r, http.StatusOK, views.Dashboard(model.DashboardView{
		User:    *user,
		Profile: profile,
		Latest:  latest,
	}))
}

func (h *Handler) handleDiagnosticPage(w http.ResponseWriter, r *http.Request) {
	questions, err := h.store.ListQuestions()
	if err != nil {
		slog.Error("failed to list questions", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	render(w, r, http.StatusOK, views.DiagnosticPage(questions, nil, ""))
}

func (h *Handler) handleDiagnosticSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}

	answers := diagnostic.AnswerSet{}
	for _, v := range r.Form["correct"] {
		id, err := parseQuestionID(v)
		if err == nil && !answers.IsCorrect(id) {
			err = answers.Toggle(id)
		}
		if err != nil {
			http.Error(w, "invalid answer: "+v, http.StatusBadRequest)
			return
		}
	}

	out, err := h.evaluator.Submit(r.Context(), answers)
	if err != nil {
		msgID, status := "ErrSaveFailed", http.StatusInternalServerError
		if errors.Is(err, diagnostic.ErrIdentityMissing) {
			msgID, status = "ErrIdentityMissing", http.StatusUnauthorized
		}
		questions, qerr := h.store.ListQuestions()
		if qerr != nil {
			slog.Error("failed to list questions", "error", qerr)
		}
		render(w, r, status, views.DiagnosticPage(questions, answers, appI18n.T(r.Context(), msgID)))
		return
	}

	http.Redirect(w, r, h.path("/diagnostic/result?id="+out.ResultID), http.StatusSeeOther)
}

func (h *Handler) handleResultPage(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())

	history, err := h.store.ListResults(user.ID)
	if err != nil {
		slog.Error("failed to list results", "user_id", user.ID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if len(history) == 0 {
		http.Redirect(w, r, h.path("/diagnostic"), http.StatusSeeOther)
		return
	}

	// Results are newest first; without an id show the latest.
	result := history[0]
	if id := r.URL.Query().Get("id"); id != "" {
		found := false
		for _, res := range history {
			if res.ID == id {
				result, found = res, true
				break
			}
		}
		if !found {
			http.NotFound(w, r)
			return
		}
	}

	view := model.ResultView{Result: result, History: history}
	if advice := h.studyAdvice(r.Context(), result); advice != nil {
		view.AdviceSummary = advice.Summary
		view.AdviceFocus = advice.Focus
	}
	render(w, r, http.StatusOK, views.ResultPage(view, diagnostic.QuestionCount))
}

// studyAdvice asks the advisor for advice. Failures are logged and the page
// renders without it.
func (h *Handler) studyAdvice(ctx context.Context, result model.DiagnosticResult) *llm.Advice {
	if h.advisor == nil || !h.config.AdviceEnabled {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, adviceTimeout)
	defer cancel()

	advice, err := h.advisor.StudyAdvice(ctx, llm.AdviceRequest{
		Level:          result.Level,
		LevelLabel:     appI18n.LevelLabel(ctx, result.Level),
		CorrectAnswers: result.CorrectAnswers,
		Language:       appI18n.T(ctx, "AdviceLanguage"),
	})
	metrics.AdviceRequested(err == nil)
	if err != nil {
		slog.Warn("study advice unavailable", "error", err)
		return nil
	}
	return advice
}
