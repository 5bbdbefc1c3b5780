package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"

	"github.com/pavelanni/boost/internal/auth"
	"github.com/pavelanni/boost/internal/diagnostic"
	"github.com/pavelanni/boost/internal/handler"
	appI18n "github.com/pavelanni/boost/internal/i18n"
	"github.com/pavelanni/boost/internal/llm"
	"github.com/pavelanni/boost/internal/llm/prompts"
	"github.com/pavelanni/boost/internal/metrics"
	"github.com/pavelanni/boost/internal/model"
	"github.com/pavelanni/boost/internal/store"
)

const cleanupInterval = 10 * time.Minute

func main() {
	// .env only fills in variables that are not already set.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "warning: reading .env:", err)
	}
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "boost",
		Short: "Boost Your English: placement diagnostic server and terminal client",
	}

	serve := serveCmd()
	root.AddCommand(serve, exportCmd(),
		loginCmd(), registerCmd(), logoutCmd(), whoamiCmd(), diagnosticCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `boost --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":4000", "HTTP listen address")
	f.String("db", "boost.db", "SQLite database path")
	f.StringP("questions", "q", "", "Diagnostic question bank JSON file (20 entries)")
	f.StringP("lang", "l", "en", "Default UI language (en, es)")
	f.String("base-path", "", "URL prefix for sub-path deployments (e.g. /es)")
	f.Bool("secure-cookies", true, "Set Secure flag on session cookies")
	f.String("public-url", "http://localhost:4000", "External base URL, used for OAuth redirect URIs")
	f.String("jwt-secret", "", "Secret for API tokens (generated and stored in the database if empty)")
	f.String("google-client-id", "", "Google OAuth client ID")
	f.String("google-client-secret", "", "Google OAuth client secret")
	f.String("github-client-id", "", "GitHub OAuth client ID")
	f.String("github-client-secret", "", "GitHub OAuth client secret")
	f.String("admin-email", "admin@boost.local", "Email of the initial admin account")
	f.String("admin-password", "", "Initial admin password (or set BOOST_ADMIN_PASSWORD)")
	f.Bool("advice", false, "Ask the LLM for study advice on the result page")
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
	f.String("advice-variant", string(prompts.VariantStandard), "Advice prompt variant (brief, standard, detailed)")
	f.Float64("login-rate", 0.2, "Sign-in and sign-up attempts per second per client IP")
	f.Int("login-burst", 5, "Sign-in and sign-up burst per client IP")
	f.Duration("session-check", 3*time.Second, "How long a page waits for the session check before showing the loading page")
	f.Int64("max-form-bytes", 1<<20, "Largest accepted form body, including question bank uploads")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export diagnostic results as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "boost.db", "SQLite database path")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("BOOST")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("boost")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/boost")
	v.AddConfigPath("/etc/boost")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func normalizeBasePath(p string) string {
	p = strings.TrimRight(p, "/")
	if p != "" && !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := seedAdmin(db, v.GetString("admin-email"), v.GetString("admin-password")); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	if err := loadQuestions(db, v.GetString("questions")); err != nil {
		return fmt.Errorf("load questions: %w", err)
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	secret := v.GetString("jwt-secret")
	if secret == "" {
		if secret, err = db.EnsureSecret(store.MetaJWTSecret); err != nil {
			return fmt.Errorf("load JWT secret: %w", err)
		}
	}

	basePath := normalizeBasePath(v.GetString("base-path"))
	publicURL := strings.TrimRight(v.GetString("public-url"), "/")

	authSvc, err := auth.New(db, auth.Config{
		JWTSecret: secret,
		PublicURL: publicURL + basePath,
		Google: auth.OAuthCredentials{
			ClientID:     v.GetString("google-client-id"),
			ClientSecret: v.GetString("google-client-secret"),
		},
		GitHub: auth.OAuthCredentials{
			ClientID:     v.GetString("github-client-id"),
			ClientSecret: v.GetString("github-client-secret"),
		},
	})
	if err != nil {
		return fmt.Errorf("create auth service: %w", err)
	}
	authSub := authSvc.OnAuthStateChange(metrics.ObserveAuthEvent)
	defer authSub.Unsubscribe()

	var advisor handler.Advisor
	adviceEnabled := v.GetBool("advice")
	if adviceEnabled {
		llmClient, err := llm.New(
			v.GetString("llm-url"),
			v.GetString("llm-key"),
			v.GetString("llm-model"),
			prompts.Variant(strings.ToLower(strings.TrimSpace(v.GetString("advice-variant")))),
		)
		if err != nil {
			return fmt.Errorf("create LLM client: %w", err)
		}
		if err := llmClient.Ping(context.Background()); err != nil {
			return fmt.Errorf("LLM health check: %w", err)
		}
		slog.Info("LLM endpoint OK", "url", v.GetString("llm-url"), "model", v.GetString("llm-model"))
		advisor = llmClient
	}

	appCfg := model.AppConfig{
		BasePath:      basePath,
		SecureCookies: v.GetBool("secure-cookies"),
		PublicURL:     publicURL,
		LoginRate:     v.GetFloat64("login-rate"),
		LoginBurst:    v.GetInt("login-burst"),
		AdviceEnabled: adviceEnabled,
		SessionCheck:  v.GetDuration("session-check"),
		MaxFormBytes:  v.GetInt64("max-form-bytes"),
	}
	h, err := handler.New(db, authSvc, advisor, appCfg)
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))

	if basePath != "" {
		r.Route(basePath, func(sub chi.Router) {
			sub.Use(h.BasePathMiddleware)
			h.Routes(sub)
		})
		r.Get(basePath, func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, basePath+"/", http.StatusMovedPermanently)
		})
	} else {
		r.Use(h.BasePathMiddleware)
		h.Routes(r)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := v.GetString("addr")
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	slog.Info("starting server",
		"addr", addr,
		"lang", lang,
		"base_path", basePath,
		"providers", authSvc.Providers(),
		"advice", adviceEnabled,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		runCleanup(gctx, db)
		return nil
	})
	return g.Wait()
}

// runCleanup drops expired auth sessions and abandoned OAuth states until ctx is done.
func runCleanup(ctx context.Context, db *store.Store) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		n, err := db.CleanupExpiredSessions()
		if err != nil {
			slog.Error("failed to clean up sessions", "error", err)
		} else if n > 0 {
			slog.Info("removed expired sessions", "count", n)
		}
		if err := db.CleanupExpiredOAuthStates(); err != nil {
			slog.Error("failed to clean up OAuth states", "error", err)
		}
	}
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	results, err := db.ExportAllResults()
	if err != nil {
		return fmt.Errorf("export results: %w", err)
	}

	export := model.ResultsExport{
		ExportedAt: time.Now().UTC(),
		Total:      len(results),
		Results:    results,
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	_, _ = fmt.Fprintln(w)

	return nil
}

// loadQuestions imports the question bank from path when it changed since the
// last import, and falls back to the built-in placeholders on an empty database.
func loadQuestions(db *store.Store, path string) error {
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		hash := sha256sum(data)
		storedHash, err := db.GetImportedFileHash(path)
		if err != nil {
			return fmt.Errorf("check import status for %s: %w", path, err)
		}

		if storedHash == hash {
			slog.Info("questions file unchanged, skipping", "path", path)
		} else {
			questions, err := diagnostic.ParseQuestionBank(data)
			if err != nil {
				return fmt.Errorf("parse %s: %w", path, err)
			}
			if err := db.ReplaceQuestions(questions); err != nil {
				return fmt.Errorf("store questions from %s: %w", path, err)
			}
			if err := db.SetImportedFileHash(path, hash); err != nil {
				return fmt.Errorf("record import for %s: %w", path, err)
			}
			slog.Info("imported questions", "path", path, "count", len(questions))
		}
	}

	count, err := db.QuestionCount()
	if err != nil {
		return err
	}
	if count == 0 {
		if err := db.ReplaceQuestions(diagnostic.DefaultQuestions()); err != nil {
			return err
		}
		slog.Info("seeded placeholder diagnostic questions", "count", diagnostic.QuestionCount)
	}
	return nil
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// seedAdmin creates the first admin account. Without a password the server
// runs with self-registered students only.
func seedAdmin(db *store.Store, email, password string) error {
	count, err := db.AdminCount()
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	if password == "" {
		slog.Warn("no admin account; set --admin-password or BOOST_ADMIN_PASSWORD to create one")
		return nil
	}
	if len(password) < auth.MinPasswordLength {
		return fmt.Errorf("admin password must be at least %d characters", auth.MinPasswordLength)
	}

	existing, err := db.GetUserByEmail(email)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("admin email %s already belongs to a non-admin user", email)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	_, err = db.CreateUser(model.User{
		Email:        email,
		FullName:     "Administrator",
		PasswordHash: string(hash),
		Provider:     model.ProviderEmail,
		Role:         model.UserRoleAdmin,
		Active:       true,
	})
	if err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}

	slog.Info("seeded admin user", "email", email)
	return nil
}
