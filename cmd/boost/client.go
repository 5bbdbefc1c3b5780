package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/huh/spinner"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/pavelanni/boost/internal/auth"
	"github.com/pavelanni/boost/internal/client"
	"github.com/pavelanni/boost/internal/diagnostic"
	"github.com/pavelanni/boost/internal/session"
)

// minLoading keeps the session check spinner on screen long enough to read.
const minLoading = 600 * time.Millisecond

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#C89A3A"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#8C8C8C"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4D4F"))
	levelStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#F0F0F0")).
			Background(lipgloss.Color("#3A6EA5")).Padding(0, 1)
	cardStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#6E6E6E")).Padding(1, 2)
)

func clientFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("api-url", "", "API base URL (default: saved server or "+client.DefaultAPIURL+")")
	f.String("credentials", client.DefaultCredentialsPath(), "Credentials file")
	f.StringP("lang", "l", "", "Preferred language for level labels (en, es)")
	f.String("log-level", "warn", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func newAPIClient(cmd *cobra.Command) (*client.Client, error) {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	c, err := client.New(v.GetString("api-url"), v.GetString("credentials"))
	if err != nil {
		return nil, err
	}
	c.SetLanguage(v.GetString("lang"))
	return c, nil
}

func loginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to a boost server",
		RunE:  runLogin,
	}
	clientFlags(cmd)
	cmd.Flags().String("email", "", "Account email")
	cmd.Flags().String("password", "", "Account password (prompted if empty)")
	cmd.Flags().String("provider", "", "Sign in with an OAuth provider instead (google, github)")
	cmd.Flags().Duration("timeout", 5*time.Minute, "How long to wait for the browser sign-in")
	return cmd
}

func runLogin(cmd *cobra.Command, _ []string) error {
	c, err := newAPIClient(cmd)
	if err != nil {
		return err
	}
	v := viperForCmd(cmd)
	ctx := cmd.Context()

	if p := v.GetString("provider"); p != "" {
		provider, err := auth.ParseProvider(p)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(ctx, v.GetDuration("timeout"))
		defer cancel()

		var signInErr error
		err = spinner.New().
			Title("Waiting for the browser sign-in to finish...").
			Context(ctx).
			Action(func() {
				_, signInErr = c.SignInWithOAuth(ctx, provider, func(authURL string) error {
					fmt.Fprintln(os.Stderr, "Open this URL in your browser to continue:")
					fmt.Fprintln(os.Stderr, "  "+authURL)
					return nil
				})
			}).
			Run()
		if err == nil {
			err = signInErr
		}
		if err != nil {
			return fmt.Errorf("sign in with %s: %w", provider, err)
		}
		fmt.Println(titleStyle.Render("Signed in as " + c.Email()))
		return nil
	}

	email := v.GetString("email")
	password := v.GetString("password")
	if email == "" || password == "" {
		form := huh.NewForm(huh.NewGroup(
			huh.NewInput().Title("Email").Value(&email).Validate(notEmpty),
			huh.NewInput().Title("Password").EchoMode(huh.EchoModePassword).Value(&password).Validate(notEmpty),
		))
		if err := form.Run(); err != nil {
			return err
		}
	}

	if _, err := c.SignInWithPassword(ctx, auth.SignInRequest{Email: strings.TrimSpace(email), Password: password}); err != nil {
		return describe(err)
	}
	fmt.Println(titleStyle.Render("Signed in as " + c.Email()))
	return nil
}

func registerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account",
		RunE:  runRegister,
	}
	clientFlags(cmd)
	return cmd
}

func runRegister(cmd *cobra.Command, _ []string) error {
	c, err := newAPIClient(cmd)
	if err != nil {
		return err
	}

	var fullName, email, password, confirm string
	var accept bool
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Full name").Value(&fullName).Validate(notEmpty),
			huh.NewInput().Title("Email").Value(&email).Validate(notEmpty),
		),
		huh.NewGroup(
			huh.NewInput().Title("Password").
				Description(fmt.Sprintf("At least %d characters", auth.MinPasswordLength)).
				EchoMode(huh.EchoModePassword).Value(&password).
				Validate(func(s string) error {
					if len(s) < auth.MinPasswordLength {
						return fmt.Errorf("password must be at least %d characters", auth.MinPasswordLength)
					}
					return nil
				}),
			huh.NewInput().Title("Confirm password").EchoMode(huh.EchoModePassword).Value(&confirm).
				Validate(func(s string) error {
					if s != password {
						return errors.New("passwords do not match")
					}
					return nil
				}),
			huh.NewConfirm().Title("I accept the terms and conditions").Value(&accept).
				Validate(func(b bool) error {
					if !b {
						return errors.New("you must accept the terms")
					}
					return nil
				}),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}

	user, err := c.SignUp(cmd.Context(), auth.SignUpRequest{Email: email, Password: password, FullName: fullName})
	if err != nil {
		return describe(err)
	}
	fmt.Println(titleStyle.Render("Account created for " + user.Email))
	fmt.Println(mutedStyle.Render("Run `boost login` to sign in."))
	return nil
}

func logoutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the saved token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := newAPIClient(cmd)
			if err != nil {
				return err
			}
			if err := c.SignOut(cmd.Context()); err != nil {
				return describe(err)
			}
			fmt.Println(mutedStyle.Render("Signed out."))
			return nil
		},
	}
	clientFlags(cmd)
	return cmd
}

func whoamiCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user and their level",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := newAPIClient(cmd)
			if err != nil {
				return err
			}
			user, err := c.GetUser(cmd.Context())
			if err != nil {
				return describe(err)
			}
			p, err := c.Profile(cmd.Context())
			if err != nil {
				return describe(err)
			}

			var b strings.Builder
			b.WriteString(titleStyle.Render(user.FullName) + "\n")
			b.WriteString(mutedStyle.Render(user.Email+" · "+string(user.Role)+" · "+c.BaseURL()) + "\n\n")
			if p.Profile == nil || !p.Profile.DiagnosticCompleted {
				b.WriteString("No diagnostic yet. Run `boost diagnostic`.")
			} else {
				b.WriteString("Level " + levelStyle.Render(p.LevelLabel))
				if p.Latest != nil {
					b.WriteString("\n" + mutedStyle.Render(fmt.Sprintf("Last attempt %s: %d of %d correct",
						p.Latest.CreatedAt.Local().Format("2006-01-02"), p.Latest.CorrectAnswers, diagnostic.QuestionCount)))
				}
			}
			fmt.Println(cardStyle.Render(b.String()))
			return nil
		},
	}
	clientFlags(cmd)
	return cmd
}

func diagnosticCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "diagnostic",
		Short: "Take the placement diagnostic",
		RunE:  runDiagnostic,
	}
	clientFlags(cmd)
	return cmd
}

func runDiagnostic(cmd *cobra.Command, _ []string) error {
	c, err := newAPIClient(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	gate := session.NewGate(c)
	defer gate.Teardown()

	var waitErr error
	err = spinner.New().
		Title("Checking session...").
		Context(ctx).
		Action(func() {
			go gate.Start(ctx)
			waitErr = gate.WaitReady(ctx, minLoading)
		}).
		Run()
	if err == nil {
		err = waitErr
	}
	if err != nil {
		return err
	}

	switch gate.Decide() {
	case session.Redirect:
		fmt.Println(errorStyle.Render("You are not signed in. Run `boost login` first."))
		return nil
	case session.Loading:
		return errors.New("session check did not finish")
	}

	questions, err := c.Questions(ctx)
	if err != nil {
		return describe(err)
	}

	opts := make([]huh.Option[int], 0, len(questions))
	for _, q := range questions {
		opts = append(opts, huh.NewOption(strconv.Itoa(q.ID)+". "+q.Text, q.ID))
	}
	var correct []int
	form := huh.NewForm(huh.NewGroup(
		huh.NewMultiSelect[int]().
			Title("Diagnostic").
			Description("Mark every question you answered correctly.").
			Options(opts...).
			Height(min(len(opts)+2, 14)).
			Value(&correct),
	))
	if err := form.Run(); err != nil {
		return err
	}

	res, err := c.SubmitDiagnostic(ctx, correct)
	if err != nil {
		return describe(err)
	}

	body := fmt.Sprintf("%s\n\n%d of %d correct\n\nYour level: %s",
		titleStyle.Render("Diagnostic result"),
		res.CorrectAnswers, res.Total,
		levelStyle.Render(res.LevelLabel))
	fmt.Println(cardStyle.Render(body))
	return nil
}

func notEmpty(s string) error {
	if strings.TrimSpace(s) == "" {
		return errors.New("required")
	}
	return nil
}

// describe turns client errors into messages for the terminal.
func describe(err error) error {
	var apiErr *client.APIError
	switch {
	case errors.Is(err, client.ErrNotSignedIn):
		return errors.New("not signed in; run `boost login`")
	case errors.As(err, &apiErr):
		return errors.New(errorStyle.Render(apiErr.Error()))
	}
	return err
}
