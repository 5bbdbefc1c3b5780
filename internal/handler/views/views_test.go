package views

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/a-h/templ"

	appI18n "github.com/pavelanni/boost/internal/i18n"
	"github.com/pavelanni/boost/internal/model"
)

func renderString(t *testing.T, ctx context.Context, c templ.Component) string {
	t.Helper()
	var buf bytes.Buffer
	if err := c.Render(ctx, &buf); err != nil {
		t.Fatalf("Render: %v", err)
	}
	return buf.String()
}

func testCtx(t *testing.T, lang string) context.Context {
	t.Helper()
	if err := appI18n.Init("en"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	ctx := appI18n.WithLocalizer(context.Background(), appI18n.NewLocalizer(lang))
	ctx = model.ContextWithBasePath(ctx, "/es")
	return model.ContextWithCSRFToken(ctx, "tok")
}

func TestDiagnosticPageEscapesQuestions(t *testing.T) {
	ctx := testCtx(t, "en")
	html := renderString(t, ctx, DiagnosticPage([]model.DiagnosticQuestion{
		{ID: 1, Text: "<script>alert(1)</script>"},
		{ID: 2, Text: "Plain"},
	}, map[int]bool{2: true}, ""))

	if strings.Contains(html, "<script>alert") {
		t.Error("question text was not escaped")
	}
	if !strings.Contains(html, `action="/es/diagnostic"`) {
		t.Error("form action should include the base path")
	}
	if !strings.Contains(html, `value="2" checked`) {
		t.Error("checked answers should stay checked")
	}
	if !strings.Contains(html, `name="csrf_token" value="tok"`) {
		t.Error("missing CSRF field")
	}
}

func TestResultPageSpanish(t *testing.T) {
	ctx := testCtx(t, "es")
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	view := model.ResultView{
		Result:        model.DiagnosticResult{ID: "r2", CorrectAnswers: 12, Level: model.LevelB1, CreatedAt: now},
		AdviceSummary: "Lee más.",
		AdviceFocus:   []string{"verbos"},
		History: []model.DiagnosticResult{
			{ID: "r2", CorrectAnswers: 12, Level: model.LevelB1, CreatedAt: now},
			{ID: "r1", CorrectAnswers: 4, Level: model.LevelA1, CreatedAt: now.Add(-time.Hour)},
		},
	}
	html := renderString(t, ctx, ResultPage(view, 20))

	for _, want := range []string{"B1 (Intermedio)", "A1 (Principiante)", "Lee más.", "<li>verbos</li>", "12/20"} {
		if !strings.Contains(html, want) {
			t.Errorf("result page should contain %q", want)
		}
	}
}

func TestLoginPageShowsDisabledApple(t *testing.T) {
	ctx := testCtx(t, "en")
	html := renderString(t, ctx, LoginPage(LoginForm{Providers: []model.Provider{model.ProviderGoogle}}))

	if !strings.Contains(html, `href="/es/auth/google"`) {
		t.Error("missing Google sign-in link")
	}
	if !strings.Contains(html, "<button type=\"button\" disabled>") {
		t.Error("Apple button should be disabled")
	}
	if strings.Contains(html, "/auth/github") {
		t.Error("unconfigured providers should not be listed")
	}
}

func TestFormValuesEscapedInAttributes(t *testing.T) {
	ctx := testCtx(t, "en")
	html := renderString(t, ctx, RegisterPage(RegisterForm{
		Email:       `x" onfocus="alert(1)`,
		Invalid:     []string{"email"},
		MinPassword: 8,
	}))

	if strings.Contains(html, `onfocus="alert(1)"`) {
		t.Error("attribute value broke out of its quotes")
	}
	if !strings.Contains(html, `value="x&#34; onfocus=&#34;alert(1)"`) {
		t.Error("email should be kept, escaped, in the value attribute")
	}
	if !strings.Contains(html, `name="email" value="x&#34;`) {
		t.Error("email input missing")
	}
	if !strings.Contains(html, `minlength="8"`) {
		t.Error("password input should carry the minimum length")
	}
	if strings.Count(html, `aria-invalid="true"`) != 1 {
		t.Error("only the email field should be marked invalid")
	}
}

func TestLoadingPageRefreshes(t *testing.T) {
	ctx := testCtx(t, "en")
	html := renderString(t, ctx, LoadingPage())

	if !strings.Contains(html, `<meta http-equiv="refresh" content="1">`) {
		t.Error("loading page should refresh itself")
	}
	if !strings.Contains(html, `aria-busy="true"`) {
		t.Error("missing busy marker")
	}
}
