// Package views renders the HTML pages. Components are written in the
// .templ files next to this one; `templ generate` compiles them to the
// *_templ.go files.
package views

//go:generate templ generate

import (
	"context"
	"strconv"

	appI18n "github.com/pavelanni/boost/internal/i18n"
	"github.com/pavelanni/boost/internal/model"
)

const dateLayout = "2006-01-02 15:04"

// LoginForm is the state of the sign-in page.
type LoginForm struct {
	Email     string
	Error     string
	Notice    string
	Providers []model.Provider
}

// RegisterForm is the state of the sign-up page.
type RegisterForm struct {
	FullName    string
	Email       string
	Error       string
	Invalid     []string // JSON names of the fields to highlight
	MinPassword int
	Providers   []model.Provider
}

// field is one labelled form input.
type field struct {
	Type         string
	Name         string
	LabelID      string
	Value        string
	Autocomplete string
	MinLength    int
	Invalid      bool
}

var userColumns = []string{"ColName", "ColEmail", "ColProvider", "ColRole", "ColStatus", "ColCreated"}

// url prefixes an app path with the deployment base path.
func url(ctx context.Context, path string) string {
	return model.BasePathFromContext(ctx) + path
}

func t(ctx context.Context, id string) string {
	return appI18n.T(ctx, id)
}

func itoa(n int) string { return strconv.Itoa(n) }

func itoa64(n int64) string { return strconv.FormatInt(n, 10) }

func ariaInvalid(invalid bool) string {
	return strconv.FormatBool(invalid)
}

func displayName(u model.User) string {
	if u.FullName == "" {
		return u.Email
	}
	return u.FullName
}

func providerLabelID(p model.Provider) string {
	if p == model.ProviderGitHub {
		return "ContinueWithGitHub"
	}
	return "ContinueWithGoogle"
}

func statusID(active bool) string {
	if active {
		return "Active"
	}
	return "Inactive"
}

func toggleID(active bool) string {
	if active {
		return "Deactivate"
	}
	return "Activate"
}
