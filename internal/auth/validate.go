package auth

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// MinPasswordLength is the shortest password accepted at sign-up.
const MinPasswordLength = 6

// authValidate is shared by all request types in this package.
var authValidate *validator.Validate

func init() {
	authValidate = validator.New()
	// Report JSON field names so errors match what clients sent.
	authValidate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// SignUpRequest is the input to SignUp.
type SignUpRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=6,max=72"`
	FullName string `json:"full_name" validate:"required,max=100"`
}

// Validate checks the request fields.
func (r *SignUpRequest) Validate() error {
	return validationError(authValidate.Struct(r))
}

// SignInRequest is the input to SignInWithPassword.
type SignInRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// Validate checks the request fields.
func (r *SignInRequest) Validate() error {
	return validationError(authValidate.Struct(r))
}

// InvalidFields lists the JSON names of the fields that failed validation.
func InvalidFields(err error) []string {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return nil
	}
	fields := make([]string, 0, len(ve))
	for _, fe := range ve {
		fields = append(fields, fe.Field())
	}
	return fields
}

func validationError(err error) error {
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrInvalidInput, strings.Join(InvalidFields(ve), ", "), ve)
}
