// Package validation checks auth form input before anything reaches the network.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	apperrors "github.com/theDeemoonn/foodMobile/internal/errors"
)

const DefaultPasswordMinLength = 6

// Field names a validated form field.
type Field string

const (
	FieldEmail           Field = "email"
	FieldPassword        Field = "password"
	FieldConfirmPassword Field = "confirm_password"
)

// FieldError is a failed check on one field. Message is user-facing.
type FieldError struct {
	Field   Field
	Message string
	Err     error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *FieldError) Unwrap() error { return e.Err }

// Errors collects the failures of one form submission.
type Errors []*FieldError

func (es Errors) Error() string {
	msgs := make([]string, 0, len(es))
	for _, e := range es {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

func (es Errors) Unwrap() []error {
	errs := make([]error, 0, len(es))
	for _, e := range es {
		errs = append(errs, e)
	}
	return errs
}

// Message returns the message for field, or "" when it passed.
func (es Errors) Message(field Field) string {
	for _, e := range es {
		if e.Field == field {
			return e.Message
		}
	}
	return ""
}

type Validator struct {
	validate          *validator.Validate
	passwordMinLength int
}

func New(passwordMinLength int) *Validator {
	if passwordMinLength <= 0 {
		passwordMinLength = DefaultPasswordMinLength
	}
	v := validator.New()
	// Report struct fields by their JSON names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return strings.ToLower(fld.Name)
		}
		return name
	})
	return &Validator{
		validate:          v,
		passwordMinLength: passwordMinLength,
	}
}

func (v *Validator) Email(email string) error {
	if err := v.validate.Var(strings.TrimSpace(email), "required,email"); err != nil {
		return &FieldError{Field: FieldEmail, Message: "Enter a valid email address", Err: apperrors.ErrInvalidEmail}
	}
	return nil
}

func (v *Validator) Password(password string) error {
	tag := fmt.Sprintf("required,min=%d", v.passwordMinLength)
	if err := v.validate.Var(password, tag); err != nil {
		return &FieldError{
			Field:   FieldPassword,
			Message: fmt.Sprintf("Password must be at least %d characters", v.passwordMinLength),
			Err:     apperrors.ErrPasswordTooShort,
		}
	}
	return nil
}

func (v *Validator) ConfirmPassword(password, confirm string) error {
	if err := v.validate.VarWithValue(confirm, password, "eqfield"); err != nil {
		return &FieldError{Field: FieldConfirmPassword, Message: "Passwords do not match", Err: apperrors.ErrPasswordsMismatch}
	}
	return nil
}

// Login checks the login form. It returns nil or an Errors value.
func (v *Validator) Login(email, password string) error {
	return collect(v.Email(email), v.Password(password))
}

// Register checks the registration form. It returns nil or an Errors value.
func (v *Validator) Register(email, password, confirm string) error {
	return collect(v.Email(email), v.Password(password), v.ConfirmPassword(password, confirm))
}

// Struct checks the validate tags of s. It returns nil or an Errors value
// with one entry per failed field.
func (v *Validator) Struct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	out := make(Errors, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, &FieldError{Field: Field(fe.Field()), Message: tagMessage(fe), Err: apperrors.ErrInvalidField})
	}
	return out
}

func tagMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "email":
		return fmt.Sprintf("%s must be a valid email address", fe.Field())
	case "len":
		return fmt.Sprintf("%s must be exactly %s characters", fe.Field(), fe.Param())
	case "numeric":
		return fmt.Sprintf("%s must contain only digits", fe.Field())
	case "min":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	}
	return fmt.Sprintf("%s is invalid", fe.Field())
}

func collect(errs ...error) error {
	var out Errors
	for _, err := range errs {
		if fe, ok := err.(*FieldError); ok {
			out = append(out, fe)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
