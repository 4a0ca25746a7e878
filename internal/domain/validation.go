package domain

import (
	"maps"
	"reflect"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/juju/errors"
)

const minNameLength = 2

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(JSONFieldName)
	// names count runes after trimming, so "  A " is rejected and "Ó" pairs count once.
	_ = v.RegisterValidation("name", func(fl validator.FieldLevel) bool {
		return utf8.RuneCountInString(strings.TrimSpace(fl.Field().String())) >= minNameLength
	})
	return v
}

// JSONFieldName reports a struct field by its json name in validation errors.
func JSONFieldName(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	return name
}

// Validate checks the field rules of a stored user.
func (u User) Validate() error {
	return toNotValid("user", validate.Struct(u))
}

// Validate checks the presence and role rules of a create payload. Shape
// and range rules are left to NewUser.
func (in CreateUserInput) Validate() error {
	return toNotValid("user data", validate.Struct(in))
}

// FieldErrors lists the fields of one value that failed validation. It is
// wrapped in a NotValid error, so callers can recover the per-field
// messages with errors.As.
type FieldErrors struct {
	Subject string
	Fields  map[string]string
}

func (e *FieldErrors) Error() string {
	fields := make([]string, 0, len(e.Fields))
	for field := range e.Fields {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, field+" "+e.Fields[field])
	}
	return "invalid " + e.Subject + ": " + strings.Join(parts, "; ")
}

// ValidationDetails maps each failing field to a readable message. It
// returns nil when err carries no field errors.
func ValidationDetails(err error) map[string]string {
	var fe *FieldErrors
	if errors.As(err, &fe) {
		return maps.Clone(fe.Fields)
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make(map[string]string, len(verrs))
	for _, v := range verrs {
		out[v.Field()] = FieldMessage(v)
	}
	return out
}

// FieldMessage renders a single validator field error.
func FieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email"
	case "name":
		return "must be at least 2 characters"
	case "min":
		return "must be at least " + fe.Param() + " characters"
	case "gte":
		return "must be greater than or equal to " + fe.Param()
	case "lte":
		return "must be less than or equal to " + fe.Param()
	case "oneof":
		return "must be one of [" + fe.Param() + "]"
	default:
		return "is invalid (" + fe.Tag() + ")"
	}
}

func toNotValid(subject string, err error) error {
	if err == nil {
		return nil
	}
	details := ValidationDetails(err)
	if len(details) == 0 {
		return errors.NewNotValid(err, subject)
	}
	return errors.NewNotValid(&FieldErrors{Subject: subject, Fields: details}, "")
}
