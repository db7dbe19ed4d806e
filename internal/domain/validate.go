package domain

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/cases"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// Validate checks a record against its field constraints.
func Validate(v any) error {
	if err := structValidator().Struct(v); err != nil {
		return fmt.Errorf("validate %T: %w", v, err)
	}
	return nil
}

// FieldErrors maps each failing field (by JSON name) to the failed rule.
// It returns nil when err carries no field-level detail.
func FieldErrors(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		out[fe.Field()] = fe.Tag()
	}
	return out
}

// FoldName normalizes a category name for case-insensitive comparison.
func FoldName(name string) string {
	return cases.Fold().String(strings.TrimSpace(name))
}

// SameName reports whether two names are equal ignoring case and surrounding space.
func SameName(a, b string) bool {
	return FoldName(a) == FoldName(b)
}
