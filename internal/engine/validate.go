package engine

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// InvalidInputError lists the fields that failed validation.
type InvalidInputError struct {
	Fields map[string]string
}

func (e InvalidInputError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for f, rule := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s (%s)", f, rule))
	}
	return "invalid input: " + strings.Join(parts, ", ")
}

func validateInput(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := InvalidInputError{Fields: map[string]string{}}
	for _, fe := range verrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		out.Fields[fe.Field()] = rule
	}
	return out
}
