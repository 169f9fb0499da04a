package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/EmpoweredVote/odp-incidents/internal/db"
	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("pgident", func(fl validator.FieldLevel) bool {
			return db.ValidIdentifier(fl.Field().String())
		})
	})
	return validate
}

// Validate checks the configuration after CLI overrides have been applied.
// Identifier failures wrap db.ErrInvalidIdentifier.
func (c *Config) Validate() error {
	err := validatorInstance().Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	ident := false
	for _, fe := range verrs {
		if fe.Tag() == "pgident" {
			ident = true
		}
		msgs = append(msgs, describe(fe))
	}
	msg := strings.Join(msgs, "; ")
	if ident {
		return fmt.Errorf("%w: %s", db.ErrInvalidIdentifier, msg)
	}
	return errors.New(msg)
}

func describe(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "pgident":
		return fmt.Sprintf("%s must be a plain identifier (got %q)", field, fe.Value())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s] (got %v)", field, fe.Param(), fe.Value())
	case "url":
		return fmt.Sprintf("%s must be a URL (got %v)", field, fe.Value())
	default:
		return fmt.Sprintf("%s failed %s=%s (got %v)", field, fe.Tag(), fe.Param(), fe.Value())
	}
}
