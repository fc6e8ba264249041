package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report fields by their config key rather than the Go field name.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("mapstructure"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// Validate checks the configuration for the given command mode. Modes:
// "serve" and "verify" need the browser stack, "scan" needs an OCR provider.
func (c *Config) Validate(mode string) error {
	var problems []string

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return eris.Wrap(err, "config: validate")
		}
		for _, fe := range verrs {
			problems = append(problems, describe(fe))
		}
	}

	switch mode {
	case "serve", "verify":
		if c.Analysis.Advisor && c.Anthropic.Key == "" {
			problems = append(problems, "anthropic.key is required when analysis.advisor is enabled")
		}
	case "scan":
		if c.OCR.Provider == "mistral" && c.OCR.MistralKey == "" {
			problems = append(problems, "ocr.mistral_api_key is required for the mistral provider")
		}
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

func describe(fe validator.FieldError) string {
	key := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "required", "required_unless":
		return key + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", key, fe.Param())
	default:
		if fe.Param() != "" {
			return fmt.Sprintf("%s failed %s=%s", key, fe.Tag(), fe.Param())
		}
		return fmt.Sprintf("%s failed %s", key, fe.Tag())
	}
}
